package activity

import (
	"context"
	"fmt"
	"time"

	"vinzhub-gamestate/internal/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoSink writes activity logs to a MongoDB collection.
type MongoSink struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// NewMongoSink connects to MongoDB and ensures the user/time index.
func NewMongoSink(uri, dbName, collectionName string) (*MongoSink, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clientOptions := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(20).
		SetRetryWrites(true)
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	collection := client.Database(dbName).Collection(collectionName)
	index := mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}},
	}
	if _, err := collection.Indexes().CreateOne(ctx, index); err != nil {
		return nil, fmt.Errorf("failed to create activity index: %w", err)
	}

	return &MongoSink{client: client, collection: collection}, nil
}

// NewMongoSinkWithCollection wraps an existing collection. Close leaves its
// client connected.
func NewMongoSinkWithCollection(collection *mongo.Collection) *MongoSink {
	return &MongoSink{collection: collection}
}

// WriteLogs inserts the entries in one unordered batch.
func (s *MongoSink) WriteLogs(ctx context.Context, logs []model.ActivityLog) error {
	if len(logs) == 0 {
		return nil
	}
	docs := make([]interface{}, len(logs))
	for i := range logs {
		docs[i] = logs[i]
	}
	if _, err := s.collection.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false)); err != nil {
		return fmt.Errorf("failed to insert activity logs: %w", err)
	}
	return nil
}

// Recent returns the user's newest entries, newest first.
func (s *MongoSink) Recent(ctx context.Context, userID int64, limit int) ([]model.ActivityLog, error) {
	findOptions := options.Find()
	findOptions.SetSort(bson.D{{Key: "created_at", Value: -1}})
	findOptions.SetLimit(int64(limit))

	cursor, err := s.collection.Find(ctx, bson.M{"user_id": userID}, findOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to query activity logs: %w", err)
	}
	defer cursor.Close(ctx)

	var logs []model.ActivityLog
	if err := cursor.All(ctx, &logs); err != nil {
		return nil, fmt.Errorf("failed to decode activity logs: %w", err)
	}

	// Ensure not nil slice for JSON
	if logs == nil {
		logs = []model.ActivityLog{}
	}
	return logs, nil
}

// Close closes the MongoDB connection
func (s *MongoSink) Close() error {
	if s.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// Ensure MongoSink implements Sink
var _ Sink = (*MongoSink)(nil)
