package activity

import (
	"context"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"

	"vinzhub-gamestate/internal/model"
)

func TestMongoSink(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("write logs", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateSuccessResponse())
		sink := NewMongoSinkWithCollection(mt.Coll)

		err := sink.WriteLogs(context.Background(), []model.ActivityLog{
			{UserID: 1, Action: "login", CreatedAt: time.Now()},
			{UserID: 1, Action: "logout", CreatedAt: time.Now()},
		})
		if err != nil {
			t.Errorf("WriteLogs: %v", err)
		}
		if err := sink.Close(); err != nil {
			t.Errorf("Close on a borrowed collection: %v", err)
		}
	})

	mt.Run("write failure", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{
			Code: 11600, Name: "InterruptedAtShutdown", Message: "shutting down",
		}))
		sink := NewMongoSinkWithCollection(mt.Coll)

		err := sink.WriteLogs(context.Background(), []model.ActivityLog{{UserID: 1, Action: "login"}})
		if err == nil {
			t.Error("expected an error from a failing server")
		}
	})

	mt.Run("empty batch issues nothing", func(mt *mtest.T) {
		sink := NewMongoSinkWithCollection(mt.Coll)
		if err := sink.WriteLogs(context.Background(), nil); err != nil {
			t.Errorf("WriteLogs(nil): %v", err)
		}
	})

	mt.Run("recent", func(mt *mtest.T) {
		ns := mt.DB.Name() + "." + mt.Coll.Name()
		mt.AddMockResponses(mtest.CreateCursorResponse(0, ns, mtest.FirstBatch,
			bson.D{{Key: "user_id", Value: int64(1)}, {Key: "action", Value: "logout"}},
			bson.D{{Key: "user_id", Value: int64(1)}, {Key: "action", Value: "login"}},
		))
		sink := NewMongoSinkWithCollection(mt.Coll)

		logs, err := sink.Recent(context.Background(), 1, 10)
		if err != nil {
			t.Fatalf("Recent: %v", err)
		}
		if len(logs) != 2 || logs[0].Action != "logout" || logs[1].Action != "login" {
			t.Errorf("Recent() = %+v", logs)
		}
	})
}
