package model

import "time"

// ActivityLog is one gameplay event recorded for a user.
type ActivityLog struct {
	UserID    int64             `json:"user_id" bson:"user_id"`
	Action    string            `json:"action" bson:"action"`
	Detail    map[string]string `json:"detail,omitempty" bson:"detail,omitempty"`
	CreatedAt time.Time         `json:"created_at" bson:"created_at"`
}
