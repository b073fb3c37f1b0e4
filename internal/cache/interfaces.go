package cache

import (
	"context"
	"time"

	"vinzhub-gamestate/internal/ledger"
	"vinzhub-gamestate/internal/model"
)

// Snapshot is a durable copy of a user's resident state together with the
// operations that had not reached the backing store when it was taken.
type Snapshot struct {
	State    *model.UserState `json:"state"`
	Pending  ledger.Exported  `json:"pending"`
	StoredAt time.Time        `json:"stored_at"`
}

// HasPending reports whether replaying the snapshot would issue store calls.
func (s *Snapshot) HasPending() bool {
	return s != nil && !s.Pending.Empty()
}

// Urgency tells the cache how soon a stale snapshot must stop being served.
type Urgency int

const (
	// UrgencyDeferred only queues the user for a later refresh.
	UrgencyDeferred Urgency = iota
	// UrgencyImmediate also drops the snapshot unless it still carries pending work.
	UrgencyImmediate
)

// String returns the urgency name.
func (u Urgency) String() string {
	if u == UrgencyImmediate {
		return "immediate"
	}
	return "deferred"
}

// Priority orders the stale queue; higher is refreshed first.
type Priority int

const (
	PriorityLow    Priority = 1
	PriorityNormal Priority = 5
	PriorityHigh   Priority = 10
)

// StaleEntry is one user waiting in the stale queue.
type StaleEntry struct {
	UserID   int64     `json:"user_id"`
	Urgency  Urgency   `json:"urgency"`
	Priority Priority  `json:"priority"`
	MarkedAt time.Time `json:"marked_at"`
}

// SnapshotCache defines the durable snapshot store consumed by the session lifecycle.
// This abstraction allows swapping between memory (development) and Redis
// (production) without changing session logic.
type SnapshotCache interface {
	// StoreSnapshot writes the user's snapshot and clears any stale mark.
	StoreSnapshot(ctx context.Context, userID int64, snap *Snapshot) error

	// LoadSnapshot reads the user's snapshot. Returns ErrCacheMiss if absent.
	LoadSnapshot(ctx context.Context, userID int64) (*Snapshot, error)

	// MarkStale flags the user's snapshot as older than the backing store.
	MarkStale(ctx context.Context, userID int64, urgency Urgency, priority Priority) error

	// IsStale reports whether the user's snapshot is flagged stale.
	IsStale(ctx context.Context, userID int64) (bool, error)

	// StaleQueue lists up to limit stale users, highest priority first.
	StaleQueue(ctx context.Context, limit int) ([]StaleEntry, error)

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// Common cache errors
type CacheError string

func (e CacheError) Error() string { return string(e) }

const (
	// ErrCacheMiss indicates the key was not found in cache.
	ErrCacheMiss CacheError = "cache miss"
)
