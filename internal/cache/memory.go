package cache

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// snapshotEntry represents a cached snapshot with expiration.
type snapshotEntry struct {
	value     []byte
	pending   bool
	expiresAt time.Time
}

// isExpired checks if the entry has expired. A zero expiry never expires.
func (e *snapshotEntry) isExpired() bool {
	return !e.expiresAt.IsZero() && time.Now().After(e.expiresAt)
}

// MemorySnapshotCache is an in-memory implementation of SnapshotCache.
// Use this for development/testing or single-instance deployments.
type MemorySnapshotCache struct {
	mu      sync.RWMutex
	entries map[int64]*snapshotEntry
	stale   map[int64]StaleEntry
	ttl     time.Duration

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
}

// NewMemorySnapshotCache creates a new in-memory snapshot cache with automatic cleanup.
// A zero ttl keeps snapshots until they are replaced.
func NewMemorySnapshotCache(ttl time.Duration) *MemorySnapshotCache {
	c := &MemorySnapshotCache{
		entries:         make(map[int64]*snapshotEntry),
		stale:           make(map[int64]StaleEntry),
		ttl:             ttl,
		cleanupInterval: time.Minute,
		stopCleanup:     make(chan struct{}),
	}

	go c.cleanup()

	return c
}

// StoreSnapshot stores the snapshot and clears the stale mark.
func (c *MemorySnapshotCache) StoreSnapshot(ctx context.Context, userID int64, snap *Snapshot) error {
	value, err := json.Marshal(snap)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e := &snapshotEntry{value: value, pending: snap.HasPending()}
	if c.ttl > 0 && !e.pending {
		e.expiresAt = time.Now().Add(c.ttl)
	}
	c.entries[userID] = e
	delete(c.stale, userID)
	return nil
}

// LoadSnapshot retrieves the user's snapshot.
func (c *MemorySnapshotCache) LoadSnapshot(ctx context.Context, userID int64) (*Snapshot, error) {
	c.mu.RLock()
	entry, exists := c.entries[userID]
	c.mu.RUnlock()

	if !exists || entry.isExpired() {
		return nil, ErrCacheMiss
	}

	var snap Snapshot
	if err := json.Unmarshal(entry.value, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// MarkStale queues the user and, for immediate urgency, drops a snapshot that
// carries no pending work.
func (c *MemorySnapshotCache) MarkStale(ctx context.Context, userID int64, urgency Urgency, priority Priority) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cur, ok := c.stale[userID]; ok && cur.Priority > priority {
		priority = cur.Priority
	}
	c.stale[userID] = StaleEntry{UserID: userID, Urgency: urgency, Priority: priority, MarkedAt: time.Now()}

	if urgency == UrgencyImmediate {
		if e, ok := c.entries[userID]; ok && !e.pending {
			delete(c.entries, userID)
		}
	}
	return nil
}

// IsStale reports whether the user is in the stale queue.
func (c *MemorySnapshotCache) IsStale(ctx context.Context, userID int64) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.stale[userID]
	return ok, nil
}

// StaleQueue lists stale users, highest priority first.
func (c *MemorySnapshotCache) StaleQueue(ctx context.Context, limit int) ([]StaleEntry, error) {
	c.mu.RLock()
	out := make([]StaleEntry, 0, len(c.stale))
	for _, e := range c.stale {
		out = append(out, e)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].UserID < out[j].UserID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Ping always succeeds.
func (c *MemorySnapshotCache) Ping(ctx context.Context) error { return nil }

// Close stops the background cleanup goroutine.
func (c *MemorySnapshotCache) Close() error {
	c.stopOnce.Do(func() { close(c.stopCleanup) })
	return nil
}

// cleanup periodically removes expired entries.
func (c *MemorySnapshotCache) cleanup() {
	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.removeExpired()
		case <-c.stopCleanup:
			return
		}
	}
}

// removeExpired removes all expired entries.
func (c *MemorySnapshotCache) removeExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for userID, entry := range c.entries {
		if entry.isExpired() {
			delete(c.entries, userID)
		}
	}
}

// Ensure MemorySnapshotCache implements SnapshotCache
var _ SnapshotCache = (*MemorySnapshotCache)(nil)
