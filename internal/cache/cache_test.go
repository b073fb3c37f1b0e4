package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/redis/go-redis/v9"

	"vinzhub-gamestate/internal/ledger"
	"vinzhub-gamestate/internal/model"
)

func newRedisCache(t *testing.T, ttl time.Duration) (*RedisSnapshotCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := NewRedisSnapshotCacheWithClient(client, "test", ttl)
	t.Cleanup(func() { c.Close() })
	return c, mr
}

// implementations runs fn against every SnapshotCache.
func implementations(t *testing.T, fn func(t *testing.T, c SnapshotCache)) {
	t.Run("memory", func(t *testing.T) {
		c := NewMemorySnapshotCache(time.Hour)
		t.Cleanup(func() { c.Close() })
		fn(t, c)
	})
	t.Run("redis", func(t *testing.T) {
		c, _ := newRedisCache(t, time.Hour)
		fn(t, c)
	})
}

func sampleSnapshot(withPending bool) *Snapshot {
	st := &model.UserState{
		UserID:    3,
		Username:  "bob",
		Gold:      12,
		Level:     2,
		Inventory: []model.InventoryRow{{ID: model.Pending(77), ItemID: 1, Quantity: 2}},
		UpdatedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	snap := &Snapshot{State: st, StoredAt: time.Date(2024, 1, 2, 3, 4, 6, 0, time.UTC)}
	if withPending {
		l := ledger.New()
		_ = l.RecordCreate(3, ledger.Inventory, model.Pending(77), model.ItemKey(1))
		snap.Pending = l.Export(3)
	}
	return snap
}

func TestSnapshotRoundTrip(t *testing.T) {
	implementations(t, func(t *testing.T, c SnapshotCache) {
		ctx := context.Background()
		want := sampleSnapshot(true)

		if err := c.StoreSnapshot(ctx, 3, want); err != nil {
			t.Fatalf("StoreSnapshot: %v", err)
		}
		got, err := c.LoadSnapshot(ctx, 3)
		if err != nil {
			t.Fatalf("LoadSnapshot: %v", err)
		}
		if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
			t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
		}
		if !got.HasPending() {
			t.Error("pending ledger lost in the round trip")
		}
	})
}

func TestLoadMissingSnapshot(t *testing.T) {
	implementations(t, func(t *testing.T, c SnapshotCache) {
		if _, err := c.LoadSnapshot(context.Background(), 404); !errors.Is(err, ErrCacheMiss) {
			t.Errorf("LoadSnapshot() error = %v, want ErrCacheMiss", err)
		}
	})
}

func TestMarkStale(t *testing.T) {
	tests := []struct {
		name        string
		pending     bool
		urgency     Urgency
		wantPresent bool
	}{
		{"deferred keeps snapshot", false, UrgencyDeferred, true},
		{"immediate drops clean snapshot", false, UrgencyImmediate, false},
		{"immediate keeps snapshot with pending work", true, UrgencyImmediate, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			implementations(t, func(t *testing.T, c SnapshotCache) {
				ctx := context.Background()
				if err := c.StoreSnapshot(ctx, 3, sampleSnapshot(tt.pending)); err != nil {
					t.Fatal(err)
				}
				if err := c.MarkStale(ctx, 3, tt.urgency, PriorityHigh); err != nil {
					t.Fatalf("MarkStale: %v", err)
				}

				_, err := c.LoadSnapshot(ctx, 3)
				if present := err == nil; present != tt.wantPresent {
					t.Errorf("snapshot present = %v, want %v (err %v)", present, tt.wantPresent, err)
				}
				stale, err := c.IsStale(ctx, 3)
				if err != nil || !stale {
					t.Errorf("IsStale() = %v, %v; want true", stale, err)
				}
			})
		})
	}
}

func TestStoreClearsStaleMark(t *testing.T) {
	implementations(t, func(t *testing.T, c SnapshotCache) {
		ctx := context.Background()
		_ = c.MarkStale(ctx, 3, UrgencyDeferred, PriorityNormal)
		if err := c.StoreSnapshot(ctx, 3, sampleSnapshot(false)); err != nil {
			t.Fatal(err)
		}
		if stale, _ := c.IsStale(ctx, 3); stale {
			t.Error("fresh snapshot is still marked stale")
		}
	})
}

func TestStaleQueueOrder(t *testing.T) {
	implementations(t, func(t *testing.T, c SnapshotCache) {
		ctx := context.Background()
		_ = c.MarkStale(ctx, 1, UrgencyDeferred, PriorityLow)
		_ = c.MarkStale(ctx, 2, UrgencyImmediate, PriorityHigh)
		_ = c.MarkStale(ctx, 3, UrgencyDeferred, PriorityNormal)
		// A lower priority never demotes an existing mark.
		_ = c.MarkStale(ctx, 2, UrgencyDeferred, PriorityLow)

		queue, err := c.StaleQueue(ctx, 2)
		if err != nil {
			t.Fatalf("StaleQueue: %v", err)
		}
		var got []int64
		for _, e := range queue {
			got = append(got, e.UserID)
		}
		if diff := cmp.Diff([]int64{2, 3}, got); diff != "" {
			t.Errorf("queue order mismatch (-want +got):\n%s", diff)
		}
		if queue[0].Priority != PriorityHigh {
			t.Errorf("top priority = %d, want %d", queue[0].Priority, PriorityHigh)
		}
	})
}

func TestRedisTTLSkipsPendingSnapshots(t *testing.T) {
	c, mr := newRedisCache(t, time.Minute)
	ctx := context.Background()

	_ = c.StoreSnapshot(ctx, 1, sampleSnapshot(false))
	_ = c.StoreSnapshot(ctx, 2, sampleSnapshot(true))
	mr.FastForward(2 * time.Minute)

	if _, err := c.LoadSnapshot(ctx, 1); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("clean snapshot should have expired, got %v", err)
	}
	if _, err := c.LoadSnapshot(ctx, 2); err != nil {
		t.Errorf("snapshot with pending work expired: %v", err)
	}
}

func TestRedisUnavailable(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	c := NewRedisSnapshotCacheWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "test", 0)
	defer c.Close()
	mr.Close()

	if err := c.StoreSnapshot(context.Background(), 1, sampleSnapshot(false)); err == nil {
		t.Error("expected an error with redis down")
	}
	if _, err := c.LoadSnapshot(context.Background(), 1); err == nil || errors.Is(err, ErrCacheMiss) {
		t.Errorf("LoadSnapshot() error = %v, want a connection error", err)
	}
}
