package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"vinzhub-gamestate/internal/model"
)

func newSQLiteStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := NewSQLStore(SQLConfig{Dialect: "sqlite", DSN: filepath.Join(t.TempDir(), "state.db")})
	if err != nil {
		t.Fatalf("NewSQLStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// stores runs fn against every Store implementation.
func stores(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryStore()) })
	t.Run("sqlite", func(t *testing.T) { fn(t, newSQLiteStore(t)) })
}

// ignoreIDs compares rows by content; durable ids differ between backends.
var ignoreIDs = cmpopts.IgnoreFields(model.InventoryRow{}, "ID")

func TestUserRoundTrip(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		if _, err := s.LoadUser(ctx, 9); !errors.Is(err, ErrUserNotFound) {
			t.Fatalf("LoadUser() error = %v, want ErrUserNotFound", err)
		}

		want := &model.UserState{
			UserID: 9, Username: "ana", Gold: 10, Gems: 2, Level: 3, XP: 40, Energy: 5,
			Combat: model.CombatStats{
				HP: 20, MaxHP: 30, Attack: 4, Defense: 3, Speed: 2, CritRate: 0.25,
				ActiveCreature: model.Durable(77),
			},
			UpdatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		}
		if err := s.SaveUser(ctx, want); err != nil {
			t.Fatalf("SaveUser: %v", err)
		}
		want.Gold = 11
		if err := s.SaveUser(ctx, want); err != nil {
			t.Fatalf("SaveUser overwrite: %v", err)
		}

		got, err := s.LoadUser(ctx, 9)
		if err != nil {
			t.Fatalf("LoadUser: %v", err)
		}
		if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
			t.Errorf("user mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestInventoryInsertIsIdempotent(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		rows := []model.InventoryRow{
			{ID: model.Pending(501), ItemID: 1, Quantity: 2, Order: 0},
			{ID: model.Pending(502), EquipmentID: 4, Quantity: 1, Order: 1},
		}
		if err := s.InsertInventory(ctx, 1, rows); err != nil {
			t.Fatalf("InsertInventory: %v", err)
		}
		// Replaying the same tokens overwrites instead of duplicating.
		rows[0].Quantity = 5
		if err := s.InsertInventory(ctx, 1, rows); err != nil {
			t.Fatalf("InsertInventory replay: %v", err)
		}

		got, err := s.FetchInventory(ctx, 1)
		if err != nil {
			t.Fatalf("FetchInventory: %v", err)
		}
		want := []model.InventoryRow{
			{ItemID: 1, Quantity: 5, Order: 0, PendingToken: 501},
			{EquipmentID: 4, Quantity: 1, Order: 1, PendingToken: 502},
		}
		if diff := cmp.Diff(want, got, ignoreIDs); diff != "" {
			t.Errorf("inventory mismatch (-want +got):\n%s", diff)
		}
		for _, r := range got {
			if !r.ID.IsDurable() {
				t.Errorf("fetched row has non-durable id %s", r.ID)
			}
		}
	})
}

func TestInventoryUpdateAndDelete(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_ = s.InsertInventory(ctx, 1, []model.InventoryRow{
			{ID: model.Pending(1), ItemID: 1, Quantity: 2},
			{ID: model.Pending(2), ItemID: 2, Quantity: 3, Order: 1},
		})
		_ = s.InsertInventory(ctx, 2, []model.InventoryRow{{ID: model.Pending(1), ItemID: 1, Quantity: 9}})

		rows, _ := s.FetchInventory(ctx, 1)
		if len(rows) != 2 {
			t.Fatalf("got %d rows, want 2", len(rows))
		}
		upd := rows[0]
		upd.Quantity = 7
		if err := s.UpdateInventory(ctx, 1, []model.InventoryRow{upd}); err != nil {
			t.Fatalf("UpdateInventory: %v", err)
		}
		if err := s.DeleteInventory(ctx, 1, []int64{rows[1].ID.Value, 999999}); err != nil {
			t.Fatalf("DeleteInventory with a missing id: %v", err)
		}
		if err := s.UpdateInventory(ctx, 1, []model.InventoryRow{{ID: model.Durable(999999), ItemID: 1, Quantity: 1}}); err != nil {
			t.Fatalf("UpdateInventory of a missing row: %v", err)
		}

		got, _ := s.FetchInventory(ctx, 1)
		want := []model.InventoryRow{{ItemID: 1, Quantity: 7, PendingToken: 1}}
		if diff := cmp.Diff(want, got, ignoreIDs); diff != "" {
			t.Errorf("inventory mismatch (-want +got):\n%s", diff)
		}

		other, _ := s.FetchInventory(ctx, 2)
		if len(other) != 1 || other[0].Quantity != 9 {
			t.Errorf("another owner's rows changed: %+v", other)
		}
	})
}

func TestInsertRejectsDurableIDs(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		err := s.InsertInventory(ctx, 1, []model.InventoryRow{{ID: model.Durable(3), ItemID: 1, Quantity: 1}})
		if err == nil {
			t.Error("InsertInventory accepted a durable id")
		}
		err = s.InsertCreatures(ctx, 1, []model.Creature{{ID: model.Durable(3), SpeciesID: 1, Level: 1}})
		if err == nil {
			t.Error("InsertCreatures accepted a durable id")
		}
	})
}

func TestCreatureLifecycle(t *testing.T) {
	stores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		born := time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC)
		in := []model.Creature{
			{ID: model.Pending(10), SpeciesID: 3, Nickname: "rex", Level: 1, CreatedAt: born},
			{ID: model.Pending(11), SpeciesID: 4, Level: 2, Order: 1},
		}
		if err := s.InsertCreatures(ctx, 5, in); err != nil {
			t.Fatalf("InsertCreatures: %v", err)
		}
		if err := s.InsertCreatures(ctx, 5, in[:1]); err != nil {
			t.Fatalf("InsertCreatures replay: %v", err)
		}

		got, err := s.FetchCreatures(ctx, 5)
		if err != nil {
			t.Fatalf("FetchCreatures: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("got %d creatures, want 2", len(got))
		}
		if got[0].PendingToken != 10 || !got[0].CreatedAt.Equal(born) {
			t.Errorf("first creature = %+v", got[0])
		}

		lvl := got[0]
		lvl.Level = 8
		lvl.XP = 120
		if err := s.UpdateCreatures(ctx, 5, []model.Creature{lvl}); err != nil {
			t.Fatalf("UpdateCreatures: %v", err)
		}
		if err := s.DeleteCreatures(ctx, 5, []int64{got[1].ID.Value}); err != nil {
			t.Fatalf("DeleteCreatures: %v", err)
		}

		after, _ := s.FetchCreatures(ctx, 5)
		want := []model.Creature{{ID: got[0].ID, SpeciesID: 3, Nickname: "rex", Level: 8, XP: 120, CreatedAt: born, PendingToken: 10}}
		opt := cmp.Comparer(func(a, b time.Time) bool { return a.Equal(b) })
		if diff := cmp.Diff(want, after, opt); diff != "" {
			t.Errorf("creatures mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestSQLStoreStats(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	_ = s.SaveUser(ctx, &model.UserState{UserID: 1, Username: "a", Level: 1})
	_ = s.InsertInventory(ctx, 1, []model.InventoryRow{{ID: model.Pending(1), ItemID: 1, Quantity: 1}})

	stats, err := s.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats["total_users"] != int64(1) || stats["total_inventory"] != int64(1) || stats["total_creatures"] != int64(0) {
		t.Errorf("unexpected stats: %v", stats)
	}
	if err := s.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestDialectRebind(t *testing.T) {
	pg, _ := lookupDialect("postgres")
	if got := pg.rebind("a = ? AND b = ?"); got != "a = $1 AND b = $2" {
		t.Errorf("rebind = %q", got)
	}
	my, _ := lookupDialect("mysql")
	got := my.upsert("t", []string{"a", "b"}, []string{"a"}, []string{"b"})
	if want := "INSERT INTO t (a, b) VALUES (?, ?) ON DUPLICATE KEY UPDATE b = VALUES(b)"; got != want {
		t.Errorf("mysql upsert = %q, want %q", got, want)
	}
	if _, err := lookupDialect("oracle"); err == nil {
		t.Error("unknown dialect accepted")
	}
}
