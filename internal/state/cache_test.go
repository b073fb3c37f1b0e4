package state

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"vinzhub-gamestate/internal/ledger"
	"vinzhub-gamestate/internal/model"
	"vinzhub-gamestate/internal/stateerr"
)

const uid = int64(7)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newTestCache(t *testing.T) (*Cache, *fakeClock) {
	t.Helper()
	clk := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	return New(Options{Now: clk.Now}), clk
}

func baseState() *model.UserState {
	return &model.UserState{
		UserID:   uid,
		Username: "alice",
		Gold:     100,
		Level:    1,
		Combat:   model.CombatStats{HP: 50, MaxHP: 50},
		Inventory: []model.InventoryRow{
			{ID: model.Durable(10), ItemID: 1, Quantity: 3, Order: 0},
			{ID: model.Durable(11), EquipmentID: 4, Quantity: 1, Order: 1},
		},
		Creatures: []model.Creature{
			{ID: model.Durable(20), SpeciesID: 9, Level: 3, Order: 0},
		},
	}
}

func loaded(t *testing.T) (*Cache, *fakeClock) {
	t.Helper()
	c, clk := newTestCache(t)
	if err := c.Set(uid, baseState()); err != nil {
		t.Fatalf("Set: %v", err)
	}
	return c, clk
}

func TestNotResident(t *testing.T) {
	c, _ := newTestCache(t)

	if _, err := c.Get(uid); !errors.Is(err, stateerr.ErrNotResident) {
		t.Errorf("Get() error = %v, want ErrNotResident", err)
	}
	if err := c.UpdateField(uid, FieldGold, 5); !errors.Is(err, stateerr.ErrNotResident) {
		t.Errorf("UpdateField() error = %v, want ErrNotResident", err)
	}
	if c.Touch(uid) {
		t.Error("Touch() on absent user returned true")
	}
}

func TestGetReturnsCopy(t *testing.T) {
	c, _ := loaded(t)

	got, err := c.Get(uid)
	if err != nil {
		t.Fatal(err)
	}
	got.Gold = 1
	got.Inventory[0].Quantity = 99

	again, _ := c.Get(uid)
	if again.Gold != 100 || again.Inventory[0].Quantity != 3 {
		t.Errorf("mutating a Get result changed the cache: %+v", again)
	}
	if c.IsDirty(uid) {
		t.Error("reads must not mark dirty")
	}
}

func TestGrantMergesIntoDurableRow(t *testing.T) {
	c, _ := loaded(t)
	h := c.Lock(uid)
	defer h.Unlock()

	id, err := h.GrantInventory(model.ItemKey(1), 2)
	if err != nil {
		t.Fatalf("GrantInventory: %v", err)
	}
	if id != model.Durable(10) {
		t.Errorf("grant landed on %s, want d:10", id)
	}
	st, _ := h.State()
	if len(st.Inventory) != 2 || st.Inventory[0].Quantity != 5 {
		t.Errorf("inventory = %+v", st.Inventory)
	}
	ops := h.PendingOps().Inventory
	if _, ok := ops.Updates[model.Durable(10)]; !ok || len(ops.Creates) != 0 {
		t.Errorf("ops = %+v, want one update for d:10", ops)
	}
	if !h.IsDirty() {
		t.Error("grant did not mark dirty")
	}
}

func TestGrantNeverMergesIntoPendingRow(t *testing.T) {
	c, _ := loaded(t)
	h := c.Lock(uid)
	defer h.Unlock()

	first, err := h.GrantInventory(model.ItemKey(5), 1)
	if err != nil {
		t.Fatal(err)
	}
	second, err := h.GrantInventory(model.ItemKey(5), 1)
	if err != nil {
		t.Fatal(err)
	}
	if !first.IsPending() || !second.IsPending() || first == second {
		t.Fatalf("expected two distinct pending rows, got %s and %s", first, second)
	}
	st, _ := h.State()
	if len(st.Inventory) != 4 {
		t.Fatalf("len(inventory) = %d, want 4", len(st.Inventory))
	}
	if st.Inventory[2].Order >= st.Inventory[3].Order {
		t.Errorf("orders not increasing: %d, %d", st.Inventory[2].Order, st.Inventory[3].Order)
	}
	if n := len(h.PendingOps().Inventory.Creates); n != 2 {
		t.Errorf("len(creates) = %d, want 2", n)
	}
}

func TestGrantValidation(t *testing.T) {
	c, _ := loaded(t)
	h := c.Lock(uid)
	defer h.Unlock()

	tests := []struct {
		name string
		key  model.SlotKey
		qty  int64
	}{
		{"zero quantity", model.ItemKey(1), 0},
		{"negative quantity", model.ItemKey(1), -2},
		{"creature key", model.SlotKey{Kind: model.SlotCreature, Ref: 1}, 1},
		{"missing ref", model.ItemKey(0), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := h.GrantInventory(tt.key, tt.qty); !errors.Is(err, stateerr.ErrValidation) {
				t.Errorf("error = %v, want validation error", err)
			}
		})
	}
	if h.IsDirty() {
		t.Error("rejected grants marked the user dirty")
	}
}

func TestAppendRejectsDurableID(t *testing.T) {
	c, _ := loaded(t)
	h := c.Lock(uid)
	defer h.Unlock()

	_, err := h.AppendInventory(model.InventoryRow{ID: model.Durable(99), ItemID: 1, Quantity: 1})
	if !errors.Is(err, stateerr.ErrValidation) {
		t.Errorf("error = %v, want validation error", err)
	}
}

func TestRemovePendingCancelsCreate(t *testing.T) {
	c, _ := loaded(t)
	h := c.Lock(uid)
	defer h.Unlock()

	id, _ := h.GrantInventory(model.ItemKey(8), 4)
	if err := h.RemoveInventory(id); err != nil {
		t.Fatalf("RemoveInventory: %v", err)
	}
	ops := h.PendingOps().Inventory
	if !ops.Empty() {
		t.Errorf("expected no pending inventory ops, got %+v", ops)
	}
	st, _ := h.State()
	if st.FindInventory(id) >= 0 {
		t.Error("row still present")
	}
}

func TestUpdateQuantity(t *testing.T) {
	c, _ := loaded(t)
	h := c.Lock(uid)
	defer h.Unlock()

	if _, err := h.UpdateInventoryQuantity(model.Durable(10), -4); !errors.Is(err, stateerr.ErrValidation) {
		t.Errorf("overdraw error = %v, want validation error", err)
	}
	if got, err := h.UpdateInventoryQuantity(model.Durable(10), -1); err != nil || got != 2 {
		t.Errorf("UpdateInventoryQuantity(-1) = %d, %v; want 2", got, err)
	}
	if got, err := h.UpdateInventoryQuantity(model.Durable(10), -2); err != nil || got != 0 {
		t.Errorf("UpdateInventoryQuantity(-2) = %d, %v; want 0", got, err)
	}

	ops := h.PendingOps().Inventory
	want := map[model.EntityID]model.SlotKey{model.Durable(10): model.ItemKey(1)}
	if diff := cmp.Diff(want, ops.Deletes); diff != "" {
		t.Errorf("deletes mismatch (-want +got):\n%s", diff)
	}
	if len(ops.Updates) != 0 {
		t.Errorf("update mark survived the delete: %v", ops.Updates)
	}
}

func TestConsumeInventoryAcrossRows(t *testing.T) {
	c, _ := loaded(t)
	h := c.Lock(uid)
	defer h.Unlock()

	pending, _ := h.AppendInventory(model.InventoryRow{ItemID: 1, Quantity: 2})
	if err := h.ConsumeInventory(model.ItemKey(1), 4); err != nil {
		t.Fatalf("ConsumeInventory: %v", err)
	}
	st, _ := h.State()
	if st.FindInventory(model.Durable(10)) >= 0 {
		t.Error("oldest row should have been used up")
	}
	idx := st.FindInventory(pending)
	if idx < 0 || st.Inventory[idx].Quantity != 1 {
		t.Errorf("pending row = %+v, want quantity 1", st.Inventory)
	}
	if err := h.ConsumeInventory(model.ItemKey(1), 5); !errors.Is(err, stateerr.ErrValidation) {
		t.Errorf("overdraw error = %v, want validation error", err)
	}
}

func TestCreatureLifecycle(t *testing.T) {
	c, _ := loaded(t)
	h := c.Lock(uid)
	defer h.Unlock()

	id, err := h.AppendCreature(model.Creature{SpeciesID: 3, Level: 1})
	if err != nil {
		t.Fatalf("AppendCreature: %v", err)
	}
	if err := h.UpdateCombatField(CombatActiveCreature, id); err != nil {
		t.Fatalf("set active creature: %v", err)
	}
	if err := h.UpdateCreature(model.Durable(20), func(cr *model.Creature) error {
		cr.Level = 4
		return nil
	}); err != nil {
		t.Fatalf("UpdateCreature: %v", err)
	}
	if err := h.UpdateCreature(model.Durable(20), func(cr *model.Creature) error {
		cr.ID = model.Durable(21)
		return nil
	}); !errors.Is(err, stateerr.ErrValidation) {
		t.Errorf("changing id error = %v, want validation error", err)
	}

	if err := h.RemoveCreature(id); err != nil {
		t.Fatalf("RemoveCreature: %v", err)
	}
	st, _ := h.State()
	if !st.Combat.ActiveCreature.IsZero() {
		t.Errorf("active creature = %s, want unset", st.Combat.ActiveCreature)
	}
	ops := h.PendingOps()
	if len(ops.Creatures.Creates) != 0 || len(ops.Creatures.Updates) != 1 || !ops.FieldsDirty {
		t.Errorf("ops = %+v", ops)
	}
}

func TestUpdateFieldValidation(t *testing.T) {
	c, _ := loaded(t)

	tests := []struct {
		name  string
		field Field
		value interface{}
	}{
		{"negative gold", FieldGold, -1},
		{"gold as string", FieldGold, "10"},
		{"fractional gems", FieldGems, 1.5},
		{"level zero", FieldLevel, 0},
		{"empty username", FieldUsername, "  "},
		{"unknown field", Field("karma"), 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := c.UpdateField(uid, tt.field, tt.value); !errors.Is(err, stateerr.ErrValidation) {
				t.Errorf("error = %v, want validation error", err)
			}
		})
	}
	if c.IsDirty(uid) {
		t.Error("rejected updates marked the user dirty")
	}

	if err := c.UpdateField(uid, FieldGold, float64(250)); err != nil {
		t.Fatalf("UpdateField(gold=250.0): %v", err)
	}
	st, _ := c.Get(uid)
	if st.Gold != 250 {
		t.Errorf("Gold = %d, want 250", st.Gold)
	}
	if !c.Ledger().Ops(uid).FieldsDirty {
		t.Error("fields not marked for save")
	}
}

func TestCombatFieldValidation(t *testing.T) {
	c, _ := loaded(t)

	if err := c.UpdateCombatField(uid, CombatHP, 60); !errors.Is(err, stateerr.ErrValidation) {
		t.Errorf("hp above max error = %v, want validation error", err)
	}
	if err := c.UpdateCombatField(uid, CombatCritRate, 1.5); !errors.Is(err, stateerr.ErrValidation) {
		t.Errorf("crit rate error = %v, want validation error", err)
	}
	if err := c.UpdateCombatField(uid, CombatActiveCreature, "d:404"); !errors.Is(err, stateerr.ErrValidation) {
		t.Errorf("unowned creature error = %v, want validation error", err)
	}
	if err := c.UpdateCombatField(uid, CombatActiveCreature, "d:20"); err != nil {
		t.Errorf("owned creature: %v", err)
	}
}

func TestAddCurrency(t *testing.T) {
	c, _ := loaded(t)
	h := c.Lock(uid)
	defer h.Unlock()

	if got, err := h.AddCurrency(FieldGold, -40); err != nil || got != 60 {
		t.Errorf("AddCurrency(-40) = %d, %v; want 60", got, err)
	}
	if _, err := h.AddCurrency(FieldGold, -61); !errors.Is(err, stateerr.ErrValidation) {
		t.Errorf("overdraw error = %v, want validation error", err)
	}
	if _, err := h.AddCurrency(FieldXP, 1); !errors.Is(err, stateerr.ErrValidation) {
		t.Errorf("xp is not a currency, got %v", err)
	}
}

func TestSetRefusesDirtyUser(t *testing.T) {
	c, _ := loaded(t)
	err := c.Do(uid, func(h *Handle) error {
		_, err := h.GrantInventory(model.ItemKey(99), 1)
		return err
	})
	if err != nil {
		t.Fatalf("GrantInventory: %v", err)
	}

	if err := c.Set(uid, baseState()); !errors.Is(err, stateerr.ErrDirty) {
		t.Fatalf("Set(dirty) error = %v, want ErrDirty", err)
	}
	st, err := c.Get(uid)
	if err != nil {
		t.Fatal(err)
	}
	if len(st.Inventory) != len(baseState().Inventory)+1 {
		t.Errorf("inventory has %d rows, the granted row was lost", len(st.Inventory))
	}

	h := c.Lock(uid)
	h.CompleteFlush()
	h.Unlock()

	if err := c.Set(uid, baseState()); err != nil {
		t.Fatalf("Set(clean): %v", err)
	}
	if c.IsDirty(uid) || c.Ledger().HasPending(uid) {
		t.Error("reloaded user carries pending work")
	}
}

func TestRemoveRefusesDirtyUser(t *testing.T) {
	c, _ := loaded(t)
	if err := c.UpdateField(uid, FieldGems, 3); err != nil {
		t.Fatal(err)
	}
	if err := c.Remove(uid); !errors.Is(err, stateerr.ErrDirty) {
		t.Fatalf("Remove(dirty) error = %v, want ErrDirty", err)
	}
	if !c.HasUser(uid) {
		t.Fatal("dirty user was evicted")
	}

	h := c.Lock(uid)
	h.CompleteFlush()
	h.Unlock()

	if err := c.Remove(uid); err != nil {
		t.Fatalf("Remove(clean): %v", err)
	}
	if c.HasUser(uid) {
		t.Error("user still resident")
	}
}

func TestActivityClock(t *testing.T) {
	c, clk := loaded(t)
	start, _ := c.LastActivity(uid)

	clk.Advance(time.Minute)
	if idle := c.IdleSince(clk.Now()); len(idle) != 1 || idle[0].UserID != uid {
		t.Fatalf("IdleSince = %+v, want user %d", idle, uid)
	}
	c.Touch(uid)
	if idle := c.IdleSince(clk.Now()); len(idle) != 0 {
		t.Errorf("touched user still idle: %+v", idle)
	}
	last, _ := c.LastActivity(uid)
	if !last.After(start) {
		t.Errorf("LastActivity = %v, want after %v", last, start)
	}

	clk.Advance(time.Minute)
	if err := c.UpdateField(uid, FieldEnergy, 5); err != nil {
		t.Fatal(err)
	}
	if got, _ := c.LastActivity(uid); !got.Equal(clk.Now()) {
		t.Errorf("mutation did not advance activity: %v", got)
	}
}

func TestRestoreMarksDirtyAndReservesTokens(t *testing.T) {
	c, _ := newTestCache(t)
	st := baseState()
	big := time.Now().UnixMicro() + 1_000_000_000
	st.Inventory = append(st.Inventory, model.InventoryRow{ID: model.Pending(big), ItemID: 6, Quantity: 1, Order: 2})

	pending := ledger.New()
	_ = pending.RecordCreate(uid, ledger.Inventory, model.Pending(big), model.ItemKey(6))

	h := c.Lock(uid)
	defer h.Unlock()
	if err := h.Restore(st, pending.Export(uid)); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if !h.IsDirty() {
		t.Error("restored user with pending work is not dirty")
	}
	id, err := h.GrantInventory(model.ItemKey(7), 1)
	if err != nil {
		t.Fatal(err)
	}
	if id.Value <= big {
		t.Errorf("new token %d does not exceed restored token %d", id.Value, big)
	}
}

func TestLoadRejectsDuplicateIDs(t *testing.T) {
	c, _ := newTestCache(t)
	st := baseState()
	st.Inventory[1].ID = st.Inventory[0].ID

	if err := c.Set(uid, st); !errors.Is(err, stateerr.ErrCorruption) {
		t.Errorf("Set(duplicate ids) error = %v, want corruption error", err)
	}
	if c.HasUser(uid) {
		t.Error("corrupt state was loaded")
	}
}

func TestResolveAfterRemap(t *testing.T) {
	c, _ := loaded(t)
	h := c.Lock(uid)
	defer h.Unlock()

	pending, _ := h.GrantInventory(model.ItemKey(5), 2)
	st, _ := h.State()
	rows := append([]model.InventoryRow(nil), st.Inventory...)
	rows[st.FindInventory(pending)].ID = model.Durable(300)
	if err := h.ReplaceCollections(rows, st.Creatures); err != nil {
		t.Fatal(err)
	}
	h.SetRemap(ledger.Inventory, pending, model.Durable(300))
	h.CompleteFlush()

	if got, err := h.UpdateInventoryQuantity(pending, 1); err != nil || got != 3 {
		t.Errorf("update through stale id = %d, %v; want 3", got, err)
	}
}

func TestDistinctUsersDoNotBlock(t *testing.T) {
	c, _ := newTestCache(t)
	other := baseState()
	other.UserID = uid + 1
	_ = c.Set(uid, baseState())
	_ = c.Set(uid+1, other)

	h := c.Lock(uid)
	defer h.Unlock()

	done := make(chan error, 1)
	go func() { done <- c.UpdateField(uid+1, FieldGold, 1) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second):
		t.Fatal("update of another user blocked on this user's lock")
	}
}
