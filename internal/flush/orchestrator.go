package flush

import (
	"context"
	"time"

	"vinzhub-gamestate/internal/ledger"
	"vinzhub-gamestate/internal/logger"
	"vinzhub-gamestate/internal/metrics"
	"vinzhub-gamestate/internal/model"
	"vinzhub-gamestate/internal/repository"
	"vinzhub-gamestate/internal/state"
	"vinzhub-gamestate/internal/stateerr"
)

// Result summarises one flush.
type Result struct {
	UserID int64 `json:"user_id"`
	// Calls is the number of store calls issued, re-fetches included.
	Calls int `json:"calls"`
	// Remapped counts pending ids resolved to durable ids.
	Remapped int `json:"remapped"`
	// Clean reports whether the user left the dirty set.
	Clean    bool          `json:"clean"`
	Duration time.Duration `json:"duration"`
}

// Orchestrator flushes users to a backing store.
type Orchestrator struct {
	store  repository.Store
	logger *logger.Logger
}

// NewOrchestrator creates a flush orchestrator over store.
func NewOrchestrator(store repository.Store) *Orchestrator {
	return &Orchestrator{
		store:  store,
		logger: logger.NewLogger("Flush"),
	}
}

// Flush drains the pending operations of the user bound to h. The caller holds
// the user's lock for the whole call.
//
// On error memory, the ledger and the dirty mark are left as they were, except
// that creates already sent are flagged in-doubt. Retrying re-derives the same
// store calls; creates are keyed by pending token and updates are absolute, so
// re-applying them does not duplicate rows or quantities.
func (o *Orchestrator) Flush(ctx context.Context, h *state.Handle) (*Result, error) {
	userID := h.UserID()
	res := &Result{UserID: userID}

	st, err := h.State()
	if err != nil {
		return res, err
	}
	ops := h.PendingOps()
	if ops.Empty() {
		res.Clean = h.CompleteFlush()
		metrics.FlushesTotal.WithLabelValues("noop").Inc()
		return res, nil
	}

	start := time.Now()
	f := &run{o: o, h: h, userID: userID, res: res}
	err = f.execute(ctx, st, ops)
	res.Duration = time.Since(start)
	metrics.FlushDuration.Observe(res.Duration.Seconds())

	if err != nil {
		f.markInDoubt()
		metrics.FlushesTotal.WithLabelValues("error").Inc()
		o.logger.Warnf("Flush failed for user %d after %d calls: %v", userID, res.Calls, err)
		return res, err
	}
	res.Clean = h.CompleteFlush()
	metrics.FlushesTotal.WithLabelValues("success").Inc()
	o.logger.Debugf("Flushed user %d: %d calls, %d remapped in %v", userID, res.Calls, res.Remapped, res.Duration)
	return res, nil
}

// run is the state of one flush attempt.
type run struct {
	o      *Orchestrator
	h      *state.Handle
	userID int64
	res    *Result

	sentInventory []model.EntityID
	sentCreatures []model.EntityID
}

func (f *run) execute(ctx context.Context, st *model.UserState, ops ledger.UserOps) error {
	plan := BuildPlan(st, ops)
	store := f.o.store

	if err := f.call("inventory.delete", len(plan.InventoryDeletes), func() error {
		return store.DeleteInventory(ctx, f.userID, plan.InventoryDeletes)
	}); err != nil {
		return err
	}
	if err := f.call("creatures.delete", len(plan.CreatureDeletes), func() error {
		return store.DeleteCreatures(ctx, f.userID, plan.CreatureDeletes)
	}); err != nil {
		return err
	}

	for _, r := range plan.InventoryCreates {
		f.sentInventory = append(f.sentInventory, r.ID)
	}
	if err := f.call("inventory.insert", len(plan.InventoryCreates), func() error {
		return store.InsertInventory(ctx, f.userID, plan.InventoryCreates)
	}); err != nil {
		return err
	}
	for _, cr := range plan.CreatureCreates {
		f.sentCreatures = append(f.sentCreatures, cr.ID)
	}
	if err := f.call("creatures.insert", len(plan.CreatureCreates), func() error {
		return store.InsertCreatures(ctx, f.userID, plan.CreatureCreates)
	}); err != nil {
		return err
	}

	if err := f.call("inventory.update", len(plan.InventoryUpdates), func() error {
		return store.UpdateInventory(ctx, f.userID, plan.InventoryUpdates)
	}); err != nil {
		return err
	}
	if err := f.call("creatures.update", len(plan.CreatureUpdates), func() error {
		return store.UpdateCreatures(ctx, f.userID, plan.CreatureUpdates)
	}); err != nil {
		return err
	}

	var (
		inv       []model.InventoryRow
		creatures []model.Creature
	)
	if err := f.call("inventory.fetch", 1, func() (err error) {
		inv, err = store.FetchInventory(ctx, f.userID)
		return err
	}); err != nil {
		return err
	}
	if err := f.call("creatures.fetch", 1, func() (err error) {
		creatures, err = store.FetchCreatures(ctx, f.userID)
		return err
	}); err != nil {
		return err
	}

	inv, err := f.dropInventoryOrphans(ctx, inv, plan.InventoryOrphans)
	if err != nil {
		return err
	}
	creatures, err = f.dropCreatureOrphans(ctx, creatures, plan.CreatureOrphans)
	if err != nil {
		return err
	}

	invRemap, err := remapInventory(f.userID, ops.Inventory, inv)
	if err != nil {
		return err
	}
	creatureRemap, err := remapCreatures(f.userID, ops.Creatures, creatures)
	if err != nil {
		return err
	}

	fields := *st
	saveFields := plan.SaveFields
	if active := fields.Combat.ActiveCreature; active.IsPending() {
		if durable, ok := creatureRemap[active]; ok {
			fields.Combat.ActiveCreature = durable
			saveFields = true
		}
	}
	if saveFields {
		if err := f.call("user.save", 1, func() error {
			return store.SaveUser(ctx, &fields)
		}); err != nil {
			return err
		}
	}

	// Everything the store had to confirm is confirmed; publish the results.
	for pending, durable := range invRemap {
		f.h.SetRemap(ledger.Inventory, pending, durable)
	}
	for pending, durable := range creatureRemap {
		f.h.SetRemap(ledger.Creatures, pending, durable)
	}
	if err := f.h.ReplaceCollections(inv, creatures); err != nil {
		return err
	}
	st.Combat.ActiveCreature = fields.Combat.ActiveCreature
	f.res.Remapped = len(invRemap) + len(creatureRemap)
	return nil
}

// call runs one store call, skipping empty batches, and classifies its error.
func (f *run) call(op string, n int, fn func() error) error {
	if n == 0 {
		return nil
	}
	f.res.Calls++
	err := fn()
	metrics.StoreCallsTotal.WithLabelValues(op, metrics.Status(err)).Inc()
	if err != nil {
		return stateerr.StoreUnavailable(f.userID, "flush."+op, err)
	}
	return nil
}

func (f *run) markInDoubt() {
	if len(f.sentInventory) > 0 {
		f.h.MarkInDoubt(ledger.Inventory, f.sentInventory)
	}
	if len(f.sentCreatures) > 0 {
		f.h.MarkInDoubt(ledger.Creatures, f.sentCreatures)
	}
}

func (f *run) dropInventoryOrphans(ctx context.Context, rows []model.InventoryRow, orphans []int64) ([]model.InventoryRow, error) {
	if len(orphans) == 0 {
		return rows, nil
	}
	isOrphan := toSet(orphans)
	var ids []int64
	kept := rows[:0:0]
	for _, r := range rows {
		if r.PendingToken != 0 && isOrphan[r.PendingToken] {
			ids = append(ids, r.ID.Value)
			continue
		}
		kept = append(kept, r)
	}
	err := f.call("inventory.delete_orphans", len(ids), func() error {
		return f.o.store.DeleteInventory(ctx, f.userID, ids)
	})
	return kept, err
}

func (f *run) dropCreatureOrphans(ctx context.Context, creatures []model.Creature, orphans []int64) ([]model.Creature, error) {
	if len(orphans) == 0 {
		return creatures, nil
	}
	isOrphan := toSet(orphans)
	var ids []int64
	kept := creatures[:0:0]
	for _, cr := range creatures {
		if cr.PendingToken != 0 && isOrphan[cr.PendingToken] {
			ids = append(ids, cr.ID.Value)
			continue
		}
		kept = append(kept, cr)
	}
	err := f.call("creatures.delete_orphans", len(ids), func() error {
		return f.o.store.DeleteCreatures(ctx, f.userID, ids)
	})
	return kept, err
}

func toSet(values []int64) map[int64]bool {
	set := make(map[int64]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}
