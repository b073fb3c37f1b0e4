// Package ledger records, per user, the create/update/delete intents that have not
// yet reached the backing store, and the table that maps placeholder identifiers
// to the durable identifiers the store assigned.
package ledger

import (
	"sync"

	"vinzhub-gamestate/internal/model"
	"vinzhub-gamestate/internal/stateerr"
)

// Collection selects which owned collection an operation targets.
type Collection uint8

const (
	Inventory Collection = iota
	Creatures
	numCollections
)

// String returns the collection name.
func (c Collection) String() string {
	if c == Creatures {
		return "creatures"
	}
	return "inventory"
}

// Ops is a copy of one collection's pending operations.
type Ops struct {
	// Creates maps pending ids to the slot key they were granted under.
	Creates map[model.EntityID]model.SlotKey
	// Updates holds durable ids whose in-memory value must be pushed.
	Updates map[model.EntityID]model.SlotKey
	// Deletes holds durable ids to remove.
	Deletes map[model.EntityID]model.SlotKey
	// Orphans holds pending ids cancelled after a failed flush may already have
	// written them; the next flush removes their rows by durable id.
	Orphans map[model.EntityID]model.SlotKey
	// InDoubt holds pending creates that were sent by a flush that then failed.
	InDoubt map[model.EntityID]bool
}

func newOps() Ops {
	return Ops{
		Creates: make(map[model.EntityID]model.SlotKey),
		Updates: make(map[model.EntityID]model.SlotKey),
		Deletes: make(map[model.EntityID]model.SlotKey),
		Orphans: make(map[model.EntityID]model.SlotKey),
		InDoubt: make(map[model.EntityID]bool),
	}
}

// Empty reports whether the collection needs no store call.
func (o Ops) Empty() bool {
	return len(o.Creates) == 0 && len(o.Updates) == 0 && len(o.Deletes) == 0 && len(o.Orphans) == 0
}

// TouchedKeys returns every slot key referenced by an operation.
func (o Ops) TouchedKeys() map[model.SlotKey]struct{} {
	keys := make(map[model.SlotKey]struct{})
	for _, m := range []map[model.EntityID]model.SlotKey{o.Creates, o.Updates, o.Deletes, o.Orphans} {
		for _, k := range m {
			keys[k] = struct{}{}
		}
	}
	return keys
}

func (o Ops) clone() Ops {
	cp := newOps()
	for id, k := range o.Creates {
		cp.Creates[id] = k
	}
	for id, k := range o.Updates {
		cp.Updates[id] = k
	}
	for id, k := range o.Deletes {
		cp.Deletes[id] = k
	}
	for id, k := range o.Orphans {
		cp.Orphans[id] = k
	}
	for id, v := range o.InDoubt {
		cp.InDoubt[id] = v
	}
	return cp
}

// UserOps is a copy of everything pending for one user.
type UserOps struct {
	Inventory   Ops
	Creatures   Ops
	FieldsDirty bool
}

// Empty reports whether nothing is pending.
func (u UserOps) Empty() bool {
	return u.Inventory.Empty() && u.Creatures.Empty() && !u.FieldsDirty
}

// For returns the ops of collection c.
func (u UserOps) For(c Collection) Ops {
	if c == Creatures {
		return u.Creatures
	}
	return u.Inventory
}

type userLedger struct {
	ops         [numCollections]Ops
	fieldsDirty bool
	remap       [numCollections]map[int64]int64
}

func newUserLedger() *userLedger {
	ul := &userLedger{}
	for c := Collection(0); c < numCollections; c++ {
		ul.ops[c] = newOps()
		ul.remap[c] = make(map[int64]int64)
	}
	return ul
}

func (ul *userLedger) pending() bool {
	if ul.fieldsDirty {
		return true
	}
	for c := Collection(0); c < numCollections; c++ {
		if !ul.ops[c].Empty() {
			return true
		}
	}
	return false
}

// Ledger holds the pending operation sets and remap tables of all resident users.
// Callers serialise operations on one user through that user's lock; the ledger's
// own mutex only guards the map across users.
type Ledger struct {
	mu    sync.Mutex
	users map[int64]*userLedger
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{users: make(map[int64]*userLedger)}
}

func (l *Ledger) user(userID int64) *userLedger {
	ul, ok := l.users[userID]
	if !ok {
		ul = newUserLedger()
		l.users[userID] = ul
	}
	return ul
}

// RecordCreate queues the creation of a pending entity.
func (l *Ledger) RecordCreate(userID int64, c Collection, id model.EntityID, key model.SlotKey) error {
	if !id.IsPending() {
		return stateerr.Validation(userID, "ledger.create", "%s create requires a pending id, got %s", c, id)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	ops := l.user(userID).ops[c]
	if _, dup := ops.Creates[id]; dup {
		return stateerr.Validation(userID, "ledger.create", "%s create for %s already queued", c, id)
	}
	ops.Creates[id] = key
	return nil
}

// RecordUpdate marks an entity whose in-memory value must be pushed to the store.
// Updates to a pending entity with an open create are absorbed by the create.
func (l *Ledger) RecordUpdate(userID int64, c Collection, id model.EntityID, key model.SlotKey) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	ops := l.user(userID).ops[c]
	switch {
	case id.IsPending():
		if _, ok := ops.Creates[id]; ok {
			return nil
		}
		return stateerr.Validation(userID, "ledger.update", "%s update for unknown pending id %s", c, id)
	case id.IsDurable():
		if _, deleted := ops.Deletes[id]; deleted {
			return stateerr.Validation(userID, "ledger.update", "%s update for deleted id %s", c, id)
		}
		ops.Updates[id] = key
		return nil
	default:
		return stateerr.Validation(userID, "ledger.update", "%s update with unset id", c)
	}
}

// RecordDelete queues the removal of an entity. For a pending entity the open create
// is cancelled instead and cancelled is true.
func (l *Ledger) RecordDelete(userID int64, c Collection, id model.EntityID, key model.SlotKey) (cancelled bool, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ops := l.user(userID).ops[c]
	switch {
	case id.IsPending():
		if _, ok := ops.Creates[id]; !ok {
			return false, stateerr.Validation(userID, "ledger.delete", "%s delete for unknown pending id %s", c, id)
		}
		delete(ops.Creates, id)
		if ops.InDoubt[id] {
			delete(ops.InDoubt, id)
			ops.Orphans[id] = key
		}
		return true, nil
	case id.IsDurable():
		delete(ops.Updates, id)
		ops.Deletes[id] = key
		return false, nil
	default:
		return false, stateerr.Validation(userID, "ledger.delete", "%s delete with unset id", c)
	}
}

// MarkFields records that scalar or combat fields changed.
func (l *Ledger) MarkFields(userID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.user(userID).fieldsDirty = true
}

// MarkInDoubt flags pending creates that were sent by a flush that did not complete.
func (l *Ledger) MarkInDoubt(userID int64, c Collection, ids []model.EntityID) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ops := l.user(userID).ops[c]
	for _, id := range ids {
		if _, ok := ops.Creates[id]; ok {
			ops.InDoubt[id] = true
		}
	}
}

// Ops returns a copy of the user's pending operations.
func (l *Ledger) Ops(userID int64) UserOps {
	l.mu.Lock()
	defer l.mu.Unlock()

	ul, ok := l.users[userID]
	if !ok {
		return UserOps{Inventory: newOps(), Creatures: newOps()}
	}
	return UserOps{
		Inventory:   ul.ops[Inventory].clone(),
		Creatures:   ul.ops[Creatures].clone(),
		FieldsDirty: ul.fieldsDirty,
	}
}

// HasPending reports whether any operation is queued for the user.
func (l *Ledger) HasPending(userID int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	ul, ok := l.users[userID]
	return ok && ul.pending()
}

// Clear drops the user's pending operations after a confirmed flush. The remap
// table is kept: callers may still hold pending ids from before the flush.
func (l *Ledger) Clear(userID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ul, ok := l.users[userID]
	if !ok {
		return
	}
	for c := Collection(0); c < numCollections; c++ {
		ul.ops[c] = newOps()
	}
	ul.fieldsDirty = false
}

// Forget drops everything held for the user, including the remap table.
func (l *Ledger) Forget(userID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.users, userID)
}

// SetRemap records that a pending id now resolves to a durable id.
func (l *Ledger) SetRemap(userID int64, c Collection, pending, durable model.EntityID) {
	if !pending.IsPending() || !durable.IsDurable() {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.user(userID).remap[c][pending.Value] = durable.Value
}

// Resolve maps a resolved pending id to its durable id. Any other id is returned unchanged.
func (l *Ledger) Resolve(userID int64, c Collection, id model.EntityID) model.EntityID {
	if !id.IsPending() {
		return id
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	ul, ok := l.users[userID]
	if !ok {
		return id
	}
	if durable, ok := ul.remap[c][id.Value]; ok {
		return model.Durable(durable)
	}
	return id
}

// MaxPendingToken returns the largest pending token referenced for the user.
func (l *Ledger) MaxPendingToken(userID int64) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	ul, ok := l.users[userID]
	if !ok {
		return 0
	}
	var max int64
	for c := Collection(0); c < numCollections; c++ {
		for id := range ul.ops[c].Creates {
			if id.Value > max {
				max = id.Value
			}
		}
		for id := range ul.ops[c].Orphans {
			if id.Value > max {
				max = id.Value
			}
		}
		for token := range ul.remap[c] {
			if token > max {
				max = token
			}
		}
	}
	return max
}
