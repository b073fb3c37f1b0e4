package state

import (
	"time"

	"vinzhub-gamestate/internal/ledger"
	"vinzhub-gamestate/internal/model"
	"vinzhub-gamestate/internal/stateerr"
)

// Handle is exclusive access to one user's state. It is valid until Unlock.
type Handle struct {
	c      *Cache
	userID int64
	unlock func()
}

// Unlock releases the user's lock. Calling it more than once is safe.
func (h *Handle) Unlock() { h.unlock() }

// UserID returns the user the handle is bound to.
func (h *Handle) UserID() int64 { return h.userID }

// Resident reports whether the user has state in memory.
func (h *Handle) Resident() bool { return h.c.lookup(h.userID) != nil }

// State returns the live resident state. The pointer must not escape the handle.
func (h *Handle) State() (*model.UserState, error) {
	e := h.c.lookup(h.userID)
	if e == nil {
		return nil, stateerr.ErrNotResident
	}
	return e.state, nil
}

// Load makes st the user's resident state and resets the activity clock.
// Replacing a user with unflushed work fails with ErrDirty; replacing a clean
// user drops its ledger.
func (h *Handle) Load(st *model.UserState) error {
	if st == nil {
		return stateerr.Validation(h.userID, "state.load", "nil state")
	}
	if st.UserID != h.userID {
		return stateerr.Validation(h.userID, "state.load", "state belongs to user %d", st.UserID)
	}
	if err := checkCollections(h.userID, "state.load", st); err != nil {
		return err
	}
	if h.Resident() {
		if h.IsDirty() || h.c.ledger.HasPending(h.userID) {
			return stateerr.ErrDirty
		}
		h.c.ledger.Forget(h.userID)
	}
	model.SortInventory(st.Inventory)
	model.SortCreatures(st.Creatures)

	e := &entry{state: st}
	e.lastActivity.Store(h.c.now().UnixNano())
	h.c.put(h.userID, e)
	return nil
}

// Restore loads st together with the ledger that was pending when it was
// snapshotted. Users restored with pending work are marked dirty.
func (h *Handle) Restore(st *model.UserState, pending ledger.Exported) error {
	if err := h.Load(st); err != nil {
		return err
	}
	h.c.ledger.Restore(h.userID, pending)
	h.c.reserveTokens(h.c.ledger.MaxPendingToken(h.userID))
	for _, r := range st.Inventory {
		if r.ID.IsPending() {
			h.c.reserveTokens(r.ID.Value)
		}
	}
	for _, cr := range st.Creatures {
		if cr.ID.IsPending() {
			h.c.reserveTokens(cr.ID.Value)
		}
	}
	if !pending.Empty() {
		h.c.setDirty(h.userID, true)
	}
	return nil
}

// Export returns a deep copy of the state and the serialised pending ledger.
func (h *Handle) Export() (*model.UserState, ledger.Exported, error) {
	st, err := h.State()
	if err != nil {
		return nil, ledger.Exported{}, err
	}
	return st.Clone(), h.c.ledger.Export(h.userID), nil
}

// Evict removes the user's resident state and ledger. Dirty users are refused.
func (h *Handle) Evict() error {
	if h.c.IsDirty(h.userID) {
		return stateerr.ErrDirty
	}
	h.c.drop(h.userID)
	h.c.ledger.Forget(h.userID)
	return nil
}

// Touch advances the activity clock.
func (h *Handle) Touch() { h.c.Touch(h.userID) }

// LastActivity returns the last activity time of the user.
func (h *Handle) LastActivity() (time.Time, bool) { return h.c.LastActivity(h.userID) }

// IsDirty reports whether the user has unconfirmed mutations.
func (h *Handle) IsDirty() bool { return h.c.IsDirty(h.userID) }

// MarkDirty adds the user to the dirty set.
func (h *Handle) MarkDirty() { h.c.setDirty(h.userID, true) }

// Resolve maps an id held by a caller to the id currently stored in memory.
func (h *Handle) Resolve(c ledger.Collection, id model.EntityID) model.EntityID {
	return h.c.ledger.Resolve(h.userID, c, id)
}

// PendingOps returns a copy of the user's pending operations.
func (h *Handle) PendingOps() ledger.UserOps { return h.c.ledger.Ops(h.userID) }

// SetRemap records the durable id a pending id was persisted under.
func (h *Handle) SetRemap(c ledger.Collection, pending, durable model.EntityID) {
	h.c.ledger.SetRemap(h.userID, c, pending, durable)
}

// MarkInDoubt flags creates that were sent by a flush that did not complete.
func (h *Handle) MarkInDoubt(c ledger.Collection, ids []model.EntityID) {
	h.c.ledger.MarkInDoubt(h.userID, c, ids)
}

// ReplaceCollections swaps both collections for the store's confirmed view.
func (h *Handle) ReplaceCollections(inv []model.InventoryRow, creatures []model.Creature) error {
	st, err := h.State()
	if err != nil {
		return err
	}
	next := *st
	next.Inventory = inv
	next.Creatures = creatures
	if err := checkCollections(h.userID, "state.replace", &next); err != nil {
		return err
	}
	model.SortInventory(inv)
	model.SortCreatures(creatures)
	st.Inventory = inv
	st.Creatures = creatures
	return nil
}

// CompleteFlush clears the confirmed ledger and drops the dirty mark when no
// work remains. It reports whether the user is now clean.
func (h *Handle) CompleteFlush() bool {
	h.c.ledger.Clear(h.userID)
	if h.c.ledger.HasPending(h.userID) {
		return false
	}
	h.c.setDirty(h.userID, false)
	return true
}

// mutated records a successful mutation.
func (h *Handle) mutated(st *model.UserState) {
	now := h.c.now()
	st.UpdatedAt = now
	if e := h.c.lookup(h.userID); e != nil {
		e.lastActivity.Store(now.UnixNano())
	}
	h.c.setDirty(h.userID, true)
}

// checkCollections verifies that every id is set and unique within its collection.
func checkCollections(userID int64, op string, st *model.UserState) error {
	seen := make(map[model.EntityID]struct{}, len(st.Inventory))
	for _, r := range st.Inventory {
		if r.ID.IsZero() {
			return stateerr.Corruption(userID, op, "inventory row with unset id")
		}
		if _, dup := seen[r.ID]; dup {
			return stateerr.Corruption(userID, op, "duplicate inventory id %s", r.ID)
		}
		seen[r.ID] = struct{}{}
	}
	seen = make(map[model.EntityID]struct{}, len(st.Creatures))
	for _, cr := range st.Creatures {
		if cr.ID.IsZero() {
			return stateerr.Corruption(userID, op, "creature with unset id")
		}
		if _, dup := seen[cr.ID]; dup {
			return stateerr.Corruption(userID, op, "duplicate creature id %s", cr.ID)
		}
		seen[cr.ID] = struct{}{}
	}
	return nil
}
