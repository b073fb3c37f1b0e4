package state

import (
	"vinzhub-gamestate/internal/ledger"
	"vinzhub-gamestate/internal/model"
	"vinzhub-gamestate/internal/stateerr"
)

// GrantInventory adds qty units under key. A positive-quantity durable row with
// the same key absorbs the grant; otherwise a new pending row is appended.
// It returns the id of the row that holds the grant.
func (h *Handle) GrantInventory(key model.SlotKey, qty int64) (model.EntityID, error) {
	const op = "inventory.grant"
	st, err := h.State()
	if err != nil {
		return model.EntityID{}, err
	}
	if qty <= 0 {
		return model.EntityID{}, stateerr.Validation(h.userID, op, "quantity must be positive, got %d", qty)
	}
	if key.Kind != model.SlotItem && key.Kind != model.SlotEquipment {
		return model.EntityID{}, stateerr.Validation(h.userID, op, "cannot grant %s into inventory", key)
	}
	if key.Ref <= 0 {
		return model.EntityID{}, stateerr.Validation(h.userID, op, "invalid reference %s", key)
	}

	for i := range st.Inventory {
		row := &st.Inventory[i]
		if !row.ID.IsDurable() || row.Key() != key || row.Quantity <= 0 {
			continue
		}
		if err := h.c.ledger.RecordUpdate(h.userID, ledger.Inventory, row.ID, key); err != nil {
			return model.EntityID{}, err
		}
		row.Quantity += qty
		h.mutated(st)
		return row.ID, nil
	}

	row := model.InventoryRow{Quantity: qty, CreatedAt: h.c.now()}
	if key.Kind == model.SlotEquipment {
		row.EquipmentID = key.Ref
	} else {
		row.ItemID = key.Ref
	}
	return h.AppendInventory(row)
}

// AppendInventory adds a new row. An unset id is replaced with a fresh pending id;
// durable ids are refused. The row's order is assigned after every existing row.
func (h *Handle) AppendInventory(row model.InventoryRow) (model.EntityID, error) {
	const op = "inventory.append"
	st, err := h.State()
	if err != nil {
		return model.EntityID{}, err
	}
	if row.ID.IsDurable() {
		return model.EntityID{}, stateerr.Validation(h.userID, op, "append with durable id %s", row.ID)
	}
	if err := row.Validate(); err != nil {
		return model.EntityID{}, stateerr.Validation(h.userID, op, "%v", err)
	}
	if row.ID.IsZero() {
		row.ID = model.Pending(h.c.nextToken())
	}
	if st.FindInventory(row.ID) >= 0 {
		return model.EntityID{}, stateerr.Validation(h.userID, op, "duplicate id %s", row.ID)
	}
	row.Order = st.NextInventoryOrder()
	row.PendingToken = 0
	if row.CreatedAt.IsZero() {
		row.CreatedAt = h.c.now()
	}

	if err := h.c.ledger.RecordCreate(h.userID, ledger.Inventory, row.ID, row.Key()); err != nil {
		return model.EntityID{}, err
	}
	before := len(st.Inventory)
	st.Inventory = append(st.Inventory, row)
	if len(st.Inventory) != before+1 {
		return model.EntityID{}, stateerr.Corruption(h.userID, op, "length %d after append to %d rows", len(st.Inventory), before)
	}
	if err := checkCollections(h.userID, op, st); err != nil {
		return model.EntityID{}, err
	}
	h.mutated(st)
	return row.ID, nil
}

// RemoveInventory deletes a row. Removing a row that only exists in memory
// cancels its pending create.
func (h *Handle) RemoveInventory(id model.EntityID) error {
	const op = "inventory.remove"
	st, err := h.State()
	if err != nil {
		return err
	}
	id = h.Resolve(ledger.Inventory, id)
	idx := st.FindInventory(id)
	if idx < 0 {
		return stateerr.Validation(h.userID, op, "no inventory row %s", id)
	}
	row := st.Inventory[idx]

	if _, err := h.c.ledger.RecordDelete(h.userID, ledger.Inventory, id, row.Key()); err != nil {
		return err
	}
	before := len(st.Inventory)
	st.Inventory = append(st.Inventory[:idx:idx], st.Inventory[idx+1:]...)
	if len(st.Inventory) != before-1 || st.FindInventory(id) >= 0 {
		return stateerr.Corruption(h.userID, op, "row %s still present after removal", id)
	}
	h.mutated(st)
	return nil
}

// UpdateInventoryQuantity changes a row's quantity by delta and returns the new
// quantity. A row that reaches zero is removed; going below zero is refused.
func (h *Handle) UpdateInventoryQuantity(id model.EntityID, delta int64) (int64, error) {
	const op = "inventory.quantity"
	st, err := h.State()
	if err != nil {
		return 0, err
	}
	if delta == 0 {
		return 0, stateerr.Validation(h.userID, op, "zero quantity delta")
	}
	id = h.Resolve(ledger.Inventory, id)
	idx := st.FindInventory(id)
	if idx < 0 {
		return 0, stateerr.Validation(h.userID, op, "no inventory row %s", id)
	}
	row := &st.Inventory[idx]
	next := row.Quantity + delta
	switch {
	case next < 0:
		return 0, stateerr.Validation(h.userID, op, "insufficient quantity: have %d, delta %d", row.Quantity, delta)
	case next == 0:
		return 0, h.RemoveInventory(id)
	}
	if err := h.c.ledger.RecordUpdate(h.userID, ledger.Inventory, id, row.Key()); err != nil {
		return 0, err
	}
	row.Quantity = next
	h.mutated(st)
	return next, nil
}

// ConsumeInventory takes qty units of key across rows, oldest row first.
func (h *Handle) ConsumeInventory(key model.SlotKey, qty int64) error {
	const op = "inventory.consume"
	st, err := h.State()
	if err != nil {
		return err
	}
	if qty <= 0 {
		return stateerr.Validation(h.userID, op, "quantity must be positive, got %d", qty)
	}
	var have int64
	var ids []model.EntityID
	for _, r := range st.Inventory {
		if r.Key() == key {
			have += r.Quantity
			ids = append(ids, r.ID)
		}
	}
	if have < qty {
		return stateerr.Validation(h.userID, op, "insufficient %s: have %d, want %d", key, have, qty)
	}
	for _, id := range ids {
		if qty == 0 {
			break
		}
		idx := st.FindInventory(id)
		take := st.Inventory[idx].Quantity
		if take > qty {
			take = qty
		}
		if _, err := h.UpdateInventoryQuantity(id, -take); err != nil {
			return err
		}
		qty -= take
	}
	return nil
}

// AppendCreature adds a new creature under a pending id and returns that id.
func (h *Handle) AppendCreature(cr model.Creature) (model.EntityID, error) {
	const op = "creature.append"
	st, err := h.State()
	if err != nil {
		return model.EntityID{}, err
	}
	if cr.ID.IsDurable() {
		return model.EntityID{}, stateerr.Validation(h.userID, op, "append with durable id %s", cr.ID)
	}
	if err := cr.Validate(); err != nil {
		return model.EntityID{}, stateerr.Validation(h.userID, op, "%v", err)
	}
	if cr.ID.IsZero() {
		cr.ID = model.Pending(h.c.nextToken())
	}
	if st.FindCreature(cr.ID) >= 0 {
		return model.EntityID{}, stateerr.Validation(h.userID, op, "duplicate id %s", cr.ID)
	}
	cr.Order = st.NextCreatureOrder()
	cr.PendingToken = 0
	if cr.CreatedAt.IsZero() {
		cr.CreatedAt = h.c.now()
	}

	if err := h.c.ledger.RecordCreate(h.userID, ledger.Creatures, cr.ID, cr.Key()); err != nil {
		return model.EntityID{}, err
	}
	before := len(st.Creatures)
	st.Creatures = append(st.Creatures, cr)
	if len(st.Creatures) != before+1 {
		return model.EntityID{}, stateerr.Corruption(h.userID, op, "length %d after append to %d creatures", len(st.Creatures), before)
	}
	if err := checkCollections(h.userID, op, st); err != nil {
		return model.EntityID{}, err
	}
	h.mutated(st)
	return cr.ID, nil
}

// RemoveCreature deletes a creature. An active creature is unset first.
func (h *Handle) RemoveCreature(id model.EntityID) error {
	const op = "creature.remove"
	st, err := h.State()
	if err != nil {
		return err
	}
	id = h.Resolve(ledger.Creatures, id)
	idx := st.FindCreature(id)
	if idx < 0 {
		return stateerr.Validation(h.userID, op, "no creature %s", id)
	}
	cr := st.Creatures[idx]

	if _, err := h.c.ledger.RecordDelete(h.userID, ledger.Creatures, id, cr.Key()); err != nil {
		return err
	}
	before := len(st.Creatures)
	st.Creatures = append(st.Creatures[:idx:idx], st.Creatures[idx+1:]...)
	if len(st.Creatures) != before-1 || st.FindCreature(id) >= 0 {
		return stateerr.Corruption(h.userID, op, "creature %s still present after removal", id)
	}
	if st.Combat.ActiveCreature == id {
		st.Combat.ActiveCreature = model.EntityID{}
		h.c.ledger.MarkFields(h.userID)
	}
	h.mutated(st)
	return nil
}

// UpdateCreature applies fn to a copy of the creature and stores the result.
// The id and sort order cannot be changed.
func (h *Handle) UpdateCreature(id model.EntityID, fn func(cr *model.Creature) error) error {
	const op = "creature.update"
	st, err := h.State()
	if err != nil {
		return err
	}
	id = h.Resolve(ledger.Creatures, id)
	idx := st.FindCreature(id)
	if idx < 0 {
		return stateerr.Validation(h.userID, op, "no creature %s", id)
	}
	cp := st.Creatures[idx]
	if err := fn(&cp); err != nil {
		return stateerr.Validation(h.userID, op, "%v", err)
	}
	if cp.ID != id || cp.Order != st.Creatures[idx].Order {
		return stateerr.Validation(h.userID, op, "id and order of %s are immutable", id)
	}
	if err := cp.Validate(); err != nil {
		return stateerr.Validation(h.userID, op, "%v", err)
	}
	if err := h.c.ledger.RecordUpdate(h.userID, ledger.Creatures, id, cp.Key()); err != nil {
		return err
	}
	st.Creatures[idx] = cp
	h.mutated(st)
	return nil
}
