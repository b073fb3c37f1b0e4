package model

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// SlotKind discriminates what a slot key refers to.
type SlotKind uint8

const (
	SlotItem SlotKind = iota + 1
	SlotEquipment
	SlotCreature
)

// String returns the slot kind name.
func (k SlotKind) String() string {
	switch k {
	case SlotItem:
		return "item"
	case SlotEquipment:
		return "equipment"
	case SlotCreature:
		return "creature"
	default:
		return "unknown"
	}
}

// SlotKey groups pending operations that net against each other during a flush.
type SlotKey struct {
	Kind SlotKind `json:"kind"`
	Ref  int64    `json:"ref"`
}

// String renders the key as "<kind>:<ref>".
func (k SlotKey) String() string {
	return fmt.Sprintf("%s:%d", k.Kind, k.Ref)
}

// ItemKey returns the slot key of an item-kind row.
func ItemKey(itemID int64) SlotKey { return SlotKey{Kind: SlotItem, Ref: itemID} }

// EquipmentKey returns the slot key of an equipment-kind row.
func EquipmentKey(equipmentID int64) SlotKey { return SlotKey{Kind: SlotEquipment, Ref: equipmentID} }

// InventoryRow is one stack of items or equipment owned by a user.
// Exactly one of ItemID and EquipmentID is non-zero.
type InventoryRow struct {
	ID          EntityID  `json:"id"`
	ItemID      int64     `json:"item_id,omitempty"`
	EquipmentID int64     `json:"equipment_id,omitempty"`
	Quantity    int64     `json:"quantity"`
	Order       int       `json:"order"`
	CreatedAt   time.Time `json:"created_at"`

	// PendingToken is the placeholder token the row was created under. It is
	// only populated on rows read back from the store.
	PendingToken int64 `json:"-"`
}

// Key returns the slot key of the row.
func (r InventoryRow) Key() SlotKey {
	if r.EquipmentID != 0 {
		return EquipmentKey(r.EquipmentID)
	}
	return ItemKey(r.ItemID)
}

// Validate checks the reference XOR and the quantity.
func (r InventoryRow) Validate() error {
	if (r.ItemID == 0) == (r.EquipmentID == 0) {
		return errors.New("exactly one of item_id and equipment_id must be set")
	}
	if r.ItemID < 0 || r.EquipmentID < 0 {
		return errors.New("item and equipment references must be positive")
	}
	if r.Quantity <= 0 {
		return fmt.Errorf("quantity must be positive, got %d", r.Quantity)
	}
	return nil
}

// SortInventory orders rows by their explicit sort key, then by identifier.
func SortInventory(rows []InventoryRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Order != rows[j].Order {
			return rows[i].Order < rows[j].Order
		}
		return rows[i].ID.Value < rows[j].ID.Value
	})
}
