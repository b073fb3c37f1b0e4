package model

import "time"

// CombatStats is the combat sub-record of a user.
type CombatStats struct {
	HP             int64    `json:"hp"`
	MaxHP          int64    `json:"max_hp"`
	Attack         int64    `json:"attack"`
	Defense        int64    `json:"defense"`
	Speed          int64    `json:"speed"`
	CritRate       float64  `json:"crit_rate"`
	ActiveCreature EntityID `json:"active_creature"`
}

// UserState is the full resident game state of one user.
type UserState struct {
	UserID    int64          `json:"user_id"`
	Username  string         `json:"username"`
	Gold      int64          `json:"gold"`
	Gems      int64          `json:"gems"`
	Level     int            `json:"level"`
	XP        int64          `json:"xp"`
	Energy    int64          `json:"energy"`
	Combat    CombatStats    `json:"combat"`
	Inventory []InventoryRow `json:"inventory"`
	Creatures []Creature     `json:"creatures"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Clone returns a deep copy of the state.
func (u *UserState) Clone() *UserState {
	if u == nil {
		return nil
	}
	cp := *u
	cp.Inventory = append([]InventoryRow(nil), u.Inventory...)
	cp.Creatures = append([]Creature(nil), u.Creatures...)
	return &cp
}

// FindInventory returns the index of the row with the given id, or -1.
func (u *UserState) FindInventory(id EntityID) int {
	for i := range u.Inventory {
		if u.Inventory[i].ID == id {
			return i
		}
	}
	return -1
}

// FindCreature returns the index of the creature with the given id, or -1.
func (u *UserState) FindCreature(id EntityID) int {
	for i := range u.Creatures {
		if u.Creatures[i].ID == id {
			return i
		}
	}
	return -1
}

// NextInventoryOrder returns a sort key greater than every existing one.
func (u *UserState) NextInventoryOrder() int {
	next := 0
	for _, r := range u.Inventory {
		if r.Order >= next {
			next = r.Order + 1
		}
	}
	return next
}

// NextCreatureOrder returns a sort key greater than every existing one.
func (u *UserState) NextCreatureOrder() int {
	next := 0
	for _, c := range u.Creatures {
		if c.Order >= next {
			next = c.Order + 1
		}
	}
	return next
}
