package model

import (
	"errors"
	"sort"
	"time"
)

// Creature is a creature owned by exactly one user.
type Creature struct {
	ID        EntityID  `json:"id"`
	SpeciesID int64     `json:"species_id"`
	Nickname  string    `json:"nickname,omitempty"`
	Level     int       `json:"level"`
	XP        int64     `json:"xp"`
	Order     int       `json:"order"`
	CreatedAt time.Time `json:"created_at"`

	// PendingToken is only populated on creatures read back from the store.
	PendingToken int64 `json:"-"`
}

// Key returns the slot key used to match the creature back after a create-flush.
func (c Creature) Key() SlotKey {
	return SlotKey{Kind: SlotCreature, Ref: c.SpeciesID}
}

// Validate checks the creature fields that the store requires.
func (c Creature) Validate() error {
	if c.SpeciesID <= 0 {
		return errors.New("species_id must be positive")
	}
	if c.Level < 1 {
		return errors.New("level must be at least 1")
	}
	if c.XP < 0 {
		return errors.New("xp must not be negative")
	}
	return nil
}

// SortCreatures orders creatures by their sort key, then by identifier.
func SortCreatures(cs []Creature) {
	sort.SliceStable(cs, func(i, j int) bool {
		if cs[i].Order != cs[j].Order {
			return cs[i].Order < cs[j].Order
		}
		return cs[i].ID.Value < cs[j].ID.Value
	})
}
