// Package testutil holds helpers shared by package tests.
package testutil

import (
	"sync"
	"testing"
	"time"

	"vinzhub-gamestate/internal/model"
)

// WaitFor polls cond until it returns true or timeout elapses.
func WaitFor(t testing.TB, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out after %v waiting for %s", timeout, msg)
}

// Clock is a manually advanced clock.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock fixed at a stable date.
func NewClock() *Clock {
	return &Clock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// User returns a stored-looking user with one item stack, one equipment row and
// one creature. Ids are left unset for the store to assign.
func User(userID int64) *model.UserState {
	return &model.UserState{
		UserID:   userID,
		Username: "player",
		Gold:     100,
		Level:    1,
		Energy:   10,
		Combat:   model.CombatStats{HP: 40, MaxHP: 40, Attack: 5, Defense: 3, Speed: 2},
		Inventory: []model.InventoryRow{
			{ItemID: 1, Quantity: 3, Order: 0},
			{EquipmentID: 4, Quantity: 1, Order: 1},
		},
		Creatures: []model.Creature{
			{SpeciesID: 9, Level: 2, Order: 0},
		},
	}
}
