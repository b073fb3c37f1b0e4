package repository

import (
	"context"
	"errors"

	"vinzhub-gamestate/internal/model"
)

// ErrUserNotFound is returned by LoadUser when the store has no such user.
var ErrUserNotFound = errors.New("user not found")

// UserRepository defines access to the scalar and combat fields of a user.
type UserRepository interface {
	// LoadUser reads the user's fields. Collections are left empty.
	LoadUser(ctx context.Context, userID int64) (*model.UserState, error)

	// SaveUser upserts the user's scalar and combat fields.
	SaveUser(ctx context.Context, st *model.UserState) error
}

// InventoryRepository defines inventory row access methods.
type InventoryRepository interface {
	// InsertInventory creates rows whose ids are pending. The pending token is an
	// idempotency key: re-inserting a token overwrites quantity and order.
	InsertInventory(ctx context.Context, userID int64, rows []model.InventoryRow) error

	// DeleteInventory removes rows by durable id. Missing rows are ignored.
	DeleteInventory(ctx context.Context, userID int64, ids []int64) error

	// UpdateInventory sets quantity and order of rows by durable id.
	UpdateInventory(ctx context.Context, userID int64, rows []model.InventoryRow) error

	// FetchInventory returns every row of the user with durable ids and pending tokens.
	FetchInventory(ctx context.Context, userID int64) ([]model.InventoryRow, error)
}

// CreatureRepository defines creature access methods.
type CreatureRepository interface {
	InsertCreatures(ctx context.Context, userID int64, creatures []model.Creature) error
	DeleteCreatures(ctx context.Context, userID int64, ids []int64) error
	UpdateCreatures(ctx context.Context, userID int64, creatures []model.Creature) error
	FetchCreatures(ctx context.Context, userID int64) ([]model.Creature, error)
}

// Store is the backing store consumed by the flush orchestrator and login.
type Store interface {
	UserRepository
	InventoryRepository
	CreatureRepository

	// GetStats returns statistics about the store.
	GetStats(ctx context.Context) (map[string]interface{}, error)

	// Ping checks connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
