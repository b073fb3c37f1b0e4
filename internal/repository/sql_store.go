package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"vinzhub-gamestate/internal/logger"
	"vinzhub-gamestate/internal/model"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	_ "github.com/lib/pq"              // PostgreSQL driver
	_ "modernc.org/sqlite"             // Pure Go SQLite driver - no CGO required
)

// SQLConfig holds connection settings for SQLStore.
type SQLConfig struct {
	// Dialect is one of sqlite, postgres or mysql. Default: sqlite
	Dialect string
	// DSN is the driver data source. For sqlite it is the database file path.
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// SQLStore implements Store over database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	logger  *logger.Logger

	insertInventory string
	insertCreature  string
	saveUser        string
}

// NewSQLStore opens the database, verifies the connection and creates the schema.
func NewSQLStore(cfg SQLConfig) (*SQLStore, error) {
	d, err := lookupDialect(cfg.Dialect)
	if err != nil {
		return nil, err
	}

	dsn := cfg.DSN
	if d.name == "sqlite" {
		if dsn == "" {
			dsn = "./data/gamestate.db"
		}
		if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		dsn += "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", d.name, err)
	}

	if d.name == "sqlite" {
		db.SetMaxOpenConns(1) // SQLite only supports 1 writer
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	} else {
		if cfg.MaxOpenConns == 0 {
			cfg.MaxOpenConns = 25
		}
		if cfg.MaxIdleConns == 0 {
			cfg.MaxIdleConns = 10
		}
		if cfg.ConnMaxLifetime == 0 {
			cfg.ConnMaxLifetime = 5 * time.Minute
		}
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", d.name, err)
	}

	s, err := NewSQLStoreWithDB(ctx, db, d.name)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.logger.Infof("Initialized %s store", d.name)
	return s, nil
}

// NewSQLStoreWithDB wraps an open database and creates the schema.
func NewSQLStoreWithDB(ctx context.Context, db *sql.DB, dialectName string) (*SQLStore, error) {
	d, err := lookupDialect(dialectName)
	if err != nil {
		return nil, err
	}
	for _, stmt := range d.schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to create tables: %w", err)
		}
	}

	return &SQLStore{
		db:      db,
		dialect: d,
		logger:  logger.NewLogger("SQLStore"),
		insertInventory: d.upsert("inventory",
			[]string{"owner_id", "pending_token", "item_id", "equipment_id", "quantity", "sort_order", "created_at"},
			[]string{"owner_id", "pending_token"},
			[]string{"quantity", "sort_order"}),
		insertCreature: d.upsert("creatures",
			[]string{"owner_id", "pending_token", "species_id", "nickname", "level", "xp", "sort_order", "created_at"},
			[]string{"owner_id", "pending_token"},
			[]string{"nickname", "level", "xp", "sort_order"}),
		saveUser: d.upsert("users",
			[]string{"user_id", "username", "gold", "gems", "level", "xp", "energy",
				"hp", "max_hp", "attack", "defense", "speed", "crit_rate", "active_creature_id", "updated_at"},
			[]string{"user_id"},
			[]string{"username", "gold", "gems", "level", "xp", "energy",
				"hp", "max_hp", "attack", "defense", "speed", "crit_rate", "active_creature_id", "updated_at"}),
	}, nil
}

func micros(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMicro()
}

func fromMicros(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.UnixMicro(v).UTC()
}

// LoadUser implements UserRepository.
func (s *SQLStore) LoadUser(ctx context.Context, userID int64) (*model.UserState, error) {
	query := s.dialect.rebind(`
		SELECT username, gold, gems, level, xp, energy,
			hp, max_hp, attack, defense, speed, crit_rate, active_creature_id, updated_at
		FROM users WHERE user_id = ?`)

	st := &model.UserState{UserID: userID}
	var active sql.NullInt64
	var updatedAt int64
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&st.Username, &st.Gold, &st.Gems, &st.Level, &st.XP, &st.Energy,
		&st.Combat.HP, &st.Combat.MaxHP, &st.Combat.Attack, &st.Combat.Defense,
		&st.Combat.Speed, &st.Combat.CritRate, &active, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if active.Valid {
		st.Combat.ActiveCreature = model.Durable(active.Int64)
	}
	st.UpdatedAt = fromMicros(updatedAt)
	return st, nil
}

// SaveUser implements UserRepository. A pending active creature is stored as unset.
func (s *SQLStore) SaveUser(ctx context.Context, st *model.UserState) error {
	var active sql.NullInt64
	if st.Combat.ActiveCreature.IsDurable() {
		active = sql.NullInt64{Int64: st.Combat.ActiveCreature.Value, Valid: true}
	}
	c := st.Combat
	_, err := s.db.ExecContext(ctx, s.saveUser,
		st.UserID, st.Username, st.Gold, st.Gems, st.Level, st.XP, st.Energy,
		c.HP, c.MaxHP, c.Attack, c.Defense, c.Speed, c.CritRate, active, micros(st.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

// inTx runs fn inside a transaction.
func (s *SQLStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// execBatch prepares query once and executes it for every argument list.
func (s *SQLStore) execBatch(ctx context.Context, query string, args [][]interface{}) error {
	if len(args) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer stmt.Close()

		for _, a := range args {
			if _, err := stmt.ExecContext(ctx, a...); err != nil {
				return err
			}
		}
		return nil
	})
}

// InsertInventory implements InventoryRepository.
func (s *SQLStore) InsertInventory(ctx context.Context, userID int64, rows []model.InventoryRow) error {
	args := make([][]interface{}, 0, len(rows))
	for _, r := range rows {
		if !r.ID.IsPending() {
			return fmt.Errorf("insert of non-pending inventory id %s", r.ID)
		}
		args = append(args, []interface{}{
			userID, r.ID.Value, r.ItemID, r.EquipmentID, r.Quantity, r.Order, micros(r.CreatedAt),
		})
	}
	if err := s.execBatch(ctx, s.insertInventory, args); err != nil {
		return fmt.Errorf("failed to insert inventory: %w", err)
	}
	return nil
}

// DeleteInventory implements InventoryRepository.
func (s *SQLStore) DeleteInventory(ctx context.Context, userID int64, ids []int64) error {
	args := make([][]interface{}, len(ids))
	for i, id := range ids {
		args[i] = []interface{}{userID, id}
	}
	query := s.dialect.rebind(`DELETE FROM inventory WHERE owner_id = ? AND id = ?`)
	if err := s.execBatch(ctx, query, args); err != nil {
		return fmt.Errorf("failed to delete inventory: %w", err)
	}
	return nil
}

// UpdateInventory implements InventoryRepository.
func (s *SQLStore) UpdateInventory(ctx context.Context, userID int64, rows []model.InventoryRow) error {
	args := make([][]interface{}, len(rows))
	for i, r := range rows {
		args[i] = []interface{}{r.Quantity, r.Order, userID, r.ID.Value}
	}
	query := s.dialect.rebind(`UPDATE inventory SET quantity = ?, sort_order = ? WHERE owner_id = ? AND id = ?`)
	if err := s.execBatch(ctx, query, args); err != nil {
		return fmt.Errorf("failed to update inventory: %w", err)
	}
	return nil
}

// FetchInventory implements InventoryRepository.
func (s *SQLStore) FetchInventory(ctx context.Context, userID int64) ([]model.InventoryRow, error) {
	query := s.dialect.rebind(`
		SELECT id, pending_token, item_id, equipment_id, quantity, sort_order, created_at
		FROM inventory WHERE owner_id = ? ORDER BY sort_order, id`)

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch inventory: %w", err)
	}
	defer rows.Close()

	out := []model.InventoryRow{}
	for rows.Next() {
		var r model.InventoryRow
		var id, createdAt int64
		var token sql.NullInt64
		if err := rows.Scan(&id, &token, &r.ItemID, &r.EquipmentID, &r.Quantity, &r.Order, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan inventory row: %w", err)
		}
		r.ID = model.Durable(id)
		r.PendingToken = token.Int64
		r.CreatedAt = fromMicros(createdAt)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to fetch inventory: %w", err)
	}
	return out, nil
}

// InsertCreatures implements CreatureRepository.
func (s *SQLStore) InsertCreatures(ctx context.Context, userID int64, creatures []model.Creature) error {
	args := make([][]interface{}, 0, len(creatures))
	for _, c := range creatures {
		if !c.ID.IsPending() {
			return fmt.Errorf("insert of non-pending creature id %s", c.ID)
		}
		args = append(args, []interface{}{
			userID, c.ID.Value, c.SpeciesID, c.Nickname, c.Level, c.XP, c.Order, micros(c.CreatedAt),
		})
	}
	if err := s.execBatch(ctx, s.insertCreature, args); err != nil {
		return fmt.Errorf("failed to insert creatures: %w", err)
	}
	return nil
}

// DeleteCreatures implements CreatureRepository.
func (s *SQLStore) DeleteCreatures(ctx context.Context, userID int64, ids []int64) error {
	args := make([][]interface{}, len(ids))
	for i, id := range ids {
		args[i] = []interface{}{userID, id}
	}
	query := s.dialect.rebind(`DELETE FROM creatures WHERE owner_id = ? AND id = ?`)
	if err := s.execBatch(ctx, query, args); err != nil {
		return fmt.Errorf("failed to delete creatures: %w", err)
	}
	return nil
}

// UpdateCreatures implements CreatureRepository.
func (s *SQLStore) UpdateCreatures(ctx context.Context, userID int64, creatures []model.Creature) error {
	args := make([][]interface{}, len(creatures))
	for i, c := range creatures {
		args[i] = []interface{}{c.Nickname, c.Level, c.XP, c.Order, userID, c.ID.Value}
	}
	query := s.dialect.rebind(`
		UPDATE creatures SET nickname = ?, level = ?, xp = ?, sort_order = ?
		WHERE owner_id = ? AND id = ?`)
	if err := s.execBatch(ctx, query, args); err != nil {
		return fmt.Errorf("failed to update creatures: %w", err)
	}
	return nil
}

// FetchCreatures implements CreatureRepository.
func (s *SQLStore) FetchCreatures(ctx context.Context, userID int64) ([]model.Creature, error) {
	query := s.dialect.rebind(`
		SELECT id, pending_token, species_id, nickname, level, xp, sort_order, created_at
		FROM creatures WHERE owner_id = ? ORDER BY sort_order, id`)

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch creatures: %w", err)
	}
	defer rows.Close()

	out := []model.Creature{}
	for rows.Next() {
		var c model.Creature
		var id, createdAt int64
		var token sql.NullInt64
		if err := rows.Scan(&id, &token, &c.SpeciesID, &c.Nickname, &c.Level, &c.XP, &c.Order, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan creature: %w", err)
		}
		c.ID = model.Durable(id)
		c.PendingToken = token.Int64
		c.CreatedAt = fromMicros(createdAt)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to fetch creatures: %w", err)
	}
	return out, nil
}

// GetStats returns row counts per table.
func (s *SQLStore) GetStats(ctx context.Context) (map[string]interface{}, error) {
	stats := map[string]interface{}{"dialect": s.dialect.name}

	for _, table := range []string{"users", "inventory", "creatures"} {
		var count int64
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", table, err)
		}
		stats["total_"+table] = count
	}

	if s.dialect.name == "sqlite" {
		// Database file size (approximate from page count)
		var pageCount, pageSize int64
		s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount)
		s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
		stats["db_size_bytes"] = pageCount * pageSize
	}

	dbStats := s.db.Stats()
	stats["open_connections"] = dbStats.OpenConnections
	stats["in_use"] = dbStats.InUse

	return stats, nil
}

// Ping checks the database connection.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Ensure SQLStore implements Store
var _ Store = (*SQLStore)(nil)
