package repository

import (
	"fmt"
	"strconv"
	"strings"
)

// dialect captures the SQL differences between the supported drivers.
type dialect struct {
	name       string
	driver     string
	numbered   bool // $1, $2 placeholders instead of ?
	onConflict bool // ON CONFLICT (...) DO UPDATE instead of ON DUPLICATE KEY UPDATE
	schema     []string
}

var dialects = map[string]dialect{
	"sqlite": {
		name:       "sqlite",
		driver:     "sqlite",
		onConflict: true,
		schema: []string{
			`CREATE TABLE IF NOT EXISTS users (
				user_id INTEGER PRIMARY KEY,
				username TEXT NOT NULL,
				gold INTEGER NOT NULL DEFAULT 0,
				gems INTEGER NOT NULL DEFAULT 0,
				level INTEGER NOT NULL DEFAULT 1,
				xp INTEGER NOT NULL DEFAULT 0,
				energy INTEGER NOT NULL DEFAULT 0,
				hp INTEGER NOT NULL DEFAULT 0,
				max_hp INTEGER NOT NULL DEFAULT 0,
				attack INTEGER NOT NULL DEFAULT 0,
				defense INTEGER NOT NULL DEFAULT 0,
				speed INTEGER NOT NULL DEFAULT 0,
				crit_rate REAL NOT NULL DEFAULT 0,
				active_creature_id INTEGER,
				updated_at INTEGER NOT NULL DEFAULT 0
			)`,
			`CREATE TABLE IF NOT EXISTS inventory (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				owner_id INTEGER NOT NULL,
				pending_token INTEGER,
				item_id INTEGER NOT NULL DEFAULT 0,
				equipment_id INTEGER NOT NULL DEFAULT 0,
				quantity INTEGER NOT NULL,
				sort_order INTEGER NOT NULL DEFAULT 0,
				created_at INTEGER NOT NULL DEFAULT 0,
				UNIQUE (owner_id, pending_token)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_inventory_owner ON inventory(owner_id)`,
			`CREATE TABLE IF NOT EXISTS creatures (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				owner_id INTEGER NOT NULL,
				pending_token INTEGER,
				species_id INTEGER NOT NULL,
				nickname TEXT NOT NULL DEFAULT '',
				level INTEGER NOT NULL DEFAULT 1,
				xp INTEGER NOT NULL DEFAULT 0,
				sort_order INTEGER NOT NULL DEFAULT 0,
				created_at INTEGER NOT NULL DEFAULT 0,
				UNIQUE (owner_id, pending_token)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_creatures_owner ON creatures(owner_id)`,
		},
	},
	"postgres": {
		name:       "postgres",
		driver:     "postgres",
		numbered:   true,
		onConflict: true,
		schema: []string{
			`CREATE TABLE IF NOT EXISTS users (
				user_id BIGINT PRIMARY KEY,
				username TEXT NOT NULL,
				gold BIGINT NOT NULL DEFAULT 0,
				gems BIGINT NOT NULL DEFAULT 0,
				level INTEGER NOT NULL DEFAULT 1,
				xp BIGINT NOT NULL DEFAULT 0,
				energy BIGINT NOT NULL DEFAULT 0,
				hp BIGINT NOT NULL DEFAULT 0,
				max_hp BIGINT NOT NULL DEFAULT 0,
				attack BIGINT NOT NULL DEFAULT 0,
				defense BIGINT NOT NULL DEFAULT 0,
				speed BIGINT NOT NULL DEFAULT 0,
				crit_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
				active_creature_id BIGINT,
				updated_at BIGINT NOT NULL DEFAULT 0
			)`,
			`CREATE TABLE IF NOT EXISTS inventory (
				id BIGSERIAL PRIMARY KEY,
				owner_id BIGINT NOT NULL,
				pending_token BIGINT,
				item_id BIGINT NOT NULL DEFAULT 0,
				equipment_id BIGINT NOT NULL DEFAULT 0,
				quantity BIGINT NOT NULL,
				sort_order INTEGER NOT NULL DEFAULT 0,
				created_at BIGINT NOT NULL DEFAULT 0,
				UNIQUE (owner_id, pending_token)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_inventory_owner ON inventory(owner_id)`,
			`CREATE TABLE IF NOT EXISTS creatures (
				id BIGSERIAL PRIMARY KEY,
				owner_id BIGINT NOT NULL,
				pending_token BIGINT,
				species_id BIGINT NOT NULL,
				nickname TEXT NOT NULL DEFAULT '',
				level INTEGER NOT NULL DEFAULT 1,
				xp BIGINT NOT NULL DEFAULT 0,
				sort_order INTEGER NOT NULL DEFAULT 0,
				created_at BIGINT NOT NULL DEFAULT 0,
				UNIQUE (owner_id, pending_token)
			)`,
			`CREATE INDEX IF NOT EXISTS idx_creatures_owner ON creatures(owner_id)`,
		},
	},
	"mysql": {
		name:   "mysql",
		driver: "mysql",
		schema: []string{
			`CREATE TABLE IF NOT EXISTS users (
				user_id BIGINT PRIMARY KEY,
				username VARCHAR(191) NOT NULL,
				gold BIGINT NOT NULL DEFAULT 0,
				gems BIGINT NOT NULL DEFAULT 0,
				level INT NOT NULL DEFAULT 1,
				xp BIGINT NOT NULL DEFAULT 0,
				energy BIGINT NOT NULL DEFAULT 0,
				hp BIGINT NOT NULL DEFAULT 0,
				max_hp BIGINT NOT NULL DEFAULT 0,
				attack BIGINT NOT NULL DEFAULT 0,
				defense BIGINT NOT NULL DEFAULT 0,
				speed BIGINT NOT NULL DEFAULT 0,
				crit_rate DOUBLE NOT NULL DEFAULT 0,
				active_creature_id BIGINT NULL,
				updated_at BIGINT NOT NULL DEFAULT 0
			)`,
			`CREATE TABLE IF NOT EXISTS inventory (
				id BIGINT AUTO_INCREMENT PRIMARY KEY,
				owner_id BIGINT NOT NULL,
				pending_token BIGINT NULL,
				item_id BIGINT NOT NULL DEFAULT 0,
				equipment_id BIGINT NOT NULL DEFAULT 0,
				quantity BIGINT NOT NULL,
				sort_order INT NOT NULL DEFAULT 0,
				created_at BIGINT NOT NULL DEFAULT 0,
				UNIQUE KEY uq_inventory_token (owner_id, pending_token),
				KEY idx_inventory_owner (owner_id)
			)`,
			`CREATE TABLE IF NOT EXISTS creatures (
				id BIGINT AUTO_INCREMENT PRIMARY KEY,
				owner_id BIGINT NOT NULL,
				pending_token BIGINT NULL,
				species_id BIGINT NOT NULL,
				nickname VARCHAR(191) NOT NULL DEFAULT '',
				level INT NOT NULL DEFAULT 1,
				xp BIGINT NOT NULL DEFAULT 0,
				sort_order INT NOT NULL DEFAULT 0,
				created_at BIGINT NOT NULL DEFAULT 0,
				UNIQUE KEY uq_creatures_token (owner_id, pending_token),
				KEY idx_creatures_owner (owner_id)
			)`,
		},
	},
}

func lookupDialect(name string) (dialect, error) {
	if name == "" {
		name = "sqlite"
	}
	d, ok := dialects[name]
	if !ok {
		return dialect{}, fmt.Errorf("unsupported sql dialect %q", name)
	}
	return d, nil
}

// rebind rewrites ? placeholders for drivers that number them.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// upsert builds an insert that overwrites the update columns when the conflict
// columns already exist.
func (d dialect) upsert(table string, cols, conflict, update []string) string {
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	q := "INSERT INTO " + table + " (" + strings.Join(cols, ", ") + ") VALUES (" + marks + ")"

	sets := make([]string, len(update))
	for i, c := range update {
		if d.onConflict {
			sets[i] = c + " = excluded." + c
		} else {
			sets[i] = c + " = VALUES(" + c + ")"
		}
	}
	if d.onConflict {
		q += " ON CONFLICT (" + strings.Join(conflict, ", ") + ") DO UPDATE SET " + strings.Join(sets, ", ")
	} else {
		q += " ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", ")
	}
	return d.rebind(q)
}
