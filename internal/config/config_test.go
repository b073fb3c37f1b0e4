package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.Type != "sqlite" || cfg.Cache.Type != "memory" {
		t.Errorf("store=%q cache=%q", cfg.Store.Type, cfg.Cache.Type)
	}
	if cfg.Session.InactivityThreshold != 15*time.Minute {
		t.Errorf("inactivity threshold = %v", cfg.Session.InactivityThreshold)
	}
	if got := cfg.Server.Address(); got != "0.0.0.0:8080" {
		t.Errorf("Address() = %q", got)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("STORE_TYPE", "postgres")
	t.Setenv("STORE_DB_HOST", "db")
	t.Setenv("SESSION_SWEEP_PARALLELISM", "3")
	t.Setenv("CACHE_TYPE", "redis")
	t.Setenv("REDIS_PORT", "6380")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if want := "postgres://postgres:@db:5432/vinzhub?sslmode=disable"; cfg.Store.DSN() != want {
		t.Errorf("DSN() = %q, want %q", cfg.Store.DSN(), want)
	}
	if cfg.Session.SweepParallelism != 3 {
		t.Errorf("parallelism = %d", cfg.Session.SweepParallelism)
	}
	if cfg.Cache.RedisAddress() != "localhost:6380" {
		t.Errorf("RedisAddress() = %q", cfg.Cache.RedisAddress())
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown store", map[string]string{"STORE_TYPE": "cassandra"}},
		{"unknown cache", map[string]string{"CACHE_TYPE": "memcached"}},
		{"zero parallelism", map[string]string{"SESSION_SWEEP_PARALLELISM": "0"}},
		{"production without admin key", map[string]string{"APP_ENV": "production"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Error("Load() accepted an invalid config")
			}
		})
	}
}
