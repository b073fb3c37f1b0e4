package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

func init() {
	// Load .env file if it exists (silent fail if not)
	_ = godotenv.Load()
}

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Server   ServerConfig
	App      AppConfig
	Cache    CacheConfig
	Store    StoreConfig
	Session  SessionConfig
	Activity ActivityConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `envconfig:"SERVER_HOST" default:"0.0.0.0"`
	Port            int           `envconfig:"SERVER_PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
}

// AppConfig holds application-level settings.
type AppConfig struct {
	Name        string `envconfig:"APP_NAME" default:"vinzhub-gamestate"`
	Environment string `envconfig:"APP_ENV" default:"development"`
	Debug       bool   `envconfig:"APP_DEBUG" default:"false"`
	Version     string `envconfig:"APP_VERSION" default:"1.0.0"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	AdminKey    string `envconfig:"ADMIN_KEY" default:""` // Required for /admin routes when set
}

// CacheConfig holds durable snapshot cache settings.
type CacheConfig struct {
	Type string `envconfig:"CACHE_TYPE" default:"memory"` // memory or redis
	// TTL applies to snapshots without pending work; 0 keeps them.
	TTL time.Duration `envconfig:"CACHE_TTL" default:"24h"`

	RedisHost      string `envconfig:"REDIS_HOST" default:"localhost"`
	RedisPort      int    `envconfig:"REDIS_PORT" default:"6379"`
	RedisPassword  string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB        int    `envconfig:"REDIS_DB" default:"0"`
	RedisKeyPrefix string `envconfig:"REDIS_KEY_PREFIX" default:"vinzhub:gamestate"`
}

// StoreConfig holds backing store settings.
type StoreConfig struct {
	Type string `envconfig:"STORE_TYPE" default:"sqlite"` // sqlite, postgres, mysql or memory
	Path string `envconfig:"STORE_PATH" default:"./data/gamestate.db"`

	Host     string `envconfig:"STORE_DB_HOST" default:"localhost"`
	Port     int    `envconfig:"STORE_DB_PORT" default:"5432"`
	Name     string `envconfig:"STORE_DB_NAME" default:"vinzhub"`
	User     string `envconfig:"STORE_DB_USER" default:"postgres"`
	Password string `envconfig:"STORE_DB_PASS" default:""`
	SSLMode  string `envconfig:"STORE_DB_SSLMODE" default:"disable"`

	MaxOpenConns int `envconfig:"STORE_MAX_OPEN_CONNS" default:"25"`
	MaxIdleConns int `envconfig:"STORE_MAX_IDLE_CONNS" default:"10"`
}

// SessionConfig holds session lifecycle and sweep settings.
type SessionConfig struct {
	InactivityThreshold time.Duration `envconfig:"SESSION_INACTIVITY_THRESHOLD" default:"15m"`
	SweepInterval       time.Duration `envconfig:"SESSION_SWEEP_INTERVAL" default:"1m"`
	RetryInterval       time.Duration `envconfig:"SESSION_RETRY_INTERVAL" default:"30s"`
	SweepTimeout        time.Duration `envconfig:"SESSION_SWEEP_TIMEOUT" default:"2m"`
	SweepParallelism    int           `envconfig:"SESSION_SWEEP_PARALLELISM" default:"8"`
	StaleBatch          int           `envconfig:"SESSION_STALE_BATCH" default:"100"`
}

// ActivityConfig holds activity-log settings. An empty MongoURI keeps logs in memory.
type ActivityConfig struct {
	MongoURI        string        `envconfig:"MONGODB_URI" default:""`
	MongoDatabase   string        `envconfig:"MONGODB_DATABASE" default:"vinzhub"`
	MongoCollection string        `envconfig:"MONGODB_COLLECTION" default:"activity_logs"`
	BatchSize       int           `envconfig:"ACTIVITY_BATCH_SIZE" default:"500"`
	FlushInterval   time.Duration `envconfig:"ACTIVITY_FLUSH_INTERVAL" default:"5s"`
}

// Address returns the server address in host:port format.
func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RedisAddress returns the Redis address in host:port format.
func (c *CacheConfig) RedisAddress() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// DSN returns the data source name for the configured store type.
func (s *StoreConfig) DSN() string {
	switch s.Type {
	case "postgres":
		return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
			s.User, s.Password, s.Host, s.Port, s.Name, s.SSLMode)
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s",
			s.User, s.Password, s.Host, s.Port, s.Name)
	default:
		return s.Path
	}
}

// IsDevelopment returns true if running in development mode.
func (a *AppConfig) IsDevelopment() bool {
	return a.Environment == "development"
}

// IsProduction returns true if running in production mode.
func (a *AppConfig) IsProduction() bool {
	return a.Environment == "production"
}

// Validate checks settings envconfig cannot express.
func (c *Config) Validate() error {
	switch c.Store.Type {
	case "sqlite", "postgres", "mysql", "memory":
	default:
		return fmt.Errorf("unsupported STORE_TYPE %q", c.Store.Type)
	}
	switch c.Cache.Type {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported CACHE_TYPE %q", c.Cache.Type)
	}
	if c.Session.InactivityThreshold <= 0 {
		return fmt.Errorf("SESSION_INACTIVITY_THRESHOLD must be positive")
	}
	if c.Session.SweepParallelism <= 0 {
		return fmt.Errorf("SESSION_SWEEP_PARALLELISM must be positive")
	}
	if c.App.IsProduction() && c.App.AdminKey == "" {
		return fmt.Errorf("ADMIN_KEY is required in production")
	}
	return nil
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration or panics on error.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}
