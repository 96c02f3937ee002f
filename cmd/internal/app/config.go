package app

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Store backends selectable through GATEKEEPER_STORE.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
	StoreMongo    = "mongo"
	StoreBolt     = "bolt"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string `env:"GATEKEEPER_HTTP_ADDR" envDefault:"0.0.0.0:8080"`
	LogLevel  string `env:"GATEKEEPER_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"GATEKEEPER_LOG_FORMAT" envDefault:"json"`

	ReadHeaderTimeout time.Duration `env:"GATEKEEPER_HTTP_READ_HEADER_TIMEOUT" envDefault:"5s"`
	ReadTimeout       time.Duration `env:"GATEKEEPER_HTTP_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout      time.Duration `env:"GATEKEEPER_HTTP_WRITE_TIMEOUT" envDefault:"15s"`
	IdleTimeout       time.Duration `env:"GATEKEEPER_HTTP_IDLE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout   time.Duration `env:"GATEKEEPER_HTTP_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	MaxHeaderBytes    int           `env:"GATEKEEPER_HTTP_MAX_HEADER_BYTES" envDefault:"1048576"`

	// Store is one of memory, postgres, sqlite, mongo, bolt.
	// Empty selects postgres when DatabaseURL is set and memory otherwise.
	Store string `env:"GATEKEEPER_STORE"`

	DatabaseURL string `env:"GATEKEEPER_DATABASE_URL"`
	DBMaxConns  int32  `env:"GATEKEEPER_DB_MAX_CONNS" envDefault:"10"`
	DBMinConns  int32  `env:"GATEKEEPER_DB_MIN_CONNS" envDefault:"0"`
	DBSchema    string `env:"GATEKEEPER_DB_SCHEMA" envDefault:"gatekeeper"`

	SQLitePath    string `env:"GATEKEEPER_SQLITE_PATH" envDefault:"gatekeeper.db"`
	MongoURI      string `env:"GATEKEEPER_MONGO_URI"`
	MongoDatabase string `env:"GATEKEEPER_MONGO_DATABASE" envDefault:"gatekeeper"`
	BoltPath      string `env:"GATEKEEPER_BOLT_PATH" envDefault:"gatekeeper.bolt"`

	// If true, /readyz returns 503 while the in-memory store is in use.
	ReadinessRequireDB bool `env:"GATEKEEPER_READINESS_REQUIRE_DB"`

	ServiceName  string `env:"GATEKEEPER_SERVICE_NAME" envDefault:"gatekeeper"`
	OTELEndpoint string `env:"GATEKEEPER_OTEL_ENDPOINT"`
	OTELEnabled  bool   `env:"GATEKEEPER_OTEL_ENABLED" envDefault:"true"`

	// Browser clients. An empty list disables CORS handling entirely.
	CORSAllowedOrigins   []string `env:"GATEKEEPER_CORS_ALLOWED_ORIGINS" envSeparator:","`
	CORSAllowCredentials bool     `env:"GATEKEEPER_CORS_ALLOW_CREDENTIALS"`
	CORSMaxAgeSeconds    int      `env:"GATEKEEPER_CORS_MAX_AGE_SECONDS" envDefault:"600"`
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("app: parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot start with.
func (c Config) Validate() error {
	switch c.StoreBackend() {
	case StoreMemory, StoreSQLite, StoreBolt:
	case StorePostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return fmt.Errorf("app: GATEKEEPER_DATABASE_URL is required for the postgres store")
		}
	case StoreMongo:
		if strings.TrimSpace(c.MongoURI) == "" {
			return fmt.Errorf("app: GATEKEEPER_MONGO_URI is required for the mongo store")
		}
	default:
		return fmt.Errorf("app: unknown GATEKEEPER_STORE %q", c.Store)
	}

	switch strings.ToLower(strings.TrimSpace(c.LogFormat)) {
	case "", "json", "pretty":
	default:
		return fmt.Errorf("app: unknown GATEKEEPER_LOG_FORMAT %q", c.LogFormat)
	}

	if c.DBMinConns < 0 || c.DBMaxConns < 0 {
		return fmt.Errorf("app: negative pool size")
	}
	if c.DBMaxConns > 0 && c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("app: GATEKEEPER_DB_MIN_CONNS(%d) > GATEKEEPER_DB_MAX_CONNS(%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.CORSMaxAgeSeconds < 0 {
		return fmt.Errorf("app: negative GATEKEEPER_CORS_MAX_AGE_SECONDS")
	}
	if c.CORSAllowCredentials && slices.ContainsFunc(c.CORSAllowedOrigins, func(o string) bool {
		return strings.TrimSpace(o) == "*"
	}) {
		return fmt.Errorf("app: GATEKEEPER_CORS_ALLOW_CREDENTIALS cannot be combined with origin \"*\"")
	}
	return nil
}

// StoreBackend resolves the effective store name.
func (c Config) StoreBackend() string {
	s := strings.ToLower(strings.TrimSpace(c.Store))
	if s != "" {
		return s
	}
	if strings.TrimSpace(c.DatabaseURL) != "" {
		return StorePostgres
	}
	return StoreMemory
}
