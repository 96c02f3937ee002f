package authapi

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config controls request limits and client address resolution.
type Config struct {
	MaxBodyBytes int64 `env:"GATEKEEPER_AUTH_MAX_BODY_BYTES" envDefault:"1048576"`
	// TrustProxy reads X-Forwarded-For / X-Real-IP for audit records.
	TrustProxy bool `env:"GATEKEEPER_AUTH_TRUST_PROXY" envDefault:"false"`
}

// DefaultConfig returns a 1 MiB body limit and no proxy trust.
func DefaultConfig() Config {
	return Config{MaxBodyBytes: 1 << 20}
}

// LoadConfigFromEnv loads the auth API config.
func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("authapi: parse env: %w", err)
	}
	if cfg.MaxBodyBytes <= 0 {
		return Config{}, fmt.Errorf("authapi: GATEKEEPER_AUTH_MAX_BODY_BYTES must be positive")
	}
	return cfg, nil
}
