package session

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the token secrets and lifetimes.
//
// Secrets are injected once at startup and never change for the process lifetime.
type Config struct {
	AccessSecret  string `env:"ACCESS_TOKEN_SECRET,required,notEmpty"`
	RefreshSecret string `env:"REFRESH_TOKEN_SECRET,required,notEmpty"`

	// Lifetimes take a unit ("15m", "7d", "2 days"). A bare integer is a
	// number of seconds, so "900" is 15 minutes; write "900ms" for milliseconds.
	AccessTTL  Duration `env:"ACCESS_TOKEN_EXPIRES" envDefault:"15m"`
	RefreshTTL Duration `env:"REFRESH_TOKEN_EXPIRES" envDefault:"7d"`

	// StrictRotation makes a successful refresh consume the presented token.
	StrictRotation bool `env:"GATEKEEPER_STRICT_ROTATION" envDefault:"false"`

	// MinSecretBytes rejects short secrets when > 0.
	MinSecretBytes int `env:"GATEKEEPER_MIN_SECRET_BYTES" envDefault:"0"`
}

// DefaultConfig returns the default lifetimes with no secrets set.
func DefaultConfig() Config {
	return Config{
		AccessTTL:  Duration(15 * time.Minute),
		RefreshTTL: Duration(7 * 24 * time.Hour),
	}
}

// LoadConfigFromEnv reads the session configuration.
//
// Required:
//   - ACCESS_TOKEN_SECRET
//   - REFRESH_TOKEN_SECRET
//
// Optional:
//   - ACCESS_TOKEN_EXPIRES (default 15m)
//   - REFRESH_TOKEN_EXPIRES (default 7d)
//   - GATEKEEPER_STRICT_ROTATION
//   - GATEKEEPER_MIN_SECRET_BYTES
//
// Every failure wraps ErrConfig.
func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the invariants NewService relies on.
func (c Config) Validate() error {
	switch {
	case c.AccessSecret == "" || c.RefreshSecret == "":
		return fmt.Errorf("%w: access and refresh secrets are required", ErrConfig)
	case c.AccessSecret == c.RefreshSecret:
		return fmt.Errorf("%w: access and refresh secrets must differ", ErrConfig)
	case c.AccessTTL <= 0:
		return fmt.Errorf("%w: ACCESS_TOKEN_EXPIRES must be positive", ErrConfig)
	case c.RefreshTTL <= 0:
		return fmt.Errorf("%w: REFRESH_TOKEN_EXPIRES must be positive", ErrConfig)
	case c.MinSecretBytes < 0:
		return fmt.Errorf("%w: GATEKEEPER_MIN_SECRET_BYTES must not be negative", ErrConfig)
	case c.MinSecretBytes > 0 && (len(c.AccessSecret) < c.MinSecretBytes || len(c.RefreshSecret) < c.MinSecretBytes):
		return fmt.Errorf("%w: secrets shorter than %d bytes", ErrConfig, c.MinSecretBytes)
	}
	return nil
}
