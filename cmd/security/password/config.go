package password

import (
	"fmt"
	"runtime"

	"github.com/caarlos0/env/v11"
)

// Algorithm names the scheme used for new digests.
type Algorithm string

const (
	AlgorithmBcrypt   Algorithm = "bcrypt"
	AlgorithmArgon2id Algorithm = "argon2id"
)

// BcryptCost is the fixed bcrypt work factor for new digests.
const BcryptCost = 10

// Argon2idParams controls Argon2id hashing cost.
// MemoryKiB is in KiB as required by argon2.IDKey.
type Argon2idParams struct {
	MemoryKiB   uint32 `env:"MEMORY_KIB"`
	Iterations  uint32 `env:"ITERATIONS"`
	Parallelism uint8  `env:"PARALLELISM"`
	SaltLength  uint32 `env:"SALT_LEN"`
	KeyLength   uint32 `env:"KEY_LEN"`
}

// Policy controls password validation and anti-DoS boundaries.
type Policy struct {
	// MinLength counts runes.
	MinLength int `env:"MIN_LEN"`
	// MaxLength counts bytes: bcrypt rejects input longer than 72 bytes.
	MaxLength int `env:"MAX_LEN"`
	// If true, enable an extra, minimal weak-pattern rejection.
	RejectVeryWeak bool `env:"REJECT_VERY_WEAK"`
}

// Config is the single configuration surface for this package.
type Config struct {
	Algorithm Algorithm `env:"GATEKEEPER_PASSWORD_ALGORITHM"`

	// BcryptCost is not read from the environment; tests lower it.
	BcryptCost int

	Params Argon2idParams `envPrefix:"GATEKEEPER_ARGON2_"`
	Policy Policy         `envPrefix:"GATEKEEPER_PASSWORD_"`
}

// DefaultConfig returns bcrypt at cost 10 with a 6..72 length policy.
// Argon2id parameters stay populated so the algorithm can be switched by env alone.
func DefaultConfig() Config {
	// CPU-aware parallelism clamped to [1..4] keeps container resource usage predictable.
	threads := runtime.NumCPU()
	if threads <= 0 {
		threads = 1
	}
	if threads > 4 {
		threads = 4
	}

	return Config{
		Algorithm:  AlgorithmBcrypt,
		BcryptCost: BcryptCost,
		Params: Argon2idParams{
			MemoryKiB:   64 * 1024,      // 64 MiB
			Iterations:  3,              // reasonable default for interactive logins
			Parallelism: uint8(threads), // #nosec G115 -- clamped to [1..4] above; safe conversion.
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: Policy{
			MinLength:      6,
			MaxLength:      72,
			RejectVeryWeak: false,
		},
	}
}

// FromEnv loads config from environment variables on top of DefaultConfig.
//
// Env surface:
//   - GATEKEEPER_PASSWORD_ALGORITHM (bcrypt | argon2id)
//   - GATEKEEPER_PASSWORD_MIN_LEN, GATEKEEPER_PASSWORD_MAX_LEN
//   - GATEKEEPER_PASSWORD_REJECT_VERY_WEAK
//   - GATEKEEPER_ARGON2_MEMORY_KIB, _ITERATIONS, _PARALLELISM, _SALT_LEN, _KEY_LEN
func FromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("password: parse env: %w", err)
	}
	if err := cfg.check(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) check() error {
	switch c.Algorithm {
	case AlgorithmBcrypt, AlgorithmArgon2id:
	default:
		return fmt.Errorf("password: unknown algorithm %q", c.Algorithm)
	}

	if err := inRange("GATEKEEPER_PASSWORD_MIN_LEN", c.Policy.MinLength, 1, 1024); err != nil {
		return err
	}
	if err := inRange("GATEKEEPER_PASSWORD_MAX_LEN", c.Policy.MaxLength, 1, 4096); err != nil {
		return err
	}
	if c.Policy.MinLength > c.Policy.MaxLength {
		return fmt.Errorf(
			"password policy invalid: min_len(%d) > max_len(%d)",
			c.Policy.MinLength,
			c.Policy.MaxLength,
		)
	}

	p := c.Params
	if err := inRange("GATEKEEPER_ARGON2_MEMORY_KIB", int(p.MemoryKiB), 8*1024, 1024*1024); err != nil { // 8 MiB .. 1 GiB
		return err
	}
	if err := inRange("GATEKEEPER_ARGON2_ITERATIONS", int(p.Iterations), 1, 20); err != nil {
		return err
	}
	if err := inRange("GATEKEEPER_ARGON2_PARALLELISM", int(p.Parallelism), 1, 64); err != nil {
		return err
	}
	if err := inRange("GATEKEEPER_ARGON2_SALT_LEN", int(p.SaltLength), 8, 64); err != nil {
		return err
	}
	return inRange("GATEKEEPER_ARGON2_KEY_LEN", int(p.KeyLength), 16, 64)
}

func inRange(name string, v, minVal, maxVal int) error {
	if v < minVal || v > maxVal {
		return fmt.Errorf("%s: out of range [%d..%d]", name, minVal, maxVal)
	}
	return nil
}
