package password

import (
	"fmt"

	"github.com/caarlos0/env/v11"
	"golang.org/x/crypto/bcrypt"
)

const (
	// MaxBytes is the largest input bcrypt hashes without truncation.
	MaxBytes = 72

	// MinLengthFloor is the lowest MinLength the policy accepts.
	MinLengthFloor = 6
)

// Policy controls password validation.
type Policy struct {
	// MinLength is counted in runes.
	MinLength int `env:"USERAUTH_PASSWORD_MIN_LEN" envDefault:"6"`
	// MaxLength is counted in bytes and never exceeds MaxBytes.
	MaxLength int `env:"USERAUTH_PASSWORD_MAX_LEN" envDefault:"72"`
	// If true, enable an extra, minimal weak-pattern rejection.
	RejectVeryWeak bool `env:"USERAUTH_PASSWORD_REJECT_VERY_WEAK" envDefault:"false"`
}

// Config is the single configuration surface for this package.
type Config struct {
	// Cost is the bcrypt work factor (log2 rounds).
	Cost   int `env:"USERAUTH_BCRYPT_COST" envDefault:"10"`
	Policy Policy
}

// DefaultConfig returns the baseline used when no env overrides are present.
func DefaultConfig() Config {
	return Config{
		Cost: bcrypt.DefaultCost,
		Policy: Policy{
			MinLength:      MinLengthFloor,
			MaxLength:      MaxBytes,
			RejectVeryWeak: false,
		},
	}
}

// FromEnv loads config from environment variables.
//
// Env surface:
//   - USERAUTH_BCRYPT_COST
//   - USERAUTH_PASSWORD_MIN_LEN
//   - USERAUTH_PASSWORD_MAX_LEN
//   - USERAUTH_PASSWORD_REJECT_VERY_WEAK (true/false)
func FromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("password config: %w", err)
	}
	if err := cfg.check(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) check() error {
	if c.Cost < bcrypt.MinCost || c.Cost > bcrypt.MaxCost {
		return fmt.Errorf("USERAUTH_BCRYPT_COST: out of range [%d..%d]", bcrypt.MinCost, bcrypt.MaxCost)
	}
	if c.Policy.MinLength < MinLengthFloor || c.Policy.MinLength > MaxBytes {
		return fmt.Errorf("USERAUTH_PASSWORD_MIN_LEN: out of range [%d..%d]", MinLengthFloor, MaxBytes)
	}
	if c.Policy.MaxLength < 1 || c.Policy.MaxLength > MaxBytes {
		return fmt.Errorf("USERAUTH_PASSWORD_MAX_LEN: out of range [1..%d]", MaxBytes)
	}
	if c.Policy.MinLength > c.Policy.MaxLength {
		return fmt.Errorf(
			"password policy invalid: min_len(%d) > max_len(%d)",
			c.Policy.MinLength,
			c.Policy.MaxLength,
		)
	}
	return nil
}

// MinLength returns the minimum password length in characters.
func (c Config) MinLength() int { return max(c.Policy.MinLength, MinLengthFloor) }
