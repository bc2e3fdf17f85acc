package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	// MinSecretBytes is the minimum HMAC-SHA256 secret length.
	MinSecretBytes = 32

	// DefaultTTL is how long an issued token stays valid.
	DefaultTTL = 48 * time.Hour
)

// Config holds signing configuration.
type Config struct {
	// #nosec G101 -- not a credential; it's an environment variable name.
	Secret string        `env:"USERAUTH_JWT_SECRET"`
	// TTL is the token lifetime. The API contract is DefaultTTL (two days);
	// other values are for local testing.
	TTL    time.Duration `env:"USERAUTH_TOKEN_TTL" envDefault:"48h"`
	// Leeway tolerates small clock differences when checking exp/iat.
	Leeway time.Duration `env:"USERAUTH_TOKEN_LEEWAY" envDefault:"0s"`
}

// LoadConfigFromEnv loads token configuration from environment variables.
//
// Required:
//   - USERAUTH_JWT_SECRET (>= 32 bytes)
//
// Optional:
//   - USERAUTH_TOKEN_TTL
//   - USERAUTH_TOKEN_LEEWAY
func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("token config: %w", err)
	}
	cfg.Secret = strings.TrimSpace(cfg.Secret)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate enforces the signing policy.
func (c Config) Validate() error {
	if c.Secret == "" {
		return ErrSecretMissing
	}
	// Measured in bytes: the secret is used as a raw HMAC key.
	if len(c.Secret) < MinSecretBytes {
		return ErrSecretTooShort
	}
	if c.TTL < 0 {
		return errors.New("USERAUTH_TOKEN_TTL: must be positive")
	}
	if c.Leeway < 0 {
		return errors.New("USERAUTH_TOKEN_LEEWAY: must not be negative")
	}
	return nil
}
