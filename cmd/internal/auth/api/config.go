package authapi

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config controls auth API behavior and security defaults.
type Config struct {
	TrustProxy   bool  `env:"USERAUTH_AUTH_TRUST_PROXY" envDefault:"false"`
	MaxBodyBytes int64 `env:"USERAUTH_AUTH_MAX_BODY_BYTES" envDefault:"1048576"`

	// Failed logins allowed per client IP within LoginIPWindow before 429.
	LoginIPMax    int           `env:"USERAUTH_AUTH_LOGIN_IP_MAX" envDefault:"20"`
	LoginIPWindow time.Duration `env:"USERAUTH_AUTH_LOGIN_IP_WINDOW" envDefault:"5m"`
}

// DefaultConfig returns the values used when no env overrides are present.
func DefaultConfig() Config {
	return Config{
		MaxBodyBytes:  1 << 20,
		LoginIPMax:    20,
		LoginIPWindow: 5 * time.Minute,
	}
}

// LoadConfigFromEnv loads auth config from environment variables with safe defaults.
// Non-positive limits fall back to the defaults.
func LoadConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("auth config: %w", err)
	}
	return cfg.normalized(), nil
}

func (c Config) normalized() Config {
	def := DefaultConfig()
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = def.MaxBodyBytes
	}
	if c.LoginIPMax <= 0 {
		c.LoginIPMax = def.LoginIPMax
	}
	if c.LoginIPWindow <= 0 {
		c.LoginIPWindow = def.LoginIPWindow
	}
	return c
}
