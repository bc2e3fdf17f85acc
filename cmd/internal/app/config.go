package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// ErrConfig is returned for invalid runtime configuration.
var ErrConfig = errors.New("invalid config")

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string `env:"USERAUTH_HTTP_ADDR" envDefault:"0.0.0.0:5000"`
	LogLevel  string `env:"USERAUTH_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"USERAUTH_LOG_FORMAT" envDefault:"json"`

	ReadHeaderTimeout time.Duration `env:"USERAUTH_HTTP_READ_HEADER_TIMEOUT" envDefault:"5s"`
	ReadTimeout       time.Duration `env:"USERAUTH_HTTP_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout      time.Duration `env:"USERAUTH_HTTP_WRITE_TIMEOUT" envDefault:"15s"`
	IdleTimeout       time.Duration `env:"USERAUTH_HTTP_IDLE_TIMEOUT" envDefault:"60s"`
	MaxHeaderBytes    int           `env:"USERAUTH_HTTP_MAX_HEADER_BYTES" envDefault:"1048576"`

	// MongoURI selects the MongoDB store when set.
	MongoURI        string `env:"USERAUTH_MONGO_URI"`
	MongoDB         string `env:"USERAUTH_MONGO_DB" envDefault:"userauth"`
	MongoCollection string `env:"USERAUTH_MONGO_COLLECTION" envDefault:"users"`

	// DatabaseURL selects the Postgres store when set and MongoURI is empty.
	DatabaseURL string `env:"USERAUTH_DATABASE_URL"`
	DBSchema    string `env:"USERAUTH_DB_SCHEMA" envDefault:"userauth"`
	DBMaxConns  int32  `env:"USERAUTH_DB_MAX_CONNS" envDefault:"10"`
	DBMinConns  int32  `env:"USERAUTH_DB_MIN_CONNS" envDefault:"0"`

	// If true, /readyz returns 503 while running on the in-memory store.
	ReadinessRequireDB bool `env:"USERAUTH_READINESS_REQUIRE_DB" envDefault:"false"`
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	cfg.MongoURI = strings.TrimSpace(cfg.MongoURI)
	cfg.DatabaseURL = strings.TrimSpace(cfg.DatabaseURL)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	if strings.TrimSpace(c.HTTPAddr) == "" {
		return fmt.Errorf("%w: USERAUTH_HTTP_ADDR is empty", ErrConfig)
	}
	switch strings.ToLower(strings.TrimSpace(c.LogFormat)) {
	case "", logFormatJSON, logFormatPretty:
	default:
		return fmt.Errorf("%w: USERAUTH_LOG_FORMAT must be %q or %q", ErrConfig, logFormatJSON, logFormatPretty)
	}
	if c.DBMinConns < 0 || c.DBMaxConns < 0 {
		return fmt.Errorf("%w: db connection limits must not be negative", ErrConfig)
	}
	if c.DBMaxConns > 0 && c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("%w: USERAUTH_DB_MIN_CONNS exceeds USERAUTH_DB_MAX_CONNS", ErrConfig)
	}
	return nil
}

// Backend reports which user store the config selects.
func (c Config) Backend() string {
	switch {
	case c.MongoURI != "":
		return backendMongo
	case c.DatabaseURL != "":
		return backendPostgres
	default:
		return backendMemory
	}
}

// Overrides are command-line values that take precedence over the environment.
// Empty fields are ignored.
type Overrides struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string
}

// Apply copies the non-empty overrides onto cfg.
func (o Overrides) Apply(cfg *Config) {
	if v := strings.TrimSpace(o.HTTPAddr); v != "" {
		cfg.HTTPAddr = v
	}
	if v := strings.TrimSpace(o.LogLevel); v != "" {
		cfg.LogLevel = v
	}
	if v := strings.TrimSpace(o.LogFormat); v != "" {
		cfg.LogFormat = v
	}
}
