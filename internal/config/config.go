package config // package config loads application configuration from environment variables

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// MinTokenSecretBytes is the shortest HMAC secret Load accepts.
const MinTokenSecretBytes = 32

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable; nested groups live in their own files.
type Config struct {
	Env      string `env:"APP_ENV"   envDefault:"dev"`  // application environment (dev/test/prod)
	Port     string `env:"APP_PORT"  envDefault:"8080"` // HTTP port to listen on
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"` // debug, info, warn or error

	DB        DBConfig        `envPrefix:"DB_"`
	Token     TokenConfig     `envPrefix:"TOKEN_"`
	Session   SessionConfig   `envPrefix:"SESSION_"`
	RateLimit RateLimitConfig `envPrefix:"RATE_LIMIT_"`
	Redis     RedisConfig     `envPrefix:"REDIS_"`
	Audit     AuditConfig     `envPrefix:"AUDIT_"`
}

// DBConfig locates the MySQL database holding the users table.
type DBConfig struct {
	User string `env:"USER" envDefault:"root"`
	Pass string `env:"PASS"` // empty allowed
	Host string `env:"HOST" envDefault:"127.0.0.1"`
	Port string `env:"PORT" envDefault:"3306"`
	Name string `env:"NAME" envDefault:"ddcharacterbot"`
}

// TokenConfig controls token signing.  Secret is required.
type TokenConfig struct {
	Secret string        `env:"SECRET,required,unset"`
	TTL    time.Duration `env:"TTL" envDefault:"24h"`
}

// SessionConfig controls the sliding lifetime of session records.
type SessionConfig struct {
	TTL    time.Duration `env:"TTL"    envDefault:"24h"`
	Prefix string        `env:"PREFIX" envDefault:"session"`
}

// Load reads an optional .env file, then parses the environment into a
// Config and validates it.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return Parse()
}

// Parse builds a Config from the current environment without reading .env.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.RateLimit = cfg.RateLimit.normalized()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values that struct tags cannot express.
func (c Config) Validate() error {
	if len(c.Token.Secret) < MinTokenSecretBytes {
		return fmt.Errorf("TOKEN_SECRET must be at least %d bytes", MinTokenSecretBytes)
	}
	if c.Token.TTL < time.Second {
		return errors.New("TOKEN_TTL must be at least 1s")
	}
	if c.Session.TTL < time.Second {
		return errors.New("SESSION_TTL must be at least 1s")
	}
	return nil
}
