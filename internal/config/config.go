package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the server configuration. Values are layered: defaults, then the
// YAML file, then TEAMSYNC_* environment variables, then command-line flags.
type Config struct {
	Addr           string         `yaml:"addr"`
	DBPath         string         `yaml:"db_path"`
	StaticDir      string         `yaml:"static_dir"`
	Log            LogConfig      `yaml:"log"`
	Auth           AuthConfig     `yaml:"auth"`
	Engine         EngineConfig   `yaml:"engine"`
	BootstrapAdmin BootstrapAdmin `yaml:"bootstrap_admin"`
}

// LogConfig configures slog output.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// AuthConfig configures token signing and password hashing.
type AuthConfig struct {
	JWTSecret  string        `yaml:"jwt_secret"`
	Issuer     string        `yaml:"issuer"`
	TokenTTL   time.Duration `yaml:"token_ttl"`
	BcryptCost int           `yaml:"bcrypt_cost"`
}

// EngineConfig tunes the task engine.
type EngineConfig struct {
	LookupTimeout time.Duration `yaml:"lookup_timeout"`
}

// BootstrapAdmin, when Email is set, is ensured to exist at startup.
type BootstrapAdmin struct {
	Name     string `yaml:"name"`
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
}

// MinJWTSecretLen is the shortest signing secret Validate accepts.
const MinJWTSecretLen = 32

// Default returns the built-in configuration. It carries no signing secret;
// one must come from the file or TEAMSYNC_JWT_SECRET.
func Default() Config {
	return Config{
		Addr:      ":8080",
		DBPath:    "data/teamsync.db",
		StaticDir: "web/dist",
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Auth: AuthConfig{
			Issuer:     "teamsync",
			TokenTTL:   24 * time.Hour,
			BcryptCost: 12,
		},
		Engine: EngineConfig{
			LookupTimeout: 3 * time.Second,
		},
	}
}

// Load reads path over the defaults. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// ApplyEnvOverrides replaces values from TEAMSYNC_* environment variables.
func (c *Config) ApplyEnvOverrides() error {
	c.Addr = EnvOrDefault("TEAMSYNC_ADDR", c.Addr)
	c.DBPath = EnvOrDefault("TEAMSYNC_DB_PATH", c.DBPath)
	c.StaticDir = EnvOrDefault("TEAMSYNC_STATIC_DIR", c.StaticDir)
	c.Log.Level = EnvOrDefault("TEAMSYNC_LOG_LEVEL", c.Log.Level)
	c.Log.Format = EnvOrDefault("TEAMSYNC_LOG_FORMAT", c.Log.Format)
	c.Auth.JWTSecret = EnvOrDefault("TEAMSYNC_JWT_SECRET", c.Auth.JWTSecret)
	c.Auth.Issuer = EnvOrDefault("TEAMSYNC_JWT_ISSUER", c.Auth.Issuer)
	c.BootstrapAdmin.Name = EnvOrDefault("TEAMSYNC_ADMIN_NAME", c.BootstrapAdmin.Name)
	c.BootstrapAdmin.Email = EnvOrDefault("TEAMSYNC_ADMIN_EMAIL", c.BootstrapAdmin.Email)
	c.BootstrapAdmin.Password = EnvOrDefault("TEAMSYNC_ADMIN_PASSWORD", c.BootstrapAdmin.Password)

	var err error
	if c.Auth.TokenTTL, err = envDuration("TEAMSYNC_TOKEN_TTL", c.Auth.TokenTTL); err != nil {
		return err
	}
	if c.Engine.LookupTimeout, err = envDuration("TEAMSYNC_LOOKUP_TIMEOUT", c.Engine.LookupTimeout); err != nil {
		return err
	}
	if raw := os.Getenv("TEAMSYNC_BCRYPT_COST"); raw != "" {
		cost, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("TEAMSYNC_BCRYPT_COST: %w", err)
		}
		c.Auth.BcryptCost = cost
	}
	return nil
}

// Validate rejects configurations the server cannot start with.
func (c Config) Validate() error {
	if c.DBPath == "" {
		return errors.New("db_path must not be empty")
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret must be set (or TEAMSYNC_JWT_SECRET)")
	}
	if len(c.Auth.JWTSecret) < MinJWTSecretLen {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", MinJWTSecretLen)
	}
	if c.Auth.TokenTTL <= 0 {
		return errors.New("auth.token_ttl must be positive")
	}
	if c.Engine.LookupTimeout <= 0 {
		return errors.New("engine.lookup_timeout must be positive")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format %q must be text or json", c.Log.Format)
	}
	if c.BootstrapAdmin.Email != "" && c.BootstrapAdmin.Password == "" {
		return errors.New("bootstrap_admin.password is required when bootstrap_admin.email is set")
	}
	return nil
}

// EnvOrDefault returns the environment variable value or fallback when it is empty.
func EnvOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
