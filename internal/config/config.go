package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"authservice/internal/crypto"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	RevocationStoreSQL   = "sql"
	RevocationStoreRedis = "redis"
)

// Config holds the application's configuration.
type Config struct {
	Server struct {
		Port            string        `yaml:"port"`
		CORSOrigins     []string      `yaml:"cors_origins"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`
	Database struct {
		Driver string `yaml:"driver"`
		URL    string `yaml:"url"`
	} `yaml:"database"`
	Auth struct {
		JWTSecret      string              `yaml:"jwt_secret"`
		AccessTokenTTL time.Duration       `yaml:"access_token_ttl"`
		Argon2         crypto.Argon2Params `yaml:"argon2"`
	} `yaml:"auth"`
	Revocation struct {
		Store         string `yaml:"store"`
		RedisURL      string `yaml:"redis_url"`
		KeyPrefix     string `yaml:"key_prefix"`
		PurgeSchedule string `yaml:"purge_schedule"`
	} `yaml:"revocation"`
	Log struct {
		Level       string `yaml:"level"`
		Development bool   `yaml:"development"`
	} `yaml:"log"`
}

// LoadConfig reads configuration from the specified YAML file, expands
// ${VAR} references, applies environment overrides and defaults.
func LoadConfig(configPath string) (*Config, error) {
	raw, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}

	config := &Config{}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(raw))), config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	if err := config.applyEnv(); err != nil {
		return nil, err
	}
	config.setDefaults()

	return config, nil
}

// applyEnv lets deployments inject secrets without touching the file. The
// variable names match the ones the service has always read.
func (c *Config) applyEnv() error {
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("JWT_ACCESS_EXP"); v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid JWT_ACCESS_EXP %q: %w", v, err)
		}
		c.Auth.AccessTokenTTL = ttl
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		c.Revocation.RedisURL = v
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Database.Driver == "" {
		c.Database.Driver = DriverPostgres
	}
	if c.Auth.AccessTokenTTL == 0 {
		c.Auth.AccessTokenTTL = time.Hour
	}
	if c.Revocation.Store == "" {
		c.Revocation.Store = RevocationStoreSQL
	}
	if c.Revocation.KeyPrefix == "" {
		c.Revocation.KeyPrefix = "auth:revoked"
	}
	if c.Revocation.PurgeSchedule == "" {
		c.Revocation.PurgeSchedule = "0 0 * * *"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate reports configuration the service cannot start with.
func (c *Config) Validate() error {
	var errs []error

	if _, err := crypto.SigningKey(c.Auth.JWTSecret); err != nil {
		errs = append(errs, err)
	}
	if c.Auth.AccessTokenTTL <= 0 {
		errs = append(errs, errors.New("auth.access_token_ttl must be positive"))
	}

	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		errs = append(errs, fmt.Errorf("unsupported database driver %q", c.Database.Driver))
	}
	if c.Database.URL == "" {
		errs = append(errs, errors.New("database.url is required"))
	}

	switch c.Revocation.Store {
	case RevocationStoreSQL:
	case RevocationStoreRedis:
		if c.Revocation.RedisURL == "" {
			errs = append(errs, errors.New("revocation.redis_url is required for the redis store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported revocation store %q", c.Revocation.Store))
	}

	return errors.Join(errs...)
}
