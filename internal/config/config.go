// Package config loads the rotated server configuration from a YAML file and
// environment variables.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Registry backends.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Config is the root server configuration. Sources by decreasing priority:
//  1. explicit path from the --config flag;
//  2. the CONFIG_PATH environment variable;
//  3. local.yaml in the working directory;
//  4. environment variables only.
//
// Environment variables always overlay values read from a file.
type Config struct {
	Env      string         `yaml:"env" env:"ENV" env-default:"local"`
	HTTP     HTTPConfig     `yaml:"http"`
	JWT      JWTConfig      `yaml:"jwt"`
	Registry RegistryConfig `yaml:"registry"`
	Rotation RotationConfig `yaml:"rotation"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Cookie   CookieConfig   `yaml:"cookie"`
	Timeouts TimeoutConfig  `yaml:"timeouts"`
}

type HTTPConfig struct {
	Host string `yaml:"host" env:"HTTP_HOST" env-default:"0.0.0.0"`
	Port string `yaml:"port" env:"HTTP_PORT" env-default:"8080"`
}

// Addr returns host:port.
func (h HTTPConfig) Addr() string {
	return net.JoinHostPort(h.Host, h.Port)
}

// JWTConfig holds the token codec parameters.
type JWTConfig struct {
	Secret     string        `yaml:"secret" env:"JWT_SECRET" env-required:"true"`
	AccessTTL  time.Duration `yaml:"access_ttl" env:"ACCESS_TOKEN_TTL" env-default:"15m"`
	RefreshTTL time.Duration `yaml:"refresh_ttl" env:"REFRESH_TOKEN_TTL" env-default:"168h"`
	Issuer     string        `yaml:"issuer" env:"JWT_ISSUER" env-default:"gorotate"`
	Audience   string        `yaml:"audience" env:"JWT_AUDIENCE"`
	Leeway     time.Duration `yaml:"leeway" env:"JWT_LEEWAY" env-default:"30s"`
}

// RegistryConfig selects and tunes the session registry backend.
type RegistryConfig struct {
	Backend          string        `yaml:"backend" env:"REGISTRY_BACKEND" env-default:"memory"`
	RedisURL         string        `yaml:"redis_url" env:"REDIS_URL"`
	RedisPrefix      string        `yaml:"redis_prefix" env:"REDIS_PREFIX" env-default:"rt"`
	DatabaseURL      string        `yaml:"db_url" env:"DATABASE_URL"`
	OperationTimeout time.Duration `yaml:"operation_timeout" env:"REGISTRY_OPERATION_TIMEOUT" env-default:"2s"`
	SweepInterval    time.Duration `yaml:"sweep_interval" env:"REGISTRY_SWEEP_INTERVAL" env-default:"1h"`
}

type RotationConfig struct {
	Throttle    bool          `yaml:"throttle" env:"REFRESH_THROTTLE" env-default:"false"`
	MaxAttempts int           `yaml:"max_attempts" env:"REFRESH_MAX_ATTEMPTS" env-default:"20"`
	Window      time.Duration `yaml:"window" env:"REFRESH_WINDOW" env-default:"1m"`
}

// UpstreamConfig authenticates the identity provider that triggers initial
// issuance.
type UpstreamConfig struct {
	Key string `yaml:"key" env:"UPSTREAM_KEY" env-required:"true"`
}

type CookieConfig struct {
	Name   string `yaml:"name" env:"REFRESH_COOKIE_NAME" env-default:"refresh_token"`
	Path   string `yaml:"path" env:"REFRESH_COOKIE_PATH" env-default:"/auth"`
	Secure bool   `yaml:"secure" env:"REFRESH_COOKIE_SECURE" env-default:"true"`
}

type TimeoutConfig struct {
	Request  time.Duration `yaml:"request" env:"REQUEST_TIMEOUT" env-default:"5s"`
	Shutdown time.Duration `yaml:"shutdown" env:"SHUTDOWN_TIMEOUT" env-default:"10s"`
}

// MustLoad is Load that panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}

	return cfg
}

// Load reads the configuration by the priority documented on [Config] and
// validates backend-specific settings.
func Load(path string) (*Config, error) {
	var cfg Config

	readFile := func(p string) error {
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("config file %q stat failed: %w", p, err)
		}
		if err := cleanenv.ReadConfig(p, &cfg); err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return fmt.Errorf("failed to overlay env: %w", err)
		}
		return nil
	}

	switch {
	case path != "":
		if err := readFile(path); err != nil {
			return nil, err
		}
	case os.Getenv("CONFIG_PATH") != "":
		if err := readFile(os.Getenv("CONFIG_PATH")); err != nil {
			return nil, err
		}
	default:
		if _, err := os.Stat("local.yaml"); err == nil {
			if err := readFile("local.yaml"); err != nil {
				return nil, err
			}
		} else if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("config not found: provide --config, CONFIG_PATH, local.yaml or env vars: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Registry.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Registry.RedisURL == "" {
			return errors.New("config: registry.redis_url is required for the redis backend")
		}
	case BackendPostgres:
		if c.Registry.DatabaseURL == "" {
			return errors.New("config: registry.db_url is required for the postgres backend")
		}
	default:
		return fmt.Errorf("config: unknown registry backend %q", c.Registry.Backend)
	}
	return nil
}
