// Package config loads server and game settings from defaults, an optional
// YAML file, and ARENA_* environment variables, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "ARENA"

type Config struct {
	Debug bool `mapstructure:"debug"`
	JSON  bool `mapstructure:"json"`

	Server   ServerConfig   `mapstructure:"server"`
	Game     GameConfig     `mapstructure:"game"`
	Redis    RedisConfig    `mapstructure:"redis"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Database DatabaseConfig `mapstructure:"database"`
}

type ServerConfig struct {
	Listen         string        `mapstructure:"listen"`
	Name           string        `mapstructure:"name"`
	WorkerPool     int           `mapstructure:"worker-pool"`
	MaxConnections int           `mapstructure:"max-connections"`
	ReadTimeout    time.Duration `mapstructure:"read-timeout"`
	WriteTimeout   time.Duration `mapstructure:"write-timeout"`
	MaxMessageSize int64         `mapstructure:"max-message-size"`
	// TrustProxy honors X-Forwarded-For and X-Real-IP. Enable it only
	// behind a proxy that overwrites those headers.
	TrustProxy bool `mapstructure:"trust-proxy"`
}

type GameConfig struct {
	Reveal        time.Duration `mapstructure:"reveal"`
	Transition    time.Duration `mapstructure:"transition"`
	AttemptBudget int           `mapstructure:"attempt-budget"`
}

// RedisConfig points at the session and rate-limit store. An empty Addr
// runs without Redis.
type RedisConfig struct {
	Addr string `mapstructure:"addr"`
}

// NATSConfig points at the event bus. An empty URL runs without NATS.
type NATSConfig struct {
	URL string `mapstructure:"url"`
}

// DatabaseConfig points at the PostgreSQL profile store. An empty URL uses
// the built-in roster.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

// New returns a viper instance with defaults registered and environment
// lookup enabled: server.worker-pool reads ARENA_SERVER_WORKER_POOL.
func New() *viper.Viper {
	v := viper.New()

	v.SetDefault("debug", false)
	v.SetDefault("json", false)

	v.SetDefault("server.listen", ":8080")
	v.SetDefault("server.name", "")
	v.SetDefault("server.worker-pool", 256)
	v.SetDefault("server.max-connections", 100000)
	v.SetDefault("server.read-timeout", 10*time.Second)
	v.SetDefault("server.write-timeout", 10*time.Second)
	v.SetDefault("server.max-message-size", 4096)
	v.SetDefault("server.trust-proxy", false)

	v.SetDefault("game.reveal", 4*time.Second)
	v.SetDefault("game.transition", 1*time.Second)
	v.SetDefault("game.attempt-budget", 15)

	v.SetDefault("redis.addr", "")
	v.SetDefault("nats.url", "")
	v.SetDefault("database.url", "")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads file into v when file is non-empty and decodes the result.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Listen == "" {
		errs = append(errs, errors.New("server.listen is empty"))
	}
	if c.Server.WorkerPool <= 0 {
		errs = append(errs, fmt.Errorf("server.worker-pool must be positive, got %d", c.Server.WorkerPool))
	}
	if c.Server.MaxConnections <= 0 {
		errs = append(errs, fmt.Errorf("server.max-connections must be positive, got %d", c.Server.MaxConnections))
	}
	if c.Server.MaxMessageSize <= 0 {
		errs = append(errs, fmt.Errorf("server.max-message-size must be positive, got %d", c.Server.MaxMessageSize))
	}
	if c.Game.Reveal <= 0 || c.Game.Transition <= 0 {
		errs = append(errs, errors.New("game.reveal and game.transition must be positive"))
	}
	if c.Game.AttemptBudget <= 0 {
		errs = append(errs, fmt.Errorf("game.attempt-budget must be positive, got %d", c.Game.AttemptBudget))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
