package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendRedis  = "redis"
	BackendTable  = "table"

	AuthNone  = "none"
	AuthHS256 = "hs256"
	AuthJWKS  = "jwks"
)

// Config holds service settings read from TASKBOARD_* environment variables.
type Config struct {
	Debug      bool   `env:"DEBUG"`
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8080"`
	BoardKey   string `env:"BOARD_KEY" envDefault:"kanbanTasks"`
	MaxBoards  int    `env:"MAX_BOARDS" envDefault:"4096"`

	Storage  Storage  `envPrefix:"STORAGE_"`
	Redis    Redis    `envPrefix:"REDIS_"`
	Table    Table    `envPrefix:"TABLE_"`
	Notify   Notify   `envPrefix:"NOTIFY_"`
	Auth     Auth     `envPrefix:"AUTH_"`
	Requests Requests `envPrefix:"REQUESTS_"`
}

type Storage struct {
	Backend string `env:"BACKEND" envDefault:"memory"`
	Dir     string `env:"DIR" envDefault:"./data"`
}

type Redis struct {
	URL      string        `env:"URL"`
	CacheTTL time.Duration `env:"CACHE_TTL" envDefault:"10m"`
}

type Table struct {
	ConnectionString string `env:"CONNECTION_STRING"`
	Name             string `env:"NAME" envDefault:"boards"`
}

type Notify struct {
	Channel        string        `env:"CHANNEL"`
	Queue          string        `env:"QUEUE"`
	Workers        int           `env:"WORKERS" envDefault:"4"`
	Buffer         int           `env:"BUFFER" envDefault:"256"`
	PublishTimeout time.Duration `env:"PUBLISH_TIMEOUT" envDefault:"10s"`
	HandoffTimeout time.Duration `env:"HANDOFF_TIMEOUT" envDefault:"15ms"`
}

type Auth struct {
	Mode         string        `env:"MODE" envDefault:"none"`
	Secret       string        `env:"SECRET"`
	Domain       string        `env:"DOMAIN"`
	Audience     string        `env:"AUDIENCE"`
	JWKSCacheTTL time.Duration `env:"JWKS_CACHE_TTL" envDefault:"15m"`
}

type Requests struct {
	IdempotencyTTL time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"24h"`
	MaxBodyBytes   int64         `env:"MAX_BODY_BYTES" envDefault:"65536"`
}

// Parse reads the configuration from the environment and validates it.
func Parse() (*Config, error) {
	conf, err := env.ParseAsWithOptions[Config](env.Options{
		Prefix: "TASKBOARD_",
	})
	if err != nil {
		return nil, err
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return &conf, nil
}

// Validate checks that the selected backends have what they need.
func (c *Config) Validate() error {
	if c.BoardKey == "" {
		return fmt.Errorf("board key must not be empty")
	}
	if c.MaxBoards <= 0 {
		return fmt.Errorf("max boards must be positive, got %d", c.MaxBoards)
	}
	switch c.Storage.Backend {
	case BackendMemory, BackendFile:
	case BackendRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("storage backend %q requires TASKBOARD_REDIS_URL", c.Storage.Backend)
		}
	case BackendTable:
		if c.Table.ConnectionString == "" {
			return fmt.Errorf("storage backend %q requires TASKBOARD_TABLE_CONNECTION_STRING", c.Storage.Backend)
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Notify.Channel != "" && c.Redis.URL == "" {
		return fmt.Errorf("notify channel requires TASKBOARD_REDIS_URL")
	}
	if c.Notify.Queue != "" && c.Table.ConnectionString == "" {
		return fmt.Errorf("notify queue requires TASKBOARD_TABLE_CONNECTION_STRING")
	}
	switch c.Auth.Mode {
	case AuthNone:
	case AuthHS256:
		if c.Auth.Secret == "" {
			return fmt.Errorf("auth mode %q requires TASKBOARD_AUTH_SECRET", c.Auth.Mode)
		}
	case AuthJWKS:
		if c.Auth.Domain == "" || c.Auth.Audience == "" {
			return fmt.Errorf("auth mode %q requires TASKBOARD_AUTH_DOMAIN and TASKBOARD_AUTH_AUDIENCE", c.Auth.Mode)
		}
	default:
		return fmt.Errorf("unknown auth mode %q", c.Auth.Mode)
	}
	return nil
}
