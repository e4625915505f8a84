// Package config loads service configuration from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Backends the CHATCORE_BACKEND variable selects between.
const (
	BackendScylla = "scylla"
	BackendRedis  = "redis"
)

type Config struct {
	Addr    string `env:"CHATCORE_ADDR" envDefault:":8080"`
	Backend string `env:"CHATCORE_BACKEND" envDefault:"scylla"`

	ScyllaHosts    []string `env:"SCYLLA_HOSTS" envDefault:"localhost:9042"`
	ScyllaKeyspace string   `env:"SCYLLA_KEYSPACE" envDefault:"chat"`
	RedisAddr      string   `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	KafkaBrokers   []string `env:"KAFKA_BROKERS" envDefault:"localhost:19092"`

	JWTSecret       string        `env:"CHATCORE_JWT_SECRET" envDefault:"my_secret_key"`
	PresenceTimeout time.Duration `env:"CHATCORE_PRESENCE_TIMEOUT" envDefault:"30s"`
	NodeID          int64         `env:"CHATCORE_NODE_ID" envDefault:"1"`
}

func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.Backend != BackendScylla && cfg.Backend != BackendRedis {
		return Config{}, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
	return cfg, nil
}
