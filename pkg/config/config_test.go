package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Fatalf("expected default addr :8080, got %q", cfg.Addr)
	}
	if cfg.Backend != BackendScylla {
		t.Fatalf("expected default backend scylla, got %q", cfg.Backend)
	}
	if cfg.PresenceTimeout != 30*time.Second {
		t.Fatalf("expected default presence timeout 30s, got %v", cfg.PresenceTimeout)
	}
	if len(cfg.KafkaBrokers) != 1 || cfg.KafkaBrokers[0] != "localhost:19092" {
		t.Fatalf("expected default brokers, got %v", cfg.KafkaBrokers)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("CHATCORE_BACKEND", "redis")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("CHATCORE_PRESENCE_TIMEOUT", "45s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Backend != BackendRedis {
		t.Fatalf("expected backend redis, got %q", cfg.Backend)
	}
	if len(cfg.KafkaBrokers) != 2 {
		t.Fatalf("expected two brokers, got %v", cfg.KafkaBrokers)
	}
	if cfg.PresenceTimeout != 45*time.Second {
		t.Fatalf("expected 45s timeout, got %v", cfg.PresenceTimeout)
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	t.Setenv("CHATCORE_BACKEND", "mongo")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}
