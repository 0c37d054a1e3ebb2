package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func newViper() *viper.Viper {
	v := viper.New()
	v.SetDefault("postgres_db", "spreadscan")
	v.SetDefault("postgres_user", "spreadscan")
	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("redis_host", "localhost")
	v.SetDefault("redis_port", 6379)
	v.SetDefault("driver_name", "pgx")
	v.SetDefault("port", 8000)
	v.SetDefault("chunk_size", 100)
	v.SetDefault("arbitrage_threshold", 2)
	v.SetDefault("default_interval", string(Interval4h))
	v.SetDefault("inter_chunk_sleep_ms", 500)
	v.SetDefault("cache_ttl_seconds", 3600)
	v.SetDefault("exchange_timeout_seconds", 30)
	return v
}

func TestBuildRejectsUnsupportedDriver(t *testing.T) {
	v := newViper()
	v.Set("driver_name", "mysql")
	if _, err := build(v); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestBuildRejectsBadInterval(t *testing.T) {
	v := newViper()
	v.Set("default_interval", "1H")
	if _, err := build(v); err == nil {
		t.Fatal("expected error for non-canonical interval casing")
	}
}

func TestBuildRejectsLowThreshold(t *testing.T) {
	v := newViper()
	v.Set("arbitrage_threshold", 1)
	if _, err := build(v); err == nil {
		t.Fatal("expected error for threshold below 2")
	}
}

func TestBuildAcceptsDefaults(t *testing.T) {
	v := newViper()
	cfg, err := build(v)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Postgres.DSN() == "" {
		t.Fatal("expected non-empty DSN")
	}
	if cfg.Redis.Addr() != "localhost:6379" {
		t.Fatalf("unexpected redis addr: %s", cfg.Redis.Addr())
	}
}

func TestWatchReloadNoopWhenPathEmpty(t *testing.T) {
	if err := WatchReload("", func(*Config) {}); err != nil {
		t.Fatalf("expected nil error for an empty config path, got %v", err)
	}
}

func TestWatchReloadFiresOnChangeWhenFileModified(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "spreadscan.yaml")
	const initial = `
postgres_db: spreadscan
postgres_user: spreadscan
postgres_host: localhost
postgres_port: 5432
redis_host: localhost
redis_port: 6379
driver_name: pgx
port: 8000
chunk_size: 100
arbitrage_threshold: 2
default_interval: 4h
inter_chunk_sleep_ms: 500
cache_ttl_seconds: 3600
exchange_timeout_seconds: 30
`
	if err := os.WriteFile(path, []byte(initial), 0o644); err != nil {
		t.Fatalf("write initial config: %v", err)
	}

	changed := make(chan *Config, 1)
	if err := WatchReload(path, func(c *Config) { changed <- c }); err != nil {
		t.Fatalf("WatchReload: %v", err)
	}

	// let the watcher's fsnotify.Add on the config file settle before the
	// write it's supposed to observe.
	time.Sleep(100 * time.Millisecond)
	updated := strings.Replace(initial, "chunk_size: 100", "chunk_size: 25", 1)
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatalf("write updated config: %v", err)
	}

	select {
	case cfg := <-changed:
		if cfg.ChunkSize != 25 {
			t.Fatalf("expected reloaded chunk_size=25, got %d", cfg.ChunkSize)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for WatchReload's onChange callback")
	}
}

func TestExchangeValid(t *testing.T) {
	if !Binance.Valid() {
		t.Fatal("binance should be valid")
	}
	if Exchange("coinbase").Valid() {
		t.Fatal("coinbase is not in the closed set")
	}
}
