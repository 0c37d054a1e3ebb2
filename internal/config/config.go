// Package config loads spreadscan's runtime configuration from environment
// variables, an optional config file, and documented defaults, following the
// teacher's convention of a single explicitly-constructed config struct
// passed to every collaborator rather than package-level globals.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Exchange is the closed set of supported exchanges (spec §6).
type Exchange string

const (
	Binance Exchange = "binance"
	OKX     Exchange = "okx"
	Bybit   Exchange = "bybit"
	MEXC    Exchange = "mexc"
	BingX   Exchange = "bingx"
	GateIO  Exchange = "gateio"
	KuCoin  Exchange = "kucoin"
)

// SupportedExchanges lists every exchange recognized by the gateway, in a
// fixed order used wherever a deterministic default set is needed.
var SupportedExchanges = []Exchange{Binance, OKX, Bybit, MEXC, BingX, GateIO, KuCoin}

func (e Exchange) Valid() bool {
	for _, s := range SupportedExchanges {
		if s == e {
			return true
		}
	}
	return false
}

// Interval is the closed set of candle bucket sizes (spec §6). The
// open question about casing inconsistency (1h vs 1H) is resolved here:
// lower-case is canonical, matching ccxt's own timeframe strings.
type Interval string

const (
	Interval5m  Interval = "5m"
	Interval30m Interval = "30m"
	Interval1h  Interval = "1h"
	Interval4h  Interval = "4h"
	Interval1d  Interval = "1d"
	Interval1w  Interval = "1w"
	Interval1M  Interval = "1M"
)

var SupportedIntervals = []Interval{Interval5m, Interval30m, Interval1h, Interval4h, Interval1d, Interval1w, Interval1M}

func (i Interval) Valid() bool {
	for _, s := range SupportedIntervals {
		if s == i {
			return true
		}
	}
	return false
}

// Config is the fully resolved, validated configuration for one process.
type Config struct {
	Postgres PostgresConfig
	Redis    RedisConfig

	DriverName string // "pgx" is the only implemented backend today.
	Port       int
	Timezone   string

	// Batch tuning. ChunkSize, InterChunkSleep and CacheTTL are
	// hot-reloadable via WatchReload; the other fields are fixed at startup.
	ChunkSize        int
	InterChunkSleep  time.Duration
	ArbitrageThresh  int
	CacheTTL         time.Duration
	DefaultInterval  Interval
	ExchangeTimeout  time.Duration

	LogFile    string
	LogJSON    bool
	LogLevel   string
}

type PostgresConfig struct {
	DB       string
	User     string
	Password string
	Host     string
	Port     int
}

func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		p.User, p.Password, p.Host, p.Port, p.DB)
}

type RedisConfig struct {
	Host string
	Port int
	DB   int
}

func (r RedisConfig) Addr() string { return fmt.Sprintf("%s:%d", r.Host, r.Port) }

// Load reads configuration from environment variables (spec §6), an
// optional config file at configPath, and the defaults below. Callers that
// need to react to hot-reloadable fields use WatchReload.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("postgres_db", "spreadscan")
	v.SetDefault("postgres_user", "spreadscan")
	v.SetDefault("postgres_password", "")
	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("redis_host", "localhost")
	v.SetDefault("redis_port", 6379)
	v.SetDefault("redis_db", 0)
	v.SetDefault("driver_name", "pgx")
	v.SetDefault("port", 8000)
	v.SetDefault("timezone", "UTC")
	v.SetDefault("chunk_size", 100)
	v.SetDefault("inter_chunk_sleep_ms", 500)
	v.SetDefault("arbitrage_threshold", 2)
	v.SetDefault("cache_ttl_seconds", 3600)
	v.SetDefault("default_interval", string(Interval4h))
	v.SetDefault("exchange_timeout_seconds", 30)
	v.SetDefault("log_file", "")
	v.SetDefault("log_json", false)
	v.SetDefault("log_level", "info")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", configPath, err)
		}
	}

	cfg, err := build(v)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func build(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Postgres: PostgresConfig{
			DB:       v.GetString("postgres_db"),
			User:     v.GetString("postgres_user"),
			Password: v.GetString("postgres_password"),
			Host:     v.GetString("postgres_host"),
			Port:     v.GetInt("postgres_port"),
		},
		Redis: RedisConfig{
			Host: v.GetString("redis_host"),
			Port: v.GetInt("redis_port"),
			DB:   v.GetInt("redis_db"),
		},
		DriverName:      v.GetString("driver_name"),
		Port:            v.GetInt("port"),
		Timezone:        v.GetString("timezone"),
		ChunkSize:       v.GetInt("chunk_size"),
		InterChunkSleep: time.Duration(v.GetInt("inter_chunk_sleep_ms")) * time.Millisecond,
		ArbitrageThresh: v.GetInt("arbitrage_threshold"),
		CacheTTL:        time.Duration(v.GetInt("cache_ttl_seconds")) * time.Second,
		DefaultInterval: Interval(v.GetString("default_interval")),
		ExchangeTimeout: time.Duration(v.GetInt("exchange_timeout_seconds")) * time.Second,
		LogFile:         v.GetString("log_file"),
		LogJSON:         v.GetBool("log_json"),
		LogLevel:        v.GetString("log_level"),
	}

	if cfg.DriverName != "pgx" {
		return nil, fmt.Errorf("config: unsupported DRIVER_NAME %q (only \"pgx\" is implemented)", cfg.DriverName)
	}
	if !cfg.DefaultInterval.Valid() {
		return nil, fmt.Errorf("config: unsupported default interval %q", cfg.DefaultInterval)
	}
	if cfg.ChunkSize <= 0 {
		return nil, fmt.Errorf("config: chunk_size must be positive, got %d", cfg.ChunkSize)
	}
	if cfg.ArbitrageThresh < 2 {
		return nil, fmt.Errorf("config: arbitrage_threshold must be >= 2, got %d", cfg.ArbitrageThresh)
	}

	return cfg, nil
}

// WatchReload re-reads the hot-reloadable knobs (chunk size, inter-chunk
// sleep, cache TTL) whenever the backing config file changes, and invokes
// onChange with the refreshed Config, resolved the same way Load resolves
// it (env, file, defaults). A change that does not yield a valid Config is
// ignored. DB/Redis connection settings are intentionally left untouched —
// changing those requires a restart.
func WatchReload(configPath string, onChange func(*Config)) error {
	if configPath == "" {
		return nil
	}
	v := viper.New()
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		return err
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := Load(configPath)
		if err != nil {
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
	return nil
}
