// Package cache is the Cache Layer (spec §4.4): a keyed, TTL-bounded blob
// store for OHLCV payloads, implemented as an in-process fastcache L1 in
// front of a Redis L2. Redis may be unavailable; on failure the store
// degrades to L1-only and correctness is preserved at the cost of extra
// refetches, logged once per failure class via a rate-limited logger.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/VictoriaMetrics/fastcache"
	"github.com/go-redis/redis"

	"github.com/arbibridge/spreadscan/exchange"
	"github.com/arbibridge/spreadscan/internal/config"
	"github.com/arbibridge/spreadscan/internal/xlog"
)

// defaultL1Bytes sizes the in-process tier; it only needs to survive one
// chunk's worth of OHLCV payloads, not a whole run.
const defaultL1Bytes = 64 * 1024 * 1024

// Store is the two-tier cache. Get/Set operate on opaque keys; encoding
// of candle payloads is internal so callers round-trip a typed value.
type Store struct {
	l1  *fastcache.Cache
	l2  *redis.Client
	log *xlog.RateLimited
}

// Open constructs the cache. If Redis cannot be reached at startup, l2 is
// left nil and the store runs L1-only after logging a warning — spec §4.4 treats an
// absent store purely as an availability concern, never a correctness one.
func Open(cfg config.RedisConfig, log xlog.Logger) *Store {
	s := &Store{
		l1:  fastcache.New(defaultL1Bytes),
		log: xlog.NewRateLimited(log, time.Minute),
	}

	client := redis.NewClient(&redis.Options{
		Addr: cfg.Addr(),
		DB:   cfg.DB,
	})
	if err := client.Ping().Err(); err != nil {
		s.log.Warn("cache: redis unavailable at startup, degrading to L1-only", "err", err)
		return s
	}
	s.l2 = client
	return s
}

func (s *Store) redisHealthy() bool { return s.l2 != nil }

// Set stores value under key with the given TTL. It writes through both
// tiers; a Redis failure is logged (rate-limited) and does not fail the
// call, since L1 alone still satisfies correctness within a single
// process's lifetime.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	s.l1.Set([]byte(key), value)
	if !s.redisHealthy() {
		return
	}
	if err := s.l2.WithContext(ctx).Set(key, value, ttl).Err(); err != nil {
		s.log.Warn("cache: redis set failed, degrading to L1-only", "key", key, "err", err)
	}
}

// Get returns the bytes stored under key, or (nil, false) on a miss in
// both tiers or on error.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool) {
	if v := s.l1.Get(nil, []byte(key)); len(v) > 0 {
		return v, true
	}
	if !s.redisHealthy() {
		return nil, false
	}
	v, err := s.l2.WithContext(ctx).Get(key).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		s.log.Warn("cache: redis get failed, degrading to L1-only", "key", key, "err", err)
		return nil, false
	}
	s.l1.Set([]byte(key), v)
	return v, true
}

// Close releases the Redis connection, if one was established.
func (s *Store) Close() error {
	if s.l2 != nil {
		return s.l2.Close()
	}
	return nil
}

// OHLCVKey is the canonical cache key for a PE's candle payload (spec
// §3: "Identified in the cache by OHLC:{pe_id}").
func OHLCVKey(peID int64) string {
	return fmt.Sprintf("OHLC:%d", peID)
}

// EncodeCandles serializes a candle slice to its cached byte form (spec
// §4.4: "JSON-serialized candle arrays").
func EncodeCandles(rows []exchange.Candle) ([]byte, error) {
	b, err := json.Marshal(rows)
	if err != nil {
		return nil, fmt.Errorf("cache: encode candles: %w", err)
	}
	return b, nil
}

// DecodeCandles is the inverse of EncodeCandles.
func DecodeCandles(b []byte) ([]exchange.Candle, error) {
	var rows []exchange.Candle
	if err := json.Unmarshal(b, &rows); err != nil {
		return nil, fmt.Errorf("cache: decode candles: %w", err)
	}
	return rows, nil
}
