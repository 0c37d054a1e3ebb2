package cache

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/arbibridge/spreadscan/exchange"
	"github.com/arbibridge/spreadscan/internal/config"
	"github.com/arbibridge/spreadscan/internal/xlog"
)

func discardLogger() xlog.Logger {
	return xlog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOpenDegradesToL1OnlyWhenRedisUnreachable(t *testing.T) {
	s := Open(config.RedisConfig{Host: "127.0.0.1", Port: 1, DB: 0}, discardLogger())
	defer s.Close()

	if s.redisHealthy() {
		t.Fatal("expected redis to be unreachable on this port")
	}

	s.Set(context.Background(), "k", []byte("v"), time.Minute)
	got, ok := s.Get(context.Background(), "k")
	if !ok || string(got) != "v" {
		t.Fatalf("expected L1 round-trip, got %q ok=%v", got, ok)
	}
}

func TestGetMissReturnsFalse(t *testing.T) {
	s := Open(config.RedisConfig{Host: "127.0.0.1", Port: 1}, discardLogger())
	defer s.Close()

	_, ok := s.Get(context.Background(), "absent")
	if ok {
		t.Fatal("expected miss")
	}
}

func TestEncodeDecodeCandlesRoundTrips(t *testing.T) {
	rows := []exchange.Candle{
		{Timestamp: 1000, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10},
		{Timestamp: 2000, Open: 1.5, High: 2.5, Low: 1, Close: 2, Volume: 20},
	}
	b, err := EncodeCandles(rows)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeCandles(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != len(rows) {
		t.Fatalf("expected %d rows, got %d", len(rows), len(got))
	}
	for i := range rows {
		if got[i] != rows[i] {
			t.Fatalf("row %d mismatch: got %+v want %+v", i, got[i], rows[i])
		}
	}
}

func TestOHLCVKeyFormat(t *testing.T) {
	if OHLCVKey(42) != "OHLC:42" {
		t.Fatalf("unexpected key: %s", OHLCVKey(42))
	}
}
