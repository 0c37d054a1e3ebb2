package batch

import (
	"testing"
	"time"

	"github.com/arbibridge/spreadscan/internal/config"
)

func TestNewAppliesConfigTuning(t *testing.T) {
	cfg := &config.Config{
		ChunkSize:       50,
		InterChunkSleep: 250 * time.Millisecond,
		CacheTTL:        time.Hour,
	}
	f := New(nil, nil, nil, nil, cfg, 8)
	if f.chunkSize != 50 || f.interChunkSleep != 250*time.Millisecond || f.cacheTTL != time.Hour || f.concurrency != 8 {
		t.Fatalf("unexpected fetcher tuning: %+v", f)
	}
}

func TestApplyTuningUpdatesInPlace(t *testing.T) {
	cfg := &config.Config{ChunkSize: 50, InterChunkSleep: time.Second, CacheTTL: time.Hour}
	f := New(nil, nil, nil, nil, cfg, 8)

	f.ApplyTuning(25, 0, 30*time.Minute)

	chunkSize, interChunkSleep, cacheTTL := f.tuning()
	if chunkSize != 25 || interChunkSleep != 0 || cacheTTL != 30*time.Minute {
		t.Fatalf("expected tuning to update in place, got chunkSize=%d interChunkSleep=%v cacheTTL=%v", chunkSize, interChunkSleep, cacheTTL)
	}
}

func TestApplyTuningIgnoresNonPositiveChunkSize(t *testing.T) {
	cfg := &config.Config{ChunkSize: 50, InterChunkSleep: time.Second, CacheTTL: time.Hour}
	f := New(nil, nil, nil, nil, cfg, 8)

	f.ApplyTuning(0, time.Second, time.Hour)

	chunkSize, _, _ := f.tuning()
	if chunkSize != 50 {
		t.Fatalf("expected chunk size to be left unchanged when given 0, got %d", chunkSize)
	}
}

func TestChunkSlicingCoversAllRowsExactlyOnce(t *testing.T) {
	total, chunkSize := 237, 100
	var seen int
	for start := 0; start < total; start += chunkSize {
		end := start + chunkSize
		if end > total {
			end = total
		}
		seen += end - start
	}
	if seen != total {
		t.Fatalf("expected chunking to cover every row exactly once, got %d of %d", seen, total)
	}
}
