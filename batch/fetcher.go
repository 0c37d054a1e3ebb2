// Package batch is the Batch Fetcher (spec §4.5): it orchestrates
// chunked, concurrent OHLCV fetches across the arbitrable universe, with
// cache-through semantics and a chain handoff into the task runtime once
// each chunk's DB writes commit.
package batch

import (
	"context"
	"sync"
	"time"

	"github.com/JekaMas/workerpool"
	"github.com/hashicorp/go-multierror"

	"github.com/arbibridge/spreadscan/cache"
	"github.com/arbibridge/spreadscan/catalog"
	"github.com/arbibridge/spreadscan/exchange"
	"github.com/arbibridge/spreadscan/internal/config"
	"github.com/arbibridge/spreadscan/internal/xlog"
)

// Fetcher runs the orchestration loop of spec §4.5.
type Fetcher struct {
	store   *catalog.Store
	gateway *exchange.Gateway
	cache   *cache.Store
	log     xlog.Logger

	tuningMu        sync.RWMutex
	chunkSize       int
	interChunkSleep time.Duration
	cacheTTL        time.Duration
	concurrency     int
}

// New constructs a Fetcher from process configuration.
func New(store *catalog.Store, gateway *exchange.Gateway, c *cache.Store, log xlog.Logger, cfg *config.Config, concurrency int) *Fetcher {
	return &Fetcher{
		store:           store,
		gateway:         gateway,
		cache:           c,
		log:             log,
		chunkSize:       cfg.ChunkSize,
		interChunkSleep: cfg.InterChunkSleep,
		cacheTTL:        cfg.CacheTTL,
		concurrency:     concurrency,
	}
}

// ApplyTuning updates the hot-reloadable knobs in place. Safe to call
// concurrently with Run — spec §6 promises live-reload of chunk_size,
// inter_chunk_sleep_ms and cache_ttl_seconds without a process restart.
func (f *Fetcher) ApplyTuning(chunkSize int, interChunkSleep, cacheTTL time.Duration) {
	f.tuningMu.Lock()
	defer f.tuningMu.Unlock()
	if chunkSize > 0 {
		f.chunkSize = chunkSize
	}
	f.interChunkSleep = interChunkSleep
	f.cacheTTL = cacheTTL
}

func (f *Fetcher) tuning() (chunkSize int, interChunkSleep, cacheTTL time.Duration) {
	f.tuningMu.RLock()
	defer f.tuningMu.RUnlock()
	return f.chunkSize, f.interChunkSleep, f.cacheTTL
}

// ChunkDone is what each processed chunk hands off so the caller can
// enqueue the scan chain (spec §4.5 step 6) after this call returns —
// the runtime chain itself is wired by the caller (cmd/spreadscan), not here.
type ChunkDone struct {
	CachedPEIDs []catalog.PEID
}

// Run executes the full orchestration loop once: load the arbitrable
// universe, initialize batch state, then process chunks one at a time,
// invoking onChunk after each chunk's DB writes commit.
func (f *Fetcher) Run(ctx context.Context, threshold int, interval config.Interval, onChunk func(ChunkDone) error) error {
	rows, err := f.store.SelectArbitrable(ctx, threshold)
	if err != nil {
		return err
	}
	if err := f.store.InitBatch(ctx, rows, interval); err != nil {
		return err
	}

	for start := 0; start < len(rows); {
		chunkSize, interChunkSleep, _ := f.tuning()
		if chunkSize <= 0 {
			chunkSize = len(rows)
		}
		end := start + chunkSize
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[start:end]

		cachedIDs, err := f.processChunk(ctx, chunk, interval)
		if err != nil {
			f.log.Error("batch: chunk processing had errors", "start", start, "err", err)
		}

		if len(cachedIDs) > 0 {
			if err := f.store.MarkCached(ctx, cachedIDs); err != nil {
				return err
			}
		}

		if err := onChunk(ChunkDone{CachedPEIDs: cachedIDs}); err != nil {
			return err
		}

		start = end
		if start < len(rows) && interChunkSleep > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(interChunkSleep):
			}
		}
	}
	return nil
}

// processChunk fetches every PE in the chunk concurrently via a bounded
// worker pool, writes successful payloads through the cache, and returns
// the ids that should be marked cached. Empty/absent payloads are
// skipped silently per spec §4.5 step 4 — they remain stuck until a
// future run retries them.
func (f *Fetcher) processChunk(ctx context.Context, chunk []catalog.PairExchange, interval config.Interval) ([]catalog.PEID, error) {
	_, _, cacheTTL := f.tuning()
	pool := workerpool.New(f.concurrency)

	type outcome struct {
		peID catalog.PEID
		ok   bool
		err  error
	}
	results := make(chan outcome, len(chunk))

	for _, pe := range chunk {
		pe := pe
		pool.Submit(func() {
			candles, err := f.gateway.FetchOHLCV(ctx, pe.Pair, pe.Exchange, interval)
			if err != nil {
				results <- outcome{peID: pe.ID, err: err}
				return
			}
			if len(candles) == 0 {
				results <- outcome{peID: pe.ID, ok: false}
				return
			}
			encoded, err := cache.EncodeCandles(candles)
			if err != nil {
				results <- outcome{peID: pe.ID, err: err}
				return
			}
			f.cache.Set(ctx, cache.OHLCVKey(int64(pe.ID)), encoded, cacheTTL)
			results <- outcome{peID: pe.ID, ok: true}
		})
	}

	pool.StopWait()
	close(results)

	var cached []catalog.PEID
	var errs *multierror.Error
	for r := range results {
		if r.err != nil {
			errs = multierror.Append(errs, r.err)
			continue
		}
		if r.ok {
			cached = append(cached, r.peID)
		}
	}
	return cached, errs.ErrorOrNil()
}
