// Package dispatch is Scan & Dispatch (spec §4.6): after a chunk commits,
// it finds pairs that just became fully cached and uncomputed, and fans
// out one compute task per such pair. Compute itself loads each pair's
// series from the cache, aligns them (C7), runs the spread engine (C8),
// and persists the result (C3).
package dispatch

import (
	"context"
	"fmt"

	"github.com/arbibridge/spreadscan/cache"
	"github.com/arbibridge/spreadscan/catalog"
	"github.com/arbibridge/spreadscan/internal/xlog"
	"github.com/arbibridge/spreadscan/spread"
	"github.com/arbibridge/spreadscan/tasks"
	"github.com/arbibridge/spreadscan/timeframe"
)

// Dispatcher wires the catalog and cache into the scan/dispatch/compute
// handlers handed to the task runtime.
type Dispatcher struct {
	store   *catalog.Store
	cache   *cache.Store
	log     xlog.Logger
	runtime *tasks.Runtime
}

func New(store *catalog.Store, c *cache.Store, log xlog.Logger) *Dispatcher {
	return &Dispatcher{store: store, cache: c, log: log}
}

// SetRuntime wires the task runtime Dispatch fans out through. It is set
// after tasks.New returns because Handlers.Dispatch is itself bound to
// this Dispatcher's Dispatch method, so the runtime can't exist yet when
// the Dispatcher is constructed (see cmd/spreadscan's buildCore).
func (d *Dispatcher) SetRuntime(rt *tasks.Runtime) {
	d.runtime = rt
}

// Scan runs scan_ready for the given chunk's PE ids, returning the pair
// ids that just became computable. PairID is narrowed to int64 at this
// boundary because the task runtime only knows primitive argument types.
func (d *Dispatcher) Scan(ctx context.Context, peIDs []int64) ([]int64, error) {
	ids := make([]catalog.PEID, len(peIDs))
	for i, id := range peIDs {
		ids[i] = catalog.PEID(id)
	}
	pairs, err := d.store.ScanReady(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]int64, len(pairs))
	for i, p := range pairs {
		out[i] = int64(p)
	}
	return out, nil
}

// Dispatch fans out one compute task per pair id via the task runtime's
// group primitive (tasks.Runtime.DispatchCompute). Each pair is first
// gated behind TryLockPair so two dispatchers racing on the same scan
// result don't both enqueue the same pair's compute task; failing to
// acquire the lock just means a peer is already dispatching it, so the
// pair is skipped rather than treated as an error.
func (d *Dispatcher) Dispatch(pairIDs []int64) error {
	d.log.Debug("dispatch: pairs ready for compute", "count", len(pairIDs))
	if len(pairIDs) == 0 {
		return nil
	}
	if d.runtime == nil {
		return fmt.Errorf("dispatch: no task runtime wired")
	}

	toDispatch := make([]int64, 0, len(pairIDs))
	unlocks := make([]func(), 0, len(pairIDs))
	defer func() {
		for _, unlock := range unlocks {
			unlock()
		}
	}()
	for _, pairID := range pairIDs {
		unlock, acquired := d.runtime.TryLockPair(pairID)
		if !acquired {
			d.log.Debug("dispatch: pair already being dispatched by a peer, skipping", "pair_id", pairID)
			continue
		}
		toDispatch = append(toDispatch, pairID)
		unlocks = append(unlocks, unlock)
	}
	if len(toDispatch) == 0 {
		return nil
	}
	return d.runtime.DispatchCompute(toDispatch)
}

// Compute loads pairID's full PE fan, reads each PE's cached OHLCV,
// aligns the surviving series, runs the spread engine, and persists the
// result. Two dispatchers racing on the same pair both execute this and
// both converge on the same row via save_spread_and_mark's upsert (spec
// §4.6).
//
// If the cache has nothing for any PE of the pair (spec §8 scenario 6:
// cache absent during compute) the aligned intersection is empty and no
// row is written; the pair's computed flag is left false for the next
// run to retry.
func (d *Dispatcher) Compute(ctx context.Context, pairID int64) error {
	rows, err := d.store.PEsForPair(ctx, catalog.PairID(pairID))
	if err != nil {
		return err
	}

	var series []timeframe.Series
	for _, pe := range rows {
		raw, ok := d.cache.Get(ctx, cache.OHLCVKey(int64(pe.ID)))
		if !ok {
			continue
		}
		candles, err := cache.DecodeCandles(raw)
		if err != nil {
			d.log.Warn("dispatch: corrupt cached payload dropped", "pe_id", pe.ID, "err", err)
			continue
		}
		series = append(series, timeframe.Series{PEID: int64(pe.ID), Candles: candles})
	}

	aligned := timeframe.Align(series)
	result, ok := spread.Compute(aligned)
	if !ok {
		d.log.Info("dispatch: no aligned data, leaving pair for retry", "pair_id", pairID)
		return nil
	}

	row := catalog.SpreadMax{
		PairID:        catalog.PairID(pairID),
		Time:          result.Time,
		HighPEID:      catalog.PEID(result.HighPEID),
		LowPEID:       catalog.PEID(result.LowPEID),
		SpreadPercent: result.SpreadPercent,
	}
	if err := d.store.SaveSpreadAndMark(ctx, row); err != nil {
		return fmt.Errorf("dispatch: save spread for pair %d: %w", pairID, err)
	}
	return nil
}
