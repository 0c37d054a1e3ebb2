package catalog

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4"

	"github.com/arbibridge/spreadscan/internal/config"
)

// InitBatch truncates BatchTask and SpreadMax — clearing the previous run's
// progress — then bulk-inserts one BatchTask row per PairExchange with all
// flags false. This is the point at which prior runs' progress is cleared
// (spec §4.3/§4.5 step 2).
func (s *Store) InitBatch(ctx context.Context, rows []PairExchange, interval config.Interval) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `TRUNCATE TABLE batch_task`); err != nil {
		return fmt.Errorf("catalog: truncate batch_task: %w", err)
	}
	if _, err := tx.Exec(ctx, `TRUNCATE TABLE spread_max`); err != nil {
		return fmt.Errorf("catalog: truncate spread_max: %w", err)
	}

	batch := &pgx.Batch{}
	for _, pe := range rows {
		batch.Queue(`
			INSERT INTO batch_task (pe_id, pair_id, interval, cached, computed, persisted)
			VALUES ($1, $2, $3, FALSE, FALSE, FALSE)
		`, pe.ID, pe.PairID, string(interval))
	}
	br := tx.SendBatch(ctx, batch)
	for range rows {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("catalog: init batch_task row: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// MarkCached flags the given PE rows as cached (spec §4.3/§4.5 step 5).
func (s *Store) MarkCached(ctx context.Context, peIDs []PEID) error {
	if len(peIDs) == 0 {
		return nil
	}
	ids := make([]int64, len(peIDs))
	for i, id := range peIDs {
		ids[i] = int64(id)
	}
	_, err := s.pool.Exec(ctx, `UPDATE batch_task SET cached = TRUE WHERE pe_id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("catalog: mark cached: %w", err)
	}
	return nil
}

// ScanReady returns the pair ids that have just become computable: every PE
// row across the pair's *entire* fan (not just the supplied chunk) is
// cached, and none of them is computed yet (spec §4.3/§4.6).
//
// The peIDs argument narrows the scan to pairs touched by the current
// chunk; the cached/computed predicate itself is always evaluated over the
// complete fan of each candidate pair, which is what makes pairs split
// across chunks resolve correctly regardless of chunk boundaries.
func (s *Store) ScanReady(ctx context.Context, peIDs []PEID) ([]PairID, error) {
	if len(peIDs) == 0 {
		return nil, nil
	}
	ids := make([]int64, len(peIDs))
	for i, id := range peIDs {
		ids[i] = int64(id)
	}
	rows, err := s.pool.Query(ctx, `
		SELECT pair_id
		FROM batch_task
		WHERE pair_id IN (SELECT DISTINCT pair_id FROM batch_task WHERE pe_id = ANY($1))
		GROUP BY pair_id
		HAVING bool_and(cached) AND NOT bool_or(computed)
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("catalog: scan ready: %w", err)
	}
	defer rows.Close()

	var out []PairID
	for rows.Next() {
		var pid PairID
		if err := rows.Scan(&pid); err != nil {
			return nil, err
		}
		out = append(out, pid)
	}
	return out, rows.Err()
}

// SaveSpreadAndMark upserts the pair's SpreadMax row and flips computed
// true for every BatchTask row of that pair, in one transaction. The
// ON CONFLICT DO UPDATE makes the whole operation safe against two
// dispatchers racing on the same pair (spec §4.3/§4.6): the last commit
// wins and both converge on the same numeric result.
func (s *Store) SaveSpreadAndMark(ctx context.Context, row SpreadMax) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO spread_max (pair_id, time, high_pe_id, low_pe_id, spread_percent)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (pair_id) DO UPDATE SET
			time = EXCLUDED.time,
			high_pe_id = EXCLUDED.high_pe_id,
			low_pe_id = EXCLUDED.low_pe_id,
			spread_percent = EXCLUDED.spread_percent
	`, row.PairID, row.Time, row.HighPEID, row.LowPEID, row.SpreadPercent)
	if err != nil {
		return fmt.Errorf("catalog: upsert spread_max: %w", err)
	}

	if _, err := tx.Exec(ctx, `UPDATE batch_task SET computed = TRUE, persisted = TRUE WHERE pair_id = $1`, row.PairID); err != nil {
		return fmt.Errorf("catalog: mark computed: %w", err)
	}

	return tx.Commit(ctx)
}

// ComputedSpreads returns every SpreadMax row joined with pair and exchange
// names, ordered by spread percent descending (spec §6 GET /spreads/computed).
type ComputedSpread struct {
	PairName      string
	Time          int64
	HighExchange  config.Exchange
	LowExchange   config.Exchange
	SpreadPercent float64
}

func (s *Store) ComputedSpreads(ctx context.Context) ([]ComputedSpread, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT p.name, sm.time, hi.exchange, lo.exchange, sm.spread_percent
		FROM spread_max sm
		JOIN pairs p ON p.id = sm.pair_id
		JOIN pair_exchanges hi ON hi.id = sm.high_pe_id
		JOIN pair_exchanges lo ON lo.id = sm.low_pe_id
		ORDER BY sm.spread_percent DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("catalog: computed spreads: %w", err)
	}
	defer rows.Close()

	var out []ComputedSpread
	for rows.Next() {
		var cs ComputedSpread
		var hi, lo string
		if err := rows.Scan(&cs.PairName, &cs.Time, &hi, &lo, &cs.SpreadPercent); err != nil {
			return nil, err
		}
		cs.HighExchange, cs.LowExchange = config.Exchange(hi), config.Exchange(lo)
		out = append(out, cs)
	}
	return out, rows.Err()
}

// BatchStatus is the aggregate summary for GET /spreads/batch-status.
type BatchStatus struct {
	TotalPairs           int
	Cached               int
	SpreadsComputed      int
	ProcessingProgressPct float64
}

func (s *Store) BatchStatusSummary(ctx context.Context) (BatchStatus, error) {
	var bs BatchStatus
	var totalPEs int
	err := s.pool.QueryRow(ctx, `
		SELECT
			count(DISTINCT pair_id),
			count(*) FILTER (WHERE cached),
			count(*)
		FROM batch_task
	`).Scan(&bs.TotalPairs, &bs.Cached, &totalPEs)
	if err != nil {
		return bs, fmt.Errorf("catalog: batch status: %w", err)
	}

	err = s.pool.QueryRow(ctx, `SELECT count(*) FROM spread_max`).Scan(&bs.SpreadsComputed)
	if err != nil {
		return bs, fmt.Errorf("catalog: batch status spreads: %w", err)
	}

	if totalPEs > 0 {
		bs.ProcessingProgressPct = float64(bs.Cached) / float64(totalPEs) * 100
	}
	return bs, nil
}
