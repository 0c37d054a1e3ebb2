package catalog

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4"

	"github.com/arbibridge/spreadscan/internal/config"
)

// UpsertPairs inserts the given pair names, ignoring ones that already
// exist (spec §4.3 / §7: duplicate-name constraint violations are absorbed
// silently since the insert is already idempotent in shape).
func (s *Store) UpsertPairs(ctx context.Context, names []string) error {
	if len(names) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, name := range names {
		batch.Queue(`INSERT INTO pairs(name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, name)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range names {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("catalog: upsert pairs: %w", err)
		}
	}
	return nil
}

// UpsertPairExchanges joins against the pairs table by name and inserts one
// (pair_id, exchange) row per supplied pair name, ignoring rows that
// already exist for that (pair, exchange).
func (s *Store) UpsertPairExchanges(ctx context.Context, exchange config.Exchange, names []string) error {
	if len(names) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO pair_exchanges (pair_id, exchange)
		SELECT p.id, $2
		FROM pairs p
		WHERE p.name = ANY($1)
		ON CONFLICT (pair_id, exchange) DO NOTHING
	`, names, string(exchange))
	if err != nil {
		return fmt.Errorf("catalog: upsert pair_exchanges for %s: %w", exchange, err)
	}
	return nil
}

// PEsForPair returns every PairExchange row belonging to one pair — the
// full fan the dispatch package needs to assemble a pair's aligned series
// regardless of which chunk each PE was fetched in.
func (s *Store) PEsForPair(ctx context.Context, pairID PairID) ([]PairExchange, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT pe.id, pe.pair_id, p.name, pe.exchange
		FROM pair_exchanges pe
		JOIN pairs p ON p.id = pe.pair_id
		WHERE pe.pair_id = $1
		ORDER BY pe.exchange
	`, pairID)
	if err != nil {
		return nil, fmt.Errorf("catalog: pes for pair: %w", err)
	}
	defer rows.Close()

	var out []PairExchange
	for rows.Next() {
		var pe PairExchange
		var exch string
		if err := rows.Scan(&pe.ID, &pe.PairID, &pe.Pair, &exch); err != nil {
			return nil, err
		}
		pe.Exchange = config.Exchange(exch)
		out = append(out, pe)
	}
	return out, rows.Err()
}

// SelectArbitrable returns every PairExchange row belonging to a pair that
// has at least threshold supporting exchanges (spec §4.3: GROUP BY pair_id
// HAVING COUNT(*) >= threshold).
func (s *Store) SelectArbitrable(ctx context.Context, threshold int) ([]PairExchange, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT pe.id, pe.pair_id, p.name, pe.exchange
		FROM pair_exchanges pe
		JOIN pairs p ON p.id = pe.pair_id
		WHERE pe.pair_id IN (
			SELECT pair_id FROM pair_exchanges GROUP BY pair_id HAVING COUNT(*) >= $1
		)
		ORDER BY p.name, pe.exchange
	`, threshold)
	if err != nil {
		return nil, fmt.Errorf("catalog: select arbitrable: %w", err)
	}
	defer rows.Close()

	var out []PairExchange
	for rows.Next() {
		var pe PairExchange
		var exch string
		if err := rows.Scan(&pe.ID, &pe.PairID, &pe.Pair, &exch); err != nil {
			return nil, err
		}
		pe.Exchange = config.Exchange(exch)
		out = append(out, pe)
	}
	return out, rows.Err()
}
