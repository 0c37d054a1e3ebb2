// Package catalog is the Persistent Catalog (spec §4.3): the relational
// store of record for pairs, pair/exchange tuples, per-run batch task
// status, and computed spreads. It owns the schema and is the only
// component allowed to mutate these tables.
package catalog

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/arbibridge/spreadscan/internal/config"
	"github.com/arbibridge/spreadscan/internal/xlog"
)

// PairID is the surrogate key of a pairs row.
type PairID int64

// PEID is the surrogate key of a pair_exchanges row — the unit of work for
// the batch fetcher and the cache layer's OHLCV key.
type PEID int64

// PairExchange is one (pair, exchange) tuple.
type PairExchange struct {
	ID     PEID
	PairID PairID
	Pair   string
	Exchange config.Exchange
}

// BatchTaskStatus is one row's progress flags for a single run.
type BatchTaskStatus struct {
	PEID      PEID
	PairID    PairID
	Interval  config.Interval
	Cached    bool
	Computed  bool
	Persisted bool
}

// SpreadMax is the persisted result of the spread engine for one pair.
type SpreadMax struct {
	PairID        PairID
	Time          int64 // epoch ms
	HighPEID      PEID
	LowPEID       PEID
	SpreadPercent float64
}

// Store is the Postgres-backed implementation of the Persistent Catalog.
type Store struct {
	pool *pgxpool.Pool
	log  xlog.Logger
}

// Open connects to Postgres and ensures the schema exists.
func Open(ctx context.Context, cfg config.PostgresConfig, log xlog.Logger) (*Store, error) {
	pool, err := pgxpool.Connect(ctx, (&cfg).DSN())
	if err != nil {
		return nil, fmt.Errorf("catalog: connect: %w", err)
	}
	s := &Store{pool: pool, log: log}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("catalog: migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() { s.pool.Close() }

const schemaDDL = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS pairs (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS pair_exchanges (
	id BIGSERIAL PRIMARY KEY,
	pair_id BIGINT NOT NULL REFERENCES pairs(id),
	exchange TEXT NOT NULL,
	UNIQUE(pair_id, exchange)
);

CREATE TABLE IF NOT EXISTS batch_task (
	pe_id BIGINT PRIMARY KEY REFERENCES pair_exchanges(id),
	pair_id BIGINT NOT NULL REFERENCES pairs(id),
	interval TEXT NOT NULL,
	cached BOOLEAN NOT NULL DEFAULT FALSE,
	computed BOOLEAN NOT NULL DEFAULT FALSE,
	persisted BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS idx_batch_task_pair_id ON batch_task(pair_id);

CREATE TABLE IF NOT EXISTS spread_max (
	pair_id BIGINT PRIMARY KEY REFERENCES pairs(id),
	time BIGINT NOT NULL,
	high_pe_id BIGINT NOT NULL REFERENCES pair_exchanges(id),
	low_pe_id BIGINT NOT NULL REFERENCES pair_exchanges(id),
	spread_percent DOUBLE PRECISION NOT NULL
);
`

const schemaVersion = 1

func (s *Store) migrate(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, schemaDDL); err != nil {
		return err
	}

	var count int
	if err := tx.QueryRow(ctx, `SELECT count(*) FROM schema_version`).Scan(&count); err != nil {
		return err
	}
	if count == 0 {
		if _, err := tx.Exec(ctx, `INSERT INTO schema_version(version) VALUES ($1)`, schemaVersion); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}
