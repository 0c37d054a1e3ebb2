// Package tasks is the Task Runtime (spec §4.9): a durable, at-least-once
// task queue built on RichardKnop/machinery, with chain and group as its
// two composition primitives. A best-effort RichardKnop/redsync lock
// reduces — but per spec §4.6 is not required to eliminate — duplicate
// concurrent dispatch of the same pair's compute task.
package tasks

import (
	"fmt"
	"time"

	"github.com/RichardKnop/machinery/v1"
	"github.com/RichardKnop/machinery/v1/config"
	"github.com/RichardKnop/machinery/v1/tasks"
	"github.com/RichardKnop/redsync"
	redigo "github.com/gomodule/redigo/redis"

	appconfig "github.com/arbibridge/spreadscan/internal/config"
	"github.com/arbibridge/spreadscan/internal/xlog"
)

const (
	TaskScan    = "spreadscan.scan"
	TaskDispatch = "spreadscan.dispatch"
	TaskCompute = "spreadscan.compute"
)

// Runtime wraps a machinery server plus an optional dispatch lock.
type Runtime struct {
	server *machinery.Server
	lock   *redsync.Redsync
	log    xlog.Logger
}

// Handlers are the functions that actually do the work; registering them
// with machinery is the runtime's job, implementing them is the dispatch
// package's job (spec §4.6).
type Handlers struct {
	Scan    func(peIDs []int64) ([]int64, error)
	Dispatch func(pairIDs []int64) error
	Compute func(pairID int64) error
}

// New builds the runtime against a Redis-backed broker and result
// backend — the simplest durable-FIFO broker that satisfies §9's "any
// broker honoring durable FIFO per key suffices" note.
func New(cfg appconfig.RedisConfig, log xlog.Logger, h Handlers) (*Runtime, error) {
	redisURL := fmt.Sprintf("redis://%s/%d", cfg.Addr(), cfg.DB)

	cnf := &config.Config{
		Broker:        redisURL,
		DefaultQueue:  "spreadscan_tasks",
		ResultBackend: redisURL,
		Redis:         &config.RedisConfig{},
	}

	server, err := machinery.NewServer(cnf)
	if err != nil {
		return nil, fmt.Errorf("tasks: new server: %w", err)
	}

	if err := server.RegisterTasks(map[string]interface{}{
		TaskScan: func(peIDs []int64) ([]int64, error) {
			return h.Scan(peIDs)
		},
		TaskDispatch: func(pairIDs []int64) error {
			return h.Dispatch(pairIDs)
		},
		TaskCompute: func(pairID int64) error {
			return h.Compute(pairID)
		},
	}); err != nil {
		return nil, fmt.Errorf("tasks: register tasks: %w", err)
	}

	pool := &redigo.Pool{
		MaxIdle:     3,
		IdleTimeout: 240 * time.Second,
		Dial:        func() (redigo.Conn, error) { return redigo.Dial("tcp", cfg.Addr()) },
	}
	rs := redsync.New([]redsync.Pool{pool})

	return &Runtime{server: server, lock: rs, log: log}, nil
}

// NewWorker starts a machinery worker consuming from the default queue.
// concurrency is the coarse knob for total CPU/DB concurrency described
// in spec §5.
func (r *Runtime) NewWorker(tag string, concurrency int) *machinery.Worker {
	return r.server.NewWorker(tag, concurrency)
}

// ScanThenDispatch enqueues the chain(scan, dispatch) composition for one
// chunk's cached PE ids (spec §4.5 step 6). The scan only runs once the
// chunk's DB writes have committed — enforced by the caller invoking
// this after mark_cached, not by the runtime itself.
func (r *Runtime) ScanThenDispatch(peIDs []int64) error {
	scanSig := &tasks.Signature{
		Name: TaskScan,
		Args: []tasks.Arg{{Type: "[]int64", Value: peIDs}},
	}
	dispatchSig := &tasks.Signature{Name: TaskDispatch}

	chain, err := tasks.NewChain(scanSig, dispatchSig)
	if err != nil {
		return fmt.Errorf("tasks: build chain: %w", err)
	}
	_, err = r.server.SendChain(chain)
	if err != nil {
		return fmt.Errorf("tasks: send chain: %w", err)
	}
	return nil
}

// DispatchCompute fans out one compute task per pair (spec §4.6
// dispatch). Independent of ordering and failure mode of peers.
func (r *Runtime) DispatchCompute(pairIDs []int64) error {
	sigs := make([]*tasks.Signature, len(pairIDs))
	for i, pid := range pairIDs {
		sigs[i] = &tasks.Signature{
			Name: TaskCompute,
			Args: []tasks.Arg{{Type: "int64", Value: pid}},
		}
	}
	group, err := tasks.NewGroup(sigs...)
	if err != nil {
		return fmt.Errorf("tasks: build group: %w", err)
	}
	_, err = r.server.SendGroup(group, len(sigs))
	if err != nil {
		return fmt.Errorf("tasks: send group: %w", err)
	}
	return nil
}

// TryLockPair attempts a best-effort distributed lock on one pair's
// compute so two racing dispatchers usually don't both do the work; it
// is never relied on for correctness (spec §4.6: correctness comes from
// the upsert + not-yet-computed filter, the lock only reduces waste).
// A failed lock acquisition is not an error — the caller should simply
// skip the pair this round.
func (r *Runtime) TryLockPair(pairID int64) (unlock func(), acquired bool) {
	mutex := r.lock.NewMutex(fmt.Sprintf("spreadscan:compute-lock:%d", pairID))
	if err := mutex.Lock(); err != nil {
		return nil, false
	}
	return func() { _, _ = mutex.Unlock() }, true
}
