// Command spreadscan runs the cross-exchange arbitrage-spread discovery
// pipeline: an HTTP server process (serve), a task worker process
// (worker), a one-shot batch trigger, and a CLI status view.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/arbibridge/spreadscan/api"
	"github.com/arbibridge/spreadscan/batch"
	"github.com/arbibridge/spreadscan/cache"
	"github.com/arbibridge/spreadscan/catalog"
	"github.com/arbibridge/spreadscan/dispatch"
	"github.com/arbibridge/spreadscan/exchange"
	"github.com/arbibridge/spreadscan/internal/config"
	"github.com/arbibridge/spreadscan/internal/xlog"
	"github.com/arbibridge/spreadscan/tasks"
)

func main() {
	if _, err := maxprocs.Set(maxprocs.Logger(func(string, ...interface{}) {})); err != nil {
		fmt.Fprintf(os.Stderr, "spreadscan: maxprocs: %v\n", err)
	}

	app := &cli.App{
		Name:  "spreadscan",
		Usage: "cross-exchange arbitrage-spread discovery pipeline",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "path to a config file"},
		},
		Commands: []*cli.Command{
			serveCmd,
			workerCmd,
			triggerCmd,
			statusCmd,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "spreadscan: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(c *cli.Context) (*config.Config, xlog.Logger, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, nil, err
	}

	var handler = xlog.NewTerminalHandler(os.Stderr, levelFromString(cfg.LogLevel))
	if cfg.LogJSON {
		handler = xlog.NewJSONHandler(os.Stderr, levelFromString(cfg.LogLevel))
	}
	if cfg.LogFile != "" {
		handler = xlog.NewRotatingFileHandler(cfg.LogFile, 100, 5, 28, levelFromString(cfg.LogLevel))
	}
	log := xlog.New(handler)
	xlog.SetDefault(log)
	return cfg, log, nil
}

func levelFromString(s string) xlog.Level {
	switch s {
	case "trace":
		return xlog.LevelTrace
	case "debug":
		return xlog.LevelDebug
	case "warn":
		return xlog.LevelWarn
	case "error":
		return xlog.LevelError
	default:
		return xlog.LevelInfo
	}
}

type core struct {
	store    *catalog.Store
	gateway  *exchange.Gateway
	fetcher  *batch.Fetcher
	dispatch *dispatch.Dispatcher
	runtime  *tasks.Runtime
	cfg      *config.Config
}

func (c *core) InitPairs(ctx context.Context) error {
	listings := c.gateway.ListExchangesWithSymbols(ctx, config.SupportedExchanges)
	for _, l := range listings {
		if err := c.store.UpsertPairs(ctx, l.Symbols); err != nil {
			return err
		}
		if err := c.store.UpsertPairExchanges(ctx, l.Exchange, l.Symbols); err != nil {
			return err
		}
	}
	return nil
}

func (c *core) TriggerComputeAll(ctx context.Context) error {
	return c.fetcher.Run(ctx, c.cfg.ArbitrageThresh, c.cfg.DefaultInterval, func(done batch.ChunkDone) error {
		ids := make([]int64, len(done.CachedPEIDs))
		for i, id := range done.CachedPEIDs {
			ids[i] = int64(id)
		}
		if len(ids) == 0 {
			return nil
		}
		return c.runtime.ScanThenDispatch(ids)
	})
}

func buildCore(ctx context.Context, cfg *config.Config, log xlog.Logger) (*core, error) {
	store, err := catalog.Open(ctx, cfg.Postgres, log)
	if err != nil {
		return nil, err
	}
	gw, err := exchange.New(log, len(config.SupportedExchanges))
	if err != nil {
		return nil, err
	}
	cacheStore := cache.Open(cfg.Redis, log)
	fetcher := batch.New(store, gw, cacheStore, log, cfg, 16)
	disp := dispatch.New(store, cacheStore, log)

	rt, err := tasks.New(cfg.Redis, log, tasks.Handlers{
		Scan: func(peIDs []int64) ([]int64, error) {
			return disp.Scan(ctx, peIDs)
		},
		Dispatch: disp.Dispatch,
		Compute: func(pairID int64) error {
			return disp.Compute(ctx, pairID)
		},
	})
	if err != nil {
		return nil, err
	}
	disp.SetRuntime(rt)

	return &core{store: store, gateway: gw, fetcher: fetcher, dispatch: disp, runtime: rt, cfg: cfg}, nil
}

var serveCmd = &cli.Command{
	Name:  "serve",
	Usage: "run the HTTP API surface",
	Action: func(c *cli.Context) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg, log, err := loadConfig(c)
		if err != nil {
			return err
		}
		co, err := buildCore(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer co.store.Close()
		defer co.gateway.Close()

		if err := config.WatchReload(c.String("config"), func(reloaded *config.Config) {
			log.Info("spreadscan: config reloaded", "chunk_size", reloaded.ChunkSize, "inter_chunk_sleep", reloaded.InterChunkSleep, "cache_ttl", reloaded.CacheTTL)
			co.fetcher.ApplyTuning(reloaded.ChunkSize, reloaded.InterChunkSleep, reloaded.CacheTTL)
		}); err != nil {
			log.Warn("spreadscan: config hot-reload watch failed to start", "err", err)
		}

		srv := api.New(co, co.store, log, cfg)
		httpServer := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: srv.Handler()}

		go func() {
			<-ctx.Done()
			_ = httpServer.Close()
		}()

		log.Info("spreadscan: serving", "port", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	},
}

var workerCmd = &cli.Command{
	Name:  "worker",
	Usage: "run a task runtime worker consuming scan/dispatch/compute tasks",
	Flags: []cli.Flag{
		&cli.IntFlag{Name: "concurrency", Value: 10},
	},
	Action: func(c *cli.Context) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg, log, err := loadConfig(c)
		if err != nil {
			return err
		}
		co, err := buildCore(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer co.store.Close()
		defer co.gateway.Close()

		if err := config.WatchReload(c.String("config"), func(reloaded *config.Config) {
			log.Info("spreadscan: config reloaded", "chunk_size", reloaded.ChunkSize, "inter_chunk_sleep", reloaded.InterChunkSleep, "cache_ttl", reloaded.CacheTTL)
			co.fetcher.ApplyTuning(reloaded.ChunkSize, reloaded.InterChunkSleep, reloaded.CacheTTL)
		}); err != nil {
			log.Warn("spreadscan: config hot-reload watch failed to start", "err", err)
		}

		w := co.runtime.NewWorker("spreadscan_worker", c.Int("concurrency"))
		log.Info("spreadscan: worker launching", "concurrency", c.Int("concurrency"))
		return w.Launch()
	},
}

var triggerCmd = &cli.Command{
	Name:  "batch-trigger",
	Usage: "run spec §4.5's batch orchestration loop once, synchronously",
	Action: func(c *cli.Context) error {
		ctx := context.Background()
		cfg, log, err := loadConfig(c)
		if err != nil {
			return err
		}
		co, err := buildCore(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer co.store.Close()
		defer co.gateway.Close()

		if err := co.InitPairs(ctx); err != nil {
			return err
		}
		return co.TriggerComputeAll(ctx)
	},
}

var statusCmd = &cli.Command{
	Name:  "status",
	Usage: "print the current batch-status summary",
	Action: func(c *cli.Context) error {
		ctx := context.Background()
		cfg, log, err := loadConfig(c)
		if err != nil {
			return err
		}
		store, err := catalog.Open(ctx, cfg.Postgres, log)
		if err != nil {
			return err
		}
		defer store.Close()

		status, err := store.BatchStatusSummary(ctx)
		if err != nil {
			return err
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Total Pairs", "Cached", "Spreads Computed", "Progress %"})
		table.Append([]string{
			fmt.Sprintf("%d", status.TotalPairs),
			fmt.Sprintf("%d", status.Cached),
			fmt.Sprintf("%d", status.SpreadsComputed),
			fmt.Sprintf("%.1f", status.ProcessingProgressPct),
		})
		table.Render()
		return nil
	},
}
