// Package exchange is the Exchange Gateway (spec §4.1): a unified read
// interface over the closed set of supported exchanges, backed by ccxt.
// No retries happen at this layer — a gateway or network error is logged
// and swallowed to the bottom value so one exchange outage never stalls
// a batch run.
package exchange

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	ccxt "github.com/ccxt/ccxt/go/v4"
	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/sync/errgroup"

	"github.com/arbibridge/spreadscan/internal/config"
	"github.com/arbibridge/spreadscan/internal/xlog"
)

// Candle is one OHLCV bucket. Timestamp is epoch milliseconds, UTC.
type Candle struct {
	Timestamp int64
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// ExchangeMarkets is one exchange's tradable symbol listing.
type ExchangeMarkets struct {
	Exchange config.Exchange
	Symbols  []string
}

// ccxtIDs maps our closed exchange enum onto ccxt's own exchange ids.
// Every enum value currently spells the same as its ccxt id.
var ccxtIDs = map[config.Exchange]string{
	config.Binance: "binance",
	config.OKX:     "okx",
	config.Bybit:   "bybit",
	config.MEXC:    "mexc",
	config.BingX:   "bingx",
	config.GateIO:  "gateio",
	config.KuCoin:  "kucoin",
}

// Gateway is the C1 Exchange Gateway.
type Gateway struct {
	log   xlog.Logger
	cache *lru.Cache // ccxt id -> ccxt.IExchange, instantiated lazily

	mu sync.Mutex
}

// New constructs a Gateway. handles caches up to n live exchange
// instances so repeated calls within a run reuse markets already loaded.
func New(log xlog.Logger, handles int) (*Gateway, error) {
	c, err := lru.New(handles)
	if err != nil {
		return nil, fmt.Errorf("exchange: new handle cache: %w", err)
	}
	return &Gateway{log: log, cache: c}, nil
}

func (g *Gateway) handle(ex config.Exchange) (ccxt.IExchange, error) {
	id, ok := ccxtIDs[ex]
	if !ok {
		return nil, fmt.Errorf("exchange: unsupported exchange %q", ex)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if v, ok := g.cache.Get(id); ok {
		return v.(ccxt.IExchange), nil
	}

	instance := ccxt.CreateExchange(id, map[string]interface{}{
		"enableRateLimit": true,
	})
	if instance == nil {
		return nil, fmt.Errorf("exchange: failed to create %s instance", id)
	}
	g.cache.Add(id, instance)
	return instance, nil
}

// Close tears down every live exchange handle. Call once at process
// shutdown (spec §9: exchange connections are per-process singletons
// and must be closed explicitly).
func (g *Gateway) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, key := range g.cache.Keys() {
		if v, ok := g.cache.Peek(key); ok {
			v.(ccxt.IExchange).Close()
		}
	}
	g.cache.Purge()
}

// NormalizeSymbol converts exchange-local symbol spelling (e.g.
// "BTC-USDT") into the canonical pair name "BTC/USDT".
func NormalizeSymbol(raw string) string {
	s := strings.ReplaceAll(raw, "-", "/")
	s = strings.ReplaceAll(s, "_", "/")
	return strings.ToUpper(s)
}

// ListExchangesWithSymbols loads every given exchange's market catalog
// concurrently (spec §4.1 list_exchanges_with_symbols). A single
// exchange's failure to load markets is logged and excluded from the
// result rather than failing the whole call.
func (g *Gateway) ListExchangesWithSymbols(ctx context.Context, exchanges []config.Exchange) []ExchangeMarkets {
	results := make([]ExchangeMarkets, len(exchanges))
	var eg errgroup.Group

	for i, ex := range exchanges {
		i, ex := i, ex
		eg.Go(func() error {
			inst, err := g.handle(ex)
			if err != nil {
				g.log.Error("exchange: create handle failed", "exchange", ex, "err", err)
				return nil
			}
			if _, err := inst.LoadMarkets(); err != nil {
				g.log.Error("exchange: load markets failed", "exchange", ex, "err", err)
				return nil
			}
			raw := inst.GetSymbols()
			symbols := make([]string, 0, len(raw))
			for _, s := range raw {
				symbols = append(symbols, NormalizeSymbol(s))
			}
			sort.Strings(symbols)
			results[i] = ExchangeMarkets{Exchange: ex, Symbols: symbols}
			return nil
		})
	}

	_ = eg.Wait() // errors already logged per-exchange; never fails the group
	out := results[:0]
	for _, r := range results {
		if r.Exchange != "" {
			out = append(out, r)
		}
	}
	return out
}

// FetchOHLCV returns pairName's candle series on exchange at the given
// interval. On any gateway, network, or symbol error it logs and
// returns (nil, nil) — the bottom value from spec §4.1 — rather than an
// error, so callers can treat "no data this round" uniformly.
func (g *Gateway) FetchOHLCV(ctx context.Context, pairName string, ex config.Exchange, interval config.Interval) ([]Candle, error) {
	inst, err := g.handle(ex)
	if err != nil {
		g.log.Error("exchange: fetch_ohlcv handle failed", "exchange", ex, "pair", pairName, "err", err)
		return nil, nil
	}

	bars, err := inst.FetchOHLCV(pairName, ccxt.WithFetchOHLCVTimeframe(string(interval)))
	if err != nil {
		g.log.Warn("exchange: fetch_ohlcv failed", "exchange", ex, "pair", pairName, "interval", interval, "err", err)
		return nil, nil
	}

	candles := make([]Candle, 0, len(bars))
	for _, bar := range bars {
		candles = append(candles, Candle{
			Timestamp: bar.Timestamp,
			Open:      bar.Open,
			High:      bar.High,
			Low:       bar.Low,
			Close:     bar.Close,
			Volume:    bar.Volume,
		})
	}
	return candles, nil
}
