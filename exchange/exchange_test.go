package exchange

import (
	"io"
	"log/slog"
	"testing"

	"github.com/arbibridge/spreadscan/internal/config"
	"github.com/arbibridge/spreadscan/internal/xlog"
)

func discardLogger() xlog.Logger {
	return xlog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNormalizeSymbolHandlesCommonSeparators(t *testing.T) {
	cases := map[string]string{
		"BTC-USDT": "BTC/USDT",
		"eth_usdt": "ETH/USDT",
		"SOL/USDT": "SOL/USDT",
	}
	for in, want := range cases {
		if got := NormalizeSymbol(in); got != want {
			t.Errorf("NormalizeSymbol(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCcxtIDsCoversEverySupportedExchange(t *testing.T) {
	for _, ex := range config.SupportedExchanges {
		if _, ok := ccxtIDs[ex]; !ok {
			t.Errorf("exchange %q has no ccxt id mapping", ex)
		}
	}
}

func TestHandleRejectsUnsupportedExchange(t *testing.T) {
	g, err := New(discardLogger(), 8)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := g.handle(config.Exchange("coinbase")); err == nil {
		t.Fatal("expected error for unsupported exchange")
	}
}
