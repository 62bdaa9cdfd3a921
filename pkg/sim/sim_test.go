package sim

import (
	"context"
	"math"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/crabtrading/papersim/params"
	"github.com/crabtrading/papersim/pkg/marketdata"
	"github.com/crabtrading/papersim/pkg/util"
)

const eps = 1e-9

func almostEqual(a, b float64) bool { return math.Abs(a-b) < eps }

// fakePriceFeed serves prices from a map and records call counts.
type fakePriceFeed struct {
	prices map[string]float64
	err    error
	calls  int
}

func (f *fakePriceFeed) FetchPrice(_ context.Context, symbol string) (string, float64, error) {
	f.calls++
	if f.err != nil {
		return "", 0, f.err
	}
	px, ok := f.prices[symbol]
	if !ok {
		return "", 0, marketdata.ErrMissingPrice
	}
	return symbol, px, nil
}

type fakeMarketFeed struct {
	markets []marketdata.Market
	err     error
	calls   int
}

func (f *fakeMarketFeed) FetchMarkets(_ context.Context, _ int) ([]marketdata.Market, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.markets, nil
}

type testLedgerOpts struct {
	cfg        *params.Config
	priceFeed  marketdata.PriceFeed
	marketFeed marketdata.MarketFeed
	clock      util.Clock
}

// newTestLedger opens a ledger on a temporary Pebble directory. Each
// test gets its own directory so stores never conflict.
func newTestLedger(t *testing.T, opts testLedgerOpts) *Ledger {
	t.Helper()

	cfg := params.Default()
	if opts.cfg != nil {
		cfg = *opts.cfg
	}
	cfg.Sim.StateDir = t.TempDir()
	cfg.Sim.LegacyStateFile = ""

	clock := opts.clock
	if clock == nil {
		clock = util.NewManualClock(time.Date(2026, 1, 2, 9, 30, 0, 0, time.UTC))
	}

	l, err := Open(cfg, zap.NewNop(), opts.priceFeed, opts.marketFeed, clock)
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

// register is a shorthand that fails the test on error.
func register(t *testing.T, l *Ledger, name string, cash float64) Registration {
	t.Helper()
	reg, err := l.CreateAccount(name, cash, false)
	if err != nil {
		t.Fatalf("create account %s: %v", name, err)
	}
	return reg
}
