package sim

import (
	"context"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/crabtrading/papersim/pkg/marketdata"
	"github.com/crabtrading/papersim/pkg/metrics"
)

// Valuation is a point-in-time equity breakdown for one account. Stock
// and crypto legs are split by the symbol classifier; poly value counts
// only unresolved markets (resolved ones were paid out and cleared).
type Valuation struct {
	AccountID   string  `json:"account_id"`
	AgentName   string  `json:"agent_id"`
	Cash        float64 `json:"cash"`
	StockValue  float64 `json:"stock_value"`
	CryptoValue float64 `json:"crypto_value"`
	PolyValue   float64 `json:"poly_value"`
	Equity      float64 `json:"equity"`
	ReturnPct   float64 `json:"return_pct"`
}

// PositionValue is one holding marked at the last known price.
type PositionValue struct {
	Symbol string  `json:"symbol"`
	Qty    float64 `json:"qty"`
	Value  float64 `json:"value"`
}

// LeaderboardEntry is one ranked row of the leaderboard.
type LeaderboardEntry struct {
	Rank         int             `json:"rank"`
	AccountID    string          `json:"account_id"`
	AgentName    string          `json:"agent_id"`
	Equity       float64         `json:"equity"`
	Cash         float64         `json:"cash"`
	ReturnPct    float64         `json:"return_pct"`
	TopPositions []PositionValue `json:"top_positions,omitempty"`
	IsTest       bool            `json:"is_test,omitempty"`
}

// topPositionsPerRow caps the holdings shown on a leaderboard row.
const topPositionsPerRow = 3

// Value computes the account's equity from cached prices. Positions are
// marked at the last known price; a symbol with no cached price at all
// marks at zero.
func (l *Ledger) Value(identifier string) (Valuation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.resolveLocked(identifier)
	if id == "" {
		return Valuation{}, ErrAgentNotFound
	}
	return l.valueLocked(id), nil
}

func (l *Ledger) valueLocked(id string) Valuation {
	account := l.accounts[id]
	v := Valuation{
		AccountID: id,
		AgentName: account.DisplayName,
		Cash:      account.Cash,
	}
	for symbol, qty := range account.Positions {
		if qty == 0 {
			continue
		}
		px := l.cachedPriceLocked(symbol)
		if px <= 0 {
			continue
		}
		leg := qty * px * marketdata.ContractMultiplier(symbol)
		if marketdata.IsCryptoSymbol(symbol) {
			v.CryptoValue += leg
		} else {
			v.StockValue += leg
		}
	}
	for marketID, outcomes := range account.PolyPositions {
		market, ok := l.polyMarkets[marketID]
		if !ok || market.Resolved {
			continue
		}
		for outcome, shares := range outcomes {
			v.PolyValue += shares * market.Outcomes[outcome]
		}
	}
	v.Equity = v.Cash + v.StockValue + v.CryptoValue + v.PolyValue
	if start := l.cfg.Sim.StartingCash; start > 0 {
		v.ReturnPct = (v.Equity - start) / start * 100
	}
	return v
}

// topPositionsLocked returns the account's largest holdings by absolute
// market value.
func (l *Ledger) topPositionsLocked(account *Account) []PositionValue {
	var holdings []PositionValue
	for symbol, qty := range account.Positions {
		if qty == 0 {
			continue
		}
		px := l.cachedPriceLocked(symbol)
		if px <= 0 {
			continue
		}
		holdings = append(holdings, PositionValue{
			Symbol: symbol,
			Qty:    qty,
			Value:  qty * px * marketdata.ContractMultiplier(symbol),
		})
	}
	sort.SliceStable(holdings, func(i, j int) bool {
		if math.Abs(holdings[i].Value) != math.Abs(holdings[j].Value) {
			return math.Abs(holdings[i].Value) > math.Abs(holdings[j].Value)
		}
		return holdings[i].Symbol < holdings[j].Symbol
	})
	if len(holdings) > topPositionsPerRow {
		holdings = holdings[:topPositionsPerRow]
	}
	return holdings
}

// eligibleForLeaderboardLocked: an account makes the board once it has
// actually traded — an open stock or poly position, or any non-crypto
// stock order on record. Freshly registered idle accounts stay off.
func (l *Ledger) eligibleForLeaderboardLocked(id string, account *Account) bool {
	if account.hasOpenPosition() {
		return true
	}
	for i := range l.activityLog {
		event := &l.activityLog[i]
		if event.AccountID != id || event.Type != "stock_order" {
			continue
		}
		symbol, _ := event.Details["symbol"].(string)
		if !marketdata.IsCryptoSymbol(symbol) {
			return true
		}
	}
	return false
}

// Leaderboard ranks eligible accounts by equity, descending. Ties keep
// registration order. Test accounts are hidden when configured.
func (l *Ledger) Leaderboard() []LeaderboardEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	var entries []LeaderboardEntry
	for _, id := range l.accountIDsStableLocked() {
		account := l.accounts[id]
		if l.cfg.Sim.HideTestData && account.IsTest {
			continue
		}
		if !l.eligibleForLeaderboardLocked(id, account) {
			continue
		}
		v := l.valueLocked(id)
		entries = append(entries, LeaderboardEntry{
			AccountID:    id,
			AgentName:    account.DisplayName,
			Equity:       v.Equity,
			Cash:         v.Cash,
			ReturnPct:    v.ReturnPct,
			TopPositions: l.topPositionsLocked(account),
			IsTest:       account.IsTest,
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Equity > entries[j].Equity
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries
}

// RefreshMarkToMarket re-fetches prices for every tracked symbol and
// merges fresh odds for unresolved markets. Calls closer together than
// the configured interval are skipped, so hot leaderboard reads cannot
// hammer the upstream feeds. Per-symbol fetch failures are logged and
// skipped; the previous mark stands.
func (l *Ledger) RefreshMarkToMarket(ctx context.Context) (int, error) {
	if l.priceFeed == nil && l.marketFeed == nil {
		return 0, nil
	}

	l.refreshMu.Lock()
	now := l.clock.Now()
	if !l.lastRefreshAttempt.IsZero() && now.Sub(l.lastRefreshAttempt) < l.cfg.Feeds.RefreshInterval {
		l.refreshMu.Unlock()
		return 0, nil
	}
	l.lastRefreshAttempt = now
	l.refreshMu.Unlock()
	metrics.RefreshAttempts.Inc()

	updates := make(map[string]float64)
	if l.priceFeed != nil {
		for _, sym := range l.trackedSymbols() {
			fetchCtx, cancel := context.WithTimeout(ctx, l.cfg.Feeds.PriceTimeout)
			resolved, px, err := l.priceFeed.FetchPrice(fetchCtx, sym)
			cancel()
			if err != nil || px <= 0 {
				l.log.Debug("mark-to-market fetch skipped", zap.String("symbol", sym), zap.Error(err))
				continue
			}
			updates[resolved] = px
		}
	}

	if len(updates) > 0 {
		l.mu.Lock()
		for sym, px := range updates {
			l.stockPrices[sym] = px
		}
		l.saveLocked()
		l.mu.Unlock()
	}

	if l.marketFeed != nil {
		if _, err := l.RefreshMarkets(ctx); err != nil {
			l.log.Warn("odds refresh failed", zap.Error(err))
		}
	}

	if len(updates) == 0 {
		return 0, nil
	}

	l.refreshMu.Lock()
	l.lastRefreshSuccess = now
	l.refreshMu.Unlock()
	metrics.RefreshSuccesses.Inc()

	l.log.Info("mark-to-market refreshed", zap.Int("symbols", len(updates)))
	return len(updates), nil
}

// trackedSymbols is the union of every open position and every cached
// price, capped to the configured fetch budget. Held symbols come first
// so the cap never starves an open position of a fresh mark.
func (l *Ledger) trackedSymbols() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	held := make(map[string]struct{})
	for _, account := range l.accounts {
		for symbol, qty := range account.Positions {
			if qty != 0 {
				held[symbol] = struct{}{}
			}
		}
	}
	symbols := sortedKeys(held)
	for _, symbol := range sortedKeys(l.stockPrices) {
		if _, ok := held[symbol]; !ok {
			symbols = append(symbols, symbol)
		}
	}
	if max := l.cfg.Feeds.MaxTrackedSymbols; max > 0 && len(symbols) > max {
		symbols = symbols[:max]
	}
	return symbols
}
