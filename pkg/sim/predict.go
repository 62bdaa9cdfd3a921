package sim

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/crabtrading/papersim/pkg/metrics"
)

// PlaceBet spends amount of cash on an outcome at the current odds,
// crediting amount/odds shares. Shares pay 1.0 each if the outcome wins
// and nothing otherwise.
func (l *Ledger) PlaceBet(identifier, marketID, outcome string, amount float64) (Bet, error) {
	if amount <= 0 {
		return Bet{}, fmt.Errorf("%w: amount %v", ErrInvalidOrder, amount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	id := l.resolveLocked(identifier)
	if id == "" {
		return Bet{}, ErrAgentNotFound
	}
	account := l.accounts[id]
	if account.Blocked {
		return Bet{}, fmt.Errorf("%w: %s", ErrAgentBlocked, account.DisplayName)
	}

	market, ok := l.polyMarkets[marketID]
	if !ok {
		return Bet{}, fmt.Errorf("%w: %s", ErrMarketNotFound, marketID)
	}
	if market.Resolved {
		return Bet{}, fmt.Errorf("%w: %s", ErrMarketAlreadyResolved, marketID)
	}

	outcome = strings.ToUpper(strings.TrimSpace(outcome))
	odds, ok := market.Outcomes[outcome]
	if !ok {
		return Bet{}, fmt.Errorf("%w: %q in %s", ErrInvalidOutcome, outcome, marketID)
	}
	if odds <= 0 {
		return Bet{}, fmt.Errorf("%w: %s/%s priced at %v", ErrInvalidOdds, marketID, outcome, odds)
	}

	if account.Cash < amount {
		return Bet{}, fmt.Errorf("%w: need %.2f have %.2f", ErrInsufficientCash, amount, account.Cash)
	}

	shares := amount / odds
	account.Cash -= amount
	account.addPolyShares(marketID, outcome, shares, amount)

	l.recordEventLocked("poly_bet", id, map[string]any{
		"market_id": marketID,
		"outcome":   outcome,
		"amount":    amount,
		"odds":      odds,
		"shares":    shares,
	})
	l.saveLocked()
	metrics.BetsTotal.Inc()

	l.log.Info("bet placed",
		zap.String("account_id", id),
		zap.String("market_id", marketID),
		zap.String("outcome", outcome),
		zap.Float64("amount", amount),
		zap.Float64("shares", shares),
	)
	return Bet{
		AccountID: id,
		AgentName: account.DisplayName,
		MarketID:  marketID,
		Outcome:   outcome,
		Odds:      odds,
		Amount:    amount,
		Shares:    shares,
		Status:    "ACCEPTED",
	}, nil
}

// ResolveMarket settles a market exactly once: every account's winning
// shares pay 1.0 each, realized PnL is booked against the full cost
// basis held in the market, and all positions in the market are cleared
// for every account, winners and losers alike.
func (l *Ledger) ResolveMarket(marketID, winningOutcome string) (Resolution, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	market, ok := l.polyMarkets[marketID]
	if !ok {
		return Resolution{}, fmt.Errorf("%w: %s", ErrMarketNotFound, marketID)
	}
	if market.Resolved {
		return Resolution{}, fmt.Errorf("%w: %s", ErrMarketAlreadyResolved, marketID)
	}
	winningOutcome = strings.ToUpper(strings.TrimSpace(winningOutcome))
	if _, ok := market.Outcomes[winningOutcome]; !ok {
		return Resolution{}, fmt.Errorf("%w: %q in %s", ErrInvalidWinningOutcome, winningOutcome, marketID)
	}

	resolution := Resolution{MarketID: marketID, WinningOutcome: winningOutcome}
	for _, id := range l.accountIDsStableLocked() {
		account := l.accounts[id]
		payout := account.polyShares(marketID, winningOutcome)
		costBasis := account.clearPolyMarket(marketID)
		if payout == 0 && costBasis == 0 {
			continue
		}
		account.Cash += payout
		account.PolyRealizedPnL += payout - costBasis

		// The audit list names accounts that were actually paid; losers
		// are settled (positions cleared, losses booked) but not listed.
		if payout > 0 {
			resolution.Payouts = append(resolution.Payouts, Payout{
				AccountID: id,
				AgentName: account.DisplayName,
				Amount:    payout,
				PnL:       payout - costBasis,
			})
			metrics.PayoutsPaid.Add(payout)
		}
		l.recordEventLocked("poly_settlement", id, map[string]any{
			"market_id":       marketID,
			"winning_outcome": winningOutcome,
			"payout":          payout,
			"pnl":             payout - costBasis,
		})
	}

	market.Resolved = true
	market.WinningOutcome = winningOutcome
	l.recordEventLocked("poly_market_resolved", "", map[string]any{
		"market_id":       marketID,
		"winning_outcome": winningOutcome,
		"payouts":         len(resolution.Payouts),
	})
	l.saveLocked()
	metrics.ResolutionsTotal.Inc()

	l.log.Info("market resolved",
		zap.String("market_id", marketID),
		zap.String("winning_outcome", winningOutcome),
		zap.Int("payouts", len(resolution.Payouts)),
	)
	return resolution, nil
}

// RefreshMarkets pulls the market list from the feed and merges it into
// the ledger. Resolved markets are never touched by a merge; their
// settled state is final regardless of what the feed says.
func (l *Ledger) RefreshMarkets(ctx context.Context) (int, error) {
	if l.marketFeed == nil {
		return 0, nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, l.cfg.Feeds.MarketsTimeout)
	fetched, err := l.marketFeed.FetchMarkets(fetchCtx, l.cfg.Feeds.MarketsLimit)
	cancel()
	if err != nil {
		l.log.Warn("market refresh failed", zap.Error(err))
		return 0, fmt.Errorf("refresh markets: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	merged := 0
	for _, m := range fetched {
		if existing, ok := l.polyMarkets[m.ID]; ok && existing.Resolved {
			continue
		}
		outcomes := make(map[string]float64, len(m.Outcomes))
		for name, px := range m.Outcomes {
			outcomes[name] = px
		}
		l.polyMarkets[m.ID] = &PredictionMarket{
			ID:       m.ID,
			Question: m.Question,
			Outcomes: outcomes,
		}
		merged++
	}
	if merged > 0 {
		l.saveLocked()
	}
	l.log.Info("markets refreshed", zap.Int("fetched", len(fetched)), zap.Int("merged", merged))
	return merged, nil
}

// ListMarkets returns the current markets sorted by ID. When the ledger
// has no markets at all it tries one refresh first.
func (l *Ledger) ListMarkets(ctx context.Context) []PredictionMarket {
	l.mu.Lock()
	empty := len(l.polyMarkets) == 0
	l.mu.Unlock()
	if empty {
		_, _ = l.RefreshMarkets(ctx)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]PredictionMarket, 0, len(l.polyMarkets))
	for _, id := range sortedKeys(l.polyMarkets) {
		m := l.polyMarkets[id]
		copyOutcomes := make(map[string]float64, len(m.Outcomes))
		for name, px := range m.Outcomes {
			copyOutcomes[name] = px
		}
		out = append(out, PredictionMarket{
			ID:             m.ID,
			Question:       m.Question,
			Outcomes:       copyOutcomes,
			Resolved:       m.Resolved,
			WinningOutcome: m.WinningOutcome,
		})
	}
	return out
}
