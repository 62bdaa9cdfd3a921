package sim

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crabtrading/papersim/pkg/marketdata"
	"github.com/crabtrading/papersim/pkg/metrics"
)

// SubmitOrder fetches a live price for the symbol and executes a market
// order against it. The fetch happens outside the ledger lock; when the
// feed fails, the last cached price is used, and when no price exists at
// all the order is rejected rather than filled at a guess.
func (l *Ledger) SubmitOrder(ctx context.Context, identifier, symbol string, side Side, qty float64) (Fill, error) {
	sym := marketdata.NormalizeSymbol(symbol)
	if sym == "" {
		return Fill{}, fmt.Errorf("%w: empty symbol", ErrInvalidOrder)
	}

	price, source := 0.0, ""
	if l.priceFeed != nil {
		fetchCtx, cancel := context.WithTimeout(ctx, l.cfg.Feeds.PriceTimeout)
		fetched, px, err := l.priceFeed.FetchPrice(fetchCtx, sym)
		cancel()
		if err == nil && px > 0 {
			sym, price, source = fetched, px, "live"
		} else if err != nil {
			l.log.Warn("price fetch failed", zap.String("symbol", sym), zap.Error(err))
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if price <= 0 {
		if cached := l.cachedPriceLocked(sym); cached > 0 {
			price, source = cached, "cache"
		} else {
			return Fill{}, fmt.Errorf("%w: no price for %s", ErrMarketDataUnavailable, sym)
		}
	}

	fill, err := l.executeOrderLocked(identifier, sym, side, qty, price, source)
	if err != nil {
		return Fill{}, err
	}
	l.stockPrices[sym] = price
	l.recordEventLocked("stock_order", fill.AccountID, map[string]any{
		"symbol":       fill.Symbol,
		"side":         string(fill.Side),
		"qty":          fill.Qty,
		"fill_price":   fill.FillPrice,
		"notional":     fill.Notional,
		"price_source": fill.PriceSource,
	})
	l.saveLocked()
	return fill, nil
}

// ExecuteOrder fills an order at the given price. Used directly when
// the caller already has a price (tests, replays); SubmitOrder is the
// live path.
func (l *Ledger) ExecuteOrder(identifier, symbol string, side Side, qty, price float64, priceSource string) (Fill, error) {
	sym := marketdata.NormalizeSymbol(symbol)
	if sym == "" {
		return Fill{}, fmt.Errorf("%w: empty symbol", ErrInvalidOrder)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	fill, err := l.executeOrderLocked(identifier, sym, side, qty, price, priceSource)
	if err != nil {
		return Fill{}, err
	}
	l.stockPrices[sym] = price
	l.saveLocked()
	return fill, nil
}

// executeOrderLocked validates, risk-checks, and applies a fill. Every
// check runs before the first mutation, so a rejected order leaves the
// account untouched.
func (l *Ledger) executeOrderLocked(identifier, symbol string, side Side, qty, price float64, priceSource string) (Fill, error) {
	id := l.resolveLocked(identifier)
	if id == "" {
		return Fill{}, ErrAgentNotFound
	}
	account := l.accounts[id]

	if account.Blocked {
		metrics.RiskRejections.WithLabelValues("blocked").Inc()
		return Fill{}, fmt.Errorf("%w: %s", ErrAgentBlocked, account.DisplayName)
	}
	if side != SideBuy && side != SideSell {
		return Fill{}, fmt.Errorf("%w: side %q", ErrInvalidOrder, side)
	}
	if qty <= 0 || math.IsNaN(qty) || math.IsInf(qty, 0) {
		return Fill{}, fmt.Errorf("%w: qty %v", ErrInvalidOrder, qty)
	}
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return Fill{}, fmt.Errorf("%w: price %v", ErrInvalidOrder, price)
	}

	multiplier := marketdata.ContractMultiplier(symbol)
	notional := qty * price * multiplier
	position := account.Positions[symbol]

	// The daily-loss limit can already be breached before any fill when
	// the mark-to-market refresh drags an open position under water. The
	// order is rejected untouched and the account blocked.
	realized := account.RealizedPnL + account.PolyRealizedPnL
	if loss := realized + l.unrealizedLossLocked(account); loss <= -l.cfg.Risk.MaxDailyLoss {
		l.blockOnDailyLossLocked(account, id, realized, loss)
		l.saveLocked()
		return Fill{}, fmt.Errorf("%w: loss %.2f exceeds limit %.0f",
			ErrRiskMaxDailyLoss, loss, l.cfg.Risk.MaxDailyLoss)
	}

	signedQty := qty
	if side == SideSell {
		signedQty = -qty
	}

	switch side {
	case SideBuy:
		if account.Cash < notional {
			return Fill{}, fmt.Errorf("%w: need %.2f have %.2f", ErrInsufficientCash, notional, account.Cash)
		}
	case SideSell:
		if position < qty {
			return Fill{}, fmt.Errorf("%w: %s holding %.4f selling %.4f",
				ErrInsufficientPosition, symbol, position, qty)
		}
	}
	if next := math.Abs(position + signedQty); next > l.cfg.Risk.MaxAbsPositionPerSymbol {
		metrics.RiskRejections.WithLabelValues("max_position").Inc()
		return Fill{}, fmt.Errorf("%w: %s position %.4f exceeds limit %.0f",
			ErrRiskMaxPosition, symbol, next, l.cfg.Risk.MaxAbsPositionPerSymbol)
	}
	account.applyFill(symbol, signedQty, price, multiplier)
	if side == SideBuy {
		account.Cash -= notional
	} else {
		account.Cash += notional
	}

	// The fill itself can cross the threshold: that trade still settles,
	// then the account is blocked until an operator intervenes.
	realized = account.RealizedPnL + account.PolyRealizedPnL
	if loss := realized + l.unrealizedLossLocked(account); loss <= -l.cfg.Risk.MaxDailyLoss {
		l.blockOnDailyLossLocked(account, id, realized, loss)
	}

	metrics.OrdersTotal.WithLabelValues(strings.ToLower(string(side))).Inc()

	fill := Fill{
		OrderID:     uuid.NewString(),
		AccountID:   id,
		AgentName:   account.DisplayName,
		Symbol:      symbol,
		Side:        side,
		Qty:         qty,
		FillPrice:   price,
		Multiplier:  multiplier,
		Notional:    notional,
		PriceSource: priceSource,
		Status:      "FILLED",
	}
	l.log.Info("order filled",
		zap.String("account_id", id),
		zap.String("symbol", symbol),
		zap.String("side", string(side)),
		zap.Float64("qty", qty),
		zap.Float64("fill_price", price),
		zap.Float64("notional", notional),
	)
	return fill, nil
}

// blockOnDailyLossLocked marks the account blocked and records the
// breach. Unrealized counts only when it hurts, marked against the last
// known price.
func (l *Ledger) blockOnDailyLossLocked(account *Account, id string, realized, loss float64) {
	account.Blocked = true
	metrics.RiskRejections.WithLabelValues("max_daily_loss").Inc()
	l.recordEventLocked("agent_blocked", id, map[string]any{
		"reason":       "max_daily_loss",
		"realized_pnl": realized,
		"total_loss":   loss,
	})
	l.log.Warn("agent blocked on daily loss",
		zap.String("account_id", id),
		zap.Float64("realized_pnl", realized),
		zap.Float64("total_loss", loss),
	)
}

// unrealizedLossLocked sums the adverse leg of every open position's
// mark against the cached price table. Positions with no cached price
// contribute nothing.
func (l *Ledger) unrealizedLossLocked(account *Account) float64 {
	var loss float64
	for symbol, qty := range account.Positions {
		px := l.cachedPriceLocked(symbol)
		if px <= 0 {
			continue
		}
		mark := (px - account.AvgCost[symbol]) * qty * marketdata.ContractMultiplier(symbol)
		if mark < 0 {
			loss += mark
		}
	}
	return loss
}
