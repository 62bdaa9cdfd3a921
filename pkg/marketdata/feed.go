// Package marketdata provides the external price and prediction-market
// feed clients. Feed calls never touch ledger state and must happen
// outside the ledger lock; callers fall back to cached values when a
// fetch fails.
package marketdata

import (
	"context"
	"errors"
)

// Feed failure taxonomy. Callers distinguish transport failures from bad
// payloads only for logging; all of them mean "use the cache or fail closed".
var (
	ErrUnreachable     = errors.New("market_data_unreachable")
	ErrHTTPError       = errors.New("market_data_http_error")
	ErrInvalidResponse = errors.New("market_data_invalid_response")
	ErrMissingPrice    = errors.New("market_data_missing_price")
)

// PriceFeed returns a spot price for a symbol. The returned symbol is the
// feed's normalized form (may differ from the requested one for crypto
// pair aliases).
type PriceFeed interface {
	FetchPrice(ctx context.Context, symbol string) (string, float64, error)
}

// Market is one binary-outcome prediction market as reported by the feed.
// Odds are prices in (0, 1]; zero-priced outcomes are dropped upstream.
type Market struct {
	ID       string             `json:"market_id"`
	Question string             `json:"question"`
	Outcomes map[string]float64 `json:"outcomes"`
}

// MarketFeed lists currently active prediction markets.
type MarketFeed interface {
	FetchMarkets(ctx context.Context, limit int) ([]Market, error)
}
