package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// AlpacaFeed fetches spot prices from an Alpaca-compatible data API.
// Stocks use /v2/stocks/{symbol}/trades/latest with a quote fallback;
// crypto pairs use /v1beta3/crypto/us/latest/trades with symbol aliases
// so BTCUSD, BTC/USD and BTCUSDT resolve to the same pair.
type AlpacaFeed struct {
	baseURL string
	keyID   string
	secret  string
	client  *http.Client
}

func NewAlpacaFeed(baseURL, keyID, secret string, timeout time.Duration) *AlpacaFeed {
	return &AlpacaFeed{
		baseURL: strings.TrimRight(baseURL, "/"),
		keyID:   keyID,
		secret:  secret,
		client:  &http.Client{Timeout: timeout},
	}
}

func (f *AlpacaFeed) doJSON(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if f.keyID != "" {
		req.Header.Set("APCA-API-KEY-ID", f.keyID)
		req.Header.Set("APCA-API-SECRET-KEY", f.secret)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrHTTPError, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return nil
}

type latestTradeResponse struct {
	Trade struct {
		Price float64 `json:"p"`
	} `json:"trade"`
}

type latestQuoteResponse struct {
	Quote struct {
		AskPrice float64 `json:"ap"`
		BidPrice float64 `json:"bp"`
	} `json:"quote"`
}

type cryptoTradesResponse struct {
	Trades map[string]struct {
		Price float64 `json:"p"`
	} `json:"trades"`
}

// FetchPrice returns the normalized symbol and its latest price.
// Prefers the latest trade; falls back to quote ask/bid for stocks.
func (f *AlpacaFeed) FetchPrice(ctx context.Context, symbol string) (string, float64, error) {
	normalized := NormalizeSymbol(symbol)
	if normalized == "" {
		return "", 0, fmt.Errorf("%w: empty symbol", ErrInvalidResponse)
	}
	if IsCryptoSymbol(normalized) {
		px, err := f.fetchCryptoPrice(ctx, normalized)
		if err != nil {
			return normalized, 0, err
		}
		return normalized, px, nil
	}
	px, err := f.fetchStockPrice(ctx, normalized)
	if err != nil {
		return normalized, 0, err
	}
	return normalized, px, nil
}

func (f *AlpacaFeed) fetchStockPrice(ctx context.Context, symbol string) (float64, error) {
	encoded := url.PathEscape(symbol)

	var trade latestTradeResponse
	lastErr := f.doJSON(ctx, fmt.Sprintf("%s/v2/stocks/%s/trades/latest", f.baseURL, encoded), &trade)
	if lastErr == nil {
		if trade.Trade.Price > 0 {
			return trade.Trade.Price, nil
		}
		lastErr = ErrMissingPrice
	}

	var quote latestQuoteResponse
	if err := f.doJSON(ctx, fmt.Sprintf("%s/v2/stocks/%s/quotes/latest", f.baseURL, encoded), &quote); err != nil {
		return 0, err
	}
	if quote.Quote.AskPrice > 0 {
		return quote.Quote.AskPrice, nil
	}
	if quote.Quote.BidPrice > 0 {
		return quote.Quote.BidPrice, nil
	}
	return 0, lastErr
}

func (f *AlpacaFeed) fetchCryptoPrice(ctx context.Context, symbol string) (float64, error) {
	pair := cryptoPairForFeed(symbol)
	var out cryptoTradesResponse
	reqURL := fmt.Sprintf("%s/v1beta3/crypto/us/latest/trades?symbols=%s", f.baseURL, url.QueryEscape(pair))
	if err := f.doJSON(ctx, reqURL, &out); err != nil {
		return 0, err
	}
	for _, trade := range out.Trades {
		if trade.Price > 0 {
			return trade.Price, nil
		}
	}
	return 0, ErrMissingPrice
}

// cryptoPairForFeed maps a normalized crypto symbol (BTCUSD) to the
// slash-separated pair the data API expects (BTC/USD).
func cryptoPairForFeed(symbol string) string {
	for _, quote := range cryptoQuoteSymbols {
		if strings.HasSuffix(symbol, quote) {
			base := strings.TrimSuffix(symbol, quote)
			if _, ok := cryptoBaseSymbols[base]; ok {
				return base + "/" + quote
			}
		}
	}
	return symbol
}

var _ PriceFeed = (*AlpacaFeed)(nil)
