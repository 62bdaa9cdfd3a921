package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// GammaFeed lists active prediction markets from the Polymarket Gamma API.
type GammaFeed struct {
	baseURL string
	client  *http.Client
}

func NewGammaFeed(baseURL string, timeout time.Duration) *GammaFeed {
	return &GammaFeed{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// gammaMarket mirrors the subset of the Gamma /markets payload we read.
// Outcomes and outcomePrices arrive as JSON-encoded string arrays.
type gammaMarket struct {
	ID            string `json:"id"`
	ConditionID   string `json:"conditionId"`
	Slug          string `json:"slug"`
	Question      string `json:"question"`
	Title         string `json:"title"`
	Outcomes      any    `json:"outcomes"`
	OutcomePrices any    `json:"outcomePrices"`
}

// FetchMarkets returns up to limit active, unresolved markets. Markets
// with no positively priced outcome are dropped.
func (f *GammaFeed) FetchMarkets(ctx context.Context, limit int) ([]Market, error) {
	safeLimit := limit
	if safeLimit < 1 {
		safeLimit = 1
	}
	if safeLimit > 100 {
		safeLimit = 100
	}

	reqURL := fmt.Sprintf("%s/markets?active=true&closed=false&limit=%d", f.baseURL, safeLimit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	req.Header.Set("User-Agent", "papersim/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrHTTPError, resp.StatusCode)
	}

	var items []gammaMarket
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	markets := make([]Market, 0, len(items))
	for _, item := range items {
		id := firstNonEmpty(item.ID, item.ConditionID, item.Slug)
		if id == "" {
			continue
		}
		question := firstNonEmpty(item.Question, item.Title, item.Slug, id)

		names := coerceStringList(item.Outcomes)
		prices := coerceStringList(item.OutcomePrices)
		outcomes := make(map[string]float64, len(names))
		for idx, name := range names {
			key := strings.ToUpper(strings.TrimSpace(name))
			if key == "" {
				continue
			}
			var price float64
			if idx < len(prices) {
				price, _ = strconv.ParseFloat(prices[idx], 64)
			}
			if price <= 0 {
				continue
			}
			outcomes[key] = price
		}
		if len(outcomes) == 0 {
			continue
		}
		markets = append(markets, Market{ID: id, Question: question, Outcomes: outcomes})
	}
	return markets, nil
}

// coerceStringList accepts either a JSON array or a JSON-encoded string
// containing an array; Gamma has shipped both shapes.
func coerceStringList(value any) []string {
	switch v := value.(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
		return out
	case string:
		var decoded []any
		if err := json.Unmarshal([]byte(v), &decoded); err != nil {
			return nil
		}
		out := make([]string, 0, len(decoded))
		for _, item := range decoded {
			out = append(out, fmt.Sprint(item))
		}
		return out
	default:
		return nil
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

var _ MarketFeed = (*GammaFeed)(nil)
