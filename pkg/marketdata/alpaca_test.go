package marketdata

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestAlpacaFetchStockTrade(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("APCA-API-KEY-ID") != "key" {
			t.Errorf("missing auth header on %s", r.URL.Path)
		}
		if r.URL.Path != "/v2/stocks/AAPL/trades/latest" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"trade": {"p": 207.35}}`))
	}))
	defer srv.Close()

	feed := NewAlpacaFeed(srv.URL, "key", "secret", time.Second)
	sym, px, err := feed.FetchPrice(context.Background(), "aapl")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if sym != "AAPL" || px != 207.35 {
		t.Errorf("got (%s, %v), want (AAPL, 207.35)", sym, px)
	}
}

func TestAlpacaQuoteFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v2/stocks/TSLA/trades/latest":
			// Trade endpoint answers but has no price.
			w.Write([]byte(`{"trade": {"p": 0}}`))
		case "/v2/stocks/TSLA/quotes/latest":
			w.Write([]byte(`{"quote": {"ap": 0, "bp": 184.9}}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	feed := NewAlpacaFeed(srv.URL, "", "", time.Second)
	_, px, err := feed.FetchPrice(context.Background(), "TSLA")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if px != 184.9 {
		t.Errorf("bid fallback: got %v, want 184.9", px)
	}
}

func TestAlpacaNoPriceAnywhere(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	feed := NewAlpacaFeed(srv.URL, "", "", time.Second)
	_, _, err := feed.FetchPrice(context.Background(), "NVDA")
	if !errors.Is(err, ErrMissingPrice) {
		t.Errorf("got %v, want ErrMissingPrice", err)
	}
}

func TestAlpacaCryptoPair(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1beta3/crypto/us/latest/trades" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("symbols"); got != "BTC/USD" {
			t.Errorf("symbols param: got %q, want BTC/USD", got)
		}
		w.Write([]byte(`{"trades": {"BTC/USD": {"p": 45123.5}}}`))
	}))
	defer srv.Close()

	feed := NewAlpacaFeed(srv.URL, "", "", time.Second)
	sym, px, err := feed.FetchPrice(context.Background(), "btc")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if sym != "BTCUSD" || px != 45123.5 {
		t.Errorf("got (%s, %v), want (BTCUSD, 45123.5)", sym, px)
	}
}

func TestAlpacaHTTPStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	feed := NewAlpacaFeed(srv.URL, "", "", time.Second)
	_, _, err := feed.FetchPrice(context.Background(), "AAPL")
	if !errors.Is(err, ErrHTTPError) {
		t.Errorf("got %v, want ErrHTTPError", err)
	}
}

func TestAlpacaUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse all connections

	feed := NewAlpacaFeed(srv.URL, "", "", time.Second)
	_, _, err := feed.FetchPrice(context.Background(), "AAPL")
	if !errors.Is(err, ErrUnreachable) {
		t.Errorf("got %v, want ErrUnreachable", err)
	}
}
