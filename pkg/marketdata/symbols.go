package marketdata

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ErrInvalidSymbol is returned when a raw symbol cannot be normalized
// into a tradable form.
var ErrInvalidSymbol = errors.New("invalid_symbol")

// PreIPOPrefix marks tokenized pre-IPO symbols, e.g. "PRE:SPACEX".
const PreIPOPrefix = "PRE:"

// occSymbolRe matches OCC option symbols: root, yymmdd, C/P, strike*1000.
var occSymbolRe = regexp.MustCompile(`^[A-Z]{1,6}\d{6}[CP]\d{8}$`)

var optionRootRe = regexp.MustCompile(`^[A-Z]{1,6}$`)

// listedTickerAliases maps company names that have since listed publicly
// to their exchange tickers.
var listedTickerAliases = map[string]string{
	"FIGMA": "FIG",
}

var cryptoBaseSymbols = map[string]struct{}{
	"BTC": {}, "ETH": {}, "SOL": {}, "DOGE": {}, "LTC": {}, "BNB": {},
	"XRP": {}, "ADA": {}, "AVAX": {}, "DOT": {}, "MATIC": {}, "LINK": {},
	"BCH": {}, "ETC": {}, "UNI": {}, "ATOM": {}, "TRX": {}, "SHIB": {},
	"PEPE": {}, "ARB": {}, "OP": {}, "NEAR": {},
}

var cryptoQuoteSymbols = []string{"USDT", "USDC", "USD", "BTC", "ETH"}

var cryptoFiatQuotes = map[string]struct{}{"USD": {}, "USDT": {}, "USDC": {}}

// NormalizeSymbol canonicalizes a raw user symbol:
//   - listed aliases map to their exchange ticker (FIGMA -> FIG)
//   - pre-IPO tokens keep the PRE: prefix
//   - "O:" option prefixes are stripped, OCC symbols pass through
//   - crypto pairs collapse to BASEQUOTE with fiat quotes folded to USD
//     (BTC -> BTCUSD, ETH/USDT -> ETHUSD, SOL-USDC -> SOLUSD)
//
// Returns "" for an empty input; callers treat that as ErrInvalidSymbol.
func NormalizeSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	s = strings.ReplaceAll(s, " ", "")
	if s == "" {
		return ""
	}
	if listed, ok := listedTickerAliases[s]; ok {
		return listed
	}
	if strings.HasPrefix(s, PreIPOPrefix) {
		base := strings.TrimPrefix(s, PreIPOPrefix)
		if base == "" {
			return ""
		}
		return PreIPOPrefix + base
	}
	if rest, ok := strings.CutPrefix(s, "O:"); ok {
		s = rest
	}
	if occSymbolRe.MatchString(s) {
		return s
	}

	for _, sep := range []string{"/", "-", "_"} {
		if left, right, found := strings.Cut(s, sep); found {
			if _, baseOK := cryptoBaseSymbols[left]; baseOK && isCryptoQuote(right) {
				if _, fiat := cryptoFiatQuotes[right]; fiat {
					return left + "USD"
				}
				return left + right
			}
			return s
		}
	}

	if _, ok := cryptoBaseSymbols[s]; ok {
		return s + "USD"
	}
	for _, quote := range cryptoQuoteSymbols {
		if base, found := strings.CutSuffix(s, quote); found {
			if _, ok := cryptoBaseSymbols[base]; ok {
				if _, fiat := cryptoFiatQuotes[quote]; fiat {
					return base + "USD"
				}
				return s
			}
		}
	}
	return s
}

func isCryptoQuote(q string) bool {
	for _, quote := range cryptoQuoteSymbols {
		if q == quote {
			return true
		}
	}
	return false
}

// IsCryptoSymbol reports whether the symbol is a crypto base or pair.
func IsCryptoSymbol(symbol string) bool {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if s == "" {
		return false
	}
	if _, ok := cryptoBaseSymbols[s]; ok {
		return true
	}
	for _, sep := range []string{"/", "-", "_"} {
		if left, right, found := strings.Cut(s, sep); found {
			_, baseOK := cryptoBaseSymbols[left]
			return baseOK && isCryptoQuote(right)
		}
	}
	for _, quote := range cryptoQuoteSymbols {
		if base, found := strings.CutSuffix(s, quote); found {
			if _, ok := cryptoBaseSymbols[base]; ok {
				return true
			}
		}
	}
	return false
}

// IsOptionSymbol reports whether the symbol is an OCC option symbol.
func IsOptionSymbol(symbol string) bool {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if rest, ok := strings.CutPrefix(s, "O:"); ok {
		s = rest
	}
	return occSymbolRe.MatchString(s)
}

// IsPreIPOSymbol reports whether the symbol is a tokenized pre-IPO asset.
func IsPreIPOSymbol(symbol string) bool {
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(symbol)), PreIPOPrefix)
}

// ContractMultiplier returns the per-unit notional multiplier: 100 for
// option contracts, 1 for everything else.
func ContractMultiplier(symbol string) float64 {
	if IsOptionSymbol(symbol) {
		return 100.0
	}
	return 1.0
}

// BuildOptionSymbol assembles an OCC symbol from its parts, e.g.
// ("AAPL", "2026-03-20", "C", 210) -> "AAPL260320C00210000".
// Weekend expiries are rejected since listed options expire on weekdays.
func BuildOptionSymbol(underlying, expiry, right string, strike float64) (string, error) {
	root := strings.ToUpper(strings.TrimSpace(underlying))
	if !optionRootRe.MatchString(root) {
		return "", fmt.Errorf("%w: option underlying %q", ErrInvalidSymbol, underlying)
	}
	expDate, err := time.Parse("2006-01-02", strings.TrimSpace(expiry))
	if err != nil {
		return "", fmt.Errorf("%w: option expiry %q, want YYYY-MM-DD", ErrInvalidSymbol, expiry)
	}
	if wd := expDate.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return "", fmt.Errorf("%w: option expiry %s falls on a weekend", ErrInvalidSymbol, expiry)
	}
	r := strings.ToUpper(strings.TrimSpace(right))
	if r == "CALL" {
		r = "C"
	}
	if r == "PUT" {
		r = "P"
	}
	if r != "C" && r != "P" {
		return "", fmt.Errorf("%w: option right %q", ErrInvalidSymbol, right)
	}
	if strike <= 0 {
		return "", fmt.Errorf("%w: option strike %v", ErrInvalidSymbol, strike)
	}
	return fmt.Sprintf("%s%s%s%08d", root, expDate.Format("060102"), r, int64(strike*1000+0.5)), nil
}

// CryptoAliases returns cache-lookup aliases for a crypto symbol so a
// price stored under one quote spelling still serves the others.
func CryptoAliases(symbol string) []string {
	s := NormalizeSymbol(symbol)
	if !IsCryptoSymbol(s) {
		return []string{s}
	}
	var base, quote string
	for _, candidate := range cryptoQuoteSymbols {
		if b, found := strings.CutSuffix(s, candidate); found {
			base, quote = b, candidate
			break
		}
	}
	if base == "" {
		return []string{s}
	}
	aliases := []string{base + quote}
	if _, fiat := cryptoFiatQuotes[quote]; fiat {
		aliases = append(aliases, base+"USD", base+"USDT", base+"USDC")
	}
	seen := make(map[string]struct{}, len(aliases))
	deduped := aliases[:0]
	for _, alias := range aliases {
		if _, dup := seen[alias]; dup {
			continue
		}
		seen[alias] = struct{}{}
		deduped = append(deduped, alias)
	}
	return deduped
}
