// Package sim is the ledger and accounting core of the paper-trading
// simulator: accounts, order execution, prediction-market betting and
// resolution, mark-to-market valuation, and the durable snapshot store
// behind all of it.
//
// One mutex guards the whole ledger. Exported methods acquire it;
// internal helpers with the Locked suffix assume it is held. Persistence
// is synchronous: mutating operations write the snapshot before the lock
// is released. Market-data fetches always happen outside the lock.
package sim

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crabtrading/papersim/params"
	"github.com/crabtrading/papersim/pkg/marketdata"
	"github.com/crabtrading/papersim/pkg/metrics"
	"github.com/crabtrading/papersim/pkg/util"
)

var agentNameRe = regexp.MustCompile(`^[A-Za-z0-9_\-]{3,64}$`)

// Ledger is the authoritative in-memory state plus its durable store.
type Ledger struct {
	mu    sync.Mutex
	cfg   params.Config
	log   *zap.Logger
	store *StateStore
	clock util.Clock

	priceFeed  marketdata.PriceFeed
	marketFeed marketdata.MarketFeed

	accounts   map[string]*Account
	nameToID   map[string]string
	agentKeys  map[string]string // account ID -> API key
	keyToAgent map[string]string // API key -> account ID

	challenges    map[string]RegistrationChallenge // claim token -> challenge
	pendingByName map[string]string                // agent name -> claim token
	regByAPIKey   map[string]string                // API key -> claim token
	following     map[string][]string              // account ID -> followed account IDs

	stockPrices    map[string]float64
	polyMarkets    map[string]*PredictionMarket
	activityLog    []ActivityEvent
	nextActivityID int64
	testAgents     map[string]struct{}

	// insertionOrder preserves registration order for stable leaderboard
	// tie-breaks.
	insertionOrder []string

	refreshMu          sync.Mutex
	lastRefreshAttempt time.Time
	lastRefreshSuccess time.Time
}

// Open loads (or initializes) the ledger from the embedded state store.
// An unparseable snapshot is discarded and the ledger starts empty; the
// service stays available and the condition is logged and counted.
func Open(cfg params.Config, logger *zap.Logger, priceFeed marketdata.PriceFeed, marketFeed marketdata.MarketFeed, clock util.Clock) (*Ledger, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = util.RealClock{}
	}
	store, err := OpenStateStore(cfg.Sim.StateDir)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}

	l := &Ledger{
		cfg:        cfg,
		log:        logger,
		store:      store,
		clock:      clock,
		priceFeed:  priceFeed,
		marketFeed: marketFeed,
	}
	l.resetLocked()

	if err := l.loadRuntimeState(); err != nil {
		// Availability over strict durability: log, count, start empty.
		logger.Error("state load failed, starting empty", zap.Error(err))
		metrics.SnapshotLoadFailures.Inc()
		l.resetLocked()
	}
	metrics.Accounts.Set(float64(len(l.accounts)))
	return l, nil
}

func (l *Ledger) Close() error {
	if l.store == nil {
		return nil
	}
	return l.store.Close()
}

// resetLocked reinitializes every structure to its seed state.
func (l *Ledger) resetLocked() {
	l.accounts = make(map[string]*Account)
	l.nameToID = make(map[string]string)
	l.agentKeys = make(map[string]string)
	l.keyToAgent = make(map[string]string)
	l.challenges = make(map[string]RegistrationChallenge)
	l.pendingByName = make(map[string]string)
	l.regByAPIKey = make(map[string]string)
	l.following = make(map[string][]string)
	l.stockPrices = map[string]float64{
		"AAPL":   210.0,
		"TSLA":   185.0,
		"NVDA":   125.0,
		"MSFT":   420.0,
		"BTCUSD": 45000.0,
		"ETHUSD": 2500.0,
	}
	l.polyMarkets = map[string]*PredictionMarket{
		"poly-us-recession-2026": {
			ID:       "poly-us-recession-2026",
			Question: "Will the US enter recession in 2026?",
			Outcomes: map[string]float64{"YES": 0.42, "NO": 0.58},
		},
		"poly-btc-150k-2026": {
			ID:       "poly-btc-150k-2026",
			Question: "Will BTC touch 150k before 2027?",
			Outcomes: map[string]float64{"YES": 0.35, "NO": 0.65},
		},
	}
	l.activityLog = nil
	l.nextActivityID = 1
	l.testAgents = make(map[string]struct{})
	l.insertionOrder = nil
}

// resolveLocked maps an identifier (account ID or display name) to the
// account ID, or "" when unknown.
func (l *Ledger) resolveLocked(identifier string) string {
	ident := strings.TrimSpace(identifier)
	if ident == "" {
		return ""
	}
	if _, ok := l.accounts[ident]; ok {
		return ident
	}
	return l.nameToID[ident]
}

// ResolveAccount maps an account ID or display name to the account ID.
func (l *Ledger) ResolveAccount(identifier string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.resolveLocked(identifier)
	if id == "" {
		return "", ErrAgentNotFound
	}
	return id, nil
}

// SetAPIKey replaces an account's API key, keeping both key indexes
// consistent. The previous key stops resolving immediately.
func (l *Ledger) SetAPIKey(identifier, apiKey string) error {
	key := strings.TrimSpace(apiKey)
	if key == "" {
		return fmt.Errorf("empty api key")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	id := l.resolveLocked(identifier)
	if id == "" {
		return ErrAgentNotFound
	}
	if owner, taken := l.keyToAgent[key]; taken && owner != id {
		return fmt.Errorf("%w: api key already issued", ErrNameAlreadyExists)
	}

	if old, ok := l.agentKeys[id]; ok {
		delete(l.keyToAgent, old)
	}
	l.agentKeys[id] = key
	l.keyToAgent[key] = id
	l.saveLocked()
	return nil
}

// ResolveAPIKey maps an API key to its account ID.
func (l *Ledger) ResolveAPIKey(apiKey string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.keyToAgent[strings.TrimSpace(apiKey)]
	if id == "" {
		return "", ErrAgentNotFound
	}
	return id, nil
}

// Account returns a copy of the account for an ID or display name.
func (l *Ledger) Account(identifier string) (*Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.resolveLocked(identifier)
	if id == "" {
		return nil, ErrAgentNotFound
	}
	return l.accounts[id].clone(), nil
}

// CreateAccount registers a new agent with the given display name and
// starting cash (config default when startingCash <= 0), issues an API
// key, and persists. Names are case-sensitive and globally unique.
func (l *Ledger) CreateAccount(displayName string, startingCash float64, isTest bool) (Registration, error) {
	name := strings.TrimSpace(displayName)
	if !agentNameRe.MatchString(name) {
		return Registration{}, fmt.Errorf("%w: %q", ErrInvalidName, displayName)
	}
	if startingCash <= 0 {
		startingCash = l.cfg.Sim.StartingCash
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if existing := l.resolveLocked(name); existing != "" {
		return Registration{}, fmt.Errorf("%w: %s", ErrNameAlreadyExists, name)
	}

	id := uuid.NewString()
	apiKey := newAPIKey()

	account := NewAccount(id, name, startingCash)
	account.RegisteredAt = l.clock.Now().UTC().Format(time.RFC3339)
	account.IsTest = isTest

	l.accounts[id] = account
	l.nameToID[name] = id
	l.agentKeys[id] = apiKey
	l.keyToAgent[apiKey] = id
	l.insertionOrder = append(l.insertionOrder, id)
	if isTest {
		l.testAgents[id] = struct{}{}
	}

	l.recordEventLocked("agent_registered", id, map[string]any{
		"initial_cash": startingCash,
		"is_test":      isTest,
	})
	l.saveLocked()
	metrics.Accounts.Set(float64(len(l.accounts)))

	l.log.Info("agent registered",
		zap.String("account_id", id),
		zap.String("agent_id", name),
		zap.Float64("initial_cash", startingCash),
	)
	return Registration{AccountID: id, AgentName: name, APIKey: apiKey}, nil
}

// Rename changes an account's display name, rewrites the name index, and
// propagates the new name into denormalized copies: pending-registration
// entries, challenges, and previously recorded activity events.
func (l *Ledger) Rename(identifier, newName string) error {
	name := strings.TrimSpace(newName)
	if !agentNameRe.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, newName)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	id := l.resolveLocked(identifier)
	if id == "" {
		return ErrAgentNotFound
	}
	account := l.accounts[id]
	oldName := account.DisplayName
	if name == oldName {
		return nil
	}
	if owner, taken := l.nameToID[name]; taken && owner != id {
		return fmt.Errorf("%w: %s", ErrNameAlreadyExists, name)
	}

	delete(l.nameToID, oldName)
	l.nameToID[name] = id
	account.DisplayName = name

	if token, ok := l.pendingByName[oldName]; ok {
		delete(l.pendingByName, oldName)
		l.pendingByName[name] = token
	}
	for token, challenge := range l.challenges {
		if challenge.AccountID == id || challenge.AgentName == oldName {
			challenge.AgentName = name
			l.challenges[token] = challenge
		}
	}
	for i := range l.activityLog {
		if l.activityLog[i].AccountID == id {
			l.activityLog[i].AgentName = name
		}
	}

	l.recordEventLocked("agent_renamed", id, map[string]any{
		"old_name": oldName,
		"new_name": name,
	})
	l.saveLocked()

	l.log.Info("agent renamed",
		zap.String("account_id", id),
		zap.String("old_name", oldName),
		zap.String("new_name", name),
	)
	return nil
}

// Unblock clears a risk block. There is no automatic path here: a block
// stays until an operator calls this.
func (l *Ledger) Unblock(identifier string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.resolveLocked(identifier)
	if id == "" {
		return ErrAgentNotFound
	}
	account := l.accounts[id]
	if !account.Blocked {
		return nil
	}
	account.Blocked = false
	l.recordEventLocked("agent_unblocked", id, nil)
	l.saveLocked()
	l.log.Info("agent unblocked", zap.String("account_id", id))
	return nil
}

// RecordEvent appends an activity event and persists. Always succeeds;
// the log is truncated to its cap from the front.
func (l *Ledger) RecordEvent(eventType, identifier string, details map[string]any) ActivityEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	event := l.recordEventLocked(eventType, identifier, details)
	l.saveLocked()
	return event
}

func (l *Ledger) recordEventLocked(eventType, identifier string, details map[string]any) ActivityEvent {
	id := l.resolveLocked(identifier)
	if id == "" {
		id = strings.TrimSpace(identifier)
	}
	name := ""
	if account, ok := l.accounts[id]; ok {
		name = account.DisplayName
	}
	if details == nil {
		details = map[string]any{}
	}
	event := ActivityEvent{
		ID:        l.nextActivityID,
		Type:      eventType,
		AccountID: id,
		AgentName: name,
		Details:   details,
		CreatedAt: l.clock.Now().UTC().Format(time.RFC3339),
	}
	l.nextActivityID++
	l.activityLog = append(l.activityLog, event)
	if max := l.cfg.Sim.ActivityLogCap; max > 0 && len(l.activityLog) > max {
		l.activityLog = append([]ActivityEvent(nil), l.activityLog[len(l.activityLog)-max:]...)
	}
	return event
}

// Events returns the newest events, up to limit (0 means all).
func (l *Ledger) Events(limit int) []ActivityEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	events := l.activityLog
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	out := make([]ActivityEvent, len(events))
	copy(out, events)
	return out
}

// LastPrice returns the cached price for a symbol, checking crypto
// aliases, or 0 when unknown.
func (l *Ledger) LastPrice(symbol string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cachedPriceLocked(marketdata.NormalizeSymbol(symbol))
}

func (l *Ledger) cachedPriceLocked(symbol string) float64 {
	for _, alias := range marketdata.CryptoAliases(symbol) {
		if px, ok := l.stockPrices[alias]; ok && px > 0 {
			return px
		}
	}
	return 0
}

// saveLocked writes the full snapshot through the embedded store. A
// failed write is logged and counted but does not fail the operation
// that triggered it; the in-memory state remains authoritative.
func (l *Ledger) saveLocked() {
	payload, err := l.snapshotLocked()
	if err != nil {
		metrics.SnapshotFailures.Inc()
		l.log.Error("snapshot encode failed", zap.Error(err))
		return
	}
	if err := l.store.SavePayload(payload); err != nil {
		metrics.SnapshotFailures.Inc()
		l.log.Error("snapshot write failed", zap.Error(err))
		return
	}
	metrics.SnapshotWrites.Inc()
}

func newAPIKey() string {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the environment is unusable.
		panic(fmt.Errorf("generate api key: %w", err))
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}

// sortedKeys returns map keys in a deterministic order.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
