package sim

import (
	"encoding/json"
	"fmt"
	"os"

	"go.uber.org/zap"
)

// snapshotVersion is the current on-disk document version. Older
// documents are migrated forward on load and re-saved at this version.
const snapshotVersion = 5

// snapshotDoc is the full runtime state as persisted. Every field is a
// top-level key so partial documents from older versions decode cleanly
// with zero values for what they lack.
type snapshotDoc struct {
	Version                int                              `json:"version"`
	Accounts               map[string]*Account              `json:"accounts"`
	AgentNameToID          map[string]string                `json:"agent_name_to_id"`
	AgentKeys              map[string]string                `json:"agent_keys"`
	KeyToAgent             map[string]string                `json:"key_to_agent"`
	RegistrationChallenges map[string]RegistrationChallenge `json:"registration_challenges"`
	PendingByAgent         map[string]string                `json:"pending_by_agent"`
	RegistrationByAPIKey   map[string]string                `json:"registration_by_api_key"`
	AgentFollowing         map[string][]string              `json:"agent_following"`
	StockPrices            map[string]float64               `json:"stock_prices"`
	PolyMarkets            map[string]*PredictionMarket     `json:"poly_markets"`
	ActivityLog            []ActivityEvent                  `json:"activity_log"`
	NextActivityID         int64                            `json:"next_activity_id"`
	TestAgents             []string                         `json:"test_agents"`
	InsertionOrder         []string                         `json:"insertion_order"`
}

// snapshotLocked encodes the current state at the current version.
func (l *Ledger) snapshotLocked() ([]byte, error) {
	doc := snapshotDoc{
		Version:                snapshotVersion,
		Accounts:               l.accounts,
		AgentNameToID:          l.nameToID,
		AgentKeys:              l.agentKeys,
		KeyToAgent:             l.keyToAgent,
		RegistrationChallenges: l.challenges,
		PendingByAgent:         l.pendingByName,
		RegistrationByAPIKey:   l.regByAPIKey,
		AgentFollowing:         l.following,
		StockPrices:            l.stockPrices,
		PolyMarkets:            l.polyMarkets,
		ActivityLog:            l.activityLog,
		NextActivityID:         l.nextActivityID,
		TestAgents:             sortedKeys(l.testAgents),
		InsertionOrder:         l.insertionOrder,
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return payload, nil
}

// loadRuntimeState restores state from the embedded store, falling back
// to a one-time import of the legacy JSON state file when the store is
// empty. A migrated or repaired document is re-saved immediately so the
// next load takes the fast path.
func (l *Ledger) loadRuntimeState() error {
	payload, ok, err := l.store.LoadPayload()
	if err != nil {
		return err
	}
	imported := false
	if !ok {
		payload, ok = l.readLegacyStateFile()
		imported = ok
	}
	if !ok {
		return nil
	}

	var doc snapshotDoc
	if err := json.Unmarshal(payload, &doc); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}

	migrated := l.migrateDoc(&doc)
	l.installDoc(&doc)
	repaired := l.repairLocked()

	if imported || migrated || repaired {
		l.saveLocked()
	}
	return nil
}

func (l *Ledger) readLegacyStateFile() ([]byte, bool) {
	path := l.cfg.Sim.LegacyStateFile
	if path == "" {
		return nil, false
	}
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	l.log.Info("importing legacy state file", zap.String("path", path))
	return payload, true
}

// migrateDoc upgrades an older document in place. Each step only fills
// in the structures its version introduced; account-level data is never
// rewritten here (repairLocked handles consistency).
func (l *Ledger) migrateDoc(doc *snapshotDoc) bool {
	if doc.Version >= snapshotVersion {
		return false
	}
	from := doc.Version

	// v2 introduced API keys.
	if doc.AgentKeys == nil {
		doc.AgentKeys = map[string]string{}
	}
	if doc.KeyToAgent == nil {
		doc.KeyToAgent = map[string]string{}
	}
	// v3 introduced the registration challenge flow.
	if doc.RegistrationChallenges == nil {
		doc.RegistrationChallenges = map[string]RegistrationChallenge{}
	}
	if doc.PendingByAgent == nil {
		doc.PendingByAgent = map[string]string{}
	}
	if doc.RegistrationByAPIKey == nil {
		doc.RegistrationByAPIKey = map[string]string{}
	}
	// v4 introduced the follow graph and test-agent marking.
	if doc.AgentFollowing == nil {
		doc.AgentFollowing = map[string][]string{}
	}
	if doc.TestAgents == nil {
		doc.TestAgents = []string{}
	}
	// v5 introduced prediction-market cost basis on accounts; the zero
	// value (nil map, normalized on install) is correct for old data.

	doc.Version = snapshotVersion
	l.log.Info("migrated snapshot", zap.Int("from_version", from), zap.Int("to_version", snapshotVersion))
	return true
}

// installDoc moves a decoded document into the ledger, substituting seed
// structures for anything the document lacks entirely.
func (l *Ledger) installDoc(doc *snapshotDoc) {
	seedPrices := l.stockPrices
	seedMarkets := l.polyMarkets
	l.resetLocked()

	if doc.Accounts != nil {
		l.accounts = doc.Accounts
	}
	for _, account := range l.accounts {
		account.normalize()
	}
	if doc.AgentNameToID != nil {
		l.nameToID = doc.AgentNameToID
	}
	if doc.AgentKeys != nil {
		l.agentKeys = doc.AgentKeys
	}
	if doc.KeyToAgent != nil {
		l.keyToAgent = doc.KeyToAgent
	}
	if doc.RegistrationChallenges != nil {
		l.challenges = doc.RegistrationChallenges
	}
	if doc.PendingByAgent != nil {
		l.pendingByName = doc.PendingByAgent
	}
	if doc.RegistrationByAPIKey != nil {
		l.regByAPIKey = doc.RegistrationByAPIKey
	}
	if doc.AgentFollowing != nil {
		l.following = doc.AgentFollowing
	}
	if len(doc.StockPrices) > 0 {
		l.stockPrices = doc.StockPrices
	} else {
		l.stockPrices = seedPrices
	}
	if len(doc.PolyMarkets) > 0 {
		l.polyMarkets = doc.PolyMarkets
	} else {
		l.polyMarkets = seedMarkets
	}
	l.activityLog = doc.ActivityLog
	l.nextActivityID = doc.NextActivityID
	for _, id := range doc.TestAgents {
		l.testAgents[id] = struct{}{}
	}
	l.insertionOrder = doc.InsertionOrder
}

// repairLocked reconciles the loaded state so the accounts map is the
// single source of truth: display names are deduplicated, the name
// index is rebuilt, name-keyed references are rewritten to IDs, the key
// maps are made mutually consistent, and counters are re-derived.
// Returns true when anything changed.
func (l *Ledger) repairLocked() bool {
	changed := false

	// Deduplicate display names. The first account (by stable order)
	// keeps the name; later ones get a numeric suffix.
	seenNames := make(map[string]string)
	for _, id := range l.accountIDsStableLocked() {
		account := l.accounts[id]
		name := account.DisplayName
		if name == "" {
			name = id
		}
		if owner, dup := seenNames[name]; dup && owner != id {
			base := name
			for n := 2; ; n++ {
				candidate := fmt.Sprintf("%s_%d", base, n)
				if _, taken := seenNames[candidate]; !taken {
					name = candidate
					break
				}
			}
			l.log.Warn("duplicate agent name repaired",
				zap.String("account_id", id),
				zap.String("old_name", base),
				zap.String("new_name", name),
			)
			changed = true
		}
		if account.DisplayName != name {
			account.DisplayName = name
			changed = true
		}
		seenNames[name] = id
	}

	// Rebuild the name index from the accounts map.
	rebuilt := make(map[string]string, len(l.accounts))
	for id, account := range l.accounts {
		rebuilt[account.DisplayName] = id
	}
	if len(rebuilt) != len(l.nameToID) {
		changed = true
	} else {
		for name, id := range rebuilt {
			if l.nameToID[name] != id {
				changed = true
				break
			}
		}
	}
	l.nameToID = rebuilt

	resolve := func(ref string) string {
		if _, ok := l.accounts[ref]; ok {
			return ref
		}
		return l.nameToID[ref]
	}

	// Rewrite name-keyed references to IDs; drop dangling ones.
	fixedKeys := make(map[string]string, len(l.agentKeys))
	for ref, key := range l.agentKeys {
		id := resolve(ref)
		if id == "" {
			changed = true
			continue
		}
		if id != ref {
			changed = true
		}
		fixedKeys[id] = key
	}
	l.agentKeys = fixedKeys

	// Key maps must agree in both directions; agent_keys wins.
	reverse := make(map[string]string, len(l.agentKeys))
	for id, key := range l.agentKeys {
		reverse[key] = id
	}
	if len(reverse) != len(l.keyToAgent) {
		changed = true
	} else {
		for key, id := range reverse {
			if l.keyToAgent[key] != id {
				changed = true
				break
			}
		}
	}
	l.keyToAgent = reverse

	fixedFollowing := make(map[string][]string, len(l.following))
	for ref, followed := range l.following {
		id := resolve(ref)
		if id == "" {
			changed = true
			continue
		}
		if id != ref {
			changed = true
		}
		var kept []string
		for _, fref := range followed {
			fid := resolve(fref)
			if fid == "" {
				changed = true
				continue
			}
			if fid != fref {
				changed = true
			}
			kept = append(kept, fid)
		}
		fixedFollowing[id] = kept
	}
	l.following = fixedFollowing

	fixedTests := make(map[string]struct{}, len(l.testAgents))
	for ref := range l.testAgents {
		id := resolve(ref)
		if id == "" {
			changed = true
			continue
		}
		if id != ref {
			changed = true
		}
		fixedTests[id] = struct{}{}
	}
	l.testAgents = fixedTests

	for i := range l.activityLog {
		event := &l.activityLog[i]
		if id := resolve(event.AccountID); id != "" && id != event.AccountID {
			event.AccountID = id
			changed = true
		}
		if account, ok := l.accounts[event.AccountID]; ok && event.AgentName != account.DisplayName {
			event.AgentName = account.DisplayName
			changed = true
		}
	}

	// Re-derive the counter when it is missing or behind the log.
	var maxID int64
	for i := range l.activityLog {
		if l.activityLog[i].ID > maxID {
			maxID = l.activityLog[i].ID
		}
	}
	if l.nextActivityID <= maxID || l.nextActivityID <= 0 {
		l.nextActivityID = maxID + 1
		changed = true
	}

	// Insertion order must cover exactly the live accounts.
	seen := make(map[string]struct{}, len(l.insertionOrder))
	var order []string
	for _, id := range l.insertionOrder {
		if _, ok := l.accounts[id]; !ok {
			changed = true
			continue
		}
		if _, dup := seen[id]; dup {
			changed = true
			continue
		}
		seen[id] = struct{}{}
		order = append(order, id)
	}
	for _, id := range sortedKeys(l.accounts) {
		if _, ok := seen[id]; !ok {
			order = append(order, id)
			changed = true
		}
	}
	l.insertionOrder = order

	return changed
}

// accountIDsStableLocked returns account IDs in insertion order where
// known, with any stragglers appended in sorted order.
func (l *Ledger) accountIDsStableLocked() []string {
	seen := make(map[string]struct{}, len(l.insertionOrder))
	var ids []string
	for _, id := range l.insertionOrder {
		if _, ok := l.accounts[id]; ok {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	for _, id := range sortedKeys(l.accounts) {
		if _, ok := seen[id]; !ok {
			ids = append(ids, id)
		}
	}
	return ids
}
