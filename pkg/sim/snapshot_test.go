package sim

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/crabtrading/papersim/params"
	"github.com/crabtrading/papersim/pkg/util"
)

func openLedgerAt(t *testing.T, cfg params.Config) *Ledger {
	t.Helper()
	l, err := Open(cfg, zap.NewNop(), nil, nil, util.NewManualClock(time.Date(2026, 1, 2, 9, 30, 0, 0, time.UTC)))
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	return l
}

func testConfig(t *testing.T) params.Config {
	t.Helper()
	cfg := params.Default()
	cfg.Sim.StateDir = t.TempDir()
	cfg.Sim.LegacyStateFile = ""
	return cfg
}

// writeRawSnapshot plants a raw payload in a fresh store at cfg's dir.
func writeRawSnapshot(t *testing.T, cfg params.Config, payload []byte) {
	t.Helper()
	store, err := OpenStateStore(cfg.Sim.StateDir)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := store.SavePayload(payload); err != nil {
		t.Fatalf("save payload: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close store: %v", err)
	}
}

func TestReopenRestoresState(t *testing.T) {
	cfg := testConfig(t)

	l := openLedgerAt(t, cfg)
	reg := register(t, l, "durable", 2000)
	if _, err := l.ExecuteOrder(reg.AccountID, "AAPL", SideBuy, 3, 100, "test"); err != nil {
		t.Fatalf("order: %v", err)
	}
	if _, err := l.PlaceBet(reg.AccountID, "poly-btc-150k-2026", "YES", 3.5); err != nil {
		t.Fatalf("bet: %v", err)
	}
	eventsBefore := len(l.Events(0))
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	l2 := openLedgerAt(t, cfg)
	defer l2.Close()

	acct, err := l2.Account("durable")
	if err != nil {
		t.Fatalf("account after reopen: %v", err)
	}
	if acct.ID != reg.AccountID {
		t.Errorf("account id: got %s, want %s", acct.ID, reg.AccountID)
	}
	if got := acct.Positions["AAPL"]; got != 3 {
		t.Errorf("position: got %v, want 3", got)
	}
	if got := acct.PolyPositions["poly-btc-150k-2026"]["YES"]; !almostEqual(got, 10) {
		t.Errorf("poly shares: got %v, want 10 (3.5 spent at 0.35 odds)", got)
	}
	if id, err := l2.ResolveAPIKey(reg.APIKey); err != nil || id != reg.AccountID {
		t.Errorf("api key after reopen: got (%s, %v)", id, err)
	}
	if got := len(l2.Events(0)); got != eventsBefore {
		t.Errorf("events after reopen: got %d, want %d", got, eventsBefore)
	}
	if got := l2.LastPrice("AAPL"); !almostEqual(got, 100) {
		t.Errorf("price cache after reopen: got %v, want 100", got)
	}

	// New events continue the sequence instead of reusing old ids.
	event := l2.RecordEvent("ping", reg.AccountID, nil)
	events := l2.Events(0)
	if event.ID <= events[len(events)-2].ID {
		t.Errorf("event id %d not beyond restored log", event.ID)
	}
}

func TestCorruptSnapshotStartsEmpty(t *testing.T) {
	cfg := testConfig(t)
	writeRawSnapshot(t, cfg, []byte(`{"version": 5, "accounts": [broken`))

	l := openLedgerAt(t, cfg)
	defer l.Close()

	if _, err := l.ResolveAccount("anyone"); !errors.Is(err, ErrAgentNotFound) {
		t.Errorf("expected empty ledger, got %v", err)
	}
	// The ledger is usable despite the bad snapshot.
	if _, err := l.CreateAccount("phoenix", 0, false); err != nil {
		t.Errorf("create after corrupt load: %v", err)
	}
}

func TestMigrationUpgradesOldDocument(t *testing.T) {
	cfg := testConfig(t)

	old := map[string]any{
		"version": 2,
		"accounts": map[string]any{
			"id-1": map[string]any{
				"account_id":   "id-1",
				"display_name": "veteran",
				"cash":         1234.5,
				"positions":    map[string]float64{"AAPL": 2},
				"avg_cost":     map[string]float64{"AAPL": 150},
			},
		},
		"agent_name_to_id": map[string]string{"veteran": "id-1"},
		"activity_log": []map[string]any{
			{"id": 7, "type": "stock_order", "account_id": "id-1", "agent_id": "veteran"},
		},
	}
	payload, err := json.Marshal(old)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	writeRawSnapshot(t, cfg, payload)

	l := openLedgerAt(t, cfg)
	acct, err := l.Account("veteran")
	if err != nil {
		t.Fatalf("migrated account: %v", err)
	}
	if !almostEqual(acct.Cash, 1234.5) {
		t.Errorf("cash: got %v, want 1234.5", acct.Cash)
	}
	// Structures the old version lacked must work, not panic.
	if err := l.SetAPIKey("veteran", "issued-later"); err != nil {
		t.Fatalf("set key on migrated state: %v", err)
	}
	// Counter is derived from the log when the document has none.
	event := l.RecordEvent("ping", "id-1", nil)
	if event.ID != 8 {
		t.Errorf("next event id: got %d, want 8", event.ID)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// The migrated document is re-saved at the current version.
	store, err := OpenStateStore(cfg.Sim.StateDir)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer store.Close()
	raw, ok, err := store.LoadPayload()
	if err != nil || !ok {
		t.Fatalf("load payload: ok=%v err=%v", ok, err)
	}
	var doc struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc.Version != snapshotVersion {
		t.Errorf("saved version: got %d, want %d", doc.Version, snapshotVersion)
	}
}

func TestRepairDeduplicatesNamesAndFixesIndexes(t *testing.T) {
	cfg := testConfig(t)

	doc := map[string]any{
		"version": 5,
		"accounts": map[string]any{
			"id-a": map[string]any{"account_id": "id-a", "display_name": "dup", "cash": 100.0},
			"id-b": map[string]any{"account_id": "id-b", "display_name": "dup", "cash": 200.0},
		},
		// Stale index: only one entry, pointing at the wrong account.
		"agent_name_to_id": map[string]string{"dup": "id-b"},
		// Key stored against the display name instead of the id, with a
		// missing reverse entry.
		"agent_keys":      map[string]string{"dup": "key-a"},
		"key_to_agent":    map[string]string{},
		"agent_following": map[string][]string{"dup": {"id-b", "ghost"}},
		"test_agents":     []string{"dup"},
		"activity_log": []map[string]any{
			{"id": 3, "type": "ping", "account_id": "dup", "agent_id": "dup"},
		},
		"insertion_order": []string{"id-a", "id-b"},
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	writeRawSnapshot(t, cfg, payload)

	l := openLedgerAt(t, cfg)
	defer l.Close()

	// id-a keeps the name, id-b gets a suffix.
	idA, err := l.ResolveAccount("dup")
	if err != nil || idA != "id-a" {
		t.Fatalf("resolve dup: got (%s, %v), want id-a", idA, err)
	}
	idB, err := l.ResolveAccount("dup_2")
	if err != nil || idB != "id-b" {
		t.Fatalf("resolve dup_2: got (%s, %v), want id-b", idB, err)
	}

	// The name-keyed API key now resolves through the id.
	if id, err := l.ResolveAPIKey("key-a"); err != nil || id != "id-a" {
		t.Errorf("repaired api key: got (%s, %v), want id-a", id, err)
	}

	// Name-keyed references were rewritten to the id.
	events := l.Events(0)
	if len(events) == 0 || events[0].AccountID != "id-a" {
		t.Errorf("event account not repaired: %+v", events)
	}

	event := l.RecordEvent("ping", "id-a", nil)
	if event.ID != 4 {
		t.Errorf("derived next id: got %d, want 4", event.ID)
	}
}

func TestLegacyStateFileImport(t *testing.T) {
	cfg := testConfig(t)
	legacy := filepath.Join(t.TempDir(), "runtime_state.json")
	cfg.Sim.LegacyStateFile = legacy

	doc := map[string]any{
		"version": 4,
		"accounts": map[string]any{
			"id-legacy": map[string]any{"account_id": "id-legacy", "display_name": "from_file", "cash": 777.0},
		},
		"agent_name_to_id": map[string]string{"from_file": "id-legacy"},
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(legacy, payload, 0o644); err != nil {
		t.Fatalf("write legacy file: %v", err)
	}

	l := openLedgerAt(t, cfg)
	acct, err := l.Account("from_file")
	if err != nil {
		t.Fatalf("imported account: %v", err)
	}
	if !almostEqual(acct.Cash, 777) {
		t.Errorf("cash: got %v, want 777", acct.Cash)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Once imported, the store is authoritative; the file is not needed.
	if err := os.Remove(legacy); err != nil {
		t.Fatalf("remove legacy: %v", err)
	}
	l2 := openLedgerAt(t, cfg)
	defer l2.Close()
	if _, err := l2.Account("from_file"); err != nil {
		t.Errorf("account lost after legacy file removed: %v", err)
	}
}

func TestSeedMarketsPresentOnFreshStart(t *testing.T) {
	l := newTestLedger(t, testLedgerOpts{})
	markets := l.ListMarkets(context.Background())
	if len(markets) != 2 {
		t.Fatalf("seed markets: got %d, want 2", len(markets))
	}
	for _, m := range markets {
		if m.Resolved {
			t.Errorf("seed market %s must start unresolved", m.ID)
		}
		if len(m.Outcomes) != 2 {
			t.Errorf("seed market %s outcomes: %v", m.ID, m.Outcomes)
		}
	}
}
