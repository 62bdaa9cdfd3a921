package sim

import (
	"errors"
	"testing"

	"github.com/crabtrading/papersim/params"
)

func TestCreateAccountDefaults(t *testing.T) {
	l := newTestLedger(t, testLedgerOpts{})

	reg, err := l.CreateAccount("fresh_agent", 0, false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if reg.AccountID == "" || reg.APIKey == "" {
		t.Fatalf("registration incomplete: %+v", reg)
	}

	acct, err := l.Account("fresh_agent")
	if err != nil {
		t.Fatalf("lookup by name: %v", err)
	}
	if !almostEqual(acct.Cash, 2000) {
		t.Errorf("starting cash: got %v, want config default 2000", acct.Cash)
	}
	if acct.RegisteredAt == "" {
		t.Error("registered_at not set")
	}
}

func TestCreateAccountRejectsBadNames(t *testing.T) {
	l := newTestLedger(t, testLedgerOpts{})

	for _, name := range []string{"", "ab", "has space", "semi;colon", "way@off"} {
		if _, err := l.CreateAccount(name, 100, false); !errors.Is(err, ErrInvalidName) {
			t.Errorf("name %q: got %v, want ErrInvalidName", name, err)
		}
	}
	if _, err := l.CreateAccount("good-name_3", 100, false); err != nil {
		t.Errorf("valid name rejected: %v", err)
	}
}

func TestCreateAccountNameCollision(t *testing.T) {
	l := newTestLedger(t, testLedgerOpts{})
	register(t, l, "taken", 100)

	if _, err := l.CreateAccount("taken", 100, false); !errors.Is(err, ErrNameAlreadyExists) {
		t.Errorf("got %v, want ErrNameAlreadyExists", err)
	}
}

func TestResolveAccountByIDAndName(t *testing.T) {
	l := newTestLedger(t, testLedgerOpts{})
	reg := register(t, l, "resolver", 100)

	for _, ident := range []string{reg.AccountID, "resolver"} {
		id, err := l.ResolveAccount(ident)
		if err != nil || id != reg.AccountID {
			t.Errorf("resolve %q: got (%s, %v)", ident, id, err)
		}
	}
	if _, err := l.ResolveAccount("ghost"); !errors.Is(err, ErrAgentNotFound) {
		t.Errorf("unknown resolve: got %v", err)
	}
}

func TestRenamePropagatesEverywhere(t *testing.T) {
	l := newTestLedger(t, testLedgerOpts{})
	reg := register(t, l, "old_name", 2000)

	if _, err := l.ExecuteOrder(reg.AccountID, "AAPL", SideBuy, 1, 100, "test"); err != nil {
		t.Fatalf("order: %v", err)
	}

	if err := l.Rename("old_name", "new_name"); err != nil {
		t.Fatalf("rename: %v", err)
	}

	if _, err := l.ResolveAccount("old_name"); !errors.Is(err, ErrAgentNotFound) {
		t.Error("old name must stop resolving")
	}
	id, err := l.ResolveAccount("new_name")
	if err != nil || id != reg.AccountID {
		t.Fatalf("new name resolve: got (%s, %v)", id, err)
	}

	// Historical events carry the new name.
	for _, event := range l.Events(0) {
		if event.AccountID == reg.AccountID && event.AgentName != "new_name" {
			t.Errorf("event %d still carries old name %q", event.ID, event.AgentName)
		}
	}
}

func TestRenameCollisionAndValidation(t *testing.T) {
	l := newTestLedger(t, testLedgerOpts{})
	register(t, l, "one", 100)
	register(t, l, "two", 100)

	if err := l.Rename("one", "two"); !errors.Is(err, ErrNameAlreadyExists) {
		t.Errorf("rename onto taken name: got %v", err)
	}
	if err := l.Rename("one", "!!"); !errors.Is(err, ErrInvalidName) {
		t.Errorf("rename to invalid name: got %v", err)
	}
	if err := l.Rename("one", "one"); err != nil {
		t.Errorf("no-op rename: got %v", err)
	}
}

func TestAPIKeyRoundTrip(t *testing.T) {
	l := newTestLedger(t, testLedgerOpts{})
	reg := register(t, l, "keyed", 100)

	id, err := l.ResolveAPIKey(reg.APIKey)
	if err != nil || id != reg.AccountID {
		t.Fatalf("resolve issued key: got (%s, %v)", id, err)
	}

	if err := l.SetAPIKey(reg.AccountID, "replacement-key-123"); err != nil {
		t.Fatalf("set key: %v", err)
	}
	if _, err := l.ResolveAPIKey(reg.APIKey); !errors.Is(err, ErrAgentNotFound) {
		t.Error("old key must stop resolving after replacement")
	}
	id, err = l.ResolveAPIKey("replacement-key-123")
	if err != nil || id != reg.AccountID {
		t.Errorf("new key resolve: got (%s, %v)", id, err)
	}

	other := register(t, l, "other", 100)
	if err := l.SetAPIKey(other.AccountID, "replacement-key-123"); err == nil {
		t.Error("reissuing another account's key must fail")
	}
}

func TestActivityLogCap(t *testing.T) {
	cfg := params.Default()
	cfg.Sim.ActivityLogCap = 10
	l := newTestLedger(t, testLedgerOpts{cfg: &cfg})
	reg := register(t, l, "chatty", 100)

	for i := 0; i < 25; i++ {
		l.RecordEvent("ping", reg.AccountID, map[string]any{"i": i})
	}

	events := l.Events(0)
	if len(events) != 10 {
		t.Fatalf("log length: got %d, want cap 10", len(events))
	}
	// IDs keep climbing even as old entries fall off the front.
	for i := 1; i < len(events); i++ {
		if events[i].ID != events[i-1].ID+1 {
			t.Errorf("ids not monotonic: %d then %d", events[i-1].ID, events[i].ID)
		}
	}
	if events[len(events)-1].ID != 26 {
		t.Errorf("last id: got %d, want 26 (1 registration + 25 pings)", events[len(events)-1].ID)
	}
}

func TestEventsLimit(t *testing.T) {
	l := newTestLedger(t, testLedgerOpts{})
	reg := register(t, l, "limited", 100)
	for i := 0; i < 5; i++ {
		l.RecordEvent("tick", reg.AccountID, nil)
	}
	if got := len(l.Events(3)); got != 3 {
		t.Errorf("limited events: got %d, want 3", got)
	}
}

func TestUnblockUnknownAccount(t *testing.T) {
	l := newTestLedger(t, testLedgerOpts{})
	if err := l.Unblock("ghost"); !errors.Is(err, ErrAgentNotFound) {
		t.Errorf("got %v, want ErrAgentNotFound", err)
	}
}
