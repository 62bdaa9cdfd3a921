package sim

import (
	"fmt"
	"os"

	"github.com/cockroachdb/pebble"
)

// StateStore persists the whole runtime snapshot as a single blob.
// Every save replaces the previous value with a synced write, so the
// snapshot on disk is always a complete, consistent document.
type StateStore struct {
	db *pebble.DB
}

var stateKey = []byte("state:current")

func OpenStateStore(dir string) (*StateStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}
	return &StateStore{db: db}, nil
}

func (s *StateStore) Close() error { return s.db.Close() }

// SavePayload replaces the current snapshot. pebble.Sync makes the
// write durable before the mutation that produced it returns.
func (s *StateStore) SavePayload(payload []byte) error {
	if err := s.db.Set(stateKey, payload, pebble.Sync); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

// LoadPayload returns the current snapshot, or (nil, false, nil) when
// the store is empty.
func (s *StateStore) LoadPayload() ([]byte, bool, error) {
	val, closer, err := s.db.Get(stateKey)
	if err != nil {
		if err == pebble.ErrNotFound {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read snapshot: %w", err)
	}
	defer closer.Close()
	out := make([]byte, len(val))
	copy(out, val)
	return out, true, nil
}
