package state

import (
	"context"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/ruteri/ledger-factory-backend/interfaces"
)

// PebbleSlotStore keeps slots in a pebble database. Every write is synced.
type PebbleSlotStore struct {
	db *pebble.DB
}

// NewPebbleSlotStore opens (or creates) a pebble database in dir.
func NewPebbleSlotStore(dir string) (*PebbleSlotStore, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}
	return &PebbleSlotStore{db: db}, nil
}

// NewInMemorySlotStore creates a pebble database backed by memory only.
func NewInMemorySlotStore() (*PebbleSlotStore, error) {
	db, err := pebble.Open("", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory state database: %w", err)
	}
	return &PebbleSlotStore{db: db}, nil
}

func (s *PebbleSlotStore) Get(ctx context.Context, key string) ([]byte, error) {
	value, closer, err := s.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, interfaces.ErrSlotEmpty
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

func (s *PebbleSlotStore) Put(ctx context.Context, key string, value []byte) error {
	return s.db.Set([]byte(key), value, pebble.Sync)
}

func (s *PebbleSlotStore) Close() error {
	return s.db.Close()
}
