// Package state holds the persistent state of the factory: service configuration,
// code modules and the per-client instance registry.
//
// Every slot lives under its own key in an interfaces.SlotStore and is rewritten
// whole on each update. Read-modify-write cycles are serialised by a single mutex,
// which is never held across remote calls.
package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/ruteri/ledger-factory-backend/interfaces"
)

const (
	configSlot         = "config"
	moduleSlotPrefix   = "module/"
	registrySlotPrefix = "registry/"
)

func moduleSlot(kind interfaces.InstanceKind) string {
	return moduleSlotPrefix + kind.String()
}

func registrySlot(client interfaces.Identity) string {
	return registrySlotPrefix + client.String()
}

var slotEncMode cbor.EncMode

func init() {
	var err error
	slotEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to build slot encoding: %v", err))
	}
}

// State is the root of the persistent state.
type State struct {
	mu    sync.Mutex
	store interfaces.SlotStore
	log   *slog.Logger
}

// New wraps a slot store.
func New(store interfaces.SlotStore, log *slog.Logger) *State {
	return &State{
		store: store,
		log:   log,
	}
}

// Initialized reports whether the service configuration has ever been written.
func (s *State) Initialized(ctx context.Context) (bool, error) {
	_, err := s.store.Get(ctx, configSlot)
	if errors.Is(err, interfaces.ErrSlotEmpty) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Close closes the underlying slot store.
func (s *State) Close() error {
	return s.store.Close()
}

// read decodes a slot into out. Returns false if the slot is empty.
func (s *State) read(ctx context.Context, key string, out any) (bool, error) {
	raw, err := s.store.Get(ctx, key)
	if errors.Is(err, interfaces.ErrSlotEmpty) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read slot %s: %w", key, err)
	}
	if len(raw) == 0 {
		return false, nil
	}
	if err := cbor.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("failed to decode slot %s: %w", key, err)
	}
	return true, nil
}

func (s *State) write(ctx context.Context, key string, value any) error {
	raw, err := slotEncMode.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode slot %s: %w", key, err)
	}
	if err := s.store.Put(ctx, key, raw); err != nil {
		return fmt.Errorf("failed to write slot %s: %w", key, err)
	}
	return nil
}

func (s *State) clear(ctx context.Context, key string) error {
	if err := s.store.Put(ctx, key, nil); err != nil {
		return fmt.Errorf("failed to clear slot %s: %w", key, err)
	}
	return nil
}
