package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/ruteri/ledger-factory-backend/fetch"
	"github.com/ruteri/ledger-factory-backend/interfaces"
)

// MaxModuleSize is the largest code module accepted, uploaded or fetched.
const MaxModuleSize = 2_000_000

// ErrModuleCorrupted is returned when stored module bytes don't match the recorded content ID.
var ErrModuleCorrupted = errors.New("stored code module does not match its content ID")

// ModuleInfo describes the module stored for a kind.
type ModuleInfo struct {
	ContentID interfaces.ContentID `cbor:"content_id"`
	Size      int                  `cbor:"size"`
}

// CodeModules keeps one code module per instance kind. The slot records the content ID;
// the bytes live in a content-addressed storage backend.
type CodeModules struct {
	state   *State
	backend interfaces.StorageBackend
	fetcher fetch.Fetcher

	cacheMu sync.Mutex
	cache   map[interfaces.ContentID][]byte
}

// NewCodeModules creates the module store of s.
func NewCodeModules(s *State, backend interfaces.StorageBackend, fetcher fetch.Fetcher) *CodeModules {
	return &CodeModules{
		state:   s,
		backend: backend,
		fetcher: fetcher,
		cache:   make(map[interfaces.ContentID][]byte),
	}
}

// Set replaces the module for kind. Empty data clears it.
func (m *CodeModules) Set(ctx context.Context, kind interfaces.InstanceKind, data []byte) error {
	if len(data) == 0 {
		m.state.mu.Lock()
		defer m.state.mu.Unlock()
		return m.state.clear(ctx, moduleSlot(kind))
	}

	id, err := m.backend.Store(ctx, data, interfaces.ModuleContentType(kind))
	if err != nil {
		return fmt.Errorf("failed to store %s module: %w", kind, err)
	}

	m.cacheMu.Lock()
	m.cache[id] = data
	m.cacheMu.Unlock()

	m.state.mu.Lock()
	defer m.state.mu.Unlock()

	if err := m.state.write(ctx, moduleSlot(kind), ModuleInfo{ContentID: id, Size: len(data)}); err != nil {
		return err
	}

	m.state.log.Info("Code module updated",
		slog.String("kind", kind.String()),
		slog.String("content_id", id.String()),
		slog.Int("size", len(data)))
	return nil
}

// FetchAndSet downloads a module from url and stores it for kind. On any failure
// the stored module is left unchanged. Returns the module size.
func (m *CodeModules) FetchAndSet(ctx context.Context, kind interfaces.InstanceKind, url string) (int, error) {
	resp, err := m.fetcher.Get(ctx, url, MaxModuleSize, fetch.StripHeaders)
	if err != nil {
		return 0, err
	}
	if resp.Status != http.StatusOK {
		return 0, &fetch.StatusError{URL: url, Status: resp.Status}
	}

	if err := m.Set(ctx, kind, resp.Body); err != nil {
		return 0, err
	}
	return len(resp.Body), nil
}

// Get returns the module for kind. An empty result means no module is configured.
func (m *CodeModules) Get(ctx context.Context, kind interfaces.InstanceKind) ([]byte, error) {
	info, found, err := m.info(ctx, kind)
	if err != nil || !found {
		return nil, err
	}

	m.cacheMu.Lock()
	cached, ok := m.cache[info.ContentID]
	m.cacheMu.Unlock()
	if ok {
		return cached, nil
	}

	data, err := m.backend.Fetch(ctx, info.ContentID, interfaces.ModuleContentType(kind))
	if err != nil {
		return nil, fmt.Errorf("failed to load %s module %s: %w", kind, info.ContentID, err)
	}
	if interfaces.ComputeID(data) != info.ContentID {
		return nil, fmt.Errorf("%w: %s module %s", ErrModuleCorrupted, kind, info.ContentID)
	}

	m.cacheMu.Lock()
	m.cache[info.ContentID] = data
	m.cacheMu.Unlock()

	return data, nil
}

// Info returns the content ID and size of the module for kind, or nil if none is set.
func (m *CodeModules) Info(ctx context.Context, kind interfaces.InstanceKind) (*ModuleInfo, error) {
	info, found, err := m.info(ctx, kind)
	if err != nil || !found {
		return nil, err
	}
	return &info, nil
}

func (m *CodeModules) info(ctx context.Context, kind interfaces.InstanceKind) (ModuleInfo, bool, error) {
	var info ModuleInfo
	found, err := m.state.read(ctx, moduleSlot(kind), &info)
	return info, found, err
}
