package storage

import (
	"context"
	"sync"

	"webharvest/pkg/types"
)

// MemoryStore is a Store held entirely in process memory. Used when no
// database is configured and throughout the test suite.
type MemoryStore struct {
	mu      sync.RWMutex
	results map[string]*types.ScrapeResult
	cookies map[string][]types.Cookie
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		results: make(map[string]*types.ScrapeResult),
		cookies: make(map[string][]types.Cookie),
	}
}

// SaveResult stores the result keyed by URL, replacing any earlier attempt.
func (m *MemoryStore) SaveResult(_ context.Context, result *types.ScrapeResult) error {
	if result == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *result
	m.results[result.URL] = &cp
	return nil
}

// PreviousResult returns the stored result for a URL, or nil.
func (m *MemoryStore) PreviousResult(_ context.Context, url string) (*types.ScrapeResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res, ok := m.results[url]
	if !ok {
		return nil, nil
	}
	cp := *res
	return &cp, nil
}

// LoadCookies returns the cookie jar stored for a domain.
func (m *MemoryStore) LoadCookies(_ context.Context, domain string) ([]types.Cookie, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	jar := m.cookies[domain]
	out := make([]types.Cookie, len(jar))
	copy(out, jar)
	return out, nil
}

// SaveCookies replaces the cookie jar for a domain.
func (m *MemoryStore) SaveCookies(_ context.Context, domain string, cookies []types.Cookie) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	jar := make([]types.Cookie, len(cookies))
	copy(jar, cookies)
	m.cookies[domain] = jar
	return nil
}

// Len reports how many results have been stored.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.results)
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }
