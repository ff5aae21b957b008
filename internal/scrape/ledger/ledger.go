// Package ledger tracks URLs whose latest request did not end in a clean
// success, so callers can schedule them for another pass.
package ledger

import (
	"context"
	"slices"
	"sync"
)

// Ledger is a set of URLs. Implementations must be safe for concurrent use.
type Ledger interface {
	Add(ctx context.Context, url string) error
	Remove(ctx context.Context, url string) error
	Contains(ctx context.Context, url string) (bool, error)
	List(ctx context.Context) ([]string, error)
	Clear(ctx context.Context) error
}

// Memory is the in-process ledger owned by one scraper instance.
type Memory struct {
	mu   sync.RWMutex
	urls map[string]struct{}
}

// NewMemory creates an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{urls: make(map[string]struct{})}
}

func (m *Memory) Add(_ context.Context, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.urls[url] = struct{}{}
	return nil
}

func (m *Memory) Remove(_ context.Context, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.urls, url)
	return nil
}

func (m *Memory) Contains(_ context.Context, url string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.urls[url]
	return ok, nil
}

// List returns the URLs sorted.
func (m *Memory) List(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.urls))
	for u := range m.urls {
		out = append(out, u)
	}
	slices.Sort(out)
	return out, nil
}

func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.urls)
	return nil
}

// Len returns the number of tracked URLs.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.urls)
}

// Discard is a ledger that records nothing. It is used when bad URL
// tracking is disabled for a call.
type Discard struct{}

func (Discard) Add(context.Context, string) error              { return nil }
func (Discard) Remove(context.Context, string) error           { return nil }
func (Discard) Contains(context.Context, string) (bool, error) { return false, nil }
func (Discard) List(context.Context) ([]string, error)         { return nil, nil }
func (Discard) Clear(context.Context) error                    { return nil }
