// Package ledger persists identifier resolutions so interrupted runs can
// resume without repeating catalog searches.
package ledger

import (
	"context"
	"sync"

	"github.com/DynamicGenetics/Spotify-Rehydrator/internal/models"
)

// Store is the resolution ledger. Appends are durable before they return,
// and rows are never updated or deleted by the pipeline.
type Store interface {
	// Load returns every recorded resolution for the person.
	Load(ctx context.Context, person string) (map[models.LookupKey]models.ResolvedMatch, error)

	// Append records one resolution. Appending a key the ledger already
	// holds is a no-op: the first write wins.
	Append(ctx context.Context, person string, match models.ResolvedMatch) error

	Close() error
}

// Memory is an in-process Store for tests.
type Memory struct {
	mu      sync.Mutex
	persons map[string]map[models.LookupKey]models.ResolvedMatch

	// Appends counts successful Append calls that stored a new row.
	Appends int
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{persons: make(map[string]map[models.LookupKey]models.ResolvedMatch)}
}

func (m *Memory) Load(_ context.Context, person string) (map[models.LookupKey]models.ResolvedMatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[models.LookupKey]models.ResolvedMatch, len(m.persons[person]))
	for k, v := range m.persons[person] {
		out[k] = v
	}
	return out, nil
}

func (m *Memory) Append(_ context.Context, person string, match models.ResolvedMatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byKey, ok := m.persons[person]
	if !ok {
		byKey = make(map[models.LookupKey]models.ResolvedMatch)
		m.persons[person] = byKey
	}
	if _, exists := byKey[match.Key]; exists {
		return nil
	}
	byKey[match.Key] = match
	m.Appends++
	return nil
}

func (m *Memory) Close() error { return nil }
