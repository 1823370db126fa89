package draft

import (
	"context"
	"sync"
)

// MemoryStore keeps drafts for the lifetime of the process.
type MemoryStore struct {
	mu     sync.Mutex
	drafts map[string]Draft
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{drafts: make(map[string]Draft)}
}

func (m *MemoryStore) Put(_ context.Context, d Draft) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drafts[d.DocumentID] = d
	return nil
}

func (m *MemoryStore) Get(_ context.Context, documentID string) (*Draft, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drafts[documentID]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (m *MemoryStore) Delete(_ context.Context, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.drafts, documentID)
	return nil
}
