package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/streamline-studio/streamline/backend/go-services/internal/document"
)

// MemoryStore is an in-memory Store used for development and unit tests.
// A single mutex covers documents and revisions, which makes every write atomic.
type MemoryStore struct {
	mu        sync.RWMutex
	docs      map[string]*document.Document
	byVideo   map[string]string
	revisions map[string][]*document.Revision
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:      make(map[string]*document.Document),
		byVideo:   make(map[string]string),
		revisions: make(map[string][]*document.Revision),
	}
}

func (m *MemoryStore) Name() string { return "memory" }

func videoKey(videoID string, t document.DocumentType) string {
	return videoID + "|" + string(t)
}

func copyDoc(d *document.Document) *document.Document {
	c := *d
	return &c
}

func (m *MemoryStore) Create(_ context.Context, doc *document.Document) (*document.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.byVideo[videoKey(doc.VideoID, doc.Type)]; ok {
		return copyDoc(m.docs[id]), nil
	}
	d := copyDoc(doc)
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.Version == 0 {
		d.Version = document.InitialVersion
	}
	now := time.Now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now
	m.docs[d.ID] = d
	m.byVideo[videoKey(d.VideoID, d.Type)] = d.ID
	return copyDoc(d), nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*document.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if d, ok := m.docs[id]; ok {
		return copyDoc(d), nil
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) GetByVideo(_ context.Context, videoID string, t document.DocumentType) (*document.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if id, ok := m.byVideo[videoKey(videoID, t)]; ok {
		return copyDoc(m.docs[id]), nil
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) ListByVideo(_ context.Context, videoID string) ([]*document.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*document.Document{}
	for _, t := range document.Types {
		if id, ok := m.byVideo[videoKey(videoID, t)]; ok {
			out = append(out, copyDoc(m.docs[id]))
		}
	}
	return out, nil
}

func (m *MemoryStore) WriteIfVersion(_ context.Context, req document.WriteRequest, now time.Time) (*document.WriteResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[req.DocumentID]
	if !ok {
		return nil, ErrNotFound
	}
	if !req.Force && d.Version != req.ExpectedVersion {
		return nil, conflictFrom(copyDoc(d), req.ExpectedVersion)
	}
	m.revisions[d.ID] = append(m.revisions[d.ID], &document.Revision{
		ID:         uuid.NewString(),
		DocumentID: d.ID,
		Version:    d.Version,
		Content:    d.Content,
		CreatedAt:  now,
		CreatedBy:  req.Editor(),
	})
	prev := d.Version
	d.Content = req.Content
	d.Version = prev + 1
	d.UpdatedAt = now
	d.UpdatedBy = req.Editor()
	return &document.WriteResult{DocumentID: d.ID, Version: d.Version, PreviousVersion: prev, UpdatedAt: now}, nil
}

func (m *MemoryStore) ListRevisions(_ context.Context, documentID string) ([]*document.Revision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.docs[documentID]; !ok {
		return nil, ErrNotFound
	}
	revs := m.revisions[documentID]
	out := make([]*document.Revision, 0, len(revs))
	for _, r := range revs {
		c := *r
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version > out[j].Version })
	return out, nil
}

func (m *MemoryStore) GetRevision(_ context.Context, documentID string, version int) (*document.Revision, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.revisions[documentID] {
		if r.Version == version {
			c := *r
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) DeleteByVideo(_ context.Context, videoID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range document.Types {
		k := videoKey(videoID, t)
		id, ok := m.byVideo[k]
		if !ok {
			continue
		}
		delete(m.byVideo, k)
		delete(m.docs, id)
		delete(m.revisions, id)
		n++
	}
	return n, nil
}
