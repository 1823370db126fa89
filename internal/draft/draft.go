// Package draft is the client-side Local Draft Cache: a best-effort backup of
// unsaved editor content used for crash and navigation recovery. Drafts are
// advisory and never authoritative.
package draft

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// MaxDraftBytes is the default ceiling; larger content is not cached.
const MaxDraftBytes = 500000

// Draft is one cached copy of unsaved content.
type Draft struct {
	DocumentID string    `json:"documentId" db:"document_id"`
	Content    string    `json:"content" db:"content"`
	Size       int       `json:"size" db:"size"`
	UpdatedAt  time.Time `json:"updatedAt" db:"updated_at"`
}

// Store persists drafts. Get returns nil, nil when no draft exists.
type Store interface {
	Put(ctx context.Context, d Draft) error
	Get(ctx context.Context, documentID string) (*Draft, error)
	Delete(ctx context.Context, documentID string) error
}

// Cache enforces the size ceiling in front of a Store.
type Cache struct {
	store  Store
	limit  int
	now    func() time.Time
	logger *zap.Logger
}

type Option func(*Cache)

// WithLimit overrides MaxDraftBytes.
func WithLimit(n int) Option { return func(c *Cache) { c.limit = n } }

func WithLogger(l *zap.Logger) Option { return func(c *Cache) { c.logger = l } }

func WithClock(now func() time.Time) Option { return func(c *Cache) { c.now = now } }

func NewCache(store Store, opts ...Option) *Cache {
	c := &Cache{store: store, limit: MaxDraftBytes, now: time.Now, logger: zap.NewNop()}
	for _, o := range opts {
		o(c)
	}
	c.logger = c.logger.Named("DraftCache")
	return c
}

// Limit reports the ceiling in bytes.
func (c *Cache) Limit() int { return c.limit }

// Save stores content for the document. Content above the ceiling is skipped
// without error and any earlier draft is left as it was.
func (c *Cache) Save(ctx context.Context, documentID, content string) error {
	if len(content) > c.limit {
		c.logger.Debug("draft over size ceiling, not cached",
			zap.String("documentID", documentID), zap.Int("size", len(content)), zap.Int("limit", c.limit))
		return nil
	}
	return c.store.Put(ctx, Draft{
		DocumentID: documentID,
		Content:    content,
		Size:       len(content),
		UpdatedAt:  c.now().UTC(),
	})
}

// Restore returns the cached content, if any.
func (c *Cache) Restore(ctx context.Context, documentID string) (string, bool, error) {
	d, err := c.store.Get(ctx, documentID)
	if err != nil || d == nil {
		return "", false, err
	}
	return d.Content, true, nil
}

// Clear drops the draft for the document.
func (c *Cache) Clear(ctx context.Context, documentID string) error {
	return c.store.Delete(ctx, documentID)
}
