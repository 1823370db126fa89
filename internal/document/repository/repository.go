package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/streamline-studio/streamline/backend/go-services/internal/document"
)

// ErrNotFound is kept as an alias so callers of the repository package can
// match without importing the document package.
var ErrNotFound = document.ErrNotFound

// Store is the storage capability the document service is built on. Any backing
// store works as long as WriteIfVersion is atomic: the revision append and the
// version bump either both happen or neither does, and two writers holding the
// same expected version can never both succeed.
type Store interface {
	// Create inserts doc unless a document already exists for its (video, type)
	// pair, in which case the existing one is returned.
	Create(ctx context.Context, doc *document.Document) (*document.Document, error)
	Get(ctx context.Context, id string) (*document.Document, error)
	GetByVideo(ctx context.Context, videoID string, t document.DocumentType) (*document.Document, error)
	ListByVideo(ctx context.Context, videoID string) ([]*document.Document, error)
	// WriteIfVersion appends a revision of the current state and replaces the
	// content, bumping the version by one.
	WriteIfVersion(ctx context.Context, req document.WriteRequest, now time.Time) (*document.WriteResult, error)
	// ListRevisions returns revisions most recent first.
	ListRevisions(ctx context.Context, documentID string) ([]*document.Revision, error)
	GetRevision(ctx context.Context, documentID string, version int) (*document.Revision, error)
	// DeleteByVideo removes the video's documents together with their revisions.
	DeleteByVideo(ctx context.Context, videoID string) (int, error)
	// Name identifies the backend in logs and metrics.
	Name() string
}

// BlobStore holds revision content too large to keep inline.
type BlobStore interface {
	PutText(ctx context.Context, key, content string) error
	GetText(ctx context.Context, key string) (string, error)
	RemovePrefix(ctx context.Context, prefix string) error
}

func conflictFrom(cur *document.Document, expected int) *document.VersionConflictError {
	return &document.VersionConflictError{
		DocumentID:     cur.ID,
		Expected:       expected,
		Current:        cur.Version,
		CurrentContent: cur.Content,
		UpdatedAt:      cur.UpdatedAt,
		UpdatedBy:      cur.UpdatedBy,
	}
}

func revisionPrefix(documentID string) string {
	return fmt.Sprintf("revisions/%s/", documentID)
}

func revisionKey(documentID string, version int) string {
	return fmt.Sprintf("%sv%d.md", revisionPrefix(documentID), version)
}
