package document

import (
	"fmt"
	"time"
)

// DocumentType names one editable artifact of a video. A video has at most one
// document per type.
type DocumentType string

const (
	TypeScript         DocumentType = "script"
	TypeDescription    DocumentType = "description"
	TypeNotes          DocumentType = "notes"
	TypeThumbnailIdeas DocumentType = "thumbnail_ideas"
)

// Types lists every document type created for a new video.
var Types = []DocumentType{TypeScript, TypeDescription, TypeNotes, TypeThumbnailIdeas}

// ParseType validates a document type coming from a path or config value.
func ParseType(s string) (DocumentType, error) {
	for _, t := range Types {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown document type %q", s)
}

// InitialVersion is the version of a freshly created document.
const InitialVersion = 1

// Document is the current, mutable state of one video document.
type Document struct {
	ID        string       `json:"id" bson:"_id" db:"id"`
	VideoID   string       `json:"videoId" bson:"videoId" db:"video_id"`
	Type      DocumentType `json:"type" bson:"type" db:"doc_type"`
	Content   string       `json:"content" bson:"content" db:"content"`
	Version   int          `json:"version" bson:"version" db:"version"`
	CreatedAt time.Time    `json:"createdAt" bson:"createdAt" db:"created_at"`
	UpdatedAt time.Time    `json:"updatedAt" bson:"updatedAt" db:"updated_at"`
	UpdatedBy *string      `json:"updatedBy,omitempty" bson:"updatedBy,omitempty" db:"updated_by"`
}

// Revision is an immutable snapshot of a document's content at a prior version.
// ContentKey is set when the content lives in blob storage instead of inline.
type Revision struct {
	ID         string    `json:"id" bson:"_id" db:"id"`
	DocumentID string    `json:"documentId" bson:"documentId" db:"document_id"`
	Version    int       `json:"version" bson:"version" db:"version"`
	Content    string    `json:"content" bson:"content,omitempty" db:"content"`
	ContentKey string    `json:"-" bson:"contentKey,omitempty" db:"-"`
	CreatedAt  time.Time `json:"createdAt" bson:"createdAt" db:"created_at"`
	CreatedBy  *string   `json:"createdBy,omitempty" bson:"createdBy,omitempty" db:"created_by"`
}

// WriteRequest is the input of the version-checked write.
type WriteRequest struct {
	DocumentID      string
	Content         string
	ExpectedVersion int
	// Force skips the version check; the stored state is still kept as a revision.
	Force bool
	// EditorID is the acting user; empty means unknown.
	EditorID string
}

// WriteResult reports the authoritative version after a successful write.
type WriteResult struct {
	DocumentID      string    `json:"documentId"`
	Version         int       `json:"version"`
	PreviousVersion int       `json:"previousVersion"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Editor returns the editor identity as a nullable column value.
func (r WriteRequest) Editor() *string {
	if r.EditorID == "" {
		return nil
	}
	id := r.EditorID
	return &id
}
