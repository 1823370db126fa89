package draft

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

const draftSchema = `CREATE TABLE IF NOT EXISTS drafts (
	document_id TEXT PRIMARY KEY,
	content TEXT NOT NULL,
	size INTEGER NOT NULL,
	updated_at DATETIME NOT NULL
)`

// SQLiteStore persists drafts in a local SQLite file, surviving restarts of the
// editor process.
type SQLiteStore struct {
	db *sqlx.DB
}

// OpenSQLiteStore opens (or creates) the database at path. Use ":memory:" in tests.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open draft db: %w", err)
	}
	// one writer; also keeps a :memory: database on a single connection
	db.SetMaxOpenConns(1)
	s, err := NewSQLiteStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStore creates the drafts table on db if needed.
func NewSQLiteStore(db *sqlx.DB) (*SQLiteStore, error) {
	if _, err := db.Exec(draftSchema); err != nil {
		return nil, fmt.Errorf("create drafts table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Put(ctx context.Context, d Draft) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO drafts (document_id, content, size, updated_at)
		VALUES (:document_id, :content, :size, :updated_at)
		ON CONFLICT(document_id) DO UPDATE SET
			content = excluded.content,
			size = excluded.size,
			updated_at = excluded.updated_at`, d)
	return err
}

func (s *SQLiteStore) Get(ctx context.Context, documentID string) (*Draft, error) {
	var d Draft
	err := s.db.GetContext(ctx, &d, `
		SELECT document_id, content, size, updated_at
		FROM drafts
		WHERE document_id = ?`, documentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, documentID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM drafts WHERE document_id = ?`, documentID)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
