package repository

import (
	"context"
	"errors"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/streamline-studio/streamline/backend/go-services/internal/document"
	"go.uber.org/zap"
)

const uniqueViolation = "23505"

const (
	documentColumns = `id, video_id, doc_type, content, version, created_at, updated_at, updated_by`
	revisionColumns = `id, document_id, version, content, created_at, created_by`

	insertDocumentQuery = `
        INSERT INTO documents (id, video_id, doc_type, content, version, created_at, updated_at)
        VALUES ($1, $2, $3, $4, 1, $5, $5)
        ON CONFLICT (video_id, doc_type) DO NOTHING`
	getDocumentQuery        = `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`
	getDocumentByVideoQuery = `SELECT ` + documentColumns + ` FROM documents WHERE video_id = $1 AND doc_type = $2`
	listByVideoQuery        = `SELECT ` + documentColumns + ` FROM documents WHERE video_id = $1 ORDER BY doc_type`
	// the row lock serializes writers of one document until commit
	lockDocumentQuery   = `SELECT ` + documentColumns + ` FROM documents WHERE id = $1 FOR UPDATE`
	insertRevisionQuery = `
        INSERT INTO document_revisions (id, document_id, version, content, created_at, created_by)
        VALUES ($1, $2, $3, $4, $5, $6)`
	updateIfVersionQuery = `
        UPDATE documents
        SET content = $2, version = version + 1, updated_at = $3, updated_by = $4
        WHERE id = $1 AND version = $5`
	listRevisionsQuery = `SELECT ` + revisionColumns + ` FROM document_revisions WHERE document_id = $1 ORDER BY version DESC`
	getRevisionQuery   = `SELECT ` + revisionColumns + ` FROM document_revisions WHERE document_id = $1 AND version = $2`
	// revisions go with their document through ON DELETE CASCADE
	deleteByVideoQuery = `DELETE FROM documents WHERE video_id = $1`
)

// PostgresStore implements Store on PostgreSQL through a pgx pool.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

func NewPostgresStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logger.Named("PostgresStore")}
}

func (p *PostgresStore) Name() string { return "postgres" }

func (p *PostgresStore) Create(ctx context.Context, doc *document.Document) (*document.Document, error) {
	id := doc.ID
	if id == "" {
		id = uuid.NewString()
	}
	if _, err := p.pool.Exec(ctx, insertDocumentQuery, id, doc.VideoID, doc.Type, doc.Content, time.Now().UTC()); err != nil {
		return nil, document.Persistence("create document", err)
	}
	return p.GetByVideo(ctx, doc.VideoID, doc.Type)
}

func (p *PostgresStore) getOne(ctx context.Context, q pgxscan.Querier, query string, args ...interface{}) (*document.Document, error) {
	var d document.Document
	if err := pgxscan.Get(ctx, q, &d, query, args...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, document.Persistence("read document", err)
	}
	return &d, nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*document.Document, error) {
	return p.getOne(ctx, p.pool, getDocumentQuery, id)
}

func (p *PostgresStore) GetByVideo(ctx context.Context, videoID string, t document.DocumentType) (*document.Document, error) {
	return p.getOne(ctx, p.pool, getDocumentByVideoQuery, videoID, t)
}

func (p *PostgresStore) ListByVideo(ctx context.Context, videoID string) ([]*document.Document, error) {
	out := []*document.Document{}
	if err := pgxscan.Select(ctx, p.pool, &out, listByVideoQuery, videoID); err != nil {
		return nil, document.Persistence("list documents", err)
	}
	return out, nil
}

func (p *PostgresStore) WriteIfVersion(ctx context.Context, req document.WriteRequest, now time.Time) (res *document.WriteResult, err error) {
	log := p.logger.With(zap.String("documentID", req.DocumentID), zap.Int("expectedVersion", req.ExpectedVersion), zap.Bool("force", req.Force))

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, document.Persistence("begin write", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				log.Warn("rollback failed", zap.Error(rbErr))
			}
		}
	}()

	cur, err := p.getOne(ctx, tx, lockDocumentQuery, req.DocumentID)
	if err != nil {
		return nil, err
	}
	if !req.Force && cur.Version != req.ExpectedVersion {
		log.Debug("stale write rejected", zap.Int("currentVersion", cur.Version))
		return nil, conflictFrom(cur, req.ExpectedVersion)
	}

	if _, err = tx.Exec(ctx, insertRevisionQuery, uuid.NewString(), cur.ID, cur.Version, cur.Content, now, req.Editor()); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			// a revision for this version already exists, so the version is spent
			log.Warn("revision slot taken", zap.Int("version", cur.Version), zap.String("constraint", pgErr.ConstraintName))
			err = conflictFrom(cur, req.ExpectedVersion)
			return nil, err
		}
		return nil, document.Persistence("append revision", err)
	}
	tag, err := tx.Exec(ctx, updateIfVersionQuery, cur.ID, req.Content, now, req.Editor(), cur.Version)
	if err != nil {
		return nil, document.Persistence("update document", err)
	}
	if tag.RowsAffected() != 1 {
		// unreachable while the row lock is held; kept as the CAS guard
		err = conflictFrom(cur, req.ExpectedVersion)
		return nil, err
	}
	if err = tx.Commit(ctx); err != nil {
		return nil, document.Persistence("commit write", err)
	}
	return &document.WriteResult{DocumentID: cur.ID, Version: cur.Version + 1, PreviousVersion: cur.Version, UpdatedAt: now}, nil
}

func (p *PostgresStore) ListRevisions(ctx context.Context, documentID string) ([]*document.Revision, error) {
	if _, err := p.Get(ctx, documentID); err != nil {
		return nil, err
	}
	out := []*document.Revision{}
	if err := pgxscan.Select(ctx, p.pool, &out, listRevisionsQuery, documentID); err != nil {
		return nil, document.Persistence("list revisions", err)
	}
	return out, nil
}

func (p *PostgresStore) GetRevision(ctx context.Context, documentID string, version int) (*document.Revision, error) {
	var r document.Revision
	if err := pgxscan.Get(ctx, p.pool, &r, getRevisionQuery, documentID, version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, document.Persistence("read revision", err)
	}
	return &r, nil
}

func (p *PostgresStore) DeleteByVideo(ctx context.Context, videoID string) (int, error) {
	tag, err := p.pool.Exec(ctx, deleteByVideoQuery, videoID)
	if err != nil {
		return 0, document.Persistence("delete documents", err)
	}
	return int(tag.RowsAffected()), nil
}
