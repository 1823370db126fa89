package service

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/streamline-studio/streamline/backend/go-services/internal/document"
	"github.com/streamline-studio/streamline/backend/go-services/internal/document/repository"
	"github.com/streamline-studio/streamline/backend/go-services/pkg/metrics"
	"go.uber.org/zap"
)

var (
	ErrNotFound       = document.ErrNotFound
	ErrInvalidVersion = document.ErrInvalidVersion
)

// Service defines the document operations used by the handler layer.
type Service interface {
	Get(ctx context.Context, id string) (*document.Document, error)
	// GetForVideo returns the document for the pair, creating it on first access.
	GetForVideo(ctx context.Context, videoID string, t document.DocumentType) (*document.Document, error)
	// CreateForVideo creates every document type for a new video.
	CreateForVideo(ctx context.Context, videoID string) ([]*document.Document, error)
	Write(ctx context.Context, req document.WriteRequest) (*document.WriteResult, error)
	WriteForVideo(ctx context.Context, videoID string, t document.DocumentType, req document.WriteRequest) (*document.WriteResult, error)
	ListRevisions(ctx context.Context, id string) ([]*document.Revision, error)
	GetRevision(ctx context.Context, id string, version int) (*document.Revision, error)
	// RestoreRevision writes an old revision's content as a new version.
	RestoreRevision(ctx context.Context, id string, version, expectedVersion int, editorID string) (*document.WriteResult, error)
	DeleteVideo(ctx context.Context, videoID string) (int, error)
}

// Option configures a Service.
type Option func(*documentService)

// WithClock replaces time.Now for stamping writes.
func WithClock(now func() time.Time) Option {
	return func(s *documentService) { s.now = now }
}

// WithLogger sets the component logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *documentService) { s.logger = l }
}

// New returns a Service over the given store.
func New(store repository.Store, opts ...Option) Service {
	s := &documentService{
		store:  store,
		now:    func() time.Time { return time.Now().UTC() },
		logger: zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.Named("DocumentService")
	return s
}

// NewMemoryService returns a Service backed by the in-memory store.
func NewMemoryService(opts ...Option) Service {
	return New(repository.NewMemoryStore(), opts...)
}

type documentService struct {
	store  repository.Store
	now    func() time.Time
	logger *zap.Logger
}

func (s *documentService) Get(ctx context.Context, id string) (*document.Document, error) {
	return s.store.Get(ctx, id)
}

func (s *documentService) GetForVideo(ctx context.Context, videoID string, t document.DocumentType) (*document.Document, error) {
	d, err := s.store.GetByVideo(ctx, videoID, t)
	if err == nil || !errors.Is(err, ErrNotFound) {
		return d, err
	}
	d, err = s.store.Create(ctx, &document.Document{VideoID: videoID, Type: t})
	if err != nil {
		return nil, err
	}
	metrics.DocumentsCreated.Inc()
	s.logger.Debug("document created lazily", zap.String("videoID", videoID), zap.String("type", string(t)), zap.String("documentID", d.ID))
	return d, nil
}

func (s *documentService) CreateForVideo(ctx context.Context, videoID string) ([]*document.Document, error) {
	existing, err := s.store.ListByVideo(ctx, videoID)
	if err != nil {
		return nil, err
	}
	have := make(map[document.DocumentType]bool, len(existing))
	for _, d := range existing {
		have[d.Type] = true
	}
	out := make([]*document.Document, 0, len(document.Types))
	for _, t := range document.Types {
		d, err := s.store.Create(ctx, &document.Document{VideoID: videoID, Type: t})
		if err != nil {
			return nil, err
		}
		if !have[t] {
			metrics.DocumentsCreated.Inc()
		}
		out = append(out, d)
	}
	s.logger.Info("documents ensured for video", zap.String("videoID", videoID), zap.Int("created", len(document.Types)-len(existing)))
	return out, nil
}

func (s *documentService) Write(ctx context.Context, req document.WriteRequest) (*document.WriteResult, error) {
	if !req.Force && req.ExpectedVersion < document.InitialVersion {
		metrics.DocumentWrites.WithLabelValues("invalid").Inc()
		return nil, ErrInvalidVersion
	}
	log := s.logger.With(zap.String("documentID", req.DocumentID), zap.Int("expectedVersion", req.ExpectedVersion), zap.Bool("force", req.Force))

	timer := prometheus.NewTimer(metrics.DocumentWriteDuration.WithLabelValues(s.store.Name()))
	res, err := s.store.WriteIfVersion(ctx, req, s.now())
	timer.ObserveDuration()

	if err != nil {
		metrics.DocumentWrites.WithLabelValues(outcome(err)).Inc()
		if ce, ok := document.AsConflict(err); ok {
			log.Info("write rejected on stale version", zap.Int("currentVersion", ce.Current))
		} else if !errors.Is(err, ErrNotFound) {
			log.Error("write failed", zap.Error(err))
		}
		return nil, err
	}
	if req.Force {
		metrics.DocumentWrites.WithLabelValues("forced").Inc()
		log.Info("document force-saved", zap.Int("previousVersion", res.PreviousVersion), zap.Int("version", res.Version))
	} else {
		metrics.DocumentWrites.WithLabelValues("saved").Inc()
		log.Debug("document saved", zap.Int("version", res.Version))
	}
	return res, nil
}

func (s *documentService) WriteForVideo(ctx context.Context, videoID string, t document.DocumentType, req document.WriteRequest) (*document.WriteResult, error) {
	d, err := s.store.GetByVideo(ctx, videoID, t)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			metrics.DocumentWrites.WithLabelValues("not_found").Inc()
		}
		return nil, err
	}
	req.DocumentID = d.ID
	return s.Write(ctx, req)
}

func (s *documentService) ListRevisions(ctx context.Context, id string) ([]*document.Revision, error) {
	return s.store.ListRevisions(ctx, id)
}

func (s *documentService) GetRevision(ctx context.Context, id string, version int) (*document.Revision, error) {
	if version < document.InitialVersion {
		return nil, ErrInvalidVersion
	}
	return s.store.GetRevision(ctx, id, version)
}

func (s *documentService) RestoreRevision(ctx context.Context, id string, version, expectedVersion int, editorID string) (*document.WriteResult, error) {
	rev, err := s.GetRevision(ctx, id, version)
	if err != nil {
		return nil, err
	}
	s.logger.Info("restoring revision", zap.String("documentID", id), zap.Int("revision", version))
	return s.Write(ctx, document.WriteRequest{
		DocumentID:      id,
		Content:         rev.Content,
		ExpectedVersion: expectedVersion,
		EditorID:        editorID,
	})
}

func (s *documentService) DeleteVideo(ctx context.Context, videoID string) (int, error) {
	n, err := s.store.DeleteByVideo(ctx, videoID)
	if err != nil {
		return 0, err
	}
	s.logger.Info("video documents deleted", zap.String("videoID", videoID), zap.Int("documents", n))
	return n, nil
}

func outcome(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidVersion):
		return "invalid"
	}
	if _, ok := document.AsConflict(err); ok {
		return "conflict"
	}
	return "error"
}
