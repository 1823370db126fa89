package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/streamline-studio/streamline/backend/go-services/internal/document"
	"github.com/streamline-studio/streamline/backend/go-services/internal/document/repository"
	"github.com/streamline-studio/streamline/backend/go-services/pkg/metrics"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func fixedClock() func() time.Time {
	t := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return t }
}

// seed returns the script document of video-1, written once with content when
// content is non-empty (version 2), otherwise untouched at version 1.
func seed(t *testing.T, svc Service, content string) *document.Document {
	t.Helper()
	d, err := svc.GetForVideo(context.Background(), "video-1", document.TypeScript)
	require.NoError(t, err)
	require.Equal(t, 1, d.Version)
	if content == "" {
		return d
	}
	_, err = svc.Write(context.Background(), document.WriteRequest{DocumentID: d.ID, Content: content, ExpectedVersion: 1})
	require.NoError(t, err)
	d, err = svc.Get(context.Background(), d.ID)
	require.NoError(t, err)
	return d
}

func TestWriteSuccessRecordsRevision(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	// version 1 with content "A"
	d, err := store.Create(ctx, &document.Document{VideoID: "v1", Type: document.TypeScript, Content: "A"})
	require.NoError(t, err)
	svc := New(store, WithClock(fixedClock()))

	res, err := svc.Write(ctx, document.WriteRequest{DocumentID: d.ID, Content: "B", ExpectedVersion: 1, EditorID: "alice"})
	require.NoError(t, err)
	require.Equal(t, 2, res.Version)
	require.Equal(t, fixedClock()(), res.UpdatedAt)

	rev, err := svc.GetRevision(ctx, d.ID, 1)
	require.NoError(t, err)
	require.Equal(t, "A", rev.Content)

	got, err := svc.Get(ctx, d.ID)
	require.NoError(t, err)
	require.Equal(t, "B", got.Content)
	require.Equal(t, "alice", *got.UpdatedBy)
	require.Equal(t, fixedClock()(), got.UpdatedAt)
}

func TestConcurrentEditorsReloadAndForce(t *testing.T) {
	ctx := context.Background()
	svc := NewMemoryService()
	d := seed(t, svc, "base")
	require.Equal(t, 2, d.Version)

	// X writes first
	res, err := svc.Write(ctx, document.WriteRequest{DocumentID: d.ID, Content: "X-edit", ExpectedVersion: 2, EditorID: "x"})
	require.NoError(t, err)
	require.Equal(t, 3, res.Version)

	// Y is stale
	_, err = svc.Write(ctx, document.WriteRequest{DocumentID: d.ID, Content: "Y-edit", ExpectedVersion: 2, EditorID: "y"})
	ce, ok := document.AsConflict(err)
	require.True(t, ok)
	require.Equal(t, 2, ce.Expected)
	require.Equal(t, 3, ce.Current)
	require.Equal(t, "X-edit", ce.CurrentContent)
	require.Equal(t, "x", *ce.UpdatedBy)

	// reload sees X's edit
	cur, err := svc.Get(ctx, d.ID)
	require.NoError(t, err)
	require.Equal(t, "X-edit", cur.Content)
	require.Equal(t, 3, cur.Version)

	// force-save instead
	res, err = svc.Write(ctx, document.WriteRequest{DocumentID: d.ID, Content: "Y-edit", ExpectedVersion: 2, Force: true, EditorID: "y"})
	require.NoError(t, err)
	require.Equal(t, 4, res.Version)
	rev, err := svc.GetRevision(ctx, d.ID, 3)
	require.NoError(t, err)
	require.Equal(t, "X-edit", rev.Content)
	cur, err = svc.Get(ctx, d.ID)
	require.NoError(t, err)
	require.Equal(t, "Y-edit", cur.Content)
	require.Equal(t, 4, cur.Version)
}

func TestVersionsAreMonotonic(t *testing.T) {
	ctx := context.Background()
	svc := NewMemoryService()
	d := seed(t, svc, "")
	v := d.Version
	for i := 0; i < 10; i++ {
		req := document.WriteRequest{DocumentID: d.ID, Content: "c", ExpectedVersion: v, Force: i%3 == 0}
		if req.Force {
			req.ExpectedVersion = 0
		}
		res, err := svc.Write(ctx, req)
		require.NoError(t, err)
		require.Equal(t, v+1, res.Version)
		require.Equal(t, v, res.PreviousVersion)
		v = res.Version
	}
	revs, err := svc.ListRevisions(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, revs, 10)
	for i, r := range revs {
		require.Equal(t, v-1-i, r.Version)
	}
}

func TestWriteRejectsInvalidExpectedVersion(t *testing.T) {
	svc := NewMemoryService()
	d := seed(t, svc, "")
	before := testutil.ToFloat64(metrics.DocumentWrites.WithLabelValues("invalid"))
	_, err := svc.Write(context.Background(), document.WriteRequest{DocumentID: d.ID, Content: "x", ExpectedVersion: 0})
	require.ErrorIs(t, err, ErrInvalidVersion)
	require.Equal(t, before+1, testutil.ToFloat64(metrics.DocumentWrites.WithLabelValues("invalid")))
}

func TestWriteMissingDocument(t *testing.T) {
	svc := NewMemoryService()
	_, err := svc.Write(context.Background(), document.WriteRequest{DocumentID: "missing", Content: "x", ExpectedVersion: 1})
	require.ErrorIs(t, err, ErrNotFound)
	_, err = svc.WriteForVideo(context.Background(), "video-x", document.TypeNotes, document.WriteRequest{Content: "x", ExpectedVersion: 1})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCreateForVideoIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc := NewMemoryService()
	first, err := svc.CreateForVideo(ctx, "video-9")
	require.NoError(t, err)
	require.Len(t, first, len(document.Types))
	for i, d := range first {
		require.Equal(t, document.Types[i], d.Type)
		require.Equal(t, 1, d.Version)
		require.Empty(t, d.Content)
	}
	again, err := svc.CreateForVideo(ctx, "video-9")
	require.NoError(t, err)
	for i := range again {
		require.Equal(t, first[i].ID, again[i].ID)
	}

	lazy, err := svc.GetForVideo(ctx, "video-9", document.TypeDescription)
	require.NoError(t, err)
	require.Equal(t, first[1].ID, lazy.ID)
}

func TestWriteForVideo(t *testing.T) {
	ctx := context.Background()
	svc := NewMemoryService()
	d, err := svc.GetForVideo(ctx, "video-2", document.TypeThumbnailIdeas)
	require.NoError(t, err)
	res, err := svc.WriteForVideo(ctx, "video-2", document.TypeThumbnailIdeas, document.WriteRequest{Content: "idea", ExpectedVersion: 1})
	require.NoError(t, err)
	require.Equal(t, d.ID, res.DocumentID)
	require.Equal(t, 2, res.Version)
}

func TestRestoreRevisionIsAVersionCheckedWrite(t *testing.T) {
	ctx := context.Background()
	svc := NewMemoryService()
	d := seed(t, svc, "first draft")
	_, err := svc.Write(ctx, document.WriteRequest{DocumentID: d.ID, Content: "rewrite", ExpectedVersion: 2})
	require.NoError(t, err)

	_, err = svc.RestoreRevision(ctx, d.ID, 2, 2, "bob")
	_, ok := document.AsConflict(err)
	require.True(t, ok)

	res, err := svc.RestoreRevision(ctx, d.ID, 2, 3, "bob")
	require.NoError(t, err)
	require.Equal(t, 4, res.Version)
	cur, err := svc.Get(ctx, d.ID)
	require.NoError(t, err)
	require.Equal(t, "first draft", cur.Content)
	rev, err := svc.GetRevision(ctx, d.ID, 3)
	require.NoError(t, err)
	require.Equal(t, "rewrite", rev.Content)

	_, err = svc.RestoreRevision(ctx, d.ID, 42, 4, "bob")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = svc.GetRevision(ctx, d.ID, 0)
	require.ErrorIs(t, err, ErrInvalidVersion)
}

func TestDeleteVideo(t *testing.T) {
	ctx := context.Background()
	svc := NewMemoryService()
	docs, err := svc.CreateForVideo(ctx, "video-3")
	require.NoError(t, err)
	n, err := svc.DeleteVideo(ctx, "video-3")
	require.NoError(t, err)
	require.Equal(t, len(document.Types), n)
	_, err = svc.Get(ctx, docs[0].ID)
	require.ErrorIs(t, err, ErrNotFound)
}

type failingStore struct {
	repository.Store
}

func (failingStore) Name() string { return "failing" }

func (failingStore) WriteIfVersion(context.Context, document.WriteRequest, time.Time) (*document.WriteResult, error) {
	return nil, document.Persistence("write document", errors.New("connection reset"))
}

func TestPersistenceFailureIsLoggedAndCounted(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	svc := New(failingStore{Store: repository.NewMemoryStore()}, WithLogger(zap.New(core)))
	before := testutil.ToFloat64(metrics.DocumentWrites.WithLabelValues("error"))

	_, err := svc.Write(context.Background(), document.WriteRequest{DocumentID: "d", Content: "x", ExpectedVersion: 1})
	require.True(t, document.IsPersistence(err))
	var pe *document.PersistenceError
	require.ErrorAs(t, err, &pe)
	require.True(t, pe.Retryable())

	require.Equal(t, before+1, testutil.ToFloat64(metrics.DocumentWrites.WithLabelValues("error")))
	require.Equal(t, 1, logs.FilterMessage("write failed").Len())
}
