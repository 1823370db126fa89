package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/streamline-studio/streamline/backend/go-services/internal/autosave"
	"github.com/streamline-studio/streamline/backend/go-services/internal/config"
	"github.com/streamline-studio/streamline/backend/go-services/internal/document"
	"github.com/streamline-studio/streamline/backend/go-services/internal/document/handler"
	"github.com/streamline-studio/streamline/backend/go-services/internal/document/service"
	"github.com/streamline-studio/streamline/backend/go-services/internal/identity"
	"github.com/streamline-studio/streamline/backend/go-services/internal/tokens"
	"github.com/streamline-studio/streamline/backend/go-services/pkg/middleware"
	"github.com/stretchr/testify/require"
)

const secret = "client-test-secret"

// newServer serves the document API behind HS256 auth and the writer guard.
func newServer(t *testing.T) (*httptest.Server, service.Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	svc := service.NewMemoryService()
	r := gin.New()
	api := r.Group("/", middleware.AuthMiddleware(tokens.NewHS256Verifier(secret)))
	handler.RegisterDocumentRoutes(api, svc, middleware.RequireWriter())
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, svc
}

func newClient(t *testing.T, baseURL, userID string, role identity.Role) *Client {
	t.Helper()
	c, err := New(baseURL, 0, nil)
	require.NoError(t, err)
	cfg := &config.Config{JWT: config.JWTConfig{Secret: secret}}
	tok, err := tokens.GenerateAccessToken(cfg, identity.Actor{ID: userID, Role: role}, time.Hour)
	require.NoError(t, err)
	c.SetToken(tok)
	return c
}

func TestFetchAndWrite(t *testing.T) {
	srv, _ := newServer(t)
	c := newClient(t, srv.URL, "alice", identity.RoleEditor)
	ctx := context.Background()

	d, err := c.FetchForVideo(ctx, "video-1", document.TypeScript)
	require.NoError(t, err)
	require.Equal(t, 1, d.Version)

	res, err := c.Write(ctx, document.WriteRequest{DocumentID: d.ID, Content: "hello", ExpectedVersion: 1})
	require.NoError(t, err)
	require.Equal(t, 2, res.Version)

	got, err := c.Fetch(ctx, d.ID)
	require.NoError(t, err)
	require.Equal(t, "hello", got.Content)
	require.Equal(t, "alice", *got.UpdatedBy)

	revs, err := c.ListRevisions(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, revs, 1)
	require.Equal(t, 1, revs[0].Version)

	res, err = c.Restore(ctx, d.ID, 1, 2)
	require.NoError(t, err)
	require.Equal(t, 3, res.Version)
}

func TestWriteConflictIsTyped(t *testing.T) {
	srv, _ := newServer(t)
	x := newClient(t, srv.URL, "x", identity.RoleEditor)
	y := newClient(t, srv.URL, "y", identity.RoleEditor)
	ctx := context.Background()

	d, err := x.FetchForVideo(ctx, "video-1", document.TypeNotes)
	require.NoError(t, err)
	_, err = x.Write(ctx, document.WriteRequest{DocumentID: d.ID, Content: "X-edit", ExpectedVersion: 1})
	require.NoError(t, err)

	_, err = y.Write(ctx, document.WriteRequest{DocumentID: d.ID, Content: "Y-edit", ExpectedVersion: 1})
	ce, ok := document.AsConflict(err)
	require.True(t, ok, "got %v", err)
	require.Equal(t, 1, ce.Expected)
	require.Equal(t, 2, ce.Current)
	require.Equal(t, "X-edit", ce.CurrentContent)
	require.Equal(t, "x", *ce.UpdatedBy)
	require.False(t, ce.UpdatedAt.IsZero())

	res, err := y.Write(ctx, document.WriteRequest{DocumentID: d.ID, Content: "Y-edit", ExpectedVersion: 1, Force: true})
	require.NoError(t, err)
	require.Equal(t, 3, res.Version)
}

func TestErrorMapping(t *testing.T) {
	srv, _ := newServer(t)
	c := newClient(t, srv.URL, "alice", identity.RoleEditor)
	ctx := context.Background()

	_, err := c.Fetch(ctx, "missing")
	require.ErrorIs(t, err, document.ErrNotFound)

	d, err := c.FetchForVideo(ctx, "video-1", document.TypeScript)
	require.NoError(t, err)
	_, err = c.Write(ctx, document.WriteRequest{DocumentID: d.ID, Content: "x", ExpectedVersion: 0})
	require.ErrorIs(t, err, document.ErrInvalidVersion)

	viewer := newClient(t, srv.URL, "vic", identity.RoleViewer)
	_, err = viewer.Write(ctx, document.WriteRequest{DocumentID: d.ID, Content: "x", ExpectedVersion: 1})
	require.True(t, IsStatus(err, http.StatusForbidden), "got %v", err)
	require.False(t, document.IsPersistence(err))

	anon, err := New(srv.URL, 0, nil)
	require.NoError(t, err)
	_, err = anon.Fetch(ctx, d.ID)
	require.True(t, IsStatus(err, http.StatusUnauthorized), "got %v", err)
}

func TestServerUnavailableIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"storage unavailable, please retry","retryable":true}`))
	}))
	defer srv.Close()
	c, err := New(srv.URL, 0, nil)
	require.NoError(t, err)

	_, err = c.Write(context.Background(), document.WriteRequest{DocumentID: "d", Content: "x", ExpectedVersion: 1})
	require.True(t, document.IsPersistence(err))
	require.True(t, IsStatus(err, http.StatusServiceUnavailable))
}

func TestTimeoutSurfacesDeadline(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)
	c, err := New(srv.URL, 0, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = c.Write(ctx, document.WriteRequest{DocumentID: "d", Content: "x", ExpectedVersion: 1})
	require.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
	require.True(t, document.IsPersistence(err))
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New("not a url", time.Second, nil)
	require.Error(t, err)
}

func TestNewDraftCacheDrivers(t *testing.T) {
	m, err := miniredis.Run()
	require.NoError(t, err)
	defer m.Close()
	rdb := redis.NewClient(&redis.Options{Addr: m.Addr()})
	defer rdb.Close()
	ctx := context.Background()

	for _, driver := range []string{"memory", "redis", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			cfg := config.AutosaveConfig{
				DraftDriver:  driver,
				DraftCeiling: 10,
				DraftTTL:     time.Hour,
				SQLitePath:   filepath.Join(t.TempDir(), "drafts.db"),
			}
			cache, closeFn, err := NewDraftCache(cfg, rdb, nil)
			require.NoError(t, err)
			defer closeFn()
			require.Equal(t, 10, cache.Limit())

			require.NoError(t, cache.Save(ctx, "doc", "short"))
			require.NoError(t, cache.Save(ctx, "doc", "far too long for ten"))
			got, ok, err := cache.Restore(ctx, "doc")
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, "short", got)
		})
	}

	_, _, err = NewDraftCache(config.AutosaveConfig{DraftDriver: "redis"}, nil, nil)
	require.Error(t, err)
	_, _, err = NewDraftCache(config.AutosaveConfig{DraftDriver: "floppy"}, nil, nil)
	require.Error(t, err)
}

func TestEditorOverHTTPResolvesConflict(t *testing.T) {
	srv, svc := newServer(t)
	ctx := context.Background()
	d, err := svc.GetForVideo(ctx, "video-1", document.TypeScript)
	require.NoError(t, err)
	_, err = svc.Write(ctx, document.WriteRequest{DocumentID: d.ID, Content: "base", ExpectedVersion: 1})
	require.NoError(t, err)

	cfg := config.AutosaveConfig{Debounce: 20 * time.Millisecond, SaveTimeout: time.Second}
	y := newClient(t, srv.URL, "y", identity.RoleEditor)
	drafts, closeFn, err := NewDraftCache(cfg, nil, nil)
	require.NoError(t, err)
	defer closeFn()
	ed, err := y.OpenEditor(ctx, cfg, drafts, d.ID, "y")
	require.NoError(t, err)
	defer ed.Close(ctx)

	// someone else saves first
	_, err = svc.Write(ctx, document.WriteRequest{DocumentID: d.ID, Content: "X-edit", ExpectedVersion: 2, EditorID: "x"})
	require.NoError(t, err)

	ed.OnContentChange("Y-edit")
	require.Eventually(t, func() bool { return ed.State() == autosave.StateConflict }, 2*time.Second, 5*time.Millisecond)
	snap := ed.Snapshot()
	require.Equal(t, 2, snap.Conflict.ExpectedVersion)
	require.Equal(t, 3, snap.Conflict.CurrentVersion)
	require.Equal(t, "X-edit", snap.Conflict.ServerContent)

	require.NoError(t, ed.OnConflictResolved(ctx, autosave.ForceSave))
	require.Eventually(t, func() bool { return ed.State() == autosave.StateSaved }, 2*time.Second, 5*time.Millisecond)
	cur, err := svc.Get(ctx, d.ID)
	require.NoError(t, err)
	require.Equal(t, "Y-edit", cur.Content)
	require.Equal(t, 4, cur.Version)
	require.Equal(t, "y", *cur.UpdatedBy)
}
