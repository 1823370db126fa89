package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/streamline-studio/streamline/backend/go-services/internal/database"
	"github.com/streamline-studio/streamline/backend/go-services/internal/document"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

type PostgresStoreSuite struct {
	suite.Suite
	ctx       context.Context
	container *postgres.PostgresContainer
	pool      *pgxpool.Pool
	store     *PostgresStore
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.ctx = context.Background()
	var err error
	s.container, err = postgres.Run(s.ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("streamline_test"),
		postgres.WithUsername("streamline"),
		postgres.WithPassword("streamline"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(2*time.Minute),
		),
	)
	require.NoError(s.T(), err, "start postgres container")

	dsn, err := s.container.ConnectionString(s.ctx, "sslmode=disable")
	require.NoError(s.T(), err)
	s.pool, err = database.ConnectPostgres(s.ctx, dsn, 20, 30*time.Second)
	require.NoError(s.T(), err)
	require.NoError(s.T(), database.MigratePostgres(s.pool))
	s.store = NewPostgresStore(s.pool, zap.NewNop())
}

func (s *PostgresStoreSuite) TearDownSuite() {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(s.ctx)
	}
}

func (s *PostgresStoreSuite) SetupTest() {
	_, err := s.pool.Exec(s.ctx, `TRUNCATE documents CASCADE`)
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) TestCreateIsIdempotent() {
	a, err := s.store.Create(s.ctx, &document.Document{VideoID: "v1", Type: document.TypeScript})
	s.Require().NoError(err)
	s.Equal(1, a.Version)
	b, err := s.store.Create(s.ctx, &document.Document{VideoID: "v1", Type: document.TypeScript})
	s.Require().NoError(err)
	s.Equal(a.ID, b.ID)
}

func (s *PostgresStoreSuite) TestWriteConflictAndForce() {
	d, err := s.store.Create(s.ctx, &document.Document{VideoID: "v1", Type: document.TypeNotes})
	s.Require().NoError(err)

	res, err := s.store.WriteIfVersion(s.ctx, document.WriteRequest{DocumentID: d.ID, Content: "A", ExpectedVersion: 1, EditorID: "u1"}, time.Now().UTC())
	s.Require().NoError(err)
	s.Equal(2, res.Version)

	_, err = s.store.WriteIfVersion(s.ctx, document.WriteRequest{DocumentID: d.ID, Content: "stale", ExpectedVersion: 1}, time.Now().UTC())
	ce, ok := document.AsConflict(err)
	s.Require().True(ok, "expected conflict, got %v", err)
	s.Equal(2, ce.Current)
	s.Equal("A", ce.CurrentContent)

	res, err = s.store.WriteIfVersion(s.ctx, document.WriteRequest{DocumentID: d.ID, Content: "forced", ExpectedVersion: 1, Force: true}, time.Now().UTC())
	s.Require().NoError(err)
	s.Equal(3, res.Version)

	revs, err := s.store.ListRevisions(s.ctx, d.ID)
	s.Require().NoError(err)
	s.Require().Len(revs, 2)
	s.Equal(2, revs[0].Version)
	s.Equal("A", revs[0].Content)
	s.Equal(1, revs[1].Version)
	s.Equal("", revs[1].Content)
}

func (s *PostgresStoreSuite) TestConcurrentWritersOneWins() {
	d, err := s.store.Create(s.ctx, &document.Document{VideoID: "v2", Type: document.TypeScript})
	s.Require().NoError(err)

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.store.WriteIfVersion(s.ctx, document.WriteRequest{DocumentID: d.ID, Content: "edit", ExpectedVersion: 1}, time.Now().UTC())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	wins := 0
	for err := range errs {
		if err == nil {
			wins++
			continue
		}
		ce, ok := document.AsConflict(err)
		s.Require().True(ok, "unexpected error %v", err)
		s.Equal(2, ce.Current)
	}
	s.Equal(1, wins)
}

func (s *PostgresStoreSuite) TestTakenRevisionSlotIsAConflict() {
	d, err := s.store.Create(s.ctx, &document.Document{VideoID: "v4", Type: document.TypeScript, Content: ""})
	s.Require().NoError(err)
	_, err = s.pool.Exec(s.ctx, insertRevisionQuery, "stray", d.ID, 1, "orphan", time.Now().UTC(), nil)
	s.Require().NoError(err)

	_, err = s.store.WriteIfVersion(s.ctx, document.WriteRequest{DocumentID: d.ID, Content: "x", ExpectedVersion: 1}, time.Now().UTC())
	ce, ok := document.AsConflict(err)
	s.Require().True(ok, "expected conflict, got %v", err)
	s.Equal(1, ce.Current)
	s.False(document.IsPersistence(err))

	cur, err := s.store.Get(s.ctx, d.ID)
	s.Require().NoError(err)
	s.Equal(1, cur.Version, "failed write is rolled back")
	s.Equal("", cur.Content)
}

func (s *PostgresStoreSuite) TestDeleteByVideoCascades() {
	d, err := s.store.Create(s.ctx, &document.Document{VideoID: "v3", Type: document.TypeScript})
	s.Require().NoError(err)
	_, err = s.store.WriteIfVersion(s.ctx, document.WriteRequest{DocumentID: d.ID, Content: "x", ExpectedVersion: 1}, time.Now().UTC())
	s.Require().NoError(err)

	n, err := s.store.DeleteByVideo(s.ctx, "v3")
	s.Require().NoError(err)
	s.Equal(1, n)
	_, err = s.store.GetRevision(s.ctx, d.ID, 1)
	s.ErrorIs(err, ErrNotFound)
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping postgres integration tests in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)
	suite.Run(t, new(PostgresStoreSuite))
}
