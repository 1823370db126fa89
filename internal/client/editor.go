package client

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/streamline-studio/streamline/backend/go-services/internal/autosave"
	"github.com/streamline-studio/streamline/backend/go-services/internal/config"
	"github.com/streamline-studio/streamline/backend/go-services/internal/draft"
	"go.uber.org/zap"
)

// NewDraftCache builds the draft cache selected by cfg.DraftDriver. The
// returned func releases the backing store. rdb is only used by the redis
// driver.
func NewDraftCache(cfg config.AutosaveConfig, rdb *redis.Client, logger *zap.Logger) (*draft.Cache, func() error, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []draft.Option{draft.WithLogger(logger)}
	if cfg.DraftCeiling > 0 {
		opts = append(opts, draft.WithLimit(cfg.DraftCeiling))
	}
	noop := func() error { return nil }

	switch cfg.DraftDriver {
	case "", "memory":
		return draft.NewCache(draft.NewMemoryStore(), opts...), noop, nil
	case "redis":
		if rdb == nil {
			return nil, nil, fmt.Errorf("draft driver redis needs a redis client")
		}
		return draft.NewCache(draft.NewRedisStore(rdb, "", cfg.DraftTTL), opts...), noop, nil
	case "sqlite":
		st, err := draft.OpenSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return draft.NewCache(st, opts...), st.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown draft driver %q", cfg.DraftDriver)
}

// OpenEditor opens an autosave controller for documentID against the remote
// service, tuned by cfg.
func (c *Client) OpenEditor(ctx context.Context, cfg config.AutosaveConfig, drafts *draft.Cache, documentID, editorID string) (*autosave.Controller, error) {
	return autosave.Open(ctx, c, drafts, documentID, autosave.Options{
		Debounce:    cfg.Debounce,
		SaveTimeout: cfg.SaveTimeout,
		EditorID:    editorID,
		Logger:      c.logger,
	})
}
