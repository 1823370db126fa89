// Package client talks to the document API over HTTP. Responses are mapped back
// onto the document error taxonomy, so callers classify a remote write exactly
// like an in-process one.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/streamline-studio/streamline/backend/go-services/internal/document"
	"github.com/streamline-studio/streamline/backend/go-services/internal/document/handler"
	"go.uber.org/zap"
)

// StatusError is an API response that is neither a conflict, a missing
// document nor a storage failure.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("document api: status %d: %s", e.Code, e.Message)
}

// Client implements autosave.Backend against a remote document service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger

	mu    sync.RWMutex
	token string
}

// New returns a client for the service at baseURL. A zero timeout leaves
// deadlines to the request context.
func New(baseURL string, timeout time.Duration, logger *zap.Logger) (*Client, error) {
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL for document service: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("DocumentClient"),
	}, nil
}

// SetToken sets the bearer token sent with every request.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// Fetch reads the current document.
func (c *Client) Fetch(ctx context.Context, documentID string) (*document.Document, error) {
	var d document.Document
	if err := c.do(ctx, http.MethodGet, "/api/documents/"+url.PathEscape(documentID), nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// FetchForVideo reads the document of a video, creating it on first access.
func (c *Client) FetchForVideo(ctx context.Context, videoID string, t document.DocumentType) (*document.Document, error) {
	var d document.Document
	path := "/api/videos/" + url.PathEscape(videoID) + "/documents/" + string(t)
	if err := c.do(ctx, http.MethodGet, path, nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// Write proposes new content. A stale expected version comes back as a
// *document.VersionConflictError.
func (c *Client) Write(ctx context.Context, req document.WriteRequest) (*document.WriteResult, error) {
	content := req.Content
	body := handler.WriteBody{Content: &content, ExpectedVersion: req.ExpectedVersion, Force: req.Force}
	var res document.WriteResult
	if err := c.do(ctx, http.MethodPut, "/api/documents/"+url.PathEscape(req.DocumentID), body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ListRevisions returns the revision history, most recent first.
func (c *Client) ListRevisions(ctx context.Context, documentID string) ([]*document.Revision, error) {
	var revs []*document.Revision
	if err := c.do(ctx, http.MethodGet, "/api/documents/"+url.PathEscape(documentID)+"/revisions", nil, &revs); err != nil {
		return nil, err
	}
	return revs, nil
}

// Restore writes revision version as the new content of the document.
func (c *Client) Restore(ctx context.Context, documentID string, version, expectedVersion int) (*document.WriteResult, error) {
	path := "/api/documents/" + url.PathEscape(documentID) + "/revisions/" + strconv.Itoa(version) + "/restore"
	body := map[string]int{"expectedVersion": expectedVersion}
	var res document.WriteResult
	if err := c.do(ctx, http.MethodPost, path, body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	op := method + " " + path
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s: %w", op, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build %s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.mu.RLock()
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	c.mu.RUnlock()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("request failed", zap.String("op", op), zap.Error(err))
		return document.Persistence(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s: %w", op, err)
		}
		return nil
	}
	return c.classify(op, resp)
}

func (c *Client) classify(op string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 16<<20))

	switch resp.StatusCode {
	case http.StatusConflict:
		var cb handler.ConflictBody
		if err := json.Unmarshal(raw, &cb); err != nil || !cb.Conflict {
			return &StatusError{Code: resp.StatusCode, Message: string(raw)}
		}
		ce := &document.VersionConflictError{
			DocumentID:     cb.DocumentID,
			Expected:       cb.ExpectedVersion,
			Current:        cb.CurrentVersion,
			CurrentContent: cb.CurrentContent,
			UpdatedBy:      cb.UpdatedBy,
		}
		if cb.UpdatedAt != nil {
			ce.UpdatedAt = *cb.UpdatedAt
		}
		return ce
	case http.StatusNotFound:
		return document.ErrNotFound
	}

	var msg struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Error == "" {
		msg.Error = strings.TrimSpace(string(raw))
	}
	se := &StatusError{Code: resp.StatusCode, Message: msg.Error}
	switch {
	case resp.StatusCode == http.StatusBadRequest && strings.Contains(msg.Error, "expected version"):
		return fmt.Errorf("%w: %s", document.ErrInvalidVersion, op)
	case resp.StatusCode >= 500:
		c.logger.Warn("server error", zap.String("op", op), zap.Int("status", resp.StatusCode), zap.String("error", msg.Error))
		return document.Persistence(op, se)
	}
	return se
}

// IsStatus reports whether err is an API response with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}
