package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/streamline-studio/streamline/backend/go-services/internal/document"
	"github.com/streamline-studio/streamline/backend/go-services/internal/document/service"
	"github.com/streamline-studio/streamline/backend/go-services/internal/identity"
	"github.com/streamline-studio/streamline/backend/go-services/pkg/logger"
)

// WriteBody is the payload of every write endpoint.
type WriteBody struct {
	Content         *string `json:"content"`
	ExpectedVersion int     `json:"expectedVersion"`
	Force           bool    `json:"force"`
}

// ConflictBody is returned with 409 when a non-forced write is stale.
type ConflictBody struct {
	Conflict        bool       `json:"conflict"`
	DocumentID      string     `json:"documentId"`
	ExpectedVersion int        `json:"expectedVersion"`
	CurrentVersion  int        `json:"currentVersion"`
	CurrentContent  string     `json:"currentContent"`
	UpdatedAt       *time.Time `json:"updatedAt,omitempty"`
	UpdatedBy       *string    `json:"updatedBy,omitempty"`
}

type restoreBody struct {
	ExpectedVersion int `json:"expectedVersion"`
}

// RegisterDocumentRoutes mounts the document API on r. Handlers in writeGuards
// run before every mutating route.
func RegisterDocumentRoutes(r gin.IRouter, svc service.Service, writeGuards ...gin.HandlerFunc) {
	guarded := func(h gin.HandlerFunc) []gin.HandlerFunc {
		return append(append([]gin.HandlerFunc{}, writeGuards...), h)
	}

	r.GET("/api/documents/:id", func(c *gin.Context) {
		d, err := svc.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, d)
	})

	r.PUT("/api/documents/:id", guarded(func(c *gin.Context) {
		req, ok := bindWrite(c)
		if !ok {
			return
		}
		req.DocumentID = c.Param("id")
		res, err := svc.Write(c.Request.Context(), req)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	})...)

	r.GET("/api/documents/:id/revisions", func(c *gin.Context) {
		revs, err := svc.ListRevisions(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, revs)
	})

	r.GET("/api/documents/:id/revisions/:version", func(c *gin.Context) {
		v, ok := versionParam(c)
		if !ok {
			return
		}
		rev, err := svc.GetRevision(c.Request.Context(), c.Param("id"), v)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, rev)
	})

	r.POST("/api/documents/:id/revisions/:version/restore", guarded(func(c *gin.Context) {
		v, ok := versionParam(c)
		if !ok {
			return
		}
		var body restoreBody
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		res, err := svc.RestoreRevision(c.Request.Context(), c.Param("id"), v, body.ExpectedVersion, actorID(c))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	})...)

	r.POST("/api/videos/:videoId/documents", guarded(func(c *gin.Context) {
		docs, err := svc.CreateForVideo(c.Request.Context(), c.Param("videoId"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, docs)
	})...)

	r.DELETE("/api/videos/:videoId/documents", guarded(func(c *gin.Context) {
		n, err := svc.DeleteVideo(c.Request.Context(), c.Param("videoId"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": n})
	})...)

	r.GET("/api/videos/:videoId/documents/:type", func(c *gin.Context) {
		t, ok := typeParam(c)
		if !ok {
			return
		}
		d, err := svc.GetForVideo(c.Request.Context(), c.Param("videoId"), t)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, d)
	})

	r.PUT("/api/videos/:videoId/documents/:type", guarded(func(c *gin.Context) {
		t, ok := typeParam(c)
		if !ok {
			return
		}
		req, ok := bindWrite(c)
		if !ok {
			return
		}
		res, err := svc.WriteForVideo(c.Request.Context(), c.Param("videoId"), t, req)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	})...)
}

func bindWrite(c *gin.Context) (document.WriteRequest, bool) {
	var body WriteBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return document.WriteRequest{}, false
	}
	if body.Content == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content is required"})
		return document.WriteRequest{}, false
	}
	return document.WriteRequest{
		Content:         *body.Content,
		ExpectedVersion: body.ExpectedVersion,
		Force:           body.Force,
		EditorID:        actorID(c),
	}, true
}

func actorID(c *gin.Context) string {
	if a, ok := identity.FromContext(c); ok {
		return a.ID
	}
	return ""
}

func versionParam(c *gin.Context) (int, bool) {
	v, err := strconv.Atoi(c.Param("version"))
	if err != nil || v < document.InitialVersion {
		c.JSON(http.StatusBadRequest, gin.H{"error": "version must be a positive integer"})
		return 0, false
	}
	return v, true
}

func typeParam(c *gin.Context) (document.DocumentType, bool) {
	t, err := document.ParseType(c.Param("type"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return "", false
	}
	return t, true
}

// respondError maps the document error taxonomy onto status codes.
func respondError(c *gin.Context, err error) {
	if ce, ok := document.AsConflict(err); ok {
		body := ConflictBody{
			Conflict:        true,
			DocumentID:      ce.DocumentID,
			ExpectedVersion: ce.Expected,
			CurrentVersion:  ce.Current,
			CurrentContent:  ce.CurrentContent,
			UpdatedBy:       ce.UpdatedBy,
		}
		if !ce.UpdatedAt.IsZero() {
			at := ce.UpdatedAt
			body.UpdatedAt = &at
		}
		c.JSON(http.StatusConflict, body)
		return
	}
	switch {
	case errors.Is(err, document.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, document.ErrInvalidVersion):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case document.IsPersistence(err):
		logger.Warnf("document request %s %s: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable, please retry", "retryable": true})
	default:
		logger.Errorf("document request %s %s: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
