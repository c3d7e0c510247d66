package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fyerfyer/lang-data/internal/document"
	"github.com/fyerfyer/lang-data/internal/embedding"
	"github.com/fyerfyer/lang-data/internal/models"
	"github.com/fyerfyer/lang-data/internal/vectordb"
	"github.com/fyerfyer/lang-data/pkg/taskqueue"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"app error", NewConflictError("exists"), http.StatusConflict},
		{"config error", document.NewConfigError("collection", "no collection configured"), http.StatusBadRequest},
		{"wrapped config error", fmt.Errorf("ingest: %w", document.NewConfigError("chunk_size", "must be positive")), http.StatusBadRequest},
		{"collection not found", vectordb.CollectionNotFound("search", "docs"), http.StatusNotFound},
		{"source not found", fmt.Errorf("source a: %w", models.ErrSourceNotFound), http.StatusNotFound},
		{"task not found", taskqueue.ErrTaskNotFound, http.StatusNotFound},
		{"already exists", vectordb.CollectionExists("docs", 3, 3), http.StatusConflict},
		{"dimension mismatch", vectordb.CollectionExists("docs", 3, 4), http.StatusBadRequest},
		{"rate limited", fmt.Errorf("embed: %w", embedding.NewEmbeddingError(embedding.ErrCodeRateLimited, "slow down")), http.StatusTooManyRequests},
		{"other embedding error", embedding.NewEmbeddingError(embedding.ErrCodeServerError, "boom"), http.StatusInternalServerError},
		{"plain error", errors.New("disk full"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, MapError(tt.err).Code)
		})
	}
}

func TestErrorMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(SetTraceID(), ErrorMiddleware())
	router.GET("/missing", func(c *gin.Context) {
		HandleError(c, vectordb.CollectionNotFound("search", "docs"))
	})
	router.GET("/panic", func(c *gin.Context) {
		panic("unexpected")
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/missing", nil)
	req.Header.Set("X-Trace-ID", "trace-1")
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), `"trace_id":"trace-1"`)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
