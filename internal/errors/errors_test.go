package errors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/trendmeter/internal/trending"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestNewValidationError(t *testing.T) {
	err := NewValidationError("halfLifeHours must be positive", "got -3")

	assert.Equal(t, "[VALIDATION_ERROR] halfLifeHours must be positive", err.Error())
	assert.Equal(t, CategoryValidation, err.Category)
	assert.Equal(t, http.StatusBadRequest, err.HTTPStatus)
	assert.False(t, err.Timestamp.IsZero())
}

func TestToAppError(t *testing.T) {
	tests := []struct {
		name             string
		input            error
		expectedCategory ErrorCategory
		expectedStatus   int
	}{
		{
			name:             "missing edits",
			input:            fmt.Errorf("decode: %w", trending.ErrMissingEdits),
			expectedCategory: CategoryValidation,
			expectedStatus:   http.StatusBadRequest,
		},
		{
			name:             "missing start",
			input:            trending.ErrMissingStart,
			expectedCategory: CategoryValidation,
			expectedStatus:   http.StatusBadRequest,
		},
		{
			name:             "invalid start",
			input:            trending.ErrInvalidStart,
			expectedCategory: CategoryValidation,
			expectedStatus:   http.StatusBadRequest,
		},
		{
			name:             "wrapped not found",
			input:            fmt.Errorf("page %w", ErrNotFound),
			expectedCategory: CategoryNotFound,
			expectedStatus:   http.StatusNotFound,
		},
		{
			name:             "cancelled context",
			input:            context.Canceled,
			expectedCategory: CategoryStorage,
			expectedStatus:   http.StatusServiceUnavailable,
		},
		{
			name:             "anything else",
			input:            errors.New("boom"),
			expectedCategory: CategoryInternal,
			expectedStatus:   http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			appErr := ToAppError(tt.input)
			require.NotNil(t, appErr)
			assert.Equal(t, tt.expectedCategory, appErr.Category)
			assert.Equal(t, tt.expectedStatus, appErr.HTTPStatus)
		})
	}
}

func TestToAppError_PassesThroughAppErrors(t *testing.T) {
	original := NewRateLimitError("30s")
	wrapped := WrapError(original, "limiter %s", "ip")

	assert.Same(t, original, ToAppError(wrapped))
	assert.Nil(t, ToAppError(nil))
}

func TestWrapError(t *testing.T) {
	assert.Nil(t, WrapError(nil, "ignored"))

	err := WrapError(trending.ErrMissingStart, "page %s", "Hoboken")
	assert.EqualError(t, err, "page Hoboken: "+trending.ErrMissingStart.Error())
	assert.ErrorIs(t, err, trending.ErrMissingStart)
}

func TestErrorHandler(t *testing.T) {
	r := gin.New()
	r.Use(ErrorHandler())
	r.GET("/missing", func(c *gin.Context) {
		_ = c.Error(NewNotFoundError("page", "Hoboken"))
	})
	r.GET("/ok", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestAppError_MarshalJSON(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		category ErrorCategory
		status   int
		code     string
	}{
		{"validation", NewValidationError("bad"), CategoryValidation, http.StatusBadRequest, "invalid_argument"},
		{"validation with details", NewValidationError("bad", "halfLife=-1"), CategoryValidation, http.StatusBadRequest, "invalid_argument"},
		{"validation map", NewValidationErrorWithMap(map[string]string{"title": "required"}), CategoryValidation, http.StatusBadRequest, "invalid_argument"},
		{"not found", NewNotFoundError("page", "Hoboken"), CategoryNotFound, http.StatusNotFound, "not_found"},
		{"rate limit", NewRateLimitError("30s"), CategoryRateLimit, http.StatusTooManyRequests, "resource_exhausted"},
		{"storage", NewStorageError("Failed to list pages", errors.New("sqlite: disk I/O error")), CategoryStorage, http.StatusServiceUnavailable, "unavailable"},
		{"internal", NewInternalError("boom", errors.New("nil map write")), CategoryInternal, http.StatusInternalServerError, "internal"},
		{"configuration", NewConfigurationError("bad config", nil), CategoryConfiguration, http.StatusInternalServerError, "failed_precondition"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.err.RequestID = "req-1"

			var data []byte
			require.NotPanics(t, func() {
				var err error
				data, err = json.Marshal(tt.err)
				require.NoError(t, err)
			})

			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(data, &body), string(data))
			assert.Equal(t, string(tt.category), body["category"])
			assert.Equal(t, float64(tt.err.HTTPStatus), body["http_status"])
			assert.Equal(t, tt.code, body["code"])
			assert.Equal(t, tt.code, body["label"])
			assert.Equal(t, "req-1", body["request_id"])
			assert.NotEmpty(t, body["message"])
			assert.NotEmpty(t, body["timestamp"])
			assert.NotContains(t, body, "Cause")
			assert.NotContains(t, body, "stack_trace")
			assert.NotContains(t, string(data), "sqlite", "internal causes stay out of responses")
			assert.NotContains(t, string(data), "nil map write")
		})
	}
}

func TestErrorHandler_Body(t *testing.T) {
	r := gin.New()
	r.Use(ErrorHandler())
	r.GET("/bad", func(c *gin.Context) {
		_ = c.Error(NewValidationError("limit must be a positive integer"))
	})
	r.GET("/store", func(c *gin.Context) {
		_ = c.Error(NewStorageError("Failed to list pages", errors.New("database is locked")))
	})

	tests := []struct {
		path     string
		status   int
		category string
	}{
		{"/bad", http.StatusBadRequest, "validation"},
		{"/store", http.StatusServiceUnavailable, "storage"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			req.Header.Set("X-Request-ID", "req-42")
			r.ServeHTTP(w, req)

			require.Equal(t, tt.status, w.Code, w.Body.String())
			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.category, body["category"])
			assert.Equal(t, "req-42", body["request_id"])
			assert.NotContains(t, w.Body.String(), "database is locked")
		})
	}
}

func TestRecoveryHandler(t *testing.T) {
	r := gin.New()
	r.Use(RecoveryHandler())
	r.GET("/panic", func(c *gin.Context) {
		panic("scoring exploded")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), `"category":"internal"`)
	assert.NotContains(t, w.Body.String(), "scoring exploded")
}

type closeRecorder struct {
	closed bool
	err    error
}

func (c *closeRecorder) Close() error {
	c.closed = true
	return c.err
}

func TestSafeClose(t *testing.T) {
	ok := &closeRecorder{}
	SafeClose(ok, "ok")
	assert.True(t, ok.closed)

	failing := &closeRecorder{err: errors.New("already closed")}
	assert.NotPanics(t, func() { SafeClose(failing, "failing") })
	assert.True(t, failing.closed)

	assert.NotPanics(t, func() { SafeClose(nil, "nil") })
}
