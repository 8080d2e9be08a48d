package security

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	apperrors "github.com/ZanzyTHEbar/trendmeter/internal/errors"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestSecurityConfig(t *testing.T) {
	config := DefaultSecurityConfig()

	assert.Equal(t, int64(1<<20), config.MaxBodyBytes)
	assert.Equal(t, 30*time.Second, config.RequestTimeout)
	assert.False(t, config.EnableHSTS)
}

func TestSecurityHeaders(t *testing.T) {
	tests := []struct {
		name string
		hsts bool
	}{
		{"without HSTS", false},
		{"with HSTS", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultSecurityConfig()
			cfg.EnableHSTS = tt.hsts
			sm := NewSecurityMiddleware(cfg)

			r := gin.New()
			r.Use(sm.SecurityHeaders)
			r.GET("/test", func(c *gin.Context) {
				c.JSON(http.StatusOK, gin.H{"message": "test"})
			})

			w := httptest.NewRecorder()
			req, _ := http.NewRequest(http.MethodGet, "/test", nil)
			r.ServeHTTP(w, req)

			headers := w.Header()
			assert.Equal(t, "nosniff", headers.Get("X-Content-Type-Options"))
			assert.Equal(t, "DENY", headers.Get("X-Frame-Options"))
			assert.Equal(t, "no-referrer", headers.Get("Referrer-Policy"))
			assert.Contains(t, headers.Get("Content-Security-Policy"), "default-src 'none'")
			assert.Equal(t, tt.hsts, headers.Get("Strict-Transport-Security") != "")
		})
	}
}

func TestValidateContentType(t *testing.T) {
	sm := NewSecurityMiddleware(DefaultSecurityConfig())

	r := gin.New()
	r.Use(apperrors.ErrorHandler(), sm.ValidateContentType)
	r.POST("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "success"})
	})

	tests := []struct {
		name           string
		contentType    string
		body           string
		expectedStatus int
	}{
		{"valid JSON", "application/json", `{"test":"data"}`, http.StatusOK},
		{"JSON with charset", "application/json; charset=utf-8", `{"test":"data"}`, http.StatusOK},
		{"form data", "application/x-www-form-urlencoded", "a=b", http.StatusUnsupportedMediaType},
		{"plain text", "text/plain", "hello", http.StatusUnsupportedMediaType},
		{"malformed content type", "application/", `{}`, http.StatusUnsupportedMediaType},
		{"no content type", "", `{"test":"data"}`, http.StatusOK},
		{"empty body", "text/plain", "", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req, _ := http.NewRequest(http.MethodPost, "/test", bytes.NewBufferString(tt.body))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}

			r.ServeHTTP(w, req)
			assert.Equal(t, tt.expectedStatus, w.Code)
		})
	}
}

func TestLimitBody(t *testing.T) {
	sm := NewSecurityMiddleware(SecurityConfig{MaxBodyBytes: 16})

	r := gin.New()
	r.Use(apperrors.ErrorHandler(), sm.LimitBody)
	r.POST("/test", func(c *gin.Context) {
		data, err := io.ReadAll(c.Request.Body)
		if err != nil {
			_ = c.Error(RequestTooLarge(16))
			return
		}
		c.String(http.StatusOK, string(data))
	})

	tests := []struct {
		name           string
		body           string
		unknownLength  bool
		expectedStatus int
	}{
		{"small body", `{"a":1}`, false, http.StatusOK},
		{"declared length over limit", strings.Repeat("x", 32), false, http.StatusRequestEntityTooLarge},
		{"streamed body over limit", strings.Repeat("x", 32), true, http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(tt.body))
			if tt.unknownLength {
				req.ContentLength = -1
			}
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.expectedStatus, w.Code)
		})
	}
}

func TestRequestTimeout(t *testing.T) {
	sm := NewSecurityMiddleware(SecurityConfig{RequestTimeout: 50 * time.Millisecond})

	r := gin.New()
	r.Use(sm.RequestTimeout)
	r.GET("/slow", func(c *gin.Context) {
		select {
		case <-c.Request.Context().Done():
			c.Status(http.StatusGatewayTimeout)
		case <-time.After(time.Second):
			c.Status(http.StatusOK)
		}
	})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/slow", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-Timeout"))
}
