package middleware

import (
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestEngine(cm *CompressionMiddleware) *gin.Engine {
	large := strings.Repeat("trending ", 400)

	r := gin.New()
	r.Use(cm.Handler())
	r.GET("/large", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"text": large})
	})
	r.GET("/small", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	r.GET("/binary", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/octet-stream", []byte(large))
	})
	r.GET("/metrics", func(c *gin.Context) {
		c.String(http.StatusOK, large)
	})
	r.DELETE("/empty", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func get(r *gin.Engine, method, path string, gzipOK bool) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	if gzipOK {
		req.Header.Set("Accept-Encoding", "br;q=1.0, gzip;q=0.8")
	}
	r.ServeHTTP(w, req)
	return w
}

func TestCompression(t *testing.T) {
	cm := NewCompressionMiddleware(DefaultCompressionConfig())
	r := newTestEngine(cm)

	tests := []struct {
		name       string
		method     string
		path       string
		gzipOK     bool
		compressed bool
		status     int
	}{
		{"large JSON is compressed", http.MethodGet, "/large", true, true, http.StatusOK},
		{"client without gzip", http.MethodGet, "/large", false, false, http.StatusOK},
		{"small response", http.MethodGet, "/small", true, false, http.StatusOK},
		{"content type not listed", http.MethodGet, "/binary", true, false, http.StatusOK},
		{"excluded path", http.MethodGet, "/metrics", true, false, http.StatusOK},
		{"no body", http.MethodDelete, "/empty", true, false, http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := get(r, tt.method, tt.path, tt.gzipOK)
			assert.Equal(t, tt.status, w.Code)

			if !tt.compressed {
				assert.Empty(t, w.Header().Get("Content-Encoding"))
				return
			}

			assert.Equal(t, "gzip", w.Header().Get("Content-Encoding"))
			assert.Contains(t, w.Header().Values("Vary"), "Accept-Encoding")

			gz, err := gzip.NewReader(w.Body)
			require.NoError(t, err)
			body, err := io.ReadAll(gz)
			require.NoError(t, err)
			assert.Contains(t, string(body), `"text":"trending trending`)
		})
	}
}

func TestCompressionStats(t *testing.T) {
	cm := NewCompressionMiddleware(DefaultCompressionConfig())
	r := newTestEngine(cm)

	get(r, http.MethodGet, "/large", true)
	get(r, http.MethodGet, "/small", true)

	stats := cm.GetStats()
	assert.Equal(t, int64(2), stats["total_requests"])
	assert.Equal(t, int64(1), stats["compressed_requests"])
	assert.Less(t, stats["compression_ratio"].(float64), 1.0)
}

func TestClientAcceptsGzip(t *testing.T) {
	tests := []struct {
		header string
		want   bool
	}{
		{"gzip", true},
		{"deflate, gzip", true},
		{"GZIP;q=0.5", true},
		{"br", false},
		{"x-gzip-like", false},
		{"", false},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Accept-Encoding", tt.header)
		assert.Equal(t, tt.want, clientAcceptsGzip(req), tt.header)
	}
}
