package middleware

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
)

// CompressionConfig holds configuration for response compression
type CompressionConfig struct {
	MinSize          int      // Minimum response size to compress (bytes)
	CompressionLevel int      // Gzip compression level (1-9, 9 is best compression)
	ContentTypes     []string // Content types to compress
	ExcludedPaths    []string // Routes that compress themselves or must stream
}

// DefaultCompressionConfig returns the default compression configuration
func DefaultCompressionConfig() CompressionConfig {
	return CompressionConfig{
		MinSize:          1024,
		CompressionLevel: gzip.DefaultCompression,
		ContentTypes: []string{
			"application/json",
			"text/plain",
		},
		ExcludedPaths: []string{"/metrics"},
	}
}

// CompressionMiddleware gzips large responses for clients that accept it.
// Responses are buffered so that small ones can be sent unchanged.
type CompressionMiddleware struct {
	config   CompressionConfig
	excluded map[string]struct{}
	stats    *CompressionStats
	pool     sync.Pool
}

// NewCompressionMiddleware creates a new compression middleware
func NewCompressionMiddleware(config CompressionConfig) *CompressionMiddleware {
	level := config.CompressionLevel
	if level < gzip.HuffmanOnly || level > gzip.BestCompression {
		level = gzip.DefaultCompression
	}

	excluded := make(map[string]struct{}, len(config.ExcludedPaths))
	for _, p := range config.ExcludedPaths {
		excluded[p] = struct{}{}
	}

	return &CompressionMiddleware{
		config:   config,
		excluded: excluded,
		stats:    NewCompressionStats(),
		pool: sync.Pool{
			New: func() interface{} {
				gz, _ := gzip.NewWriterLevel(io.Discard, level)
				return gz
			},
		},
	}
}

// Handler returns the gin middleware
func (cm *CompressionMiddleware) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodHead || !clientAcceptsGzip(c.Request) {
			c.Next()
			return
		}
		if _, skip := cm.excluded[c.Request.URL.Path]; skip {
			c.Next()
			return
		}

		gzw := &gzipResponseWriter{ResponseWriter: c.Writer, cm: cm}
		c.Writer = gzw
		defer func() {
			c.Writer = gzw.ResponseWriter
			gzw.finish()
		}()

		c.Next()
	}
}

func clientAcceptsGzip(r *http.Request) bool {
	for _, enc := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		if strings.EqualFold(strings.TrimSpace(strings.SplitN(enc, ";", 2)[0]), "gzip") {
			return true
		}
	}
	return false
}

func (cm *CompressionMiddleware) shouldCompress(contentType string) bool {
	for _, ct := range cm.config.ContentTypes {
		if strings.Contains(contentType, ct) {
			return true
		}
	}
	return false
}

// gzipResponseWriter buffers the body until the handler chain returns
type gzipResponseWriter struct {
	gin.ResponseWriter
	cm          *CompressionMiddleware
	buf         bytes.Buffer
	passthrough bool
}

func (gzw *gzipResponseWriter) Write(data []byte) (int, error) {
	if gzw.passthrough {
		return gzw.ResponseWriter.Write(data)
	}
	return gzw.buf.Write(data)
}

func (gzw *gzipResponseWriter) WriteString(s string) (int, error) {
	return gzw.Write([]byte(s))
}

// Written reports buffered bytes as written so later middleware sees the response as rendered
func (gzw *gzipResponseWriter) Written() bool {
	return gzw.buf.Len() > 0 || gzw.ResponseWriter.Written()
}

func (gzw *gzipResponseWriter) Size() int {
	if gzw.passthrough {
		return gzw.ResponseWriter.Size()
	}
	return gzw.buf.Len()
}

// Flush gives up on compression and streams from here on
func (gzw *gzipResponseWriter) Flush() {
	if !gzw.passthrough {
		gzw.passthrough = true
		if gzw.buf.Len() > 0 {
			_, _ = gzw.ResponseWriter.Write(gzw.buf.Bytes())
			gzw.buf.Reset()
		}
	}
	gzw.ResponseWriter.Flush()
}

func (gzw *gzipResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := gzw.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, errors.New("response writer does not implement http.Hijacker")
}

func (gzw *gzipResponseWriter) finish() {
	if gzw.passthrough || gzw.buf.Len() == 0 {
		return
	}

	body := gzw.buf.Bytes()
	header := gzw.ResponseWriter.Header()
	original := int64(len(body))

	if len(body) < gzw.cm.config.MinSize ||
		header.Get("Content-Encoding") != "" ||
		!gzw.cm.shouldCompress(header.Get("Content-Type")) {
		gzw.cm.stats.RecordRequest(original, original, false)
		_, _ = gzw.ResponseWriter.Write(body)
		return
	}

	var compressed bytes.Buffer
	gz := gzw.cm.pool.Get().(*gzip.Writer)
	gz.Reset(&compressed)
	_, err := gz.Write(body)
	if err == nil {
		err = gz.Close()
	}
	gzw.cm.pool.Put(gz)

	if err != nil {
		gzw.cm.stats.RecordRequest(original, original, false)
		_, _ = gzw.ResponseWriter.Write(body)
		return
	}

	header.Set("Content-Encoding", "gzip")
	header.Add("Vary", "Accept-Encoding")
	header.Set("Content-Length", strconv.Itoa(compressed.Len()))
	gzw.cm.stats.RecordRequest(original, int64(compressed.Len()), true)
	_, _ = gzw.ResponseWriter.Write(compressed.Bytes())
}

// CompressionStats tracks compression statistics
type CompressionStats struct {
	TotalRequests      int64
	CompressedRequests int64
	TotalBytes         int64
	CompressedBytes    int64
	mutex              sync.RWMutex
}

// NewCompressionStats creates new compression statistics
func NewCompressionStats() *CompressionStats {
	return &CompressionStats{}
}

// RecordRequest records a request's compression stats
func (cs *CompressionStats) RecordRequest(originalSize, compressedSize int64, compressed bool) {
	cs.mutex.Lock()
	defer cs.mutex.Unlock()

	cs.TotalRequests++
	cs.TotalBytes += originalSize
	if compressed {
		cs.CompressedRequests++
	}
	cs.CompressedBytes += compressedSize
}

// GetStats returns current compression statistics
func (cs *CompressionStats) GetStats() map[string]interface{} {
	cs.mutex.RLock()
	defer cs.mutex.RUnlock()

	ratio := float64(1)
	if cs.TotalBytes > 0 {
		ratio = float64(cs.CompressedBytes) / float64(cs.TotalBytes)
	}

	return map[string]interface{}{
		"total_requests":      cs.TotalRequests,
		"compressed_requests": cs.CompressedRequests,
		"total_bytes":         cs.TotalBytes,
		"compressed_bytes":    cs.CompressedBytes,
		"compression_ratio":   ratio,
		"compression_savings": 1.0 - ratio,
	}
}

// GetStats returns compression statistics
func (cm *CompressionMiddleware) GetStats() map[string]interface{} {
	return cm.stats.GetStats()
}
