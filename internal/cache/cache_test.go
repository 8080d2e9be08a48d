package cache

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/trendmeter/internal/monitoring"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestCache_SetGet(t *testing.T) {
	c := NewCache(time.Minute)
	defer c.Stop()

	_, found := c.Get("missing")
	assert.False(t, found)

	c.Set("k", []byte("v"))
	data, found := c.Get("k")
	require.True(t, found)
	assert.Equal(t, []byte("v"), data)
	assert.Equal(t, 1, c.Size())

	c.Delete("k")
	_, found = c.Get("k")
	assert.False(t, found)
}

func TestCache_Expiry(t *testing.T) {
	c := NewCache(10 * time.Millisecond)
	defer c.Stop()

	c.Set("k", []byte("v"))
	time.Sleep(30 * time.Millisecond)

	_, found := c.Get("k")
	assert.False(t, found)
	assert.Equal(t, 0, c.Size(), "expired items are dropped on read")
}

func TestCache_CleanupSweepsExpired(t *testing.T) {
	c := NewCacheWithCleanup(5*time.Millisecond, 10*time.Millisecond)
	defer c.Stop()

	c.Set("a", []byte("1"))
	c.Set("b", []byte("2"))

	assert.Eventually(t, func() bool { return c.Size() == 0 }, time.Second, 10*time.Millisecond)
}

func TestCache_DeletePrefix(t *testing.T) {
	c := NewCache(time.Minute)
	defer c.Stop()

	c.Set("trending:daily:10", []byte("a"))
	c.Set("trending:weekly:10", []byte("b"))
	c.Set("bias:xyz", []byte("c"))

	assert.Equal(t, 2, c.DeletePrefix("trending:"))
	assert.Equal(t, 1, c.Size())

	c.Clear()
	assert.Equal(t, 0, c.Size())
}

func TestCache_StopIsIdempotent(t *testing.T) {
	c := NewCache(time.Minute)
	assert.NotPanics(t, func() {
		c.Stop()
		c.Stop()
	})
}

func TestKey(t *testing.T) {
	assert.Equal(t, Key("/bias", "{}"), Key("/bias", "{}"))
	assert.NotEqual(t, Key("/bias", "{}"), Key("/score", "{}"))
	assert.NotEqual(t, Key("ab", "c"), Key("a", "bc"))
	assert.Len(t, Key("x"), 64)
}

func TestCache_Middleware(t *testing.T) {
	c := NewCache(time.Minute)
	defer c.Stop()
	metrics := monitoring.NewMetrics()

	calls := 0
	r := gin.New()
	r.Use(c.Middleware(metrics, "/bias"))
	r.POST("/bias", func(ctx *gin.Context) {
		calls++
		ctx.JSON(http.StatusOK, gin.H{"bias": 0.125})
	})
	r.POST("/score", func(ctx *gin.Context) {
		calls++
		ctx.JSON(http.StatusOK, gin.H{"score": 1})
	})

	post := func(path, body string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		r.ServeHTTP(w, req)
		return w
	}

	first := post("/bias", `{"distribution":{"a":1,"b":3}}`)
	assert.Equal(t, "MISS", first.Header().Get("X-Cache"))

	second := post("/bias", `{"distribution":{"a":1,"b":3}}`)
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1, calls)

	post("/bias", `{"distribution":{"a":2}}`)
	assert.Equal(t, 2, calls)

	post("/score", `{}`)
	post("/score", `{}`)
	assert.Equal(t, 4, calls, "paths outside the list are never cached")

	assert.Equal(t, int64(1), metrics.CacheHits)
	assert.Equal(t, int64(2), metrics.CacheMisses)
}
