package monitoring

import (
	"net/http"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metric names exported on /metrics.
const (
	MetricHTTPRequestsTotal   = "trendmeter_http_requests_total"
	MetricHTTPRequestDuration = "trendmeter_http_request_duration_seconds"
	MetricScoresTotal         = "trendmeter_scores_total"
	MetricCacheOperations     = "trendmeter_cache_operations_total"
	MetricRateLimitBlocks     = "trendmeter_ratelimit_blocks_total"
	MetricLeaderboardRefresh  = "trendmeter_leaderboard_refresh_seconds"
)

// Metrics holds application metrics. Counters feed both the Prometheus
// collectors and the summary served on /health.
type Metrics struct {
	RequestCount           int64
	ErrorCount             int64
	ScoreCount             int64
	CacheHits              int64
	CacheMisses            int64
	RateLimitBlocks        int64
	RateLimitRedisErrors   int64
	RateLimitFallbackCount int64
	StartTime              time.Time

	responseTimes      []time.Duration
	responseTimesMutex sync.RWMutex

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	scoresTotal         *prometheus.CounterVec
	cacheOperations     *prometheus.CounterVec
	rateLimitBlocks     *prometheus.CounterVec
	leaderboardRefresh  prometheus.Histogram
}

// NewMetrics creates a new metrics instance. The collectors are not
// registered; call Register to expose them.
func NewMetrics() *Metrics {
	return &Metrics{
		StartTime:     time.Now(),
		responseTimes: make([]time.Duration, 0, 1000),
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricHTTPRequestsTotal,
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricHTTPRequestDuration,
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"method"},
		),
		scoresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricScoresTotal,
				Help: "Total number of computed scores by verdict",
			},
			[]string{"verdict"},
		),
		cacheOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricCacheOperations,
				Help: "Total number of cache lookups by result",
			},
			[]string{"result"},
		),
		rateLimitBlocks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricRateLimitBlocks,
				Help: "Total number of requests rejected by the rate limiter",
			},
			[]string{"backend"},
		),
		leaderboardRefresh: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    MetricLeaderboardRefresh,
				Help:    "Duration of scheduled leaderboard refreshes in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
	}
}

// Collectors returns all Prometheus collectors.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.scoresTotal,
		m.cacheOperations,
		m.rateLimitBlocks,
		m.leaderboardRefresh,
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(reg prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// RecordRequest records a finished HTTP request
func (m *Metrics) RecordRequest(method string, statusCode int, duration time.Duration) {
	atomic.AddInt64(&m.RequestCount, 1)
	if statusCode >= 400 {
		atomic.AddInt64(&m.ErrorCount, 1)
	}

	m.httpRequestsTotal.WithLabelValues(method, strconv.Itoa(statusCode)).Inc()
	m.httpRequestDuration.WithLabelValues(method).Observe(duration.Seconds())

	// keep the last 1000 samples for percentiles
	m.responseTimesMutex.Lock()
	m.responseTimes = append(m.responseTimes, duration)
	if len(m.responseTimes) > 1000 {
		m.responseTimes = m.responseTimes[1:]
	}
	m.responseTimesMutex.Unlock()
}

// RecordScore counts a computed score by verdict
func (m *Metrics) RecordScore(verdict string) {
	atomic.AddInt64(&m.ScoreCount, 1)
	m.scoresTotal.WithLabelValues(verdict).Inc()
}

// IncrementCacheHit increments cache hit count
func (m *Metrics) IncrementCacheHit() {
	atomic.AddInt64(&m.CacheHits, 1)
	m.cacheOperations.WithLabelValues("hit").Inc()
}

// IncrementCacheMiss increments cache miss count
func (m *Metrics) IncrementCacheMiss() {
	atomic.AddInt64(&m.CacheMisses, 1)
	m.cacheOperations.WithLabelValues("miss").Inc()
}

// IncrementRateLimitBlock counts a rejected request for the given backend
func (m *Metrics) IncrementRateLimitBlock(backend string) {
	atomic.AddInt64(&m.RateLimitBlocks, 1)
	m.rateLimitBlocks.WithLabelValues(backend).Inc()
}

// IncrementRateLimitRedisError counts a failed Redis call
func (m *Metrics) IncrementRateLimitRedisError() {
	atomic.AddInt64(&m.RateLimitRedisErrors, 1)
}

// IncrementRateLimitFallback counts a decision taken by the in-memory limiter
func (m *Metrics) IncrementRateLimitFallback() {
	atomic.AddInt64(&m.RateLimitFallbackCount, 1)
}

// ObserveLeaderboardRefresh records the duration of one refresh
func (m *Metrics) ObserveLeaderboardRefresh(duration time.Duration) {
	m.leaderboardRefresh.Observe(duration.Seconds())
}

// GetPercentileResponseTime calculates the given percentile of recent response times
func (m *Metrics) GetPercentileResponseTime(percentile float64) time.Duration {
	m.responseTimesMutex.RLock()
	defer m.responseTimesMutex.RUnlock()

	if len(m.responseTimes) == 0 {
		return 0
	}

	sorted := make([]time.Duration, len(m.responseTimes))
	copy(sorted, m.responseTimes)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	index := int(float64(len(sorted)-1) * percentile / 100.0)
	return sorted[index]
}

// GetStats returns a summary of the counters
func (m *Metrics) GetStats() map[string]interface{} {
	requests := atomic.LoadInt64(&m.RequestCount)
	errors := atomic.LoadInt64(&m.ErrorCount)
	hits := atomic.LoadInt64(&m.CacheHits)
	misses := atomic.LoadInt64(&m.CacheMisses)

	errorRate := 0.0
	if requests > 0 {
		errorRate = float64(errors) / float64(requests) * 100
	}
	cacheHitRate := 0.0
	if hits+misses > 0 {
		cacheHitRate = float64(hits) / float64(hits+misses) * 100
	}

	return map[string]interface{}{
		"uptime_seconds":     time.Since(m.StartTime).Seconds(),
		"request_count":      requests,
		"error_count":        errors,
		"error_rate_percent": errorRate,
		"score_count":        atomic.LoadInt64(&m.ScoreCount),
		"cache_hits":         hits,
		"cache_misses":       misses,
		"cache_hit_rate":     cacheHitRate,
		"rate_limit": map[string]int64{
			"blocks":       atomic.LoadInt64(&m.RateLimitBlocks),
			"redis_errors": atomic.LoadInt64(&m.RateLimitRedisErrors),
			"fallbacks":    atomic.LoadInt64(&m.RateLimitFallbackCount),
		},
		"response_time_ms": map[string]int64{
			"p50": m.GetPercentileResponseTime(50).Milliseconds(),
			"p95": m.GetPercentileResponseTime(95).Milliseconds(),
			"p99": m.GetPercentileResponseTime(99).Milliseconds(),
		},
	}
}
