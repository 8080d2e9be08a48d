package main

import (
	"context"
	stderrors "errors"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ZanzyTHEbar/trendmeter/internal/cache"
	"github.com/ZanzyTHEbar/trendmeter/internal/config"
	"github.com/ZanzyTHEbar/trendmeter/internal/database"
	"github.com/ZanzyTHEbar/trendmeter/internal/errors"
	"github.com/ZanzyTHEbar/trendmeter/internal/leaderboard"
	"github.com/ZanzyTHEbar/trendmeter/internal/middleware"
	"github.com/ZanzyTHEbar/trendmeter/internal/monitoring"
	"github.com/ZanzyTHEbar/trendmeter/internal/ratelimit"
	"github.com/ZanzyTHEbar/trendmeter/internal/security"
	"github.com/ZanzyTHEbar/trendmeter/internal/trending"
	"github.com/ZanzyTHEbar/trendmeter/internal/types"
)

const requestTimeout = 30 * time.Second

// server holds the dependencies shared by the HTTP handlers
type server struct {
	cfg         *config.Config
	db          *database.DB
	redis       *ratelimit.RedisClient
	pages       *database.PageService
	leaderboard *leaderboard.Service
	limiter     *ratelimit.RateLimiter
	cache       *cache.Cache
	metrics     *monitoring.Metrics
	logger      *monitoring.Logger
	registry    *prometheus.Registry
	compression *middleware.CompressionMiddleware
	now         func() time.Time
}

func setupRouter(s *server) *gin.Engine {
	r := gin.New()

	secConfig := security.DefaultSecurityConfig()
	secConfig.RequestTimeout = requestTimeout
	secConfig.EnableHSTS = s.cfg.IsProduction()
	sec := security.NewSecurityMiddleware(secConfig)
	if s.compression == nil {
		s.compression = middleware.NewCompressionMiddleware(middleware.DefaultCompressionConfig())
	}

	r.Use(monitoring.RequestIDMiddleware())
	r.Use(monitoring.MonitoringMiddleware(s.metrics, s.logger))
	r.Use(s.compression.Handler())
	r.Use(errors.RecoveryHandler())
	r.Use(cors.New(corsConfig(s.cfg.CORSOrigins)))
	r.Use(sec.SecurityHeaders)
	r.Use(errors.ErrorHandler())
	if s.limiter != nil {
		r.Use(s.limiter.Middleware("/health", "/metrics"))
	}
	r.Use(sec.RequestTimeout)
	r.Use(sec.LimitBody)
	r.Use(sec.ValidateContentType)
	if s.cache != nil {
		r.Use(s.cache.Middleware(s.metrics, "/bias"))
	}

	r.GET("/health", s.handleHealth)
	r.GET("/metrics", gin.WrapH(monitoring.Handler(s.registry)))

	r.POST("/bias", s.handleBias)
	r.POST("/score", s.handleScore)

	pages := r.Group("/pages")
	{
		pages.GET("", s.handleListPages)
		pages.GET("/:id", s.handleGetPage)
		pages.PUT("/:id", s.handlePutPage)
		pages.DELETE("/:id", s.handleDeletePage)
		pages.GET("/:id/score", s.handlePageScore)
	}

	tr := r.Group("/trending")
	{
		tr.GET("/:period", s.handleTrending)
		tr.GET("/:period/snapshot", s.handleTrendingSnapshot)
		tr.POST("/refresh", s.handleRefresh)
	}

	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", monitoring.RequestIDHeader},
		ExposeHeaders: []string{monitoring.RequestIDHeader, "X-Cache", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		MaxAge:        12 * time.Hour,
	}

	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	return cfg
}

func (s *server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	resp := types.HealthResponse{
		Status:    "ok",
		Timestamp: s.now().UTC().Format(time.RFC3339),
		Version:   version,
		Services:  map[string]string{},
		Metrics:   s.metrics.GetStats(),
	}
	resp.Metrics["compression"] = s.compression.GetStats()
	if s.limiter != nil {
		resp.Metrics["rate_limiter"] = s.limiter.GetStats()
	}
	status := http.StatusOK

	if err := s.db.HealthCheck(ctx); err != nil {
		resp.Services["database"] = "unavailable"
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	} else {
		resp.Services["database"] = "ok"
	}

	switch err := s.redis.HealthCheck(ctx); {
	case err == nil:
		resp.Services["redis"] = "ok"
	case s.redis.IsEnabled():
		// the limiter falls back to memory, so Redis never fails the check
		resp.Services["redis"] = "unavailable"
	default:
		resp.Services["redis"] = "disabled"
	}

	c.JSON(status, resp)
}

func (s *server) handleBias(c *gin.Context) {
	var req types.BiasRequest
	if err := bindJSON(c, &req); err != nil {
		_ = c.Error(err)
		return
	}

	named, anon := trending.ClassifyEditors(req.Distribution)
	c.JSON(http.StatusOK, types.BiasResponse{
		Bias:         trending.EstimateBias(req.Distribution),
		Editors:      len(req.Distribution),
		NamedEditors: named,
		AnonEditors:  anon,
	})
}

func (s *server) handleScore(c *gin.Context) {
	var req types.ScoreRequest
	if err := bindJSON(c, &req); err != nil {
		_ = c.Error(err)
		return
	}

	hl, err := s.halfLife(req.Period, req.HalfLifeHours)
	if err != nil {
		_ = c.Error(err)
		return
	}

	now := s.now()
	if req.Now != nil {
		now = req.Now.Time
	}

	c.JSON(http.StatusOK, s.score("", "", req.Period, now, *req.Snapshot, hl))
}

func (s *server) handleListPages(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	pages, err := s.pages.List(ctx)
	if err != nil {
		_ = c.Error(errors.NewStorageError("Failed to list pages", err))
		return
	}

	resp := types.PageListResponse{Pages: make([]types.PageSummary, 0, len(pages))}
	for _, p := range pages {
		resp.Pages = append(resp.Pages, types.PageSummary{
			ID:        p.ID,
			Title:     p.Title,
			Edits:     p.Snapshot.Edits,
			Start:     p.Snapshot.Start,
			UpdatedAt: p.UpdatedAt,
		})
	}
	resp.Total = len(resp.Pages)
	c.JSON(http.StatusOK, resp)
}

func (s *server) handleGetPage(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	page, err := s.pages.Get(ctx, c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (s *server) handlePutPage(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	var req types.PageRequest
	if err := bindJSON(c, &req); err != nil {
		_ = c.Error(err)
		return
	}

	page, err := s.pages.Put(ctx, c.Param("id"), req.Title, *req.Snapshot)
	if err != nil {
		_ = c.Error(err)
		return
	}
	s.logger.StoreLogger("put", page.ID, nil)
	c.JSON(http.StatusOK, page)
}

func (s *server) handleDeletePage(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	id := c.Param("id")
	if err := s.pages.Delete(ctx, id); err != nil {
		_ = c.Error(err)
		return
	}
	s.logger.StoreLogger("delete", id, nil)
	c.Status(http.StatusNoContent)
}

func (s *server) handlePageScore(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	var hours float64
	if v := c.Query("halfLife"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			_ = c.Error(errors.NewValidationError("halfLife must be a number of hours", err))
			return
		}
		hours = parsed
	}
	period := c.Query("period")

	hl, err := s.halfLife(period, hours)
	if err != nil {
		_ = c.Error(err)
		return
	}

	now, err := s.queryNow(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	page, err := s.pages.Get(ctx, c.Param("id"))
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, s.score(page.ID, page.Title, period, now, page.Snapshot, hl))
}

func (s *server) handleTrending(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	limit, err := queryLimit(c)
	if err != nil {
		_ = c.Error(err)
		return
	}
	now, err := s.queryNow(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	resp, err := s.leaderboard.Rank(ctx, now, c.Param("period"), limit)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *server) handleTrendingSnapshot(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	limit, err := queryLimit(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	resp, err := s.leaderboard.Snapshot(ctx, c.Param("period"), limit)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *server) handleRefresh(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), refreshTimeout)
	defer cancel()

	now := s.now().UTC()
	batches, err := s.leaderboard.Refresh(ctx, now)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, types.RefreshResponse{ComputedAt: now, Batches: batches})
}

// bindJSON decodes the request body, mapping failures to client errors
func bindJSON(c *gin.Context, obj interface{}) error {
	err := c.ShouldBindJSON(obj)
	if err == nil {
		return nil
	}
	var tooLarge *http.MaxBytesError
	if stderrors.As(err, &tooLarge) {
		return security.RequestTooLarge(tooLarge.Limit)
	}
	return errors.NewValidationError("Invalid request body", err)
}

// score evaluates a snapshot and records the outcome
func (s *server) score(pageID, title, period string, now time.Time, snap trending.EditSnapshot, hl float64) types.ScoreResponse {
	start := time.Now()
	result := trending.Evaluate(now, snap, hl)
	s.metrics.RecordScore(string(result.Verdict))
	s.logger.ScoreLogger(pageID, hl, result.Score, string(result.Verdict), time.Since(start))

	return types.ScoreResponse{
		PageID:        pageID,
		Title:         title,
		Period:        period,
		HalfLifeHours: hl,
		Now:           now.UTC(),
		Trending:      result.Trending(),
		Result:        result,
	}
}

// halfLife resolves an explicit half-life or a configured period name
func (s *server) halfLife(period string, hours float64) (float64, error) {
	if hours != 0 {
		if !(hours > 0) || math.IsInf(hours, 1) {
			return 0, errors.NewValidationError("halfLifeHours must be a positive finite number")
		}
		return hours, nil
	}
	if period == "" {
		return 0, errors.NewValidationError("halfLifeHours or period is required")
	}
	return s.leaderboard.HalfLife(period)
}

// queryNow reads the optional now query parameter as RFC 3339 or unix milliseconds
func (s *server) queryNow(c *gin.Context) (time.Time, error) {
	v := strings.TrimSpace(c.Query("now"))
	if v == "" {
		return s.now(), nil
	}
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	t, err := trending.ParseTimestamp(v)
	if err != nil {
		return time.Time{}, errors.NewValidationError("now must be an ISO-8601 time or unix milliseconds", err)
	}
	return t, nil
}

func queryLimit(c *gin.Context) (int, error) {
	v := c.Query("limit")
	if v == "" {
		return leaderboard.DefaultLimit, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, errors.NewValidationError("limit must be a positive integer")
	}
	return leaderboard.NormalizeLimit(n), nil
}
