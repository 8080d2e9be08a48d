package leaderboard

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/ZanzyTHEbar/trendmeter/internal/database"
	apperrors "github.com/ZanzyTHEbar/trendmeter/internal/errors"
	"github.com/ZanzyTHEbar/trendmeter/internal/monitoring"
	"github.com/ZanzyTHEbar/trendmeter/internal/resilience"
	"github.com/ZanzyTHEbar/trendmeter/internal/trending"
)

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// ErrUnknownPeriod is returned for period names without a configured half-life.
var ErrUnknownPeriod = fmt.Errorf("period %w", apperrors.ErrNotFound)

// Entry is one ranked page
type Entry struct {
	Rank     int              `json:"rank"`
	PageID   string           `json:"pageId"`
	Title    string           `json:"title"`
	Score    float64          `json:"score"`
	Verdict  trending.Verdict `json:"verdict"`
	Bias     float64          `json:"bias"`
	Trending bool             `json:"trending"`
}

// Response is a ranking of stored pages for one period
type Response struct {
	Period        string    `json:"period"`
	HalfLifeHours float64   `json:"halfLifeHours"`
	ComputedAt    time.Time `json:"computedAt"`
	Entries       []Entry   `json:"entries"`
	Total         int       `json:"total"`
	TrendingCount int       `json:"trendingCount"`
	Skipped       int       `json:"skipped"`
}

// Store is the persistence the leaderboard needs; *database.Repository implements it.
type Store interface {
	ListPages(ctx context.Context) ([]*database.Page, error)
	SaveTrendingEntries(ctx context.Context, period string, computedAt time.Time, entries []*database.TrendingEntry) (string, error)
	LatestTrendingEntries(ctx context.Context, period string, limit int) ([]*database.TrendingEntry, error)
}

// Service ranks stored pages per period
type Service struct {
	store    Store
	cache    *LeaderboardCache
	horizons map[string]float64
	metrics  *monitoring.Metrics
	logger   *monitoring.Logger
	now      func() time.Time
}

// NewService creates a leaderboard over store. horizons maps period names to half-lives in hours.
func NewService(store Store, horizons map[string]float64, cache *LeaderboardCache, metrics *monitoring.Metrics, logger *monitoring.Logger) *Service {
	h := make(map[string]float64, len(horizons))
	for name, hours := range horizons {
		h[name] = hours
	}
	return &Service{
		store:    store,
		cache:    cache,
		horizons: h,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
}

// HalfLife returns the half-life configured for period
func (s *Service) HalfLife(period string) (float64, error) {
	hours, ok := s.horizons[period]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownPeriod, period)
	}
	return hours, nil
}

// Periods returns the configured period names in ascending half-life order
func (s *Service) Periods() []string {
	names := make([]string, 0, len(s.horizons))
	for name := range s.horizons {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if s.horizons[names[i]] != s.horizons[names[j]] {
			return s.horizons[names[i]] < s.horizons[names[j]]
		}
		return names[i] < names[j]
	})
	return names
}

// NormalizeLimit clamps limit to (0, MaxLimit], using DefaultLimit for non-positive values
func NormalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}

// Rank scores every stored page at now with the period's half-life and
// returns the top limit pages, hottest first. Pages whose score is not
// finite are left out and counted in Skipped.
func (s *Service) Rank(ctx context.Context, now time.Time, period string, limit int) (*Response, error) {
	hl, err := s.HalfLife(period)
	if err != nil {
		return nil, err
	}
	limit = NormalizeLimit(limit)

	var gen uint64
	if s.cache != nil {
		if cached, ok := s.cache.GetLeaderboard(period, limit, now); ok {
			s.metrics.IncrementCacheHit()
			return cached, nil
		}
		s.metrics.IncrementCacheMiss()
		gen = s.cache.Generation()
	}

	pages, err := s.store.ListPages(ctx)
	if err != nil {
		return nil, apperrors.NewStorageError("Failed to list pages", err)
	}

	resp := &Response{
		Period:        period,
		HalfLifeHours: hl,
		ComputedAt:    now.UTC(),
		Entries:       make([]Entry, 0, len(pages)),
	}

	for _, p := range pages {
		start := time.Now()
		r := trending.Evaluate(now, p.Snapshot, hl)
		s.metrics.RecordScore(string(r.Verdict))
		s.logger.ScoreLogger(p.ID, hl, r.Score, string(r.Verdict), time.Since(start))

		if !r.Available() {
			resp.Skipped++
			continue
		}
		if r.Trending() {
			resp.TrendingCount++
		}
		resp.Entries = append(resp.Entries, Entry{
			PageID:   p.ID,
			Title:    p.Title,
			Score:    r.Score,
			Verdict:  r.Verdict,
			Bias:     r.Bias,
			Trending: r.Trending(),
		})
	}

	sort.SliceStable(resp.Entries, func(i, j int) bool {
		a, b := resp.Entries[i], resp.Entries[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Title != b.Title {
			return a.Title < b.Title
		}
		return a.PageID < b.PageID
	})

	resp.Total = len(resp.Entries)
	if len(resp.Entries) > limit {
		resp.Entries = resp.Entries[:limit]
	}
	for i := range resp.Entries {
		resp.Entries[i].Rank = i + 1
	}

	if s.cache != nil {
		s.cache.SetLeaderboard(gen, period, limit, now, resp)
	}
	return resp, nil
}

// Refresh ranks every period at now and persists the rankings.
// It returns the stored batch id per period.
func (s *Service) Refresh(ctx context.Context, now time.Time) (map[string]string, error) {
	started := time.Now()
	batches := make(map[string]string, len(s.horizons))

	for _, period := range s.Periods() {
		resp, err := s.Rank(ctx, now, period, MaxLimit)
		if err != nil {
			return batches, err
		}

		entries := make([]*database.TrendingEntry, 0, len(resp.Entries))
		for _, e := range resp.Entries {
			entries = append(entries, database.NewTrendingEntry("", period, e.Rank, e.PageID, e.Title, e.Score, e.Verdict, resp.HalfLifeHours, now))
		}

		var batchID string
		err = resilience.Retry(ctx, database.IsBusy, func() error {
			var err error
			batchID, err = s.store.SaveTrendingEntries(ctx, period, now, entries)
			return err
		})
		if err != nil {
			return batches, apperrors.NewStorageError("Failed to save trending entries", err)
		}
		batches[period] = batchID
	}

	s.metrics.ObserveLeaderboardRefresh(time.Since(started))
	slog.Info("Leaderboards refreshed",
		"periods", len(batches),
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return batches, nil
}

// Snapshot returns the most recently persisted ranking for period
func (s *Service) Snapshot(ctx context.Context, period string, limit int) (*Response, error) {
	hl, err := s.HalfLife(period)
	if err != nil {
		return nil, err
	}

	stored, err := s.store.LatestTrendingEntries(ctx, period, NormalizeLimit(limit))
	if err != nil {
		return nil, apperrors.NewStorageError("Failed to load trending entries", err)
	}

	resp := &Response{
		Period:        period,
		HalfLifeHours: hl,
		Entries:       make([]Entry, 0, len(stored)),
	}
	for _, e := range stored {
		resp.ComputedAt = e.ComputedAt
		resp.HalfLifeHours = e.HalfLifeHours
		trendingNow := e.Score > 0
		if trendingNow {
			resp.TrendingCount++
		}
		resp.Entries = append(resp.Entries, Entry{
			Rank:     e.Rank,
			PageID:   e.PageID,
			Title:    e.Title,
			Score:    e.Score,
			Verdict:  e.Verdict,
			Trending: trendingNow,
		})
	}
	resp.Total = len(resp.Entries)
	return resp, nil
}

// InvalidateCache drops every cached ranking
func (s *Service) InvalidateCache() {
	if s.cache != nil {
		s.cache.InvalidateAll()
	}
}
