package leaderboard

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/trendmeter/internal/cache"
)

const keyPrefix = "trending:"

// LeaderboardCache provides caching for rankings. Rankings are keyed by the
// minute they were computed for, so a cached ranking is reused only for
// requests evaluated within the same minute.
//
// Every invalidation bumps a generation; a ranking computed from pages read
// before the bump is not stored.
type LeaderboardCache struct {
	cache *cache.Cache

	mu         sync.Mutex
	generation uint64
}

// NewLeaderboardCache creates a new leaderboard cache
func NewLeaderboardCache(ttl time.Duration) *LeaderboardCache {
	return &LeaderboardCache{
		cache: cache.NewCache(ttl),
	}
}

func (lc *LeaderboardCache) generateCacheKey(period string, limit int, now time.Time) string {
	return fmt.Sprintf("%s%s:%d:%d", keyPrefix, period, limit, now.Truncate(time.Minute).Unix())
}

// GetLeaderboard retrieves a cached ranking
func (lc *LeaderboardCache) GetLeaderboard(period string, limit int, now time.Time) (*Response, bool) {
	cacheKey := lc.generateCacheKey(period, limit, now)

	data, found := lc.cache.Get(cacheKey)
	if !found {
		return nil, false
	}

	var response Response
	if err := json.Unmarshal(data, &response); err != nil {
		slog.Error("Failed to unmarshal cached leaderboard data", "error", err, "key", cacheKey)
		return nil, false
	}

	slog.Debug("Leaderboard cache hit", "period", period, "limit", limit)
	return &response, true
}

// Generation returns the current invalidation generation. Read it before
// loading the pages a ranking is computed from.
func (lc *LeaderboardCache) Generation() uint64 {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.generation
}

// SetLeaderboard caches a ranking computed at generation gen. It reports
// false, storing nothing, when the cache was invalidated since gen was read.
func (lc *LeaderboardCache) SetLeaderboard(gen uint64, period string, limit int, now time.Time, response *Response) bool {
	cacheKey := lc.generateCacheKey(period, limit, now)

	data, err := json.Marshal(response)
	if err != nil {
		slog.Error("Failed to marshal leaderboard data for cache", "error", err, "period", period)
		return false
	}

	lc.mu.Lock()
	defer lc.mu.Unlock()
	if gen != lc.generation {
		slog.Debug("Skipped caching stale leaderboard", "period", period, "generation", gen)
		return false
	}

	lc.cache.Set(cacheKey, data)
	slog.Debug("Leaderboard cached", "period", period, "limit", limit, "entries", len(response.Entries))
	return true
}

// InvalidateAll drops every cached ranking
func (lc *LeaderboardCache) InvalidateAll() {
	lc.mu.Lock()
	lc.generation++
	n := lc.cache.DeletePrefix(keyPrefix)
	lc.mu.Unlock()

	slog.Debug("Invalidated all leaderboard cache entries", "entries", n)
}

// GetStats returns cache statistics
func (lc *LeaderboardCache) GetStats() map[string]interface{} {
	return lc.cache.Stats()
}

// Close stops the cache's cleanup goroutine
func (lc *LeaderboardCache) Close() error {
	lc.cache.Stop()
	return nil
}
