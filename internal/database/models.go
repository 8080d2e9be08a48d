package database

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/ZanzyTHEbar/trendmeter/internal/errors"
	"github.com/ZanzyTHEbar/trendmeter/internal/trending"
)

// ErrPageNotFound is returned by lookups of unknown page ids.
var ErrPageNotFound = fmt.Errorf("page %w", apperrors.ErrNotFound)

// Page is a stored wiki page and its latest snapshot
type Page struct {
	ID        string                `json:"id"`
	Title     string                `json:"title"`
	Snapshot  trending.EditSnapshot `json:"snapshot"`
	CreatedAt time.Time             `json:"createdAt"`
	UpdatedAt time.Time             `json:"updatedAt"`
}

// TrendingEntry is one ranked page of a persisted leaderboard batch
type TrendingEntry struct {
	ID            string           `json:"id"`
	BatchID       string           `json:"batchId"`
	Period        string           `json:"period"`
	Rank          int              `json:"rank"`
	PageID        string           `json:"pageId"`
	Title         string           `json:"title"`
	Score         float64          `json:"score"`
	Verdict       trending.Verdict `json:"verdict"`
	HalfLifeHours float64          `json:"halfLifeHours"`
	ComputedAt    time.Time        `json:"computedAt"`
}

// NewTrendingEntry creates an entry with a fresh id
func NewTrendingEntry(batchID, period string, rank int, pageID, title string, score float64, verdict trending.Verdict, halfLifeHours float64, computedAt time.Time) *TrendingEntry {
	return &TrendingEntry{
		ID:            uuid.New().String(),
		BatchID:       batchID,
		Period:        period,
		Rank:          rank,
		PageID:        pageID,
		Title:         title,
		Score:         score,
		Verdict:       verdict,
		HalfLifeHours: halfLifeHours,
		ComputedAt:    computedAt.UTC(),
	}
}
