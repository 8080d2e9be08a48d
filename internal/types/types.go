// Package types holds the JSON request and response bodies of the HTTP API.
package types

import (
	"time"

	"github.com/ZanzyTHEbar/trendmeter/internal/trending"
)

// BiasRequest represents the request structure for the bias endpoint
type BiasRequest struct {
	Distribution trending.Distribution `json:"distribution"`
}

// BiasResponse reports the bias of an edit distribution and how its editors were classified
type BiasResponse struct {
	Bias         float64 `json:"bias"`
	Editors      int     `json:"editors"`
	NamedEditors int     `json:"namedEditors"`
	AnonEditors  int     `json:"anonEditors"`
}

// ScoreRequest scores a snapshot that is not stored. Either HalfLifeHours or
// Period must be given; Now defaults to the server clock.
type ScoreRequest struct {
	Snapshot      *trending.EditSnapshot `json:"snapshot" binding:"required"`
	HalfLifeHours float64                `json:"halfLifeHours"`
	Period        string                 `json:"period,omitempty"`
	Now           *trending.Timestamp    `json:"now,omitempty"`
}

// ScoreResponse is a scoring result and the inputs it was evaluated with
type ScoreResponse struct {
	PageID        string          `json:"pageId,omitempty"`
	Title         string          `json:"title,omitempty"`
	Period        string          `json:"period,omitempty"`
	HalfLifeHours float64         `json:"halfLifeHours"`
	Now           time.Time       `json:"now"`
	Trending      bool            `json:"trending"`
	Result        trending.Result `json:"result"`
}

// PageRequest stores or replaces the snapshot of a page
type PageRequest struct {
	Title    string                 `json:"title" binding:"required"`
	Snapshot *trending.EditSnapshot `json:"snapshot" binding:"required"`
}

// PageListResponse lists stored pages
type PageListResponse struct {
	Pages []PageSummary `json:"pages"`
	Total int           `json:"total"`
}

// PageSummary is a stored page without its snapshot
type PageSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Edits     int       `json:"edits"`
	Start     time.Time `json:"start"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// RefreshResponse reports the batches written by a leaderboard refresh
type RefreshResponse struct {
	ComputedAt time.Time         `json:"computedAt"`
	Batches    map[string]string `json:"batches"`
}

// HealthResponse is the body of the health endpoint
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp string                 `json:"timestamp"`
	Version   string                 `json:"version"`
	Services  map[string]string      `json:"services"`
	Metrics   map[string]interface{} `json:"metrics,omitempty"`
}
