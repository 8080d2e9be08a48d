// Package fixtures ships sample wiki pages captured while they were trending.
// They seed the page store and drive the scoring regression tests.
package fixtures

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/trendmeter/internal/trending"
)

//go:embed pages.json
var pagesJSON []byte

// Page is a captured page snapshot and the instant it was evaluated.
type Page struct {
	ID        string                `json:"id"`
	Title     string                `json:"title"`
	TrendedAt time.Time             `json:"trendedAt"`
	Snapshot  trending.EditSnapshot `json:"snapshot"`
}

// UnmarshalJSON reads the flat fixture layout where snapshot fields sit next to id and title.
func (p *Page) UnmarshalJSON(data []byte) error {
	var head struct {
		ID        string              `json:"id"`
		Title     string              `json:"title"`
		TrendedAt *trending.Timestamp `json:"trendedAt"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	var snap trending.EditSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("fixture %s: %w", head.ID, err)
	}

	p.ID = head.ID
	p.Title = head.Title
	p.Snapshot = snap
	if head.TrendedAt != nil {
		p.TrendedAt = head.TrendedAt.Time
	}
	return nil
}

var (
	loadOnce sync.Once
	pages    []Page
	byID     map[string]Page
	loadErr  error
)

func load() {
	loadOnce.Do(func() {
		if err := json.Unmarshal(pagesJSON, &pages); err != nil {
			loadErr = fmt.Errorf("failed to decode page fixtures: %w", err)
			return
		}
		byID = make(map[string]Page, len(pages))
		for _, p := range pages {
			byID[p.ID] = p
		}
	})
}

// All returns every fixture page in file order.
func All() ([]Page, error) {
	load()
	if loadErr != nil {
		return nil, loadErr
	}
	return append([]Page(nil), pages...), nil
}

// Get returns the fixture with the given id.
func Get(id string) (Page, error) {
	load()
	if loadErr != nil {
		return Page{}, loadErr
	}
	p, ok := byID[id]
	if !ok {
		return Page{}, fmt.Errorf("unknown fixture %q", id)
	}
	return p, nil
}

// MustGet is Get for tests and seeding code that ships with the fixtures.
func MustGet(id string) Page {
	p, err := Get(id)
	if err != nil {
		panic(err)
	}
	return p
}

// Minimal is the smallest valid snapshot: two editors with five edits each, started at now.
func Minimal(now time.Time) trending.EditSnapshot {
	return trending.EditSnapshot{
		Start:        now,
		Edits:        10,
		Distribution: trending.Distribution{"a": 5, "b": 5},
	}
}
