package database

import (
	"context"
	"strings"
	"sync"

	apperrors "github.com/ZanzyTHEbar/trendmeter/internal/errors"
	"github.com/ZanzyTHEbar/trendmeter/internal/fixtures"
	"github.com/ZanzyTHEbar/trendmeter/internal/trending"
)

const (
	maxPageIDLength    = 256
	maxPageTitleLength = 512
)

// PageService validates page writes and notifies listeners after every change
type PageService struct {
	repo *Repository

	mu        sync.RWMutex
	listeners []func(pageID string)
}

// NewPageService creates a new page service
func NewPageService(repo *Repository) *PageService {
	return &PageService{repo: repo}
}

// OnChange registers fn to run after a page is written or deleted
func (s *PageService) OnChange(fn func(pageID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *PageService) notify(pageID string) {
	s.mu.RLock()
	listeners := append([]func(string){}, s.listeners...)
	s.mu.RUnlock()

	for _, fn := range listeners {
		fn(pageID)
	}
}

// ValidatePage checks the fields the store requires
func ValidatePage(id, title string, snap trending.EditSnapshot) *apperrors.AppError {
	problems := make(map[string]string)

	if strings.TrimSpace(id) == "" {
		problems["id"] = "id is required"
	} else if len(id) > maxPageIDLength {
		problems["id"] = "id is too long"
	}
	if strings.TrimSpace(title) == "" {
		problems["title"] = "title is required"
	} else if len(title) > maxPageTitleLength {
		problems["title"] = "title is too long"
	}
	if snap.Start.IsZero() {
		problems["start"] = "start is required"
	}
	if snap.Edits < 0 {
		problems["edits"] = "edits must not be negative"
	}
	for field, v := range map[string]int{
		"views":              snap.Views,
		"anonEdits":          snap.AnonEdits,
		"reverts":            snap.Reverts,
		"flaggedEdits":       snap.FlaggedEdits,
		"numberContributors": snap.NumberContributors,
	} {
		if v < 0 {
			problems[field] = field + " must not be negative"
		}
	}

	if len(problems) > 0 {
		return apperrors.NewValidationErrorWithMap(problems)
	}
	return nil
}

// Put validates and stores a page snapshot
func (s *PageService) Put(ctx context.Context, id, title string, snap trending.EditSnapshot) (*Page, error) {
	if appErr := ValidatePage(id, title, snap); appErr != nil {
		return nil, appErr
	}

	page, err := s.repo.UpsertPage(ctx, id, title, snap)
	if err != nil {
		return nil, apperrors.NewStorageError("Failed to store page", err)
	}

	s.notify(id)
	return page, nil
}

// Get returns a stored page
func (s *PageService) Get(ctx context.Context, id string) (*Page, error) {
	return s.repo.GetPage(ctx, id)
}

// List returns every stored page
func (s *PageService) List(ctx context.Context) ([]*Page, error) {
	return s.repo.ListPages(ctx)
}

// Delete removes a page
func (s *PageService) Delete(ctx context.Context, id string) error {
	if err := s.repo.DeletePage(ctx, id); err != nil {
		return err
	}
	s.notify(id)
	return nil
}

// Seed stores the bundled sample pages, returning how many were written
func (s *PageService) Seed(ctx context.Context) (int, error) {
	pages, err := fixtures.All()
	if err != nil {
		return 0, apperrors.NewConfigurationError("Failed to load sample pages", err)
	}

	for _, p := range pages {
		if _, err := s.Put(ctx, p.ID, p.Title, p.Snapshot); err != nil {
			return 0, apperrors.WrapError(err, "seed %s", p.ID)
		}
	}
	return len(pages), nil
}
