package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/ZanzyTHEbar/trendmeter/internal/errors"
	"github.com/ZanzyTHEbar/trendmeter/internal/trending"
)

// Repository handles database operations
type Repository struct {
	db  *DB
	now func() time.Time
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

type rowScanner interface {
	Scan(dest ...any) error
}

// UpsertPage inserts a page or replaces the snapshot of an existing one
func (r *Repository) UpsertPage(ctx context.Context, id, title string, s trending.EditSnapshot) (*Page, error) {
	stmt, err := r.db.GetPreparedStatement("upsert_page")
	if err != nil {
		return nil, err
	}

	dist := s.Distribution
	if dist == nil {
		dist = trending.Distribution{}
	}
	distJSON, err := json.Marshal(dist)
	if err != nil {
		return nil, fmt.Errorf("failed to encode distribution: %w", err)
	}

	var bytesChanged sql.NullInt64
	if s.BytesChanged != nil {
		bytesChanged = sql.NullInt64{Int64: int64(*s.BytesChanged), Valid: true}
	}

	now := r.now().UTC()
	_, err = stmt.ExecContext(ctx,
		id, title, s.Start.UnixMilli(), s.Views, s.Edits, s.AnonEdits, s.Reverts, s.FlaggedEdits,
		bytesChanged, s.NumberContributors, string(distJSON), s.IsNew, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert page %s: %w", id, err)
	}

	return r.GetPage(ctx, id)
}

// GetPage returns the stored page or ErrPageNotFound
func (r *Repository) GetPage(ctx context.Context, id string) (*Page, error) {
	stmt, err := r.db.GetPreparedStatement("get_page")
	if err != nil {
		return nil, err
	}

	page, err := scanPage(stmt.QueryRowContext(ctx, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get page %s: %w", id, err)
	}
	return page, nil
}

// ListPages returns every stored page ordered by title
func (r *Repository) ListPages(ctx context.Context) ([]*Page, error) {
	stmt, err := r.db.GetPreparedStatement("list_pages")
	if err != nil {
		return nil, err
	}

	rows, err := stmt.QueryContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list pages: %w", err)
	}
	defer apperrors.SafeClose(rows, "page rows")

	var pages []*Page
	for rows.Next() {
		page, err := scanPage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan page: %w", err)
		}
		pages = append(pages, page)
	}

	return pages, rows.Err()
}

// DeletePage removes a page, returning ErrPageNotFound when nothing was deleted
func (r *Repository) DeletePage(ctx context.Context, id string) error {
	stmt, err := r.db.GetPreparedStatement("delete_page")
	if err != nil {
		return err
	}

	result, err := stmt.ExecContext(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to delete page %s: %w", id, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrPageNotFound
	}
	return nil
}

// SaveTrendingEntries stores one ranked batch for a period atomically and returns its batch id
func (r *Repository) SaveTrendingEntries(ctx context.Context, period string, computedAt time.Time, entries []*TrendingEntry) (string, error) {
	batchID := uuid.New().String()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := r.db.GetPreparedStatement("insert_trending_entry")
	if err != nil {
		return "", err
	}
	txStmt := tx.StmtContext(ctx, stmt)

	for _, e := range entries {
		e.BatchID = batchID
		e.Period = period
		e.ComputedAt = computedAt.UTC()
		_, err := txStmt.ExecContext(ctx,
			e.ID, e.BatchID, e.Period, e.Rank, e.PageID, e.Title,
			e.Score, string(e.Verdict), e.HalfLifeHours, e.ComputedAt.UnixMilli(),
		)
		if err != nil {
			return "", fmt.Errorf("failed to insert trending entry for %s: %w", e.PageID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit trending entries: %w", err)
	}
	return batchID, nil
}

// LatestTrendingEntries returns up to limit entries of the most recent batch for a period
func (r *Repository) LatestTrendingEntries(ctx context.Context, period string, limit int) ([]*TrendingEntry, error) {
	stmt, err := r.db.GetPreparedStatement("latest_trending_entries")
	if err != nil {
		return nil, err
	}

	rows, err := stmt.QueryContext(ctx, period, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trending entries: %w", err)
	}
	defer apperrors.SafeClose(rows, "trending rows")

	var entries []*TrendingEntry
	for rows.Next() {
		var (
			e          TrendingEntry
			verdict    string
			computedMS int64
		)
		if err := rows.Scan(&e.ID, &e.BatchID, &e.Period, &e.Rank, &e.PageID, &e.Title,
			&e.Score, &verdict, &e.HalfLifeHours, &computedMS); err != nil {
			return nil, fmt.Errorf("failed to scan trending entry: %w", err)
		}
		e.Verdict = trending.Verdict(verdict)
		e.ComputedAt = time.UnixMilli(computedMS).UTC()
		entries = append(entries, &e)
	}

	return entries, rows.Err()
}

func scanPage(row rowScanner) (*Page, error) {
	var (
		p            Page
		startMS      int64
		bytesChanged sql.NullInt64
		distJSON     string
	)

	err := row.Scan(&p.ID, &p.Title, &startMS, &p.Snapshot.Views, &p.Snapshot.Edits,
		&p.Snapshot.AnonEdits, &p.Snapshot.Reverts, &p.Snapshot.FlaggedEdits, &bytesChanged,
		&p.Snapshot.NumberContributors, &distJSON, &p.Snapshot.IsNew, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}

	p.Snapshot.Start = time.UnixMilli(startMS).UTC()
	if bytesChanged.Valid {
		p.Snapshot.BytesChanged = trending.Bytes(int(bytesChanged.Int64))
	}
	if err := json.Unmarshal([]byte(distJSON), &p.Snapshot.Distribution); err != nil {
		return nil, fmt.Errorf("failed to decode distribution of %s: %w", p.ID, err)
	}

	return &p, nil
}
