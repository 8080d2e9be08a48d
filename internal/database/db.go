package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
)

// DB represents the database connection with pooling
type DB struct {
	*sql.DB
	pool     *ConnectionPool
	prepared map[string]*sql.Stmt
	mutex    sync.RWMutex
}

// ConnectionPool manages database connection pooling
type ConnectionPool struct {
	db           *sql.DB
	maxOpenConns int
	maxIdleConns int
	maxLifetime  time.Duration
}

// NewConnectionPool creates a new database connection pool
func NewConnectionPool(db *sql.DB, maxOpen, maxIdle int, maxLifetime time.Duration) *ConnectionPool {
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(maxLifetime)

	return &ConnectionPool{
		db:           db,
		maxOpenConns: maxOpen,
		maxIdleConns: maxIdle,
		maxLifetime:  maxLifetime,
	}
}

// GetStats returns connection pool statistics
func (cp *ConnectionPool) GetStats() map[string]interface{} {
	stats := cp.db.Stats()

	return map[string]interface{}{
		"open_connections":     stats.OpenConnections,
		"in_use":               stats.InUse,
		"idle":                 stats.Idle,
		"max_open_connections": cp.maxOpenConns,
		"max_idle_connections": cp.maxIdleConns,
		"max_lifetime_seconds": cp.maxLifetime.Seconds(),
		"wait_count":           stats.WaitCount,
		"wait_duration_ms":     stats.WaitDuration.Milliseconds(),
	}
}

// NewDB opens (and creates if needed) trendmeter.db under dataDir
func NewDB(dataDir string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "trendmeter.db")
	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on&_busy_timeout=5000", dbPath)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// sqlite serialises writers; a small pool avoids busy errors under load
	pool := NewConnectionPool(db, 8, 4, 5*time.Minute)

	database := &DB{
		DB:       db,
		pool:     pool,
		prepared: make(map[string]*sql.Stmt),
	}

	if err := database.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := database.initPreparedStatements(); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to initialize prepared statements: %w", err)
	}

	slog.Info("Database initialized with connection pooling",
		"path", dbPath,
		"max_open_conns", pool.maxOpenConns,
		"max_idle_conns", pool.maxIdleConns,
		"max_lifetime", pool.maxLifetime)

	return database, nil
}

// migrate creates the necessary tables
func (db *DB) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS pages (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			start_ms INTEGER NOT NULL,
			views INTEGER NOT NULL DEFAULT 0,
			edits INTEGER NOT NULL,
			anon_edits INTEGER NOT NULL DEFAULT 0,
			reverts INTEGER NOT NULL DEFAULT 0,
			flagged_edits INTEGER NOT NULL DEFAULT 0,
			bytes_changed INTEGER, -- NULL when the byte delta is unknown
			number_contributors INTEGER NOT NULL DEFAULT 0,
			distribution TEXT NOT NULL DEFAULT '{}', -- JSON editor -> edit count
			is_new BOOLEAN NOT NULL DEFAULT FALSE,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS trending_entries (
			id TEXT PRIMARY KEY,
			batch_id TEXT NOT NULL,
			period TEXT NOT NULL,
			rank INTEGER NOT NULL,
			page_id TEXT NOT NULL,
			title TEXT NOT NULL,
			score REAL NOT NULL,
			verdict TEXT NOT NULL,
			half_life_hours REAL NOT NULL,
			computed_ms INTEGER NOT NULL,
			UNIQUE(batch_id, rank)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_pages_updated ON pages(updated_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_trending_entries_period ON trending_entries(period, computed_ms DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_trending_entries_batch ON trending_entries(batch_id, rank)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute migration: %w", err)
		}
	}

	return nil
}

const pageColumns = `id, title, start_ms, views, edits, anon_edits, reverts, flagged_edits,
	bytes_changed, number_contributors, distribution, is_new, created_at, updated_at`

const entryColumns = `id, batch_id, period, rank, page_id, title, score, verdict, half_life_hours, computed_ms`

// initPreparedStatements initializes frequently used prepared statements
func (db *DB) initPreparedStatements() error {
	statements := map[string]string{
		"upsert_page": `INSERT INTO pages (` + pageColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			start_ms = excluded.start_ms,
			views = excluded.views,
			edits = excluded.edits,
			anon_edits = excluded.anon_edits,
			reverts = excluded.reverts,
			flagged_edits = excluded.flagged_edits,
			bytes_changed = excluded.bytes_changed,
			number_contributors = excluded.number_contributors,
			distribution = excluded.distribution,
			is_new = excluded.is_new,
			updated_at = excluded.updated_at`,

		"get_page": `SELECT ` + pageColumns + ` FROM pages WHERE id = ?`,

		"list_pages": `SELECT ` + pageColumns + ` FROM pages ORDER BY title ASC, id ASC`,

		"delete_page": `DELETE FROM pages WHERE id = ?`,

		"insert_trending_entry": `INSERT INTO trending_entries (` + entryColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,

		"latest_trending_entries": `SELECT ` + entryColumns + ` FROM trending_entries
			WHERE batch_id = (
				SELECT batch_id FROM trending_entries WHERE period = ?
				ORDER BY computed_ms DESC LIMIT 1
			)
			ORDER BY rank ASC LIMIT ?`,
	}

	db.mutex.Lock()
	defer db.mutex.Unlock()

	for name, query := range statements {
		stmt, err := db.Prepare(query)
		if err != nil {
			return fmt.Errorf("failed to prepare statement %s: %w", name, err)
		}
		db.prepared[name] = stmt

		slog.Debug("Prepared statement initialized", "name", name)
	}

	return nil
}

// GetPreparedStatement retrieves a prepared statement
func (db *DB) GetPreparedStatement(name string) (*sql.Stmt, error) {
	db.mutex.RLock()
	defer db.mutex.RUnlock()

	stmt, exists := db.prepared[name]
	if !exists {
		return nil, fmt.Errorf("prepared statement %s not found", name)
	}

	return stmt, nil
}

// GetPoolStats returns database connection pool statistics
func (db *DB) GetPoolStats() map[string]interface{} {
	return db.pool.GetStats()
}

// HealthCheck pings the database within ctx
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.PingContext(ctx)
}

// IsBusy reports whether err is SQLite refusing a write because another
// connection holds the lock. Such writes may succeed when retried.
func IsBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
}

// Close closes the database connection and prepared statements
func (db *DB) Close() error {
	db.mutex.Lock()
	defer db.mutex.Unlock()

	for name, stmt := range db.prepared {
		if err := stmt.Close(); err != nil {
			slog.Warn("Failed to close prepared statement", "name", name, "error", err)
		}
	}
	db.prepared = make(map[string]*sql.Stmt)

	return db.DB.Close()
}
