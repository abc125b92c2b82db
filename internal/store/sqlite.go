package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3" // cgo driver, selected with store.driver: sqlite3
	_ "modernc.org/sqlite"          // Pure Go SQLite driver (no CGO), the default

	lserrors "github.com/Aman-CERP/learnsearch/internal/errors"
)

// Options configures the SQLite connection.
type Options struct {
	// Driver is "sqlite" (modernc.org/sqlite) or "sqlite3" (mattn/go-sqlite3).
	Driver string
	// CacheMB is the page cache size.
	CacheMB int
}

// SQLiteStore is the source-of-truth repository backed by SQLite.
type SQLiteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

// Verify interface implementation at compile time
var (
	_ Reader = (*SQLiteStore)(nil)
	_ Writer = (*SQLiteStore)(nil)
)

// Open opens (or creates) the store at path. An empty path opens an in-memory
// database, which is what the tests use.
func Open(path string, opts Options) (*SQLiteStore, error) {
	driver := opts.Driver
	if driver == "" {
		driver = "sqlite"
	}

	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
		}
		dsn = path
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single connection: SQLite has one writer, and :memory: is per connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	cacheMB := opts.CacheMB
	if cacheMB <= 0 {
		cacheMB = 64
	}
	// modernc ignores most DSN parameters, so pragmas are set as statements.
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		fmt.Sprintf("PRAGMA cache_size = -%d", cacheMB*1024),
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS learning_resources (
		id            INTEGER PRIMARY KEY,
		readable_id   TEXT NOT NULL,
		resource_type TEXT NOT NULL,
		title         TEXT NOT NULL DEFAULT '',
		description   TEXT NOT NULL DEFAULT '',
		url           TEXT NOT NULL DEFAULT '',
		image_url     TEXT NOT NULL DEFAULT '',
		published     INTEGER NOT NULL DEFAULT 0,
		etl_source    TEXT NOT NULL DEFAULT '',
		created_on    TEXT NOT NULL,
		prices        TEXT NOT NULL DEFAULT '[]',
		topics        TEXT NOT NULL DEFAULT '[]',
		departments   TEXT NOT NULL DEFAULT '[]',
		offered_by    TEXT,
		platform      TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_resources_type ON learning_resources(resource_type, etl_source);

	-- Type-specific relations; a course without a courses row is incomplete.
	CREATE TABLE IF NOT EXISTS courses (
		learning_resource_id INTEGER PRIMARY KEY REFERENCES learning_resources(id) ON DELETE CASCADE,
		course_numbers       TEXT NOT NULL DEFAULT '[]'
	);
	CREATE TABLE IF NOT EXISTS programs (
		learning_resource_id INTEGER PRIMARY KEY REFERENCES learning_resources(id) ON DELETE CASCADE,
		course_count         INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS learning_resource_runs (
		id                   INTEGER PRIMARY KEY,
		learning_resource_id INTEGER NOT NULL REFERENCES learning_resources(id) ON DELETE CASCADE,
		run_id               TEXT NOT NULL,
		title                TEXT NOT NULL DEFAULT '',
		published            INTEGER NOT NULL DEFAULT 0,
		start_date           TEXT,
		end_date             TEXT,
		prices               TEXT NOT NULL DEFAULT '[]'
	);
	CREATE INDEX IF NOT EXISTS idx_runs_resource ON learning_resource_runs(learning_resource_id);

	CREATE TABLE IF NOT EXISTS content_files (
		id           INTEGER PRIMARY KEY,
		run_id       INTEGER NOT NULL REFERENCES learning_resource_runs(id) ON DELETE CASCADE,
		key          TEXT NOT NULL DEFAULT '',
		title        TEXT NOT NULL DEFAULT '',
		description  TEXT NOT NULL DEFAULT '',
		content      TEXT NOT NULL DEFAULT '',
		content_type TEXT NOT NULL DEFAULT '',
		file_type    TEXT NOT NULL DEFAULT '',
		url          TEXT NOT NULL DEFAULT '',
		checksum     TEXT NOT NULL DEFAULT '',
		published    INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_content_files_run ON content_files(run_id, published);

	CREATE TABLE IF NOT EXISTS percolate_queries (
		id             INTEGER PRIMARY KEY,
		source_type    TEXT NOT NULL DEFAULT '',
		original_query TEXT NOT NULL DEFAULT '{}',
		query          TEXT NOT NULL DEFAULT '{}'
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *SQLiteStore) checkOpen() error {
	if s.closed {
		return lserrors.New(lserrors.ErrCodeStoreUnavailable, "store is closed", nil)
	}
	return nil
}

// storeErr classifies a database error: lock contention is retryable,
// everything else is a query failure.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := lserrors.As(err); ok {
		return err
	}
	msg := err.Error()
	if strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database table is locked") {
		return lserrors.New(lserrors.ErrCodeStoreUnavailable, op+": "+msg, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return lserrors.New(lserrors.ErrCodeStoreUnavailable, op+": "+msg, err)
	}
	return lserrors.New(lserrors.ErrCodeStoreQuery, op+": "+msg, err)
}

// placeholders returns "?, ?, ?" for n arguments and the ids as []any.
func placeholders(ids []int64) (string, []any) {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", "), args
}
