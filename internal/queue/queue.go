// Package queue is a persistent task graph scheduler on SQLite: tasks,
// groups with a completion barrier, chains, and replacement of a running
// task by a graph. Any number of worker processes can share one database.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"golang.org/x/time/rate"
	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	lserrors "github.com/Aman-CERP/learnsearch/internal/errors"
)

// State is the lifecycle state of a task.
type State string

const (
	StatePending   State = "pending" // continuation waiting on its group
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateReplaced  State = "replaced"
)

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Options configures retries and throttling.
type Options struct {
	// Retry governs transient failures.
	Retry lserrors.RetryConfig
	// NotFoundRetries, NotFoundDelay, and NotFoundBackoff govern not-found
	// failures of tasks registered with RetryNotFound.
	NotFoundRetries int
	NotFoundDelay   time.Duration
	NotFoundBackoff float64
	// RateLimit is the maximum starts per minute of each task name. Zero
	// disables throttling.
	RateLimit int
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		Retry:           lserrors.DefaultRetryConfig(),
		NotFoundRetries: 5,
		NotFoundDelay:   2 * time.Second,
		NotFoundBackoff: 1.0,
		RateLimit:       600,
	}
}

// HandlerFunc runs a task. The returned value is stored as the task result.
type HandlerFunc func(ctx context.Context, tc *TaskContext) (any, error)

// TaskOptions tunes the retry policy of one task name.
type TaskOptions struct {
	// RetryNotFound retries not-found failures with the not-found policy.
	RetryNotFound bool
}

type registration struct {
	handler HandlerFunc
	opts    TaskOptions
	limiter *rate.Limiter
}

// Queue is a handle on the task database.
type Queue struct {
	db   *sql.DB
	opts Options

	mu       sync.RWMutex
	handlers map[string]*registration
	closed   bool

	now func() time.Time
}

// Open opens (or creates) the queue database at path.
func Open(path string, opts Options) (*Queue, error) {
	if path == "" {
		return nil, lserrors.ConfigError("queue path is empty", nil)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	// Writers take the lock up front so two processes never deadlock upgrading.
	db, err := sql.Open("sqlite", path+"?_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open queue: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	if opts.Retry.MaxRetries == 0 && opts.Retry.InitialDelay == 0 {
		opts.Retry = lserrors.DefaultRetryConfig()
	}
	if opts.NotFoundBackoff <= 0 {
		opts.NotFoundBackoff = 1.0
	}

	q := &Queue{
		db:       db,
		opts:     opts,
		handlers: make(map[string]*registration),
		now:      time.Now,
	}
	if err := q.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize queue schema: %w", err)
	}
	q.Register(JoinTask, joinHandler, TaskOptions{})
	return q, nil
}

func (q *Queue) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS tasks (
		id                TEXT PRIMARY KEY,
		name              TEXT NOT NULL,
		args              TEXT NOT NULL DEFAULT 'null',
		status            TEXT NOT NULL,
		attempts          INTEGER NOT NULL DEFAULT 0,
		group_id          TEXT NOT NULL DEFAULT '',
		position          INTEGER NOT NULL DEFAULT 0,
		result            TEXT,
		error             TEXT NOT NULL DEFAULT '',
		replaced_by       TEXT NOT NULL DEFAULT '',
		replaced_by_group TEXT NOT NULL DEFAULT '',
		run_after         INTEGER NOT NULL,
		heartbeat_at      INTEGER NOT NULL DEFAULT 0,
		created_at        INTEGER NOT NULL,
		updated_at        INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_runnable ON tasks(status, run_after);

	CREATE TABLE IF NOT EXISTS task_groups (
		id              TEXT PRIMARY KEY,
		size            INTEGER NOT NULL,
		completed       INTEGER NOT NULL DEFAULT 0,
		failed          INTEGER NOT NULL DEFAULT 0,
		continuation_id TEXT NOT NULL DEFAULT '',
		created_at      INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_groups_continuation ON task_groups(continuation_id);

	-- One row per finished member; the primary key makes completion idempotent.
	CREATE TABLE IF NOT EXISTS group_results (
		group_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		task_id  TEXT NOT NULL,
		result   TEXT,
		failed   INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (group_id, position)
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`
	_, err := q.db.Exec(schema)
	return err
}

// Register binds a handler to a task name. Registering a name twice
// replaces the handler.
func (q *Queue) Register(name string, h HandlerFunc, opts TaskOptions) {
	q.mu.Lock()
	defer q.mu.Unlock()

	reg := &registration{handler: h, opts: opts}
	if q.opts.RateLimit > 0 {
		perSecond := rate.Limit(float64(q.opts.RateLimit) / 60.0)
		reg.limiter = rate.NewLimiter(perSecond, max(1, q.opts.RateLimit/60))
	}
	q.handlers[name] = reg
}

func (q *Queue) registration(name string) (*registration, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	reg, ok := q.handlers[name]
	return reg, ok
}

func (q *Queue) registeredNames() []string {
	q.mu.RLock()
	defer q.mu.RUnlock()
	names := make([]string, 0, len(q.handlers))
	for name := range q.handlers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Close closes the database.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	return q.db.Close()
}

// Prune deletes finished tasks, and groups whose continuation is finished,
// last updated before cutoff.
func (q *Queue) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := q.inTx(ctx, "prune", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM tasks WHERE status IN ('succeeded', 'failed', 'replaced') AND updated_at < ?`,
			cutoff.UnixNano())
		if err != nil {
			return err
		}
		n, _ = res.RowsAffected()
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM task_groups WHERE created_at < ?
				AND NOT EXISTS (SELECT 1 FROM tasks t WHERE t.group_id = task_groups.id)
				AND NOT EXISTS (SELECT 1 FROM tasks t WHERE t.id = task_groups.continuation_id)`,
			cutoff.UnixNano()); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`DELETE FROM group_results WHERE group_id NOT IN (SELECT id FROM task_groups)`)
		return err
	})
	if n > 0 {
		slog.Info("queue_pruned", slog.Int64("tasks", n))
	}
	return n, err
}

func (q *Queue) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return queueErr(op, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return queueErr(op, err)
	}
	if err := tx.Commit(); err != nil {
		return queueErr(op, err)
	}
	return nil
}

func queueErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := lserrors.As(err); ok {
		return err
	}
	return lserrors.New(lserrors.ErrCodeStoreUnavailable, "queue "+op+": "+err.Error(), err)
}

func marshalJSON(v any) (string, error) {
	if raw, ok := v.(json.RawMessage); ok {
		return string(raw), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
