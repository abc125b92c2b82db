package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	lserrors "github.com/Aman-CERP/learnsearch/internal/errors"
)

// WorkerOptions configures Run.
type WorkerOptions struct {
	Concurrency int
	// PollInterval is the idle wait between claim attempts.
	PollInterval time.Duration
	// VisibilityTimeout is how long a running task may go without a
	// heartbeat before another worker reclaims it.
	VisibilityTimeout time.Duration
}

func (o WorkerOptions) withDefaults() WorkerOptions {
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 500 * time.Millisecond
	}
	if o.VisibilityTimeout <= 0 {
		o.VisibilityTimeout = 5 * time.Minute
	}
	return o
}

// errTaskReclaimed aborts a write for a task another worker has taken over.
var errTaskReclaimed = errors.New("task reclaimed by another worker")

// claimed is a task row taken by this worker.
type claimed struct {
	id       string
	name     string
	args     string
	attempts int
	groupID  string
	position int
}

// Run executes tasks with Concurrency claim loops until ctx is done.
func (q *Queue) Run(ctx context.Context, opts WorkerOptions) error {
	opts = opts.withDefaults()
	slog.Info("worker_started",
		slog.Int("concurrency", opts.Concurrency),
		slog.Duration("poll_interval", opts.PollInterval))

	g, gctx := errgroup.WithContext(ctx)
	for range opts.Concurrency {
		g.Go(func() error {
			for {
				ran, err := q.RunOnce(gctx, opts)
				if err != nil && gctx.Err() == nil {
					slog.Warn("worker_claim_failed", lserrors.LogAttrs(err)...)
				}
				if ran {
					continue
				}
				select {
				case <-gctx.Done():
					return nil
				case <-time.After(opts.PollInterval):
				}
			}
		})
	}
	err := g.Wait()
	slog.Info("worker_stopped")
	return err
}

// RunOnce claims and executes at most one runnable task. It reports whether
// a task ran.
func (q *Queue) RunOnce(ctx context.Context, opts WorkerOptions) (bool, error) {
	opts = opts.withDefaults()
	t, err := q.claim(ctx, opts.VisibilityTimeout)
	if err != nil || t == nil {
		return false, err
	}
	q.execute(ctx, t, opts)
	return true, nil
}

// Drain runs tasks until none is runnable.
func (q *Queue) Drain(ctx context.Context, opts WorkerOptions) error {
	for {
		ran, err := q.RunOnce(ctx, opts)
		if err != nil {
			return err
		}
		if !ran {
			return nil
		}
	}
}

func (q *Queue) claim(ctx context.Context, visibility time.Duration) (*claimed, error) {
	names := q.registeredNames()
	if len(names) == 0 {
		return nil, nil
	}
	now := q.now()
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(names)), ", ")
	args := []any{now.UnixNano(), now.UnixNano(), now.UnixNano(), now.Add(-visibility).UnixNano()}
	for _, n := range names {
		args = append(args, n)
	}

	var t claimed
	err := q.db.QueryRowContext(ctx, `
		UPDATE tasks SET status = 'running', attempts = attempts + 1, heartbeat_at = ?, updated_at = ?
		WHERE id = (
			SELECT id FROM tasks
			WHERE ((status = 'queued' AND run_after <= ?) OR (status = 'running' AND heartbeat_at < ?))
				AND name IN (`+placeholders+`)
			ORDER BY run_after, rowid
			LIMIT 1
		)
		RETURNING id, name, args, attempts, group_id, position`,
		args...).
		Scan(&t.id, &t.name, &t.args, &t.attempts, &t.groupID, &t.position)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, queueErr("claim", err)
	}
	if t.attempts > 1 {
		slog.Debug("task_claimed", slog.String("task", t.name), slog.String("task_id", t.id), slog.Int("attempt", t.attempts))
	}
	return &t, nil
}

func (q *Queue) execute(ctx context.Context, t *claimed, opts WorkerOptions) {
	reg, ok := q.registration(t.name)
	if !ok {
		q.finish(ctx, t, nil, lserrors.New(lserrors.ErrCodeUnknownTask, "no handler registered for "+t.name, nil))
		return
	}
	if reg.limiter != nil {
		if err := reg.limiter.Wait(ctx); err != nil {
			q.retryLater(ctx, t, q.now(), err)
			return
		}
	}

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go q.heartbeat(hbCtx, t.id, opts.VisibilityTimeout/3)

	tc := &TaskContext{
		ID:       t.id,
		Name:     t.name,
		Attempt:  t.attempts,
		args:     []byte(t.args),
		groupID:  t.groupID,
		position: t.position,
		q:        q,
	}

	start := time.Now()
	result, err := q.invoke(ctx, reg.handler, tc)
	stopHeartbeat()

	if err == nil && tc.replace != nil {
		rerr := q.replaceTask(ctx, t, tc.replace)
		switch {
		case errors.Is(rerr, errTaskReclaimed):
			slog.Warn("task_replace_skipped", slog.String("task", t.name), slog.String("task_id", t.id),
				slog.String("reason", rerr.Error()))
			return
		case rerr != nil:
			err = rerr
		default:
			slog.Debug("task_replaced", slog.String("task", t.name), slog.String("task_id", t.id))
			return
		}
	}
	if err != nil {
		q.handleFailure(ctx, t, reg.opts, err)
		return
	}
	q.finish(ctx, t, result, nil)
	slog.Debug("task_succeeded",
		slog.String("task", t.name),
		slog.String("task_id", t.id),
		slog.Duration("duration", time.Since(start)))
}

// invoke runs the handler, turning a panic into a fatal error.
func (q *Queue) invoke(ctx context.Context, h HandlerFunc, tc *TaskContext) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("task_panic", slog.String("task", tc.Name), slog.String("task_id", tc.ID), slog.Any("panic", r))
			err = lserrors.New(lserrors.ErrCodeTaskFailed, fmt.Sprintf("panic: %v", r), nil)
		}
	}()
	return h(ctx, tc)
}

func (q *Queue) heartbeat(ctx context.Context, id string, every time.Duration) {
	if every <= 0 {
		every = time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := q.db.ExecContext(ctx,
				`UPDATE tasks SET heartbeat_at = ? WHERE id = ? AND status = 'running'`,
				q.now().UnixNano(), id); err != nil && ctx.Err() == nil {
				slog.Warn("task_heartbeat_failed", slog.String("task_id", id), slog.String("error", err.Error()))
			}
		}
	}
}

// handleFailure picks the retry policy for err.
func (q *Queue) handleFailure(ctx context.Context, t *claimed, opts TaskOptions, err error) {
	switch lserrors.Classify(err) {
	case lserrors.KindTransient:
		if t.attempts <= q.opts.Retry.MaxRetries {
			q.retryLater(ctx, t, q.now().Add(q.opts.Retry.Delay(t.attempts)), err)
			return
		}
	case lserrors.KindNotFound:
		if opts.RetryNotFound && t.attempts <= q.opts.NotFoundRetries {
			delay := time.Duration(float64(q.opts.NotFoundDelay) * math.Pow(q.opts.NotFoundBackoff, float64(t.attempts-1)))
			q.retryLater(ctx, t, q.now().Add(delay), err)
			return
		}
	}
	q.finish(ctx, t, nil, err)
}

func (q *Queue) retryLater(ctx context.Context, t *claimed, at time.Time, cause error) {
	slog.Info("task_retry_scheduled",
		slog.String("task", t.name),
		slog.String("task_id", t.id),
		slog.Int("attempt", t.attempts),
		slog.Time("run_after", at),
		slog.String("error", cause.Error()))
	// Write with a fresh context so shutdown does not strand the task as running.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if _, err := q.db.ExecContext(wctx,
		`UPDATE tasks SET status = 'queued', run_after = ?, error = ?, updated_at = ? WHERE id = ? AND status = 'running' AND attempts = ?`,
		at.UnixNano(), cause.Error(), q.now().UnixNano(), t.id, t.attempts); err != nil {
		slog.Error("task_requeue_failed", slog.String("task_id", t.id), slog.String("error", err.Error()))
	}
}

// finish records success (taskErr nil) or failure and reports the outcome
// to the task's group.
func (q *Queue) finish(ctx context.Context, t *claimed, result any, taskErr error) {
	state := StateSucceeded
	var resultJSON, errMsg string
	if taskErr != nil {
		state = StateFailed
		errMsg = taskErr.Error()
		// A failed member reports its error as its result so the barrier still fires.
		resultJSON, _ = marshalJSON(fmt.Sprintf("%s %s failed: %s", t.name, t.id, errMsg))
		slog.Error("task_failed", append([]any{
			slog.String("task", t.name),
			slog.String("task_id", t.id),
			slog.Int("attempts", t.attempts),
		}, lserrors.LogAttrs(taskErr)...)...)
	} else {
		var err error
		if resultJSON, err = marshalJSON(result); err != nil {
			state = StateFailed
			errMsg = "encode result: " + err.Error()
			resultJSON, _ = marshalJSON(fmt.Sprintf("%s %s failed: %s", t.name, t.id, errMsg))
		}
	}

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	err := q.inTx(wctx, "finish", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(wctx,
			`UPDATE tasks SET status = ?, result = ?, error = ?, updated_at = ? WHERE id = ? AND status = 'running' AND attempts = ?`,
			string(state), resultJSON, errMsg, q.now().UnixNano(), t.id, t.attempts)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			// Reclaimed by another worker after our heartbeat lapsed.
			return nil
		}
		if t.groupID == "" {
			return nil
		}
		return q.recordMember(wctx, tx, t.groupID, t.position, t.id, resultJSON, state == StateFailed)
	})
	if err != nil {
		slog.Error("task_finish_failed", slog.String("task_id", t.id), slog.String("error", err.Error()))
	}
}

// replaceTask enqueues g in place of t in one transaction. When another
// worker has reclaimed t the transaction rolls back with errTaskReclaimed
// and g is not enqueued.
func (q *Queue) replaceTask(ctx context.Context, t *claimed, g Graph) error {
	return q.inTx(ctx, "replace", func(tx *sql.Tx) error {
		var m *membership
		if t.groupID != "" {
			m = &membership{groupID: t.groupID, position: t.position}
		}
		h, err := q.insertGraph(ctx, tx, g, m)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE tasks SET status = 'replaced', replaced_by = ?, replaced_by_group = ?, updated_at = ?
			WHERE id = ? AND status = 'running' AND attempts = ?`,
			h.TaskID, h.GroupID, q.now().UnixNano(), t.id, t.attempts)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return errTaskReclaimed
		}
		return nil
	})
}
