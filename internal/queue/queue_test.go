package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lserrors "github.com/Aman-CERP/learnsearch/internal/errors"
)

// testClock is a settable clock shared by the queue under test.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testOptions() Options {
	return Options{
		Retry:           lserrors.RetryConfig{MaxRetries: 2, InitialDelay: time.Second, MaxDelay: time.Minute, Multiplier: 2},
		NotFoundRetries: 2,
		NotFoundDelay:   time.Second,
		NotFoundBackoff: 1.0,
	}
}

func openTest(t *testing.T) (*Queue, *testClock) {
	t.Helper()
	q, err := Open(filepath.Join(t.TempDir(), "queue.db"), testOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	clock := &testClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	q.now = clock.Now
	return q, clock
}

var drainOpts = WorkerOptions{VisibilityTimeout: time.Hour}

func decodeStrings(t *testing.T, raws []json.RawMessage) []string {
	t.Helper()
	out := make([]string, len(raws))
	for i, raw := range raws {
		require.NoError(t, json.Unmarshal(raw, &out[i]))
	}
	return out
}

func TestEnqueue_SingleTask(t *testing.T) {
	ctx := context.Background()
	q, _ := openTest(t)
	q.Register("double", func(ctx context.Context, tc *TaskContext) (any, error) {
		var n int
		if err := tc.Bind(&n); err != nil {
			return nil, err
		}
		return n * 2, nil
	}, TaskOptions{})

	h, err := q.Enqueue(ctx, Task("double", 21))
	require.NoError(t, err)

	st, err := q.Inspect(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, StateQueued, st.State)

	require.NoError(t, q.Drain(ctx, drainOpts))

	st, err = q.Inspect(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, st.State)
	assert.JSONEq(t, "42", string(st.Result))
	assert.Equal(t, 1, st.Attempts)
}

func TestChain_BarrierCollectsOrderedResults(t *testing.T) {
	ctx := context.Background()
	q, _ := openTest(t)

	var continuations atomic.Int32
	var got []string
	q.Register("echo", func(ctx context.Context, tc *TaskContext) (any, error) {
		var s string
		require.NoError(t, tc.Bind(&s))
		return s, nil
	}, TaskOptions{})
	q.Register("collect", func(ctx context.Context, tc *TaskContext) (any, error) {
		continuations.Add(1)
		results, err := tc.GroupResults(ctx)
		if err != nil {
			return nil, err
		}
		got = decodeStrings(t, results)
		return len(results), nil
	}, TaskOptions{})

	h, err := q.Enqueue(ctx, Chain(Group(Task("echo", "a"), Task("echo", "b"), Task("echo", "c")), Task("collect", nil)))
	require.NoError(t, err)

	st, err := q.Inspect(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, StatePending, st.State)
	require.NotNil(t, st.Group)
	assert.Equal(t, 3, st.Group.Size)

	require.NoError(t, q.Drain(ctx, drainOpts))

	assert.Equal(t, int32(1), continuations.Load())
	assert.Equal(t, []string{"a", "b", "c"}, got)
	st, err = q.Inspect(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, st.State)
	assert.JSONEq(t, "3", string(st.Result))
}

func TestChain_EmptyGroupReleasesContinuation(t *testing.T) {
	ctx := context.Background()
	q, _ := openTest(t)
	ran := false
	q.Register("after", func(ctx context.Context, tc *TaskContext) (any, error) {
		ran = true
		results, err := tc.GroupResults(ctx)
		assert.Empty(t, results)
		return nil, err
	}, TaskOptions{})

	_, err := q.Enqueue(ctx, Chain(Group(), Task("after", nil)))
	require.NoError(t, err)
	require.NoError(t, q.Drain(ctx, drainOpts))
	assert.True(t, ran)
}

func TestRecordMember_DuplicateReportIsIgnored(t *testing.T) {
	ctx := context.Background()
	q, _ := openTest(t)

	h, err := q.Enqueue(ctx, Chain(Group(Task("x", nil), Task("x", nil)), Task("y", nil)))
	require.NoError(t, err)

	report := func(pos int) {
		require.NoError(t, q.inTx(ctx, "test", func(tx *sql.Tx) error {
			return q.recordMember(ctx, tx, h.GroupID, pos, fmt.Sprint("t", pos), `""`, false)
		}))
	}
	report(0)
	report(0)

	st, err := q.Inspect(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, StatePending, st.State, "one member finishing twice must not release the barrier")
	assert.Equal(t, 1, st.Group.Completed)

	report(1)
	report(1)
	st, err = q.Inspect(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, StateQueued, st.State)
	assert.Equal(t, 2, st.Group.Completed)
}

func TestFailedMember_ReportsErrorAsResult(t *testing.T) {
	ctx := context.Background()
	q, _ := openTest(t)
	q.Register("ok", func(ctx context.Context, tc *TaskContext) (any, error) { return "", nil }, TaskOptions{})
	q.Register("bad", func(ctx context.Context, tc *TaskContext) (any, error) {
		return nil, lserrors.New(lserrors.ErrCodeInvalidDocument, "bad payload", nil)
	}, TaskOptions{})
	var results []string
	q.Register("collect", func(ctx context.Context, tc *TaskContext) (any, error) {
		raws, err := tc.GroupResults(ctx)
		results = decodeStrings(t, raws)
		return nil, err
	}, TaskOptions{})

	h, err := q.Enqueue(ctx, Chain(Group(Task("ok", nil), Task("bad", nil)), Task("collect", nil)))
	require.NoError(t, err)
	require.NoError(t, q.Drain(ctx, drainOpts))

	require.Len(t, results, 2)
	assert.Empty(t, results[0])
	assert.Regexp(t, `^bad [0-9a-f-]{36} failed: .*bad payload`, results[1])

	st, err := q.Inspect(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, st.State)
}

func TestReplace_FollowsToContinuation(t *testing.T) {
	ctx := context.Background()
	q, _ := openTest(t)
	q.Register("start", func(ctx context.Context, tc *TaskContext) (any, error) {
		tc.Replace(Chain(Group(Task("leaf", 1), Task("leaf", 2)), Task("finish", nil)))
		return "ignored", nil
	}, TaskOptions{})
	q.Register("leaf", func(ctx context.Context, tc *TaskContext) (any, error) { return "", nil }, TaskOptions{})
	q.Register("finish", func(ctx context.Context, tc *TaskContext) (any, error) { return "done", nil }, TaskOptions{})

	h, err := q.Enqueue(ctx, Task("start", nil))
	require.NoError(t, err)

	// One step: the start task replaces itself
	ran, err := q.RunOnce(ctx, drainOpts)
	require.NoError(t, err)
	require.True(t, ran)
	st, err := q.Inspect(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, "finish", st.Name)
	assert.Equal(t, StatePending, st.State)
	assert.Equal(t, 1, st.Hops)
	require.NotNil(t, st.Group)
	assert.Equal(t, 2, st.Group.Size)

	require.NoError(t, q.Drain(ctx, drainOpts))
	st, err = q.Wait(ctx, h, time.Millisecond, nil)
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, st.State)
	assert.JSONEq(t, `"done"`, string(st.Result))
}

func TestReplace_ReclaimedTaskEnqueuesNothing(t *testing.T) {
	ctx := context.Background()
	q, _ := openTest(t)
	q.Register("start", func(ctx context.Context, tc *TaskContext) (any, error) {
		// Another worker takes the task over while this handler runs.
		_, err := q.db.ExecContext(ctx, `UPDATE tasks SET attempts = attempts + 1 WHERE id = ?`, tc.ID)
		assert.NoError(t, err)
		tc.Replace(Chain(Group(Task("leaf", 1)), Task("finish", nil)))
		return nil, nil
	}, TaskOptions{})
	q.Register("leaf", func(ctx context.Context, tc *TaskContext) (any, error) { return "", nil }, TaskOptions{})
	q.Register("finish", func(ctx context.Context, tc *TaskContext) (any, error) { return "done", nil }, TaskOptions{})

	h, err := q.Enqueue(ctx, Task("start", nil))
	require.NoError(t, err)

	ran, err := q.RunOnce(ctx, drainOpts)
	require.NoError(t, err)
	require.True(t, ran)

	// Then: the replacement graph was rolled back and the task stays with its new owner
	var n int
	require.NoError(t, q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE name IN ('leaf', 'finish')`).Scan(&n))
	assert.Zero(t, n)
	var groups int
	require.NoError(t, q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM task_groups`).Scan(&groups))
	assert.Zero(t, groups)

	st, err := q.Inspect(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, "start", st.Name)
	assert.Equal(t, StateRunning, st.State)
	assert.Zero(t, st.Hops)
}

func TestReplace_MemberKeepsBarrierCount(t *testing.T) {
	ctx := context.Background()
	q, _ := openTest(t)
	q.Register("plain", func(ctx context.Context, tc *TaskContext) (any, error) { return "p", nil }, TaskOptions{})
	q.Register("fanout", func(ctx context.Context, tc *TaskContext) (any, error) {
		tc.Replace(Group(Task("plain", nil), Task("plain", nil)))
		return nil, nil
	}, TaskOptions{})
	var raws []json.RawMessage
	q.Register("collect", func(ctx context.Context, tc *TaskContext) (any, error) {
		var err error
		raws, err = tc.GroupResults(ctx)
		return nil, err
	}, TaskOptions{})

	_, err := q.Enqueue(ctx, Chain(Group(Task("plain", nil), Task("fanout", nil)), Task("collect", nil)))
	require.NoError(t, err)
	require.NoError(t, q.Drain(ctx, drainOpts))

	// The replaced member's slot holds the join of its sub-group.
	require.Len(t, raws, 2)
	assert.JSONEq(t, `"p"`, string(raws[0]))
	assert.JSONEq(t, `["p","p"]`, string(raws[1]))
}

func TestReplace_BareGroupHandle(t *testing.T) {
	ctx := context.Background()
	q, _ := openTest(t)
	q.Register("start", func(ctx context.Context, tc *TaskContext) (any, error) {
		tc.Replace(Group(Task("leaf", nil), Task("leaf", nil), Task("leaf", nil)))
		return nil, nil
	}, TaskOptions{})
	q.Register("leaf", func(ctx context.Context, tc *TaskContext) (any, error) { return nil, nil }, TaskOptions{})

	h, err := q.Enqueue(ctx, Task("start", nil))
	require.NoError(t, err)
	_, err = q.RunOnce(ctx, drainOpts)
	require.NoError(t, err)

	st, err := q.Inspect(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, StateRunning, st.State)
	require.NotNil(t, st.Group)
	assert.Equal(t, 3, st.Group.Size)
	assert.Equal(t, 0, st.Group.Completed)

	require.NoError(t, q.Drain(ctx, drainOpts))
	st, err = q.Inspect(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, st.State)
	assert.Equal(t, 3, st.Group.Completed)
}

func TestRetry_TransientWithBackoff(t *testing.T) {
	ctx := context.Background()
	q, clock := openTest(t)
	var calls atomic.Int32
	q.Register("flaky", func(ctx context.Context, tc *TaskContext) (any, error) {
		if calls.Add(1) < 3 {
			return nil, lserrors.Unavailable("engine down", nil)
		}
		return "ok", nil
	}, TaskOptions{})

	h, err := q.Enqueue(ctx, Task("flaky", nil))
	require.NoError(t, err)

	require.NoError(t, q.Drain(ctx, drainOpts))
	assert.Equal(t, int32(1), calls.Load(), "retry must wait for its backoff")

	clock.Advance(time.Second)
	require.NoError(t, q.Drain(ctx, drainOpts))
	assert.Equal(t, int32(2), calls.Load())

	clock.Advance(2 * time.Second)
	require.NoError(t, q.Drain(ctx, drainOpts))

	st, err := q.Inspect(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, st.State)
	assert.Equal(t, 3, st.Attempts)
}

func TestRetry_TransientExhausted(t *testing.T) {
	ctx := context.Background()
	q, clock := openTest(t)
	q.Register("down", func(ctx context.Context, tc *TaskContext) (any, error) {
		return nil, lserrors.Unavailable("engine down", nil)
	}, TaskOptions{})

	h, err := q.Enqueue(ctx, Task("down", nil))
	require.NoError(t, err)
	for range 5 {
		require.NoError(t, q.Drain(ctx, drainOpts))
		clock.Advance(time.Minute)
	}

	st, err := q.Inspect(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, st.State)
	assert.Equal(t, 3, st.Attempts)
	assert.Contains(t, st.Error, "engine down")
}

func TestRetry_NotFoundPolicy(t *testing.T) {
	ctx := context.Background()
	q, clock := openTest(t)
	var withPolicy, without atomic.Int32
	q.Register("partial", func(ctx context.Context, tc *TaskContext) (any, error) {
		withPolicy.Add(1)
		return nil, lserrors.NotFound("parent missing")
	}, TaskOptions{RetryNotFound: true})
	q.Register("bulk", func(ctx context.Context, tc *TaskContext) (any, error) {
		without.Add(1)
		return nil, lserrors.NotFound("parent missing")
	}, TaskOptions{})

	h1, err := q.Enqueue(ctx, Task("partial", nil))
	require.NoError(t, err)
	h2, err := q.Enqueue(ctx, Task("bulk", nil))
	require.NoError(t, err)

	for range 6 {
		require.NoError(t, q.Drain(ctx, drainOpts))
		clock.Advance(time.Second)
	}

	assert.Equal(t, int32(3), withPolicy.Load(), "initial attempt plus two not-found retries")
	assert.Equal(t, int32(1), without.Load())
	for _, h := range []Handle{h1, h2} {
		st, err := q.Inspect(ctx, h)
		require.NoError(t, err)
		assert.Equal(t, StateFailed, st.State)
	}
}

func TestFatalError_NotRetried(t *testing.T) {
	ctx := context.Background()
	q, clock := openTest(t)
	var calls atomic.Int32
	q.Register("fatal", func(ctx context.Context, tc *TaskContext) (any, error) {
		calls.Add(1)
		return nil, errors.New("plain failure")
	}, TaskOptions{RetryNotFound: true})

	h, err := q.Enqueue(ctx, Task("fatal", nil))
	require.NoError(t, err)
	require.NoError(t, q.Drain(ctx, drainOpts))
	clock.Advance(time.Hour)
	require.NoError(t, q.Drain(ctx, drainOpts))

	assert.Equal(t, int32(1), calls.Load())
	st, err := q.Inspect(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, st.State)
}

func TestPanic_FailsTask(t *testing.T) {
	ctx := context.Background()
	q, _ := openTest(t)
	q.Register("boom", func(ctx context.Context, tc *TaskContext) (any, error) {
		panic("kaboom")
	}, TaskOptions{})

	h, err := q.Enqueue(ctx, Task("boom", nil))
	require.NoError(t, err)
	require.NoError(t, q.Drain(ctx, drainOpts))

	st, err := q.Inspect(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, st.State)
	assert.Contains(t, st.Error, "kaboom")
}

func TestClaim_ReclaimsStaleRunningTask(t *testing.T) {
	ctx := context.Background()
	q, clock := openTest(t)
	q.Register("slow", func(ctx context.Context, tc *TaskContext) (any, error) { return nil, nil }, TaskOptions{})
	_, err := q.Enqueue(ctx, Task("slow", nil))
	require.NoError(t, err)

	// Given: a worker claimed the task and then vanished
	first, err := q.claim(ctx, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, first)

	none, err := q.claim(ctx, time.Minute)
	require.NoError(t, err)
	assert.Nil(t, none, "a fresh heartbeat keeps the task")

	// When: the visibility timeout passes
	clock.Advance(2 * time.Minute)
	again, err := q.claim(ctx, time.Minute)
	require.NoError(t, err)

	// Then: another worker takes it over
	require.NotNil(t, again)
	assert.Equal(t, first.id, again.id)
	assert.Equal(t, 2, again.attempts)
}

func TestClaim_SkipsUnregisteredNames(t *testing.T) {
	ctx := context.Background()
	q, _ := openTest(t)
	h, err := q.Enqueue(ctx, Task("elsewhere", nil))
	require.NoError(t, err)

	require.NoError(t, q.Drain(ctx, drainOpts))

	st, err := q.Inspect(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, StateQueued, st.State)
}

func TestRun_ConcurrentWorkers(t *testing.T) {
	q, err := Open(filepath.Join(t.TempDir(), "queue.db"), testOptions())
	require.NoError(t, err)
	defer func() { _ = q.Close() }()

	var done atomic.Int32
	q.Register("work", func(ctx context.Context, tc *TaskContext) (any, error) {
		done.Add(1)
		return nil, nil
	}, TaskOptions{})
	q.Register("finish", func(ctx context.Context, tc *TaskContext) (any, error) { return "all", nil }, TaskOptions{})

	var tasks []*TaskSig
	for i := range 20 {
		tasks = append(tasks, Task("work", i))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	h, err := q.Enqueue(ctx, Chain(Group(tasks...), Task("finish", nil)))
	require.NoError(t, err)

	runCtx, stop := context.WithCancel(ctx)
	runDone := make(chan error, 1)
	go func() { runDone <- q.Run(runCtx, WorkerOptions{Concurrency: 4, PollInterval: 5 * time.Millisecond}) }()

	st, err := q.Wait(ctx, h, 10*time.Millisecond, nil)
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, st.State)
	assert.Equal(t, int32(20), done.Load())

	stop()
	require.NoError(t, <-runDone)
}

func TestCountsAndPrune(t *testing.T) {
	ctx := context.Background()
	q, clock := openTest(t)
	q.Register("noop", func(ctx context.Context, tc *TaskContext) (any, error) { return nil, nil }, TaskOptions{})
	_, err := q.Enqueue(ctx, Task("noop", nil))
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, Task("unclaimed", nil))
	require.NoError(t, err)
	require.NoError(t, q.Drain(ctx, drainOpts))

	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[StateSucceeded])
	assert.Equal(t, 1, counts[StateQueued])

	clock.Advance(time.Hour)
	n, err := q.Prune(ctx, clock.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	counts, err = q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, counts[StateSucceeded])
	assert.Equal(t, 1, counts[StateQueued])
}
