package queue

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

// Handle identifies an enqueued graph: its root task, or the group when the
// graph is a bare group.
type Handle struct {
	TaskID  string `json:"task_id,omitempty"`
	GroupID string `json:"group_id,omitempty"`
}

// membership places the terminal task of a graph in an enclosing group.
type membership struct {
	groupID  string
	position int
}

// Enqueue persists g. Every task of g becomes visible to workers atomically.
func (q *Queue) Enqueue(ctx context.Context, g Graph) (Handle, error) {
	var h Handle
	err := q.inTx(ctx, "enqueue", func(tx *sql.Tx) error {
		var err error
		h, err = q.insertGraph(ctx, tx, g, nil)
		return err
	})
	return h, err
}

// insertGraph writes g. When m is set, the graph's terminal task inherits
// the membership, and a bare group gets a join continuation to carry it.
func (q *Queue) insertGraph(ctx context.Context, tx *sql.Tx, g Graph, m *membership) (Handle, error) {
	switch g := g.(type) {
	case *TaskSig:
		id, err := q.insertTask(ctx, tx, g, StateQueued, m)
		return Handle{TaskID: id}, err
	case *GroupSig:
		if m != nil {
			return q.insertGraph(ctx, tx, Chain(g, Task(JoinTask, nil)), m)
		}
		gid, err := q.insertGroup(ctx, tx, g, "")
		return Handle{GroupID: gid}, err
	case *ChainSig:
		next, err := q.insertTask(ctx, tx, g.Next, StatePending, m)
		if err != nil {
			return Handle{}, err
		}
		gid, err := q.insertGroup(ctx, tx, g.Group, next)
		if err != nil {
			return Handle{}, err
		}
		if len(g.Group.Tasks) == 0 {
			if err := q.release(ctx, tx, next); err != nil {
				return Handle{}, err
			}
		}
		return Handle{TaskID: next, GroupID: gid}, nil
	case nil:
		return Handle{}, fmt.Errorf("nil graph")
	default:
		return Handle{}, fmt.Errorf("unsupported graph %T", g)
	}
}

func (q *Queue) insertTask(ctx context.Context, tx *sql.Tx, t *TaskSig, state State, m *membership) (string, error) {
	if t == nil || t.Name == "" {
		return "", fmt.Errorf("task has no name")
	}
	args, err := marshalJSON(t.Args)
	if err != nil {
		return "", fmt.Errorf("encode arguments of %s: %w", t.Name, err)
	}
	id := uuid.NewString()
	now := q.now().UnixNano()
	var (
		groupID  string
		position int
	)
	if m != nil {
		groupID, position = m.groupID, m.position
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO tasks (id, name, args, status, group_id, position, run_after, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, t.Name, args, string(state), groupID, position, now, now, now)
	return id, err
}

func (q *Queue) insertGroup(ctx context.Context, tx *sql.Tx, g *GroupSig, continuation string) (string, error) {
	if g == nil {
		return "", fmt.Errorf("nil group")
	}
	gid := uuid.NewString()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO task_groups (id, size, continuation_id, created_at) VALUES (?, ?, ?, ?)`,
		gid, len(g.Tasks), continuation, q.now().UnixNano()); err != nil {
		return "", err
	}
	for i, t := range g.Tasks {
		if _, err := q.insertTask(ctx, tx, t, StateQueued, &membership{groupID: gid, position: i}); err != nil {
			return "", err
		}
	}
	return gid, nil
}

// release moves a continuation from pending to queued. Only the first call
// has any effect.
func (q *Queue) release(ctx context.Context, tx *sql.Tx, taskID string) error {
	now := q.now().UnixNano()
	_, err := tx.ExecContext(ctx,
		`UPDATE tasks SET status = 'queued', run_after = ?, updated_at = ? WHERE id = ? AND status = 'pending'`,
		now, now, taskID)
	return err
}

// recordMember stores a finished member's result and, when it completes the
// group, releases the continuation. A second report for the same member is
// ignored, so the barrier fires exactly once.
func (q *Queue) recordMember(ctx context.Context, tx *sql.Tx, groupID string, position int, taskID, result string, failed bool) error {
	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO group_results (group_id, position, task_id, result, failed) VALUES (?, ?, ?, ?, ?)`,
		groupID, position, taskID, result, failed)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil || n == 0 {
		return err
	}

	failedInc := 0
	if failed {
		failedInc = 1
	}
	var (
		completed, size int
		continuation    string
	)
	err = tx.QueryRowContext(ctx, `
		UPDATE task_groups SET completed = completed + 1, failed = failed + ?
		WHERE id = ?
		RETURNING completed, size, continuation_id`,
		failedInc, groupID).Scan(&completed, &size, &continuation)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return err
	}
	if completed >= size && continuation != "" {
		return q.release(ctx, tx, continuation)
	}
	return nil
}
