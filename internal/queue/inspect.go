package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	lserrors "github.com/Aman-CERP/learnsearch/internal/errors"
)

// GroupProgress counts the finished members of a group.
type GroupProgress struct {
	ID        string `json:"id"`
	Size      int    `json:"size"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
}

// Status is the observed state of a graph.
type Status struct {
	// TaskID and Name describe the task the handle currently resolves to,
	// after following replacements.
	TaskID   string          `json:"task_id,omitempty"`
	Name     string          `json:"name,omitempty"`
	State    State           `json:"state"`
	Attempts int             `json:"attempts,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
	Error    string          `json:"error,omitempty"`
	// Group is the group the task waits on, or the bare group the handle
	// resolves to.
	Group *GroupProgress `json:"group,omitempty"`
	// Hops counts the replacements followed.
	Hops int `json:"hops,omitempty"`
}

const maxReplaceHops = 64

// Inspect resolves h through replacements and reports where it stands.
func (q *Queue) Inspect(ctx context.Context, h Handle) (Status, error) {
	var st Status
	id := h.TaskID
	if id == "" {
		return q.groupStatus(ctx, h.GroupID, st)
	}

	for st.Hops = 0; st.Hops < maxReplaceHops; st.Hops++ {
		var (
			state, result               sql.NullString
			replacedBy, replacedByGroup string
		)
		err := q.db.QueryRowContext(ctx, `
			SELECT id, name, status, attempts, result, error, replaced_by, replaced_by_group
			FROM tasks WHERE id = ?`, id).
			Scan(&st.TaskID, &st.Name, &state, &st.Attempts, &result, &st.Error, &replacedBy, &replacedByGroup)
		if err == sql.ErrNoRows {
			return st, lserrors.New(lserrors.ErrCodeRecordNotFound, "task "+id+" not found", nil)
		}
		if err != nil {
			return st, queueErr("inspect", err)
		}
		st.State = State(state.String)
		st.Result = nil
		if result.Valid {
			st.Result = json.RawMessage(result.String)
		}

		if st.State != StateReplaced {
			if st.State == StatePending || st.State == StateQueued || st.State == StateRunning {
				gp, err := q.waitedGroup(ctx, id)
				if err != nil {
					return st, err
				}
				st.Group = gp
			}
			return st, nil
		}
		if replacedBy != "" {
			id = replacedBy
			continue
		}
		st.Hops++
		return q.groupStatus(ctx, replacedByGroup, st)
	}
	return st, lserrors.New(lserrors.ErrCodeTaskFailed, "task "+h.TaskID+" replaced too many times", nil)
}

func (q *Queue) groupStatus(ctx context.Context, groupID string, st Status) (Status, error) {
	gp, err := q.group(ctx, "id", groupID)
	if err != nil {
		return st, err
	}
	if gp == nil {
		return st, lserrors.New(lserrors.ErrCodeRecordNotFound, "group "+groupID+" not found", nil)
	}
	st.Group = gp
	st.State = StateRunning
	if gp.Completed >= gp.Size {
		st.State = StateSucceeded
	}
	return st, nil
}

func (q *Queue) waitedGroup(ctx context.Context, continuationID string) (*GroupProgress, error) {
	return q.group(ctx, "continuation_id", continuationID)
}

func (q *Queue) group(ctx context.Context, column, value string) (*GroupProgress, error) {
	var gp GroupProgress
	err := q.db.QueryRowContext(ctx,
		`SELECT id, size, completed, failed FROM task_groups WHERE `+column+` = ? LIMIT 1`, value).
		Scan(&gp.ID, &gp.Size, &gp.Completed, &gp.Failed)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, queueErr("inspect group", err)
	}
	return &gp, nil
}

// Wait polls Inspect until the graph reaches a terminal state or ctx ends.
// onProgress, when set, sees every observed status.
func (q *Queue) Wait(ctx context.Context, h Handle, poll time.Duration, onProgress func(Status)) (Status, error) {
	if poll <= 0 {
		poll = 250 * time.Millisecond
	}
	for {
		st, err := q.Inspect(ctx, h)
		if err != nil {
			return st, err
		}
		if onProgress != nil {
			onProgress(st)
		}
		if st.State.Terminal() {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-time.After(poll):
		}
	}
}

// Counts returns the number of tasks in each state.
func (q *Queue) Counts(ctx context.Context) (map[State]int, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, queueErr("counts", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[State]int)
	for rows.Next() {
		var (
			state string
			n     int
		)
		if err := rows.Scan(&state, &n); err != nil {
			return nil, queueErr("counts", err)
		}
		counts[State(state)] = n
	}
	return counts, queueErr("counts", rows.Err())
}
