package queue

import (
	"context"
	"encoding/json"
	"fmt"
)

// TaskContext gives a running handler its arguments and the graph
// operations available to it.
type TaskContext struct {
	ID      string
	Name    string
	Attempt int

	args     json.RawMessage
	groupID  string
	position int
	q        *Queue
	replace  Graph
}

// Bind decodes the task arguments into v.
func (tc *TaskContext) Bind(v any) error {
	if err := json.Unmarshal(tc.args, v); err != nil {
		return fmt.Errorf("decode arguments of %s: %w", tc.Name, err)
	}
	return nil
}

// Args returns the raw task arguments.
func (tc *TaskContext) Args() json.RawMessage {
	return tc.args
}

// Replace substitutes g for this task once the handler returns without
// error. The handler's own result is discarded. If this task is a group
// member, g's terminal task takes over its place in the group.
func (tc *TaskContext) Replace(g Graph) {
	tc.replace = g
}

// GroupResults returns the results of the group this continuation waited
// on, in member order. A member that failed contributes its error message
// as a JSON string.
func (tc *TaskContext) GroupResults(ctx context.Context) ([]json.RawMessage, error) {
	rows, err := tc.q.db.QueryContext(ctx, `
		SELECT r.result FROM group_results r
		JOIN task_groups g ON g.id = r.group_id
		WHERE g.continuation_id = ?
		ORDER BY r.position`, tc.ID)
	if err != nil {
		return nil, queueErr("group results", err)
	}
	defer func() { _ = rows.Close() }()

	var results []json.RawMessage
	for rows.Next() {
		var raw *string
		if err := rows.Scan(&raw); err != nil {
			return nil, queueErr("group results", err)
		}
		if raw == nil {
			results = append(results, json.RawMessage("null"))
			continue
		}
		results = append(results, json.RawMessage(*raw))
	}
	return results, queueErr("group results", rows.Err())
}

// joinHandler returns the results of its group as one list.
func joinHandler(ctx context.Context, tc *TaskContext) (any, error) {
	results, err := tc.GroupResults(ctx)
	if err != nil {
		return nil, err
	}
	if results == nil {
		results = []json.RawMessage{}
	}
	return results, nil
}
