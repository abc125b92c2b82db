package ui

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/learnsearch/internal/queue"
)

type recordingRenderer struct {
	events []ProgressEvent
	errors []ErrorEvent
	stats  []CompletionStats
}

func (r *recordingRenderer) Start(context.Context) error     { return nil }
func (r *recordingRenderer) UpdateProgress(ev ProgressEvent) { r.events = append(r.events, ev) }
func (r *recordingRenderer) AddError(ev ErrorEvent)          { r.errors = append(r.errors, ev) }
func (r *recordingRenderer) Complete(stats CompletionStats)  { r.stats = append(r.stats, stats) }
func (r *recordingRenderer) Stop() error                     { return nil }

func TestEventFromStatus(t *testing.T) {
	group := &queue.GroupProgress{ID: "g", Size: 8, Completed: 3, Failed: 1}

	tests := []struct {
		name  string
		st    queue.Status
		stage Stage
		cur   int
		total int
	}{
		{"entry queued", queue.Status{Name: "start_recreate_index", State: queue.StateQueued}, StageQueued, 0, 0},
		{"entry running", queue.Status{Name: "start_recreate_index", State: queue.StateRunning}, StageCreating, 0, 0},
		{"finish waits on group", queue.Status{Name: "finish_recreate_index", State: queue.StatePending, Group: group, Hops: 1}, StageIndexing, 3, 8},
		{"finish running", queue.Status{Name: "finish_recreate_index", State: queue.StateRunning, Group: group, Hops: 1}, StageFinishing, 3, 8},
		{"bare group", queue.Status{Name: "start_update_index", State: queue.StateRunning, Group: group, Hops: 1}, StageIndexing, 3, 8},
		{"succeeded", queue.Status{Name: "finish_recreate_index", State: queue.StateSucceeded, Hops: 1}, StageComplete, 0, 0},
		{"failed", queue.Status{Name: "start_update_index", State: queue.StateFailed}, StageComplete, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := EventFromStatus(tt.st)
			assert.Equal(t, tt.stage, ev.Stage)
			assert.Equal(t, tt.cur, ev.Current)
			assert.Equal(t, tt.total, ev.Total)
			assert.Equal(t, tt.st.Name, ev.Task)
		})
	}
}

func TestEventFromStatus_RetriedEntryShowsAttempt(t *testing.T) {
	ev := EventFromStatus(queue.Status{Name: "start_recreate_index", State: queue.StateQueued, Attempts: 2, Hops: 0})
	assert.Equal(t, StageQueued, ev.Stage)

	ev = EventFromStatus(queue.Status{Name: "start_recreate_index", State: queue.StateRunning, Attempts: 2})
	assert.Equal(t, "planning start_recreate_index (attempt 2)", ev.Message)
}

func TestFollower_ReportsProgressAndFailures(t *testing.T) {
	r := &recordingRenderer{}
	f := NewFollower(r, "recreate_index")

	// When: the chunk group advances, one member failing along the way
	f.Observe(queue.Status{Name: "start_recreate_index", State: queue.StateRunning})
	f.Observe(queue.Status{Name: "finish_recreate_index", State: queue.StatePending, Hops: 1,
		Group: &queue.GroupProgress{Size: 4, Completed: 1}})
	f.Observe(queue.Status{Name: "finish_recreate_index", State: queue.StatePending, Hops: 1,
		Group: &queue.GroupProgress{Size: 4, Completed: 3, Failed: 1}})
	final := queue.Status{Name: "finish_recreate_index", State: queue.StateFailed, Hops: 1,
		Error: "[501] errors occurred during recreate_index"}
	f.Observe(final)
	stats := f.Finish(final, nil)

	// Then: terminal statuses are left to Complete
	require.Len(t, r.events, 3)
	assert.Equal(t, StageCreating, r.events[0].Stage)
	assert.Equal(t, StageIndexing, r.events[2].Stage)
	assert.Equal(t, 3, r.events[2].Current)

	require.Len(t, r.errors, 1)
	assert.True(t, r.errors[0].IsWarn)
	assert.EqualError(t, r.errors[0].Err, "1 chunk task(s) failed")

	// The summary uses the last group seen
	require.Len(t, r.stats, 1)
	assert.Equal(t, stats, r.stats[0])
	assert.False(t, stats.Succeeded)
	assert.Equal(t, "recreate_index", stats.Workflow)
	assert.Equal(t, 4, stats.Chunks)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, final.Error, stats.Error)
}

func TestFollower_WaitError(t *testing.T) {
	r := &recordingRenderer{}
	f := NewFollower(r, "update_index")

	stats := f.Finish(queue.Status{State: queue.StateRunning}, context.Canceled)

	assert.False(t, stats.Succeeded)
	assert.Equal(t, context.Canceled.Error(), stats.Error)
}

func TestFollower_Succeeded(t *testing.T) {
	r := &recordingRenderer{}
	f := NewFollower(r, "update_index")

	st := queue.Status{Name: "start_update_index", State: queue.StateSucceeded, Hops: 1,
		Group: &queue.GroupProgress{Size: 2, Completed: 2}}
	f.Observe(st)
	stats := f.Finish(st, nil)

	assert.True(t, stats.Succeeded)
	assert.Equal(t, 2, stats.Chunks)
	assert.Empty(t, r.errors)
}
