package ui

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Aman-CERP/learnsearch/internal/queue"
)

// EventFromStatus maps a queue status onto a workflow stage. Entry tasks
// are named start_* and the continuation promoting results finish_*; a
// pending continuation is still waiting on its chunk group.
func EventFromStatus(st queue.Status) ProgressEvent {
	ev := ProgressEvent{Task: st.Name}
	if st.Group != nil {
		ev.Current = st.Group.Completed
		ev.Total = st.Group.Size
	}

	switch {
	case st.State.Terminal():
		ev.Stage = StageComplete
		ev.Message = string(st.State)
	case strings.HasPrefix(st.Name, "finish_") && st.State != queue.StatePending:
		ev.Stage = StageFinishing
		ev.Message = "switching indices"
	case st.Group != nil:
		ev.Stage = StageIndexing
		ev.Message = "chunks"
	case st.State == queue.StateQueued && st.Hops == 0:
		ev.Stage = StageQueued
		ev.Message = "waiting for a worker"
	default:
		ev.Stage = StageCreating
		ev.Message = "planning " + st.Name
		if st.Attempts > 1 {
			ev.Message = fmt.Sprintf("%s (attempt %d)", ev.Message, st.Attempts)
		}
	}
	return ev
}

// Follower feeds queue statuses to a Renderer. Observe fits as the
// progress callback of queue.Wait.
type Follower struct {
	mu       sync.Mutex
	r        Renderer
	workflow string
	start    time.Time
	now      func() time.Time
	group    *queue.GroupProgress
	failed   int
}

// NewFollower creates a Follower for the named workflow.
func NewFollower(r Renderer, workflow string) *Follower {
	return &Follower{r: r, workflow: workflow, start: time.Now(), now: time.Now}
}

// Observe forwards st and reports newly failed chunks as warnings.
func (f *Follower) Observe(st queue.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if st.Group != nil {
		f.group = st.Group
	}
	if st.Group != nil && st.Group.Failed > f.failed {
		n := st.Group.Failed - f.failed
		f.failed = st.Group.Failed
		f.r.AddError(ErrorEvent{
			Task:   st.Name,
			Err:    fmt.Errorf("%d chunk task(s) failed", n),
			IsWarn: true,
		})
	}
	if !st.State.Terminal() {
		f.r.UpdateProgress(EventFromStatus(st))
	}
}

// Finish reports the outcome of the wait and returns the summary shown.
func (f *Follower) Finish(st queue.Status, waitErr error) CompletionStats {
	f.mu.Lock()
	defer f.mu.Unlock()

	stats := CompletionStats{
		Workflow:  f.workflow,
		Succeeded: waitErr == nil && st.State == queue.StateSucceeded,
		Duration:  f.now().Sub(f.start),
		Error:     st.Error,
	}
	// The terminal status of a chain no longer carries its group.
	group := st.Group
	if group == nil {
		group = f.group
	}
	if group != nil {
		stats.Chunks = group.Size
		stats.Failed = max(group.Failed, f.failed)
	}
	if waitErr != nil {
		stats.Error = waitErr.Error()
	}
	f.r.Complete(stats)
	return stats
}
