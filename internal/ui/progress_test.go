package ui

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestTracker() (*ProgressTracker, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	return newProgressTracker(clock.Now), clock
}

func TestProgressTracker_StartsQueued(t *testing.T) {
	p, _ := newTestTracker()

	stats := p.Stats()
	assert.Equal(t, StageQueued, stats.Stage)
	assert.Zero(t, stats.Progress)
	assert.Zero(t, stats.ETA)
}

func TestProgressTracker_ProgressAndETA(t *testing.T) {
	p, clock := newTestTracker()
	p.SetStage(StageIndexing, 10)

	// When: a quarter of the chunks finish in ten seconds
	clock.Advance(10 * time.Second)
	p.Update(5, 20, "bulk_index")

	stats := p.Stats()
	assert.Equal(t, 20, stats.Total, "total grows with the group")
	assert.InDelta(t, 0.25, stats.Progress, 1e-9)
	assert.Equal(t, 30*time.Second, stats.ETA)
	assert.Equal(t, "bulk_index", stats.Task)
	assert.InDelta(t, 0.5, stats.Rate, 1e-9)
}

func TestProgressTracker_ETASmoothing(t *testing.T) {
	p, clock := newTestTracker()
	p.SetStage(StageIndexing, 100)

	clock.Advance(10 * time.Second)
	p.Update(50, 0, "")
	first := p.Stats().ETA
	assert.Equal(t, 10*time.Second, first)

	// When: progress stalls the raw estimate jumps, the smoothed one lags
	clock.Advance(30 * time.Second)
	second := p.Stats().ETA
	assert.Equal(t, time.Duration(0.3*float64(40*time.Second)+0.7*float64(10*time.Second)), second)
}

func TestProgressTracker_ProgressCapped(t *testing.T) {
	p, _ := newTestTracker()
	p.SetStage(StageIndexing, 2)
	p.Update(3, 0, "")

	assert.Equal(t, 1.0, p.Progress())
	assert.Zero(t, p.Stats().ETA)
}

func TestProgressTracker_SetStageResets(t *testing.T) {
	p, clock := newTestTracker()
	p.SetStage(StageIndexing, 4)
	clock.Advance(time.Second)
	p.Update(2, 0, "bulk_index")

	p.SetStage(StageFinishing, 0)

	stats := p.Stats()
	assert.Equal(t, StageFinishing, stats.Stage)
	assert.Zero(t, stats.Current)
	assert.Zero(t, stats.Total)
	assert.Empty(t, stats.Task)
	assert.Zero(t, stats.Rate)
	assert.Equal(t, time.Second, stats.Elapsed)
}

func TestProgressTracker_Errors(t *testing.T) {
	p, _ := newTestTracker()

	p.AddError(ErrorEvent{Err: errors.New("a")})
	p.AddError(ErrorEvent{Err: errors.New("b"), IsWarn: true})
	p.AddError(ErrorEvent{Err: errors.New("c"), IsWarn: true})

	stats := p.Stats()
	assert.Equal(t, 1, stats.ErrorCount)
	assert.Equal(t, 2, stats.WarnCount)
	assert.Len(t, p.Errors(), 1)
	assert.Len(t, p.Warnings(), 2)
}

func TestProgressTracker_ConcurrentUpdates(t *testing.T) {
	p := NewProgressTracker()
	p.SetStage(StageIndexing, 1000)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				p.Update(n*100+j, 0, "")
				_ = p.Stats()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, StageIndexing, p.Stats().Stage)
}
