package ui

import (
	"sync"
	"time"
)

// ProgressTracker accumulates progress for the current stage.
// It is safe for concurrent use.
type ProgressTracker struct {
	mu         sync.RWMutex
	now        func() time.Time
	stage      Stage
	current    int
	total      int
	task       string
	started    time.Time
	stageStart time.Time
	errors     []ErrorEvent
	warnings   []ErrorEvent

	lastETA time.Duration

	// chunk throughput, sampled at most every rateWindow
	lastCurrent int
	lastSample  time.Time
	rate        float64
	avgRate     float64
	samples     int
}

// ProgressStats is a snapshot of the tracker.
type ProgressStats struct {
	Stage      Stage
	Current    int
	Total      int
	Progress   float64
	ETA        time.Duration
	Elapsed    time.Duration
	Task       string
	ErrorCount int
	WarnCount  int
	// Rate and AvgRate are finished chunks per second.
	Rate    float64
	AvgRate float64
}

const (
	rateWindow         = 500 * time.Millisecond
	etaSmoothingFactor = 0.3
	rateSmoothing      = 0.2
)

// NewProgressTracker creates a tracker in the queued stage.
func NewProgressTracker() *ProgressTracker {
	return newProgressTracker(time.Now)
}

func newProgressTracker(now func() time.Time) *ProgressTracker {
	t := now()
	return &ProgressTracker{
		now:        now,
		stage:      StageQueued,
		started:    t,
		stageStart: t,
		lastSample: t,
	}
}

// SetStage moves to stage and resets the per-stage counters.
func (p *ProgressTracker) SetStage(stage Stage, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	t := p.now()
	p.stage = stage
	p.total = total
	p.current = 0
	p.task = ""
	p.stageStart = t
	p.lastETA = 0
	p.lastCurrent = 0
	p.lastSample = t
	p.rate = 0
	p.avgRate = 0
	p.samples = 0
}

// Update records the finished count within the current stage. Total can
// grow while a stage runs; a smaller value is ignored.
func (p *ProgressTracker) Update(current, total int, task string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current = current
	if total > p.total {
		p.total = total
	}
	if task != "" {
		p.task = task
	}

	t := p.now()
	elapsed := t.Sub(p.lastSample)
	if elapsed < rateWindow {
		return
	}
	if delta := current - p.lastCurrent; delta > 0 {
		rate := float64(delta) / elapsed.Seconds()
		p.rate = rate
		p.samples++
		if p.samples == 1 {
			p.avgRate = rate
		} else {
			p.avgRate = rateSmoothing*rate + (1-rateSmoothing)*p.avgRate
		}
	} else {
		p.rate = 0
	}
	p.lastCurrent = current
	p.lastSample = t
}

// AddError records an error or warning.
func (p *ProgressTracker) AddError(event ErrorEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if event.IsWarn {
		p.warnings = append(p.warnings, event)
	} else {
		p.errors = append(p.errors, event)
	}
}

// Stats returns a snapshot. It takes the write lock because the ETA is
// smoothed across calls.
func (p *ProgressTracker) Stats() ProgressStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return ProgressStats{
		Stage:      p.stage,
		Current:    p.current,
		Total:      p.total,
		Progress:   p.fraction(),
		ETA:        p.eta(),
		Elapsed:    p.now().Sub(p.started),
		Task:       p.task,
		ErrorCount: len(p.errors),
		WarnCount:  len(p.warnings),
		Rate:       p.rate,
		AvgRate:    p.avgRate,
	}
}

// Progress returns the finished fraction of the current stage.
func (p *ProgressTracker) Progress() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.fraction()
}

func (p *ProgressTracker) fraction() float64 {
	if p.total == 0 {
		return 0
	}
	return min(float64(p.current)/float64(p.total), 1)
}

// eta must be called with the write lock held.
func (p *ProgressTracker) eta() time.Duration {
	f := p.fraction()
	if f <= 0 || f >= 1 {
		return 0
	}
	elapsed := p.now().Sub(p.stageStart)
	remaining := time.Duration(float64(elapsed)/f) - elapsed
	if remaining <= 0 {
		return 0
	}
	if p.lastETA == 0 {
		p.lastETA = remaining
		return remaining
	}
	p.lastETA = time.Duration(etaSmoothingFactor*float64(remaining) + (1-etaSmoothingFactor)*float64(p.lastETA))
	return p.lastETA
}

// Errors returns the recorded errors.
func (p *ProgressTracker) Errors() []ErrorEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]ErrorEvent(nil), p.errors...)
}

// Warnings returns the recorded warnings.
func (p *ProgressTracker) Warnings() []ErrorEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]ErrorEvent(nil), p.warnings...)
}
