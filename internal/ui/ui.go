// Package ui renders the progress of indexing workflows in the terminal.
package ui

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
)

// Stage is a phase of an indexing workflow.
type Stage int

const (
	// StageQueued waits for a worker to pick up the entry task.
	StageQueued Stage = iota
	// StageCreating plans the work and builds backing indices.
	StageCreating
	// StageIndexing runs the chunk tasks.
	StageIndexing
	// StageFinishing promotes or discards the rebuilt indices.
	StageFinishing
	// StageComplete indicates the workflow ended.
	StageComplete
)

// String returns the human-readable stage name.
func (s Stage) String() string {
	switch s {
	case StageQueued:
		return "Queued"
	case StageCreating:
		return "Creating"
	case StageIndexing:
		return "Indexing"
	case StageFinishing:
		return "Finishing"
	case StageComplete:
		return "Complete"
	default:
		return "Unknown"
	}
}

// Icon returns the short stage tag for plain text output.
func (s Stage) Icon() string {
	switch s {
	case StageQueued:
		return "WAIT"
	case StageCreating:
		return "CREATE"
	case StageIndexing:
		return "INDEX"
	case StageFinishing:
		return "SWITCH"
	case StageComplete:
		return "DONE"
	default:
		return "???"
	}
}

// ProgressEvent is a progress update.
type ProgressEvent struct {
	Stage   Stage
	Current int
	Total   int
	// Task is the task currently representing the workflow.
	Task    string
	Message string
}

// ErrorEvent reports a failure seen while following a workflow.
type ErrorEvent struct {
	Task   string
	Err    error
	IsWarn bool
}

// CompletionStats summarizes a finished workflow.
type CompletionStats struct {
	Workflow  string
	Succeeded bool
	Chunks    int
	Failed    int
	Duration  time.Duration
	Error     string
}

// Renderer displays workflow progress.
type Renderer interface {
	// Start initializes the renderer.
	Start(ctx context.Context) error

	// UpdateProgress updates the progress display.
	UpdateProgress(event ProgressEvent)

	// AddError records an error or warning.
	AddError(event ErrorEvent)

	// Complete shows the summary.
	Complete(stats CompletionStats)

	// Stop stops the renderer and cleans up.
	Stop() error
}

// Config configures the renderer.
type Config struct {
	Output     io.Writer
	ForcePlain bool
	NoColor    bool
	// Title names the workflow in the TUI header.
	Title string
}

// ConfigOption modifies Config.
type ConfigOption func(*Config)

// WithForcePlain forces plain text output.
func WithForcePlain(force bool) ConfigOption {
	return func(c *Config) {
		c.ForcePlain = force
	}
}

// WithNoColor disables color output.
func WithNoColor(noColor bool) ConfigOption {
	return func(c *Config) {
		c.NoColor = noColor
	}
}

// WithTitle sets the header title.
func WithTitle(title string) ConfigOption {
	return func(c *Config) {
		c.Title = title
	}
}

// NewConfig creates a Config for output.
func NewConfig(output io.Writer, opts ...ConfigOption) Config {
	cfg := Config{Output: output}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// NewRenderer returns a TUI renderer for interactive terminals and a plain
// renderer for pipes, CI, or when plain output is forced.
func NewRenderer(cfg Config) Renderer {
	if cfg.ForcePlain || !IsTTY(cfg.Output) || DetectCI() {
		return NewPlainRenderer(cfg)
	}
	tui, err := NewTUIRenderer(cfg)
	if err != nil {
		return NewPlainRenderer(cfg)
	}
	return tui
}

// IsTTY checks if output is a terminal.
func IsTTY(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return false
}

// DetectNoColor checks if NO_COLOR is set.
func DetectNoColor() bool {
	_, exists := os.LookupEnv("NO_COLOR")
	return exists
}

// DetectCI checks if running in a CI environment.
func DetectCI() bool {
	for _, v := range []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "BUILDKITE"} {
		if _, exists := os.LookupEnv(v); exists {
			return true
		}
	}
	return false
}
