package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
)

// TypeStatus describes the indices behind one object type.
type TypeStatus struct {
	ObjectType string `json:"object_type"`
	Current    string `json:"current,omitempty"`
	Reindexing string `json:"reindexing,omitempty"`
	Documents  uint64 `json:"documents"`
}

// StatusInfo is the health summary printed by the status command.
type StatusInfo struct {
	EngineDir string       `json:"engine_dir"`
	Types     []TypeStatus `json:"types"`
	// Orphans are backing indices no alias points at.
	Orphans []string `json:"orphans,omitempty"`

	Queue     map[string]int `json:"queue"`
	QueueSize int64          `json:"queue_size"`
	StoreSize int64          `json:"store_size"`
}

// StatusRenderer displays StatusInfo.
type StatusRenderer struct {
	out    io.Writer
	styles Styles
}

// NewStatusRenderer creates a status renderer.
func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{out: out, styles: GetStyles(noColor)}
}

// Render writes info as an aligned text report.
func (r *StatusRenderer) Render(info StatusInfo) error {
	engineDir := info.EngineDir
	if engineDir == "" {
		engineDir = "(in memory)"
	}
	_, _ = fmt.Fprintf(r.out, "%s\n\n", r.styles.Header.Render("Search Engine: "+engineDir))

	_, _ = fmt.Fprintf(r.out, "  %-20s %-36s %-12s %s\n", "TYPE", "CURRENT", "DOCUMENTS", "REINDEXING")
	for _, t := range info.Types {
		current := t.Current
		if current == "" {
			current = r.styles.Warning.Render("-")
		}
		reindexing := "-"
		if t.Reindexing != "" {
			reindexing = r.styles.Active.Render(t.Reindexing)
		}
		_, _ = fmt.Fprintf(r.out, "  %-20s %-36s %-12d %s\n", t.ObjectType, current, t.Documents, reindexing)
	}
	if len(info.Orphans) > 0 {
		_, _ = fmt.Fprintf(r.out, "\n  %s %s\n", r.styles.Warning.Render("Orphaned:"), strings.Join(info.Orphans, ", "))
	}
	_, _ = fmt.Fprintln(r.out)

	_, _ = fmt.Fprintln(r.out, "  Queue:")
	states := make([]string, 0, len(info.Queue))
	for s := range info.Queue {
		states = append(states, s)
	}
	slices.Sort(states)
	if len(states) == 0 {
		_, _ = fmt.Fprintln(r.out, "    empty")
	}
	for _, s := range states {
		_, _ = fmt.Fprintf(r.out, "    %-10s %s\n", s+":", r.renderState(s, info.Queue[s]))
	}
	_, _ = fmt.Fprintln(r.out)

	_, _ = fmt.Fprintln(r.out, "  Storage:")
	_, _ = fmt.Fprintf(r.out, "    Store: %s\n", FormatBytes(info.StoreSize))
	_, _ = fmt.Fprintf(r.out, "    Queue: %s\n", FormatBytes(info.QueueSize))
	return nil
}

// RenderJSON outputs info as JSON.
func (r *StatusRenderer) RenderJSON(info StatusInfo) error {
	encoder := json.NewEncoder(r.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(info)
}

func (r *StatusRenderer) renderState(state string, n int) string {
	s := fmt.Sprintf("%d", n)
	switch {
	case n == 0:
		return s
	case state == "failed":
		return r.styles.Error.Render(s)
	case state == "running":
		return r.styles.Success.Render(s)
	default:
		return s
	}
}

// FormatBytes formats bytes to human-readable format.
func FormatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
