// Package output formats the short status lines printed by CLI commands.
package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Writer prints status lines, colored unless disabled.
type Writer struct {
	out     io.Writer
	ok      lipgloss.Style
	warn    lipgloss.Style
	fail    lipgloss.Style
	label   lipgloss.Style
	noColor bool
}

// New creates a Writer without color.
func New(out io.Writer) *Writer {
	return NewWithColor(out, false)
}

// NewWithColor creates a Writer that colors its markers when color is true.
func NewWithColor(out io.Writer, color bool) *Writer {
	w := &Writer{out: out, noColor: !color}
	if color {
		w.ok = lipgloss.NewStyle().Foreground(lipgloss.Color("78"))
		w.warn = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
		w.fail = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
		w.label = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	}
	return w
}

// Status prints msg after marker, or indented when marker is empty.
// Write errors are ignored.
func (w *Writer) Status(marker, msg string) {
	if marker == "" {
		_, _ = fmt.Fprintf(w.out, "  %s\n", msg)
		return
	}
	_, _ = fmt.Fprintf(w.out, "%s %s\n", marker, msg)
}

// Statusf prints a formatted status line.
func (w *Writer) Statusf(marker, format string, args ...any) {
	w.Status(marker, fmt.Sprintf(format, args...))
}

// Success prints msg with a check mark.
func (w *Writer) Success(msg string) {
	w.Status(w.render(w.ok, "✓"), msg)
}

// Successf prints a formatted success line.
func (w *Writer) Successf(format string, args ...any) {
	w.Success(fmt.Sprintf(format, args...))
}

// Warning prints msg with a warning sign.
func (w *Writer) Warning(msg string) {
	w.Status(w.render(w.warn, "!"), msg)
}

// Warningf prints a formatted warning line.
func (w *Writer) Warningf(format string, args ...any) {
	w.Warning(fmt.Sprintf(format, args...))
}

// Error prints msg with a cross.
func (w *Writer) Error(msg string) {
	w.Status(w.render(w.fail, "✗"), msg)
}

// Errorf prints a formatted error line.
func (w *Writer) Errorf(format string, args ...any) {
	w.Error(fmt.Sprintf(format, args...))
}

// Field prints an indented "label: value" line.
func (w *Writer) Field(label string, value any) {
	_, _ = fmt.Fprintf(w.out, "  %s %v\n", w.render(w.label, label+":"), value)
}

// Block prints content indented, framed by blank lines.
func (w *Writer) Block(content string) {
	_, _ = fmt.Fprintln(w.out)
	for _, line := range strings.Split(strings.TrimRight(content, "\n"), "\n") {
		_, _ = fmt.Fprintf(w.out, "  %s\n", line)
	}
	_, _ = fmt.Fprintln(w.out)
}

// Newline prints an empty line.
func (w *Writer) Newline() {
	_, _ = fmt.Fprintln(w.out)
}

func (w *Writer) render(s lipgloss.Style, text string) string {
	if w.noColor {
		return text
	}
	return s.Render(text)
}
