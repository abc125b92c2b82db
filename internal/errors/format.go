package errors

import (
	"fmt"
	"log/slog"
	"strings"
)

// FormatForCLI formats an error for terminal output.
func FormatForCLI(err error) string {
	if err == nil {
		return ""
	}

	le, ok := As(err)
	if !ok {
		return fmt.Sprintf("Error: %s\n", err.Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Error: %s\n", le.Message))
	if le.Suggestion != "" {
		sb.WriteString(fmt.Sprintf("  Hint: %s\n", le.Suggestion))
	}
	sb.WriteString(fmt.Sprintf("  Code: %s\n", le.Code))
	return sb.String()
}

// LogAttrs returns slog attributes describing err, for use as
// slog.Warn("msg", errors.LogAttrs(err)...).
func LogAttrs(err error) []any {
	if err == nil {
		return nil
	}

	le, ok := As(err)
	if !ok {
		return []any{slog.String("error", err.Error())}
	}

	attrs := []any{
		slog.String("error", le.Error()),
		slog.String("error_code", le.Code),
		slog.String("category", string(le.Category)),
		slog.Bool("retryable", le.Retryable),
	}
	if le.Cause != nil {
		attrs = append(attrs, slog.String("cause", le.Cause.Error()))
	}
	for k, v := range le.Details {
		attrs = append(attrs, slog.String("detail_"+k, v))
	}
	return attrs
}
