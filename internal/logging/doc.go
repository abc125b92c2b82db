// Package logging configures structured slog output for learnsearch.
// Logs are JSON lines written to stderr and, when a file is configured,
// to a size-rotated log file that `learnsearch logs` can tail and filter.
package logging
