package logging

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultLogDir returns the default log directory (~/.learnsearch/logs/).
// Falls back to temp directory if home directory is unavailable.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".learnsearch", "logs")
	}
	return filepath.Join(home, ".learnsearch", "logs")
}

// DefaultLogPath returns the default worker log path.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "learnsearch.log")
}

// FindLogFile resolves the log file to view: the explicit path if given,
// otherwise the default location.
func FindLogFile(explicit string) (string, error) {
	path := explicit
	if path == "" {
		path = DefaultLogPath()
	}
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("log file not found: %s (run a worker with logging.file set)", path)
	}
	return path, nil
}
