package engine

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// lockFileName guards an index root against a second engine process.
const lockFileName = ".lock"

// fileLock is a cross-process exclusive lock on <root>/.lock.
type fileLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

func newFileLock(root string) *fileLock {
	path := filepath.Join(root, lockFileName)
	return &fileLock{path: path, flock: flock.New(path)}
}

// TryLock attempts to acquire the lock without blocking.
// Returns false if another process holds it.
func (l *fileLock) TryLock() (bool, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return false, fmt.Errorf("failed to create lock directory: %w", err)
	}
	acquired, err := l.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	l.locked = acquired
	return acquired, nil
}

// Unlock releases the lock. Safe to call more than once.
func (l *fileLock) Unlock() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}
