package blocklist

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces the burst of events editors emit on save.
const DefaultDebounce = 100 * time.Millisecond

// WatchOptions configures Watch.
type WatchOptions struct {
	Debounce time.Duration
	// OnReload is called after every reload attempt with its error.
	OnReload func(err error)
}

// Watch reloads the blocklist whenever its file is written, created, or
// renamed into place. It watches the parent directory so atomic saves are
// seen. Watch blocks until ctx is done.
func (b *Blocklist) Watch(ctx context.Context, opts WatchOptions) error {
	if b.path == "" {
		<-ctx.Done()
		return nil
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create blocklist watcher: %w", err)
	}
	defer func() { _ = w.Close() }()

	dir := filepath.Dir(b.path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	name := filepath.Clean(b.path)

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	reload := func() {
		err := b.Reload()
		if err != nil {
			slog.Warn("blocklist_reload_failed", slog.String("path", b.path), slog.String("error", err.Error()))
		} else {
			slog.Info("blocklist_reloaded", slog.String("path", b.path), slog.Int("count", b.Len()))
		}
		if opts.OnReload != nil {
			opts.OnReload(err)
		}
	}
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(opts.Debounce, reload)
			mu.Unlock()
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			slog.Warn("blocklist_watch_error", slog.String("error", err.Error()))
		}
	}
}
