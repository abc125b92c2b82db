package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Aman-CERP/learnsearch/internal/blocklist"
	"github.com/Aman-CERP/learnsearch/internal/config"
	"github.com/Aman-CERP/learnsearch/internal/engine"
	lserrors "github.com/Aman-CERP/learnsearch/internal/errors"
	"github.com/Aman-CERP/learnsearch/internal/index"
	"github.com/Aman-CERP/learnsearch/internal/queue"
	"github.com/Aman-CERP/learnsearch/internal/store"
)

// env is everything a worker process owns.
type env struct {
	cfg       *config.Config
	store     *store.SQLiteStore
	engine    *engine.Engine
	queue     *queue.Queue
	blocklist *blocklist.Blocklist
	svc       *index.Service
}

func queueOptions(cfg *config.Config) queue.Options {
	return queue.Options{
		Retry: lserrors.RetryConfig{
			MaxRetries:   cfg.Queue.MaxRetries,
			InitialDelay: cfg.Queue.RetryDelay,
			MaxDelay:     cfg.Queue.RetryMaxWait,
			Multiplier:   2.0,
			Jitter:       true,
		},
		NotFoundRetries: cfg.Indexing.NotFoundRetries,
		NotFoundDelay:   cfg.Indexing.NotFoundDelay,
		NotFoundBackoff: cfg.Indexing.NotFoundBackoff,
		RateLimit:       cfg.Queue.RateLimit,
	}
}

func workerOptions(cfg *config.Config) queue.WorkerOptions {
	return queue.WorkerOptions{
		Concurrency:       cfg.Queue.Concurrency,
		PollInterval:      cfg.Queue.PollInterval,
		VisibilityTimeout: cfg.Queue.VisibilityTimeout,
	}
}

func engineConfig(cfg *config.Config) engine.Config {
	return engine.Config{
		Root:               cfg.Engine.IndexDir,
		ShardCount:         cfg.Engine.ShardCount,
		MaxRequestSize:     cfg.Engine.MaxRequestSize,
		DefaultTimeout:     cfg.Engine.DefaultTimeout,
		PercolateCacheSize: cfg.Percolate.CacheSize,
	}
}

// openQueue opens only the queue, which is all enqueueing needs. Any
// number of processes may hold it.
func (a *app) openQueue() (*queue.Queue, error) {
	return queue.Open(a.cfg.Queue.Path, queueOptions(a.cfg))
}

// openEnv opens the store, the engine, the queue, and the blocklist, and
// registers every task handler. The engine directory is exclusive, so a
// second worker fails with ERR_207.
func (a *app) openEnv(ctx context.Context) (_ *env, err error) {
	e := &env{cfg: a.cfg}
	defer func() {
		if err != nil {
			e.close()
		}
	}()

	if e.store, err = store.Open(a.cfg.Store.Path, store.Options{
		Driver:  a.cfg.Store.Driver,
		CacheMB: a.cfg.Store.CacheMB,
	}); err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if e.engine, err = engine.Open(ctx, engineConfig(a.cfg)); err != nil {
		return nil, err
	}
	if e.queue, err = a.openQueue(); err != nil {
		return nil, err
	}

	e.blocklist = blocklist.New()
	if path := a.cfg.Blocklist.Path; path != "" {
		if e.blocklist, err = blocklist.Load(path); err != nil {
			return nil, err
		}
		slog.Info("blocklist_loaded", slog.String("path", path), slog.Int("courses", e.blocklist.Len()))
	}

	if e.svc, err = index.NewService(index.Dependencies{
		Store:     e.store,
		Engine:    e.engine,
		Queue:     e.queue,
		Blocklist: e.blocklist,
		Indexing:  a.cfg.Indexing,
	}); err != nil {
		return nil, err
	}
	e.svc.Register(e.queue)
	return e, nil
}

func (e *env) close() {
	var errs []error
	if e.queue != nil {
		errs = append(errs, e.queue.Close())
	}
	if e.engine != nil {
		errs = append(errs, e.engine.Close())
	}
	if e.store != nil {
		errs = append(errs, e.store.Close())
	}
	if err := errors.Join(errs...); err != nil {
		slog.Warn("close_failed", slog.String("error", err.Error()))
	}
}
