package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/learnsearch/internal/blocklist"
	"github.com/Aman-CERP/learnsearch/internal/schedule"
)

func newWorkerCmd(a *app) *cobra.Command {
	var concurrency int

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run queued indexing tasks until interrupted",
		Long: `Serve the task queue with a pool of concurrent workers.

The worker owns the engine directory; a second worker on the same directory
refuses to start. With schedule.update_index set, an incremental update of
every type is enqueued on that cron schedule. With blocklist.watch set, edits
to the blocklist file take effect without a restart.`,
		Annotations: map[string]string{annotationVerbose: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			if concurrency > 0 {
				a.cfg.Queue.Concurrency = concurrency
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWorker(ctx, a)
		},
	}

	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", 0, "Concurrent tasks (default queue.concurrency)")
	return cmd
}

func runWorker(ctx context.Context, a *app) error {
	if expr := a.cfg.Schedule.UpdateIndex; expr != "" {
		if err := schedule.Validate(expr); err != nil {
			return err
		}
	}

	e, err := a.openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return e.queue.Run(gctx, workerOptions(a.cfg))
	})

	if expr := a.cfg.Schedule.UpdateIndex; expr != "" {
		g.Go(func() error {
			return schedule.Run(gctx, schedule.Job{
				Name: "update_index",
				Expr: expr,
				Run: func(ctx context.Context) error {
					h, err := e.svc.StartUpdateIndex(ctx, nil, "")
					if err != nil {
						return err
					}
					slog.Info("update_index_enqueued", slog.String("task_id", h.TaskID))
					return nil
				},
			})
		})
		slog.Info("schedule_enabled", slog.String("job", "update_index"), slog.String("cron", expr))
	}

	if a.cfg.Blocklist.Path != "" && a.cfg.Blocklist.Watch {
		g.Go(func() error {
			return e.blocklist.Watch(gctx, blocklist.WatchOptions{})
		})
	}

	return g.Wait()
}
