package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/learnsearch/internal/domain"
	lserrors "github.com/Aman-CERP/learnsearch/internal/errors"
	"github.com/Aman-CERP/learnsearch/internal/index"
	"github.com/Aman-CERP/learnsearch/internal/output"
	"github.com/Aman-CERP/learnsearch/internal/queue"
	"github.com/Aman-CERP/learnsearch/internal/ui"
)

func newRecreateIndexCmd(a *app) *cobra.Command {
	var (
		all  bool
		wait bool
	)

	cmd := &cobra.Command{
		Use:   "recreate-index [types...]",
		Short: "Rebuild indices from scratch and switch aliases when done",
		Long: `Rebuild the index of each object type into a fresh backing index.

Readers keep seeing the current index until every chunk task succeeded; the
aliases are then switched in one step. If any chunk fails, the new backing
indices are deleted and the current ones stay untouched.

Object types: ` + typeList(domain.IndexedTypes),
		Example: `  # Rebuild everything and watch progress
  learnsearch recreate-index --all --wait

  # Rebuild courses and programs in the background
  learnsearch recreate-index course program`,
		Annotations: map[string]string{annotationVerbose: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && !all {
				return lserrors.ValidationError("specify object types or --all", nil)
			}
			types, err := parseTypes(args)
			if err != nil {
				return err
			}
			task, err := index.RecreateTask(types)
			if err != nil {
				return err
			}
			return a.submit(cmd, task, "recreate_index", wait)
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Rebuild every indexed object type")
	cmd.Flags().BoolVar(&wait, "wait", false, "Run a worker in this process and show progress until done")
	return cmd
}

func newUpdateIndexCmd(a *app) *cobra.Command {
	var (
		etlSource string
		wait      bool
	)

	cmd := &cobra.Command{
		Use:   "update-index [types...]",
		Short: "Bring the live indices in line with the store",
		Long: `Upsert every published record and remove every unpublished or blocklisted
one, writing directly to the live indices. Without types, every indexed type
and course content files are updated.

Object types: ` + typeList(slices.Concat(domain.IndexedTypes, []domain.ObjectType{domain.ContentFileType})),
		Example: `  # Update content files of OCW courses only
  learnsearch update-index course --etl-source ocw --wait`,
		Annotations: map[string]string{annotationVerbose: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			types, err := parseTypes(args)
			if err != nil {
				return err
			}
			task, err := index.UpdateTask(types, etlSource)
			if err != nil {
				return err
			}
			return a.submit(cmd, task, "update_index", wait)
		},
	}

	cmd.Flags().StringVar(&etlSource, "etl-source", "", "Limit content file updates to one ETL source")
	cmd.Flags().BoolVar(&wait, "wait", false, "Run a worker in this process and show progress until done")
	return cmd
}

func parseTypes(args []string) ([]domain.ObjectType, error) {
	types := make([]domain.ObjectType, 0, len(args))
	for _, arg := range args {
		ot, err := domain.ParseObjectType(arg)
		if err != nil {
			return nil, lserrors.Wrap(lserrors.ErrCodeUnknownObjectType, err)
		}
		types = append(types, ot)
	}
	return types, nil
}

func typeList(types []domain.ObjectType) string {
	names := make([]string, len(types))
	for i, ot := range types {
		names[i] = string(ot)
	}
	return strings.Join(names, ", ")
}

// submit enqueues task. With wait it serves the queue in-process and
// follows the workflow until it ends.
func (a *app) submit(cmd *cobra.Command, task *queue.TaskSig, workflow string, wait bool) error {
	if !wait {
		if err := a.enqueueOne(cmd, task); err != nil {
			return err
		}
		output.New(cmd.OutOrStdout()).Status("", "Run 'learnsearch worker' to process it.")
		return nil
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := a.openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	h, err := e.queue.Enqueue(ctx, task)
	if err != nil {
		return err
	}
	return follow(ctx, cmd, e, h, workflow, a.noColor)
}

func follow(ctx context.Context, cmd *cobra.Command, e *env, h queue.Handle, workflow string, noColor bool) error {
	workerCtx, cancelWorker := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(workerCtx)
	g.Go(func() error {
		return e.queue.Run(gctx, workerOptions(e.cfg))
	})

	r := ui.NewRenderer(ui.NewConfig(cmd.OutOrStdout(),
		ui.WithNoColor(noColor),
		ui.WithTitle("learnsearch "+workflow)))
	if err := r.Start(ctx); err != nil {
		cancelWorker()
		_ = g.Wait()
		return err
	}
	f := ui.NewFollower(r, workflow)
	st, waitErr := e.queue.Wait(ctx, h, e.cfg.Queue.PollInterval, f.Observe)
	stats := f.Finish(st, waitErr)
	_ = r.Stop()

	cancelWorker()
	if err := g.Wait(); err != nil {
		return err
	}
	if !stats.Succeeded {
		return lserrors.New(lserrors.ErrCodeTaskFailed, fmt.Sprintf("%s did not succeed", workflow), nil).
			WithDetail("task", st.TaskID).
			WithDetail("error", stats.Error)
	}
	return nil
}
