package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/learnsearch/internal/engine"
	"github.com/Aman-CERP/learnsearch/internal/output"
)

func newGCCmd(a *app) *cobra.Command {
	var keep time.Duration

	cmd := &cobra.Command{
		Use:   "gc",
		Short: "Delete orphaned backing indices and prune finished tasks",
		Long: `Delete every backing index that neither the current nor the reindexing alias
points at, then drop finished tasks older than --keep from the queue.

Stop the worker first: gc needs the engine directory.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			out := output.NewWithColor(cmd.OutOrStdout(), !a.noColor)

			e, err := engine.Open(ctx, engineConfig(a.cfg))
			if err != nil {
				return err
			}
			deleted, err := e.DeleteOrphanedIndices(ctx)
			_ = e.Close()
			if err != nil {
				return err
			}
			out.Successf("Deleted %d orphaned backing index(es)", len(deleted))
			for _, name := range deleted {
				out.Status("", name)
			}

			q, err := a.openQueue()
			if err != nil {
				return err
			}
			defer func() { _ = q.Close() }()
			n, err := q.Prune(ctx, time.Now().Add(-keep))
			if err != nil {
				return err
			}
			out.Successf("Pruned %d finished task(s) older than %s", n, keep)
			return nil
		},
	}

	cmd.Flags().DurationVar(&keep, "keep", 7*24*time.Hour, "Keep finished tasks newer than this")
	return cmd
}
