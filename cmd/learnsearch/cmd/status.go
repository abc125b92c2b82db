package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/learnsearch/internal/domain"
	"github.com/Aman-CERP/learnsearch/internal/engine"
	lserrors "github.com/Aman-CERP/learnsearch/internal/errors"
	"github.com/Aman-CERP/learnsearch/internal/output"
	"github.com/Aman-CERP/learnsearch/internal/ui"
)

func newStatusCmd(a *app) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show aliases, backing indices, and queue counts",
		Long: `Show which backing index each alias points at, documents per type,
orphaned backing indices, and the number of tasks in each state.

While a worker holds the engine directory only the queue is reported.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			info, engineLocked, err := collectStatus(cmd.Context(), a)
			if err != nil {
				return err
			}
			r := ui.NewStatusRenderer(cmd.OutOrStdout(), a.noColor)
			if jsonOutput {
				return r.RenderJSON(info)
			}
			if engineLocked {
				output.New(cmd.ErrOrStderr()).Warning("Engine directory is held by a running worker; index details omitted")
			}
			return r.Render(info)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func collectStatus(ctx context.Context, a *app) (ui.StatusInfo, bool, error) {
	info := ui.StatusInfo{
		EngineDir: a.cfg.Engine.IndexDir,
		Queue:     map[string]int{},
		StoreSize: fileSize(a.cfg.Store.Path),
		QueueSize: fileSize(a.cfg.Queue.Path),
	}

	q, err := a.openQueue()
	if err != nil {
		return info, false, err
	}
	defer func() { _ = q.Close() }()
	counts, err := q.Counts(ctx)
	if err != nil {
		return info, false, err
	}
	for state, n := range counts {
		info.Queue[string(state)] = n
	}

	e, err := engine.Open(ctx, engineConfig(a.cfg))
	if lserrors.GetCode(err) == lserrors.ErrCodeEngineLocked {
		return info, true, nil
	}
	if err != nil {
		return info, false, err
	}
	defer func() { _ = e.Close() }()

	indices, err := e.Indices()
	if err != nil {
		return info, false, err
	}
	docs := make(map[string]uint64)
	for _, idx := range indices {
		switch {
		case idx.Current:
			docs[idx.Name] = idx.Docs
		case !idx.Reindexing:
			info.Orphans = append(info.Orphans, idx.Name)
		}
	}
	for _, ot := range domain.IndexedTypes {
		current, reindexing := e.Aliases(ot)
		info.Types = append(info.Types, ui.TypeStatus{
			ObjectType: string(ot),
			Current:    current,
			Reindexing: reindexing,
			Documents:  docs[current],
		})
	}
	return info, false, nil
}

func fileSize(path string) int64 {
	if path == "" {
		return 0
	}
	fi, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return fi.Size()
}
