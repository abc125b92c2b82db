package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/learnsearch/internal/domain"
	lserrors "github.com/Aman-CERP/learnsearch/internal/errors"
	"github.com/Aman-CERP/learnsearch/internal/index"
	"github.com/Aman-CERP/learnsearch/internal/output"
	"github.com/Aman-CERP/learnsearch/internal/queue"
)

func newUpsertCmd(a *app) *cobra.Command {
	var now bool

	cmd := &cobra.Command{
		Use:   "upsert <type> <id>",
		Short: "Write one record to every active index of its type",
		Long: `Write the current state of one learning resource, content file, or saved
query. Unpublished records, and blocklisted courses, are removed instead.

The record must already be indexed unless indexing.doc_as_upsert is set;
otherwise the upsert fails with ERR_206 and a queued upsert retries a bounded
number of times in case a concurrent write is creating it.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ot, id, err := parseItem(args[0], args[1])
			if err != nil {
				return err
			}
			if !now {
				task, err := index.UpsertTask(ot, id)
				if err != nil {
					return err
				}
				return a.enqueueOne(cmd, task)
			}

			e, err := a.openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			switch {
			case ot == domain.ContentFileType:
				err = e.svc.UpsertContentFile(cmd.Context(), id)
			case ot == domain.PercolateType:
				err = e.svc.UpsertPercolateQuery(cmd.Context(), id)
			default:
				err = e.svc.UpsertLearningResource(cmd.Context(), id)
			}
			if err != nil {
				return err
			}
			output.NewWithColor(cmd.OutOrStdout(), !a.noColor).Successf("Upserted %s %d", ot, id)
			return nil
		},
	}

	cmd.Flags().BoolVar(&now, "now", false, "Run in this process instead of enqueueing")
	return cmd
}

func newDeindexCmd(a *app) *cobra.Command {
	var (
		now     bool
		routing string
	)

	cmd := &cobra.Command{
		Use:   "deindex <type> <document-id>",
		Short: "Remove one document from every active index of its type",
		Long: `Remove one document by its index id. Content file documents live on the
shard of their course, so pass the course id with --routing.`,
		Example: `  learnsearch deindex course 42
  learnsearch deindex content_file cf_901 --routing 42`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ot, err := domain.ParseObjectType(args[0])
			if err != nil {
				return lserrors.Wrap(lserrors.ErrCodeUnknownObjectType, err)
			}
			docID := args[1]
			if !now {
				task, err := index.DeindexTask(ot, docID, routing)
				if err != nil {
					return err
				}
				return a.enqueueOne(cmd, task)
			}

			e, err := a.openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			if err := e.svc.DeindexDocument(cmd.Context(), docID, ot, routing); err != nil {
				return err
			}
			output.NewWithColor(cmd.OutOrStdout(), !a.noColor).Successf("Removed %s %s", ot, docID)
			return nil
		},
	}

	cmd.Flags().BoolVar(&now, "now", false, "Run in this process instead of enqueueing")
	cmd.Flags().StringVar(&routing, "routing", "", "Routing key (the course id of a content file)")
	return cmd
}

func newPercolateCmd(a *app) *cobra.Command {
	var now bool

	cmd := &cobra.Command{
		Use:   "percolate <resource-id>",
		Short: "Find the saved searches a learning resource matches",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if !now {
				return a.enqueueOne(cmd, index.PercolateTask(id))
			}

			e, err := a.openEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			matches, err := e.svc.PercolateMatchesForDocument(cmd.Context(), id)
			if err != nil {
				return err
			}
			out := output.NewWithColor(cmd.OutOrStdout(), !a.noColor)
			if len(matches) == 0 {
				out.Status("-", fmt.Sprintf("Resource %d matches no saved search", id))
				return nil
			}
			out.Successf("Resource %d matches %d saved search(es)", id, len(matches))
			for _, q := range matches {
				out.Field(strconv.FormatInt(q.ID, 10), q.SourceType)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&now, "now", false, "Run in this process instead of enqueueing")
	return cmd
}

func parseItem(typeArg, idArg string) (domain.ObjectType, int64, error) {
	ot, err := domain.ParseObjectType(typeArg)
	if err != nil {
		return "", 0, lserrors.Wrap(lserrors.ErrCodeUnknownObjectType, err)
	}
	id, err := parseID(idArg)
	return ot, id, err
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, lserrors.ValidationError(fmt.Sprintf("invalid id %q", s), err)
	}
	return id, nil
}

func (a *app) enqueueOne(cmd *cobra.Command, task *queue.TaskSig) error {
	q, err := a.openQueue()
	if err != nil {
		return err
	}
	defer func() { _ = q.Close() }()

	h, err := q.Enqueue(cmd.Context(), task)
	if err != nil {
		return err
	}
	out := output.NewWithColor(cmd.OutOrStdout(), !a.noColor)
	out.Successf("Enqueued %s", task.Name)
	out.Field("task", h.TaskID)
	return nil
}
