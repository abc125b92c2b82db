package index

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Aman-CERP/learnsearch/internal/chunk"
	"github.com/Aman-CERP/learnsearch/internal/domain"
	"github.com/Aman-CERP/learnsearch/internal/engine"
	lserrors "github.com/Aman-CERP/learnsearch/internal/errors"
	"github.com/Aman-CERP/learnsearch/internal/queue"
	"github.com/Aman-CERP/learnsearch/internal/serialize"
	"github.com/Aman-CERP/learnsearch/internal/store"
)

// chunkOutcome turns a chunk's error into its task result. Transient
// errors go back to the scheduler for a retry; anything else is logged and
// reported as the result so sibling chunks keep running.
func chunkOutcome(task string, ot domain.ObjectType, ids []int64, n int, err error) (any, error) {
	if err == nil {
		return n, nil
	}
	if lserrors.Classify(err) == lserrors.KindTransient {
		return nil, err
	}
	attrs := []any{slog.String("task", task), slog.String("object_type", string(ot))}
	if len(ids) > 0 {
		attrs = append(attrs,
			slog.Int64("first_id", ids[0]),
			slog.Int64("last_id", ids[len(ids)-1]),
			slog.Int("count", len(ids)))
	}
	slog.Error("chunk_failed", append(attrs, lserrors.LogAttrs(err)...)...)
	return fmt.Sprintf("%s threw an error: %v", task, err), nil
}

func (s *Service) bulkIndexLearningResources(ctx context.Context, tc *queue.TaskContext) (any, error) {
	var args bulkArgs
	if err := tc.Bind(&args); err != nil {
		return nil, lserrors.ValidationError(err.Error(), err)
	}
	n, err := s.indexLearningResources(ctx, args)
	return chunkOutcome(tc.Name, args.ObjectType, args.IDs, n, err)
}

func (s *Service) indexLearningResources(ctx context.Context, args bulkArgs) (int, error) {
	target, err := parseTarget(args.Target)
	if err != nil {
		return 0, err
	}
	resources, err := s.store.LearningResources(ctx, args.IDs)
	if err != nil {
		return 0, err
	}
	return s.engine.IndexItems(ctx, serialize.Documents(resources, serialize.LearningResource), args.ObjectType, target)
}

func (s *Service) bulkDeindexLearningResources(ctx context.Context, tc *queue.TaskContext) (any, error) {
	var args bulkArgs
	if err := tc.Bind(&args); err != nil {
		return nil, lserrors.ValidationError(err.Error(), err)
	}
	n, err := s.deindexLearningResources(ctx, args.IDs, args.ObjectType)
	return chunkOutcome(tc.Name, args.ObjectType, args.IDs, n, err)
}

// deindexLearningResources removes resources from every active index. A
// removed course takes its content files with it.
func (s *Service) deindexLearningResources(ctx context.Context, ids []int64, ot domain.ObjectType) (int, error) {
	refs := make([]domain.DocRef, len(ids))
	for i, id := range ids {
		refs[i] = serialize.ResourceRef(id)
	}
	n, err := s.engine.DeindexItems(ctx, refs, ot, engine.AllIndexes)
	if err != nil || ot != domain.CourseType {
		return n, err
	}

	runs, err := s.store.RunsForResources(ctx, ids)
	if err != nil {
		return n, err
	}
	for i := range runs {
		if _, err := s.deindexRunFiles(ctx, &runs[i], store.AnyVisibility); err != nil {
			return n, err
		}
	}
	return n, nil
}

func (s *Service) bulkIndexPercolateQueries(ctx context.Context, tc *queue.TaskContext) (any, error) {
	var args bulkArgs
	if err := tc.Bind(&args); err != nil {
		return nil, lserrors.ValidationError(err.Error(), err)
	}
	n, err := s.indexPercolateQueries(ctx, args)
	return chunkOutcome(tc.Name, domain.PercolateType, args.IDs, n, err)
}

func (s *Service) indexPercolateQueries(ctx context.Context, args bulkArgs) (int, error) {
	target, err := parseTarget(args.Target)
	if err != nil {
		return 0, err
	}
	queries, err := s.store.PercolateQueries(ctx, args.IDs)
	if err != nil {
		return 0, err
	}
	slog.Info("indexing_percolate_queries", slog.Int("count", len(queries)))
	return s.engine.IndexItems(ctx, serialize.Documents(queries, serialize.PercolateQuery), domain.PercolateType, target)
}

func (s *Service) bulkDeindexPercolateQueries(ctx context.Context, tc *queue.TaskContext) (any, error) {
	var args bulkArgs
	if err := tc.Bind(&args); err != nil {
		return nil, lserrors.ValidationError(err.Error(), err)
	}
	refs := make([]domain.DocRef, len(args.IDs))
	for i, id := range args.IDs {
		refs[i] = serialize.PercolateRef(id)
	}
	n, err := s.engine.DeindexItems(ctx, refs, domain.PercolateType, engine.AllIndexes)
	return chunkOutcome(tc.Name, domain.PercolateType, args.IDs, n, err)
}

// indexCourseContentFiles replaces itself with one task per run of the
// given courses: published runs are indexed, unpublished runs cleared.
func (s *Service) indexCourseContentFiles(ctx context.Context, tc *queue.TaskContext) (any, error) {
	var args bulkArgs
	if err := tc.Bind(&args); err != nil {
		return nil, lserrors.ValidationError(err.Error(), err)
	}
	if _, err := parseTarget(args.Target); err != nil {
		return chunkOutcome(tc.Name, domain.ContentFileType, args.IDs, 0, err)
	}
	runs, err := s.store.RunsForResources(ctx, args.IDs)
	if err != nil {
		return chunkOutcome(tc.Name, domain.ContentFileType, args.IDs, 0, err)
	}
	if len(runs) == 0 {
		return 0, nil
	}

	tasks := make([]*queue.TaskSig, 0, len(runs))
	for _, run := range runs {
		if run.Published {
			tasks = append(tasks, queue.Task(TaskIndexRunContentFiles, runArgs{RunID: run.ID, Target: args.Target}))
		} else {
			tasks = append(tasks, queue.Task(TaskDeindexRunContentFiles, runArgs{RunID: run.ID}))
		}
	}
	tc.Replace(queue.Group(tasks...))
	return nil, nil
}

// indexRunContentFiles indexes the published files of a run, then removes
// its unpublished ones.
func (s *Service) indexRunContentFiles(ctx context.Context, tc *queue.TaskContext) (any, error) {
	var args runArgs
	if err := tc.Bind(&args); err != nil {
		return nil, lserrors.ValidationError(err.Error(), err)
	}
	n, err := s.indexRunFiles(ctx, args)
	return chunkOutcome(tc.Name, domain.ContentFileType, []int64{args.RunID}, n, err)
}

func (s *Service) indexRunFiles(ctx context.Context, args runArgs) (int, error) {
	target, err := parseTarget(args.Target)
	if err != nil {
		return 0, err
	}
	run, err := s.store.Run(ctx, args.RunID)
	if err != nil {
		return 0, err
	}
	ids, err := s.store.ContentFileIDs(ctx, run.ID, store.OnlyPublished)
	if err != nil {
		return 0, err
	}

	var indexed int
	for _, batch := range chunk.Chunks(ids, s.cfg.DocumentChunkSize) {
		files, err := s.store.ContentFiles(ctx, batch)
		if err != nil {
			return indexed, err
		}
		n, err := s.engine.IndexItems(ctx, serialize.Documents(files, serialize.ContentFile), domain.ContentFileType, target)
		indexed += n
		if err != nil {
			return indexed, err
		}
	}

	if _, err := s.deindexRunFiles(ctx, run, store.OnlyUnpublished); err != nil {
		return indexed, err
	}
	slog.Debug("run_content_files_indexed", slog.Int64("run_id", run.ID), slog.Int("files", indexed))
	return indexed, nil
}

func (s *Service) deindexRunContentFiles(ctx context.Context, tc *queue.TaskContext) (any, error) {
	var args runArgs
	if err := tc.Bind(&args); err != nil {
		return nil, lserrors.ValidationError(err.Error(), err)
	}
	visibility := store.AnyVisibility
	if args.UnpublishedOnly {
		visibility = store.OnlyUnpublished
	}
	n, err := s.deindexRun(ctx, args.RunID, visibility)
	return chunkOutcome(tc.Name, domain.ContentFileType, []int64{args.RunID}, n, err)
}

func (s *Service) deindexRun(ctx context.Context, runID int64, visibility store.Visibility) (int, error) {
	run, err := s.store.Run(ctx, runID)
	if err != nil {
		return 0, err
	}
	return s.deindexRunFiles(ctx, run, visibility)
}

// deindexRunFiles removes a run's files, routed under the run's resource,
// from every active course index.
func (s *Service) deindexRunFiles(ctx context.Context, run *domain.Run, visibility store.Visibility) (int, error) {
	ids, err := s.store.ContentFileIDs(ctx, run.ID, visibility)
	if err != nil {
		return 0, err
	}
	var removed int
	for _, batch := range chunk.Chunks(ids, s.cfg.DocumentChunkSize) {
		refs := make([]domain.DocRef, len(batch))
		for i, id := range batch {
			refs[i] = serialize.ContentFileRef(id, run.LearningResourceID)
		}
		n, err := s.engine.DeindexItems(ctx, refs, domain.ContentFileType, engine.AllIndexes)
		removed += n
		if err != nil {
			return removed, err
		}
	}
	return removed, nil
}
