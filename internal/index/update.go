package index

import (
	"context"
	"log/slog"
	"slices"

	"github.com/Aman-CERP/learnsearch/internal/chunk"
	"github.com/Aman-CERP/learnsearch/internal/domain"
	"github.com/Aman-CERP/learnsearch/internal/engine"
	lserrors "github.com/Aman-CERP/learnsearch/internal/errors"
	"github.com/Aman-CERP/learnsearch/internal/queue"
)

// startUpdateIndex replaces itself with a bare group of index and deindex
// chunks against the current index. There is no barrier: every chunk
// lands on its own.
func (s *Service) startUpdateIndex(ctx context.Context, tc *queue.TaskContext) (any, error) {
	var args updateArgs
	if err := tc.Bind(&args); err != nil {
		return nil, lserrors.ValidationError(err.Error(), err)
	}
	types, err := updateTypes(args.ObjectTypes)
	if err != nil {
		return nil, err
	}

	tasks, err := s.updateTasks(ctx, types, args.ETLSource)
	if err != nil {
		return nil, err
	}

	slog.Info("update_index_started",
		slog.Any("object_types", types),
		slog.String("etl_source", args.ETLSource),
		slog.Int("tasks", len(tasks)))
	tc.Replace(queue.Group(tasks...))
	return nil, nil
}

func (s *Service) updateTasks(ctx context.Context, types []domain.ObjectType, etlSource string) ([]*queue.TaskSig, error) {
	target := engine.CurrentIndex.String()
	var tasks []*queue.TaskSig

	if slices.Contains(types, domain.CourseType) {
		courseTasks, err := s.updateCourseTasks(ctx, etlSource, target)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, courseTasks...)
	}
	if slices.Contains(types, domain.CourseType) || slices.Contains(types, domain.ContentFileType) {
		fileTasks, err := s.updateContentFileTasks(ctx, etlSource, target)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, fileTasks...)
	}

	for _, ot := range types {
		switch {
		case ot == domain.PercolateType:
			ids, err := s.store.PercolateQueryIDs(ctx)
			if err != nil {
				return nil, err
			}
			for _, ids := range chunk.Chunks(ids, s.cfg.ChunkSize) {
				tasks = append(tasks, queue.Task(TaskBulkIndexPercolateQueries, bulkArgs{IDs: ids, Target: target}))
			}

		case ot == domain.CourseType || ot == domain.ContentFileType:
			// handled above

		default:
			refs, err := s.store.ResourceRefs(ctx, ot, etlSource)
			if err != nil {
				return nil, err
			}
			var upsert, remove []int64
			for _, ref := range refs {
				if ref.Published {
					upsert = append(upsert, ref.ID)
				} else {
					remove = append(remove, ref.ID)
				}
			}
			tasks = append(tasks, s.indexResourceTasks(ot, upsert, target)...)
			tasks = append(tasks, s.deindexResourceTasks(ot, remove)...)
		}
	}
	return tasks, nil
}

// updateCourseTasks upserts published, unblocked courses and removes
// unpublished or blocklisted ones.
func (s *Service) updateCourseTasks(ctx context.Context, etlSource, target string) ([]*queue.TaskSig, error) {
	refs, err := s.store.ResourceRefs(ctx, domain.CourseType, etlSource)
	if err != nil {
		return nil, err
	}
	var upsert, remove []int64
	for _, ref := range refs {
		if ref.Published && !s.blocklist.Contains(ref.ReadableID) {
			upsert = append(upsert, ref.ID)
		} else {
			remove = append(remove, ref.ID)
		}
	}
	tasks := s.indexResourceTasks(domain.CourseType, upsert, target)
	return append(tasks, s.deindexResourceTasks(domain.CourseType, remove)...), nil
}

// updateContentFileTasks reindexes the files of published, unblocked
// courses from the ETL sources that carry files.
func (s *Service) updateContentFileTasks(ctx context.Context, etlSource, target string) ([]*queue.TaskSig, error) {
	if etlSource != "" && !slices.Contains(s.cfg.ContentFileETLSources, etlSource) {
		return nil, nil
	}
	refs, err := s.store.ResourceRefs(ctx, domain.CourseType, etlSource)
	if err != nil {
		return nil, err
	}
	var ids []int64
	for _, ref := range refs {
		if !ref.Published || s.blocklist.Contains(ref.ReadableID) {
			continue
		}
		if slices.Contains(s.cfg.ContentFileETLSources, ref.ETLSource) {
			ids = append(ids, ref.ID)
		}
	}
	var tasks []*queue.TaskSig
	for _, ids := range chunk.Chunks(ids, s.cfg.ChunkSize) {
		tasks = append(tasks, queue.Task(TaskIndexCourseContentFiles, bulkArgs{IDs: ids, Target: target}))
	}
	return tasks, nil
}

func (s *Service) deindexResourceTasks(ot domain.ObjectType, ids []int64) []*queue.TaskSig {
	var tasks []*queue.TaskSig
	for _, ids := range chunk.Chunks(ids, s.cfg.ChunkSize) {
		tasks = append(tasks, queue.Task(TaskBulkDeindexLearningResources, bulkArgs{IDs: ids, ObjectType: ot}))
	}
	return tasks
}
