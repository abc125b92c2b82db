package index

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/learnsearch/internal/chunk"
	"github.com/Aman-CERP/learnsearch/internal/domain"
	"github.com/Aman-CERP/learnsearch/internal/engine"
	lserrors "github.com/Aman-CERP/learnsearch/internal/errors"
	"github.com/Aman-CERP/learnsearch/internal/queue"
)

// startRecreateIndex builds a backing index per type, then replaces itself
// with every chunk task followed by finish_recreate_index.
func (s *Service) startRecreateIndex(ctx context.Context, tc *queue.TaskContext) (any, error) {
	var args recreateArgs
	if err := tc.Bind(&args); err != nil {
		return nil, lserrors.ValidationError(err.Error(), err)
	}
	types, err := recreateTypes(args.ObjectTypes)
	if err != nil {
		return nil, err
	}

	backing, err := s.createBackingIndices(ctx, types)
	if err != nil {
		return nil, err
	}

	tasks, err := s.recreateTasks(ctx, types, backing)
	if err != nil {
		s.discard(ctx, backing)
		return nil, err
	}

	slog.Info("recreate_index_started",
		slog.Any("object_types", types),
		slog.Int("tasks", len(tasks)))
	tc.Replace(queue.Chain(queue.Group(tasks...), queue.Task(TaskFinishRecreateIndex, finishArgs{Backing: backing})))
	return nil, nil
}

// createBackingIndices creates one backing index per type in parallel. On
// any failure the indices already created are discarded.
func (s *Service) createBackingIndices(ctx context.Context, types []domain.ObjectType) (map[domain.ObjectType]string, error) {
	var (
		mu      sync.Mutex
		backing = make(map[domain.ObjectType]string, len(types))
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, ot := range types {
		g.Go(func() error {
			name, err := s.engine.CreateBackingIndex(gctx, ot)
			if err != nil {
				return fmt.Errorf("create backing index for %s: %w", ot, err)
			}
			mu.Lock()
			backing[ot] = name
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.discard(ctx, backing)
		return nil, lserrors.New(lserrors.ErrCodeBackingIndexCreate, err.Error(), err)
	}
	return backing, nil
}

// discard deletes the backing indices one rebuild created. Indices of a
// rebuild started later are left alone.
func (s *Service) discard(ctx context.Context, backing map[domain.ObjectType]string) error {
	var first error
	for _, ot := range slices.Sorted(maps.Keys(backing)) {
		if err := s.engine.DeleteBackingIndex(ctx, backing[ot]); err != nil {
			slog.Warn("backing_index_discard_failed",
				append(lserrors.LogAttrs(err), slog.String("index", backing[ot]))...)
			if first == nil {
				first = err
			}
		}
	}
	return first
}

// recreateTasks lists the chunk tasks of a full rebuild. Each chunk names
// the backing index this rebuild created for its type.
func (s *Service) recreateTasks(ctx context.Context, types []domain.ObjectType, backing map[domain.ObjectType]string) ([]*queue.TaskSig, error) {
	var tasks []*queue.TaskSig

	for _, ot := range types {
		target := engine.BackingIndex(backing[ot]).String()
		switch {
		case ot == domain.PercolateType:
			ids, err := s.store.PercolateQueryIDs(ctx)
			if err != nil {
				return nil, err
			}
			for _, ids := range chunk.Chunks(ids, s.cfg.ChunkSize) {
				tasks = append(tasks, queue.Task(TaskBulkIndexPercolateQueries, bulkArgs{IDs: ids, Target: target}))
			}

		case ot == domain.CourseType:
			refs, err := s.store.ResourceRefs(ctx, ot, "")
			if err != nil {
				return nil, err
			}
			var ids, withFiles []int64
			for _, ref := range refs {
				if !ref.Published || s.blocklist.Contains(ref.ReadableID) {
					continue
				}
				ids = append(ids, ref.ID)
				if slices.Contains(s.cfg.ContentFileETLSources, ref.ETLSource) {
					withFiles = append(withFiles, ref.ID)
				}
			}
			tasks = append(tasks, s.indexResourceTasks(ot, ids, target)...)
			for _, ids := range chunk.Chunks(withFiles, s.cfg.ChunkSize) {
				tasks = append(tasks, queue.Task(TaskIndexCourseContentFiles, bulkArgs{IDs: ids, Target: target}))
			}

		default:
			refs, err := s.store.ResourceRefs(ctx, ot, "")
			if err != nil {
				return nil, err
			}
			var ids []int64
			for _, ref := range refs {
				if ref.Published {
					ids = append(ids, ref.ID)
				}
			}
			tasks = append(tasks, s.indexResourceTasks(ot, ids, target)...)
		}
	}
	return tasks, nil
}

func (s *Service) indexResourceTasks(ot domain.ObjectType, ids []int64, target string) []*queue.TaskSig {
	var tasks []*queue.TaskSig
	for _, ids := range chunk.Chunks(ids, s.cfg.ChunkSize) {
		tasks = append(tasks, queue.Task(TaskBulkIndexLearningResources, bulkArgs{IDs: ids, ObjectType: ot, Target: target}))
	}
	return tasks
}

// finishRecreateIndex promotes every rebuilt index, or discards them all
// when any chunk reported an error. A rebuild whose index was detached by a
// later one fails without promoting it.
func (s *Service) finishRecreateIndex(ctx context.Context, tc *queue.TaskContext) (any, error) {
	var args finishArgs
	if err := tc.Bind(&args); err != nil {
		return nil, lserrors.ValidationError(err.Error(), err)
	}
	results, err := tc.GroupResults(ctx)
	if err != nil {
		return nil, err
	}

	if errs := flattenErrors(results); len(errs) > 0 {
		if err := s.discard(ctx, args.Backing); err != nil && lserrors.Classify(err) == lserrors.KindTransient {
			return nil, err
		}
		return nil, lserrors.New(lserrors.ErrCodeReindexFailed,
			"errors occurred during recreate_index: "+strings.Join(errs, "\n"), nil).
			WithDetail("errors", fmt.Sprint(len(errs)))
	}

	slog.Info("recreate_index_switching", slog.Int("chunks", len(results)))
	pending := maps.Clone(args.Backing)
	for _, ot := range slices.Sorted(maps.Keys(args.Backing)) {
		if err := s.engine.SwitchIndices(ctx, args.Backing[ot], ot); err != nil {
			if lserrors.Classify(err) == lserrors.KindTransient {
				return nil, err
			}
			_ = s.discard(ctx, pending)
			return nil, lserrors.New(lserrors.ErrCodeReindexFailed,
				fmt.Sprintf("recreate_index superseded for %s: %v", ot, err), err)
		}
		delete(pending, ot)
	}
	slog.Info("recreate_index_finished", slog.Any("object_types", slices.Sorted(maps.Keys(args.Backing))))
	return args.Backing, nil
}
