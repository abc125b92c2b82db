package index

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/learnsearch/internal/config"
	"github.com/Aman-CERP/learnsearch/internal/domain"
	"github.com/Aman-CERP/learnsearch/internal/engine"
	lserrors "github.com/Aman-CERP/learnsearch/internal/errors"
	"github.com/Aman-CERP/learnsearch/internal/queue"
	"github.com/Aman-CERP/learnsearch/internal/serialize"
	"github.com/Aman-CERP/learnsearch/internal/store"
	"github.com/Aman-CERP/learnsearch/internal/store/storetest"
)

type fakeBlocklist map[string]bool

func (b fakeBlocklist) Contains(id string) bool { return b[id] }

// failingEngine fails backing index creation for one object type.
type failingEngine struct {
	*engine.Engine
	failFor domain.ObjectType
}

func (f *failingEngine) CreateBackingIndex(ctx context.Context, ot domain.ObjectType) (string, error) {
	if ot == f.failFor {
		return "", errors.New("disk full")
	}
	return f.Engine.CreateBackingIndex(ctx, ot)
}

type harness struct {
	store  *store.SQLiteStore
	engine *engine.Engine
	queue  *queue.Queue
	svc    *Service
	block  fakeBlocklist
}

func newHarness(t *testing.T, wrap func(*engine.Engine) Indexer) *harness {
	t.Helper()
	ctx := context.Background()

	e, err := engine.Open(ctx, engine.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	q, err := queue.Open(filepath.Join(t.TempDir(), "queue.db"), queue.Options{
		Retry:           lserrors.RetryConfig{MaxRetries: 1, InitialDelay: time.Nanosecond, Multiplier: 1},
		NotFoundRetries: 1,
		NotFoundDelay:   time.Nanosecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })

	indexing := config.NewConfig().Indexing
	indexing.ChunkSize = 2
	indexing.DocumentChunkSize = 1

	var idx Indexer = e
	if wrap != nil {
		idx = wrap(e)
	}
	h := &harness{store: storetest.Open(t), engine: e, queue: q, block: fakeBlocklist{}}
	h.svc, err = NewService(Dependencies{
		Store:     h.store,
		Engine:    idx,
		Queue:     q,
		Blocklist: h.block,
		Indexing:  indexing,
	})
	require.NoError(t, err)
	h.svc.Register(q)
	return h
}

func (h *harness) run(t *testing.T, handle queue.Handle) queue.Status {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.queue.Drain(ctx, queue.WorkerOptions{}))
	st, err := h.queue.Inspect(ctx, handle)
	require.NoError(t, err)
	return st
}

func (h *harness) present(t *testing.T, ot domain.ObjectType, id, routing string) bool {
	t.Helper()
	_, err := h.engine.Get(context.Background(), ot, id, routing)
	if lserrors.IsNotFound(err) {
		return false
	}
	require.NoError(t, err)
	return true
}

func unpublished(r domain.LearningResource) domain.LearningResource {
	r.Published = false
	return r
}

func TestNewService_RequiresDependencies(t *testing.T) {
	_, err := NewService(Dependencies{})
	assert.Error(t, err)
}

func TestStartRecreateIndex_PromotesEveryType(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	// Given: published, unpublished, and blocklisted courses with files
	hidden := unpublished(storetest.Resource(3, domain.CourseType))
	blocked := storetest.Course(4)
	h.block[blocked.ReadableID] = true
	draft := storetest.ContentFile(1002, 101)
	draft.Published = false
	storetest.Put(t, h.store,
		storetest.Course(1), storetest.Course(2), hidden, blocked, storetest.Course(5),
		storetest.Resource(10, domain.ProgramType),
		storetest.Resource(20, domain.VideoType),
		storetest.ContentFile(1001, 101), draft,
		storetest.PercolateQuery(1, "resource"),
	)

	// When
	handle, err := h.svc.StartRecreateIndex(ctx, nil)
	require.NoError(t, err)
	st := h.run(t, handle)

	// Then: the finish task ran and every type is public
	require.Equal(t, queue.StateSucceeded, st.State, st.Error)
	assert.Equal(t, TaskFinishRecreateIndex, st.Name)
	for _, ot := range domain.IndexedTypes {
		current, reindexing := h.engine.Aliases(ot)
		assert.NotEmpty(t, current, ot)
		assert.Empty(t, reindexing, ot)
	}

	assert.True(t, h.present(t, domain.CourseType, "1", ""))
	assert.True(t, h.present(t, domain.CourseType, "5", ""))
	assert.False(t, h.present(t, domain.CourseType, "3", ""), "unpublished")
	assert.False(t, h.present(t, domain.CourseType, "4", ""), "blocklisted")
	assert.True(t, h.present(t, domain.ProgramType, "10", ""))
	assert.True(t, h.present(t, domain.VideoType, "20", ""))
	assert.True(t, h.present(t, domain.PercolateType, "1", ""))
	assert.True(t, h.present(t, domain.ContentFileType, "cf_1001", "1"))
	assert.False(t, h.present(t, domain.ContentFileType, "cf_1002", "1"))
	assert.False(t, h.present(t, domain.ContentFileType, "cf_401", "4"))

	count, err := h.engine.Count(ctx, domain.CourseType)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), count, "three courses and one content file")
}

func TestStartRecreateIndex_NotPublicUntilFinished(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	storetest.Put(t, h.store, storetest.Course(1))

	handle, err := h.svc.StartRecreateIndex(ctx, []domain.ObjectType{domain.CourseType})
	require.NoError(t, err)

	// When: only the entry task has run
	ran, err := h.queue.RunOnce(ctx, queue.WorkerOptions{})
	require.NoError(t, err)
	require.True(t, ran)

	// Then: the new index exists but is not public
	current, reindexing := h.engine.Aliases(domain.CourseType)
	assert.Empty(t, current)
	assert.NotEmpty(t, reindexing)
	st, err := h.queue.Inspect(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, queue.StatePending, st.State)
	require.NotNil(t, st.Group)
	assert.Equal(t, 2, st.Group.Size, "one course chunk and one content file chunk")

	st = h.run(t, handle)
	assert.Equal(t, queue.StateSucceeded, st.State)
	current, _ = h.engine.Aliases(domain.CourseType)
	assert.Equal(t, reindexing, current)
}

func TestStartRecreateIndex_ChunkErrorLeavesAliasesUntouched(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	storetest.Put(t, h.store, storetest.Course(1), storetest.Course(2))

	handle, err := h.svc.StartRecreateIndex(ctx, []domain.ObjectType{domain.CourseType})
	require.NoError(t, err)
	require.Equal(t, queue.StateSucceeded, h.run(t, handle).State)
	before, _ := h.engine.Aliases(domain.CourseType)

	// Given: a course that can no longer be serialized
	broken := storetest.Resource(2, domain.CourseType)
	broken.Course = nil
	storetest.Put(t, h.store, broken)

	// When
	handle, err = h.svc.StartRecreateIndex(ctx, []domain.ObjectType{domain.CourseType})
	require.NoError(t, err)
	st := h.run(t, handle)

	// Then: the rebuild fails and readers keep the old index
	assert.Equal(t, queue.StateFailed, st.State)
	assert.Contains(t, st.Error, lserrors.ErrCodeReindexFailed)
	assert.Contains(t, st.Error, "errors occurred during recreate_index")
	assert.Contains(t, st.Error, lserrors.ErrCodeMissingRelation)

	current, reindexing := h.engine.Aliases(domain.CourseType)
	assert.Equal(t, before, current)
	assert.Empty(t, reindexing)
	infos, err := h.engine.Indices()
	require.NoError(t, err)
	require.Len(t, infos, 1, "the orphaned index is deleted")
	assert.Equal(t, before, infos[0].Name)
}

func TestStartRecreateIndex_OverlappingRebuilds(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	storetest.Put(t, h.store, storetest.Course(1), storetest.Course(2), storetest.Course(3))

	// Given: two rebuilds queued back to back
	first, err := h.svc.StartRecreateIndex(ctx, []domain.ObjectType{domain.CourseType})
	require.NoError(t, err)
	second, err := h.svc.StartRecreateIndex(ctx, []domain.ObjectType{domain.CourseType})
	require.NoError(t, err)

	// When: the first creates its index and the second detaches it before any chunk runs
	for range 2 {
		ran, err := h.queue.RunOnce(ctx, queue.WorkerOptions{})
		require.NoError(t, err)
		require.True(t, ran)
	}
	_, reindexing := h.engine.Aliases(domain.CourseType)
	require.NoError(t, h.queue.Drain(ctx, queue.WorkerOptions{}))

	// Then: the detached rebuild fails without promoting anything
	st, err := h.queue.Inspect(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, queue.StateFailed, st.State)
	assert.Contains(t, st.Error, lserrors.ErrCodeReindexFailed)
	assert.Contains(t, st.Error, lserrors.ErrCodeIndexNotFound)

	// And the later rebuild promotes a complete index
	st, err = h.queue.Inspect(ctx, second)
	require.NoError(t, err)
	require.Equal(t, queue.StateSucceeded, st.State, st.Error)
	current, left := h.engine.Aliases(domain.CourseType)
	assert.Equal(t, reindexing, current)
	assert.Empty(t, left)
	count, err := h.engine.Count(ctx, domain.CourseType)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), count)

	infos, err := h.engine.Indices()
	require.NoError(t, err)
	require.Len(t, infos, 1, "the detached index is deleted")
	assert.Equal(t, current, infos[0].Name)
}

func TestStartRecreateIndex_BackingIndexFailureDiscards(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, func(e *engine.Engine) Indexer {
		return &failingEngine{Engine: e, failFor: domain.VideoType}
	})
	storetest.Put(t, h.store, storetest.Course(1))

	handle, err := h.svc.StartRecreateIndex(ctx, []domain.ObjectType{domain.CourseType, domain.ProgramType, domain.VideoType})
	require.NoError(t, err)
	st := h.run(t, handle)

	assert.Equal(t, queue.StateFailed, st.State)
	assert.Equal(t, TaskStartRecreateIndex, st.Name)
	assert.Contains(t, st.Error, lserrors.ErrCodeBackingIndexCreate)
	assert.Contains(t, st.Error, "disk full")

	infos, err := h.engine.Indices()
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestStartRecreateIndex_RejectsContentFileType(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.svc.StartRecreateIndex(context.Background(), []domain.ObjectType{domain.ContentFileType})
	assert.Equal(t, lserrors.ErrCodeUnknownObjectType, lserrors.GetCode(err))
}

func TestStartUpdateIndex_UpsertsAndRemoves(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	storetest.Put(t, h.store,
		storetest.Course(1), storetest.Course(2), storetest.Course(5),
		storetest.ContentFile(1001, 101), storetest.ContentFile(2001, 201),
		storetest.Resource(10, domain.PodcastType), storetest.Resource(11, domain.PodcastType),
	)
	handle, err := h.svc.StartRecreateIndex(ctx, nil)
	require.NoError(t, err)
	require.Equal(t, queue.StateSucceeded, h.run(t, handle).State)

	// Given: one course unpublished, one blocklisted, one added
	h.block["course-5"] = true
	updated := storetest.Course(1)
	updated.Title = "Renamed"
	storetest.Put(t, h.store,
		updated,
		unpublished(storetest.Course(2)),
		storetest.Course(6), storetest.ContentFile(6001, 601),
		unpublished(storetest.Resource(11, domain.PodcastType)),
	)

	// When
	handle, err = h.svc.StartUpdateIndex(ctx, []domain.ObjectType{domain.CourseType, domain.PodcastType}, "")
	require.NoError(t, err)
	st := h.run(t, handle)

	// Then
	require.Equal(t, queue.StateSucceeded, st.State)
	require.NotNil(t, st.Group)
	assert.Equal(t, st.Group.Size, st.Group.Completed)

	doc, err := h.engine.Get(ctx, domain.CourseType, "1", "")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", doc["title"])
	assert.False(t, h.present(t, domain.CourseType, "2", ""))
	assert.False(t, h.present(t, domain.ContentFileType, "cf_2001", "2"), "files go with their course")
	assert.False(t, h.present(t, domain.CourseType, "5", ""))
	assert.True(t, h.present(t, domain.CourseType, "6", ""))
	assert.True(t, h.present(t, domain.ContentFileType, "cf_6001", "6"))
	assert.True(t, h.present(t, domain.PodcastType, "10", ""))
	assert.False(t, h.present(t, domain.PodcastType, "11", ""))
}

func TestStartUpdateIndex_ETLSourceFilter(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	handle, err := h.svc.StartRecreateIndex(ctx, []domain.ObjectType{domain.CourseType})
	require.NoError(t, err)
	require.Equal(t, queue.StateSucceeded, h.run(t, handle).State)

	xpro := storetest.Course(7)
	xpro.ETLSource = "xpro"
	storetest.Put(t, h.store, storetest.Course(1), xpro)

	handle, err = h.svc.StartUpdateIndex(ctx, []domain.ObjectType{domain.CourseType}, "xpro")
	require.NoError(t, err)
	require.Equal(t, queue.StateSucceeded, h.run(t, handle).State)

	assert.True(t, h.present(t, domain.CourseType, "7", ""))
	assert.False(t, h.present(t, domain.CourseType, "1", ""), "other sources are left alone")
}

func TestStartUpdateIndex_NothingToDo(t *testing.T) {
	h := newHarness(t, nil)
	handle, err := h.svc.StartUpdateIndex(context.Background(), []domain.ObjectType{domain.VideoType}, "")
	require.NoError(t, err)
	st := h.run(t, handle)
	assert.Equal(t, queue.StateSucceeded, st.State)
}

func TestUpsertLearningResource(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	storetest.Put(t, h.store, storetest.Course(1))

	// Given: no index yet, the upsert races index creation
	err := h.svc.UpsertLearningResource(ctx, 1)
	assert.True(t, lserrors.IsNotFound(err))

	name, err := h.engine.CreateBackingIndex(ctx, domain.CourseType)
	require.NoError(t, err)
	require.NoError(t, h.engine.SwitchIndices(ctx, name, domain.CourseType))

	// Given: an index that does not hold the course, the update is not found
	err = h.svc.UpsertLearningResource(ctx, 1)
	assert.Equal(t, lserrors.ErrCodeDocumentNotFound, lserrors.GetCode(err))
	assert.False(t, h.present(t, domain.CourseType, "1", ""))

	// When: creation on upsert is enabled
	h.svc.cfg.DocAsUpsert = true
	require.NoError(t, h.svc.UpsertLearningResource(ctx, 1))
	assert.True(t, h.present(t, domain.CourseType, "1", ""))

	// When: the course is blocklisted, the upsert removes it
	h.block["course-1"] = true
	require.NoError(t, h.svc.UpsertLearningResource(ctx, 1))
	assert.False(t, h.present(t, domain.CourseType, "1", ""))

	err = h.svc.UpsertLearningResource(ctx, 404)
	assert.Equal(t, lserrors.ErrCodeRecordNotFound, lserrors.GetCode(err))
}

func TestUpsertContentFile_RoutedUnderCourse(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.svc.cfg.DocAsUpsert = true
	storetest.Put(t, h.store, storetest.Course(1), storetest.ContentFile(1001, 101))
	name, err := h.engine.CreateBackingIndex(ctx, domain.CourseType)
	require.NoError(t, err)
	require.NoError(t, h.engine.SwitchIndices(ctx, name, domain.CourseType))

	// Given: the parent course is not indexed yet
	err = h.svc.UpsertContentFile(ctx, 1001)
	assert.True(t, lserrors.IsNotFound(err))

	require.NoError(t, h.svc.UpsertLearningResource(ctx, 1))
	require.NoError(t, h.svc.UpsertContentFile(ctx, 1001))
	assert.True(t, h.present(t, domain.ContentFileType, "cf_1001", "1"))

	// When: the file is unpublished
	draft := storetest.ContentFile(1001, 101)
	draft.Published = false
	storetest.Put(t, h.store, draft)
	require.NoError(t, h.svc.UpsertContentFile(ctx, 1001))
	assert.False(t, h.present(t, domain.ContentFileType, "cf_1001", "1"))
}

func TestUpsertTasks_RetryNotFoundUntilDocumentArrives(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	query := storetest.PercolateQuery(9, "python")
	storetest.Put(t, h.store, query)

	task, err := UpsertTask(domain.PercolateType, 9)
	require.NoError(t, err)
	handle, err := h.queue.Enqueue(ctx, task)
	require.NoError(t, err)

	// Given: the first attempt finds no percolator index
	ran, err := h.queue.RunOnce(ctx, queue.WorkerOptions{})
	require.NoError(t, err)
	require.True(t, ran)
	st, err := h.queue.Inspect(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, queue.StateQueued, st.State, "scheduled for a not-found retry")

	// When: a concurrent bulk write creates the document before the retry
	name, err := h.engine.CreateBackingIndex(ctx, domain.PercolateType)
	require.NoError(t, err)
	require.NoError(t, h.engine.SwitchIndices(ctx, name, domain.PercolateType))
	_, err = h.engine.IndexItems(ctx,
		serialize.Documents([]domain.PercolateQuery{query}, serialize.PercolateQuery),
		domain.PercolateType, engine.CurrentIndex)
	require.NoError(t, err)

	st = h.run(t, handle)
	assert.Equal(t, queue.StateSucceeded, st.State)
	assert.True(t, h.present(t, domain.PercolateType, "9", ""))
}

func TestUpsertTasks_NotFoundSurfacesAfterRetries(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	storetest.Put(t, h.store, storetest.Course(3))
	name, err := h.engine.CreateBackingIndex(ctx, domain.CourseType)
	require.NoError(t, err)
	require.NoError(t, h.engine.SwitchIndices(ctx, name, domain.CourseType))

	task, err := UpsertTask(domain.CourseType, 3)
	require.NoError(t, err)
	handle, err := h.queue.Enqueue(ctx, task)
	require.NoError(t, err)

	// The document never appears, so the bounded retries run out
	st := h.run(t, handle)
	assert.Equal(t, queue.StateFailed, st.State)
	assert.Contains(t, st.Error, "not found")
	assert.False(t, h.present(t, domain.CourseType, "3", ""))
}

func TestDeindexAndPercolateTasks(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	course := storetest.Course(1)
	course.Title = "Intro to Python"
	storetest.Put(t, h.store, course,
		storetest.PercolateQuery(1, "python"),
		storetest.PercolateQuery(2, "physics"))
	handle, err := h.svc.StartRecreateIndex(ctx, []domain.ObjectType{domain.CourseType, domain.PercolateType})
	require.NoError(t, err)
	require.Equal(t, queue.StateSucceeded, h.run(t, handle).State)

	// Percolate
	handle, err = h.queue.Enqueue(ctx, PercolateTask(1))
	require.NoError(t, err)
	st := h.run(t, handle)
	require.Equal(t, queue.StateSucceeded, st.State)
	var ids []int64
	require.NoError(t, json.Unmarshal(st.Result, &ids))
	assert.Equal(t, []int64{1}, ids)

	// Deindex
	task, err := DeindexTask(domain.CourseType, "1", "")
	require.NoError(t, err)
	handle, err = h.queue.Enqueue(ctx, task)
	require.NoError(t, err)
	require.Equal(t, queue.StateSucceeded, h.run(t, handle).State)
	assert.False(t, h.present(t, domain.CourseType, "1", ""))

	_, err = DeindexTask("widget", "1", "")
	assert.Equal(t, lserrors.ErrCodeUnknownObjectType, lserrors.GetCode(err))
}

func TestChunkOutcome(t *testing.T) {
	res, err := chunkOutcome("bulk", domain.CourseType, []int64{1, 2}, 2, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res)

	_, err = chunkOutcome("bulk", domain.CourseType, []int64{1, 2}, 0, lserrors.Unavailable("down", nil))
	assert.True(t, lserrors.IsRetryable(err), "transient errors go back to the scheduler")

	res, err = chunkOutcome("bulk", domain.CourseType, []int64{1, 2}, 0, lserrors.NotFound("gone"))
	require.NoError(t, err)
	assert.Contains(t, res, "bulk threw an error")
}

func TestFlattenErrors(t *testing.T) {
	raw := func(s string) json.RawMessage { return json.RawMessage(s) }
	results := []json.RawMessage{
		raw(`3`),
		raw(`""`),
		raw(`"bulk threw an error: boom"`),
		raw(`null`),
		raw(`[0, "", ["index_run_content_files 9 failed: x"]]`),
	}
	assert.Equal(t, []string{
		"bulk threw an error: boom",
		"index_run_content_files 9 failed: x",
	}, flattenErrors(results))
}

func TestObjectTypeHelpers(t *testing.T) {
	types, err := recreateTypes([]domain.ObjectType{domain.VideoType, domain.CourseType, domain.VideoType})
	require.NoError(t, err)
	assert.Equal(t, []domain.ObjectType{domain.CourseType, domain.VideoType}, types)

	types, err = updateTypes([]domain.ObjectType{domain.ContentFileType})
	require.NoError(t, err)
	assert.Equal(t, []domain.ObjectType{domain.ContentFileType}, types)

	all, err := updateTypes(nil)
	require.NoError(t, err)
	assert.Contains(t, all, domain.ContentFileType)
	assert.Contains(t, all, domain.PercolateType)

	for ot, want := range map[domain.ObjectType]string{
		domain.CourseType:      TaskUpsertLearningResource,
		domain.PodcastType:     TaskUpsertLearningResource,
		domain.ContentFileType: TaskUpsertContentFile,
		domain.PercolateType:   TaskUpsertPercolateQuery,
	} {
		task, err := UpsertTask(ot, 1)
		require.NoError(t, err)
		assert.Equal(t, want, task.Name)
	}
}
