// Package index orchestrates indexing: the task handlers behind full
// reindexes, incremental updates, and single-item hooks.
package index

import (
	"context"
	"fmt"
	"iter"

	"github.com/Aman-CERP/learnsearch/internal/config"
	"github.com/Aman-CERP/learnsearch/internal/domain"
	"github.com/Aman-CERP/learnsearch/internal/engine"
	"github.com/Aman-CERP/learnsearch/internal/percolate"
	"github.com/Aman-CERP/learnsearch/internal/queue"
	"github.com/Aman-CERP/learnsearch/internal/store"
)

// Indexer is the index client the orchestrator writes through.
type Indexer interface {
	CreateBackingIndex(ctx context.Context, ot domain.ObjectType) (string, error)
	SwitchIndices(ctx context.Context, backing string, ot domain.ObjectType) error
	DeleteBackingIndex(ctx context.Context, name string) error

	UpsertDocument(ctx context.Context, id string, doc map[string]any, ot domain.ObjectType, opts engine.UpsertOptions) error
	IndexItems(ctx context.Context, docs iter.Seq2[domain.Document, error], ot domain.ObjectType, target engine.Target) (int, error)
	DeindexDocument(ctx context.Context, id string, ot domain.ObjectType, routing string) error
	DeindexItems(ctx context.Context, refs []domain.DocRef, ot domain.ObjectType, target engine.Target) (int, error)

	Percolate(ctx context.Context, doc domain.Document) ([]string, error)
}

// Blocklist reports courses that must stay out of the index.
type Blocklist interface {
	Contains(readableID string) bool
}

// Enqueuer submits task graphs.
type Enqueuer interface {
	Enqueue(ctx context.Context, g queue.Graph) (queue.Handle, error)
}

// Registrar binds task names to handlers.
type Registrar interface {
	Register(name string, h queue.HandlerFunc, opts queue.TaskOptions)
}

// Dependencies contains the injected dependencies for Service.
type Dependencies struct {
	// Store is the source of truth (required).
	Store store.Reader

	// Engine is the index client (required).
	Engine Indexer

	// Queue receives entry-point tasks (required).
	Queue Enqueuer

	// Blocklist filters courses. Nil blocks nothing.
	Blocklist Blocklist

	// Notifier receives percolate matches. Nil logs them.
	Notifier percolate.Notifier

	// Indexing holds chunk sizes, conflict retries, and the ETL sources
	// whose courses carry content files.
	Indexing config.IndexingConfig
}

// Service runs indexing operations against the store and the engine.
type Service struct {
	store     store.Reader
	engine    Indexer
	queue     Enqueuer
	blocklist Blocklist
	matcher   *percolate.Matcher
	cfg       config.IndexingConfig
}

// NewService creates a Service with injected dependencies.
func NewService(deps Dependencies) (*Service, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if deps.Engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if deps.Queue == nil {
		return nil, fmt.Errorf("queue is required")
	}

	blocklist := deps.Blocklist
	if blocklist == nil {
		blocklist = noBlocklist{}
	}

	cfg := deps.Indexing
	defaults := config.NewConfig().Indexing
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = defaults.ChunkSize
	}
	if cfg.DocumentChunkSize <= 0 {
		cfg.DocumentChunkSize = defaults.DocumentChunkSize
	}
	if cfg.RetryOnConflict < 0 {
		cfg.RetryOnConflict = 0
	}

	return &Service{
		store:     deps.Store,
		engine:    deps.Engine,
		queue:     deps.Queue,
		blocklist: blocklist,
		matcher:   percolate.NewMatcher(deps.Store, deps.Engine, deps.Notifier),
		cfg:       cfg,
	}, nil
}

type noBlocklist struct{}

func (noBlocklist) Contains(string) bool { return false }

// Register binds every task handler of the service.
func (s *Service) Register(r Registrar) {
	partial := queue.TaskOptions{RetryNotFound: true}

	r.Register(TaskStartRecreateIndex, s.startRecreateIndex, queue.TaskOptions{})
	r.Register(TaskFinishRecreateIndex, s.finishRecreateIndex, queue.TaskOptions{})
	r.Register(TaskStartUpdateIndex, s.startUpdateIndex, queue.TaskOptions{})

	r.Register(TaskBulkIndexLearningResources, s.bulkIndexLearningResources, queue.TaskOptions{})
	r.Register(TaskBulkDeindexLearningResources, s.bulkDeindexLearningResources, queue.TaskOptions{})
	r.Register(TaskBulkIndexPercolateQueries, s.bulkIndexPercolateQueries, queue.TaskOptions{})
	r.Register(TaskBulkDeindexPercolateQueries, s.bulkDeindexPercolateQueries, queue.TaskOptions{})
	r.Register(TaskIndexCourseContentFiles, s.indexCourseContentFiles, queue.TaskOptions{})
	r.Register(TaskIndexRunContentFiles, s.indexRunContentFiles, queue.TaskOptions{})
	r.Register(TaskDeindexRunContentFiles, s.deindexRunContentFiles, queue.TaskOptions{})

	r.Register(TaskUpsertLearningResource, s.upsertLearningResourceTask, partial)
	r.Register(TaskUpsertContentFile, s.upsertContentFileTask, partial)
	r.Register(TaskUpsertPercolateQuery, s.upsertPercolateQueryTask, partial)
	r.Register(TaskDeindexDocument, s.deindexDocumentTask, queue.TaskOptions{})
	r.Register(TaskPercolateLearningResource, s.percolateLearningResourceTask, queue.TaskOptions{})
}

// StartRecreateIndex enqueues a full rebuild of objectTypes. An empty list
// rebuilds every indexed type.
func (s *Service) StartRecreateIndex(ctx context.Context, objectTypes []domain.ObjectType) (queue.Handle, error) {
	task, err := RecreateTask(objectTypes)
	if err != nil {
		return queue.Handle{}, err
	}
	return s.queue.Enqueue(ctx, task)
}

// StartUpdateIndex enqueues an incremental update of objectTypes, limited
// to one ETL source when etlSource is set.
func (s *Service) StartUpdateIndex(ctx context.Context, objectTypes []domain.ObjectType, etlSource string) (queue.Handle, error) {
	task, err := UpdateTask(objectTypes, etlSource)
	if err != nil {
		return queue.Handle{}, err
	}
	return s.queue.Enqueue(ctx, task)
}

// PercolateMatchesForDocument returns the saved queries matching a learning
// resource and hands them to the notifier.
func (s *Service) PercolateMatchesForDocument(ctx context.Context, resourceID int64) ([]domain.PercolateQuery, error) {
	return s.matcher.MatchesForDocument(ctx, resourceID)
}
