// Package store is the read-only source of truth for learning resources,
// content files, and percolate queries.
package store

import (
	"context"

	"github.com/Aman-CERP/learnsearch/internal/domain"
)

// Visibility filters content files by their published flag.
type Visibility int

const (
	// AnyVisibility selects every file.
	AnyVisibility Visibility = iota
	// OnlyPublished selects published files.
	OnlyPublished
	// OnlyUnpublished selects unpublished files.
	OnlyUnpublished
)

// Reader is the read access the indexing pipeline needs.
// Batch lookups skip ids that no longer exist and return rows ordered by id.
type Reader interface {
	// ResourceRefs lists every resource of a type, optionally restricted to one ETL source.
	ResourceRefs(ctx context.Context, resourceType domain.ObjectType, etlSource string) ([]domain.ResourceRef, error)
	LearningResource(ctx context.Context, id int64) (*domain.LearningResource, error)
	LearningResources(ctx context.Context, ids []int64) ([]domain.LearningResource, error)

	Run(ctx context.Context, id int64) (*domain.Run, error)
	RunsForResources(ctx context.Context, resourceIDs []int64) ([]domain.Run, error)

	ContentFileIDs(ctx context.Context, runID int64, visibility Visibility) ([]int64, error)
	ContentFile(ctx context.Context, id int64) (*domain.ContentFile, error)
	ContentFiles(ctx context.Context, ids []int64) ([]domain.ContentFile, error)

	PercolateQueryIDs(ctx context.Context) ([]int64, error)
	PercolateQuery(ctx context.Context, id int64) (*domain.PercolateQuery, error)
	PercolateQueries(ctx context.Context, ids []int64) ([]domain.PercolateQuery, error)
}

// Writer loads records. The pipeline never writes; ingestion and tests do.
type Writer interface {
	PutLearningResource(ctx context.Context, r domain.LearningResource) error
	PutContentFile(ctx context.Context, f domain.ContentFile) error
	PutPercolateQuery(ctx context.Context, q domain.PercolateQuery) error
}
