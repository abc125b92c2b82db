package index

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/Aman-CERP/learnsearch/internal/domain"
	"github.com/Aman-CERP/learnsearch/internal/engine"
	lserrors "github.com/Aman-CERP/learnsearch/internal/errors"
	"github.com/Aman-CERP/learnsearch/internal/queue"
	"github.com/Aman-CERP/learnsearch/internal/serialize"
)

// UpsertLearningResource writes the current state of resource id to every
// active index of its type. Unpublished and blocklisted resources are
// removed instead. A resource no index holds yet is a not-found error
// unless DocAsUpsert is configured.
func (s *Service) UpsertLearningResource(ctx context.Context, id int64) error {
	r, err := s.store.LearningResource(ctx, id)
	if err != nil {
		return err
	}
	if !s.indexable(r) {
		slog.Debug("resource_not_indexable", slog.Int64("id", id), slog.Bool("published", r.Published))
		return s.engine.DeindexDocument(ctx, domain.ResourceDocID(id), r.ResourceType, "")
	}
	doc, err := serialize.LearningResource(*r)
	if err != nil {
		return err
	}
	return s.engine.UpsertDocument(ctx, doc.ID, doc.Body, r.ResourceType, engine.UpsertOptions{
		RetryOnConflict: s.cfg.RetryOnConflict,
		DocAsUpsert:     s.cfg.DocAsUpsert,
	})
}

func (s *Service) indexable(r *domain.LearningResource) bool {
	if !r.Published {
		return false
	}
	return r.ResourceType != domain.CourseType || !s.blocklist.Contains(r.ReadableID)
}

// UpsertContentFile writes content file id under its course. An unpublished
// file is removed instead.
func (s *Service) UpsertContentFile(ctx context.Context, id int64) error {
	f, err := s.store.ContentFile(ctx, id)
	if err != nil {
		return err
	}
	if f.Run == nil {
		return lserrors.New(lserrors.ErrCodeMissingRelation, "content file "+strconv.FormatInt(id, 10)+" has no run", nil)
	}
	if !f.Published {
		ref := serialize.ContentFileRef(f.ID, f.Run.LearningResourceID)
		return s.engine.DeindexDocument(ctx, ref.ID, domain.ContentFileType, ref.Routing)
	}
	doc, err := serialize.ContentFile(*f)
	if err != nil {
		return err
	}
	return s.engine.UpsertDocument(ctx, doc.ID, doc.Body, domain.ContentFileType, engine.UpsertOptions{
		RetryOnConflict: s.cfg.RetryOnConflict,
		Routing:         doc.Routing,
		DocAsUpsert:     s.cfg.DocAsUpsert,
	})
}

// UpsertPercolateQuery writes saved query id to the percolator index.
func (s *Service) UpsertPercolateQuery(ctx context.Context, id int64) error {
	q, err := s.store.PercolateQuery(ctx, id)
	if err != nil {
		return err
	}
	doc, err := serialize.PercolateQuery(*q)
	if err != nil {
		return err
	}
	return s.engine.UpsertDocument(ctx, doc.ID, doc.Body, domain.PercolateType, engine.UpsertOptions{
		RetryOnConflict: s.cfg.RetryOnConflict,
		DocAsUpsert:     s.cfg.DocAsUpsert,
	})
}

// DeindexDocument removes document docID of type ot from every active
// index. Content files need the id of their resource as routing.
func (s *Service) DeindexDocument(ctx context.Context, docID string, ot domain.ObjectType, routing string) error {
	if _, err := domain.ParseObjectType(string(ot)); err != nil {
		return unknownType(ot)
	}
	return s.engine.DeindexDocument(ctx, docID, ot, routing)
}

func (s *Service) upsertLearningResourceTask(ctx context.Context, tc *queue.TaskContext) (any, error) {
	var args itemArgs
	if err := tc.Bind(&args); err != nil {
		return nil, lserrors.ValidationError(err.Error(), err)
	}
	return nil, s.UpsertLearningResource(ctx, args.ID)
}

func (s *Service) upsertContentFileTask(ctx context.Context, tc *queue.TaskContext) (any, error) {
	var args itemArgs
	if err := tc.Bind(&args); err != nil {
		return nil, lserrors.ValidationError(err.Error(), err)
	}
	return nil, s.UpsertContentFile(ctx, args.ID)
}

func (s *Service) upsertPercolateQueryTask(ctx context.Context, tc *queue.TaskContext) (any, error) {
	var args itemArgs
	if err := tc.Bind(&args); err != nil {
		return nil, lserrors.ValidationError(err.Error(), err)
	}
	return nil, s.UpsertPercolateQuery(ctx, args.ID)
}

func (s *Service) deindexDocumentTask(ctx context.Context, tc *queue.TaskContext) (any, error) {
	var args deindexArgs
	if err := tc.Bind(&args); err != nil {
		return nil, lserrors.ValidationError(err.Error(), err)
	}
	return nil, s.DeindexDocument(ctx, args.ID, args.ObjectType, args.Routing)
}

func (s *Service) percolateLearningResourceTask(ctx context.Context, tc *queue.TaskContext) (any, error) {
	var args itemArgs
	if err := tc.Bind(&args); err != nil {
		return nil, lserrors.ValidationError(err.Error(), err)
	}
	slog.Info("percolating_document", slog.Int64("resource_id", args.ID))
	matches, err := s.PercolateMatchesForDocument(ctx, args.ID)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, len(matches))
	for i, q := range matches {
		ids[i] = q.ID
	}
	return ids, nil
}
