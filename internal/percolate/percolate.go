// Package percolate finds the saved searches a learning resource matches.
package percolate

import (
	"context"
	"log/slog"
	"slices"
	"strconv"

	"github.com/Aman-CERP/learnsearch/internal/domain"
	lserrors "github.com/Aman-CERP/learnsearch/internal/errors"
	"github.com/Aman-CERP/learnsearch/internal/serialize"
)

// Source loads the records a match needs.
type Source interface {
	LearningResource(ctx context.Context, id int64) (*domain.LearningResource, error)
	PercolateQueries(ctx context.Context, ids []int64) ([]domain.PercolateQuery, error)
}

// Percolator evaluates stored queries against a document.
type Percolator interface {
	Percolate(ctx context.Context, doc domain.Document) ([]string, error)
}

// Notifier receives the queries a resource matched.
type Notifier interface {
	Notify(ctx context.Context, resource domain.LearningResource, queries []domain.PercolateQuery) error
}

// Matcher runs a resource through every saved query. It never writes to
// the index.
type Matcher struct {
	source     Source
	percolator Percolator
	notifier   Notifier
}

// NewMatcher creates a Matcher. A nil notifier logs matches.
func NewMatcher(source Source, percolator Percolator, notifier Notifier) *Matcher {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &Matcher{source: source, percolator: percolator, notifier: notifier}
}

// MatchesForDocument returns the saved queries matching learning resource
// resourceID, in id order, and passes any matches to the notifier.
func (m *Matcher) MatchesForDocument(ctx context.Context, resourceID int64) ([]domain.PercolateQuery, error) {
	r, err := m.source.LearningResource(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	doc, err := serialize.LearningResource(*r)
	if err != nil {
		return nil, err
	}

	hits, err := m.percolator.Percolate(ctx, doc)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(hits))
	for _, hit := range hits {
		id, err := strconv.ParseInt(hit, 10, 64)
		if err != nil {
			slog.Warn("percolate_match_unknown_id", slog.String("query_id", hit))
			continue
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	slices.Sort(ids)

	queries, err := m.source.PercolateQueries(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(queries) == 0 {
		return nil, nil
	}
	if err := m.notifier.Notify(ctx, *r, queries); err != nil {
		// The match stands even when delivery fails.
		slog.Warn("percolate_notify_failed",
			append([]any{slog.Int64("resource_id", resourceID)}, lserrors.LogAttrs(err)...)...)
	}
	return queries, nil
}

// LogNotifier writes one structured log line per match.
type LogNotifier struct {
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Notify implements Notifier.
func (n LogNotifier) Notify(ctx context.Context, resource domain.LearningResource, queries []domain.PercolateQuery) error {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	for _, q := range queries {
		logger.InfoContext(ctx, "percolate_match",
			slog.Int64("resource_id", resource.ID),
			slog.String("readable_id", resource.ReadableID),
			slog.String("resource_type", string(resource.ResourceType)),
			slog.Int64("query_id", q.ID),
			slog.String("source_type", q.SourceType))
	}
	return nil
}
