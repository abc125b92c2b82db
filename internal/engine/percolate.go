package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"strconv"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/Aman-CERP/learnsearch/internal/domain"
	lserrors "github.com/Aman-CERP/learnsearch/internal/errors"
)

const percolatePageSize = 500

// Percolate returns the ids of the saved queries in the public percolator
// index that match doc, in ascending numeric order. Nothing is written.
func (e *Engine) Percolate(ctx context.Context, doc domain.Document) ([]string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.checkOpen(); err != nil {
		return nil, err
	}

	alias, ok := e.public[domain.PercolateType]
	if !ok {
		return nil, nil
	}

	candidate, err := bleve.NewMemOnly(newPercolateMapping())
	if err != nil {
		return nil, engineErr("percolate", err)
	}
	defer func() { _ = candidate.Close() }()
	if err := candidate.Index(doc.ID, doc.Body); err != nil {
		return nil, lserrors.ValidationError("percolate "+doc.ID, err)
	}

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	var matches []string
	for from := 0; ; from += percolatePageSize {
		req := bleve.NewSearchRequestOptions(bleve.NewMatchAllQuery(), percolatePageSize, from, false)
		req.Fields = []string{sourceField, seqField}
		req.SortBy([]string{"_id"})
		page, err := alias.SearchInContext(ctx, req)
		if err != nil {
			return nil, engineErr("list percolate queries", err)
		}

		for _, hit := range page.Hits {
			q, err := e.storedQuery(hit.ID, hit.Fields)
			if err != nil {
				slog.Warn("percolate_query_invalid",
					slog.String("query_id", hit.ID),
					slog.String("error", err.Error()))
				continue
			}
			res, err := candidate.SearchInContext(ctx, bleve.NewSearchRequestOptions(q, 1, 0, false))
			if err != nil {
				return nil, engineErr("percolate", err)
			}
			if res.Total > 0 {
				matches = append(matches, hit.ID)
			}
		}
		if len(page.Hits) < percolatePageSize {
			break
		}
	}

	slices.SortFunc(matches, func(a, b string) int {
		ai, aerr := strconv.ParseInt(a, 10, 64)
		bi, berr := strconv.ParseInt(b, 10, 64)
		if aerr == nil && berr == nil {
			switch {
			case ai < bi:
				return -1
			case ai > bi:
				return 1
			}
			return 0
		}
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		}
		return 0
	})
	return matches, nil
}

// storedQuery parses the query of a percolator document, caching the parsed
// form by id and sequence so an updated query is reparsed.
func (e *Engine) storedQuery(id string, fields map[string]any) (query.Query, error) {
	stored, err := decodeHit(fields)
	if err != nil {
		return nil, err
	}
	key := id + "@" + strconv.FormatUint(stored.Seq, 10)
	if q, ok := e.queries.Get(key); ok {
		return q, nil
	}

	raw, err := json.Marshal(stored.Source["query"])
	if err != nil {
		return nil, err
	}
	q, err := query.ParseQuery(raw)
	if err != nil {
		return nil, lserrors.New(lserrors.ErrCodeInvalidQuery, "percolate query "+id+": "+err.Error(), err)
	}
	e.queries.Add(key, q)
	return q, nil
}
