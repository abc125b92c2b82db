package engine

import (
	"context"
	"fmt"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/Aman-CERP/learnsearch/internal/domain"
	lserrors "github.com/Aman-CERP/learnsearch/internal/errors"
)

// SearchOptions tunes Search.
type SearchOptions struct {
	// Routing restricts the search to documents written with this routing.
	Routing string
	Size    int
	From    int
}

// Hit is one search result.
type Hit struct {
	ID     string
	Score  float64
	Source map[string]any
}

// SearchResult is a page of hits.
type SearchResult struct {
	Total uint64
	Hits  []Hit
}

// Search runs q against the public index of ot.
func (e *Engine) Search(ctx context.Context, ot domain.ObjectType, q query.Query, opts SearchOptions) (*SearchResult, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.checkOpen(); err != nil {
		return nil, err
	}

	targets := e.resolve(ot, CurrentIndex)
	if len(targets) == 0 {
		return nil, lserrors.New(lserrors.ErrCodeIndexNotFound, fmt.Sprintf("no index for %s", ot), nil)
	}
	var searcher bleve.Index = e.public[ot.IndexType()]
	if opts.Routing != "" {
		bi := targets[0]
		searcher = bi.shards[bi.shardFor("", opts.Routing)]
		rq := bleve.NewTermQuery(opts.Routing)
		rq.SetField(routingField)
		q = bleve.NewConjunctionQuery(q, rq)
	}

	size := opts.Size
	if size <= 0 {
		size = 10
	}
	req := bleve.NewSearchRequestOptions(q, size, opts.From, false)
	req.Fields = []string{sourceField, seqField}

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	res, err := searcher.SearchInContext(ctx, req)
	if err != nil {
		return nil, engineErr("search "+string(ot), err)
	}

	out := &SearchResult{Total: res.Total, Hits: make([]Hit, 0, len(res.Hits))}
	for _, h := range res.Hits {
		doc, err := decodeHit(h.Fields)
		if err != nil {
			return nil, engineErr("search "+string(ot), err)
		}
		out.Hits = append(out.Hits, Hit{ID: h.ID, Score: h.Score, Source: doc.Source})
	}
	return out, nil
}

// Count returns the number of documents in the public index of ot.
func (e *Engine) Count(ctx context.Context, ot domain.ObjectType) (uint64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.checkOpen(); err != nil {
		return 0, err
	}
	alias, ok := e.public[ot.IndexType()]
	if !ok {
		return 0, lserrors.New(lserrors.ErrCodeIndexNotFound, fmt.Sprintf("no index for %s", ot), nil)
	}
	n, err := alias.DocCount()
	if err != nil {
		return 0, engineErr("count "+string(ot), err)
	}
	return n, nil
}

func (e *Engine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, e.cfg.DefaultTimeout)
}
