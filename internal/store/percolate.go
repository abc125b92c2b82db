package store

import (
	"context"
	"fmt"

	"github.com/Aman-CERP/learnsearch/internal/domain"
	lserrors "github.com/Aman-CERP/learnsearch/internal/errors"
)

// PercolateQueryIDs lists every saved query id.
func (s *SQLiteStore) PercolateQueryIDs(ctx context.Context) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.queryIDs(ctx, "list percolate queries", `SELECT id FROM percolate_queries ORDER BY id`)
}

// PercolateQuery loads one saved query.
func (s *SQLiteStore) PercolateQuery(ctx context.Context, id int64) (*domain.PercolateQuery, error) {
	queries, err := s.PercolateQueries(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	if len(queries) == 0 {
		return nil, lserrors.New(lserrors.ErrCodeRecordNotFound,
			fmt.Sprintf("percolate query %d not found", id), nil)
	}
	return &queries[0], nil
}

// PercolateQueries loads saved queries ordered by id.
func (s *SQLiteStore) PercolateQueries(ctx context.Context, ids []int64) ([]domain.PercolateQuery, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	in, args := placeholders(ids)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source_type, original_query, query FROM percolate_queries WHERE id IN (`+in+`) ORDER BY id`, args...)
	if err != nil {
		return nil, storeErr("load percolate queries", err)
	}
	defer func() { _ = rows.Close() }()

	var queries []domain.PercolateQuery
	for rows.Next() {
		var (
			q               domain.PercolateQuery
			original, query string
		)
		if err := rows.Scan(&q.ID, &q.SourceType, &original, &query); err != nil {
			return nil, storeErr("scan percolate query", err)
		}
		q.OriginalQuery = []byte(original)
		q.Query = []byte(query)
		queries = append(queries, q)
	}
	return queries, storeErr("load percolate queries", rows.Err())
}
