package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Aman-CERP/learnsearch/internal/domain"
	lserrors "github.com/Aman-CERP/learnsearch/internal/errors"
)

// ContentFileIDs lists the files of a run ordered by id.
func (s *SQLiteStore) ContentFileIDs(ctx context.Context, runID int64, visibility Visibility) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	query := `SELECT id FROM content_files WHERE run_id = ?`
	switch visibility {
	case OnlyPublished:
		query += ` AND published = 1`
	case OnlyUnpublished:
		query += ` AND published = 0`
	}
	return s.queryIDs(ctx, "list content files", query+` ORDER BY id`, runID)
}

// ContentFile loads one file with its run.
func (s *SQLiteStore) ContentFile(ctx context.Context, id int64) (*domain.ContentFile, error) {
	files, err := s.ContentFiles(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, lserrors.New(lserrors.ErrCodeRecordNotFound,
			fmt.Sprintf("content file %d not found", id), nil)
	}
	return &files[0], nil
}

// ContentFiles loads files with their run and owning resource readable id.
// A file whose run is gone comes back with a nil Run.
func (s *SQLiteStore) ContentFiles(ctx context.Context, ids []int64) ([]domain.ContentFile, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	in, args := placeholders(ids)
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.id, f.run_id, f.key, f.title, f.description, f.content, f.content_type,
			f.file_type, f.url, f.checksum, f.published,
			run.id, run.learning_resource_id, run.run_id, run.title, run.published,
			run.start_date, run.end_date, run.prices, r.readable_id
		FROM content_files f
		LEFT JOIN learning_resource_runs run ON run.id = f.run_id
		LEFT JOIN learning_resources r ON r.id = run.learning_resource_id
		WHERE f.id IN (`+in+`) ORDER BY f.id`, args...)
	if err != nil {
		return nil, storeErr("load content files", err)
	}
	defer func() { _ = rows.Close() }()

	var files []domain.ContentFile
	for rows.Next() {
		var (
			f                     domain.ContentFile
			runPK, resourceID     sql.NullInt64
			runRunID, runTitle    sql.NullString
			runPublished          sql.NullBool
			start, end, runPrices sql.NullString
			readableID            sql.NullString
		)
		if err := rows.Scan(&f.ID, &f.RunID, &f.Key, &f.Title, &f.Description, &f.Content,
			&f.ContentType, &f.FileType, &f.URL, &f.Checksum, &f.Published,
			&runPK, &resourceID, &runRunID, &runTitle, &runPublished,
			&start, &end, &runPrices, &readableID); err != nil {
			return nil, storeErr("scan content file", err)
		}
		if runPK.Valid {
			run := domain.Run{
				ID:                 runPK.Int64,
				LearningResourceID: resourceID.Int64,
				RunID:              runRunID.String,
				Title:              runTitle.String,
				Published:          runPublished.Bool,
			}
			var perr error
			if run.StartDate, perr = parseOptionalTime(start); perr != nil {
				return nil, lserrors.New(lserrors.ErrCodeStoreQuery, fmt.Sprintf("run %d: bad start_date", run.ID), perr)
			}
			if run.EndDate, perr = parseOptionalTime(end); perr != nil {
				return nil, lserrors.New(lserrors.ErrCodeStoreQuery, fmt.Sprintf("run %d: bad end_date", run.ID), perr)
			}
			if err := decodeColumns(run.ID, column{"prices", runPrices.String, &run.Prices}); err != nil {
				return nil, err
			}
			f.Run = &run
		}
		f.ResourceReadableID = readableID.String
		files = append(files, f)
	}
	return files, storeErr("load content files", rows.Err())
}

func (s *SQLiteStore) queryIDs(ctx context.Context, op, query string, args ...any) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr(op, err)
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, storeErr(op, err)
		}
		ids = append(ids, id)
	}
	return ids, storeErr(op, rows.Err())
}
