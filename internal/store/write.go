package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Aman-CERP/learnsearch/internal/domain"
)

// PutLearningResource inserts or replaces a resource, its type relation, and its runs.
// Runs not present in r.Runs are removed.
func (s *SQLiteStore) PutLearningResource(ctx context.Context, r domain.LearningResource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	return s.inTx(ctx, "put learning resource", func(tx *sql.Tx) error {
		createdOn := r.CreatedOn
		if createdOn.IsZero() {
			createdOn = time.Now()
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO learning_resources (id, readable_id, resource_type, title, description, url,
				image_url, published, etl_source, created_on, prices, topics, departments, offered_by, platform)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				readable_id = excluded.readable_id, resource_type = excluded.resource_type,
				title = excluded.title, description = excluded.description, url = excluded.url,
				image_url = excluded.image_url, published = excluded.published,
				etl_source = excluded.etl_source, created_on = excluded.created_on,
				prices = excluded.prices, topics = excluded.topics,
				departments = excluded.departments, offered_by = excluded.offered_by,
				platform = excluded.platform`,
			r.ID, r.ReadableID, string(r.ResourceType), r.Title, r.Description, r.URL,
			r.ImageURL, r.Published, r.ETLSource, createdOn.UTC().Format(time.RFC3339Nano),
			mustJSON(orEmpty(r.Prices)), mustJSON(orEmpty(r.Topics)), mustJSON(orEmpty(r.Departments)),
			nullableJSON(r.OfferedBy), nullableJSON(r.Platform))
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM courses WHERE learning_resource_id = ?`, r.ID); err != nil {
			return err
		}
		if r.Course != nil {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO courses (learning_resource_id, course_numbers) VALUES (?, ?)`,
				r.ID, mustJSON(orEmpty(r.Course.CourseNumbers))); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM programs WHERE learning_resource_id = ?`, r.ID); err != nil {
			return err
		}
		if r.Program != nil {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO programs (learning_resource_id, course_count) VALUES (?, ?)`,
				r.ID, r.Program.CourseCount); err != nil {
				return err
			}
		}

		keep := make([]int64, 0, len(r.Runs))
		for _, run := range r.Runs {
			keep = append(keep, run.ID)
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO learning_resource_runs (id, learning_resource_id, run_id, title, published, start_date, end_date, prices)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET
					learning_resource_id = excluded.learning_resource_id, run_id = excluded.run_id,
					title = excluded.title, published = excluded.published,
					start_date = excluded.start_date, end_date = excluded.end_date, prices = excluded.prices`,
				run.ID, r.ID, run.RunID, run.Title, run.Published,
				formatOptionalTime(run.StartDate), formatOptionalTime(run.EndDate),
				mustJSON(orEmpty(run.Prices))); err != nil {
				return err
			}
		}
		stale := `DELETE FROM learning_resource_runs WHERE learning_resource_id = ?`
		args := []any{r.ID}
		if len(keep) > 0 {
			in, ids := placeholders(keep)
			stale += ` AND id NOT IN (` + in + `)`
			args = append(args, ids...)
		}
		_, err = tx.ExecContext(ctx, stale, args...)
		return err
	})
}

// PutContentFile inserts or replaces a content file. The run must exist.
func (s *SQLiteStore) PutContentFile(ctx context.Context, f domain.ContentFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO content_files (id, run_id, key, title, description, content,
			content_type, file_type, url, checksum, published)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.RunID, f.Key, f.Title, f.Description, f.Content,
		f.ContentType, f.FileType, f.URL, f.Checksum, f.Published)
	return storeErr("put content file", err)
}

// PutPercolateQuery inserts or replaces a saved query.
func (s *SQLiteStore) PutPercolateQuery(ctx context.Context, q domain.PercolateQuery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	original, query := string(q.OriginalQuery), string(q.Query)
	if original == "" {
		original = "{}"
	}
	if query == "" {
		query = original
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO percolate_queries (id, source_type, original_query, query) VALUES (?, ?, ?, ?)`,
		q.ID, q.SourceType, original, query)
	return storeErr("put percolate query", err)
}

// DeleteLearningResource removes a resource and, by cascade, its runs and files.
func (s *SQLiteStore) DeleteLearningResource(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM learning_resources WHERE id = ?`, id)
	return storeErr("delete learning resource", err)
}

func (s *SQLiteStore) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr(op, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return storeErr(op, err)
	}
	if err := tx.Commit(); err != nil {
		return storeErr(op, fmt.Errorf("commit: %w", err))
	}
	return nil
}

func orEmpty[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		// Only plain domain records reach here.
		panic(fmt.Sprintf("store: marshal %T: %v", v, err))
	}
	return string(b)
}

func nullableJSON[T any](v *T) any {
	if v == nil {
		return nil
	}
	return mustJSON(v)
}
