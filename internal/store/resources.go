package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Aman-CERP/learnsearch/internal/domain"
	lserrors "github.com/Aman-CERP/learnsearch/internal/errors"
)

const resourceColumns = `r.id, r.readable_id, r.resource_type, r.title, r.description, r.url,
	r.image_url, r.published, r.etl_source, r.created_on, r.prices, r.topics,
	r.departments, r.offered_by, r.platform, c.course_numbers, p.course_count`

const resourceFrom = `FROM learning_resources r
	LEFT JOIN courses c ON c.learning_resource_id = r.id
	LEFT JOIN programs p ON p.learning_resource_id = r.id`

// ResourceRefs lists resources of a type ordered by id.
func (s *SQLiteStore) ResourceRefs(ctx context.Context, resourceType domain.ObjectType, etlSource string) ([]domain.ResourceRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	query := `SELECT id, readable_id, published, etl_source FROM learning_resources WHERE resource_type = ?`
	args := []any{string(resourceType)}
	if etlSource != "" {
		query += ` AND etl_source = ?`
		args = append(args, etlSource)
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeErr("list resources", err)
	}
	defer func() { _ = rows.Close() }()

	var refs []domain.ResourceRef
	for rows.Next() {
		var ref domain.ResourceRef
		if err := rows.Scan(&ref.ID, &ref.ReadableID, &ref.Published, &ref.ETLSource); err != nil {
			return nil, storeErr("scan resource ref", err)
		}
		refs = append(refs, ref)
	}
	return refs, storeErr("list resources", rows.Err())
}

// LearningResource loads one resource with its runs and relations.
func (s *SQLiteStore) LearningResource(ctx context.Context, id int64) (*domain.LearningResource, error) {
	resources, err := s.LearningResources(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	if len(resources) == 0 {
		return nil, lserrors.New(lserrors.ErrCodeRecordNotFound,
			fmt.Sprintf("learning resource %d not found", id), nil)
	}
	return &resources[0], nil
}

// LearningResources loads resources with their runs and relations.
func (s *SQLiteStore) LearningResources(ctx context.Context, ids []int64) ([]domain.LearningResource, error) {
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
		`SELECT `+resourceColumns+` `+resourceFrom+` WHERE r.id IN (`+in+`) ORDER BY r.id`, args...)
	if err != nil {
		return nil, storeErr("load resources", err)
	}

	var resources []domain.LearningResource
	for rows.Next() {
		r, err := scanResource(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		resources = append(resources, r)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, storeErr("load resources", err)
	}
	_ = rows.Close()

	runs, err := s.runsForResources(ctx, ids)
	if err != nil {
		return nil, err
	}
	byResource := make(map[int64][]domain.Run)
	for _, run := range runs {
		byResource[run.LearningResourceID] = append(byResource[run.LearningResourceID], run)
	}
	for i := range resources {
		resources[i].Runs = byResource[resources[i].ID]
	}
	return resources, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanResource(row scanner) (domain.LearningResource, error) {
	var (
		r                                  domain.LearningResource
		resourceType, createdOn            string
		prices, topics, departments        string
		offeredBy, platform, courseNumbers sql.NullString
		courseCount                        sql.NullInt64
	)
	err := row.Scan(&r.ID, &r.ReadableID, &resourceType, &r.Title, &r.Description, &r.URL,
		&r.ImageURL, &r.Published, &r.ETLSource, &createdOn, &prices, &topics,
		&departments, &offeredBy, &platform, &courseNumbers, &courseCount)
	if err != nil {
		return r, storeErr("scan resource", err)
	}
	r.ResourceType = domain.ObjectType(resourceType)

	if r.CreatedOn, err = time.Parse(time.RFC3339Nano, createdOn); err != nil {
		return r, lserrors.New(lserrors.ErrCodeStoreQuery,
			fmt.Sprintf("resource %d: bad created_on %q", r.ID, createdOn), err)
	}
	if err := decodeColumns(r.ID,
		column{"prices", prices, &r.Prices},
		column{"topics", topics, &r.Topics},
		column{"departments", departments, &r.Departments},
	); err != nil {
		return r, err
	}
	if offeredBy.Valid {
		r.OfferedBy = &domain.Offeror{}
		if err := decodeColumns(r.ID, column{"offered_by", offeredBy.String, r.OfferedBy}); err != nil {
			return r, err
		}
	}
	if platform.Valid {
		r.Platform = &domain.Platform{}
		if err := decodeColumns(r.ID, column{"platform", platform.String, r.Platform}); err != nil {
			return r, err
		}
	}
	if courseNumbers.Valid {
		r.Course = &domain.Course{}
		if err := decodeColumns(r.ID, column{"course_numbers", courseNumbers.String, &r.Course.CourseNumbers}); err != nil {
			return r, err
		}
	}
	if courseCount.Valid {
		r.Program = &domain.Program{CourseCount: int(courseCount.Int64)}
	}
	return r, nil
}

type column struct {
	name string
	raw  string
	dst  any
}

func decodeColumns(id int64, cols ...column) error {
	for _, c := range cols {
		if c.raw == "" {
			continue
		}
		if err := json.Unmarshal([]byte(c.raw), c.dst); err != nil {
			return lserrors.New(lserrors.ErrCodeStoreQuery,
				fmt.Sprintf("record %d: bad %s column", id, c.name), err)
		}
	}
	return nil
}

// Run loads a single run.
func (s *SQLiteStore) Run(ctx context.Context, id int64) (*domain.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM learning_resource_runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, lserrors.New(lserrors.ErrCodeRecordNotFound, fmt.Sprintf("run %d not found", id), nil)
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// RunsForResources loads the runs of the given resources ordered by id.
func (s *SQLiteStore) RunsForResources(ctx context.Context, resourceIDs []int64) ([]domain.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return s.runsForResources(ctx, resourceIDs)
}

const runColumns = `id, learning_resource_id, run_id, title, published, start_date, end_date, prices`

func (s *SQLiteStore) runsForResources(ctx context.Context, resourceIDs []int64) ([]domain.Run, error) {
	if len(resourceIDs) == 0 {
		return nil, nil
	}
	in, args := placeholders(resourceIDs)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM learning_resource_runs WHERE learning_resource_id IN (`+in+`) ORDER BY id`, args...)
	if err != nil {
		return nil, storeErr("load runs", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, storeErr("load runs", rows.Err())
}

func scanRun(row scanner) (domain.Run, error) {
	var (
		run        domain.Run
		start, end sql.NullString
		prices     string
	)
	if err := row.Scan(&run.ID, &run.LearningResourceID, &run.RunID, &run.Title,
		&run.Published, &start, &end, &prices); err != nil {
		if err == sql.ErrNoRows {
			return run, err
		}
		return run, storeErr("scan run", err)
	}
	var err error
	if run.StartDate, err = parseOptionalTime(start); err != nil {
		return run, lserrors.New(lserrors.ErrCodeStoreQuery, fmt.Sprintf("run %d: bad start_date", run.ID), err)
	}
	if run.EndDate, err = parseOptionalTime(end); err != nil {
		return run, lserrors.New(lserrors.ErrCodeStoreQuery, fmt.Sprintf("run %d: bad end_date", run.ID), err)
	}
	return run, decodeColumns(run.ID, column{"prices", prices, &run.Prices})
}

func parseOptionalTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func formatOptionalTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}
