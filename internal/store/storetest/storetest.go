// Package storetest builds source-of-truth fixtures for tests.
package storetest

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/learnsearch/internal/domain"
	"github.com/Aman-CERP/learnsearch/internal/store"
)

// Created is the creation time given to every fixture resource.
var Created = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// Open returns an in-memory store closed at test cleanup.
func Open(t testing.TB) *store.SQLiteStore {
	t.Helper()
	s, err := store.Open("", store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// Resource returns a published resource of the given type with the relation
// its type requires.
func Resource(id int64, resourceType domain.ObjectType) domain.LearningResource {
	r := domain.LearningResource{
		ID:           id,
		ReadableID:   fmt.Sprintf("%s-%d", resourceType, id),
		ResourceType: resourceType,
		Title:        fmt.Sprintf("Resource %d", id),
		Description:  "A resource about testing",
		URL:          fmt.Sprintf("https://example.edu/%d", id),
		Published:    true,
		ETLSource:    "ocw",
		CreatedOn:    Created,
		Topics:       []domain.Topic{{ID: 1, Name: "Engineering"}},
		Departments:  []domain.Department{{DepartmentID: "6", Name: "EECS"}},
		OfferedBy:    &domain.Offeror{Code: "ocw", Name: "OpenCourseWare"},
	}
	switch resourceType {
	case domain.CourseType:
		r.Course = &domain.Course{CourseNumbers: []domain.CourseNumber{
			{Value: fmt.Sprintf("6.%04d", id), Department: "6"},
		}}
	case domain.ProgramType:
		r.Program = &domain.Program{CourseCount: 3}
	}
	return r
}

// Course returns a published course with a single published run.
func Course(id int64) domain.LearningResource {
	r := Resource(id, domain.CourseType)
	r.Runs = []domain.Run{Run(id*100+1, id)}
	return r
}

// Run returns a published run of a resource.
func Run(id, resourceID int64) domain.Run {
	return domain.Run{
		ID:                 id,
		LearningResourceID: resourceID,
		RunID:              fmt.Sprintf("run-%d", id),
		Title:              fmt.Sprintf("Run %d", id),
		Published:          true,
	}
}

// ContentFile returns a published file on a run.
func ContentFile(id, runID int64) domain.ContentFile {
	return domain.ContentFile{
		ID:          id,
		RunID:       runID,
		Key:         fmt.Sprintf("files/%d.pdf", id),
		Title:       fmt.Sprintf("File %d", id),
		Content:     "lecture notes",
		ContentType: "file",
		FileType:    "application/pdf",
		Published:   true,
	}
}

// PercolateQuery returns a saved query matching documents whose title contains term.
func PercolateQuery(id int64, term string) domain.PercolateQuery {
	raw, _ := json.Marshal(map[string]any{
		"match": term,
		"field": "title",
	})
	return domain.PercolateQuery{ID: id, SourceType: "search_subscription_type", OriginalQuery: raw, Query: raw}
}

// Put writes every fixture to s.
func Put(t testing.TB, s store.Writer, records ...any) {
	t.Helper()
	ctx := context.Background()
	for _, rec := range records {
		switch v := rec.(type) {
		case domain.LearningResource:
			require.NoError(t, s.PutLearningResource(ctx, v))
		case domain.ContentFile:
			require.NoError(t, s.PutContentFile(ctx, v))
		case domain.PercolateQuery:
			require.NoError(t, s.PutPercolateQuery(ctx, v))
		default:
			t.Fatalf("storetest: unsupported fixture %T", rec)
		}
	}
}
