// Package serialize turns source-of-truth records into index documents.
// Every function here is pure: no I/O and no clock reads.
package serialize

import (
	"encoding/json"
	"fmt"
	"iter"
	"strconv"
	"strings"
	"time"

	"github.com/Aman-CERP/learnsearch/internal/domain"
	lserrors "github.com/Aman-CERP/learnsearch/internal/errors"
)

// Relation names in resource_relations.
const (
	RelationResource    = "resource"
	RelationContentFile = "content_file"
)

// LearningResource serializes a resource with the search-only fields
// free, resource_relations, and enriched course numbers.
func LearningResource(r domain.LearningResource) (domain.Document, error) {
	switch r.ResourceType {
	case domain.CourseType:
		if r.Course == nil {
			return domain.Document{}, missingRelation(r, "course")
		}
	case domain.ProgramType:
		if r.Program == nil {
			return domain.Document{}, missingRelation(r, "program")
		}
	}

	body, err := toMap(r)
	if err != nil {
		return domain.Document{}, lserrors.New(lserrors.ErrCodeInvalidDocument,
			fmt.Sprintf("learning resource %d: encode", r.ID), err)
	}

	body["free"] = isFree(r)
	body["resource_relations"] = map[string]any{"name": RelationResource}
	body["created_on"] = r.CreatedOn.UTC().Format(time.RFC3339)
	if r.ResourceType == domain.CourseType {
		numbers := CourseNumbers(r.Course.CourseNumbers)
		list := make([]any, len(numbers))
		for i, n := range numbers {
			list[i] = map[string]any{
				"value":          n.Value,
				"department":     n.Department,
				"listing_type":   n.ListingType,
				"primary":        n.Primary,
				"sort_coursenum": n.SortCoursenum,
			}
		}
		body["course"] = map[string]any{"course_numbers": list}
	}

	return domain.Document{ID: domain.ResourceDocID(r.ID), Body: body}, nil
}

func missingRelation(r domain.LearningResource, relation string) error {
	return lserrors.New(lserrors.ErrCodeMissingRelation,
		fmt.Sprintf("%s %d (%s) has no %s relation", r.ResourceType, r.ID, r.ReadableID, relation), nil).
		WithDetail("resource_id", strconv.FormatInt(r.ID, 10))
}

// isFree: courses and programs are free when they list no price or a zero
// price; every other type is free.
func isFree(r domain.LearningResource) bool {
	if r.ResourceType != domain.CourseType && r.ResourceType != domain.ProgramType {
		return true
	}
	if len(r.Prices) == 0 {
		return true
	}
	for _, p := range r.Prices {
		if p == 0 {
			return true
		}
	}
	return false
}

// CourseNumbers fills in Primary and SortCoursenum. The first number is
// primary unless the source already flags one.
func CourseNumbers(numbers []domain.CourseNumber) []domain.CourseNumber {
	out := make([]domain.CourseNumber, len(numbers))
	copy(out, numbers)

	flagged := false
	for _, n := range out {
		if n.Primary {
			flagged = true
			break
		}
	}
	for i := range out {
		if !flagged {
			out[i].Primary = i == 0
		}
		if out[i].SortCoursenum == "" {
			out[i].SortCoursenum = SortCoursenum(out[i].Value)
		}
	}
	return out
}

// SortCoursenum left-pads a numeric department prefix to two digits so
// course numbers sort naturally: 6.0001 becomes 06.0001.
func SortCoursenum(value string) string {
	dept, rest, found := strings.Cut(value, ".")
	if !found || dept == "" || len(dept) >= 2 {
		return value
	}
	for _, c := range dept {
		if c < '0' || c > '9' {
			return value
		}
	}
	return "0" + dept + "." + rest
}

// ContentFile serializes a file as a child of its learning resource.
// The file's run must be loaded.
func ContentFile(f domain.ContentFile) (domain.Document, error) {
	if f.Run == nil {
		return domain.Document{}, lserrors.New(lserrors.ErrCodeMissingRelation,
			fmt.Sprintf("content file %d has no run", f.ID), nil).
			WithDetail("run_id", strconv.FormatInt(f.RunID, 10))
	}

	body, err := toMap(f)
	if err != nil {
		return domain.Document{}, lserrors.New(lserrors.ErrCodeInvalidDocument,
			fmt.Sprintf("content file %d: encode", f.ID), err)
	}
	resourceID := f.Run.LearningResourceID
	body["resource_relations"] = map[string]any{
		"name":   RelationContentFile,
		"parent": resourceID,
	}
	body["resource_id"] = resourceID
	body["resource_readable_id"] = f.ResourceReadableID
	body["run_readable_id"] = f.Run.RunID
	body["run_title"] = f.Run.Title

	return domain.Document{
		ID:      domain.ContentFileDocID(f.ID),
		Routing: strconv.FormatInt(resourceID, 10),
		Body:    body,
	}, nil
}

// PercolateQuery serializes a saved query, stripping the child and nested
// clauses a percolator cannot evaluate.
func PercolateQuery(q domain.PercolateQuery) (domain.Document, error) {
	raw := q.Query
	if len(raw) == 0 {
		raw = q.OriginalQuery
	}
	var query map[string]any
	if err := json.Unmarshal(raw, &query); err != nil {
		return domain.Document{}, lserrors.New(lserrors.ErrCodeInvalidQuery,
			fmt.Sprintf("percolate query %d: query is not a JSON object", q.ID), err)
	}
	return domain.Document{
		ID: domain.PercolateDocID(q.ID),
		Body: map[string]any{
			"id":    q.ID,
			"query": StripChildQueries(query),
		},
	}, nil
}

// ResourceRef addresses a learning resource for deletion.
func ResourceRef(id int64) domain.DocRef {
	return domain.DocRef{ID: domain.ResourceDocID(id)}
}

// PercolateRef addresses a percolate query for deletion.
func PercolateRef(id int64) domain.DocRef {
	return domain.DocRef{ID: domain.PercolateDocID(id)}
}

// ContentFileRef addresses a content file under its parent resource.
func ContentFileRef(fileID, resourceID int64) domain.DocRef {
	return domain.DocRef{
		ID:      domain.ContentFileDocID(fileID),
		Routing: strconv.FormatInt(resourceID, 10),
	}
}

// Documents adapts a serializer over a slice to the sequence form the engine
// consumes. Iteration stops after the first error.
func Documents[T any](items []T, fn func(T) (domain.Document, error)) iter.Seq2[domain.Document, error] {
	return func(yield func(domain.Document, error) bool) {
		for _, item := range items {
			doc, err := fn(item)
			if !yield(doc, err) || err != nil {
				return
			}
		}
	}
}

func toMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}
