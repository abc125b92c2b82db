package serialize

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/learnsearch/internal/domain"
	lserrors "github.com/Aman-CERP/learnsearch/internal/errors"
)

func course(prices ...float64) domain.LearningResource {
	return domain.LearningResource{
		ID:           7,
		ReadableID:   "MITx+6.0001",
		ResourceType: domain.CourseType,
		Title:        "Intro to CS",
		Published:    true,
		CreatedOn:    time.Date(2024, 3, 1, 12, 30, 0, 0, time.FixedZone("EST", -5*3600)),
		Prices:       prices,
		Course: &domain.Course{CourseNumbers: []domain.CourseNumber{
			{Value: "6.0001", Department: "6"},
			{Value: "18.01", Department: "18"},
		}},
	}
}

func TestLearningResource_CourseFields(t *testing.T) {
	doc, err := LearningResource(course(0, 100))
	require.NoError(t, err)

	assert.Equal(t, "7", doc.ID)
	assert.Empty(t, doc.Routing)
	assert.Equal(t, true, doc.Body["free"])
	assert.Equal(t, map[string]any{"name": "resource"}, doc.Body["resource_relations"])
	assert.Equal(t, "2024-03-01T17:30:00Z", doc.Body["created_on"])
	assert.Equal(t, "Intro to CS", doc.Body["title"])

	numbers := doc.Body["course"].(map[string]any)["course_numbers"].([]any)
	require.Len(t, numbers, 2)
	first := numbers[0].(map[string]any)
	assert.Equal(t, true, first["primary"])
	assert.Equal(t, "06.0001", first["sort_coursenum"])
	second := numbers[1].(map[string]any)
	assert.Equal(t, false, second["primary"])
	assert.Equal(t, "18.01", second["sort_coursenum"])
}

func TestLearningResource_Free(t *testing.T) {
	tests := []struct {
		name         string
		resourceType domain.ObjectType
		prices       []float64
		want         bool
	}{
		{"course without prices", domain.CourseType, nil, true},
		{"course with zero", domain.CourseType, []float64{0, 50}, true},
		{"paid course", domain.CourseType, []float64{50}, false},
		{"paid program", domain.ProgramType, []float64{1000}, false},
		{"video ignores prices", domain.VideoType, []float64{10}, true},
		{"podcast", domain.PodcastType, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := domain.LearningResource{ID: 1, ResourceType: tt.resourceType, Prices: tt.prices}
			switch tt.resourceType {
			case domain.CourseType:
				r.Course = &domain.Course{}
			case domain.ProgramType:
				r.Program = &domain.Program{}
			}
			doc, err := LearningResource(r)
			require.NoError(t, err)
			assert.Equal(t, tt.want, doc.Body["free"])
		})
	}
}

func TestLearningResource_MissingRelation(t *testing.T) {
	c := course()
	c.Course = nil
	_, err := LearningResource(c)
	require.Error(t, err)
	assert.Equal(t, lserrors.ErrCodeMissingRelation, lserrors.GetCode(err))
	assert.Equal(t, lserrors.KindFatal, lserrors.Classify(err))

	_, err = LearningResource(domain.LearningResource{ID: 2, ResourceType: domain.ProgramType})
	assert.Equal(t, lserrors.ErrCodeMissingRelation, lserrors.GetCode(err))
}

func TestCourseNumbers_KeepsFlaggedPrimary(t *testing.T) {
	in := []domain.CourseNumber{
		{Value: "6.0001"},
		{Value: "6.100A", Primary: true},
	}
	out := CourseNumbers(in)

	assert.False(t, out[0].Primary)
	assert.True(t, out[1].Primary)
	assert.False(t, in[0].Primary, "input must not be mutated")
}

func TestSortCoursenum(t *testing.T) {
	tests := map[string]string{
		"6.0001":  "06.0001",
		"18.01":   "18.01",
		"CMS.631": "CMS.631",
		"6":       "6",
		"":        "",
		"2.S980":  "02.S980",
	}
	for in, want := range tests {
		assert.Equal(t, want, SortCoursenum(in), in)
	}
}

func TestContentFile(t *testing.T) {
	f := domain.ContentFile{
		ID:                 12,
		RunID:              701,
		Title:              "Lecture 1",
		Published:          true,
		Run:                &domain.Run{ID: 701, LearningResourceID: 7, RunID: "fall-2024"},
		ResourceReadableID: "MITx+6.0001",
	}

	doc, err := ContentFile(f)
	require.NoError(t, err)

	assert.Equal(t, "cf_12", doc.ID)
	assert.Equal(t, "7", doc.Routing)
	assert.Equal(t, map[string]any{"name": "content_file", "parent": int64(7)}, doc.Body["resource_relations"])
	assert.Equal(t, "MITx+6.0001", doc.Body["resource_readable_id"])
	assert.Equal(t, "fall-2024", doc.Body["run_readable_id"])
	assert.Equal(t, "Lecture 1", doc.Body["title"])
}

func TestContentFile_MissingRun(t *testing.T) {
	_, err := ContentFile(domain.ContentFile{ID: 3, RunID: 9})
	require.Error(t, err)
	assert.Equal(t, lserrors.ErrCodeMissingRelation, lserrors.GetCode(err))
}

func TestPercolateQuery(t *testing.T) {
	q := domain.PercolateQuery{
		ID: 4,
		Query: json.RawMessage(`{"bool":{"should":[{"match":"python","field":"title"},
			{"has_child":{"type":"content_file"}}]}}`),
	}

	doc, err := PercolateQuery(q)
	require.NoError(t, err)

	assert.Equal(t, "4", doc.ID)
	assert.Equal(t, int64(4), doc.Body["id"])
	assert.Equal(t, map[string]any{
		"bool": map[string]any{"should": []any{
			map[string]any{"match": "python", "field": "title"},
		}},
	}, doc.Body["query"])
}

func TestPercolateQuery_FallsBackToOriginal(t *testing.T) {
	doc, err := PercolateQuery(domain.PercolateQuery{ID: 1, OriginalQuery: json.RawMessage(`{"match_all":{}}`)})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"match_all": map[string]any{}}, doc.Body["query"])
}

func TestPercolateQuery_InvalidJSON(t *testing.T) {
	_, err := PercolateQuery(domain.PercolateQuery{ID: 1, Query: json.RawMessage(`[1,2]`)})
	assert.Equal(t, lserrors.ErrCodeInvalidQuery, lserrors.GetCode(err))
}

func TestRefs(t *testing.T) {
	assert.Equal(t, domain.DocRef{ID: "5"}, ResourceRef(5))
	assert.Equal(t, domain.DocRef{ID: "5"}, PercolateRef(5))
	assert.Equal(t, domain.DocRef{ID: "cf_9", Routing: "5"}, ContentFileRef(9, 5))
}

func TestDocuments_StopsAtFirstError(t *testing.T) {
	boom := errors.New("boom")
	seq := Documents([]int{1, 2, 3}, func(i int) (domain.Document, error) {
		if i == 2 {
			return domain.Document{}, boom
		}
		return domain.Document{ID: string(rune('0' + i))}, nil
	})

	var ids []string
	var gotErr error
	for doc, err := range seq {
		if err != nil {
			gotErr = err
			continue
		}
		ids = append(ids, doc.ID)
	}
	assert.Equal(t, []string{"1"}, ids)
	assert.ErrorIs(t, gotErr, boom)
}
