package index

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/Aman-CERP/learnsearch/internal/domain"
	"github.com/Aman-CERP/learnsearch/internal/engine"
	lserrors "github.com/Aman-CERP/learnsearch/internal/errors"
	"github.com/Aman-CERP/learnsearch/internal/queue"
)

// Task names.
const (
	TaskStartRecreateIndex  = "start_recreate_index"
	TaskFinishRecreateIndex = "finish_recreate_index"
	TaskStartUpdateIndex    = "start_update_index"

	TaskBulkIndexLearningResources   = "bulk_index_learning_resources"
	TaskBulkDeindexLearningResources = "bulk_deindex_learning_resources"
	TaskBulkIndexPercolateQueries    = "bulk_index_percolate_queries"
	TaskBulkDeindexPercolateQueries  = "bulk_deindex_percolate_queries"
	TaskIndexCourseContentFiles      = "index_course_content_files"
	TaskIndexRunContentFiles         = "index_run_content_files"
	TaskDeindexRunContentFiles       = "deindex_run_content_files"

	TaskUpsertLearningResource    = "upsert_learning_resource"
	TaskUpsertContentFile         = "upsert_content_file"
	TaskUpsertPercolateQuery      = "upsert_percolate_query"
	TaskDeindexDocument           = "deindex_document"
	TaskPercolateLearningResource = "percolate_learning_resource"
)

type recreateArgs struct {
	ObjectTypes []domain.ObjectType `json:"object_types"`
}

type finishArgs struct {
	Backing map[domain.ObjectType]string `json:"backing_indices"`
}

type updateArgs struct {
	ObjectTypes []domain.ObjectType `json:"object_types"`
	ETLSource   string              `json:"etl_source,omitempty"`
}

// bulkArgs carries one chunk of ids.
type bulkArgs struct {
	IDs        []int64           `json:"ids"`
	ObjectType domain.ObjectType `json:"object_type,omitempty"`
	Target     string            `json:"target,omitempty"`
}

type runArgs struct {
	RunID           int64  `json:"run_id"`
	Target          string `json:"target,omitempty"`
	UnpublishedOnly bool   `json:"unpublished_only,omitempty"`
}

type itemArgs struct {
	ID int64 `json:"id"`
}

type deindexArgs struct {
	ID         string            `json:"id"`
	ObjectType domain.ObjectType `json:"object_type"`
	Routing    string            `json:"routing,omitempty"`
}

// RecreateTask returns the entry task of a full rebuild of objectTypes.
// An empty list rebuilds every indexed type.
func RecreateTask(objectTypes []domain.ObjectType) (*queue.TaskSig, error) {
	types, err := recreateTypes(objectTypes)
	if err != nil {
		return nil, err
	}
	return queue.Task(TaskStartRecreateIndex, recreateArgs{ObjectTypes: types}), nil
}

// UpdateTask returns the entry task of an incremental update of
// objectTypes, limited to one ETL source when etlSource is set.
func UpdateTask(objectTypes []domain.ObjectType, etlSource string) (*queue.TaskSig, error) {
	types, err := updateTypes(objectTypes)
	if err != nil {
		return nil, err
	}
	return queue.Task(TaskStartUpdateIndex, updateArgs{ObjectTypes: types, ETLSource: etlSource}), nil
}

// UpsertTask returns the task that upserts record id of type ot.
func UpsertTask(ot domain.ObjectType, id int64) (*queue.TaskSig, error) {
	switch {
	case ot == domain.ContentFileType:
		return queue.Task(TaskUpsertContentFile, itemArgs{ID: id}), nil
	case ot == domain.PercolateType:
		return queue.Task(TaskUpsertPercolateQuery, itemArgs{ID: id}), nil
	case ot.IsLearningResource():
		return queue.Task(TaskUpsertLearningResource, itemArgs{ID: id}), nil
	}
	return nil, unknownType(ot)
}

// DeindexTask returns the task that removes document docID of type ot.
func DeindexTask(ot domain.ObjectType, docID, routing string) (*queue.TaskSig, error) {
	if _, err := domain.ParseObjectType(string(ot)); err != nil {
		return nil, unknownType(ot)
	}
	return queue.Task(TaskDeindexDocument, deindexArgs{ID: docID, ObjectType: ot, Routing: routing}), nil
}

// PercolateTask returns the task that percolates learning resource id.
func PercolateTask(id int64) *queue.TaskSig {
	return queue.Task(TaskPercolateLearningResource, itemArgs{ID: id})
}

func unknownType(ot domain.ObjectType) error {
	return lserrors.New(lserrors.ErrCodeUnknownObjectType, fmt.Sprintf("unknown object type %q", ot), nil)
}

// recreateTypes validates and orders the types of a full rebuild.
func recreateTypes(types []domain.ObjectType) ([]domain.ObjectType, error) {
	if len(types) == 0 {
		return slices.Clone(domain.IndexedTypes), nil
	}
	out := make([]domain.ObjectType, 0, len(types))
	for _, ot := range types {
		if !slices.Contains(domain.IndexedTypes, ot) {
			return nil, unknownType(ot)
		}
		if !slices.Contains(out, ot) {
			out = append(out, ot)
		}
	}
	slices.Sort(out)
	return out, nil
}

// updateTypes is recreateTypes plus content_file, which updates the files
// of courses without touching the courses themselves.
func updateTypes(types []domain.ObjectType) ([]domain.ObjectType, error) {
	if len(types) == 0 {
		return append(slices.Clone(domain.IndexedTypes), domain.ContentFileType), nil
	}
	var rest, out []domain.ObjectType
	for _, ot := range types {
		if ot == domain.ContentFileType {
			if !slices.Contains(out, ot) {
				out = append(out, ot)
			}
			continue
		}
		rest = append(rest, ot)
	}
	if len(rest) > 0 {
		checked, err := recreateTypes(rest)
		if err != nil {
			return nil, err
		}
		out = append(out, checked...)
	}
	slices.Sort(out)
	return out, nil
}

// flattenErrors collects the non-empty strings among group results,
// descending into lists produced by joined sub-groups.
func flattenErrors(results []json.RawMessage) []string {
	var errs []string
	for _, raw := range results {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			if s != "" {
				errs = append(errs, s)
			}
			continue
		}
		var nested []json.RawMessage
		if err := json.Unmarshal(raw, &nested); err == nil {
			errs = append(errs, flattenErrors(nested)...)
		}
	}
	return errs
}

func parseTarget(s string) (engine.Target, error) {
	t, err := engine.ParseTarget(s)
	if err != nil {
		return nil, lserrors.ValidationError(err.Error(), err)
	}
	return t, nil
}
