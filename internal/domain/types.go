// Package domain holds the records read from the source of truth and the
// documents written to the index.
package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// ObjectType names an indexed object kind. Every type except ContentFileType
// has its own public alias; content files live in the course index.
type ObjectType string

const (
	CourseType         ObjectType = "course"
	ProgramType        ObjectType = "program"
	PodcastType        ObjectType = "podcast"
	PodcastEpisodeType ObjectType = "podcast_episode"
	LearningPathType   ObjectType = "learning_path"
	VideoType          ObjectType = "video"
	VideoPlaylistType  ObjectType = "video_playlist"
	PercolateType      ObjectType = "percolator"
	ContentFileType    ObjectType = "content_file"
)

// LearningResourceTypes are the resource types that map one-to-one to an index.
var LearningResourceTypes = []ObjectType{
	CourseType,
	ProgramType,
	PodcastType,
	PodcastEpisodeType,
	LearningPathType,
	VideoType,
	VideoPlaylistType,
}

// IndexedTypes are the object types that own a backing index and an alias.
var IndexedTypes = append(append([]ObjectType{}, LearningResourceTypes...), PercolateType)

// ParseObjectType validates s against the known object types.
func ParseObjectType(s string) (ObjectType, error) {
	switch ot := ObjectType(s); ot {
	case CourseType, ProgramType, PodcastType, PodcastEpisodeType, LearningPathType,
		VideoType, VideoPlaylistType, PercolateType, ContentFileType:
		return ot, nil
	default:
		return "", fmt.Errorf("unknown object type %q", s)
	}
}

// IsLearningResource reports whether ot is a learning resource type.
func (ot ObjectType) IsLearningResource() bool {
	for _, t := range LearningResourceTypes {
		if t == ot {
			return true
		}
	}
	return false
}

// IndexType returns the object type whose index stores documents of ot.
func (ot ObjectType) IndexType() ObjectType {
	if ot == ContentFileType {
		return CourseType
	}
	return ot
}

// Topic is a subject tag.
type Topic struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Department is an academic department.
type Department struct {
	DepartmentID string `json:"department_id"`
	Name         string `json:"name"`
}

// Offeror is the organization that offers a resource.
type Offeror struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// Platform is the hosting platform of a resource.
type Platform struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// CourseNumber is one listing of a course. Primary and SortCoursenum are
// filled in by the serializer when the source leaves them empty.
type CourseNumber struct {
	Value         string `json:"value"`
	Department    string `json:"department,omitempty"`
	ListingType   string `json:"listing_type,omitempty"`
	Primary       bool   `json:"primary"`
	SortCoursenum string `json:"sort_coursenum"`
}

// Course is the course-specific relation of a learning resource.
type Course struct {
	CourseNumbers []CourseNumber `json:"course_numbers"`
}

// Program is the program-specific relation of a learning resource.
type Program struct {
	CourseCount int `json:"course_count"`
}

// Run is one offering of a learning resource.
type Run struct {
	ID                 int64      `json:"id"`
	LearningResourceID int64      `json:"learning_resource_id"`
	RunID              string     `json:"run_id"`
	Title              string     `json:"title"`
	Published          bool       `json:"published"`
	StartDate          *time.Time `json:"start_date"`
	EndDate            *time.Time `json:"end_date"`
	Prices             []float64  `json:"prices"`
}

// LearningResource is a course, program, podcast, or other catalog entry.
type LearningResource struct {
	ID           int64        `json:"id"`
	ReadableID   string       `json:"readable_id"`
	ResourceType ObjectType   `json:"resource_type"`
	Title        string       `json:"title"`
	Description  string       `json:"description"`
	URL          string       `json:"url"`
	ImageURL     string       `json:"image_url"`
	Published    bool         `json:"published"`
	ETLSource    string       `json:"etl_source"`
	CreatedOn    time.Time    `json:"created_on"`
	Prices       []float64    `json:"prices"`
	Topics       []Topic      `json:"topics"`
	Departments  []Department `json:"departments"`
	OfferedBy    *Offeror     `json:"offered_by"`
	Platform     *Platform    `json:"platform"`
	Runs         []Run        `json:"runs"`
	Course       *Course      `json:"course"`
	Program      *Program     `json:"program"`
}

// ResourceRef is the slice of a learning resource needed to decide whether
// it belongs in the index.
type ResourceRef struct {
	ID         int64
	ReadableID string
	Published  bool
	ETLSource  string
}

// ContentFile is a file attached to a learning resource run.
type ContentFile struct {
	ID          int64  `json:"id"`
	RunID       int64  `json:"run_id"`
	Key         string `json:"key"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Content     string `json:"content"`
	ContentType string `json:"content_type"`
	FileType    string `json:"file_type"`
	URL         string `json:"url"`
	Checksum    string `json:"checksum"`
	Published   bool   `json:"published"`

	// Run is the owning run; required for routing.
	Run *Run `json:"-"`
	// ResourceReadableID is the readable id of the owning resource.
	ResourceReadableID string `json:"-"`
}

// PercolateQuery is a saved search evaluated against new documents.
type PercolateQuery struct {
	ID            int64           `json:"id"`
	SourceType    string          `json:"source_type"`
	OriginalQuery json.RawMessage `json:"original_query"`
	Query         json.RawMessage `json:"query"`
}

// Document is an index-ready document.
type Document struct {
	ID      string
	Routing string
	Body    map[string]any
}

// DocRef addresses a document for deletion.
type DocRef struct {
	ID      string
	Routing string
}

// ResourceDocID returns the index id of a learning resource.
func ResourceDocID(id int64) string {
	return strconv.FormatInt(id, 10)
}

// ContentFileDocID returns the index id of a content file.
func ContentFileDocID(id int64) string {
	return "cf_" + strconv.FormatInt(id, 10)
}

// PercolateDocID returns the index id of a percolate query.
func PercolateDocID(id int64) string {
	return strconv.FormatInt(id, 10)
}
