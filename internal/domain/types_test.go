package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseObjectType(t *testing.T) {
	for _, ot := range append(IndexedTypes, ContentFileType) {
		got, err := ParseObjectType(string(ot))
		require.NoError(t, err)
		assert.Equal(t, ot, got)
	}

	_, err := ParseObjectType("lecture")
	assert.Error(t, err)
}

func TestObjectType_IndexType(t *testing.T) {
	assert.Equal(t, CourseType, ContentFileType.IndexType())
	assert.Equal(t, VideoType, VideoType.IndexType())
	assert.Equal(t, PercolateType, PercolateType.IndexType())
}

func TestObjectType_IsLearningResource(t *testing.T) {
	assert.True(t, PodcastEpisodeType.IsLearningResource())
	assert.False(t, PercolateType.IsLearningResource())
	assert.False(t, ContentFileType.IsLearningResource())
}

func TestIndexedTypes_DoesNotAliasResourceTypes(t *testing.T) {
	assert.Len(t, IndexedTypes, len(LearningResourceTypes)+1)
	assert.Len(t, LearningResourceTypes, 7)
}

func TestDocIDs(t *testing.T) {
	assert.Equal(t, "42", ResourceDocID(42))
	assert.Equal(t, "cf_7", ContentFileDocID(7))
	assert.Equal(t, "3", PercolateDocID(3))
}
