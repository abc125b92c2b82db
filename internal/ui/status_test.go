package ui

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleStatus() StatusInfo {
	return StatusInfo{
		EngineDir: "/var/lib/learnsearch/engine",
		Types: []TypeStatus{
			{ObjectType: "course", Current: "course_a1", Documents: 120, Reindexing: "course_b2"},
			{ObjectType: "program", Documents: 0},
		},
		Orphans:   []string{"video_old"},
		Queue:     map[string]int{"succeeded": 10, "failed": 1, "queued": 0},
		QueueSize: 2048,
		StoreSize: 3 * 1024 * 1024,
	}
}

func TestStatusRenderer_Render(t *testing.T) {
	buf := &bytes.Buffer{}
	r := NewStatusRenderer(buf, true)

	require.NoError(t, r.Render(sampleStatus()))

	out := buf.String()
	assert.Contains(t, out, "Search Engine: /var/lib/learnsearch/engine")
	assert.Regexp(t, `course\s+course_a1\s+120\s+course_b2`, out)
	assert.Regexp(t, `program\s+-\s+0\s+-`, out)
	assert.Contains(t, out, "Orphaned: video_old")
	assert.Contains(t, out, "Store: 3.0 MB")
	assert.Contains(t, out, "Queue: 2.0 KB")

	// Queue states are sorted
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("failed:")), bytes.Index(buf.Bytes(), []byte("succeeded:")))
}

func TestStatusRenderer_InMemoryAndEmptyQueue(t *testing.T) {
	buf := &bytes.Buffer{}
	r := NewStatusRenderer(buf, true)

	require.NoError(t, r.Render(StatusInfo{}))

	assert.Contains(t, buf.String(), "(in memory)")
	assert.Contains(t, buf.String(), "empty")
	assert.NotContains(t, buf.String(), "Orphaned")
}

func TestStatusRenderer_RenderJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	r := NewStatusRenderer(buf, true)

	require.NoError(t, r.RenderJSON(sampleStatus()))

	var got StatusInfo
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, sampleStatus(), got)
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1536, "1.5 KB"},
		{5 * 1024 * 1024, "5.0 MB"},
		{3 * 1024 * 1024 * 1024, "3.0 GB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatBytes(tt.in))
	}
}
