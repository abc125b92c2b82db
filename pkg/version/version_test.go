package version

import (
	"encoding/json"
	"regexp"
	"runtime"
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersion_FollowsSemverOrDev(t *testing.T) {
	semver := regexp.MustCompile(`^v?\d+\.\d+\.\d+(-[0-9A-Za-z.-]+)?$`)
	assert.True(t, Version == "dev" || semver.MatchString(Version), "unexpected version %q", Version)
}

func TestString(t *testing.T) {
	s := String()

	assert.Contains(t, s, "learnsearch "+Version)
	assert.Contains(t, s, "commit: "+Commit)
	assert.Contains(t, s, runtime.GOOS+"/"+runtime.GOARCH)
	assert.Equal(t, Version, Short())
}

func TestGetInfo_JSON(t *testing.T) {
	data, err := json.Marshal(GetInfo())
	require.NoError(t, err)

	var fields map[string]string
	require.NoError(t, json.Unmarshal(data, &fields))
	assert.Equal(t, Version, fields["version"])
	assert.Equal(t, runtime.GOOS, fields["os"])
	for _, k := range []string{"commit", "date", "go_version", "arch"} {
		assert.Contains(t, fields, k)
	}
}

func TestApplyVCS(t *testing.T) {
	commit, date := Commit, Date
	t.Cleanup(func() { Commit, Date = commit, date })

	tests := []struct {
		name       string
		commit     string
		settings   []debug.BuildSetting
		wantCommit string
		wantDate   string
	}{
		{
			name:   "fills unset fields",
			commit: "unknown",
			settings: []debug.BuildSetting{
				{Key: "vcs.revision", Value: "0123456789abcdef"},
				{Key: "vcs.time", Value: "2026-01-02T03:04:05Z"},
			},
			wantCommit: "0123456",
			wantDate:   "2026-01-02T03:04:05Z",
		},
		{
			name:   "marks modified trees",
			commit: "unknown",
			settings: []debug.BuildSetting{
				{Key: "vcs.revision", Value: "abc"},
				{Key: "vcs.modified", Value: "true"},
			},
			wantCommit: "abc-dirty",
			wantDate:   "unknown",
		},
		{
			name:       "keeps ldflags values",
			commit:     "feedbee",
			settings:   []debug.BuildSetting{{Key: "vcs.revision", Value: "0123456789"}},
			wantCommit: "feedbee",
			wantDate:   "unknown",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Commit, Date = tt.commit, "unknown"
			applyVCS(tt.settings)
			assert.Equal(t, tt.wantCommit, Commit)
			assert.Equal(t, tt.wantDate, Date)
		})
	}
}
