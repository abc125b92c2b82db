// Package version provides build and version information for learnsearch.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
)

// Version is set via ldflags at build time:
// -X github.com/Aman-CERP/learnsearch/pkg/version.Version=$(VERSION)
var Version = "dev"

var (
	// Commit is the short git commit hash.
	Commit = "unknown"
	// Date is the build date in RFC3339 format.
	Date = "unknown"
	// GoVersion is the Go version used to build the binary.
	GoVersion = runtime.Version()
)

var fillOnce sync.Once

// fill takes commit and date from the VCS stamp that `go build` embeds when
// ldflags did not set them.
func fill() {
	fillOnce.Do(func() {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}
		applyVCS(info.Settings)
	})
}

func applyVCS(settings []debug.BuildSetting) {
	var modified bool
	for _, s := range settings {
		switch s.Key {
		case "vcs.revision":
			if Commit == "unknown" && s.Value != "" {
				Commit = s.Value[:min(len(s.Value), 7)]
			}
		case "vcs.time":
			if Date == "unknown" && s.Value != "" {
				Date = s.Value
			}
		case "vcs.modified":
			modified = s.Value == "true"
		}
	}
	if modified && Commit != "unknown" {
		Commit += "-dirty"
	}
}

// BuildInfo is structured version information for JSON output.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// String returns the version line printed by `learnsearch version`.
func String() string {
	fill()
	return fmt.Sprintf("learnsearch %s (commit: %s, built: %s, go: %s, %s/%s)",
		Version, Commit, Date, GoVersion, runtime.GOOS, runtime.GOARCH)
}

// Short returns just the version string.
func Short() string {
	return Version
}

// GetInfo returns structured version information.
func GetInfo() BuildInfo {
	fill()
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: GoVersion,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}
