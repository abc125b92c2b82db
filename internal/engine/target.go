package engine

import (
	"fmt"
	"strings"
)

// Target selects which backing indices a bulk write goes to: one of
// CurrentIndex, ReindexingIndex and AllIndexes, or a single index named
// with BackingIndex.
type Target interface {
	fmt.Stringer
	target()
}

type targetName string

func (t targetName) String() string { return string(t) }
func (targetName) target()          {}

const backingPrefix = "index:"

type backingName string

func (b backingName) String() string { return backingPrefix + string(b) }
func (backingName) target()          {}

var (
	// CurrentIndex is the index behind the public alias.
	CurrentIndex Target = targetName("current")
	// ReindexingIndex is the index being rebuilt.
	ReindexingIndex Target = targetName("reindexing")
	// AllIndexes is every active index of the type.
	AllIndexes Target = targetName("all")
)

// BackingIndex targets the named backing index whether or not an alias
// still points to it. Rebuild chunks use it so a rebuild only ever fills
// the index it created.
func BackingIndex(name string) Target {
	return backingName(name)
}

// ParseTarget decodes a target name carried in task arguments.
func ParseTarget(s string) (Target, error) {
	switch s {
	case "current":
		return CurrentIndex, nil
	case "reindexing":
		return ReindexingIndex, nil
	case "all", "":
		return AllIndexes, nil
	}
	if name, ok := strings.CutPrefix(s, backingPrefix); ok && name != "" {
		return BackingIndex(name), nil
	}
	return nil, fmt.Errorf("unknown index target %q", s)
}
