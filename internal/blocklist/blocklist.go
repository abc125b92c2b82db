// Package blocklist loads the set of course readable ids that must never be
// indexed, and keeps it current while the file changes on disk.
//
// The file is YAML:
//
//	readable_ids:
//	  - MITx+6.00.1x
//	  - MITx+18.01x
//
// A bare YAML sequence is also accepted, and a file ending in .txt is read as
// one id per line with # comments.
package blocklist

import (
	"bufio"
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

type fileFormat struct {
	ReadableIDs []string `yaml:"readable_ids"`
}

// Blocklist is a concurrency-safe set of blocked readable ids.
type Blocklist struct {
	path string
	ids  atomic.Pointer[map[string]struct{}]
}

// New returns a blocklist holding ids, not backed by a file.
func New(ids ...string) *Blocklist {
	b := &Blocklist{}
	b.set(ids)
	return b
}

// Load reads the blocklist at path. An empty path or a missing file yields an
// empty blocklist; a file that exists but does not parse is an error.
func Load(path string) (*Blocklist, error) {
	b := &Blocklist{path: path}
	if path == "" {
		b.set(nil)
		return b, nil
	}
	if err := b.Reload(); err != nil {
		return nil, err
	}
	return b, nil
}

// Contains reports whether readableID is blocked.
func (b *Blocklist) Contains(readableID string) bool {
	m := b.ids.Load()
	if m == nil {
		return false
	}
	_, ok := (*m)[readableID]
	return ok
}

// Len returns the number of blocked ids.
func (b *Blocklist) Len() int {
	if m := b.ids.Load(); m != nil {
		return len(*m)
	}
	return 0
}

// Path returns the backing file, if any.
func (b *Blocklist) Path() string {
	return b.path
}

// Reload re-reads the backing file. On error the previous contents are kept.
func (b *Blocklist) Reload() error {
	if b.path == "" {
		return nil
	}
	data, err := os.ReadFile(b.path)
	if os.IsNotExist(err) {
		slog.Warn("blocklist_missing", slog.String("path", b.path))
		b.set(nil)
		return nil
	}
	if err != nil {
		return fmt.Errorf("read blocklist %s: %w", b.path, err)
	}

	ids, err := parse(b.path, data)
	if err != nil {
		return fmt.Errorf("parse blocklist %s: %w", b.path, err)
	}
	b.set(ids)
	slog.Debug("blocklist_loaded", slog.String("path", b.path), slog.Int("count", len(ids)))
	return nil
}

func (b *Blocklist) set(ids []string) {
	m := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			m[id] = struct{}{}
		}
	}
	b.ids.Store(&m)
}

func parse(path string, data []byte) ([]string, error) {
	if strings.EqualFold(filepath.Ext(path), ".txt") {
		return parseLines(data), nil
	}

	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, err
	}
	if len(node.Content) == 0 {
		return nil, nil
	}
	root := node.Content[0]
	if root.Kind == yaml.SequenceNode {
		var ids []string
		if err := root.Decode(&ids); err != nil {
			return nil, err
		}
		return ids, nil
	}
	var f fileFormat
	if err := root.Decode(&f); err != nil {
		return nil, err
	}
	return f.ReadableIDs, nil
}

func parseLines(data []byte) []string {
	var ids []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ids = append(ids, line)
	}
	return ids
}
