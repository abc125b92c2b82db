// Package engine is the index client: versioned backing indices built from
// bleve shards, public and reindexing aliases, bulk and partial writes, and
// percolation of saved queries.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Aman-CERP/learnsearch/internal/domain"
	lserrors "github.com/Aman-CERP/learnsearch/internal/errors"
)

// Config configures the engine.
type Config struct {
	// Root is the index directory. Empty keeps every index in memory.
	Root string
	// ShardCount is the number of shards of each new backing index.
	ShardCount int
	// MaxRequestSize bounds the bytes of one bulk write.
	MaxRequestSize int
	// DefaultTimeout applies to searches whose context has no deadline.
	DefaultTimeout time.Duration
	// PercolateCacheSize is the number of parsed saved queries kept.
	PercolateCacheSize int
}

// DefaultConfig returns an in-memory configuration.
func DefaultConfig() Config {
	return Config{
		ShardCount:         2,
		MaxRequestSize:     10 * 1024 * 1024,
		DefaultTimeout:     10 * time.Second,
		PercolateCacheSize: 1024,
	}
}

// Engine owns every backing index under its root.
type Engine struct {
	cfg  Config
	lock *fileLock

	// mu guards indices, aliases, and public. Alias switches hold it for
	// writing; document operations hold it for reading.
	mu      sync.RWMutex
	indices map[string]*backingIndex
	aliases aliasFile
	public  map[domain.ObjectType]bleve.IndexAlias
	closed  bool

	seq     atomic.Uint64
	queries *lru.Cache[string, query.Query]

	now func() time.Time
	// beforeCommit runs between the optimistic read and the guarded write.
	beforeCommit func(id string)
}

// Open loads the aliases and backing indices under cfg.Root, taking an
// exclusive lock on the directory.
func Open(ctx context.Context, cfg Config) (*Engine, error) {
	def := DefaultConfig()
	if cfg.ShardCount <= 0 {
		cfg.ShardCount = def.ShardCount
	}
	if cfg.MaxRequestSize <= 0 {
		cfg.MaxRequestSize = def.MaxRequestSize
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = def.DefaultTimeout
	}
	if cfg.PercolateCacheSize <= 0 {
		cfg.PercolateCacheSize = def.PercolateCacheSize
	}

	cache, err := lru.New[string, query.Query](cfg.PercolateCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create query cache: %w", err)
	}

	e := &Engine{
		cfg:     cfg,
		indices: make(map[string]*backingIndex),
		public:  make(map[domain.ObjectType]bleve.IndexAlias),
		queries: cache,
		now:     time.Now,
	}
	e.seq.Store(uint64(time.Now().UnixMicro()))

	if cfg.Root != "" {
		if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
			return nil, lserrors.Unavailable("create index directory "+cfg.Root, err)
		}
		e.lock = newFileLock(cfg.Root)
		acquired, err := e.lock.TryLock()
		if err != nil {
			return nil, lserrors.Unavailable("lock index directory", err)
		}
		if !acquired {
			return nil, lserrors.New(lserrors.ErrCodeEngineLocked,
				"index directory "+cfg.Root+" is in use by another process", nil).
				WithSuggestion("Stop the other worker, or point engine.index_dir elsewhere")
		}
	}

	if err := e.load(ctx); err != nil {
		_ = e.Close()
		return nil, err
	}
	return e, nil
}

func (e *Engine) load(ctx context.Context) error {
	aliases, err := loadAliases(e.cfg.Root)
	if err != nil {
		return lserrors.New(lserrors.ErrCodeEngineUnavailable, err.Error(), err)
	}
	e.aliases = aliases

	if e.cfg.Root == "" {
		return nil
	}
	entries, err := os.ReadDir(e.cfg.Root)
	if err != nil {
		return lserrors.Unavailable("read index directory", err)
	}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !entry.IsDir() {
			continue
		}
		ot, ok := parseBackingName(entry.Name())
		if !ok {
			continue
		}
		bi, err := openBackingIndex(e.cfg.Root, entry.Name(), ot)
		if err != nil {
			slog.Warn("backing_index_open_failed",
				slog.String("index", entry.Name()),
				slog.String("error", err.Error()))
			continue
		}
		e.indices[bi.name] = bi
	}

	// Drop alias entries whose index did not survive.
	for ot, rec := range e.aliases {
		if rec.Current != "" && e.indices[rec.Current] == nil {
			slog.Warn("alias_target_missing", slog.String("object_type", string(ot)), slog.String("index", rec.Current))
			rec.Current = ""
		}
		if rec.Reindexing != "" && e.indices[rec.Reindexing] == nil {
			rec.Reindexing = ""
		}
		if bi := e.indices[rec.Current]; bi != nil {
			e.public[ot] = bleve.NewIndexAlias(bi.shards...)
		}
	}
	slog.Info("engine_opened",
		slog.String("root", e.cfg.Root),
		slog.Int("indices", len(e.indices)))
	return nil
}

// Close closes every backing index and releases the directory lock.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	var firstErr error
	for _, bi := range e.indices {
		if err := bi.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if e.lock != nil {
		if err := e.lock.Unlock(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (e *Engine) checkOpen() error {
	if e.closed {
		return lserrors.Unavailable("engine is closed", nil)
	}
	return nil
}

// CreateBackingIndex allocates a new backing index for ot and points the
// reindexing alias at it. The public alias is untouched. A previous
// reindexing index is detached: it no longer receives reindexing writes and
// can no longer be promoted.
func (e *Engine) CreateBackingIndex(ctx context.Context, ot domain.ObjectType) (string, error) {
	if ot == domain.ContentFileType || ot == "" {
		return "", lserrors.New(lserrors.ErrCodeUnknownObjectType,
			fmt.Sprintf("%q has no index of its own", ot), nil)
	}
	if err := ctx.Err(); err != nil {
		return "", lserrors.FromEngine("create backing index", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkOpen(); err != nil {
		return "", err
	}

	name := newBackingName(ot, e.now())
	for e.indices[name] != nil {
		name = newBackingName(ot, e.now())
	}
	bi, err := createBackingIndex(e.cfg.Root, name, ot, e.cfg.ShardCount)
	if err != nil {
		return "", lserrors.New(lserrors.ErrCodeBackingIndexCreate, err.Error(), err)
	}

	next := e.aliases.clone()
	rec := next.get(ot)
	previous := rec.Reindexing
	rec.Reindexing = name
	if err := next.save(e.cfg.Root); err != nil {
		_ = bi.destroy()
		return "", lserrors.New(lserrors.ErrCodeBackingIndexCreate, err.Error(), err)
	}
	e.aliases = next
	e.indices[name] = bi

	attrs := []any{slog.String("object_type", string(ot)), slog.String("index", name)}
	if previous != "" {
		attrs = append(attrs, slog.String("detached", previous))
	}
	slog.Info("backing_index_created", attrs...)
	return name, nil
}

// SwitchIndices makes backing the public index of ot, clears the
// reindexing alias, and deletes the index it replaced. Readers see either
// the old or the new index, never both or neither. Only the index the
// reindexing alias points to can be promoted: one detached by a later
// CreateBackingIndex fails with ERR_205. Switching to the current index is
// a no-op.
func (e *Engine) SwitchIndices(ctx context.Context, backing string, ot domain.ObjectType) error {
	if err := ctx.Err(); err != nil {
		return lserrors.FromEngine("switch indices", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkOpen(); err != nil {
		return err
	}

	bi := e.indices[backing]
	if bi == nil || bi.objectType != ot {
		return lserrors.New(lserrors.ErrCodeIndexNotFound,
			fmt.Sprintf("backing index %s of %s not found", backing, ot), nil)
	}

	if live := e.aliases[ot]; live == nil || live.Reindexing != backing {
		if live != nil && live.Current == backing {
			return nil
		}
		return lserrors.New(lserrors.ErrCodeIndexNotFound,
			fmt.Sprintf("backing index %s is no longer the reindexing index of %s", backing, ot), nil).
			WithDetail("index", backing)
	}

	next := e.aliases.clone()
	rec := next.get(ot)
	old := rec.Current
	rec.Current = backing
	if rec.Reindexing == backing {
		rec.Reindexing = ""
	}
	if err := next.save(e.cfg.Root); err != nil {
		return lserrors.Unavailable("persist aliases", err)
	}
	e.aliases = next

	var oldIdx *backingIndex
	if old != "" && old != backing {
		oldIdx = e.indices[old]
	}
	if alias, ok := e.public[ot]; ok {
		var out []bleve.Index
		if oldIdx != nil {
			out = oldIdx.shards
		}
		alias.Swap(bi.shards, out)
	} else {
		e.public[ot] = bleve.NewIndexAlias(bi.shards...)
	}

	slog.Info("indices_switched",
		slog.String("object_type", string(ot)),
		slog.String("index", backing),
		slog.String("previous", old))

	if oldIdx != nil && !e.aliases.references(old) {
		delete(e.indices, old)
		if err := oldIdx.destroy(); err != nil {
			slog.Warn("backing_index_delete_failed", slog.String("index", old), slog.String("error", err.Error()))
		}
	}
	return nil
}

// DeleteBackingIndex deletes one backing index that is not public, clearing
// the reindexing alias if it points there. Deleting an absent index is a
// no-op. A current index is refused with a validation error.
func (e *Engine) DeleteBackingIndex(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return lserrors.FromEngine("delete backing index", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkOpen(); err != nil {
		return err
	}

	bi := e.indices[name]
	if bi == nil {
		return nil
	}
	rec := e.aliases[bi.objectType]
	if rec != nil && rec.Current == name {
		return lserrors.ValidationError(fmt.Sprintf("backing index %s is public", name), nil)
	}
	if rec != nil && rec.Reindexing == name {
		next := e.aliases.clone()
		next.get(bi.objectType).Reindexing = ""
		if err := next.save(e.cfg.Root); err != nil {
			return lserrors.Unavailable("persist aliases", err)
		}
		e.aliases = next
	}

	delete(e.indices, name)
	if err := bi.destroy(); err != nil {
		slog.Warn("backing_index_delete_failed", slog.String("index", name), slog.String("error", err.Error()))
	}
	slog.Info("backing_index_deleted", slog.String("index", name))
	return nil
}

// DeleteOrphanedIndices removes every reindexing alias and deletes every
// backing index no public alias points to. It returns the deleted names.
func (e *Engine) DeleteOrphanedIndices(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, lserrors.FromEngine("delete orphaned indices", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkOpen(); err != nil {
		return nil, err
	}

	next := e.aliases.clone()
	for _, rec := range next {
		rec.Reindexing = ""
	}
	if err := next.save(e.cfg.Root); err != nil {
		return nil, lserrors.Unavailable("persist aliases", err)
	}
	e.aliases = next

	var deleted []string
	for name, bi := range e.indices {
		if e.aliases.references(name) {
			continue
		}
		delete(e.indices, name)
		if err := bi.destroy(); err != nil {
			slog.Warn("backing_index_delete_failed", slog.String("index", name), slog.String("error", err.Error()))
		}
		deleted = append(deleted, name)
	}
	slices.Sort(deleted)
	if len(deleted) > 0 {
		slog.Info("orphaned_indices_deleted", slog.Any("indices", deleted))
	}
	return deleted, nil
}

// IndexInfo describes one backing index.
type IndexInfo struct {
	Name       string            `json:"name"`
	ObjectType domain.ObjectType `json:"object_type"`
	Current    bool              `json:"current"`
	Reindexing bool              `json:"reindexing"`
	Shards     int               `json:"shards"`
	Docs       uint64            `json:"docs"`
}

// Indices lists every backing index, ordered by name.
func (e *Engine) Indices() ([]IndexInfo, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.checkOpen(); err != nil {
		return nil, err
	}

	infos := make([]IndexInfo, 0, len(e.indices))
	for name, bi := range e.indices {
		docs, err := bi.docCount()
		if err != nil {
			return nil, lserrors.FromEngine("count "+name, err)
		}
		rec := e.aliases[bi.objectType]
		infos = append(infos, IndexInfo{
			Name:       name,
			ObjectType: bi.objectType,
			Current:    rec != nil && rec.Current == name,
			Reindexing: rec != nil && rec.Reindexing == name,
			Shards:     len(bi.shards),
			Docs:       docs,
		})
	}
	slices.SortFunc(infos, func(a, b IndexInfo) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
	return infos, nil
}

// Aliases returns the alias record of ot.
func (e *Engine) Aliases(ot domain.ObjectType) (current, reindexing string) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if rec := e.aliases[ot.IndexType()]; rec != nil {
		return rec.Current, rec.Reindexing
	}
	return "", ""
}

// resolve returns the backing indices target selects for ot. Callers hold mu.
func (e *Engine) resolve(ot domain.ObjectType, target Target) []*backingIndex {
	if name, ok := target.(backingName); ok {
		if bi := e.indices[string(name)]; bi != nil && bi.objectType == ot.IndexType() {
			return []*backingIndex{bi}
		}
		return nil
	}
	rec := e.aliases[ot.IndexType()]
	if rec == nil {
		return nil
	}
	var names []string
	switch target {
	case CurrentIndex:
		names = []string{rec.Current}
	case ReindexingIndex:
		names = []string{rec.Reindexing}
	default:
		names = []string{rec.Current, rec.Reindexing}
	}
	var out []*backingIndex
	for i, name := range names {
		if name == "" || (i == 1 && name == names[0]) {
			continue
		}
		if bi := e.indices[name]; bi != nil {
			out = append(out, bi)
		}
	}
	return out
}

func (e *Engine) nextSeq() uint64 {
	return e.seq.Add(1)
}

// engineErr classifies an error raised by bleve.
func engineErr(op string, err error) error {
	if err == bleve.ErrorIndexClosed {
		return lserrors.Unavailable(op+": index closed", err)
	}
	return lserrors.FromEngine(op, err)
}
