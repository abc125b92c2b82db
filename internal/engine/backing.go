package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/google/uuid"

	"github.com/Aman-CERP/learnsearch/internal/domain"
)

// backingIndex is one generation of an object type's index, split into
// shards by routing key.
type backingIndex struct {
	name       string
	objectType domain.ObjectType
	dir        string // empty when memory only
	shards     []bleve.Index
	// writeLocks serialize commits per shard so optimistic updates can
	// compare-and-write.
	writeLocks []sync.Mutex
}

// newBackingName returns <object_type>_<yyyymmddhhmmss>_<8 hex>.
func newBackingName(ot domain.ObjectType, now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s_%s_%s", ot, now.UTC().Format("20060102150405"), suffix)
}

// parseBackingName recovers the object type from a backing index name.
func parseBackingName(name string) (domain.ObjectType, bool) {
	i := strings.LastIndexByte(name, '_')
	if i <= 0 || len(name)-i-1 != 8 {
		return "", false
	}
	j := strings.LastIndexByte(name[:i], '_')
	if j <= 0 || i-j-1 != 14 {
		return "", false
	}
	ot, err := domain.ParseObjectType(name[:j])
	if err != nil || ot == domain.ContentFileType {
		return "", false
	}
	return ot, true
}

func shardDir(dir string, n int) string {
	return filepath.Join(dir, "shard_"+strconv.Itoa(n))
}

func createBackingIndex(root, name string, ot domain.ObjectType, shardCount int) (*backingIndex, error) {
	bi := &backingIndex{
		name:       name,
		objectType: ot,
		shards:     make([]bleve.Index, 0, shardCount),
		writeLocks: make([]sync.Mutex, shardCount),
	}
	if root != "" {
		bi.dir = filepath.Join(root, name)
		if err := os.MkdirAll(bi.dir, 0o755); err != nil {
			return nil, fmt.Errorf("create index directory: %w", err)
		}
	}

	for n := range shardCount {
		var (
			idx bleve.Index
			err error
		)
		if bi.dir == "" {
			idx, err = bleve.NewMemOnly(newIndexMapping(ot))
		} else {
			idx, err = bleve.New(shardDir(bi.dir, n), newIndexMapping(ot))
		}
		if err != nil {
			_ = bi.destroy()
			return nil, fmt.Errorf("create shard %d of %s: %w", n, name, err)
		}
		bi.shards = append(bi.shards, idx)
	}
	return bi, nil
}

func openBackingIndex(root, name string, ot domain.ObjectType) (*backingIndex, error) {
	bi := &backingIndex{name: name, objectType: ot, dir: filepath.Join(root, name)}
	for n := 0; ; n++ {
		path := shardDir(bi.dir, n)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			break
		}
		idx, err := bleve.Open(path)
		if err != nil {
			_ = bi.close()
			return nil, fmt.Errorf("open shard %d of %s: %w", n, name, err)
		}
		bi.shards = append(bi.shards, idx)
	}
	if len(bi.shards) == 0 {
		return nil, fmt.Errorf("backing index %s has no shards", name)
	}
	bi.writeLocks = make([]sync.Mutex, len(bi.shards))
	return bi, nil
}

// shardFor picks the shard of a document: FNV-1a of the routing key (or the
// id when unrouted) modulo the shard count.
func (bi *backingIndex) shardFor(id, routing string) int {
	key := routing
	if key == "" {
		key = id
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(bi.shards)))
}

func (bi *backingIndex) close() error {
	var firstErr error
	for _, s := range bi.shards {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// destroy closes the shards and removes the index from disk.
func (bi *backingIndex) destroy() error {
	err := bi.close()
	if bi.dir != "" {
		if rmErr := os.RemoveAll(bi.dir); rmErr != nil && err == nil {
			err = rmErr
		}
	}
	return err
}

func (bi *backingIndex) docCount() (uint64, error) {
	var total uint64
	for _, s := range bi.shards {
		n, err := s.DocCount()
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// storedDoc is a document read back from a shard.
type storedDoc struct {
	Source map[string]any
	Seq    uint64
}

// read loads a document from its shard. When routing is set, only a
// document written with the same routing matches.
func (bi *backingIndex) read(ctx context.Context, shard int, id, routing string) (*storedDoc, error) {
	var q query.Query = bleve.NewDocIDQuery([]string{id})
	if routing != "" {
		rq := bleve.NewTermQuery(routing)
		rq.SetField(routingField)
		q = bleve.NewConjunctionQuery(q, rq)
	}
	req := bleve.NewSearchRequestOptions(q, 1, 0, false)
	req.Fields = []string{sourceField, seqField}

	res, err := bi.shards[shard].SearchInContext(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(res.Hits) == 0 {
		return nil, nil
	}
	return decodeHit(res.Hits[0].Fields)
}

func decodeHit(fields map[string]any) (*storedDoc, error) {
	doc := &storedDoc{}
	if raw, ok := fields[sourceField].(string); ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &doc.Source); err != nil {
			return nil, fmt.Errorf("decode stored source: %w", err)
		}
	}
	if seq, ok := fields[seqField].(float64); ok {
		doc.Seq = uint64(seq)
	}
	return doc, nil
}

// indexedValue is what bleve indexes for a document: the body plus the
// reserved source, sequence, and routing fields.
func indexedValue(body map[string]any, source []byte, seq uint64, routing string) map[string]any {
	v := make(map[string]any, len(body)+3)
	for k, val := range body {
		v[k] = val
	}
	v[sourceField] = string(source)
	v[seqField] = float64(seq)
	if routing != "" {
		v[routingField] = routing
	}
	return v
}
