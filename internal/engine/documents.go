package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"maps"
	"strconv"

	"github.com/blevesearch/bleve/v2"

	"github.com/Aman-CERP/learnsearch/internal/domain"
	lserrors "github.com/Aman-CERP/learnsearch/internal/errors"
)

// UpsertOptions tunes UpsertDocument.
type UpsertOptions struct {
	// RetryOnConflict is how many times a lost optimistic race is retried.
	RetryOnConflict int
	// Routing places a child document on its parent's shard.
	Routing string
	// DocAsUpsert creates the document when no active index holds it.
	DocAsUpsert bool
}

// UpsertDocument merges the top-level fields of doc into the stored
// document id in every active index of ot. An index that lacks the document
// while another active index holds it receives the document as given.
//
// It fails with a not-found error when ot has no index yet, when a routed
// document's parent is not present on the routed shard, or, unless
// DocAsUpsert is set, when no active index holds the document. A commit that
// keeps losing to concurrent writers fails with a version conflict.
func (e *Engine) UpsertDocument(ctx context.Context, id string, doc map[string]any, ot domain.ObjectType, opts UpsertOptions) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.checkOpen(); err != nil {
		return err
	}

	targets := e.resolve(ot, AllIndexes)
	if len(targets) == 0 {
		return lserrors.NotFound(fmt.Sprintf("no index for %s", ot)).
			WithDetail("object_type", string(ot))
	}

	for _, bi := range targets {
		if opts.Routing != "" {
			parent, err := bi.read(ctx, bi.shardFor(opts.Routing, opts.Routing), opts.Routing, "")
			if err != nil {
				return engineErr("read parent", err)
			}
			if parent == nil {
				return lserrors.NotFound(fmt.Sprintf("parent %s of %s not found in %s", opts.Routing, id, bi.name)).
					WithDetail("index", bi.name)
			}
		}
	}

	if !opts.DocAsUpsert {
		found, err := e.existsIn(ctx, targets, id, opts.Routing)
		if err != nil {
			return err
		}
		if !found {
			return lserrors.NotFound(fmt.Sprintf("document %s of %s not found", id, ot)).
				WithDetail("object_type", string(ot))
		}
	}

	for _, bi := range targets {
		if err := e.upsertOne(ctx, bi, id, doc, opts); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) existsIn(ctx context.Context, targets []*backingIndex, id, routing string) (bool, error) {
	for _, bi := range targets {
		existing, err := bi.read(ctx, bi.shardFor(id, routing), id, routing)
		if err != nil {
			return false, engineErr("read "+id, err)
		}
		if existing != nil {
			return true, nil
		}
	}
	return false, nil
}

func (e *Engine) upsertOne(ctx context.Context, bi *backingIndex, id string, doc map[string]any, opts UpsertOptions) error {
	shard := bi.shardFor(id, opts.Routing)
	for attempt := 0; attempt <= opts.RetryOnConflict; attempt++ {
		existing, err := bi.read(ctx, shard, id, opts.Routing)
		if err != nil {
			return engineErr("read "+id, err)
		}
		merged := make(map[string]any, len(doc))
		var seen uint64
		if existing != nil {
			maps.Copy(merged, existing.Source)
			seen = existing.Seq
		}
		maps.Copy(merged, doc)

		if e.beforeCommit != nil {
			e.beforeCommit(id)
		}

		committed, err := e.commitIfUnchanged(ctx, bi, shard, id, opts.Routing, merged, existing != nil, seen)
		if err != nil {
			return err
		}
		if committed {
			return nil
		}
		slog.Debug("upsert_conflict",
			slog.String("index", bi.name),
			slog.String("id", id),
			slog.Int("attempt", attempt+1))
	}
	return lserrors.New(lserrors.ErrCodeVersionConflict,
		fmt.Sprintf("version conflict updating %s in %s", id, bi.name), nil).
		WithDetail("retry_on_conflict", strconv.Itoa(opts.RetryOnConflict))
}

// commitIfUnchanged writes merged under the shard lock if the stored
// sequence still matches what the caller read.
func (e *Engine) commitIfUnchanged(ctx context.Context, bi *backingIndex, shard int, id, routing string,
	merged map[string]any, existed bool, seen uint64) (bool, error) {
	bi.writeLocks[shard].Lock()
	defer bi.writeLocks[shard].Unlock()

	current, err := bi.read(ctx, shard, id, routing)
	if err != nil {
		return false, engineErr("read "+id, err)
	}
	if (current != nil) != existed || (current != nil && current.Seq != seen) {
		return false, nil
	}

	source, err := json.Marshal(merged)
	if err != nil {
		return false, lserrors.ValidationError("encode "+id, err)
	}
	if err := bi.shards[shard].Index(id, indexedValue(merged, source, e.nextSeq(), routing)); err != nil {
		return false, engineErr("index "+id, err)
	}
	return true, nil
}

// IndexItems writes full documents to the indices target selects, in batches
// bounded by the configured request size. A document larger than the bound
// is rejected. An error yielded by docs stops the write and is returned.
func (e *Engine) IndexItems(ctx context.Context, docs iter.Seq2[domain.Document, error], ot domain.ObjectType, target Target) (int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.checkOpen(); err != nil {
		return 0, err
	}

	targets := e.resolve(ot, target)
	if len(targets) == 0 {
		return 0, lserrors.New(lserrors.ErrCodeIndexNotFound,
			fmt.Sprintf("no %s index for %s", target, ot), nil)
	}

	type pendingDoc struct {
		doc    domain.Document
		source []byte
	}
	var (
		pending []pendingDoc
		size    int
		written int
	)
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		for _, bi := range targets {
			batches := make(map[int]*bleve.Batch)
			for _, p := range pending {
				shard := bi.shardFor(p.doc.ID, p.doc.Routing)
				b := batches[shard]
				if b == nil {
					b = bi.shards[shard].NewBatch()
					batches[shard] = b
				}
				if err := b.Index(p.doc.ID, indexedValue(p.doc.Body, p.source, e.nextSeq(), p.doc.Routing)); err != nil {
					return lserrors.ValidationError("index "+p.doc.ID, err)
				}
			}
			for shard, b := range batches {
				if err := ctx.Err(); err != nil {
					return engineErr("bulk index", err)
				}
				bi.writeLocks[shard].Lock()
				err := bi.shards[shard].Batch(b)
				bi.writeLocks[shard].Unlock()
				if err != nil {
					return engineErr("bulk index "+bi.name, err)
				}
			}
		}
		written += len(pending)
		pending = pending[:0]
		size = 0
		return nil
	}

	for doc, err := range docs {
		if err != nil {
			return written, err
		}
		source, err := json.Marshal(doc.Body)
		if err != nil {
			return written, lserrors.ValidationError("encode "+doc.ID, err)
		}
		if len(source) > e.cfg.MaxRequestSize {
			return written, lserrors.New(lserrors.ErrCodePayloadTooLarge,
				fmt.Sprintf("document %s is %d bytes, over the %d byte request limit", doc.ID, len(source), e.cfg.MaxRequestSize), nil).
				WithDetail("object_type", string(ot))
		}
		if size+len(source) > e.cfg.MaxRequestSize {
			if err := flush(); err != nil {
				return written, err
			}
		}
		pending = append(pending, pendingDoc{doc: doc, source: source})
		size += len(source)
	}
	if err := flush(); err != nil {
		return written, err
	}
	return written, nil
}

// DeindexDocument removes id from every active index of ot. A document that
// is already absent is not an error.
func (e *Engine) DeindexDocument(ctx context.Context, id string, ot domain.ObjectType, routing string) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.checkOpen(); err != nil {
		return err
	}
	for _, bi := range e.resolve(ot, AllIndexes) {
		if err := ctx.Err(); err != nil {
			return engineErr("deindex", err)
		}
		shard := bi.shardFor(id, routing)
		bi.writeLocks[shard].Lock()
		err := bi.shards[shard].Delete(id)
		bi.writeLocks[shard].Unlock()
		if err != nil {
			return engineErr("deindex "+id, err)
		}
	}
	return nil
}

// DeindexItems removes documents from the indices target selects.
func (e *Engine) DeindexItems(ctx context.Context, refs []domain.DocRef, ot domain.ObjectType, target Target) (int, error) {
	if len(refs) == 0 {
		return 0, nil
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.checkOpen(); err != nil {
		return 0, err
	}

	targets := e.resolve(ot, target)
	if len(targets) == 0 {
		return 0, lserrors.New(lserrors.ErrCodeIndexNotFound,
			fmt.Sprintf("no %s index for %s", target, ot), nil)
	}
	for _, bi := range targets {
		batches := make(map[int]*bleve.Batch)
		for _, ref := range refs {
			shard := bi.shardFor(ref.ID, ref.Routing)
			b := batches[shard]
			if b == nil {
				b = bi.shards[shard].NewBatch()
				batches[shard] = b
			}
			b.Delete(ref.ID)
		}
		for shard, b := range batches {
			bi.writeLocks[shard].Lock()
			err := bi.shards[shard].Batch(b)
			bi.writeLocks[shard].Unlock()
			if err != nil {
				return 0, engineErr("bulk deindex "+bi.name, err)
			}
		}
	}
	return len(refs), nil
}

// Get returns the stored body of id from the public index of ot.
func (e *Engine) Get(ctx context.Context, ot domain.ObjectType, id, routing string) (map[string]any, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.checkOpen(); err != nil {
		return nil, err
	}

	targets := e.resolve(ot, CurrentIndex)
	if len(targets) == 0 {
		return nil, lserrors.New(lserrors.ErrCodeIndexNotFound, fmt.Sprintf("no index for %s", ot), nil)
	}
	bi := targets[0]
	doc, err := bi.read(ctx, bi.shardFor(id, routing), id, routing)
	if err != nil {
		return nil, engineErr("get "+id, err)
	}
	if doc == nil {
		return nil, lserrors.NotFound(fmt.Sprintf("%s %s not found", ot, id))
	}
	return doc.Source, nil
}
