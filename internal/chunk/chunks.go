// Package chunk splits id lists into bounded batches for bulk operations.
package chunk

import "iter"

// Chunks splits items into consecutive batches of at most size elements.
// Concatenating the batches reproduces items exactly; only the last batch may
// be shorter. Each batch is a copy, so callers may append to it freely.
// Chunks panics if size is less than 1.
func Chunks[T any](items []T, size int) [][]T {
	if size < 1 {
		panic("chunk: size must be positive")
	}
	if len(items) == 0 {
		return nil
	}

	out := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		batch := make([]T, end-start)
		copy(batch, items[start:end])
		out = append(out, batch)
	}
	return out
}

// Seq lazily batches a sequence. It pulls at most size elements ahead of the
// consumer, which keeps memory bounded for large result sets.
// Seq panics if size is less than 1.
func Seq[T any](seq iter.Seq[T], size int) iter.Seq[[]T] {
	if size < 1 {
		panic("chunk: size must be positive")
	}
	return func(yield func([]T) bool) {
		batch := make([]T, 0, size)
		for v := range seq {
			batch = append(batch, v)
			if len(batch) == size {
				if !yield(batch) {
					return
				}
				batch = make([]T, 0, size)
			}
		}
		if len(batch) > 0 {
			yield(batch)
		}
	}
}
