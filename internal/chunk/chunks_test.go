package chunk

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(n int) []int64 {
	out := make([]int64, n)
	for i := range out {
		out[i] = int64(i + 1)
	}
	return out
}

func TestChunks_Completeness(t *testing.T) {
	tests := []struct {
		n, k        int
		wantBatches int
		wantLast    int
	}{
		{n: 0, k: 3, wantBatches: 0},
		{n: 1, k: 3, wantBatches: 1, wantLast: 1},
		{n: 3, k: 3, wantBatches: 1, wantLast: 3},
		{n: 10, k: 3, wantBatches: 4, wantLast: 1},
		{n: 12, k: 4, wantBatches: 3, wantLast: 4},
		{n: 250, k: 100, wantBatches: 3, wantLast: 50},
	}

	for _, tt := range tests {
		input := ids(tt.n)

		batches := Chunks(input, tt.k)

		// Then: ceil(N/K) batches, order preserved, last batch N mod K (or K)
		require.Len(t, batches, tt.wantBatches)
		var joined []int64
		for i, b := range batches {
			if i < len(batches)-1 {
				assert.Len(t, b, tt.k)
			}
			joined = append(joined, b...)
		}
		assert.True(t, slices.Equal(input, joined))
		if tt.wantBatches > 0 {
			assert.Len(t, batches[len(batches)-1], tt.wantLast)
		}
	}
}

func TestChunks_Deterministic(t *testing.T) {
	input := ids(17)
	assert.Equal(t, Chunks(input, 5), Chunks(input, 5))
}

func TestChunks_BatchesDoNotAlias(t *testing.T) {
	input := ids(6)
	batches := Chunks(input, 3)

	batches[0] = append(batches[0], 99)

	assert.Equal(t, []int64{4, 5, 6}, batches[1])
	assert.Equal(t, ids(6), input)
}

func TestChunks_PanicsOnNonPositiveSize(t *testing.T) {
	assert.Panics(t, func() { Chunks(ids(3), 0) })
	assert.Panics(t, func() { Seq(slices.Values(ids(3)), -1) })
}

func TestSeq_MatchesChunks(t *testing.T) {
	input := ids(11)

	var got [][]int64
	for b := range Seq(slices.Values(input), 4) {
		got = append(got, b)
	}

	assert.Equal(t, Chunks(input, 4), got)
}

func TestSeq_StopsEarly(t *testing.T) {
	pulled := 0
	src := func(yield func(int64) bool) {
		for _, v := range ids(100) {
			pulled++
			if !yield(v) {
				return
			}
		}
	}

	for range Seq(src, 10) {
		break
	}

	assert.Equal(t, 10, pulled)
}
