package engine

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPairsOddHeight(t *testing.T) {
	pairs := slices.Collect(Pairs(2, 5, 100))
	assert.Equal(t, []MirrorPair{{
		Row: 0, MirrorRow: 2, Rows: 3,
		Forward: Window{Lo: 0, Hi: 6},
		Mirror:  Window{Lo: 4, Hi: 10},
	}}, pairs)

	pairs = slices.Collect(Pairs(2, 5, 1))
	assert.Len(t, pairs, 3)
	for i, p := range pairs {
		assert.Equal(t, i, p.Row)
		assert.Equal(t, 4-i, p.MirrorRow)
		assert.Equal(t, 1, p.Rows)
	}
	// The middle row is its own mirror.
	assert.Equal(t, pairs[2].Forward, pairs[2].Mirror)
}

func TestPairsEvenHeight(t *testing.T) {
	pairs := slices.Collect(Pairs(3, 4, 1))
	assert.Len(t, pairs, 2)
	assert.Equal(t, Window{Lo: 9, Hi: 12}, pairs[0].Mirror)
	assert.Equal(t, Window{Lo: 6, Hi: 9}, pairs[1].Mirror)

	pairs = slices.Collect(Pairs(3, 4, 10))
	assert.Len(t, pairs, 1)
	assert.Equal(t, Window{Lo: 0, Hi: 6}, pairs[0].Forward)
	assert.Equal(t, Window{Lo: 6, Hi: 12}, pairs[0].Mirror)
}

func TestPairsCoverEveryRowOnce(t *testing.T) {
	for _, height := range []int{1, 2, 3, 7, 10, 101} {
		for _, batch := range []int{1, 2, 3, 50, 1000} {
			seen := make([]int, height)
			for p := range Pairs(4, height, batch) {
				assert.Equal(t, p.Forward.Len(), p.Mirror.Len())
				rows := map[int]bool{}
				for i := range p.Rows {
					rows[p.Row+i] = true
					rows[p.MirrorRow+i] = true
				}
				for row := range rows {
					seen[row]++
				}
			}
			for row, n := range seen {
				assert.Equal(t, 1, n, "height %d batch %d row %d", height, batch, row)
			}
		}
	}
}

func TestPairsEmpty(t *testing.T) {
	assert.Empty(t, slices.Collect(Pairs(0, 5, 1)))
	assert.Empty(t, slices.Collect(Pairs(5, 0, 1)))
	assert.Len(t, slices.Collect(Pairs(5, 5, 0)), 3)
}

func TestWindowLen(t *testing.T) {
	assert.Equal(t, uint64(4), Window{Lo: 3, Hi: 7}.Len())
	assert.Equal(t, uint64(0), Window{Lo: 5, Hi: 5}.Len())
}

func TestReverseRows(t *testing.T) {
	buf := []int{1, 2, 3, 4, 5, 6}
	ReverseRows(buf, 3, 2)
	assert.Equal(t, []int{5, 6, 3, 4, 1, 2}, buf)

	buf = []int{1, 2, 3, 4}
	ReverseRows(buf, 2, 2)
	assert.Equal(t, []int{3, 4, 1, 2}, buf)

	one := []int{1, 2, 3}
	ReverseRows(one, 1, 3)
	assert.Equal(t, []int{1, 2, 3}, one)

	ReverseRows([]int{}, 0, 3)
}

// Applying every mirror pair to a slice reverses the rows, and applying
// them twice restores the input.
func TestMirrorPairsInvolution(t *testing.T) {
	const width, height = 3, 9
	src := make([]int, width*height)
	for i := range src {
		src[i] = i
	}
	apply := func(in []int, batch int) []int {
		out := make([]int, len(in))
		for p := range Pairs(width, height, batch) {
			fwd := slices.Clone(in[p.Forward.Lo:p.Forward.Hi])
			mir := slices.Clone(in[p.Mirror.Lo:p.Mirror.Hi])
			ReverseRows(fwd, p.Rows, width)
			ReverseRows(mir, p.Rows, width)
			copy(out[p.Mirror.Lo:], fwd)
			copy(out[p.Forward.Lo:], mir)
		}
		return out
	}
	for _, batch := range []int{1, 2, 4, 5} {
		once := apply(src, batch)
		assert.Equal(t, reversedRows(src, width), once)
		assert.Equal(t, src, apply(once, batch))
	}
}

func TestNaming(t *testing.T) {
	assert.Equal(t, "/g/sum_rev", RevName("/g/sum"))
	assert.True(t, IsReversed("/g/sum_rev"))
	assert.True(t, IsReversed("band_rev/"))
	assert.False(t, IsReversed("/g/sum"))

	p := StatsPaths("/g1/")
	assert.Equal(t, "/g1/sum_rev", p.Sum)
	assert.Equal(t, "/g1/sumsq_rev", p.SumSq)
	assert.Equal(t, "/g1/count_rev", p.Count)
	assert.Equal(t, "/g1/mean_rev", p.Mean)
	assert.Equal(t, "/g1/sd_rev", p.SD)
	assert.Equal(t, []string{p.SD, p.Mean}, p.Outputs())
}
