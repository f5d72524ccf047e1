package engine

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robert-malhotra/go-rasterstats/store"
)

func TestReverseOddHeight(t *testing.T) {
	f := newStore(t)
	putDataset(t, f, "/band", store.Float32, []float32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10})

	rec := &recorder{}
	r := &Reverser{Store: f, RowBatch: 100, Progress: rec, DatasetOptions: raw}
	status, err := r.Reverse(context.Background(), "/band", 2, 5)
	require.NoError(t, err)
	assert.Equal(t, StatusComputed, status)

	got := readAll[float32](t, f, "/band_rev")
	assert.Equal(t, []float32{9, 10, 7, 8, 5, 6, 3, 4, 1, 2}, got)
	assert.Equal(t, []int{3}, rec.done)
	assert.Equal(t, []int{3}, rec.total)

	ds, err := f.OpenDataset("/band_rev")
	require.NoError(t, err)
	assert.True(t, ds.Complete())
	w, _ := ds.Attr("width")
	h, _ := ds.Attr("height")
	src, _ := ds.Attr("source")
	assert.Equal(t, "2", w)
	assert.Equal(t, "5", h)
	assert.Equal(t, "/band", src)
}

func TestReverseBatchInvariance(t *testing.T) {
	const width, height = 7, 23
	rng := rand.New(rand.NewPCG(1, 2))
	data := make([]uint8, width*height)
	for i := range data {
		data[i] = uint8(rng.UintN(256))
	}
	want := reversedRows(data, width)

	for _, batch := range []int{1, 3, HalfHeight(height), 1000} {
		f := newStore(t)
		putDataset(t, f, "counts", store.Uint8, data, store.WithChunkLen(16))

		rec := &recorder{}
		r := &Reverser{Store: f, RowBatch: batch, Progress: rec}
		_, err := r.Reverse(context.Background(), "counts", width, height)
		require.NoError(t, err)
		assert.Equal(t, want, readAll[uint8](t, f, "counts_rev"), "batch %d", batch)

		assert.IsNonDecreasing(t, rec.done)
		assert.Equal(t, HalfHeight(height), rec.done[len(rec.done)-1])
	}
}

func TestReverseInvolution(t *testing.T) {
	const width, height = 5, 12
	f := newStore(t)
	data := make([]float32, width*height)
	for i := range data {
		data[i] = float32(i) * 1.25
	}
	putDataset(t, f, "a", store.Float32, data)

	r := &Reverser{Store: f, RowBatch: 4}
	_, err := r.Reverse(context.Background(), "a", width, height)
	require.NoError(t, err)

	putDataset(t, f, "b", store.Float32, readAll[float32](t, f, "a_rev"))
	_, err = r.Reverse(context.Background(), "b", width, height)
	require.NoError(t, err)
	assert.Equal(t, data, readAll[float32](t, f, "b_rev"))
}

func TestReverseSkipsCompleteOutput(t *testing.T) {
	f := newStore(t)
	putDataset(t, f, "x", store.Uint8, []uint8{1, 2, 3, 4, 5, 6})

	r := &Reverser{Store: f, RowBatch: 1}
	_, err := r.Reverse(context.Background(), "x", 3, 2)
	require.NoError(t, err)

	ds, err := f.OpenDataset("x_rev")
	require.NoError(t, err)
	before, err := ds.ReadRaw(0, ds.Len())
	require.NoError(t, err)
	gen := f.Generation()

	rec := &recorder{}
	r.Progress = rec
	status, err := r.Reverse(context.Background(), "x", 3, 2)
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, status)
	assert.Empty(t, rec.done)
	assert.Equal(t, gen, f.Generation())

	ds, err = f.OpenDataset("x_rev")
	require.NoError(t, err)
	after, err := ds.ReadRaw(0, ds.Len())
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestReverseRebuildsPartialOutput(t *testing.T) {
	f := newStore(t)
	putDataset(t, f, "x", store.Uint8, []uint8{1, 2, 3, 4, 5, 6})

	partial, err := f.CreateDataset("x_rev", store.Uint8, 6)
	require.NoError(t, err)
	require.NoError(t, store.WriteSlice(partial, 0, []uint8{9, 9}))

	status, err := (&Reverser{Store: f}).Reverse(context.Background(), "x", 2, 3)
	require.NoError(t, err)
	assert.Equal(t, StatusComputed, status)
	assert.Equal(t, []uint8{5, 6, 3, 4, 1, 2}, readAll[uint8](t, f, "x_rev"))
}

func TestReverseCancelled(t *testing.T) {
	f := newStore(t)
	putDataset(t, f, "x", store.Uint8, make([]uint8, 100))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := (&Reverser{Store: f, RowBatch: 1}).Reverse(ctx, "x", 10, 10)
	assert.ErrorIs(t, err, context.Canceled)

	ds, err := f.OpenDataset("x_rev")
	require.NoError(t, err)
	assert.False(t, ds.Complete())

	status, err := (&Reverser{Store: f, RowBatch: 1}).Reverse(context.Background(), "x", 10, 10)
	require.NoError(t, err)
	assert.Equal(t, StatusComputed, status)
}

func TestReverseErrors(t *testing.T) {
	f := newStore(t)
	putDataset(t, f, "short", store.Float32, make([]float32, 9))
	r := &Reverser{Store: f}
	ctx := context.Background()

	tests := []struct {
		name          string
		width, height int
		kind          error
	}{
		{"missing", 2, 2, ErrMissingInput},
		{"short", 2, 5, ErrSizeMismatch},
		{"short_rev", 3, 3, ErrReversedInput},
		{"short", 0, 9, ErrInvalidShape},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Reverse(ctx, tt.name, tt.width, tt.height)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.kind)

			var opErr *OpError
			require.True(t, errors.As(err, &opErr))
			assert.Equal(t, OpReverse, opErr.Op)
			assert.Equal(t, tt.name, opErr.Name)
			assert.Contains(t, err.Error(), tt.name)
		})
	}

	_, err := r.Reverse(ctx, "missing", 2, 2)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.False(t, f.Exists("missing_rev"))
	assert.False(t, f.Exists("short_rev"), "size mismatch creates no output")
}
