package engine

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"

	"github.com/robert-malhotra/go-rasterstats/store"
)

func TestMeanSDExample(t *testing.T) {
	mean := make([]float32, 1)
	sd := make([]float32, 1)
	require.NoError(t, MeanSD([]float32{10}, []float32{30}, []uint8{4}, mean, sd, SingleSampleSentinel))
	assert.Equal(t, float32(2.5), mean[0])
	assert.InDelta(t, 1.29099, sd[0], 1e-5)
}

func TestMeanSDZeroCount(t *testing.T) {
	sum := []float32{0, 5, -3, 1e30}
	sumsq := []float32{0, 7, 2, 1e30}
	count := []uint16{0, 0, 0, 0}
	mean := make([]float32, 4)
	sd := make([]float32, 4)
	require.NoError(t, MeanSD(sum, sumsq, count, mean, sd, SingleSampleSentinel))
	for i := range sd {
		assert.Equal(t, NoData, sd[i])
		assert.False(t, math.IsNaN(float64(sd[i])) || math.IsInf(float64(sd[i]), 0))
		assert.True(t, math.IsNaN(float64(mean[i])))
	}
}

func TestMeanSDSingleSample(t *testing.T) {
	tests := []struct {
		policy SingleSample
		check  func(t *testing.T, sd float32)
	}{
		{SingleSampleSentinel, func(t *testing.T, sd float32) { assert.Equal(t, NoData, sd) }},
		{SingleSampleZero, func(t *testing.T, sd float32) { assert.Equal(t, float32(0), sd) }},
		{SingleSampleRaw, func(t *testing.T, sd float32) {
			v := float64(sd)
			assert.True(t, math.IsNaN(v) || math.IsInf(v, 0))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.policy.String(), func(t *testing.T) {
			mean := make([]float32, 1)
			sd := make([]float32, 1)
			require.NoError(t, MeanSD([]float32{3}, []float32{9}, []uint32{1}, mean, sd, tt.policy))
			assert.Equal(t, float32(3), mean[0])
			tt.check(t, sd[0])
		})
	}
}

func TestMeanSDClampsNegativeVariance(t *testing.T) {
	// Rounding leaves sumsq just below sum²/count.
	mean := make([]float32, 1)
	sd := make([]float32, 1)
	require.NoError(t, MeanSD([]float32{3}, []float32{4.4999}, []uint8{2}, mean, sd, SingleSampleSentinel))
	assert.Equal(t, float32(0), sd[0])
}

func TestMeanSDLengthMismatch(t *testing.T) {
	err := MeanSD([]float32{1}, []float32{1, 2}, []uint8{1}, make([]float32, 1), make([]float32, 1), SingleSampleZero)
	assert.ErrorIs(t, err, ErrSizeMismatch)
}

func TestParseSingleSample(t *testing.T) {
	for _, p := range []SingleSample{SingleSampleSentinel, SingleSampleZero, SingleSampleRaw} {
		got, err := ParseSingleSample(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}
	got, err := ParseSingleSample("ZERO")
	require.NoError(t, err)
	assert.Equal(t, SingleSampleZero, got)
	_, err = ParseSingleSample("population")
	assert.Error(t, err)
}

// accumulate builds reversed accumulators for group from per-cell samples.
func accumulate(t *testing.T, f *store.File, group string, samples [][]float64) {
	t.Helper()
	n := len(samples)
	sum := make([]float32, n)
	sumsq := make([]float32, n)
	count := make([]uint8, n)
	for i, xs := range samples {
		for _, x := range xs {
			sum[i] += float32(x)
			sumsq[i] += float32(x * x)
		}
		count[i] = uint8(len(xs))
	}
	p := StatsPaths(group)
	putDataset(t, f, p.Sum, store.Float32, sum, raw...)
	putDataset(t, f, p.SumSq, store.Float32, sumsq, raw...)
	putDataset(t, f, p.Count, store.Uint8, count, raw...)
}

func TestReduceMatchesOracle(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	samples := make([][]float64, 500)
	for i := range samples {
		k := rng.IntN(6)
		for range k {
			samples[i] = append(samples[i], 10+rng.NormFloat64()*3)
		}
	}

	f := newStore(t)
	accumulate(t, f, "/g1", samples)

	rec := &recorder{}
	r := &Reducer{Store: f, Batch: 64, Progress: rec}
	status, err := r.Reduce(context.Background(), "/g1")
	require.NoError(t, err)
	assert.Equal(t, StatusComputed, status)

	mean := readAll[float32](t, f, "/g1/mean_rev")
	sd := readAll[float32](t, f, "/g1/sd_rev")
	for i, xs := range samples {
		switch len(xs) {
		case 0:
			assert.Equal(t, NoData, sd[i])
			assert.True(t, math.IsNaN(float64(mean[i])))
		case 1:
			assert.InDelta(t, xs[0], mean[i], 1e-4)
			assert.Equal(t, NoData, sd[i])
		default:
			m, s := stat.MeanStdDev(xs, nil)
			assert.InDelta(t, m, mean[i], 1e-3, "cell %d", i)
			assert.InDelta(t, s, sd[i], 0.02, "cell %d", i)
		}
	}

	assert.IsNonDecreasing(t, rec.done)
	assert.Equal(t, 500, rec.done[len(rec.done)-1])
	assert.Equal(t, 500, rec.total[len(rec.total)-1])

	ds, err := f.OpenDataset("/g1/mean_rev")
	require.NoError(t, err)
	assert.True(t, ds.Complete())
}

func TestReduceBatchBoundaries(t *testing.T) {
	if testing.Short() {
		t.Skip("large dataset")
	}
	const n = 2_500_000
	rng := rand.New(rand.NewPCG(3, 5))
	sum := make([]float32, n)
	sumsq := make([]float32, n)
	count := make([]uint8, n)
	for i := range n {
		c := rng.IntN(4)
		count[i] = uint8(c)
		for range c {
			x := float32(rng.NormFloat64() + 5)
			sum[i] += x
			sumsq[i] += x * x
		}
	}

	f := newStore(t)
	for _, g := range []string{"/a", "/b"} {
		p := StatsPaths(g)
		putDataset(t, f, p.Sum, store.Float32, sum, raw...)
		putDataset(t, f, p.SumSq, store.Float32, sumsq, raw...)
		putDataset(t, f, p.Count, store.Uint8, count, raw...)
	}

	_, err := (&Reducer{Store: f, Batch: 1_000_000, DatasetOptions: raw}).Reduce(context.Background(), "/a")
	require.NoError(t, err)
	_, err = (&Reducer{Store: f, Batch: n, DatasetOptions: raw}).Reduce(context.Background(), "/b")
	require.NoError(t, err)

	for _, name := range []string{"mean_rev", "sd_rev"} {
		a, err := f.OpenDataset("/a/" + name)
		require.NoError(t, err)
		b, err := f.OpenDataset("/b/" + name)
		require.NoError(t, err)
		ra, err := a.ReadRaw(0, n)
		require.NoError(t, err)
		rb, err := b.ReadRaw(0, n)
		require.NoError(t, err)
		assert.True(t, string(ra) == string(rb), "%s differs between batch sizes", name)
	}
}

func TestReduceSkipAndRebuild(t *testing.T) {
	f := newStore(t)
	accumulate(t, f, "g", [][]float64{{1, 2, 3}, {}, {4}})

	r := &Reducer{Store: f}
	_, err := r.Reduce(context.Background(), "g")
	require.NoError(t, err)
	before := readAll[float32](t, f, "g/sd_rev")

	status, err := r.Reduce(context.Background(), "g")
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, status)
	assert.Equal(t, before, readAll[float32](t, f, "g/sd_rev"))

	// A crash between the two outputs leaves sd complete and mean partial.
	require.NoError(t, f.Unlink("g/mean_rev"))
	_, err = f.CreateDataset("g/mean_rev", store.Float32, 3)
	require.NoError(t, err)

	status, err = r.Reduce(context.Background(), "g")
	require.NoError(t, err)
	assert.Equal(t, StatusComputed, status)
	mean := readAll[float32](t, f, "g/mean_rev")
	assert.Equal(t, float32(2), mean[0])
	assert.Equal(t, float32(4), mean[2])
	assert.Equal(t, before, readAll[float32](t, f, "g/sd_rev"))
}

func TestReduceErrors(t *testing.T) {
	f := newStore(t)
	ctx := context.Background()
	r := &Reducer{Store: f}

	putDataset(t, f, "/missing/sum_rev", store.Float32, []float32{1})
	putDataset(t, f, "/missing/count_rev", store.Uint8, []uint8{1})

	putDataset(t, f, "/short/sum_rev", store.Float32, []float32{1, 2})
	putDataset(t, f, "/short/sumsq_rev", store.Float32, []float32{1, 2})
	putDataset(t, f, "/short/count_rev", store.Uint8, []uint8{1})

	putDataset(t, f, "/typed/sum_rev", store.Float32, []float32{1})
	putDataset(t, f, "/typed/sumsq_rev", store.Float32, []float32{1})
	putDataset(t, f, "/typed/count_rev", store.Float32, []float32{1})

	tests := []struct {
		group string
		kind  error
	}{
		{"/missing", ErrMissingInput},
		{"/nothing", ErrMissingInput},
		{"/short", ErrSizeMismatch},
		{"/typed", ErrTypeMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.group, func(t *testing.T) {
			_, err := r.Reduce(ctx, tt.group)
			assert.ErrorIs(t, err, tt.kind)
			var opErr *OpError
			require.True(t, errors.As(err, &opErr))
			assert.Equal(t, OpStats, opErr.Op)
			assert.Equal(t, tt.group, opErr.Name)
			assert.False(t, f.Exists(tt.group+"/mean_rev"))
		})
	}
}

func TestReduceWiderCounts(t *testing.T) {
	f := newStore(t)
	putDataset(t, f, "w/sum_rev", store.Float32, []float32{600, 0})
	putDataset(t, f, "w/sumsq_rev", store.Float32, []float32{1200, 0})
	putDataset(t, f, "w/count_rev", store.Uint16, []uint16{300, 0})

	_, err := (&Reducer{Store: f}).Reduce(context.Background(), "w")
	require.NoError(t, err)
	sd := readAll[float32](t, f, "w/sd_rev")
	assert.Equal(t, []float32{0, NoData}, sd)
	assert.Equal(t, float32(2), readAll[float32](t, f, "w/mean_rev")[0])
}
