package pipeline

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/astrogo/fitsio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robert-malhotra/go-rasterstats/engine"
	"github.com/robert-malhotra/go-rasterstats/store"
)

const (
	testWidth  = 7
	testHeight = 5
)

func newStore(t *testing.T) *store.File {
	t.Helper()
	f, err := store.Create(filepath.Join(t.TempDir(), "pipeline.rst"))
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func readAll[T store.Element](t *testing.T, f *store.File, path string) []T {
	t.Helper()
	ds, err := f.OpenDataset(path)
	require.NoError(t, err)
	out, err := store.ReadAll[T](ds)
	require.NoError(t, err)
	return out
}

func readImage[T any](t *testing.T, path string, n int) ([]int, []T) {
	t.Helper()
	r, err := os.Open(path)
	require.NoError(t, err)
	defer r.Close()
	fits, err := fitsio.Open(r)
	require.NoError(t, err)
	defer fits.Close()

	img, ok := fits.HDU(0).(fitsio.Image)
	require.True(t, ok)
	pix := make([]T, n)
	require.NoError(t, img.Read(&pix))
	return img.Header().Axes(), pix
}

// bottomUp returns the rows of a row-major raster in reverse order, which
// is how a FITS data unit stores them.
func bottomUp[T any](pix []T, width int) []T {
	out := make([]T, 0, len(pix))
	for row := len(pix)/width - 1; row >= 0; row-- {
		out = append(out, pix[row*width:(row+1)*width]...)
	}
	return out
}

type tracker struct {
	begun []string
	ended int
}

func (tr *tracker) Begin(op, name string) engine.Progress {
	tr.begun = append(tr.begun, op+" "+name)
	return engine.NopProgress{}
}

func (tr *tracker) End(error) { tr.ended++ }

func TestScan(t *testing.T) {
	f := newStore(t)
	require.NoError(t, Synthesize(f, []string{"/a", "/b/c"}, testWidth, testHeight, 3, 1))
	_, err := f.CreateDataset("/image", store.Float32, 4)
	require.NoError(t, err)
	_, err = f.CreateDataset("/image_rev", store.Float32, 4)
	require.NoError(t, err)
	_, err = f.CreateGroup("/empty")
	require.NoError(t, err)

	plan, err := Scan(f)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"/a/sum", "/a/sumsq", "/a/count",
		"/b/c/sum", "/b/c/sumsq", "/b/c/count",
		"/image",
	}, plan.Datasets)
	assert.Equal(t, []string{"/a", "/b/c"}, plan.Groups)
}

func TestSynthesizeDeterministic(t *testing.T) {
	f1, f2 := newStore(t), newStore(t)
	require.NoError(t, Synthesize(f1, []string{"/g"}, testWidth, testHeight, 4, 42))
	require.NoError(t, Synthesize(f2, []string{"/g"}, testWidth, testHeight, 4, 42))

	for _, name := range []string{"/g/sum", "/g/sumsq"} {
		assert.Equal(t, readAll[float32](t, f1, name), readAll[float32](t, f2, name), name)
	}
	counts := readAll[uint8](t, f1, "/g/count")
	assert.Equal(t, counts, readAll[uint8](t, f2, "/g/count"))
	for _, c := range counts {
		assert.LessOrEqual(t, c, uint8(4))
	}

	ds, err := f1.OpenDataset("/g/count")
	require.NoError(t, err)
	assert.True(t, ds.Complete())
}

func TestSynthesizeErrors(t *testing.T) {
	f := newStore(t)
	err := Synthesize(f, []string{"/g"}, 0, testHeight, 4, 1)
	assert.ErrorIs(t, err, engine.ErrInvalidShape)
	assert.Error(t, Synthesize(f, []string{"/g"}, testWidth, testHeight, 256, 1))
}

func TestExportName(t *testing.T) {
	assert.Equal(t, "stats_a_mean_rev.fits", ExportName("stats", "/a", "mean_rev"))
	assert.Equal(t, "b_c_sd_rev.fits", ExportName("", "/b/c/", "sd_rev"))
}

func TestRun(t *testing.T) {
	f := newStore(t)
	groups := []string{"/a", "/b/c"}
	require.NoError(t, Synthesize(f, groups, testWidth, testHeight, 3, 7))

	dir := filepath.Join(t.TempDir(), "out")
	tr := &tracker{}
	r := &Runner{Store: f, Options: Options{
		Width:          testWidth,
		Height:         testHeight,
		RowBatch:       2,
		StatsBatch:     9,
		DatasetOptions: []store.DatasetOption{},
		Export:         true,
		ExportDir:      dir,
		ExportPrefix:   "stats",
		ExportCards:    []fitsio.Card{{Name: "OBJECT", Value: "synthetic"}},
		ExportRows:     2,
		Tracker:        tr,
	}}

	report, err := r.Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, report.Err())
	computed, skipped, failed := report.Counts()
	assert.Equal(t, 6+2+2, computed)
	assert.Zero(t, skipped)
	assert.Zero(t, failed)
	assert.Len(t, tr.begun, 10)
	assert.Equal(t, 10, tr.ended)
	assert.Equal(t, "reverse /a/sum", tr.begun[0])

	n := testWidth * testHeight
	for _, g := range groups {
		paths := engine.StatsPaths(g)
		sum := readAll[float32](t, f, g+"/sum")
		sumsq := readAll[float32](t, f, g+"/sumsq")
		count := readAll[uint8](t, f, g+"/count")
		countRev := readAll[uint8](t, f, paths.Count)
		mean := readAll[float32](t, f, paths.Mean)
		sd := readAll[float32](t, f, paths.SD)

		for y := range testHeight {
			for x := range testWidth {
				src := (testHeight-1-y)*testWidth + x
				dst := y*testWidth + x
				require.Equal(t, count[src], countRev[dst])

				c := float64(count[src])
				switch {
				case c == 0:
					assert.True(t, math.IsNaN(float64(mean[dst])))
					assert.Equal(t, float32(engine.NoData), sd[dst])
				case c == 1:
					assert.InDelta(t, sum[src], mean[dst], 1e-5)
					assert.Equal(t, float32(engine.NoData), sd[dst])
				default:
					assert.InDelta(t, float64(sum[src])/c, mean[dst], 1e-4)
					v := (float64(sumsq[src]) - float64(sum[src])*float64(sum[src])/c) / (c - 1)
					assert.InDelta(t, math.Sqrt(math.Max(v, 0)), sd[dst], 1e-2)
				}
			}
		}

		name := filepath.Join(dir, ExportName("stats", g, "count_rev"))
		axes, pix := readImage[uint8](t, name, n)
		assert.Equal(t, []int{testWidth, testHeight}, axes)
		assert.Equal(t, bottomUp(countRev, testWidth), pix)
		// Undoing the reversal for the data unit leaves the source order.
		assert.Equal(t, count, pix)

		_, sdPix := readImage[float32](t, filepath.Join(dir, ExportName("stats", g, "sd_rev")), n)
		assert.Equal(t, bottomUp(sd, testWidth), sdPix)
		_, meanPix := readImage[float32](t, filepath.Join(dir, ExportName("stats", g, "mean_rev")), n)
		meanPix = bottomUp(meanPix, testWidth)
		for i := range mean {
			if math.IsNaN(float64(mean[i])) {
				assert.True(t, math.IsNaN(float64(meanPix[i])))
				continue
			}
			assert.Equal(t, mean[i], meanPix[i])
		}
	}

	// A second run finds every output complete.
	gen := f.Generation()
	r.Export = false
	report, err = r.Run(context.Background())
	require.NoError(t, err)
	computed, skipped, failed = report.Counts()
	assert.Equal(t, []int{0, 8, 0}, []int{computed, skipped, failed})
	assert.Equal(t, gen, f.Generation())
}

func TestRunContinuesAfterFailure(t *testing.T) {
	f := newStore(t)
	require.NoError(t, Synthesize(f, []string{"/good"}, testWidth, testHeight, 2, 3))
	sum, err := f.CreateDataset("/bad/sum", store.Float32, testWidth*testHeight)
	require.NoError(t, err)
	require.NoError(t, sum.MarkComplete())
	_, err = f.CreateDataset("/odd", store.Float32, 3)
	require.NoError(t, err)

	dir := t.TempDir()
	r := &Runner{Store: f, Options: Options{
		Width:     testWidth,
		Height:    testHeight,
		Export:    true,
		ExportDir: dir,
	}}
	report, err := r.Run(context.Background())
	require.NoError(t, err)

	failed := report.Failed()
	require.Len(t, failed, 2)
	assert.Equal(t, engine.OpReverse, failed[0].Op)
	assert.Equal(t, "/odd", failed[0].Name)
	assert.ErrorIs(t, failed[0].Err, engine.ErrSizeMismatch)
	assert.Equal(t, engine.OpStats, failed[1].Op)
	assert.Equal(t, "/bad", failed[1].Name)
	assert.ErrorIs(t, failed[1].Err, engine.ErrMissingInput)

	err = report.Err()
	assert.ErrorIs(t, err, engine.ErrSizeMismatch)
	assert.ErrorIs(t, err, engine.ErrMissingInput)

	assert.True(t, report.ok(engine.OpExport, "/good"))
	assert.FileExists(t, filepath.Join(dir, ExportName("", "/good", "mean_rev")))
	_, statErr := os.Stat(filepath.Join(dir, ExportName("", "/bad", "mean_rev")))
	assert.True(t, errors.Is(statErr, os.ErrNotExist))
	assert.True(t, f.Exists("/bad/sum_rev"))
}

func TestRunCancelled(t *testing.T) {
	f := newStore(t)
	require.NoError(t, Synthesize(f, []string{"/g"}, testWidth, testHeight, 2, 3))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := &Runner{Store: f, Options: Options{Width: testWidth, Height: testHeight}}
	report, err := r.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, report.Items)
}

func TestRunInvalidShape(t *testing.T) {
	r := &Runner{Store: newStore(t), Options: Options{Width: 0, Height: 3}}
	_, err := r.Run(context.Background())
	assert.ErrorIs(t, err, engine.ErrInvalidShape)
}

func TestExportSizeMismatch(t *testing.T) {
	f := newStore(t)
	require.NoError(t, Synthesize(f, []string{"/g"}, testWidth, testHeight, 2, 3))
	r := &Runner{Store: f, Options: Options{Width: testWidth, Height: testHeight}}
	_, err := r.Run(context.Background())
	require.NoError(t, err)

	ex := &Exporter{Store: f, Width: testWidth + 1, Height: testHeight, Dir: t.TempDir()}
	err = ex.Export(context.Background(), "/g")
	assert.ErrorIs(t, err, engine.ErrSizeMismatch)
	var opErr *engine.OpError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, engine.OpExport, opErr.Op)
}

func TestItemString(t *testing.T) {
	it := Item{Op: engine.OpStats, Name: "/g", Status: engine.StatusSkipped}
	assert.Equal(t, "stats /g: skipped in 0s", it.String())
	it.Err = errors.New("boom")
	assert.Equal(t, "stats /g: failed: boom", it.String())
}
