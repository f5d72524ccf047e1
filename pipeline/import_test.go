package pipeline

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robert-malhotra/go-rasterstats/engine"
	"github.com/robert-malhotra/go-rasterstats/h5"
	"github.com/robert-malhotra/go-rasterstats/store"
)

// writeSource creates an HDF5 file holding one accumulator group the way
// an upstream producer lays it out: height×width datasets.
func writeSource(t *testing.T) (string, []float32, []uint8) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "source.h5")
	n := testWidth * testHeight
	sum := make([]float32, n)
	sumsq := make([]float32, n)
	count := make([]uint8, n)
	for i := range n {
		c := i % 4
		count[i] = uint8(c)
		sum[i] = float32(c) * float32(i%5)
		sumsq[i] = float32(c) * float32(i%5) * float32(i%5)
	}

	f, err := h5.Create(path)
	require.NoError(t, err)
	dims := []uint64{testHeight, testWidth}
	w, err := f.CreateDataset("/acc/sum", store.Float32, dims, h5.WithChunks(2, testWidth), h5.WithDeflate(1))
	require.NoError(t, err)
	require.NoError(t, h5.WriteValues(w, sum))
	w, err = f.CreateDataset("/acc/sumsq", store.Float32, dims, h5.WithChunks(2, 3), h5.WithShuffle(), h5.WithDeflate(6))
	require.NoError(t, err)
	require.NoError(t, h5.WriteValues(w, sumsq))
	w, err = f.CreateDataset("/acc/count", store.Uint8, dims, h5.WithFletcher32())
	require.NoError(t, err)
	require.NoError(t, h5.WriteValues(w, count))
	// Outputs of an earlier tool are not imported.
	w, err = f.CreateDataset("/acc/count_rev", store.Uint8, dims)
	require.NoError(t, err)
	require.NoError(t, h5.WriteValues(w, make([]uint8, n)))
	require.NoError(t, f.Close())
	return path, sum, count
}

func openSource(t *testing.T, path string) *h5.File {
	t.Helper()
	src, err := h5.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { src.Close() })
	return src
}

func TestSourcesAndShape(t *testing.T) {
	path, _, _ := writeSource(t)
	src := openSource(t, path)

	paths, err := Sources(src)
	require.NoError(t, err)
	assert.Equal(t, []string{"/acc/count", "/acc/sum", "/acc/sumsq"}, paths)

	w, h, err := SourceShape(src)
	require.NoError(t, err)
	assert.Equal(t, testWidth, w)
	assert.Equal(t, testHeight, h)
}

func TestSourceShapeNoRaster(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flat.h5")
	f, err := h5.Create(path)
	require.NoError(t, err)
	w, err := f.CreateDataset("/flat", store.Float32, []uint64{4})
	require.NoError(t, err)
	require.NoError(t, h5.WriteValues(w, []float32{1, 2, 3, 4}))
	require.NoError(t, f.Close())

	_, _, err = SourceShape(openSource(t, path))
	assert.ErrorIs(t, err, engine.ErrMissingInput)
}

func TestImport(t *testing.T) {
	path, sum, count := writeSource(t)
	src := openSource(t, path)
	f := newStore(t)

	var reports [][2]int
	im := &Importer{
		Source:   src,
		Store:    f,
		Elements: 10, // one row per window
		Progress: progressFunc(func(done, total int) {
			reports = append(reports, [2]int{done, total})
		}),
	}
	status, err := im.Import(context.Background(), "/acc/sum")
	require.NoError(t, err)
	assert.Equal(t, engine.StatusComputed, status)
	assert.Len(t, reports, testHeight)
	assert.Equal(t, [2]int{testHeight, testHeight}, reports[len(reports)-1])

	assert.Equal(t, sum, readAll[float32](t, f, "/acc/sum"))
	ds, err := f.OpenDataset("/acc/sum")
	require.NoError(t, err)
	assert.True(t, ds.Complete())
	width, ok := ds.Attr("width")
	require.True(t, ok)
	assert.Equal(t, "7", width)
	source, _ := ds.Attr("source")
	assert.Equal(t, path+":/acc/sum", source)

	_, err = im.Import(context.Background(), "/acc/count")
	require.NoError(t, err)
	assert.Equal(t, count, readAll[uint8](t, f, "/acc/count"))

	gen := f.Generation()
	status, err = im.Import(context.Background(), "/acc/sum")
	require.NoError(t, err)
	assert.Equal(t, engine.StatusSkipped, status)
	assert.Equal(t, gen, f.Generation())
}

func TestImportMissing(t *testing.T) {
	path, _, _ := writeSource(t)
	im := &Importer{Source: openSource(t, path), Store: newStore(t)}
	_, err := im.Import(context.Background(), "/acc/nothing")
	assert.ErrorIs(t, err, engine.ErrMissingInput)
	var opErr *engine.OpError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, engine.OpImport, opErr.Op)
}

func TestRunFromSource(t *testing.T) {
	path, _, count := writeSource(t)
	src := openSource(t, path)
	f := newStore(t)
	dir := t.TempDir()

	r := &Runner{Store: f, Options: Options{
		Width:          testWidth,
		Height:         testHeight,
		RowBatch:       2,
		StatsBatch:     8,
		Source:         src,
		ImportElements: 14,
		Export:         true,
		ExportDir:      dir,
		ExportHDF5:     "stats.h5",
		ExportDeflate:  1,
		ExportRows:     3,
	}}
	report, err := r.Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, report.Err())
	computed, skipped, failed := report.Counts()
	// 3 imports, 3 reversals, 1 reduction, FITS export, HDF5 export
	assert.Equal(t, []int{9, 0, 0}, []int{computed, skipped, failed})
	assert.False(t, f.Exists("/acc/count_rev_rev"))

	countRev := readAll[uint8](t, f, "/acc/count_rev")
	assert.Equal(t, bottomUp(count, testWidth), countRev)

	out, err := h5.Open(filepath.Join(dir, "stats.h5"))
	require.NoError(t, err)
	defer out.Close()
	paths, err := out.Datasets()
	require.NoError(t, err)
	assert.Equal(t, []string{"/acc/count_rev", "/acc/mean_rev", "/acc/sd_rev"}, paths)
	for _, p := range paths {
		ds, err := out.OpenDataset(p)
		require.NoError(t, err)
		assert.Equal(t, []uint64{testHeight, testWidth}, ds.Dims(), p)
		assert.Equal(t, []uint64{3, testWidth}, ds.ChunkDims(), p)
		assert.Equal(t, []string{"shuffle", "deflate"}, ds.Filters(), p)
		got, err := ds.Read()
		require.NoError(t, err)
		stored, err := f.OpenDataset(p)
		require.NoError(t, err)
		want, err := stored.ReadRaw(0, stored.Len())
		require.NoError(t, err)
		assert.Equal(t, want, got, p)
	}
	assert.NoFileExists(t, filepath.Join(dir, "stats.h5.tmp"))

	// Imports are complete, so the second run skips them too.
	r.Export = false
	report, err = r.Run(context.Background())
	require.NoError(t, err)
	computed, skipped, failed = report.Counts()
	assert.Equal(t, []int{0, 7, 0}, []int{computed, skipped, failed})
}

func TestHDF5ExportMissingGroup(t *testing.T) {
	f := newStore(t)
	out := filepath.Join(t.TempDir(), "stats.h5")
	ex := &HDF5Exporter{Store: f, Width: testWidth, Height: testHeight}
	err := ex.Export(context.Background(), out, []string{"/nope"})
	assert.ErrorIs(t, err, engine.ErrMissingInput)
	assert.NoFileExists(t, out)
	assert.NoFileExists(t, out+".tmp")
}

type progressFunc func(done, total int)

func (f progressFunc) Report(done, total int) { f(done, total) }
