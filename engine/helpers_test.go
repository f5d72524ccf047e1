package engine

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/robert-malhotra/go-rasterstats/store"
)

// raw is the uncompressed option set used for test inputs and outputs.
var raw = []store.DatasetOption{}

func newStore(t *testing.T) *store.File {
	t.Helper()
	f, err := store.Create(filepath.Join(t.TempDir(), "engine.rst"))
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func putDataset[T store.Element](t *testing.T, f *store.File, path string, t0 store.Type, data []T, opts ...store.DatasetOption) *store.Dataset {
	t.Helper()
	ds, err := f.CreateDataset(path, t0, uint64(len(data)), opts...)
	require.NoError(t, err)
	require.NoError(t, store.WriteSlice(ds, 0, data))
	require.NoError(t, ds.MarkComplete())
	return ds
}

func readAll[T store.Element](t *testing.T, f *store.File, path string) []T {
	t.Helper()
	ds, err := f.OpenDataset(path)
	require.NoError(t, err)
	out, err := store.ReadAll[T](ds)
	require.NoError(t, err)
	return out
}

// reversedRows reverses the row order of a copy of data.
func reversedRows[T any](data []T, width int) []T {
	out := make([]T, 0, len(data))
	for row := len(data)/width - 1; row >= 0; row-- {
		out = append(out, data[row*width:(row+1)*width]...)
	}
	return out
}

type recorder struct {
	done, total []int
}

func (r *recorder) Report(done, total int) {
	r.done = append(r.done, done)
	r.total = append(r.total, total)
}
