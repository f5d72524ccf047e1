package pipeline

import (
	"context"
	"fmt"
	"os"
	"slices"

	"github.com/sirupsen/logrus"

	"github.com/robert-malhotra/go-rasterstats/engine"
	"github.com/robert-malhotra/go-rasterstats/h5"
	"github.com/robert-malhotra/go-rasterstats/store"
)

// HDF5Exporter writes the reversed count, mean and sd of reduced groups
// into one HDF5 file as height×width datasets at the same paths they have
// in the store.
type HDF5Exporter struct {
	Store  *store.File
	Width  int
	Height int
	Rows   int

	// Deflate is the zlib level of the written chunks; 0 stores them as is.
	Deflate int

	Progress engine.Progress
	Log      logrus.FieldLogger
}

// Export writes path from scratch. The file is assembled under
// path+".tmp" and renamed into place once complete, so a failed export
// never leaves a truncated file at path.
func (e *HDF5Exporter) Export(ctx context.Context, path string, groups []string) error {
	fail := func(kind, err error) error {
		return &engine.OpError{Op: engine.OpExport, Name: path, Kind: kind, Err: err}
	}
	if e.Width <= 0 || e.Height <= 0 {
		return fail(engine.ErrInvalidShape, fmt.Errorf("%dx%d", e.Width, e.Height))
	}

	tmp := path + ".tmp"
	f, err := h5.Create(tmp)
	if err != nil {
		return fail(engine.ErrIO, err)
	}
	abort := func(kind, err error) error {
		f.Close()
		os.Remove(tmp)
		return fail(kind, err)
	}

	var opts []h5.DatasetOption
	if e.Deflate > 0 {
		opts = append(opts, h5.WithShuffle(), h5.WithDeflate(e.Deflate))
	}
	rows := e.Rows
	if rows <= 0 {
		rows = DefaultExportRows
	}
	total := 3 * len(groups) * e.Height
	done := 0
	for _, g := range groups {
		paths := engine.StatsPaths(g)
		for _, p := range []string{paths.Count, paths.Mean, paths.SD} {
			d, err := e.Store.OpenDataset(p)
			if err != nil {
				return abort(engine.ErrMissingInput, err)
			}
			if want := uint64(e.Width) * uint64(e.Height); d.Len() != want {
				return abort(engine.ErrSizeMismatch, fmt.Errorf("%s: %d elements, want %d", p, d.Len(), want))
			}
			w, err := f.CreateDataset(p, d.Type(), []uint64{uint64(e.Height), uint64(e.Width)},
				append(slices.Clip(opts), h5.WithChunks(uint64(min(rows, e.Height)), uint64(e.Width)))...)
			if err != nil {
				return abort(engine.ErrIO, err)
			}
			for row := 0; row < e.Height; row += rows {
				if err := ctx.Err(); err != nil {
					return abort(nil, err)
				}
				n := min(rows, e.Height-row)
				lo := uint64(row) * uint64(e.Width)
				raw, err := d.ReadRaw(lo, lo+uint64(n*e.Width))
				if err != nil {
					return abort(engine.ErrIO, err)
				}
				if err := w.Write(raw); err != nil {
					return abort(engine.ErrIO, err)
				}
				done += n
				if e.Progress != nil {
					e.Progress.Report(done, total)
				}
			}
			if err := w.Close(); err != nil {
				return abort(engine.ErrIO, err)
			}
		}
	}
	if len(groups) == 0 && e.Progress != nil {
		e.Progress.Report(0, 0)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fail(engine.ErrIO, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fail(engine.ErrIO, err)
	}
	if e.Log != nil {
		e.Log.WithFields(logrus.Fields{"file": path, "groups": len(groups)}).Debug("exported")
	}
	return nil
}
