package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/astrogo/fitsio"
	"github.com/sirupsen/logrus"

	"github.com/robert-malhotra/go-rasterstats/engine"
	"github.com/robert-malhotra/go-rasterstats/raster"
	"github.com/robert-malhotra/go-rasterstats/store"
)

// DefaultExportRows is the number of image rows written per window.
const DefaultExportRows = 100

// Exporter writes the reversed count and the mean and sd of a group as
// FITS images.
type Exporter struct {
	Store  *store.File
	Width  int
	Height int

	Dir    string
	Prefix string
	// Cards are copied into every image header, typically from a template.
	Cards []fitsio.Card
	Rows  int

	Progress engine.Progress
	Log      logrus.FieldLogger
}

// ExportName returns the image file name of stat in group.
func ExportName(prefix, group, stat string) string {
	g := strings.ReplaceAll(strings.Trim(group, "/"), "/", "_")
	name := g + "_" + stat + ".fits"
	if prefix != "" {
		name = prefix + "_" + name
	}
	return name
}

// Export writes count_rev, mean_rev and sd_rev of group.
func (e *Exporter) Export(ctx context.Context, group string) error {
	paths := engine.StatsPaths(group)
	stats := []struct{ path, name string }{
		{paths.Count, engine.StatCount + engine.RevSuffix},
		{paths.Mean, engine.StatMean + engine.RevSuffix},
		{paths.SD, engine.StatSD + engine.RevSuffix},
	}

	total := len(stats) * e.Height
	done := 0
	for _, s := range stats {
		out := filepath.Join(e.Dir, ExportName(e.Prefix, group, s.name))
		err := e.exportDataset(ctx, s.path, out, func(rows int) {
			done += rows
			if e.Progress != nil {
				e.Progress.Report(done, total)
			}
		})
		if err != nil {
			return err
		}
		if e.Log != nil {
			e.Log.WithFields(logrus.Fields{"dataset": s.path, "file": out}).Debug("exported")
		}
	}
	return nil
}

func (e *Exporter) exportDataset(ctx context.Context, path, out string, step func(rows int)) error {
	fail := func(kind, err error) error {
		return &engine.OpError{Op: engine.OpExport, Name: path, Kind: kind, Err: err}
	}

	d, err := e.Store.OpenDataset(path)
	if err != nil {
		return fail(engine.ErrMissingInput, err)
	}
	want := uint64(e.Width) * uint64(e.Height)
	if d.Len() != want {
		return fail(engine.ErrSizeMismatch, fmt.Errorf("%d elements, want %dx%d = %d", d.Len(), e.Width, e.Height, want))
	}
	if e.Dir != "" {
		if err := os.MkdirAll(e.Dir, 0o755); err != nil {
			return fail(engine.ErrIO, err)
		}
	}

	w, err := raster.Create(out, e.Width, e.Height, d.Type(), e.Cards)
	if err != nil {
		return fail(engine.ErrIO, err)
	}
	switch d.Type() {
	case store.Uint8:
		err = copyWindows[uint8](ctx, d, w, e.rows(), step)
	case store.Uint16:
		err = copyWindows[uint16](ctx, d, w, e.rows(), step)
	case store.Uint32:
		err = copyWindows[uint32](ctx, d, w, e.rows(), step)
	case store.Int32:
		err = copyWindows[int32](ctx, d, w, e.rows(), step)
	case store.Float32:
		err = copyWindows[float32](ctx, d, w, e.rows(), step)
	case store.Float64:
		err = copyWindows[float64](ctx, d, w, e.rows(), step)
	default:
		err = fmt.Errorf("%w: %s", engine.ErrTypeMismatch, d.Type())
	}
	if err != nil {
		w.Abort()
		return fail(nil, err)
	}
	if err := w.Close(); err != nil {
		return fail(engine.ErrIO, err)
	}
	return nil
}

func (e *Exporter) rows() int {
	if e.Rows > 0 {
		return e.Rows
	}
	return DefaultExportRows
}

func copyWindows[T store.Element](ctx context.Context, d *store.Dataset, w *raster.Writer, batch int, step func(int)) error {
	width := w.Width()
	for row := 0; row < w.Height(); row += batch {
		if err := ctx.Err(); err != nil {
			return err
		}
		rows := min(batch, w.Height()-row)
		lo := uint64(row) * uint64(width)
		data, err := store.ReadSlice[T](d, lo, lo+uint64(rows*width))
		if err != nil {
			return fmt.Errorf("%w: %w", engine.ErrIO, err)
		}
		if err := raster.WriteWindow(w, 1, 0, row, width, rows, data); err != nil {
			return fmt.Errorf("%w: %w", engine.ErrIO, err)
		}
		step(rows)
	}
	return nil
}
