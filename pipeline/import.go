package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/robert-malhotra/go-rasterstats/engine"
	"github.com/robert-malhotra/go-rasterstats/h5"
	"github.com/robert-malhotra/go-rasterstats/store"
)

// DefaultImportElements bounds the elements copied per window on import.
const DefaultImportElements = 1 << 20

// Importer copies the raw datasets of an HDF5 file into the store, where
// the engine can read and write them by flat index window.
type Importer struct {
	Source *h5.File
	Store  *store.File

	// Elements is the target size of one copy window; whole rows are
	// always copied.
	Elements       int
	DatasetOptions []store.DatasetOption

	Progress engine.Progress
	Log      logrus.FieldLogger
}

// Sources returns the HDF5 datasets an import copies: every readable
// dataset whose name does not mark it as a reversed output.
func Sources(src *h5.File) ([]string, error) {
	all, err := src.Datasets()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, p := range all {
		if !engine.IsReversed(p) {
			out = append(out, p)
		}
	}
	return out, nil
}

// SourceShape returns the width and height of the first two-dimensional
// raw dataset of src.
func SourceShape(src *h5.File) (width, height int, err error) {
	paths, err := Sources(src)
	if err != nil {
		return 0, 0, err
	}
	for _, p := range paths {
		ds, err := src.OpenDataset(p)
		if err != nil {
			return 0, 0, err
		}
		if dims := ds.Dims(); len(dims) == 2 {
			return int(dims[1]), int(dims[0]), nil
		}
	}
	return 0, 0, fmt.Errorf("%w: no two-dimensional dataset in %s", engine.ErrMissingInput, src.Path())
}

// Import copies the HDF5 dataset at path to the same path in the store.
// A complete copy is left alone; a partial one is rebuilt.
func (im *Importer) Import(ctx context.Context, path string) (engine.Status, error) {
	fail := func(kind, err error) (engine.Status, error) {
		return engine.StatusComputed, &engine.OpError{Op: engine.OpImport, Name: path, Kind: kind, Err: err}
	}
	log := im.logger().WithFields(logrus.Fields{"op": engine.OpImport, "dataset": path})

	skip, err := engine.Guard{Store: im.Store, Log: log}.Check(path)
	if err != nil {
		return fail(engine.ErrIO, err)
	}
	if skip {
		return engine.StatusSkipped, nil
	}

	src, err := im.Source.OpenDataset(path)
	if err != nil {
		return fail(engine.ErrMissingInput, err)
	}
	dims := src.Dims()
	if len(dims) == 0 {
		return fail(engine.ErrInvalidShape, errors.New("scalar dataset"))
	}
	rowLen := uint64(1)
	for _, d := range dims[1:] {
		rowLen *= d
	}
	opts := im.DatasetOptions
	if opts == nil {
		opts = engine.DefaultDatasetOptions
	}
	dst, err := im.Store.CreateDataset(path, src.Type(), src.Len(), opts...)
	if err != nil {
		return fail(engine.ErrIO, err)
	}

	elems := im.Elements
	if elems <= 0 {
		elems = DefaultImportElements
	}
	batch := max(1, uint64(elems)/max(rowLen, 1))
	progress := im.Progress
	if progress == nil {
		progress = engine.NopProgress{}
	}
	log.WithFields(logrus.Fields{"dims": dims, "type": src.Type(), "rows": batch}).Info("importing dataset")

	for row := uint64(0); row < dims[0]; row += batch {
		if err := ctx.Err(); err != nil {
			return fail(nil, err)
		}
		n := min(batch, dims[0]-row)
		raw, err := src.ReadRows(row, n)
		if err != nil {
			return fail(engine.ErrIO, err)
		}
		if err := dst.WriteRaw(row*rowLen, raw); err != nil {
			return fail(engine.ErrIO, err)
		}
		progress.Report(int(row+n), int(dims[0]))
	}
	if dims[0] == 0 {
		progress.Report(0, 0)
	}

	attrs := [][2]string{{"source", im.Source.Path() + ":" + path}}
	if len(dims) == 2 {
		attrs = append(attrs,
			[2]string{"width", strconv.FormatUint(dims[1], 10)},
			[2]string{"height", strconv.FormatUint(dims[0], 10)})
	}
	for _, a := range attrs {
		if err := dst.SetAttr(a[0], a[1]); err != nil {
			return fail(engine.ErrIO, err)
		}
	}
	if err := dst.MarkComplete(); err != nil {
		return fail(engine.ErrIO, err)
	}
	if err := im.Store.Flush(); err != nil {
		return fail(engine.ErrIO, err)
	}
	log.Debug("imported")
	return engine.StatusComputed, nil
}

func (im *Importer) logger() logrus.FieldLogger {
	if im.Log != nil {
		return im.Log
	}
	return discardLogger()
}
