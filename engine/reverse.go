package engine

import (
	"context"
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/robert-malhotra/go-rasterstats/store"
)

// DefaultRowBatch is the number of rows read per window when RowBatch is unset.
const DefaultRowBatch = 100

// Reverser writes row-reversed twins of flattened 2D datasets.
type Reverser struct {
	Store    Store
	RowBatch int
	Progress Progress
	Log      logrus.FieldLogger

	// DatasetOptions configure the output dataset. Nil selects
	// DefaultDatasetOptions.
	DatasetOptions []store.DatasetOption
}

// Reverse writes RevName(name) holding the rows of name, a width×height
// row-major dataset, in reverse order. It holds at most two windows of
// RowBatch rows in memory.
func (r *Reverser) Reverse(ctx context.Context, name string, width, height int) (Status, error) {
	fail := func(kind, err error) (Status, error) {
		return StatusComputed, &OpError{Op: OpReverse, Name: name, Kind: kind, Err: err}
	}
	log := loggerOrDiscard(r.Log).WithFields(logrus.Fields{"op": OpReverse, "dataset": name})

	if IsReversed(name) {
		return fail(ErrReversedInput, nil)
	}
	if width <= 0 || height <= 0 {
		return fail(ErrInvalidShape, fmt.Errorf("%dx%d", width, height))
	}

	out := RevName(name)
	skip, err := Guard{Store: r.Store, Log: log}.Check(out)
	if err != nil {
		return fail(ErrIO, err)
	}
	if skip {
		return StatusSkipped, nil
	}

	in, err := r.Store.OpenDataset(name)
	if err != nil {
		return fail(ErrMissingInput, err)
	}
	want := uint64(width) * uint64(height)
	if in.Len() != want {
		return fail(ErrSizeMismatch, fmt.Errorf("%d elements, want %dx%d = %d", in.Len(), width, height, want))
	}

	dst, err := r.Store.CreateDataset(out, in.Type(), in.Len(), datasetOptions(r.DatasetOptions)...)
	if err != nil {
		return fail(ErrIO, err)
	}

	batch := r.RowBatch
	if batch <= 0 {
		batch = DefaultRowBatch
	}
	rowBytes := width * in.Type().Size()
	half := HalfHeight(height)
	progress := progressOrNop(r.Progress)
	log.WithFields(logrus.Fields{"width": width, "height": height, "batch": batch}).Info("reversing rows")

	for pair := range Pairs(width, height, batch) {
		if err := ctx.Err(); err != nil {
			return fail(nil, err)
		}
		fwd, err := in.ReadRaw(pair.Forward.Lo, pair.Forward.Hi)
		if err != nil {
			return fail(ErrIO, err)
		}
		mir, err := in.ReadRaw(pair.Mirror.Lo, pair.Mirror.Hi)
		if err != nil {
			return fail(ErrIO, err)
		}
		ReverseRows(fwd, pair.Rows, rowBytes)
		ReverseRows(mir, pair.Rows, rowBytes)

		if err := dst.WriteRaw(pair.Mirror.Lo, fwd); err != nil {
			return fail(ErrIO, err)
		}
		if err := dst.WriteRaw(pair.Forward.Lo, mir); err != nil {
			return fail(ErrIO, err)
		}
		progress.Report(pair.Row+pair.Rows, half)
	}

	attrs := [][2]string{
		{"width", strconv.Itoa(width)},
		{"height", strconv.Itoa(height)},
		{"source", name},
	}
	for _, a := range attrs {
		if err := dst.SetAttr(a[0], a[1]); err != nil {
			return fail(ErrIO, err)
		}
	}
	if err := dst.MarkComplete(); err != nil {
		return fail(ErrIO, err)
	}
	if err := r.Store.Flush(); err != nil {
		return fail(ErrIO, err)
	}
	log.Debug("reversed")
	return StatusComputed, nil
}
