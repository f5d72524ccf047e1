package pipeline

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/astrogo/fitsio"
	"github.com/sirupsen/logrus"

	"github.com/robert-malhotra/go-rasterstats/engine"
	"github.com/robert-malhotra/go-rasterstats/h5"
	"github.com/robert-malhotra/go-rasterstats/store"
)

// Tracker shows the progress of each operation of a run.
type Tracker interface {
	Begin(op, name string) engine.Progress
	End(err error)
}

type nopTracker struct{}

func (nopTracker) Begin(string, string) engine.Progress { return engine.NopProgress{} }
func (nopTracker) End(error) {}

// Options configure a run.
type Options struct {
	Width  int
	Height int

	RowBatch       int
	StatsBatch     int
	SingleSample   engine.SingleSample
	DatasetOptions []store.DatasetOption

	// Source, when set, is an HDF5 file whose raw datasets are imported
	// into the store before anything else runs.
	Source         *h5.File
	ImportElements int

	// Export writes count, mean and sd images of every reduced group.
	Export       bool
	ExportDir    string
	ExportPrefix string
	ExportCards  []fitsio.Card
	ExportRows   int

	// ExportHDF5 names an HDF5 file, inside ExportDir, that receives the
	// statistics of every reduced group. Empty disables it.
	ExportHDF5    string
	ExportDeflate int

	Log     logrus.FieldLogger
	Tracker Tracker
}

// Runner runs the job over one store file.
type Runner struct {
	Store *store.File
	Options
}

// Run reverses every raw dataset, reduces every accumulator group and
// exports the statistics. Failures of single items are recorded in the
// report; the returned error is only set when the run could not proceed.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	if r.Width <= 0 || r.Height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", engine.ErrInvalidShape, r.Width, r.Height)
	}
	log := r.logger()
	report := &Report{}
	if r.Source != nil {
		if err := r.importSource(ctx, report); err != nil {
			return report, err
		}
	}

	plan, err := Scan(r.Store)
	if err != nil {
		return nil, fmt.Errorf("scanning store: %w", err)
	}
	log.WithFields(logrus.Fields{
		"datasets": len(plan.Datasets),
		"groups":   len(plan.Groups),
	}).Info("scanned store")

	rev := &engine.Reverser{
		Store:          r.Store,
		RowBatch:       r.RowBatch,
		Log:            log,
		DatasetOptions: r.DatasetOptions,
	}
	for i, name := range plan.Datasets {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		log.WithField("dataset", name).Infof("reversing dataset %d of %d", i+1, len(plan.Datasets))
		report.add(r.do(engine.OpReverse, name, func(p engine.Progress) (engine.Status, error) {
			rev.Progress = p
			return rev.Reverse(ctx, name, r.Width, r.Height)
		}))
	}

	red := &engine.Reducer{
		Store:          r.Store,
		Batch:          r.StatsBatch,
		Log:            log,
		SingleSample:   r.SingleSample,
		DatasetOptions: r.DatasetOptions,
	}
	for i, group := range plan.Groups {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		log.WithField("group", group).Infof("reducing group %d of %d", i+1, len(plan.Groups))
		report.add(r.do(engine.OpStats, group, func(p engine.Progress) (engine.Status, error) {
			red.Progress = p
			return red.Reduce(ctx, group)
		}))

		if !r.Export || !report.ok(engine.OpStats, group) {
			continue
		}
		ex := &Exporter{
			Store:  r.Store,
			Width:  r.Width,
			Height: r.Height,
			Dir:    r.ExportDir,
			Prefix: r.ExportPrefix,
			Cards:  r.ExportCards,
			Rows:   r.ExportRows,
			Log:    log,
		}
		report.add(r.do(engine.OpExport, group, func(p engine.Progress) (engine.Status, error) {
			ex.Progress = p
			return engine.StatusComputed, ex.Export(ctx, group)
		}))
	}

	if r.Export && r.ExportHDF5 != "" {
		var done []string
		for _, g := range plan.Groups {
			if report.ok(engine.OpStats, g) {
				done = append(done, g)
			}
		}
		out := filepath.Join(r.ExportDir, r.ExportHDF5)
		ex := &HDF5Exporter{
			Store:   r.Store,
			Width:   r.Width,
			Height:  r.Height,
			Rows:    r.ExportRows,
			Deflate: r.ExportDeflate,
			Log:     log,
		}
		report.add(r.do(engine.OpExport, out, func(p engine.Progress) (engine.Status, error) {
			ex.Progress = p
			return engine.StatusComputed, ex.Export(ctx, out, done)
		}))
	}

	computed, skipped, failed := report.Counts()
	log.WithFields(logrus.Fields{
		"computed": computed,
		"skipped":  skipped,
		"failed":   failed,
	}).Info("run finished")
	return report, nil
}

func (r *Runner) importSource(ctx context.Context, report *Report) error {
	paths, err := Sources(r.Source)
	if err != nil {
		return fmt.Errorf("listing %s: %w", r.Source.Path(), err)
	}
	im := &Importer{
		Source:         r.Source,
		Store:          r.Store,
		Elements:       r.ImportElements,
		DatasetOptions: r.DatasetOptions,
		Log:            r.logger(),
	}
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return err
		}
		report.add(r.do(engine.OpImport, p, func(pr engine.Progress) (engine.Status, error) {
			im.Progress = pr
			return im.Import(ctx, p)
		}))
	}
	return nil
}

func (r *Runner) do(op, name string, fn func(engine.Progress) (engine.Status, error)) Item {
	tracker := r.Tracker
	if tracker == nil {
		tracker = nopTracker{}
	}
	start := time.Now()
	status, err := fn(tracker.Begin(op, name))
	tracker.End(err)

	it := Item{Op: op, Name: name, Status: status, Err: err, Elapsed: time.Since(start)}
	entry := r.logger().WithFields(logrus.Fields{"op": op, "name": name, "elapsed": it.Elapsed})
	switch {
	case err != nil:
		entry.WithError(err).Error("failed")
	case status == engine.StatusSkipped:
		entry.Info("already complete, skipped")
	default:
		entry.Debug("done")
	}
	return it
}

func (r *Runner) logger() logrus.FieldLogger {
	if r.Log != nil {
		return r.Log
	}
	return discardLogger()
}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
