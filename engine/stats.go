package engine

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/robert-malhotra/go-rasterstats/internal/dtype"
	"github.com/robert-malhotra/go-rasterstats/store"
)

// DefaultStatsBatch is the number of elements per window when Batch is unset.
const DefaultStatsBatch = 1_000_000

// NoData is the standard deviation written for cells without observations.
const NoData float32 = -1

// SingleSample selects the standard deviation written for cells with a
// single observation, where the sample variance divides by zero.
type SingleSample int

const (
	// SingleSampleSentinel writes NoData.
	SingleSampleSentinel SingleSample = iota
	// SingleSampleZero writes 0.
	SingleSampleZero
	// SingleSampleRaw writes whatever the unguarded division yields.
	SingleSampleRaw
)

var singleSampleNames = map[SingleSample]string{
	SingleSampleSentinel: "sentinel",
	SingleSampleZero:     "zero",
	SingleSampleRaw:      "raw",
}

func (s SingleSample) String() string {
	if name, ok := singleSampleNames[s]; ok {
		return name
	}
	return fmt.Sprintf("SingleSample(%d)", int(s))
}

// ParseSingleSample parses "sentinel", "zero" or "raw".
func ParseSingleSample(s string) (SingleSample, error) {
	for k, v := range singleSampleNames {
		if strings.EqualFold(s, v) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown single-sample policy %q", s)
}

// Count is the set of element types accepted for observation counts.
type Count interface {
	uint8 | uint16 | uint32
}

// MeanSD computes mean and sample standard deviation from accumulators.
// All slices must have the same length. Cells with a zero count get a NaN
// mean and an sd of NoData; policy decides cells with a count of one.
func MeanSD[C Count](sum, sumsq []float32, count []C, mean, sd []float32, policy SingleSample) error {
	n := len(count)
	zero := make([]bool, n)
	c := make([]float32, n)
	for i, v := range count {
		zero[i] = v == 0
		c[i] = float32(v)
	}
	return meanSD(sum, sumsq, c, zero, mean, sd, policy)
}

func meanSD(sum, sumsq, count []float32, zero []bool, mean, sd []float32, policy SingleSample) error {
	n := len(count)
	if len(sum) != n || len(sumsq) != n || len(zero) != n || len(mean) != n || len(sd) != n {
		return fmt.Errorf("%w: accumulator slices of unequal length", ErrSizeMismatch)
	}
	nan := float32(math.NaN())
	for i := range n {
		if zero[i] {
			mean[i] = nan
			sd[i] = NoData
			continue
		}
		c := count[i]
		mean[i] = sum[i] / c

		if c == 1 {
			switch policy {
			case SingleSampleSentinel:
				sd[i] = NoData
				continue
			case SingleSampleZero:
				sd[i] = 0
				continue
			}
		}
		v := (sumsq[i] - sum[i]*sum[i]/c) / (c - 1)
		if v < 0 && c > 1 {
			v = 0
		}
		sd[i] = float32(math.Sqrt(float64(v)))
	}
	return nil
}

// Reducer turns the reversed sum, sumsq and count accumulators of a group
// into mean and sd datasets.
type Reducer struct {
	Store        Store
	Batch        int
	Progress     Progress
	Log          logrus.FieldLogger
	SingleSample SingleSample

	// DatasetOptions configure the output datasets. Nil selects
	// DefaultDatasetOptions.
	DatasetOptions []store.DatasetOption
}

// Reduce writes the mean and sd datasets of group. It reads and writes
// Batch elements at a time.
func (r *Reducer) Reduce(ctx context.Context, group string) (Status, error) {
	fail := func(kind, err error) (Status, error) {
		return StatusComputed, &OpError{Op: OpStats, Name: group, Kind: kind, Err: err}
	}
	log := loggerOrDiscard(r.Log).WithFields(logrus.Fields{"op": OpStats, "group": group})
	paths := StatsPaths(group)

	skip, err := Guard{Store: r.Store, Log: log}.Check(paths.Outputs()...)
	if err != nil {
		return fail(ErrIO, err)
	}
	if skip {
		return StatusSkipped, nil
	}

	var inputs [3]*store.Dataset
	for i, p := range paths.Inputs() {
		ds, err := r.Store.OpenDataset(p)
		if err != nil {
			return fail(ErrMissingInput, err)
		}
		inputs[i] = ds
	}
	sumDs, sumsqDs, countDs := inputs[0], inputs[1], inputs[2]

	n := sumDs.Len()
	if sumsqDs.Len() != n || countDs.Len() != n {
		return fail(ErrSizeMismatch, fmt.Errorf("sum %d, sumsq %d, count %d elements",
			n, sumsqDs.Len(), countDs.Len()))
	}
	if sumDs.Type() != store.Float32 || sumsqDs.Type() != store.Float32 {
		return fail(ErrTypeMismatch, fmt.Errorf("sum %s, sumsq %s, want float32", sumDs.Type(), sumsqDs.Type()))
	}
	if !countDs.Type().IsUnsigned() {
		return fail(ErrTypeMismatch, fmt.Errorf("count %s, want an unsigned integer type", countDs.Type()))
	}

	opts := datasetOptions(r.DatasetOptions)
	sdDs, err := r.Store.CreateDataset(paths.SD, store.Float32, n, opts...)
	if err != nil {
		return fail(ErrIO, err)
	}
	meanDs, err := r.Store.CreateDataset(paths.Mean, store.Float32, n, opts...)
	if err != nil {
		return fail(ErrIO, err)
	}

	batch := uint64(r.Batch)
	if r.Batch <= 0 {
		batch = DefaultStatsBatch
	}
	size := min(batch, n)
	var (
		count = make([]float32, size)
		zero  = make([]bool, size)
		mean  = make([]float32, size)
		sd    = make([]float32, size)
	)
	progress := progressOrNop(r.Progress)
	log.WithFields(logrus.Fields{"elements": n, "batch": batch, "single_sample": r.SingleSample}).Info("computing mean and sd")

	for lo := uint64(0); lo < n; lo += batch {
		if err := ctx.Err(); err != nil {
			return fail(nil, err)
		}
		hi := min(lo+batch, n)
		k := hi - lo

		sum, err := store.ReadSlice[float32](sumDs, lo, hi)
		if err != nil {
			return fail(ErrIO, err)
		}
		sumsq, err := store.ReadSlice[float32](sumsqDs, lo, hi)
		if err != nil {
			return fail(ErrIO, err)
		}
		raw, err := countDs.ReadRaw(lo, hi)
		if err != nil {
			return fail(ErrIO, err)
		}
		// The zero mask comes from the integer counts, before conversion.
		if err := dtype.IsZero(countDs.Type(), raw, zero[:k]); err != nil {
			return fail(ErrIO, err)
		}
		if err := dtype.ToFloat32(countDs.Type(), raw, count[:k]); err != nil {
			return fail(ErrIO, err)
		}

		if err := meanSD(sum, sumsq, count[:k], zero[:k], mean[:k], sd[:k], r.SingleSample); err != nil {
			return fail(ErrIO, err)
		}
		if err := store.WriteSlice(sdDs, lo, sd[:k]); err != nil {
			return fail(ErrIO, err)
		}
		if err := store.WriteSlice(meanDs, lo, mean[:k]); err != nil {
			return fail(ErrIO, err)
		}
		progress.Report(int(hi), int(n))
	}
	if n == 0 {
		progress.Report(0, 0)
	}

	for _, ds := range []*store.Dataset{sdDs, meanDs} {
		if err := ds.SetAttr("group", group); err != nil {
			return fail(ErrIO, err)
		}
		if err := ds.MarkComplete(); err != nil {
			return fail(ErrIO, err)
		}
	}
	if err := r.Store.Flush(); err != nil {
		return fail(ErrIO, err)
	}
	log.Debug("stats written")
	return StatusComputed, nil
}
