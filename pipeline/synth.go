package pipeline

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/robert-malhotra/go-rasterstats/engine"
	"github.com/robert-malhotra/go-rasterstats/store"
)

// Synthesize creates the sum, sumsq and count accumulators of each group
// from up to observations random samples per pixel, drawn from a normal
// distribution whose mean varies across the image. The same seed always
// produces the same store contents.
func Synthesize(f *store.File, groups []string, width, height, observations int, seed uint64, opts ...store.DatasetOption) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: %dx%d", engine.ErrInvalidShape, width, height)
	}
	if observations < 0 || observations > math.MaxUint8 {
		return fmt.Errorf("observations must be in [0, %d], got %d", math.MaxUint8, observations)
	}
	if len(opts) == 0 {
		opts = engine.DefaultDatasetOptions
	}

	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	n := uint64(width) * uint64(height)
	for _, g := range groups {
		sum, err := f.CreateDataset(g+"/"+engine.StatSum, store.Float32, n, opts...)
		if err != nil {
			return err
		}
		sumsq, err := f.CreateDataset(g+"/"+engine.StatSumSq, store.Float32, n, opts...)
		if err != nil {
			return err
		}
		count, err := f.CreateDataset(g+"/"+engine.StatCount, store.Uint8, n, opts...)
		if err != nil {
			return err
		}

		s := make([]float32, width)
		ss := make([]float32, width)
		c := make([]uint8, width)
		for y := range height {
			for x := range width {
				k := rng.IntN(observations + 1)
				mu := 10 * float64(y) / float64(height)
				var a, b float64
				for range k {
					v := mu + rng.NormFloat64()
					a += v
					b += v * v
				}
				s[x], ss[x], c[x] = float32(a), float32(b), uint8(k)
			}
			lo := uint64(y) * uint64(width)
			if err := sum.WriteFloat32(lo, s); err != nil {
				return err
			}
			if err := sumsq.WriteFloat32(lo, ss); err != nil {
				return err
			}
			if err := count.WriteUint8(lo, c); err != nil {
				return err
			}
		}
		for _, d := range []*store.Dataset{sum, sumsq, count} {
			if err := d.MarkComplete(); err != nil {
				return err
			}
		}
		if err := f.Flush(); err != nil {
			return err
		}
	}
	return nil
}
