package pipeline

import (
	"github.com/robert-malhotra/go-rasterstats/engine"
	"github.com/robert-malhotra/go-rasterstats/store"
)

// Plan lists the work found in a store.
type Plan struct {
	// Datasets are the raw datasets to reverse.
	Datasets []string
	// Groups hold sum, sumsq or count accumulators.
	Groups []string
}

// Scan walks f and collects the datasets to reverse and the accumulator
// groups to reduce, in store order.
func Scan(f *store.File) (*Plan, error) {
	plan := &Plan{}
	err := store.Walk(f.Root(), func(path string, obj any) error {
		switch o := obj.(type) {
		case *store.Dataset:
			if !engine.IsReversed(path) {
				plan.Datasets = append(plan.Datasets, path)
			}
		case *store.Group:
			if isAccumulatorGroup(o) {
				plan.Groups = append(plan.Groups, path)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return plan, nil
}

func isAccumulatorGroup(g *store.Group) bool {
	for _, name := range []string{engine.StatSum, engine.StatSumSq, engine.StatCount} {
		if g.IsDataset(name) {
			return true
		}
	}
	return false
}
