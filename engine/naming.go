package engine

import "strings"

// RevSuffix marks row-reversed datasets.
const RevSuffix = "_rev"

// Accumulator and output dataset names inside a stats group.
const (
	StatSum   = "sum"
	StatSumSq = "sumsq"
	StatCount = "count"
	StatMean  = "mean"
	StatSD    = "sd"
)

// RevName returns the name of the reversed twin of a dataset.
func RevName(name string) string {
	return strings.TrimSuffix(name, "/") + RevSuffix
}

// IsReversed reports whether name is already a reversed dataset.
func IsReversed(name string) bool {
	return strings.HasSuffix(strings.TrimSuffix(name, "/"), RevSuffix)
}

// StatPaths holds the dataset paths used by the reducer for one group.
type StatPaths struct {
	Sum, SumSq, Count string // reversed accumulators
	Mean, SD          string // outputs
}

// StatsPaths returns the reversed accumulator and output paths of group.
func StatsPaths(group string) StatPaths {
	g := strings.TrimSuffix(group, "/")
	p := func(stat string) string { return g + "/" + stat + RevSuffix }
	return StatPaths{
		Sum:   p(StatSum),
		SumSq: p(StatSumSq),
		Count: p(StatCount),
		Mean:  p(StatMean),
		SD:    p(StatSD),
	}
}

// Inputs returns the accumulator paths.
func (p StatPaths) Inputs() []string {
	return []string{p.Sum, p.SumSq, p.Count}
}

// Outputs returns the output paths in write order.
func (p StatPaths) Outputs() []string {
	return []string{p.SD, p.Mean}
}
