// Package pipeline runs the full rasterstats job over a store: reverse every
// raw dataset, reduce every accumulator group to mean and sd, and export
// the results as FITS images. A failing dataset or group is recorded and
// the run moves on to the next one.
package pipeline
