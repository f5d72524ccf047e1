package engine

import (
	"io"

	"github.com/sirupsen/logrus"

	"github.com/robert-malhotra/go-rasterstats/store"
)

// Store is the part of a store file the engine reads and writes.
// *store.File satisfies it.
type Store interface {
	Exists(path string) bool
	OpenDataset(path string) (*store.Dataset, error)
	CreateDataset(path string, t store.Type, length uint64, opts ...store.DatasetOption) (*store.Dataset, error)
	Unlink(path string) error
	Flush() error
}

// DefaultDatasetOptions are used for outputs when none are configured.
var DefaultDatasetOptions = []store.DatasetOption{store.WithDeflate(1)}

func datasetOptions(opts []store.DatasetOption) []store.DatasetOption {
	if opts == nil {
		return DefaultDatasetOptions
	}
	return opts
}

func loggerOrDiscard(l logrus.FieldLogger) logrus.FieldLogger {
	if l != nil {
		return l
	}
	discard := logrus.New()
	discard.SetOutput(io.Discard)
	return discard
}
