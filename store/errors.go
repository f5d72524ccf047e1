// Package store provides a pure Go hierarchical store of chunked flat arrays.
package store

import (
	"errors"

	"github.com/robert-malhotra/go-rasterstats/internal/filter"
	"github.com/robert-malhotra/go-rasterstats/internal/layout"
)

// Common errors
var (
	ErrNotFound    = errors.New("object not found")
	ErrNotDataset  = errors.New("object is not a dataset")
	ErrNotGroup    = errors.New("object is not a group")
	ErrExists      = errors.New("object already exists")
	ErrInvalidPath = errors.New("invalid path")
	ErrClosed      = errors.New("file is closed")
	ErrReadOnly    = errors.New("file is not writable")
	ErrImmutable   = errors.New("dataset is complete and cannot be modified")
	ErrLocked      = errors.New("file is locked by another writer")
	ErrCorrupt     = filter.ErrCorrupt
	ErrOutOfRange  = layout.ErrOutOfRange
)
