package filter

import (
	"errors"
	"fmt"
)

// ID identifies a filter in the on-disk pipeline description.
type ID uint8

const (
	IDShuffle ID = iota + 1
	IDDeflate
	IDZstd
	IDLZ4
	IDS2
	IDChecksum
	IDFletcher32
)

// ErrCorrupt is returned when stored chunk data fails to decode.
var ErrCorrupt = errors.New("corrupt chunk data")

// Filter transforms chunk bytes on their way to and from storage.
type Filter interface {
	// ID returns the filter identifier.
	ID() ID
	// Encode transforms raw data to its stored form.
	Encode(input []byte) ([]byte, error)
	// Decode transforms stored data back to raw form.
	Decode(input []byte) ([]byte, error)
}

// Spec describes one filter of a pipeline: its ID and a single parameter
// (element size for shuffle, level for deflate; unused otherwise).
type Spec struct {
	ID    ID
	Param uint32
}

// Registry maps filter IDs to filter constructors.
var Registry = map[ID]func(param uint32) Filter{
	IDShuffle:    func(p uint32) Filter { return NewShuffle(int(p)) },
	IDDeflate:    func(p uint32) Filter { return NewDeflate(int(p)) },
	IDZstd:       func(uint32) Filter { return NewZstd() },
	IDLZ4:        func(uint32) Filter { return NewLZ4() },
	IDS2:         func(uint32) Filter { return NewS2() },
	IDChecksum:   func(uint32) Filter { return NewChecksum() },
	IDFletcher32: func(uint32) Filter { return NewFletcher32() },
}

var filterNames = map[ID]string{
	IDShuffle:    "shuffle",
	IDDeflate:    "deflate",
	IDZstd:       "zstd",
	IDLZ4:        "lz4",
	IDS2:         "s2",
	IDChecksum:   "checksum",
	IDFletcher32: "fletcher32",
}

func (id ID) String() string {
	if name, ok := filterNames[id]; ok {
		return name
	}
	return fmt.Sprintf("filter(%d)", uint8(id))
}

// New creates a filter from its spec.
func New(spec Spec) (Filter, error) {
	constructor, ok := Registry[spec.ID]
	if !ok {
		return nil, fmt.Errorf("unsupported filter ID: %d", spec.ID)
	}
	return constructor(spec.Param), nil
}
