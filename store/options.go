package store

import (
	"fmt"
	"time"

	"github.com/robert-malhotra/go-rasterstats/internal/filter"
)

// DefaultChunkLen is the number of elements per chunk when none is given.
const DefaultChunkLen = 1 << 16

// MaxChunkBytes bounds the decoded size of one chunk.
const MaxChunkBytes = 64 << 20

// DefaultCacheChunks is the default number of decoded chunks kept in memory.
const DefaultCacheChunks = 16

// FileOption configures how a file is created or opened.
type FileOption func(*fileOptions)

type fileOptions struct {
	cacheChunks int
	lockTimeout time.Duration
}

func defaultFileOptions() *fileOptions {
	return &fileOptions{
		cacheChunks: DefaultCacheChunks,
	}
}

// WithCacheChunks sets how many decoded chunks are cached in memory.
func WithCacheChunks(n int) FileOption {
	return func(o *fileOptions) {
		if n > 0 {
			o.cacheChunks = n
		}
	}
}

// WithLockTimeout makes writers wait up to d for another writer's lock
// to be released. Zero fails immediately.
func WithLockTimeout(d time.Duration) FileOption {
	return func(o *fileOptions) {
		if d >= 0 {
			o.lockTimeout = d
		}
	}
}

// DatasetOption configures dataset creation options.
type DatasetOption func(*datasetOptions)

type attrDef struct {
	name  string
	value string
}

type datasetOptions struct {
	chunkLen   uint64
	codec      *filter.Spec
	shuffle    bool
	checksum   bool
	attributes []attrDef
}

func defaultDatasetOptions() *datasetOptions {
	return &datasetOptions{
		chunkLen: DefaultChunkLen,
	}
}

// specs builds the filter pipeline: shuffle, then the codec, then the checksum.
func (o *datasetOptions) specs(t Type) []filter.Spec {
	var specs []filter.Spec
	if o.shuffle && t.Size() > 1 {
		specs = append(specs, filter.Spec{ID: filter.IDShuffle, Param: uint32(t.Size())})
	}
	if o.codec != nil {
		specs = append(specs, *o.codec)
	}
	if o.checksum {
		specs = append(specs, filter.Spec{ID: filter.IDChecksum})
	}
	return specs
}

// WithChunkLen sets the number of elements per chunk.
func WithChunkLen(n uint64) DatasetOption {
	return func(o *datasetOptions) {
		if n > 0 {
			o.chunkLen = n
		}
	}
}

// WithDeflate compresses chunks with zlib at the given level (1-9).
func WithDeflate(level int) DatasetOption {
	return func(o *datasetOptions) {
		o.codec = &filter.Spec{ID: filter.IDDeflate, Param: uint32(max(level, 0))}
	}
}

// WithZstd compresses chunks with Zstandard.
func WithZstd() DatasetOption {
	return func(o *datasetOptions) {
		o.codec = &filter.Spec{ID: filter.IDZstd}
	}
}

// WithLZ4 compresses chunks with LZ4 block compression.
func WithLZ4() DatasetOption {
	return func(o *datasetOptions) {
		o.codec = &filter.Spec{ID: filter.IDLZ4}
	}
}

// WithS2 compresses chunks with S2.
func WithS2() DatasetOption {
	return func(o *datasetOptions) {
		o.codec = &filter.Spec{ID: filter.IDS2}
	}
}

// WithCodec selects a codec by name: "none", "deflate", "zstd", "lz4" or "s2".
// The level only applies to deflate.
func WithCodec(name string, level int) (DatasetOption, error) {
	switch name {
	case "", "none":
		return func(o *datasetOptions) { o.codec = nil }, nil
	case "deflate", "gzip", "zlib":
		return WithDeflate(level), nil
	case "zstd":
		return WithZstd(), nil
	case "lz4":
		return WithLZ4(), nil
	case "s2":
		return WithS2(), nil
	}
	return nil, fmt.Errorf("unknown codec %q", name)
}

// WithShuffle enables the byte shuffle filter (improves compression).
func WithShuffle() DatasetOption {
	return func(o *datasetOptions) {
		o.shuffle = true
	}
}

// WithChecksum appends an xxHash64 checksum to every stored chunk.
func WithChecksum() DatasetOption {
	return func(o *datasetOptions) {
		o.checksum = true
	}
}

// WithAttribute adds a string attribute to the dataset.
// Multiple WithAttribute options can be used to add multiple attributes.
func WithAttribute(name, value string) DatasetOption {
	return func(o *datasetOptions) {
		o.attributes = append(o.attributes, attrDef{name: name, value: value})
	}
}
