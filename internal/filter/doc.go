// Package filter implements the chunk filter pipeline of the store.
//
// Every chunk of a dataset passes through the same ordered list of filters
// before it is written. Encoding applies filters in declaration order;
// decoding applies them in reverse order.
//
// # Supported Filters
//
//   - Shuffle: byte shuffling via [Shuffle]. Groups byte 0 of every element,
//     then byte 1, and so on, which makes float rasters compress better.
//
//   - Deflate: zlib compression via [Deflate], backed by
//     github.com/klauspost/compress/zlib.
//
//   - Zstd: Zstandard compression via [Zstd], with pooled encoders and
//     decoders from github.com/klauspost/compress/zstd.
//
//   - LZ4: LZ4 block compression via [LZ4] (github.com/pierrec/lz4/v4). The
//     decoded length is stored in a 4-byte prefix.
//
//   - S2: Snappy-compatible compression via [S2].
//
//   - Checksum: xxHash64 integrity check via [Checksum]. Eight bytes are
//     appended on encode and verified on decode.
//
// # Pipeline
//
//	p, err := filter.NewPipeline([]filter.Spec{
//	    {ID: filter.IDShuffle, Param: 4},
//	    {ID: filter.IDDeflate, Param: 1},
//	})
//	stored, err := p.Encode(raw)
//	raw, err = p.Decode(stored)
package filter
