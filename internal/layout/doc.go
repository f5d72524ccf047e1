// Package layout maps flat element ranges onto the fixed-size chunks of a
// dataset and caches decoded chunks.
//
// # Chunk Geometry
//
// A dataset of Length elements is split into chunks of ChunkLen elements.
// Chunk i covers elements [i*ChunkLen, min((i+1)*ChunkLen, Length)). Every
// chunk is stored at full ChunkLen size; the tail of the last chunk is zero
// padding.
//
// [Chunked.Segments] splits a requested window into per-chunk pieces:
//
//	for seg := range geom.Segments(lo, hi) {
//	    copy(out[seg.Dst*es:], chunk[seg.Offset*es:(seg.Offset+seg.Count)*es])
//	}
//
// # Cache
//
// [Cache] is a least-recently-used set of decoded chunks keyed by dataset
// and chunk index. Dirty chunks are handed to the eviction callback before
// they leave the cache, so memory stays bounded by capacity times chunk size.
package layout
