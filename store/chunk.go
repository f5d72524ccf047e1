package store

import (
	"fmt"

	"github.com/robert-malhotra/go-rasterstats/internal/layout"
)

// chunk returns the decoded chunk i of m, reading it through the cache.
// Chunks that were never written decode as zeros. When overwrite is set
// the caller replaces the whole chunk, so an uncached chunk is not read.
func (f *File) chunk(m *datasetMeta, i int, overwrite bool) (*layout.Entry, error) {
	key := layout.Key{Dataset: m.id, Chunk: i}
	if e, ok := f.cache.Get(key); ok {
		return e, nil
	}

	geom := m.geometry()
	data := make([]byte, geom.ChunkBytes())
	ref := m.chunks[i]
	if ref.size > 0 && !overwrite {
		stored, err := f.reader.At(int64(ref.addr)).ReadBytes(int(ref.size))
		if err != nil {
			return nil, fmt.Errorf("reading chunk %d: %w", i, err)
		}
		decoded, err := m.pipeline.Decode(stored)
		if err != nil {
			return nil, fmt.Errorf("decoding chunk %d: %w", i, err)
		}
		if len(decoded) != len(data) {
			return nil, fmt.Errorf("%w: chunk %d decoded to %d bytes, want %d",
				ErrCorrupt, i, len(decoded), len(data))
		}
		data = decoded
	}

	e := &layout.Entry{Data: data}
	if err := f.cache.Put(key, e); err != nil {
		return nil, err
	}
	return e, nil
}

// storeChunk encodes a dirty chunk and writes it to newly allocated space.
// The space of the previous version is released at the next commit, so
// the committed catalog never points at overwritten bytes.
func (f *File) storeChunk(key layout.Key, e *layout.Entry) error {
	if !f.writable {
		return ErrReadOnly
	}
	m, ok := f.datasets[key.Dataset]
	if !ok {
		return nil
	}

	stored, err := m.pipeline.Encode(e.Data)
	if err != nil {
		return fmt.Errorf("encoding chunk %d: %w", key.Chunk, err)
	}
	if len(stored) > MaxChunkBytes*2 {
		return fmt.Errorf("chunk %d encodes to %d bytes", key.Chunk, len(stored))
	}
	addr := f.allocator.Alloc(uint64(len(stored)))
	if err := f.writer.At(int64(addr)).WriteBytes(stored); err != nil {
		return fmt.Errorf("writing chunk %d: %w", key.Chunk, err)
	}

	if old := m.chunks[key.Chunk]; old.size > 0 {
		f.allocator.Free(old.addr, uint64(old.size))
	}
	m.chunks[key.Chunk] = chunkRef{addr: addr, size: uint32(len(stored))}
	f.dirty = true
	return nil
}
