// Package alloc provides space management for store files.
//
// Chunk payloads and catalogs are never overwritten in place. Every write
// goes to freshly allocated space and the block it replaces is released with
// [Allocator.Free]. Released blocks are still referenced by the last
// committed catalog, so they only become reusable after [Allocator.Commit],
// which the store calls once a new catalog and superblock are on disk.
//
// # Usage
//
//	a := alloc.New(superblock.Size)
//	addr := a.Alloc(len(payload))
//	a.Free(oldAddr, oldSize)
//	// ... write catalog and superblock ...
//	a.Commit()
package alloc
