package alloc

import (
	"fmt"
	"sort"
)

// Block is a contiguous byte range of the file.
type Block struct {
	Addr uint64
	Size uint64
}

// End returns the first address past the block.
func (b Block) End() uint64 {
	return b.Addr + b.Size
}

// Stats contains allocation statistics.
type Stats struct {
	Allocations  uint64 // Number of allocations made
	BytesAlloc   uint64 // Total bytes allocated
	BytesReused  uint64 // Bytes served from released blocks
	BytesPending uint64 // Bytes released but not yet reusable
	BytesFree    uint64 // Bytes reusable right now
}

// Allocator hands out file space. It is append-only at EOF, with first-fit
// reuse of blocks released before the last commit.
type Allocator struct {
	eofAddr  uint64
	baseAddr uint64
	pending  []Block
	free     []Block // sorted by address, coalesced
	stats    Stats
}

// New creates an Allocator whose first allocation is at eofAddr.
func New(eofAddr uint64) *Allocator {
	return &Allocator{
		eofAddr:  eofAddr,
		baseAddr: eofAddr,
	}
}

// Alloc reserves size bytes and returns their address.
func (a *Allocator) Alloc(size uint64) uint64 {
	if size == 0 {
		return a.eofAddr
	}
	a.stats.Allocations++
	a.stats.BytesAlloc += size

	for i, b := range a.free {
		if b.Size < size {
			continue
		}
		addr := b.Addr
		if b.Size == size {
			a.free = append(a.free[:i], a.free[i+1:]...)
		} else {
			a.free[i] = Block{Addr: b.Addr + size, Size: b.Size - size}
		}
		a.stats.BytesReused += size
		a.stats.BytesFree -= size
		return addr
	}

	addr := a.eofAddr
	a.eofAddr += size
	return addr
}

// Free releases a block. It becomes reusable after the next Commit.
func (a *Allocator) Free(addr, size uint64) {
	if size == 0 {
		return
	}
	a.pending = append(a.pending, Block{Addr: addr, Size: size})
	a.stats.BytesPending += size
}

// Commit makes every block released so far reusable.
func (a *Allocator) Commit() {
	if len(a.pending) == 0 {
		return
	}
	a.free = append(a.free, a.pending...)
	a.stats.BytesFree += a.stats.BytesPending
	a.stats.BytesPending = 0
	a.pending = nil
	a.coalesce()
}

// coalesce sorts free blocks and merges adjacent ones. A free block that
// ends at EOF is given back to the tail.
func (a *Allocator) coalesce() {
	sort.Slice(a.free, func(i, j int) bool { return a.free[i].Addr < a.free[j].Addr })
	merged := a.free[:0]
	for _, b := range a.free {
		if n := len(merged); n > 0 && merged[n-1].End() == b.Addr {
			merged[n-1].Size += b.Size
			continue
		}
		merged = append(merged, b)
	}
	a.free = merged
	if n := len(a.free); n > 0 && a.free[n-1].End() == a.eofAddr {
		a.eofAddr = a.free[n-1].Addr
		a.stats.BytesFree -= a.free[n-1].Size
		a.free = a.free[:n-1]
	}
}

// EOFAddr returns the current end-of-file address.
func (a *Allocator) EOFAddr() uint64 {
	return a.eofAddr
}

// BaseAddr returns the address the allocator started from.
func (a *Allocator) BaseAddr() uint64 {
	return a.baseAddr
}

// Stats returns a copy of the allocation statistics.
func (a *Allocator) Stats() Stats {
	return a.stats
}

// FreeBlocks returns a copy of the reusable blocks.
func (a *Allocator) FreeBlocks() []Block {
	return append([]Block(nil), a.free...)
}

// Validate checks that reusable blocks are disjoint and below EOF.
func (a *Allocator) Validate() error {
	for i, b := range a.free {
		if b.End() > a.eofAddr {
			return fmt.Errorf("free block at 0x%x size %d extends past EOF 0x%x", b.Addr, b.Size, a.eofAddr)
		}
		if i > 0 && a.free[i-1].End() > b.Addr {
			return fmt.Errorf("overlapping free blocks at 0x%x and 0x%x", a.free[i-1].Addr, b.Addr)
		}
	}
	return nil
}
