package alloc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllocatorAppend(t *testing.T) {
	a := New(1024)

	require.Equal(t, uint64(1024), a.Alloc(100))
	require.Equal(t, uint64(1124), a.Alloc(200))
	require.Equal(t, uint64(1324), a.EOFAddr())
	require.Equal(t, uint64(1024), a.BaseAddr())
}

func TestAllocatorZeroSize(t *testing.T) {
	a := New(100)
	require.Equal(t, uint64(100), a.Alloc(0))
	require.Equal(t, uint64(100), a.EOFAddr())
	require.Zero(t, a.Stats().Allocations)
}

func TestFreedSpaceNotReusedBeforeCommit(t *testing.T) {
	a := New(0)
	first := a.Alloc(64)
	a.Alloc(64)
	a.Free(first, 64)

	require.Equal(t, uint64(128), a.Alloc(64), "pending block must not be reused")
	require.Equal(t, uint64(64), a.Stats().BytesPending)

	a.Commit()
	require.Equal(t, first, a.Alloc(32))
	require.Equal(t, uint64(32), a.Alloc(32))
	require.Empty(t, a.FreeBlocks())
	require.Equal(t, uint64(64), a.Stats().BytesReused)
	require.NoError(t, a.Validate())
}

func TestCommitCoalesces(t *testing.T) {
	a := New(0)
	b1 := a.Alloc(10)
	b2 := a.Alloc(10)
	a.Alloc(10)
	a.Free(b2, 10)
	a.Free(b1, 10)
	a.Commit()

	require.Equal(t, []Block{{Addr: 0, Size: 20}}, a.FreeBlocks())
	require.NoError(t, a.Validate())
}

func TestCommitReturnsTailToEOF(t *testing.T) {
	a := New(0)
	a.Alloc(10)
	tail := a.Alloc(30)
	a.Free(tail, 30)
	a.Commit()

	require.Equal(t, uint64(10), a.EOFAddr())
	require.Empty(t, a.FreeBlocks())
	require.Zero(t, a.Stats().BytesFree)
}
