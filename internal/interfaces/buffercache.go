// Package interfaces defines the contracts between the engine's layers:
// buffer cache, superblock/mount state, inode cache, fork decoders,
// directory engine, allocator, transaction/log, and namespace
// operations. Grounded on the teacher's internal/interfaces package,
// which plays the identical "contract between layers" role for APFS.
package interfaces

import "github.com/xfscore/xfs/internal/types"

// BufferHandle is a reference-counted view of one disk region's bytes.
type BufferHandle interface {
	// Bytes returns the buffer's current content. Callers mutate the
	// returned slice in place and record the change with Cache.LogRange;
	// once any range is logged the whole buffer is written back, so
	// edits outside the logged range reach the device as well.
	Bytes() []byte
	// Addr is the filesystem block address this buffer covers.
	Addr() types.Fsblock
	// Len is the buffer's length in bytes.
	Len() int
	// Dirty reports whether any byte range has been logged since the
	// buffer was last written back.
	Dirty() bool
}

// BufferCache owns the canonical in-memory image of every disk region
// currently referenced, per spec §4.2.
type BufferCache interface {
	// Get returns a handle for [addr, addr+length blocks), reading
	// through to the device on a cache miss and verifying the CRC of
	// V5 metadata blocks.
	Get(addr types.Fsblock, length uint32) (BufferHandle, error)
	// GetPinned is like Get but pins the returned handle to tx so it
	// may be logged; release happens automatically at commit/cancel.
	GetPinned(tx Transaction, addr types.Fsblock, length uint32) (BufferHandle, error)
	// Release drops one reference to handle.
	Release(handle BufferHandle)
	// LogRange records that bytes [first,last] of handle are dirtied
	// by tx. Only valid while handle is pinned to tx.
	LogRange(tx Transaction, handle BufferHandle, first, last int) error
	// Flush writes all dirty, unpinned buffers back to the device.
	Flush() error
}
