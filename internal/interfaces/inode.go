package interfaces

import "github.com/xfscore/xfs/internal/types"

// InodeRef is a reference-counted handle to an in-core inode, returned
// by InodeCache.Get and released via InodeCache.Put. Grounded on the
// teacher's ObjectReferenceCounted / ObjectIdentifier pattern
// (internal/interfaces/objects.go), specialized to XFS inodes.
type InodeRef interface {
	// Number returns the inode's number.
	Number() types.Ino
	// Core returns the decoded inode core. Callers must not mutate the
	// returned pointer's fields outside of an open transaction.
	Core() *types.InodeCore
	// DataFork returns the decoded data fork.
	DataFork() *types.Fork
	// AttrFork returns the decoded attribute fork (nil if none).
	AttrFork() *types.Fork
	// SetDataFork replaces the decoded data fork (used by writers after
	// allocation; callers must log the appropriate field class).
	SetDataFork(f *types.Fork)
}

// InodeCache retrieves and caches inodes by number, decoding their forks
// on first reference (spec §4.4).
type InodeCache interface {
	// Get returns the in-core inode for ino, incrementing its refcount.
	// A cache miss computes the inode's block and in-block offset from
	// its number and the superblock's AG geometry and reads that buffer;
	// no on-disk inode map is consulted.
	Get(ino types.Ino) (InodeRef, error)
	// Put decrements ino's refcount; at zero the inode may return to a
	// free pool but its identity is never discarded before commit.
	Put(ip InodeRef)
	// Alloc allocates a fresh inode number for a new file of the given
	// mode under tx. ag names a preferred AG (-1 for any); the inode
	// cache does not consult it.
	Alloc(tx Transaction, mode uint16, ag int64) (InodeRef, error)
	// Free sets ip's link count to zero and drops it from the cache. It
	// releases no space: fork extents are freed by the caller through the
	// allocator, and the inode slot is not recorded as free.
	Free(tx Transaction, ip InodeRef) error
}

// ForkDecoder decodes and re-encodes one inode fork, dispatching on the
// fork's on-disk format byte (spec §4.4).
type ForkDecoder interface {
	// Decode parses raw inode-fork bytes (the region following the core,
	// or attribute-fork region) into a types.Fork.
	Decode(format types.DinodeFmt, raw []byte, forkSize int) (*types.Fork, error)
	// Encode serializes f back into forkSize bytes of on-disk fork data.
	Encode(f *types.Fork, forkSize int) ([]byte, error)
}
