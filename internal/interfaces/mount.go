package interfaces

import "github.com/xfscore/xfs/internal/types"

// MountState is the decoded, validated superblock plus the derived
// geometry every other layer consults (spec §4.3).
type MountState interface {
	Superblock() *types.Superblock
	BlockSize() uint32
	DirBlockSize() uint32
	RootIno() types.Ino
	IsReadOnly() bool
	HasFTYPE() bool
	HasCRC() bool
}

// Mounter opens a backing store, verifies its superblock, and builds the
// caches a mount needs (spec §4.9). Grounded on the teacher's APFSMounter
// (internal/interfaces/mounting.go), generalized from APFS's two-level
// container+volume mount to XFS's single-level mount.
type Mounter interface {
	Mount(source string, readOnly bool) (MountHandle, error)
	Unmount(h MountHandle) error
}

// MountHandle carries the cache, the inode cache, the read-only flag,
// and the feature summary for one mounted filesystem.
type MountHandle interface {
	MountState
	Buffers() BufferCache
	Inodes() InodeCache
	Directories() DirectoryEngine
	Alloc() Allocator
	Transactions() TransactionManager
}
