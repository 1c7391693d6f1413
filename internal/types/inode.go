package types

import "github.com/google/uuid"

// InodeCore is the decoded fixed-layout portion of an on-disk inode,
// common to both data and attribute fork headers. V3-only fields are
// populated only when the owning superblock reports V5.
type InodeCore struct {
	Magic       uint16 // DinodeMagic
	Mode        uint16 // POSIX type + permission bits
	Version     uint8  // 1 = V4 core layout, 3 = V3 core layout
	Format      DinodeFmt
	OnLink      uint16 // legacy 16-bit link count, pre-NLINK feature
	UID         uint32
	GID         uint32
	Nlink       uint32
	ProjID      uint16
	Pad         [8]byte
	Atime       Timespec
	Mtime       Timespec
	Ctime       Timespec
	Size        Fsize
	Nblocks     uint64 // blocks used by both forks, in units of BlockSize
	ExtSize     uint32
	Nextents    uint32 // data fork extent count
	Anextents   uint16 // attribute fork extent count
	Forkoff     uint8  // attribute fork offset, in 8-byte units from end of core; 0 = no attr fork
	Aformat     DinodeFmt
	DMevmask    uint32
	DMstate     uint16
	Flags       uint16
	Gen         uint32

	// V3 (V5 filesystem) additions.
	ChangeCount uint64
	LogSeqNum   uint64
	Flags2      uint64
	CowExtSize  uint32
	Crtime      Timespec
	Ino         Ino
	UUID        uuid.UUID
	CRC         uint32
}

// FileType returns the POSIX file-type bits of Mode.
func (c *InodeCore) FileType() uint16 {
	return c.Mode & ModeFmtMask
}

// IsDir reports whether the inode is a directory.
func (c *InodeCore) IsDir() bool { return c.FileType() == ModeFmtDir }

// IsReg reports whether the inode is a regular file.
func (c *InodeCore) IsReg() bool { return c.FileType() == ModeFmtReg }

// IsSymlink reports whether the inode is a symbolic link.
func (c *InodeCore) IsSymlink() bool { return c.FileType() == ModeFmtLnk }

// IsDevice reports whether the inode is a character or block device.
func (c *InodeCore) IsDevice() bool {
	ft := c.FileType()
	return ft == ModeFmtChr || ft == ModeFmtBlk
}

// CoreSize returns the on-disk byte size of the inode core for this
// inode's version (V4 layout vs V3/V5 layout).
func (c *InodeCore) CoreSize() int {
	if c.Version >= 3 {
		return DinodeCoreSizeV3
	}
	return DinodeCoreSizeV4
}

// Fork is the decoded representation of one inode fork (data or attribute),
// tagged by its on-disk format. Exactly one of the payload fields is valid,
// selected by Format.
type Fork struct {
	Format DinodeFmt

	// DinodeFmtDev
	Rdev uint32

	// DinodeFmtLocal
	LocalData []byte

	// DinodeFmtExtents
	Extents []ExtentRecord

	// DinodeFmtBtree
	BtreeRoot BtreeRootHeader
}

// BtreeRootHeader is the inline root of a fork's B+tree (the root block
// lives in the inode; leaves are stored in separate disk blocks).
type BtreeRootHeader struct {
	Level    uint16
	Numrecs  uint16
	// KeyPtrs is the flattened (key, pointer) list inline in the inode.
	Keys    []Fsblock // first-block-offset keys, one per child
	Pointers []Fsblock // child block pointers, one per child
}
