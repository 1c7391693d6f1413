package types

import "github.com/google/uuid"

// Superblock is the decoded in-core image of the on-disk XFS superblock
// at filesystem block 0. Field names mirror the on-disk xfs_sb_t layout
// closely enough to make the codec a straight offset table, the way the
// teacher's ContainerSuperblockReader mirrors NxSuperblockT.
type Superblock struct {
	Magic       uint32
	BlockSize   uint32 // bytes per block
	DBlocks     uint64 // total data blocks
	RBlocks     uint64 // real-time blocks (must be zero)
	RExtents    uint64 // real-time extents (must be zero)
	UUID        uuid.UUID
	LogStart    Fsblock // first block of the log (must be non-zero: internal log)
	RootIno     Ino
	RBmIno      Ino // real-time bitmap inode (unused)
	RSumIno     Ino // real-time summary inode (unused)
	RExtSize    uint32
	AGBlocks    uint32 // blocks per allocation group
	AGCount     uint32 // number of allocation groups
	RBmBlocks   uint32
	LogBlocks   uint32
	VersionNum  uint16 // version + feature bits (legacy encoding)
	SectSize    uint16
	InodeSize   uint16
	InopBlock   uint16 // inodes per block
	FName       [12]byte
	BlockLog    uint8 // log2(BlockSize)
	SectLog     uint8
	InodeLog    uint8 // log2(InodeSize)
	InopBlog    uint8 // log2(InopBlock)
	AGBlklog    uint8 // log2(AGBlocks), rounded up
	RExtSlog    uint8
	InProgress  uint8
	ImaxPct     uint8
	ICount      uint64 // allocated inodes
	IFree       uint64 // free inodes
	FDBlocks    uint64 // free data blocks
	FrExtents   uint64
	UQuotIno    Ino
	GQuotIno    Ino
	QFlags      uint16
	Flags       uint8
	Shared_vn   uint8
	Inoalignmt  uint32
	UnitSize    uint32
	Width       uint32
	DirBlklog   uint8
	LogSectlog  uint8
	LogSectsize uint16
	LogSunit    uint32
	Features2   uint32
	BadFeatures2 uint32

	// V5-only fields.
	FeaturesCompat   uint32
	FeaturesRoCompat uint32
	FeaturesIncompat uint32
	FeaturesLogIncompat uint32
	CRC              uint32
	SpinoAlign       uint32
	PQuotIno         Ino
	Lsn              uint64
	MetaUUID         uuid.UUID
}

// IsV5 reports whether the superblock encodes a V5 (CRC) filesystem.
func (sb *Superblock) IsV5() bool {
	return sb.VersionNum&VersionNumBits == SbVersion5
}

// HasFTYPE reports whether directory entries carry a file-type byte.
func (sb *Superblock) HasFTYPE() bool {
	if sb.IsV5() {
		return true // V5 always carries FTYPE in this engine's supported feature set
	}
	return sb.Features2&Sb2FTypeBit != 0
}

// HasCRC reports whether metadata blocks are expected to carry a CRC32C.
func (sb *Superblock) HasCRC() bool {
	return sb.IsV5()
}

// AGBlock0Addr returns the filesystem block number of allocation group ag's
// first block.
func (sb *Superblock) AGBlock0Addr(ag Agno) Fsblock {
	return Fsblock(ag) * Fsblock(sb.AGBlocks)
}

// InoToAGNo extracts the allocation-group number from an inode number.
func (sb *Superblock) InoToAGNo(ino Ino) Agno {
	return Agno(uint64(ino) >> (sb.AGBlklog + sb.InopBlog))
}

// InoToAGIno extracts the within-AG relative inode number.
func (sb *Superblock) InoToAGIno(ino Ino) uint32 {
	mask := (uint64(1) << (sb.AGBlklog + sb.InopBlog)) - 1
	return uint32(uint64(ino) & mask)
}

// AGInoToIno builds an absolute inode number from an AG number and a
// within-AG relative inode number.
func (sb *Superblock) AGInoToIno(ag Agno, agino uint32) Ino {
	return Ino(uint64(ag)<<(sb.AGBlklog+sb.InopBlog) | uint64(agino))
}

// FsbToByteOffset converts a filesystem block number to a byte offset.
func (sb *Superblock) FsbToByteOffset(fsb Fsblock) int64 {
	return int64(fsb) * int64(sb.BlockSize)
}

// DirBlockSize returns the size, in bytes, of one directory block.
func (sb *Superblock) DirBlockSize() uint32 {
	return sb.BlockSize << sb.DirBlklog
}
