package types

// On-disk magic numbers and feature bits.
// Reference: xfs_format.h as shipped with xfsprogs.
const (
	// SbMagic is the superblock magic number ("XFSB").
	SbMagic uint32 = 0x58465342

	// SbVersion4 identifies a V4 (pre-CRC) superblock.
	SbVersion4 uint16 = 4
	// SbVersion5 identifies a V5 (CRC-enabled) superblock.
	SbVersion5 uint16 = 5

	// VersionNumBits masks the version field out of SbVersionNum.
	VersionNumBits uint16 = 0x000F

	// SbVersionNumBit flags, OR'd with the version number.
	VersionNlinkBit   uint16 = 0x0010
	VersionAlignBit   uint16 = 0x0020
	VersionDalignBit  uint16 = 0x0080
	VersionSharedBit  uint16 = 0x0100
	VersionLogV2Bit   uint16 = 0x0400
	VersionSectorBit  uint16 = 0x0800
	VersionExtFlgBit  uint16 = 0x1000
	VersionDirV2Bit   uint16 = 0x2000
	VersionBorgBit    uint16 = 0x4000 // ASCII-case-insensitive, unused here
	VersionMoreBitsBit uint16 = 0x8000

	// Sb2* feature bits, stored in sb_features2 / sb_bad_features2.
	Sb2LazySbCountBit  uint32 = 0x00000002
	Sb2AttrsBit        uint32 = 0x00000008
	Sb2ParentBit       uint32 = 0x00000010
	Sb2ProjID32Bit     uint32 = 0x00000080
	Sb2CRCBit          uint32 = 0x00000100
	Sb2FTypeBit        uint32 = 0x00000200

	// InProgress is set by mkfs while it is still writing the filesystem.
	SbInProgress uint8 = 1
)

// Inode on-disk format selector (di_format).
type DinodeFmt uint8

const (
	DinodeFmtDev DinodeFmt = iota
	DinodeFmtLocal
	DinodeFmtExtents
	DinodeFmtBtree
	DinodeFmtUuid // unused by this engine; reserved by the on-disk format
)

// DinodeMagic is the per-inode magic number ("IN").
const DinodeMagic uint16 = 0x494e

// DinodeCoreSizeV4 / V5 are the encoded sizes, in bytes, of the inode core
// (the portion preceding the fork data), for V4 and V3(V5) inodes
// respectively.
const (
	DinodeCoreSizeV4 = 96
	DinodeCoreSizeV3 = 176
)

// DinodeCrcOffset is the byte offset of di_crc within a V3/V5 inode
// core (so, within the full on-disk inode record too, since the core
// is always its first DinodeCoreSizeV3 bytes). CRC32C is computed over
// the whole record - core plus both forks - with this field zeroed.
const DinodeCrcOffset = 156

// File-type bits of di_mode, matching the POSIX S_IFMT constants.
const (
	ModeFmtMask  uint16 = 0xF000
	ModeFmtFifo  uint16 = 0x1000
	ModeFmtChr   uint16 = 0x2000
	ModeFmtDir   uint16 = 0x4000
	ModeFmtBlk   uint16 = 0x6000
	ModeFmtReg   uint16 = 0x8000
	ModeFmtLnk   uint16 = 0xA000
	ModeFmtSock  uint16 = 0xC000
	ModeISUID    uint16 = 0x0800
	ModeISGID    uint16 = 0x0400
	ModeISVTX    uint16 = 0x0200
	ModePermMask uint16 = 0x01FF
)

// Directory entry file-type tags (used when FTYPE is enabled).
type Ftype uint8

const (
	FtypeUnknown Ftype = iota
	FtypeReg
	FtypeDir
	FtypeChr
	FtypeBlk
	FtypeFifo
	FtypeSock
	FtypeSymlink
	FtypeWhiteout
)

// Directory block magic numbers (V4 and V5 forms differ).
const (
	Dir2BlockMagic   uint32 = 0x58443242 // "XD2B"
	Dir2DataMagic    uint32 = 0x58443244 // "XD2D"
	Dir2LeafNMagic   uint32 = 0x3df1
	Dir2Leaf1Magic   uint32 = 0xd2f1
	Dir3BlockMagic   uint32 = 0x58444233 // "XDB3"
	Dir3DataMagic    uint32 = 0x58444433 // "XDD3"
	Dir3LeafNMagic   uint32 = 0x3df3
	Dir3Leaf1Magic   uint32 = 0xd2f3

	// Dir2DataFreeTag marks an unused region within a directory data block.
	Dir2DataFreeTag uint16 = 0xFFFF
)

// Extent state, packed into the high bit (bit 63) of the first word of an
// on-disk extent record, the word that carries startoff.
type ExtentState uint8

const (
	ExtentNormal ExtentState = iota
	ExtentUnwritten
)

// MaxNameLen is the maximum byte length of a directory entry name.
const MaxNameLen = 255

// MaxPathLen is the maximum byte length of a symlink target this engine
// will store.
const MaxPathLen = 1024

// CksumOffsetInvalid marks a metadata type with no CRC field (pre-V5).
const CksumOffsetInvalid = -1
