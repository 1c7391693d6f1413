// Package superblock decodes and validates the XFS superblock, per
// spec §4.3. Grounded on the teacher's ContainerSuperblockReader
// (internal/parsers/container/container_superblock_reader.go): a
// New*Reader(data, endian) constructor that parses a manual offset
// table and rejects bad magic up front.
package superblock

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/xfscore/xfs/internal/codec"
	"github.com/xfscore/xfs/internal/types"
	"github.com/xfscore/xfs/internal/xfserr"
)

// MinSize is the minimum byte length of data passed to Decode.
const MinSize = 512

// Decode parses the first MinSize+ bytes of a filesystem image into a
// Superblock and validates it per spec §4.3. A named validation error
// is returned (wrapped as EINVAL, or as EIO for a V5 CRC mismatch) if
// any of the documented checks fail.
func Decode(data []byte) (*types.Superblock, error) {
	if len(data) < MinSize {
		return nil, fmt.Errorf("superblock: data too small (%d bytes): %w", len(data), xfserr.EINVAL)
	}

	sb := &types.Superblock{}
	sb.Magic = codec.Uint32(data[0:4])
	sb.BlockSize = codec.Uint32(data[4:8])
	sb.DBlocks = codec.Uint64(data[8:16])
	sb.RBlocks = codec.Uint64(data[16:24])
	sb.RExtents = codec.Uint64(data[24:32])
	copy(sb.UUID[:], data[32:48])
	sb.LogStart = types.Fsblock(codec.Uint64(data[48:56]))
	sb.RootIno = types.Ino(codec.Uint64(data[56:64]))
	sb.RBmIno = types.Ino(codec.Uint64(data[64:72]))
	sb.RSumIno = types.Ino(codec.Uint64(data[72:80]))
	sb.RExtSize = codec.Uint32(data[80:84])
	sb.AGBlocks = codec.Uint32(data[84:88])
	sb.AGCount = codec.Uint32(data[88:92])
	sb.RBmBlocks = codec.Uint32(data[92:96])
	sb.LogBlocks = codec.Uint32(data[96:100])
	sb.VersionNum = codec.Uint16(data[100:102])
	sb.SectSize = codec.Uint16(data[102:104])
	sb.InodeSize = codec.Uint16(data[104:106])
	sb.InopBlock = codec.Uint16(data[106:108])
	copy(sb.FName[:], data[108:120])
	sb.BlockLog = data[120]
	sb.SectLog = data[121]
	sb.InodeLog = data[122]
	sb.InopBlog = data[123]
	sb.AGBlklog = data[124]
	sb.RExtSlog = data[125]
	sb.InProgress = data[126]
	sb.ImaxPct = data[127]
	sb.ICount = codec.Uint64(data[128:136])
	sb.IFree = codec.Uint64(data[136:144])
	sb.FDBlocks = codec.Uint64(data[144:152])
	sb.FrExtents = codec.Uint64(data[152:160])
	sb.UQuotIno = types.Ino(codec.Uint64(data[160:168]))
	sb.GQuotIno = types.Ino(codec.Uint64(data[168:176]))
	sb.QFlags = codec.Uint16(data[176:178])
	sb.Flags = data[178]
	sb.Shared_vn = data[179]
	sb.Inoalignmt = codec.Uint32(data[180:184])
	sb.UnitSize = codec.Uint32(data[184:188])
	sb.Width = codec.Uint32(data[188:192])
	sb.DirBlklog = data[192]
	sb.LogSectlog = data[193]
	sb.LogSectsize = codec.Uint16(data[194:196])
	sb.LogSunit = codec.Uint32(data[196:200])
	sb.Features2 = codec.Uint32(data[200:204])
	sb.BadFeatures2 = codec.Uint32(data[204:208])

	if sb.VersionNum&types.VersionNumBits == types.SbVersion5 {
		sb.FeaturesCompat = codec.Uint32(data[208:212])
		sb.FeaturesRoCompat = codec.Uint32(data[212:216])
		sb.FeaturesIncompat = codec.Uint32(data[216:220])
		sb.FeaturesLogIncompat = codec.Uint32(data[220:224])
		sb.CRC = codec.Uint32(data[224:228])
		sb.SpinoAlign = codec.Uint32(data[228:232])
		sb.PQuotIno = types.Ino(codec.Uint64(data[232:240]))
		sb.Lsn = codec.Uint64(data[240:248])
		copy(sb.MetaUUID[:], data[248:264])
	}

	if err := Validate(sb, data); err != nil {
		return nil, err
	}
	return sb, nil
}

// Validate re-checks the mount-refusal conditions of spec §4.3 against
// an already-decoded superblock. data, if non-nil, additionally allows
// CRC re-verification.
func Validate(sb *types.Superblock, data []byte) error {
	if sb.Magic != types.SbMagic {
		return fmt.Errorf("superblock: bad magic %#x: %w", sb.Magic, xfserr.EINVAL)
	}
	ver := sb.VersionNum & types.VersionNumBits
	if ver != types.SbVersion4 && ver != types.SbVersion5 {
		return fmt.Errorf("superblock: unsupported version %d: %w", ver, xfserr.EINVAL)
	}
	if sb.InProgress == types.SbInProgress {
		return fmt.Errorf("superblock: in-progress mkfs flag set: %w", xfserr.EINVAL)
	}
	if sb.LogStart == 0 {
		return fmt.Errorf("superblock: external log (log start == 0) unsupported: %w", xfserr.EINVAL)
	}
	if sb.RExtents != 0 {
		return fmt.Errorf("superblock: real-time section unsupported: %w", xfserr.EINVAL)
	}
	if sb.IsV5() && data != nil {
		if !verifySuperblockCRC(data) {
			return fmt.Errorf("superblock: CRC verification failed: %w", xfserr.EIO)
		}
	}
	return nil
}

// superblockCksumOffset is the fixed byte offset of sb_crc within the
// V5 superblock layout.
const superblockCksumOffset = 224

func verifySuperblockCRC(data []byte) bool {
	if len(data) < superblockCksumOffset+4 {
		return false
	}
	return codec.VerifyCRC(data[:MinSize], superblockCksumOffset)
}

// Encode serializes sb back into a MinSize-byte buffer (for V4 and V5
// alike), recomputing the CRC when the filesystem is V5.
func Encode(sb *types.Superblock) []byte {
	size := MinSize
	buf := make([]byte, size)

	codec.PutUint32(buf[0:4], sb.Magic)
	codec.PutUint32(buf[4:8], sb.BlockSize)
	codec.PutUint64(buf[8:16], sb.DBlocks)
	codec.PutUint64(buf[16:24], sb.RBlocks)
	codec.PutUint64(buf[24:32], sb.RExtents)
	copy(buf[32:48], sb.UUID[:])
	codec.PutUint64(buf[48:56], uint64(sb.LogStart))
	codec.PutUint64(buf[56:64], uint64(sb.RootIno))
	codec.PutUint64(buf[64:72], uint64(sb.RBmIno))
	codec.PutUint64(buf[72:80], uint64(sb.RSumIno))
	codec.PutUint32(buf[80:84], sb.RExtSize)
	codec.PutUint32(buf[84:88], sb.AGBlocks)
	codec.PutUint32(buf[88:92], sb.AGCount)
	codec.PutUint32(buf[92:96], sb.RBmBlocks)
	codec.PutUint32(buf[96:100], sb.LogBlocks)
	codec.PutUint16(buf[100:102], sb.VersionNum)
	codec.PutUint16(buf[102:104], sb.SectSize)
	codec.PutUint16(buf[104:106], sb.InodeSize)
	codec.PutUint16(buf[106:108], sb.InopBlock)
	copy(buf[108:120], sb.FName[:])
	buf[120] = sb.BlockLog
	buf[121] = sb.SectLog
	buf[122] = sb.InodeLog
	buf[123] = sb.InopBlog
	buf[124] = sb.AGBlklog
	buf[125] = sb.RExtSlog
	buf[126] = sb.InProgress
	buf[127] = sb.ImaxPct
	codec.PutUint64(buf[128:136], sb.ICount)
	codec.PutUint64(buf[136:144], sb.IFree)
	codec.PutUint64(buf[144:152], sb.FDBlocks)
	codec.PutUint64(buf[152:160], sb.FrExtents)
	codec.PutUint64(buf[160:168], uint64(sb.UQuotIno))
	codec.PutUint64(buf[168:176], uint64(sb.GQuotIno))
	codec.PutUint16(buf[176:178], sb.QFlags)
	buf[178] = sb.Flags
	buf[179] = sb.Shared_vn
	codec.PutUint32(buf[180:184], sb.Inoalignmt)
	codec.PutUint32(buf[184:188], sb.UnitSize)
	codec.PutUint32(buf[188:192], sb.Width)
	buf[192] = sb.DirBlklog
	buf[193] = sb.LogSectlog
	codec.PutUint16(buf[194:196], sb.LogSectsize)
	codec.PutUint32(buf[196:200], sb.LogSunit)
	codec.PutUint32(buf[200:204], sb.Features2)
	codec.PutUint32(buf[204:208], sb.BadFeatures2)

	if sb.IsV5() {
		codec.PutUint32(buf[208:212], sb.FeaturesCompat)
		codec.PutUint32(buf[212:216], sb.FeaturesRoCompat)
		codec.PutUint32(buf[216:220], sb.FeaturesIncompat)
		codec.PutUint32(buf[220:224], sb.FeaturesLogIncompat)
		codec.PutUint32(buf[228:232], sb.SpinoAlign)
		codec.PutUint64(buf[232:240], uint64(sb.PQuotIno))
		codec.PutUint64(buf[240:248], sb.Lsn)
		copy(buf[248:264], sb.MetaUUID[:])
		codec.UpdateCRC(buf, superblockCksumOffset)
	}
	return buf
}

// NewUUID generates a fresh random UUID, used when a feature requires
// one that the on-disk image doesn't already carry (e.g. MetaUUID on a
// freshly-upgraded V5 filesystem).
func NewUUID() uuid.UUID {
	return uuid.New()
}
