// Package codec translates between big-endian on-disk scalars and host
// values, and computes the CRC32C checksum V5 metadata blocks carry.
//
// Every multi-byte integer on an XFS volume is big-endian; this package
// is the sole place that assumption is encoded, the way the teacher's
// parsers thread a binary.ByteOrder through every reader constructor
// (here pinned to binary.BigEndian instead of a caller-supplied order,
// since XFS - unlike APFS - has only ever been big-endian on disk).
package codec

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/xfscore/xfs/internal/types"
)

// Order is the fixed on-disk byte order for every XFS metadata field.
var Order = binary.BigEndian

func Uint16(b []byte) uint16 { return Order.Uint16(b) }
func Uint32(b []byte) uint32 { return Order.Uint32(b) }
func Uint64(b []byte) uint64 { return Order.Uint64(b) }

func PutUint16(b []byte, v uint16) { Order.PutUint16(b, v) }
func PutUint32(b []byte, v uint32) { Order.PutUint32(b, v) }
func PutUint64(b []byte, v uint64) { Order.PutUint64(b, v) }

// Timespec decodes the on-disk (seconds:int32, nanoseconds:uint32) pair
// used by legacy V4 inode timestamps.
func Timespec(b []byte) types.Timespec {
	return types.Timespec{
		Sec:  int64(int32(Order.Uint32(b[0:4]))),
		Nsec: int32(Order.Uint32(b[4:8])),
	}
}

// PutTimespec encodes a V4-form timestamp pair.
func PutTimespec(b []byte, ts types.Timespec) {
	Order.PutUint32(b[0:4], uint32(int32(ts.Sec)))
	Order.PutUint32(b[4:8], uint32(ts.Nsec))
}

// Timespec64 decodes the wider V3 (bigtime) timestamp encoding: a single
// big-endian uint64 of nanoseconds since a platform-defined epoch. This
// engine stores it pre-split for simplicity of the in-core type.
func Timespec64(b []byte) types.Timespec {
	raw := Order.Uint64(b[0:8])
	return types.Timespec{
		Sec:  int64(raw / 1e9),
		Nsec: int32(raw % 1e9),
	}
}

// PutTimespec64 encodes a V3 (bigtime) timestamp.
func PutTimespec64(b []byte, ts types.Timespec) {
	raw := uint64(ts.Sec)*1e9 + uint64(ts.Nsec)
	Order.PutUint64(b[0:8], raw)
}

// crc32cTable is the Castagnoli CRC32C table (polynomial 0x1EDC6F41),
// exposed directly by the standard library's hash/crc32 package - the
// idiomatic Go realization of CRC32C and the reason no third-party CRC
// library is pulled in here (see DESIGN.md).
var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// CRC computes the CRC32C of buf with the 4-byte checksum field at
// cksumOffset treated as zero, per the XFS on-disk CRC convention.
func CRC(buf []byte, cksumOffset int) uint32 {
	h := crc32.New(crc32cTable)
	h.Write(buf[:cksumOffset])
	h.Write([]byte{0, 0, 0, 0})
	h.Write(buf[cksumOffset+4:])
	return h.Sum32()
}

// VerifyCRC reports whether the CRC32C stored at cksumOffset (big-endian)
// matches the checksum computed over the rest of buf.
func VerifyCRC(buf []byte, cksumOffset int) bool {
	if cksumOffset < 0 || cksumOffset+4 > len(buf) {
		return false
	}
	stored := Order.Uint32(buf[cksumOffset : cksumOffset+4])
	return stored == CRC(buf, cksumOffset)
}

// UpdateCRC computes and stores the CRC32C of buf at cksumOffset.
func UpdateCRC(buf []byte, cksumOffset int) {
	if cksumOffset < 0 || cksumOffset+4 > len(buf) {
		return
	}
	Order.PutUint32(buf[cksumOffset:cksumOffset+4], CRC(buf, cksumOffset))
}
