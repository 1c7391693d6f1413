package directory

import (
	"fmt"

	"github.com/xfscore/xfs/internal/codec"
	"github.com/xfscore/xfs/internal/types"
	"github.com/xfscore/xfs/internal/xfserr"
)

// DecodeShortform parses a shortform directory's packed local-fork
// bytes (spec §4.5: "entries in the inode"). Unlike block/leaf entries,
// shortform entries are not 8-byte aligned and their inode-number field
// is either 4 or 8 bytes wide for the whole directory, selected by the
// header's I8Count.
func DecodeShortform(data []byte, hasFtype bool) (parent types.Ino, entries []types.DirEntry, err error) {
	if len(data) < 6 {
		return 0, nil, fmt.Errorf("directory: shortform header truncated: %w", xfserr.EIO)
	}
	count := data[0]
	i8count := data[1]
	wide := i8count > 0

	off := 2
	parent, off, err = readSFIno(data, off, wide)
	if err != nil {
		return 0, nil, err
	}

	entries = make([]types.DirEntry, 0, count)
	for i := uint8(0); i < count; i++ {
		if off+3 > len(data) {
			return 0, nil, fmt.Errorf("directory: shortform entry truncated: %w", xfserr.EIO)
		}
		nameLen := int(data[off])
		off++
		cookie := uint64(codec.Uint16(data[off : off+2]))
		off += 2
		if off+nameLen > len(data) {
			return 0, nil, fmt.Errorf("directory: shortform name truncated: %w", xfserr.EIO)
		}
		name := string(data[off : off+nameLen])
		off += nameLen

		var ft types.Ftype
		if hasFtype {
			if off >= len(data) {
				return 0, nil, fmt.Errorf("directory: shortform ftype truncated: %w", xfserr.EIO)
			}
			ft = types.Ftype(data[off])
			off++
		}

		var inum types.Ino
		inum, off, err = readSFIno(data, off, wide)
		if err != nil {
			return 0, nil, err
		}

		entries = append(entries, types.DirEntry{Name: name, Inode: inum, Ftype: ft, Cookie: cookie})
	}
	return parent, entries, nil
}

// EncodeShortform serializes parent and entries back into packed
// shortform bytes. wide selects the 8-byte inumber form, used when any
// entry's (or the parent's) inode number exceeds 32 bits.
func EncodeShortform(parent types.Ino, entries []types.DirEntry, hasFtype bool) []byte {
	wide := needsWideInodes(parent, entries)

	size := 2 + sfInoSize(wide)
	for _, e := range entries {
		size += 3 + len(e.Name) + sfInoSize(wide)
		if hasFtype {
			size++
		}
	}

	buf := make([]byte, size)
	buf[0] = uint8(len(entries))
	if wide {
		buf[1] = 1
	}
	off := 2
	off = writeSFIno(buf, off, parent, wide)

	for _, e := range entries {
		buf[off] = uint8(len(e.Name))
		off++
		codec.PutUint16(buf[off:off+2], uint16(e.Cookie))
		off += 2
		copy(buf[off:off+len(e.Name)], e.Name)
		off += len(e.Name)
		if hasFtype {
			buf[off] = byte(e.Ftype)
			off++
		}
		off = writeSFIno(buf, off, e.Inode, wide)
	}
	return buf
}

func needsWideInodes(parent types.Ino, entries []types.DirEntry) bool {
	if parent > 0xFFFFFFFF {
		return true
	}
	for _, e := range entries {
		if e.Inode > 0xFFFFFFFF {
			return true
		}
	}
	return false
}

func sfInoSize(wide bool) int {
	if wide {
		return 8
	}
	return 4
}

func readSFIno(data []byte, off int, wide bool) (types.Ino, int, error) {
	n := sfInoSize(wide)
	if off+n > len(data) {
		return 0, 0, fmt.Errorf("directory: shortform inumber truncated: %w", xfserr.EIO)
	}
	if wide {
		return types.Ino(codec.Uint64(data[off : off+8])), off + 8, nil
	}
	return types.Ino(codec.Uint32(data[off : off+4])), off + 4, nil
}

func writeSFIno(buf []byte, off int, ino types.Ino, wide bool) int {
	if wide {
		codec.PutUint64(buf[off:off+8], uint64(ino))
		return off + 8
	}
	codec.PutUint32(buf[off:off+4], uint32(ino))
	return off + 4
}
