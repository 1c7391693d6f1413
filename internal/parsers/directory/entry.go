package directory

import (
	"fmt"

	"github.com/xfscore/xfs/internal/codec"
	"github.com/xfscore/xfs/internal/types"
	"github.com/xfscore/xfs/internal/xfserr"
)

// unusedFreetagSize is the byte size of the freetag field of an unused
// (free-span) record, always the first field (at offset 0).
const unusedFreetagSize = 2

// scanDataRegion walks the raw entry region of one directory data block
// (everything after the fixed header, up to the leaf tail/end of
// block), emitting decoded entries via emit. Unused spans are skipped
// using their length field, per spec §4.5 edge cases. baseCookie is the
// directory-block-number component of the XFS data-pointer cookie
// encoding (block number concatenated with the entry's byte offset
// within region, i.e. counted from the end of the block header).
func scanDataRegion(region []byte, hasFtype bool, baseCookie uint64, emit func(types.DirEntry) bool) error {
	off := 0
	for off < len(region) {
		if off+unusedFreetagSize > len(region) {
			return fmt.Errorf("directory: truncated entry region: %w", xfserr.EIO)
		}
		tag := codec.Uint16(region[off : off+2])
		if tag == types.Dir2DataFreeTag {
			if off+6 > len(region) {
				return fmt.Errorf("directory: truncated unused record: %w", xfserr.EIO)
			}
			length := codec.Uint16(region[off+2 : off+4])
			if length == 0 {
				return fmt.Errorf("directory: zero-length unused record: %w", xfserr.EIO)
			}
			off += int(length)
			continue
		}

		ent, size, err := decodeEntry(region[off:], hasFtype)
		if err != nil {
			return err
		}
		ent.Cookie = baseCookie | uint64(off)
		if !emit(ent) {
			return nil
		}
		off += size
	}
	return nil
}

// decodeEntry decodes one in-use entry starting at the front of b,
// returning the entry and its padded on-disk size.
func decodeEntry(b []byte, hasFtype bool) (types.DirEntry, int, error) {
	if len(b) < 9 {
		return types.DirEntry{}, 0, fmt.Errorf("directory: entry header truncated: %w", xfserr.EIO)
	}
	inum := types.Ino(codec.Uint64(b[0:8]))
	nameLen := int(b[8])
	size := entrySize(nameLen, hasFtype)
	if len(b) < size {
		return types.DirEntry{}, 0, fmt.Errorf("directory: entry body truncated: %w", xfserr.EIO)
	}
	name := string(b[9 : 9+nameLen])
	ftypeOff := 9 + nameLen
	var ft types.Ftype
	if hasFtype {
		ft = ftypeForDecode(b[ftypeOff], true)
	}
	return types.DirEntry{Name: name, Inode: inum, Ftype: ft}, size, nil
}

// encodeEntry serializes one entry into a freshly sized buffer,
// including its trailing tag back-pointer.
func encodeEntry(e types.DirEntry, hasFtype bool, selfOffset int) []byte {
	size := entrySize(len(e.Name), hasFtype)
	buf := make([]byte, size)
	codec.PutUint64(buf[0:8], uint64(e.Inode))
	buf[8] = byte(len(e.Name))
	copy(buf[9:9+len(e.Name)], e.Name)
	off := 9 + len(e.Name)
	if hasFtype {
		buf[off] = byte(e.Ftype)
		off++
	}
	codec.PutUint16(buf[size-2:size], uint16(selfOffset))
	return buf
}

// encodeUnused writes an unused (free-span) record of the given length
// at the front of buf.
func encodeUnused(buf []byte, length int) {
	codec.PutUint16(buf[0:2], types.Dir2DataFreeTag)
	codec.PutUint16(buf[2:4], uint16(length))
	codec.PutUint16(buf[length-2:length], 0)
}
