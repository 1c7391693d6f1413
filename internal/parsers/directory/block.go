package directory

import (
	"fmt"
	"sort"

	"github.com/xfscore/xfs/internal/codec"
	"github.com/xfscore/xfs/internal/types"
	"github.com/xfscore/xfs/internal/xfserr"
)

// blockTailSize is the trailing xfs_dir2_block_tail: a leaf-entry count
// followed by a stale-entry count, both uint32.
const blockTailSize = 8

// blockHeaderSize returns the byte size of the fixed block-directory
// header (spec's "data header"), wider on V5 for the CRC/LSN/UUID/owner
// fields.
func blockHeaderSize(v5 bool) int {
	if v5 {
		return 4 + 4 + 8 + 8 + 16 + 8 // magic, crc, bno, lsn, uuid, owner
	}
	return 4 // magic only, pre-V5
}

const blockCksumOffset = 4

// DecodeBlock parses a single directory block (spec's *block* layout:
// one data header, entries and free gaps, a trailing leaf index, and a
// tail). data is the full on-disk block.
func DecodeBlock(data []byte, v5 bool, hasFtype bool) (hdr types.BlockDirHeader, entries []types.DirEntry, leaf []types.LeafEntry, err error) {
	hsz := blockHeaderSize(v5)
	if len(data) < hsz+blockTailSize {
		return hdr, nil, nil, fmt.Errorf("directory: block too small: %w", xfserr.EIO)
	}

	hdr.Magic = codec.Uint32(data[0:4])
	wantMagic := types.Dir2BlockMagic
	if v5 {
		wantMagic = types.Dir3BlockMagic
	}
	if hdr.Magic != wantMagic {
		return hdr, nil, nil, fmt.Errorf("directory: bad block magic %#x: %w", hdr.Magic, xfserr.EIO)
	}
	if v5 {
		hdr.CRC = codec.Uint32(data[4:8])
		hdr.Bno = types.Fsblock(codec.Uint64(data[8:16]))
		hdr.Lsn = codec.Uint64(data[16:24])
		copy(hdr.UUID[:], data[24:40])
		hdr.Owner = types.Ino(codec.Uint64(data[40:48]))
		if !codec.VerifyCRC(data, blockCksumOffset) {
			return hdr, nil, nil, fmt.Errorf("directory: block CRC mismatch: %w", xfserr.EIO)
		}
	}

	tailOff := len(data) - blockTailSize
	leafCount := codec.Uint32(data[tailOff : tailOff+4])

	leafStart := tailOff - int(leafCount)*8
	if leafStart < hsz {
		return hdr, nil, nil, fmt.Errorf("directory: block leaf index overflows block: %w", xfserr.EIO)
	}

	leaf = make([]types.LeafEntry, leafCount)
	for i := 0; i < int(leafCount); i++ {
		off := leafStart + i*8
		leaf[i] = types.LeafEntry{
			Hashval: codec.Uint32(data[off : off+4]),
			Address: codec.Uint32(data[off+4 : off+8]),
		}
	}

	region := data[hsz:leafStart]
	err = scanDataRegion(region, hasFtype, 0, func(e types.DirEntry) bool {
		entries = append(entries, e)
		return true
	})
	if err != nil {
		return hdr, nil, nil, err
	}
	return hdr, entries, leaf, nil
}

// EncodeBlock serializes hdr, entries, and a freshly rebuilt leaf index
// back into a blockSize-byte buffer. Entries are packed in the order
// given, immediately followed by a single unused span filling the
// remainder, then the hash-sorted leaf index and the tail.
func EncodeBlock(hdr types.BlockDirHeader, entries []types.DirEntry, v5 bool, hasFtype bool, blockSize int) ([]byte, error) {
	hsz := blockHeaderSize(v5)
	buf := make([]byte, blockSize)

	wantMagic := types.Dir2BlockMagic
	if v5 {
		wantMagic = types.Dir3BlockMagic
	}
	codec.PutUint32(buf[0:4], wantMagic)
	if v5 {
		codec.PutUint64(buf[8:16], uint64(hdr.Bno))
		codec.PutUint64(buf[16:24], hdr.Lsn)
		copy(buf[24:40], hdr.UUID[:])
		codec.PutUint64(buf[40:48], uint64(hdr.Owner))
	}

	leaf := make([]types.LeafEntry, 0, len(entries))
	off := hsz
	for _, e := range entries {
		self := off
		enc := encodeEntry(e, hasFtype, self)
		copy(buf[off:off+len(enc)], enc)
		leaf = append(leaf, types.LeafEntry{Hashval: NameHash(e.Name), Address: uint32(off >> 3)})
		off += len(enc)
	}
	sort.Slice(leaf, func(i, j int) bool { return leaf[i].Hashval < leaf[j].Hashval })

	leafBytes := len(leaf) * 8
	tailOff := blockSize - blockTailSize
	leafStart := tailOff - leafBytes
	if off > leafStart {
		return nil, fmt.Errorf("directory: entries overflow block capacity: %w", xfserr.ENOSPC)
	}
	if leafStart-off >= 6 {
		encodeUnused(buf[off:leafStart], leafStart-off)
	}

	for i, le := range leaf {
		p := leafStart + i*8
		codec.PutUint32(buf[p:p+4], le.Hashval)
		codec.PutUint32(buf[p+4:p+8], le.Address)
	}
	codec.PutUint32(buf[tailOff:tailOff+4], uint32(len(leaf)))
	codec.PutUint32(buf[tailOff+4:tailOff+8], 0)

	if v5 {
		codec.UpdateCRC(buf, blockCksumOffset)
	}
	return buf, nil
}
