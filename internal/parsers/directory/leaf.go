package directory

import (
	"fmt"
	"sort"

	"github.com/xfscore/xfs/internal/codec"
	"github.com/xfscore/xfs/internal/types"
	"github.com/xfscore/xfs/internal/xfserr"
)

// dataHeaderSize returns the byte size of a leaf/node-form data block's
// fixed header (narrower than the block-form header: no leaf index
// lives in a data block here, so there is no magic-only V4 special
// case to distinguish).
func dataHeaderSize(v5 bool) int {
	if v5 {
		return 4 + 4 + 8 + 8 + 16 + 8
	}
	return 4
}

const dataCksumOffset = 4

// DecodeDataBlock parses one data block of a leaf/node directory: a
// header followed by entries and free gaps, with no inline leaf index
// (the index lives in separate leaf blocks, see DecodeLeafBlock).
// blockNo is this block's 0-based index, used to build entry cookies.
func DecodeDataBlock(data []byte, v5 bool, hasFtype bool, blockNo uint32) (hdr types.LeafDirHeader, entries []types.DirEntry, err error) {
	hsz := dataHeaderSize(v5)
	if len(data) < hsz {
		return hdr, nil, fmt.Errorf("directory: data block too small: %w", xfserr.EIO)
	}
	hdr.Magic = codec.Uint32(data[0:4])
	wantMagic := types.Dir2DataMagic
	if v5 {
		wantMagic = types.Dir3DataMagic
	}
	if hdr.Magic != wantMagic {
		return hdr, nil, fmt.Errorf("directory: bad data block magic %#x: %w", hdr.Magic, xfserr.EIO)
	}
	if v5 {
		hdr.CRC = codec.Uint32(data[4:8])
		hdr.Bno = types.Fsblock(codec.Uint64(data[8:16]))
		hdr.Owner = types.Ino(codec.Uint64(data[40:48]))
		if !codec.VerifyCRC(data, dataCksumOffset) {
			return hdr, nil, fmt.Errorf("directory: data block CRC mismatch: %w", xfserr.EIO)
		}
	}

	baseCookie := uint64(blockNo) << 32
	err = scanDataRegion(data[hsz:], hasFtype, baseCookie, func(e types.DirEntry) bool {
		entries = append(entries, e)
		return true
	})
	if err != nil {
		return hdr, nil, err
	}
	return hdr, entries, nil
}

// EncodeDataBlock serializes hdr and entries into a blockSize-byte data
// block, packing entries in order and filling the remainder with a
// single unused span.
func EncodeDataBlock(hdr types.LeafDirHeader, entries []types.DirEntry, v5 bool, hasFtype bool, blockSize int) ([]byte, error) {
	hsz := dataHeaderSize(v5)
	buf := make([]byte, blockSize)

	wantMagic := types.Dir2DataMagic
	if v5 {
		wantMagic = types.Dir3DataMagic
	}
	codec.PutUint32(buf[0:4], wantMagic)
	if v5 {
		codec.PutUint64(buf[8:16], uint64(hdr.Bno))
		codec.PutUint64(buf[40:48], uint64(hdr.Owner))
	}

	off := hsz
	for _, e := range entries {
		enc := encodeEntry(e, hasFtype, off)
		if off+len(enc) > blockSize {
			return nil, fmt.Errorf("directory: data block overflow: %w", xfserr.ENOSPC)
		}
		copy(buf[off:off+len(enc)], enc)
		off += len(enc)
	}
	if blockSize-off >= 6 {
		encodeUnused(buf[off:blockSize], blockSize-off)
	}
	if v5 {
		codec.UpdateCRC(buf, dataCksumOffset)
	}
	return buf, nil
}

// leafBlockHeaderSize mirrors dataHeaderSize; leaf blocks share the
// same fixed-header shape as data blocks.
func leafBlockHeaderSize(v5 bool) int { return dataHeaderSize(v5) }

const leafCksumOffset = 4

// DecodeLeafBlock parses a hashed-name index block: a header followed
// by a hash-sorted array of (hash, address) pairs and a trailing
// (count, stale) tail, the node form's counterpart to the block form's
// inline leaf tail.
func DecodeLeafBlock(data []byte, v5 bool) (hdr types.LeafDirHeader, entries []types.LeafEntry, err error) {
	hsz := leafBlockHeaderSize(v5)
	if len(data) < hsz+blockTailSize {
		return hdr, nil, fmt.Errorf("directory: leaf block too small: %w", xfserr.EIO)
	}
	hdr.Magic = codec.Uint32(data[0:4])
	wantMagic := types.Dir2LeafNMagic
	if v5 {
		wantMagic = types.Dir3LeafNMagic
	}
	if hdr.Magic != wantMagic && hdr.Magic != types.Dir2Leaf1Magic && hdr.Magic != types.Dir3Leaf1Magic {
		return hdr, nil, fmt.Errorf("directory: bad leaf block magic %#x: %w", hdr.Magic, xfserr.EIO)
	}
	if v5 {
		hdr.CRC = codec.Uint32(data[4:8])
		hdr.Bno = types.Fsblock(codec.Uint64(data[8:16]))
		hdr.Owner = types.Ino(codec.Uint64(data[40:48]))
		if !codec.VerifyCRC(data, leafCksumOffset) {
			return hdr, nil, fmt.Errorf("directory: leaf block CRC mismatch: %w", xfserr.EIO)
		}
	}

	tailOff := len(data) - blockTailSize
	count := codec.Uint32(data[tailOff : tailOff+4])
	entStart := hsz
	need := entStart + int(count)*8
	if need > tailOff {
		return hdr, nil, fmt.Errorf("directory: leaf block entry count overflows block: %w", xfserr.EIO)
	}
	entries = make([]types.LeafEntry, count)
	for i := 0; i < int(count); i++ {
		off := entStart + i*8
		entries[i] = types.LeafEntry{
			Hashval: codec.Uint32(data[off : off+4]),
			Address: codec.Uint32(data[off+4 : off+8]),
		}
	}
	return hdr, entries, nil
}

// EncodeLeafBlock serializes hdr and a hash-sorted copy of entries into
// a blockSize-byte leaf block.
func EncodeLeafBlock(hdr types.LeafDirHeader, entries []types.LeafEntry, v5, isRoot bool, blockSize int) ([]byte, error) {
	sorted := append([]types.LeafEntry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Hashval < sorted[j].Hashval })

	hsz := leafBlockHeaderSize(v5)
	need := hsz + len(sorted)*8 + blockTailSize
	if need > blockSize {
		return nil, fmt.Errorf("directory: leaf block overflow: %w", xfserr.ENOSPC)
	}

	buf := make([]byte, blockSize)
	wantMagic := types.Dir2LeafNMagic
	if isRoot {
		wantMagic = types.Dir2Leaf1Magic
	}
	if v5 {
		wantMagic = types.Dir3LeafNMagic
		if isRoot {
			wantMagic = types.Dir3Leaf1Magic
		}
	}
	codec.PutUint32(buf[0:4], wantMagic)
	if v5 {
		codec.PutUint64(buf[8:16], uint64(hdr.Bno))
		codec.PutUint64(buf[40:48], uint64(hdr.Owner))
	}

	for i, le := range sorted {
		off := hsz + i*8
		codec.PutUint32(buf[off:off+4], le.Hashval)
		codec.PutUint32(buf[off+4:off+8], le.Address)
	}
	tailOff := blockSize - blockTailSize
	codec.PutUint32(buf[tailOff:tailOff+4], uint32(len(sorted)))
	codec.PutUint32(buf[tailOff+4:tailOff+8], 0)

	if v5 {
		codec.UpdateCRC(buf, leafCksumOffset)
	}
	return buf, nil
}

// LookupHash binary-searches a hash-sorted leaf entry list for hash,
// returning the index of its first occurrence (names can collide on
// hash, so callers must scan forward while Hashval matches and test
// each candidate's actual name against the target data block entry).
func LookupHash(entries []types.LeafEntry, hash uint32) (int, bool) {
	i := sort.Search(len(entries), func(i int) bool { return entries[i].Hashval >= hash })
	if i < len(entries) && entries[i].Hashval == hash {
		return i, true
	}
	return 0, false
}
