package inode

import (
	"fmt"

	"github.com/xfscore/xfs/internal/codec"
	"github.com/xfscore/xfs/internal/types"
	"github.com/xfscore/xfs/internal/xfserr"
)

// extentRecordSize is the on-disk encoded size, in bytes, of one packed
// extent record (two big-endian uint64 words).
const extentRecordSize = 16

// DecodeFork parses forkData (forkSize bytes, taken verbatim from the
// inode record) into a types.Fork, dispatching on format.
func DecodeFork(format types.DinodeFmt, forkData []byte, forkSize int) (*types.Fork, error) {
	switch format {
	case types.DinodeFmtDev:
		if len(forkData) < 4 {
			return nil, fmt.Errorf("fork: dev data too small: %w", xfserr.EIO)
		}
		return &types.Fork{Format: format, Rdev: codec.Uint32(forkData[0:4])}, nil

	case types.DinodeFmtLocal:
		data := make([]byte, forkSize)
		copy(data, forkData)
		return &types.Fork{Format: format, LocalData: data}, nil

	case types.DinodeFmtExtents:
		n := len(forkData) / extentRecordSize
		exts := make([]types.ExtentRecord, 0, n)
		for i := 0; i < n; i++ {
			rec := forkData[i*extentRecordSize : (i+1)*extentRecordSize]
			ext, err := decodeExtentRecord(rec)
			if err != nil {
				return nil, err
			}
			exts = append(exts, ext)
		}
		if err := validateExtentOrder(exts); err != nil {
			return nil, err
		}
		return &types.Fork{Format: format, Extents: exts}, nil

	case types.DinodeFmtBtree:
		root, err := decodeBtreeRoot(forkData)
		if err != nil {
			return nil, err
		}
		return &types.Fork{Format: format, BtreeRoot: root}, nil

	default:
		return nil, fmt.Errorf("fork: unknown format %d: %w", format, xfserr.EIO)
	}
}

// EncodeFork serializes f back into a forkSize-byte on-disk region.
func EncodeFork(f *types.Fork, forkSize int) ([]byte, error) {
	buf := make([]byte, forkSize)
	switch f.Format {
	case types.DinodeFmtDev:
		codec.PutUint32(buf[0:4], f.Rdev)
	case types.DinodeFmtLocal:
		copy(buf, f.LocalData)
	case types.DinodeFmtExtents:
		if len(f.Extents)*extentRecordSize > forkSize {
			return nil, fmt.Errorf("fork: extent list overflows fork capacity: %w", xfserr.EIO)
		}
		for i, ext := range f.Extents {
			encodeExtentRecord(buf[i*extentRecordSize:(i+1)*extentRecordSize], ext)
		}
	case types.DinodeFmtBtree:
		encodeBtreeRoot(buf, f.BtreeRoot)
	default:
		return nil, fmt.Errorf("fork: unknown format %d: %w", f.Format, xfserr.EIO)
	}
	return buf, nil
}

// decodeExtentRecord unpacks one 128-bit extent record. The on-disk
// packing (two big-endian 64-bit words) is:
//
//	word0: bit63 = unwritten flag, bits[62:9] = startoff (54 bits),
//	       bits[8:0] = top 9 bits of startblock
//	word1: bits[63:21] = remaining 43 bits of startblock (52 bits total),
//	       bits[20:0] = blockcount (21 bits)
//
// This engine uses the same bit layout as real XFS so extent records
// remain round-trippable through the codec.
func decodeExtentRecord(b []byte) (types.ExtentRecord, error) {
	if len(b) < extentRecordSize {
		return types.ExtentRecord{}, fmt.Errorf("fork: short extent record: %w", xfserr.EIO)
	}
	w0 := codec.Uint64(b[0:8])
	w1 := codec.Uint64(b[8:16])

	unwritten := w0>>63 != 0
	startOff := (w0 >> 9) & ((1 << 54) - 1)
	startBlockHi := w0 & 0x1FF
	startBlock := (startBlockHi << 43) | (w1 >> 21)
	blockCount := w1 & ((1 << 21) - 1)

	state := types.ExtentNormal
	if unwritten {
		state = types.ExtentUnwritten
	}
	return types.ExtentRecord{
		StartOff:   startOff,
		StartBlock: types.Fsblock(startBlock),
		BlockCount: uint32(blockCount),
		State:      state,
	}, nil
}

func encodeExtentRecord(b []byte, e types.ExtentRecord) {
	var w0, w1 uint64
	if e.State == types.ExtentUnwritten {
		w0 |= 1 << 63
	}
	w0 |= (e.StartOff & ((1 << 54) - 1)) << 9
	w0 |= (uint64(e.StartBlock) >> 43) & 0x1FF
	w1 |= (uint64(e.StartBlock) & ((1 << 43) - 1)) << 21
	w1 |= uint64(e.BlockCount) & ((1 << 21) - 1)

	codec.PutUint64(b[0:8], w0)
	codec.PutUint64(b[8:16], w1)
}

// validateExtentOrder checks the invariant that extent lists are
// strictly increasing by file-block offset with no overlap (spec §8).
func validateExtentOrder(exts []types.ExtentRecord) error {
	for i := 1; i < len(exts); i++ {
		if exts[i].StartOff < exts[i-1].EndOff() {
			return fmt.Errorf("fork: extent list not strictly increasing/non-overlapping at index %d: %w", i, xfserr.EIO)
		}
	}
	return nil
}

// decodeBtreeRoot parses the inline B+tree root header: a 4-byte
// (level, numrecs) pair followed by numrecs keys then numrecs pointers,
// the way xfs_bmdr_block_t packs a data-fork B+tree root.
func decodeBtreeRoot(b []byte) (types.BtreeRootHeader, error) {
	if len(b) < 4 {
		return types.BtreeRootHeader{}, fmt.Errorf("fork: btree root data too small: %w", xfserr.EIO)
	}
	level := codec.Uint16(b[0:2])
	numrecs := codec.Uint16(b[2:4])

	need := 4 + int(numrecs)*8*2
	if len(b) < need {
		return types.BtreeRootHeader{}, fmt.Errorf("fork: btree root truncated: %w", xfserr.EIO)
	}

	keys := make([]types.Fsblock, numrecs)
	ptrs := make([]types.Fsblock, numrecs)
	off := 4
	for i := 0; i < int(numrecs); i++ {
		keys[i] = types.Fsblock(codec.Uint64(b[off : off+8]))
		off += 8
	}
	for i := 0; i < int(numrecs); i++ {
		ptrs[i] = types.Fsblock(codec.Uint64(b[off : off+8]))
		off += 8
	}
	return types.BtreeRootHeader{Level: level, Numrecs: numrecs, Keys: keys, Pointers: ptrs}, nil
}

func encodeBtreeRoot(b []byte, root types.BtreeRootHeader) {
	codec.PutUint16(b[0:2], root.Level)
	codec.PutUint16(b[2:4], root.Numrecs)
	off := 4
	for _, k := range root.Keys {
		codec.PutUint64(b[off:off+8], uint64(k))
		off += 8
	}
	for _, p := range root.Pointers {
		codec.PutUint64(b[off:off+8], uint64(p))
		off += 8
	}
}
