package types

// ExtentRecord is the decoded form of one 128-bit on-disk extent record:
// a contiguous run of file-blocks mapped to disk-blocks, annotated with
// whether reads of the region return real data or zero-fill.
//
// On disk the four fields are packed into two big-endian uint64 words;
// see internal/parsers/inode/fork.go for the bit-packing routines.
type ExtentRecord struct {
	StartOff   uint64  // file-block offset of the first block in the extent
	StartBlock Fsblock // disk block of the first block in the extent
	BlockCount uint32  // number of blocks in the extent (max ~2^21-1)
	State      ExtentState
}

// EndOff returns the file-block offset one past the end of the extent.
func (e ExtentRecord) EndOff() uint64 {
	return e.StartOff + uint64(e.BlockCount)
}

// Contains reports whether file-block offset fsb falls within the extent.
func (e ExtentRecord) Contains(fsb uint64) bool {
	return fsb >= e.StartOff && fsb < e.EndOff()
}
