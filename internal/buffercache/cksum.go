package buffercache

import (
	"github.com/xfscore/xfs/internal/codec"
	"github.com/xfscore/xfs/internal/types"
)

// DirCksumFunc is a CksumOffsetFunc recognizing the four V5 directory
// block magics this engine decodes (block-form, leaf-form data blocks,
// and the two leaf/node index block kinds), each of which carries its CRC32C
// immediately after the magic at byte offset 4 (see
// internal/parsers/directory/{block,leaf}.go). Any other magic (plain
// file data, V4 directory blocks, or an inode block, which packs
// several per-inode records each with its own di_crc rather than one
// block-level checksum) is reported as non-metadata: a block of
// packed inodes has no single whole-block CRC for this hook to locate
// in the first place. managers/inodecache.Cache verifies and updates
// each inode's own di_crc directly, in Get and Persist respectively.
func DirCksumFunc(data []byte) (offset int, isMetadata bool) {
	if len(data) < 8 {
		return -1, false
	}
	switch codec.Uint32(data[0:4]) {
	case types.Dir3BlockMagic, types.Dir3DataMagic, types.Dir3LeafNMagic, types.Dir3Leaf1Magic:
		return 4, true
	default:
		return -1, false
	}
}
