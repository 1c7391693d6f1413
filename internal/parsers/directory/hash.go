// Package directory decodes and re-encodes the three on-disk directory
// layouts (shortform, block, leaf/node) per spec §4.5. Grounded on the
// teacher's btree_node_reader.go + btree_binary_searcher.go pair
// (internal/parsers/btrees), generalized from APFS's single B-tree
// shape to XFS's three layouts: shortform parses like the teacher's
// inline small-record path, block/leaf parse like its node-reader +
// binary-search pair applied to a hashed name index.
package directory

import "github.com/xfscore/xfs/internal/types"

// rol32 rotates v left by n bits within 32 bits.
func rol32(v uint32, n uint) uint32 {
	return (v << n) | (v >> (32 - n))
}

// NameHash computes the rotating hash XFS uses to index directory
// entries in the leaf/node layout (xfs_da_hashname): each round XORs
// four bytes, shifted left by 21, 14, 7 and 0 bits, into the previous
// hash rotated left by 28 bits; a final partial chunk of n bytes is
// folded in the same way with the n lowest shifts and a 7*n-bit
// rotation.
func NameHash(name string) uint32 {
	b := []byte(name)
	var hash uint32
	for len(b) >= 4 {
		hash = uint32(b[0])<<21 ^ uint32(b[1])<<14 ^ uint32(b[2])<<7 ^ uint32(b[3]) ^ rol32(hash, 7*4)
		b = b[4:]
	}
	switch len(b) {
	case 3:
		hash = uint32(b[0])<<14 ^ uint32(b[1])<<7 ^ uint32(b[2]) ^ rol32(hash, 7*3)
	case 2:
		hash = uint32(b[0])<<7 ^ uint32(b[1]) ^ rol32(hash, 7*2)
	case 1:
		hash = uint32(b[0]) ^ rol32(hash, 7)
	}
	return hash
}

// entrySize returns the padded on-disk byte size of a directory entry
// with the given name length, accounting for the optional FTYPE byte
// and mandatory 8-byte alignment (spec §4.5 edge cases).
func entrySize(nameLen int, hasFtype bool) int {
	// inumber(8) + namelen(1) + name + [ftype(1)] + tag(2)
	size := 8 + 1 + nameLen + 2
	if hasFtype {
		size++
	}
	return (size + 7) &^ 7
}

func ftypeForDecode(raw uint8, hasFtype bool) types.Ftype {
	if !hasFtype {
		return types.FtypeUnknown
	}
	return types.Ftype(raw)
}
