package types

// DirEntry is the decoded, format-agnostic view of one directory entry:
// a name, the inode it targets, and (when FTYPE is in effect) a one-byte
// file-type tag.
type DirEntry struct {
	Name   string
	Inode  Ino
	Ftype  Ftype // FtypeUnknown when FTYPE is not in effect
	Cookie uint64
}

// ShortformDirHeader is the header of a shortform (in-inode) directory:
// the parent inode number and the count of packed entries that follow it
// in the data fork's local bytes.
type ShortformDirHeader struct {
	Count    uint8
	I8Count  uint8 // number of entries using the 8-byte inumber form
	Parent   Ino
}

// ShortformEntry is one packed entry within a shortform directory.
type ShortformEntry struct {
	NameLen uint8
	Offset  uint16 // dir2 byte-address tag, monotonic per entry for cookies
	Name    string
	Inode   Ino
	Ftype   Ftype
}

// BlockDirHeader is the header of a single-block directory (block form).
type BlockDirHeader struct {
	Magic  uint32
	CRC    uint32
	Bno    Fsblock
	Lsn    uint64
	UUID   [16]byte
	Owner  Ino
}

// LeafDirHeader is the header shared by directory leaf data/tail blocks.
type LeafDirHeader struct {
	Magic   uint32
	CRC     uint32
	Bno     Fsblock
	Owner   Ino
}

// LeafEntry indexes one directory entry by its name hash, used by the
// leaf/node layout to avoid a full data-block scan on lookup.
type LeafEntry struct {
	Hashval uint32
	Address uint32 // data-block relative address (block offset<<3 | byte offset>>3)
}

// Dir2DataUnused marks a free span within a directory data block.
type Dir2DataUnused struct {
	Freetag uint16 // always Dir2DataFreeTag
	Length  uint16
	Tag     uint16 // back-pointer equal to this record's own starting offset
}

// DirLayout identifies which of the three on-disk directory layouts a
// directory's data fork currently uses.
type DirLayout int

const (
	DirShortform DirLayout = iota
	DirBlock
	DirLeaf
)
