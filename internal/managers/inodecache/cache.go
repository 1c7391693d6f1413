// Package inodecache implements the inode cache of spec §4.4: retrieval
// and caching of inodes by number, decoding their forks on first
// reference. Grounded on the teacher's ObjectReferenceCounted /
// ObjectIdentifier pattern (internal/interfaces/objects.go),
// specialized from opaque object identifiers to XFS inode numbers
// resolved through the superblock's AG geometry.
package inodecache

import (
	"fmt"
	"sync"

	"github.com/xfscore/xfs/internal/codec"
	"github.com/xfscore/xfs/internal/interfaces"
	"github.com/xfscore/xfs/internal/parsers/inode"
	"github.com/xfscore/xfs/internal/types"
	"github.com/xfscore/xfs/internal/xfserr"
)

// Cache is the concrete interfaces.InodeCache implementation.
type Cache struct {
	mu      sync.Mutex
	buffers interfaces.BufferCache
	sb      *types.Superblock
	v5      bool

	entries map[types.Ino]*handle
	nextIno uint64
}

// New constructs an inode cache over buffers, using sb's geometry to
// locate each inode's backing block.
func New(buffers interfaces.BufferCache, sb *types.Superblock) *Cache {
	return &Cache{
		buffers: buffers,
		sb:      sb,
		v5:      sb.IsV5(),
		entries: make(map[types.Ino]*handle),
		nextIno: uint64(sb.RootIno) + 1,
	}
}

// handle implements interfaces.InodeRef.
type handle struct {
	num       types.Ino
	core      *types.InodeCore
	dataFork  *types.Fork
	attrFork  *types.Fork
	blockAddr types.Fsblock
	blockOff  int
	refs      int

	// snapshot, captured when Get first fetches this handle and retaken
	// after each successful Persist, used to revert in-place mutations
	// on abort.
	snapCore     *types.InodeCore
	snapDataFork *types.Fork
	snapAttrFork *types.Fork
	snapped      bool
	isNew        bool // allocated (not yet committed) this transaction
}

func (h *handle) Number() types.Ino        { return h.num }
func (h *handle) Core() *types.InodeCore   { return h.core }
func (h *handle) DataFork() *types.Fork    { return h.dataFork }
func (h *handle) AttrFork() *types.Fork    { return h.attrFork }
func (h *handle) SetDataFork(f *types.Fork) { h.dataFork = f }

func cloneCore(c *types.InodeCore) *types.InodeCore {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}

func cloneFork(f *types.Fork) *types.Fork {
	if f == nil {
		return nil
	}
	cp := *f
	cp.LocalData = append([]byte(nil), f.LocalData...)
	cp.Extents = append([]types.ExtentRecord(nil), f.Extents...)
	cp.BtreeRoot.Keys = append([]types.Fsblock(nil), f.BtreeRoot.Keys...)
	cp.BtreeRoot.Pointers = append([]types.Fsblock(nil), f.BtreeRoot.Pointers...)
	return &cp
}

// snapshot captures h's current core/fork state as the baseline a
// future Revert restores to, if one has not already been captured
// since the last Persist.
func (h *handle) snapshot() {
	if h.snapped {
		return
	}
	h.snapCore = cloneCore(h.core)
	h.snapDataFork = cloneFork(h.dataFork)
	h.snapAttrFork = cloneFork(h.attrFork)
	h.snapped = true
}

// restore reverts h.core/dataFork/attrFork in place to the last
// captured snapshot.
func (h *handle) restore() {
	if !h.snapped {
		return
	}
	if h.snapCore != nil {
		*h.core = *h.snapCore
	}
	h.dataFork = cloneFork(h.snapDataFork)
	h.attrFork = cloneFork(h.snapAttrFork)
}

// locate computes the block address and in-block byte offset of ino.
func (c *Cache) locate(ino types.Ino) (types.Fsblock, int) {
	ag := c.sb.InoToAGNo(ino)
	agino := c.sb.InoToAGIno(ino)
	inodesPerBlock := uint32(c.sb.InopBlock)
	if inodesPerBlock == 0 {
		inodesPerBlock = 1
	}
	blockWithinAG := types.Fsblock(agino / inodesPerBlock)
	addr := c.sb.AGBlock0Addr(ag) + blockWithinAG
	off := int(agino%inodesPerBlock) * int(c.sb.InodeSize)
	return addr, off
}

// Get returns the in-core inode for ino, incrementing its refcount and
// reading it through on a cache miss.
func (c *Cache) Get(ino types.Ino) (interfaces.InodeRef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if h, ok := c.entries[ino]; ok {
		h.refs++
		h.snapshot()
		return h, nil
	}

	addr, off := c.locate(ino)
	buf, err := c.buffers.Get(addr, 1)
	if err != nil {
		return nil, fmt.Errorf("inodecache: read inode %d: %w", ino, err)
	}
	raw := buf.Bytes()
	if off+int(c.sb.InodeSize) > len(raw) {
		return nil, fmt.Errorf("inodecache: inode %d offset overflows block", ino)
	}
	record := raw[off : off+int(c.sb.InodeSize)]

	core, err := inode.DecodeCore(record, c.v5)
	if err != nil {
		return nil, fmt.Errorf("inodecache: decode inode %d core: %w", ino, err)
	}
	if c.v5 && core.Version >= 3 {
		if !codec.VerifyCRC(record, types.DinodeCrcOffset) {
			return nil, fmt.Errorf("inodecache: inode %d: %w", ino, xfserr.EIO)
		}
	}

	h := &handle{num: ino, core: core, blockAddr: addr, blockOff: off, refs: 1}
	if err := c.decodeForks(h, record); err != nil {
		return nil, err
	}
	h.snapshot()
	c.entries[ino] = h
	return h, nil
}

func (c *Cache) decodeForks(h *handle, record []byte) error {
	dataOff := inode.AttrForkOffsetBytes(h.core, c.v5)
	dataStart := inode.ForkOffsetBytes(c.v5)
	dataSize := inode.DataForkSize(h.core, len(record), c.v5)
	if dataStart+dataSize > len(record) {
		return fmt.Errorf("inodecache: inode %d data fork overflows record", h.num)
	}
	df, err := inode.DecodeFork(h.core.Format, record[dataStart:dataStart+dataSize], dataSize)
	if err != nil {
		return fmt.Errorf("inodecache: decode inode %d data fork: %w", h.num, err)
	}
	h.dataFork = df

	if dataOff >= 0 {
		attrSize := inode.AttrForkSize(h.core, len(record), c.v5)
		if dataOff+attrSize > len(record) {
			return fmt.Errorf("inodecache: inode %d attr fork overflows record", h.num)
		}
		af, err := inode.DecodeFork(h.core.Aformat, record[dataOff:dataOff+attrSize], attrSize)
		if err != nil {
			return fmt.Errorf("inodecache: decode inode %d attr fork: %w", h.num, err)
		}
		h.attrFork = af
	}
	return nil
}

// Put decrements ino's refcount.
func (c *Cache) Put(ip interfaces.InodeRef) {
	h, ok := ip.(*handle)
	if !ok {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if h.refs > 0 {
		h.refs--
	}
}

// Alloc allocates a fresh inode number and an empty in-core inode,
// joining it to tx so Commit persists it and Cancel discards it. This
// engine uses a simple monotonic counter rather than scanning the
// per-AG inode btree for a reclaimed slot (see DESIGN.md); ag is
// accepted for interface compatibility but not yet consulted.
func (c *Cache) Alloc(tx interfaces.Transaction, mode uint16, ag int64) (interfaces.InodeRef, error) {
	c.mu.Lock()
	ino := types.Ino(c.nextIno)
	c.nextIno++
	addr, off := c.locate(ino)
	c.mu.Unlock()

	core := &types.InodeCore{
		Magic:   types.DinodeMagic,
		Mode:    mode,
		Version: 1,
		Format:  types.DinodeFmtExtents,
	}
	if c.v5 {
		core.Version = 3
		core.Ino = ino
	}
	h := &handle{
		num:       ino,
		core:      core,
		dataFork:  &types.Fork{Format: types.DinodeFmtExtents},
		blockAddr: addr,
		blockOff:  off,
		refs:      1,
		isNew:     true,
	}

	c.mu.Lock()
	c.entries[ino] = h
	c.mu.Unlock()

	tx.JoinInode(h, interfaces.JoinDefault)
	return h, nil
}

// Free removes ino from the cache, releasing its cached identity. Space
// reclamation of the inode's own on-disk slot is not tracked by a
// persisted free list in this engine (see DESIGN.md); forks should be
// truncated by the caller (via the allocator's Free) before calling
// this.
func (c *Cache) Free(tx interfaces.Transaction, ip interfaces.InodeRef) error {
	h, ok := ip.(*handle)
	if !ok {
		return fmt.Errorf("inodecache: Free called with foreign InodeRef")
	}
	h.core.Nlink = 0
	c.mu.Lock()
	delete(c.entries, h.num)
	c.mu.Unlock()
	return nil
}

// Persist re-encodes ip's core and forks into its backing buffer and
// logs the touched range, called by the transaction manager once per
// joined inode during Commit.
func (c *Cache) Persist(tx interfaces.Transaction, ip interfaces.InodeRef) error {
	h, ok := ip.(*handle)
	if !ok {
		return fmt.Errorf("inodecache: Persist called with foreign InodeRef")
	}

	buf, err := c.buffers.GetPinned(tx, h.blockAddr, 1)
	if err != nil {
		return fmt.Errorf("inodecache: pin inode %d block: %w", h.num, err)
	}
	raw := buf.Bytes()
	inodeSize := int(c.sb.InodeSize)
	if h.blockOff+inodeSize > len(raw) {
		return fmt.Errorf("inodecache: inode %d offset overflows block", h.num)
	}

	coreBytes := inode.EncodeCore(h.core, c.v5)
	copy(raw[h.blockOff:], coreBytes)

	dataStart := h.blockOff + inode.ForkOffsetBytes(c.v5)
	dataSize := inode.DataForkSize(h.core, inodeSize, c.v5)
	if h.dataFork != nil && dataSize > 0 {
		encoded, err := inode.EncodeFork(h.dataFork, dataSize)
		if err != nil {
			return fmt.Errorf("inodecache: encode inode %d data fork: %w", h.num, err)
		}
		copy(raw[dataStart:dataStart+dataSize], encoded)
	}

	// V5 inodes carry their own per-record CRC32C (spec §8's universal
	// CRC invariant), distinct from and in addition to whatever
	// block-level checksum the buffer cache tracks for this block -
	// DirCksumFunc deliberately does not claim inode blocks as metadata
	// for that reason (see internal/buffercache/cksum.go).
	if c.v5 && h.core.Version >= 3 {
		record := raw[h.blockOff : h.blockOff+inodeSize]
		codec.UpdateCRC(record, types.DinodeCrcOffset)
	}

	if err := c.buffers.LogRange(tx, buf, h.blockOff, h.blockOff+inodeSize-1); err != nil {
		return err
	}

	// The mutation just written is now the durable baseline: a later
	// transaction that joins this handle and then aborts must revert to
	// this state, not to whatever it looked like before this commit.
	h.isNew = false
	h.snapped = false
	h.snapshot()
	return nil
}

// Revert undoes the mutations a cancelled transaction made to ip:
// newly allocated inodes are dropped out of the cache entirely (they
// never reached a backing buffer), and existing inodes mutated in
// place are restored to the snapshot captured when they were last
// fetched or successfully committed.
func (c *Cache) Revert(ip interfaces.InodeRef) {
	h, ok := ip.(*handle)
	if !ok {
		return
	}
	if h.isNew {
		c.mu.Lock()
		delete(c.entries, h.num)
		c.mu.Unlock()
		return
	}
	h.restore()
}
