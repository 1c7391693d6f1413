// Package buffercache implements the in-memory buffer cache mapping
// (device, disk-block-address, length) to the bytes of that disk
// extent, per spec §4.2. Grounded on the teacher's BlockCache interface
// (internal/interfaces/block_device.go: GetBlock/PutBlock/FlushCache),
// backed here by a real os.File-based device instead of an in-memory
// map of pre-read blocks.
package buffercache

import (
	"fmt"
	"sync"

	"github.com/xfscore/xfs/internal/codec"
	"github.com/xfscore/xfs/internal/device"
	"github.com/xfscore/xfs/internal/interfaces"
	"github.com/xfscore/xfs/internal/types"
	"github.com/xfscore/xfs/internal/xfserr"
)

// CksumOffsetFunc reports the CRC32C field offset for a metadata block's
// magic number, or -1 if that type carries no checksum (pre-V5 or
// non-metadata). The cache calls this on every read so it never needs
// to special-case block types itself.
type CksumOffsetFunc func(data []byte) (offset int, isMetadata bool)

type buffer struct {
	addr     types.Fsblock
	data     []byte
	dirty    bool
	pinnedTx interface{} // opaque transaction identity; nil when unpinned
	snapshot []byte      // pre-join bytes, captured the moment tx first pins this buffer
	refs     int
}

func (b *buffer) Bytes() []byte        { return b.data }
func (b *buffer) Addr() types.Fsblock  { return b.addr }
func (b *buffer) Len() int             { return len(b.data) }
func (b *buffer) Dirty() bool          { return b.dirty }

// Cache is the concrete buffer cache implementation.
type Cache struct {
	mu        sync.Mutex
	dev       *device.Device
	blockSize uint32
	hasCRC    bool
	cksumFn   CksumOffsetFunc
	bufs      map[types.Fsblock]*buffer
}

// New constructs a buffer cache over dev. hasCRC selects whether reads
// verify V5 metadata CRCs; cksumFn locates each block type's checksum
// field.
func New(dev *device.Device, blockSize uint32, hasCRC bool, cksumFn CksumOffsetFunc) *Cache {
	return &Cache{
		dev:       dev,
		blockSize: blockSize,
		hasCRC:    hasCRC,
		cksumFn:   cksumFn,
		bufs:      make(map[types.Fsblock]*buffer),
	}
}

func (c *Cache) key(addr types.Fsblock) types.Fsblock { return addr }

// Get returns a handle for [addr, addr+length blocks), reading through
// on a miss and verifying the CRC of V5 metadata blocks.
func (c *Cache) Get(addr types.Fsblock, length uint32) (interfaces.BufferHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(addr, length)
}

func (c *Cache) getLocked(addr types.Fsblock, length uint32) (*buffer, error) {
	if b, ok := c.bufs[c.key(addr)]; ok {
		b.refs++
		return b, nil
	}
	byteLen := int(length) * int(c.blockSize)
	raw, err := c.dev.ReadAt(int64(addr)*int64(c.blockSize), byteLen)
	if err != nil {
		return nil, fmt.Errorf("buffercache: read block %d: %w", addr, err)
	}
	if c.hasCRC && c.cksumFn != nil {
		if off, isMeta := c.cksumFn(raw); isMeta {
			if !codec.VerifyCRC(raw, off) {
				return nil, fmt.Errorf("buffercache: CRC mismatch at block %d: %w", addr, xfserr.EIO)
			}
		}
	}
	b := &buffer{addr: addr, data: raw, refs: 1}
	c.bufs[c.key(addr)] = b
	return b, nil
}

// GetPinned returns a handle pinned to tx.
func (c *Cache) GetPinned(tx interfaces.Transaction, addr types.Fsblock, length uint32) (interfaces.BufferHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, err := c.getLocked(addr, length)
	if err != nil {
		return nil, err
	}
	c.pinLocked(b, tx)
	return b, nil
}

// pinLocked marks b as pinned by tx, capturing an undo snapshot the
// first time tx touches this buffer. c.mu must be held.
func (c *Cache) pinLocked(b *buffer, tx interfaces.Transaction) {
	if b.pinnedTx == tx {
		return
	}
	b.pinnedTx = tx
	if b.snapshot == nil {
		b.snapshot = append([]byte(nil), b.data...)
	}
}

// Release drops one reference to handle.
func (c *Cache) Release(handle interfaces.BufferHandle) {
	b, ok := handle.(*buffer)
	if !ok {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	b.refs--
}

// LogRange records that bytes [first,last] of handle are dirtied by tx.
func (c *Cache) LogRange(tx interfaces.Transaction, handle interfaces.BufferHandle, first, last int) error {
	b, ok := handle.(*buffer)
	if !ok {
		return fmt.Errorf("buffercache: LogRange on foreign handle")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if b.pinnedTx != nil && b.pinnedTx != tx {
		return fmt.Errorf("buffercache: buffer at block %d already pinned by another transaction", b.addr)
	}
	c.pinLocked(b, tx)
	b.dirty = true
	return nil
}

// Unpin releases tx's pin on every buffer it holds, optionally writing
// them back first. Called by the transaction manager at commit/cancel.
func (c *Cache) Unpin(tx interfaces.Transaction, writeBack bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for addr, b := range c.bufs {
		if b.pinnedTx != tx {
			continue
		}
		if writeBack {
			if b.dirty {
				if err := c.dev.WriteAt(int64(addr)*int64(c.blockSize), b.data); err != nil {
					return fmt.Errorf("buffercache: writeback block %d: %w", addr, err)
				}
			}
		} else if b.snapshot != nil {
			// Abort: restore the bytes this transaction's callers
			// mutated in place, exactly as they stood before it
			// first joined this buffer.
			b.data = b.snapshot
		}
		b.dirty = false
		b.pinnedTx = nil
		b.snapshot = nil
	}
	return nil
}

// Flush writes all dirty, unpinned buffers back to the device.
func (c *Cache) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for addr, b := range c.bufs {
		if b.pinnedTx != nil || !b.dirty {
			continue
		}
		if err := c.dev.WriteAt(int64(addr)*int64(c.blockSize), b.data); err != nil {
			return fmt.Errorf("buffercache: flush block %d: %w", addr, err)
		}
		b.dirty = false
	}
	return c.dev.Flush()
}
