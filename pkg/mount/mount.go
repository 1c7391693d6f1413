// Package mount implements mount/unmount (spec §4.9): opening a backing
// store, reading and verifying its superblock, and wiring the buffer
// cache, inode cache, directory engine, allocator, and transaction
// manager into one interfaces.MountHandle. Grounded on the teacher's
// APFSMounter (internal/interfaces/mounting.go: MountContainer / Mount
// returning a handle the rest of the services layer consumes),
// generalized from APFS's two-level container+volume mount to XFS's
// single-level mount.
package mount

import (
	"fmt"
	"sync"

	"github.com/spf13/viper"

	"github.com/xfscore/xfs/internal/buffercache"
	"github.com/xfscore/xfs/internal/device"
	"github.com/xfscore/xfs/internal/interfaces"
	"github.com/xfscore/xfs/internal/managers/allocator"
	"github.com/xfscore/xfs/internal/managers/directory"
	"github.com/xfscore/xfs/internal/managers/inodecache"
	"github.com/xfscore/xfs/internal/managers/transaction"
	"github.com/xfscore/xfs/internal/parsers/superblock"
	"github.com/xfscore/xfs/internal/types"
	"github.com/xfscore/xfs/internal/xfserr"
)

// Options are the mount-time parameters spec §4.9 enumerates, plus the
// debug-verbosity knob §6 documents for the daemon wrapper (the "-d"
// flag). Bound through viper the way the teacher's internal/device DMG
// reader bound its auto-detection config, generalized from a YAML file
// to environment/flag-sourced mount options (no mount config file is
// part of the contract — see spec §6 "no environment variables
// influence behavior" for the core; this layer is the wrapper).
type Options struct {
	ReadOnly bool
	Debug    bool
}

// DefaultOptions returns the spec's documented default (read-only)
// merged with any XFSCORE_-prefixed environment overrides, read through
// viper.
func DefaultOptions() Options {
	v := viper.New()
	v.SetDefault("readonly", true)
	v.SetDefault("debug", false)
	v.SetEnvPrefix("XFSCORE")
	v.AutomaticEnv()
	return Options{
		ReadOnly: v.GetBool("readonly"),
		Debug:    v.GetBool("debug"),
	}
}

// handle is the concrete interfaces.MountHandle built by Mount. mu
// guards the degraded flag only; the single-writer discipline of spec
// §5 is enforced by the transaction manager, not here.
type handle struct {
	sb       *types.Superblock
	dev      *device.Device
	buffers  *buffercache.Cache
	inodes   *inodecache.Cache
	dirs     *directory.Engine
	alloc    *allocator.Allocator
	txm      *transaction.Manager
	readOnly bool
	debug    bool

	mu       sync.Mutex
	degraded bool // forced read-only after repeated superblock/log EIO, per spec §7
}

func (h *handle) Superblock() *types.Superblock           { return h.sb }
func (h *handle) BlockSize() uint32                       { return h.sb.BlockSize }
func (h *handle) DirBlockSize() uint32                    { return h.sb.DirBlockSize() }
func (h *handle) RootIno() types.Ino                      { return h.sb.RootIno }
func (h *handle) HasFTYPE() bool                          { return h.sb.HasFTYPE() }
func (h *handle) HasCRC() bool                            { return h.sb.HasCRC() }
func (h *handle) Buffers() interfaces.BufferCache         { return h.buffers }
func (h *handle) Inodes() interfaces.InodeCache           { return h.inodes }
func (h *handle) Directories() interfaces.DirectoryEngine { return h.dirs }
func (h *handle) Alloc() interfaces.Allocator             { return h.alloc }
func (h *handle) Transactions() interfaces.TransactionManager {
	return h.txm
}

func (h *handle) IsReadOnly() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.readOnly || h.degraded
}

var _ interfaces.MountHandle = (*handle)(nil)

// degrade forces the mount read-only after a repeated superblock/log
// I/O failure, per spec §7 ("repeated EIOs on the superblock or log
// force the mount into read-only-degraded mode").
func (h *handle) degrade() {
	h.mu.Lock()
	h.degraded = true
	h.mu.Unlock()
}

// Mount opens source, reads and verifies its superblock, and returns a
// ready-to-use interfaces.MountHandle. The probe sequence (open with a
// probe block size, then SetBlockSize on the same device) mirrors device.Open's documented contract: block size is unknown
// until the superblock names it, so the first read uses
// superblock.MinSize as a fixed probe length.
func Mount(source string, opts Options) (interfaces.MountHandle, error) {
	probe, err := device.Open(source, superblock.MinSize, opts.ReadOnly)
	if err != nil {
		return nil, err
	}

	raw, err := probe.ReadAt(0, superblock.MinSize)
	if err != nil {
		probe.Close()
		return nil, err
	}
	sb, err := superblock.Decode(raw)
	if err != nil {
		probe.Close()
		return nil, err
	}
	if err := superblock.Validate(sb, raw); err != nil {
		probe.Close()
		return nil, err
	}

	probe.SetBlockSize(sb.BlockSize)

	bc := buffercache.New(probe, sb.BlockSize, sb.HasCRC(), buffercache.DirCksumFunc)
	ic := inodecache.New(bc, sb)
	al := allocator.New(sb, reservedExtents(sb))
	eng := directory.New(bc, al, sb)
	txm := transaction.New(bc, ic, al)

	h := &handle{
		sb:       sb,
		dev:      probe,
		buffers:  bc,
		inodes:   ic,
		dirs:     eng,
		alloc:    al,
		txm:      txm,
		readOnly: opts.ReadOnly,
		debug:    opts.Debug,
	}
	return h, nil
}

// Unmount flushes and closes source, per spec §4.9: sync if read-write,
// flush the buffer cache, write the superblock, close source.
// Idempotent against a read-only mount and best-effort against any
// non-fatal errors already observed during the session.
func Unmount(mh interfaces.MountHandle) error {
	h, ok := mh.(*handle)
	if !ok {
		return fmt.Errorf("mount: Unmount called with a handle this package did not create: %w", xfserr.EINVAL)
	}

	var syncErr error
	if !h.IsReadOnly() {
		if err := h.buffers.Flush(); err != nil {
			syncErr = err
			h.degrade()
		} else if err := writeSuperblock(h); err != nil {
			syncErr = err
			h.degrade()
		}
	}

	if err := h.dev.Close(); err != nil && syncErr == nil {
		syncErr = err
	}
	return syncErr
}

func writeSuperblock(h *handle) error {
	buf := superblock.Encode(h.sb)
	return h.dev.WriteAt(0, buf)
}

// reservedExtents carves the blocks the inode cache's fixed address
// formula (types.Superblock.{InoToAGNo,InoToAGIno,AGBlock0Addr}) can
// ever resolve to, plus the internal log, out of the allocator's
// initial free list — otherwise the allocator could hand out a data or
// directory block that aliases live inode or log storage (see
// DESIGN.md's "wiring requirement" note on internal/managers/directory).
//
// The inode cache allocates a monotonic ino per Alloc call rather than
// consulting a persisted per-AG free-inode bitmap, so the precise upper
// bound on inode-occupied blocks within one AG is not known ahead of
// mount. Sized here from the superblock's own recorded inode count
// (ICount) with headroom for inodes this session will still allocate,
// rather than reserving the AG's entire theoretical inode address
// space (which would leave most small volumes with no data blocks at
// all) — an explicit, documented simplification, not a correctness
// proof.
func reservedExtents(sb *types.Superblock) []interfaces.Extent {
	inopBlock := uint64(sb.InopBlock)
	if inopBlock == 0 {
		inopBlock = 1
	}

	// Headroom: at least one full inode block's worth of growth, or
	// 1/16th of the AG, whichever is larger, per AG.
	headroomBlocks := uint64(sb.AGBlocks) / 16
	if headroomBlocks == 0 {
		headroomBlocks = 1
	}

	perAG := uint64(sb.ICount)/uint64(max32(sb.AGCount, 1))/inopBlock + headroomBlocks
	if perAG > uint64(sb.AGBlocks) {
		perAG = uint64(sb.AGBlocks)
	}

	reserved := make([]interfaces.Extent, 0, sb.AGCount+1)
	for ag := uint32(0); ag < sb.AGCount; ag++ {
		reserved = append(reserved, interfaces.Extent{
			Start:  sb.AGBlock0Addr(types.Agno(ag)),
			Length: uint32(perAG),
		})
	}
	if sb.LogBlocks > 0 {
		reserved = append(reserved, interfaces.Extent{Start: sb.LogStart, Length: sb.LogBlocks})
	}
	return reserved
}

func max32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}

// Mounter adapts the package-level Mount/Unmount functions to
// interfaces.Mounter, for callers that want to depend on the interface
// (e.g. a future daemon wrapper) rather than this package directly.
// Debug is applied to every mount opened through it.
type Mounter struct {
	Debug bool
}

var _ interfaces.Mounter = Mounter{}

func (m Mounter) Mount(source string, readOnly bool) (interfaces.MountHandle, error) {
	return Mount(source, Options{ReadOnly: readOnly, Debug: m.Debug})
}

func (m Mounter) Unmount(h interfaces.MountHandle) error {
	return Unmount(h)
}
