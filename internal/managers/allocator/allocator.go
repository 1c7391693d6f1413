// Package allocator implements the space allocator facade of spec §4.6:
// extent allocation and extent-free requests issued inside a
// transaction, with frees deferred to the transaction's commit step.
// Grounded on the teacher's space-manager free-queue design
// (internal/parsers/space_manager/spaceman_free_queue_entry_reader.go:
// a queue entry keyed by the owning transaction, reconciled later) —
// generalized from a single global free-queue B-tree to one in-core
// free-extent list covering every allocation group, and from the teacher's on-disk free queue
// to an in-core one reconciled at Finish rather than by a background
// reaper.
package allocator

import (
	"sort"
	"sync"

	"github.com/xfscore/xfs/internal/interfaces"
	"github.com/xfscore/xfs/internal/types"
	"github.com/xfscore/xfs/internal/xfserr"
)

// extent is an in-core free or pending-free span, always expressed as
// an absolute filesystem block range (not AG-relative), so spans can be
// coalesced across the whole free list without re-deriving AG geometry.
type extent struct {
	start  types.Fsblock
	length uint32
}

func (e extent) end() types.Fsblock { return e.start + types.Fsblock(e.length) }

// Allocator is the concrete interfaces.Allocator implementation. It
// tracks one free-extent list for the whole filesystem rather than a
// separate per-AG free-space B+tree (see DESIGN.md): allocation prefers
// free space at or past the hint block, and the bookkeeping underneath
// is a single sorted, coalesced slice rather than an on-disk AGF/cntbno
// B+tree pair.
type Allocator struct {
	mu   sync.Mutex
	sb   *types.Superblock
	free []extent // sorted by start, pairwise disjoint and coalesced

	// pending holds the extents queued by Free for each open
	// transaction, reconciled into free by Finish.
	pending map[interfaces.Transaction][]extent
}

// New constructs an allocator over sb's geometry. reserved lists ranges
// that must never be handed out (the log, the superblock and AG header
// blocks, and any inode chunks already occupied by a pre-existing root
// directory); every other block across all AGBlocks*AGCount blocks
// starts free.
func New(sb *types.Superblock, reserved []interfaces.Extent) *Allocator {
	a := &Allocator{
		sb:      sb,
		pending: make(map[interfaces.Transaction][]extent),
	}
	total := types.Fsblock(sb.AGCount) * types.Fsblock(sb.AGBlocks)
	a.free = []extent{{start: 0, length: blocksOrZero(total)}}
	for _, r := range reserved {
		a.free = subtract(a.free, extent{start: r.Start, length: r.Length})
	}
	return a
}

func blocksOrZero(n types.Fsblock) uint32 {
	if n > types.Fsblock(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(n)
}

// Allocate returns a contiguous extent of at most length blocks. It
// takes the first free extent that has length blocks free from hint
// onward, starting the result at hint when hint lies inside that extent
// and at the extent's start otherwise (so callers extending a file keep
// its blocks close together); it falls back to the largest free extent
// anywhere, even if shorter than length, when nothing at or past the
// hint fits, per spec §4.6 ("shorter extents are acceptable... caller
// loops").
func (a *Allocator) Allocate(tx interfaces.Transaction, hint types.Fsblock, length uint32) (interfaces.Extent, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	idx := -1
	var at types.Fsblock
	for i, e := range a.free {
		s := e.start
		if s < hint {
			s = hint
		}
		if s < e.end() && uint32(e.end()-s) >= length {
			idx, at = i, s
			break
		}
	}
	if idx < 0 {
		// No extent at or past the hint is big enough; take the
		// largest available extent anywhere, even if short.
		best := -1
		for i, e := range a.free {
			if best < 0 || e.length > a.free[best].length {
				best = i
			}
		}
		if best < 0 || a.free[best].length == 0 {
			return interfaces.Extent{}, xfserr.ENOSPC
		}
		idx = best
		at = a.free[best].start
	}

	chosen := a.free[idx]
	got := uint32(chosen.end() - at)
	if got > length {
		got = length
	}
	result := interfaces.Extent{Start: at, Length: got}
	a.free = subtract(a.free, extent{start: at, length: got})
	return result, nil
}

// Free queues ext's release against tx; it is not reachable by a later
// Allocate call on this or any other transaction until Finish runs.
func (a *Allocator) Free(tx interfaces.Transaction, ext interfaces.Extent) error {
	if ext.Length == 0 {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pending[tx] = append(a.pending[tx], extent{start: ext.Start, length: ext.Length})
	tx.Defer(interfaces.DeferredOp{Free: true, Extent: ext})
	return nil
}

// Finish reconciles every extent queued by Free against tx into the
// free list, coalescing adjacent spans, and discards tx's pending
// queue regardless of success.
func (a *Allocator) Finish(tx interfaces.Transaction) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	pending, ok := a.pending[tx]
	delete(a.pending, tx)
	if !ok {
		return nil
	}
	for _, e := range pending {
		a.free = merge(a.free, e)
	}
	return nil
}

// merge inserts e into free in sorted order, coalescing with any
// adjacent extents on either side.
func merge(free []extent, e extent) []extent {
	free = append(free, e)
	sort.Slice(free, func(i, j int) bool { return free[i].start < free[j].start })
	out := free[:0]
	for _, cur := range free {
		if len(out) > 0 && out[len(out)-1].end() >= cur.start {
			prev := &out[len(out)-1]
			if end := cur.end(); end > prev.end() {
				prev.length = uint32(end - prev.start)
			}
			continue
		}
		out = append(out, cur)
	}
	return out
}

// subtract removes the portion of remove overlapping any extent in
// free, splitting an extent in two when remove falls in its interior.
func subtract(free []extent, remove extent) []extent {
	if remove.length == 0 {
		return free
	}
	var out []extent
	for _, e := range free {
		if remove.end() <= e.start || remove.start >= e.end() {
			out = append(out, e)
			continue
		}
		if remove.start > e.start {
			out = append(out, extent{start: e.start, length: uint32(remove.start - e.start)})
		}
		if remove.end() < e.end() {
			out = append(out, extent{start: remove.end(), length: uint32(e.end() - remove.end())})
		}
	}
	return out
}

// Stats reports the number of free blocks currently available and the
// length of the longest free extent.
func (a *Allocator) Stats() (freeBlocks uint64, longest uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, e := range a.free {
		freeBlocks += uint64(e.length)
		if e.length > longest {
			longest = e.length
		}
	}
	return freeBlocks, longest
}
