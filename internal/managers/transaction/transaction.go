// Package transaction implements the transaction/log facade of spec
// §4.7: the state machine allocated -> reserved -> committing ->
// committed|aborted that brackets every metadata mutation. Grounded on
// the teacher's ObjectTransactionManager contract
// (internal/interfaces/objects.go: BeginTransaction/CommitTransaction/
// RollbackTransaction), generalized into a full lifecycle, and on the
// teacher's reaper parsers for the deferred-free-on-commit half of
// Defer/Commit.
package transaction

import (
	"fmt"
	"sync"

	"github.com/xfscore/xfs/internal/interfaces"
)

// reservation sizes the log space a transaction of each TxKind may
// dirty, in 4 KiB log-block units. Values are nominal placeholders
// (spec §4.7 names this "a per-operation table" without mandating
// exact sizes); they only need to be large enough that every mutator
// this engine performs fits inside one reservation.
var reservationBlocks = map[interfaces.TxKind]int{
	interfaces.TxCreate:   4,
	interfaces.TxMkdir:    4,
	interfaces.TxRemove:   4,
	interfaces.TxRename:   6,
	interfaces.TxLink:     2,
	interfaces.TxSymlink:  4,
	interfaces.TxWrite:    8,
	interfaces.TxTruncate: 8,
	interfaces.TxSetattr:  1,
}

// unpinner is the subset of buffercache.Cache's contract a transaction
// needs to finalize pinned buffers; kept as a narrow interface so this
// package does not import buffercache directly.
type unpinner interface {
	Unpin(tx interfaces.Transaction, writeBack bool) error
}

// inodePersister is the matching contract for the inode cache: at
// commit each joined inode is re-encoded into its backing buffer, at
// abort each is reverted to the snapshot the inode cache took when the
// inode was fetched or last persisted.
type inodePersister interface {
	Persist(tx interfaces.Transaction, ip interfaces.InodeRef) error
	Revert(ip interfaces.InodeRef)
}

// allocFinisher runs an allocator's deferred-free completion at commit.
type allocFinisher interface {
	Finish(tx interfaces.Transaction) error
}

// Manager begins transactions, serializing them per spec §5's
// single-writer discipline: only one transaction may be reserved (i.e.
// mutating state) at a time.
type Manager struct {
	mu      sync.Mutex
	buffers unpinner
	inodes  inodePersister
	alloc   allocFinisher
}

// New constructs a transaction manager wired to the mount's buffer
// cache, inode cache, and allocator.
func New(buffers unpinner, inodes inodePersister, alloc allocFinisher) *Manager {
	return &Manager{buffers: buffers, inodes: inodes, alloc: alloc}
}

// Begin allocates a new transaction in the TxAllocated state.
func (m *Manager) Begin(kind interfaces.TxKind) (interfaces.Transaction, error) {
	return &tx{mgr: m, kind: kind, state: interfaces.TxAllocated}, nil
}

// tx implements interfaces.Transaction.
type tx struct {
	mgr   *Manager
	kind  interfaces.TxKind
	state interfaces.TxState

	reservation int
	deferred    []interfaces.DeferredOp
	heldInodes  []interfaces.InodeRef
}

func (t *tx) State() interfaces.TxState { return t.state }

// Reserve transitions allocated -> reserved and takes the single-writer
// lock for the remainder of this transaction's life, released by
// Commit or Cancel.
func (t *tx) Reserve(kind interfaces.TxKind) error {
	if t.state != interfaces.TxAllocated {
		return fmt.Errorf("transaction: Reserve called in state %d, want TxAllocated", t.state)
	}
	t.mgr.mu.Lock()
	t.kind = kind
	t.reservation = reservationBlocks[kind]
	t.state = interfaces.TxReserved
	return nil
}

func (t *tx) JoinInode(ip interfaces.InodeRef, flags interfaces.JoinFlags) {
	t.heldInodes = append(t.heldInodes, ip)
}

func (t *tx) JoinBuffer(handle interfaces.BufferHandle, flags interfaces.JoinFlags) {
	// Buffers join via BufferCache.GetPinned/LogRange directly;
	// JoinBuffer records nothing and has no effect.
}

func (t *tx) LogInode(ip interfaces.InodeRef, fields interfaces.LogField) {
	// The in-core InodeRef is mutated directly by callers before
	// logging; persisting it to its backing buffer happens in the
	// inode cache's Persist, invoked for each joined inode from Commit
	// below.
}

func (t *tx) Defer(op interfaces.DeferredOp) {
	t.deferred = append(t.deferred, op)
}

// Commit finalizes deferred allocator actions, flushes logged buffers,
// and releases every pin this transaction holds.
func (t *tx) Commit() error {
	if t.state != interfaces.TxReserved {
		return fmt.Errorf("transaction: Commit called in state %d, want TxReserved", t.state)
	}
	t.state = interfaces.TxCommitting

	if t.mgr.alloc != nil {
		if err := t.mgr.alloc.Finish(t); err != nil {
			t.state = interfaces.TxAborted
			t.mgr.mu.Unlock()
			return fmt.Errorf("transaction: allocator finish: %w", err)
		}
	}
	if t.mgr.inodes != nil {
		for _, ip := range t.heldInodes {
			if err := t.mgr.inodes.Persist(t, ip); err != nil {
				t.state = interfaces.TxAborted
				t.mgr.mu.Unlock()
				return fmt.Errorf("transaction: inode persist: %w", err)
			}
		}
	}
	if err := t.mgr.buffers.Unpin(t, true); err != nil {
		t.state = interfaces.TxAborted
		t.mgr.mu.Unlock()
		return fmt.Errorf("transaction: buffer writeback: %w", err)
	}

	t.state = interfaces.TxCommitted
	t.mgr.mu.Unlock()
	return nil
}

// Cancel reverts every pinned buffer to its pre-join snapshot and
// enters TxAborted. Idempotent: calling Cancel on an already-aborted or
// never-reserved transaction is a no-op.
func (t *tx) Cancel() {
	if t.state == interfaces.TxAborted || t.state == interfaces.TxCommitted {
		return
	}
	wasReserved := t.state == interfaces.TxReserved
	t.state = interfaces.TxAborted
	if !wasReserved {
		return
	}
	_ = t.mgr.buffers.Unpin(t, false)
	if t.mgr.inodes != nil {
		for _, ip := range t.heldInodes {
			t.mgr.inodes.Revert(ip)
		}
	}
	t.mgr.mu.Unlock()
}
