package interfaces

import "github.com/xfscore/xfs/internal/types"

// TxState is one state of the transaction lifecycle state machine
// (spec §4.7): allocated -> reserved -> committing -> committed|aborted.
type TxState int

const (
	TxAllocated TxState = iota
	TxReserved
	TxCommitting
	TxCommitted
	TxAborted
)

// TxKind names the per-operation reservation profile used to size a
// transaction's log reservation (spec §4.7: "a per-operation table").
type TxKind int

const (
	TxCreate TxKind = iota
	TxMkdir
	TxRemove
	TxRename
	TxLink
	TxSymlink
	TxWrite
	TxTruncate
	TxSetattr
)

// LogField identifies a class of logged fields within a joined object,
// per spec §4.4 ("CORE", "DDATA", "DEV", "DEXT", "DBROOT" and the "A*"
// attribute-fork analogues).
type LogField int

const (
	LogCore LogField = 1 << iota
	LogDData
	LogDev
	LogDExt
	LogDBroot
	LogAData
	LogAExt
	LogABroot
)

// JoinFlags controls how an object is pinned to a transaction.
type JoinFlags int

const (
	JoinDefault JoinFlags = 0
	JoinHold    JoinFlags = 1 << iota // accepted; the transaction manager does not consult it
)

// Transaction is the ephemeral per-operation object that brackets every
// metadata mutation (spec §4.7).
type Transaction interface {
	// State reports the transaction's current lifecycle state.
	State() TxState
	// Reserve transitions allocated -> reserved, sizing the log
	// reservation from kind's entry in the per-operation table.
	Reserve(kind TxKind) error
	// JoinInode pins ip to the transaction so its core/forks may be
	// logged. flags is accepted but not consulted: the pin ends at
	// Commit or Cancel whether or not JoinHold is set.
	JoinInode(ip InodeRef, flags JoinFlags)
	// JoinBuffer pins handle to the transaction so byte ranges of it
	// may be logged.
	JoinBuffer(handle BufferHandle, flags JoinFlags)
	// LogInode records that the given field classes of ip are dirtied.
	LogInode(ip InodeRef, fields LogField)
	// Defer queues a deferred allocator action (an extent free) to be
	// completed as part of Commit.
	Defer(op DeferredOp)
	// Commit finalizes deferrals, writes logged deltas into their
	// buffers, updates touched V5 CRCs, flushes logged buffers, and
	// releases all pins, including those joined with JoinHold. Enters
	// TxCommitted.
	Commit() error
	// Cancel reverts all pinned objects to their pre-join snapshot and
	// enters TxAborted. Idempotent.
	Cancel()
}

// DeferredOp is one allocator action queued inside a transaction and
// completed at commit (spec §4.6: "deferring the finalization of frees
// to the transaction's commit step").
type DeferredOp struct {
	Free   bool
	Extent Extent
}

// Extent is a contiguous disk extent returned by the allocator.
type Extent struct {
	Start  types.Fsblock
	Length uint32
}

// TransactionManager begins transactions and tracks the commit-ordering
// discipline of spec §5 (commits form a total order).
type TransactionManager interface {
	Begin(kind TxKind) (Transaction, error)
}
