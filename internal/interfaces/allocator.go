package interfaces

import "github.com/xfscore/xfs/internal/types"

// Allocator satisfies extent allocation and free requests issued inside
// a transaction (spec §4.6). Grounded on the teacher's space-manager
// chunk-info / free-queue-entry two-phase design (reserve now,
// reconcile deferred frees at commit).
type Allocator interface {
	// Allocate returns a contiguous disk extent of at least length
	// blocks near hint when possible; callers loop when a shorter
	// extent than requested is returned.
	Allocate(tx Transaction, hint types.Fsblock, length uint32) (Extent, error)
	// Free queues the extent's release; it is actually reclaimed when
	// Finish runs as part of tx's commit.
	Free(tx Transaction, ext Extent) error
	// Finish completes any deferred allocator work queued on tx.
	Finish(tx Transaction) error
}
