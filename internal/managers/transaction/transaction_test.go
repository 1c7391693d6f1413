package transaction

import (
	"testing"

	"github.com/xfscore/xfs/internal/interfaces"
)

type fakeBuffers struct {
	unpinned  []interfaces.Transaction
	writeBack []bool
}

func (f *fakeBuffers) Unpin(tx interfaces.Transaction, writeBack bool) error {
	f.unpinned = append(f.unpinned, tx)
	f.writeBack = append(f.writeBack, writeBack)
	return nil
}

type fakeInodes struct {
	persisted []interfaces.InodeRef
	reverted  []interfaces.InodeRef
}

func (f *fakeInodes) Persist(tx interfaces.Transaction, ip interfaces.InodeRef) error {
	f.persisted = append(f.persisted, ip)
	return nil
}
func (f *fakeInodes) Revert(ip interfaces.InodeRef) {
	f.reverted = append(f.reverted, ip)
}

type fakeAlloc struct{ finishCalls int }

func (f *fakeAlloc) Finish(tx interfaces.Transaction) error {
	f.finishCalls++
	return nil
}

func TestBeginReserveCommitLifecycle(t *testing.T) {
	buffers := &fakeBuffers{}
	mgr := New(buffers, &fakeInodes{}, &fakeAlloc{})

	txn, err := mgr.Begin(interfaces.TxCreate)
	if err != nil {
		t.Fatalf("Begin() error = %v", err)
	}
	if txn.State() != interfaces.TxAllocated {
		t.Fatalf("State() = %v, want TxAllocated", txn.State())
	}
	if err := txn.Reserve(interfaces.TxCreate); err != nil {
		t.Fatalf("Reserve() error = %v", err)
	}
	if txn.State() != interfaces.TxReserved {
		t.Fatalf("State() = %v, want TxReserved", txn.State())
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if txn.State() != interfaces.TxCommitted {
		t.Fatalf("State() = %v, want TxCommitted", txn.State())
	}
	if len(buffers.unpinned) != 1 || !buffers.writeBack[0] {
		t.Fatalf("expected one write-back Unpin call, got %+v", buffers)
	}
}

func TestCancelRevertsAndIsIdempotent(t *testing.T) {
	buffers := &fakeBuffers{}
	alloc := &fakeAlloc{}
	mgr := New(buffers, &fakeInodes{}, alloc)

	txn, _ := mgr.Begin(interfaces.TxWrite)
	if err := txn.Reserve(interfaces.TxWrite); err != nil {
		t.Fatal(err)
	}
	txn.Cancel()
	if txn.State() != interfaces.TxAborted {
		t.Fatalf("State() = %v, want TxAborted", txn.State())
	}
	if len(buffers.unpinned) != 1 || buffers.writeBack[0] {
		t.Fatalf("expected one abort Unpin call, got %+v", buffers)
	}
	if alloc.finishCalls != 0 {
		t.Fatalf("Finish() called %d times on abort path, want 0", alloc.finishCalls)
	}

	// Idempotent: a second Cancel must not double-unpin.
	txn.Cancel()
	if len(buffers.unpinned) != 1 {
		t.Fatalf("second Cancel() re-unpinned buffers: %+v", buffers)
	}
}

func TestReserveRejectsWrongState(t *testing.T) {
	mgr := New(&fakeBuffers{}, &fakeInodes{}, &fakeAlloc{})
	txn, _ := mgr.Begin(interfaces.TxCreate)
	if err := txn.Reserve(interfaces.TxCreate); err != nil {
		t.Fatal(err)
	}
	if err := txn.Reserve(interfaces.TxCreate); err == nil {
		t.Fatal("Reserve() succeeded a second time from TxReserved")
	}
	txn.Cancel()
}

func TestCommitRejectsUnreservedTransaction(t *testing.T) {
	mgr := New(&fakeBuffers{}, &fakeInodes{}, &fakeAlloc{})
	txn, _ := mgr.Begin(interfaces.TxCreate)
	if err := txn.Commit(); err == nil {
		t.Fatal("Commit() succeeded on an unreserved transaction")
	}
}
