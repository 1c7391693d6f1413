package allocator

import (
	"testing"

	"github.com/xfscore/xfs/internal/interfaces"
	"github.com/xfscore/xfs/internal/types"
	"github.com/xfscore/xfs/internal/xfserr"
)

// fakeTx is a minimal interfaces.Transaction stub sufficient for
// exercising Allocate/Free/Finish in isolation from the transaction
// package's own state machine.
type fakeTx struct {
	deferred []interfaces.DeferredOp
}

func (f *fakeTx) State() interfaces.TxState                             { return interfaces.TxReserved }
func (f *fakeTx) Reserve(kind interfaces.TxKind) error                  { return nil }
func (f *fakeTx) JoinInode(ip interfaces.InodeRef, flags interfaces.JoinFlags) {}
func (f *fakeTx) JoinBuffer(h interfaces.BufferHandle, flags interfaces.JoinFlags) {}
func (f *fakeTx) LogInode(ip interfaces.InodeRef, fields interfaces.LogField) {}
func (f *fakeTx) Defer(op interfaces.DeferredOp)                        { f.deferred = append(f.deferred, op) }
func (f *fakeTx) Commit() error                                         { return nil }
func (f *fakeTx) Cancel()                                               {}

func testSB() *types.Superblock {
	return &types.Superblock{AGBlocks: 100, AGCount: 2}
}

func TestAllocateConsumesFreeSpace(t *testing.T) {
	a := New(testSB(), nil)
	tx := &fakeTx{}

	ext, err := a.Allocate(tx, 0, 10)
	if err != nil {
		t.Fatalf("Allocate() error = %v", err)
	}
	if ext.Start != 0 || ext.Length != 10 {
		t.Fatalf("Allocate() = %+v, want {0 10}", ext)
	}

	free, _ := a.Stats()
	if free != 190 {
		t.Fatalf("free blocks after allocation = %d, want 190", free)
	}

	ext2, err := a.Allocate(tx, 0, 5)
	if err != nil {
		t.Fatal(err)
	}
	if ext2.Start != 10 {
		t.Fatalf("second Allocate() = %+v, want start 10", ext2)
	}
}

func TestAllocateHonorsHint(t *testing.T) {
	a := New(testSB(), nil)
	tx := &fakeTx{}

	ext, err := a.Allocate(tx, 150, 10)
	if err != nil {
		t.Fatal(err)
	}
	if ext.Start != 150 {
		t.Fatalf("Allocate() with hint = %+v, want start 150", ext)
	}
}

func TestAllocateReturnsShortExtentWhenNoneLargeEnough(t *testing.T) {
	sb := &types.Superblock{AGBlocks: 20, AGCount: 1}
	a := New(sb, nil)
	tx := &fakeTx{}

	if _, err := a.Allocate(tx, 0, 15); err != nil {
		t.Fatal(err)
	}
	// Only 5 blocks remain; a request for 10 must return the shorter
	// extent rather than failing outright.
	ext, err := a.Allocate(tx, 0, 10)
	if err != nil {
		t.Fatalf("Allocate() error = %v", err)
	}
	if ext.Length != 5 {
		t.Fatalf("Allocate() = %+v, want a 5-block remainder", ext)
	}
}

func TestAllocateExhaustedReturnsENOSPC(t *testing.T) {
	sb := &types.Superblock{AGBlocks: 10, AGCount: 1}
	a := New(sb, nil)
	tx := &fakeTx{}

	if _, err := a.Allocate(tx, 0, 10); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Allocate(tx, 0, 1); !xfserr.Is(err, xfserr.ENOSPC) {
		t.Fatalf("Allocate() on exhausted pool error = %v, want ENOSPC", err)
	}
}

func TestFreeIsNotVisibleUntilFinish(t *testing.T) {
	sb := &types.Superblock{AGBlocks: 10, AGCount: 1}
	a := New(sb, nil)
	tx := &fakeTx{}

	ext, err := a.Allocate(tx, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Free(tx, ext); err != nil {
		t.Fatal(err)
	}

	if free, _ := a.Stats(); free != 0 {
		t.Fatalf("free blocks before Finish = %d, want 0", free)
	}
	if len(tx.deferred) != 1 || !tx.deferred[0].Free {
		t.Fatalf("Free() did not record a deferred op on tx: %+v", tx.deferred)
	}

	if err := a.Finish(tx); err != nil {
		t.Fatal(err)
	}
	if free, _ := a.Stats(); free != 10 {
		t.Fatalf("free blocks after Finish = %d, want 10", free)
	}
}

func TestFinishCoalescesAdjacentExtents(t *testing.T) {
	sb := &types.Superblock{AGBlocks: 30, AGCount: 1}
	a := New(sb, nil)
	tx := &fakeTx{}

	e1, _ := a.Allocate(tx, 0, 10)
	e2, _ := a.Allocate(tx, 0, 10)
	a.Free(tx, e1)
	a.Free(tx, e2)
	if err := a.Finish(tx); err != nil {
		t.Fatal(err)
	}

	// The two freed extents plus the untouched remainder should
	// coalesce back into a single 30-block span.
	tx2 := &fakeTx{}
	whole, err := a.Allocate(tx2, 0, 30)
	if err != nil {
		t.Fatalf("Allocate() after coalesce error = %v", err)
	}
	if whole.Length != 30 {
		t.Fatalf("Allocate() after coalesce = %+v, want length 30", whole)
	}
}

func TestNewSubtractsReservedExtents(t *testing.T) {
	sb := &types.Superblock{AGBlocks: 20, AGCount: 1}
	a := New(sb, []interfaces.Extent{{Start: 0, Length: 4}})

	free, _ := a.Stats()
	if free != 16 {
		t.Fatalf("free blocks with reserved region = %d, want 16", free)
	}
	ext, err := a.Allocate(&fakeTx{}, 0, 16)
	if err != nil {
		t.Fatal(err)
	}
	if ext.Start != 4 {
		t.Fatalf("Allocate() after reservation = %+v, want start 4", ext)
	}
}
