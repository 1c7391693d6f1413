package inodecache

import (
	"os"
	"testing"

	"github.com/xfscore/xfs/internal/buffercache"
	"github.com/xfscore/xfs/internal/device"
	"github.com/xfscore/xfs/internal/interfaces"
	"github.com/xfscore/xfs/internal/managers/transaction"
	"github.com/xfscore/xfs/internal/types"
)

func testSuperblock() *types.Superblock {
	return &types.Superblock{
		BlockSize:  512,
		InodeSize:  256,
		InopBlock:  2,
		InopBlog:   1,
		AGBlocks:   16,
		AGBlklog:   4,
		VersionNum: types.SbVersion4,
		RootIno:    0,
	}
}

func newTestDevice(t *testing.T, blocks int, blockSize uint32) *device.Device {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "xfsimg-*")
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Truncate(int64(blocks) * int64(blockSize)); err != nil {
		t.Fatal(err)
	}
	path := f.Name()
	f.Close()
	dev, err := device.Open(path, blockSize, false)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { dev.Close() })
	return dev
}

type noopAlloc struct{}

func (noopAlloc) Finish(tx interfaces.Transaction) error { return nil }

func TestAllocPersistVisibleFromFreshCache(t *testing.T) {
	dev := newTestDevice(t, 8, 512)
	bc := buffercache.New(dev, 512, false, nil)
	sb := testSuperblock()
	ic := New(bc, sb)
	txm := transaction.New(bc, ic, noopAlloc{})

	tx, err := txm.Begin(interfaces.TxCreate)
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.Reserve(interfaces.TxCreate); err != nil {
		t.Fatal(err)
	}

	ip, err := ic.Alloc(tx, types.ModeFmtReg|0644, -1)
	if err != nil {
		t.Fatalf("Alloc() error = %v", err)
	}
	ip.Core().Size = 4096
	ip.Core().Nlink = 1
	tx.LogInode(ip, interfaces.LogCore)

	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	// A second cache instance over the same device must see the
	// persisted inode, proving Persist actually wrote through.
	bc2 := buffercache.New(dev, 512, false, nil)
	ic2 := New(bc2, sb)
	got, err := ic2.Get(ip.Number())
	if err != nil {
		t.Fatalf("Get() on fresh cache error = %v", err)
	}
	if got.Core().Size != 4096 || got.Core().Nlink != 1 {
		t.Fatalf("persisted core = %+v, want Size=4096 Nlink=1", got.Core())
	}
}

func TestAllocCancelIsInvisible(t *testing.T) {
	dev := newTestDevice(t, 8, 512)
	bc := buffercache.New(dev, 512, false, nil)
	sb := testSuperblock()
	ic := New(bc, sb)
	txm := transaction.New(bc, ic, noopAlloc{})

	tx, _ := txm.Begin(interfaces.TxCreate)
	if err := tx.Reserve(interfaces.TxCreate); err != nil {
		t.Fatal(err)
	}
	ip, err := ic.Alloc(tx, types.ModeFmtReg|0644, -1)
	if err != nil {
		t.Fatal(err)
	}
	tx.Cancel()

	bc2 := buffercache.New(dev, 512, false, nil)
	ic2 := New(bc2, sb)
	got, err := ic2.Get(ip.Number())
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Core().Magic == types.DinodeMagic {
		t.Fatal("cancelled allocation is visible on the backing device")
	}
}

func TestMutateThenCancelRestoresInMemoryState(t *testing.T) {
	dev := newTestDevice(t, 8, 512)
	bc := buffercache.New(dev, 512, false, nil)
	sb := testSuperblock()
	ic := New(bc, sb)
	txm := transaction.New(bc, ic, noopAlloc{})

	tx1, _ := txm.Begin(interfaces.TxCreate)
	tx1.Reserve(interfaces.TxCreate)
	ip, err := ic.Alloc(tx1, types.ModeFmtReg|0644, -1)
	if err != nil {
		t.Fatal(err)
	}
	ip.Core().Size = 100
	if err := tx1.Commit(); err != nil {
		t.Fatal(err)
	}

	tx2, _ := txm.Begin(interfaces.TxSetattr)
	tx2.Reserve(interfaces.TxSetattr)
	got, err := ic.Get(ip.Number())
	if err != nil {
		t.Fatal(err)
	}
	tx2.JoinInode(got, interfaces.JoinDefault)
	got.Core().Size = 999999
	tx2.Cancel()

	if got.Core().Size != 100 {
		t.Fatalf("Size after cancel = %d, want reverted to 100", got.Core().Size)
	}
}
