package directory

import (
	"fmt"
	"os"
	"testing"

	"github.com/xfscore/xfs/internal/buffercache"
	"github.com/xfscore/xfs/internal/device"
	"github.com/xfscore/xfs/internal/interfaces"
	"github.com/xfscore/xfs/internal/managers/allocator"
	"github.com/xfscore/xfs/internal/managers/inodecache"
	"github.com/xfscore/xfs/internal/managers/transaction"
	"github.com/xfscore/xfs/internal/types"
	"github.com/xfscore/xfs/internal/xfserr"
)

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

// fixture wires a real buffer cache, inode cache, allocator, and
// transaction manager over one temp-file-backed device, reserving the low
// blocks of the (single) AG for inode storage so the allocator never
// hands out a block the inode cache's fixed inode-number arithmetic
// also claims (see DESIGN.md's note on this wiring requirement).
type fixture struct {
	bc  *buffercache.Cache
	ic  *inodecache.Cache
	al  *allocator.Allocator
	txm *transaction.Manager
	eng *Engine
	sb  *types.Superblock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dev := newTestDevice(t, 64, 512)
	bc := buffercache.New(dev, 512, false, nil)
	sb := &types.Superblock{
		BlockSize:  512,
		InodeSize:  256,
		InopBlock:  2,
		InopBlog:   1,
		AGBlocks:   64,
		AGBlklog:   6,
		AGCount:    1,
		VersionNum: types.SbVersion4,
		RootIno:    0,
	}
	ic := inodecache.New(bc, sb)
	al := allocator.New(sb, []interfaces.Extent{{Start: 0, Length: 16}})
	txm := transaction.New(bc, ic, al)
	eng := New(bc, al, sb)
	return &fixture{bc: bc, ic: ic, al: al, txm: txm, eng: eng, sb: sb}
}

func (f *fixture) newDir(t *testing.T, parent types.Ino) interfaces.InodeRef {
	t.Helper()
	tx, err := f.txm.Begin(interfaces.TxMkdir)
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.Reserve(interfaces.TxMkdir); err != nil {
		t.Fatal(err)
	}
	dir, err := f.ic.Alloc(tx, types.ModeFmtDir|0755, -1)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.eng.InitEmpty(tx, dir, parent); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	return dir
}

func (f *fixture) insert(t *testing.T, dir interfaces.InodeRef, name string, inum types.Ino) {
	t.Helper()
	tx, _ := f.txm.Begin(interfaces.TxCreate)
	if err := tx.Reserve(interfaces.TxCreate); err != nil {
		t.Fatal(err)
	}
	if err := f.eng.Insert(tx, dir, name, inum, types.FtypeReg); err != nil {
		tx.Cancel()
		t.Fatalf("Insert(%q) error = %v", name, err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
}

func TestInitEmptyThenLookupDotEntries(t *testing.T) {
	f := newFixture(t)
	dir := f.newDir(t, 0)

	if ino, ft, err := f.eng.Lookup(dir, "."); err != nil || ino != dir.Number() || ft != types.FtypeDir {
		t.Fatalf("Lookup(.) = (%d,%v,%v)", ino, ft, err)
	}
	if ino, _, err := f.eng.Lookup(dir, ".."); err != nil || ino != 0 {
		t.Fatalf("Lookup(..) = (%d,%v)", ino, err)
	}
	if _, _, err := f.eng.Lookup(dir, "missing"); !xfserr.Is(err, xfserr.ENOENT) {
		t.Fatalf("Lookup(missing) error = %v, want ENOENT", err)
	}
}

func TestInsertLookupRemoveShortform(t *testing.T) {
	f := newFixture(t)
	dir := f.newDir(t, 0)

	f.insert(t, dir, "a", 10)
	f.insert(t, dir, "b", 11)

	if ino, ft, err := f.eng.Lookup(dir, "a"); err != nil || ino != 10 || ft != types.FtypeReg {
		t.Fatalf("Lookup(a) = (%d,%v,%v)", ino, ft, err)
	}

	tx, _ := f.txm.Begin(interfaces.TxRemove)
	tx.Reserve(interfaces.TxRemove)
	if err := f.eng.Remove(tx, dir, "a", 10); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	if _, _, err := f.eng.Lookup(dir, "a"); !xfserr.Is(err, xfserr.ENOENT) {
		t.Fatalf("Lookup(a) after Remove error = %v, want ENOENT", err)
	}
	if ino, _, err := f.eng.Lookup(dir, "b"); err != nil || ino != 11 {
		t.Fatalf("Lookup(b) after removing a = (%d,%v)", ino, err)
	}
}

func TestInsertDuplicateRejected(t *testing.T) {
	f := newFixture(t)
	dir := f.newDir(t, 0)
	f.insert(t, dir, "dup", 5)

	tx, _ := f.txm.Begin(interfaces.TxCreate)
	tx.Reserve(interfaces.TxCreate)
	err := f.eng.Insert(tx, dir, "dup", 6, types.FtypeReg)
	tx.Cancel()
	if !xfserr.Is(err, xfserr.EEXIST) {
		t.Fatalf("Insert(dup) error = %v, want EEXIST", err)
	}
}

func TestPromotionToBlockAndLeaf(t *testing.T) {
	f := newFixture(t)
	dir := f.newDir(t, 0)

	// Shortform capacity at InodeSize=256 is small; enough entries with
	// longish names force promotion first to block form, then (once a
	// single 512-byte block is also exhausted) to leaf form.
	const n = 40
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("entry-number-%02d", i)
		f.insert(t, dir, name, types.Ino(100+i))
	}

	layout := layoutOf(dir.DataFork())
	if layout != types.DirLeaf {
		t.Fatalf("layout after %d inserts = %v, want DirLeaf", n, layout)
	}

	for i := 0; i < n; i++ {
		name := fmt.Sprintf("entry-number-%02d", i)
		ino, _, err := f.eng.Lookup(dir, name)
		if err != nil {
			t.Fatalf("Lookup(%q) error = %v", name, err)
		}
		if ino != types.Ino(100+i) {
			t.Fatalf("Lookup(%q) = %d, want %d", name, ino, 100+i)
		}
	}

	seen := map[string]bool{}
	err := f.eng.Iterate(dir, 0, func(e types.DirEntry) bool {
		seen[e.Name] = true
		return true
	})
	if err != nil {
		t.Fatalf("Iterate() error = %v", err)
	}
	if !seen["."] || !seen[".."] {
		t.Fatal("Iterate() did not emit dot entries")
	}
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("entry-number-%02d", i)
		if !seen[name] {
			t.Fatalf("Iterate() missed %q", name)
		}
	}
}

func TestReplaceRetargetsDotDot(t *testing.T) {
	f := newFixture(t)
	dir := f.newDir(t, 1)

	tx, _ := f.txm.Begin(interfaces.TxRename)
	tx.Reserve(interfaces.TxRename)
	if err := f.eng.Replace(tx, dir, "..", 99); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	if ino, _, err := f.eng.Lookup(dir, ".."); err != nil || ino != 99 {
		t.Fatalf("Lookup(..) after Replace = (%d,%v), want 99", ino, err)
	}
}

func TestCancelledInsertIsInvisible(t *testing.T) {
	f := newFixture(t)
	dir := f.newDir(t, 0)

	tx, _ := f.txm.Begin(interfaces.TxCreate)
	tx.Reserve(interfaces.TxCreate)
	if err := f.eng.Insert(tx, dir, "ghost", 42, types.FtypeReg); err != nil {
		t.Fatal(err)
	}
	tx.Cancel()

	if _, _, err := f.eng.Lookup(dir, "ghost"); !xfserr.Is(err, xfserr.ENOENT) {
		t.Fatalf("Lookup(ghost) after Cancel error = %v, want ENOENT", err)
	}
}
