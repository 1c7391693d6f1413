package mount

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/xfscore/xfs/internal/interfaces"
	"github.com/xfscore/xfs/internal/parsers/superblock"
	"github.com/xfscore/xfs/internal/services"
	"github.com/xfscore/xfs/internal/types"
)

// buildImage writes a minimal externally-mkfs'd-looking image: a valid
// superblock at block 0 and nothing else (the root inode itself is
// bootstrapped by the test, the way a real mkfs.xfs would have done it
// before this engine ever saw the image).
func buildImage(t *testing.T) string {
	t.Helper()
	const (
		blockSize = 512
		agBlocks  = 128
		agCount   = 2
		logBlocks = 8
	)
	total := agBlocks*agCount + logBlocks

	sb := &types.Superblock{
		Magic:      types.SbMagic,
		BlockSize:  blockSize,
		DBlocks:    uint64(total),
		LogStart:   types.Fsblock(agBlocks * agCount),
		RootIno:    0,
		AGBlocks:   agBlocks,
		AGCount:    agCount,
		LogBlocks:  logBlocks,
		VersionNum: types.SbVersion4,
		InodeSize:  256,
		InopBlock:  2,
		InopBlog:   1,
		AGBlklog:   7,
	}
	raw := superblock.Encode(sb)

	path := filepath.Join(t.TempDir(), "xfsimg")
	image := make([]byte, total*blockSize)
	copy(image, raw)
	if err := os.WriteFile(path, image, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// bootstrapRoot allocates the root directory inode the way mkfs.xfs
// would have, the same sequence internal/services's own test fixture
// uses, now driven through a real Mount handle.
func bootstrapRoot(t *testing.T, mh interfaces.MountHandle) interfaces.InodeRef {
	t.Helper()
	tx, err := mh.Transactions().Begin(interfaces.TxMkdir)
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.Reserve(interfaces.TxMkdir); err != nil {
		t.Fatal(err)
	}
	root, err := mh.Inodes().Alloc(tx, types.ModeFmtDir|0o755, -1)
	if err != nil {
		t.Fatal(err)
	}
	mh.Superblock().RootIno = root.Number()
	if err := mh.Directories().InitEmpty(tx, root, root.Number()); err != nil {
		t.Fatal(err)
	}
	root.Core().Nlink = 2
	tx.LogInode(root, interfaces.LogCore|interfaces.LogDData)
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	return root
}

func TestMountReadsSuperblockAndWiresManagers(t *testing.T) {
	path := buildImage(t)

	mh, err := Mount(path, Options{ReadOnly: false})
	if err != nil {
		t.Fatalf("Mount() error = %v", err)
	}
	if mh.BlockSize() != 512 {
		t.Fatalf("BlockSize() = %d, want 512", mh.BlockSize())
	}
	if mh.IsReadOnly() {
		t.Fatal("IsReadOnly() = true for a read-write mount")
	}

	root := bootstrapRoot(t, mh)

	svc, err := services.New(mh)
	if err != nil {
		t.Fatal(err)
	}
	child, err := svc.Create(root, "hello.txt", types.ModeFmtReg|0o644, 0, services.Credentials{})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	payload := []byte("mounted end to end")
	if n, err := svc.Write(child, payload, 0); err != nil || n != len(payload) {
		t.Fatalf("Write() = (%d, %v)", n, err)
	}
	out := make([]byte, len(payload))
	if n, err := svc.Read(child, out, 0); err != nil || n != len(payload) || string(out) != string(payload) {
		t.Fatalf("Read() = (%d, %v, %q)", n, err, out)
	}

	if err := Unmount(mh); err != nil {
		t.Fatalf("Unmount() error = %v", err)
	}

	// Reopen independently and confirm the rewritten superblock carries
	// the root inode number this session actually bootstrapped.
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	sb, err := superblock.Decode(raw[:superblock.MinSize])
	if err != nil {
		t.Fatal(err)
	}
	if sb.RootIno != root.Number() {
		t.Fatalf("reopened superblock RootIno = %d, want %d", sb.RootIno, root.Number())
	}
}

func TestMountRejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage")
	if err := os.WriteFile(path, make([]byte, 4096), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Mount(path, Options{ReadOnly: true}); err == nil {
		t.Fatal("Mount() on an all-zero image should fail validation")
	}
}

func TestUnmountIsNoopOnReadOnlyMount(t *testing.T) {
	path := buildImage(t)
	mh, err := Mount(path, Options{ReadOnly: true})
	if err != nil {
		t.Fatal(err)
	}
	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := Unmount(mh); err != nil {
		t.Fatalf("Unmount() on a read-only mount returned %v, want nil", err)
	}
	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(before) != string(after) {
		t.Fatal("Unmount() wrote to a read-only-mounted image")
	}
}
