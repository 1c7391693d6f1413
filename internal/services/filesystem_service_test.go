package services

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xfscore/xfs/internal/buffercache"
	"github.com/xfscore/xfs/internal/device"
	"github.com/xfscore/xfs/internal/interfaces"
	"github.com/xfscore/xfs/internal/managers/allocator"
	"github.com/xfscore/xfs/internal/managers/directory"
	"github.com/xfscore/xfs/internal/managers/inodecache"
	"github.com/xfscore/xfs/internal/managers/transaction"
	"github.com/xfscore/xfs/internal/types"
)

// fakeMount is a minimal interfaces.MountHandle built from real manager
// instances (not mocks), wired the way pkg/mount will wire a real
// mount — letting this package's tests exercise real transaction,
// directory, and allocator behavior end to end.
type fakeMount struct {
	sb       *types.Superblock
	buffers  interfaces.BufferCache
	inodes   interfaces.InodeCache
	dirs     interfaces.DirectoryEngine
	alloc    interfaces.Allocator
	txm      interfaces.TransactionManager
	readOnly bool
}

func (m *fakeMount) Superblock() *types.Superblock          { return m.sb }
func (m *fakeMount) BlockSize() uint32                      { return m.sb.BlockSize }
func (m *fakeMount) DirBlockSize() uint32                   { return m.sb.DirBlockSize() }
func (m *fakeMount) RootIno() types.Ino                      { return m.sb.RootIno }
func (m *fakeMount) IsReadOnly() bool                        { return m.readOnly }
func (m *fakeMount) HasFTYPE() bool                          { return m.sb.HasFTYPE() }
func (m *fakeMount) HasCRC() bool                            { return m.sb.HasCRC() }
func (m *fakeMount) Buffers() interfaces.BufferCache         { return m.buffers }
func (m *fakeMount) Inodes() interfaces.InodeCache           { return m.inodes }
func (m *fakeMount) Directories() interfaces.DirectoryEngine { return m.dirs }
func (m *fakeMount) Alloc() interfaces.Allocator             { return m.alloc }
func (m *fakeMount) Transactions() interfaces.TransactionManager { return m.txm }

func newTestDevice(t *testing.T, blocks int, blockSize uint32) *device.Device {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "xfsimg-*")
	require.NoError(t, err)
	require.NoError(t, f.Truncate(int64(blocks)*int64(blockSize)))
	path := f.Name()
	require.NoError(t, f.Close())
	dev, err := device.Open(path, blockSize, false)
	require.NoError(t, err)
	t.Cleanup(func() { dev.Close() })
	return dev
}

func newFixture(t *testing.T) (*FileSystemService, *fakeMount, interfaces.InodeRef) {
	t.Helper()
	dev := newTestDevice(t, 128, 512)
	bc := buffercache.New(dev, 512, false, nil)
	sb := &types.Superblock{
		BlockSize:  512,
		InodeSize:  256,
		InopBlock:  2,
		InopBlog:   1,
		AGBlocks:   128,
		AGBlklog:   7,
		AGCount:    1,
		VersionNum: types.SbVersion4,
		RootIno:    0,
	}
	ic := inodecache.New(bc, sb)
	al := allocator.New(sb, []interfaces.Extent{{Start: 0, Length: 16}})
	txm := transaction.New(bc, ic, al)
	eng := directory.New(bc, al, sb)
	mount := &fakeMount{sb: sb, buffers: bc, inodes: ic, dirs: eng, alloc: al, txm: txm}

	svc, err := New(mount)
	require.NoError(t, err)

	// Bootstrap the root directory as an empty shortform directory
	// whose parent is itself, the way mkfs.xfs initializes the root
	// inode. The cache's own allocator assigns whatever inode number it
	// assigns; sb.RootIno is then pointed at it, since nothing else has
	// claimed an inode yet in this fresh fixture.
	tx, err := txm.Begin(interfaces.TxMkdir)
	require.NoError(t, err)
	require.NoError(t, tx.Reserve(interfaces.TxMkdir))
	root, err := ic.Alloc(tx, types.ModeFmtDir|0o755, -1)
	require.NoError(t, err)
	sb.RootIno = root.Number()
	require.NoError(t, eng.InitEmpty(tx, root, root.Number()))
	root.Core().Nlink = 2
	tx.LogInode(root, interfaces.LogCore|interfaces.LogDData)
	require.NoError(t, tx.Commit())

	return svc, mount, root
}

func TestCreateThenLookupAndStat(t *testing.T) {
	svc, _, root := newFixture(t)
	cred := Credentials{UID: 1000, GID: 1000}

	child, err := svc.Create(root, "hello.txt", types.ModeFmtReg|0o644, 0, cred)
	require.NoError(t, err)

	st := svc.StatOf(child)
	assert.Equal(t, uint32(1), st.Nlink)
	assert.Equal(t, uint32(1000), st.UID)

	resolved, err := svc.resolve("/hello.txt")
	require.NoError(t, err)
	assert.Equal(t, child.Number(), resolved.Number())
}

func TestMkdirNestedAndResolve(t *testing.T) {
	svc, _, root := newFixture(t)
	cred := Credentials{}

	sub, err := svc.Mkdir(root, "sub", 0o755, cred)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), sub.Core().Nlink)
	assert.Equal(t, uint32(3), root.Core().Nlink)

	leaf, err := svc.Create(sub, "leaf.txt", types.ModeFmtReg|0o644, 0, cred)
	require.NoError(t, err)

	resolved, err := svc.resolve("/sub/leaf.txt")
	require.NoError(t, err)
	assert.Equal(t, leaf.Number(), resolved.Number())

	parent, name, err := svc.lookupParent("/sub/leaf.txt")
	require.NoError(t, err)
	assert.Equal(t, "leaf.txt", name)
	assert.Equal(t, sub.Number(), parent.Number())
}

func TestUnlinkRemovesEntryAndFreesAtZeroLinks(t *testing.T) {
	svc, _, root := newFixture(t)
	child, err := svc.Create(root, "f", types.ModeFmtReg|0o644, 0, Credentials{})
	require.NoError(t, err)
	childIno := child.Number()

	require.NoError(t, svc.Unlink(root, "f"))

	_, err = svc.resolve("/f")
	assert.Error(t, err)

	// Free does not zero the durable record (see DESIGN.md: no persisted
	// free-inode-slot tracking), but it does durably persist Nlink == 0,
	// so a stale re-read is at least recognizable as unlinked.
	fresh, err := svc.inodes().Get(childIno)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), fresh.Core().Nlink)
}

func TestRmdirRejectsNonEmpty(t *testing.T) {
	svc, _, root := newFixture(t)
	sub, err := svc.Mkdir(root, "sub", 0o755, Credentials{})
	require.NoError(t, err)
	_, err = svc.Create(sub, "f", types.ModeFmtReg|0o644, 0, Credentials{})
	require.NoError(t, err)

	err = svc.Rmdir(root, "sub")
	assert.Error(t, err)
}

func TestRmdirEmptySucceeds(t *testing.T) {
	svc, _, root := newFixture(t)
	_, err := svc.Mkdir(root, "sub", 0o755, Credentials{})
	require.NoError(t, err)

	require.NoError(t, svc.Rmdir(root, "sub"))
	_, err = svc.resolve("/sub")
	assert.Error(t, err)
}

func TestRenameMovesEntryAndRetargetsDotDot(t *testing.T) {
	svc, _, root := newFixture(t)
	a, err := svc.Mkdir(root, "a", 0o755, Credentials{})
	require.NoError(t, err)
	b, err := svc.Mkdir(root, "b", 0o755, Credentials{})
	require.NoError(t, err)
	child, err := svc.Mkdir(a, "child", 0o755, Credentials{})
	require.NoError(t, err)

	require.NoError(t, svc.Rename(a, "child", b, "child"))

	_, err = svc.resolve("/a/child")
	assert.Error(t, err)
	resolved, err := svc.resolve("/b/child")
	require.NoError(t, err)
	assert.Equal(t, child.Number(), resolved.Number())

	parentIno, _, err := svc.dirs().Lookup(child, "..")
	require.NoError(t, err)
	assert.Equal(t, b.Number(), parentIno)
}

func TestRenameRejectsMoveIntoOwnSubtree(t *testing.T) {
	svc, _, root := newFixture(t)
	a, err := svc.Mkdir(root, "a", 0o755, Credentials{})
	require.NoError(t, err)
	_, err = svc.Mkdir(a, "b", 0o755, Credentials{})
	require.NoError(t, err)

	err = svc.Rename(root, "a", a, "a-into-self")
	assert.Error(t, err)
}

func TestLinkIncrementsCountAndWriteReadRoundTrip(t *testing.T) {
	svc, _, root := newFixture(t)
	f, err := svc.Create(root, "f", types.ModeFmtReg|0o644, 0, Credentials{})
	require.NoError(t, err)

	require.NoError(t, svc.Link(f, root, "g"))
	assert.Equal(t, uint32(2), f.Core().Nlink)

	payload := []byte("hello, xfs")
	n, err := svc.Write(f, payload, 0)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)

	out := make([]byte, len(payload))
	n, err = svc.Read(f, out, 0)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)
	assert.Equal(t, payload, out)
}

func TestWriteAcrossBlockBoundary(t *testing.T) {
	svc, mount, root := newFixture(t)
	f, err := svc.Create(root, "big", types.ModeFmtReg|0o644, 0, Credentials{})
	require.NoError(t, err)

	blockSize := int(mount.BlockSize())
	payload := make([]byte, blockSize+100)
	for i := range payload {
		payload[i] = byte(i)
	}
	n, err := svc.Write(f, payload, 50)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)

	out := make([]byte, len(payload))
	n, err = svc.Read(f, out, 50)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)
	assert.Equal(t, payload, out)
}

func TestTruncateShrinksAndExtendsSparsely(t *testing.T) {
	svc, mount, root := newFixture(t)
	f, err := svc.Create(root, "t", types.ModeFmtReg|0o644, 0, Credentials{})
	require.NoError(t, err)

	blockSize := int64(mount.BlockSize())
	payload := make([]byte, blockSize*2)
	_, err = svc.Write(f, payload, 0)
	require.NoError(t, err)

	require.NoError(t, svc.Truncate(f, blockSize/2))
	assert.Equal(t, blockSize/2, int64(f.Core().Size))

	require.NoError(t, svc.Truncate(f, blockSize*4))
	assert.Equal(t, blockSize*4, int64(f.Core().Size))

	out := make([]byte, 16)
	n, err := svc.Read(f, out, blockSize*3)
	require.NoError(t, err)
	assert.Equal(t, 16, n)
	assert.Equal(t, make([]byte, 16), out, "sparse region reads back as zeros")
}

func TestSymlinkInlineAndReadlink(t *testing.T) {
	svc, _, root := newFixture(t)
	link, err := svc.Symlink(root, "l", "/target/path", Credentials{})
	require.NoError(t, err)

	target, err := svc.Readlink(link)
	require.NoError(t, err)
	assert.Equal(t, "/target/path", target)
}

func TestSetattrModePreservesFileType(t *testing.T) {
	svc, _, root := newFixture(t)
	f, err := svc.Create(root, "f", types.ModeFmtReg|0o644, 0, Credentials{})
	require.NoError(t, err)

	require.NoError(t, svc.SetattrMode(f, 0o600))
	assert.Equal(t, types.ModeFmtReg|0o600, f.Core().Mode)
}

func TestSetattrOwnerClearsSetuidOnChange(t *testing.T) {
	svc, _, root := newFixture(t)
	f, err := svc.Create(root, "f", types.ModeFmtReg|0o644|types.ModeISUID, 0, Credentials{})
	require.NoError(t, err)

	require.NoError(t, svc.SetattrOwner(f, 42, 42))
	assert.Equal(t, uint16(0), f.Core().Mode&types.ModeISUID)
}

func TestCreateOnReadOnlyMountFails(t *testing.T) {
	svc, mount, root := newFixture(t)
	mount.readOnly = true

	_, err := svc.Create(root, "f", types.ModeFmtReg|0o644, 0, Credentials{})
	assert.Error(t, err)
}
