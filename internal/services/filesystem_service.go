// Package services implements the namespace operations of spec §4.8:
// path resolution and every POSIX-shaped call (create, mkdir, unlink,
// rmdir, rename, link, symlink, setattr, truncate, read, write,
// readdir, readlink, fsync/sync) bracketed by transaction open/commit
// abort, composed from the mount's inode cache, directory engine,
// allocator, and transaction manager. Grounded on how the teacher's
// own filesystem_service.go sits above lower-layer readers: a service
// struct constructed from its dependencies, one exported method per
// call, errors wrapped with %w at every layer boundary.
package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/xfscore/xfs/internal/interfaces"
	"github.com/xfscore/xfs/internal/types"
	"github.com/xfscore/xfs/internal/xfserr"
)

// Credentials carries the caller identity namespace operations stamp
// onto newly created inodes and use for no other purpose (this engine
// does not enforce permission bits itself; spec §1 leaves access
// control to the outer wrapper).
type Credentials struct {
	UID uint32
	GID uint32
}

// Stat is the subset of an inode's core spec §4.8's stat exposes.
type Stat struct {
	Ino     types.Ino
	Mode    uint16
	Nlink   uint32
	UID     uint32
	GID     uint32
	Size    int64
	Blocks  uint64
	Atime   time.Time
	Mtime   time.Time
	Ctime   time.Time
}

// FileSystemService implements the namespace operations of spec §4.8
// over one mounted filesystem.
type FileSystemService struct {
	mount interfaces.MountHandle
}

// New constructs a namespace service over an already-mounted handle.
func New(mount interfaces.MountHandle) (*FileSystemService, error) {
	if mount == nil {
		return nil, fmt.Errorf("services: mount handle cannot be nil")
	}
	return &FileSystemService{mount: mount}, nil
}

func (s *FileSystemService) inodes() interfaces.InodeCache      { return s.mount.Inodes() }
func (s *FileSystemService) dirs() interfaces.DirectoryEngine   { return s.mount.Directories() }
func (s *FileSystemService) alloc() interfaces.Allocator        { return s.mount.Alloc() }
func (s *FileSystemService) buffers() interfaces.BufferCache    { return s.mount.Buffers() }
func (s *FileSystemService) txm() interfaces.TransactionManager { return s.mount.Transactions() }

func (s *FileSystemService) checkWritable() error {
	if s.mount.IsReadOnly() {
		return fmt.Errorf("services: mount is read-only: %w", xfserr.EROFS)
	}
	return nil
}

// splitPath breaks an absolute, "/"-separated byte string into its
// non-empty components; "." and ".." are left as ordinary components,
// resolved as directory entries at each step rather than collapsed at
// the string level (per spec §4.8: path resolution walks the actual
// directory tree, not a lexical normalization of the string).
func splitPath(path string) []string {
	parts := strings.Split(path, "/")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// resolve walks path from the mount's root inode, returning the final
// inode. The caller must Put the returned inode when done with it.
func (s *FileSystemService) resolve(path string) (interfaces.InodeRef, error) {
	cur, err := s.inodes().Get(s.mount.RootIno())
	if err != nil {
		return nil, fmt.Errorf("services: resolve root: %w", err)
	}
	for _, comp := range splitPath(path) {
		if cur.Core().FileType() != types.ModeFmtDir {
			s.inodes().Put(cur)
			return nil, fmt.Errorf("services: resolve %q: %w", path, xfserr.ENOTDIR)
		}
		next, _, err := s.dirs().Lookup(cur, comp)
		s.inodes().Put(cur)
		if err != nil {
			return nil, fmt.Errorf("services: resolve %q: %w", path, err)
		}
		cur, err = s.inodes().Get(next)
		if err != nil {
			return nil, fmt.Errorf("services: resolve %q: %w", path, err)
		}
	}
	return cur, nil
}

// Resolve exposes path resolution to callers that only need to read an
// inode by path (the cmd/ debug CLI's "ls"/"fsck", in particular) and
// have no reason to reach for one of the mutating namespace calls
// below. The caller must Put the returned inode when done with it.
func (s *FileSystemService) Resolve(path string) (interfaces.InodeRef, error) {
	return s.resolve(path)
}

// lookupParent resolves path up to its last component, returning the
// parent directory inode and the leaf name. The caller must Put the
// returned inode when done with it.
func (s *FileSystemService) lookupParent(path string) (interfaces.InodeRef, string, error) {
	parts := splitPath(path)
	if len(parts) == 0 {
		return nil, "", fmt.Errorf("services: lookup_parent %q: %w", path, xfserr.EINVAL)
	}
	leaf := parts[len(parts)-1]
	parentPath := "/" + strings.Join(parts[:len(parts)-1], "/")
	parent, err := s.resolve(parentPath)
	if err != nil {
		return nil, "", err
	}
	if parent.Core().FileType() != types.ModeFmtDir {
		s.inodes().Put(parent)
		return nil, "", fmt.Errorf("services: lookup_parent %q: %w", path, xfserr.ENOTDIR)
	}
	return parent, leaf, nil
}

func ftypeForMode(mode uint16) types.Ftype {
	switch mode & types.ModeFmtMask {
	case types.ModeFmtDir:
		return types.FtypeDir
	case types.ModeFmtReg:
		return types.FtypeReg
	case types.ModeFmtChr:
		return types.FtypeChr
	case types.ModeFmtBlk:
		return types.FtypeBlk
	case types.ModeFmtFifo:
		return types.FtypeFifo
	case types.ModeFmtSock:
		return types.FtypeSock
	case types.ModeFmtLnk:
		return types.FtypeSymlink
	default:
		return types.FtypeUnknown
	}
}

func nowTimespec() types.Timespec {
	now := time.Now()
	return types.Timespec{Sec: now.Unix(), Nsec: int32(now.Nanosecond())}
}

func touch(core *types.InodeCore, mtime, ctime bool) {
	ts := nowTimespec()
	if mtime {
		core.Mtime = ts
	}
	if ctime {
		core.Ctime = ts
	}
}

// Create implements spec §4.8 create.
func (s *FileSystemService) Create(parent interfaces.InodeRef, name string, mode uint16, rdev uint32, cred Credentials) (interfaces.InodeRef, error) {
	if err := s.checkWritable(); err != nil {
		return nil, err
	}
	if err := validateName(name); err != nil {
		return nil, err
	}
	if parent.Core().FileType() != types.ModeFmtDir {
		return nil, fmt.Errorf("services: create %q: %w", name, xfserr.ENOTDIR)
	}

	tx, err := s.txm().Begin(interfaces.TxCreate)
	if err != nil {
		return nil, err
	}
	if err := tx.Reserve(interfaces.TxCreate); err != nil {
		return nil, err
	}

	child, err := s.inodes().Alloc(tx, mode, -1)
	if err != nil {
		tx.Cancel()
		return nil, err
	}
	core := child.Core()
	core.UID, core.GID, core.Nlink = cred.UID, cred.GID, 1
	ts := nowTimespec()
	core.Atime, core.Mtime, core.Ctime = ts, ts, ts
	if core.FileType() == types.ModeFmtChr || core.FileType() == types.ModeFmtBlk {
		child.SetDataFork(&types.Fork{Format: types.DinodeFmtDev, Rdev: rdev})
	}
	tx.LogInode(child, interfaces.LogCore|interfaces.LogDev)

	if err := s.dirs().Insert(tx, parent, name, child.Number(), ftypeForMode(mode)); err != nil {
		tx.Cancel()
		return nil, err
	}
	tx.JoinInode(parent, interfaces.JoinDefault)
	touch(parent.Core(), true, true)
	tx.LogInode(parent, interfaces.LogCore)

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return child, nil
}

// Mkdir implements spec §4.8 mkdir.
func (s *FileSystemService) Mkdir(parent interfaces.InodeRef, name string, mode uint16, cred Credentials) (interfaces.InodeRef, error) {
	if err := s.checkWritable(); err != nil {
		return nil, err
	}
	if err := validateName(name); err != nil {
		return nil, err
	}
	if parent.Core().FileType() != types.ModeFmtDir {
		return nil, fmt.Errorf("services: mkdir %q: %w", name, xfserr.ENOTDIR)
	}

	tx, err := s.txm().Begin(interfaces.TxMkdir)
	if err != nil {
		return nil, err
	}
	if err := tx.Reserve(interfaces.TxMkdir); err != nil {
		return nil, err
	}

	dirMode := types.ModeFmtDir | (mode &^ types.ModeFmtMask)
	child, err := s.inodes().Alloc(tx, dirMode, -1)
	if err != nil {
		tx.Cancel()
		return nil, err
	}
	core := child.Core()
	core.UID, core.GID, core.Nlink = cred.UID, cred.GID, 2
	ts := nowTimespec()
	core.Atime, core.Mtime, core.Ctime = ts, ts, ts

	if err := s.dirs().InitEmpty(tx, child, parent.Number()); err != nil {
		tx.Cancel()
		return nil, err
	}
	tx.LogInode(child, interfaces.LogCore|interfaces.LogDData)

	if err := s.dirs().Insert(tx, parent, name, child.Number(), types.FtypeDir); err != nil {
		tx.Cancel()
		return nil, err
	}
	tx.JoinInode(parent, interfaces.JoinDefault)
	parent.Core().Nlink++
	touch(parent.Core(), true, true)
	tx.LogInode(parent, interfaces.LogCore)

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return child, nil
}

// freeInode frees the extents of ip's extent-format data and attribute
// forks via the allocator, then hands ip to the inode cache's Free,
// which zeroes its link count and drops it from the cache; the inode
// slot itself is not recorded as free. Called once a target's link
// count reaches zero.
func (s *FileSystemService) freeInode(tx interfaces.Transaction, ip interfaces.InodeRef) error {
	for _, fork := range []*types.Fork{ip.DataFork(), ip.AttrFork()} {
		if fork == nil || fork.Format != types.DinodeFmtExtents {
			continue
		}
		for _, ext := range fork.Extents {
			if err := s.alloc().Free(tx, interfaces.Extent{Start: ext.StartBlock, Length: ext.BlockCount}); err != nil {
				return err
			}
		}
	}
	return s.inodes().Free(tx, ip)
}

// Unlink implements spec §4.8 unlink.
func (s *FileSystemService) Unlink(parent interfaces.InodeRef, name string) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	tx, err := s.txm().Begin(interfaces.TxRemove)
	if err != nil {
		return err
	}
	if err := tx.Reserve(interfaces.TxRemove); err != nil {
		return err
	}

	targetIno, _, err := s.dirs().Lookup(parent, name)
	if err != nil {
		tx.Cancel()
		return err
	}
	target, err := s.inodes().Get(targetIno)
	if err != nil {
		tx.Cancel()
		return err
	}
	defer s.inodes().Put(target)
	if target.Core().FileType() == types.ModeFmtDir {
		tx.Cancel()
		return fmt.Errorf("services: unlink %q: %w", name, xfserr.EISDIR)
	}

	if err := s.dirs().Remove(tx, parent, name, targetIno); err != nil {
		tx.Cancel()
		return err
	}
	tx.JoinInode(target, interfaces.JoinDefault)
	target.Core().Nlink--
	touch(target.Core(), false, true)
	tx.LogInode(target, interfaces.LogCore)
	if target.Core().Nlink == 0 {
		if err := s.freeInode(tx, target); err != nil {
			tx.Cancel()
			return err
		}
	}

	tx.JoinInode(parent, interfaces.JoinDefault)
	touch(parent.Core(), true, true)
	tx.LogInode(parent, interfaces.LogCore)

	return tx.Commit()
}

// Rmdir implements spec §4.8 rmdir.
func (s *FileSystemService) Rmdir(parent interfaces.InodeRef, name string) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	tx, err := s.txm().Begin(interfaces.TxRemove)
	if err != nil {
		return err
	}
	if err := tx.Reserve(interfaces.TxRemove); err != nil {
		return err
	}

	targetIno, _, err := s.dirs().Lookup(parent, name)
	if err != nil {
		tx.Cancel()
		return err
	}
	target, err := s.inodes().Get(targetIno)
	if err != nil {
		tx.Cancel()
		return err
	}
	defer s.inodes().Put(target)
	if target.Core().FileType() != types.ModeFmtDir {
		tx.Cancel()
		return fmt.Errorf("services: rmdir %q: %w", name, xfserr.ENOTDIR)
	}
	empty, err := s.isEmptyDir(target)
	if err != nil {
		tx.Cancel()
		return err
	}
	if !empty {
		tx.Cancel()
		return fmt.Errorf("services: rmdir %q: %w", name, xfserr.ENOTEMPTY)
	}

	if err := s.dirs().Remove(tx, parent, name, targetIno); err != nil {
		tx.Cancel()
		return err
	}
	tx.JoinInode(parent, interfaces.JoinDefault)
	parent.Core().Nlink--
	touch(parent.Core(), true, true)
	tx.LogInode(parent, interfaces.LogCore)

	tx.JoinInode(target, interfaces.JoinDefault)
	target.Core().Nlink = 0
	if err := s.freeInode(tx, target); err != nil {
		tx.Cancel()
		return err
	}

	return tx.Commit()
}

func (s *FileSystemService) isEmptyDir(dir interfaces.InodeRef) (bool, error) {
	empty := true
	err := s.dirs().Iterate(dir, 2, func(e types.DirEntry) bool {
		empty = false
		return false
	})
	if err != nil {
		return false, err
	}
	return empty, nil
}

// isAncestorOrSelf reports whether candidate is ip or a directory
// ancestor of ip, walking ".." up to the root — used by rename's
// self-into-subtree loop check.
func (s *FileSystemService) isAncestorOrSelf(candidate, ip types.Ino) (bool, error) {
	cur := ip
	root := s.mount.RootIno()
	for {
		if cur == candidate {
			return true, nil
		}
		if cur == root {
			return false, nil
		}
		ref, err := s.inodes().Get(cur)
		if err != nil {
			return false, err
		}
		parentIno, _, err := s.dirs().Lookup(ref, "..")
		s.inodes().Put(ref)
		if err != nil {
			return false, err
		}
		cur = parentIno
	}
}

// Rename implements spec §4.8 rename.
func (s *FileSystemService) Rename(srcParent interfaces.InodeRef, srcName string, dstParent interfaces.InodeRef, dstName string) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	tx, err := s.txm().Begin(interfaces.TxRename)
	if err != nil {
		return err
	}
	if err := tx.Reserve(interfaces.TxRename); err != nil {
		return err
	}

	srcIno, srcFtype, err := s.dirs().Lookup(srcParent, srcName)
	if err != nil {
		tx.Cancel()
		return err
	}
	if srcIno == dstParent.Number() {
		tx.Cancel()
		return fmt.Errorf("services: rename: %w", xfserr.EINVAL)
	}
	if srcFtype == types.FtypeDir {
		loop, err := s.isAncestorOrSelf(srcIno, dstParent.Number())
		if err != nil {
			tx.Cancel()
			return err
		}
		if loop {
			tx.Cancel()
			return fmt.Errorf("services: rename: %w", xfserr.EINVAL)
		}
	}

	dstIno, dstFtype, lookupErr := s.dirs().Lookup(dstParent, dstName)
	dstExists := lookupErr == nil
	if dstExists && dstIno == srcIno && srcName == dstName && srcParent.Number() == dstParent.Number() {
		tx.Cancel()
		return nil // src == dst: no-op success
	}

	if dstExists {
		if (srcFtype == types.FtypeDir) != (dstFtype == types.FtypeDir) {
			tx.Cancel()
			if dstFtype == types.FtypeDir {
				return fmt.Errorf("services: rename: %w", xfserr.EISDIR)
			}
			return fmt.Errorf("services: rename: %w", xfserr.ENOTDIR)
		}
		dst, err := s.inodes().Get(dstIno)
		if err != nil {
			tx.Cancel()
			return err
		}
		if dstFtype == types.FtypeDir {
			empty, err := s.isEmptyDir(dst)
			if err != nil {
				s.inodes().Put(dst)
				tx.Cancel()
				return err
			}
			if !empty {
				s.inodes().Put(dst)
				tx.Cancel()
				return fmt.Errorf("services: rename: %w", xfserr.ENOTEMPTY)
			}
		}
		if err := s.dirs().Remove(tx, dstParent, dstName, dstIno); err != nil {
			s.inodes().Put(dst)
			tx.Cancel()
			return err
		}
		tx.JoinInode(dst, interfaces.JoinDefault)
		dst.Core().Nlink--
		if dstFtype == types.FtypeDir {
			dst.Core().Nlink = 0
			// Removing a subdirectory drops its parent's link count by
			// one, the reverse of Mkdir's increment: dstParent loses a
			// ".." pointing at it.
			tx.JoinInode(dstParent, interfaces.JoinDefault)
			dstParent.Core().Nlink--
		}
		if dst.Core().Nlink == 0 {
			if err := s.freeInode(tx, dst); err != nil {
				s.inodes().Put(dst)
				tx.Cancel()
				return err
			}
		}
		s.inodes().Put(dst)
	}

	if err := s.dirs().Insert(tx, dstParent, dstName, srcIno, srcFtype); err != nil {
		tx.Cancel()
		return err
	}
	if err := s.dirs().Remove(tx, srcParent, srcName, srcIno); err != nil {
		tx.Cancel()
		return err
	}

	if srcFtype == types.FtypeDir && srcParent.Number() != dstParent.Number() {
		src, err := s.inodes().Get(srcIno)
		if err != nil {
			tx.Cancel()
			return err
		}
		if err := s.dirs().Replace(tx, src, "..", dstParent.Number()); err != nil {
			s.inodes().Put(src)
			tx.Cancel()
			return err
		}
		s.inodes().Put(src)

		tx.JoinInode(srcParent, interfaces.JoinDefault)
		srcParent.Core().Nlink--
		tx.LogInode(srcParent, interfaces.LogCore)

		tx.JoinInode(dstParent, interfaces.JoinDefault)
		dstParent.Core().Nlink++
	}

	tx.JoinInode(srcParent, interfaces.JoinDefault)
	touch(srcParent.Core(), true, true)
	tx.LogInode(srcParent, interfaces.LogCore)
	tx.JoinInode(dstParent, interfaces.JoinDefault)
	touch(dstParent.Core(), true, true)
	tx.LogInode(dstParent, interfaces.LogCore)

	return tx.Commit()
}

// Link implements spec §4.8 link.
func (s *FileSystemService) Link(src interfaces.InodeRef, dstParent interfaces.InodeRef, dstName string) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	if src.Core().FileType() == types.ModeFmtDir {
		return fmt.Errorf("services: link %q: %w", dstName, xfserr.EPERM)
	}
	if src.Core().Nlink >= 0xFFFFFFFE {
		return fmt.Errorf("services: link %q: %w", dstName, xfserr.EMLINK)
	}
	if err := validateName(dstName); err != nil {
		return err
	}

	tx, err := s.txm().Begin(interfaces.TxLink)
	if err != nil {
		return err
	}
	if err := tx.Reserve(interfaces.TxLink); err != nil {
		return err
	}

	if err := s.dirs().Insert(tx, dstParent, dstName, src.Number(), ftypeForMode(src.Core().Mode)); err != nil {
		tx.Cancel()
		return err
	}
	tx.JoinInode(src, interfaces.JoinDefault)
	src.Core().Nlink++
	touch(src.Core(), false, true)
	tx.LogInode(src, interfaces.LogCore)

	tx.JoinInode(dstParent, interfaces.JoinDefault)
	touch(dstParent.Core(), true, true)
	tx.LogInode(dstParent, interfaces.LogCore)

	return tx.Commit()
}

const maxSymlinkTarget = 1024

// Symlink implements spec §4.8 symlink.
func (s *FileSystemService) Symlink(parent interfaces.InodeRef, name, target string, cred Credentials) (interfaces.InodeRef, error) {
	if err := s.checkWritable(); err != nil {
		return nil, err
	}
	if err := validateName(name); err != nil {
		return nil, err
	}
	if len(target) == 0 || len(target) > maxSymlinkTarget {
		return nil, fmt.Errorf("services: symlink %q: %w", name, xfserr.EINVAL)
	}

	tx, err := s.txm().Begin(interfaces.TxSymlink)
	if err != nil {
		return nil, err
	}
	if err := tx.Reserve(interfaces.TxSymlink); err != nil {
		return nil, err
	}

	child, err := s.inodes().Alloc(tx, types.ModeFmtLnk|0o777, -1)
	if err != nil {
		tx.Cancel()
		return nil, err
	}
	core := child.Core()
	core.UID, core.GID, core.Nlink = cred.UID, cred.GID, 1
	ts := nowTimespec()
	core.Atime, core.Mtime, core.Ctime = ts, ts, ts
	core.Size = types.Fsize(len(target))

	sb := s.mount.Superblock()
	inlineCap := int(sb.InodeSize) - forkOffsetEstimate(core, int(sb.InodeSize), sb.IsV5())
	if len(target) <= inlineCap {
		child.SetDataFork(&types.Fork{Format: types.DinodeFmtLocal, LocalData: []byte(target)})
		core.Format = types.DinodeFmtLocal
		tx.LogInode(child, interfaces.LogCore|interfaces.LogDData)
	} else {
		blocks := (uint32(len(target)) + sb.BlockSize - 1) / sb.BlockSize
		ext, err := s.alloc().Allocate(tx, 0, blocks)
		if err != nil {
			tx.Cancel()
			return nil, err
		}
		buf, err := s.buffers().GetPinned(tx, ext.Start, ext.Length)
		if err != nil {
			tx.Cancel()
			return nil, err
		}
		raw := buf.Bytes()
		copy(raw, target)
		if err := s.buffers().LogRange(tx, buf, 0, len(target)-1); err != nil {
			tx.Cancel()
			return nil, err
		}
		child.SetDataFork(&types.Fork{
			Format:  types.DinodeFmtExtents,
			Extents: []types.ExtentRecord{{StartOff: 0, StartBlock: ext.Start, BlockCount: ext.Length, State: types.ExtentNormal}},
		})
		core.Format = types.DinodeFmtExtents
		core.Nblocks = uint64(ext.Length)
		core.Nextents = 1
		tx.LogInode(child, interfaces.LogCore|interfaces.LogDExt)
	}

	if err := s.dirs().Insert(tx, parent, name, child.Number(), types.FtypeSymlink); err != nil {
		tx.Cancel()
		return nil, err
	}
	tx.JoinInode(parent, interfaces.JoinDefault)
	touch(parent.Core(), true, true)
	tx.LogInode(parent, interfaces.LogCore)

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return child, nil
}

// forkOffsetEstimate is a local, intentionally approximate stand-in
// for internal/parsers/inode.DataForkSize, kept local to avoid this
// package depending on the parser layer for a single-field estimate
// (the exact literal-area capacity; an attribute fork present via
// Forkoff shrinks it further, handled the same way the directory
// engine's forkCapacity does — see DESIGN.md).
func forkOffsetEstimate(core *types.InodeCore, inodeSize int, v5 bool) int {
	coreSize := types.DinodeCoreSizeV4
	if v5 {
		coreSize = types.DinodeCoreSizeV3
	}
	if core.Forkoff != 0 {
		return inodeSize - int(core.Forkoff)*8
	}
	return coreSize
}

// Readlink implements spec §4.8 readlink (reached via the stat/read
// surface rather than a named operation in §4.8's prose, which folds
// it into "read").
func (s *FileSystemService) Readlink(ip interfaces.InodeRef) (string, error) {
	if ip.Core().FileType() != types.ModeFmtLnk {
		return "", fmt.Errorf("services: readlink: %w", xfserr.EINVAL)
	}
	df := ip.DataFork()
	if df.Format == types.DinodeFmtLocal {
		return string(df.LocalData), nil
	}
	size := int(ip.Core().Size)
	out := make([]byte, 0, size)
	for _, ext := range df.Extents {
		buf, err := s.buffers().Get(ext.StartBlock, ext.BlockCount)
		if err != nil {
			return "", fmt.Errorf("services: readlink: %w", err)
		}
		raw := buf.Bytes()
		need := size - len(out)
		if need > len(raw) {
			need = len(raw)
		}
		out = append(out, raw[:need]...)
	}
	return string(out), nil
}

func validateName(name string) error {
	if name == "" || name == "." || name == ".." {
		return fmt.Errorf("services: invalid name %q: %w", name, xfserr.EINVAL)
	}
	if len(name) > 255 {
		return fmt.Errorf("services: name %q exceeds 255 bytes: %w", name, xfserr.ENAMETOOLONG)
	}
	return nil
}

// SetattrMode implements spec §4.8 setattr_mode: preserves the file-type
// bits of core.Mode, replacing only the permission/suid/sgid/sticky bits.
func (s *FileSystemService) SetattrMode(ip interfaces.InodeRef, mode uint16) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	tx, err := s.txm().Begin(interfaces.TxSetattr)
	if err != nil {
		return err
	}
	if err := tx.Reserve(interfaces.TxSetattr); err != nil {
		return err
	}
	tx.JoinInode(ip, interfaces.JoinDefault)
	core := ip.Core()
	core.Mode = core.FileType() | (mode &^ types.ModeFmtMask)
	touch(core, false, true)
	tx.LogInode(ip, interfaces.LogCore)
	return tx.Commit()
}

// SetattrOwner implements spec §4.8 setattr_owner: clears setuid/setgid
// whenever either uid or gid actually changes.
func (s *FileSystemService) SetattrOwner(ip interfaces.InodeRef, uid, gid uint32) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	tx, err := s.txm().Begin(interfaces.TxSetattr)
	if err != nil {
		return err
	}
	if err := tx.Reserve(interfaces.TxSetattr); err != nil {
		return err
	}
	tx.JoinInode(ip, interfaces.JoinDefault)
	core := ip.Core()
	if uid != core.UID || gid != core.GID {
		core.Mode &^= types.ModeISUID | types.ModeISGID
	}
	core.UID, core.GID = uid, gid
	touch(core, false, true)
	tx.LogInode(ip, interfaces.LogCore)
	return tx.Commit()
}

// TimeSpec carries one of setattr_time's three field values: a
// concrete time, "now" (Now true), or "omit" (Omit true).
type TimeSpec struct {
	Now   bool
	Omit  bool
	Value time.Time
}

func (ts TimeSpec) resolve(existing types.Timespec) types.Timespec {
	switch {
	case ts.Omit:
		return existing
	case ts.Now:
		return nowTimespec()
	default:
		return types.Timespec{Sec: ts.Value.Unix(), Nsec: int32(ts.Value.Nanosecond())}
	}
}

// SetattrTime implements spec §4.8 setattr_time.
func (s *FileSystemService) SetattrTime(ip interfaces.InodeRef, atime, mtime TimeSpec) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	tx, err := s.txm().Begin(interfaces.TxSetattr)
	if err != nil {
		return err
	}
	if err := tx.Reserve(interfaces.TxSetattr); err != nil {
		return err
	}
	tx.JoinInode(ip, interfaces.JoinDefault)
	core := ip.Core()
	core.Atime = atime.resolve(core.Atime)
	core.Mtime = mtime.resolve(core.Mtime)
	core.Ctime = nowTimespec()
	tx.LogInode(ip, interfaces.LogCore)
	return tx.Commit()
}

// Truncate implements spec §4.8 truncate.
func (s *FileSystemService) Truncate(ip interfaces.InodeRef, newSize int64) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	if ip.Core().FileType() != types.ModeFmtReg {
		return fmt.Errorf("services: truncate: %w", xfserr.EINVAL)
	}

	tx, err := s.txm().Begin(interfaces.TxTruncate)
	if err != nil {
		return err
	}
	if err := tx.Reserve(interfaces.TxTruncate); err != nil {
		return err
	}
	tx.JoinInode(ip, interfaces.JoinDefault)
	core := ip.Core()
	blockSize := int64(s.mount.BlockSize())

	if newSize < int64(core.Size) {
		cutoffFsb := uint64((newSize + blockSize - 1) / blockSize)
		df := ip.DataFork()
		if df.Format == types.DinodeFmtExtents {
			kept := df.Extents[:0]
			for _, ext := range df.Extents {
				if ext.StartOff >= cutoffFsb {
					if err := s.alloc().Free(tx, interfaces.Extent{Start: ext.StartBlock, Length: ext.BlockCount}); err != nil {
						tx.Cancel()
						return err
					}
					continue
				}
				kept = append(kept, ext)
			}
			ip.SetDataFork(&types.Fork{Format: types.DinodeFmtExtents, Extents: kept})
			var nblocks uint64
			for _, e := range kept {
				nblocks += uint64(e.BlockCount)
			}
			core.Nblocks = nblocks
			core.Nextents = uint32(len(kept))
		}
	}

	core.Size = types.Fsize(newSize)
	touch(core, true, true)
	tx.LogInode(ip, interfaces.LogCore|interfaces.LogDExt)
	return tx.Commit()
}

// mapBlock returns the extent covering file-block offset fsb in ip's
// data fork, or ok=false if the offset falls in a hole (this engine
// never produces holes on write, so a hole here means a read past a
// sparse extension).
func mapBlock(df *types.Fork, fsb uint64) (types.ExtentRecord, bool) {
	for _, ext := range df.Extents {
		if ext.Contains(fsb) {
			return ext, true
		}
	}
	return types.ExtentRecord{}, false
}

// ensureExtent returns the extent covering fsb, allocating and
// inserting a fresh one-block extent into ip's data fork, in
// file-offset order, if fsb falls in a hole.
func (s *FileSystemService) ensureExtent(tx interfaces.Transaction, ip interfaces.InodeRef, fsb uint64) (types.ExtentRecord, error) {
	df := ip.DataFork()
	if ext, ok := mapBlock(df, fsb); ok {
		return ext, nil
	}
	hint := types.Fsblock(0)
	if n := len(df.Extents); n > 0 {
		hint = df.Extents[n-1].StartBlock + types.Fsblock(df.Extents[n-1].BlockCount)
	}
	got, err := s.alloc().Allocate(tx, hint, 1)
	if err != nil {
		return types.ExtentRecord{}, err
	}
	newExt := types.ExtentRecord{StartOff: fsb, StartBlock: got.Start, BlockCount: got.Length, State: types.ExtentNormal}
	// Insert in file-offset order rather than appending blindly: a write
	// that fills a hole below an already-allocated extent must not
	// leave the list out of the strictly-increasing-by-offset order
	// validateExtentOrder (internal/parsers/inode/fork.go) requires on
	// the next decode.
	pos := len(df.Extents)
	for i, ext := range df.Extents {
		if ext.StartOff > fsb {
			pos = i
			break
		}
	}
	df.Extents = append(df.Extents, types.ExtentRecord{})
	copy(df.Extents[pos+1:], df.Extents[pos:])
	df.Extents[pos] = newExt
	ip.SetDataFork(df)
	ip.Core().Nextents = uint32(len(df.Extents))
	ip.Core().Nblocks += uint64(got.Length)
	return newExt, nil
}

// Write implements spec §4.8 write, one block-aligned chunk per
// transaction as the spec recommends.
func (s *FileSystemService) Write(ip interfaces.InodeRef, buf []byte, offset int64) (int, error) {
	if err := s.checkWritable(); err != nil {
		return 0, err
	}
	if ip.Core().FileType() != types.ModeFmtReg {
		return 0, fmt.Errorf("services: write: %w", xfserr.EINVAL)
	}
	blockSize := int64(s.mount.BlockSize())
	written := 0
	for written < len(buf) {
		chunkOffset := offset + int64(written)
		fsb := uint64(chunkOffset / blockSize)
		inBlock := int(chunkOffset % blockSize)
		chunkLen := int(blockSize) - inBlock
		if chunkLen > len(buf)-written {
			chunkLen = len(buf) - written
		}

		tx, err := s.txm().Begin(interfaces.TxWrite)
		if err != nil {
			if written > 0 {
				return written, nil
			}
			return 0, err
		}
		if err := tx.Reserve(interfaces.TxWrite); err != nil {
			if written > 0 {
				return written, nil
			}
			return 0, err
		}
		tx.JoinInode(ip, interfaces.JoinDefault)

		ext, err := s.ensureExtent(tx, ip, fsb)
		if err != nil {
			tx.Cancel()
			if written > 0 {
				return written, nil
			}
			return 0, err
		}
		blockInExt := uint32(fsb - ext.StartOff)
		addr := ext.StartBlock + types.Fsblock(blockInExt)
		bh, err := s.buffers().GetPinned(tx, addr, 1)
		if err != nil {
			tx.Cancel()
			if written > 0 {
				return written, nil
			}
			return 0, err
		}
		raw := bh.Bytes()
		copy(raw[inBlock:inBlock+chunkLen], buf[written:written+chunkLen])
		if err := s.buffers().LogRange(tx, bh, inBlock, inBlock+chunkLen-1); err != nil {
			tx.Cancel()
			if written > 0 {
				return written, nil
			}
			return 0, err
		}

		core := ip.Core()
		if chunkOffset+int64(chunkLen) > int64(core.Size) {
			core.Size = types.Fsize(chunkOffset + int64(chunkLen))
		}
		touch(core, true, true)
		tx.LogInode(ip, interfaces.LogCore|interfaces.LogDExt)

		if err := tx.Commit(); err != nil {
			if written > 0 {
				return written, nil
			}
			return 0, err
		}
		written += chunkLen
	}
	return written, nil
}

// Read implements spec §4.8 read (folded into the namespace API list
// at §6 alongside write; §4.8's prose covers write in detail and reads
// symmetrically via the same extent map).
func (s *FileSystemService) Read(ip interfaces.InodeRef, buf []byte, offset int64) (int, error) {
	if ip.Core().FileType() != types.ModeFmtReg {
		return 0, fmt.Errorf("services: read: %w", xfserr.EINVAL)
	}
	size := int64(ip.Core().Size)
	if offset >= size {
		return 0, nil
	}
	if offset+int64(len(buf)) > size {
		buf = buf[:size-offset]
	}
	blockSize := int64(s.mount.BlockSize())
	df := ip.DataFork()
	read := 0
	for read < len(buf) {
		chunkOffset := offset + int64(read)
		fsb := uint64(chunkOffset / blockSize)
		inBlock := int(chunkOffset % blockSize)
		chunkLen := int(blockSize) - inBlock
		if chunkLen > len(buf)-read {
			chunkLen = len(buf) - read
		}

		ext, ok := mapBlock(df, fsb)
		if !ok {
			// Hole: report zeros, the sparse-extension contract of truncate.
			for i := 0; i < chunkLen; i++ {
				buf[read+i] = 0
			}
			read += chunkLen
			continue
		}
		blockInExt := uint32(fsb - ext.StartOff)
		addr := ext.StartBlock + types.Fsblock(blockInExt)
		bh, err := s.buffers().Get(addr, 1)
		if err != nil {
			return read, fmt.Errorf("services: read: %w", err)
		}
		raw := bh.Bytes()
		copy(buf[read:read+chunkLen], raw[inBlock:inBlock+chunkLen])
		read += chunkLen
	}
	return read, nil
}

// Readdir implements spec §4.8 readdir via the directory engine's
// Iterate.
func (s *FileSystemService) Readdir(dir interfaces.InodeRef, fromCookie uint64, emit func(types.DirEntry) bool) error {
	if dir.Core().FileType() != types.ModeFmtDir {
		return fmt.Errorf("services: readdir: %w", xfserr.ENOTDIR)
	}
	return s.dirs().Iterate(dir, fromCookie, emit)
}

// StatOf implements spec §4.8 stat.
func (s *FileSystemService) StatOf(ip interfaces.InodeRef) Stat {
	core := ip.Core()
	return Stat{
		Ino:    ip.Number(),
		Mode:   core.Mode,
		Nlink:  core.Nlink,
		UID:    core.UID,
		GID:    core.GID,
		Size:   int64(core.Size),
		Blocks: core.Nblocks,
		Atime:  time.Unix(core.Atime.Sec, int64(core.Atime.Nsec)),
		Mtime:  time.Unix(core.Mtime.Sec, int64(core.Mtime.Nsec)),
		Ctime:  time.Unix(core.Ctime.Sec, int64(core.Ctime.Nsec)),
	}
}

// Fsync implements spec §4.8 fsync/sync: with this engine's immediate
// write-back commits, any already-committed transaction's data is
// already on the backing store, so this only needs to flush whatever
// the buffer cache still holds unpinned-but-dirty.
func (s *FileSystemService) Fsync(ip interfaces.InodeRef) error {
	return s.buffers().Flush()
}

// Sync implements spec §4.8 sync(mp): filesystem-wide equivalent of
// Fsync.
func (s *FileSystemService) Sync() error {
	return s.buffers().Flush()
}
