package interfaces

import "github.com/xfscore/xfs/internal/types"

// DirectoryEngine implements name resolution, enumeration, insert,
// remove, and rename-within-a-directory across all three on-disk
// layouts (spec §4.5). Grounded on the teacher's btree node-reader +
// binary-searcher pair, generalized from one B-tree shape to XFS's
// three directory layouts.
type DirectoryEngine interface {
	// Lookup resolves name within dir, returning xfserr.ENOENT wrapped
	// if absent.
	Lookup(dir InodeRef, name string) (types.Ino, types.Ftype, error)
	// Iterate streams entries starting at fromCookie ("." and ".." are
	// always emitted first when fromCookie is 0). emit returning false
	// stops iteration early.
	Iterate(dir InodeRef, fromCookie uint64, emit func(types.DirEntry) bool) error
	// Insert adds (name -> inum) to dir, promoting the on-disk layout
	// if needed.
	Insert(tx Transaction, dir InodeRef, name string, inum types.Ino, ftype types.Ftype) error
	// Remove deletes name (which must currently target inum) from dir,
	// demoting the on-disk layout if sufficient entries are freed.
	Remove(tx Transaction, dir InodeRef, name string, inum types.Ino) error
	// Replace retargets name's entry to newInum (used by rename to
	// retarget ".." after a directory is moved).
	Replace(tx Transaction, dir InodeRef, name string, newInum types.Ino) error
	// InitEmpty populates a freshly allocated inode as an empty directory
	// whose only content is the parent reference, used by mkdir.
	InitEmpty(tx Transaction, dir InodeRef, parent types.Ino) error
}
