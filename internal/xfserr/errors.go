// Package xfserr defines the POSIX-flavored sentinel errors every public
// operation returns, wrapping the host's syscall.Errno so callers can
// errors.Is against the numeric values the running platform defines
// (spec: "the numeric values are those of the host system").
package xfserr

import (
	"errors"
	"syscall"
)

var (
	ENOENT       = syscall.ENOENT
	EEXIST       = syscall.EEXIST
	EISDIR       = syscall.EISDIR
	ENOTDIR      = syscall.ENOTDIR
	ENOTEMPTY    = syscall.ENOTEMPTY
	EIO          = syscall.EIO
	ENOMEM       = syscall.ENOMEM
	ENOSPC       = syscall.ENOSPC
	EROFS        = syscall.EROFS
	EPERM        = syscall.EPERM
	EMLINK       = syscall.EMLINK
	ENAMETOOLONG = syscall.ENAMETOOLONG
	EINVAL       = syscall.EINVAL
)

// Is reports whether err ultimately wraps the given sentinel errno.
func Is(err error, target syscall.Errno) bool {
	return errors.Is(err, target)
}
