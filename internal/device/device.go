// Package device implements the block device abstraction: a named
// byte-addressable backing store (regular file or raw device) exposing
// byte-offset reads/writes and a flush. Grounded on the teacher's
// internal/device DMG device (os.File-backed, stat-on-open, offset
// reads/writes) generalized from a DMG container to a raw XFS image or
// device node - no container offset, no format auto-detection.
package device

import (
	"fmt"
	"os"

	"github.com/xfscore/xfs/internal/xfserr"
)

// Device is a fixed-block-size byte-addressable backing store.
type Device struct {
	file      *os.File
	path      string
	size      int64
	blockSize uint32
	readOnly  bool
}

// Open opens path as a block device. readOnly governs whether Write*
// methods are permitted; BlockSize must already be known (it is supplied
// by the caller after a first 512-byte probe read, see pkg/mount).
func Open(path string, blockSize uint32, readOnly bool) (*Device, error) {
	flag := os.O_RDWR
	if readOnly {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, fmt.Errorf("device: open %s: %w", path, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("device: stat %s: %w", path, err)
	}
	return &Device{file: f, path: path, size: st.Size(), blockSize: blockSize, readOnly: readOnly}, nil
}

// Path returns the backing store's filesystem path.
func (d *Device) Path() string { return d.path }

// Size returns the total addressable size of the device, in bytes.
func (d *Device) Size() int64 { return d.size }

// IsReadOnly reports whether the device rejects writes.
func (d *Device) IsReadOnly() bool { return d.readOnly }

// SetBlockSize updates the recorded block size once the superblock has
// been read and the true geometry is known. ReadAt and WriteAt do not
// check offsets or lengths for alignment against it.
func (d *Device) SetBlockSize(bs uint32) { d.blockSize = bs }

// ReadAt reads length bytes starting at byte offset off.
func (d *Device) ReadAt(off int64, length int) ([]byte, error) {
	if off < 0 || off+int64(length) > d.size {
		return nil, fmt.Errorf("device: read [%d,%d) out of range (size %d): %w", off, off+int64(length), d.size, xfserr.EIO)
	}
	buf := make([]byte, length)
	if _, err := d.file.ReadAt(buf, off); err != nil {
		return nil, fmt.Errorf("device: read at %d: %w", off, xfserr.EIO)
	}
	return buf, nil
}

// WriteAt writes data at byte offset off.
func (d *Device) WriteAt(off int64, data []byte) error {
	if d.readOnly {
		return fmt.Errorf("device: write to read-only device: %w", xfserr.EROFS)
	}
	if off < 0 || off+int64(len(data)) > d.size {
		return fmt.Errorf("device: write [%d,%d) out of range (size %d): %w", off, off+int64(len(data)), d.size, xfserr.EIO)
	}
	if _, err := d.file.WriteAt(data, off); err != nil {
		return fmt.Errorf("device: write at %d: %w", off, xfserr.EIO)
	}
	return nil
}

// Flush forces any buffered writes to stable storage.
func (d *Device) Flush() error {
	if d.readOnly {
		return nil
	}
	if err := d.file.Sync(); err != nil {
		return fmt.Errorf("device: sync %s: %w", d.path, xfserr.EIO)
	}
	return nil
}

// Close releases the underlying file handle.
func (d *Device) Close() error {
	return d.file.Close()
}
