// Package fs provides the filesystem handles modules write into.
//
// Two backends implement Filesystem:
//   - CpioFs, an in-memory view of a boot image ramdisk (newc cpio archive)
//   - ExtFs, a writable ext4 partition tree (extracted directory or loop mount)
//
// Handles are opened and saved by the injector. Modules only borrow them for
// the duration of a single Inject call.
package fs

import (
	"io"
	"os"

	"github.com/maxdollinger/modinject/pkg/partition"
	"github.com/spf13/afero"
)

// Filesystem is a mutable handle bound to exactly one partition image.
// Paths are slash separated and relative to the Android root: ramdisks and
// system-as-root system images map one to one, while every other ext
// partition exposes its image root under "<partition>/" (vendor/etc/... for a
// vendor image's etc/...).
type Filesystem interface {
	// Partition returns the partition this handle is bound to.
	Partition() partition.Name

	// OpenFile opens name for writing. With os.O_CREATE a missing file is
	// created with perm; existing files keep their mode.
	OpenFile(name string, flag int, perm os.FileMode) (io.WriteCloser, error)

	// Mkdir creates a single directory with perm.
	Mkdir(name string, perm os.FileMode) error

	// MkdirAll creates name and any missing parents with perm. Existing
	// directories are left untouched.
	MkdirAll(name string, perm os.FileMode) error

	// Tree exposes the native root for existence checks and reads.
	Tree() afero.Fs
}

// Handle is a Filesystem owned by the injector, which persists and releases it.
type Handle interface {
	Filesystem
	io.Closer

	// Save persists pending changes to the backing image.
	Save() error
}
