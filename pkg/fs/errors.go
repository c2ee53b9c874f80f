package fs

import "errors"

var (
	ErrNotDirectory           = errors.New("path component is not a directory")
	ErrUnsupportedCompression = errors.New("unsupported ramdisk compression")
	ErrUnsupportedEntry       = errors.New("unsupported cpio entry type")
	ErrClosed                 = errors.New("filesystem handle is closed")
	ErrOutsidePartition       = errors.New("path is outside the partition")
)
