package fs

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/maxdollinger/modinject/pkg/partition"
	"github.com/spf13/afero"
	"golang.org/x/sys/unix"
)

const selinuxXattr = "security.selinux"

// Default contexts for new entries in loop mounted images. Extracted trees
// are labeled later by whatever repacks them, so they get none.
var defaultLabels = map[partition.Name]string{
	partition.System:    "u:object_r:system_file:s0",
	partition.SystemExt: "u:object_r:system_file:s0",
	partition.Product:   "u:object_r:system_file:s0",
	partition.Vendor:    "u:object_r:vendor_file:s0",
	partition.Odm:       "u:object_r:vendor_file:s0",
}

// ExtFs is a writable ext4 partition tree backed by a host directory holding
// the partition's image root (an extracted tree or a loop mount). Paths use
// the Android root view: a vendor handle answers to vendor/etc/... for the
// image's etc/..., while system images are system-as-root and map one to one.
type ExtFs struct {
	part   partition.Name
	root   string
	tree   afero.Fs
	label  string
	image  *Ext4Image
	closed bool
	logger *slog.Logger
}

type ExtOption func(*ExtFs)

// WithLabel sets the SELinux context written on every file and directory
// created through the handle.
func WithLabel(label string) ExtOption {
	return func(e *ExtFs) {
		e.label = label
	}
}

// NewExtFs wraps an existing directory laid out as part's image root.
func NewExtFs(part partition.Name, root string, opts ...ExtOption) *ExtFs {
	e := &ExtFs{
		part:   part,
		root:   root,
		tree:   newPartitionFs(afero.NewBasePathFs(afero.NewOsFs(), root), part),
		logger: slog.Default().With("partition", string(part)),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// OpenExt opens src for part. A directory is used as is; a regular file is
// treated as a raw ext4 image and loop mounted until Close.
func OpenExt(ctx context.Context, part partition.Name, src string) (*ExtFs, error) {
	info, err := os.Stat(src)
	if err != nil {
		return nil, fmt.Errorf("open %s partition: %w", part, err)
	}

	if info.IsDir() {
		return NewExtFs(part, src), nil
	}

	image := NewExt4Image(src)
	mountDir, err := image.Mount(ctx)
	if err != nil {
		return nil, fmt.Errorf("open %s partition: %w", part, err)
	}

	e := NewExtFs(part, mountDir, WithLabel(defaultLabels[part]))
	e.image = image
	e.logger.InfoContext(ctx, "mounted ext4 image", "image", src, "mountDir", mountDir)
	return e, nil
}

func (e *ExtFs) Partition() partition.Name {
	return e.part
}

func (e *ExtFs) Tree() afero.Fs {
	return e.tree
}

// Root returns the host directory backing the tree.
func (e *ExtFs) Root() string {
	return e.root
}

// HostPath returns where name lives on the host. Names outside the partition
// fail with ErrOutsidePartition.
func (e *ExtFs) HostPath(name string) (string, error) {
	rel, ok := stripPrefix(treePrefix(e.part), name)
	if !ok {
		return "", &os.PathError{Op: "resolve", Path: name, Err: ErrOutsidePartition}
	}
	return filepath.Join(e.root, filepath.FromSlash(rel)), nil
}

func (e *ExtFs) OpenFile(name string, flag int, perm os.FileMode) (io.WriteCloser, error) {
	if e.closed {
		return nil, ErrClosed
	}
	name = cleanPath(name)
	if name == "" {
		return nil, &os.PathError{Op: "open", Path: "/", Err: fs.ErrInvalid}
	}

	existed, err := Exists(e.tree, name)
	if err != nil {
		return nil, err
	}

	f, err := e.tree.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}

	if !existed {
		if err := e.tree.Chmod(name, perm); err != nil {
			_ = f.Close()
			return nil, err
		}
		if err := e.applyLabel(name); err != nil {
			_ = f.Close()
			return nil, err
		}
	}

	return f, nil
}

func (e *ExtFs) Mkdir(name string, perm os.FileMode) error {
	if e.closed {
		return ErrClosed
	}
	name = cleanPath(name)
	if err := mkdirOne(e.tree, name, perm); err != nil {
		return err
	}
	return e.applyLabel(name)
}

func (e *ExtFs) MkdirAll(name string, perm os.FileMode) error {
	if e.closed {
		return ErrClosed
	}
	return mkdirAll(e.tree, name, perm, e.applyLabel)
}

func (e *ExtFs) applyLabel(name string) error {
	if e.label == "" {
		return nil
	}
	full, err := e.HostPath(name)
	if err != nil {
		return err
	}
	if err := unix.Lsetxattr(full, selinuxXattr, []byte(e.label), 0); err != nil {
		return fmt.Errorf("label %s as %s: %w", name, e.label, err)
	}
	return nil
}

// Save flushes pending writes. Changes go straight to the tree, so only
// mounted images need a sync.
func (e *ExtFs) Save() error {
	if e.closed {
		return ErrClosed
	}
	if e.image != nil {
		unix.Sync()
	}
	return nil
}

// Close unmounts the image if OpenExt mounted one.
func (e *ExtFs) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true

	if e.image == nil {
		return nil
	}
	if err := e.image.Unmount(context.Background()); err != nil {
		return err
	}
	e.logger.Info("unmounted ext4 image", "image", e.image.Path())
	return nil
}

var _ Handle = (*ExtFs)(nil)
