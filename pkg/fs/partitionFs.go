package fs

import (
	"os"
	"strings"
	"time"

	"github.com/maxdollinger/modinject/pkg/partition"
	"github.com/spf13/afero"
)

// partitionFs presents an image root under a "<partition>/" prefix, so a
// mounted vendor.img holding etc/selinux/... answers to
// vendor/etc/selinux/... like it does on a running device. Names outside the
// prefix do not exist and writing them fails with ErrOutsidePartition.
type partitionFs struct {
	base   afero.Fs
	prefix string
}

// treePrefix returns the directory a partition's image root is mounted at in
// the Android root view. System images are system-as-root and already carry
// their system/ directory, so they get none.
func treePrefix(part partition.Name) string {
	if part == partition.System {
		return ""
	}
	return string(part)
}

func newPartitionFs(base afero.Fs, part partition.Name) afero.Fs {
	prefix := treePrefix(part)
	if prefix == "" {
		return base
	}
	return &partitionFs{base: base, prefix: prefix}
}

// stripPrefix maps an Android root relative name onto the image root. ok is
// false for names outside the partition.
func stripPrefix(prefix, name string) (string, bool) {
	name = cleanPath(name)
	if prefix == "" {
		return name, true
	}
	if name == prefix {
		return "/", true
	}
	if rest, found := strings.CutPrefix(name, prefix+"/"); found {
		return rest, true
	}
	return "", false
}

func (p *partitionFs) real(op, name string, write bool) (string, error) {
	rel, ok := stripPrefix(p.prefix, name)
	if ok {
		return rel, nil
	}
	if write {
		return "", &os.PathError{Op: op, Path: name, Err: ErrOutsidePartition}
	}
	return "", &os.PathError{Op: op, Path: name, Err: os.ErrNotExist}
}

func (p *partitionFs) Create(name string) (afero.File, error) {
	rel, err := p.real("create", name, true)
	if err != nil {
		return nil, err
	}
	return p.base.Create(rel)
}

func (p *partitionFs) Mkdir(name string, perm os.FileMode) error {
	rel, err := p.real("mkdir", name, true)
	if err != nil {
		return err
	}
	return p.base.Mkdir(rel, perm)
}

func (p *partitionFs) MkdirAll(name string, perm os.FileMode) error {
	rel, err := p.real("mkdir", name, true)
	if err != nil {
		return err
	}
	return p.base.MkdirAll(rel, perm)
}

func (p *partitionFs) Open(name string) (afero.File, error) {
	rel, err := p.real("open", name, false)
	if err != nil {
		return nil, err
	}
	return p.base.Open(rel)
}

func (p *partitionFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	rel, err := p.real("open", name, flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE) != 0)
	if err != nil {
		return nil, err
	}
	return p.base.OpenFile(rel, flag, perm)
}

func (p *partitionFs) Remove(name string) error {
	rel, err := p.real("remove", name, true)
	if err != nil {
		return err
	}
	return p.base.Remove(rel)
}

func (p *partitionFs) RemoveAll(name string) error {
	rel, err := p.real("remove", name, true)
	if err != nil {
		return err
	}
	return p.base.RemoveAll(rel)
}

func (p *partitionFs) Rename(oldname, newname string) error {
	oldRel, err := p.real("rename", oldname, true)
	if err != nil {
		return err
	}
	newRel, err := p.real("rename", newname, true)
	if err != nil {
		return err
	}
	return p.base.Rename(oldRel, newRel)
}

func (p *partitionFs) Stat(name string) (os.FileInfo, error) {
	rel, err := p.real("stat", name, false)
	if err != nil {
		return nil, err
	}
	return p.base.Stat(rel)
}

func (p *partitionFs) Name() string {
	return "PartitionFs(" + p.prefix + ")"
}

func (p *partitionFs) Chmod(name string, mode os.FileMode) error {
	rel, err := p.real("chmod", name, true)
	if err != nil {
		return err
	}
	return p.base.Chmod(rel, mode)
}

func (p *partitionFs) Chown(name string, uid, gid int) error {
	rel, err := p.real("chown", name, true)
	if err != nil {
		return err
	}
	return p.base.Chown(rel, uid, gid)
}

func (p *partitionFs) Chtimes(name string, atime, mtime time.Time) error {
	rel, err := p.real("chtimes", name, true)
	if err != nil {
		return err
	}
	return p.base.Chtimes(rel, atime, mtime)
}

var _ afero.Fs = (*partitionFs)(nil)
