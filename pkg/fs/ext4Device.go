package fs

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Ext4Image is a raw ext4 partition image that is loop mounted for writing.
type Ext4Image struct {
	path     string
	mountDir string
}

func NewExt4Image(path string) *Ext4Image {
	return &Ext4Image{path: path}
}

func (d *Ext4Image) Path() string {
	return d.path
}

// MountDir returns the current mount point, empty when not mounted.
func (d *Ext4Image) MountDir() string {
	return d.mountDir
}

// Mount loop mounts the image read-write under a fresh directory in the
// system temp dir and returns that directory.
func (d *Ext4Image) Mount(ctx context.Context) (string, error) {
	if d.mountDir != "" {
		return d.mountDir, nil
	}

	mountDir := filepath.Join(os.TempDir(), d.mountDirName())
	if err := os.Mkdir(mountDir, 0o755); err != nil {
		return "", fmt.Errorf("error creating ext4 mountdir: %w", err)
	}

	if err := privileged(ctx, "mount", "-t", "ext4", "-o", "loop,rw", d.path, mountDir); err != nil {
		_ = os.Remove(mountDir)
		return "", fmt.Errorf("error mounting ext4 image %s to dir %s: %w", d.path, mountDir, err)
	}

	d.mountDir = mountDir
	return mountDir, nil
}

func (d *Ext4Image) Unmount(ctx context.Context) error {
	// nothing mounted, nothing to do
	if d.mountDir == "" {
		return nil
	}

	if err := privileged(ctx, "umount", d.mountDir); err != nil {
		return fmt.Errorf("umounting ext4 image from %s: %w", d.mountDir, err)
	}

	if err := os.RemoveAll(d.mountDir); err != nil {
		return fmt.Errorf("removing mountdir %s: %w", d.mountDir, err)
	}

	d.mountDir = ""
	return nil
}

func (d *Ext4Image) mountDirName() string {
	fileName := filepath.Base(d.path)
	ext := filepath.Ext(fileName)

	return strings.TrimSuffix(fileName, ext) + "_" + uuid.NewString()[:8] + "_mount"
}

// privileged runs a mount helper, going through sudo when not already root.
func privileged(ctx context.Context, name string, args ...string) error {
	if os.Geteuid() != 0 {
		args = append([]string{name}, args...)
		name = "sudo"
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%w: %s", err, msg)
		}
		return err
	}
	return nil
}
