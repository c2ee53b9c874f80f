package injector

import (
	"context"

	"github.com/maxdollinger/modinject/pkg/fs"
	"github.com/maxdollinger/modinject/pkg/partition"
)

// Opener turns configured image paths into filesystem handles.
type Opener interface {
	OpenBoot(ctx context.Context, part partition.Name, path string) (fs.Handle, error)
	OpenExt(ctx context.Context, part partition.Name, path string) (fs.Handle, error)
}

// ImageOpener opens ramdisk cpio files and ext4 images or extracted trees.
type ImageOpener struct{}

func (ImageOpener) OpenBoot(_ context.Context, part partition.Name, path string) (fs.Handle, error) {
	c, err := fs.OpenCpio(part, path)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (ImageOpener) OpenExt(ctx context.Context, part partition.Name, path string) (fs.Handle, error) {
	e, err := fs.OpenExt(ctx, part, path)
	if err != nil {
		return nil, err
	}
	return e, nil
}
