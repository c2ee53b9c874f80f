package module

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/maxdollinger/modinject/pkg/fs"
)

const (
	DefaultFileMode   os.FileMode = 0o644
	DefaultParentMode os.FileMode = 0o755
)

type ExtractOptions struct {
	Mode       os.FileMode // mode of the created file, DefaultFileMode when zero
	ParentMode os.FileMode // mode of created parents, DefaultParentMode when zero
	Output     string      // destination path, the entry name when empty
}

// ZipExtract copies the entry name from zr into dst. Missing parents are
// created; an existing destination is truncated. A failed copy leaves the
// partial file in place.
func ZipExtract(zr *zip.Reader, name string, dst fs.Filesystem, opts ExtractOptions) error {
	entry, err := lookup(zr, name)
	if err != nil {
		return err
	}
	return extractEntry(entry, dst, opts)
}

// ZipExtractPrefix extracts every file below prefix, keeping the layout
// relative to the archive root. Directory entries are skipped since parents
// are created on demand. It returns the extracted output paths.
func ZipExtractPrefix(zr *zip.Reader, prefix string, dst fs.Filesystem, opts ExtractOptions) ([]string, error) {
	prefix = strings.TrimSuffix(prefix, "/") + "/"
	outRoot := opts.Output

	var written []string
	for _, entry := range zr.File {
		if !strings.HasPrefix(entry.Name, prefix) || entry.FileInfo().IsDir() {
			continue
		}

		entryOpts := opts
		entryOpts.Output = ""
		if outRoot != "" {
			entryOpts.Output = path.Join(outRoot, strings.TrimPrefix(entry.Name, prefix))
		}

		if err := extractEntry(entry, dst, entryOpts); err != nil {
			return written, err
		}
		written = append(written, outputPath(entry.Name, entryOpts.Output))
	}

	if len(written) == 0 {
		return nil, fmt.Errorf("%w: no files below %s", ErrEntryNotFound, prefix)
	}
	return written, nil
}

// ReadEntry returns the full contents of a zip entry.
func ReadEntry(zr *zip.Reader, name string) ([]byte, error) {
	entry, err := lookup(zr, name)
	if err != nil {
		return nil, err
	}

	rc, err := entry.Open()
	if err != nil {
		return nil, fmt.Errorf("open zip entry %s: %w", name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read zip entry %s: %w", name, err)
	}
	return data, nil
}

func lookup(zr *zip.Reader, name string) (*zip.File, error) {
	for _, f := range zr.File {
		if f.Name == name {
			return f, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, name)
}

func extractEntry(entry *zip.File, dst fs.Filesystem, opts ExtractOptions) error {
	if opts.Mode == 0 {
		opts.Mode = DefaultFileMode
	}
	if opts.ParentMode == 0 {
		opts.ParentMode = DefaultParentMode
	}
	out := outputPath(entry.Name, opts.Output)

	if parent := path.Dir(out); parent != "." && parent != "/" {
		if err := dst.MkdirAll(parent, opts.ParentMode); err != nil {
			return fmt.Errorf("create parent of %s: %w", out, err)
		}
	}

	rc, err := entry.Open()
	if err != nil {
		return fmt.Errorf("open zip entry %s: %w", entry.Name, err)
	}
	defer rc.Close()

	w, err := fs.Create(dst, out, opts.Mode)
	if err != nil {
		return fmt.Errorf("create %s: %w", out, err)
	}

	if _, err := io.Copy(w, rc); err != nil {
		_ = w.Close()
		return fmt.Errorf("extract %s to %s: %w", entry.Name, out, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close %s: %w", out, err)
	}
	return nil
}

func outputPath(name, output string) string {
	if output != "" {
		return path.Clean(output)
	}
	return path.Clean(name)
}
