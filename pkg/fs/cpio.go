package fs

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"slices"
	"strings"

	"github.com/cavaliergopher/cpio"
	"github.com/klauspost/compress/gzip"
	"github.com/maxdollinger/modinject/pkg/partition"
	"github.com/spf13/afero"
)

var (
	gzipMagic      = []byte{0x1f, 0x8b}
	lz4LegacyMagic = []byte{0x02, 0x21, 0x4c, 0x18}
)

// CpioFs holds a ramdisk archive in memory. Directories and regular files live
// in an afero tree; symlinks, fifos and sockets are kept as raw headers since
// the tree cannot represent them.
type CpioFs struct {
	part       partition.Name
	path       string
	compressed bool
	tree       afero.Fs
	headers    map[string]*cpio.Header
	special    map[string]*cpio.Header
	closed     bool
	logger     *slog.Logger
}

// NewCpioFs returns an empty ramdisk for part with no backing file.
func NewCpioFs(part partition.Name) *CpioFs {
	return &CpioFs{
		part:    part,
		tree:    afero.NewBasePathFs(afero.NewMemMapFs(), "/"),
		headers: make(map[string]*cpio.Header),
		special: make(map[string]*cpio.Header),
		logger:  slog.Default().With("partition", string(part)),
	}
}

// OpenCpio loads the ramdisk at filePath. Gzip compressed archives are
// decompressed and recompressed on Save.
func OpenCpio(part partition.Name, filePath string) (*CpioFs, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read ramdisk %s: %w", filePath, err)
	}

	var r io.Reader = bytes.NewReader(data)
	compressed := false
	switch {
	case bytes.HasPrefix(data, gzipMagic):
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("decompress ramdisk %s: %w", filePath, err)
		}
		defer gz.Close()
		r = gz
		compressed = true
	case bytes.HasPrefix(data, lz4LegacyMagic):
		return nil, fmt.Errorf("%w: lz4 legacy (%s)", ErrUnsupportedCompression, filePath)
	}

	c, err := ReadCpio(part, r)
	if err != nil {
		return nil, fmt.Errorf("load ramdisk %s: %w", filePath, err)
	}
	c.path = filePath
	c.compressed = compressed

	c.logger.Debug("loaded ramdisk", "path", filePath, "entries", len(c.headers), "gzip", compressed)
	return c, nil
}

// ReadCpio parses an uncompressed newc archive.
func ReadCpio(part partition.Name, r io.Reader) (*CpioFs, error) {
	c := NewCpioFs(part)
	reader := cpio.NewReader(r)

	for {
		hdr, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read cpio header: %w", err)
		}

		name := cleanPath(hdr.Name)
		if name == "" {
			continue
		}

		if err := c.loadEntry(name, hdr, reader); err != nil {
			return nil, fmt.Errorf("load entry %q: %w", hdr.Name, err)
		}
	}

	return c, nil
}

func (c *CpioFs) loadEntry(name string, hdr *cpio.Header, data io.Reader) error {
	if parent := path.Dir(name); parent != "." {
		if err := c.tree.MkdirAll(parent, 0o755); err != nil {
			return err
		}
	}

	saved := *hdr
	c.headers[name] = &saved
	mode := osMode(hdr.Mode)

	switch hdr.Mode & cpio.ModeType {
	case cpio.TypeDir:
		if err := c.tree.MkdirAll(name, mode); err != nil {
			return err
		}
		return c.tree.Chmod(name, mode)

	case cpio.TypeReg:
		f, err := c.tree.OpenFile(name, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
		if err != nil {
			return err
		}
		if _, err := io.Copy(f, data); err != nil {
			_ = f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
		return c.tree.Chmod(name, mode)

	case cpio.TypeSymlink, cpio.TypeFifo, cpio.TypeSocket:
		c.special[name] = &saved
		return nil

	default:
		// The newc writer does not carry rdev numbers, so device nodes
		// cannot round trip.
		return fmt.Errorf("%w: mode %s", ErrUnsupportedEntry, hdr.Mode)
	}
}

func (c *CpioFs) Partition() partition.Name {
	return c.part
}

func (c *CpioFs) Tree() afero.Fs {
	return c.tree
}

func (c *CpioFs) OpenFile(name string, flag int, perm os.FileMode) (io.WriteCloser, error) {
	if c.closed {
		return nil, ErrClosed
	}
	name = cleanPath(name)
	if name == "" {
		return nil, &os.PathError{Op: "open", Path: "/", Err: fs.ErrInvalid}
	}

	if err := c.checkComponents("open", path.Dir(name)); err != nil {
		return nil, err
	}
	if parent := path.Dir(name); parent != "." {
		info, err := c.tree.Stat(parent)
		if err != nil {
			return nil, &os.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
		}
		if !info.IsDir() {
			return nil, &os.PathError{Op: "open", Path: name, Err: ErrNotDirectory}
		}
	}

	// A regular file replaces whatever special entry had this name.
	if _, ok := c.special[name]; ok && flag&os.O_CREATE != 0 {
		delete(c.special, name)
		delete(c.headers, name)
	}

	existed, err := Exists(c.tree, name)
	if err != nil {
		return nil, err
	}

	f, err := c.tree.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	if !existed {
		if err := c.tree.Chmod(name, perm); err != nil {
			_ = f.Close()
			return nil, err
		}
	}

	return f, nil
}

func (c *CpioFs) Mkdir(name string, perm os.FileMode) error {
	if c.closed {
		return ErrClosed
	}
	name = cleanPath(name)
	if err := c.checkComponents("mkdir", path.Dir(name)); err != nil {
		return err
	}
	if _, ok := c.special[name]; ok {
		return &os.PathError{Op: "mkdir", Path: name, Err: fs.ErrExist}
	}
	if parent := path.Dir(name); parent != "." {
		if ok, err := Exists(c.tree, parent); err != nil || !ok {
			return &os.PathError{Op: "mkdir", Path: name, Err: fs.ErrNotExist}
		}
	}
	return mkdirOne(c.tree, name, perm)
}

func (c *CpioFs) MkdirAll(name string, perm os.FileMode) error {
	if c.closed {
		return ErrClosed
	}
	if err := c.checkComponents("mkdir", name); err != nil {
		return err
	}
	return mkdirAll(c.tree, name, perm, nil)
}

// checkComponents fails with ErrNotDirectory when name or one of its parents
// is a symlink or other special entry. Symlinks only live in c.special, so
// creating a directory there would shadow the link and drop it on save.
func (c *CpioFs) checkComponents(op, name string) error {
	name = cleanPath(name)
	if name == "" {
		return nil
	}

	var current string
	for _, part := range strings.Split(name, "/") {
		current = path.Join(current, part)
		if _, ok := c.special[current]; ok {
			return &os.PathError{Op: op, Path: current, Err: ErrNotDirectory}
		}
	}
	return nil
}

// Symlink adds a symbolic link entry. Ramdisks commonly carry these (for
// example init -> /system/bin/init) so modules may need to create them too.
func (c *CpioFs) Symlink(target, name string) error {
	if c.closed {
		return ErrClosed
	}
	name = cleanPath(name)
	if ok, err := Exists(c.tree, name); err != nil {
		return err
	} else if ok {
		return &os.PathError{Op: "symlink", Path: name, Err: fs.ErrExist}
	}

	hdr := &cpio.Header{
		Name:     name,
		Linkname: target,
		Mode:     cpio.TypeSymlink | 0o777,
		Links:    1,
	}
	c.headers[name] = hdr
	c.special[name] = hdr
	return nil
}

// Readlink returns the target of a symlink entry.
func (c *CpioFs) Readlink(name string) (string, error) {
	hdr, ok := c.special[cleanPath(name)]
	if !ok || hdr.Mode&cpio.ModeType != cpio.TypeSymlink {
		return "", &os.PathError{Op: "readlink", Path: name, Err: fs.ErrInvalid}
	}
	return hdr.Linkname, nil
}

// WriteArchive serializes the ramdisk as an uncompressed newc archive. Entries
// are written in lexical order so parents precede their children.
func (c *CpioFs) WriteArchive(w io.Writer) error {
	if c.closed {
		return ErrClosed
	}

	var names []string
	err := afero.Walk(c.tree, "/", func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if name := cleanPath(p); name != "" {
			names = append(names, name)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("walk ramdisk tree: %w", err)
	}

	for name := range c.special {
		if !slices.Contains(names, name) {
			names = append(names, name)
		}
	}
	slices.Sort(names)

	bw := bufio.NewWriter(w)
	writer := cpio.NewWriter(bw)
	for _, name := range names {
		if err := c.writeEntry(writer, name); err != nil {
			return fmt.Errorf("write entry %s: %w", name, err)
		}
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("write cpio trailer: %w", err)
	}
	return bw.Flush()
}

func (c *CpioFs) writeEntry(w *cpio.Writer, name string) error {
	if hdr, ok := c.special[name]; ok {
		if exists, _ := Exists(c.tree, name); !exists {
			out := *hdr
			out.Name = name
			out.Inode = 0
			out.Size = 0
			if out.Mode&cpio.ModeType == cpio.TypeSymlink {
				out.Size = int64(len(out.Linkname))
			}
			if err := w.WriteHeader(&out); err != nil {
				return err
			}
			if out.Size > 0 {
				_, err := io.WriteString(w, out.Linkname)
				return err
			}
			return nil
		}
	}

	info, err := c.tree.Stat(name)
	if err != nil {
		return err
	}

	out := &cpio.Header{Links: 1}
	if orig, ok := c.headers[name]; ok {
		out.Uid = orig.Uid
		out.Guid = orig.Guid
		out.ModTime = orig.ModTime
		out.Links = orig.Links
	}
	out.Name = name
	out.Mode = cpioMode(info.Mode())

	if info.IsDir() {
		out.Mode |= cpio.TypeDir
		return w.WriteHeader(out)
	}

	out.Mode |= cpio.TypeReg
	out.Size = info.Size()
	if out.Links < 1 {
		out.Links = 1
	}
	if err := w.WriteHeader(out); err != nil {
		return err
	}

	f, err := c.tree.Open(name)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = io.Copy(w, f)
	return err
}

// Save rewrites the backing file, recompressing when it was loaded from a
// gzip archive.
func (c *CpioFs) Save() error {
	if c.path == "" {
		return errors.New("ramdisk has no backing file")
	}

	var buf bytes.Buffer
	if c.compressed {
		gz, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
		if err != nil {
			return err
		}
		if err := c.WriteArchive(gz); err != nil {
			return err
		}
		if err := gz.Close(); err != nil {
			return fmt.Errorf("compress ramdisk: %w", err)
		}
	} else if err := c.WriteArchive(&buf); err != nil {
		return err
	}

	perm := os.FileMode(0o644)
	if info, err := os.Stat(c.path); err == nil {
		perm = info.Mode().Perm()
	}

	if err := WriteFileAtomic(c.path, buf.Bytes(), perm); err != nil {
		return fmt.Errorf("save ramdisk %s: %w", c.path, err)
	}

	c.logger.Info("saved ramdisk", "path", c.path, "size", buf.Len())
	return nil
}

// Close drops the in-memory archive. Unsaved changes are lost.
func (c *CpioFs) Close() error {
	c.closed = true
	c.tree = afero.NewReadOnlyFs(afero.NewMemMapFs())
	c.headers = nil
	c.special = nil
	return nil
}

func osMode(m cpio.FileMode) os.FileMode {
	mode := os.FileMode(m.Perm())
	if m&cpio.ModeSetuid != 0 {
		mode |= os.ModeSetuid
	}
	if m&cpio.ModeSetgid != 0 {
		mode |= os.ModeSetgid
	}
	if m&cpio.ModeSticky != 0 {
		mode |= os.ModeSticky
	}
	return mode
}

func cpioMode(m os.FileMode) cpio.FileMode {
	mode := cpio.FileMode(m.Perm())
	if m&os.ModeSetuid != 0 {
		mode |= cpio.ModeSetuid
	}
	if m&os.ModeSetgid != 0 {
		mode |= cpio.ModeSetgid
	}
	if m&os.ModeSticky != 0 {
		mode |= cpio.ModeSticky
	}
	return mode
}

var _ Handle = (*CpioFs)(nil)

func (c *CpioFs) String() string {
	if c.path == "" {
		return fmt.Sprintf("cpio(%s)", c.part)
	}
	return fmt.Sprintf("cpio(%s:%s)", c.part, c.path)
}
