package fs

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/maxdollinger/modinject/pkg/partition"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtFsMkdirAllUsesExactMode(t *testing.T) {
	root := t.TempDir()
	e := NewExtFs(partition.System, root)

	require.NoError(t, e.MkdirAll("system/priv-app/app", 0o775))

	for _, dir := range []string{"system", "system/priv-app", "system/priv-app/app"} {
		info, err := os.Stat(filepath.Join(root, dir))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
		assert.Equal(t, os.FileMode(0o775), info.Mode().Perm(), dir)
	}
}

func TestExtFsMkdirAllKeepsExistingDirs(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "system"), 0o700))
	require.NoError(t, os.Chmod(filepath.Join(root, "system"), 0o700))

	e := NewExtFs(partition.System, root)
	require.NoError(t, e.MkdirAll("system/etc", 0o755))
	require.NoError(t, e.MkdirAll("system/etc", 0o755), "second call must be a no-op")

	info, err := os.Stat(filepath.Join(root, "system"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o700), info.Mode().Perm())
}

func TestExtFsMkdirAllThroughFile(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "system"), nil, 0o644))

	e := NewExtFs(partition.System, root)
	err := e.MkdirAll("system/etc", 0o755)
	require.ErrorIs(t, err, ErrNotDirectory)
}

func TestExtFsCreateAndAppend(t *testing.T) {
	root := t.TempDir()
	e := NewExtFs(partition.Vendor, root)
	require.NoError(t, e.MkdirAll("vendor/etc", 0o755))

	w, err := Create(e, "vendor/etc/test.txt", 0o640)
	require.NoError(t, err)
	_, err = io.WriteString(w, "hello")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	w, err = Append(e, "vendor/etc/test.txt")
	require.NoError(t, err)
	_, err = io.WriteString(w, " world")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	text, err := ReadText(e.Tree(), "/vendor/etc/test.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello world", text)

	info, err := os.Stat(filepath.Join(root, "etc/test.txt"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o640), info.Mode().Perm())

	_, err = os.Stat(filepath.Join(root, "vendor"))
	assert.True(t, os.IsNotExist(err), "the partition prefix must not appear inside the image")
}

func TestExtFsVendorReadsImageRootLayout(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "etc", "selinux"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "etc", "selinux", "vendor_sepolicy.cil"), []byte("(v)\n"), 0o644))

	e, err := OpenExt(context.Background(), partition.Vendor, root)
	require.NoError(t, err)

	text, err := ReadText(e.Tree(), "vendor/etc/selinux/vendor_sepolicy.cil")
	require.NoError(t, err)
	assert.Equal(t, "(v)\n", text)

	ok, err := Exists(e.Tree(), "vendor")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Exists(e.Tree(), "etc/selinux/vendor_sepolicy.cil")
	require.NoError(t, err)
	assert.False(t, ok, "names outside the partition do not exist")

	host, err := e.HostPath("/vendor/etc/selinux/vendor_sepolicy.cil")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "etc", "selinux", "vendor_sepolicy.cil"), host)
}

func TestExtFsRejectsWritesOutsidePartition(t *testing.T) {
	root := t.TempDir()
	e := NewExtFs(partition.Odm, root)

	_, err := Create(e, "vendor/etc/x", 0o644)
	require.ErrorIs(t, err, ErrOutsidePartition)
	require.ErrorIs(t, e.MkdirAll("etc/selinux", 0o755), ErrOutsidePartition)

	_, err = e.HostPath("system/etc")
	require.ErrorIs(t, err, ErrOutsidePartition)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestExtFsSystemIsSystemAsRoot(t *testing.T) {
	root := t.TempDir()
	e := NewExtFs(partition.System, root)

	require.NoError(t, e.MkdirAll("system/etc", 0o755))
	_, err := os.Stat(filepath.Join(root, "system", "etc"))
	require.NoError(t, err)
}

func TestExtFsCannotEscapeRoot(t *testing.T) {
	parent := t.TempDir()
	root := filepath.Join(parent, "root")
	require.NoError(t, os.Mkdir(root, 0o755))

	e := NewExtFs(partition.System, root)
	w, err := Create(e, "../escape.txt", 0o644)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	_, err = os.Stat(filepath.Join(parent, "escape.txt"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(root, "escape.txt"))
	assert.NoError(t, err)
}

func TestOpenExtDirectory(t *testing.T) {
	root := t.TempDir()

	e, err := OpenExt(context.Background(), partition.Odm, root)
	require.NoError(t, err)
	assert.Equal(t, partition.Odm, e.Partition())
	assert.Equal(t, root, e.Root())
	require.NoError(t, e.Save())
	require.NoError(t, e.Close())

	_, err = Create(e, "x", 0o644)
	require.ErrorIs(t, err, ErrClosed)
}

func TestOpenExtMissing(t *testing.T) {
	_, err := OpenExt(context.Background(), partition.System, filepath.Join(t.TempDir(), "nope.img"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestExt4ImageMountDirName(t *testing.T) {
	img := NewExt4Image("/images/system.img")
	name := img.mountDirName()

	assert.True(t, strings.HasPrefix(name, "system_"), name)
	assert.True(t, strings.HasSuffix(name, "_mount"), name)
	assert.NotEqual(t, name, img.mountDirName(), "mount dirs must be unique per call")
	assert.NoError(t, img.Unmount(context.Background()), "unmounting an unmounted image is a no-op")
}

func TestCleanPath(t *testing.T) {
	tests := map[string]string{
		"system/etc":        "system/etc",
		"/system/etc/":      "system/etc",
		"./a/../b":          "b",
		"../../x":           "x",
		"":                  "",
		"/":                 "",
		`system\etc\config`: "system/etc/config",
	}
	for in, want := range tests {
		assert.Equal(t, want, cleanPath(in), in)
	}
}
