package sepolicy

import (
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"testing"

	"github.com/maxdollinger/modinject/pkg/fs"
	"github.com/maxdollinger/modinject/pkg/partition"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTree returns an ext handle for p backed by a temp dir. files are
// written through the handle, so names use the Android root view.
func newTree(t *testing.T, p partition.Name, files map[string]string) *fs.ExtFs {
	t.Helper()

	e := fs.NewExtFs(p, t.TempDir())
	for name, content := range files {
		require.NoError(t, e.MkdirAll(path.Dir(name), 0o755))
		w, err := fs.Create(e, name, 0o644)
		require.NoError(t, err)
		_, err = io.WriteString(w, content)
		require.NoError(t, err)
		require.NoError(t, w.Close())
	}
	return e
}

func readFile(t *testing.T, e *fs.ExtFs, name string) string {
	t.Helper()

	host, err := e.HostPath(name)
	require.NoError(t, err)
	data, err := os.ReadFile(host)
	require.NoError(t, err)
	return string(data)
}

func handles(trees ...*fs.ExtFs) partition.Map[fs.Filesystem] {
	m := partition.NewMap[fs.Filesystem]()
	for _, tree := range trees {
		m.Set(tree.Partition(), tree)
	}
	return m
}

const vendorCIL = "(typeattributeset vendor_file_type (vendor_firmware_file))\n"

func TestAppendSeappContextsKeepsPriorBytes(t *testing.T) {
	prior := "user=system seinfo=platform domain=system_app type=system_app_data_file\n"
	system := newTree(t, partition.System, map[string]string{PlatSeappContexts: prior})

	err := AppendSeappContexts(context.Background(), []byte("foo:bar:baz"), handles(system), false)
	require.NoError(t, err)

	assert.Equal(t, prior+"foo:bar:baz\n", readFile(t, system, PlatSeappContexts))
}

func TestAppendSeappContextsIsNotDeduplicated(t *testing.T) {
	system := newTree(t, partition.System, map[string]string{PlatSeappContexts: ""})
	ext := handles(system)

	require.NoError(t, AppendSeappContexts(context.Background(), []byte("a"), ext, false))
	require.NoError(t, AppendSeappContexts(context.Background(), []byte("a"), ext, false))

	assert.Equal(t, "a\na\n", readFile(t, system, PlatSeappContexts))
}

func TestAppendSeappContextsRequiresSystem(t *testing.T) {
	vendor := newTree(t, partition.Vendor, nil)

	err := AppendSeappContexts(context.Background(), []byte("x"), handles(vendor), true)
	require.ErrorIs(t, err, partition.ErrMissingPartition)
}

func TestAppendSeappContextsCompatible(t *testing.T) {
	vendorSeapp := SeappContextsPath(partition.Vendor)

	tests := []struct {
		name       string
		compatible bool
		withOdm    bool
		odmSeapp   bool
		wantVendor string
		wantOdm    string
	}{
		{name: "disabled", compatible: false, wantVendor: "v\n"},
		{name: "enabled", compatible: true, wantVendor: "v\nfrag\n"},
		{name: "enabled without odm file", compatible: true, withOdm: true, wantVendor: "v\nfrag\n"},
		{name: "enabled with odm file", compatible: true, withOdm: true, odmSeapp: true, wantVendor: "v\nfrag\n", wantOdm: "o\nfrag\n"},
		{name: "disabled with odm file", compatible: false, withOdm: true, odmSeapp: true, wantVendor: "v\n", wantOdm: "o\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			system := newTree(t, partition.System, map[string]string{PlatSeappContexts: "p\n"})
			vendor := newTree(t, partition.Vendor, map[string]string{vendorSeapp: "v\n"})
			trees := []*fs.ExtFs{system, vendor}
			var odm *fs.ExtFs
			if tt.withOdm {
				files := map[string]string{"odm/etc/build.prop": ""}
				if tt.odmSeapp {
					files[SeappContextsPath(partition.Odm)] = "o\n"
				}
				odm = newTree(t, partition.Odm, files)
				trees = append(trees, odm)
			}

			err := AppendSeappContexts(context.Background(), []byte("frag"), handles(trees...), tt.compatible)
			require.NoError(t, err)

			assert.Equal(t, "p\nfrag\n", readFile(t, system, PlatSeappContexts))
			assert.Equal(t, tt.wantVendor, readFile(t, vendor, vendorSeapp))
			if tt.odmSeapp {
				assert.Equal(t, tt.wantOdm, readFile(t, odm, SeappContextsPath(partition.Odm)))
			} else if odm != nil {
				ok, err := fs.Exists(odm.Tree(), SeappContextsPath(partition.Odm))
				require.NoError(t, err)
				assert.False(t, ok, "a missing odm seapp_contexts must not be created")
			}
		})
	}
}

// openRecorder records the names opened through a handle, across handles.
type openRecorder struct {
	*fs.ExtFs
	opened *[]string
}

func (r openRecorder) OpenFile(name string, flag int, perm os.FileMode) (io.WriteCloser, error) {
	*r.opened = append(*r.opened, name)
	return r.ExtFs.OpenFile(name, flag, perm)
}

func TestAppendSeappContextsMirrorsVendorBeforeOdm(t *testing.T) {
	var opened []string
	system := newTree(t, partition.System, map[string]string{PlatSeappContexts: ""})
	vendor := newTree(t, partition.Vendor, map[string]string{SeappContextsPath(partition.Vendor): ""})
	odm := newTree(t, partition.Odm, map[string]string{SeappContextsPath(partition.Odm): ""})

	ext := partition.NewMap[fs.Filesystem]()
	ext.Set(partition.Odm, openRecorder{odm, &opened})
	ext.Set(partition.System, openRecorder{system, &opened})
	ext.Set(partition.Vendor, openRecorder{vendor, &opened})

	require.NoError(t, AppendSeappContexts(context.Background(), []byte("frag"), ext, true))

	assert.Equal(t, []string{
		PlatSeappContexts,
		SeappContextsPath(partition.Vendor),
		SeappContextsPath(partition.Odm),
	}, opened)
}

// writeImageFile lays out name relative to an image root on the host, the
// way a loop mounted partition presents it.
func writeImageFile(t *testing.T, root, name, content string) {
	t.Helper()

	full := filepath.Join(root, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func TestPatchesFindFilesAtImageRoot(t *testing.T) {
	vendorRoot, odmRoot := t.TempDir(), t.TempDir()
	writeImageFile(t, vendorRoot, "etc/selinux/vendor_sepolicy.cil", vendorCIL)
	writeImageFile(t, vendorRoot, "etc/selinux/vendor_seapp_contexts", "v\n")
	writeImageFile(t, odmRoot, "etc/selinux/odm_sepolicy.cil", "(odm)\n")

	system := newTree(t, partition.System, map[string]string{PlatSeappContexts: ""})
	vendor := fs.NewExtFs(partition.Vendor, vendorRoot)
	odm := fs.NewExtFs(partition.Odm, odmRoot)
	ext := handles(system, vendor, odm)

	result, err := PatchFirmwareCIL(context.Background(), ext, true)
	require.NoError(t, err)
	assert.Equal(t, []partition.Name{partition.Vendor, partition.Odm}, result.Patched)
	assert.Empty(t, result.Missing)

	require.NoError(t, AppendSeappContexts(context.Background(), []byte("frag"), ext, true))

	cil, err := os.ReadFile(filepath.Join(vendorRoot, "etc", "selinux", "vendor_sepolicy.cil"))
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(cil), FirmwareMarker))

	odmCIL, err := os.ReadFile(filepath.Join(odmRoot, "etc", "selinux", "odm_sepolicy.cil"))
	require.NoError(t, err)
	assert.Contains(t, string(odmCIL), FirmwareMarker)

	seapp, err := os.ReadFile(filepath.Join(vendorRoot, "etc", "selinux", "vendor_seapp_contexts"))
	require.NoError(t, err)
	assert.Equal(t, "v\nfrag\n", string(seapp))

	for _, root := range []string{vendorRoot, odmRoot} {
		_, err := os.Stat(filepath.Join(root, "vendor"))
		assert.True(t, os.IsNotExist(err))
		_, err = os.Stat(filepath.Join(root, "odm"))
		assert.True(t, os.IsNotExist(err))
	}
}

func TestPatchFirmwareCILIsIdempotent(t *testing.T) {
	vendor := newTree(t, partition.Vendor, map[string]string{CILPath(partition.Vendor): vendorCIL})
	ext := handles(vendor)

	result, err := PatchFirmwareCIL(context.Background(), ext, false)
	require.NoError(t, err)
	assert.Equal(t, []partition.Name{partition.Vendor}, result.Patched)
	once := readFile(t, vendor, CILPath(partition.Vendor))

	result, err = PatchFirmwareCIL(context.Background(), ext, false)
	require.NoError(t, err)
	assert.Empty(t, result.Patched)
	assert.Equal(t, []partition.Name{partition.Vendor}, result.AlreadyPatched)

	assert.Equal(t, once, readFile(t, vendor, CILPath(partition.Vendor)))
	assert.True(t, strings.HasPrefix(once, vendorCIL))
}

func TestPatchFirmwareCILCompatiblePatchesVendorAndOdm(t *testing.T) {
	vendor := newTree(t, partition.Vendor, map[string]string{CILPath(partition.Vendor): vendorCIL})
	odm := newTree(t, partition.Odm, map[string]string{CILPath(partition.Odm): "(allow hal_camera odm_file (file (read)))"})

	result, err := PatchFirmwareCIL(context.Background(), handles(vendor, odm), true)
	require.NoError(t, err)
	assert.Equal(t, []partition.Name{partition.Vendor, partition.Odm}, result.Patched)

	for _, tree := range []*fs.ExtFs{vendor, odm} {
		text := readFile(t, tree, CILPath(tree.Partition()))

		assert.Equal(t, 1, strings.Count(text, FirmwareMarker), tree.Partition())
		for _, rule := range firmwareRules {
			assert.Equal(t, 1, strings.Count(text, rule), tree.Partition())
		}

		markerAt := strings.Index(text, FirmwareMarker)
		ruleAt := strings.Index(text, firmwareRules[0])
		assert.Less(t, markerAt, ruleAt, "marker must precede the rule block")
	}

	odmText := readFile(t, odm, CILPath(partition.Odm))
	assert.True(t, strings.HasPrefix(odmText, "(allow hal_camera odm_file (file (read)))\n\n"),
		"block must start on a fresh line")
}

func TestPatchFirmwareCILLeavesOdmWithoutCompatible(t *testing.T) {
	odmPolicy := "(allow hal_camera odm_file (file (read)))\n"
	vendor := newTree(t, partition.Vendor, map[string]string{CILPath(partition.Vendor): vendorCIL})
	odm := newTree(t, partition.Odm, map[string]string{CILPath(partition.Odm): odmPolicy})

	result, err := PatchFirmwareCIL(context.Background(), handles(vendor, odm), false)
	require.NoError(t, err)
	assert.Equal(t, []partition.Name{partition.Vendor}, result.Patched)

	assert.Equal(t, odmPolicy, readFile(t, odm, CILPath(partition.Odm)))
}

func TestPatchFirmwareCILToleratesMissing(t *testing.T) {
	vendor := newTree(t, partition.Vendor, map[string]string{"vendor/etc/fstab": ""})

	result, err := PatchFirmwareCIL(context.Background(), handles(vendor), true)
	require.NoError(t, err)
	assert.Empty(t, result.Patched)
	assert.Equal(t, []partition.Name{partition.Vendor, partition.Odm}, result.Missing)

	ok, err := fs.Exists(vendor.Tree(), CILPath(partition.Vendor))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFirmwareBlockContainsMarker(t *testing.T) {
	block := FirmwareBlock()
	assert.Contains(t, block, "\n"+FirmwareMarker+"\n")
	assert.True(t, strings.HasSuffix(block, "\n"))
}

func writeScript(t *testing.T, body string) string {
	t.Helper()

	p := filepath.Join(t.TempDir(), "tool")
	require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\n"+body), 0o755))
	return p
}

func TestToolPatchInvokesPerPolicy(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "calls")
	tool := NewTool(writeScript(t, `echo "$@" >> `+logFile+"\n"))

	err := tool.Patch(context.Background(), []string{"/a/sepolicy", "/b/precompiled_sepolicy"})
	require.NoError(t, err)

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Equal(t, "-s /a/sepolicy -t /a/sepolicy\n-s /b/precompiled_sepolicy -t /b/precompiled_sepolicy\n", string(data))
}

func TestToolPatchFailure(t *testing.T) {
	tool := NewTool(writeScript(t, "echo 'policy is broken' >&2\nexit 3\n"))

	err := tool.Patch(context.Background(), []string{"/a/sepolicy"})
	require.ErrorIs(t, err, ErrToolFailed)
	assert.Contains(t, err.Error(), "policy is broken")
}
