// Package modules holds the concrete injectable modules and the registry used
// to look them up by name.
package modules

import (
	"archive/zip"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/maxdollinger/modinject/pkg/fs"
	"github.com/maxdollinger/modinject/pkg/module"
	"github.com/maxdollinger/modinject/pkg/partition"
	"github.com/maxdollinger/modinject/pkg/sepolicy"
	"github.com/maxdollinger/modinject/pkg/utils"
)

const systemPrefix = "system/"

// ramdiskPayload copies every archive entry below Prefix into Dest on the
// ramdisk of Partition.
type ramdiskPayload struct {
	Partition partition.Name
	Prefix    string
	Dest      string
}

// zipModule installs a release archive laid out as:
//
//	system/...           files for the system partition, paths kept as is
//	<seapp>              seapp_contexts fragment, optional
//	<ramdisk.Prefix>/... init fragments for a boot ramdisk, optional
type zipModule struct {
	name         string
	zipPath      string
	sigPath      string
	requirements module.Requirements
	seapp        string
	ramdisk      *ramdiskPayload
	logger       *slog.Logger
}

func newZipModule(name, zipPath, sigPath string, req module.Requirements) (*zipModule, error) {
	if _, err := os.Stat(zipPath); err != nil {
		return nil, fmt.Errorf("%s: module archive: %w", name, err)
	}
	if sigPath != "" {
		if _, err := os.Stat(sigPath); err != nil {
			return nil, fmt.Errorf("%s: module signature: %w", name, err)
		}
	}

	return &zipModule{
		name:         name,
		zipPath:      zipPath,
		sigPath:      sigPath,
		requirements: req,
		logger:       slog.Default().With("module", name),
	}, nil
}

func (m *zipModule) Name() string {
	return m.name
}

func (m *zipModule) Requirements() module.Requirements {
	return module.Requirements{
		BootImages:      m.requirements.BootImages.Union(nil),
		ExtImages:       m.requirements.ExtImages.Union(nil),
		SELinuxPatching: m.requirements.SELinuxPatching,
	}
}

func (m *zipModule) Archive() (string, string) {
	return m.zipPath, m.sigPath
}

func (m *zipModule) Inject(ctx context.Context, handles module.Handles, opts module.InjectOptions) error {
	if err := module.Validate(m.requirements, handles); err != nil {
		return fmt.Errorf("%s: %w", m.name, err)
	}

	zr, err := zip.OpenReader(m.zipPath)
	if err != nil {
		return fmt.Errorf("%s: open archive: %w", m.name, err)
	}
	defer zr.Close()

	m.logger.InfoContext(ctx, "injecting module", "zip", m.zipPath)

	system, err := handles.Ext.Require(partition.System)
	if err != nil {
		return err
	}
	n, err := extractTree(&zr.Reader, systemPrefix, system)
	if err != nil {
		return fmt.Errorf("%s: %w", m.name, err)
	}
	m.logger.DebugContext(ctx, "extracted system files", "count", n)

	if m.ramdisk != nil {
		boot, err := handles.Boot.Require(m.ramdisk.Partition)
		if err != nil {
			return err
		}
		written, err := module.ZipExtractPrefix(&zr.Reader, m.ramdisk.Prefix, boot, module.ExtractOptions{
			Mode:       0o644,
			ParentMode: 0o750,
			Output:     m.ramdisk.Dest,
		})
		if err != nil {
			return fmt.Errorf("%s: ramdisk payload: %w", m.name, err)
		}
		m.logger.InfoContext(ctx, "added ramdisk files", "partition", m.ramdisk.Partition, "files", written)
	}

	if m.seapp != "" {
		fragment, err := module.ReadEntry(&zr.Reader, m.seapp)
		if err != nil {
			return fmt.Errorf("%s: %w", m.name, err)
		}
		if err := sepolicy.AppendSeappContexts(ctx, fragment, handles.Ext, opts.CompatibleSepolicy); err != nil {
			return fmt.Errorf("%s: %w", m.name, err)
		}
	}

	return nil
}

// extractTree copies every file below prefix to the same path on dst.
// Executable entries keep their exec bits; everything else gets 0o644.
func extractTree(zr *zip.Reader, prefix string, dst fs.Filesystem) (int, error) {
	count := 0
	for _, entry := range zr.File {
		if !strings.HasPrefix(entry.Name, prefix) || entry.FileInfo().IsDir() {
			continue
		}

		mode := module.DefaultFileMode
		if entry.Mode().Perm()&0o111 != 0 {
			mode = 0o755
		}
		if err := module.ZipExtract(zr, entry.Name, dst, module.ExtractOptions{Mode: mode}); err != nil {
			return count, err
		}
		count++
	}

	if count == 0 {
		return 0, fmt.Errorf("%w: no files below %s", module.ErrEntryNotFound, prefix)
	}
	return count, nil
}

// toolModule is a zipModule that also ships a host binary which patches the
// binary sepolicy, stored as <tool>/<abi> in the archive.
type toolModule struct {
	*zipModule
	tool string
}

func (m *toolModule) PatchSepolicy(ctx context.Context, sepolicies []string) error {
	if len(sepolicies) == 0 {
		m.logger.InfoContext(ctx, "no sepolicy to patch")
		return nil
	}

	abi, err := utils.HostAndroidABI()
	if err != nil {
		return fmt.Errorf("%s: %w", m.name, err)
	}

	zr, err := zip.OpenReader(m.zipPath)
	if err != nil {
		return fmt.Errorf("%s: open archive: %w", m.name, err)
	}
	defer zr.Close()

	entry := m.tool + "/" + abi
	data, err := module.ReadEntry(&zr.Reader, entry)
	if err != nil {
		return fmt.Errorf("%s: %w", m.name, err)
	}

	dir, err := os.MkdirTemp("", m.name+"-tool-*")
	if err != nil {
		return fmt.Errorf("%s: create tool dir: %w", m.name, err)
	}
	defer os.RemoveAll(dir)

	toolPath := filepath.Join(dir, m.tool)
	if err := os.WriteFile(toolPath, data, 0o700); err != nil {
		return fmt.Errorf("%s: write tool: %w", m.name, err)
	}
	if err := os.Chmod(toolPath, 0o700); err != nil {
		return fmt.Errorf("%s: chmod tool: %w", m.name, err)
	}

	m.logger.InfoContext(ctx, "patching binary sepolicy", "tool", entry, "policies", len(sepolicies))
	return sepolicy.NewTool(toolPath).Patch(ctx, sepolicies)
}

var (
	_ module.Signed          = (*zipModule)(nil)
	_ module.SepolicyPatcher = (*toolModule)(nil)
)
