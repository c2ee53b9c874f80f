package sepolicy

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/maxdollinger/modinject/pkg/fs"
	"github.com/maxdollinger/modinject/pkg/partition"
)

// FirmwareMarker identifies the ueventd firmware block inside a CIL file. It
// is the only record of a previous run, so it must never change.
const FirmwareMarker = ";; modinject: compatible-sepolicy ueventd firmware access"

const firmwareHeader = `;; Allow ueventd to load firmware from vendor_firmware_file. ROMs that
;; recompile policy from CIL on update would otherwise drop this access.`

var firmwareRules = []string{
	"(allow ueventd vendor_firmware_file (dir (getattr open read search)))",
	"(allow ueventd vendor_firmware_file (file (getattr map open read)))",
	"(allow ueventd vendor_firmware_file (lnk_file (getattr read)))",
}

// FirmwareBlock returns the text appended to an unpatched CIL file.
func FirmwareBlock() string {
	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(firmwareHeader)
	b.WriteString("\n")
	b.WriteString(FirmwareMarker)
	b.WriteString("\n")
	for _, rule := range firmwareRules {
		b.WriteString(rule)
		b.WriteString("\n")
	}
	return b.String()
}

// CILPath returns the partition policy source path, e.g.
// vendor/etc/selinux/vendor_sepolicy.cil.
func CILPath(p partition.Name) string {
	return fmt.Sprintf("%s/etc/selinux/%s_sepolicy.cil", p, p)
}

// CILResult records what PatchFirmwareCIL did per partition.
type CILResult struct {
	Patched        []partition.Name
	AlreadyPatched []partition.Name
	Missing        []partition.Name
}

// PatchFirmwareCIL appends the ueventd firmware rules to the vendor CIL
// source and, in compatible mode, to the odm one. Files already carrying
// FirmwareMarker are left untouched. A missing vendor file is a warning, a
// missing odm handle or file is expected and only logged.
func PatchFirmwareCIL(ctx context.Context, ext partition.Map[fs.Filesystem], compatible bool) (CILResult, error) {
	logger := slog.Default()
	var result CILResult

	targets := []partition.Name{partition.Vendor}
	if compatible {
		targets = append(targets, partition.Odm)
	}

	for _, p := range targets {
		target := CILPath(p)

		handle, ok := ext.Get(p)
		if !ok {
			logger.InfoContext(ctx, "skipping cil patch, partition not opened", "partition", p)
			result.Missing = append(result.Missing, p)
			continue
		}

		exists, err := fs.Exists(handle.Tree(), target)
		if err != nil {
			return result, fmt.Errorf("check %s: %w", target, err)
		}
		if !exists {
			if p == partition.Vendor {
				logger.WarnContext(ctx, "vendor cil policy not found, firmware access will not persist", "path", target)
			} else {
				logger.InfoContext(ctx, "skipping cil patch, file does not exist", "path", target)
			}
			result.Missing = append(result.Missing, p)
			continue
		}

		patched, err := patchCIL(handle, target)
		if err != nil {
			return result, err
		}
		if !patched {
			logger.InfoContext(ctx, "cil policy already patched", "path", target)
			result.AlreadyPatched = append(result.AlreadyPatched, p)
			continue
		}

		logger.InfoContext(ctx, "patched cil policy", "path", target)
		result.Patched = append(result.Patched, p)
	}

	return result, nil
}

func patchCIL(handle fs.Filesystem, target string) (bool, error) {
	text, err := fs.ReadText(handle.Tree(), target)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", target, err)
	}
	if strings.Contains(text, FirmwareMarker) {
		return false, nil
	}

	block := FirmwareBlock()
	if text != "" && !strings.HasSuffix(text, "\n") {
		block = "\n" + block
	}

	w, err := fs.Append(handle, target)
	if err != nil {
		return false, fmt.Errorf("open %s: %w", target, err)
	}
	if _, err := io.WriteString(w, block); err != nil {
		_ = w.Close()
		return false, fmt.Errorf("append to %s: %w", target, err)
	}
	if err := w.Close(); err != nil {
		return false, fmt.Errorf("close %s: %w", target, err)
	}
	return true, nil
}
