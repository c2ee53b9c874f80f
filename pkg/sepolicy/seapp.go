// Package sepolicy keeps SELinux policy sources consistent across the system,
// vendor and odm partitions and drives binary policy patch tools.
package sepolicy

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/maxdollinger/modinject/pkg/fs"
	"github.com/maxdollinger/modinject/pkg/partition"
)

const PlatSeappContexts = "system/etc/selinux/plat_seapp_contexts"

// mirrored lists the partitions that receive policy source changes in
// compatible mode, in patch order.
var mirrored = []partition.Name{partition.Vendor, partition.Odm}

// SeappContextsPath returns the partition specific seapp_contexts path.
func SeappContextsPath(p partition.Name) string {
	if p == partition.System {
		return PlatSeappContexts
	}
	return fmt.Sprintf("%s/etc/selinux/%s_seapp_contexts", p, p)
}

// AppendSeappContexts appends fragment and a newline to plat_seapp_contexts on
// the system handle. In compatible mode the fragment is also appended to the
// vendor and odm seapp_contexts when both the handle and the file exist.
// Entries are never deduplicated, so running twice adds the fragment twice.
func AppendSeappContexts(ctx context.Context, fragment []byte, ext partition.Map[fs.Filesystem], compatible bool) error {
	logger := slog.Default()

	system, err := ext.Require(partition.System)
	if err != nil {
		return fmt.Errorf("append seapp contexts: %w", err)
	}

	logger.InfoContext(ctx, "adding seapp contexts", "path", PlatSeappContexts)
	if err := appendFragment(system, PlatSeappContexts, fragment); err != nil {
		return err
	}

	if !compatible {
		return nil
	}

	for _, p := range mirrored {
		handle, ok := ext.Get(p)
		if !ok {
			continue
		}

		target := SeappContextsPath(p)
		exists, err := fs.Exists(handle.Tree(), target)
		if err != nil {
			return fmt.Errorf("check %s: %w", target, err)
		}
		if !exists {
			logger.InfoContext(ctx, "skipping seapp contexts, file does not exist", "path", target)
			continue
		}

		logger.InfoContext(ctx, "adding seapp contexts", "path", target, "compatible", true)
		if err := appendFragment(handle, target, fragment); err != nil {
			return err
		}
	}

	return nil
}

func appendFragment(fsys fs.Filesystem, name string, fragment []byte) error {
	w, err := fs.Append(fsys, name)
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}

	if _, err := w.Write(fragment); err != nil {
		_ = w.Close()
		return fmt.Errorf("append to %s: %w", name, err)
	}
	if _, err := io.WriteString(w, "\n"); err != nil {
		_ = w.Close()
		return fmt.Errorf("append to %s: %w", name, err)
	}
	return w.Close()
}
