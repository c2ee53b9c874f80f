// Package module defines the contract every injectable module implements and
// the helpers modules share for copying payload files into partitions.
package module

import (
	"context"
	"fmt"
	"strings"

	"github.com/maxdollinger/modinject/pkg/fs"
	"github.com/maxdollinger/modinject/pkg/partition"
)

// Requirements declares which handles a module needs before Inject runs.
type Requirements struct {
	BootImages      partition.Set
	ExtImages       partition.Set
	SELinuxPatching bool
}

// Merge returns the union of r and other.
func (r Requirements) Merge(other Requirements) Requirements {
	return Requirements{
		BootImages:      r.BootImages.Union(other.BootImages),
		ExtImages:       r.ExtImages.Union(other.ExtImages),
		SELinuxPatching: r.SELinuxPatching || other.SELinuxPatching,
	}
}

// Handles are the open filesystems a module may write to. They are owned by
// the caller and must not be retained after Inject returns.
type Handles struct {
	Boot partition.Map[fs.Filesystem]
	Ext  partition.Map[fs.Filesystem]
}

type InjectOptions struct {
	// Sepolicies are host paths of binary policies patched after injection.
	Sepolicies []string
	// CompatibleSepolicy mirrors policy source changes onto vendor and odm.
	CompatibleSepolicy bool
}

type Module interface {
	Name() string
	// Requirements must be pure so it can be called before any image is opened.
	Requirements() Requirements
	Inject(ctx context.Context, handles Handles, opts InjectOptions) error
}

// Constructor builds a module from its release archive and detached signature.
type Constructor func(zipPath, sigPath string) (Module, error)

// SepolicyPatcher is implemented by modules that patch binary policies once
// every module has been injected.
type SepolicyPatcher interface {
	PatchSepolicy(ctx context.Context, sepolicies []string) error
}

// Signed is implemented by modules whose archive can be verified before use.
type Signed interface {
	Archive() (zipPath, sigPath string)
}

// Validate checks that every partition declared in req has a handle.
func Validate(req Requirements, handles Handles) error {
	var missing []string
	for _, name := range req.BootImages.Sorted() {
		if !handles.Boot.Has(name) {
			missing = append(missing, "boot:"+name.String())
		}
	}
	for _, name := range req.ExtImages.Sorted() {
		if !handles.Ext.Has(name) {
			missing = append(missing, "ext:"+name.String())
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrRequirementMismatch, strings.Join(missing, ", "))
	}
	return nil
}
