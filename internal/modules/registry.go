package modules

import (
	"fmt"
	"maps"
	"slices"

	"github.com/maxdollinger/modinject/pkg/module"
)

var constructors = map[string]module.Constructor{
	"alterinstaller":  NewAlterInstaller,
	"bcr":             NewBCR,
	"custota":         NewCustota,
	"msd":             NewMSD,
	"oemunlockonboot": NewOEMUnlockOnBoot,
}

// All returns every known module keyed by its lowercase name. The map is a
// copy and may be modified by the caller.
func All() map[string]module.Constructor {
	return maps.Clone(constructors)
}

// Names returns the module names in lexical order.
func Names() []string {
	return slices.Sorted(maps.Keys(constructors))
}

// New constructs the module called name.
func New(name, zipPath, sigPath string) (module.Module, error) {
	ctor, ok := constructors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModule, name)
	}
	return ctor(zipPath, sigPath)
}
