package modules

import (
	"github.com/maxdollinger/modinject/pkg/module"
	"github.com/maxdollinger/modinject/pkg/partition"
)

// NewMSD installs Mass Storage Device, whose daemon needs its own domain in
// the binary policy.
func NewMSD(zipPath, sigPath string) (module.Module, error) {
	m, err := newZipModule("msd", zipPath, sigPath, module.Requirements{
		ExtImages:       partition.NewSet(partition.System),
		SELinuxPatching: true,
	})
	if err != nil {
		return nil, err
	}
	m.seapp = "plat_seapp_contexts"
	return &toolModule{zipModule: m, tool: "msd-tool"}, nil
}
