package modules

import (
	"github.com/maxdollinger/modinject/pkg/module"
	"github.com/maxdollinger/modinject/pkg/partition"
)

// NewCustota installs the Custota OTA updater app.
func NewCustota(zipPath, sigPath string) (module.Module, error) {
	m, err := newZipModule("custota", zipPath, sigPath, module.Requirements{
		ExtImages:       partition.NewSet(partition.System),
		SELinuxPatching: true,
	})
	if err != nil {
		return nil, err
	}
	m.seapp = "plat_seapp_contexts"
	return &toolModule{zipModule: m, tool: "custota-selinux"}, nil
}
