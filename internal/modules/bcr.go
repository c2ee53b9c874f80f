package modules

import (
	"github.com/maxdollinger/modinject/pkg/module"
	"github.com/maxdollinger/modinject/pkg/partition"
)

// NewBCR installs Basic Call Recorder as a privileged system app.
func NewBCR(zipPath, sigPath string) (module.Module, error) {
	m, err := newZipModule("bcr", zipPath, sigPath, module.Requirements{
		ExtImages:       partition.NewSet(partition.System),
		SELinuxPatching: true,
	})
	if err != nil {
		return nil, err
	}
	m.seapp = "plat_seapp_contexts"
	return &toolModule{zipModule: m, tool: "bcr-selinux"}, nil
}
