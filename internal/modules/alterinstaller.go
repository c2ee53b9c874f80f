package modules

import (
	"github.com/maxdollinger/modinject/pkg/module"
	"github.com/maxdollinger/modinject/pkg/partition"
)

// NewAlterInstaller installs AlterInstaller, which spoofs the installer
// package of apps. It only needs its seapp_contexts labels.
func NewAlterInstaller(zipPath, sigPath string) (module.Module, error) {
	m, err := newZipModule("alterinstaller", zipPath, sigPath, module.Requirements{
		ExtImages:       partition.NewSet(partition.System),
		SELinuxPatching: true,
	})
	if err != nil {
		return nil, err
	}
	m.seapp = "plat_seapp_contexts"
	return m, nil
}
