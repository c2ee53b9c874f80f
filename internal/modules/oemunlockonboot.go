package modules

import (
	"github.com/maxdollinger/modinject/pkg/module"
	"github.com/maxdollinger/modinject/pkg/partition"
)

// NewOEMUnlockOnBoot installs the service that re-enables OEM unlocking on
// every boot. Its init script goes into the init_boot ramdisk overlay so it
// runs before system services start.
func NewOEMUnlockOnBoot(zipPath, sigPath string) (module.Module, error) {
	m, err := newZipModule("oemunlockonboot", zipPath, sigPath, module.Requirements{
		BootImages: partition.NewSet(partition.InitBoot),
		ExtImages:  partition.NewSet(partition.System),
	})
	if err != nil {
		return nil, err
	}
	m.ramdisk = &ramdiskPayload{
		Partition: partition.InitBoot,
		Prefix:    "ramdisk/",
		Dest:      "overlay.d",
	}
	return m, nil
}
