package utils

import (
	"fmt"
	"strings"

	"golang.org/x/sys/unix"
)

// AndroidABI maps a uname machine string to the Android ABI name used for
// prebuilt binaries. Unknown machines are an error; guessing would pick the
// wrong binary.
func AndroidABI(machine string) (string, error) {
	switch {
	case machine == "x86_64":
		return "x86_64", nil
	case machine == "i386", machine == "i486", machine == "i586", machine == "i686":
		return "x86", nil
	case machine == "aarch64", machine == "arm64":
		return "arm64-v8a", nil
	case strings.HasPrefix(machine, "armv7"):
		return "armeabi-v7a", nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedHost, machine)
	}
}

// HostAndroidABI returns the Android ABI of the running host.
func HostAndroidABI() (string, error) {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return "", fmt.Errorf("uname: %w", err)
	}
	return AndroidABI(unix.ByteSliceToString(uts.Machine[:]))
}
