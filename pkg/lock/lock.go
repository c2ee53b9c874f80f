// Package lock serializes injection runs that target the same image set.
package lock

import (
	"context"
	"slices"
	"strings"

	"github.com/opencontainers/go-digest"
)

// Locker hands out exclusive locks keyed by the digest of an image set.
// AcquireLock blocks until the lock is held or ctx is done.
type Locker interface {
	AcquireLock(ctx context.Context, key digest.Digest) (Lock, error)
}

// Lock is held until Release is called.
type Lock interface {
	Release() error
}

// KeyFor derives a lock key from the paths of the images a run touches. The
// order of paths does not matter.
func KeyFor(paths ...string) digest.Digest {
	sorted := append([]string(nil), paths...)
	slices.Sort(sorted)
	return digest.FromString(strings.Join(sorted, "\x00"))
}
