package module

import "errors"

var (
	ErrRequirementMismatch = errors.New("opened partitions do not satisfy module requirements")
	ErrEntryNotFound       = errors.New("zip entry not found")
)
