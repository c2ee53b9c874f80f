package partition

import "errors"

var (
	ErrUnknownPartition = errors.New("unknown partition")
	ErrMissingPartition = errors.New("partition handle not present")
)
