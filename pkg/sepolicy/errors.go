package sepolicy

import "errors"

var ErrToolFailed = errors.New("sepolicy tool failed")
