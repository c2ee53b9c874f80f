package utils

import "errors"

var ErrUnsupportedHost = errors.New("unsupported host architecture")
