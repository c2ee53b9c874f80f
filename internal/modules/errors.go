package modules

import "errors"

var ErrUnknownModule = errors.New("unknown module")
