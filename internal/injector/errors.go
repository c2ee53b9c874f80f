package injector

import "errors"

var (
	ErrNoModules = errors.New("no modules to inject")
	ErrUnsigned  = errors.New("module archive has no signature")
)
