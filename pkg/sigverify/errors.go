package sigverify

import "errors"

var (
	ErrVerificationFailed = errors.New("signature verification failed")
	ErrInvalidKey         = errors.New("invalid trusted public key")
)
