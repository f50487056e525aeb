package resource

import "errors"

// Every failure of the resource layer wraps exactly one of these.
var (
	ErrNetwork               = errors.New("network error")
	ErrSignatureVerification = errors.New("signature verification error")
	ErrDecoding              = errors.New("decoding error")
)
