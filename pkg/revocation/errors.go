package revocation

import (
	"errors"
	"fmt"

	"github.com/lamassuiot/dcc-revocation/pkg/resource"
)

var (
	ErrNetwork               = resource.ErrNetwork
	ErrSignatureVerification = resource.ErrSignatureVerification
	ErrDecoding              = resource.ErrDecoding
	ErrPersistence           = errors.New("persistence error")
)

type ErrorKind string

const (
	KindNetwork               ErrorKind = "network"
	KindSignatureVerification ErrorKind = "signature_verification"
	KindDecoding              ErrorKind = "decoding"
	KindPersistence           ErrorKind = "persistence"
)

// ProviderError is returned by a failed UpdateCache. The whole batch failed
// and the snapshot was left as it was.
type ProviderError struct {
	Kind ErrorKind
	Err  error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("revocation update failed (%s): %v", e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// newProviderError classifies a fetch failure. Anything the resource layer
// did not classify came out of the transport.
func newProviderError(err error) *ProviderError {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr
	}
	switch {
	case errors.Is(err, ErrSignatureVerification):
		return &ProviderError{Kind: KindSignatureVerification, Err: err}
	case errors.Is(err, ErrDecoding):
		return &ProviderError{Kind: KindDecoding, Err: err}
	case errors.Is(err, ErrPersistence):
		return &ProviderError{Kind: KindPersistence, Err: err}
	case errors.Is(err, ErrNetwork):
		return &ProviderError{Kind: KindNetwork, Err: err}
	default:
		return &ProviderError{Kind: KindNetwork, Err: fmt.Errorf("%w: %w", ErrNetwork, err)}
	}
}
