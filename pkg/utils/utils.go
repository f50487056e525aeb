package utils

import (
	"encoding/pem"
	"errors"
	"fmt"
)

const (
	CertPEMBlockType      = "CERTIFICATE"
	PublicKeyPEMBlockType = "PUBLIC KEY"
)

var (
	ErrNoPEMBlock         = errors.New("cannot find the next PEM formatted block")
	ErrUnexpectedPEMBlock = errors.New("unmatched type of headers")
)

// CheckPEMBlock accepts a header-less block of one of the given types.
func CheckPEMBlock(pemBlock *pem.Block, blockTypes ...string) error {
	if pemBlock == nil {
		return ErrNoPEMBlock
	}
	if len(pemBlock.Headers) != 0 {
		return fmt.Errorf("%w: %s block carries headers", ErrUnexpectedPEMBlock, pemBlock.Type)
	}
	for _, t := range blockTypes {
		if pemBlock.Type == t {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnexpectedPEMBlock, pemBlock.Type)
}
