package certificate

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
)

// KIDLength is the length of an issuer key identifier.
const KIDLength = 8

var (
	ErrMissingHashInput = errors.New("certificate lacks input for hash type")
	ErrInvalidKID       = errors.New("invalid kid")
)

const (
	AlgorithmES256 = "ES256"
	AlgorithmPS256 = "PS256"
)

// KID identifies the key a certificate was signed with. It is base64 in JSON,
// as it appears in the COSE header, and hex in resource paths.
type KID [KIDLength]byte

func KIDFromBytes(b []byte) (KID, error) {
	var kid KID
	if len(b) != KIDLength {
		return kid, fmt.Errorf("%w: %d bytes", ErrInvalidKID, len(b))
	}
	copy(kid[:], b)
	return kid, nil
}

func ParseKIDHex(s string) (KID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return KID{}, fmt.Errorf("%w: %v", ErrInvalidKID, err)
	}
	return KIDFromBytes(b)
}

func (k KID) Hex() string { return hex.EncodeToString(k[:]) }

func (k KID) String() string { return k.Hex() }

func (k KID) MarshalText() ([]byte, error) {
	return []byte(base64.StdEncoding.EncodeToString(k[:])), nil
}

func (k *KID) UnmarshalText(text []byte) error {
	b, err := base64.StdEncoding.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKID, err)
	}
	kid, err := KIDFromBytes(b)
	if err != nil {
		return err
	}
	*k = kid
	return nil
}

// HealthCertificate carries the parts of a decoded DCC needed to derive its
// revocation hashes. Decoding and signature checks happen upstream.
type HealthCertificate struct {
	KID       KID    `json:"kid"`
	UCI       string `json:"uci"`
	Country   string `json:"country"`
	Signature []byte `json:"signature"`
	Algorithm string `json:"algorithm,omitempty"`
}

// Hash returns the 16 byte revocation hash for the given hash type.
func (c *HealthCertificate) Hash(ht HashType) ([]byte, error) {
	var input []byte
	switch ht {
	case HashTypeSignature:
		input = c.signatureHashInput()
	case HashTypeUCI:
		if c.UCI != "" {
			input = []byte(c.UCI)
		}
	case HashTypeCountryCodeUCI:
		if c.UCI != "" && c.Country != "" {
			input = []byte(c.Country + c.UCI)
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownHashType, ht)
	}
	if len(input) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingHashInput, ht)
	}
	sum := sha256.Sum256(input)
	return sum[:HashLength], nil
}

// ECDSA signatures are hashed over r only, so a re-encoded s does not change
// the value.
func (c *HealthCertificate) signatureHashInput() []byte {
	if c.Algorithm == AlgorithmES256 || (c.Algorithm == "" && len(c.Signature) == 64) {
		return c.Signature[:len(c.Signature)/2]
	}
	return c.Signature
}

// Identifier is the opaque value persisted for revoked certificates. It
// covers every hash input, each length prefixed, so certificates that differ
// in any of them never share an identifier.
func (c *HealthCertificate) Identifier() string {
	h := sha256.New()
	h.Write(c.KID[:])
	for _, field := range [][]byte{c.Signature, []byte(c.Country), []byte(c.UCI)} {
		var n [4]byte
		binary.BigEndian.PutUint32(n[:], uint32(len(field)))
		h.Write(n[:])
		h.Write(field)
	}
	return hex.EncodeToString(h.Sum(nil))
}
