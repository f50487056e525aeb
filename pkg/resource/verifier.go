package resource

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/sha256"
	"errors"
	"fmt"
	"math/big"

	"github.com/fxamacker/cbor/v2"
)

// Verifier authenticates a downloaded payload and returns its content.
type Verifier interface {
	Verify(signed []byte) ([]byte, error)
}

// NopVerifier trusts the payload as is. Only for tests and local mirrors
// that were verified when they were populated.
type NopVerifier struct{}

func (NopVerifier) Verify(signed []byte) ([]byte, error) { return signed, nil }

const (
	coseSign1Tag   = 0xd2
	coseHeaderAlg  = 1
	coseHeaderKID  = 4
	coseAlgES256   = -7
	es256SigLength = 64
)

var errNoTrustAnchor = errors.New("no trust anchor for payload")

// TrustAnchor is a key allowed to sign revocation payloads. KID may be empty,
// in which case the key is tried for every payload.
type TrustAnchor struct {
	KID []byte
	Key *ecdsa.PublicKey
}

// COSEVerifier checks COSE_Sign1 envelopes signed with ES256.
type COSEVerifier struct {
	anchors []TrustAnchor
}

func NewCOSEVerifier(anchors ...TrustAnchor) *COSEVerifier {
	return &COSEVerifier{anchors: anchors}
}

type coseSign1 struct {
	_           struct{} `cbor:",toarray"`
	Protected   []byte
	Unprotected map[int]cbor.RawMessage
	Payload     []byte
	Signature   []byte
}

func (v *COSEVerifier) Verify(signed []byte) ([]byte, error) {
	if len(signed) > 0 && signed[0] == coseSign1Tag {
		signed = signed[1:]
	}
	var msg coseSign1
	if err := decMode.Unmarshal(signed, &msg); err != nil {
		return nil, fmt.Errorf("%w: cose envelope: %v", ErrSignatureVerification, err)
	}

	var protected map[int]cbor.RawMessage
	if len(msg.Protected) > 0 {
		if err := decMode.Unmarshal(msg.Protected, &protected); err != nil {
			return nil, fmt.Errorf("%w: protected header: %v", ErrSignatureVerification, err)
		}
	}
	var alg int
	if raw, ok := protected[coseHeaderAlg]; !ok || decMode.Unmarshal(raw, &alg) != nil || alg != coseAlgES256 {
		return nil, fmt.Errorf("%w: unsupported algorithm", ErrSignatureVerification)
	}
	if len(msg.Signature) != es256SigLength {
		return nil, fmt.Errorf("%w: signature of %d bytes", ErrSignatureVerification, len(msg.Signature))
	}

	kid := headerKID(protected)
	if kid == nil {
		kid = headerKID(msg.Unprotected)
	}

	toBeSigned, err := cbor.Marshal([]interface{}{"Signature1", msg.Protected, []byte{}, msg.Payload})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignatureVerification, err)
	}
	digest := sha256.Sum256(toBeSigned)
	r := new(big.Int).SetBytes(msg.Signature[:es256SigLength/2])
	s := new(big.Int).SetBytes(msg.Signature[es256SigLength/2:])

	tried := false
	for _, anchor := range v.anchors {
		if kid != nil && len(anchor.KID) > 0 && !bytes.Equal(anchor.KID, kid) {
			continue
		}
		tried = true
		if ecdsa.Verify(anchor.Key, digest[:], r, s) {
			return msg.Payload, nil
		}
	}
	if !tried {
		return nil, fmt.Errorf("%w: %v", ErrSignatureVerification, errNoTrustAnchor)
	}
	return nil, fmt.Errorf("%w: signature mismatch", ErrSignatureVerification)
}

func headerKID(h map[int]cbor.RawMessage) []byte {
	raw, ok := h[coseHeaderKID]
	if !ok {
		return nil
	}
	var kid []byte
	if err := decMode.Unmarshal(raw, &kid); err != nil {
		return nil
	}
	return kid
}
