package trust

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"

	"github.com/lamassuiot/dcc-revocation/pkg/certificate"
	"github.com/lamassuiot/dcc-revocation/pkg/resource"
	"github.com/lamassuiot/dcc-revocation/pkg/utils"
)

// Secrets provides the keys allowed to sign revocation payloads.
type Secrets interface {
	GetTrustAnchors() ([]resource.TrustAnchor, error)
}

var (
	ErrNoTrustAnchors = errors.New("no trust anchors found")
	ErrUnsupportedKey = errors.New("trust anchor is not an ECDSA P-256 key")
)

// ParseTrustAnchors reads every PEM block of data. A certificate anchor is
// bound to its KID, the first 8 bytes of the SHA-256 of its DER encoding. A
// bare public key is tried against every payload.
func ParseTrustAnchors(data []byte) ([]resource.TrustAnchor, error) {
	var anchors []resource.TrustAnchor
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if err := utils.CheckPEMBlock(block, utils.CertPEMBlockType, utils.PublicKeyPEMBlockType); err != nil {
			return nil, err
		}
		anchor, err := parseBlock(block)
		if err != nil {
			return nil, err
		}
		anchors = append(anchors, anchor)
	}
	if len(anchors) == 0 {
		return nil, ErrNoTrustAnchors
	}
	return anchors, nil
}

func parseBlock(block *pem.Block) (resource.TrustAnchor, error) {
	switch block.Type {
	case utils.CertPEMBlockType:
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return resource.TrustAnchor{}, err
		}
		key, err := ecdsaKey(cert.PublicKey)
		if err != nil {
			return resource.TrustAnchor{}, err
		}
		sum := sha256.Sum256(cert.Raw)
		return resource.TrustAnchor{KID: sum[:certificate.KIDLength], Key: key}, nil
	default:
		pub, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return resource.TrustAnchor{}, err
		}
		key, err := ecdsaKey(pub)
		if err != nil {
			return resource.TrustAnchor{}, err
		}
		return resource.TrustAnchor{Key: key}, nil
	}
}

func ecdsaKey(pub interface{}) (*ecdsa.PublicKey, error) {
	key, ok := pub.(*ecdsa.PublicKey)
	if !ok || key.Curve != elliptic.P256() {
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedKey, pub)
	}
	return key, nil
}
