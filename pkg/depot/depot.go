package depot

import (
	"context"
	"time"

	"github.com/lamassuiot/dcc-revocation/pkg/certificate"
)

// RevokedCertificate is one entry of the persisted revocation snapshot.
type RevokedCertificate struct {
	Identifier string
	KID        string
	HashType   certificate.HashType
	RevokedAt  time.Time
}

// Depot persists the snapshot of revoked certificates. The engine is its only
// writer. ReplaceRevokedCertificates swaps the whole collection at once: a
// concurrent GetRevokedCertificates sees either the old or the new one.
type Depot interface {
	GetRevokedCertificates(ctx context.Context) ([]RevokedCertificate, error)
	ReplaceRevokedCertificates(ctx context.Context, revoked []RevokedCertificate) error
}

// OpenSSL style timestamps, as in CA index files.
const timeLayout = "060102150405Z"

func FormatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func ParseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}
