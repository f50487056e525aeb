package memory

import (
	"context"
	"sync"

	"github.com/lamassuiot/dcc-revocation/pkg/depot"
)

type memory struct {
	mu      sync.RWMutex
	revoked []depot.RevokedCertificate
}

func NewMemory() depot.Depot {
	return &memory{}
}

func (m *memory) GetRevokedCertificates(ctx context.Context) ([]depot.RevokedCertificate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]depot.RevokedCertificate, len(m.revoked))
	copy(out, m.revoked)
	return out, nil
}

func (m *memory) ReplaceRevokedCertificates(ctx context.Context, revoked []depot.RevokedCertificate) error {
	snapshot := make([]depot.RevokedCertificate, len(revoked))
	copy(snapshot, revoked)
	m.mu.Lock()
	m.revoked = snapshot
	m.mu.Unlock()
	return nil
}
