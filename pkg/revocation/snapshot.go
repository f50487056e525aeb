package revocation

import (
	"github.com/bits-and-blooms/bloom/v3"

	"github.com/lamassuiot/dcc-revocation/pkg/depot"
)

const snapshotFalsePositiveRate = 0.001

// snapshot is immutable once built. The bloom filter answers most negative
// lookups without touching the map.
type snapshot struct {
	ids    map[string]struct{}
	filter *bloom.BloomFilter
}

func newSnapshot(records []depot.RevokedCertificate) *snapshot {
	n := uint(len(records))
	if n == 0 {
		n = 1
	}
	s := &snapshot{
		ids:    make(map[string]struct{}, len(records)),
		filter: bloom.NewWithEstimates(n, snapshotFalsePositiveRate),
	}
	for _, rc := range records {
		s.ids[rc.Identifier] = struct{}{}
		s.filter.AddString(rc.Identifier)
	}
	return s
}

func (s *snapshot) contains(id string) bool {
	if !s.filter.TestString(id) {
		return false
	}
	_, ok := s.ids[id]
	return ok
}

func (s *snapshot) len() int { return len(s.ids) }
