package resource

import (
	"fmt"

	"github.com/lamassuiot/dcc-revocation/pkg/certificate"
)

type KidListEntry struct {
	KID       certificate.KID
	HashTypes []certificate.HashType
}

// KidList lists the issuer keys that have revocation data.
type KidList struct {
	entries map[certificate.KID][]certificate.HashType
}

// NewKidList merges repeated KIDs and orders every hash type list by tag.
func NewKidList(entries []KidListEntry) *KidList {
	l := &KidList{entries: make(map[certificate.KID][]certificate.HashType, len(entries))}
	for _, e := range entries {
		seen := make(map[certificate.HashType]bool)
		for _, ht := range l.entries[e.KID] {
			seen[ht] = true
		}
		merged := l.entries[e.KID]
		for _, ht := range e.HashTypes {
			if !seen[ht] {
				seen[ht] = true
				merged = append(merged, ht)
			}
		}
		l.entries[e.KID] = certificate.SortHashTypes(merged)
	}
	return l
}

// HashTypes returns the hash types of kid in evaluation order. ok is false
// when the KID has no revocation data.
func (l *KidList) HashTypes(kid certificate.KID) ([]certificate.HashType, bool) {
	types, ok := l.entries[kid]
	return types, ok
}

func (l *KidList) Len() int { return len(l.entries) }

// IndexItem lists the populated y values under x. Some of them are decoys.
type IndexItem struct {
	X byte
	Y []byte
}

type KidTypeIndex struct {
	items map[byte][]byte
}

func NewKidTypeIndex(items []IndexItem) *KidTypeIndex {
	idx := &KidTypeIndex{items: make(map[byte][]byte, len(items))}
	for _, it := range items {
		idx.items[it.X] = append(idx.items[it.X], it.Y...)
	}
	return idx
}

func (i *KidTypeIndex) Item(x byte) (IndexItem, bool) {
	y, ok := i.items[x]
	if !ok {
		return IndexItem{}, false
	}
	return IndexItem{X: x, Y: y}, true
}

func (i *KidTypeIndex) Len() int { return len(i.items) }

// Chunk holds every revoked hash of one bucket.
type Chunk struct {
	hashes map[[certificate.HashLength]byte]struct{}
}

func NewChunk(hashes [][]byte) (*Chunk, error) {
	c := &Chunk{hashes: make(map[[certificate.HashLength]byte]struct{}, len(hashes))}
	for _, h := range hashes {
		if len(h) != certificate.HashLength {
			return nil, fmt.Errorf("%w: chunk hash of %d bytes", ErrDecoding, len(h))
		}
		var key [certificate.HashLength]byte
		copy(key[:], h)
		c.hashes[key] = struct{}{}
	}
	return c, nil
}

func (c *Chunk) Contains(hash []byte) bool {
	if len(hash) != certificate.HashLength {
		return false
	}
	var key [certificate.HashLength]byte
	copy(key[:], hash)
	_, ok := c.hashes[key]
	return ok
}

func (c *Chunk) Len() int { return len(c.hashes) }
