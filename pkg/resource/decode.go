package resource

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/lamassuiot/dcc-revocation/pkg/certificate"
)

// Strict settings for the CBOR decoder.
var cborDecOpts = cbor.DecOptions{
	DupMapKey:   cbor.DupMapKeyEnforcedAPF,
	IndefLength: cbor.IndefLengthForbidden,
	TagsMd:      cbor.TagsForbidden,

	MaxNestedLevels:  8,
	MaxArrayElements: 1 << 20,
	MaxMapPairs:      1 << 16,
}

var decMode cbor.DecMode

func init() {
	dm, err := cborDecOpts.DecMode()
	if err != nil {
		panic(err)
	}
	decMode = dm
}

// DecodeKidList decodes {bstr(8) kid: [bstr(1) hash type, ...]}.
func DecodeKidList(payload []byte) (*KidList, error) {
	var raw map[cbor.ByteString][][]byte
	if err := decMode.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("%w: kid list: %v", ErrDecoding, err)
	}
	entries := make([]KidListEntry, 0, len(raw))
	for k, tags := range raw {
		kid, err := certificate.KIDFromBytes([]byte(k))
		if err != nil {
			return nil, fmt.Errorf("%w: kid list: %v", ErrDecoding, err)
		}
		entry := KidListEntry{KID: kid}
		for _, tag := range tags {
			if len(tag) != 1 {
				return nil, fmt.Errorf("%w: kid list: hash type of %d bytes", ErrDecoding, len(tag))
			}
			ht, err := certificate.HashTypeFromTag(tag[0])
			if err != nil {
				return nil, fmt.Errorf("%w: kid list: %v", ErrDecoding, err)
			}
			entry.HashTypes = append(entry.HashTypes, ht)
		}
		entries = append(entries, entry)
	}
	return NewKidList(entries), nil
}

// DecodeKidTypeIndex decodes {bstr(1) x: [bstr(1) y, ...]}.
func DecodeKidTypeIndex(payload []byte) (*KidTypeIndex, error) {
	var raw map[cbor.ByteString][][]byte
	if err := decMode.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("%w: index: %v", ErrDecoding, err)
	}
	items := make([]IndexItem, 0, len(raw))
	for x, ys := range raw {
		if len(x) != 1 {
			return nil, fmt.Errorf("%w: index: x of %d bytes", ErrDecoding, len(x))
		}
		item := IndexItem{X: x[0], Y: make([]byte, 0, len(ys))}
		for _, y := range ys {
			if len(y) != 1 {
				return nil, fmt.Errorf("%w: index: y of %d bytes", ErrDecoding, len(y))
			}
			item.Y = append(item.Y, y[0])
		}
		items = append(items, item)
	}
	return NewKidTypeIndex(items), nil
}

// DecodeChunk decodes [bstr(16) hash, ...].
func DecodeChunk(payload []byte) (*Chunk, error) {
	var raw [][]byte
	if err := decMode.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("%w: chunk: %v", ErrDecoding, err)
	}
	return NewChunk(raw)
}
