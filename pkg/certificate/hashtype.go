package certificate

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// HashType selects which derivation of a certificate is looked up in the
// revocation lists. The tag is the byte used on the wire and in paths.
type HashType byte

const (
	HashTypeSignature      HashType = 0x0a
	HashTypeUCI            HashType = 0x0b
	HashTypeCountryCodeUCI HashType = 0x0c
)

// HashLength is the length of every revocation hash, a truncated SHA-256.
const HashLength = 16

var ErrUnknownHashType = errors.New("unknown hash type")

var hashTypeNames = map[HashType]string{
	HashTypeSignature:      "signature",
	HashTypeUCI:            "uci",
	HashTypeCountryCodeUCI: "countrycodeuci",
}

// HashTypeFromTag validates a wire tag.
func HashTypeFromTag(tag byte) (HashType, error) {
	ht := HashType(tag)
	if _, ok := hashTypeNames[ht]; !ok {
		return 0, fmt.Errorf("%w: 0x%02x", ErrUnknownHashType, tag)
	}
	return ht, nil
}

// ParseHashType accepts the symbolic name or the two digit hex tag.
func ParseHashType(s string) (HashType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for ht, name := range hashTypeNames {
		if name == s {
			return ht, nil
		}
	}
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil || len(b) != 1 {
		return 0, fmt.Errorf("%w: %q", ErrUnknownHashType, s)
	}
	return HashTypeFromTag(b[0])
}

func (h HashType) String() string {
	if name, ok := hashTypeNames[h]; ok {
		return name
	}
	return fmt.Sprintf("0x%02x", byte(h))
}

// Hex is the path form of the tag.
func (h HashType) Hex() string {
	return fmt.Sprintf("%02x", byte(h))
}

// SortHashTypes returns a copy ordered by ascending tag, the evaluation order.
func SortHashTypes(types []HashType) []HashType {
	sorted := make([]HashType, len(types))
	copy(sorted, types)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted
}
