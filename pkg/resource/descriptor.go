package resource

import (
	"fmt"

	"github.com/lamassuiot/dcc-revocation/pkg/certificate"
)

// Kind names the three resources of the revocation protocol.
type Kind string

const (
	KindKidList      Kind = "kid_list"
	KindKidTypeIndex Kind = "kid_type_index"
	KindKidTypeChunk Kind = "kid_type_chunk"
)

// Descriptor addresses one resource. The set of implementations is closed.
type Descriptor interface {
	Kind() Kind
	// Path is relative to the revocation server base URL and doubles as the
	// de-duplication key within a run.
	Path() string
	descriptor()
}

type KidListDescriptor struct{}

func (KidListDescriptor) Kind() Kind   { return KindKidList }
func (KidListDescriptor) Path() string { return "kid.lst" }
func (KidListDescriptor) descriptor()  {}

type KidTypeIndexDescriptor struct {
	KID      certificate.KID
	HashType certificate.HashType
}

func (KidTypeIndexDescriptor) Kind() Kind { return KindKidTypeIndex }
func (d KidTypeIndexDescriptor) Path() string {
	return fmt.Sprintf("%s%s/index.lst", d.KID.Hex(), d.HashType.Hex())
}
func (KidTypeIndexDescriptor) descriptor() {}

type KidTypeChunkDescriptor struct {
	KID        certificate.KID
	HashType   certificate.HashType
	Coordinate certificate.Coordinate
}

func (KidTypeChunkDescriptor) Kind() Kind { return KindKidTypeChunk }
func (d KidTypeChunkDescriptor) Path() string {
	return fmt.Sprintf("%s%s/%s/chunk.lst", d.KID.Hex(), d.HashType.Hex(), d.Coordinate)
}
func (KidTypeChunkDescriptor) descriptor() {}
