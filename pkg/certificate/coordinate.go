package certificate

import (
	"errors"
	"fmt"
)

var ErrShortHash = errors.New("hash too short for a coordinate")

// Coordinate is the two byte bucket address of a hash.
type Coordinate struct {
	X byte
	Y byte
}

func NewCoordinate(hash []byte) (Coordinate, error) {
	if len(hash) < 2 {
		return Coordinate{}, ErrShortHash
	}
	return Coordinate{X: hash[0], Y: hash[1]}, nil
}

// String is the chunk path segment, "xx/yy".
func (c Coordinate) String() string {
	return fmt.Sprintf("%02x/%02x", c.X, c.Y)
}
