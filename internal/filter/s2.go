package filter

import (
	"fmt"

	"github.com/klauspost/compress/s2"
)

// S2 implements S2 compression.
type S2 struct{}

// NewS2 creates an s2 filter.
func NewS2() *S2 {
	return &S2{}
}

func (f *S2) ID() ID {
	return IDS2
}

func (f *S2) Encode(input []byte) ([]byte, error) {
	return s2.Encode(nil, input), nil
}

func (f *S2) Decode(input []byte) ([]byte, error) {
	output, err := s2.Decode(nil, input)
	if err != nil {
		return nil, fmt.Errorf("%w: s2: %v", ErrCorrupt, err)
	}
	return output, nil
}
