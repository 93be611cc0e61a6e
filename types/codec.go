package types

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/blockberries/cramberry/pkg/cramberry"
)

// ErrNonCanonical is returned when decoded bytes do not re-encode to
// the same byte string.
var ErrNonCanonical = errors.New("non-canonical encoding")

// Encode serializes v with cramberry.
func Encode(v any) ([]byte, error) {
	data, err := cramberry.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return data, nil
}

// MustEncode is Encode for values whose encoding cannot fail (fixed
// wire types built by this module). It panics otherwise.
func MustEncode(v any) []byte {
	data, err := Encode(v)
	if err != nil {
		panic(err)
	}
	return data
}

// Decode deserializes data into v with cramberry.
func Decode(data []byte, v any) error {
	if err := cramberry.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	return nil
}

// DecodeCanonical decodes data into v and rejects inputs that do not
// re-encode byte-for-byte, so every accepted encoding has exactly one
// representation.
func DecodeCanonical(data []byte, v any) error {
	if err := Decode(data, v); err != nil {
		return err
	}
	again, err := Encode(v)
	if err != nil {
		return err
	}
	if !bytes.Equal(again, data) {
		return fmt.Errorf("decode %T: %w", v, ErrNonCanonical)
	}
	return nil
}
