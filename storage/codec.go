package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/blockberries/frame/types"
)

// Codec serializes stored values.
type Codec[T any] interface {
	Encode(v T) ([]byte, error)
	Decode(data []byte) (T, error)
}

type fixedCodec[T any] struct {
	size int
	put  func([]byte, T)
	get  func([]byte) T
}

func (c fixedCodec[T]) Encode(v T) ([]byte, error) {
	b := make([]byte, c.size)
	c.put(b, v)
	return b, nil
}

func (c fixedCodec[T]) Decode(data []byte) (T, error) {
	if len(data) != c.size {
		var zero T
		return zero, fmt.Errorf("want %d bytes, got %d", c.size, len(data))
	}
	return c.get(data), nil
}

// Fixed-width big-endian integer codecs. Big-endian keeps key order
// equal to numeric order when used in map keys.
var (
	Uint16 Codec[uint16] = fixedCodec[uint16]{2, binary.BigEndian.PutUint16, binary.BigEndian.Uint16}
	Uint32 Codec[uint32] = fixedCodec[uint32]{4, binary.BigEndian.PutUint32, binary.BigEndian.Uint32}
	Uint64 Codec[uint64] = fixedCodec[uint64]{8, binary.BigEndian.PutUint64, binary.BigEndian.Uint64}
)

type bytesCodec struct{}

func (bytesCodec) Encode(v []byte) ([]byte, error)    { return bytes.Clone(v), nil }
func (bytesCodec) Decode(data []byte) ([]byte, error) { return bytes.Clone(data), nil }

// Bytes stores raw byte slices.
var Bytes Codec[[]byte] = bytesCodec{}

type boolCodec struct{}

func (boolCodec) Encode(v bool) ([]byte, error) {
	if v {
		return []byte{1}, nil
	}
	return []byte{0}, nil
}

func (boolCodec) Decode(data []byte) (bool, error) {
	if len(data) != 1 || data[0] > 1 {
		return false, fmt.Errorf("invalid bool encoding %x", data)
	}
	return data[0] == 1, nil
}

// Bool stores a single byte 0 or 1.
var Bool Codec[bool] = boolCodec{}

type cramberryCodec[T any] struct{}

func (cramberryCodec[T]) Encode(v T) ([]byte, error) { return types.Encode(&v) }

func (cramberryCodec[T]) Decode(data []byte) (T, error) {
	var v T
	err := types.Decode(data, &v)
	return v, err
}

// Cramberry stores values of any cramberry-tagged struct type.
func Cramberry[T any]() Codec[T] { return cramberryCodec[T]{} }

// Key codecs. A key codec's Decode must accept exactly what Encode
// produced so that map iteration can recover keys.
var (
	AccountKey Codec[types.AccountID] = fixedCodec[types.AccountID]{
		size: 32,
		put:  func(b []byte, a types.AccountID) { copy(b, a[:]) },
		get: func(b []byte) types.AccountID {
			var a types.AccountID
			copy(a[:], b)
			return a
		},
	}
	HashKey Codec[types.Hash] = fixedCodec[types.Hash]{
		size: 32,
		put:  func(b []byte, h types.Hash) { copy(b, h[:]) },
		get: func(b []byte) types.Hash {
			var h types.Hash
			copy(h[:], b)
			return h
		},
	}
	Uint32Key = Uint32
	Uint64Key = Uint64
	BytesKey  = Bytes
)
