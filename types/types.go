// Package types defines the wire types shared by the runtime core and
// the host node: hashes, accounts, calls, extrinsics, headers, events,
// version descriptors and validity results.
//
// These are plain Go structs with cramberry struct tags for
// deterministic binary serialization. Transport concerns
// (gRPC codec registration) are handled in the transport packages.
package types

import (
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Hash is a 32-byte blake2b-256 digest.
type Hash [32]byte

// Hex returns the 0x-prefixed hex form of the hash.
func (h Hash) Hex() string { return "0x" + hex.EncodeToString(h[:]) }

func (h Hash) String() string { return h.Hex() }

// IsZero reports whether h is the all-zero hash.
func (h Hash) IsZero() bool { return h == Hash{} }

// Blake2_256 hashes data with blake2b-256.
func Blake2_256(data ...[]byte) Hash {
	d, _ := blake2b.New256(nil) // unkeyed; never fails
	for _, b := range data {
		d.Write(b)
	}
	var h Hash
	copy(h[:], d.Sum(nil))
	return h
}

// Blake2_128 hashes data with blake2b truncated to 128 bits.
func Blake2_128(data []byte) [16]byte {
	d, _ := blake2b.New(16, nil)
	d.Write(data)
	var out [16]byte
	copy(out[:], d.Sum(nil))
	return out
}

// AccountID is an ed25519 public key identifying a signer.
type AccountID [32]byte

// Hex returns the 0x-prefixed hex form of the account.
func (a AccountID) Hex() string { return "0x" + hex.EncodeToString(a[:]) }

func (a AccountID) String() string { return a.Hex() }

// MarshalText encodes the account as 0x-prefixed hex. Used by YAML
// genesis files.
func (a AccountID) MarshalText() ([]byte, error) { return []byte(a.Hex()), nil }

// UnmarshalText parses a 0x-prefixed (or bare) hex account.
func (a *AccountID) UnmarshalText(text []byte) error {
	id, err := ParseAccountID(string(text))
	if err != nil {
		return err
	}
	*a = id
	return nil
}

// ParseAccountID parses a 32-byte hex account identifier.
func ParseAccountID(s string) (AccountID, error) {
	var a AccountID
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return a, fmt.Errorf("parse account %q: %w", s, err)
	}
	if len(raw) != len(a) {
		return a, fmt.Errorf("parse account %q: want %d bytes, got %d", s, len(a), len(raw))
	}
	copy(a[:], raw)
	return a, nil
}

// Signature is a 64-byte ed25519 signature.
type Signature [64]byte

// QueryPath is a structured key for state queries
// (e.g., "/system/nonce").
type QueryPath string

// BlockID uniquely identifies a point in the chain.
type BlockID struct {
	Number uint64 `cramberry:"1"`
	Hash   Hash   `cramberry:"2"`
}
