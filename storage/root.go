package storage

import (
	"encoding/binary"

	"github.com/blockberries/frame/types"
)

var (
	leafTag = []byte("leaf")
	nodeTag = []byte("node")
)

// LeafHash hashes a key/value pair as a Merkle leaf.
func LeafHash(key, value []byte) types.Hash {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(key)))
	return types.Blake2_256(leafTag, n[:], key, value)
}

// MerkleRoot folds leaves pairwise into a binary Merkle root. An odd
// node at any level is promoted unchanged. The root of no leaves is
// the zero hash.
func MerkleRoot(leaves []types.Hash) types.Hash {
	if len(leaves) == 0 {
		return types.Hash{}
	}
	level := append([]types.Hash(nil), leaves...)
	for len(level) > 1 {
		next := level[:0]
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, level[i])
				continue
			}
			next = append(next, types.Blake2_256(nodeTag, level[i][:], level[i+1][:]))
		}
		level = next
	}
	return level[0]
}

// StateRoot computes the Merkle root over every key/value pair in r,
// in ascending key order.
func StateRoot(r Reader) (types.Hash, error) {
	var leaves []types.Hash
	err := r.Iterate(nil, func(k, v []byte) bool {
		leaves = append(leaves, LeafHash(k, v))
		return true
	})
	if err != nil {
		return types.Hash{}, err
	}
	return MerkleRoot(leaves), nil
}

// OrderedRoot computes the Merkle root of an ordered list, keyed by
// position. Used for the extrinsics root.
func OrderedRoot(items [][]byte) types.Hash {
	leaves := make([]types.Hash, len(items))
	for i, item := range items {
		var idx [4]byte
		binary.BigEndian.PutUint32(idx[:], uint32(i))
		leaves[i] = LeafHash(idx[:], item)
	}
	return MerkleRoot(leaves)
}
