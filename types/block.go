package types

// DigestKind tags a digest log item.
type DigestKind uint8

const (
	// DigestPreRuntime is supplied by the block author before execution.
	DigestPreRuntime DigestKind = iota + 1
	// DigestConsensus is deposited by the runtime for consensus engines
	// (authority-set changes).
	DigestConsensus
	// DigestSeal is appended by the author after execution and is not
	// part of the runtime-produced digest.
	DigestSeal
	// DigestOther carries arbitrary runtime data.
	DigestOther
)

// DigestItem is a single digest log entry.
type DigestItem struct {
	Kind   DigestKind `cramberry:"1"`
	Engine [4]byte    `cramberry:"2"`
	Data   []byte     `cramberry:"3"`
}

// Digest is the ordered list of log items attached to a header.
type Digest struct {
	Logs []DigestItem `cramberry:"1"`
}

// WithoutSeals returns the digest minus any seal items, which are added
// by the author after the runtime has finished.
func (d Digest) WithoutSeals() Digest {
	var out Digest
	for _, l := range d.Logs {
		if l.Kind != DigestSeal {
			out.Logs = append(out.Logs, l)
		}
	}
	return out
}

// HasSeal reports whether d carries a seal item.
func (d Digest) HasSeal() bool {
	for _, l := range d.Logs {
		if l.Kind == DigestSeal {
			return true
		}
	}
	return false
}

// PreRuntime returns only the items supplied by the author before
// execution. These are what the runtime starts a block's digest from.
func (d Digest) PreRuntime() Digest {
	var out Digest
	for _, l := range d.Logs {
		if l.Kind == DigestPreRuntime {
			out.Logs = append(out.Logs, l)
		}
	}
	return out
}

// Header summarizes a block.
type Header struct {
	Number         uint64 `cramberry:"1"`
	ParentHash     Hash   `cramberry:"2"`
	StateRoot      Hash   `cramberry:"3"`
	ExtrinsicsRoot Hash   `cramberry:"4"`
	Digest         Digest `cramberry:"5"`
}

// Hash returns the blake2b-256 hash of the encoded header with seal
// items removed. A block therefore has the same hash before and after
// its author seals it, and the author's head links to the same parent
// as every importer's.
func (h Header) Hash() Hash {
	if h.Digest.HasSeal() {
		h.Digest = h.Digest.WithoutSeals()
	}
	return Blake2_256(MustEncode(&h))
}

// ID returns the block identifier for h.
func (h Header) ID() BlockID {
	return BlockID{Number: h.Number, Hash: h.Hash()}
}

// Block is a header plus its encoded extrinsics, in inclusion order.
type Block struct {
	Header     Header   `cramberry:"1"`
	Extrinsics [][]byte `cramberry:"2"`
}

// CommitResult is returned after the runtime's changes for a sealed
// block have been written to the backend.
type CommitResult struct {
	Block     BlockID `cramberry:"1"`
	StateRoot Hash    `cramberry:"2"`
	// Number of storage keys written or deleted.
	Changes uint32 `cramberry:"3"`
}
