package types

import (
	"crypto/ed25519"
	"fmt"

	"github.com/hdevalence/ed25519consensus"
)

// ExtrinsicVersion is the only extrinsic format version this module
// encodes and accepts.
const ExtrinsicVersion uint8 = 4

// maxUnhashedPayload is the signing payload size above which the
// payload is hashed before signing.
const maxUnhashedPayload = 256

// Call addresses a dispatchable function: the module index, the call
// index within that module and the cramberry-encoded arguments.
// Immutable once included in a block.
type Call struct {
	Module uint8  `cramberry:"1"`
	Index  uint8  `cramberry:"2"`
	Args   []byte `cramberry:"3"`
}

func (c Call) String() string {
	return fmt.Sprintf("call(%d.%d, %d bytes)", c.Module, c.Index, len(c.Args))
}

// NewCall builds a Call whose arguments are the cramberry encoding of args.
func NewCall(module, index uint8, args any) (Call, error) {
	data, err := Encode(args)
	if err != nil {
		return Call{}, err
	}
	return Call{Module: module, Index: index, Args: data}, nil
}

// SignatureData carries the signer, its signature, the per-signer nonce
// and the fee the signer offers for inclusion.
type SignatureData struct {
	Signer    AccountID `cramberry:"1"`
	Signature Signature `cramberry:"2"`
	Nonce     uint64    `cramberry:"3"`
	Fee       uint64    `cramberry:"4"`
}

// Extrinsic is the signed (or unsigned, for inherents) envelope around
// a Call. Never mutated after inclusion.
type Extrinsic struct {
	Version   uint8          `cramberry:"1"`
	Signature *SignatureData `cramberry:"2"`
	Call      Call           `cramberry:"3"`
}

// IsSigned returns true if the extrinsic carries a signature.
func (x Extrinsic) IsSigned() bool { return x.Signature != nil }

// Hash returns the blake2b-256 hash of the encoded extrinsic.
func (x Extrinsic) Hash() Hash {
	return Blake2_256(MustEncode(&x))
}

// EncodeExtrinsic serializes an extrinsic to its wire form.
func EncodeExtrinsic(x Extrinsic) ([]byte, error) {
	return Encode(&x)
}

// DecodeExtrinsic parses the wire form of an extrinsic. Unknown
// versions and non-canonical encodings are rejected.
func DecodeExtrinsic(data []byte) (Extrinsic, error) {
	var x Extrinsic
	if err := DecodeCanonical(data, &x); err != nil {
		return Extrinsic{}, err
	}
	if x.Version != ExtrinsicVersion {
		return Extrinsic{}, fmt.Errorf("unsupported extrinsic version %d", x.Version)
	}
	return x, nil
}

// NewUnsigned wraps call in an unsigned extrinsic.
func NewUnsigned(call Call) Extrinsic {
	return Extrinsic{Version: ExtrinsicVersion, Call: call}
}

// SigningContext binds signatures to one chain and one transaction
// format so they cannot be replayed elsewhere.
type SigningContext struct {
	GenesisHash        Hash   `cramberry:"1"`
	SpecVersion        uint32 `cramberry:"2"`
	TransactionVersion uint32 `cramberry:"3"`
}

// signingPayload is what a signer actually signs.
type signingPayload struct {
	Call    Call           `cramberry:"1"`
	Nonce   uint64         `cramberry:"2"`
	Fee     uint64         `cramberry:"3"`
	Context SigningContext `cramberry:"4"`
}

// SigningPayload returns the bytes signed for (call, nonce, fee) under
// sctx. Payloads longer than 256 bytes are replaced by their hash.
func SigningPayload(call Call, nonce, fee uint64, sctx SigningContext) ([]byte, error) {
	data, err := Encode(&signingPayload{Call: call, Nonce: nonce, Fee: fee, Context: sctx})
	if err != nil {
		return nil, err
	}
	if len(data) > maxUnhashedPayload {
		h := Blake2_256(data)
		return h[:], nil
	}
	return data, nil
}

// Sign builds a signed extrinsic for call.
func Sign(key ed25519.PrivateKey, call Call, nonce, fee uint64, sctx SigningContext) (Extrinsic, error) {
	payload, err := SigningPayload(call, nonce, fee, sctx)
	if err != nil {
		return Extrinsic{}, err
	}
	sd := &SignatureData{Nonce: nonce, Fee: fee}
	copy(sd.Signer[:], key.Public().(ed25519.PublicKey))
	copy(sd.Signature[:], ed25519.Sign(key, payload))
	return Extrinsic{Version: ExtrinsicVersion, Signature: sd, Call: call}, nil
}

// VerifySignature checks the extrinsic's signature under sctx using
// ZIP-215 verification rules, which every node applies identically.
// Unsigned extrinsics never verify.
func VerifySignature(x Extrinsic, sctx SigningContext) bool {
	if x.Signature == nil {
		return false
	}
	payload, err := SigningPayload(x.Call, x.Signature.Nonce, x.Signature.Fee, sctx)
	if err != nil {
		return false
	}
	return ed25519consensus.Verify(ed25519.PublicKey(x.Signature.Signer[:]), payload, x.Signature.Signature[:])
}
