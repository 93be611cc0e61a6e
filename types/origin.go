package types

import "fmt"

// OriginKind classifies the authenticated source of a dispatch.
type OriginKind uint8

const (
	// OriginNone is used for unsigned extrinsics and inherents.
	OriginNone OriginKind = iota
	// OriginSigned carries the signing account.
	OriginSigned
	// OriginRoot is the privileged origin.
	OriginRoot
)

// Origin is the caller of a dispatched call. Every dispatch carries
// exactly one.
type Origin struct {
	Kind    OriginKind
	Account AccountID
}

// NoneOrigin returns the unsigned origin.
func NoneOrigin() Origin { return Origin{Kind: OriginNone} }

// RootOrigin returns the privileged origin.
func RootOrigin() Origin { return Origin{Kind: OriginRoot} }

// SignedOrigin returns the origin of account a.
func SignedOrigin(a AccountID) Origin { return Origin{Kind: OriginSigned, Account: a} }

// Signer returns the signing account, or false if the origin is not signed.
func (o Origin) Signer() (AccountID, bool) {
	if o.Kind != OriginSigned {
		return AccountID{}, false
	}
	return o.Account, true
}

func (o Origin) String() string {
	switch o.Kind {
	case OriginNone:
		return "none"
	case OriginSigned:
		return fmt.Sprintf("signed(%s)", o.Account)
	case OriginRoot:
		return "root"
	default:
		return "unknown"
	}
}
