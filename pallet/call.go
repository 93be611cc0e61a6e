package pallet

import (
	"fmt"

	"github.com/blockberries/frame/types"
)

// Requirement is the origin a call demands.
type Requirement uint8

const (
	EnsureAny Requirement = iota
	EnsureSigned
	EnsureRoot
	EnsureNone
	EnsureSignedOrRoot
)

func (r Requirement) String() string {
	switch r {
	case EnsureAny:
		return "any"
	case EnsureSigned:
		return "signed"
	case EnsureRoot:
		return "root"
	case EnsureNone:
		return "none"
	case EnsureSignedOrRoot:
		return "signed|root"
	default:
		return fmt.Sprintf("Requirement(%d)", r)
	}
}

// Allows reports whether origin satisfies the requirement.
func (r Requirement) Allows(o types.Origin) bool {
	switch r {
	case EnsureAny:
		return true
	case EnsureSigned:
		return o.Kind == types.OriginSigned
	case EnsureRoot:
		return o.Kind == types.OriginRoot
	case EnsureNone:
		return o.Kind == types.OriginNone
	case EnsureSignedOrRoot:
		return o.Kind == types.OriginSigned || o.Kind == types.OriginRoot
	default:
		return false
	}
}

// CallSpec is one dispatchable call of a pallet. Build it with NewCall.
type CallSpec struct {
	Index  uint8
	Name   string
	Origin Requirement

	// Weigh returns the pre-dispatch weight for the encoded arguments.
	Weigh func(args []byte) (types.Weight, error)

	// Handle runs the call.
	Handle func(ctx *Context, args []byte) error
}

// NewCall builds a CallSpec whose arguments are a cramberry-encoded A.
// weight computes the pre-dispatch estimate from the decoded arguments;
// the handler may report a lower actual weight with ctx.SetActualWeight.
func NewCall[A any](index uint8, name string, origin Requirement, weight func(A) types.Weight, handler func(ctx *Context, args A) error) CallSpec {
	decode := func(raw []byte) (A, error) {
		var a A
		if err := types.DecodeCanonical(raw, &a); err != nil {
			return a, fmt.Errorf("%s: %w: %v", name, ErrCallDecode, err)
		}
		return a, nil
	}
	return CallSpec{
		Index:  index,
		Name:   name,
		Origin: origin,
		Weigh: func(raw []byte) (types.Weight, error) {
			a, err := decode(raw)
			if err != nil {
				return 0, err
			}
			return weight(a), nil
		},
		Handle: func(ctx *Context, raw []byte) error {
			a, err := decode(raw)
			if err != nil {
				return err
			}
			return handler(ctx, a)
		},
	}
}

// Fixed returns a weight function that ignores the arguments.
func Fixed[A any](w types.Weight) func(A) types.Weight {
	return func(A) types.Weight { return w }
}

// EncodeCall builds a Call for a pallet's call index with encoded args.
func EncodeCall(p Pallet, index uint8, args any) (types.Call, error) {
	return types.NewCall(p.Index(), index, args)
}
