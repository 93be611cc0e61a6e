package frame

import (
	"errors"
	"fmt"

	"github.com/blockberries/frame/types"
)

// FatalError signals that a block cannot be accepted: weight overrun,
// root or digest mismatch, undecodable block data, a failing hook.
//
// When the host receives a FatalError it must discard the block, must
// not call Commit, and must not retry the same block.
type FatalError struct {
	Kind   types.FatalKind
	Number uint64
	Reason string
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("FATAL at block %d: %s: %s", e.Number, e.Kind, e.Reason)
}

// Info returns the wire form of the error.
func (e *FatalError) Info() types.FatalInfo {
	return types.FatalInfo{Kind: e.Kind, Number: e.Number, Reason: e.Reason}
}

// NewFatalError creates a new FatalError.
func NewFatalError(kind types.FatalKind, number uint64, reason string) *FatalError {
	return &FatalError{Kind: kind, Number: number, Reason: reason}
}

// Fatalf creates a FatalError with a formatted reason.
func Fatalf(kind types.FatalKind, number uint64, format string, args ...any) *FatalError {
	return NewFatalError(kind, number, fmt.Sprintf(format, args...))
}

// FatalFromInfo rebuilds a FatalError from its wire form.
func FatalFromInfo(info types.FatalInfo) *FatalError {
	return NewFatalError(info.Kind, info.Number, info.Reason)
}

// IsFatal checks whether an error is a FatalError and returns it.
func IsFatal(err error) (*FatalError, bool) {
	var f *FatalError
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// IsInvalid checks whether an error is a transaction validity error
// and returns it.
func IsInvalid(err error) (*types.TransactionValidityError, bool) {
	var v *types.TransactionValidityError
	if errors.As(err, &v) {
		return v, true
	}
	return nil, false
}
