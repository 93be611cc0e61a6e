package pallet

import (
	"errors"
	"fmt"
)

// Router-level dispatch errors. Like module errors they fail the
// extrinsic, not the block.
var (
	ErrBadOrigin   = errors.New("BadOrigin")
	ErrUnknownCall = errors.New("UnknownCall")
	ErrCallDecode  = errors.New("CallDecode")
)

// ModuleError is a pallet-defined business-rule failure. Declare them
// as package-level values and compare with errors.Is.
type ModuleError struct {
	Code uint8
	Name string
}

// NewError declares a module error.
func NewError(code uint8, name string) *ModuleError {
	return &ModuleError{Code: code, Name: name}
}

func (e *ModuleError) Error() string { return e.Name }

// Wrap annotates the error while keeping it matchable.
func (e *ModuleError) Wrap(format string, args ...any) error {
	return fmt.Errorf("%w: %s", e, fmt.Sprintf(format, args...))
}
