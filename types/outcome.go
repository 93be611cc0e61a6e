package types

import "fmt"

// DispatchErrorInfo describes why a dispatched call failed. The
// extrinsic is still included and its fee kept.
type DispatchErrorInfo struct {
	// Module index the error came from; 0 with Code 0 means a
	// router-level error named by Name.
	Module uint8  `cramberry:"1"`
	Code   uint8  `cramberry:"2"`
	Name   string `cramberry:"3"`
}

func (e DispatchErrorInfo) String() string {
	return fmt.Sprintf("%s (module %d, code %d)", e.Name, e.Module, e.Code)
}

// ApplyOutcome is the result of applying one extrinsic that was
// included in the block.
type ApplyOutcome struct {
	// Position of this extrinsic in the block (0-indexed).
	Index   uint32 `cramberry:"1"`
	Success bool   `cramberry:"2"`
	// Set when Success is false.
	Error *DispatchErrorInfo `cramberry:"3"`
	// Weight charged against the block, base weight included.
	ActualWeight Weight `cramberry:"4"`
	// Fee withdrawn from the signer.
	Fee uint64 `cramberry:"5"`
}

// BlockOutcome is the comprehensive output of executing a block.
type BlockOutcome struct {
	Header   Header         `cramberry:"1"`
	Outcomes []ApplyOutcome `cramberry:"2"`
	Events   []EventRecord  `cramberry:"3"`
	// Total weight consumed by the block.
	Weight Weight `cramberry:"4"`
}

// FatalKind classifies errors that reject the whole block.
type FatalKind uint8

const (
	FatalWeightOverrun FatalKind = iota + 1
	FatalStateRootMismatch
	FatalExtrinsicsRootMismatch
	FatalDigestMismatch
	FatalDecodeFailure
	FatalHookFailure
	FatalInvalidExtrinsic
	FatalStorageFailure
	FatalPanic
	FatalBadBlock
)

var fatalNames = [...]string{
	FatalWeightOverrun:          "WeightOverrun",
	FatalStateRootMismatch:      "StateRootMismatch",
	FatalExtrinsicsRootMismatch: "ExtrinsicsRootMismatch",
	FatalDigestMismatch:         "DigestMismatch",
	FatalDecodeFailure:          "DecodeFailure",
	FatalHookFailure:            "HookFailure",
	FatalInvalidExtrinsic:       "InvalidExtrinsic",
	FatalStorageFailure:         "StorageFailure",
	FatalPanic:                  "Panic",
	FatalBadBlock:               "BadBlock",
}

func (k FatalKind) String() string {
	if int(k) < len(fatalNames) && fatalNames[k] != "" {
		return fatalNames[k]
	}
	return fmt.Sprintf("FatalKind(%d)", k)
}

// FatalInfo is the wire form of a fatal block error.
type FatalInfo struct {
	Kind   FatalKind `cramberry:"1"`
	Number uint64    `cramberry:"2"`
	Reason string    `cramberry:"3"`
}
