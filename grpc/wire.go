package framegrpc

import (
	"github.com/blockberries/frame"
	"github.com/blockberries/frame/types"
)

// Transport-specific wrapper types for RPC methods whose interface
// signatures don't map to a single request/response struct.
// These are used only for gRPC serialization boundaries.

// Failure carries the typed errors the host must act on. Any other
// error travels as a gRPC status.
type Failure struct {
	Invalid *types.TransactionValidityError `cramberry:"1"`
	Fatal   *types.FatalInfo                `cramberry:"2"`
}

// failureOf splits err into its wire form. The second result is the
// error that must travel as a status instead, if any.
func failureOf(err error) (*Failure, error) {
	if err == nil {
		return nil, nil
	}
	if f, ok := frame.IsFatal(err); ok {
		info := f.Info()
		return &Failure{Fatal: &info}, nil
	}
	if v, ok := frame.IsInvalid(err); ok {
		return &Failure{Invalid: v}, nil
	}
	return nil, err
}

// Err rebuilds the typed error. A nil Failure is no error.
func (f *Failure) Err() error {
	switch {
	case f == nil:
		return nil
	case f.Fatal != nil:
		return frame.FatalFromInfo(*f.Fatal)
	case f.Invalid != nil:
		return f.Invalid
	default:
		return nil
	}
}

// VersionRequest is the (empty) request for Runtime.Version.
type VersionRequest struct{}

// InitializeBlockRequest wraps the parameter for Runtime.InitializeBlock.
type InitializeBlockRequest struct {
	Header types.Header `cramberry:"1"`
}

// InitializeBlockResponse reports whether the block was opened.
type InitializeBlockResponse struct {
	Failure *Failure `cramberry:"1"`
}

// ExtrinsicRequest carries one encoded extrinsic, for ApplyExtrinsic
// and Simulate.
type ExtrinsicRequest struct {
	Extrinsic []byte `cramberry:"1"`
}

// ApplyResponse wraps the result of ApplyExtrinsic and Simulate.
type ApplyResponse struct {
	Outcome types.ApplyOutcome `cramberry:"1"`
	Failure *Failure           `cramberry:"2"`
}

// FinalizeBlockRequest is the (empty) request for Runtime.FinalizeBlock.
type FinalizeBlockRequest struct{}

// FinalizeBlockResponse wraps the sealed header.
type FinalizeBlockResponse struct {
	Header  types.Header `cramberry:"1"`
	Failure *Failure     `cramberry:"2"`
}

// ExecuteBlockResponse wraps the result of Runtime.ExecuteBlock.
type ExecuteBlockResponse struct {
	Outcome types.BlockOutcome `cramberry:"1"`
	Failure *Failure           `cramberry:"2"`
}

// CommitRequest is the (empty) request for Runtime.Commit.
type CommitRequest struct{}

// CommitResponse wraps the result of Runtime.Commit.
type CommitResponse struct {
	Result  types.CommitResult `cramberry:"1"`
	Failure *Failure           `cramberry:"2"`
}

// AbortRequest is the (empty) request to abandon the open block.
type AbortRequest struct{}

// AbortResponse is the (empty) reply to AbortRequest.
type AbortResponse struct{}

// ValidateTransactionRequest wraps the parameters for
// Runtime.ValidateTransaction.
type ValidateTransactionRequest struct {
	Source    types.TransactionSource `cramberry:"1"`
	Extrinsic []byte                  `cramberry:"2"`
}

// ValidateTransactionResponse wraps the validity verdict.
type ValidateTransactionResponse struct {
	Valid   types.ValidTransaction `cramberry:"1"`
	Failure *Failure               `cramberry:"2"`
}

// AuthoritiesRequest is the (empty) request for the authority set RPCs.
type AuthoritiesRequest struct{}

// ExtrinsicsResponse carries encoded extrinsics produced by the
// runtime, from ReportOffence and OffchainWorker.
type ExtrinsicsResponse struct {
	Extrinsics [][]byte `cramberry:"1"`
}

// OffchainWorkerRequest wraps the parameter for
// OffchainWorkerAPI.OffchainWorker.
type OffchainWorkerRequest struct {
	Header types.Header `cramberry:"1"`
}
