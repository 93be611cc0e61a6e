// Package frame defines the boundary between a host node and the
// runtime: the deterministic state-transition function that turns a
// previous chain state plus an ordered batch of extrinsics into a new
// chain state.
//
// The core [Runtime] interface is required. All other interfaces are
// optional capabilities discovered via Go type assertion at handshake
// time and declared in HandshakeResponse.Capabilities.
package frame

import (
	"context"

	"github.com/blockberries/frame/types"
)

// Runtime is the set of entry points every runtime exposes to the host.
//
// The host guarantees the following call order:
//  1. Handshake is called exactly once, before anything else.
//  2. A block is either built with InitializeBlock, ApplyExtrinsic*,
//     FinalizeBlock, or imported with ExecuteBlock.
//  3. Commit is called exactly once after each built or imported block.
//  4. ValidateTransaction and Query may be called concurrently at any
//     time after Handshake; they observe the last committed state.
//
// A *FatalError from any block entry point rejects the block: the host
// must not call Commit and must discard the runtime's pending state.
type Runtime interface {
	// Version returns the runtime version descriptor. The host refuses
	// to execute a runtime whose descriptor it does not support.
	Version() types.RuntimeVersion

	// Handshake is called once on every startup (cold start or restart).
	//
	// If LastCommitted is nil this is a fresh chain and Genesis is
	// populated; the runtime builds and commits its genesis state.
	Handshake(ctx context.Context, req types.HandshakeRequest) (types.HandshakeResponse, error)

	// InitializeBlock starts a new block on top of the last committed
	// one and runs every pallet's on-initialize hook in the fixed
	// pallet order.
	InitializeBlock(ctx context.Context, header types.Header) error

	// ApplyExtrinsic validates and dispatches one encoded extrinsic in
	// the block under construction.
	//
	// A *types.TransactionValidityError means the extrinsic must not be
	// included; state is unchanged. A failed dispatch is not an error:
	// it is reported in the outcome and the fee is still charged.
	ApplyExtrinsic(ctx context.Context, raw []byte) (types.ApplyOutcome, error)

	// FinalizeBlock runs every pallet's on-finalize hook and returns the
	// sealed header with its extrinsics root, digest and state root.
	FinalizeBlock(ctx context.Context) (types.Header, error)

	// ExecuteBlock imports a block produced elsewhere. Every extrinsic
	// must apply, and the computed roots and digest must equal the
	// header's; anything else is fatal.
	ExecuteBlock(ctx context.Context, block types.Block) (types.BlockOutcome, error)

	// Commit persists the changes of the last sealed block.
	//
	// Must be crash-safe: either all changes land, or none do.
	Commit(ctx context.Context) (types.CommitResult, error)

	// ValidateTransaction checks a transaction against the last
	// committed state without mutating it. It MUST be safe for
	// concurrent use.
	ValidateTransaction(ctx context.Context, source types.TransactionSource, raw []byte) (types.ValidTransaction, error)

	// Query reads committed state. It MUST be safe for concurrent use.
	Query(ctx context.Context, req types.StateQuery) (types.StateQueryResult, error)
}

// AuthorityAPI is the read surface consensus engines use to learn the
// validator set, and the path through which they report misbehavior.
//
// Declared via: types.CapAuthorities in HandshakeResponse.Capabilities
type AuthorityAPI interface {
	// CurrentAuthorities returns the active authority set.
	CurrentAuthorities(ctx context.Context) (types.AuthoritySet, error)

	// NextAuthorities returns the set that becomes active at the next
	// session boundary.
	NextAuthorities(ctx context.Context) (types.AuthoritySet, error)

	// ReportOffence turns a misbehavior report into an encoded unsigned
	// extrinsic the host submits to its pool.
	ReportOffence(ctx context.Context, report types.OffenceReport) ([]byte, error)
}

// OffchainWorkerAPI runs pallets' offchain workers after a block has
// been imported. Workers read committed state and may only submit
// unsigned extrinsics, which are returned encoded.
//
// Declared via: types.CapOffchainWorker in HandshakeResponse.Capabilities
type OffchainWorkerAPI interface {
	OffchainWorker(ctx context.Context, header types.Header) ([][]byte, error)
}

// Simulator provides a dedicated path for dry-run execution.
//
// Declared via: types.CapSimulation in HandshakeResponse.Capabilities
type Simulator interface {
	// Simulate applies an extrinsic on top of the committed state
	// without persisting any changes. It MUST be safe for concurrent use.
	Simulate(ctx context.Context, raw []byte) (types.ApplyOutcome, error)
}

// FullRuntime is a convenience interface that embeds all runtime APIs.
type FullRuntime interface {
	Runtime
	AuthorityAPI
	OffchainWorkerAPI
	Simulator
}

// Connection represents a transport-agnostic connection to a runtime.
// Both gRPC clients and in-process adapters implement this.
type Connection interface {
	Runtime

	// Capabilities returns the capabilities discovered at handshake.
	// Must only be called after Handshake completes.
	Capabilities() types.Capabilities

	// AsAuthorityAPI returns the AuthorityAPI interface if available,
	// or nil if the runtime does not support it.
	AsAuthorityAPI() AuthorityAPI

	// AsOffchainWorker returns the OffchainWorkerAPI interface if available.
	AsOffchainWorker() OffchainWorkerAPI

	// AsSimulator returns the Simulator interface if available.
	AsSimulator() Simulator

	// Close terminates the connection.
	Close() error
}

// CapabilitiesOf derives the capability bitfield from the optional
// interfaces rt implements.
func CapabilitiesOf(rt Runtime) types.Capabilities {
	var caps types.Capabilities
	if _, ok := rt.(AuthorityAPI); ok {
		caps |= types.CapAuthorities
	}
	if _, ok := rt.(OffchainWorkerAPI); ok {
		caps |= types.CapOffchainWorker
	}
	if _, ok := rt.(Simulator); ok {
		caps |= types.CapSimulation
	}
	return caps
}
