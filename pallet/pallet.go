// Package pallet defines the contract every pluggable unit of chain
// logic implements to be composed into a runtime.
//
// The core [Pallet] interface is required: identity, declared storage
// and dispatchable calls. Lifecycle hooks, migrations, genesis and
// unsigned validation are optional capabilities discovered via Go type
// assertion, the same way the host discovers runtime capabilities.
package pallet

import (
	"github.com/blockberries/frame/storage"
	"github.com/blockberries/frame/types"
)

// Pallet is the interface every pallet must implement.
//
// Name seeds the pallet's storage namespace and Index routes calls to
// it. Both are part of the runtime's compiled identity: changing either
// without a migration makes existing state or transactions unreadable.
type Pallet interface {
	Name() string
	Index() uint8

	// Storage lists the pallet's declared storage items. Every item must
	// live under the pallet's namespace.
	Storage() []storage.ItemMeta

	// Calls lists the pallet's dispatchable calls. Call indices are
	// stable wire identifiers.
	Calls() []CallSpec
}

// Initializer runs before any extrinsic of a block is applied. The
// returned weight is charged against the block.
//
// A returned error is fatal for the block: there is no rollback point
// above a hook.
type Initializer interface {
	OnInitialize(ctx *Context, number uint64) (types.Weight, error)
}

// Finalizer runs after every extrinsic of a block has been applied.
// A returned error is fatal for the block.
type Finalizer interface {
	OnFinalize(ctx *Context, number uint64) error
}

// OffchainWorker runs after a block is imported, against committed
// state. It cannot write state; it may submit unsigned calls.
type OffchainWorker interface {
	OffchainWorker(octx *OffchainContext, number uint64) error
}

// Migrator upgrades a pallet's storage layout. Migrate is called once,
// in the first block executed by a runtime whose spec version is newer
// than the stored one, when the on-chain storage version is lower than
// StorageVersion.
type Migrator interface {
	StorageVersion() uint16
	Migrate(ctx *Context, from uint16) (types.Weight, error)
}

// GenesisBuilder initializes the pallet's storage from its section of
// the genesis config.
type GenesisBuilder interface {
	BuildGenesis(ctx *Context, raw []byte) error
}

// UnsignedValidator decides whether an unsigned call may enter the pool
// or a block. Pallets that accept no unsigned calls do not implement it.
//
// It must not mutate state.
type UnsignedValidator interface {
	ValidateUnsigned(r storage.Reader, source types.TransactionSource, call types.Call) (types.ValidTransaction, error)
}

// EventDeclarer lists the event kinds a pallet emits, for metadata.
type EventDeclarer interface {
	Events() []string
}

// Querier answers state queries addressed to the pallet, paths of the
// form /<pallet>/<item> with the pallet name lower-cased.
type Querier interface {
	Query(r storage.Reader, item string, data []byte) (types.StateQueryResult, error)
}

// FeeCharger moves transaction fees. Exactly one installed pallet
// (usually balances) implements it.
type FeeCharger interface {
	// CanWithdrawFee checks, without side effects, that who can pay fee.
	CanWithdrawFee(r storage.Reader, who types.AccountID, fee uint64) error

	// WithdrawFee takes fee from who. It is called outside the dispatch
	// transaction, so the fee survives a failed call.
	WithdrawFee(ctx *Context, who types.AccountID, fee uint64) error
}

// AuthoritySource owns the consensus authority set. At most one
// installed pallet (usually session) implements it.
type AuthoritySource interface {
	CurrentAuthorities(r storage.Reader) (types.AuthoritySet, error)
	NextAuthorities(r storage.Reader) (types.AuthoritySet, error)

	// OffenceCall builds the unsigned call that reports an offence.
	OffenceCall(report types.OffenceReport) (types.Call, error)
}

// StorageVersionOf returns the layout version a pallet expects.
func StorageVersionOf(p Pallet) uint16 {
	if m, ok := p.(Migrator); ok {
		return m.StorageVersion()
	}
	return 0
}
