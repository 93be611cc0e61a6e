// Package system is the pallet every runtime installs first. It owns
// the block context (number, parent hash, digest, randomness seed),
// per-account nonces, the event log, runtime-upgrade bookkeeping and
// the privileged sudo and storage calls.
package system

import (
	"fmt"

	"github.com/blockberries/frame/pallet"
	"github.com/blockberries/frame/storage"
	"github.com/blockberries/frame/types"
)

const (
	// Name is the system pallet's name and storage namespace seed.
	Name = "System"
	// Index is the system pallet's call routing index.
	Index uint8 = 0

	// BlockHashCount is how many recent block hashes are retained.
	BlockHashCount = 256
)

// CodeKey is the well-known key holding the runtime code blob.
var CodeKey = []byte(":code")

// Storage items.
var (
	AccountNonce = storage.NewMap(Name, "AccountNonce", storage.Blake2_128Concat, storage.AccountKey, storage.Uint64)
	Number       = storage.NewValue(Name, "Number", storage.Uint64)
	ParentHash   = storage.NewValue(Name, "ParentHash", storage.HashKey)
	BlockHash    = storage.NewMap(Name, "BlockHash", storage.Identity, storage.Uint64Key, storage.HashKey)

	ExtrinsicCount = storage.NewValue(Name, "ExtrinsicCount", storage.Uint32)
	ExtrinsicData  = storage.NewMap(Name, "ExtrinsicData", storage.Identity, storage.Uint32Key, storage.Bytes)
	BlockWeight    = storage.NewValue(Name, "BlockWeight", storage.Uint64)

	EventCount = storage.NewValue(Name, "EventCount", storage.Uint32)
	Events     = storage.NewMap(Name, "Events", storage.Identity, storage.Uint32Key, storage.Cramberry[types.EventRecord]())
	Digest     = storage.NewValue(Name, "Digest", storage.Cramberry[types.Digest]())

	LastRuntimeUpgrade = storage.NewValue(Name, "LastRuntimeUpgrade", storage.Cramberry[types.LastRuntimeUpgrade]())
	SudoKey            = storage.NewValue(Name, "SudoKey", storage.AccountKey)
)

// Event kinds.
const (
	EventExtrinsicSuccess = "ExtrinsicSuccess"
	EventExtrinsicFailed  = "ExtrinsicFailed"
	EventRemarked         = "Remarked"
	EventCodeUpdated      = "CodeUpdated"
	EventSudid            = "Sudid"
	EventSudoKeyChanged   = "KeySet"
)

// Pallet is the system pallet.
type Pallet struct{}

// New returns the system pallet.
func New() *Pallet { return &Pallet{} }

func (*Pallet) Name() string { return Name }
func (*Pallet) Index() uint8 { return Index }

func (*Pallet) Storage() []storage.ItemMeta {
	return []storage.ItemMeta{
		AccountNonce.Meta(), Number.Meta(), ParentHash.Meta(), BlockHash.Meta(),
		ExtrinsicCount.Meta(), ExtrinsicData.Meta(), BlockWeight.Meta(),
		EventCount.Meta(), Events.Meta(), Digest.Meta(),
		LastRuntimeUpgrade.Meta(), SudoKey.Meta(),
	}
}

func (*Pallet) Events() []string {
	return []string{EventExtrinsicSuccess, EventExtrinsicFailed, EventRemarked, EventCodeUpdated, EventSudid, EventSudoKeyChanged}
}

// OnInitialize prunes block hashes older than BlockHashCount.
func (*Pallet) OnInitialize(ctx *pallet.Context, n uint64) (types.Weight, error) {
	if n <= BlockHashCount {
		return 0, nil
	}
	if err := BlockHash.Kill(ctx.Store(), n-BlockHashCount-1); err != nil {
		return 0, err
	}
	return 10, nil
}

// Initialize sets up the block context for header. It runs before any
// pallet's OnInitialize hook.
func Initialize(ctx *pallet.Context, header types.Header) error {
	st := ctx.For(Name).Store()
	if err := Number.Put(st, header.Number); err != nil {
		return err
	}
	if err := ParentHash.Put(st, header.ParentHash); err != nil {
		return err
	}
	if header.Number > 0 {
		if err := BlockHash.Put(st, header.Number-1, header.ParentHash); err != nil {
			return err
		}
	}
	// Events are readable until the next block starts.
	if err := Events.Clear(st); err != nil {
		return err
	}
	if err := EventCount.Kill(st); err != nil {
		return err
	}
	if err := BlockWeight.Put(st, 0); err != nil {
		return err
	}
	if err := ExtrinsicCount.Put(st, 0); err != nil {
		return err
	}
	return Digest.Put(st, header.Digest.PreRuntime())
}

// Finalize removes the block-scoped items and returns the extrinsics
// of the block in order together with the accumulated digest.
func Finalize(ctx *pallet.Context) ([][]byte, types.Digest, error) {
	st := ctx.For(Name).Store()
	count, err := ExtrinsicCount.GetOrZero(st)
	if err != nil {
		return nil, types.Digest{}, err
	}
	xts := make([][]byte, 0, count)
	for i := uint32(0); i < count; i++ {
		raw, ok, err := ExtrinsicData.Get(st, i)
		if err != nil {
			return nil, types.Digest{}, err
		}
		if !ok {
			return nil, types.Digest{}, fmt.Errorf("extrinsic %d missing", i)
		}
		xts = append(xts, raw)
		if err := ExtrinsicData.Kill(st, i); err != nil {
			return nil, types.Digest{}, err
		}
	}
	digest, err := Digest.GetOrZero(st)
	if err != nil {
		return nil, types.Digest{}, err
	}
	if err := Digest.Kill(st); err != nil {
		return nil, types.Digest{}, err
	}
	if err := ExtrinsicCount.Kill(st); err != nil {
		return nil, types.Digest{}, err
	}
	return xts, digest, nil
}

// NoteExtrinsic records an applied extrinsic and returns its index.
func NoteExtrinsic(ctx *pallet.Context, raw []byte) (uint32, error) {
	st := ctx.For(Name).Store()
	idx, err := ExtrinsicCount.GetOrZero(st)
	if err != nil {
		return 0, err
	}
	if err := ExtrinsicData.Put(st, idx, raw); err != nil {
		return 0, err
	}
	return idx, ExtrinsicCount.Put(st, idx+1)
}

// ExtrinsicIndex returns the index the next applied extrinsic gets.
func ExtrinsicIndex(r storage.Reader) (uint32, error) {
	return ExtrinsicCount.GetOrZero(r)
}

// Nonce returns the next expected nonce of who.
func Nonce(r storage.Reader, who types.AccountID) (uint64, error) {
	return AccountNonce.GetOrZero(r, who)
}

// IncNonce bumps the nonce of who by one.
func IncNonce(ctx *pallet.Context, who types.AccountID) error {
	st := ctx.For(Name).Store()
	n, err := AccountNonce.GetOrZero(st, who)
	if err != nil {
		return err
	}
	return AccountNonce.Put(st, who, n+1)
}

// UsedWeight returns the weight consumed so far in the current block.
func UsedWeight(r storage.Reader) (types.Weight, error) {
	w, err := BlockWeight.GetOrZero(r)
	return types.Weight(w), err
}

// AddWeight charges w against the current block and returns the new total.
func AddWeight(ctx *pallet.Context, w types.Weight) (types.Weight, error) {
	st := ctx.For(Name).Store()
	used, err := UsedWeight(st)
	if err != nil {
		return 0, err
	}
	used = used.SaturatingAdd(w)
	return used, BlockWeight.Put(st, uint64(used))
}

// DepositEvent appends an event record to the block's event log.
func DepositEvent(st storage.Store, phase types.Phase, ev types.Event) error {
	idx, err := EventCount.GetOrZero(st)
	if err != nil {
		return err
	}
	if err := Events.Put(st, idx, types.EventRecord{Phase: phase, Event: ev}); err != nil {
		return err
	}
	return EventCount.Put(st, idx+1)
}

// ReadEvents returns the event log in deposit order.
func ReadEvents(r storage.Reader) ([]types.EventRecord, error) {
	n, err := EventCount.GetOrZero(r)
	if err != nil {
		return nil, err
	}
	out := make([]types.EventRecord, 0, n)
	for i := uint32(0); i < n; i++ {
		rec, ok, err := Events.Get(r, i)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

// DepositLog appends a digest item to the block's digest.
func DepositLog(st storage.Store, item types.DigestItem) error {
	d, err := Digest.GetOrZero(st)
	if err != nil {
		return err
	}
	d.Logs = append(d.Logs, item)
	return Digest.Put(st, d)
}

// RandomSeed returns the block-seeded randomness source:
// blake2b256(parent hash ‖ number).
func RandomSeed(r storage.Reader) (types.Hash, error) {
	parent, err := ParentHash.GetOrZero(r)
	if err != nil {
		return types.Hash{}, err
	}
	n, err := Number.GetOrZero(r)
	if err != nil {
		return types.Hash{}, err
	}
	enc, _ := storage.Uint64.Encode(n)
	return types.Blake2_256(parent[:], enc), nil
}

// NeedsUpgrade reports whether v is newer than the last runtime that
// executed a block, and records v as the last upgrade if so.
func NeedsUpgrade(ctx *pallet.Context, v types.RuntimeVersion) (bool, error) {
	st := ctx.For(Name).Store()
	last, ok, err := LastRuntimeUpgrade.Get(st)
	if err != nil {
		return false, err
	}
	if ok && last.SpecVersion >= v.SpecVersion && last.SpecName == v.SpecName {
		return false, nil
	}
	return true, LastRuntimeUpgrade.Put(st, types.LastRuntimeUpgrade{SpecVersion: v.SpecVersion, SpecName: v.SpecName})
}
