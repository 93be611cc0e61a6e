// Package balances is a reference pallet holding account balances. It
// pays transaction fees for the runtime and lets other pallets reserve
// and slash funds.
package balances

import (
	"fmt"
	"math/bits"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/blockberries/frame/pallet"
	"github.com/blockberries/frame/storage"
	"github.com/blockberries/frame/types"
)

const (
	Name        = "Balances"
	Index uint8 = 1

	// storageVersion 1 keeps free and reserved funds together in Account.
	storageVersion = 1
)

// Call indices.
const (
	CallTransfer uint8 = iota
	CallForceSetBalance
)

// Event kinds.
const (
	EventTransfer   = "Transfer"
	EventBalanceSet = "BalanceSet"
	EventWithdraw   = "Withdraw"
	EventReserved   = "Reserved"
	EventUnreserved = "Unreserved"
	EventSlashed    = "Slashed"
)

// Module errors.
var (
	ErrInsufficientBalance = pallet.NewError(1, "InsufficientBalance")
	ErrZeroAmount          = pallet.NewError(2, "ZeroAmount")
	ErrOverflow            = pallet.NewError(3, "Overflow")
	ErrSelfTransfer        = pallet.NewError(4, "SelfTransfer")
)

// AccountData is the balance record of one account.
type AccountData struct {
	Free     uint64 `cramberry:"1"`
	Reserved uint64 `cramberry:"2"`
}

// Total returns free plus reserved funds.
func (a AccountData) Total() uint64 { return a.Free + a.Reserved }

// Storage items.
var (
	Account       = storage.NewMap(Name, "Account", storage.Blake2_128Concat, storage.AccountKey, storage.Cramberry[AccountData]())
	TotalIssuance = storage.NewValue(Name, "TotalIssuance", storage.Uint64)

	// legacyFree is the version 0 layout: free balance only.
	legacyFree = storage.NewMap(Name, "Free", storage.Blake2_128Concat, storage.AccountKey, storage.Uint64)
)

type TransferArgs struct {
	Dest   types.AccountID `cramberry:"1"`
	Amount uint64          `cramberry:"2"`
}

type ForceSetBalanceArgs struct {
	Who  types.AccountID `cramberry:"1"`
	Free uint64          `cramberry:"2"`
}

// Pallet is the balances pallet.
type Pallet struct{}

func New() *Pallet { return &Pallet{} }

var (
	_ pallet.FeeCharger     = (*Pallet)(nil)
	_ pallet.GenesisBuilder = (*Pallet)(nil)
	_ pallet.Migrator       = (*Pallet)(nil)
	_ pallet.Querier        = (*Pallet)(nil)
)

func (*Pallet) Name() string { return Name }
func (*Pallet) Index() uint8 { return Index }

func (*Pallet) Storage() []storage.ItemMeta {
	return []storage.ItemMeta{Account.Meta(), TotalIssuance.Meta(), legacyFree.Meta()}
}

func (*Pallet) Events() []string {
	return []string{EventTransfer, EventBalanceSet, EventWithdraw, EventReserved, EventUnreserved, EventSlashed}
}

func (*Pallet) Calls() []pallet.CallSpec {
	return []pallet.CallSpec{
		pallet.NewCall(CallTransfer, "transfer", pallet.EnsureSigned, pallet.Fixed[TransferArgs](200), transfer),
		pallet.NewCall(CallForceSetBalance, "force_set_balance", pallet.EnsureRoot, pallet.Fixed[ForceSetBalanceArgs](150), forceSetBalance),
	}
}

func transfer(ctx *pallet.Context, a TransferArgs) error {
	from, err := ctx.EnsureSigned()
	if err != nil {
		return err
	}
	if a.Amount == 0 {
		return ErrZeroAmount
	}
	if from == a.Dest {
		return ErrSelfTransfer
	}
	st := ctx.Store()
	src, err := Account.GetOrZero(st, from)
	if err != nil {
		return err
	}
	if src.Free < a.Amount {
		return ErrInsufficientBalance.Wrap("free %d, need %d", src.Free, a.Amount)
	}
	dst, err := Account.GetOrZero(st, a.Dest)
	if err != nil {
		return err
	}
	if dst.Free+a.Amount < dst.Free {
		return ErrOverflow
	}
	src.Free -= a.Amount
	dst.Free += a.Amount
	if err := Account.Put(st, from, src); err != nil {
		return err
	}
	if err := Account.Put(st, a.Dest, dst); err != nil {
		return err
	}
	return ctx.DepositEvent(EventTransfer,
		types.EventAttribute{Key: "from", Value: from.Hex(), Index: true},
		types.EventAttribute{Key: "to", Value: a.Dest.Hex(), Index: true},
		types.EventAttribute{Key: "amount", Value: strconv.FormatUint(a.Amount, 10)},
	)
}

func forceSetBalance(ctx *pallet.Context, a ForceSetBalanceArgs) error {
	st := ctx.Store()
	acc, err := Account.GetOrZero(st, a.Who)
	if err != nil {
		return err
	}
	issuance, err := TotalIssuance.GetOrZero(st)
	if err != nil {
		return err
	}
	rest, borrow := bits.Sub64(issuance, acc.Free, 0)
	if borrow != 0 {
		return fmt.Errorf("balances: issuance %d below free balance %d", issuance, acc.Free)
	}
	issuance, err = add(rest, a.Free)
	if err != nil {
		return err
	}
	acc.Free = a.Free
	if err := Account.Put(st, a.Who, acc); err != nil {
		return err
	}
	if err := TotalIssuance.Put(st, issuance); err != nil {
		return err
	}
	return ctx.DepositEvent(EventBalanceSet,
		types.EventAttribute{Key: "who", Value: a.Who.Hex(), Index: true},
		types.EventAttribute{Key: "free", Value: strconv.FormatUint(a.Free, 10)},
	)
}

// add returns a+b or ErrOverflow.
func add(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrOverflow
	}
	return sum, nil
}

// Free returns the free balance of who.
func Free(r storage.Reader, who types.AccountID) (uint64, error) {
	acc, err := Account.GetOrZero(r, who)
	return acc.Free, err
}

// CanWithdrawFee checks that who has fee in free funds.
func (*Pallet) CanWithdrawFee(r storage.Reader, who types.AccountID, fee uint64) error {
	free, err := Free(r, who)
	if err != nil {
		return err
	}
	if free < fee {
		return ErrInsufficientBalance
	}
	return nil
}

// WithdrawFee burns fee from who's free funds.
func (*Pallet) WithdrawFee(ctx *pallet.Context, who types.AccountID, fee uint64) error {
	ctx = ctx.For(Name)
	st := ctx.Store()
	acc, err := Account.GetOrZero(st, who)
	if err != nil {
		return err
	}
	if acc.Free < fee {
		return ErrInsufficientBalance
	}
	acc.Free -= fee
	if err := Account.Put(st, who, acc); err != nil {
		return err
	}
	issuance, err := TotalIssuance.GetOrZero(st)
	if err != nil {
		return err
	}
	if err := TotalIssuance.Put(st, issuance-fee); err != nil {
		return err
	}
	return ctx.DepositEvent(EventWithdraw,
		types.EventAttribute{Key: "who", Value: who.Hex(), Index: true},
		types.EventAttribute{Key: "amount", Value: strconv.FormatUint(fee, 10)},
	)
}

// Reserve moves amount of who's free funds to reserved.
func Reserve(ctx *pallet.Context, who types.AccountID, amount uint64) error {
	ctx = ctx.For(Name)
	st := ctx.Store()
	acc, err := Account.GetOrZero(st, who)
	if err != nil {
		return err
	}
	if acc.Free < amount {
		return ErrInsufficientBalance.Wrap("free %d, reserve %d", acc.Free, amount)
	}
	if acc.Reserved, err = add(acc.Reserved, amount); err != nil {
		return err
	}
	acc.Free -= amount
	if err := Account.Put(st, who, acc); err != nil {
		return err
	}
	return ctx.DepositEvent(EventReserved,
		types.EventAttribute{Key: "who", Value: who.Hex(), Index: true},
		types.EventAttribute{Key: "amount", Value: strconv.FormatUint(amount, 10)},
	)
}

// Unreserve returns up to amount of who's reserved funds to free and
// reports how much was moved.
func Unreserve(ctx *pallet.Context, who types.AccountID, amount uint64) (uint64, error) {
	ctx = ctx.For(Name)
	st := ctx.Store()
	acc, err := Account.GetOrZero(st, who)
	if err != nil {
		return 0, err
	}
	amount = min(amount, acc.Reserved)
	if acc.Free, err = add(acc.Free, amount); err != nil {
		return 0, err
	}
	acc.Reserved -= amount
	if err := Account.Put(st, who, acc); err != nil {
		return 0, err
	}
	return amount, ctx.DepositEvent(EventUnreserved,
		types.EventAttribute{Key: "who", Value: who.Hex(), Index: true},
		types.EventAttribute{Key: "amount", Value: strconv.FormatUint(amount, 10)},
	)
}

// SlashReserved burns up to amount of who's reserved funds and reports
// how much was burned.
func SlashReserved(ctx *pallet.Context, who types.AccountID, amount uint64) (uint64, error) {
	ctx = ctx.For(Name)
	st := ctx.Store()
	acc, err := Account.GetOrZero(st, who)
	if err != nil {
		return 0, err
	}
	amount = min(amount, acc.Reserved)
	acc.Reserved -= amount
	if err := Account.Put(st, who, acc); err != nil {
		return 0, err
	}
	issuance, err := TotalIssuance.GetOrZero(st)
	if err != nil {
		return 0, err
	}
	if err := TotalIssuance.Put(st, issuance-amount); err != nil {
		return 0, err
	}
	return amount, ctx.DepositEvent(EventSlashed,
		types.EventAttribute{Key: "who", Value: who.Hex(), Index: true},
		types.EventAttribute{Key: "amount", Value: strconv.FormatUint(amount, 10)},
	)
}

// GenesisConfig is the balances genesis section.
type GenesisConfig struct {
	Balances []GenesisBalance `yaml:"balances"`
}

type GenesisBalance struct {
	Account types.AccountID `yaml:"account"`
	Free    uint64          `yaml:"free"`
}

func (*Pallet) BuildGenesis(ctx *pallet.Context, raw []byte) error {
	var cfg GenesisConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return fmt.Errorf("balances genesis: %w", err)
	}
	st := ctx.Store()
	var issuance uint64
	for _, b := range cfg.Balances {
		if issuance+b.Free < issuance {
			return fmt.Errorf("balances genesis: total issuance overflows")
		}
		issuance += b.Free
		if err := Account.Put(st, b.Account, AccountData{Free: b.Free}); err != nil {
			return err
		}
	}
	return TotalIssuance.Put(st, issuance)
}

func (*Pallet) StorageVersion() uint16 { return storageVersion }

// Migrate moves version 0 free balances into Account records.
func (*Pallet) Migrate(ctx *pallet.Context, from uint16) (types.Weight, error) {
	if from >= 1 {
		return 0, nil
	}
	st := ctx.Store()
	type entry struct {
		who  types.AccountID
		free uint64
	}
	var old []entry
	if err := legacyFree.Iterate(st, func(who types.AccountID, free uint64) bool {
		old = append(old, entry{who, free})
		return true
	}); err != nil {
		return 0, err
	}
	for _, e := range old {
		acc, err := Account.GetOrZero(st, e.who)
		if err != nil {
			return 0, err
		}
		if acc.Free, err = add(acc.Free, e.free); err != nil {
			return 0, err
		}
		if err := Account.Put(st, e.who, acc); err != nil {
			return 0, err
		}
	}
	if err := legacyFree.Clear(st); err != nil {
		return 0, err
	}
	ctx.Logger().WithField("accounts", len(old)).Info("migrated balances to v1")
	return types.Weight(100 * (len(old) + 1)), nil
}

// Query answers /balances/account (Data is an AccountID) and
// /balances/issuance.
func (*Pallet) Query(r storage.Reader, item string, data []byte) (types.StateQueryResult, error) {
	switch item {
	case "account":
		who, err := storage.AccountKey.Decode(data)
		if err != nil {
			return types.StateQueryResult{Code: types.QueryBadRequest, Info: err.Error()}, nil
		}
		acc, ok, err := Account.Get(r, who)
		if err != nil {
			return types.StateQueryResult{}, err
		}
		key, _ := Account.Key(who)
		if !ok {
			return types.StateQueryResult{Code: types.QueryNotFound, Key: key}, nil
		}
		v, err := types.Encode(&acc)
		if err != nil {
			return types.StateQueryResult{}, err
		}
		return types.StateQueryResult{Key: key, Value: v}, nil
	case "issuance":
		n, err := TotalIssuance.GetOrZero(r)
		if err != nil {
			return types.StateQueryResult{}, err
		}
		v, _ := storage.Uint64.Encode(n)
		return types.StateQueryResult{Key: TotalIssuance.Key(), Value: v}, nil
	default:
		return types.StateQueryResult{Code: types.QueryUnknownPath, Info: "unknown balances item " + item}, nil
	}
}
