package balances

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/blockberries/frame/pallet"
	"github.com/blockberries/frame/storage"
	"github.com/blockberries/frame/types"
)

type eventEnv struct {
	events []types.Event
}

func (e *eventEnv) DepositEvent(_ storage.Store, _ types.Phase, ev types.Event) error {
	e.events = append(e.events, ev)
	return nil
}

func (*eventEnv) DepositLog(storage.Store, types.DigestItem) error { return nil }
func (*eventEnv) RandomSeed(storage.Reader) (types.Hash, error)    { return types.Hash{}, nil }
func (*eventEnv) Weigh(types.Call) (types.Weight, error)           { return 0, nil }

func (*eventEnv) Dispatch(*pallet.Context, types.Call) (types.PostDispatchInfo, error) {
	return types.PostDispatchInfo{}, nil
}

var (
	alice = types.AccountID{0xa1}
	bob   = types.AccountID{0xb0}
)

func newCtx(t *testing.T, origin types.Origin, funded map[types.AccountID]uint64) (*pallet.Context, *storage.Overlay, *eventEnv) {
	t.Helper()
	o := storage.NewOverlay(storage.NewMemBackend())
	env := &eventEnv{}
	ctx := pallet.NewContext(pallet.ContextConfig{Env: env, Store: o, Origin: origin, Block: 1}).For(Name)

	var cfg GenesisConfig
	for who, free := range funded {
		cfg.Balances = append(cfg.Balances, GenesisBalance{Account: who, Free: free})
	}
	raw, err := yaml.Marshal(cfg)
	require.NoError(t, err)
	require.NoError(t, New().BuildGenesis(ctx, raw))
	return ctx, o, env
}

func call(t *testing.T, ctx *pallet.Context, index uint8, args any) error {
	t.Helper()
	c, err := types.NewCall(Index, index, args)
	require.NoError(t, err)
	for _, spec := range New().Calls() {
		if spec.Index == index {
			return spec.Handle(ctx, c.Args)
		}
	}
	t.Fatalf("no call %d", index)
	return nil
}

func account(t *testing.T, r storage.Reader, who types.AccountID) AccountData {
	t.Helper()
	acc, err := Account.GetOrZero(r, who)
	require.NoError(t, err)
	return acc
}

func issuance(t *testing.T, r storage.Reader) uint64 {
	t.Helper()
	n, err := TotalIssuance.GetOrZero(r)
	require.NoError(t, err)
	return n
}

func TestGenesis(t *testing.T) {
	_, o, _ := newCtx(t, types.NoneOrigin(), map[types.AccountID]uint64{alice: 100, bob: 50})
	require.EqualValues(t, 100, account(t, o, alice).Free)
	require.EqualValues(t, 50, account(t, o, bob).Free)
	require.EqualValues(t, 150, issuance(t, o))

	ctx, _, _ := newCtx(t, types.NoneOrigin(), nil)
	raw, err := yaml.Marshal(GenesisConfig{Balances: []GenesisBalance{
		{Account: alice, Free: ^uint64(0)},
		{Account: bob, Free: 1},
	}})
	require.NoError(t, err)
	require.ErrorContains(t, New().BuildGenesis(ctx, raw), "overflows")
}

func TestTransfer(t *testing.T) {
	ctx, o, env := newCtx(t, types.SignedOrigin(alice), map[types.AccountID]uint64{alice: 100})

	require.NoError(t, call(t, ctx, CallTransfer, TransferArgs{Dest: bob, Amount: 40}))
	require.EqualValues(t, 60, account(t, o, alice).Free)
	require.EqualValues(t, 40, account(t, o, bob).Free)
	require.EqualValues(t, 100, issuance(t, o))
	require.Len(t, env.events, 1)
	require.Equal(t, EventTransfer, env.events[0].Kind)
	amount, _ := env.events[0].Attr("amount")
	require.Equal(t, "40", amount)

	require.ErrorIs(t, call(t, ctx, CallTransfer, TransferArgs{Dest: bob, Amount: 0}), ErrZeroAmount)
	require.ErrorIs(t, call(t, ctx, CallTransfer, TransferArgs{Dest: alice, Amount: 1}), ErrSelfTransfer)
	require.ErrorIs(t, call(t, ctx, CallTransfer, TransferArgs{Dest: bob, Amount: 61}), ErrInsufficientBalance)

	require.NoError(t, Account.Put(o, bob, AccountData{Free: ^uint64(0)}))
	require.ErrorIs(t, call(t, ctx, CallTransfer, TransferArgs{Dest: bob, Amount: 1}), ErrOverflow)

	unsigned := ctx.WithOrigin(types.NoneOrigin())
	require.Error(t, call(t, unsigned, CallTransfer, TransferArgs{Dest: bob, Amount: 1}))
}

func TestForceSetBalance(t *testing.T) {
	ctx, o, env := newCtx(t, types.RootOrigin(), map[types.AccountID]uint64{alice: 100, bob: 10})

	require.NoError(t, call(t, ctx, CallForceSetBalance, ForceSetBalanceArgs{Who: alice, Free: 30}))
	require.EqualValues(t, 30, account(t, o, alice).Free)
	require.EqualValues(t, 40, issuance(t, o))
	require.Equal(t, EventBalanceSet, env.events[0].Kind)

	err := call(t, ctx, CallForceSetBalance, ForceSetBalanceArgs{Who: bob, Free: math.MaxUint64})
	require.ErrorIs(t, err, ErrOverflow)
	require.EqualValues(t, 10, account(t, o, bob).Free)
	require.EqualValues(t, 40, issuance(t, o))
	require.Len(t, env.events, 1)
}

func TestFees(t *testing.T) {
	ctx, o, env := newCtx(t, types.NoneOrigin(), map[types.AccountID]uint64{alice: 10})
	p := New()

	require.NoError(t, p.CanWithdrawFee(o, alice, 10))
	require.ErrorIs(t, p.CanWithdrawFee(o, alice, 11), ErrInsufficientBalance)
	require.ErrorIs(t, p.CanWithdrawFee(o, bob, 1), ErrInsufficientBalance)

	require.NoError(t, p.WithdrawFee(ctx, alice, 4))
	require.EqualValues(t, 6, account(t, o, alice).Free)
	require.EqualValues(t, 6, issuance(t, o))
	require.Equal(t, EventWithdraw, env.events[0].Kind)
	require.ErrorIs(t, p.WithdrawFee(ctx, alice, 7), ErrInsufficientBalance)
}

func TestReserveUnreserveSlash(t *testing.T) {
	ctx, o, _ := newCtx(t, types.NoneOrigin(), map[types.AccountID]uint64{alice: 100})

	require.NoError(t, Reserve(ctx, alice, 60))
	require.Equal(t, AccountData{Free: 40, Reserved: 60}, account(t, o, alice))
	require.ErrorIs(t, Reserve(ctx, alice, 41), ErrInsufficientBalance)

	moved, err := Unreserve(ctx, alice, 10)
	require.NoError(t, err)
	require.EqualValues(t, 10, moved)
	require.Equal(t, AccountData{Free: 50, Reserved: 50}, account(t, o, alice))

	burned, err := SlashReserved(ctx, alice, 80)
	require.NoError(t, err)
	require.EqualValues(t, 50, burned)
	require.Equal(t, AccountData{Free: 50}, account(t, o, alice))
	require.EqualValues(t, 50, issuance(t, o))

	moved, err = Unreserve(ctx, alice, 5)
	require.NoError(t, err)
	require.Zero(t, moved)
}

func TestReserveArithmeticOverflow(t *testing.T) {
	ctx, o, _ := newCtx(t, types.NoneOrigin(), nil)
	full := AccountData{Free: math.MaxUint64, Reserved: 1}
	require.NoError(t, Account.Put(o, alice, full))
	_, err := Unreserve(ctx, alice, 1)
	require.ErrorIs(t, err, ErrOverflow)
	require.Equal(t, full, account(t, o, alice))

	full = AccountData{Free: 1, Reserved: math.MaxUint64}
	require.NoError(t, Account.Put(o, bob, full))
	require.ErrorIs(t, Reserve(ctx, bob, 1), ErrOverflow)
	require.Equal(t, full, account(t, o, bob))
}

func TestMigrateFromLegacyLayout(t *testing.T) {
	ctx, o, _ := newCtx(t, types.NoneOrigin(), map[types.AccountID]uint64{alice: 5})
	require.NoError(t, legacyFree.Put(o, alice, 20))
	require.NoError(t, legacyFree.Put(o, bob, 7))

	w, err := New().Migrate(ctx, 0)
	require.NoError(t, err)
	require.EqualValues(t, 300, w)
	require.EqualValues(t, 25, account(t, o, alice).Free)
	require.EqualValues(t, 7, account(t, o, bob).Free)
	ok, err := legacyFree.Exists(o, alice)
	require.NoError(t, err)
	require.False(t, ok)

	w, err = New().Migrate(ctx, 1)
	require.NoError(t, err)
	require.Zero(t, w)

	require.NoError(t, Account.Put(o, alice, AccountData{Free: math.MaxUint64}))
	require.NoError(t, legacyFree.Put(o, alice, 1))
	_, err = New().Migrate(ctx, 0)
	require.ErrorIs(t, err, ErrOverflow)
}

func TestQuery(t *testing.T) {
	_, o, _ := newCtx(t, types.NoneOrigin(), map[types.AccountID]uint64{alice: 100})
	p := New()

	res, err := p.Query(o, "account", alice[:])
	require.NoError(t, err)
	require.True(t, res.OK())
	var acc AccountData
	require.NoError(t, types.Decode(res.Value, &acc))
	require.EqualValues(t, 100, acc.Free)

	res, err = p.Query(o, "account", bob[:])
	require.NoError(t, err)
	require.Equal(t, types.QueryNotFound, res.Code)

	res, err = p.Query(o, "account", []byte{1, 2})
	require.NoError(t, err)
	require.Equal(t, types.QueryBadRequest, res.Code)

	res, err = p.Query(o, "issuance", nil)
	require.NoError(t, err)
	n, err := storage.Uint64.Decode(res.Value)
	require.NoError(t, err)
	require.EqualValues(t, 100, n)

	res, err = p.Query(o, "nope", nil)
	require.NoError(t, err)
	require.Equal(t, types.QueryUnknownPath, res.Code)
}
