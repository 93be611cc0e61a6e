package staking

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/blockberries/frame/example/balances"
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

func (e *eventEnv) kinds() []string {
	var out []string
	for _, ev := range e.events {
		out = append(out, ev.Kind)
	}
	return out
}

var (
	alice   = types.AccountID{0xa1}
	bob     = types.AccountID{0xb0}
	charlie = types.AccountID{0xc4}
)

// setup funds every account with 1000 and returns a staking context.
func setup(t *testing.T, accounts ...types.AccountID) (*pallet.Context, *storage.Overlay, *eventEnv) {
	t.Helper()
	o := storage.NewOverlay(storage.NewMemBackend())
	env := &eventEnv{}
	ctx := pallet.NewContext(pallet.ContextConfig{Env: env, Store: o, Origin: types.NoneOrigin(), Block: 1})

	var g balances.GenesisConfig
	for _, who := range accounts {
		g.Balances = append(g.Balances, balances.GenesisBalance{Account: who, Free: 1000})
	}
	raw, err := yaml.Marshal(g)
	require.NoError(t, err)
	require.NoError(t, balances.New().BuildGenesis(ctx.For(balances.Name), raw))
	return ctx.For(Name), o, env
}

func run(t *testing.T, p *Pallet, ctx *pallet.Context, who types.AccountID, index uint8, args any) error {
	t.Helper()
	c, err := types.NewCall(Index, index, args)
	require.NoError(t, err)
	for _, spec := range p.Calls() {
		if spec.Index == index {
			return spec.Handle(ctx.WithOrigin(types.SignedOrigin(who)), c.Args)
		}
	}
	t.Fatalf("no call %d", index)
	return nil
}

func holdings(t *testing.T, r storage.Reader, who types.AccountID) (balances.AccountData, uint64) {
	t.Helper()
	acc, err := balances.Account.GetOrZero(r, who)
	require.NoError(t, err)
	bonded, err := Bonded.GetOrZero(r, who)
	require.NoError(t, err)
	return acc, bonded
}

func TestNewDefaults(t *testing.T) {
	p := New(Config{SlashPercent: 150})
	require.Equal(t, 4, p.cfg.MaxValidators)
	require.EqualValues(t, 100, p.cfg.SlashPercent)
}

func TestBondAndUnbond(t *testing.T) {
	p := New(Config{})
	ctx, o, env := setup(t, alice)

	require.NoError(t, run(t, p, ctx, alice, CallBond, AmountArgs{Amount: 300}))
	acc, bonded := holdings(t, o, alice)
	require.Equal(t, balances.AccountData{Free: 700, Reserved: 300}, acc)
	require.EqualValues(t, 300, bonded)

	require.ErrorIs(t, run(t, p, ctx, alice, CallBond, AmountArgs{}), ErrZeroAmount)
	require.ErrorIs(t, run(t, p, ctx, alice, CallBond, AmountArgs{Amount: 701}), balances.ErrInsufficientBalance)
	require.ErrorIs(t, run(t, p, ctx, bob, CallUnbond, AmountArgs{Amount: 1}), ErrNotBonded)

	require.NoError(t, run(t, p, ctx, alice, CallUnbond, AmountArgs{Amount: 100}))
	acc, bonded = holdings(t, o, alice)
	require.Equal(t, balances.AccountData{Free: 800, Reserved: 200}, acc)
	require.EqualValues(t, 200, bonded)

	// Unbonding more than is bonded releases everything and forgets the account.
	require.NoError(t, run(t, p, ctx, alice, CallValidate, NoArgs{}))
	require.NoError(t, run(t, p, ctx, alice, CallUnbond, AmountArgs{Amount: 1000}))
	acc, _ = holdings(t, o, alice)
	require.Equal(t, balances.AccountData{Free: 1000}, acc)
	ok, err := Bonded.Exists(o, alice)
	require.NoError(t, err)
	require.False(t, ok)
	ok, err = Candidates.Exists(o, alice)
	require.NoError(t, err)
	require.False(t, ok)

	require.Contains(t, env.kinds(), EventBonded)
	require.Contains(t, env.kinds(), EventUnbonded)
}

func TestValidateNeedsBond(t *testing.T) {
	p := New(Config{MinBond: 100})
	ctx, o, _ := setup(t, alice)

	require.ErrorIs(t, run(t, p, ctx, alice, CallValidate, NoArgs{}), ErrNotBonded)
	require.NoError(t, run(t, p, ctx, alice, CallBond, AmountArgs{Amount: 50}))
	require.ErrorIs(t, run(t, p, ctx, alice, CallValidate, NoArgs{}), ErrBondTooSmall)
	require.NoError(t, run(t, p, ctx, alice, CallBond, AmountArgs{Amount: 50}))
	require.NoError(t, run(t, p, ctx, alice, CallValidate, NoArgs{}))

	ok, err := Candidates.Exists(o, alice)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, run(t, p, ctx, alice, CallChill, NoArgs{}))
	ok, err = Candidates.Exists(o, alice)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestElectOrdersByBond(t *testing.T) {
	p := New(Config{MaxValidators: 2, MinBond: 10})
	ctx, o, env := setup(t, alice, bob, charlie)

	for who, amount := range map[types.AccountID]uint64{alice: 100, bob: 300, charlie: 100} {
		require.NoError(t, run(t, p, ctx, who, CallBond, AmountArgs{Amount: amount}))
		require.NoError(t, run(t, p, ctx, who, CallValidate, NoArgs{}))
	}

	set, err := p.Elect(o)
	require.NoError(t, err)
	require.Equal(t, []types.Authority{{ID: bob, Weight: 300}, {ID: alice, Weight: 100}}, set)

	set, changed, err := p.NewSession(ctx, 3)
	require.NoError(t, err)
	require.True(t, changed)
	require.Len(t, set, 2)
	elected := env.events[len(env.events)-1]
	require.Equal(t, EventElected, elected.Kind)
	session, _ := elected.Attr("session")
	require.Equal(t, "5", session)

	empty, o2, _ := setup(t)
	_, changed, err = p.NewSession(empty, 0)
	require.NoError(t, err)
	require.False(t, changed)
	set, err = p.Elect(o2)
	require.NoError(t, err)
	require.Empty(t, set)
}

func TestOffenceSlashes(t *testing.T) {
	p := New(Config{SlashPercent: 10})
	ctx, o, env := setup(t, alice)
	require.NoError(t, run(t, p, ctx, alice, CallBond, AmountArgs{Amount: 500}))
	require.NoError(t, run(t, p, ctx, alice, CallValidate, NoArgs{}))

	require.NoError(t, p.OnOffence(ctx, types.OffenceReport{Kind: types.OffenceEquivocation, Offender: alice}))
	acc, bonded := holdings(t, o, alice)
	require.Equal(t, balances.AccountData{Free: 500, Reserved: 450}, acc)
	require.EqualValues(t, 450, bonded)
	ok, err := Candidates.Exists(o, alice)
	require.NoError(t, err)
	require.False(t, ok)

	issuance, err := balances.TotalIssuance.GetOrZero(o)
	require.NoError(t, err)
	require.EqualValues(t, 950, issuance)

	slashed := env.events[len(env.events)-1]
	require.Equal(t, EventSlashed, slashed.Kind)
	amount, _ := slashed.Attr("amount")
	require.Equal(t, "50", amount)
}

func TestPercentOf(t *testing.T) {
	tests := []struct {
		v, pct, want uint64
	}{
		{1000, 10, 100},
		{99, 50, 49},
		{7, 200, 7},
		{0, 100, 0},
		{math.MaxUint64, 100, math.MaxUint64},
		{math.MaxUint64, 10, math.MaxUint64 / 10},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, percentOf(tt.v, tt.pct), "%d%% of %d", tt.pct, tt.v)
	}
}

func TestGenesisBondsStakers(t *testing.T) {
	p := New(Config{})
	ctx, o, _ := setup(t, alice, bob)

	raw, err := yaml.Marshal(GenesisConfig{Stakers: []GenesisStaker{{Account: alice, Bond: 400}}})
	require.NoError(t, err)
	require.NoError(t, p.BuildGenesis(ctx, raw))

	acc, bonded := holdings(t, o, alice)
	require.EqualValues(t, 400, acc.Reserved)
	require.EqualValues(t, 400, bonded)
	set, err := p.Elect(o)
	require.NoError(t, err)
	require.Equal(t, []types.Authority{{ID: alice, Weight: 400}}, set)

	raw, err = yaml.Marshal(GenesisConfig{Stakers: []GenesisStaker{{Account: charlie, Bond: 1}}})
	require.NoError(t, err)
	require.Error(t, p.BuildGenesis(ctx, raw))
}
