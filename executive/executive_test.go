package executive_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/blockberries/frame"
	"github.com/blockberries/frame/example/balances"
	"github.com/blockberries/frame/executive"
	"github.com/blockberries/frame/pallet"
	"github.com/blockberries/frame/storage"
	frametest "github.com/blockberries/frame/testing"
	"github.com/blockberries/frame/types"
)

const (
	tracerName        = "Tracer"
	tracerIndex uint8 = 9

	callWork uint8 = 0
	callPing uint8 = 1
)

var (
	keys = frametest.NewKeyring()

	tracerInits    = storage.NewValue(tracerName, "Inits", storage.Uint64)
	tracerFinals   = storage.NewValue(tracerName, "Finals", storage.Uint64)
	tracerWork     = storage.NewValue(tracerName, "Work", storage.Uint64)
	tracerMigrated = storage.NewValue(tracerName, "Migrated", storage.Uint64)

	errTracer = pallet.NewError(0, "TracerFailed")
)

type workArgs struct {
	Weight uint64 `cramberry:"1"`
	Fail   bool   `cramberry:"2"`
}

type pingArgs struct {
	Number uint64 `cramberry:"1"`
}

// tracer records every hook the executive runs on it.
type tracer struct {
	version        uint16
	initWeight     types.Weight
	panicAt        uint64
	failFinalizeAt uint64
	migrations     []uint16
}

func (*tracer) Name() string { return tracerName }
func (*tracer) Index() uint8 { return tracerIndex }

func (*tracer) Storage() []storage.ItemMeta {
	return []storage.ItemMeta{tracerInits.Meta(), tracerFinals.Meta(), tracerWork.Meta(), tracerMigrated.Meta()}
}

func (*tracer) Calls() []pallet.CallSpec {
	return []pallet.CallSpec{
		pallet.NewCall(callWork, "work", pallet.EnsureNone,
			func(a workArgs) types.Weight { return types.Weight(a.Weight) },
			func(ctx *pallet.Context, a workArgs) error {
				n, err := tracerWork.GetOrZero(ctx.Store())
				if err != nil {
					return err
				}
				if err := tracerWork.Put(ctx.Store(), n+1); err != nil {
					return err
				}
				if a.Fail {
					return errTracer
				}
				return nil
			}),
		pallet.NewCall(callPing, "ping", pallet.EnsureNone, pallet.Fixed[pingArgs](1),
			func(*pallet.Context, pingArgs) error { return nil }),
	}
}

func (p *tracer) OnInitialize(ctx *pallet.Context, n uint64) (types.Weight, error) {
	if n == p.panicAt {
		panic("tracer initialize")
	}
	c, err := tracerInits.GetOrZero(ctx.Store())
	if err != nil {
		return 0, err
	}
	return p.initWeight, tracerInits.Put(ctx.Store(), c+1)
}

func (p *tracer) OnFinalize(ctx *pallet.Context, n uint64) error {
	if n == p.failFinalizeAt {
		return errors.New("tracer finalize")
	}
	c, err := tracerFinals.GetOrZero(ctx.Store())
	if err != nil {
		return err
	}
	return tracerFinals.Put(ctx.Store(), c+1)
}

func (p *tracer) StorageVersion() uint16 { return p.version }

func (p *tracer) Migrate(ctx *pallet.Context, from uint16) (types.Weight, error) {
	p.migrations = append(p.migrations, from)
	return 10, tracerMigrated.Put(ctx.Store(), uint64(from))
}

func (*tracer) ValidateUnsigned(r storage.Reader, source types.TransactionSource, call types.Call) (types.ValidTransaction, error) {
	return types.ValidTransaction{
		Priority:  1,
		Provides:  []types.TxTag{append([]byte("tracer"), call.Args...)},
		Longevity: 8,
		Propagate: true,
	}, nil
}

func (*tracer) OffchainWorker(octx *pallet.OffchainContext, n uint64) error {
	call, err := types.NewCall(tracerIndex, callPing, pingArgs{Number: n})
	if err != nil {
		return err
	}
	octx.Submit(call)
	return nil
}

func (*tracer) Query(r storage.Reader, item string, data []byte) (types.StateQueryResult, error) {
	var v storage.Value[uint64]
	switch item {
	case "inits":
		v = tracerInits
	case "finals":
		v = tracerFinals
	case "work":
		v = tracerWork
	case "migrated":
		v = tracerMigrated
	default:
		return types.StateQueryResult{Code: types.QueryUnknownPath}, nil
	}
	n, err := v.GetOrZero(r)
	if err != nil {
		return types.StateQueryResult{}, err
	}
	enc, _ := storage.Uint64.Encode(n)
	return types.StateQueryResult{Key: v.Key(), Value: enc}, nil
}

// broken has an offchain worker that always panics.
type broken struct{}

func (broken) Name() string                                         { return "Broken" }
func (broken) Index() uint8                                         { return 10 }
func (broken) Storage() []storage.ItemMeta                          { return nil }
func (broken) Calls() []pallet.CallSpec                             { return nil }
func (broken) OffchainWorker(*pallet.OffchainContext, uint64) error { panic("offchain") }

// feeTaker competes with balances for fees.
type feeTaker struct{ broken }

func (feeTaker) Name() string { return "FeeTaker" }
func (feeTaker) Index() uint8 { return 11 }

func (feeTaker) CanWithdrawFee(storage.Reader, types.AccountID, uint64) error { return nil }
func (feeTaker) WithdrawFee(*pallet.Context, types.AccountID, uint64) error   { return nil }

// recorder is an executive.Observer that counts notifications.
type recorder struct {
	started, applied, sealed, committed int
	rejected                            []types.ValidityReason
	failed                              []types.FatalKind
}

func (r *recorder) BlockStarted(uint64)                 { r.started++ }
func (r *recorder) ExtrinsicApplied(types.ApplyOutcome) { r.applied++ }
func (r *recorder) BlockSealed(types.BlockOutcome)      { r.sealed++ }
func (r *recorder) BlockCommitted(types.CommitResult)   { r.committed++ }
func (r *recorder) BlockFailed(err *frame.FatalError)   { r.failed = append(r.failed, err.Kind) }
func (r *recorder) ExtrinsicRejected(err *types.TransactionValidityError) {
	r.rejected = append(r.rejected, err.Reason)
}

type chain struct {
	*executive.Executive
	tracer *tracer
	obs   *recorder
}

type option func(*executive.Config)

func withLimits(l types.BlockLimits) option {
	return func(c *executive.Config) { c.Limits = l }
}

func withBackend(b storage.Backend) option {
	return func(c *executive.Config) { c.Backend = b }
}

func withSpec(spec uint32) option {
	return func(c *executive.Config) { c.Version = version(spec) }
}

func version(spec uint32) types.RuntimeVersion {
	return types.RuntimeVersion{SpecName: "tracer-chain", SpecVersion: spec, TransactionVersion: 1}
}

func newChain(t *testing.T, p *tracer, opts ...option) *chain {
	t.Helper()
	if p == nil {
		p = &tracer{version: 1}
	}
	c := &chain{tracer: p, obs: &recorder{}}
	cfg := executive.Config{
		Pallets:  []pallet.Pallet{balances.New(), p, broken{}},
		Version:  version(1),
		Fees:     types.FeeSchedule{BaseFee: 1},
		Observer: c.obs,
	}
	for _, o := range opts {
		o(&cfg)
	}
	e, err := executive.New(cfg)
	require.NoError(t, err)
	c.Executive = e
	return c
}

func genesisConfig(t *testing.T) types.GenesisConfig {
	t.Helper()
	raw, err := yaml.Marshal(balances.GenesisConfig{Balances: []balances.GenesisBalance{
		{Account: keys.Account("alice"), Free: 100},
	}})
	require.NoError(t, err)
	return types.GenesisConfig{
		ChainID: "tracer",
		Pallets: []types.PalletGenesis{{Pallet: balances.Name, Config: raw}},
	}
}

func (c *chain) genesis(t *testing.T) types.Header {
	t.Helper()
	h, err := c.InitGenesis(context.Background(), genesisConfig(t))
	require.NoError(t, err)
	return h
}

func (c *chain) next(t *testing.T) types.Header {
	t.Helper()
	head, ok := c.Head()
	require.True(t, ok)
	return types.Header{Number: head.Number + 1, ParentHash: head.Hash()}
}

// build produces and seals a block from xts without committing it.
func (c *chain) build(t *testing.T, xts ...[]byte) types.Block {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, c.InitializeBlock(ctx, c.next(t)))
	for _, raw := range xts {
		_, err := c.ApplyExtrinsic(ctx, raw)
		require.NoError(t, err)
	}
	header, err := c.FinalizeBlock(ctx)
	require.NoError(t, err)
	return types.Block{Header: header, Extrinsics: xts}
}

func (c *chain) commit(t *testing.T) types.CommitResult {
	t.Helper()
	res, err := c.Commit(context.Background())
	require.NoError(t, err)
	return res
}

func (c *chain) query(t *testing.T, path types.QueryPath, data []byte) types.StateQueryResult {
	t.Helper()
	res, err := c.Query(context.Background(), types.StateQuery{Path: path, Data: data})
	require.NoError(t, err)
	return res
}

func (c *chain) counter(t *testing.T, item string) uint64 {
	t.Helper()
	res := c.query(t, types.QueryPath("/tracer/"+item), nil)
	require.True(t, res.OK(), res.Info)
	n, err := storage.Uint64.Decode(res.Value)
	require.NoError(t, err)
	return n
}

func (c *chain) free(t *testing.T, name string) uint64 {
	t.Helper()
	who := keys.Account(name)
	res := c.query(t, "/balances/account", who[:])
	if res.Code == types.QueryNotFound {
		return 0
	}
	require.True(t, res.OK(), res.Info)
	var acc balances.AccountData
	require.NoError(t, types.Decode(res.Value, &acc))
	return acc.Free
}

func (c *chain) transfer(t *testing.T, to string, amount, nonce, fee uint64) []byte {
	t.Helper()
	call, err := types.NewCall(balances.Index, balances.CallTransfer, balances.TransferArgs{Dest: keys.Account(to), Amount: amount})
	require.NoError(t, err)
	raw, err := keys.Sign("alice", call, nonce, fee, c.SigningContext())
	require.NoError(t, err)
	return raw
}

func work(t *testing.T, weight uint64, fail bool) []byte {
	t.Helper()
	call, err := types.NewCall(tracerIndex, callWork, workArgs{Weight: weight, Fail: fail})
	require.NoError(t, err)
	raw, err := types.EncodeExtrinsic(types.NewUnsigned(call))
	require.NoError(t, err)
	return raw
}

func requireFatal(t *testing.T, err error, kind types.FatalKind) *frame.FatalError {
	t.Helper()
	fe, ok := frame.IsFatal(err)
	require.True(t, ok, "expected fatal error, got %v", err)
	require.Equal(t, kind, fe.Kind, fe.Reason)
	return fe
}

func requireInvalid(t *testing.T, err error, reason types.ValidityReason) {
	t.Helper()
	verr, ok := frame.IsInvalid(err)
	require.True(t, ok, "expected validity error, got %v", err)
	require.Equal(t, reason, verr.Reason)
}

func TestGenesisOnce(t *testing.T) {
	ctx := context.Background()
	c := newChain(t, nil)
	defer c.Close()

	_, ok := c.Head()
	require.False(t, ok)
	_, err := c.Query(ctx, types.StateQuery{Path: "/version"})
	require.ErrorIs(t, err, executive.ErrNoGenesis)
	require.ErrorIs(t, c.InitializeBlock(ctx, types.Header{Number: 1}), executive.ErrNoGenesis)

	bad := genesisConfig(t)
	bad.Pallets = append(bad.Pallets, types.PalletGenesis{Pallet: "Nowhere"})
	_, err = c.InitGenesis(ctx, bad)
	require.ErrorContains(t, err, "Nowhere")

	h := c.genesis(t)
	require.Zero(t, h.Number)
	head, ok := c.Head()
	require.True(t, ok)
	require.Equal(t, h, head)
	require.Equal(t, h.Hash(), c.SigningContext().GenesisHash)
	require.EqualValues(t, 100, c.free(t, "alice"))

	_, err = c.InitGenesis(ctx, genesisConfig(t))
	require.ErrorIs(t, err, executive.ErrGenesisExists)

	// Genesis is deterministic.
	other := newChain(t, nil)
	defer other.Close()
	require.Equal(t, h, other.genesis(t))
}

func TestBuildCommitAndImport(t *testing.T) {
	builder := newChain(t, nil)
	defer builder.Close()
	builder.genesis(t)

	block := builder.build(t,
		builder.transfer(t, "bob", 30, 0, 1),
		work(t, 10, false),
		work(t, 10, true),
	)
	require.Equal(t, executive.PhaseSealed, builder.Phase())
	res := builder.commit(t)
	require.Equal(t, block.Header.ID(), res.Block)
	require.NotZero(t, res.Changes)
	require.Equal(t, executive.PhaseIdle, builder.Phase())

	require.EqualValues(t, 69, builder.free(t, "alice"))
	require.EqualValues(t, 30, builder.free(t, "bob"))
	// The failed call's writes are rolled back; the successful one stays.
	require.EqualValues(t, 1, builder.counter(t, "work"))
	require.EqualValues(t, 1, builder.counter(t, "inits"))
	require.EqualValues(t, 1, builder.counter(t, "finals"))

	require.Equal(t, 1, builder.obs.started)
	require.Equal(t, 3, builder.obs.applied)
	require.Equal(t, 1, builder.obs.sealed)
	require.Equal(t, 1, builder.obs.committed)

	importer := newChain(t, nil)
	defer importer.Close()
	importer.genesis(t)
	out, err := importer.ExecuteBlock(context.Background(), block)
	require.NoError(t, err)
	require.Len(t, out.Outcomes, 3)
	require.True(t, out.Outcomes[0].Success)
	require.False(t, out.Outcomes[2].Success)
	require.Equal(t, "TracerFailed", out.Outcomes[2].Error.Name)
	importer.commit(t)

	head, _ := importer.Head()
	require.Equal(t, block.Header, head)
	require.EqualValues(t, 30, importer.free(t, "bob"))
}

func TestImportKeepsSeals(t *testing.T) {
	builder := newChain(t, nil)
	defer builder.Close()
	builder.genesis(t)
	block := builder.build(t)
	builder.commit(t)
	block.Header.Digest.Logs = append(block.Header.Digest.Logs,
		types.DigestItem{Kind: types.DigestSeal, Engine: [4]byte{'t', 'e', 's', 't'}, Data: []byte{1}})

	importer := newChain(t, nil)
	defer importer.Close()
	importer.genesis(t)
	_, err := importer.ExecuteBlock(context.Background(), block)
	require.NoError(t, err)
	importer.commit(t)
	head, _ := importer.Head()
	require.Equal(t, block.Header.Hash(), head.Hash())
}

func seal(block types.Block) types.Block {
	logs := append([]types.DigestItem(nil), block.Header.Digest.Logs...)
	block.Header.Digest.Logs = append(logs,
		types.DigestItem{Kind: types.DigestSeal, Engine: [4]byte{'t', 'e', 's', 't'}, Data: []byte{byte(block.Header.Number)}})
	return block
}

func TestSealedChainStaysLinked(t *testing.T) {
	ctx := context.Background()
	author := newChain(t, nil)
	defer author.Close()
	author.genesis(t)
	importer := newChain(t, nil)
	defer importer.Close()
	importer.genesis(t)

	// The author commits its unsealed header while peers import the
	// sealed one. Both must agree on the head hash.
	for i := 0; i < 2; i++ {
		block := seal(author.build(t, author.transfer(t, "bob", 1, uint64(i), 1)))
		author.commit(t)
		_, err := importer.ExecuteBlock(ctx, block)
		require.NoError(t, err, "block %d", block.Header.Number)
		importer.commit(t)

		a, _ := author.Head()
		b, _ := importer.Head()
		require.Equal(t, a.Hash(), b.Hash())
		require.Equal(t, block.Header.Hash(), b.Hash())
	}

	// The roles swap: a block built on the imported chain imports on the author.
	block := seal(importer.build(t, work(t, 1, false)))
	importer.commit(t)
	_, err := author.ExecuteBlock(ctx, block)
	require.NoError(t, err)
	author.commit(t)
	require.EqualValues(t, 2, author.free(t, "bob"))
	require.Empty(t, author.obs.failed)
	require.Empty(t, importer.obs.failed)
}

func TestPhaseOrder(t *testing.T) {
	ctx := context.Background()
	c := newChain(t, nil)
	defer c.Close()
	c.genesis(t)

	_, err := c.ApplyExtrinsic(ctx, work(t, 1, false))
	require.ErrorIs(t, err, executive.ErrWrongPhase)
	_, err = c.FinalizeBlock(ctx)
	require.ErrorIs(t, err, executive.ErrWrongPhase)
	_, err = c.Commit(ctx)
	require.ErrorIs(t, err, executive.ErrWrongPhase)

	header := c.next(t)
	require.NoError(t, c.InitializeBlock(ctx, header))
	require.Equal(t, executive.PhaseApplying, c.Phase())
	require.ErrorIs(t, c.InitializeBlock(ctx, header), executive.ErrWrongPhase)
	require.Equal(t, executive.PhaseApplying, c.Phase())

	_, err = c.FinalizeBlock(ctx)
	require.NoError(t, err)
	_, err = c.ApplyExtrinsic(ctx, work(t, 1, false))
	require.ErrorIs(t, err, executive.ErrWrongPhase)
	require.Empty(t, c.obs.failed)
}

func TestAbortDiscardsBlock(t *testing.T) {
	ctx := context.Background()
	c := newChain(t, nil)
	defer c.Close()
	genesis := c.genesis(t)

	require.NoError(t, c.InitializeBlock(ctx, c.next(t)))
	_, err := c.ApplyExtrinsic(ctx, c.transfer(t, "bob", 10, 0, 1))
	require.NoError(t, err)
	c.Abort()
	require.Equal(t, executive.PhaseIdle, c.Phase())

	head, _ := c.Head()
	require.Equal(t, genesis, head)
	require.Zero(t, c.free(t, "bob"))
	require.Zero(t, c.counter(t, "inits"))

	// The same nonce is usable again.
	c.build(t, c.transfer(t, "bob", 10, 0, 1))
	c.commit(t)
	require.EqualValues(t, 10, c.free(t, "bob"))
}

func TestApplyRejectionKeepsBlockOpen(t *testing.T) {
	ctx := context.Background()
	c := newChain(t, nil)
	defer c.Close()
	c.genesis(t)

	require.NoError(t, c.InitializeBlock(ctx, c.next(t)))
	_, err := c.ApplyExtrinsic(ctx, []byte{0xde, 0xad})
	requireInvalid(t, err, types.ReasonCannotDecode)
	_, err = c.ApplyExtrinsic(ctx, c.transfer(t, "bob", 10, 3, 1))
	requireInvalid(t, err, types.ReasonFuture)
	_, err = c.ApplyExtrinsic(ctx, c.transfer(t, "bob", 10, 0, 0))
	requireInvalid(t, err, types.ReasonPayment)
	_, err = c.ApplyExtrinsic(ctx, c.transfer(t, "bob", 10, 0, 500))
	requireInvalid(t, err, types.ReasonPayment)

	require.Equal(t, executive.PhaseApplying, c.Phase())
	out, err := c.ApplyExtrinsic(ctx, c.transfer(t, "bob", 10, 0, 1))
	require.NoError(t, err)
	require.True(t, out.Success)
	require.Zero(t, out.Index)

	_, err = c.ApplyExtrinsic(ctx, c.transfer(t, "bob", 10, 0, 1))
	requireInvalid(t, err, types.ReasonStale)

	_, err = c.FinalizeBlock(ctx)
	require.NoError(t, err)
	require.Equal(t, []types.ValidityReason{
		types.ReasonCannotDecode, types.ReasonFuture, types.ReasonPayment, types.ReasonPayment, types.ReasonStale,
	}, c.obs.rejected)
}

func TestBlockWeightLimits(t *testing.T) {
	ctx := context.Background()
	limits := types.BlockLimits{MaxBlockWeight: 1000, MaxExtrinsicWeight: 600}
	c := newChain(t, nil, withLimits(limits))
	defer c.Close()
	c.genesis(t)

	require.NoError(t, c.InitializeBlock(ctx, c.next(t)))
	// Too heavy for any block: rejected, the block stays open.
	_, err := c.ApplyExtrinsic(ctx, work(t, 700, false))
	requireInvalid(t, err, types.ReasonExhaustsResources)
	require.Equal(t, executive.PhaseApplying, c.Phase())
	for _, w := range []uint64{450, 450, 100} {
		_, err = c.ApplyExtrinsic(ctx, work(t, w, false))
		require.NoError(t, err, "weight %d", w)
	}
	_, err = c.FinalizeBlock(ctx)
	require.NoError(t, err)
	c.commit(t)
	require.EqualValues(t, 3, c.counter(t, "work"))

	// Going past the block limit while building fails the block.
	require.NoError(t, c.InitializeBlock(ctx, c.next(t)))
	for i := 0; i < 2; i++ {
		_, err = c.ApplyExtrinsic(ctx, work(t, 450, false))
		require.NoError(t, err)
	}
	_, err = c.ApplyExtrinsic(ctx, work(t, 450, false))
	requireFatal(t, err, types.FatalWeightOverrun)
	require.Equal(t, executive.PhaseFailed, c.Phase())
	require.Equal(t, []types.FatalKind{types.FatalWeightOverrun}, c.obs.failed)
	_, err = c.FinalizeBlock(ctx)
	require.ErrorIs(t, err, executive.ErrWrongPhase)

	// The failed block left no trace, and the pool still admits the
	// extrinsic because it ignores block capacity.
	head, _ := c.Head()
	require.EqualValues(t, 1, head.Number)
	require.EqualValues(t, 3, c.counter(t, "work"))
	_, err = c.ValidateTransaction(ctx, types.SourceExternal, work(t, 450, false))
	require.NoError(t, err)

	// Building resumes from the committed head.
	c.build(t, work(t, 450, false))
	c.commit(t)
	require.EqualValues(t, 4, c.counter(t, "work"))

	// A heavier block built elsewhere cannot be imported here.
	builder := newChain(t, nil)
	defer builder.Close()
	builder.genesis(t)
	heavy := builder.build(t, work(t, 450, false), work(t, 450, false), work(t, 450, false))

	importer := newChain(t, nil, withLimits(limits))
	defer importer.Close()
	importer.genesis(t)
	_, err = importer.ExecuteBlock(ctx, heavy)
	requireFatal(t, err, types.FatalWeightOverrun)
	require.Equal(t, executive.PhaseFailed, importer.Phase())
}

func TestImportFatalKinds(t *testing.T) {
	builder := newChain(t, nil)
	defer builder.Close()
	genesis := builder.genesis(t)
	valid := builder.build(t, builder.transfer(t, "bob", 5, 0, 1))

	tests := []struct {
		name  string
		block func() types.Block
		kind  types.FatalKind
	}{
		{"wrong number", func() types.Block { return frametest.MakeBlock(2, genesis.Hash()) }, types.FatalBadBlock},
		{"wrong parent", func() types.Block { return frametest.MakeBlock(1, types.Hash{0x01}) }, types.FatalBadBlock},
		{"extrinsics root", func() types.Block {
			b := valid
			b.Header.ExtrinsicsRoot = types.Hash{0x02}
			return b
		}, types.FatalExtrinsicsRootMismatch},
		{"undecodable extrinsic", func() types.Block {
			return frametest.MakeBlock(1, genesis.Hash(), []byte{0xde, 0xad})
		}, types.FatalDecodeFailure},
		{"invalid extrinsic", func() types.Block {
			return frametest.MakeBlock(1, genesis.Hash(), builder.transfer(t, "bob", 5, 7, 1))
		}, types.FatalInvalidExtrinsic},
		{"state root", func() types.Block {
			b := valid
			b.Header.StateRoot = types.Hash{0x03}
			return b
		}, types.FatalStateRootMismatch},
		{"digest", func() types.Block {
			b := valid
			b.Header.Digest.Logs = append([]types.DigestItem{}, b.Header.Digest.Logs...)
			b.Header.Digest.Logs = append(b.Header.Digest.Logs, types.DigestItem{Kind: types.DigestOther, Data: []byte("x")})
			return b
		}, types.FatalDigestMismatch},
	}

	importer := newChain(t, nil)
	defer importer.Close()
	importer.genesis(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := importer.ExecuteBlock(context.Background(), tt.block())
			fe := requireFatal(t, err, tt.kind)
			require.EqualValues(t, tt.block().Header.Number, fe.Number)
			require.Equal(t, executive.PhaseFailed, importer.Phase())
		})
	}
	require.Len(t, importer.obs.failed, len(tests))

	// A failed import leaves committed state untouched.
	head, _ := importer.Head()
	require.Equal(t, genesis, head)
	_, err := importer.ExecuteBlock(context.Background(), valid)
	require.NoError(t, err)
	importer.commit(t)
	require.EqualValues(t, 5, importer.free(t, "bob"))
}

func TestHookFailuresAreFatal(t *testing.T) {
	ctx := context.Background()

	c := newChain(t, &tracer{version: 1, panicAt: 1})
	defer c.Close()
	c.genesis(t)
	requireFatal(t, c.InitializeBlock(ctx, c.next(t)), types.FatalPanic)
	require.Equal(t, executive.PhaseFailed, c.Phase())

	c = newChain(t, &tracer{version: 1, failFinalizeAt: 1})
	defer c.Close()
	c.genesis(t)
	require.NoError(t, c.InitializeBlock(ctx, c.next(t)))
	_, err := c.FinalizeBlock(ctx)
	requireFatal(t, err, types.FatalHookFailure)
	require.Equal(t, []types.FatalKind{types.FatalHookFailure}, c.obs.failed)

	c = newChain(t, &tracer{version: 1, initWeight: 5000}, withLimits(types.BlockLimits{MaxBlockWeight: 1000}))
	defer c.Close()
	c.genesis(t)
	requireFatal(t, c.InitializeBlock(ctx, c.next(t)), types.FatalWeightOverrun)
}

func TestValidateAndSimulateDoNotWrite(t *testing.T) {
	ctx := context.Background()
	c := newChain(t, nil)
	defer c.Close()
	c.genesis(t)

	raw := c.transfer(t, "bob", 30, 0, 2)
	valid, err := c.ValidateTransaction(ctx, types.SourceExternal, raw)
	require.NoError(t, err)
	require.NotEmpty(t, valid.Provides)
	require.True(t, valid.Propagate)
	require.NotZero(t, valid.Priority)

	out, err := c.Simulate(ctx, raw)
	require.NoError(t, err)
	require.True(t, out.Success)
	require.EqualValues(t, 2, out.Fee)

	failing, err := c.Simulate(ctx, c.transfer(t, "bob", 1000, 0, 1))
	require.NoError(t, err)
	require.False(t, failing.Success)
	require.Equal(t, "InsufficientBalance", failing.Error.Name)

	_, err = c.Simulate(ctx, []byte{0x00})
	requireInvalid(t, err, types.ReasonCannotDecode)

	require.EqualValues(t, 100, c.free(t, "alice"))
	require.Zero(t, c.free(t, "bob"))
	require.Zero(t, c.counter(t, "inits"))

	// The validated transaction still applies at nonce 0.
	c.build(t, raw)
	c.commit(t)
	require.EqualValues(t, 68, c.free(t, "alice"))
	_, err = c.ValidateTransaction(ctx, types.SourceExternal, raw)
	requireInvalid(t, err, types.ReasonStale)
}

func TestValidateBatch(t *testing.T) {
	c := newChain(t, nil)
	defer c.Close()
	c.genesis(t)

	raws := [][]byte{
		c.transfer(t, "bob", 1, 0, 1),
		c.transfer(t, "bob", 1, 1, 1),
		{0xff},
		work(t, 5, false),
	}
	results, err := c.ValidateBatch(context.Background(), types.SourceExternal, raws)
	require.NoError(t, err)
	require.Len(t, results, len(raws))
	require.NoError(t, results[0].Err)
	requireInvalid(t, results[1].Err, types.ReasonFuture)
	requireInvalid(t, results[2].Err, types.ReasonCannotDecode)
	require.NoError(t, results[3].Err)
	require.Equal(t, types.NoneOrigin(), results[3].Checked.Origin)
}

func TestResumeFromBackend(t *testing.T) {
	dir := t.TempDir()
	backend, err := storage.OpenLevelBackend(dir)
	require.NoError(t, err)
	c := newChain(t, nil, withBackend(backend))
	c.genesis(t)
	c.build(t, c.transfer(t, "bob", 10, 0, 1))
	c.commit(t)
	head, _ := c.Head()
	sctx := c.SigningContext()
	replay := c.transfer(t, "bob", 10, 0, 1)
	require.NoError(t, c.Close())

	backend, err = storage.OpenLevelBackend(dir)
	require.NoError(t, err)
	c = newChain(t, nil, withBackend(backend))
	defer c.Close()

	got, ok := c.Head()
	require.True(t, ok)
	require.Equal(t, head, got)
	require.Equal(t, sctx, c.SigningContext())
	require.EqualValues(t, 10, c.free(t, "bob"))
	_, err = c.InitGenesis(context.Background(), genesisConfig(t))
	require.ErrorIs(t, err, executive.ErrGenesisExists)
	_, err = c.ValidateTransaction(context.Background(), types.SourceExternal, replay)
	requireInvalid(t, err, types.ReasonStale)

	c.build(t, c.transfer(t, "bob", 10, 1, 1))
	c.commit(t)
	require.EqualValues(t, 20, c.free(t, "bob"))
}

func TestMigrationsRunOnUpgrade(t *testing.T) {
	dir := t.TempDir()
	backend, err := storage.OpenLevelBackend(dir)
	require.NoError(t, err)
	c := newChain(t, &tracer{version: 1}, withBackend(backend))
	c.genesis(t)
	c.build(t)
	c.commit(t)
	require.Empty(t, c.tracer.migrations)
	require.NoError(t, c.Close())

	// Same spec, newer pallet layout: nothing runs until the spec bumps.
	backend, err = storage.OpenLevelBackend(dir)
	require.NoError(t, err)
	c = newChain(t, &tracer{version: 2}, withBackend(backend))
	c.build(t)
	c.commit(t)
	require.Empty(t, c.tracer.migrations)
	require.NoError(t, c.Close())

	backend, err = storage.OpenLevelBackend(dir)
	require.NoError(t, err)
	c = newChain(t, &tracer{version: 2}, withBackend(backend), withSpec(2))
	defer c.Close()
	c.build(t)
	c.commit(t)
	require.Equal(t, []uint16{1}, c.tracer.migrations)
	require.EqualValues(t, 1, c.counter(t, "migrated"))

	c.build(t)
	c.commit(t)
	require.Len(t, c.tracer.migrations, 1)
}

func TestOffchainWorker(t *testing.T) {
	ctx := context.Background()
	c := newChain(t, nil)
	defer c.Close()
	c.genesis(t)
	block := c.build(t)
	c.commit(t)

	xts, err := c.OffchainWorker(ctx, block.Header)
	require.NoError(t, err)
	require.Len(t, xts, 1)

	xt, err := types.DecodeExtrinsic(xts[0])
	require.NoError(t, err)
	require.False(t, xt.IsSigned())
	require.Equal(t, tracerIndex, xt.Call.Module)
	require.Equal(t, callPing, xt.Call.Index)

	_, err = c.ValidateTransaction(ctx, types.SourceLocal, xts[0])
	require.NoError(t, err)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = c.OffchainWorker(cancelled, block.Header)
	require.ErrorIs(t, err, context.Canceled)
}

func TestQueryPaths(t *testing.T) {
	c := newChain(t, nil)
	defer c.Close()
	c.genesis(t)
	c.build(t)
	c.commit(t)

	res := c.query(t, "/version", nil)
	require.True(t, res.OK())
	require.EqualValues(t, 1, res.Number)
	var v types.RuntimeVersion
	require.NoError(t, types.Decode(res.Value, &v))
	require.Equal(t, c.Version(), v)

	res = c.query(t, "/metadata", nil)
	require.True(t, res.OK())
	var md types.Metadata
	require.NoError(t, types.Decode(res.Value, &md))
	var names []string
	for _, p := range md.Pallets {
		names = append(names, p.Name)
	}
	require.Contains(t, names, tracerName)
	require.Contains(t, names, balances.Name)

	res = c.query(t, "/store", tracerInits.Key())
	require.True(t, res.OK())
	n, err := storage.Uint64.Decode(res.Value)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
	require.Equal(t, types.QueryNotFound, c.query(t, "/store", []byte("missing")).Code)

	require.EqualValues(t, 1, c.counter(t, "finals"))
	for _, path := range []types.QueryPath{"/nowhere/x", "/tracer", "/broken/x", "/"} {
		require.Equal(t, types.QueryUnknownPath, c.query(t, path, nil).Code, path)
	}
}

func TestAuthoritiesNeedSource(t *testing.T) {
	c := newChain(t, nil)
	defer c.Close()
	c.genesis(t)

	require.Equal(t, types.CapOffchainWorker|types.CapSimulation, c.Capabilities())
	_, err := c.CurrentAuthorities(context.Background())
	require.ErrorIs(t, err, executive.ErrNoAuthorities)
	_, err = c.ReportOffence(context.Background(), types.OffenceReport{})
	require.ErrorIs(t, err, executive.ErrNoAuthorities)
}

func TestSingleFeeCharger(t *testing.T) {
	_, err := executive.New(executive.Config{
		Pallets: []pallet.Pallet{balances.New(), feeTaker{}},
		Version: version(1),
	})
	require.ErrorContains(t, err, "both charge fees")
}
