package frametest

import (
	"context"
	"testing"

	"github.com/blockberries/frame"
	"github.com/blockberries/frame/server"
	"github.com/blockberries/frame/storage"
	"github.com/blockberries/frame/types"
)

// Harness provides a convenient test harness for runtime developers
// to drive their runtime through the lifecycle state machine. It
// tracks the committed head so blocks can be built on top of it.
type Harness struct {
	t    *testing.T
	srv  *server.Server
	head types.Header
	sctx types.SigningContext
}

// NewHarness creates a test harness wrapping the given runtime.
func NewHarness(t *testing.T, rt frame.Runtime, opts ...server.Option) *Harness {
	t.Helper()
	return &Harness{t: t, srv: server.New(rt, opts...)}
}

// Server returns the underlying server for direct access.
func (h *Harness) Server() *server.Server {
	return h.srv
}

// Head returns the last committed header.
func (h *Harness) Head() types.Header { return h.head }

// SigningContext returns the context extrinsics must be signed under.
// Known after a genesis handshake, or after SetGenesisHash.
func (h *Harness) SigningContext() types.SigningContext { return h.sctx }

// SetGenesisHash sets the genesis hash used for signing after a
// restart handshake.
func (h *Harness) SetGenesisHash(hash types.Hash) { h.sctx.GenesisHash = hash }

func (h *Harness) record(resp types.HandshakeResponse) {
	if resp.LastHeader != nil {
		h.head = *resp.LastHeader
	}
	h.sctx.SpecVersion = resp.Version.SpecVersion
	h.sctx.TransactionVersion = resp.Version.TransactionVersion
}

// Genesis performs a genesis handshake with the given config.
func (h *Harness) Genesis(genesis types.GenesisConfig) types.HandshakeResponse {
	h.t.Helper()
	resp, err := h.srv.Handshake(context.Background(), types.HandshakeRequest{
		Genesis: &genesis,
	})
	if err != nil {
		h.t.Fatalf("Handshake (genesis) failed: %v", err)
	}
	h.record(resp)
	if resp.LastBlock != nil {
		h.sctx.GenesisHash = resp.LastBlock.Hash
	}
	return resp
}

// GenesisDefault performs a genesis handshake with DefaultGenesis.
func (h *Harness) GenesisDefault() types.HandshakeResponse {
	h.t.Helper()
	return h.Genesis(DefaultGenesis())
}

// Restart performs a restart handshake at the given block.
func (h *Harness) Restart(block types.BlockID) types.HandshakeResponse {
	h.t.Helper()
	resp, err := h.srv.Handshake(context.Background(), types.HandshakeRequest{
		LastCommitted: &block,
	})
	if err != nil {
		h.t.Fatalf("Handshake (restart) failed: %v", err)
	}
	h.record(resp)
	return resp
}

// NextHeader returns the header template for the block after head.
func (h *Harness) NextHeader() types.Header {
	return types.Header{Number: h.head.Number + 1, ParentHash: h.head.Hash()}
}

// BuildBlock builds a block on the committed head from the given
// extrinsics, failing the test if any of them is not applied. The block
// is sealed but not committed.
func (h *Harness) BuildBlock(raws ...[]byte) (types.Block, []types.ApplyOutcome) {
	h.t.Helper()
	ctx := context.Background()
	header := h.NextHeader()
	if err := h.srv.InitializeBlock(ctx, header); err != nil {
		h.t.Fatalf("InitializeBlock (number=%d) failed: %v", header.Number, err)
	}
	outcomes := make([]types.ApplyOutcome, 0, len(raws))
	for i, raw := range raws {
		out, err := h.srv.ApplyExtrinsic(ctx, raw)
		if err != nil {
			h.t.Fatalf("ApplyExtrinsic %d failed: %v", i, err)
		}
		outcomes = append(outcomes, out)
	}
	sealed, err := h.srv.FinalizeBlock(ctx)
	if err != nil {
		h.t.Fatalf("FinalizeBlock (number=%d) failed: %v", header.Number, err)
	}
	return types.Block{Header: sealed, Extrinsics: raws}, outcomes
}

// BuildAndCommit builds a block and commits it.
func (h *Harness) BuildAndCommit(raws ...[]byte) (types.Block, []types.ApplyOutcome) {
	h.t.Helper()
	block, outcomes := h.BuildBlock(raws...)
	h.Commit()
	return block, outcomes
}

// ExecuteBlock imports a block without committing.
func (h *Harness) ExecuteBlock(block types.Block) types.BlockOutcome {
	h.t.Helper()
	outcome, err := h.srv.ExecuteBlock(context.Background(), block)
	if err != nil {
		h.t.Fatalf("ExecuteBlock (number=%d) failed: %v", block.Header.Number, err)
	}
	return outcome
}

// ExecuteBlockErr imports a block and returns the error, which the
// caller expects to be fatal.
func (h *Harness) ExecuteBlockErr(block types.Block) *frame.FatalError {
	h.t.Helper()
	_, err := h.srv.ExecuteBlock(context.Background(), block)
	fe, ok := frame.IsFatal(err)
	if !ok {
		h.t.Fatalf("ExecuteBlock (number=%d): expected fatal error, got %v", block.Header.Number, err)
	}
	return fe
}

// Commit commits the sealed block and advances the head.
func (h *Harness) Commit() types.CommitResult {
	h.t.Helper()
	sealed := h.srv.LastSealed()
	result, err := h.srv.Commit(context.Background())
	if err != nil {
		h.t.Fatalf("Commit failed: %v", err)
	}
	if sealed != nil {
		h.head = *sealed
	}
	return result
}

// ExecuteAndCommit imports a block and commits it, returning the
// block outcome.
func (h *Harness) ExecuteAndCommit(block types.Block) types.BlockOutcome {
	h.t.Helper()
	outcome := h.ExecuteBlock(block)
	h.Commit()
	return outcome
}

// Validate submits a transaction for pool validation.
func (h *Harness) Validate(raw []byte) (types.ValidTransaction, error) {
	return h.srv.ValidateTransaction(context.Background(), types.SourceExternal, raw)
}

// MustAcceptTx asserts that a transaction passes validation.
func (h *Harness) MustAcceptTx(raw []byte) types.ValidTransaction {
	h.t.Helper()
	v, err := h.Validate(raw)
	if err != nil {
		h.t.Fatalf("expected tx accepted, got %v", err)
	}
	return v
}

// MustRejectTx asserts that a transaction fails validation and returns
// the validity error.
func (h *Harness) MustRejectTx(raw []byte) *types.TransactionValidityError {
	h.t.Helper()
	_, err := h.Validate(raw)
	verr, ok := frame.IsInvalid(err)
	if !ok {
		h.t.Fatalf("expected validity error, got %v", err)
	}
	return verr
}

// Query reads committed state.
func (h *Harness) Query(path types.QueryPath, data []byte) types.StateQueryResult {
	h.t.Helper()
	result, err := h.srv.Query(context.Background(), types.StateQuery{
		Path: path,
		Data: data,
	})
	if err != nil {
		h.t.Fatalf("Query failed: %v", err)
	}
	return result
}

// Nonce returns the committed nonce of who.
func (h *Harness) Nonce(who types.AccountID) uint64 {
	h.t.Helper()
	res := h.Query("/system/nonce", who[:])
	if !res.OK() {
		h.t.Fatalf("nonce query: code %d: %s", res.Code, res.Info)
	}
	n, err := storage.Uint64.Decode(res.Value)
	if err != nil {
		h.t.Fatalf("nonce query: %v", err)
	}
	return n
}

// Sign signs call from name with the next committed nonce.
func (h *Harness) Sign(keys *Keyring, name string, call types.Call, fee uint64) []byte {
	h.t.Helper()
	raw, err := keys.Sign(name, call, h.Nonce(keys.Account(name)), fee, h.sctx)
	if err != nil {
		h.t.Fatalf("sign: %v", err)
	}
	return raw
}

// --- Helper Factories ---

// DefaultGenesis returns a minimal genesis config suitable for testing.
func DefaultGenesis() types.GenesisConfig {
	return types.GenesisConfig{ChainID: "test-chain"}
}

// MakeBlock creates a block at the given number with the provided
// extrinsics and their root. The state root is left zero; use
// BuildBlock for a block that imports.
func MakeBlock(number uint64, parent types.Hash, xts ...[]byte) types.Block {
	return types.Block{
		Header: types.Header{
			Number:         number,
			ParentHash:     parent,
			ExtrinsicsRoot: storage.OrderedRoot(xts),
		},
		Extrinsics: xts,
	}
}
