package framegrpc_test

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/blockberries/frame"
	"github.com/blockberries/frame/example/balances"
	"github.com/blockberries/frame/example/testchain"
	framegrpc "github.com/blockberries/frame/grpc"
	frametest "github.com/blockberries/frame/testing"
	"github.com/blockberries/frame/types"
)

var keys = frametest.NewKeyring()

// startServer starts a gRPC server on a random port and returns
// the listener address and a cleanup function.
func startServer(t *testing.T, gs *framegrpc.GRPCServer) (string, func()) {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	s := grpc.NewServer()
	gs.Register(s)

	go func() {
		_ = s.Serve(lis)
	}()

	return lis.Addr().String(), func() {
		s.GracefulStop()
	}
}

func dial(t *testing.T, addr string) *framegrpc.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := framegrpc.Dial(ctx, addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	return client
}

func testchainServer(t *testing.T) *framegrpc.GRPCServer {
	t.Helper()
	rt, err := testchain.New(testchain.Options{})
	if err != nil {
		t.Fatalf("testchain.New: %v", err)
	}
	t.Cleanup(func() { rt.Close() })
	return framegrpc.NewGRPCServer(rt)
}

func genesis(t *testing.T) types.GenesisConfig {
	t.Helper()
	var g testchain.Genesis
	g.ChainID = "grpc-test"
	g.Balances.Balances = []balances.GenesisBalance{{Account: keys.Account("alice"), Free: 100}}
	cfg, err := g.Config()
	if err != nil {
		t.Fatalf("genesis config: %v", err)
	}
	return cfg
}

func signTransfer(t *testing.T, resp types.HandshakeResponse, nonce, amount uint64) []byte {
	t.Helper()
	call, err := testchain.TransferCall(keys.Account("bob"), amount)
	if err != nil {
		t.Fatal(err)
	}
	raw, err := keys.Sign("alice", call, nonce, 1, types.SigningContext{
		GenesisHash:        resp.LastBlock.Hash,
		SpecVersion:        resp.Version.SpecVersion,
		TransactionVersion: resp.Version.TransactionVersion,
	})
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func TestGRPC_Testchain_Lifecycle(t *testing.T) {
	addr, cleanup := startServer(t, testchainServer(t))
	defer cleanup()

	client := dial(t, addr)
	defer client.Close()

	ctx := context.Background()

	gen := genesis(t)
	resp, err := client.Handshake(ctx, types.HandshakeRequest{Genesis: &gen})
	if err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	if resp.StateRoot == nil || resp.LastHeader == nil {
		t.Fatal("expected genesis state root and header")
	}
	if client.Version().SpecName != testchain.SpecName {
		t.Fatalf("version not cached from handshake: %+v", client.Version())
	}

	// Build a block with one transfer.
	raw := signTransfer(t, resp, 0, 25)
	if err := client.InitializeBlock(ctx, types.Header{Number: 1, ParentHash: resp.LastHeader.Hash()}); err != nil {
		t.Fatalf("InitializeBlock: %v", err)
	}
	out, err := client.ApplyExtrinsic(ctx, raw)
	if err != nil {
		t.Fatalf("ApplyExtrinsic: %v", err)
	}
	if !out.Success {
		t.Fatalf("transfer failed: %+v", out.Error)
	}

	// A replay inside the same block is rejected with a typed error and
	// the block stays open.
	_, err = client.ApplyExtrinsic(ctx, raw)
	if !errors.Is(err, types.Invalid(types.ReasonStale)) {
		t.Fatalf("expected stale, got %v", err)
	}

	header, err := client.FinalizeBlock(ctx)
	if err != nil {
		t.Fatalf("FinalizeBlock: %v", err)
	}
	result, err := client.Commit(ctx)
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if result.Block.Hash != header.Hash() {
		t.Fatalf("committed %s, sealed %s", result.Block.Hash, header.Hash())
	}

	bob := keys.Account("bob")
	qr, err := client.Query(ctx, types.StateQuery{Path: "/balances/account", Data: bob[:]})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if qr.Number != 1 {
		t.Fatalf("expected query number 1, got %d", qr.Number)
	}
	var acc balances.AccountData
	if err := types.Decode(qr.Value, &acc); err != nil {
		t.Fatalf("decode account: %v", err)
	}
	if acc.Free != 25 {
		t.Fatalf("expected bob free=25, got %d", acc.Free)
	}
}

func TestGRPC_ImportAcrossTransport(t *testing.T) {
	// The block is built in-process and imported over gRPC.
	rt, err := testchain.New(testchain.Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer rt.Close()
	h := frametest.NewHarness(t, rt)
	gen := genesis(t)
	h.Genesis(gen)
	block, _ := h.BuildAndCommit(h.Sign(keys, "alice", mustTransfer(t, 10), 1))

	addr, cleanup := startServer(t, testchainServer(t))
	defer cleanup()
	client := dial(t, addr)
	defer client.Close()

	ctx := context.Background()
	if _, err := client.Handshake(ctx, types.HandshakeRequest{Genesis: &gen}); err != nil {
		t.Fatalf("Handshake: %v", err)
	}

	// A tampered state root comes back as a typed fatal error.
	bad := block
	bad.Header.StateRoot = types.Hash{0x01}
	_, err = client.ExecuteBlock(ctx, bad)
	fe, ok := frame.IsFatal(err)
	if !ok {
		t.Fatalf("expected fatal error, got %v", err)
	}
	if fe.Kind != types.FatalStateRootMismatch || fe.Number != 1 {
		t.Fatalf("unexpected fatal error: %v", fe)
	}

	// The client guard is back in Ready and the valid block imports.
	outcome, err := client.ExecuteBlock(ctx, block)
	if err != nil {
		t.Fatalf("ExecuteBlock: %v", err)
	}
	if outcome.Header.StateRoot != block.Header.StateRoot {
		t.Fatal("state root differs across transport")
	}
	if _, err := client.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func mustTransfer(t *testing.T, amount uint64) types.Call {
	t.Helper()
	call, err := testchain.TransferCall(keys.Account("bob"), amount)
	if err != nil {
		t.Fatal(err)
	}
	return call
}

func TestGRPC_Testchain_Capabilities(t *testing.T) {
	addr, cleanup := startServer(t, testchainServer(t))
	defer cleanup()

	client := dial(t, addr)
	defer client.Close()

	ctx := context.Background()
	gen := genesis(t)
	resp, err := client.Handshake(ctx, types.HandshakeRequest{Genesis: &gen})
	if err != nil {
		t.Fatalf("Handshake: %v", err)
	}

	caps := resp.Capabilities
	for _, c := range []types.Capabilities{types.CapAuthorities, types.CapOffchainWorker, types.CapSimulation} {
		if !caps.Has(c) {
			t.Errorf("missing %s", c)
		}
	}

	auth := client.AsAuthorityAPI()
	if auth == nil {
		t.Fatal("AsAuthorityAPI returned nil")
	}
	if _, err := auth.CurrentAuthorities(ctx); err != nil {
		t.Fatalf("CurrentAuthorities: %v", err)
	}
	if _, err := auth.NextAuthorities(ctx); err != nil {
		t.Fatalf("NextAuthorities: %v", err)
	}
	raw, err := auth.ReportOffence(ctx, types.OffenceReport{
		Kind:     types.OffenceEquivocation,
		Offender: keys.Account("alice"),
	})
	if err != nil {
		t.Fatalf("ReportOffence: %v", err)
	}
	if _, err := types.DecodeExtrinsic(raw); err != nil {
		t.Fatalf("offence extrinsic does not decode: %v", err)
	}

	ow := client.AsOffchainWorker()
	if ow == nil {
		t.Fatal("AsOffchainWorker returned nil")
	}
	if _, err := ow.OffchainWorker(ctx, *resp.LastHeader); err != nil {
		t.Fatalf("OffchainWorker: %v", err)
	}

	sim := client.AsSimulator()
	if sim == nil {
		t.Fatal("AsSimulator returned nil")
	}
	out, err := sim.Simulate(ctx, signTransfer(t, resp, 0, 500))
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	if out.Success || out.Error == nil || out.Error.Name != "InsufficientBalance" {
		t.Fatalf("expected InsufficientBalance, got %+v", out)
	}

	// Undecodable input is a typed validity error through Simulate too.
	_, err = sim.Simulate(ctx, []byte{0xff})
	if !errors.Is(err, types.Invalid(types.ReasonCannotDecode)) {
		t.Fatalf("expected CannotDecode, got %v", err)
	}
}

func TestGRPC_TypedErrorsFromMock(t *testing.T) {
	mock := &frametest.MockRuntime{
		ApplyExtrinsicFn: func(context.Context, []byte) (types.ApplyOutcome, error) {
			return types.ApplyOutcome{}, types.InvalidCustom(7)
		},
		ValidateTransactionFn: func(context.Context, types.TransactionSource, []byte) (types.ValidTransaction, error) {
			return types.ValidTransaction{}, types.Unknown(types.ReasonCannotLookup)
		},
	}
	commits := 0
	mock.CommitFn = func(context.Context) (types.CommitResult, error) {
		commits++
		if commits == 1 {
			return types.CommitResult{}, errors.New("disk full")
		}
		return types.CommitResult{Block: types.BlockID{Number: 1}}, nil
	}

	addr, cleanup := startServer(t, framegrpc.NewGRPCServer(mock))
	defer cleanup()
	client := dial(t, addr)
	defer client.Close()

	ctx := context.Background()
	if _, err := client.Handshake(ctx, types.HandshakeRequest{Genesis: &types.GenesisConfig{ChainID: "mock"}}); err != nil {
		t.Fatalf("Handshake: %v", err)
	}

	_, err := client.ValidateTransaction(ctx, types.SourceExternal, []byte{1})
	if verr, ok := frame.IsInvalid(err); !ok || verr.Kind != types.ValidityUnknown {
		t.Fatalf("expected unknown validity, got %v", err)
	}

	if err := client.InitializeBlock(ctx, types.Header{Number: 1}); err != nil {
		t.Fatalf("InitializeBlock: %v", err)
	}
	_, err = client.ApplyExtrinsic(ctx, []byte{1})
	if !errors.Is(err, types.InvalidCustom(7)) {
		t.Fatalf("expected custom(7), got %v", err)
	}
	if _, err := client.FinalizeBlock(ctx); err != nil {
		t.Fatalf("FinalizeBlock: %v", err)
	}

	// A failed commit is a plain error and may be retried.
	_, err = client.Commit(ctx)
	if err == nil {
		t.Fatal("expected commit failure")
	}
	if _, ok := frame.IsFatal(err); ok {
		t.Fatal("storage failure should not be reported as fatal")
	}
	if status.Code(err) != codes.Unknown {
		t.Fatalf("expected codes.Unknown, got %s", status.Code(err))
	}
	if _, err := client.Commit(ctx); err != nil {
		t.Fatalf("Commit retry: %v", err)
	}
}

func TestGRPC_NilCapabilities(t *testing.T) {
	// The mock implements every optional API but declares none, so the
	// accessors must return nil.
	addr, cleanup := startServer(t, framegrpc.NewGRPCServer(&frametest.MockRuntime{}))
	defer cleanup()

	client := dial(t, addr)
	defer client.Close()

	if _, err := client.Handshake(context.Background(), types.HandshakeRequest{Genesis: &types.GenesisConfig{ChainID: "mock"}}); err != nil {
		t.Fatalf("Handshake: %v", err)
	}

	if client.AsAuthorityAPI() != nil {
		t.Error("expected nil AuthorityAPI")
	}
	if client.AsOffchainWorker() != nil {
		t.Error("expected nil OffchainWorkerAPI")
	}
	if client.AsSimulator() != nil {
		t.Error("expected nil Simulator")
	}
}

func TestGRPC_ServerRejectsMisuse(t *testing.T) {
	addr, cleanup := startServer(t, framegrpc.NewGRPCServer(&frametest.MockRuntime{}))
	defer cleanup()

	// Bypass the client guard to reach the server out of order.
	cc, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(framegrpc.CramberryCodec{})),
	)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer cc.Close()

	err = cc.Invoke(context.Background(),
		"/github.com/blockberries/frame.v1.RuntimeService/Commit",
		&framegrpc.CommitRequest{}, &framegrpc.CommitResponse{})
	if status.Code(err) != codes.FailedPrecondition {
		t.Fatalf("expected FailedPrecondition, got %v", err)
	}

	// The server survives and still accepts a handshake.
	client := dial(t, addr)
	defer client.Close()
	if _, err := client.Handshake(context.Background(), types.HandshakeRequest{Genesis: &types.GenesisConfig{ChainID: "mock"}}); err != nil {
		t.Fatalf("Handshake after misuse: %v", err)
	}
}
