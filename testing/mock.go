// Package frametest provides test utilities for runtime and host
// development: a configurable mock runtime, a deterministic keyring,
// a lifecycle test harness and a compliance test suite.
package frametest

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/blockberries/frame"
	"github.com/blockberries/frame/types"
)

// Compile-time check that MockRuntime satisfies all interfaces.
var _ frame.FullRuntime = (*MockRuntime)(nil)

// MockRuntime is a configurable mock runtime for host testing.
// All methods are configurable via function fields. Unconfigured
// methods return sensible zero-value defaults.
//
// MockRuntime implements all optional interfaces so it can be used to
// test capability discovery. Control which capabilities are declared
// via the DeclaredCapabilities field.
type MockRuntime struct {
	mu      sync.Mutex
	pending types.Header

	// DeclaredCapabilities controls the bitfield returned at handshake.
	DeclaredCapabilities types.Capabilities
	// RuntimeVersion is returned by Version and Handshake.
	RuntimeVersion types.RuntimeVersion

	// Configurable handlers. If nil, defaults are used.
	HandshakeFn           func(context.Context, types.HandshakeRequest) (types.HandshakeResponse, error)
	InitializeBlockFn     func(context.Context, types.Header) error
	ApplyExtrinsicFn      func(context.Context, []byte) (types.ApplyOutcome, error)
	FinalizeBlockFn       func(context.Context) (types.Header, error)
	ExecuteBlockFn        func(context.Context, types.Block) (types.BlockOutcome, error)
	CommitFn              func(context.Context) (types.CommitResult, error)
	ValidateTransactionFn func(context.Context, types.TransactionSource, []byte) (types.ValidTransaction, error)
	QueryFn               func(context.Context, types.StateQuery) (types.StateQueryResult, error)
	CurrentAuthoritiesFn  func(context.Context) (types.AuthoritySet, error)
	NextAuthoritiesFn     func(context.Context) (types.AuthoritySet, error)
	ReportOffenceFn       func(context.Context, types.OffenceReport) ([]byte, error)
	OffchainWorkerFn      func(context.Context, types.Header) ([][]byte, error)
	SimulateFn            func(context.Context, []byte) (types.ApplyOutcome, error)

	// Call counters (atomic for concurrent access).
	HandshakeCalls      atomic.Int64
	InitializeCalls     atomic.Int64
	ApplyCalls          atomic.Int64
	FinalizeCalls       atomic.Int64
	ExecuteBlockCalls   atomic.Int64
	CommitCalls         atomic.Int64
	ValidateCalls       atomic.Int64
	QueryCalls          atomic.Int64
	OffchainWorkerCalls atomic.Int64
}

func (m *MockRuntime) Version() types.RuntimeVersion { return m.RuntimeVersion }

func (m *MockRuntime) Handshake(ctx context.Context, req types.HandshakeRequest) (types.HandshakeResponse, error) {
	m.HandshakeCalls.Add(1)
	if m.HandshakeFn != nil {
		return m.HandshakeFn(ctx, req)
	}
	return types.HandshakeResponse{
		LastBlock:    req.LastCommitted,
		Version:      m.RuntimeVersion,
		Capabilities: m.DeclaredCapabilities,
	}, nil
}

func (m *MockRuntime) InitializeBlock(ctx context.Context, header types.Header) error {
	m.InitializeCalls.Add(1)
	m.mu.Lock()
	m.pending = header
	m.mu.Unlock()
	if m.InitializeBlockFn != nil {
		return m.InitializeBlockFn(ctx, header)
	}
	return nil
}

func (m *MockRuntime) ApplyExtrinsic(ctx context.Context, raw []byte) (types.ApplyOutcome, error) {
	n := m.ApplyCalls.Add(1)
	if m.ApplyExtrinsicFn != nil {
		return m.ApplyExtrinsicFn(ctx, raw)
	}
	return types.ApplyOutcome{Index: uint32(n - 1), Success: true}, nil
}

// FinalizeBlock returns the header passed to InitializeBlock by default.
func (m *MockRuntime) FinalizeBlock(ctx context.Context) (types.Header, error) {
	m.FinalizeCalls.Add(1)
	if m.FinalizeBlockFn != nil {
		return m.FinalizeBlockFn(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending, nil
}

func (m *MockRuntime) ExecuteBlock(ctx context.Context, block types.Block) (types.BlockOutcome, error) {
	m.ExecuteBlockCalls.Add(1)
	if m.ExecuteBlockFn != nil {
		return m.ExecuteBlockFn(ctx, block)
	}
	outcomes := make([]types.ApplyOutcome, len(block.Extrinsics))
	for i := range block.Extrinsics {
		outcomes[i] = types.ApplyOutcome{Index: uint32(i), Success: true}
	}
	return types.BlockOutcome{Header: block.Header, Outcomes: outcomes}, nil
}

func (m *MockRuntime) Commit(ctx context.Context) (types.CommitResult, error) {
	m.CommitCalls.Add(1)
	if m.CommitFn != nil {
		return m.CommitFn(ctx)
	}
	return types.CommitResult{}, nil
}

func (m *MockRuntime) ValidateTransaction(ctx context.Context, source types.TransactionSource, raw []byte) (types.ValidTransaction, error) {
	m.ValidateCalls.Add(1)
	if m.ValidateTransactionFn != nil {
		return m.ValidateTransactionFn(ctx, source, raw)
	}
	return types.ValidTransaction{Longevity: 64, Propagate: true}, nil
}

func (m *MockRuntime) Query(ctx context.Context, req types.StateQuery) (types.StateQueryResult, error) {
	m.QueryCalls.Add(1)
	if m.QueryFn != nil {
		return m.QueryFn(ctx, req)
	}
	return types.StateQueryResult{}, nil
}

func (m *MockRuntime) CurrentAuthorities(ctx context.Context) (types.AuthoritySet, error) {
	if m.CurrentAuthoritiesFn != nil {
		return m.CurrentAuthoritiesFn(ctx)
	}
	return types.AuthoritySet{}, nil
}

func (m *MockRuntime) NextAuthorities(ctx context.Context) (types.AuthoritySet, error) {
	if m.NextAuthoritiesFn != nil {
		return m.NextAuthoritiesFn(ctx)
	}
	return types.AuthoritySet{}, nil
}

func (m *MockRuntime) ReportOffence(ctx context.Context, report types.OffenceReport) ([]byte, error) {
	if m.ReportOffenceFn != nil {
		return m.ReportOffenceFn(ctx, report)
	}
	return nil, nil
}

func (m *MockRuntime) OffchainWorker(ctx context.Context, header types.Header) ([][]byte, error) {
	m.OffchainWorkerCalls.Add(1)
	if m.OffchainWorkerFn != nil {
		return m.OffchainWorkerFn(ctx, header)
	}
	return nil, nil
}

func (m *MockRuntime) Simulate(ctx context.Context, raw []byte) (types.ApplyOutcome, error) {
	if m.SimulateFn != nil {
		return m.SimulateFn(ctx, raw)
	}
	return types.ApplyOutcome{Success: true}, nil
}
