package server

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/blockberries/frame"
	"github.com/blockberries/frame/types"
)

// Compile-time interface check.
var _ frame.Connection = (*Server)(nil)

// ErrIncompatibleRuntime is returned by Handshake when the runtime's
// version descriptor does not satisfy the host's Requirements.
var ErrIncompatibleRuntime = errors.New("frame: incompatible runtime")

// ErrUnsupported is returned when the runtime lacks the optional API a
// call needs.
var ErrUnsupported = errors.New("frame: not supported")

// Requirements describe the runtime versions a host can drive.
// Zero fields are not checked.
type Requirements struct {
	SpecName           string
	MinSpecVersion     uint32
	TransactionVersion uint32
	// Minimum version of each runtime API the host calls.
	Apis []types.ApiVersion
}

// Check returns an error wrapping ErrIncompatibleRuntime if v does not
// satisfy r.
func (r Requirements) Check(v types.RuntimeVersion) error {
	if r.SpecName != "" && v.SpecName != r.SpecName {
		return fmt.Errorf("%w: spec name %q, want %q", ErrIncompatibleRuntime, v.SpecName, r.SpecName)
	}
	if v.SpecVersion < r.MinSpecVersion {
		return fmt.Errorf("%w: spec version %d below %d", ErrIncompatibleRuntime, v.SpecVersion, r.MinSpecVersion)
	}
	if r.TransactionVersion != 0 && v.TransactionVersion != r.TransactionVersion {
		return fmt.Errorf("%w: transaction version %d, want %d", ErrIncompatibleRuntime, v.TransactionVersion, r.TransactionVersion)
	}
	for _, want := range r.Apis {
		got, ok := v.API(want.Name)
		if !ok {
			return fmt.Errorf("%w: missing api %s", ErrIncompatibleRuntime, want.Name)
		}
		if got < want.Version {
			return fmt.Errorf("%w: api %s version %d below %d", ErrIncompatibleRuntime, want.Name, got, want.Version)
		}
	}
	return nil
}

// Option configures a Server.
type Option func(*Server)

// WithRequirements makes Handshake refuse runtimes that do not satisfy req.
func WithRequirements(req Requirements) Option {
	return func(s *Server) { s.req = req }
}

// WithLogger sets the logger for capability warnings.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Server) { s.logger = l }
}

// Server wraps a runtime with lifecycle enforcement and capability
// routing. The host node interacts with the runtime exclusively
// through this server.
type Server struct {
	rt     frame.Runtime
	guard  *LifecycleGuard
	caps   types.Capabilities
	req    Requirements
	logger logrus.FieldLogger

	// Optional interfaces (nil if not supported).
	authorities frame.AuthorityAPI
	offchain    frame.OffchainWorkerAPI
	simulator   frame.Simulator

	// Sealed block (held between FinalizeBlock/ExecuteBlock and Commit).
	mu          sync.Mutex
	lastOutcome *types.BlockOutcome
	lastSealed  *types.Header
}

// New creates a new Server wrapping the given runtime.
func New(rt frame.Runtime, opts ...Option) *Server {
	s := &Server{
		rt:     rt,
		guard:  NewLifecycleGuard(),
		logger: logrus.StandardLogger(),
	}
	for _, o := range opts {
		o(s)
	}
	// Pre-discover optional interfaces (validated after handshake).
	s.authorities, _ = rt.(frame.AuthorityAPI)
	s.offchain, _ = rt.(frame.OffchainWorkerAPI)
	s.simulator, _ = rt.(frame.Simulator)
	return s
}

// Version returns the wrapped runtime's version descriptor.
func (s *Server) Version() types.RuntimeVersion { return s.rt.Version() }

// State returns the lifecycle state name.
func (s *Server) State() string { return s.guard.State() }

// Handshake performs the startup handshake, checks the runtime version
// and capability declarations, and transitions the state machine to
// Ready.
func (s *Server) Handshake(ctx context.Context, req types.HandshakeRequest) (types.HandshakeResponse, error) {
	s.guard.AcquireHandshake()

	resp, err := s.rt.Handshake(ctx, req)
	if err != nil {
		s.guard.FailHandshake()
		return resp, err
	}
	if err := s.req.Check(resp.Version); err != nil {
		s.guard.FailHandshake()
		return resp, err
	}
	if err := discoverCapabilities(s.rt, resp.Capabilities, s.logger); err != nil {
		s.guard.FailHandshake()
		return resp, err
	}

	s.caps = resp.Capabilities
	s.guard.CompleteHandshake()
	return resp, nil
}

// InitializeBlock starts building a block on the committed head.
func (s *Server) InitializeBlock(ctx context.Context, header types.Header) error {
	s.guard.AcquireInitialize()
	if err := s.rt.InitializeBlock(ctx, header); err != nil {
		s.guard.FailBlock()
		return err
	}
	s.guard.CompleteApply()
	return nil
}

// ApplyExtrinsic applies one extrinsic to the block being built. A
// validity error leaves the block open; a fatal error abandons it.
func (s *Server) ApplyExtrinsic(ctx context.Context, raw []byte) (types.ApplyOutcome, error) {
	s.guard.AcquireApply()
	out, err := s.rt.ApplyExtrinsic(ctx, raw)
	if _, fatal := frame.IsFatal(err); fatal {
		s.guard.FailBlock()
		return out, err
	}
	s.guard.CompleteApply()
	return out, err
}

// FinalizeBlock seals the block being built.
func (s *Server) FinalizeBlock(ctx context.Context) (types.Header, error) {
	s.guard.AcquireFinalize()
	header, err := s.rt.FinalizeBlock(ctx)
	if err != nil {
		s.guard.FailBlock()
		return header, err
	}

	s.mu.Lock()
	s.lastSealed = &header
	s.lastOutcome = nil
	s.mu.Unlock()

	s.guard.CompleteSeal()
	return header, nil
}

// ExecuteBlock imports a block produced elsewhere.
func (s *Server) ExecuteBlock(ctx context.Context, block types.Block) (types.BlockOutcome, error) {
	s.guard.AcquireExecute()

	outcome, err := s.rt.ExecuteBlock(ctx, block)
	if err != nil {
		s.guard.FailBlock()
		return outcome, err
	}

	s.mu.Lock()
	s.lastOutcome = &outcome
	s.lastSealed = &outcome.Header
	s.mu.Unlock()

	s.guard.CompleteSeal()
	return outcome, nil
}

// Commit persists the sealed block. A failed commit leaves the block
// sealed so the host can retry.
func (s *Server) Commit(ctx context.Context) (types.CommitResult, error) {
	s.guard.AcquireCommit()

	result, err := s.rt.Commit(ctx)
	if err != nil {
		s.guard.FailCommit()
		return result, err
	}

	s.mu.Lock()
	s.lastOutcome = nil
	s.lastSealed = nil
	s.mu.Unlock()

	s.guard.CompleteCommit()
	return result, nil
}

// Abort abandons a block that is being built or is sealed but not
// committed. The runtime must support it.
func (s *Server) Abort() error {
	ab, ok := s.rt.(interface{ Abort() })
	if !ok {
		return fmt.Errorf("%w: Abort", ErrUnsupported)
	}
	s.guard.AcquireAbort()
	ab.Abort()

	s.mu.Lock()
	s.lastOutcome = nil
	s.lastSealed = nil
	s.mu.Unlock()

	s.guard.FailBlock()
	return nil
}

// ValidateTransaction checks a transaction for pool admission.
// Safe for concurrent use.
func (s *Server) ValidateTransaction(ctx context.Context, source types.TransactionSource, raw []byte) (types.ValidTransaction, error) {
	s.guard.CheckConcurrent()
	return s.rt.ValidateTransaction(ctx, source, raw)
}

// Query reads committed state. Safe for concurrent use.
func (s *Server) Query(ctx context.Context, req types.StateQuery) (types.StateQueryResult, error) {
	s.guard.CheckConcurrent()
	return s.rt.Query(ctx, req)
}

// Capabilities returns the runtime's declared capabilities.
// Only valid after Handshake completes.
func (s *Server) Capabilities() types.Capabilities {
	return s.caps
}

// --- Capability-gated optional methods ---

// CurrentAuthorities delegates to AuthorityAPI if supported.
func (s *Server) CurrentAuthorities(ctx context.Context) (types.AuthoritySet, error) {
	a := s.AsAuthorityAPI()
	if a == nil {
		return types.AuthoritySet{}, fmt.Errorf("%w: AuthorityAPI", ErrUnsupported)
	}
	s.guard.CheckConcurrent()
	return a.CurrentAuthorities(ctx)
}

// NextAuthorities delegates to AuthorityAPI if supported.
func (s *Server) NextAuthorities(ctx context.Context) (types.AuthoritySet, error) {
	a := s.AsAuthorityAPI()
	if a == nil {
		return types.AuthoritySet{}, fmt.Errorf("%w: AuthorityAPI", ErrUnsupported)
	}
	s.guard.CheckConcurrent()
	return a.NextAuthorities(ctx)
}

// ReportOffence delegates to AuthorityAPI if supported.
func (s *Server) ReportOffence(ctx context.Context, report types.OffenceReport) ([]byte, error) {
	a := s.AsAuthorityAPI()
	if a == nil {
		return nil, fmt.Errorf("%w: AuthorityAPI", ErrUnsupported)
	}
	s.guard.CheckConcurrent()
	return a.ReportOffence(ctx, report)
}

// OffchainWorker delegates to OffchainWorkerAPI if supported.
// Returns no extrinsics if not supported.
func (s *Server) OffchainWorker(ctx context.Context, header types.Header) ([][]byte, error) {
	w := s.AsOffchainWorker()
	if w == nil {
		return nil, nil
	}
	s.guard.CheckConcurrent()
	return w.OffchainWorker(ctx, header)
}

// Simulate delegates to Simulator if supported.
// Safe for concurrent use.
func (s *Server) Simulate(ctx context.Context, raw []byte) (types.ApplyOutcome, error) {
	sim := s.AsSimulator()
	if sim == nil {
		return types.ApplyOutcome{}, fmt.Errorf("%w: Simulator", ErrUnsupported)
	}
	s.guard.CheckConcurrent()
	return sim.Simulate(ctx, raw)
}

// AsAuthorityAPI returns the AuthorityAPI interface or nil.
func (s *Server) AsAuthorityAPI() frame.AuthorityAPI {
	if s.caps.Has(types.CapAuthorities) {
		return s.authorities
	}
	return nil
}

// AsOffchainWorker returns the OffchainWorkerAPI interface or nil.
func (s *Server) AsOffchainWorker() frame.OffchainWorkerAPI {
	if s.caps.Has(types.CapOffchainWorker) {
		return s.offchain
	}
	return nil
}

// AsSimulator returns the Simulator interface or nil.
func (s *Server) AsSimulator() frame.Simulator {
	if s.caps.Has(types.CapSimulation) {
		return s.simulator
	}
	return nil
}

// LastOutcome returns the outcome of the last imported block while it
// awaits Commit. Returns nil if no imported block is pending.
func (s *Server) LastOutcome() *types.BlockOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastOutcome
}

// LastSealed returns the header awaiting Commit, or nil.
func (s *Server) LastSealed() *types.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSealed
}

// Close closes the wrapped runtime if it holds resources.
func (s *Server) Close() error {
	if c, ok := s.rt.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

// discoverCapabilities checks which optional interfaces the runtime
// implements and verifies consistency with declared capabilities.
func discoverCapabilities(rt frame.Runtime, declared types.Capabilities, logger logrus.FieldLogger) error {
	implemented := frame.CapabilitiesOf(rt)

	for _, c := range []types.Capabilities{types.CapAuthorities, types.CapOffchainWorker, types.CapSimulation} {
		if declared.Has(c) && !implemented.Has(c) {
			return fmt.Errorf("frame: runtime declared %s but does not implement it", c)
		}
		// Warn (but don't error) if the runtime implements an interface
		// but didn't declare it.
		if !declared.Has(c) && implemented.Has(c) {
			logger.WithField("capability", c.String()).
				Warn("runtime implements capability but did not declare it; capability will not be used")
		}
	}
	return nil
}
