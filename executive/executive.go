// Package executive drives block production and import. It owns the
// block phase machine, runs pallet hooks in the fixed pallet order,
// applies extrinsics through the validator and the dispatch router, and
// seals headers over the resulting state.
//
// Executive implements frame.FullRuntime.
package executive

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/blockberries/frame"
	"github.com/blockberries/frame/dispatch"
	"github.com/blockberries/frame/pallet"
	"github.com/blockberries/frame/storage"
	"github.com/blockberries/frame/system"
	"github.com/blockberries/frame/types"
	"github.com/blockberries/frame/validity"
)

// Compile-time interface check.
var _ frame.FullRuntime = (*Executive)(nil)

var (
	// ErrWrongPhase is returned when an entry point is called out of order.
	ErrWrongPhase = errors.New("executive: wrong phase")
	// ErrNoGenesis is returned by block operations before genesis.
	ErrNoGenesis = errors.New("executive: genesis has not been built")
	// ErrGenesisExists is returned when genesis is requested twice.
	ErrGenesisExists = errors.New("executive: genesis already built")
	// ErrNoAuthorities is returned by the authority API when no
	// installed pallet owns the authority set.
	ErrNoAuthorities = errors.New("executive: no authority source installed")
)

// Meta keys in the backend.
var (
	headKey    = []byte("head")
	genesisKey = []byte("genesis")
)

// Phase is the executive's position in the block lifecycle.
type Phase uint8

const (
	PhaseIdle Phase = iota
	PhaseInitializing
	PhaseApplying
	PhaseFinalizing
	PhaseSealed
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "Idle"
	case PhaseInitializing:
		return "Initializing"
	case PhaseApplying:
		return "ApplyingExtrinsics"
	case PhaseFinalizing:
		return "Finalizing"
	case PhaseSealed:
		return "Sealed"
	case PhaseFailed:
		return "Failed"
	default:
		return fmt.Sprintf("Phase(%d)", p)
	}
}

// Config holds the parameters for New.
type Config struct {
	// Pallets in hook order. The system pallet is prepended when absent.
	Pallets []pallet.Pallet
	Version types.RuntimeVersion
	Limits  types.BlockLimits
	Fees    types.FeeSchedule
	// Backend holds committed state. Nil = in-memory.
	Backend storage.Backend
	// Number of positive signature checks to remember. Zero = default.
	SignatureCacheSize int
	Logger             logrus.FieldLogger
	// Observer receives lifecycle notifications. Nil = none.
	Observer Observer
}

// Executive is the runtime: the state-transition function over a
// backend plus the host-facing entry points.
//
// Block entry points (InitializeBlock through Commit) are serialized.
// ValidateTransaction, Simulate, OffchainWorker, Query and the authority
// API read a snapshot of committed state and may run concurrently with
// them and with each other.
type Executive struct {
	version   types.RuntimeVersion
	limits    types.BlockLimits
	router    *dispatch.Router
	validator *validity.Validator
	backend   storage.Backend
	env       *env
	fees      pallet.FeeCharger
	feesName  string
	auth      pallet.AuthoritySource
	logger    logrus.FieldLogger
	observer  Observer

	mu      sync.Mutex
	phase   Phase
	pending *pendingBlock

	headMu sync.RWMutex
	head   *types.Header
}

// pendingBlock is the state of the block being built or imported.
type pendingBlock struct {
	header   types.Header
	snap     storage.Snapshot
	overlay  *storage.Overlay
	outcomes []types.ApplyOutcome
	sealed   types.Header
}

// New creates an executive over the configured pallets. If the backend
// already holds a committed chain, the executive resumes from its head.
func New(cfg Config) (*Executive, error) {
	pallets := cfg.Pallets
	if len(pallets) == 0 || pallets[0].Name() != system.Name {
		pallets = append([]pallet.Pallet{system.New()}, pallets...)
	}
	router, err := dispatch.NewRouter(pallets...)
	if err != nil {
		return nil, fmt.Errorf("executive: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger = logger.WithField("component", "executive")

	limits := cfg.Limits
	if limits.MaxBlockWeight == 0 {
		limits = types.DefaultBlockLimits()
	}

	e := &Executive{
		version:  cfg.Version,
		limits:   limits,
		router:   router,
		backend:  cfg.Backend,
		env:      &env{router: router},
		logger:   logger,
		observer: cfg.Observer,
	}
	if e.backend == nil {
		e.backend = storage.NewMemBackend()
	}
	if e.observer == nil {
		e.observer = nopObserver{}
	}
	for _, p := range router.Pallets() {
		if fc, ok := p.(pallet.FeeCharger); ok {
			if e.fees != nil {
				return nil, fmt.Errorf("executive: pallets %q and %q both charge fees", e.feesName, p.Name())
			}
			e.fees, e.feesName = fc, p.Name()
		}
		if as, ok := p.(pallet.AuthoritySource); ok {
			if e.auth != nil {
				return nil, fmt.Errorf("executive: more than one pallet owns the authority set")
			}
			e.auth = as
		}
	}

	e.validator, err = validity.New(validity.Config{
		Router:     router,
		Limits:     limits,
		Fees:       cfg.Fees,
		FeeCharger: e.fees,
		CacheSize:  cfg.SignatureCacheSize,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	if err := e.loadHead(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Executive) loadHead() error {
	raw, ok, err := e.backend.GetMeta(headKey)
	if err != nil {
		return fmt.Errorf("executive: read head: %w", err)
	}
	if !ok {
		return nil
	}
	var h types.Header
	if err := types.Decode(raw, &h); err != nil {
		return fmt.Errorf("executive: decode head: %w", err)
	}
	raw, ok, err = e.backend.GetMeta(genesisKey)
	if err != nil || !ok {
		return fmt.Errorf("executive: head without genesis hash (err=%v)", err)
	}
	var genesis types.Hash
	copy(genesis[:], raw)

	e.head = &h
	e.validator.SetSigningContext(e.signingContext(genesis))
	e.logger.WithFields(logrus.Fields{"number": h.Number, "hash": h.Hash()}).Info("resumed from committed head")
	return nil
}

func (e *Executive) signingContext(genesis types.Hash) types.SigningContext {
	return types.SigningContext{
		GenesisHash:        genesis,
		SpecVersion:        e.version.SpecVersion,
		TransactionVersion: e.version.TransactionVersion,
	}
}

// Version returns the compiled runtime version.
func (e *Executive) Version() types.RuntimeVersion { return e.version }

// Router returns the dispatch router.
func (e *Executive) Router() *dispatch.Router { return e.router }

// Validator returns the extrinsic validator.
func (e *Executive) Validator() *validity.Validator { return e.validator }

// Limits returns the effective block limits.
func (e *Executive) Limits() types.BlockLimits { return e.limits }

// Phase returns the current block phase.
func (e *Executive) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

// Head returns the last committed header, or false before genesis.
func (e *Executive) Head() (types.Header, bool) {
	e.headMu.RLock()
	defer e.headMu.RUnlock()
	if e.head == nil {
		return types.Header{}, false
	}
	return *e.head, true
}

// SigningContext returns the chain binding extrinsic signatures must
// be made under. Zero before genesis.
func (e *Executive) SigningContext() types.SigningContext {
	return e.validator.SigningContext()
}

// Capabilities returns the optional APIs this runtime can serve.
func (e *Executive) Capabilities() types.Capabilities {
	caps := types.CapOffchainWorker | types.CapSimulation
	if e.auth != nil {
		caps |= types.CapAuthorities
	}
	return caps
}

// Handshake reports the committed head, building genesis first on a
// fresh chain.
func (e *Executive) Handshake(ctx context.Context, req types.HandshakeRequest) (types.HandshakeResponse, error) {
	head, ok := e.Head()
	switch {
	case req.LastCommitted == nil && !ok:
		if req.Genesis == nil {
			return types.HandshakeResponse{}, errors.New("executive: fresh chain without genesis config")
		}
		h, err := e.InitGenesis(ctx, *req.Genesis)
		if err != nil {
			return types.HandshakeResponse{}, err
		}
		head = h
	case req.LastCommitted == nil:
		return types.HandshakeResponse{}, fmt.Errorf("executive: host has no chain but runtime is at block %d", head.Number)
	case !ok:
		return types.HandshakeResponse{}, fmt.Errorf("executive: host is at block %d but runtime has no state", req.LastCommitted.Number)
	}

	id := head.ID()
	root := head.StateRoot
	return types.HandshakeResponse{
		LastBlock:    &id,
		StateRoot:    &root,
		LastHeader:   &head,
		Version:      e.version,
		Capabilities: e.Capabilities(),
	}, nil
}

// InitGenesis builds and commits the genesis state: every pallet's
// genesis section in pallet order, storage versions and the runtime
// version. It returns the genesis header.
func (e *Executive) InitGenesis(ctx context.Context, cfg types.GenesisConfig) (types.Header, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.Head(); ok {
		return types.Header{}, ErrGenesisExists
	}
	if e.phase != PhaseIdle {
		return types.Header{}, fmt.Errorf("%w: genesis in phase %s", ErrWrongPhase, e.phase)
	}
	for _, sec := range cfg.Pallets {
		if _, ok := e.router.Pallet(sec.Pallet); !ok {
			return types.Header{}, fmt.Errorf("executive: genesis section for unknown pallet %q", sec.Pallet)
		}
	}

	overlay := storage.NewOverlay(e.backend)
	pctx := e.newContext(overlay, types.RootOrigin(), 0, types.Phase{Kind: types.PhaseInitialization})
	for _, p := range e.router.Pallets() {
		if gb, ok := p.(pallet.GenesisBuilder); ok {
			if err := gb.BuildGenesis(pctx.For(p.Name()), cfg.Section(p.Name())); err != nil {
				return types.Header{}, fmt.Errorf("executive: %s genesis: %w", p.Name(), err)
			}
		}
		if err := storage.PutVersion(overlay, p.Name(), pallet.StorageVersionOf(p)); err != nil {
			return types.Header{}, err
		}
	}
	if _, err := system.NeedsUpgrade(pctx, e.version); err != nil {
		return types.Header{}, err
	}

	root, err := overlay.Root()
	if err != nil {
		return types.Header{}, err
	}
	header := types.Header{
		StateRoot:      root,
		ExtrinsicsRoot: storage.OrderedRoot(nil),
	}
	changes, err := overlay.Changes()
	if err != nil {
		return types.Header{}, err
	}
	hash := header.Hash()
	cs := storage.ChangeSet{
		Changes: changes,
		Meta: []storage.Change{
			{Key: headKey, Value: types.MustEncode(&header)},
			{Key: genesisKey, Value: hash[:]},
		},
	}

	e.headMu.Lock()
	defer e.headMu.Unlock()
	if err := e.backend.Apply(cs); err != nil {
		return types.Header{}, fmt.Errorf("executive: commit genesis: %w", err)
	}
	e.head = &header
	e.validator.SetSigningContext(e.signingContext(hash))

	e.logger.WithFields(logrus.Fields{
		"chain_id":   cfg.ChainID,
		"hash":       hash,
		"state_root": root,
	}).Info("genesis committed")
	return header, nil
}

func (e *Executive) newContext(st storage.TxStore, origin types.Origin, number uint64, phase types.Phase) *pallet.Context {
	return pallet.NewContext(pallet.ContextConfig{
		Env:    e.env,
		Store:  st,
		Origin: origin,
		Block:  number,
		Phase:  phase,
		Logger: e.logger,
	})
}

// snapshot returns a consistent view of committed state and the head
// it belongs to.
func (e *Executive) snapshot() (storage.Snapshot, types.Header, error) {
	e.headMu.RLock()
	defer e.headMu.RUnlock()
	if e.head == nil {
		return nil, types.Header{}, ErrNoGenesis
	}
	snap, err := e.backend.Snapshot()
	if err != nil {
		return nil, types.Header{}, err
	}
	return snap, *e.head, nil
}

// Close releases the backend.
func (e *Executive) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.discard()
	return e.backend.Close()
}
