package pallet

import (
	"github.com/sirupsen/logrus"

	"github.com/blockberries/frame/storage"
	"github.com/blockberries/frame/types"
)

// Env is what the executive provides to every Context. Events, digest
// logs and the randomness seed are kept in system storage, so writes go
// through the store passed in and follow its transaction.
type Env interface {
	DepositEvent(st storage.Store, phase types.Phase, ev types.Event) error
	DepositLog(st storage.Store, item types.DigestItem) error
	RandomSeed(r storage.Reader) (types.Hash, error)

	// Weigh returns the pre-dispatch weight of a call.
	Weigh(call types.Call) (types.Weight, error)

	// Dispatch routes a nested call with ctx's origin.
	Dispatch(ctx *Context, call types.Call) (types.PostDispatchInfo, error)
}

// ContextConfig holds the parameters for NewContext.
type ContextConfig struct {
	Env    Env
	Store  storage.TxStore
	Origin types.Origin
	Block  uint64
	Phase  types.Phase
	Logger logrus.FieldLogger
}

// Context is handed to calls and hooks. It carries the origin and block
// context and scopes storage writes to the current pallet.
type Context struct {
	env    Env
	tx     storage.TxStore
	scoped *storage.Scoped
	origin types.Origin
	block  uint64
	phase  types.Phase
	module string
	logger logrus.FieldLogger

	actual *weightCell
}

type weightCell struct {
	w   types.Weight
	set bool
}

// NewContext creates an unscoped context. Use For to enter a pallet's
// namespace before writing.
func NewContext(cfg ContextConfig) *Context {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Context{
		env:    cfg.Env,
		tx:     cfg.Store,
		origin: cfg.Origin,
		block:  cfg.Block,
		phase:  cfg.Phase,
		logger: logger,
	}
}

// For returns a copy of the context scoped to module's namespace. A
// pallet's public API calls this on entry so that other pallets can
// invoke it with their own context.
func (c *Context) For(module string) *Context {
	cp := *c
	cp.module = module
	cp.scoped = storage.NewScoped(c.tx, module)
	cp.actual = nil
	return &cp
}

// WithOrigin returns a copy of the context with a different origin.
func (c *Context) WithOrigin(o types.Origin) *Context {
	cp := *c
	cp.origin = o
	return &cp
}

func (c *Context) Origin() types.Origin { return c.origin }
func (c *Context) Block() uint64        { return c.block }
func (c *Context) Phase() types.Phase   { return c.phase }
func (c *Context) Module() string       { return c.module }

// Store returns the pallet-scoped store. Reads are unrestricted; writes
// outside the pallet's namespace fail with storage.ErrOutsideNamespace.
func (c *Context) Store() storage.Store {
	if c.scoped == nil {
		return storage.ReadOnly(c.tx)
	}
	return c.scoped
}

// RootStore returns the unscoped store. Only the root origin gets it.
func (c *Context) RootStore() (storage.Store, error) {
	if c.origin.Kind != types.OriginRoot {
		return nil, ErrBadOrigin
	}
	return c.tx, nil
}

// EnsureSigned returns the signing account or ErrBadOrigin.
func (c *Context) EnsureSigned() (types.AccountID, error) {
	who, ok := c.origin.Signer()
	if !ok {
		return types.AccountID{}, ErrBadOrigin
	}
	return who, nil
}

// DepositEvent records an event for the current pallet.
func (c *Context) DepositEvent(kind string, attrs ...types.EventAttribute) error {
	return c.env.DepositEvent(c.tx, c.phase, types.Event{Module: c.module, Kind: kind, Attributes: attrs})
}

// DepositLog appends a digest item to the block's digest.
func (c *Context) DepositLog(item types.DigestItem) error {
	return c.env.DepositLog(c.tx, item)
}

// Random returns block-seeded randomness for subject. Every node gets
// the same value for the same block and subject.
func (c *Context) Random(subject []byte) (types.Hash, error) {
	seed, err := c.env.RandomSeed(c.tx)
	if err != nil {
		return types.Hash{}, err
	}
	return types.Blake2_256(seed[:], []byte(c.module), subject), nil
}

// Dispatch routes a nested call as origin.
func (c *Context) Dispatch(call types.Call, origin types.Origin) (types.PostDispatchInfo, error) {
	return c.env.Dispatch(c.WithOrigin(origin), call)
}

// Weigh returns the pre-dispatch weight of call.
func (c *Context) Weigh(call types.Call) (types.Weight, error) {
	return c.env.Weigh(call)
}

// SetActualWeight reports the weight the running call actually used.
// Values above the pre-dispatch estimate are clamped by the router.
func (c *Context) SetActualWeight(w types.Weight) {
	if c.actual != nil {
		c.actual.w = w
		c.actual.set = true
	}
}

// TrackWeight makes SetActualWeight calls on c observable and returns
// the accessor for the resulting post-dispatch info. Used by the router.
func (c *Context) TrackWeight() func() types.PostDispatchInfo {
	cell := &weightCell{}
	c.actual = cell
	return func() types.PostDispatchInfo {
		if !cell.set {
			return types.PostDispatchInfo{}
		}
		w := cell.w
		return types.PostDispatchInfo{ActualWeight: &w}
	}
}

// Transaction runs fn inside a storage transaction: committed if fn
// returns nil, rolled back otherwise (and on panic).
func (c *Context) Transaction(fn func(*Context) error) (err error) {
	if err := c.tx.Begin(); err != nil {
		return err
	}
	finished := false
	defer func() {
		if !finished {
			_ = c.tx.Rollback()
		}
	}()
	err = fn(c)
	finished = true
	if err != nil {
		if rerr := c.tx.Rollback(); rerr != nil {
			return rerr
		}
		return err
	}
	return c.tx.Commit()
}

// Logger returns a logger tagged with the pallet and block.
func (c *Context) Logger() logrus.FieldLogger {
	return c.logger.WithFields(logrus.Fields{"pallet": c.module, "block": c.block})
}
