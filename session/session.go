// Package session rotates the consensus authority set at fixed block
// intervals and handles offence reports against authorities.
//
// Three slots are kept: Active (validating now), Next (active from the
// next boundary) and Pending (queued, becomes Next at the next
// boundary). A set queued during session N is therefore active from
// session N+2, which gives consensus engines a full session of notice.
package session

import (
	"errors"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/blockberries/frame/pallet"
	"github.com/blockberries/frame/storage"
	"github.com/blockberries/frame/types"
)

const (
	Name        = "Session"
	Index uint8 = 3

	// DefaultLength is the session length in blocks when none is set.
	DefaultLength = 10
)

// EngineID tags the consensus digest logs announcing a new active set.
var EngineID = [4]byte{'F', 'R', 'N', 'K'}

// Event kinds.
const (
	EventNewSession       = "NewSession"
	EventOffenceReported  = "OffenceReported"
	EventAuthoritiesQueue = "AuthoritiesQueued"
)

// Storage items.
var (
	Active       = storage.NewValue(Name, "Active", storage.Cramberry[types.AuthoritySet]())
	Next         = storage.NewValue(Name, "Next", storage.Cramberry[types.AuthoritySet]())
	Pending      = storage.NewValue(Name, "Pending", storage.Cramberry[types.AuthoritySet]())
	CurrentIndex = storage.NewValue(Name, "CurrentIndex", storage.Uint32)
	Disabled     = storage.NewMap(Name, "Disabled", storage.Blake2_128Concat, storage.AccountKey, storage.Bool)
	Reports      = storage.NewDoubleMap(Name, "Reports", storage.Identity, storage.Uint32Key, storage.Identity, storage.HashKey, storage.Bool)
)

// SessionManager chooses authority sets. NewSession is called at every
// boundary after rotation; a returned set is queued as Pending.
type SessionManager interface {
	NewSession(ctx *pallet.Context, index uint32) ([]types.Authority, bool, error)
}

// OffenceHandler punishes reported offenders.
type OffenceHandler interface {
	OnOffence(ctx *pallet.Context, report types.OffenceReport) error
}

// Config holds the parameters for New.
type Config struct {
	// Session length in blocks. Zero = DefaultLength.
	Length uint64
	// Nil = sets only change through QueueAuthorities.
	Manager SessionManager
	// Nil = offences only disable the offender.
	Offences OffenceHandler
}

// Pallet is the session pallet.
type Pallet struct {
	length   uint64
	manager  SessionManager
	offences OffenceHandler
}

var (
	_ pallet.Initializer       = (*Pallet)(nil)
	_ pallet.UnsignedValidator = (*Pallet)(nil)
	_ pallet.AuthoritySource   = (*Pallet)(nil)
	_ pallet.GenesisBuilder    = (*Pallet)(nil)
)

// New creates the session pallet.
func New(cfg Config) *Pallet {
	if cfg.Length == 0 {
		cfg.Length = DefaultLength
	}
	return &Pallet{length: cfg.Length, manager: cfg.Manager, offences: cfg.Offences}
}

func (*Pallet) Name() string { return Name }
func (*Pallet) Index() uint8 { return Index }

// Length returns the session length in blocks.
func (p *Pallet) Length() uint64 { return p.length }

func (*Pallet) Storage() []storage.ItemMeta {
	return []storage.ItemMeta{
		Active.Meta(), Next.Meta(), Pending.Meta(), CurrentIndex.Meta(), Disabled.Meta(), Reports.Meta(),
	}
}

func (*Pallet) Events() []string {
	return []string{EventNewSession, EventOffenceReported, EventAuthoritiesQueue}
}

// OnInitialize rotates the session when n is a boundary.
func (p *Pallet) OnInitialize(ctx *pallet.Context, n uint64) (types.Weight, error) {
	if n == 0 || n%p.length != 0 {
		return 0, nil
	}
	return 1000, p.rotate(ctx)
}

func (p *Pallet) rotate(ctx *pallet.Context) error {
	st := ctx.Store()
	index, err := CurrentIndex.GetOrZero(st)
	if err != nil {
		return err
	}
	index++

	prev, err := Active.GetOrZero(st)
	if err != nil {
		return err
	}
	next, err := Next.GetOrZero(st)
	if err != nil {
		return err
	}
	active := next
	active.Session = index
	if !sameAuthorities(prev.Authorities, active.Authorities) {
		active.SetID = prev.SetID + 1
	} else {
		active.SetID = prev.SetID
	}
	if err := Active.Put(st, active); err != nil {
		return err
	}

	queued, ok, err := Pending.Get(st)
	if err != nil {
		return err
	}
	upcoming := types.AuthoritySet{SetID: active.SetID, Session: index + 1, Authorities: active.Authorities}
	if ok {
		upcoming.Authorities = queued.Authorities
		if !sameAuthorities(queued.Authorities, active.Authorities) {
			upcoming.SetID = active.SetID + 1
		}
		if err := Pending.Kill(st); err != nil {
			return err
		}
	}
	if err := Next.Put(st, upcoming); err != nil {
		return err
	}
	if err := CurrentIndex.Put(st, index); err != nil {
		return err
	}
	if err := Disabled.Clear(st); err != nil {
		return err
	}
	// Reports for ended sessions are rejected as stale.
	if err := Reports.ClearPrefix(st, index-1); err != nil {
		return err
	}

	if active.SetID != prev.SetID {
		if err := ctx.DepositLog(types.DigestItem{
			Kind:   types.DigestConsensus,
			Engine: EngineID,
			Data:   types.MustEncode(&active),
		}); err != nil {
			return err
		}
	}
	if err := ctx.DepositEvent(EventNewSession,
		types.EventAttribute{Key: "index", Value: strconv.FormatUint(uint64(index), 10), Index: true},
		types.EventAttribute{Key: "set_id", Value: strconv.FormatUint(active.SetID, 10)},
	); err != nil {
		return err
	}
	ctx.Logger().WithFields(logrus.Fields{"session": index, "set_id": active.SetID, "authorities": len(active.Authorities)}).Info("new session")

	if p.manager == nil {
		return nil
	}
	set, ok, err := p.manager.NewSession(ctx, index)
	if err != nil || !ok {
		return err
	}
	return queue(ctx, set)
}

func sameAuthorities(a, b []types.Authority) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ErrEmptySet is returned when an empty authority set is queued.
var ErrEmptySet = errors.New("session: empty authority set")

// QueueAuthorities queues set to become Next at the coming boundary
// and active one session later. It replaces any set already queued.
func QueueAuthorities(ctx *pallet.Context, set []types.Authority) error {
	return queue(ctx.For(Name), set)
}

func queue(ctx *pallet.Context, set []types.Authority) error {
	if len(set) == 0 {
		return ErrEmptySet
	}
	if err := Pending.Put(ctx.Store(), types.AuthoritySet{Authorities: set}); err != nil {
		return err
	}
	return ctx.DepositEvent(EventAuthoritiesQueue,
		types.EventAttribute{Key: "count", Value: strconv.Itoa(len(set))})
}

// SessionIndex returns the current session index.
func SessionIndex(r storage.Reader) (uint32, error) { return CurrentIndex.GetOrZero(r) }

// IsDisabled reports whether who was disabled in the current session.
func IsDisabled(r storage.Reader, who types.AccountID) (bool, error) {
	return Disabled.GetOrZero(r, who)
}

func (*Pallet) CurrentAuthorities(r storage.Reader) (types.AuthoritySet, error) {
	return Active.GetOrZero(r)
}

func (*Pallet) NextAuthorities(r storage.Reader) (types.AuthoritySet, error) {
	return Next.GetOrZero(r)
}
