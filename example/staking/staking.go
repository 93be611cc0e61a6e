// Package staking is a reference pallet that elects the authority set
// from bonded candidates and slashes reported offenders. It chooses
// sets for the session pallet and bonds funds through balances.
package staking

import (
	"bytes"
	"fmt"
	"slices"
	"strconv"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/blockberries/frame/example/balances"
	"github.com/blockberries/frame/pallet"
	"github.com/blockberries/frame/session"
	"github.com/blockberries/frame/storage"
	"github.com/blockberries/frame/types"
)

const (
	Name        = "Staking"
	Index uint8 = 2
)

// Call indices.
const (
	CallBond uint8 = iota
	CallUnbond
	CallValidate
	CallChill
)

// Event kinds.
const (
	EventBonded   = "Bonded"
	EventUnbonded = "Unbonded"
	EventSlashed  = "Slashed"
	EventElected  = "Elected"
)

// Module errors.
var (
	ErrNotBonded    = pallet.NewError(1, "NotBonded")
	ErrBondTooSmall = pallet.NewError(2, "BondTooSmall")
	ErrZeroAmount   = pallet.NewError(3, "ZeroAmount")
)

// Storage items.
var (
	Bonded     = storage.NewMap(Name, "Bonded", storage.Blake2_128Concat, storage.AccountKey, storage.Uint64)
	Candidates = storage.NewMap(Name, "Candidates", storage.Blake2_128Concat, storage.AccountKey, storage.Bool)
)

type AmountArgs struct {
	Amount uint64 `cramberry:"1"`
}

type NoArgs struct{}

// Config holds the parameters for New.
type Config struct {
	// Size of the elected set. Zero = 4.
	MaxValidators int `yaml:"max_validators"`
	// Smallest bond a candidate needs.
	MinBond uint64 `yaml:"min_bond"`
	// Share of the bond slashed per offence, in percent.
	SlashPercent uint64 `yaml:"slash_percent"`
}

// Pallet is the staking pallet.
type Pallet struct {
	cfg Config
}

var (
	_ session.SessionManager = (*Pallet)(nil)
	_ session.OffenceHandler = (*Pallet)(nil)
	_ pallet.GenesisBuilder  = (*Pallet)(nil)
)

func New(cfg Config) *Pallet {
	if cfg.MaxValidators <= 0 {
		cfg.MaxValidators = 4
	}
	if cfg.SlashPercent > 100 {
		cfg.SlashPercent = 100
	}
	return &Pallet{cfg: cfg}
}

func (*Pallet) Name() string { return Name }
func (*Pallet) Index() uint8 { return Index }

func (*Pallet) Storage() []storage.ItemMeta {
	return []storage.ItemMeta{Bonded.Meta(), Candidates.Meta()}
}

func (*Pallet) Events() []string {
	return []string{EventBonded, EventUnbonded, EventSlashed, EventElected}
}

func (p *Pallet) Calls() []pallet.CallSpec {
	return []pallet.CallSpec{
		pallet.NewCall(CallBond, "bond", pallet.EnsureSigned, pallet.Fixed[AmountArgs](300), bond),
		pallet.NewCall(CallUnbond, "unbond", pallet.EnsureSigned, pallet.Fixed[AmountArgs](300), unbond),
		pallet.NewCall(CallValidate, "validate", pallet.EnsureSigned, pallet.Fixed[NoArgs](100), p.validate),
		pallet.NewCall(CallChill, "chill", pallet.EnsureSigned, pallet.Fixed[NoArgs](100), chill),
	}
}

func bond(ctx *pallet.Context, a AmountArgs) error {
	who, err := ctx.EnsureSigned()
	if err != nil {
		return err
	}
	if a.Amount == 0 {
		return ErrZeroAmount
	}
	return addBond(ctx, who, a.Amount)
}

func addBond(ctx *pallet.Context, who types.AccountID, amount uint64) error {
	if err := balances.Reserve(ctx, who, amount); err != nil {
		return err
	}
	st := ctx.Store()
	cur, err := Bonded.GetOrZero(st, who)
	if err != nil {
		return err
	}
	if err := Bonded.Put(st, who, cur+amount); err != nil {
		return err
	}
	return ctx.DepositEvent(EventBonded,
		types.EventAttribute{Key: "who", Value: who.Hex(), Index: true},
		types.EventAttribute{Key: "amount", Value: strconv.FormatUint(amount, 10)},
	)
}

func unbond(ctx *pallet.Context, a AmountArgs) error {
	who, err := ctx.EnsureSigned()
	if err != nil {
		return err
	}
	st := ctx.Store()
	cur, ok, err := Bonded.Get(st, who)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotBonded
	}
	moved, err := balances.Unreserve(ctx, who, min(a.Amount, cur))
	if err != nil {
		return err
	}
	if cur == moved {
		if err := Bonded.Kill(st, who); err != nil {
			return err
		}
		if err := Candidates.Kill(st, who); err != nil {
			return err
		}
	} else if err := Bonded.Put(st, who, cur-moved); err != nil {
		return err
	}
	return ctx.DepositEvent(EventUnbonded,
		types.EventAttribute{Key: "who", Value: who.Hex(), Index: true},
		types.EventAttribute{Key: "amount", Value: strconv.FormatUint(moved, 10)},
	)
}

func (p *Pallet) validate(ctx *pallet.Context, _ NoArgs) error {
	who, err := ctx.EnsureSigned()
	if err != nil {
		return err
	}
	cur, err := Bonded.GetOrZero(ctx.Store(), who)
	if err != nil {
		return err
	}
	if cur == 0 {
		return ErrNotBonded
	}
	if cur < p.cfg.MinBond {
		return ErrBondTooSmall.Wrap("bonded %d, need %d", cur, p.cfg.MinBond)
	}
	return Candidates.Put(ctx.Store(), who, true)
}

func chill(ctx *pallet.Context, _ NoArgs) error {
	who, err := ctx.EnsureSigned()
	if err != nil {
		return err
	}
	return Candidates.Kill(ctx.Store(), who)
}

type candidate struct {
	id   types.AccountID
	bond uint64
}

// Elect returns up to MaxValidators candidates by bond, largest first,
// ties broken by account.
func (p *Pallet) Elect(r storage.Reader) ([]types.Authority, error) {
	var cands []candidate
	var ierr error
	err := Candidates.Iterate(r, func(id types.AccountID, _ bool) bool {
		b, err := Bonded.GetOrZero(r, id)
		if err != nil {
			ierr = err
			return false
		}
		if b >= p.cfg.MinBond && b > 0 {
			cands = append(cands, candidate{id, b})
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if ierr != nil {
		return nil, ierr
	}
	slices.SortFunc(cands, func(a, b candidate) int {
		if a.bond != b.bond {
			if a.bond > b.bond {
				return -1
			}
			return 1
		}
		return bytes.Compare(a.id[:], b.id[:])
	})
	if len(cands) > p.cfg.MaxValidators {
		cands = cands[:p.cfg.MaxValidators]
	}
	out := make([]types.Authority, len(cands))
	for i, c := range cands {
		out[i] = types.Authority{ID: c.id, Weight: c.bond}
	}
	return out, nil
}

// NewSession elects the set for two sessions ahead.
func (p *Pallet) NewSession(ctx *pallet.Context, index uint32) ([]types.Authority, bool, error) {
	ctx = ctx.For(Name)
	set, err := p.Elect(ctx.Store())
	if err != nil || len(set) == 0 {
		return nil, false, err
	}
	if err := ctx.DepositEvent(EventElected,
		types.EventAttribute{Key: "session", Value: strconv.FormatUint(uint64(index)+2, 10)},
		types.EventAttribute{Key: "count", Value: strconv.Itoa(len(set))},
	); err != nil {
		return nil, false, err
	}
	return set, true, nil
}

// OnOffence slashes SlashPercent of the offender's bond and removes it
// from the candidates.
func (p *Pallet) OnOffence(ctx *pallet.Context, report types.OffenceReport) error {
	ctx = ctx.For(Name)
	st := ctx.Store()
	who := report.Offender
	cur, err := Bonded.GetOrZero(st, who)
	if err != nil {
		return err
	}
	slashed, err := balances.SlashReserved(ctx, who, percentOf(cur, p.cfg.SlashPercent))
	if err != nil {
		return err
	}
	if err := Bonded.Put(st, who, cur-slashed); err != nil {
		return err
	}
	if err := Candidates.Kill(st, who); err != nil {
		return err
	}
	ctx.Logger().WithFields(logrus.Fields{"offender": who.Hex(), "slashed": slashed}).Warn("offender slashed")
	return ctx.DepositEvent(EventSlashed,
		types.EventAttribute{Key: "who", Value: who.Hex(), Index: true},
		types.EventAttribute{Key: "amount", Value: strconv.FormatUint(slashed, 10)},
		types.EventAttribute{Key: "kind", Value: report.Kind.String()},
	)
}

// percentOf returns floor(v*pct/100) for pct <= 100 without forming
// the full product.
func percentOf(v, pct uint64) uint64 {
	pct = min(pct, 100)
	return v/100*pct + v%100*pct/100
}

// GenesisConfig is the staking genesis section. Stakers bond from their
// genesis balance and become candidates.
type GenesisConfig struct {
	Stakers []GenesisStaker `yaml:"stakers"`
}

type GenesisStaker struct {
	Account types.AccountID `yaml:"account"`
	Bond    uint64          `yaml:"bond"`
}

func (*Pallet) BuildGenesis(ctx *pallet.Context, raw []byte) error {
	var cfg GenesisConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return fmt.Errorf("staking genesis: %w", err)
	}
	for _, s := range cfg.Stakers {
		if err := addBond(ctx, s.Account, s.Bond); err != nil {
			return fmt.Errorf("staking genesis: bond %s: %w", s.Account, err)
		}
		if err := Candidates.Put(ctx.Store(), s.Account, true); err != nil {
			return err
		}
	}
	return nil
}
