package session

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/blockberries/frame/pallet"
	"github.com/blockberries/frame/storage"
	"github.com/blockberries/frame/types"
)

// CallReportOffence is the index of the unsigned report_offence call.
const CallReportOffence uint8 = 0

// Module errors.
var (
	ErrDuplicateReport = pallet.NewError(1, "DuplicateReport")
	ErrUnknownOffender = pallet.NewError(2, "UnknownOffender")
	ErrWrongSession    = pallet.NewError(3, "WrongSession")
)

type ReportOffenceArgs struct {
	Report types.OffenceReport `cramberry:"1"`
}

func (p *Pallet) Calls() []pallet.CallSpec {
	return []pallet.CallSpec{
		pallet.NewCall(CallReportOffence, "report_offence", pallet.EnsureNone, pallet.Fixed[ReportOffenceArgs](500), p.reportOffence),
	}
}

// check returns the module error that makes report unacceptable now.
func check(r storage.Reader, report types.OffenceReport) error {
	index, err := CurrentIndex.GetOrZero(r)
	if err != nil {
		return err
	}
	if report.Session != index {
		return ErrWrongSession.Wrap("report for session %d, current is %d", report.Session, index)
	}
	seen, err := Reports.Exists(r, index, report.Hash())
	if err != nil {
		return err
	}
	if seen {
		return ErrDuplicateReport
	}
	active, err := Active.GetOrZero(r)
	if err != nil {
		return err
	}
	if !active.Contains(report.Offender) {
		return ErrUnknownOffender
	}
	return nil
}

func (p *Pallet) reportOffence(ctx *pallet.Context, a ReportOffenceArgs) error {
	st := ctx.Store()
	if err := check(st, a.Report); err != nil {
		return err
	}
	if err := Reports.Put(st, a.Report.Session, a.Report.Hash(), true); err != nil {
		return err
	}
	if err := Disabled.Put(st, a.Report.Offender, true); err != nil {
		return err
	}
	if p.offences != nil {
		if err := p.offences.OnOffence(ctx, a.Report); err != nil {
			return err
		}
	}
	return ctx.DepositEvent(EventOffenceReported,
		types.EventAttribute{Key: "offender", Value: a.Report.Offender.Hex(), Index: true},
		types.EventAttribute{Key: "kind", Value: a.Report.Kind.String()},
		types.EventAttribute{Key: "session", Value: strconv.FormatUint(uint64(a.Report.Session), 10)},
	)
}

// ValidateUnsigned admits offence reports for the current session that
// name an active authority and have not been seen.
func (p *Pallet) ValidateUnsigned(r storage.Reader, _ types.TransactionSource, call types.Call) (types.ValidTransaction, error) {
	if call.Index != CallReportOffence {
		return types.ValidTransaction{}, types.Invalid(types.ReasonCall)
	}
	var a ReportOffenceArgs
	if err := types.Decode(call.Args, &a); err != nil {
		return types.ValidTransaction{}, types.Invalid(types.ReasonCall)
	}
	index, err := CurrentIndex.GetOrZero(r)
	if err != nil {
		return types.ValidTransaction{}, types.Unknown(types.ReasonCannotLookup)
	}
	switch {
	case a.Report.Session < index:
		return types.ValidTransaction{}, types.Invalid(types.ReasonStale)
	case a.Report.Session > index:
		return types.ValidTransaction{}, types.Invalid(types.ReasonFuture)
	}
	switch err := check(r, a.Report); {
	case err == nil:
	case errors.Is(err, ErrDuplicateReport):
		return types.ValidTransaction{}, types.Invalid(types.ReasonStale)
	case errors.Is(err, ErrUnknownOffender):
		return types.ValidTransaction{}, types.InvalidCustom(ErrUnknownOffender.Code)
	default:
		return types.ValidTransaction{}, types.Unknown(types.ReasonCannotLookup)
	}
	h := a.Report.Hash()
	return types.ValidTransaction{
		Priority:  math.MaxUint64 / 2,
		Provides:  []types.TxTag{h[:]},
		Longevity: p.length,
		Propagate: true,
	}, nil
}

// OffenceCall builds the report_offence call for report.
func (*Pallet) OffenceCall(report types.OffenceReport) (types.Call, error) {
	return offenceCall(report)
}

func offenceCall(report types.OffenceReport) (types.Call, error) {
	return types.NewCall(Index, CallReportOffence, &ReportOffenceArgs{Report: report})
}

// ReportExtrinsic encodes an unsigned report_offence extrinsic.
func ReportExtrinsic(report types.OffenceReport) ([]byte, error) {
	call, err := offenceCall(report)
	if err != nil {
		return nil, err
	}
	return types.EncodeExtrinsic(types.NewUnsigned(call))
}

// GenesisConfig is the session genesis section. The listed authorities
// are both active and next in session 0.
type GenesisConfig struct {
	Authorities []GenesisAuthority `yaml:"authorities"`
}

type GenesisAuthority struct {
	ID     types.AccountID `yaml:"id"`
	Weight uint64          `yaml:"weight"`
}

func (*Pallet) BuildGenesis(ctx *pallet.Context, raw []byte) error {
	var cfg GenesisConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return fmt.Errorf("session genesis: %w", err)
	}
	set := types.AuthoritySet{}
	for _, a := range cfg.Authorities {
		w := a.Weight
		if w == 0 {
			w = 1
		}
		set.Authorities = append(set.Authorities, types.Authority{ID: a.ID, Weight: w})
	}
	st := ctx.Store()
	if err := Active.Put(st, set); err != nil {
		return err
	}
	next := set
	next.Session = 1
	if err := Next.Put(st, next); err != nil {
		return err
	}
	return CurrentIndex.Put(st, 0)
}

// Query answers /session/current, /session/next, /session/index and
// /session/disabled (Data is an AccountID).
func (*Pallet) Query(r storage.Reader, item string, data []byte) (types.StateQueryResult, error) {
	var v []byte
	var err error
	switch item {
	case "current":
		var set types.AuthoritySet
		if set, err = Active.GetOrZero(r); err == nil {
			v, err = types.Encode(&set)
		}
	case "next":
		var set types.AuthoritySet
		if set, err = Next.GetOrZero(r); err == nil {
			v, err = types.Encode(&set)
		}
	case "index":
		var n uint32
		if n, err = CurrentIndex.GetOrZero(r); err == nil {
			v, err = storage.Uint32.Encode(n)
		}
	case "disabled":
		who, derr := storage.AccountKey.Decode(data)
		if derr != nil {
			return types.StateQueryResult{Code: types.QueryBadRequest, Info: derr.Error()}, nil
		}
		var off bool
		if off, err = IsDisabled(r, who); err == nil {
			v, err = storage.Bool.Encode(off)
		}
	default:
		return types.StateQueryResult{Code: types.QueryUnknownPath, Info: "unknown session item " + item}, nil
	}
	if err != nil {
		return types.StateQueryResult{}, err
	}
	return types.StateQueryResult{Value: v}, nil
}
