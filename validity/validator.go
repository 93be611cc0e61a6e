// Package validity decides whether an extrinsic may enter the pool or
// the block under construction. Validation reads state and never
// writes it, so it is safe to run speculatively and in parallel.
package validity

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/bits"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/blockberries/frame/dispatch"
	"github.com/blockberries/frame/pallet"
	"github.com/blockberries/frame/storage"
	"github.com/blockberries/frame/system"
	"github.com/blockberries/frame/types"
)

const (
	// Longevity is how many blocks a validity result holds for.
	Longevity = 64

	// priorityScale keeps integer precision in fee per weight.
	priorityScale = 1_000_000

	defaultCacheSize = 8192
)

// ErrBlockFull marks an in-block ExhaustsResources rejection caused by
// the weight already used in the block, as opposed to an extrinsic that
// is too large for any block. The returned error matches both.
var ErrBlockFull = errors.New("block weight limit reached")

// Checked is an extrinsic that passed validation.
type Checked struct {
	Extrinsic types.Extrinsic
	Origin    types.Origin
	// Pre-dispatch weight of the call, excluding the base weight.
	Weight types.Weight
	Fee    uint64
	Valid  types.ValidTransaction
}

// Config holds the parameters for New.
type Config struct {
	Router *dispatch.Router
	Limits types.BlockLimits
	Fees   types.FeeSchedule
	// FeeCharger checks that signers can pay. Nil = fees are not checked
	// against balances.
	FeeCharger pallet.FeeCharger
	// Number of positive signature checks to remember. Zero = default.
	CacheSize int
	Logger    logrus.FieldLogger
}

// Validator checks extrinsics against chain state. Safe for concurrent use.
type Validator struct {
	router *dispatch.Router
	limits types.BlockLimits
	fees   types.FeeSchedule
	fee    pallet.FeeCharger
	logger logrus.FieldLogger

	mu   sync.RWMutex
	sctx types.SigningContext

	verified *lru.Cache[types.Hash, struct{}]
}

// New creates a validator.
func New(cfg Config) (*Validator, error) {
	if cfg.Router == nil {
		return nil, errors.New("validity: router is required")
	}
	size := cfg.CacheSize
	if size <= 0 {
		size = defaultCacheSize
	}
	cache, err := lru.New[types.Hash, struct{}](size)
	if err != nil {
		return nil, fmt.Errorf("validity: signature cache: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Validator{
		router:   cfg.Router,
		limits:   cfg.Limits,
		fees:     cfg.Fees,
		fee:      cfg.FeeCharger,
		logger:   logger.WithField("component", "validity"),
		verified: cache,
	}, nil
}

// SetSigningContext sets the chain binding signatures are checked
// against. Called once the genesis hash is known.
func (v *Validator) SetSigningContext(sctx types.SigningContext) {
	v.mu.Lock()
	v.sctx = sctx
	v.mu.Unlock()
	v.verified.Purge()
}

// SigningContext returns the current signing context.
func (v *Validator) SigningContext() types.SigningContext {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.sctx
}

// Limits returns the configured block limits.
func (v *Validator) Limits() types.BlockLimits { return v.limits }

// Validate checks xt, whose encoding is length bytes long, against r.
//
// Checks run in order: format version, call resolution and weight,
// size and per-extrinsic weight limits, then for signed extrinsics the
// signature, nonce and fee, or for unsigned ones the owning pallet's
// ValidateUnsigned. With SourceInBlock the remaining block capacity is
// checked last.
func (v *Validator) Validate(r storage.Reader, source types.TransactionSource, xt types.Extrinsic, length int) (Checked, error) {
	if xt.Version != types.ExtrinsicVersion {
		return Checked{}, types.Invalid(types.ReasonCannotDecode)
	}
	p, spec, err := v.router.Lookup(xt.Call)
	if err != nil {
		return Checked{}, types.Invalid(types.ReasonCall)
	}
	weight, err := spec.Weigh(xt.Call.Args)
	if err != nil {
		return Checked{}, types.Invalid(types.ReasonCall)
	}
	if v.limits.MaxExtrinsicBytes > 0 && length > int(v.limits.MaxExtrinsicBytes) {
		return Checked{}, types.Invalid(types.ReasonExhaustsResources)
	}
	total := weight.SaturatingAdd(v.limits.BaseExtrinsicWeight)
	if total > v.limits.ExtrinsicLimit() {
		return Checked{}, types.Invalid(types.ReasonExhaustsResources)
	}

	checked := Checked{Extrinsic: xt, Weight: weight}
	if xt.IsSigned() {
		if err := v.checkSigned(r, xt, weight, length, &checked); err != nil {
			return Checked{}, err
		}
	} else {
		if err := v.checkUnsigned(r, source, p, xt.Call, &checked); err != nil {
			return Checked{}, err
		}
	}

	if source == types.SourceInBlock {
		used, err := system.UsedWeight(r)
		if err != nil {
			return Checked{}, types.Unknown(types.ReasonCannotLookup)
		}
		if used.SaturatingAdd(total) > v.limits.MaxBlockWeight {
			return Checked{}, fmt.Errorf("%w: %w", ErrBlockFull, types.Invalid(types.ReasonExhaustsResources))
		}
	}
	return checked, nil
}

func (v *Validator) checkSigned(r storage.Reader, xt types.Extrinsic, weight types.Weight, length int, out *Checked) error {
	sig := xt.Signature
	if !v.verifySignature(xt) {
		return types.Invalid(types.ReasonBadProof)
	}
	expected, err := system.Nonce(r, sig.Signer)
	if err != nil {
		return types.Unknown(types.ReasonCannotLookup)
	}
	switch {
	case sig.Nonce < expected:
		return types.Invalid(types.ReasonStale)
	case sig.Nonce > expected:
		return types.Invalid(types.ReasonFuture)
	}
	if sig.Fee < v.fees.MinFee(weight, length) {
		return types.Invalid(types.ReasonPayment)
	}
	if v.fee != nil && sig.Fee > 0 {
		if err := v.fee.CanWithdrawFee(r, sig.Signer, sig.Fee); err != nil {
			return types.Invalid(types.ReasonPayment)
		}
	}
	out.Origin = types.SignedOrigin(sig.Signer)
	out.Fee = sig.Fee
	out.Valid = types.ValidTransaction{
		Priority:  Priority(sig.Fee, weight),
		Provides:  []types.TxTag{NonceTag(sig.Signer, sig.Nonce)},
		Longevity: Longevity,
		Propagate: true,
	}
	return nil
}

func (v *Validator) checkUnsigned(r storage.Reader, source types.TransactionSource, p pallet.Pallet, call types.Call, out *Checked) error {
	uv, ok := p.(pallet.UnsignedValidator)
	if !ok {
		return types.Unknown(types.ReasonNoUnsignedValidator)
	}
	valid, err := uv.ValidateUnsigned(r, source, call)
	if err != nil {
		var tve *types.TransactionValidityError
		if errors.As(err, &tve) {
			return tve
		}
		v.logger.WithError(err).WithField("pallet", p.Name()).Debug("unsigned validation failed")
		return types.Invalid(types.ReasonCall)
	}
	out.Origin = types.NoneOrigin()
	out.Valid = valid
	return nil
}

func (v *Validator) verifySignature(xt types.Extrinsic) bool {
	sctx := v.SigningContext()
	key := types.Blake2_256(types.MustEncode(&xt), types.MustEncode(&sctx))
	if _, ok := v.verified.Get(key); ok {
		return true
	}
	if !types.VerifySignature(xt, sctx) {
		return false
	}
	v.verified.Add(key, struct{}{})
	return true
}

// Priority orders transactions by fee per unit of weight.
func Priority(fee uint64, weight types.Weight) uint64 {
	w := uint64(weight)
	if w == 0 {
		w = 1
	}
	hi, lo := bits.Mul64(fee, priorityScale)
	if hi >= w {
		return math.MaxUint64
	}
	q, _ := bits.Div64(hi, lo, w)
	return q
}

// NonceTag is the tag a signed transaction provides:
// blake2b256(signer ‖ nonce).
//
// Signed transactions never carry a Requires tag for nonce-1. A nonce
// ahead of the account's is rejected as Future rather than admitted
// with a dependency, so every valid signed transaction is immediately
// includable.
func NonceTag(who types.AccountID, nonce uint64) types.TxTag {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], nonce)
	h := types.Blake2_256(who[:], n[:])
	return types.TxTag(h[:])
}
