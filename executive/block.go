package executive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/blockberries/frame"
	"github.com/blockberries/frame/pallet"
	"github.com/blockberries/frame/storage"
	"github.com/blockberries/frame/system"
	"github.com/blockberries/frame/types"
	"github.com/blockberries/frame/validity"
)

// InitializeBlock starts a block on top of the committed head. It sets
// the system block context, runs pending runtime-upgrade migrations and
// every pallet's OnInitialize hook in pallet order.
//
// A previous block that failed is discarded first.
func (e *Executive) InitializeBlock(ctx context.Context, header types.Header) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.begin(header); err != nil {
		return e.fail(err)
	}
	return nil
}

// ApplyExtrinsic validates raw for inclusion and applies it. A
// rejected extrinsic leaves the block open. One that would take the
// block past its weight limit fails the block.
func (e *Executive) ApplyExtrinsic(ctx context.Context, raw []byte) (types.ApplyOutcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase != PhaseApplying {
		return types.ApplyOutcome{}, fmt.Errorf("%w: apply extrinsic in phase %s", ErrWrongPhase, e.phase)
	}
	b := e.pending

	xt, err := types.DecodeExtrinsic(raw)
	if err != nil {
		verr := types.Invalid(types.ReasonCannotDecode)
		e.observer.ExtrinsicRejected(verr)
		return types.ApplyOutcome{}, verr
	}
	checked, err := e.validator.Validate(b.overlay, types.SourceInBlock, xt, len(raw))
	if errors.Is(err, validity.ErrBlockFull) {
		return types.ApplyOutcome{}, e.fail(frame.Fatalf(types.FatalWeightOverrun, b.header.Number, "apply: %v", err))
	}
	if err != nil {
		if verr, ok := frame.IsInvalid(err); ok {
			e.observer.ExtrinsicRejected(verr)
		}
		return types.ApplyOutcome{}, err
	}
	out, err := e.apply(b, checked, raw)
	if err != nil {
		if verr, ok := frame.IsInvalid(err); ok {
			e.observer.ExtrinsicRejected(verr)
			return types.ApplyOutcome{}, err
		}
		return types.ApplyOutcome{}, e.fail(err)
	}
	e.observer.ExtrinsicApplied(out)
	return out, nil
}

// FinalizeBlock runs every pallet's OnFinalize hook and seals the
// header with its extrinsics root, digest and state root.
func (e *Executive) FinalizeBlock(ctx context.Context) (types.Header, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase != PhaseApplying {
		return types.Header{}, fmt.Errorf("%w: finalize in phase %s", ErrWrongPhase, e.phase)
	}
	header, _, err := e.finalize()
	if err != nil {
		return types.Header{}, e.fail(err)
	}
	return header, nil
}

// ExecuteBlock imports a block: the extrinsics root is checked, every
// extrinsic must validate and apply, and the resulting state root and
// digest must equal the header's. Any deviation is fatal.
func (e *Executive) ExecuteBlock(ctx context.Context, block types.Block) (types.BlockOutcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out, err := e.execute(ctx, block)
	if err != nil {
		return types.BlockOutcome{}, e.fail(err)
	}
	return out, nil
}

func (e *Executive) execute(ctx context.Context, block types.Block) (types.BlockOutcome, error) {
	n := block.Header.Number
	if root := storage.OrderedRoot(block.Extrinsics); root != block.Header.ExtrinsicsRoot {
		return types.BlockOutcome{}, frame.Fatalf(types.FatalExtrinsicsRootMismatch, n,
			"computed %s, header has %s", root, block.Header.ExtrinsicsRoot)
	}
	if err := e.begin(block.Header); err != nil {
		return types.BlockOutcome{}, err
	}
	b := e.pending
	for i, raw := range block.Extrinsics {
		if err := ctx.Err(); err != nil {
			e.discard()
			return types.BlockOutcome{}, err
		}
		xt, err := types.DecodeExtrinsic(raw)
		if err != nil {
			return types.BlockOutcome{}, frame.Fatalf(types.FatalDecodeFailure, n, "extrinsic %d: %v", i, err)
		}
		checked, err := e.validator.Validate(b.overlay, types.SourceInBlock, xt, len(raw))
		if err != nil {
			if verr, ok := frame.IsInvalid(err); ok && verr.Reason == types.ReasonExhaustsResources {
				return types.BlockOutcome{}, frame.Fatalf(types.FatalWeightOverrun, n, "extrinsic %d: %v", i, err)
			}
			return types.BlockOutcome{}, frame.Fatalf(types.FatalInvalidExtrinsic, n, "extrinsic %d: %v", i, err)
		}
		applied, err := e.apply(b, checked, raw)
		if err != nil {
			if _, ok := frame.IsInvalid(err); ok {
				return types.BlockOutcome{}, frame.Fatalf(types.FatalInvalidExtrinsic, n, "extrinsic %d: %v", i, err)
			}
			return types.BlockOutcome{}, err
		}
		e.observer.ExtrinsicApplied(applied)
	}

	header, out, err := e.finalize()
	if err != nil {
		return types.BlockOutcome{}, err
	}
	if header.StateRoot != block.Header.StateRoot {
		return types.BlockOutcome{}, frame.Fatalf(types.FatalStateRootMismatch, n,
			"computed %s, header has %s", header.StateRoot, block.Header.StateRoot)
	}
	want := block.Header.Digest.WithoutSeals()
	if !bytes.Equal(types.MustEncode(&header.Digest), types.MustEncode(&want)) {
		return types.BlockOutcome{}, frame.Fatalf(types.FatalDigestMismatch, n,
			"computed %d log items, header has %d", len(header.Digest.Logs), len(want.Logs))
	}
	// The imported header, seals included, becomes the head on commit.
	b.sealed = block.Header
	out.Header = block.Header
	return out, nil
}

// Commit writes the sealed block's changes to the backend and makes its
// header the new head.
func (e *Executive) Commit(ctx context.Context) (types.CommitResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase != PhaseSealed {
		return types.CommitResult{}, fmt.Errorf("%w: commit in phase %s", ErrWrongPhase, e.phase)
	}
	b := e.pending
	changes, err := b.overlay.Changes()
	if err != nil {
		return types.CommitResult{}, err
	}
	cs := storage.ChangeSet{
		Changes: changes,
		Meta:    []storage.Change{{Key: headKey, Value: types.MustEncode(&b.sealed)}},
	}

	e.headMu.Lock()
	err = e.backend.Apply(cs)
	if err == nil {
		head := b.sealed
		e.head = &head
	}
	e.headMu.Unlock()
	if err != nil {
		// The block stays sealed so the host may retry.
		return types.CommitResult{}, fmt.Errorf("executive: commit block %d: %w", b.sealed.Number, err)
	}

	res := types.CommitResult{
		Block:     b.sealed.ID(),
		StateRoot: b.sealed.StateRoot,
		Changes:   uint32(len(changes)),
	}
	e.discard()
	e.observer.BlockCommitted(res)
	e.logger.WithFields(logrus.Fields{
		"number":  res.Block.Number,
		"hash":    res.Block.Hash,
		"changes": res.Changes,
	}).Debug("block committed")
	return res, nil
}

// Abort discards the block in progress, if any.
func (e *Executive) Abort() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.discard()
}

func (e *Executive) discard() {
	if e.pending != nil {
		e.pending.snap.Release()
		e.pending = nil
	}
	e.phase = PhaseIdle
}

// fail moves the executive to PhaseFailed for fatal errors. Other
// errors leave the phase alone.
func (e *Executive) fail(err error) error {
	f, ok := frame.IsFatal(err)
	if !ok {
		return err
	}
	if e.pending != nil {
		e.pending.snap.Release()
		e.pending = nil
	}
	e.phase = PhaseFailed
	e.observer.BlockFailed(f)
	e.logger.WithFields(logrus.Fields{"number": f.Number, "kind": f.Kind}).Error(f.Reason)
	return f
}

// begin opens a pending block for header and runs the initialization
// phase. Continuity violations and hook failures are fatal.
func (e *Executive) begin(header types.Header) error {
	switch e.phase {
	case PhaseIdle, PhaseFailed:
	default:
		return fmt.Errorf("%w: initialize in phase %s", ErrWrongPhase, e.phase)
	}
	head, ok := e.Head()
	if !ok {
		return ErrNoGenesis
	}
	n := header.Number
	if n != head.Number+1 {
		return frame.Fatalf(types.FatalBadBlock, n, "expected block %d", head.Number+1)
	}
	if header.ParentHash != head.Hash() {
		return frame.Fatalf(types.FatalBadBlock, n, "parent %s is not head %s", header.ParentHash, head.Hash())
	}

	snap, err := e.backend.Snapshot()
	if err != nil {
		return frame.Fatalf(types.FatalStorageFailure, n, "snapshot: %v", err)
	}
	e.pending = &pendingBlock{
		header:  header,
		snap:    snap,
		overlay: storage.NewOverlay(snap),
	}
	e.phase = PhaseInitializing
	e.observer.BlockStarted(n)

	b := e.pending
	ctx := e.newContext(b.overlay, types.NoneOrigin(), n, types.Phase{Kind: types.PhaseInitialization})
	if err := system.Initialize(ctx, header); err != nil {
		return frame.Fatalf(types.FatalStorageFailure, n, "system initialize: %v", err)
	}

	var weight types.Weight
	upgraded, err := system.NeedsUpgrade(ctx, e.version)
	if err != nil {
		return frame.Fatalf(types.FatalStorageFailure, n, "runtime upgrade check: %v", err)
	}
	if upgraded {
		w, err := e.migrate(ctx, n)
		if err != nil {
			return err
		}
		weight = weight.SaturatingAdd(w)
	}

	for _, p := range e.router.Pallets() {
		hk, ok := p.(pallet.Initializer)
		if !ok {
			continue
		}
		var w types.Weight
		err := e.hook(n, p.Name(), "on_initialize", func() (err error) {
			w, err = hk.OnInitialize(ctx.For(p.Name()), n)
			return err
		})
		if err != nil {
			return err
		}
		weight = weight.SaturatingAdd(w)
	}

	used, err := system.AddWeight(ctx, weight)
	if err != nil {
		return frame.Fatalf(types.FatalStorageFailure, n, "charge hook weight: %v", err)
	}
	if used > e.limits.MaxBlockWeight {
		return frame.Fatalf(types.FatalWeightOverrun, n, "initialization used %d of %d", used, e.limits.MaxBlockWeight)
	}
	e.phase = PhaseApplying
	return nil
}

// migrate runs the storage migrations of every pallet whose on-chain
// storage version is behind the compiled one.
func (e *Executive) migrate(ctx *pallet.Context, n uint64) (types.Weight, error) {
	var weight types.Weight
	for _, p := range e.router.Pallets() {
		m, ok := p.(pallet.Migrator)
		if !ok {
			continue
		}
		name := p.Name()
		from, err := storage.GetVersion(e.pending.overlay, name)
		if err != nil {
			return 0, frame.Fatalf(types.FatalStorageFailure, n, "%s storage version: %v", name, err)
		}
		to := m.StorageVersion()
		if from >= to {
			continue
		}
		var w types.Weight
		err = e.hook(n, name, "migrate", func() (err error) {
			w, err = m.Migrate(ctx.For(name), from)
			return err
		})
		if err != nil {
			return 0, err
		}
		if err := storage.PutVersion(e.pending.overlay, name, to); err != nil {
			return 0, frame.Fatalf(types.FatalStorageFailure, n, "%s storage version: %v", name, err)
		}
		weight = weight.SaturatingAdd(w)
		e.logger.WithFields(logrus.Fields{"pallet": name, "from": from, "to": to, "number": n}).Info("storage migrated")
	}
	return weight, nil
}

// hook runs fn, turning errors and panics into fatal errors.
func (e *Executive) hook(n uint64, name, stage string, fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = frame.Fatalf(types.FatalPanic, n, "%s %s panicked: %v", name, stage, rec)
		}
	}()
	if err := fn(); err != nil {
		if f, ok := frame.IsFatal(err); ok {
			return f
		}
		return frame.Fatalf(types.FatalHookFailure, n, "%s %s: %v", name, stage, err)
	}
	return nil
}

// apply runs a validated extrinsic: the nonce is bumped and the fee
// withdrawn in their own transaction, then the call is routed. A failed
// call is recorded in the outcome; only fatal errors and a fee that
// cannot be withdrawn are returned.
func (e *Executive) apply(b *pendingBlock, c validity.Checked, raw []byte) (types.ApplyOutcome, error) {
	n := b.header.Number
	idx, err := system.ExtrinsicIndex(b.overlay)
	if err != nil {
		return types.ApplyOutcome{}, frame.Fatalf(types.FatalStorageFailure, n, "extrinsic index: %v", err)
	}
	phase := types.Phase{Kind: types.PhaseApplyExtrinsic, Index: idx}
	ctx := e.newContext(b.overlay, c.Origin, n, phase)

	err = ctx.Transaction(func(ctx *pallet.Context) error {
		if _, err := system.NoteExtrinsic(ctx, raw); err != nil {
			return err
		}
		who, signed := c.Origin.Signer()
		if !signed {
			return nil
		}
		if err := system.IncNonce(ctx, who); err != nil {
			return err
		}
		if c.Fee > 0 && e.fees != nil {
			if err := e.fees.WithdrawFee(ctx.For(e.feesName), who, c.Fee); err != nil {
				return fmt.Errorf("%w: %v", types.Invalid(types.ReasonPayment), err)
			}
		}
		return nil
	})
	if err != nil {
		if _, ok := frame.IsInvalid(err); ok {
			return types.ApplyOutcome{}, err
		}
		return types.ApplyOutcome{}, frame.Fatalf(types.FatalStorageFailure, n, "pre-dispatch: %v", err)
	}

	post, derr := e.router.Route(ctx, c.Extrinsic.Call)
	if f, ok := frame.IsFatal(derr); ok {
		return types.ApplyOutcome{}, f
	}
	weight := post.CalcActualWeight(c.Weight).SaturatingAdd(e.limits.BaseExtrinsicWeight)
	used, err := system.AddWeight(ctx, weight)
	if err != nil {
		return types.ApplyOutcome{}, frame.Fatalf(types.FatalStorageFailure, n, "charge weight: %v", err)
	}
	if used > e.limits.MaxBlockWeight {
		return types.ApplyOutcome{}, frame.Fatalf(types.FatalWeightOverrun, n, "extrinsic %d brings block to %d of %d", idx, used, e.limits.MaxBlockWeight)
	}

	out := types.ApplyOutcome{Index: idx, Success: derr == nil, ActualWeight: weight, Fee: c.Fee}
	ev := types.Event{
		Module:     system.Name,
		Kind:       system.EventExtrinsicSuccess,
		Attributes: []types.EventAttribute{{Key: "weight", Value: strconv.FormatUint(uint64(weight), 10)}},
	}
	if derr != nil {
		info := e.router.ErrorInfo(c.Extrinsic.Call, derr)
		out.Error = &info
		ev.Kind = system.EventExtrinsicFailed
		ev.Attributes = append(ev.Attributes,
			types.EventAttribute{Key: "error", Value: info.Name, Index: true},
			types.EventAttribute{Key: "module", Value: strconv.Itoa(int(info.Module))},
			types.EventAttribute{Key: "code", Value: strconv.Itoa(int(info.Code))},
		)
		ctx.Logger().WithError(derr).WithField("call", c.Extrinsic.Call).Debug("dispatch failed")
	}
	if err := system.DepositEvent(b.overlay, phase, ev); err != nil {
		return types.ApplyOutcome{}, frame.Fatalf(types.FatalStorageFailure, n, "deposit event: %v", err)
	}

	b.outcomes = append(b.outcomes, out)
	return out, nil
}

// finalize runs the finalization phase and seals the pending block.
func (e *Executive) finalize() (types.Header, types.BlockOutcome, error) {
	b := e.pending
	n := b.header.Number
	e.phase = PhaseFinalizing

	ctx := e.newContext(b.overlay, types.NoneOrigin(), n, types.Phase{Kind: types.PhaseFinalization})
	for _, p := range e.router.Pallets() {
		fin, ok := p.(pallet.Finalizer)
		if !ok {
			continue
		}
		if err := e.hook(n, p.Name(), "on_finalize", func() error {
			return fin.OnFinalize(ctx.For(p.Name()), n)
		}); err != nil {
			return types.Header{}, types.BlockOutcome{}, err
		}
	}

	weight, err := system.UsedWeight(b.overlay)
	if err != nil {
		return types.Header{}, types.BlockOutcome{}, frame.Fatalf(types.FatalStorageFailure, n, "block weight: %v", err)
	}
	events, err := system.ReadEvents(b.overlay)
	if err != nil {
		return types.Header{}, types.BlockOutcome{}, frame.Fatalf(types.FatalStorageFailure, n, "read events: %v", err)
	}
	xts, digest, err := system.Finalize(ctx)
	if err != nil {
		return types.Header{}, types.BlockOutcome{}, frame.Fatalf(types.FatalStorageFailure, n, "system finalize: %v", err)
	}
	root, err := b.overlay.Root()
	if err != nil {
		return types.Header{}, types.BlockOutcome{}, frame.Fatalf(types.FatalStorageFailure, n, "state root: %v", err)
	}

	header := types.Header{
		Number:         n,
		ParentHash:     b.header.ParentHash,
		StateRoot:      root,
		ExtrinsicsRoot: storage.OrderedRoot(xts),
		Digest:         digest,
	}
	b.sealed = header
	e.phase = PhaseSealed

	out := types.BlockOutcome{Header: header, Outcomes: b.outcomes, Events: events, Weight: weight}
	e.observer.BlockSealed(out)
	e.logger.WithFields(logrus.Fields{
		"number":     n,
		"extrinsics": len(xts),
		"weight":     weight,
		"state_root": root,
	}).Debug("block sealed")
	return header, out, nil
}
