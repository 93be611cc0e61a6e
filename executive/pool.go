package executive

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/blockberries/frame"
	"github.com/blockberries/frame/pallet"
	"github.com/blockberries/frame/storage"
	"github.com/blockberries/frame/system"
	"github.com/blockberries/frame/types"
	"github.com/blockberries/frame/validity"
)

// nextBlock opens a throwaway block on top of committed state with the
// system block context of the block after head. Hooks do not run.
func (e *Executive) nextBlock() (*pendingBlock, error) {
	snap, head, err := e.snapshot()
	if err != nil {
		return nil, err
	}
	b := &pendingBlock{
		header:  types.Header{Number: head.Number + 1, ParentHash: head.Hash()},
		snap:    snap,
		overlay: storage.NewOverlay(snap),
	}
	ctx := e.newContext(b.overlay, types.NoneOrigin(), b.header.Number, types.Phase{Kind: types.PhaseInitialization})
	if err := system.Initialize(ctx, b.header); err != nil {
		snap.Release()
		return nil, err
	}
	return b, nil
}

// ValidateTransaction checks raw against the committed state as if it
// were the first extrinsic of the next block. Nothing is written.
func (e *Executive) ValidateTransaction(ctx context.Context, source types.TransactionSource, raw []byte) (types.ValidTransaction, error) {
	xt, err := types.DecodeExtrinsic(raw)
	if err != nil {
		return types.ValidTransaction{}, types.Invalid(types.ReasonCannotDecode)
	}
	b, err := e.nextBlock()
	if err != nil {
		return types.ValidTransaction{}, err
	}
	defer b.snap.Release()

	checked, err := e.validator.Validate(b.overlay, source, xt, len(raw))
	if err != nil {
		return types.ValidTransaction{}, err
	}
	return checked.Valid, nil
}

// ValidateBatch validates independent candidates in parallel against
// the same view of committed state. Results are in input order.
func (e *Executive) ValidateBatch(ctx context.Context, source types.TransactionSource, raws [][]byte) ([]validity.Result, error) {
	b, err := e.nextBlock()
	if err != nil {
		return nil, err
	}
	defer b.snap.Release()
	return e.validator.ValidateBatch(ctx, b.overlay, source, raws)
}

// Simulate applies raw on top of committed state in a throwaway block
// and reports what would happen. Nothing is persisted.
func (e *Executive) Simulate(ctx context.Context, raw []byte) (types.ApplyOutcome, error) {
	xt, err := types.DecodeExtrinsic(raw)
	if err != nil {
		return types.ApplyOutcome{}, types.Invalid(types.ReasonCannotDecode)
	}
	b, err := e.nextBlock()
	if err != nil {
		return types.ApplyOutcome{}, err
	}
	defer b.snap.Release()

	checked, err := e.validator.Validate(b.overlay, types.SourceLocal, xt, len(raw))
	if err != nil {
		return types.ApplyOutcome{}, err
	}
	return e.apply(b, checked, raw)
}

// OffchainWorker runs every pallet's offchain worker against committed
// state after header was imported, and returns the unsigned extrinsics
// they submitted. A failing worker is logged and skipped.
func (e *Executive) OffchainWorker(ctx context.Context, header types.Header) ([][]byte, error) {
	snap, _, err := e.snapshot()
	if err != nil {
		return nil, err
	}
	defer snap.Release()

	var calls []types.Call
	octx := pallet.NewOffchainContext(snap, header, e.logger, &calls)
	for _, p := range e.router.Pallets() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		w, ok := p.(pallet.OffchainWorker)
		if !ok {
			continue
		}
		if err := runWorker(w, octx.For(p.Name()), header.Number); err != nil {
			e.logger.WithError(err).WithFields(logrus.Fields{"pallet": p.Name(), "number": header.Number}).Warn("offchain worker failed")
		}
	}

	out := make([][]byte, 0, len(calls))
	for _, c := range calls {
		raw, err := types.EncodeExtrinsic(types.NewUnsigned(c))
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return out, nil
}

func runWorker(w pallet.OffchainWorker, octx *pallet.OffchainContext, n uint64) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = frame.Fatalf(types.FatalPanic, n, "offchain worker panicked: %v", rec)
		}
	}()
	return w.OffchainWorker(octx, n)
}
