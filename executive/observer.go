package executive

import (
	"github.com/blockberries/frame"
	"github.com/blockberries/frame/types"
)

// Observer is notified as blocks move through the executive. Calls are
// made synchronously with the block lock held, so implementations must
// not call back into the executive.
type Observer interface {
	BlockStarted(number uint64)
	ExtrinsicApplied(outcome types.ApplyOutcome)
	ExtrinsicRejected(err *types.TransactionValidityError)
	BlockSealed(outcome types.BlockOutcome)
	BlockCommitted(result types.CommitResult)
	BlockFailed(err *frame.FatalError)
}

type nopObserver struct{}

func (nopObserver) BlockStarted(uint64)                               {}
func (nopObserver) ExtrinsicApplied(types.ApplyOutcome)               {}
func (nopObserver) ExtrinsicRejected(*types.TransactionValidityError) {}
func (nopObserver) BlockSealed(types.BlockOutcome)                    {}
func (nopObserver) BlockCommitted(types.CommitResult)                 {}
func (nopObserver) BlockFailed(*frame.FatalError)                     {}
