// Package server provides the host-side wrapper that enforces the
// runtime call order and routes capability-gated calls.
package server

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// lifecycleState represents a state in the host-side lifecycle.
type lifecycleState uint32

const (
	// stateInit: Waiting for Handshake. No other calls allowed.
	stateInit lifecycleState = iota
	// stateReady: Handshake complete, no block in progress.
	// Concurrent calls allowed: ValidateTransaction, Query, Simulate
	// and the authority reads. Sequential calls allowed:
	// InitializeBlock, ExecuteBlock.
	stateReady
	// stateBuilding: InitializeBlock returned. ApplyExtrinsic and
	// FinalizeBlock are the only valid sequential calls.
	stateBuilding
	// stateExecuting: ExecuteBlock has been called. Waiting for it
	// to return.
	stateExecuting
	// stateSealed: FinalizeBlock or ExecuteBlock returned. Commit is
	// the only valid next sequential call.
	stateSealed
	// stateCommitting: Commit has been called. Waiting for it
	// to return.
	stateCommitting
)

func (s lifecycleState) String() string {
	switch s {
	case stateInit:
		return "Init"
	case stateReady:
		return "Ready"
	case stateBuilding:
		return "Building"
	case stateExecuting:
		return "Executing"
	case stateSealed:
		return "Sealed"
	case stateCommitting:
		return "Committing"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// LifecycleGuard enforces the lifecycle state machine. Misuse is a
// host bug and panics.
type LifecycleGuard struct {
	state atomic.Uint32
	// Serializes block calls (InitializeBlock, ApplyExtrinsic,
	// FinalizeBlock, ExecuteBlock, Commit).
	seqMu sync.Mutex
	// Gates the concurrent calls.
	handshakeDone atomic.Bool
}

// NewLifecycleGuard creates a guard in the Init state.
func NewLifecycleGuard() *LifecycleGuard {
	g := &LifecycleGuard{}
	g.state.Store(uint32(stateInit))
	return g
}

// State returns the current lifecycle state.
func (g *LifecycleGuard) State() string {
	return lifecycleState(g.state.Load()).String()
}

// AcquireHandshake transitions Init → Ready.
// Panics if not in Init state.
func (g *LifecycleGuard) AcquireHandshake() {
	if !g.state.CompareAndSwap(uint32(stateInit), uint32(stateReady)) {
		panic(fmt.Sprintf("frame: Handshake called in state %s (expected Init)",
			lifecycleState(g.state.Load())))
	}
}

// CompleteHandshake marks handshake as done, enabling concurrent calls.
func (g *LifecycleGuard) CompleteHandshake() {
	g.handshakeDone.Store(true)
}

// FailHandshake rolls back state to Init if handshake fails.
func (g *LifecycleGuard) FailHandshake() {
	g.state.Store(uint32(stateInit))
}

// acquire locks the sequential mutex and moves from one of the
// expected states to next. Panics on any other state.
func (g *LifecycleGuard) acquire(call string, next lifecycleState, expected ...lifecycleState) {
	g.seqMu.Lock()
	state := lifecycleState(g.state.Load())
	for _, s := range expected {
		if state == s {
			g.state.Store(uint32(next))
			return
		}
	}
	g.seqMu.Unlock()
	panic(fmt.Sprintf("frame: %s called in state %s (expected %s)", call, state, expected[0]))
}

// release stores the final state and unlocks the sequential mutex.
func (g *LifecycleGuard) release(s lifecycleState) {
	g.state.Store(uint32(s))
	g.seqMu.Unlock()
}

// AcquireInitialize transitions Ready → Building.
// Blocks if another sequential operation is in progress.
func (g *LifecycleGuard) AcquireInitialize() {
	g.acquire("InitializeBlock", stateBuilding, stateReady)
}

// AcquireApply locks the guard for one ApplyExtrinsic call.
// Panics if no block is being built.
func (g *LifecycleGuard) AcquireApply() {
	g.acquire("ApplyExtrinsic", stateBuilding, stateBuilding)
}

// AcquireFinalize locks the guard for FinalizeBlock.
// Panics if no block is being built.
func (g *LifecycleGuard) AcquireFinalize() {
	g.acquire("FinalizeBlock", stateBuilding, stateBuilding)
}

// CompleteApply releases the guard with the block still being built.
func (g *LifecycleGuard) CompleteApply() { g.release(stateBuilding) }

// AcquireExecute transitions Ready → Executing.
// Blocks if another sequential operation is in progress.
// Panics if not in Ready state.
func (g *LifecycleGuard) AcquireExecute() {
	g.acquire("ExecuteBlock", stateExecuting, stateReady)
}

// CompleteSeal transitions Building or Executing → Sealed.
func (g *LifecycleGuard) CompleteSeal() { g.release(stateSealed) }

// FailBlock transitions back to Ready: the block in progress was
// rejected and the runtime discarded it.
func (g *LifecycleGuard) FailBlock() { g.release(stateReady) }

// AcquireCommit transitions Sealed → Committing.
// Panics if not in Sealed state.
func (g *LifecycleGuard) AcquireCommit() {
	g.acquire("Commit", stateCommitting, stateSealed)
}

// CompleteCommit transitions Committing → Ready.
func (g *LifecycleGuard) CompleteCommit() { g.release(stateReady) }

// FailCommit transitions Committing → Sealed so Commit can be retried.
func (g *LifecycleGuard) FailCommit() { g.release(stateSealed) }

// AcquireAbort locks the guard to abandon a built or sealed block.
// Aborting in Ready is a no-op.
func (g *LifecycleGuard) AcquireAbort() {
	g.acquire("Abort", stateReady, stateReady, stateBuilding, stateSealed)
}

// CheckConcurrent verifies that concurrent calls are allowed
// (any state after Handshake). Panics if handshake has not completed.
func (g *LifecycleGuard) CheckConcurrent() {
	if !g.handshakeDone.Load() {
		panic("frame: concurrent call before Handshake completed")
	}
}

// IsReady returns true if the guard is in the Ready state.
func (g *LifecycleGuard) IsReady() bool {
	return lifecycleState(g.state.Load()) == stateReady
}
