package executive

import (
	"github.com/blockberries/frame/dispatch"
	"github.com/blockberries/frame/pallet"
	"github.com/blockberries/frame/storage"
	"github.com/blockberries/frame/system"
	"github.com/blockberries/frame/types"
)

// env backs every pallet.Context the executive hands out: events, logs
// and randomness live in system storage, nested calls go through the
// router.
type env struct {
	router *dispatch.Router
}

var _ pallet.Env = (*env)(nil)

func (*env) DepositEvent(st storage.Store, phase types.Phase, ev types.Event) error {
	return system.DepositEvent(st, phase, ev)
}

func (*env) DepositLog(st storage.Store, item types.DigestItem) error {
	return system.DepositLog(st, item)
}

func (*env) RandomSeed(r storage.Reader) (types.Hash, error) { return system.RandomSeed(r) }

func (e *env) Weigh(call types.Call) (types.Weight, error) { return e.router.PreDispatchWeight(call) }

func (e *env) Dispatch(ctx *pallet.Context, call types.Call) (types.PostDispatchInfo, error) {
	return e.router.Route(ctx, call)
}
