package system

import (
	"bytes"
	"encoding/hex"

	"github.com/blockberries/frame"
	"github.com/blockberries/frame/pallet"
	"github.com/blockberries/frame/types"
)

// Call indices.
const (
	CallRemark uint8 = iota
	CallSetStorage
	CallKillStorage
	CallSetCode
	CallSudo
	CallSetSudoKey
)

// Module errors.
var (
	ErrRequireSudo        = pallet.NewError(1, "RequireSudo")
	ErrSudoWeightExceeded = pallet.NewError(2, "SudoWeightExceeded")
	ErrEmptyCode          = pallet.NewError(3, "EmptyCode")
	ErrReservedStorageKey = pallet.NewError(4, "ReservedStorageKey")
)

// sudoOverhead is the weight of the sudo call itself.
const sudoOverhead types.Weight = 50

type RemarkArgs struct {
	Data []byte `cramberry:"1"`
}

type KeyValue struct {
	Key   []byte `cramberry:"1"`
	Value []byte `cramberry:"2"`
}

type SetStorageArgs struct {
	Items []KeyValue `cramberry:"1"`
}

type KillStorageArgs struct {
	Keys [][]byte `cramberry:"1"`
}

type SetCodeArgs struct {
	Code []byte `cramberry:"1"`
}

// SudoArgs wraps a call dispatched as root. Weight bounds the inner
// call's pre-dispatch weight and is what the signer pays for.
type SudoArgs struct {
	Call   types.Call   `cramberry:"1"`
	Weight types.Weight `cramberry:"2"`
}

type SetSudoKeyArgs struct {
	New types.AccountID `cramberry:"1"`
}

func (*Pallet) Calls() []pallet.CallSpec {
	return []pallet.CallSpec{
		pallet.NewCall(CallRemark, "remark", pallet.EnsureSigned,
			func(a RemarkArgs) types.Weight { return 10 + types.Weight(len(a.Data)) },
			remark),
		pallet.NewCall(CallSetStorage, "set_storage", pallet.EnsureRoot,
			func(a SetStorageArgs) types.Weight { return 100 * types.Weight(len(a.Items)+1) },
			setStorage),
		pallet.NewCall(CallKillStorage, "kill_storage", pallet.EnsureRoot,
			func(a KillStorageArgs) types.Weight { return 100 * types.Weight(len(a.Keys)+1) },
			killStorage),
		pallet.NewCall(CallSetCode, "set_code", pallet.EnsureRoot,
			func(a SetCodeArgs) types.Weight { return 1000 + types.Weight(len(a.Code)/64) },
			setCode),
		pallet.NewCall(CallSudo, "sudo", pallet.EnsureSigned,
			func(a SudoArgs) types.Weight { return sudoOverhead.SaturatingAdd(a.Weight) },
			sudo),
		pallet.NewCall(CallSetSudoKey, "set_sudo_key", pallet.EnsureSigned, pallet.Fixed[SetSudoKeyArgs](sudoOverhead),
			setSudoKey),
	}
}

func remark(ctx *pallet.Context, a RemarkArgs) error {
	who, err := ctx.EnsureSigned()
	if err != nil {
		return err
	}
	return ctx.DepositEvent(EventRemarked,
		types.EventAttribute{Key: "sender", Value: who.Hex(), Index: true},
		types.EventAttribute{Key: "hash", Value: types.Blake2_256(a.Data).Hex()},
	)
}

func reserved(key []byte) bool {
	return bytes.HasPrefix(key, []byte(":")) && !bytes.Equal(key, CodeKey)
}

func setStorage(ctx *pallet.Context, a SetStorageArgs) error {
	st, err := ctx.RootStore()
	if err != nil {
		return err
	}
	for _, kv := range a.Items {
		if reserved(kv.Key) {
			return ErrReservedStorageKey.Wrap("%x", kv.Key)
		}
		if err := st.Put(kv.Key, kv.Value); err != nil {
			return err
		}
	}
	return nil
}

func killStorage(ctx *pallet.Context, a KillStorageArgs) error {
	st, err := ctx.RootStore()
	if err != nil {
		return err
	}
	for _, k := range a.Keys {
		if reserved(k) {
			return ErrReservedStorageKey.Wrap("%x", k)
		}
		if err := st.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func setCode(ctx *pallet.Context, a SetCodeArgs) error {
	if len(a.Code) == 0 {
		return ErrEmptyCode
	}
	st, err := ctx.RootStore()
	if err != nil {
		return err
	}
	if err := st.Put(CodeKey, a.Code); err != nil {
		return err
	}
	ctx.Logger().WithField("code_hash", types.Blake2_256(a.Code).Hex()).Info("runtime code updated")
	return ctx.DepositEvent(EventCodeUpdated,
		types.EventAttribute{Key: "code_hash", Value: types.Blake2_256(a.Code).Hex(), Index: true})
}

func ensureSudo(ctx *pallet.Context) error {
	who, err := ctx.EnsureSigned()
	if err != nil {
		return err
	}
	key, ok, err := SudoKey.Get(ctx.Store())
	if err != nil {
		return err
	}
	if !ok || key != who {
		return ErrRequireSudo
	}
	return nil
}

// sudo dispatches the inner call as root. The inner call's failure is
// reported in the Sudid event; sudo itself succeeds.
func sudo(ctx *pallet.Context, a SudoArgs) error {
	if err := ensureSudo(ctx); err != nil {
		return err
	}
	inner, err := ctx.Weigh(a.Call)
	if err != nil {
		return err
	}
	if inner > a.Weight {
		return ErrSudoWeightExceeded.Wrap("inner call weighs %d, declared %d", inner, a.Weight)
	}
	post, err := ctx.Dispatch(a.Call, types.RootOrigin())
	if _, fatal := frame.IsFatal(err); fatal {
		return err
	}
	ctx.SetActualWeight(sudoOverhead.SaturatingAdd(post.CalcActualWeight(inner)))

	result := "ok"
	if err != nil {
		result = err.Error()
	}
	return ctx.DepositEvent(EventSudid,
		types.EventAttribute{Key: "call", Value: hex.EncodeToString([]byte{a.Call.Module, a.Call.Index})},
		types.EventAttribute{Key: "result", Value: result},
	)
}

func setSudoKey(ctx *pallet.Context, a SetSudoKeyArgs) error {
	if err := ensureSudo(ctx); err != nil {
		return err
	}
	if err := SudoKey.Put(ctx.Store(), a.New); err != nil {
		return err
	}
	return ctx.DepositEvent(EventSudoKeyChanged, types.EventAttribute{Key: "new", Value: a.New.Hex(), Index: true})
}
