// Package dispatch routes decoded calls to pallet handlers with origin
// authorization, two-phase weight accounting and transactional storage
// semantics.
package dispatch

import (
	"bytes"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/blockberries/frame"
	"github.com/blockberries/frame/pallet"
	"github.com/blockberries/frame/storage"
	"github.com/blockberries/frame/types"
)

type route struct {
	pallet pallet.Pallet
	calls  map[uint8]pallet.CallSpec
}

// Router maps (module index, call index) to handlers. It is immutable
// after construction and safe for concurrent use.
type Router struct {
	pallets []pallet.Pallet
	byIndex map[uint8]*route
	byName  map[string]*route
}

// NewRouter builds a router over pallets in the given order, which is
// also the hook order. It rejects duplicate names, indices or call
// indices, colliding namespaces, and declared storage items outside
// their pallet's namespace.
func NewRouter(pallets ...pallet.Pallet) (*Router, error) {
	r := &Router{
		byIndex: make(map[uint8]*route, len(pallets)),
		byName:  make(map[string]*route, len(pallets)),
	}
	prefixes := make(map[string]string, len(pallets))
	for _, p := range pallets {
		name, idx := p.Name(), p.Index()
		if name == "" {
			return nil, fmt.Errorf("pallet at index %d has no name", idx)
		}
		if _, dup := r.byName[name]; dup {
			return nil, fmt.Errorf("duplicate pallet name %q", name)
		}
		if other, dup := r.byIndex[idx]; dup {
			return nil, fmt.Errorf("pallets %q and %q share index %d", other.pallet.Name(), name, idx)
		}
		prefix := storage.ModulePrefix(name)
		if other, dup := prefixes[string(prefix)]; dup {
			return nil, fmt.Errorf("pallets %q and %q have colliding storage prefixes", other, name)
		}
		prefixes[string(prefix)] = name

		items := make(map[string]bool)
		for _, it := range p.Storage() {
			if it.Module != name || !bytes.HasPrefix(it.Prefix, prefix) {
				return nil, fmt.Errorf("pallet %q declares item %s.%s outside its namespace", name, it.Module, it.Name)
			}
			if items[it.Name] {
				return nil, fmt.Errorf("pallet %q declares item %q twice", name, it.Name)
			}
			items[it.Name] = true
		}

		rt := &route{pallet: p, calls: make(map[uint8]pallet.CallSpec)}
		for _, c := range p.Calls() {
			if _, dup := rt.calls[c.Index]; dup {
				return nil, fmt.Errorf("pallet %q has duplicate call index %d", name, c.Index)
			}
			if c.Weigh == nil || c.Handle == nil {
				return nil, fmt.Errorf("pallet %q call %q is incomplete", name, c.Name)
			}
			rt.calls[c.Index] = c
		}
		r.byIndex[idx] = rt
		r.byName[name] = rt
		r.pallets = append(r.pallets, p)
	}
	return r, nil
}

// Pallets returns the pallets in hook order.
func (r *Router) Pallets() []pallet.Pallet {
	return append([]pallet.Pallet(nil), r.pallets...)
}

// Pallet returns the pallet with the given name.
func (r *Router) Pallet(name string) (pallet.Pallet, bool) {
	rt, ok := r.byName[name]
	if !ok {
		return nil, false
	}
	return rt.pallet, true
}

// Lookup resolves a call to its pallet and spec.
func (r *Router) Lookup(call types.Call) (pallet.Pallet, pallet.CallSpec, error) {
	rt, ok := r.byIndex[call.Module]
	if !ok {
		return nil, pallet.CallSpec{}, fmt.Errorf("module %d: %w", call.Module, pallet.ErrUnknownCall)
	}
	spec, ok := rt.calls[call.Index]
	if !ok {
		return nil, pallet.CallSpec{}, fmt.Errorf("%s call %d: %w", rt.pallet.Name(), call.Index, pallet.ErrUnknownCall)
	}
	return rt.pallet, spec, nil
}

// PreDispatchWeight returns the pre-dispatch weight estimate of call.
func (r *Router) PreDispatchWeight(call types.Call) (types.Weight, error) {
	_, spec, err := r.Lookup(call)
	if err != nil {
		return 0, err
	}
	return spec.Weigh(call.Args)
}

// Route dispatches call with ctx's origin.
//
// The handler runs inside a storage transaction scoped to the target
// pallet: its writes are committed if it succeeds and rolled back if it
// fails. A returned error is a dispatch error and never fatal, except a
// *frame.FatalError produced when a handler panics.
//
// The returned actual weight never exceeds the pre-dispatch estimate.
func (r *Router) Route(ctx *pallet.Context, call types.Call) (post types.PostDispatchInfo, err error) {
	p, spec, err := r.Lookup(call)
	if err != nil {
		return types.PostDispatchInfo{}, err
	}
	if !spec.Origin.Allows(ctx.Origin()) {
		return types.PostDispatchInfo{}, fmt.Errorf("%s.%s requires %s origin, got %s: %w",
			p.Name(), spec.Name, spec.Origin, ctx.Origin(), pallet.ErrBadOrigin)
	}
	pre, err := spec.Weigh(call.Args)
	if err != nil {
		return types.PostDispatchInfo{}, err
	}

	cc := ctx.For(p.Name())
	reported := cc.TrackWeight()
	defer func() {
		if rec := recover(); rec != nil {
			ctx.Logger().WithField("stack", string(debug.Stack())).Errorf("%s.%s panicked: %v", p.Name(), spec.Name, rec)
			err = frame.Fatalf(types.FatalPanic, ctx.Block(), "%s.%s panicked: %v", p.Name(), spec.Name, rec)
		}
	}()
	err = cc.Transaction(func(c *pallet.Context) error {
		return spec.Handle(c, call.Args)
	})

	actual := reported().CalcActualWeight(pre)
	return types.PostDispatchInfo{ActualWeight: &actual}, err
}

// ErrorInfo converts a dispatch error into its recorded form.
func (r *Router) ErrorInfo(call types.Call, err error) types.DispatchErrorInfo {
	var me *pallet.ModuleError
	switch {
	case errors.As(err, &me):
		return types.DispatchErrorInfo{Module: call.Module, Code: me.Code, Name: me.Name}
	case errors.Is(err, pallet.ErrBadOrigin):
		return types.DispatchErrorInfo{Name: pallet.ErrBadOrigin.Error()}
	case errors.Is(err, pallet.ErrUnknownCall):
		return types.DispatchErrorInfo{Name: pallet.ErrUnknownCall.Error()}
	case errors.Is(err, pallet.ErrCallDecode):
		return types.DispatchErrorInfo{Name: pallet.ErrCallDecode.Error()}
	case errors.Is(err, storage.ErrOutsideNamespace):
		return types.DispatchErrorInfo{Module: call.Module, Name: "OutsideNamespace"}
	default:
		return types.DispatchErrorInfo{Module: call.Module, Name: "Other"}
	}
}
