package executive

import (
	"context"
	"strings"

	"github.com/blockberries/frame/pallet"
	"github.com/blockberries/frame/storage"
	"github.com/blockberries/frame/types"
)

// Query answers a state query from committed state. See
// types.StateQuery for the well-known paths; /<pallet>/<item> paths are
// forwarded to the pallet, matched case-insensitively by name.
func (e *Executive) Query(ctx context.Context, req types.StateQuery) (types.StateQueryResult, error) {
	snap, head, err := e.snapshot()
	if err != nil {
		return types.StateQueryResult{}, err
	}
	defer snap.Release()

	res, err := e.query(snap, req)
	if err != nil {
		return types.StateQueryResult{}, err
	}
	res.Number = head.Number
	return res, nil
}

func (e *Executive) query(r storage.Reader, req types.StateQuery) (types.StateQueryResult, error) {
	switch req.Path {
	case "/store":
		v, ok, err := r.Get(req.Data)
		if err != nil {
			return types.StateQueryResult{}, err
		}
		if !ok {
			return types.StateQueryResult{Code: types.QueryNotFound, Key: req.Data}, nil
		}
		return types.StateQueryResult{Key: req.Data, Value: v}, nil
	case "/version":
		return encoded(&e.version)
	case "/metadata":
		return encoded(&types.Metadata{Version: e.version, Pallets: e.router.Metadata()})
	}

	name, item, ok := strings.Cut(strings.TrimPrefix(string(req.Path), "/"), "/")
	if !ok || item == "" {
		return unknownPath(req.Path), nil
	}
	for _, p := range e.router.Pallets() {
		if !strings.EqualFold(p.Name(), name) {
			continue
		}
		q, ok := p.(pallet.Querier)
		if !ok {
			return unknownPath(req.Path), nil
		}
		return q.Query(r, item, req.Data)
	}
	return unknownPath(req.Path), nil
}

func encoded(v any) (types.StateQueryResult, error) {
	data, err := types.Encode(v)
	if err != nil {
		return types.StateQueryResult{}, err
	}
	return types.StateQueryResult{Value: data}, nil
}

func unknownPath(p types.QueryPath) types.StateQueryResult {
	return types.StateQueryResult{Code: types.QueryUnknownPath, Info: "unknown path " + string(p)}
}

// CurrentAuthorities returns the active authority set.
func (e *Executive) CurrentAuthorities(ctx context.Context) (types.AuthoritySet, error) {
	return e.authorities(pallet.AuthoritySource.CurrentAuthorities)
}

// NextAuthorities returns the set that becomes active at the next
// session boundary.
func (e *Executive) NextAuthorities(ctx context.Context) (types.AuthoritySet, error) {
	return e.authorities(pallet.AuthoritySource.NextAuthorities)
}

func (e *Executive) authorities(get func(pallet.AuthoritySource, storage.Reader) (types.AuthoritySet, error)) (types.AuthoritySet, error) {
	if e.auth == nil {
		return types.AuthoritySet{}, ErrNoAuthorities
	}
	snap, _, err := e.snapshot()
	if err != nil {
		return types.AuthoritySet{}, err
	}
	defer snap.Release()
	return get(e.auth, snap)
}

// ReportOffence encodes an unsigned extrinsic reporting the offence.
// The host submits it to its pool like any other transaction.
func (e *Executive) ReportOffence(ctx context.Context, report types.OffenceReport) ([]byte, error) {
	if e.auth == nil {
		return nil, ErrNoAuthorities
	}
	call, err := e.auth.OffenceCall(report)
	if err != nil {
		return nil, err
	}
	return types.EncodeExtrinsic(types.NewUnsigned(call))
}
