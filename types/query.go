package types

// StateQuery is a request to read committed runtime state.
//
// Well-known paths:
//
//	/store          raw key lookup, Data is the key
//	/system/nonce   Data is an AccountID
//	/system/events  events of the last committed block
//	/metadata       pallet and call listing
//	/version        the runtime version descriptor
//
// Pallets may answer further paths of the form /<pallet>/<item>.
type StateQuery struct {
	Path QueryPath `cramberry:"1"`
	Data []byte    `cramberry:"2"`
}

// Query result codes.
const (
	QueryOK uint32 = iota
	QueryNotFound
	QueryUnknownPath
	QueryBadRequest
)

// StateQueryResult is the runtime's response to a state query.
type StateQueryResult struct {
	Code   uint32 `cramberry:"1"`
	Key    []byte `cramberry:"2"`
	Value  []byte `cramberry:"3"`
	Number uint64 `cramberry:"4"`
	Info   string `cramberry:"5"`
}

// OK returns true if the query succeeded.
func (r StateQueryResult) OK() bool { return r.Code == QueryOK }
