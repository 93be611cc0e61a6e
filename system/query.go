package system

import (
	"github.com/blockberries/frame/storage"
	"github.com/blockberries/frame/types"
)

func (*Pallet) Query(r storage.Reader, item string, data []byte) (types.StateQueryResult, error) {
	switch item {
	case "nonce":
		who, err := storage.AccountKey.Decode(data)
		if err != nil {
			return types.StateQueryResult{Code: types.QueryBadRequest, Info: err.Error()}, nil
		}
		n, err := Nonce(r, who)
		if err != nil {
			return types.StateQueryResult{}, err
		}
		key, _ := AccountNonce.Key(who)
		v, _ := storage.Uint64.Encode(n)
		return types.StateQueryResult{Key: key, Value: v}, nil
	case "events":
		evs, err := ReadEvents(r)
		if err != nil {
			return types.StateQueryResult{}, err
		}
		v, err := types.Encode(&eventList{Records: evs})
		if err != nil {
			return types.StateQueryResult{}, err
		}
		return types.StateQueryResult{Value: v}, nil
	case "number":
		n, err := Number.GetOrZero(r)
		if err != nil {
			return types.StateQueryResult{}, err
		}
		v, _ := storage.Uint64.Encode(n)
		return types.StateQueryResult{Key: Number.Key(), Value: v}, nil
	case "code":
		code, ok, err := r.Get(CodeKey)
		if err != nil {
			return types.StateQueryResult{}, err
		}
		if !ok {
			return types.StateQueryResult{Code: types.QueryNotFound, Key: CodeKey}, nil
		}
		return types.StateQueryResult{Key: CodeKey, Value: code}, nil
	default:
		return types.StateQueryResult{Code: types.QueryUnknownPath, Info: "unknown system item " + item}, nil
	}
}

// eventList is the encoded form of /system/events results.
type eventList struct {
	Records []types.EventRecord `cramberry:"1"`
}

// DecodeEvents decodes the value of a /system/events query.
func DecodeEvents(data []byte) ([]types.EventRecord, error) {
	var l eventList
	if err := types.Decode(data, &l); err != nil {
		return nil, err
	}
	return l.Records, nil
}
