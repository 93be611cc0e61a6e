package storage

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/blockberries/frame/types"
)

var (
	// ErrNoTransaction is returned by Commit or Rollback without a
	// matching Begin.
	ErrNoTransaction = errors.New("no open storage transaction")
	// ErrTransactionDepth is returned when transactions nest too deeply.
	ErrTransactionDepth = errors.New("storage transaction depth exceeded")
)

// MaxTransactionDepth bounds nested Begin calls.
const MaxTransactionDepth = 64

// Store is read-write access to ordered key-value state.
type Store interface {
	Reader
	Put(key, value []byte) error
	Delete(key []byte) error
}

// TxStore is a Store with nested all-or-nothing transactions.
type TxStore interface {
	Store
	Begin() error
	Commit() error
	Rollback() error
}

type entry struct {
	value   []byte
	deleted bool
}

// Overlay buffers the writes of one block on top of a read-only base.
//
// Writes land in the innermost open transaction. Commit folds that
// transaction into its parent, Rollback discards it. The outermost
// layer holds the block's pending changes and is never rolled back.
// Not safe for concurrent use.
type Overlay struct {
	base   Reader
	layers []map[string]entry
}

// NewOverlay returns an empty overlay over base.
func NewOverlay(base Reader) *Overlay {
	return &Overlay{base: base, layers: []map[string]entry{{}}}
}

func (o *Overlay) top() map[string]entry { return o.layers[len(o.layers)-1] }

func (o *Overlay) lookup(key []byte) (entry, bool) {
	k := string(key)
	for i := len(o.layers) - 1; i >= 0; i-- {
		if e, ok := o.layers[i][k]; ok {
			return e, true
		}
	}
	return entry{}, false
}

func (o *Overlay) Get(key []byte) ([]byte, bool, error) {
	if e, ok := o.lookup(key); ok {
		if e.deleted {
			return nil, false, nil
		}
		return e.value, true, nil
	}
	return o.base.Get(key)
}

func (o *Overlay) Put(key, value []byte) error {
	o.top()[string(key)] = entry{value: bytes.Clone(value)}
	return nil
}

func (o *Overlay) Delete(key []byte) error {
	o.top()[string(key)] = entry{deleted: true}
	return nil
}

// pending flattens all layers into the effective overlay view.
func (o *Overlay) pending(prefix []byte) map[string]entry {
	out := make(map[string]entry)
	for _, layer := range o.layers {
		for k, e := range layer {
			if bytes.HasPrefix([]byte(k), prefix) {
				out[k] = e
			}
		}
	}
	return out
}

func sortedKeys(m map[string]entry) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Iterate merges the base and the overlay in ascending key order.
func (o *Overlay) Iterate(prefix []byte, fn func(k, v []byte) bool) error {
	over := o.pending(prefix)
	keys := sortedKeys(over)

	stopped := false
	emit := func(k, v []byte) bool {
		if !fn(k, v) {
			stopped = true
		}
		return !stopped
	}
	// drain emits overlay keys strictly below limit (all when limit is nil).
	drain := func(limit []byte) bool {
		for len(keys) > 0 && (limit == nil || keys[0] < string(limit)) {
			k := keys[0]
			keys = keys[1:]
			if e := over[k]; !e.deleted && !emit([]byte(k), e.value) {
				return false
			}
		}
		return true
	}

	err := o.base.Iterate(prefix, func(k, v []byte) bool {
		if !drain(k) {
			return false
		}
		if len(keys) > 0 && keys[0] == string(k) {
			e := over[keys[0]]
			keys = keys[1:]
			if e.deleted {
				return true
			}
			return emit(k, e.value)
		}
		return emit(k, v)
	})
	if err != nil {
		return err
	}
	if !stopped {
		drain(nil)
	}
	return nil
}

// Begin opens a nested transaction.
func (o *Overlay) Begin() error {
	if o.Depth() >= MaxTransactionDepth {
		return ErrTransactionDepth
	}
	o.layers = append(o.layers, map[string]entry{})
	return nil
}

// Commit folds the innermost transaction into its parent.
func (o *Overlay) Commit() error {
	if len(o.layers) < 2 {
		return ErrNoTransaction
	}
	top := o.top()
	o.layers = o.layers[:len(o.layers)-1]
	parent := o.top()
	for k, e := range top {
		parent[k] = e
	}
	return nil
}

// Rollback discards the innermost transaction.
func (o *Overlay) Rollback() error {
	if len(o.layers) < 2 {
		return ErrNoTransaction
	}
	o.layers = o.layers[:len(o.layers)-1]
	return nil
}

// Depth returns the number of open nested transactions.
func (o *Overlay) Depth() int { return len(o.layers) - 1 }

// Changes returns the overlay's writes sorted by key. It fails if a
// transaction is still open.
func (o *Overlay) Changes() ([]Change, error) {
	if o.Depth() != 0 {
		return nil, fmt.Errorf("changes requested with %d open transactions", o.Depth())
	}
	over := o.layers[0]
	out := make([]Change, 0, len(over))
	for _, k := range sortedKeys(over) {
		e := over[k]
		out = append(out, Change{Key: []byte(k), Value: e.value, Delete: e.deleted})
	}
	return out, nil
}

// Root computes the state root over base plus overlay.
func (o *Overlay) Root() (types.Hash, error) {
	return StateRoot(o)
}
