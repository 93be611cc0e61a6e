// Package storage is the typed read/write facade over the chain's
// ordered key-value state.
//
// Pallets never see the backend directly. They read and write through
// a [Store], usually a namespace-checked [Scoped] view over the block's
// [Overlay], and address state through typed items ([Value], [Map],
// [DoubleMap]) whose keys are derived from the module and item names.
package storage

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	leveldbstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Reader is read access to ordered key-value state.
type Reader interface {
	// Get returns the value stored under key. Returns (nil, false, nil)
	// if not found.
	Get(key []byte) ([]byte, bool, error)

	// Iterate calls fn for every key with the given prefix in ascending
	// key order until fn returns false. fn must not retain k or v.
	Iterate(prefix []byte, fn func(k, v []byte) bool) error
}

// Change is a single write or delete.
type Change struct {
	Key    []byte
	Value  []byte
	Delete bool
}

// ChangeSet is everything a sealed block writes. State changes are
// covered by the state root; Meta entries are host bookkeeping kept in
// a separate keyspace and are not.
type ChangeSet struct {
	Changes []Change
	Meta    []Change
}

// Backend is the persistent state behind the runtime.
type Backend interface {
	Reader

	// Snapshot returns a consistent read view of the committed state.
	// Release must be called when done.
	Snapshot() (Snapshot, error)

	// Apply atomically writes a change set.
	Apply(cs ChangeSet) error

	// GetMeta reads a bookkeeping entry.
	GetMeta(key []byte) ([]byte, bool, error)

	Close() error
}

// Snapshot is a read view that stays consistent while the backend is
// written to.
type Snapshot interface {
	Reader
	Release()
}

var (
	statePrefix = []byte("s/")
	metaPrefix  = []byte("m/")
)

// LevelBackend stores state in LevelDB. State and meta entries live
// under separate key prefixes of the same database so a commit writes
// both in one batch.
// Thread-safe: LevelDB handles its own synchronization.
type LevelBackend struct {
	db *leveldb.DB
}

// OpenLevelBackend opens or creates a LevelDB database at the given path.
// If path is empty, uses in-memory storage.
func OpenLevelBackend(path string) (*LevelBackend, error) {
	var (
		db  *leveldb.DB
		err error
	)
	if path == "" {
		db, err = leveldb.Open(leveldbstorage.NewMemStorage(), nil)
	} else {
		db, err = leveldb.OpenFile(path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("open state database at %q: %w", path, err)
	}
	return &LevelBackend{db: db}, nil
}

// NewMemBackend creates an in-memory backend for testing.
func NewMemBackend() *LevelBackend {
	b, err := OpenLevelBackend("")
	if err != nil {
		// The memory storage cannot fail to open.
		panic(err)
	}
	return b
}

func withPrefix(p, key []byte) []byte {
	out := make([]byte, 0, len(p)+len(key))
	return append(append(out, p...), key...)
}

func (b *LevelBackend) Get(key []byte) ([]byte, bool, error) {
	return levelGet(b.db, withPrefix(statePrefix, key))
}

func (b *LevelBackend) GetMeta(key []byte) ([]byte, bool, error) {
	return levelGet(b.db, withPrefix(metaPrefix, key))
}

func (b *LevelBackend) Iterate(prefix []byte, fn func(k, v []byte) bool) error {
	return levelIterate(b.db, prefix, fn)
}

func (b *LevelBackend) Snapshot() (Snapshot, error) {
	snap, err := b.db.GetSnapshot()
	if err != nil {
		return nil, fmt.Errorf("state snapshot: %w", err)
	}
	return &levelSnapshot{snap: snap}, nil
}

func (b *LevelBackend) Apply(cs ChangeSet) error {
	batch := new(leveldb.Batch)
	add := func(p []byte, changes []Change) {
		for _, c := range changes {
			if c.Delete {
				batch.Delete(withPrefix(p, c.Key))
			} else {
				batch.Put(withPrefix(p, c.Key), c.Value)
			}
		}
	}
	add(statePrefix, cs.Changes)
	add(metaPrefix, cs.Meta)
	if err := b.db.Write(batch, nil); err != nil {
		return fmt.Errorf("apply %d changes: %w", batch.Len(), err)
	}
	return nil
}

func (b *LevelBackend) Close() error {
	return b.db.Close()
}

type levelSnapshot struct {
	snap *leveldb.Snapshot
}

func (s *levelSnapshot) Get(key []byte) ([]byte, bool, error) {
	return levelGet(s.snap, withPrefix(statePrefix, key))
}

func (s *levelSnapshot) Iterate(prefix []byte, fn func(k, v []byte) bool) error {
	return levelIterate(s.snap, prefix, fn)
}

func (s *levelSnapshot) Release() { s.snap.Release() }

// levelReader is the subset of *leveldb.DB and *leveldb.Snapshot used here.
type levelReader interface {
	Get(key []byte, ro *opt.ReadOptions) ([]byte, error)
	NewIterator(slice *util.Range, ro *opt.ReadOptions) iterator.Iterator
}

func levelGet(r levelReader, key []byte) ([]byte, bool, error) {
	data, err := r.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %x: %w", key, err)
	}
	return data, true, nil
}

func levelIterate(r levelReader, prefix []byte, fn func(k, v []byte) bool) error {
	iter := r.NewIterator(util.BytesPrefix(withPrefix(statePrefix, prefix)), nil)
	defer iter.Release()
	for iter.Next() {
		if !fn(bytes.TrimPrefix(iter.Key(), statePrefix), iter.Value()) {
			break
		}
	}
	if err := iter.Error(); err != nil {
		return fmt.Errorf("iterate %x: %w", prefix, err)
	}
	return nil
}
