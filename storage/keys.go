package storage

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/blockberries/frame/types"
)

// ErrOutsideNamespace is returned when a scoped store is asked to write
// a key outside its module's prefix.
var ErrOutsideNamespace = errors.New("write outside module namespace")

// ErrReadOnly is returned by writes to a read-only store.
var ErrReadOnly = errors.New("store is read-only")

// storageVersionItem is the reserved item name holding a module's
// on-chain storage layout version.
const storageVersionItem = ":__STORAGE_VERSION__:"

// ModulePrefix returns the 16-byte key prefix of a module's namespace.
func ModulePrefix(module string) []byte {
	p := types.Blake2_128([]byte(module))
	return p[:]
}

// ItemPrefix returns the 32-byte key prefix of a storage item.
func ItemPrefix(module, item string) []byte {
	m := types.Blake2_128([]byte(module))
	i := types.Blake2_128([]byte(item))
	return append(m[:], i[:]...)
}

// Hasher transforms an encoded map key before it is appended to the
// item prefix.
type Hasher uint8

const (
	// Blake2_128Concat prefixes the key with its blake2b-128 hash. Keys
	// spread evenly and remain recoverable by iteration.
	Blake2_128Concat Hasher = iota
	// Identity uses the key as is. Only for keys not chosen by users.
	Identity
)

// Hash applies the hasher to an encoded key.
func (h Hasher) Hash(key []byte) []byte {
	switch h {
	case Identity:
		return bytes.Clone(key)
	default:
		d := types.Blake2_128(key)
		return append(d[:], key...)
	}
}

// Unhash recovers the encoded key from its hashed form.
func (h Hasher) Unhash(hashed []byte) ([]byte, error) {
	switch h {
	case Identity:
		return hashed, nil
	default:
		if len(hashed) < 16 {
			return nil, fmt.Errorf("hashed key too short: %d bytes", len(hashed))
		}
		return hashed[16:], nil
	}
}

// Scoped is a store whose reads go anywhere but whose writes are
// confined to one module's namespace.
type Scoped struct {
	inner  Store
	prefix []byte
	module string
}

// NewScoped confines writes through inner to module's namespace.
func NewScoped(inner Store, module string) *Scoped {
	return &Scoped{inner: inner, prefix: ModulePrefix(module), module: module}
}

// Module returns the owning module's name.
func (s *Scoped) Module() string { return s.module }

func (s *Scoped) Get(key []byte) ([]byte, bool, error) { return s.inner.Get(key) }

func (s *Scoped) Iterate(prefix []byte, fn func(k, v []byte) bool) error {
	return s.inner.Iterate(prefix, fn)
}

func (s *Scoped) check(key []byte) error {
	if !bytes.HasPrefix(key, s.prefix) {
		return fmt.Errorf("%s: key %x: %w", s.module, key, ErrOutsideNamespace)
	}
	return nil
}

func (s *Scoped) Put(key, value []byte) error {
	if err := s.check(key); err != nil {
		return err
	}
	return s.inner.Put(key, value)
}

func (s *Scoped) Delete(key []byte) error {
	if err := s.check(key); err != nil {
		return err
	}
	return s.inner.Delete(key)
}

type readOnly struct{ Reader }

// ReadOnly wraps r in a Store that rejects every write.
func ReadOnly(r Reader) Store { return readOnly{r} }

func (readOnly) Put([]byte, []byte) error { return ErrReadOnly }
func (readOnly) Delete([]byte) error      { return ErrReadOnly }

// VersionKey returns the key of a module's storage version.
func VersionKey(module string) []byte {
	return ItemPrefix(module, storageVersionItem)
}

// GetVersion reads a module's storage version. Missing means 0.
func GetVersion(r Reader, module string) (uint16, error) {
	v, ok, err := r.Get(VersionKey(module))
	if err != nil || !ok {
		return 0, err
	}
	return Uint16.Decode(v)
}

// PutVersion writes a module's storage version.
func PutVersion(s Store, module string, version uint16) error {
	v, _ := Uint16.Encode(version)
	return s.Put(VersionKey(module), v)
}

// KillPrefix deletes every key under prefix.
func KillPrefix(s Store, prefix []byte) (int, error) {
	var keys [][]byte
	err := s.Iterate(prefix, func(k, _ []byte) bool {
		keys = append(keys, bytes.Clone(k))
		return true
	})
	if err != nil {
		return 0, err
	}
	for _, k := range keys {
		if err := s.Delete(k); err != nil {
			return 0, err
		}
	}
	return len(keys), nil
}
