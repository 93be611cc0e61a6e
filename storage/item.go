package storage

import (
	"bytes"
	"fmt"
)

// ItemKind is the shape of a storage item.
type ItemKind uint8

const (
	KindValue ItemKind = iota
	KindMap
	KindDoubleMap
)

func (k ItemKind) String() string {
	switch k {
	case KindValue:
		return "Value"
	case KindMap:
		return "Map"
	case KindDoubleMap:
		return "DoubleMap"
	default:
		return "Unknown"
	}
}

// ItemMeta describes a declared storage item.
type ItemMeta struct {
	Module string
	Name   string
	Kind   ItemKind
	Prefix []byte
}

// Value is a single typed storage slot.
type Value[T any] struct {
	meta  ItemMeta
	codec Codec[T]
}

// NewValue declares a single value item.
func NewValue[T any](module, name string, codec Codec[T]) Value[T] {
	return Value[T]{
		meta:  ItemMeta{Module: module, Name: name, Kind: KindValue, Prefix: ItemPrefix(module, name)},
		codec: codec,
	}
}

func (v Value[T]) Meta() ItemMeta { return v.meta }

// Key returns the resolved storage key.
func (v Value[T]) Key() []byte { return v.meta.Prefix }

// Get returns the stored value, or the zero value and false if unset.
func (v Value[T]) Get(r Reader) (T, bool, error) {
	return get(r, v.meta, v.meta.Prefix, v.codec)
}

// GetOrZero is Get without the presence flag.
func (v Value[T]) GetOrZero(r Reader) (T, error) {
	out, _, err := v.Get(r)
	return out, err
}

func (v Value[T]) Put(s Store, val T) error {
	return put(s, v.meta, v.meta.Prefix, val, v.codec)
}

func (v Value[T]) Exists(r Reader) (bool, error) {
	_, ok, err := r.Get(v.meta.Prefix)
	return ok, err
}

func (v Value[T]) Kill(s Store) error { return s.Delete(v.meta.Prefix) }

// Map is a typed key-value storage item.
type Map[K, V any] struct {
	meta   ItemMeta
	hasher Hasher
	key    Codec[K]
	value  Codec[V]
}

// NewMap declares a map item.
func NewMap[K, V any](module, name string, hasher Hasher, key Codec[K], value Codec[V]) Map[K, V] {
	return Map[K, V]{
		meta:   ItemMeta{Module: module, Name: name, Kind: KindMap, Prefix: ItemPrefix(module, name)},
		hasher: hasher,
		key:    key,
		value:  value,
	}
}

func (m Map[K, V]) Meta() ItemMeta { return m.meta }

// Key returns the resolved storage key of k.
func (m Map[K, V]) Key(k K) ([]byte, error) {
	kb, err := m.key.Encode(k)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: encode key: %w", m.meta.Module, m.meta.Name, err)
	}
	return append(bytes.Clone(m.meta.Prefix), m.hasher.Hash(kb)...), nil
}

func (m Map[K, V]) Get(r Reader, k K) (V, bool, error) {
	key, err := m.Key(k)
	if err != nil {
		var zero V
		return zero, false, err
	}
	return get(r, m.meta, key, m.value)
}

func (m Map[K, V]) GetOrZero(r Reader, k K) (V, error) {
	out, _, err := m.Get(r, k)
	return out, err
}

func (m Map[K, V]) Put(s Store, k K, v V) error {
	key, err := m.Key(k)
	if err != nil {
		return err
	}
	return put(s, m.meta, key, v, m.value)
}

func (m Map[K, V]) Exists(r Reader, k K) (bool, error) {
	key, err := m.Key(k)
	if err != nil {
		return false, err
	}
	_, ok, err := r.Get(key)
	return ok, err
}

func (m Map[K, V]) Kill(s Store, k K) error {
	key, err := m.Key(k)
	if err != nil {
		return err
	}
	return s.Delete(key)
}

// Clear deletes every entry of the map.
func (m Map[K, V]) Clear(s Store) error {
	_, err := KillPrefix(s, m.meta.Prefix)
	return err
}

// Iterate visits entries in ascending resolved-key order, which for
// hashed keys is not key order.
func (m Map[K, V]) Iterate(r Reader, fn func(K, V) bool) error {
	return iterate(r, m.meta, m.meta.Prefix, m.hasher, m.key, m.value, fn)
}

// DoubleMap is a typed storage item keyed by two keys. Entries sharing
// the first key can be iterated or cleared together.
type DoubleMap[K1, K2, V any] struct {
	meta   ItemMeta
	h1, h2 Hasher
	k1     Codec[K1]
	k2     Codec[K2]
	value  Codec[V]
}

// NewDoubleMap declares a double map item.
func NewDoubleMap[K1, K2, V any](module, name string, h1 Hasher, k1 Codec[K1], h2 Hasher, k2 Codec[K2], value Codec[V]) DoubleMap[K1, K2, V] {
	return DoubleMap[K1, K2, V]{
		meta:  ItemMeta{Module: module, Name: name, Kind: KindDoubleMap, Prefix: ItemPrefix(module, name)},
		h1:    h1,
		h2:    h2,
		k1:    k1,
		k2:    k2,
		value: value,
	}
}

func (m DoubleMap[K1, K2, V]) Meta() ItemMeta { return m.meta }

func (m DoubleMap[K1, K2, V]) firstPrefix(k1 K1) ([]byte, error) {
	kb, err := m.k1.Encode(k1)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: encode first key: %w", m.meta.Module, m.meta.Name, err)
	}
	return append(bytes.Clone(m.meta.Prefix), m.h1.Hash(kb)...), nil
}

// Key returns the resolved storage key of (k1, k2).
func (m DoubleMap[K1, K2, V]) Key(k1 K1, k2 K2) ([]byte, error) {
	p, err := m.firstPrefix(k1)
	if err != nil {
		return nil, err
	}
	kb, err := m.k2.Encode(k2)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: encode second key: %w", m.meta.Module, m.meta.Name, err)
	}
	return append(p, m.h2.Hash(kb)...), nil
}

func (m DoubleMap[K1, K2, V]) Get(r Reader, k1 K1, k2 K2) (V, bool, error) {
	key, err := m.Key(k1, k2)
	if err != nil {
		var zero V
		return zero, false, err
	}
	return get(r, m.meta, key, m.value)
}

func (m DoubleMap[K1, K2, V]) Put(s Store, k1 K1, k2 K2, v V) error {
	key, err := m.Key(k1, k2)
	if err != nil {
		return err
	}
	return put(s, m.meta, key, v, m.value)
}

func (m DoubleMap[K1, K2, V]) Exists(r Reader, k1 K1, k2 K2) (bool, error) {
	key, err := m.Key(k1, k2)
	if err != nil {
		return false, err
	}
	_, ok, err := r.Get(key)
	return ok, err
}

func (m DoubleMap[K1, K2, V]) Kill(s Store, k1 K1, k2 K2) error {
	key, err := m.Key(k1, k2)
	if err != nil {
		return err
	}
	return s.Delete(key)
}

// ClearPrefix deletes every entry whose first key is k1.
func (m DoubleMap[K1, K2, V]) ClearPrefix(s Store, k1 K1) error {
	p, err := m.firstPrefix(k1)
	if err != nil {
		return err
	}
	_, err = KillPrefix(s, p)
	return err
}

// IteratePrefix visits every entry whose first key is k1.
func (m DoubleMap[K1, K2, V]) IteratePrefix(r Reader, k1 K1, fn func(K2, V) bool) error {
	p, err := m.firstPrefix(k1)
	if err != nil {
		return err
	}
	return iterate(r, m.meta, p, m.h2, m.k2, m.value, fn)
}

func get[T any](r Reader, meta ItemMeta, key []byte, c Codec[T]) (T, bool, error) {
	var zero T
	raw, ok, err := r.Get(key)
	if err != nil {
		return zero, false, fmt.Errorf("%s.%s: %w", meta.Module, meta.Name, err)
	}
	if !ok {
		return zero, false, nil
	}
	v, err := c.Decode(raw)
	if err != nil {
		return zero, false, fmt.Errorf("%s.%s: decode: %w", meta.Module, meta.Name, err)
	}
	return v, true, nil
}

func put[T any](s Store, meta ItemMeta, key []byte, v T, c Codec[T]) error {
	raw, err := c.Encode(v)
	if err != nil {
		return fmt.Errorf("%s.%s: encode: %w", meta.Module, meta.Name, err)
	}
	return s.Put(key, raw)
}

func iterate[K, V any](r Reader, meta ItemMeta, prefix []byte, h Hasher, kc Codec[K], vc Codec[V], fn func(K, V) bool) error {
	var derr error
	err := r.Iterate(prefix, func(k, v []byte) bool {
		kb, err := h.Unhash(bytes.Clone(k[len(prefix):]))
		if err != nil {
			derr = err
			return false
		}
		key, err := kc.Decode(kb)
		if err != nil {
			derr = fmt.Errorf("decode key: %w", err)
			return false
		}
		val, err := vc.Decode(bytes.Clone(v))
		if err != nil {
			derr = fmt.Errorf("decode value: %w", err)
			return false
		}
		return fn(key, val)
	})
	if err == nil {
		err = derr
	}
	if err != nil {
		return fmt.Errorf("%s.%s: iterate: %w", meta.Module, meta.Name, err)
	}
	return nil
}
