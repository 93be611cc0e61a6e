package storage_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blockberries/frame/storage"
	"github.com/blockberries/frame/types"
)

func seeded(t *testing.T, kv ...string) *storage.LevelBackend {
	t.Helper()
	b := storage.NewMemBackend()
	t.Cleanup(func() { b.Close() })
	var cs storage.ChangeSet
	for i := 0; i+1 < len(kv); i += 2 {
		cs.Changes = append(cs.Changes, storage.Change{Key: []byte(kv[i]), Value: []byte(kv[i+1])})
	}
	require.NoError(t, b.Apply(cs))
	return b
}

func collect(t *testing.T, r storage.Reader, prefix string) []string {
	t.Helper()
	var out []string
	require.NoError(t, r.Iterate([]byte(prefix), func(k, v []byte) bool {
		out = append(out, string(k)+"="+string(v))
		return true
	}))
	return out
}

func TestOverlay_NestedTransactions(t *testing.T) {
	o := storage.NewOverlay(seeded(t, "a", "1"))

	require.NoError(t, o.Begin())
	require.NoError(t, o.Put([]byte("b"), []byte("2")))
	require.NoError(t, o.Begin())
	require.NoError(t, o.Put([]byte("c"), []byte("3")))
	require.NoError(t, o.Delete([]byte("a")))
	require.NoError(t, o.Rollback())

	_, ok, err := o.Get([]byte("c"))
	require.NoError(t, err)
	require.False(t, ok, "rolled back write visible")
	v, ok, err := o.Get([]byte("a"))
	require.NoError(t, err)
	require.True(t, ok, "rolled back delete applied")
	require.Equal(t, "1", string(v))

	require.NoError(t, o.Commit())
	require.Equal(t, 0, o.Depth())
	v, ok, err = o.Get([]byte("b"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "2", string(v))

	require.ErrorIs(t, o.Commit(), storage.ErrNoTransaction)
	require.ErrorIs(t, o.Rollback(), storage.ErrNoTransaction)
}

func TestOverlay_TransactionDepthBounded(t *testing.T) {
	o := storage.NewOverlay(storage.NewMemBackend())
	for i := 0; i < storage.MaxTransactionDepth; i++ {
		require.NoError(t, o.Begin())
	}
	require.ErrorIs(t, o.Begin(), storage.ErrTransactionDepth)
}

func TestOverlay_IterateMergesInOrder(t *testing.T) {
	o := storage.NewOverlay(seeded(t, "k1", "a", "k3", "c", "k5", "e", "z", "z"))
	require.NoError(t, o.Put([]byte("k2"), []byte("b")))
	require.NoError(t, o.Put([]byte("k3"), []byte("C")))
	require.NoError(t, o.Delete([]byte("k5")))
	require.NoError(t, o.Put([]byte("k6"), []byte("f")))

	require.Equal(t, []string{"k1=a", "k2=b", "k3=C", "k6=f"}, collect(t, o, "k"))

	var first []string
	require.NoError(t, o.Iterate([]byte("k"), func(k, _ []byte) bool {
		first = append(first, string(k))
		return len(first) < 2
	}))
	require.Equal(t, []string{"k1", "k2"}, first)
}

func TestOverlay_Changes(t *testing.T) {
	o := storage.NewOverlay(seeded(t, "a", "1"))
	require.NoError(t, o.Put([]byte("c"), []byte("3")))
	require.NoError(t, o.Delete([]byte("a")))
	require.NoError(t, o.Put([]byte("b"), []byte("2")))

	require.NoError(t, o.Begin())
	_, err := o.Changes()
	require.Error(t, err, "changes with an open transaction")
	require.NoError(t, o.Rollback())

	cs, err := o.Changes()
	require.NoError(t, err)
	require.Len(t, cs, 3)
	require.Equal(t, "a", string(cs[0].Key))
	require.True(t, cs[0].Delete)
	require.Equal(t, "b", string(cs[1].Key))
	require.Equal(t, "c", string(cs[2].Key))
}

func TestLevelBackend_SnapshotIsolation(t *testing.T) {
	b := seeded(t, "a", "1")
	snap, err := b.Snapshot()
	require.NoError(t, err)
	defer snap.Release()

	require.NoError(t, b.Apply(storage.ChangeSet{
		Changes: []storage.Change{{Key: []byte("a"), Delete: true}, {Key: []byte("b"), Value: []byte("2")}},
		Meta:    []storage.Change{{Key: []byte("head"), Value: []byte("h")}},
	}))

	require.Equal(t, []string{"a=1"}, collect(t, snap, ""))
	require.Equal(t, []string{"b=2"}, collect(t, b, ""))

	meta, ok, err := b.GetMeta([]byte("head"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "h", string(meta))
	_, ok, err = b.Get([]byte("head"))
	require.NoError(t, err)
	require.False(t, ok, "meta leaked into state keyspace")
}

func TestScoped_RejectsForeignWrites(t *testing.T) {
	o := storage.NewOverlay(storage.NewMemBackend())
	s := storage.NewScoped(o, "Balances")

	own := storage.NewValue("Balances", "TotalIssuance", storage.Uint64)
	require.NoError(t, own.Put(s, 10))

	foreign := storage.NewValue("System", "Number", storage.Uint64)
	require.ErrorIs(t, foreign.Put(s, 1), storage.ErrOutsideNamespace)
	require.ErrorIs(t, foreign.Kill(s), storage.ErrOutsideNamespace)

	// Reads are unrestricted.
	require.NoError(t, foreign.Put(o, 7))
	n, err := foreign.GetOrZero(s)
	require.NoError(t, err)
	require.EqualValues(t, 7, n)
}

func TestReadOnly(t *testing.T) {
	ro := storage.ReadOnly(seeded(t, "a", "1"))
	require.ErrorIs(t, ro.Put([]byte("a"), nil), storage.ErrReadOnly)
	require.ErrorIs(t, ro.Delete([]byte("a")), storage.ErrReadOnly)
}

func TestItemKeys_NamespaceIsolation(t *testing.T) {
	modules := []string{"System", "Balances", "Staking", "Session"}
	items := []string{"Account", "Number", "Events", "Active", "Ledger"}
	seen := map[string]string{}
	for _, m := range modules {
		for _, it := range items {
			key := storage.NewValue(m, it, storage.Bytes).Key()
			require.True(t, bytes.HasPrefix(key, storage.ModulePrefix(m)))
			if prev, dup := seen[string(key)]; dup {
				t.Fatalf("%s.%s collides with %s", m, it, prev)
			}
			seen[string(key)] = m + "." + it
		}
	}
}

func TestMap_IterateRecoversKeys(t *testing.T) {
	o := storage.NewOverlay(storage.NewMemBackend())
	m := storage.NewMap("Balances", "Account", storage.Blake2_128Concat, storage.AccountKey, storage.Uint64)
	want := map[types.AccountID]uint64{{1}: 10, {2}: 20, {3}: 30}
	for k, v := range want {
		require.NoError(t, m.Put(o, k, v))
	}
	require.NoError(t, m.Kill(o, types.AccountID{2}))
	delete(want, types.AccountID{2})

	got := map[types.AccountID]uint64{}
	require.NoError(t, m.Iterate(o, func(k types.AccountID, v uint64) bool {
		got[k] = v
		return true
	}))
	require.Equal(t, want, got)

	require.NoError(t, m.Clear(o))
	ok, err := m.Exists(o, types.AccountID{1})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDoubleMap_PrefixOperations(t *testing.T) {
	o := storage.NewOverlay(storage.NewMemBackend())
	dm := storage.NewDoubleMap("Staking", "Exposure", storage.Identity, storage.Uint32Key,
		storage.Blake2_128Concat, storage.AccountKey, storage.Uint64)
	require.NoError(t, dm.Put(o, 1, types.AccountID{1}, 100))
	require.NoError(t, dm.Put(o, 1, types.AccountID{2}, 200))
	require.NoError(t, dm.Put(o, 2, types.AccountID{1}, 300))

	var sum uint64
	require.NoError(t, dm.IteratePrefix(o, 1, func(_ types.AccountID, v uint64) bool {
		sum += v
		return true
	}))
	require.EqualValues(t, 300, sum)

	require.NoError(t, dm.ClearPrefix(o, 1))
	ok, err := dm.Exists(o, 1, types.AccountID{2})
	require.NoError(t, err)
	require.False(t, ok)
	v, ok, err := dm.Get(o, 2, types.AccountID{1})
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 300, v)
}

func TestStorageVersion(t *testing.T) {
	o := storage.NewOverlay(storage.NewMemBackend())
	v, err := storage.GetVersion(o, "Balances")
	require.NoError(t, err)
	require.Zero(t, v)
	require.NoError(t, storage.PutVersion(o, "Balances", 3))
	v, err = storage.GetVersion(o, "Balances")
	require.NoError(t, err)
	require.EqualValues(t, 3, v)
}

func TestStateRoot(t *testing.T) {
	empty, err := storage.StateRoot(storage.NewMemBackend())
	require.NoError(t, err)
	require.True(t, empty.IsZero())

	a := storage.NewOverlay(storage.NewMemBackend())
	b := storage.NewOverlay(storage.NewMemBackend())
	for _, k := range []string{"x", "y", "z"} {
		require.NoError(t, a.Put([]byte(k), []byte(k)))
	}
	for _, k := range []string{"z", "x", "y"} {
		require.NoError(t, b.Put([]byte(k), []byte(k)))
	}
	ra, err := a.Root()
	require.NoError(t, err)
	rb, err := b.Root()
	require.NoError(t, err)
	require.Equal(t, ra, rb, "root depends on insertion order")

	require.NoError(t, b.Put([]byte("y"), []byte("Y")))
	rb, err = b.Root()
	require.NoError(t, err)
	require.NotEqual(t, ra, rb)

	// Committing the overlay must not change the root.
	backend := storage.NewMemBackend()
	o := storage.NewOverlay(backend)
	require.NoError(t, o.Put([]byte("k"), []byte("v")))
	before, err := o.Root()
	require.NoError(t, err)
	cs, err := o.Changes()
	require.NoError(t, err)
	require.NoError(t, backend.Apply(storage.ChangeSet{Changes: cs}))
	after, err := storage.StateRoot(backend)
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestOrderedRoot_PositionSensitive(t *testing.T) {
	a := storage.OrderedRoot([][]byte{[]byte("1"), []byte("2")})
	b := storage.OrderedRoot([][]byte{[]byte("2"), []byte("1")})
	require.NotEqual(t, a, b)
	require.True(t, storage.OrderedRoot(nil).IsZero())
}
