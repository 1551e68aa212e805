package btree_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dbcore/btree"
	"dbcore/internal/buffer"
	"dbcore/internal/fixtures"
	"dbcore/internal/page"
)

// fakeDisk is an in-memory buffer.DiskManager, grounded on the same
// substitution pattern the buffer package's own tests use.
type fakeDisk struct {
	pages  map[page.PageID][page.Size]byte
	nextID page.PageID
}

func newFakeDisk() *fakeDisk {
	return &fakeDisk{
		pages: make(map[page.PageID][page.Size]byte),
		// Mirrors the real disk.Manager's bootstrap: page.HeaderID is
		// reserved for the catalog and never handed out by AllocatePage.
		nextID: page.HeaderID + 1,
	}
}

func (d *fakeDisk) ReadPage(id page.PageID, buf []byte) error {
	data := d.pages[id]
	copy(buf, data[:])
	return nil
}

func (d *fakeDisk) WritePage(id page.PageID, buf []byte) error {
	var arr [page.Size]byte
	copy(arr[:], buf)
	d.pages[id] = arr
	return nil
}

func (d *fakeDisk) AllocatePage() (page.PageID, error) {
	id := d.nextID
	d.nextID++
	return id, nil
}

func (d *fakeDisk) DeallocatePage(id page.PageID) error { return nil }

func newTestTree(t *testing.T, leafMax, internalMax int) *btree.Tree[int64] {
	t.Helper()
	pool := buffer.New(newFakeDisk(), 64)
	cat, err := btree.OpenCatalog(pool, true)
	require.NoError(t, err)
	tr, err := btree.Open(pool, cat, "t", btree.Int64Codec(), leafMax, internalMax)
	require.NoError(t, err)
	return tr
}

func TestOpen_RejectsUndersizedFanout(t *testing.T) {
	pool := buffer.New(newFakeDisk(), 4)
	cat, err := btree.OpenCatalog(pool, true)
	require.NoError(t, err)

	_, err = btree.Open(pool, cat, "t", btree.Int64Codec(), 2, 4)
	assert.Error(t, err)

	_, err = btree.Open(pool, cat, "t", btree.Int64Codec(), 4, 2)
	assert.Error(t, err)
}

func TestTree_EmptyGetMiss(t *testing.T) {
	tr := newTestTree(t, 4, 4)
	assert.True(t, tr.IsEmpty())

	_, found, err := tr.Get(1)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestTree_InsertAndGet(t *testing.T) {
	tr := newTestTree(t, 4, 4)

	ok, err := tr.Insert(1, fixtures.ValueFor(1))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, tr.IsEmpty())

	v, found, err := tr.Get(1)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, fixtures.ValueFor(1), v)
}

func TestTree_InsertDuplicateReturnsFalse(t *testing.T) {
	tr := newTestTree(t, 4, 4)

	ok, err := tr.Insert(5, fixtures.ValueFor(5))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = tr.Insert(5, fixtures.ValueFor(99))
	require.NoError(t, err)
	assert.False(t, ok, "duplicate key must be rejected, not overwritten")

	v, found, err := tr.Get(5)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, fixtures.ValueFor(5), v, "the original value must survive a rejected duplicate insert")
}

func TestTree_LeafSplit(t *testing.T) {
	// leafMax=4: the 4th ascending insert overflows the leaf and must
	// split into two leaves joined under a fresh internal root.
	tr := newTestTree(t, 4, 4)
	for _, k := range []int64{1, 2, 3, 4} {
		ok, err := tr.Insert(k, fixtures.ValueFor(k))
		require.NoError(t, err)
		require.True(t, ok)
	}
	for _, k := range []int64{1, 2, 3, 4} {
		v, found, err := tr.Get(k)
		require.NoError(t, err)
		require.True(t, found, "key %d", k)
		assert.Equal(t, fixtures.ValueFor(k), v)
	}
}

func TestTree_InternalSplitCascade(t *testing.T) {
	// Small fanout forces several leaf splits and, eventually, a split
	// of the internal root itself.
	tr := newTestTree(t, 4, 4)
	const n = 100
	for k := int64(0); k < n; k++ {
		ok, err := tr.Insert(k, fixtures.ValueFor(k))
		require.NoError(t, err)
		require.True(t, ok)
	}
	for k := int64(0); k < n; k++ {
		v, found, err := tr.Get(k)
		require.NoError(t, err, "key %d", k)
		require.True(t, found, "key %d", k)
		assert.Equal(t, fixtures.ValueFor(k), v)
	}
	_, found, err := tr.Get(n)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestTree_InsertDescendingOrder(t *testing.T) {
	tr := newTestTree(t, 4, 4)
	const n = 80
	for k := int64(n - 1); k >= 0; k-- {
		ok, err := tr.Insert(k, fixtures.ValueFor(k))
		require.NoError(t, err)
		require.True(t, ok)
	}
	for k := int64(0); k < n; k++ {
		v, found, err := tr.Get(k)
		require.NoError(t, err)
		require.True(t, found, "key %d", k)
		assert.Equal(t, fixtures.ValueFor(k), v)
	}
}

func TestTree_DeleteFromLeafNoUnderflow(t *testing.T) {
	tr := newTestTree(t, 8, 8)
	for _, k := range []int64{1, 2, 3} {
		_, err := tr.Insert(k, fixtures.ValueFor(k))
		require.NoError(t, err)
	}

	ok, err := tr.Delete(2)
	require.NoError(t, err)
	assert.True(t, ok)

	_, found, err := tr.Get(2)
	require.NoError(t, err)
	assert.False(t, found)

	v, found, err := tr.Get(1)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, fixtures.ValueFor(1), v)
}

func TestTree_DeleteMissingKey(t *testing.T) {
	tr := newTestTree(t, 4, 4)
	_, err := tr.Insert(1, fixtures.ValueFor(1))
	require.NoError(t, err)

	ok, err := tr.Delete(999)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTree_DeleteTriggersMergeAndRedistribute(t *testing.T) {
	// leafMax=4 (min occupancy 2), internalMax=4: insert enough keys to
	// split several times, then delete almost all of them, forcing
	// leaf merges and internal-node rebalancing to cascade up to, and
	// including, a root collapse.
	tr := newTestTree(t, 4, 4)
	const n = 60
	for k := int64(0); k < n; k++ {
		ok, err := tr.Insert(k, fixtures.ValueFor(k))
		require.NoError(t, err)
		require.True(t, ok)
	}

	for k := int64(0); k < n-3; k++ {
		ok, err := tr.Delete(k)
		require.NoError(t, err, "deleting key %d", k)
		require.True(t, ok, "deleting key %d", k)
	}

	for k := int64(0); k < n-3; k++ {
		_, found, err := tr.Get(k)
		require.NoError(t, err)
		assert.False(t, found, "key %d should have been deleted", k)
	}
	for k := int64(n - 3); k < n; k++ {
		v, found, err := tr.Get(k)
		require.NoError(t, err)
		require.True(t, found, "surviving key %d", k)
		assert.Equal(t, fixtures.ValueFor(k), v)
	}
}

func TestTree_DeleteAllKeysEmptiesTree(t *testing.T) {
	tr := newTestTree(t, 4, 4)
	const n = 40
	for k := int64(0); k < n; k++ {
		_, err := tr.Insert(k, fixtures.ValueFor(k))
		require.NoError(t, err)
	}
	for k := int64(0); k < n; k++ {
		ok, err := tr.Delete(k)
		require.NoError(t, err)
		require.True(t, ok)
	}

	assert.True(t, tr.IsEmpty(), "deleting every key must collapse the root to INVALID")

	it, err := tr.Begin()
	require.NoError(t, err)
	defer it.Close()
	assert.False(t, it.Valid())
}

func TestTree_IteratorYieldsSortedOrderAfterSplits(t *testing.T) {
	tr := newTestTree(t, 4, 4)
	const n = 50
	// Insert out of order so leaf layout doesn't trivially match
	// insertion order.
	for i := 0; i < n; i++ {
		k := int64((i * 37) % n)
		ok, err := tr.Insert(k, fixtures.ValueFor(k))
		require.NoError(t, err)
		require.True(t, ok)
	}

	it, err := tr.Begin()
	require.NoError(t, err)
	defer it.Close()

	var got []int64
	for it.Valid() {
		got = append(got, it.Key())
		it.Next()
	}
	require.Len(t, got, n)
	for i, k := range got {
		assert.Equal(t, int64(i), k)
	}
}

func TestTree_BeginAtPositionsAtOrAfterKey(t *testing.T) {
	tr := newTestTree(t, 4, 4)
	for _, k := range []int64{10, 20, 30, 40, 50} {
		_, err := tr.Insert(k, fixtures.ValueFor(k))
		require.NoError(t, err)
	}

	it, err := tr.BeginAt(25)
	require.NoError(t, err)
	defer it.Close()

	require.True(t, it.Valid())
	assert.Equal(t, int64(30), it.Key())

	it2, err := tr.BeginAt(30)
	require.NoError(t, err)
	defer it2.Close()
	require.True(t, it2.Valid())
	assert.Equal(t, int64(30), it2.Key())
}

func TestTree_RandomizedRoundTrip(t *testing.T) {
	tr := newTestTree(t, 8, 8)
	gen := fixtures.New(123)
	keys, vals := gen.Pairs(300)

	for i, k := range keys {
		ok, err := tr.Insert(k, vals[i])
		require.NoError(t, err)
		require.True(t, ok)
	}
	for i, k := range keys {
		v, found, err := tr.Get(k)
		require.NoError(t, err)
		require.True(t, found, "key %d", k)
		assert.Equal(t, vals[i], v)
	}

	// Delete the first half, confirm the rest survives in sorted order.
	deleted := make(map[int64]bool)
	half := len(keys) / 2
	for i := 0; i < half; i++ {
		ok, err := tr.Delete(keys[i])
		require.NoError(t, err)
		require.True(t, ok)
		deleted[keys[i]] = true
	}

	it, err := tr.Begin()
	require.NoError(t, err)
	defer it.Close()

	var prev int64
	first := true
	count := 0
	for it.Valid() {
		k := it.Key()
		assert.False(t, deleted[k], "deleted key %d must not appear", k)
		if !first {
			assert.Less(t, prev, k, "iterator must yield strictly increasing keys")
		}
		prev = k
		first = false
		count++
		it.Next()
	}
	assert.Equal(t, len(keys)-half, count)
}
