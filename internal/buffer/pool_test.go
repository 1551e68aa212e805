package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dbcore/internal/page"
)

// fakeDisk is an in-memory DiskManager stand-in, grounded on the same
// substitution point disk.Manager's File interface documents for
// tests.
type fakeDisk struct {
	pages   map[page.PageID][page.Size]byte
	nextID  page.PageID
	writes  map[page.PageID]int
	dealloc []page.PageID
}

func newFakeDisk() *fakeDisk {
	return &fakeDisk{
		pages:  make(map[page.PageID][page.Size]byte),
		nextID: page.HeaderID + 1,
		writes: make(map[page.PageID]int),
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
	d.writes[id]++
	return nil
}

func (d *fakeDisk) AllocatePage() (page.PageID, error) {
	id := d.nextID
	d.nextID++
	return id, nil
}

func (d *fakeDisk) DeallocatePage(id page.PageID) error {
	d.dealloc = append(d.dealloc, id)
	return nil
}

func TestPool_NewPageAndFetch(t *testing.T) {
	p := New(newFakeDisk(), 3)

	id, frame, err := p.NewPage()
	require.NoError(t, err)
	assert.Equal(t, int32(1), frame.PinCount)

	frame.Data[0] = 42
	ok := p.UnpinPage(id, true)
	assert.True(t, ok)

	frame2, err := p.FetchPage(id)
	require.NoError(t, err)
	assert.Equal(t, byte(42), frame2.Data[0])
	p.UnpinPage(id, false)
}

func TestPool_EvictionUnderPinPressure(t *testing.T) {
	// pool_size=3: three NewPage calls consume the free list; with all
	// three still pinned a fourth must fail with ErrPoolFull; unpinning
	// one (dirty) makes it evictable and the fourth then succeeds,
	// flushing the evicted page first.
	disk := newFakeDisk()
	p := New(disk, 3)

	idA, _, err := p.NewPage()
	require.NoError(t, err)
	idB, frameB, err := p.NewPage()
	require.NoError(t, err)
	idC, _, err := p.NewPage()
	require.NoError(t, err)

	_, _, err = p.NewPage()
	assert.ErrorIs(t, err, ErrPoolFull)

	frameB.Data[0] = 7
	require.True(t, p.UnpinPage(idB, true))

	idD, _, err := p.NewPage()
	require.NoError(t, err)
	assert.NotEqual(t, idB, idD)
	assert.Equal(t, 1, disk.writes[idB], "evicted dirty frame must be flushed")

	for _, id := range []page.PageID{idA, idC, idD} {
		p.UnpinPage(id, false)
	}
}

func TestPool_FetchMissingFromDisk(t *testing.T) {
	disk := newFakeDisk()
	p := New(disk, 2)

	id, frame, err := p.NewPage()
	require.NoError(t, err)
	frame.Data[0] = 9
	p.UnpinPage(id, true)
	p.FlushPage(id)

	// Fresh pool over the same disk, page not resident: must load from
	// disk rather than returning a zeroed frame.
	p2 := New(disk, 2)
	frame2, err := p2.FetchPage(id)
	require.NoError(t, err)
	assert.Equal(t, byte(9), frame2.Data[0])
	p2.UnpinPage(id, false)
}

func TestPool_UnpinUnknownPage(t *testing.T) {
	p := New(newFakeDisk(), 2)
	assert.False(t, p.UnpinPage(999, false))
}

func TestPool_DeletePagePinnedFails(t *testing.T) {
	p := New(newFakeDisk(), 2)
	id, _, err := p.NewPage()
	require.NoError(t, err)

	assert.False(t, p.DeletePage(id))
	p.UnpinPage(id, false)
	assert.True(t, p.DeletePage(id))
}

func TestPool_FlushAllWritesRegardlessOfPinCount(t *testing.T) {
	disk := newFakeDisk()
	p := New(disk, 2)

	id, frame, err := p.NewPage()
	require.NoError(t, err)
	frame.Data[0] = 3
	frame.Dirty = true

	p.FlushAll()
	assert.Equal(t, 1, disk.writes[id], "FlushAll must flush even a pinned dirty frame")
}
