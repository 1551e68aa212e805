package btree

import (
	"encoding/binary"
	"fmt"
	"sync"

	"dbcore/internal/page"
)

// Catalog is a SUPPLEMENTED header-page registry mapping index names
// to their root page id, persisted in the pool's reserved header page
// (page.HeaderID) so a process restart can reopen every named index
// without a separate catalog file. Layout: uint32 count, then count
// repeats of (uint16 name length, name bytes, uint32 root page id).
type Catalog struct {
	mu      sync.Mutex
	pool    Pool
	entries map[string]page.PageID
}

const catalogCountSize = 4

// OpenCatalog loads the header page's registry, creating an empty one
// if fresh reports the database file was just created (so page 0 does
// not exist on disk yet).
func OpenCatalog(pool Pool, fresh bool) (*Catalog, error) {
	c := &Catalog{pool: pool, entries: make(map[string]page.PageID)}

	if fresh {
		// page.HeaderID is reserved by the disk manager's own bootstrap
		// (AllocatePage never hands it out), so it must be fetched into
		// residency and initialized in place rather than allocated.
		frame, err := pool.FetchPage(page.HeaderID)
		if err != nil {
			return nil, fmt.Errorf("btree: init header page: %w", err)
		}
		binary.BigEndian.PutUint32(frame.Data[:catalogCountSize], 0)
		pool.UnpinPage(page.HeaderID, true)
		return c, nil
	}

	frame, err := pool.FetchPage(page.HeaderID)
	if err != nil {
		return nil, fmt.Errorf("btree: load header page: %w", err)
	}
	defer pool.UnpinPage(page.HeaderID, false)

	count := binary.BigEndian.Uint32(frame.Data[:catalogCountSize])
	off := catalogCountSize
	for i := uint32(0); i < count; i++ {
		nameLen := int(binary.BigEndian.Uint16(frame.Data[off:]))
		off += 2
		name := string(frame.Data[off : off+nameLen])
		off += nameLen
		rootID := page.PageID(binary.BigEndian.Uint32(frame.Data[off:]))
		off += 4
		c.entries[name] = rootID
	}
	return c, nil
}

func (c *Catalog) lookup(name string) (page.PageID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.entries[name]
	return id, ok
}

// setRoot records name's new root page id and persists the whole
// registry back to the header page.
func (c *Catalog) setRoot(name string, id page.PageID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[name] = id
	c.flushLocked()
}

func (c *Catalog) flushLocked() {
	frame, err := c.pool.FetchPage(page.HeaderID)
	if err != nil {
		return
	}
	binary.BigEndian.PutUint32(frame.Data[:catalogCountSize], uint32(len(c.entries)))
	off := catalogCountSize
	for name, id := range c.entries {
		binary.BigEndian.PutUint16(frame.Data[off:], uint16(len(name)))
		off += 2
		off += copy(frame.Data[off:], name)
		binary.BigEndian.PutUint32(frame.Data[off:], uint32(id))
		off += 4
	}
	c.pool.UnpinPage(page.HeaderID, true)
}

// Flush rewrites the registry into the header page and unpins it
// dirty, for use at shutdown alongside buffer.Pool.FlushAll. It does
// not write to disk itself: the page reaches disk when the pool
// flushes or evicts it.
func (c *Catalog) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushLocked()
}
