// Package buffer implements the fixed-size buffer pool manager that
// intermediates between the B+ tree and the disk manager (spec.md
// §4.3): pinning, dirty write-back, and victim selection delegated to
// an extendible-hash page table and an LRU-K replacer.
package buffer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"dbcore/internal/hash"
	"dbcore/internal/page"
	"dbcore/internal/replacer"
)

// pageIDBytes renders a PageID as big-endian bytes for hash.DefaultHasher.
func pageIDBytes(id page.PageID) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(id))
	return buf[:]
}

var (
	// ErrPoolFull is returned by NewPage/FetchPage when no frame can be
	// freed or evicted.
	ErrPoolFull = errors.New("buffer: pool is full, no evictable frame")
	// ErrPageNotFound names the not-resident condition. UnpinPage,
	// FlushPage and DeletePage report it by returning false; no Pool
	// method returns this error.
	ErrPageNotFound = errors.New("buffer: page not resident")
	// ErrPagePinned names the pinned-on-delete condition. DeletePage
	// reports it by returning false; no Pool method returns this error.
	ErrPagePinned = errors.New("buffer: page is pinned")
)

// DiskManager is the collaborator the pool reads/writes pages through.
type DiskManager interface {
	ReadPage(id page.PageID, buf []byte) error
	WritePage(id page.PageID, buf []byte) error
	AllocatePage() (page.PageID, error)
	DeallocatePage(id page.PageID) error
}

// Pool is a fixed-size buffer pool manager.
type Pool struct {
	mu sync.Mutex

	disk      DiskManager
	logger    *zap.Logger
	replacerK int

	frames    []*page.Frame
	freeList  []page.FrameID
	pageTable *hash.Table[page.PageID, page.FrameID]
	replacer  *replacer.LRUK
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger injects a logger; the default is a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pool) { p.logger = l }
}

// WithReplacerK sets the LRU-K parameter k (default 2).
func WithReplacerK(k int) Option {
	return func(p *Pool) { p.replacerK = k }
}

// New creates a Pool of poolSize frames backed by disk.
func New(disk DiskManager, poolSize int, opts ...Option) *Pool {
	if poolSize < 1 {
		panic("buffer: pool size must be >= 1")
	}

	p := &Pool{
		disk:      disk,
		logger:    zap.NewNop(),
		replacerK: 2,
		frames:    make([]*page.Frame, poolSize),
		freeList:  make([]page.FrameID, poolSize),
	}
	for _, opt := range opts {
		opt(p)
	}

	for i := 0; i < poolSize; i++ {
		p.frames[i] = &page.Frame{}
		p.freeList[i] = page.FrameID(poolSize - 1 - i)
	}
	p.pageTable = hash.New[page.PageID, page.FrameID](4, hash.DefaultHasher(pageIDBytes))
	p.replacer = replacer.New(poolSize, p.replacerK, p.logger)

	return p
}

// acquireFrame pops a free frame, or asks the replacer to evict one.
// Caller must hold mu.
func (p *Pool) acquireFrame() (page.FrameID, bool) {
	if n := len(p.freeList); n > 0 {
		fid := p.freeList[n-1]
		p.freeList = p.freeList[:n-1]
		return fid, true
	}
	return p.replacer.Evict()
}

// claimFrame acquires a frame to hold a new page, evicting a victim if
// necessary. It returns the frame and the outgoing page id/dirty state
// the caller must flush (evictedDirty is false if the frame was already
// free). The frame's page-table entry for the outgoing page, if any,
// is removed before return so no other goroutine can find or reuse it
// while this goroutine owns it unlocked. Caller must hold mu; returns
// with mu still held.
func (p *Pool) claimFrame() (fid page.FrameID, evictedID page.PageID, evictedDirty bool, ok bool) {
	fid, ok = p.acquireFrame()
	if !ok {
		return 0, page.InvalidID, false, false
	}
	f := p.frames[fid]
	// f.ID alone cannot mark a frame free: InvalidID equals HeaderID, so
	// the resident header page has that ID too. The page table decides.
	if cur, resident := p.pageTable.Find(f.ID); !resident || cur != fid {
		return fid, page.InvalidID, false, true
	}
	evictedID, evictedDirty = f.ID, f.Dirty
	p.pageTable.Remove(evictedID)
	return fid, evictedID, evictedDirty, true
}

// NewPage allocates a fresh page, pins it into a frame, and returns
// both. The pool mutex is released while the victim's dirty
// write-back and the new allocation itself hit disk (spec.md §5); the
// claimed frame is exclusively owned by this call during that window
// since it has already been unlinked from the page table and replacer.
func (p *Pool) NewPage() (page.PageID, *page.Frame, error) {
	p.mu.Lock()
	fid, evictedID, evictedDirty, ok := p.claimFrame()
	p.mu.Unlock()
	if !ok {
		return page.InvalidID, nil, ErrPoolFull
	}
	f := p.frames[fid]

	if evictedDirty {
		if err := p.disk.WritePage(evictedID, f.Data[:]); err != nil {
			p.reclaimFrame(fid)
			return page.InvalidID, nil, fmt.Errorf("buffer: flush frame %d (page %d) during eviction: %w", fid, evictedID, err)
		}
	}

	id, err := p.disk.AllocatePage()
	if err != nil {
		p.reclaimFrame(fid)
		return page.InvalidID, nil, fmt.Errorf("buffer: allocate page: %w", err)
	}

	f.Reset()
	f.ID = id
	f.PinCount = 1

	p.mu.Lock()
	p.pageTable.Insert(id, fid)
	p.replacer.RecordAccess(fid)
	p.replacer.SetEvictable(fid, false)
	p.mu.Unlock()

	p.logger.Debug("new page", zap.Uint32("page_id", uint32(id)), zap.Int("frame_id", int(fid)))
	return id, f, nil
}

// FetchPage returns the frame holding id, pinning it, loading it from
// disk first if necessary. As in NewPage, the pool mutex is released
// across the disk read.
func (p *Pool) FetchPage(id page.PageID) (*page.Frame, error) {
	p.mu.Lock()
	if fid, ok := p.pageTable.Find(id); ok {
		f := p.frames[fid]
		f.PinCount++
		p.replacer.RecordAccess(fid)
		p.replacer.SetEvictable(fid, false)
		p.mu.Unlock()
		return f, nil
	}

	fid, evictedID, evictedDirty, ok := p.claimFrame()
	p.mu.Unlock()
	if !ok {
		return nil, ErrPoolFull
	}
	f := p.frames[fid]

	if evictedDirty {
		if err := p.disk.WritePage(evictedID, f.Data[:]); err != nil {
			p.reclaimFrame(fid)
			return nil, fmt.Errorf("buffer: flush frame %d (page %d) during eviction: %w", fid, evictedID, err)
		}
	}

	f.Reset()
	if err := p.disk.ReadPage(id, f.Data[:]); err != nil {
		p.reclaimFrame(fid)
		return nil, fmt.Errorf("buffer: read page %d: %w", id, err)
	}
	f.ID = id
	f.PinCount = 1

	p.mu.Lock()
	// Another goroutine may have loaded id into a different frame while
	// this one was reading it unlocked; defer to whichever got there
	// first and discard this redundant load.
	if existingFid, ok := p.pageTable.Find(id); ok {
		f.Reset()
		p.freeList = append(p.freeList, fid)
		ef := p.frames[existingFid]
		ef.PinCount++
		p.replacer.RecordAccess(existingFid)
		p.replacer.SetEvictable(existingFid, false)
		p.mu.Unlock()
		return ef, nil
	}
	p.pageTable.Insert(id, fid)
	p.replacer.RecordAccess(fid)
	p.replacer.SetEvictable(fid, false)
	p.mu.Unlock()

	p.logger.Debug("fetch page", zap.Uint32("page_id", uint32(id)), zap.Int("frame_id", int(fid)))
	return f, nil
}

// reclaimFrame returns a frame claimed by claimFrame to the free list
// after a disk error aborts the load that was going to reuse it.
func (p *Pool) reclaimFrame(fid page.FrameID) {
	p.mu.Lock()
	p.freeList = append(p.freeList, fid)
	p.mu.Unlock()
}

// UnpinPage decrements id's pin count, OR-ing isDirty into the frame's
// sticky dirty flag, and marks the frame evictable once the pin count
// reaches zero.
func (p *Pool) UnpinPage(id page.PageID, isDirty bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	fid, ok := p.pageTable.Find(id)
	if !ok {
		return false
	}
	f := p.frames[fid]
	if f.PinCount == 0 {
		return false
	}

	if isDirty {
		f.Dirty = true
	}
	f.PinCount--
	if f.PinCount == 0 {
		p.replacer.SetEvictable(fid, true)
	}
	return true
}

// FlushPage writes id to disk unconditionally and clears its dirty
// flag. The caller must hold a pin on id, so the frame cannot be
// evicted and reused underneath the unlocked disk write.
func (p *Pool) FlushPage(id page.PageID) bool {
	p.mu.Lock()
	fid, ok := p.pageTable.Find(id)
	if !ok {
		p.mu.Unlock()
		return false
	}
	f := p.frames[fid]
	p.mu.Unlock()

	if err := p.disk.WritePage(f.ID, f.Data[:]); err != nil {
		p.logger.Error("flush page failed", zap.Uint32("page_id", uint32(id)), zap.Error(err))
		return false
	}
	f.Dirty = false
	return true
}

// FlushAll writes every resident page to disk regardless of pin count,
// for use at shutdown after quiescence (spec.md §4.3) — quiescence is
// what makes it safe to read the frame snapshot and write each page
// back without holding the pool mutex across the disk calls.
func (p *Pool) FlushAll() {
	p.mu.Lock()
	frames := make([]*page.Frame, 0, len(p.frames))
	for fid, f := range p.frames {
		if cur, ok := p.pageTable.Find(f.ID); ok && cur == page.FrameID(fid) {
			frames = append(frames, f)
		}
	}
	p.mu.Unlock()

	for _, f := range frames {
		if err := p.disk.WritePage(f.ID, f.Data[:]); err != nil {
			p.logger.Error("flush all: page failed", zap.Uint32("page_id", uint32(f.ID)), zap.Error(err))
			continue
		}
		f.Dirty = false
	}
}

// DeletePage removes id from the pool and deallocates it on disk. It
// fails if the page is resident and pinned.
func (p *Pool) DeletePage(id page.PageID) bool {
	p.mu.Lock()
	fid, resident := p.pageTable.Find(id)
	if resident {
		f := p.frames[fid]
		if f.PinCount > 0 {
			p.mu.Unlock()
			return false
		}
		p.pageTable.Remove(id)
		p.replacer.Remove(fid)
		f.Reset()
	}
	p.mu.Unlock()

	if err := p.disk.DeallocatePage(id); err != nil {
		p.logger.Error("deallocate page failed", zap.Uint32("page_id", uint32(id)), zap.Error(err))
		return false
	}

	if resident {
		p.mu.Lock()
		p.freeList = append(p.freeList, fid)
		p.mu.Unlock()
	}
	return true
}
