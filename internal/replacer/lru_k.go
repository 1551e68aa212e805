// Package replacer implements the LRU-K page replacement policy
// (spec.md §4.2): frames with fewer than k recorded accesses (infinite
// backward k-distance) are preferred for eviction over frames with k
// or more accesses, which are evicted in plain LRU order among
// themselves.
package replacer

import (
	"container/list"
	"fmt"

	"go.uber.org/zap"

	"dbcore/internal/page"
)

type lruNode struct {
	frameID   page.FrameID
	hits      int
	evictable bool
	inCache   bool // true once promoted out of history
}

// LRUK is an LRU-K replacer over a fixed-size set of frame ids
// [0, size). It has no mutex of its own and is not safe for concurrent
// use; the buffer pool calls it only while holding the pool's lock.
type LRUK struct {
	k            int
	size         int
	logger       *zap.Logger
	history      *list.List // fewer than k accesses; MRU at front
	cache        *list.List // k or more accesses; MRU at front
	elements     map[page.FrameID]*list.Element
	replacerSize int
}

// New creates an LRU-K replacer over size frames with k backward
// references. k must be >= 1.
func New(size, k int, logger *zap.Logger) *LRUK {
	if k < 1 {
		panic("replacer: k must be >= 1")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LRUK{
		k:        k,
		size:     size,
		logger:   logger,
		history:  list.New(),
		cache:    list.New(),
		elements: make(map[page.FrameID]*list.Element, size),
	}
}

func (r *LRUK) mustValidFrame(fid page.FrameID, op string) {
	if int(fid) < 0 || int(fid) >= r.size {
		r.logger.DPanic("replacer: frame id out of range", zap.Int("frame_id", int(fid)), zap.String("op", op))
		panic(fmt.Sprintf("replacer: %s: frame id %d out of range [0, %d)", op, fid, r.size))
	}
}

// RecordAccess registers an access to fid, creating its node in
// history if this is its first access, and promoting it to cache once
// its access count reaches k.
func (r *LRUK) RecordAccess(fid page.FrameID) {
	r.mustValidFrame(fid, "RecordAccess")

	if el, ok := r.elements[fid]; ok {
		n := el.Value.(*lruNode)
		n.hits++
		if n.inCache {
			r.cache.MoveToFront(el)
			return
		}
		if n.hits < r.k {
			r.history.MoveToFront(el)
			return
		}
		// First access reaching k: promote out of history into cache.
		r.history.Remove(el)
		n.inCache = true
		r.elements[fid] = r.cache.PushFront(n)
		return
	}

	n := &lruNode{frameID: fid, hits: 1}
	if n.hits >= r.k {
		n.inCache = true
		r.elements[fid] = r.cache.PushFront(n)
	} else {
		r.elements[fid] = r.history.PushFront(n)
	}
}

// SetEvictable toggles whether fid may be chosen by Evict.
func (r *LRUK) SetEvictable(fid page.FrameID, evictable bool) {
	r.mustValidFrame(fid, "SetEvictable")

	el, ok := r.elements[fid]
	if !ok {
		r.logger.DPanic("replacer: unknown frame id", zap.Int("frame_id", int(fid)))
		panic(fmt.Sprintf("replacer: SetEvictable: unknown frame id %d", fid))
	}
	n := el.Value.(*lruNode)
	if n.evictable == evictable {
		return
	}
	n.evictable = evictable
	if evictable {
		r.replacerSize++
	} else {
		r.replacerSize--
	}
}

// Remove drops fid from the replacer regardless of its position. It is
// a silent no-op if fid is not tracked.
func (r *LRUK) Remove(fid page.FrameID) {
	if int(fid) < 0 || int(fid) >= r.size {
		return
	}
	el, ok := r.elements[fid]
	if !ok {
		return
	}
	n := el.Value.(*lruNode)
	if n.evictable {
		r.replacerSize--
	}
	delete(r.elements, fid)
	if n.inCache {
		r.cache.Remove(el)
	} else {
		r.history.Remove(el)
	}
}

// Evict selects and removes an evictable frame, searching history
// tail-to-head first (oldest, fewer-than-k-access frames) and falling
// back to cache tail-to-head (plain LRU among frames with k or more
// accesses).
func (r *LRUK) Evict() (page.FrameID, bool) {
	if fid, ok := evictFrom(r.history); ok {
		r.finishEvict(fid)
		return fid, true
	}
	if fid, ok := evictFrom(r.cache); ok {
		r.finishEvict(fid)
		return fid, true
	}
	return page.InvalidFrameID, false
}

func evictFrom(l *list.List) (page.FrameID, bool) {
	for e := l.Back(); e != nil; e = e.Prev() {
		n := e.Value.(*lruNode)
		if n.evictable {
			l.Remove(e)
			return n.frameID, true
		}
	}
	return page.InvalidFrameID, false
}

func (r *LRUK) finishEvict(fid page.FrameID) {
	delete(r.elements, fid)
	r.replacerSize--
	r.logger.Debug("evicted frame", zap.Int("frame_id", int(fid)))
}

// Size returns the number of currently evictable frames.
func (r *LRUK) Size() int {
	return r.replacerSize
}
