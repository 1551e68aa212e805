package btree

import "dbcore/internal/page"

// Iterator is a forward cursor over a tree's leaves in key order
// (spec.md §4.4.6). It holds a read latch and pin on exactly one leaf
// at a time, advancing across the sibling chain via next_page_id when
// its current slot is exhausted.
type Iterator[K any] struct {
	t      *Tree[K]
	leafID page.PageID
	frame  *page.Frame
	slot   int
	done   bool
}

// Begin returns an iterator positioned at the first entry in the
// tree.
func (t *Tree[K]) Begin() (*Iterator[K], error) {
	t.rootLatch.RLock()
	root := t.rootID
	if root == page.InvalidID {
		t.rootLatch.RUnlock()
		return &Iterator[K]{t: t, done: true}, nil
	}

	curID := root
	frame, err := t.pool.FetchPage(curID)
	if err != nil {
		t.rootLatch.RUnlock()
		return nil, err
	}
	frame.Latch.RLock()
	t.rootLatch.RUnlock()

	for {
		v := view{frame}
		if v.isLeaf() {
			break
		}
		iv := internalView{v, t.codec.Size}
		childID := iv.childAt(0)
		childFrame, err := t.pool.FetchPage(childID)
		if err != nil {
			frame.Latch.RUnlock()
			t.pool.UnpinPage(curID, false)
			return nil, err
		}
		childFrame.Latch.RLock()
		frame.Latch.RUnlock()
		t.pool.UnpinPage(curID, false)
		curID, frame = childID, childFrame
	}

	it := &Iterator[K]{t: t, leafID: curID, frame: frame, slot: 0}
	it.skipToNonEmpty()
	return it, nil
}

// BeginAt returns an iterator positioned at the first entry with key
// >= the given key.
func (t *Tree[K]) BeginAt(key K) (*Iterator[K], error) {
	t.rootLatch.RLock()
	root := t.rootID
	if root == page.InvalidID {
		t.rootLatch.RUnlock()
		return &Iterator[K]{t: t, done: true}, nil
	}
	leafID, frame, err := t.descendForRead(root, key)
	t.rootLatch.RUnlock()
	if err != nil {
		return nil, err
	}

	lv := leafView{view{frame}, t.codec.Size}
	idx, _ := t.leafSearch(lv, key)
	it := &Iterator[K]{t: t, leafID: leafID, frame: frame, slot: idx}
	it.skipToNonEmpty()
	return it, nil
}

// skipToNonEmpty moves along the sibling chain while the current slot
// is past the current leaf's last entry (after Next steps off the end
// of a leaf, or when BeginAt's search position is a leaf's end) until
// a real entry is found or the chain is exhausted.
func (it *Iterator[K]) skipToNonEmpty() {
	for !it.done {
		lv := leafView{view{it.frame}, it.t.codec.Size}
		if it.slot < lv.size() {
			return
		}
		next := lv.nextID()
		it.frame.Latch.RUnlock()
		it.t.pool.UnpinPage(it.leafID, false)
		if next == page.InvalidID {
			it.done = true
			it.frame = nil
			return
		}
		nextFrame, err := it.t.pool.FetchPage(next)
		if err != nil {
			it.done = true
			it.frame = nil
			return
		}
		nextFrame.Latch.RLock()
		it.leafID, it.frame, it.slot = next, nextFrame, 0
	}
}

// Valid reports whether the iterator is positioned at an entry.
func (it *Iterator[K]) Valid() bool { return !it.done }

// Key returns the current entry's key. Valid must be true.
func (it *Iterator[K]) Key() K {
	lv := leafView{view{it.frame}, it.t.codec.Size}
	return it.t.codec.Decode(lv.keyBytes(it.slot))
}

// Value returns the current entry's value. Valid must be true.
func (it *Iterator[K]) Value() Value {
	lv := leafView{view{it.frame}, it.t.codec.Size}
	return lv.valueAt(it.slot)
}

// Next advances to the following entry.
func (it *Iterator[K]) Next() {
	if it.done {
		return
	}
	it.slot++
	it.skipToNonEmpty()
}

// Close releases the iterator's held leaf, if any. Safe to call
// multiple times and on an exhausted iterator.
func (it *Iterator[K]) Close() {
	if it.frame == nil {
		return
	}
	it.frame.Latch.RUnlock()
	it.t.pool.UnpinPage(it.leafID, false)
	it.frame = nil
	it.done = true
}
