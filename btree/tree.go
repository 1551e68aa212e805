// Package btree implements a disk-backed B+ tree index over the
// buffer pool: a persistent, ordered, unique key -> Value map with
// latch-crabbing concurrency (spec.md §4.4). Keys are unique; the
// underlying table heap and query layers are out of scope (spec.md
// §1's Non-goals) — callers own whatever Value identifies.
package btree

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"dbcore/internal/page"
)

// Pool is the buffer-pool surface the tree needs. dbcore/internal/buffer.Pool
// satisfies it; tests may supply a fake.
type Pool interface {
	NewPage() (page.PageID, *page.Frame, error)
	FetchPage(id page.PageID) (*page.Frame, error)
	UnpinPage(id page.PageID, isDirty bool) bool
	DeletePage(id page.PageID) bool
}

// Tree is a generic B+ tree index keyed by K, bounded by leafMax
// entries per leaf and internalMax keys per internal node.
type Tree[K any] struct {
	name        string
	pool        Pool
	catalog     *Catalog
	codec       Codec[K]
	leafMax     int
	internalMax int
	logger      *zap.Logger

	rootLatch sync.RWMutex
	rootID    page.PageID
}

// Option configures a Tree at construction.
type Option[K any] func(*Tree[K])

// WithLogger injects a logger; the default is a no-op logger.
func WithLogger[K any](l *zap.Logger) Option[K] {
	return func(t *Tree[K]) { t.logger = l }
}

// Open attaches to (or creates) a named index within catalog. leafMax
// and internalMax must leave room for the fixed header plus their
// slot arrays within a single page.
func Open[K any](pool Pool, catalog *Catalog, name string, codec Codec[K], leafMax, internalMax int, opts ...Option[K]) (*Tree[K], error) {
	if leafMax < 3 {
		return nil, fmt.Errorf("btree: leafMax must be >= 3, got %d", leafMax)
	}
	if internalMax < 3 {
		return nil, fmt.Errorf("btree: internalMax must be >= 3, got %d", internalMax)
	}
	// Bound against PayloadSize, not Size: WritePage always overwrites
	// the page's last ChecksumSize bytes with a CRC32, so a slot array
	// sized all the way to Size would have its last entry clobbered.
	if needed := headerSize + leafMax*(codec.Size+valueSize); needed > page.PayloadSize {
		return nil, fmt.Errorf("btree: leafMax %d overflows page payload (%d > %d)", leafMax, needed, page.PayloadSize)
	}
	if needed := headerSize + (internalMax+1)*4 + (internalMax+1)*codec.Size; needed > page.PayloadSize {
		return nil, fmt.Errorf("btree: internalMax %d overflows page payload (%d > %d)", internalMax, needed, page.PayloadSize)
	}

	t := &Tree[K]{
		name:        name,
		pool:        pool,
		catalog:     catalog,
		codec:       codec,
		leafMax:     leafMax,
		internalMax: internalMax,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}

	if id, ok := catalog.lookup(name); ok {
		t.rootID = id
	} else {
		t.rootID = page.InvalidID
	}
	return t, nil
}

// IsEmpty reports whether the tree has no root page yet.
func (t *Tree[K]) IsEmpty() bool {
	t.rootLatch.RLock()
	defer t.rootLatch.RUnlock()
	return t.rootID == page.InvalidID
}

// ---- key encode/compare helpers ----

func (t *Tree[K]) encode(key K) []byte {
	buf := make([]byte, t.codec.Size)
	t.codec.Encode(key, buf)
	return buf
}

func (t *Tree[K]) leafSearch(lv leafView, key K) (int, bool) {
	n := lv.size()
	i := sort.Search(n, func(i int) bool {
		return t.codec.Compare(t.codec.Decode(lv.keyBytes(i)), key) >= 0
	})
	if i < n && t.codec.Compare(t.codec.Decode(lv.keyBytes(i)), key) == 0 {
		return i, true
	}
	return i, false
}

// internalChildIndex returns the index of the child pointer to
// descend into for key: the count of separator keys <= key.
func (t *Tree[K]) internalChildIndex(iv internalView, key K) int {
	n := iv.size()
	return sort.Search(n, func(i int) bool {
		return t.codec.Compare(t.codec.Decode(iv.keyBytes(i+1)), key) > 0
	})
}

// ---- safety predicates for latch crabbing (spec.md §4.4.5) ----

func (t *Tree[K]) insertSafe(nt nodeType, size, maxSize int, isRoot bool) bool {
	return size < maxSize-1
}

func (t *Tree[K]) deleteSafe(nt nodeType, size, maxSize int, isRoot bool) bool {
	if isRoot {
		return true
	}
	if nt == typeLeaf {
		return size > leafMinSize(maxSize)
	}
	return size+1 > internalMinSize(maxSize)
}

// ---- read-only descent (Get, iterator positioning) ----

// descendForRead walks from startID to the leaf owning key, holding
// at most one read latch at a time: a child is latched before its
// parent's latch and pin are released.
func (t *Tree[K]) descendForRead(startID page.PageID, key K) (page.PageID, *page.Frame, error) {
	curID := startID
	frame, err := t.pool.FetchPage(curID)
	if err != nil {
		return page.InvalidID, nil, err
	}
	frame.Latch.RLock()

	for {
		v := view{frame}
		if v.isLeaf() {
			return curID, frame, nil
		}
		iv := internalView{v, t.codec.Size}
		childIdx := t.internalChildIndex(iv, key)
		childID := iv.childAt(childIdx)

		childFrame, err := t.pool.FetchPage(childID)
		if err != nil {
			frame.Latch.RUnlock()
			t.pool.UnpinPage(curID, false)
			return page.InvalidID, nil, err
		}
		childFrame.Latch.RLock()

		frame.Latch.RUnlock()
		t.pool.UnpinPage(curID, false)

		curID, frame = childID, childFrame
	}
}

// Get returns the value stored for key, if present.
func (t *Tree[K]) Get(key K) (Value, bool, error) {
	t.rootLatch.RLock()
	root := t.rootID
	if root == page.InvalidID {
		t.rootLatch.RUnlock()
		var zero Value
		return zero, false, nil
	}

	leafID, frame, err := t.descendForRead(root, key)
	t.rootLatch.RUnlock()
	if err != nil {
		var zero Value
		return zero, false, err
	}
	defer func() {
		frame.Latch.RUnlock()
		t.pool.UnpinPage(leafID, false)
	}()

	lv := leafView{view{frame}, t.codec.Size}
	idx, found := t.leafSearch(lv, key)
	if !found {
		var zero Value
		return zero, false, nil
	}
	return lv.valueAt(idx), true, nil
}

// ---- write descent (shared by Insert and Delete) ----

type nodeFrame struct {
	id    page.PageID
	frame *page.Frame
}

// descendForWrite walks from startID to the leaf owning key, write-
// latching and pinning every node it cannot immediately prove safe,
// releasing the stale prefix (and the root latch) as soon as a node
// proves safe for the operation in progress (spec.md §4.4.5).
func (t *Tree[K]) descendForWrite(startID page.PageID, key K, safe func(nodeType, int, int, bool) bool, rootHeld *bool) ([]nodeFrame, error) {
	var ancestors []nodeFrame
	curID := startID
	for {
		frame, err := t.pool.FetchPage(curID)
		if err != nil {
			t.releaseAll(ancestors)
			return nil, err
		}
		frame.Latch.Lock()
		ancestors = append(ancestors, nodeFrame{curID, frame})

		v := view{frame}
		if safe(v.nodeType(), v.size(), v.maxSize(), v.isRoot()) {
			for _, a := range ancestors[:len(ancestors)-1] {
				a.frame.Latch.Unlock()
				t.pool.UnpinPage(a.id, false)
			}
			ancestors = ancestors[len(ancestors)-1:]
			if *rootHeld {
				t.rootLatch.Unlock()
				*rootHeld = false
			}
		}

		if v.isLeaf() {
			return ancestors, nil
		}
		iv := internalView{v, t.codec.Size}
		curID = iv.childAt(t.internalChildIndex(iv, key))
	}
}

func (t *Tree[K]) releaseAll(ancestors []nodeFrame) {
	for _, a := range ancestors {
		dirty := a.frame.Dirty
		a.frame.Latch.Unlock()
		t.pool.UnpinPage(a.id, dirty)
	}
}

func (t *Tree[K]) reparentChild(childID, newParentID page.PageID) error {
	f, err := t.pool.FetchPage(childID)
	if err != nil {
		return fmt.Errorf("btree: reparent child %d: %w", childID, err)
	}
	view{f}.setParentID(newParentID)
	t.pool.UnpinPage(childID, true)
	return nil
}

// ---- insert ----

// Insert adds key -> val, reporting false without error if key is
// already present (spec.md's Non-goals exclude duplicate keys). A key
// that does not survive the codec's encode/decode round trip (such as
// a string longer than StringCodec's width) is rejected with an error.
func (t *Tree[K]) Insert(key K, val Value) (bool, error) {
	keyBuf := t.encode(key)
	if t.codec.Compare(t.codec.Decode(keyBuf), key) != 0 {
		return false, fmt.Errorf("btree: key does not fit the codec's %d-byte encoding", t.codec.Size)
	}

	t.rootLatch.Lock()
	rootHeld := true
	defer func() {
		if rootHeld {
			t.rootLatch.Unlock()
		}
	}()

	if t.rootID == page.InvalidID {
		id, frame, err := t.pool.NewPage()
		if err != nil {
			return false, err
		}
		lv := leafView{view{frame}, t.codec.Size}
		lv.init(id, page.InvalidID, t.leafMax)
		lv.insertAt(0, keyBuf, val)
		t.pool.UnpinPage(id, true)

		t.rootID = id
		t.catalog.setRoot(t.name, id)
		return true, nil
	}

	ancestors, err := t.descendForWrite(t.rootID, key, t.insertSafe, &rootHeld)
	if err != nil {
		return false, err
	}
	defer t.releaseAll(ancestors)

	leaf := ancestors[len(ancestors)-1]
	lv := leafView{view{leaf.frame}, t.codec.Size}

	idx, found := t.leafSearch(lv, key)
	if found {
		return false, nil
	}
	lv.insertAt(idx, keyBuf, val)

	if lv.size() < t.leafMax {
		return true, nil
	}

	mid := ceilDiv(t.leafMax, 2)
	rightID, rightFrame, err := t.pool.NewPage()
	if err != nil {
		return false, err
	}
	rv := leafView{view{rightFrame}, t.codec.Size}
	rv.init(rightID, lv.parentID(), t.leafMax)
	for i := mid; i < t.leafMax; i++ {
		rv.insertAt(i-mid, append([]byte(nil), lv.keyBytes(i)...), lv.valueAt(i))
	}
	rv.setNextID(lv.nextID())
	lv.setNextID(rightID)
	lv.setSize(mid)
	promoted := append([]byte(nil), rv.keyBytes(0)...)
	t.pool.UnpinPage(rightID, true)

	return true, t.propagateSplit(ancestors, len(ancestors)-1, promoted, rightID, &rootHeld)
}

// propagateSplit installs (sepKey, rightChild) as the new separator
// following ancestors[idx], splitting ancestors[idx]'s parent (and its
// parent, and so on) as each overflows in turn, per spec.md §4.4.3.
func (t *Tree[K]) propagateSplit(ancestors []nodeFrame, idx int, sepKey []byte, rightChild page.PageID, rootHeld *bool) error {
	for {
		if idx == 0 {
			leftID := ancestors[0].id
			newRootID, newRootFrame, err := t.pool.NewPage()
			if err != nil {
				return err
			}
			nv := internalView{view{newRootFrame}, t.codec.Size}
			nv.init(newRootID, page.InvalidID, t.internalMax)
			nv.setChildAt(0, leftID)
			nv.appendChild(sepKey, rightChild)
			t.pool.UnpinPage(newRootID, true)

			if err := t.reparentChild(leftID, newRootID); err != nil {
				return err
			}
			if err := t.reparentChild(rightChild, newRootID); err != nil {
				return err
			}

			t.rootID = newRootID
			t.catalog.setRoot(t.name, newRootID)
			return nil
		}

		parentEntry := ancestors[idx-1]
		pv := internalView{view{parentEntry.frame}, t.codec.Size}
		leftID := ancestors[idx].id
		childIdx := pv.childIndex(leftID)
		pv.insertChildAt(childIdx+1, sepKey, rightChild)

		if pv.size() < t.internalMax {
			return nil
		}

		mid := ceilDiv(t.internalMax+1, 2)
		rightID, rightFrame, err := t.pool.NewPage()
		if err != nil {
			return err
		}
		rv := internalView{view{rightFrame}, t.codec.Size}
		rv.init(rightID, pv.parentID(), t.internalMax)
		rv.setChildAt(0, pv.childAt(mid))
		for i := mid + 1; i <= t.internalMax; i++ {
			rv.appendChild(append([]byte(nil), pv.keyBytes(i)...), pv.childAt(i))
		}
		promoted := append([]byte(nil), pv.keyBytes(mid)...)
		pv.setSize(mid - 1)
		t.pool.UnpinPage(rightID, true)

		for i := 0; i <= rv.size(); i++ {
			if err := t.reparentChild(rv.childAt(i), rightID); err != nil {
				return err
			}
		}

		sepKey, rightChild = promoted, rightID
		idx--
	}
}

// ---- delete ----

// Delete removes key, reporting whether it was present.
func (t *Tree[K]) Delete(key K) (bool, error) {
	t.rootLatch.Lock()
	rootHeld := true
	defer func() {
		if rootHeld {
			t.rootLatch.Unlock()
		}
	}()

	if t.rootID == page.InvalidID {
		return false, nil
	}

	ancestors, err := t.descendForWrite(t.rootID, key, t.deleteSafe, &rootHeld)
	if err != nil {
		return false, err
	}
	live := ancestors
	defer func() { t.releaseAll(live) }()

	idx := len(live) - 1
	lv := leafView{view{live[idx].frame}, t.codec.Size}
	pos, found := t.leafSearch(lv, key)
	if !found {
		return false, nil
	}
	lv.removeAt(pos)

	if lv.isRoot() {
		if lv.size() == 0 {
			// An empty leaf root becomes an empty tree (spec.md §4.4.4).
			rootID := live[idx].id
			live[idx].frame.Latch.Unlock()
			live = live[:idx]
			t.pool.UnpinPage(rootID, true)
			t.pool.DeletePage(rootID)
			t.rootID = page.InvalidID
			t.catalog.setRoot(t.name, page.InvalidID)
		}
		return true, nil
	}
	if lv.size() >= leafMinSize(lv.maxSize()) {
		return true, nil
	}

	// Underflow: rebalance with a sibling, cascading upward while each
	// merge shrinks its parent below the floor in turn. A merge fully
	// releases and frees whichever of the two nodes it consumes; if
	// that happens to be the node live is tracking at cur, splice it
	// out before the outer defer's final release pass.
	for cur := idx; cur > 0; {
		parentEntry := live[cur-1]
		pv := internalView{view{parentEntry.frame}, t.codec.Size}

		merged, needyDeleted, err := t.rebalanceAt(pv, live[cur].id, live[cur].frame, cur == idx)
		if err != nil {
			return false, err
		}
		if !merged {
			break
		}
		if needyDeleted {
			live = append(live[:cur], live[cur+1:]...)
		}
		if pv.isRoot() {
			if pv.size() == 0 {
				newRootID := pv.childAt(0)
				if err := t.reparentChild(newRootID, page.InvalidID); err != nil {
					return false, err
				}
				t.rootID = newRootID
				t.catalog.setRoot(t.name, newRootID)
			}
			break
		}
		if pv.size()+1 >= internalMinSize(pv.maxSize()) {
			break
		}
		cur--
	}

	return true, nil
}

// rebalanceAt fixes underflowed node needyID (a child of pv) by
// redistributing from a sibling or, failing that, merging with it.
// Whenever needyID has a left sibling only that sibling is used: it
// lends an entry if it can spare one, otherwise the two merge; the
// right sibling is not consulted even if it could lend. A leftmost
// child uses its right sibling the same way. The
// sibling fetched here is always fully released before returning. On
// a merge, exactly one of needyID or its sibling is deleted and fully
// released (including its latch) by this call; merged reports that a
// merge happened (so the caller must check pv for cascading
// underflow), and needyDeleted reports whether needyID specifically
// was the one consumed, so the caller knows whether it must still
// release needyFrame itself.
func (t *Tree[K]) rebalanceAt(pv internalView, needyID page.PageID, needyFrame *page.Frame, isLeaf bool) (merged, needyDeleted bool, err error) {
	needyIdx := pv.childIndex(needyID)

	if needyIdx > 0 {
		// Left sibling exists: on merge it survives, needy is consumed.
		sibID := pv.childAt(needyIdx - 1)
		sibFrame, ferr := t.pool.FetchPage(sibID)
		if ferr != nil {
			return false, false, ferr
		}
		sibFrame.Latch.Lock()
		release := func() { sibFrame.Latch.Unlock(); t.pool.UnpinPage(sibID, true) }

		if isLeaf {
			sib := leafView{view{sibFrame}, t.codec.Size}
			needy := leafView{view{needyFrame}, t.codec.Size}
			if sib.size() > leafMinSize(sib.maxSize()) {
				needy.borrowFromLeft(sib)
				pv.setKeyAt(needyIdx, append([]byte(nil), needy.keyBytes(0)...))
				release()
				return false, false, nil
			}
			sib.mergeFrom(needy)
			pv.removeAt(needyIdx)
			release()
			needyFrame.Latch.Unlock()
			t.pool.UnpinPage(needyID, true)
			t.pool.DeletePage(needyID)
			return true, true, nil
		}

		sib := internalView{view{sibFrame}, t.codec.Size}
		needy := internalView{view{needyFrame}, t.codec.Size}
		if sib.size()+1 > internalMinSize(sib.maxSize()) {
			sep := append([]byte(nil), pv.keyBytes(needyIdx)...)
			borrowedKey, borrowedChild := sib.popLastChild()
			needy.prependChild(sep, borrowedChild)
			pv.setKeyAt(needyIdx, borrowedKey)
			if rerr := t.reparentChild(borrowedChild, needyID); rerr != nil {
				release()
				return false, false, rerr
			}
			release()
			return false, false, nil
		}
		sep := append([]byte(nil), pv.keyBytes(needyIdx)...)
		sib.appendChild(sep, needy.childAt(0))
		for i := 1; i <= needy.size(); i++ {
			sib.appendChild(append([]byte(nil), needy.keyBytes(i)...), needy.childAt(i))
		}
		for i := 0; i <= needy.size(); i++ {
			if rerr := t.reparentChild(needy.childAt(i), sibID); rerr != nil {
				release()
				return false, false, rerr
			}
		}
		pv.removeAt(needyIdx)
		release()
		needyFrame.Latch.Unlock()
		t.pool.UnpinPage(needyID, true)
		t.pool.DeletePage(needyID)
		return true, true, nil
	}

	// needyIdx == 0: no left sibling, rebalance against the right one.
	// On merge, needy survives (it is the lower-indexed child) and the
	// sibling is consumed.
	sibID := pv.childAt(needyIdx + 1)
	sibFrame, ferr := t.pool.FetchPage(sibID)
	if ferr != nil {
		return false, false, ferr
	}
	sibFrame.Latch.Lock()
	releaseSibKeep := func() { sibFrame.Latch.Unlock(); t.pool.UnpinPage(sibID, true) }
	releaseSibConsumed := func() { sibFrame.Latch.Unlock(); t.pool.UnpinPage(sibID, true); t.pool.DeletePage(sibID) }

	if isLeaf {
		sib := leafView{view{sibFrame}, t.codec.Size}
		needy := leafView{view{needyFrame}, t.codec.Size}
		if sib.size() > leafMinSize(sib.maxSize()) {
			needy.borrowFromRight(sib)
			pv.setKeyAt(needyIdx+1, append([]byte(nil), sib.keyBytes(0)...))
			releaseSibKeep()
			return false, false, nil
		}
		needy.mergeFrom(sib)
		pv.removeAt(needyIdx + 1)
		releaseSibConsumed()
		return true, false, nil
	}

	sib := internalView{view{sibFrame}, t.codec.Size}
	needy := internalView{view{needyFrame}, t.codec.Size}
	if sib.size()+1 > internalMinSize(sib.maxSize()) {
		sep := append([]byte(nil), pv.keyBytes(needyIdx+1)...)
		borrowedKey, borrowedChild := sib.popFirstChild()
		needy.appendChild(sep, borrowedChild)
		pv.setKeyAt(needyIdx+1, borrowedKey)
		if rerr := t.reparentChild(borrowedChild, needyID); rerr != nil {
			releaseSibKeep()
			return false, false, rerr
		}
		releaseSibKeep()
		return false, false, nil
	}
	sep := append([]byte(nil), pv.keyBytes(needyIdx+1)...)
	needy.appendChild(sep, sib.childAt(0))
	for i := 1; i <= sib.size(); i++ {
		needy.appendChild(append([]byte(nil), sib.keyBytes(i)...), sib.childAt(i))
	}
	for i := 0; i <= sib.size(); i++ {
		if rerr := t.reparentChild(sib.childAt(i), needyID); rerr != nil {
			releaseSibKeep()
			return false, false, rerr
		}
	}
	pv.removeAt(needyIdx + 1)
	releaseSibConsumed()
	return true, false, nil
}
