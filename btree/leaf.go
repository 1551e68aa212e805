package btree

import "dbcore/internal/page"

// leafView addresses a leaf page's slot array: size entries of
// (key, Value) pairs, kept sorted by key, immediately after the
// header. keySize is fixed per tree (set by the tree's Codec).
type leafView struct {
	view
	keySize int
}

const valueSize = 8

func (l leafView) slotWidth() int { return l.keySize + valueSize }
func (l leafView) slotOffset(i int) int { return headerSize + i*l.slotWidth() }

func (l leafView) keyBytes(i int) []byte {
	off := l.slotOffset(i)
	return l.f.Data[off : off+l.keySize]
}

func (l leafView) valueBytes(i int) []byte {
	off := l.slotOffset(i) + l.keySize
	return l.f.Data[off : off+valueSize]
}

func (l leafView) valueAt(i int) Value {
	var v Value
	copy(v[:], l.valueBytes(i))
	return v
}

func (l leafView) setAt(i int, key []byte, val Value) {
	copy(l.keyBytes(i), key)
	copy(l.valueBytes(i), val[:])
	l.f.Dirty = true
}

// insertAt shifts slots [i, size) right by one and writes key/val at
// i, then bumps size. Caller must ensure capacity (size < allocated
// slot count) before calling; the tree allocates one slot of headroom
// beyond maxSize-1 so an over-full leaf can exist transiently before
// being split.
func (l leafView) insertAt(i int, key []byte, val Value) {
	n := l.size()
	for j := n; j > i; j-- {
		copy(l.keyBytes(j), l.keyBytes(j-1))
		copy(l.valueBytes(j), l.valueBytes(j-1))
	}
	copy(l.keyBytes(i), key)
	copy(l.valueBytes(i), val[:])
	l.setSize(n + 1)
}

// removeAt shifts slots (i, size) left by one and shrinks size.
func (l leafView) removeAt(i int) {
	n := l.size()
	for j := i; j < n-1; j++ {
		copy(l.keyBytes(j), l.keyBytes(j+1))
		copy(l.valueBytes(j), l.valueBytes(j+1))
	}
	l.setSize(n - 1)
}

// borrowFromLeft moves left's last entry to this leaf's front.
func (l leafView) borrowFromLeft(left leafView) {
	n := left.size()
	key := append([]byte(nil), left.keyBytes(n-1)...)
	val := left.valueAt(n - 1)
	left.removeAt(n - 1)
	l.insertAt(0, key, val)
}

// borrowFromRight moves right's first entry to this leaf's end.
func (l leafView) borrowFromRight(right leafView) {
	key := append([]byte(nil), right.keyBytes(0)...)
	val := right.valueAt(0)
	right.removeAt(0)
	l.insertAt(l.size(), key, val)
}

// mergeFrom appends all of right's entries onto this leaf and takes
// over its sibling-chain pointer.
func (l leafView) mergeFrom(right leafView) {
	base := l.size()
	for i := 0; i < right.size(); i++ {
		l.insertAt(base+i, append([]byte(nil), right.keyBytes(i)...), right.valueAt(i))
	}
	l.setNextID(right.nextID())
}

// init formats a fresh frame as an empty leaf.
func (l leafView) init(self, parent page.PageID, maxSize int) {
	l.setType(typeLeaf)
	l.setSize(0)
	l.setMaxSize(maxSize)
	l.setSelfID(self)
	l.setParentID(parent)
	l.setNextID(page.InvalidID)
}

// leafMinSize is the occupancy floor below which a non-root leaf must
// rebalance: ⌈(maxSize-1)/2⌉ entries (spec.md §4.4.4).
func leafMinSize(maxSize int) int { return ceilDiv(maxSize-1, 2) }
