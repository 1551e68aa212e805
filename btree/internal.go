package btree

import (
	"encoding/binary"

	"dbcore/internal/page"
)

// internalView addresses an internal page's two parallel slot arrays:
// a children array of PageIDs (length maxSize+1, slots 0..size used)
// and a keys array (length maxSize+1, slots 1..size used — key[i]
// separates children[i-1] and children[i]). Keeping the arrays
// separate instead of interleaving avoids having to know keySize to
// shift children and vice versa.
type internalView struct {
	view
	keySize int
}

// Children array holds maxSize()+1 slots (indices 0..maxSize, since a
// node with maxSize keys has maxSize+1 children); the keys array is
// sized the same for uniform indexing, though index 0 is unused.
func (n internalView) childrenOffset() int { return headerSize }
func (n internalView) keysOffset() int     { return headerSize + (n.maxSize()+1)*4 }

func (n internalView) childOffset(i int) int { return n.childrenOffset() + i*4 }
func (n internalView) keyOffset(i int) int   { return n.keysOffset() + i*n.keySize }

func (n internalView) childAt(i int) page.PageID {
	return page.PageID(binary.BigEndian.Uint32(n.f.Data[n.childOffset(i):]))
}

func (n internalView) setChildAt(i int, id page.PageID) {
	binary.BigEndian.PutUint32(n.f.Data[n.childOffset(i):], uint32(id))
	n.f.Dirty = true
}

func (n internalView) keyBytes(i int) []byte {
	off := n.keyOffset(i)
	return n.f.Data[off : off+n.keySize]
}

func (n internalView) setKeyAt(i int, key []byte) {
	copy(n.keyBytes(i), key)
	n.f.Dirty = true
}

// insertChildAt inserts key (separating the new child from its left
// neighbor) and child at position i (1 <= i <= size+1), shifting
// keys[i..size] and children[i..size] right by one.
func (n internalView) insertChildAt(i int, key []byte, child page.PageID) {
	size := n.size()
	for j := size + 1; j > i; j-- {
		n.setChildAt(j, n.childAt(j-1))
	}
	for j := size; j >= i; j-- {
		copy(n.keyBytes(j+1), n.keyBytes(j))
	}
	n.setChildAt(i, child)
	n.setKeyAt(i, key)
	n.setSize(size + 1)
}

// removeAt removes key[i]/children[i], shifting the remainder left.
func (n internalView) removeAt(i int) {
	size := n.size()
	for j := i; j < size; j++ {
		copy(n.keyBytes(j), n.keyBytes(j+1))
	}
	for j := i; j < size+1; j++ {
		n.setChildAt(j, n.childAt(j+1))
	}
	n.setSize(size - 1)
}

// childIndex returns the index of the child pointer equal to id, or
// -1 if not found.
func (n internalView) childIndex(id page.PageID) int {
	for i := 0; i <= n.size(); i++ {
		if n.childAt(i) == id {
			return i
		}
	}
	return -1
}

// prependChild inserts child as the new children[0], with key
// separating it from the old children[0] landing at key[1]. Used when
// borrowing a node's last child from its left sibling.
func (n internalView) prependChild(key []byte, child page.PageID) {
	size := n.size()
	for j := size + 1; j > 0; j-- {
		n.setChildAt(j, n.childAt(j-1))
	}
	for j := size + 1; j > 1; j-- {
		copy(n.keyBytes(j), n.keyBytes(j-1))
	}
	n.setChildAt(0, child)
	n.setKeyAt(1, key)
	n.setSize(size + 1)
}

// appendChild adds child as the new last child, with key separating
// it from the previous last child.
func (n internalView) appendChild(key []byte, child page.PageID) {
	size := n.size()
	n.setKeyAt(size+1, key)
	n.setChildAt(size+1, child)
	n.setSize(size + 1)
}

// popFirstChild removes and returns children[0] and the key that
// separated it from children[1].
func (n internalView) popFirstChild() ([]byte, page.PageID) {
	child := n.childAt(0)
	key := append([]byte(nil), n.keyBytes(1)...)
	size := n.size()
	for j := 0; j < size; j++ {
		n.setChildAt(j, n.childAt(j+1))
	}
	for j := 1; j < size; j++ {
		copy(n.keyBytes(j), n.keyBytes(j+1))
	}
	n.setSize(size - 1)
	return key, child
}

// popLastChild removes and returns the last child and the key that
// separated it from its predecessor.
func (n internalView) popLastChild() ([]byte, page.PageID) {
	size := n.size()
	child := n.childAt(size)
	key := append([]byte(nil), n.keyBytes(size)...)
	n.setSize(size - 1)
	return key, child
}

func (n internalView) init(self, parent page.PageID, maxSize int) {
	n.setType(typeInternal)
	n.setSize(0)
	n.setMaxSize(maxSize)
	n.setSelfID(self)
	n.setParentID(parent)
}

// internalMinSize is the occupancy floor below which a non-root
// internal node must rebalance: ⌈maxSize/2⌉ children (spec.md §4.4.4).
func internalMinSize(maxSize int) int { return ceilDiv(maxSize, 2) }
