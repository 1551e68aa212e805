package btree

import (
	"encoding/binary"

	"dbcore/internal/page"
)

// Node header layout, common to leaf and internal pages, at the front
// of every B+ tree page (spec.md §4.4's "header fields at fixed
// offsets followed by a packed slot array"):
//
//	offset  0   type        uint8
//	offset  1   size        uint32  (number of keys resident)
//	offset  5   maxSize     uint32  (L or M, as constructed)
//	offset  9   parentID    uint32
//	offset 13   selfID      uint32
//	offset 17   nextID      uint32  (leaf sibling chain; unused by internal)
const (
	offType     = 0
	offSize     = 1
	offMaxSize  = 5
	offParentID = 9
	offSelfID   = 13
	offNextID   = 17
	headerSize  = 21
)

type nodeType uint8

const (
	typeInvalid nodeType = 0
	typeLeaf    nodeType = 1
	typeInternal nodeType = 2
)

// view wraps a pinned, latched frame with the header accessors shared
// by leaf and internal nodes.
type view struct {
	f *page.Frame
}

func (v view) nodeType() nodeType  { return nodeType(v.f.Data[offType]) }
func (v view) setType(t nodeType)  { v.f.Data[offType] = byte(t); v.f.Dirty = true }
func (v view) isLeaf() bool        { return v.nodeType() == typeLeaf }
func (v view) isInternal() bool    { return v.nodeType() == typeInternal }

func (v view) size() int { return int(binary.BigEndian.Uint32(v.f.Data[offSize:])) }
func (v view) setSize(n int) {
	binary.BigEndian.PutUint32(v.f.Data[offSize:], uint32(n))
	v.f.Dirty = true
}

func (v view) maxSize() int { return int(binary.BigEndian.Uint32(v.f.Data[offMaxSize:])) }
func (v view) setMaxSize(n int) {
	binary.BigEndian.PutUint32(v.f.Data[offMaxSize:], uint32(n))
	v.f.Dirty = true
}

func (v view) parentID() page.PageID { return page.PageID(binary.BigEndian.Uint32(v.f.Data[offParentID:])) }
func (v view) setParentID(id page.PageID) {
	binary.BigEndian.PutUint32(v.f.Data[offParentID:], uint32(id))
	v.f.Dirty = true
}

func (v view) selfID() page.PageID { return page.PageID(binary.BigEndian.Uint32(v.f.Data[offSelfID:])) }
func (v view) setSelfID(id page.PageID) {
	binary.BigEndian.PutUint32(v.f.Data[offSelfID:], uint32(id))
	v.f.Dirty = true
}

func (v view) nextID() page.PageID { return page.PageID(binary.BigEndian.Uint32(v.f.Data[offNextID:])) }
func (v view) setNextID(id page.PageID) {
	binary.BigEndian.PutUint32(v.f.Data[offNextID:], uint32(id))
	v.f.Dirty = true
}

// isRoot reports whether this node has no parent.
func (v view) isRoot() bool { return v.parentID() == page.InvalidID }

// ceilDiv returns ⌈a/b⌉. The occupancy floors are built on it:
// leafMinSize (⌈(maxSize-1)/2⌉ leaf keys) and internalMinSize
// (⌈maxSize/2⌉ internal children).
func ceilDiv(a, b int) int { return (a + b - 1) / b }
