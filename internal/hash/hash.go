// Package hash implements an extendible hash table: a directory of
// shared bucket references, doubling on overflow and splitting only
// the bucket that overflowed (spec.md §4.1). It backs the buffer
// pool's page table, and is exported generically for any other
// id -> slot map a caller needs.
package hash

import (
	"sync"

	"github.com/cespare/xxhash/v2"

	"dbcore/pkg/bitwise"
)

// Hasher produces a 64-bit hash of a key. The low bits of the hash
// address the directory.
type Hasher[K comparable] func(K) uint64

// DefaultHasher builds a Hasher out of xxhash, the fast
// non-cryptographic hash the directory's low-bit addressing wants, for
// any key that can be rendered to bytes via encode.
func DefaultHasher[K comparable](encode func(K) []byte) Hasher[K] {
	return func(k K) uint64 {
		return xxhash.Sum64(encode(k))
	}
}

// entry is one key/value pair stored in a bucket.
type entry[K comparable, V any] struct {
	key K
	val V
}

// bucket is a bounded, unordered list of entries sharing a local
// depth. Multiple directory slots may point at the same bucket.
type bucket[K comparable, V any] struct {
	localDepth int
	items      []entry[K, V]
}

func newBucket[K comparable, V any](localDepth, capacity int) *bucket[K, V] {
	return &bucket[K, V]{localDepth: localDepth, items: make([]entry[K, V], 0, capacity)}
}

func (b *bucket[K, V]) find(key K) (V, bool) {
	for _, e := range b.items {
		if e.key == key {
			return e.val, true
		}
	}
	var zero V
	return zero, false
}

// upsert returns true if an existing entry was updated, false if an
// append happened. Insert calls it only when the bucket has room or
// already holds key, so an append never exceeds the bucket's capacity.
func (b *bucket[K, V]) upsert(key K, val V) bool {
	for i := range b.items {
		if b.items[i].key == key {
			b.items[i].val = val
			return true
		}
	}
	b.items = append(b.items, entry[K, V]{key: key, val: val})
	return false
}

func (b *bucket[K, V]) remove(key K) bool {
	for i, e := range b.items {
		if e.key == key {
			b.items = append(b.items[:i], b.items[i+1:]...)
			return true
		}
	}
	return false
}

func (b *bucket[K, V]) full(capacity int) bool {
	return len(b.items) >= capacity
}

// Table is a directory-based extendible hash table. Zero value is not
// usable; construct with New.
type Table[K comparable, V any] struct {
	mu          sync.Mutex
	hash        Hasher[K]
	bucketSize  int
	globalDepth int
	directory   []*bucket[K, V]
}

// New creates a Table whose buckets hold up to bucketSize entries
// before splitting. hash supplies the key hash; its low bits address
// the directory.
func New[K comparable, V any](bucketSize int, hash Hasher[K]) *Table[K, V] {
	if bucketSize < 1 {
		bucketSize = 1
	}
	b := newBucket[K, V](0, bucketSize)
	return &Table[K, V]{
		hash:        hash,
		bucketSize:  bucketSize,
		globalDepth: 0,
		directory:   []*bucket[K, V]{b},
	}
}

func lowBits(hash uint64, depth int) int {
	if depth == 0 {
		return 0
	}
	return int(hash & ((1 << uint(depth)) - 1))
}

// Find returns the value for key, if present.
func (t *Table[K, V]) Find(key K) (V, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := lowBits(t.hash(key), t.globalDepth)
	return t.directory[idx].find(key)
}

// Insert upserts key -> val, growing the directory and splitting
// buckets as needed per spec.md §4.1's split algorithm.
func (t *Table[K, V]) Insert(key K, val V) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for {
		idx := lowBits(t.hash(key), t.globalDepth)
		b := t.directory[idx]

		if !b.full(t.bucketSize) {
			b.upsert(key, val)
			return
		}
		if _, ok := b.find(key); ok {
			b.upsert(key, val)
			return
		}

		t.splitBucket(idx)
		// Loop: re-address key against the (possibly grown) directory
		// and retry against whichever bucket now receives it.
	}
}

// splitBucket splits the bucket addressed by directory slot idx,
// doubling the directory first if the bucket's local depth has caught
// up with the global depth.
func (t *Table[K, V]) splitBucket(idx int) {
	old := t.directory[idx]

	if old.localDepth == t.globalDepth {
		t.directory = append(t.directory, t.directory...)
		t.globalDepth++
	}

	newLocalDepth := old.localDepth + 1
	low := newBucket[K, V](newLocalDepth, t.bucketSize)
	high := newBucket[K, V](newLocalDepth, t.bucketSize)

	splitBit := old.localDepth
	for _, e := range old.items {
		if bitwise.IsSet(t.hash(e.key), splitBit) {
			high.items = append(high.items, e)
		} else {
			low.items = append(low.items, e)
		}
	}

	signature := lowBits(uint64(idx), old.localDepth)
	mask := 1 << uint(old.localDepth)
	for i := range t.directory {
		if i&(mask-1) != signature {
			continue
		}
		if i&mask != 0 {
			t.directory[i] = high
		} else {
			t.directory[i] = low
		}
	}
}

// Remove deletes key, if present, reporting whether it was found.
// Buckets are never merged back together on removal: the spec defines
// growth but is silent on shrink, and an extendible hash table with no
// merge step remains correct (just not maximally compact).
func (t *Table[K, V]) Remove(key K) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := lowBits(t.hash(key), t.globalDepth)
	return t.directory[idx].remove(key)
}

// GlobalDepth returns the current directory depth.
func (t *Table[K, V]) GlobalDepth() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.globalDepth
}

// BucketCount returns the number of distinct buckets, which may be
// fewer than len(directory) since multiple slots can share a bucket.
func (t *Table[K, V]) BucketCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	seen := make(map[*bucket[K, V]]struct{}, len(t.directory))
	for _, b := range t.directory {
		seen[b] = struct{}{}
	}
	return len(seen)
}
