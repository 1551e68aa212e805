// Package fixtures generates randomized, collision-free key/value
// fixtures for stress-exercising the storage engine, the way
// minisqltest.DataGen generates randomized rows for the SQL layer.
package fixtures

import (
	"encoding/binary"

	"github.com/brianvoe/gofakeit/v6"

	"dbcore/btree"
)

// Gen produces unique int64 keys paired with 8-byte Values carrying a
// deterministic payload derived from the key, so a round-trip can be
// checked without keeping a side table.
type Gen struct {
	faker *gofakeit.Faker
	seen  map[int64]struct{}
}

// New creates a Gen seeded for reproducible fixture runs.
func New(seed uint64) *Gen {
	return &Gen{
		faker: gofakeit.New(int64(seed)),
		seen:  make(map[int64]struct{}),
	}
}

// Key returns a key not previously returned by this Gen.
func (g *Gen) Key() int64 {
	for {
		k := g.faker.Int64()
		if k < 0 {
			k = -k
		}
		if _, dup := g.seen[k]; dup {
			continue
		}
		g.seen[k] = struct{}{}
		return k
	}
}

// ValueFor derives a Value from key so callers can verify round-trips
// without tracking what they inserted.
func ValueFor(key int64) btree.Value {
	var v btree.Value
	binary.BigEndian.PutUint64(v[:], uint64(key)^0xA5A5A5A5A5A5A5A5)
	return v
}

// Pairs returns n unique (key, value) fixtures.
func (g *Gen) Pairs(n int) ([]int64, []btree.Value) {
	keys := make([]int64, n)
	vals := make([]btree.Value, n)
	for i := 0; i < n; i++ {
		keys[i] = g.Key()
		vals[i] = ValueFor(keys[i])
	}
	return keys, vals
}
