package core

import (
	"encoding/binary"

	"github.com/zeebo/xxh3"
)

// idIndex is a flat, open-addressed hash table mapping OSM ids (always > 0)
// to a uint32 offset, keyed by an xxh3 hash of the id's 8 big-endian bytes.
// It exists to keep the node cache's "hash cost is the hash alone" budget
// (§4.4) tight: a plain Go map[int64]uint32 carries 12-20 bytes/entry of
// bucket/hash overhead on top of the 12 bytes the key/value actually need,
// which matters at hundreds of millions of entries. Zero is never a valid
// OSM id, so it doubles as the "empty slot" sentinel.
type idIndex struct {
	keys []int64
	vals []uint32
	mask uint64
}

// newIDIndex allocates a table sized for capacity entries at a load factor
// of at most 0.5.
func newIDIndex(capacity int) *idIndex {
	size := nextPow2(capacity*2 + 16)
	return &idIndex{
		keys: make([]int64, size),
		vals: make([]uint32, size),
		mask: uint64(size - 1),
	}
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func hashID(id int64) uint64 {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(id))
	return xxh3.Hash(b[:])
}

// put inserts id -> val. Behavior is undefined if id is already present;
// callers (cache loaders) only ever insert each id once.
func (x *idIndex) put(id int64, val uint32) {
	i := hashID(id) & x.mask
	for x.keys[i] != 0 {
		i = (i + 1) & x.mask
	}
	x.keys[i] = id
	x.vals[i] = val
}

// get looks up id, returning its value and whether it was present.
func (x *idIndex) get(id int64) (uint32, bool) {
	i := hashID(id) & x.mask
	for x.keys[i] != 0 {
		if x.keys[i] == id {
			return x.vals[i], true
		}
		i = (i + 1) & x.mask
	}
	return 0, false
}

// len reports the number of slots allocated, not the number occupied; used
// by binNodeCache.Stats to report index overhead separately from mmap size.
func (x *idIndex) len() int { return len(x.keys) }
