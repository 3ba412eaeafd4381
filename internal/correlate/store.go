package correlate

import (
	"encoding/binary"
	"errors"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// Ways is the number of slots in each set.
const Ways = 4

// ErrInvalidCapacity is returned when a store is created with a capacity below one.
var ErrInvalidCapacity = errors.New("correlate: capacity must be positive")

// HashFunc maps a key to a 64-bit hash. It must be deterministic.
type HashFunc[K comparable] func(K) uint64

// HashUint64 hashes a 64-bit identity such as an object address or a thread id.
func HashUint64(v uint64) uint64 {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return xxhash.Sum64(b[:])
}

// HashBytes hashes an encoded composite key.
func HashBytes(b []byte) uint64 {
	return xxhash.Sum64(b)
}

type slot[K comparable, V any] struct {
	key  K
	val  V
	seq  uint64
	used bool
}

type set[K comparable, V any] struct {
	mu    sync.Mutex
	slots [Ways]slot[K, V]
	seq   uint64

	live      uint64
	inserted  uint64
	replaced  uint64
	evicted   uint64
	ended     uint64
	misses    uint64
	discarded uint64

	_ [64]byte // keeps neighbouring set locks off the same cache line
}

// Store is a bounded table of pending values keyed by operation identity.
// It is safe for concurrent use.
type Store[K comparable, V any] struct {
	sets []set[K, V]
	mask uint64
	hash HashFunc[K]
}

// Stats is a point-in-time view of a store's counters.
type Stats struct {
	Capacity  uint64 `json:"capacity"`
	Live      uint64 `json:"live"`
	Inserted  uint64 `json:"inserted"`
	Replaced  uint64 `json:"replaced"`
	Evicted   uint64 `json:"evicted"`
	Ended     uint64 `json:"ended"`
	Misses    uint64 `json:"misses"`
	Discarded uint64 `json:"discarded"`
}

// NewStore creates a store holding at least capacity entries. The capacity is
// rounded up so that the number of sets is a power of two.
func NewStore[K comparable, V any](capacity int, hash HashFunc[K]) (*Store[K, V], error) {
	if capacity < 1 {
		return nil, ErrInvalidCapacity
	}
	if hash == nil {
		return nil, errors.New("correlate: nil hash function")
	}

	nsets := uint64((capacity + Ways - 1) / Ways)
	nsets = nextPowerOfTwo(nsets)

	return &Store[K, V]{
		sets: make([]set[K, V], nsets),
		mask: nsets - 1,
		hash: hash,
	}, nil
}

func nextPowerOfTwo(v uint64) uint64 {
	if v <= 1 {
		return 1
	}
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v |= v >> 32
	return v + 1
}

func (s *Store[K, V]) setFor(key K) *set[K, V] {
	return &s.sets[s.hash(key)&s.mask]
}

// Begin records val as the pending value for key. A live entry for the same key
// is replaced. If the key's set is full the oldest entry in it is overwritten.
func (s *Store[K, V]) Begin(key K, val V) {
	st := s.setFor(key)
	st.mu.Lock()
	defer st.mu.Unlock()

	st.seq++
	free, oldest := -1, -1
	for i := range st.slots {
		sl := &st.slots[i]
		if !sl.used {
			if free < 0 {
				free = i
			}
			continue
		}
		if sl.key == key {
			sl.val = val
			sl.seq = st.seq
			st.replaced++
			return
		}
		if oldest < 0 || sl.seq < st.slots[oldest].seq {
			oldest = i
		}
	}

	idx := free
	if idx < 0 {
		idx = oldest
		st.evicted++
	} else {
		st.live++
	}
	st.slots[idx] = slot[K, V]{key: key, val: val, seq: st.seq, used: true}
	st.inserted++
}

// End removes and returns the pending value for key. The boolean is false when
// no start was recorded for key.
func (s *Store[K, V]) End(key K) (V, bool) {
	st := s.setFor(key)
	st.mu.Lock()
	defer st.mu.Unlock()

	if i := st.find(key); i >= 0 {
		val := st.slots[i].val
		st.clear(i)
		st.ended++
		return val, true
	}

	st.misses++
	var zero V
	return zero, false
}

// Discard removes the pending value for key without returning it. It reports
// whether an entry was removed.
func (s *Store[K, V]) Discard(key K) bool {
	st := s.setFor(key)
	st.mu.Lock()
	defer st.mu.Unlock()

	if i := st.find(key); i >= 0 {
		st.clear(i)
		st.discarded++
		return true
	}
	return false
}

// Contains reports whether key has a pending value.
func (s *Store[K, V]) Contains(key K) bool {
	st := s.setFor(key)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.find(key) >= 0
}

// Len returns the number of pending entries.
func (s *Store[K, V]) Len() int {
	var n uint64
	for i := range s.sets {
		st := &s.sets[i]
		st.mu.Lock()
		n += st.live
		st.mu.Unlock()
	}
	return int(n)
}

// Cap returns the effective capacity after rounding.
func (s *Store[K, V]) Cap() int {
	return len(s.sets) * Ways
}

// Stats sums the per-set counters. Sets are read one at a time, so the result
// is not an atomic snapshot of the whole table.
func (s *Store[K, V]) Stats() Stats {
	out := Stats{Capacity: uint64(s.Cap())}
	for i := range s.sets {
		st := &s.sets[i]
		st.mu.Lock()
		out.Live += st.live
		out.Inserted += st.inserted
		out.Replaced += st.replaced
		out.Evicted += st.evicted
		out.Ended += st.ended
		out.Misses += st.misses
		out.Discarded += st.discarded
		st.mu.Unlock()
	}
	return out
}

func (st *set[K, V]) find(key K) int {
	for i := range st.slots {
		if st.slots[i].used && st.slots[i].key == key {
			return i
		}
	}
	return -1
}

func (st *set[K, V]) clear(i int) {
	st.slots[i] = slot[K, V]{}
	st.live--
}
