package emit

import (
	"errors"
	"sync"
	"sync/atomic"
)

// ErrInvalidCapacity is returned when a channel is created with a capacity below one.
var ErrInvalidCapacity = errors.New("emit: capacity must be positive")

const cacheLine = 64

type cell[T any] struct {
	seq atomic.Uint64
	val T
}

// Channel is a fixed-capacity ring of records. Any number of goroutines may
// Push; Drain and DrainTo serialize among themselves.
type Channel[T any] struct {
	_    [cacheLine]byte
	tail atomic.Uint64
	_    [cacheLine - 8]byte
	head atomic.Uint64
	_    [cacheLine - 8]byte

	cells []cell[T]
	mask  uint64
	limit uint64

	pushed  atomic.Uint64
	dropped atomic.Uint64
	drained atomic.Uint64

	drainMu sync.Mutex
}

// Stats is a point-in-time view of a channel's counters.
type Stats struct {
	Capacity uint64 `json:"capacity"`
	Pushed   uint64 `json:"pushed"`
	Dropped  uint64 `json:"dropped"`
	Drained  uint64 `json:"drained"`
	Pending  uint64 `json:"pending"`
}

// NewChannel creates a channel holding at most capacity records. The ring
// underneath is sized to the next power of two.
func NewChannel[T any](capacity int) (*Channel[T], error) {
	if capacity < 1 {
		return nil, ErrInvalidCapacity
	}

	size := uint64(1)
	for size < uint64(capacity) {
		size <<= 1
	}

	c := &Channel[T]{
		cells: make([]cell[T], size),
		mask:  size - 1,
		limit: uint64(capacity),
	}
	for i := range c.cells {
		c.cells[i].seq.Store(uint64(i))
	}
	return c, nil
}

// Cap returns the configured capacity.
func (c *Channel[T]) Cap() int {
	return int(c.limit)
}

// Push copies v into the channel. It returns false, and counts a drop, when
// the channel is full.
func (c *Channel[T]) Push(v T) bool {
	pos := c.tail.Load()
	for {
		cl := &c.cells[pos&c.mask]
		seq := cl.seq.Load()
		switch dif := int64(seq - pos); {
		case dif == 0:
			if pos-c.head.Load() >= c.limit {
				c.dropped.Add(1)
				return false
			}
			if c.tail.CompareAndSwap(pos, pos+1) {
				cl.val = v
				cl.seq.Store(pos + 1)
				c.pushed.Add(1)
				return true
			}
			pos = c.tail.Load()
		case dif < 0:
			c.dropped.Add(1)
			return false
		default:
			pos = c.tail.Load()
		}
	}
}

// DrainTo hands every published record to fn in order and returns how many
// were delivered. A slot reserved by a producer that has not finished writing
// ends the drain; it is picked up by the next call.
func (c *Channel[T]) DrainTo(fn func(T)) int {
	c.drainMu.Lock()
	defer c.drainMu.Unlock()

	var zero T
	n := 0
	pos := c.head.Load()
	for {
		cl := &c.cells[pos&c.mask]
		if cl.seq.Load() != pos+1 {
			break
		}
		v := cl.val
		cl.val = zero
		cl.seq.Store(pos + c.mask + 1)
		pos++
		c.head.Store(pos)
		n++
		fn(v)
	}
	c.drained.Add(uint64(n))
	return n
}

// Drain returns every published record in order.
func (c *Channel[T]) Drain() []T {
	var out []T
	c.DrainTo(func(v T) {
		out = append(out, v)
	})
	return out
}

// Len returns the number of slots currently reserved or published.
func (c *Channel[T]) Len() int {
	tail := c.tail.Load()
	head := c.head.Load()
	if tail < head {
		return 0
	}
	return int(tail - head)
}

// Stats returns the channel counters.
func (c *Channel[T]) Stats() Stats {
	return Stats{
		Capacity: c.limit,
		Pushed:   c.pushed.Load(),
		Dropped:  c.dropped.Load(),
		Drained:  c.drained.Load(),
		Pending:  uint64(c.Len()),
	}
}
