// Package pool implements typed arenas. ObjectPool is a generic
// single-threaded free list (the scheduler never runs two tasks at once,
// so no locking is needed) with a FIFO wait list for requesters that
// show up when the arena is empty. cmd/relayd takes its channel buffers
// from a BufferPool; it allocates channels and streams directly, not
// from an ObjectPool.
//
// BufferPool is a power-of-2 sync.Pool allocator in the style of smux's
// own buffer pool: the bucket-by-most-significant-bit trick keeps
// fragmentation under 50% and applies unchanged to channel backing
// storage, which is also handed out and returned in varying sizes.
package pool

import "sync"

var debruijnPos = [...]byte{0, 9, 1, 10, 13, 21, 2, 29, 11, 14, 16, 18, 22, 25, 3, 30, 8, 12, 20, 28, 15, 17, 24, 7, 19, 27, 23, 6, 26, 5, 4, 31}

func msb(size int) byte {
	v := uint32(size)
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	return debruijnPos[(v*0x07C4ACDD)>>27]
}

// BufferPool hands out []byte slices whose cap is always a power of two,
// capping waste from rounding up at 50%, for channel input/output
// storage in the range 1B-256KiB.
type BufferPool struct {
	buckets []sync.Pool
}

const maxBufferPoolShift = 18 // 256KiB

// NewBufferPool creates a BufferPool covering 1B to 256KiB requests.
func NewBufferPool() *BufferPool {
	p := &BufferPool{buckets: make([]sync.Pool, maxBufferPoolShift+1)}
	for k := range p.buckets {
		shift := k
		p.buckets[k].New = func() interface{} {
			b := make([]byte, 1<<uint32(shift))
			return &b
		}
	}
	return p
}

// Get returns a slice of length size backed by a cap that is a power of
// two, or nil if size is out of range.
func (p *BufferPool) Get(size int) *[]byte {
	if size <= 0 || size > 1<<maxBufferPoolShift {
		return nil
	}
	bits := msb(size)
	var b *[]byte
	if size == 1<<bits {
		b = p.buckets[bits].Get().(*[]byte)
	} else {
		b = p.buckets[bits+1].Get().(*[]byte)
	}
	*b = (*b)[:size]
	return b
}

// Put returns a slice obtained from Get back to its bucket. cap(*b) must
// be exactly a power of two, as Get guarantees.
func (p *BufferPool) Put(b *[]byte) {
	if b == nil || cap(*b) == 0 {
		return
	}
	bits := msb(cap(*b))
	if cap(*b) != 1<<bits {
		return
	}
	p.buckets[bits].Put(b)
}

// Waiter is anything that can be parked on an ObjectPool's wait list and
// woken once an object is returned: any requester with its own notion of
// "runnable" that implements Wake.
type Waiter interface {
	// Wake is called exactly once, when an object becomes available for
	// this waiter specifically. Implementations typically just flip a
	// flag the scheduler already polls (e.g. clearing CANT_PUT).
	Wake()
}

// ObjectPool is a free list of pre-built T objects (channels, streams,
// capture buffers) with a FIFO wait list for allocation requests that
// arrive when the free list is empty. new builds a fresh T when needed;
// reset restores a returned T to a reusable zero state.
type ObjectPool[T any] struct {
	free  []*T
	new   func() *T
	reset func(*T)

	waiters []Waiter
}

// NewObjectPool creates an empty pool. newFn must never return nil.
func NewObjectPool[T any](newFn func() *T, resetFn func(*T)) *ObjectPool[T] {
	return &ObjectPool[T]{new: newFn, reset: resetFn}
}

// Get returns a free object immediately, or builds a new one — the pool
// never blocks; a caller that wants backpressure semantics (the
// buffer_wait list in the applet contract) should size its pool's Get
// calls against a hard cap and queue a Waiter on AwaitRelease instead.
func (p *ObjectPool[T]) Get() *T {
	if n := len(p.free); n > 0 {
		obj := p.free[n-1]
		p.free = p.free[:n-1]
		return obj
	}
	return p.new()
}

// TryGet returns a free object without ever allocating a new one, or nil
// if the free list is empty — used by pools with a fixed capacity where
// exhaustion must surface as backpressure rather than unbounded growth.
func (p *ObjectPool[T]) TryGet() *T {
	n := len(p.free)
	if n == 0 {
		return nil
	}
	obj := p.free[n-1]
	p.free = p.free[:n-1]
	return obj
}

// Put resets and returns obj to the free list, then wakes the
// longest-waiting queued requester, if any.
func (p *ObjectPool[T]) Put(obj *T) {
	if p.reset != nil {
		p.reset(obj)
	}
	p.free = append(p.free, obj)
	if len(p.waiters) > 0 {
		w := p.waiters[0]
		p.waiters = p.waiters[1:]
		w.Wake()
	}
}

// AwaitRelease parks w on the wait list; it is woken on the next Put.
func (p *ObjectPool[T]) AwaitRelease(w Waiter) {
	p.waiters = append(p.waiters, w)
}

// Len reports how many objects currently sit idle in the free list.
func (p *ObjectPool[T]) Len() int { return len(p.free) }

// Waiting reports how many requesters are parked waiting for a release.
func (p *ObjectPool[T]) Waiting() int { return len(p.waiters) }
