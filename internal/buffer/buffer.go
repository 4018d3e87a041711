// Package buffer implements the circular byte storage that backs every
// channel in the relay core. A Buffer has a fixed capacity and splits its
// contents into two logical regions in stream order: an output region
// (bytes already scheduled for transmission) followed by an input region
// (bytes received but not yet forwarded). A single wrap-around pointer
// separates the two.
package buffer

// Buffer is a fixed-capacity circular byte area with an output region of
// length o followed, in stream order, by an input region of length i.
// p always points at the first byte of the input region, one past the last
// output byte. Neither region is ever allowed to overlap or exceed size.
type Buffer struct {
	data []byte
	size int

	p    int // read pointer: start of input region, mod size
	o    int // length of output region
	i    int // length of input region

	// limit reduces the effective input capacity below size, used while
	// headers are being rewritten in place and a hard cap on how much
	// more can be buffered is required.
	limit int
}

// New allocates a Buffer with the given capacity. A zero-valued Buffer
// (size == 0) is the "empty sentinel" described by the data model: a
// channel may reference it while idle, swapping in a real Buffer only
// when I/O begins.
func New(size int) *Buffer {
	return &Buffer{data: make([]byte, size), size: size, limit: size}
}

// NewFromSlice wraps a pool-supplied slice instead of allocating one,
// so a Channel's Buffer can be handed out by pool.BufferPool (a channel
// lease) rather than allocated fresh per stream.
func NewFromSlice(data []byte) *Buffer {
	return &Buffer{data: data, size: len(data), limit: len(data)}
}

// Release resets the buffer to empty and returns its backing slice,
// sized back to its full capacity, so the caller can return it to the
// pool it came from.
func (b *Buffer) Release() []byte {
	data := b.data[:cap(b.data)]
	b.data, b.size, b.p, b.o, b.i, b.limit = nil, 0, 0, 0, 0, 0
	return data
}

// IsEmpty reports whether this is the zero-capacity sentinel.
func (b *Buffer) IsEmpty() bool { return b == nil || b.size == 0 }

// Cap returns the total capacity of the buffer.
func (b *Buffer) Cap() int { return b.size }

// OutputLen returns the number of bytes in the output region.
func (b *Buffer) OutputLen() int { return b.o }

// InputLen returns the number of bytes in the input region.
func (b *Buffer) InputLen() int { return b.i }

// Free returns the unused capacity available for more input.
func (b *Buffer) Free() int { return b.size - b.o - b.i }

// SetLimit caps the effective input capacity below size. A limit of 0 or
// less restores the full capacity.
func (b *Buffer) SetLimit(n int) {
	if n <= 0 || n > b.size {
		n = b.size
	}
	b.limit = n
}

// wrapAdd returns (ptr+n) modulo size: pointer arithmetic with wraparound.
func (b *Buffer) wrapAdd(ptr, n int) int {
	r := ptr + n
	if r >= b.size {
		r -= b.size
	}
	return r
}

// outputStart returns the index of the first output byte.
func (b *Buffer) outputStart() int {
	return b.wrapAdd(b.p, -b.o+b.size)
}

// Advance moves the read pointer p forward by n bytes, converting n bytes
// from the input region into the output region. The caller guarantees
// n <= InputLen(); Advance does not validate this.
func (b *Buffer) Advance(n int) {
	b.p = b.wrapAdd(b.p, n)
	b.o += n
	b.i -= n
}

// Realign resets p to the base of the storage when the output region is
// empty, exposing the maximum contiguous input region. It returns the
// resulting contiguous free space.
func (b *Buffer) Realign() int {
	if b.o == 0 {
		b.p = 0
	}
	return b.ContigSpace()
}

// ContigSpace returns the largest contiguous free-space slice available
// from the current write position, accounting for wraparound.
func (b *Buffer) ContigSpace() int {
	writeAt := b.wrapAdd(b.p, b.i)
	free := b.Free()
	if free <= 0 {
		return 0
	}
	tillWrap := b.size - writeAt
	if tillWrap < free {
		return tillWrap
	}
	return free
}

// MaxLen returns the effective input capacity, reduced by any explicit
// read limit set while headers are being rewritten.
func (b *Buffer) MaxLen() int {
	if b.limit < b.size {
		return b.limit
	}
	return b.size
}

// SkipOutput drops n bytes from the output region without copying them
// anywhere; used after bytes have been delivered to a consumer.
func (b *Buffer) SkipOutput(n int) {
	if n > b.o {
		n = b.o
	}
	b.o -= n
}

// writeAt returns the absolute index at which the next input byte lands.
func (b *Buffer) writeAt() int {
	return b.wrapAdd(b.p, b.i)
}

// PutByte appends one byte to the input region. Returns 0 on success, or
// -1 if there is no room, whether because of an explicit limit or because
// the buffer is full.
func (b *Buffer) PutByte(c byte) int {
	if b.o+b.i >= b.MaxLen() {
		return -1
	}
	if b.Free() <= 0 {
		return -1
	}
	b.data[b.writeAt()] = c
	b.i++
	return 0
}

// PutBlock appends blk to the input region using at most two copies (when
// the write wraps around the end of storage). Returns the number of bytes
// written, or 0 for an empty block, or -1 if the buffer is momentarily too
// full to accept any of it.
func (b *Buffer) PutBlock(blk []byte) int {
	n := len(blk)
	if n == 0 {
		return 0
	}
	maxLen := b.MaxLen()
	room := maxLen - (b.o + b.i)
	if room <= 0 {
		return -1
	}
	if n > room {
		n = room
	}

	start := b.writeAt()
	first := b.size - start
	if first > n {
		first = n
	}
	copy(b.data[start:start+first], blk[:first])
	if n > first {
		copy(b.data[0:n-first], blk[first:n])
	}
	b.i += n
	return n
}

// contigSlices returns up to two slices covering length bytes starting
// at start, splitting at the physical end of storage when the range
// wraps. Shared by the output and input region scanners below.
func (b *Buffer) contigSlices(start, length int) (first, second []byte) {
	if length == 0 {
		return nil, nil
	}
	till := b.size - start
	if till >= length {
		return b.data[start : start+length], nil
	}
	return b.data[start:b.size], b.data[0 : length-till]
}

// contigOutputSlices returns up to two slices describing the current
// output region in stream order, handling wraparound.
func (b *Buffer) contigOutputSlices() (first, second []byte) {
	if b.o == 0 {
		return nil, nil
	}
	return b.contigSlices(b.outputStart(), b.o)
}

// ScanInputForByte reports whether target appears anywhere in the input
// region, without consuming or copying it out: the read-side
// counterpart of GetLine's non-destructive output scan, letting an
// analyser decide whether enough has arrived to judge before any of it
// is forwarded to the output region.
func (b *Buffer) ScanInputForByte(target byte) bool {
	first, second := b.contigSlices(b.p, b.i)
	for _, seg := range [][]byte{first, second} {
		for _, c := range seg {
			if c == target {
				return true
			}
		}
	}
	return false
}

// GetLine copies bytes from the output region into dst up to and
// including the first '\n', or up to len(dst), whichever is less. It is
// non-destructive: the caller must explicitly SkipOutput the consumed
// bytes. Returns the number of bytes copied (> 0), 0 if no newline has
// arrived yet and more input may still come, or a negative code if the
// output side can never produce one (shut, by the caller passing
// outputShut=true).
func (b *Buffer) GetLine(dst []byte, outputShut bool) int {
	first, second := b.contigOutputSlices()
	limit := len(dst)
	n := 0
	for _, seg := range [][]byte{first, second} {
		for _, c := range seg {
			if n >= limit {
				return n
			}
			dst[n] = c
			n++
			if c == '\n' {
				return n
			}
		}
	}
	if outputShut {
		return -1
	}
	return 0
}

// GetBlock copies exactly n bytes starting at offset within the output
// region into dst, across wraparound if necessary. Returns n on success,
// 0 if there is not yet enough data buffered, or a negative code if the
// request can never be satisfied (the caller passes outputShut=true when
// the producer side has already shut down).
func (b *Buffer) GetBlock(dst []byte, n, offset int, outputShut bool) int {
	if offset+n > b.o {
		if outputShut {
			return -1
		}
		return 0
	}
	start := b.wrapAdd(b.outputStart(), offset)
	till := b.size - start
	if till >= n {
		copy(dst[:n], b.data[start:start+n])
		return n
	}
	copy(dst[:till], b.data[start:b.size])
	copy(dst[till:n], b.data[0:n-till])
	return n
}

// InjectOutput appends msg directly into the output region, bypassing
// analysis. The caller guarantees there is no pending input ahead of it.
// Returns -1 on success, -2 if msg is larger than the whole buffer, or
// the available contiguous room if there isn't enough space right now.
func (b *Buffer) InjectOutput(msg []byte) int {
	n := len(msg)
	if n > b.size {
		return -2
	}
	if n > b.Free() {
		return b.ContigSpace()
	}
	start := b.writeAt()
	first := b.size - start
	if first > n {
		first = n
	}
	copy(b.data[start:start+first], msg[:first])
	if n > first {
		copy(b.data[0:n-first], msg[first:n])
	}
	b.i += n
	b.Advance(n)
	return -1
}

// Reset clears the buffer to its empty state without releasing storage.
func (b *Buffer) Reset() {
	b.p, b.o, b.i = 0, 0, 0
	b.limit = b.size
}
