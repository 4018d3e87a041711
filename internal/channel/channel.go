// Package channel implements the unidirectional byte pipe that sits
// between a stream's two interfaces: a fixed buffer, a flag word, read/
// write/connect timers, a forwarding credit counter, and an analyser
// bitmask gating inspection before bytes may be forwarded.
//
// A Channel never owns the stream interfaces that produce into or
// consume from it; per the design's back-reference note, those are
// non-owning handles (plain indices into the owning Stream) so that
// ownership stays a tree (Stream -> Channel/SI) rather than a cycle.
package channel

import (
	"time"

	"github.com/streamrelay/streamrelay/internal/buffer"
)

// Infinite is the to_forward sentinel meaning "unlimited": once set, the
// consumer may drain the channel without further credit bookkeeping.
const Infinite = ^uint64(0)

// maxForward caps a saturating forward() accumulation at 2 GiB, per spec.
const maxForward = 2 << 30

// Analyser bits name an inspection stage that must complete before bytes
// in the input region may be promoted to the output region.
type Analyser uint32

const (
	AnalyzeHTTPReq Analyser = 1 << iota
	AnalyzeHTTPRes
	AnalyzeH2Framing
)

// SIHandle is a non-owning reference to one of a stream's two interfaces,
// resolved through the owning Stream rather than stored as a pointer.
type SIHandle int

const (
	SINone SIHandle = -1
	SI0    SIHandle = 0
	SI1    SIHandle = 1
)

// Channel is one direction of a stream's byte flow.
type Channel struct {
	buf *buffer.Buffer

	Pflags Persistent
	Oflags OneShot

	// Producer writes into the input region; Consumer drains the output
	// region. Both are indices resolved against the owning stream.
	Producer SIHandle
	Consumer SIHandle

	Analysers Analyser

	toForward uint64 // credit the consumer may drain without waking the owner
	total     uint64 // running total of bytes ever carried by this channel

	rex time.Time // read expiration tick
	wex time.Time // write expiration tick
	cto time.Time // connect timeout tick

	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	ConnectTimeout time.Duration
}

// New creates a Channel backed by buf (which may be the empty sentinel
// until the stream actually needs to move bytes).
func New(buf *buffer.Buffer) *Channel {
	return &Channel{buf: buf, Producer: SINone, Consumer: SINone}
}

// Buf exposes the underlying buffer for components (analysers, applets)
// that need direct byte access beyond the Channel API.
func (c *Channel) Buf() *buffer.Buffer { return c.buf }

// SetBuffer swaps in a real buffer for the empty sentinel, or vice versa
// when a stream returns its buffer to the pool while idle.
func (c *Channel) SetBuffer(buf *buffer.Buffer) { c.buf = buf }

// Total returns the running byte counter for this channel.
func (c *Channel) Total() uint64 { return c.total }

// ToForward returns the current forwarding credit, possibly Infinite.
func (c *Channel) ToForward() uint64 { return c.toForward }

// AnalysersPending reports whether any analyser bit is still set,
// meaning there is unfinished inspection work blocking shutdown
// propagation and stream teardown.
func (c *Channel) AnalysersPending() bool { return c.Analysers != 0 }

// Forward schedules up to n more bytes for transmission without waking
// the owning task. See the design's contract for the three cases: partial
// coverage by current input, saturating accumulation into toForward, and
// the Infinite sentinel.
func (c *Channel) Forward(n uint64) uint64 {
	if c.toForward == Infinite {
		return n
	}
	if n == Infinite {
		c.toForward = Infinite
		return Infinite
	}

	avail := uint64(c.buf.InputLen())
	if n <= avail {
		c.buf.Advance(int(n))
		return n
	}

	c.buf.Advance(int(avail))
	remainder := n - avail
	sum := c.toForward + remainder
	if sum > maxForward || sum < c.toForward /* overflow */ {
		sum = maxForward
	}
	c.toForward = sum
	return n
}

// applyCredit promotes up to min(inputLen, toForward) bytes from input to
// output, per the forwarding protocol's step 3 (also triggered whenever
// MayForward is set, in which case the whole input region moves).
func (c *Channel) applyCredit() {
	if c.buf.IsEmpty() {
		return
	}
	avail := uint64(c.buf.InputLen())
	if avail == 0 {
		return
	}
	if c.Pflags.Has(FlagMayForward) {
		c.buf.Advance(int(avail))
		return
	}
	if c.toForward == 0 {
		return
	}
	n := avail
	if c.toForward != Infinite && c.toForward < n {
		n = c.toForward
	}
	c.buf.Advance(int(n))
	if c.toForward != Infinite {
		c.toForward -= n
	}
}

// Tick runs the forward-credit promotion step; called once per wake-up
// after analysers have run, per the forwarding protocol.
func (c *Channel) Tick() { c.applyCredit() }

// PutByte appends one byte to the input region. Returns -2 if the input
// side is shut, -1 if the buffer is full; on success it auto-decrements
// toForward when non-zero and advances, and marks READ_PARTIAL.
func (c *Channel) PutByte(b byte) int {
	if c.Pflags.Has(FlagReadShut) {
		return -2
	}
	rc := c.buf.PutByte(b)
	if rc < 0 {
		return rc
	}
	c.total++
	c.Oflags.Set(FlagPartialRead)
	c.applyCredit()
	return 0
}

// PutBlock appends blk to the input region in at most two copies.
// Returns -3 if len(blk) exceeds MaxLen, -1 if momentarily too full,
// -2 if the input side is shut, 0 for an empty block, else len(blk).
func (c *Channel) PutBlock(blk []byte) int {
	if c.Pflags.Has(FlagReadShut) {
		return -2
	}
	if len(blk) == 0 {
		return 0
	}
	if len(blk) > c.buf.MaxLen() {
		return -3
	}
	if len(blk) > c.buf.MaxLen()-c.buf.OutputLen()-c.buf.InputLen() {
		return -1
	}
	n := c.buf.PutBlock(blk)
	if n < 0 {
		return n
	}
	if n == 0 {
		return -1
	}
	c.total += uint64(n)
	c.Oflags.Set(FlagPartialRead)
	c.applyCredit()
	return n
}

// GetLine copies bytes from the output region into dst up to and
// including the first '\n'. Non-destructive: callers must SkipOutput the
// bytes they consumed. A line already fully buffered before shutdown is
// still returned; only the "no newline and none will ever come" case
// turns into a negative return once the write side is shut.
func (c *Channel) GetLine(dst []byte) int {
	if c.buf.IsEmpty() {
		if c.Pflags.Has(FlagWriteShut) {
			return -1
		}
		return 0
	}
	return c.buf.GetLine(dst, c.Pflags.Has(FlagWriteShut))
}

// GetBlock copies exactly n bytes starting at offset from the output
// region into dst. Data already buffered before shutdown is still
// returned; only "not enough data and none will ever come" turns into a
// negative return once the write side is shut.
func (c *Channel) GetBlock(dst []byte, n, offset int) int {
	if c.buf.IsEmpty() {
		if c.Pflags.Has(FlagWriteShut) {
			return -1
		}
		return 0
	}
	return c.buf.GetBlock(dst, n, offset, c.Pflags.Has(FlagWriteShut))
}

// OutputLen returns the number of bytes currently available to a
// consumer via GetBlock/GetLine.
func (c *Channel) OutputLen() int {
	if c.buf.IsEmpty() {
		return 0
	}
	return c.buf.OutputLen()
}

// SkipOutput drops n bytes from the output region.
func (c *Channel) SkipOutput(n int) {
	if c.buf.IsEmpty() {
		return
	}
	c.buf.SkipOutput(n)
}

// InjectOutput appends msg directly to the output region, bypassing
// analysis. The caller guarantees there is no pending input.
func (c *Channel) InjectOutput(msg []byte) int {
	if c.buf.IsEmpty() {
		return -2
	}
	return c.buf.InjectOutput(msg)
}

// ShutRead requests (SHUTR_NOW) or immediately performs (force=true) a
// read-side shutdown. Once SHUTR is set no further PutByte/PutBlock may
// succeed.
func (c *Channel) ShutRead(force bool) {
	if !force {
		c.Oflags.Set(FlagShutrNow)
		return
	}
	c.Oflags.Clear(FlagShutrNow)
	c.Pflags.Set(FlagReadShut)
}

// ShutWrite requests (SHUTW_NOW) or immediately performs (force=true) a
// write-side shutdown. Once SHUTW is set, GetLine/GetBlock still return
// bytes already buffered in the output region; a request those bytes
// cannot satisfy returns a negative code instead of 0.
func (c *Channel) ShutWrite(force bool) {
	if !force {
		c.Oflags.Set(FlagShutwNow)
		return
	}
	c.Oflags.Clear(FlagShutwNow)
	c.Pflags.Set(FlagWriteShut)
}

// SetReadDeadline arms the channel's read expiration tick.
func (c *Channel) SetReadDeadline(now time.Time) {
	if c.ReadTimeout <= 0 {
		c.rex = time.Time{}
		return
	}
	c.rex = now.Add(c.ReadTimeout)
}

// SetWriteDeadline arms the channel's write expiration tick.
func (c *Channel) SetWriteDeadline(now time.Time) {
	if c.WriteTimeout <= 0 {
		c.wex = time.Time{}
		return
	}
	c.wex = now.Add(c.WriteTimeout)
}

// SetConnectDeadline arms the channel's connect expiration tick.
func (c *Channel) SetConnectDeadline(now time.Time) {
	if c.ConnectTimeout <= 0 {
		c.cto = time.Time{}
		return
	}
	c.cto = now.Add(c.ConnectTimeout)
}

// CheckTimeouts sets the corresponding persistent timeout flags when now
// has passed any armed expiration tick. Returns true if any new timeout
// fired this call.
func (c *Channel) CheckTimeouts(now time.Time) bool {
	fired := false
	if !c.rex.IsZero() && !now.Before(c.rex) && !c.Pflags.Has(FlagReadTimeout) {
		c.Pflags.Set(FlagReadTimeout)
		fired = true
	}
	if !c.wex.IsZero() && !now.Before(c.wex) && !c.Pflags.Has(FlagWriteTimeout) {
		c.Pflags.Set(FlagWriteTimeout)
		fired = true
	}
	if !c.cto.IsZero() && !now.Before(c.cto) && !c.Pflags.Has(FlagConnectTimeout) {
		c.Pflags.Set(FlagConnectTimeout)
		fired = true
	}
	return fired
}

// NextExpiration returns the earliest still-armed expiration tick, used
// by the scheduler to compute its next wake-up, and whether one exists.
func (c *Channel) NextExpiration() (time.Time, bool) {
	var best time.Time
	found := false
	for _, t := range []time.Time{c.rex, c.wex, c.cto} {
		if t.IsZero() {
			continue
		}
		if !found || t.Before(best) {
			best = t
			found = true
		}
	}
	return best, found
}
