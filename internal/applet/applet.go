// Package applet implements the cooperative mini-task that replaces a
// socket on one side of a stream: a protocol module (the H2 framing
// applet in internal/applet/h2, or any future one) drives its own state
// machine entirely through channel reads and writes, with no blocking
// I/O of its own.
package applet

import "github.com/streamrelay/streamrelay/internal/channel"

// St0 is an applet's primary state, distinct from the owning stream
// interface's connection state: it tracks progress through the applet's
// own protocol, not the socket lifecycle.
type St0 int

const (
	St0Init St0 = iota
	St0Running
	St0Closing
	St0Closed
)

// IOHandler is a single non-blocking step: read from oc (the applet's
// request channel), write to ic (its response channel), update ctx.St0,
// and return. A handler must never block; if it cannot make progress it
// marks CANT_PUT/CANT_GET on itself (via the owning stream interface) and
// returns, and the scheduler will not re-run it until the condition
// changes.
type IOHandler func(ctx *Context)

// ReleaseFunc frees applet-owned state. Called exactly once, when the
// owning stream interface reaches CLO.
type ReleaseFunc func(ctx *Context)

// Context is the applet's AppContext: the opaque handle a protocol
// module's handler and release functions operate on.
type Context struct {
	St0 St0

	// IC is the applet's response channel (it writes here); OC is its
	// request channel (it reads from here) — named from the applet's own
	// point of view, the mirror image of the stream interface that
	// drives it.
	IC *channel.Channel
	OC *channel.Channel

	handler IOHandler
	release ReleaseFunc

	// Private is protocol-module state opaque to the applet scheduling
	// machinery; the h2 applet stores its frame-parsing state here.
	Private interface{}

	// Name is a display label for logs and the admin CLI's "show sess".
	Name string

	cantPut bool
	cantGet bool

	waiting    bool // queued on a shared buffer_wait list
	waitNotify chan struct{}
}

// New creates an AppContext wired to a handler/release pair and the two
// channels it will read and write.
func New(name string, ic, oc *channel.Channel, handler IOHandler, release ReleaseFunc) *Context {
	return &Context{
		Name:    name,
		IC:      ic,
		OC:      oc,
		handler: handler,
		release: release,
	}
}

// Run invokes the applet's single non-blocking step. A nil handler (an
// applet mid-teardown) is a no-op.
func (c *Context) Run() {
	if c.handler == nil || c.St0 == St0Closed {
		return
	}
	c.handler(c)
}

// Release runs the applet's teardown exactly once.
func (c *Context) Release() {
	if c.St0 == St0Closed {
		return
	}
	if c.release != nil {
		c.release(c)
	}
	c.St0 = St0Closed
}

// SetCantPut implements siface.AppletSink: the stream interface driving
// this applet calls it when a write is blocked on room.
func (c *Context) SetCantPut(v bool) { c.cantPut = v }

// SetCantGet implements siface.AppletSink: the stream interface driving
// this applet calls it when a read is blocked on data.
func (c *Context) SetCantGet(v bool) { c.cantGet = v }

// CantPut reports whether the attached stream interface currently has no
// room to accept writes from this applet.
func (c *Context) CantPut() bool { return c.cantPut }

// CantGet reports whether the attached stream interface currently has no
// data for this applet to read.
func (c *Context) CantGet() bool { return c.cantGet }

// Runnable reports whether a scheduler step should invoke Run: an applet
// blocked on both directions has nothing to do until woken by a flag
// change or a buffer_wait release.
func (c *Context) Runnable() bool {
	if c.St0 == St0Closed {
		return false
	}
	return !(c.cantPut && c.cantGet)
}

// BufferWaiter queues callers that could not obtain a channel buffer from
// a pool, waking them in FIFO order on release — the shared buffer_wait
// list referenced by the applet contract.
type BufferWaiter struct {
	waiters []*Context
}

// Enqueue parks ctx on the wait list. It must not be called twice for the
// same context without an intervening Wake.
func (w *BufferWaiter) Enqueue(ctx *Context) {
	ctx.waiting = true
	w.waiters = append(w.waiters, ctx)
}

// WakeOne pops and returns the longest-waiting context, or nil if the
// list is empty. Called once per buffer returned to the pool.
func (w *BufferWaiter) WakeOne() *Context {
	if len(w.waiters) == 0 {
		return nil
	}
	ctx := w.waiters[0]
	w.waiters = w.waiters[1:]
	ctx.waiting = false
	return ctx
}

// Len reports how many applets are currently parked.
func (w *BufferWaiter) Len() int { return len(w.waiters) }
