package applet

import (
	"testing"

	"github.com/streamrelay/streamrelay/internal/buffer"
	"github.com/streamrelay/streamrelay/internal/channel"
)

func newPair() (*channel.Channel, *channel.Channel) {
	return channel.New(buffer.New(64)), channel.New(buffer.New(64))
}

func TestRunInvokesHandler(t *testing.T) {
	ic, oc := newPair()
	var ran bool
	ctx := New("test", ic, oc, func(c *Context) { ran = true; c.St0 = St0Running }, nil)
	ctx.Run()
	if !ran {
		t.Fatalf("expected handler to run")
	}
	if ctx.St0 != St0Running {
		t.Fatalf("expected St0 to advance, got %v", ctx.St0)
	}
}

func TestReleaseRunsExactlyOnce(t *testing.T) {
	ic, oc := newPair()
	calls := 0
	ctx := New("test", ic, oc, nil, func(c *Context) { calls++ })
	ctx.Release()
	ctx.Release()
	if calls != 1 {
		t.Fatalf("expected release to run exactly once, got %d calls", calls)
	}
	if ctx.St0 != St0Closed {
		t.Fatalf("expected St0Closed after release")
	}
}

func TestRunnableReflectsCantPutCantGet(t *testing.T) {
	ic, oc := newPair()
	ctx := New("test", ic, oc, func(c *Context) {}, nil)
	if !ctx.Runnable() {
		t.Fatalf("fresh context should be runnable")
	}
	ctx.SetCantPut(true)
	if !ctx.Runnable() {
		t.Fatalf("blocked on one direction only should still be runnable")
	}
	ctx.SetCantGet(true)
	if ctx.Runnable() {
		t.Fatalf("blocked on both directions must not be runnable")
	}
}

func TestRunSkipsClosedContext(t *testing.T) {
	ic, oc := newPair()
	ran := false
	ctx := New("test", ic, oc, func(c *Context) { ran = true }, nil)
	ctx.Release()
	ctx.Run()
	if ran {
		t.Fatalf("a closed applet must not be re-entered")
	}
}

func TestBufferWaiterFIFO(t *testing.T) {
	ic, oc := newPair()
	var w BufferWaiter
	a := New("a", ic, oc, nil, nil)
	b := New("b", ic, oc, nil, nil)
	w.Enqueue(a)
	w.Enqueue(b)

	if got := w.WakeOne(); got != a {
		t.Fatalf("expected FIFO order, got %v first", got.Name)
	}
	if got := w.WakeOne(); got != b {
		t.Fatalf("expected b second, got %v", got.Name)
	}
	if w.WakeOne() != nil {
		t.Fatalf("expected nil once the wait list is drained")
	}
}
