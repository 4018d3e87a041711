package siface

import (
	"errors"
	"testing"
	"time"

	"github.com/streamrelay/streamrelay/internal/buffer"
	"github.com/streamrelay/streamrelay/internal/channel"
)

// fakeSource is a scripted DataSource: each call to TryRead/TryWrite pops
// the next canned response, letting tests drive specific forwarding
// scenarios without a real socket.
type fakeSource struct {
	reads  [][]byte
	readIdx int
	eofAt   int // index at which TryRead reports eof, -1 for never
	readErr error

	writeCap int // max bytes TryWrite accepts per call, 0 = unlimited
	writeErr error
}

func (f *fakeSource) TryRead(buf []byte) (int, bool, error) {
	if f.readErr != nil {
		return 0, false, f.readErr
	}
	if f.eofAt >= 0 && f.readIdx == f.eofAt {
		return 0, true, nil
	}
	if f.readIdx >= len(f.reads) {
		return 0, false, nil
	}
	chunk := f.reads[f.readIdx]
	f.readIdx++
	n := copy(buf, chunk)
	return n, false, nil
}

func (f *fakeSource) TryWrite(p []byte) (int, error) {
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	if f.writeCap > 0 && len(p) > f.writeCap {
		return f.writeCap, nil
	}
	return len(p), nil
}

func pair(size int) (*channel.Channel, *channel.Channel) {
	return channel.New(buffer.New(size)), channel.New(buffer.New(size))
}

func TestPullAdvancesAndClearsWaitData(t *testing.T) {
	ic, oc := pair(64)
	si := New(ic, oc)
	src := &fakeSource{reads: [][]byte{[]byte("hello")}, eofAt: -1}
	si.Attach(src)

	si.Pull(time.Now())
	if si.Has(WaitData) {
		t.Fatalf("expected WAIT_DATA cleared after a successful read")
	}
	if ic.Total() != 5 {
		t.Fatalf("expected 5 bytes ingested, got %d", ic.Total())
	}
}

func TestPullSetsWaitDataOnEmptyRead(t *testing.T) {
	ic, oc := pair(64)
	si := New(ic, oc)
	src := &fakeSource{reads: nil, eofAt: -1}
	si.Attach(src)

	si.Pull(time.Now())
	if !si.Has(WaitData) {
		t.Fatalf("expected WAIT_DATA set when the source has nothing yet")
	}
}

func TestPullEOFShutsReadWhenNoAnalysersPending(t *testing.T) {
	ic, oc := pair(64)
	si := New(ic, oc)
	src := &fakeSource{eofAt: 0}
	si.Attach(src)

	si.Pull(time.Now())
	if !ic.Oflags.Has(channel.FlagReadNull) {
		t.Fatalf("expected READ_NULL to be recorded on clean EOF")
	}
	if !ic.Pflags.Has(channel.FlagReadShut) {
		t.Fatalf("expected channel read side to be shut once no analyser is pending")
	}
}

func TestPullEOFWithPendingAnalyserDoesNotShut(t *testing.T) {
	ic, oc := pair(64)
	ic.Analysers = channel.AnalyzeHTTPReq
	si := New(ic, oc)
	src := &fakeSource{eofAt: 0}
	si.Attach(src)

	si.Pull(time.Now())
	if ic.Pflags.Has(channel.FlagReadShut) {
		t.Fatalf("must not shut the read side while an analyser is still pending")
	}
}

func TestPullHardErrorMovesToDisconnecting(t *testing.T) {
	ic, oc := pair(64)
	si := New(ic, oc)
	si.Attach(&fakeSource{readErr: errors.New("reset")})

	si.Pull(time.Now())
	if si.State() != StateDisconnecting {
		t.Fatalf("expected DIS after a hard read error, got %s", si.State())
	}
	if !ic.Oflags.Has(channel.FlagReadError) {
		t.Fatalf("expected READ_ERROR one-shot to be recorded")
	}
}

func TestPushDrainsOutputToSink(t *testing.T) {
	ic, oc := pair(64)
	oc.PutBlock([]byte("response"))
	oc.Forward(8)

	si := New(ic, oc)
	si.Attach(&fakeSource{})

	si.Push(time.Now())
	if oc.OutputLen() != 0 {
		t.Fatalf("expected output region fully drained, got %d bytes left", oc.OutputLen())
	}
}

func TestPushPartialSinkSetsWaitRoom(t *testing.T) {
	ic, oc := pair(64)
	oc.PutBlock([]byte("response"))
	oc.Forward(8)

	si := New(ic, oc)
	si.Attach(&fakeSource{writeCap: 3})

	si.Push(time.Now())
	if !si.Has(WaitRoom) {
		t.Fatalf("expected WAIT_ROOM when the sink only accepts part of the data")
	}
	if oc.OutputLen() != 5 {
		t.Fatalf("expected 5 bytes still pending, got %d", oc.OutputLen())
	}
}

func TestPushWriteErrorMovesToDisconnecting(t *testing.T) {
	ic, oc := pair(64)
	oc.PutBlock([]byte("x"))
	oc.Forward(1)

	si := New(ic, oc)
	si.Attach(&fakeSource{writeErr: errors.New("broken pipe")})

	si.Push(time.Now())
	if si.State() != StateDisconnecting {
		t.Fatalf("expected DIS after a hard write error, got %s", si.State())
	}
	if !oc.Oflags.Has(channel.FlagWriteError) {
		t.Fatalf("expected WRITE_ERROR one-shot to be recorded")
	}
}

func TestMaybeCloseRequiresBothSidesShut(t *testing.T) {
	ic, oc := pair(64)
	si := New(ic, oc)
	si.Attach(&fakeSource{})
	si.state = StateDisconnecting

	si.MaybeClose()
	if si.IsClosed() {
		t.Fatalf("must not close with neither side shut")
	}

	ic.ShutRead(true)
	si.MaybeClose()
	if si.IsClosed() {
		t.Fatalf("must not close with only the read side shut")
	}

	oc.ShutWrite(true)
	si.MaybeClose()
	if !si.IsClosed() {
		t.Fatalf("expected CLO once both sides are shut")
	}
}

func TestFinalizeWriteShutdownWaitsForDrain(t *testing.T) {
	ic, oc := pair(64)
	oc.PutBlock([]byte("bye"))
	oc.Forward(3)
	oc.ShutWrite(false) // SHUTW_NOW request, not yet forced

	si := New(ic, oc)
	si.Attach(&fakeSource{})

	si.FinalizeWriteShutdown()
	if oc.Pflags.Has(channel.FlagWriteShut) {
		t.Fatalf("must not finalize shutdown while output is still pending")
	}

	si.Push(time.Now())
	si.FinalizeWriteShutdown()
	if !oc.Pflags.Has(channel.FlagWriteShut) {
		t.Fatalf("expected SHUTW to finalize once the output region is drained")
	}
}

type recordingApplet struct {
	cantPut, cantGet bool
}

func (r *recordingApplet) SetCantPut(v bool) { r.cantPut = v }
func (r *recordingApplet) SetCantGet(v bool) { r.cantGet = v }

func TestCantGetPropagatesToApplet(t *testing.T) {
	ic, oc := pair(64)
	si := New(ic, oc)
	app := &recordingApplet{}
	si.Applet = app
	si.Attach(&fakeSource{})

	si.Pull(time.Now())
	if !app.cantGet {
		t.Fatalf("expected attached applet to be notified CANT_GET on an empty read")
	}
}
