package stream

import (
	"errors"
	"testing"
	"time"

	"github.com/streamrelay/streamrelay/internal/buffer"
	"github.com/streamrelay/streamrelay/internal/channel"
)

// echoSource reflects whatever was last pushed to it back out on the
// next TryRead, letting a two-stream-interface Advance loop be exercised
// without real sockets.
type echoSource struct {
	toRead  [][]byte
	readIdx int
	written [][]byte
	eof     bool
	readErr error
	writeErr error
}

func (s *echoSource) TryRead(buf []byte) (int, bool, error) {
	if s.readErr != nil {
		return 0, false, s.readErr
	}
	if s.readIdx >= len(s.toRead) {
		return 0, s.eof, nil
	}
	chunk := s.toRead[s.readIdx]
	s.readIdx++
	return copy(buf, chunk), false, nil
}

func (s *echoSource) TryWrite(p []byte) (int, error) {
	if s.writeErr != nil {
		return 0, s.writeErr
	}
	cp := append([]byte(nil), p...)
	s.written = append(s.written, cp)
	return len(p), nil
}

func newStream() (*Stream, *echoSource, *echoSource) {
	req := channel.New(buffer.New(256))
	res := channel.New(buffer.New(256))
	s := New(1, req, res)
	client := &echoSource{toRead: [][]byte{[]byte("GET / HTTP/1.1\r\n\r\n")}}
	backend := &echoSource{toRead: [][]byte{[]byte("HTTP/1.1 200 OK\r\n\r\n")}}
	s.SI0.Attach(client)
	s.SI1.Attach(backend)
	return s, client, backend
}

func TestAdvanceForwardsRequestToBackend(t *testing.T) {
	s, _, backend := newStream()
	s.Req.Forward(channel.Infinite)

	s.Advance(time.Now())

	if len(backend.written) == 0 {
		t.Fatalf("expected the request bytes to reach the backend source")
	}
	if string(backend.written[0]) != "GET / HTTP/1.1\r\n\r\n" {
		t.Fatalf("unexpected bytes forwarded: %q", backend.written[0])
	}
}

func TestAdvanceForwardsResponseToClient(t *testing.T) {
	s, client, _ := newStream()
	s.Res.Forward(channel.Infinite)

	s.Advance(time.Now())

	if len(client.written) == 0 {
		t.Fatalf("expected the response bytes to reach the client source")
	}
	if string(client.written[0]) != "HTTP/1.1 200 OK\r\n\r\n" {
		t.Fatalf("unexpected bytes forwarded: %q", client.written[0])
	}
}

func TestFreeableOnlyAfterBothSidesClosed(t *testing.T) {
	s, client, backend := newStream()
	s.Req.Forward(channel.Infinite)
	s.Res.Forward(channel.Infinite)
	client.eof = true
	backend.eof = true

	s.Advance(time.Now())
	if s.Freeable() {
		t.Fatalf("must not be freeable before both interfaces reach CLO")
	}

	// drain remaining output and let both read sides observe EOF and shut
	for i := 0; i < 8 && !s.Freeable(); i++ {
		s.Advance(time.Now())
	}
	if !s.Closed() {
		t.Fatalf("expected both stream interfaces to reach CLO eventually")
	}
}

func TestFreeRunsExactlyOnce(t *testing.T) {
	s, _, _ := newStream()
	calls := 0
	s.Pools = NewPools(func(*Pools) { calls++ })

	s.Free("client-close")
	s.Free("client-close")

	if calls != 1 {
		t.Fatalf("expected pool return to run exactly once, got %d", calls)
	}
	if !s.Freed() {
		t.Fatalf("expected Freed() to report true after Free")
	}
}

func TestFreeRecordsByteCounters(t *testing.T) {
	s, _, _ := newStream()
	s.Req.Forward(channel.Infinite)
	s.Advance(time.Now())

	s.Free("done")
	if s.Log.BytesIn == 0 {
		t.Fatalf("expected BytesIn to reflect forwarded request bytes")
	}
	if s.Log.Reason != "done" {
		t.Fatalf("expected termination reason recorded, got %q", s.Log.Reason)
	}
}

func TestAdvancePropagatesHardReadError(t *testing.T) {
	s, client, _ := newStream()
	client.readErr = errors.New("reset by peer")

	s.Advance(time.Now())
	if !s.Req.Oflags.Has(channel.FlagReadError) {
		t.Fatalf("expected the request channel to record a read error")
	}
}

func TestPoolsReturnRunsExactlyOnce(t *testing.T) {
	calls := 0
	p := NewPools(func(*Pools) { calls++ })
	p.Return()
	p.Return()
	if calls != 1 {
		t.Fatalf("expected Pools.Return to run exactly once, got %d", calls)
	}
}
