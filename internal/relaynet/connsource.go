package relaynet

import (
	"io"
	"sync"
)

// wakeupCap mirrors smux's buffered, size-1 wakeup channel convention
// (vendor/github.com/xtaci/smux/stream.go's chReaderWakeup/chWriterWakeup):
// a non-blocking send that coalesces any number of pending signals into
// one pending wakeup, so a slow consumer never stalls a fast producer.
const wakeupCap = 1

// ConnSource adapts a blocking io.ReadWriteCloser (a net.Conn, or one
// wrapped in CompConn/ObfuscatedConn) into the siface.DataSource
// contract: non-blocking TryRead/TryWrite that return immediately with
// whatever progress was possible. A background reader goroutine performs
// the actual blocking Read calls into an unbounded read buffer; a background
// writer goroutine drains a bounded outbound queue with blocking Write
// calls. Both signal readiness through Wake, which the caller wires to
// scheduler.Wake(task) via a handoff channel the scheduler's single
// goroutine drains before each Step — the core itself never blocks or
// runs these goroutines' code.
type ConnSource struct {
	conn io.ReadWriteCloser
	wake func()

	mu   sync.Mutex
	rbuf []byte
	rerr error
	reof bool

	wbuf  []byte
	wroom int
	werr  error

	wsignal   chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
}

// NewConnSource starts the background pump goroutines for conn. wake is
// invoked (from either pump goroutine, never synchronously from
// TryRead/TryWrite) whenever new data arrived or write room opened up;
// it must not block and must not itself call back into ConnSource.
// outboundCap bounds the write queue, giving the caller's WAIT_ROOM
// backpressure something concrete to throttle against.
func NewConnSource(conn io.ReadWriteCloser, outboundCap int, wake func()) *ConnSource {
	if outboundCap <= 0 {
		outboundCap = 1 << 20
	}
	cs := &ConnSource{
		conn:    conn,
		wake:    wake,
		wroom:   outboundCap,
		wsignal: make(chan struct{}, wakeupCap),
		closed:  make(chan struct{}),
	}
	go cs.readPump()
	go cs.writePump()
	return cs
}

func (cs *ConnSource) notify() {
	if cs.wake != nil {
		cs.wake()
	}
}

func (cs *ConnSource) readPump() {
	chunk := make([]byte, 16384)
	for {
		n, err := cs.conn.Read(chunk)
		if n > 0 {
			cs.mu.Lock()
			cs.rbuf = append(cs.rbuf, chunk[:n]...)
			cs.mu.Unlock()
		}
		if err != nil {
			cs.mu.Lock()
			cs.rerr = err
			cs.reof = err == io.EOF
			cs.mu.Unlock()
			cs.notify()
			return
		}
		if n > 0 {
			cs.notify()
		}
	}
}

func (cs *ConnSource) writePump() {
	for {
		select {
		case <-cs.closed:
			return
		case <-cs.wsignal:
		}
		for {
			cs.mu.Lock()
			chunk := cs.wbuf
			cs.wbuf = nil
			cs.mu.Unlock()
			if len(chunk) == 0 {
				break
			}
			n, err := cs.conn.Write(chunk)
			cs.mu.Lock()
			cs.wroom += n
			if err != nil {
				cs.werr = err
			}
			cs.mu.Unlock()
			cs.notify()
			if err != nil {
				return
			}
		}
	}
}

// TryRead copies as many buffered bytes as fit into buf without
// blocking. eof is reported only once every already-received byte has
// been drained, per the DataSource contract.
func (cs *ConnSource) TryRead(buf []byte) (n int, eof bool, err error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if len(cs.rbuf) > 0 {
		n = copy(buf, cs.rbuf)
		cs.rbuf = cs.rbuf[n:]
		return n, false, nil
	}
	if cs.reof {
		return 0, true, nil
	}
	if cs.rerr != nil {
		return 0, false, cs.rerr
	}
	return 0, false, nil
}

// TryWrite enqueues as much of p as the outbound queue has room for,
// handing it to the background writer goroutine, and returns
// immediately. A short count (or zero) signals backpressure.
func (cs *ConnSource) TryWrite(p []byte) (int, error) {
	cs.mu.Lock()
	if cs.werr != nil {
		err := cs.werr
		cs.mu.Unlock()
		return 0, err
	}
	n := len(p)
	if n > cs.wroom {
		n = cs.wroom
	}
	if n > 0 {
		cs.wbuf = append(cs.wbuf, p[:n]...)
		cs.wroom -= n
	}
	cs.mu.Unlock()

	if n > 0 {
		select {
		case cs.wsignal <- struct{}{}:
		default:
		}
	}
	return n, nil
}

// Close stops the pump goroutines and closes the underlying connection.
func (cs *ConnSource) Close() error {
	cs.closeOnce.Do(func() { close(cs.closed) })
	return cs.conn.Close()
}
