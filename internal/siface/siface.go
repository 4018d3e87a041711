// Package siface implements the stream interface: one endpoint of a
// channel pair, bridging a channel's buffer to an external data source or
// sink (a socket, an applet, or a pipe). Two stream interfaces, each
// producing into one channel and consuming from the other, are
// cross-wired by the owning stream to form a full duplex conversation.
package siface

import (
	"time"

	"github.com/streamrelay/streamrelay/internal/channel"
)

// State is the stream interface's connection state machine.
type State int

const (
	StateInit State = iota
	StateConn       // CON: connect pending for an outgoing socket
	StateCER        // connect error, may retry
	StateEstablished
	StateDisconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateConn:
		return "CON"
	case StateCER:
		return "CER"
	case StateEstablished:
		return "EST"
	case StateDisconnecting:
		return "DIS"
	case StateClosed:
		return "CLO"
	default:
		return "?"
	}
}

// Flags records this interface's own I/O readiness, as distinct from the
// channel's flags. Pull and Push set and clear WAIT_DATA/WAIT_ROOM on
// this interface according to its own progress; the opposite endpoint
// never touches them.
type Flags uint32

const (
	WaitData Flags = 1 << iota // downstream starved: a pull produced no bytes
	WaitRoom                   // backpressure: a push could not place all bytes
	CantPut                    // an attached applet must not be re-entered to write
	CantGet                    // an attached applet must not be re-entered to read
	ErrFlag
	EOS // attached source reached a clean end of stream
)

// AppletSink is the subset of the applet contract a stream interface
// needs to throttle re-entry on backpressure, without importing the
// applet package; applet.Context satisfies it.
type AppletSink interface {
	SetCantPut(bool)
	SetCantGet(bool)
}

// DataSource is the attached producer/consumer a stream interface drives:
// a socket, an applet, or a pipe. TryRead/TryWrite are non-blocking: they
// return immediately with whatever progress was possible.
type DataSource interface {
	// TryRead copies as many bytes as fit into buf without blocking.
	// eof is true once no further bytes will ever arrive.
	TryRead(buf []byte) (n int, eof bool, err error)
	// TryWrite writes as many bytes from buf as can be sent without
	// blocking.
	TryWrite(buf []byte) (n int, err error)
}

// Interface is one endpoint of a channel pair.
type Interface struct {
	state State
	flags Flags

	// IC is the channel this interface produces into; OC is the channel
	// it consumes from. Both are borrowed references owned by the
	// enclosing stream, matching the design's non-cyclic ownership note.
	IC *channel.Channel
	OC *channel.Channel

	Source DataSource
	Applet AppletSink // non-nil when Source is an applet-backed endpoint

	scratch [16384]byte
}

// New creates a stream interface wired to the given channels. Source may
// be attached later via Attach once the backing socket/applet is ready.
func New(ic, oc *channel.Channel) *Interface {
	return &Interface{state: StateInit, IC: ic, OC: oc}
}

func (si *Interface) State() State     { return si.state }
func (si *Interface) Flags() Flags     { return si.flags }
func (si *Interface) Has(f Flags) bool { return si.flags&f != 0 }

func (si *Interface) setFlag(f Flags)   { si.flags |= f }
func (si *Interface) clearFlag(f Flags) { si.flags &^= f }

// Attach wires a concrete data source to this interface and moves it to
// EST. Outgoing connections use Connect/ConnectEstablished instead so the
// CON state is observable while the dial is in flight.
func (si *Interface) Attach(src DataSource) {
	si.Source = src
	si.state = StateEstablished
}

// Connect marks this interface as awaiting an outgoing connection.
func (si *Interface) Connect() { si.state = StateConn }

// ConnectEstablished transitions CON -> EST once the dial succeeds.
func (si *Interface) ConnectEstablished(src DataSource) {
	si.Source = src
	si.state = StateEstablished
}

// ConnectFailed transitions CON -> CER on a failed dial.
func (si *Interface) ConnectFailed() { si.state = StateCER }

// AttachApplet wires an applet as this interface's sink without a
// DataSource: the applet drives IC/OC directly through its own Run step
// (see internal/applet), so Pull/Push stay no-ops here while sink still
// receives CantPut/CantGet notifications like any other attached source.
func (si *Interface) AttachApplet(sink AppletSink) {
	si.Applet = sink
	si.state = StateEstablished
}

// Pull attempts to read from the attached source into IC's input region.
// It clears WAIT_DATA on progress, sets it when the source is merely
// empty, and propagates a clean EOF into the channel's READ_NULL one-shot
// flag. A hard read error moves the interface toward DIS.
func (si *Interface) Pull(now time.Time) {
	if si.Source == nil || si.state != StateEstablished {
		return
	}
	if si.IC.Pflags.Has(channel.FlagReadShut) {
		return
	}

	n, eof, err := si.Source.TryRead(si.scratch[:])
	switch {
	case n > 0:
		si.clearFlag(WaitData)
		si.setCantGet(false)
		rc := si.IC.PutBlock(si.scratch[:n])
		if rc == -1 {
			si.setFlag(WaitRoom)
			si.setCantPut(true)
		} else {
			si.clearFlag(WaitRoom)
			si.setCantPut(false)
		}
	default:
		si.setFlag(WaitData)
		si.setCantGet(true)
	}

	if eof {
		si.IC.Oflags.Set(channel.FlagReadNull)
		si.setFlag(EOS)
		if !si.IC.AnalysersPending() {
			si.ShutRead()
			// Once no more input will ever arrive on this channel, ask its
			// consumer to finish draining and then half-close its own
			// outgoing connection. This only ever touches IC, never the
			// peer channel in the other direction (OC) — see the design's
			// note on shutdown propagation staying within one channel.
			si.IC.ShutWrite(false)
		}
	}
	if err != nil {
		si.IC.Oflags.Set(channel.FlagReadError)
		si.setFlag(ErrFlag)
		si.state = StateDisconnecting
	}
	_ = now
}

// Push attempts to drain OC's output region to the attached sink. It sets
// WAIT_ROOM on itself when the sink can't take everything right now, and
// clears it whenever a full drain of what was available succeeds.
func (si *Interface) Push(now time.Time) {
	if si.Source == nil || si.state != StateEstablished {
		return
	}

	for {
		avail := si.OC.OutputLen()
		if avail == 0 {
			si.clearFlag(WaitRoom)
			return
		}
		n := avail
		if n > len(si.scratch) {
			n = len(si.scratch)
		}
		rc := si.OC.GetBlock(si.scratch[:n], n, 0)
		if rc <= 0 {
			return
		}
		written, err := si.Source.TryWrite(si.scratch[:rc])
		if written > 0 {
			si.OC.SkipOutput(written)
			si.IC.Oflags.Set(channel.FlagPartialWrite)
		}
		if err != nil {
			si.OC.Oflags.Set(channel.FlagWriteError)
			si.setFlag(ErrFlag)
			si.state = StateDisconnecting
			return
		}
		if written < rc {
			si.setFlag(WaitRoom)
			return
		}
	}
}

// FinalizeWriteShutdown completes a pending SHUTW_NOW request on OC once
// every byte queued ahead of it has actually been drained to the sink —
// the second half of the forwarding protocol's shutdown-propagation step.
func (si *Interface) FinalizeWriteShutdown() {
	if si.OC.Oflags.Has(channel.FlagShutwNow) && si.OC.OutputLen() == 0 {
		si.ShutWrite()
	}
}

func (si *Interface) setCantPut(v bool) {
	if v {
		si.setFlag(CantPut)
	} else {
		si.clearFlag(CantPut)
	}
	if si.Applet != nil {
		si.Applet.SetCantPut(v)
	}
}

func (si *Interface) setCantGet(v bool) {
	if v {
		si.setFlag(CantGet)
	} else {
		si.clearFlag(CantGet)
	}
	if si.Applet != nil {
		si.Applet.SetCantGet(v)
	}
}

// ShutRead performs an immediate read-side shutdown of IC.
func (si *Interface) ShutRead() {
	si.IC.ShutRead(true)
}

// ShutWrite performs an immediate write-side shutdown of OC.
func (si *Interface) ShutWrite() {
	si.OC.ShutWrite(true)
}

// Abort forces both of this interface's channels shut and drives it
// toward DIS, used when a channel-level read/write/connect timeout fires:
// a stalled endpoint shuts down rather than leaving its peer waiting
// forever.
func (si *Interface) Abort() {
	if si.state == StateClosed {
		return
	}
	si.IC.ShutRead(true)
	si.OC.ShutWrite(true)
	si.state = StateDisconnecting
}

// MaybeClose transitions EST or DIS -> CLO once both the channel this
// interface produces into and the one it consumes from are fully shut.
func (si *Interface) MaybeClose() {
	if si.state != StateEstablished && si.state != StateDisconnecting {
		return
	}
	if si.IC.Pflags.Has(channel.FlagReadShut) && si.OC.Pflags.Has(channel.FlagWriteShut) {
		si.state = StateClosed
	}
}

// IsClosed reports whether this interface has reached CLO.
func (si *Interface) IsClosed() bool { return si.state == StateClosed }
