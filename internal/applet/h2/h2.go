// Package h2 implements an illustrative HTTP/2 framing applet: it speaks
// just enough of the frame-header wire format and the connection preface
// to demonstrate a protocol module riding the applet contract. It does
// not implement HPACK, flow control, or stream multiplexing semantics —
// only the framing state machine and the mux_busy gate a real HEADERS/
// CONTINUATION sequence would need.
package h2

import (
	"encoding/binary"

	"github.com/streamrelay/streamrelay/internal/applet"
	"github.com/streamrelay/streamrelay/internal/channel"
)

// State is the framing applet's own protocol state, stored in the
// AppContext's St0-adjacent Private field rather than St0 itself (St0
// tracks the generic applet lifecycle; State tracks H2 framing).
type State int

const (
	StateInit State = iota
	StatePreface
	StateSettings1
	StateFrameHdr
	StateFrameBody
	StateClosed
	StateError
)

// Frame types, byte 3 of the 9-byte header.
const (
	FrameData         byte = 0
	FrameHeaders      byte = 1
	FramePriority     byte = 2
	FrameRSTStream    byte = 3
	FrameSettings     byte = 4
	FramePushPromise  byte = 5
	FramePing         byte = 6
	FrameGoAway       byte = 7
	FrameWindowUpdate byte = 8
	FrameContinuation byte = 9
)

// Flag bits, byte 4 of the header. Only these two are named; the
// mux_busy gate reads FlagEndHeaders.
const (
	FlagEndStream  byte = 0x1
	FlagEndHeaders byte = 0x4
)

// FrameHeaderSize is the fixed 9-byte on-wire header length.
const FrameHeaderSize = 9

// Preface is the exact 24-byte connection preface literal a client must
// send before any frame.
const Preface = "PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n"

// FrameHeader is the decoded form of the 9-byte wire header.
type FrameHeader struct {
	Length   uint32 // 24 bits
	Type     byte
	Flags    byte
	StreamID uint32 // 31 bits, top bit always clear
}

// ParseFrameHeader decodes a 9-byte big-endian header. Callers must
// ensure len(b) >= FrameHeaderSize.
func ParseFrameHeader(b []byte) FrameHeader {
	return FrameHeader{
		Length:   uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2]),
		Type:     b[3],
		Flags:    b[4],
		StreamID: binary.BigEndian.Uint32(b[5:9]) &^ (1 << 31),
	}
}

// AppendFrameHeader encodes h and appends its 9 bytes to dst.
func AppendFrameHeader(dst []byte, h FrameHeader) []byte {
	var b [FrameHeaderSize]byte
	b[0] = byte(h.Length >> 16)
	b[1] = byte(h.Length >> 8)
	b[2] = byte(h.Length)
	b[3] = h.Type
	b[4] = h.Flags
	binary.BigEndian.PutUint32(b[5:9], h.StreamID&^(1<<31))
	return append(dst, b[:]...)
}

// appState is the protocol-module private state stored in
// applet.Context.Private.
type appState struct {
	state State

	// pending is the header of a frame whose body is still being
	// consumed; bodyLeft counts the remaining payload bytes.
	pending  FrameHeader
	bodyLeft uint32

	// continuation is set while a HEADERS/PUSH_PROMISE sequence is open
	// (END_HEADERS not yet seen), which is what mux_busy reports on.
	continuation bool

	aborted bool
}

// New wires a fresh H2 framing applet onto the given channels. ic is the
// applet's response channel (it writes frames here); oc is its request
// channel (it reads the client's bytes from here).
func New(name string, ic, oc *channel.Channel) *applet.Context {
	return applet.New(name, ic, oc, Handler, Release)
}

// Handler is the applet's io_handler: a single non-blocking framing step.
func Handler(ctx *applet.Context) {
	st, ok := ctx.Private.(*appState)
	if !ok {
		st = &appState{state: StateInit}
		ctx.Private = st
	}

	for progressed := true; progressed; {
		progressed = step(ctx, st)
	}
}

// Release tears down the applet's private state. Framing holds no
// resources of its own beyond the struct Go will collect, but the hook
// exists for symmetry with applets that do (e.g. a decompressor).
func Release(ctx *applet.Context) {
	ctx.Private = nil
}

// MuxBusy reports whether this applet is mid a multi-frame sequence and
// must refuse to start an unrelated one.
func MuxBusy(ctx *applet.Context) bool {
	st, ok := ctx.Private.(*appState)
	return ok && st.continuation
}

// step performs one unit of framing progress and reports whether it made
// any, so Handler can drain all currently-available work in one call
// without looping past a genuine stall.
func step(ctx *applet.Context, st *appState) bool {
	switch st.state {
	case StateInit:
		hdr := FrameHeader{Type: FrameSettings}
		frame := AppendFrameHeader(nil, hdr)
		if rc := ctx.IC.InjectOutput(frame); rc != -1 {
			return false // output busy, retry next wake-up
		}
		st.state = StatePreface
		return true

	case StatePreface:
		buf := make([]byte, len(Preface))
		rc := ctx.OC.GetBlock(buf, len(Preface), 0)
		if rc == 0 {
			return false // not enough bytes yet
		}
		if rc < 0 || string(buf) != Preface {
			abort(ctx, st)
			return false
		}
		ctx.OC.SkipOutput(len(Preface))
		st.state = StateSettings1
		return true

	case StateSettings1, StateFrameHdr:
		hdrBuf := make([]byte, FrameHeaderSize)
		rc := ctx.OC.GetBlock(hdrBuf, FrameHeaderSize, 0)
		if rc == 0 {
			return false // yields less than a full header: wait for more
		}
		if rc < 0 {
			abort(ctx, st)
			return false
		}
		hdr := ParseFrameHeader(hdrBuf)
		if st.state == StateSettings1 && hdr.Type != FrameSettings {
			abort(ctx, st)
			return false
		}
		ctx.OC.SkipOutput(FrameHeaderSize)
		st.pending = hdr
		st.bodyLeft = hdr.Length
		updateMuxBusy(st, hdr)
		st.state = StateFrameBody
		return true

	case StateFrameBody:
		if st.bodyLeft == 0 {
			st.state = StateFrameHdr
			return true
		}
		want := st.bodyLeft
		const chunkCap = 1 << 16
		if want > chunkCap {
			want = chunkCap
		}
		if avail := uint32(ctx.OC.OutputLen()); avail < want {
			want = avail
		}
		if want == 0 {
			return false
		}
		scratch := make([]byte, want)
		rc := ctx.OC.GetBlock(scratch, int(want), 0)
		if rc <= 0 {
			return false
		}
		ctx.OC.SkipOutput(rc)
		st.bodyLeft -= uint32(rc)
		if st.bodyLeft == 0 {
			st.state = StateFrameHdr
		}
		return rc > 0

	case StateClosed, StateError:
		return false

	default:
		return false
	}
}

func updateMuxBusy(st *appState, hdr FrameHeader) {
	switch hdr.Type {
	case FrameHeaders, FramePushPromise:
		st.continuation = hdr.Flags&FlagEndHeaders == 0
	case FrameContinuation:
		if hdr.Flags&FlagEndHeaders != 0 {
			st.continuation = false
		}
	}
}

func abort(ctx *applet.Context, st *appState) {
	st.aborted = true
	st.state = StateError
	ctx.OC.ShutRead(true)
	ctx.IC.ShutWrite(true)
}
