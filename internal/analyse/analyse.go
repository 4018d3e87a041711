// Package analyse implements the forwarding protocol's step 2: running
// the inspection stages named in a channel's analysers bitmask before
// any of its buffered input may be promoted to output. internal/stream's
// Advance calls Run for each direction; it is kept as a separate package
// so the core forwarding loop stays decoupled from any particular
// protocol's inspection logic.
package analyse

import "github.com/streamrelay/streamrelay/internal/channel"

// Stage pairs one analysers bit with the function that decides whether
// the currently buffered input satisfies it. Run reports true ("done":
// clear the bit, stop gating on it) or false ("yield": leave the bit
// set, the channel's input isn't ready to judge yet).
type Stage struct {
	Bit channel.Analyser
	Run func(ch *channel.Channel) bool
}

// Run executes every stage whose bit is still set in ch.Analysers,
// clearing a bit the moment its stage reports done. Once every
// configured bit has cleared, it calls ch.Forward(channel.Infinite) so
// the channel's credit step starts promoting all of its bytes (past and
// future) without further gating — a stream's inspection work happens
// once, at the start of a conversation, never repeated afterward. A
// channel with no analysers bits set at all is already a no-op call.
func Run(ch *channel.Channel, stages []Stage) {
	if ch.Analysers == 0 {
		return
	}
	for _, st := range stages {
		if ch.Analysers&st.Bit == 0 {
			continue
		}
		if st.Run(ch) {
			ch.Analysers &^= st.Bit
		}
	}
	if ch.Analysers == 0 {
		ch.Forward(channel.Infinite)
	}
}

// RequestLine is a minimal request-line analyser: it waits for a '\n'
// to appear anywhere in the channel's still-unforwarded input region
// (or for the read side to shut with none ever arriving) before
// releasing the channel to the forwarding credit step. It does not
// parse the line's method, path, or version — only the framing
// boundary, matching the spec's "no HTTP semantics beyond what is
// needed to demonstrate the model" scope.
func RequestLine(ch *channel.Channel) bool {
	if ch.Buf().ScanInputForByte('\n') {
		return true
	}
	return ch.Pflags.Has(channel.FlagReadShut)
}

// StatusLine is the response-channel mirror of RequestLine.
func StatusLine(ch *channel.Channel) bool {
	if ch.Buf().ScanInputForByte('\n') {
		return true
	}
	return ch.Pflags.Has(channel.FlagReadShut)
}
