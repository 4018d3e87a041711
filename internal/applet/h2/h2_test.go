package h2

import (
	"testing"

	"github.com/streamrelay/streamrelay/internal/applet"
	"github.com/streamrelay/streamrelay/internal/buffer"
	"github.com/streamrelay/streamrelay/internal/channel"
)

func newApplet() *applet.Context {
	ic := channel.New(buffer.New(4096))
	oc := channel.New(buffer.New(4096))
	return New("h2-test", ic, oc)
}

// feed places raw client bytes directly into the applet's request channel
// output region, as if a peer stream interface had already pulled and
// forwarded them.
func feed(oc *channel.Channel, data []byte) {
	oc.PutBlock(data)
	oc.Forward(uint64(len(data)))
}

func TestInitEmitsSettingsBootstrapFrame(t *testing.T) {
	ctx := newApplet()
	Handler(ctx)

	hdr := make([]byte, FrameHeaderSize)
	rc := ctx.IC.GetBlock(hdr, FrameHeaderSize, 0)
	if rc != FrameHeaderSize {
		t.Fatalf("expected a 9-byte bootstrap frame emitted, got rc=%d", rc)
	}
	fh := ParseFrameHeader(hdr)
	if fh.Type != FrameSettings || fh.Length != 0 || fh.StreamID != 0 {
		t.Fatalf("expected empty SETTINGS frame on stream 0, got %+v", fh)
	}
}

func TestPrefaceHappyPathAdvancesToFrameLoop(t *testing.T) {
	ctx := newApplet()
	feed(ctx.OC, []byte(Preface))

	Handler(ctx)

	st := ctx.Private.(*appState)
	if st.state != StateFrameHdr && st.state != StateSettings1 {
		t.Fatalf("expected to advance past preface into the frame loop, got state=%v", st.state)
	}
	if ctx.OC.OutputLen() != 0 {
		t.Fatalf("expected preface bytes to be fully consumed, got %d left", ctx.OC.OutputLen())
	}
}

func TestPrefaceMismatchAbortsStream(t *testing.T) {
	ctx := newApplet()
	bad := make([]byte, len(Preface))
	copy(bad, "GET / HTTP/1.1\r\n\r\nxxxxx")
	feed(ctx.OC, bad)

	Handler(ctx)

	st := ctx.Private.(*appState)
	if st.state != StateError {
		t.Fatalf("expected StateError on preface mismatch, got %v", st.state)
	}
	if !ctx.OC.Pflags.Has(channel.FlagReadShut) {
		t.Fatalf("expected request channel read side shut on abort")
	}
	if !ctx.IC.Pflags.Has(channel.FlagWriteShut) {
		t.Fatalf("expected response channel write side shut on abort")
	}
}

func TestSettings1RejectsNonSettingsFirstFrame(t *testing.T) {
	ctx := newApplet()
	feed(ctx.OC, []byte(Preface))
	Handler(ctx) // consumes preface, lands on Settings1

	ping := AppendFrameHeader(nil, FrameHeader{Type: FramePing, Length: 0})
	feed(ctx.OC, ping)
	Handler(ctx)

	st := ctx.Private.(*appState)
	if st.state != StateError {
		t.Fatalf("expected a non-SETTINGS first frame to abort, got %v", st.state)
	}
}

func TestFrameBodyConsumedAcrossWakeups(t *testing.T) {
	ctx := newApplet()
	feed(ctx.OC, []byte(Preface))
	Handler(ctx)

	hdr := AppendFrameHeader(nil, FrameHeader{Type: FrameSettings, Length: 6})
	feed(ctx.OC, hdr)
	Handler(ctx)
	st := ctx.Private.(*appState)
	if st.state != StateFrameBody || st.bodyLeft != 6 {
		t.Fatalf("expected to be mid frame body with 6 bytes left, got state=%v left=%d", st.state, st.bodyLeft)
	}

	feed(ctx.OC, []byte("abc"))
	Handler(ctx)
	if st.bodyLeft != 3 {
		t.Fatalf("expected partial body consumption to leave 3 bytes, got %d", st.bodyLeft)
	}

	feed(ctx.OC, []byte("def"))
	Handler(ctx)
	if st.bodyLeft != 0 || st.state != StateFrameHdr {
		t.Fatalf("expected body fully drained and back to frame-header state, got left=%d state=%v", st.bodyLeft, st.state)
	}
}

func TestMuxBusyHoldsUntilEndHeaders(t *testing.T) {
	ctx := newApplet()
	feed(ctx.OC, []byte(Preface))
	Handler(ctx)

	clientSettings := AppendFrameHeader(nil, FrameHeader{Type: FrameSettings, Length: 0})
	feed(ctx.OC, clientSettings)
	Handler(ctx)

	headers := AppendFrameHeader(nil, FrameHeader{Type: FrameHeaders, Length: 0, Flags: 0})
	feed(ctx.OC, headers)
	Handler(ctx)

	if !MuxBusy(ctx) {
		t.Fatalf("expected mux_busy while END_HEADERS has not been seen")
	}

	cont := AppendFrameHeader(nil, FrameHeader{Type: 9, Length: 0, Flags: FlagEndHeaders})
	feed(ctx.OC, cont)
	Handler(ctx)

	if MuxBusy(ctx) {
		t.Fatalf("expected mux_busy to clear once CONTINUATION sets END_HEADERS")
	}
}
