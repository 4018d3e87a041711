// Package stream implements the Stream (also called Session elsewhere in
// the core): the object that owns a pair of stream interfaces, the
// request/response channels between them, and the scheduler task that
// advances them both every time it is woken.
package stream

import (
	"time"

	"github.com/streamrelay/streamrelay/internal/analyse"
	"github.com/streamrelay/streamrelay/internal/channel"
	"github.com/streamrelay/streamrelay/internal/scheduler"
	"github.com/streamrelay/streamrelay/internal/siface"
)

// LogRecord is the per-stream summary consumed by "show stat"/"show
// sess" and emitted once on free.
type LogRecord struct {
	ID       uint64
	Frontend string
	Backend  string
	Server   string
	BytesIn  uint64
	BytesOut uint64
	Opened   time.Time
	Closed   time.Time
	Reason   string
}

// Pools groups the pool-backed substructures a stream borrows for the
// lifetime of one request: a captured request URI, captured header
// values, and the header-index scratch space a real HTTP analyser would
// build. Each is returned to its owning pool exactly once, on Free.
type Pools struct {
	RequestURI  []byte
	Headers     [][]byte
	HeaderIndex []int
	release     func(*Pools)
	releaseOnce bool
}

func (p *Pools) Return() {
	if p == nil || p.releaseOnce {
		return
	}
	p.releaseOnce = true
	if p.release != nil {
		p.release(p)
	}
}

// NewPools builds a Pools whose Return calls releaseFn exactly once.
func NewPools(releaseFn func(*Pools)) *Pools {
	return &Pools{release: releaseFn}
}

// Stream owns one full-duplex conversation: two stream interfaces, the
// request channel (SI0 -> SI1) and response channel (SI1 -> SI0) between
// them, and the task that drives Advance.
type Stream struct {
	ID uint64

	SI0, SI1 *siface.Interface
	Req, Res *channel.Channel

	Task *scheduler.Task

	Frontend, Backend, Server string

	// ReqStages/ResStages are the analyser stages gating Req/Res
	// respectively, run once per Advance before each channel's credit
	// step promotes anything. Left nil, a channel's Analysers bitmask
	// stays whatever the caller set it to (normally zero, meaning
	// already-unblocked passthrough).
	ReqStages, ResStages []analyse.Stage

	Pools *Pools
	Log   LogRecord

	frontendStopped bool
	freed           bool
}

// New builds a Stream wiring SI0 to produce into req and consume from
// res, and SI1 the mirror image, per the design's non-cyclic
// stream-owns-channels-and-interfaces layout.
func New(id uint64, req, res *channel.Channel) *Stream {
	s := &Stream{
		ID:  id,
		Req: req,
		Res: res,
	}
	s.SI0 = siface.New(req, res)
	s.SI1 = siface.New(res, req)
	s.Log = LogRecord{ID: id, Opened: time.Now()}
	return s
}

// MarkFrontendStopped records that the owning frontend has entered
// stopped state. Free does not consult it: the stream's pools are
// returned the same way whether or not it was called.
func (s *Stream) MarkFrontendStopped() { s.frontendStopped = true }

// Advance runs one scheduler step: both directions of the forwarding
// protocol, in the order request-then-response, each following the five
// numbered steps of the protocol (pull, analyse, credit, push, propagate
// shutdown). The concrete inspection logic stays out of this package's
// scope — ReqStages/ResStages name whatever internal/analyse.Stage
// values the caller wired up for this stream's frontend, and
// internal/analyse clears a channel's Analysers bits (and releases its
// forwarding credit) once every stage reports done.
func (s *Stream) Advance(now time.Time) {
	s.advanceDirection(s.SI0, s.Req, s.SI1, s.ReqStages, now)
	s.advanceDirection(s.SI1, s.Res, s.SI0, s.ResStages, now)

	s.checkTimeouts(now)

	s.SI0.MaybeClose()
	s.SI1.MaybeClose()
}

func (s *Stream) advanceDirection(producer *siface.Interface, ic *channel.Channel, consumer *siface.Interface, stages []analyse.Stage, now time.Time) {
	producer.Pull(now)
	analyse.Run(ic, stages)
	ic.Tick()
	consumer.Push(now)
	consumer.FinalizeWriteShutdown()
}

// checkTimeouts samples each channel's read/write/connect deadlines and
// forces both stream interfaces toward DIS the moment either one fires,
// per the forwarding protocol's timeout rule: a stalled endpoint shuts
// both channels rather than leaving the other side waiting forever.
func (s *Stream) checkTimeouts(now time.Time) {
	if s.Req.CheckTimeouts(now) || s.Res.CheckTimeouts(now) {
		s.SI0.Abort()
		s.SI1.Abort()
	}
}

// Closed reports whether both stream interfaces have reached CLO.
func (s *Stream) Closed() bool {
	return s.SI0.IsClosed() && s.SI1.IsClosed()
}

// AnalysersPending reports whether either channel still has inspection
// work outstanding, which blocks Free per the stream's free-exactly-once
// invariant.
func (s *Stream) AnalysersPending() bool {
	return s.Req.AnalysersPending() || s.Res.AnalysersPending()
}

// Freeable reports whether this stream may be freed: both interfaces
// closed and no analyser left mid-inspection.
func (s *Stream) Freeable() bool {
	return !s.freed && s.Closed() && !s.AnalysersPending()
}

// Free releases this stream's pool-backed substructures exactly once. It
// is the caller's responsibility to check Freeable first; Free itself
// only guards against being run twice.
func (s *Stream) Free(reason string) {
	if s.freed {
		return
	}
	s.freed = true
	s.Log.BytesIn = s.Req.Total()
	s.Log.BytesOut = s.Res.Total()
	s.Log.Reason = reason
	s.Log.Closed = time.Now()
	if s.Pools != nil {
		s.Pools.Return()
	}
}

// Freed reports whether Free has already run.
func (s *Stream) Freed() bool { return s.freed }
