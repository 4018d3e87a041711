package channel

// Flags are split into two words: Persistent bits are sticky once set
// (shutdown, hijack, timeout) and are only ever cleared by an explicit
// reset of the channel. OneShot bits record an event that happened since
// the last time the owning task looked, and must be sampled and cleared
// atomically within a single scheduler step by whoever is responsible for
// acting on them (the analyser loop, typically).
type Persistent uint32

const (
	FlagEmpty Persistent = 1 << iota
	FlagFull
	FlagReadShut  // SHUTR: read side permanently closed
	FlagWriteShut // SHUTW: write side permanently closed
	FlagShutPending
	FlagHijack    // only the hijacker may touch the buffer while set
	FlagMayForward
	FlagStreamer
	FlagReadTimeout
	FlagWriteTimeout
	FlagConnectTimeout
)

type OneShot uint32

const (
	FlagReadError OneShot = 1 << iota
	FlagReadNull           // producer observed a clean EOF
	FlagWriteError
	FlagWriteNull
	FlagShutrNow // request: shut read as soon as the action completes
	FlagShutwNow // request: shut write as soon as the action completes
	FlagPartialRead
	FlagCompleteRead
	FlagPartialWrite
	FlagCompleteWrite
)

func (p *Persistent) Set(f Persistent)      { *p |= f }
func (p *Persistent) Clear(f Persistent)    { *p &^= f }
func (p Persistent) Has(f Persistent) bool  { return p&f != 0 }

func (o *OneShot) Set(f OneShot)     { *o |= f }
func (o *OneShot) Clear(f OneShot)   { *o &^= f }
func (o OneShot) Has(f OneShot) bool { return o&f != 0 }

// Take reports whether f is set and clears it in the same step, modelling
// the "sampled and cleared atomically" contract one-shot flags require.
func (o *OneShot) Take(f OneShot) bool {
	if o.Has(f) {
		o.Clear(f)
		return true
	}
	return false
}
