// Package health implements a periodic TCP-connect probe per backend
// server, flipping the up/down flag lb.Policy implementations read. It
// is a pure observer: it never touches channel or stream state, only the
// server's administrative up/down bit, consistent with the core's
// external-collaborator boundary.
package health

import (
	"net"
	"time"
)

// Dialer abstracts net.DialTimeout so tests can substitute a fake.
type Dialer func(network, addr string, timeout time.Duration) (net.Conn, error)

// Target is the subset of lb.Server a checker needs; kept narrow so this
// package does not import lb and create a cycle with any future
// lb-side health wiring.
type Target interface {
	SetUp(bool)
}

// Check is one server's probe configuration.
type Check struct {
	Name     string
	Addr     string
	Target   Target
	Interval time.Duration
	Timeout  time.Duration

	// FailThreshold/RiseThreshold mirror haproxy's fall/rise counters:
	// consecutive failures/successes required before flipping state.
	FailThreshold int
	RiseThreshold int

	consecFail int
	consecOK   int
}

// Checker runs a set of Checks, all probed together on each ProbeOnce
// call, dialing through Dial (net.DialTimeout by default).
type Checker struct {
	Dial   Dialer
	checks []*Check
}

// NewChecker creates a Checker using real TCP dials.
func NewChecker() *Checker {
	return &Checker{Dial: func(network, addr string, timeout time.Duration) (net.Conn, error) {
		return net.DialTimeout(network, addr, timeout)
	}}
}

// Add registers a check. FailThreshold/RiseThreshold default to 1 (flip
// immediately) when left zero.
func (c *Checker) Add(ch *Check) {
	if ch.FailThreshold <= 0 {
		ch.FailThreshold = 1
	}
	if ch.RiseThreshold <= 0 {
		ch.RiseThreshold = 1
	}
	c.checks = append(c.checks, ch)
}

// ProbeOnce runs every registered check a single time. cmd/relayd calls
// it from a one-second ticker on its main loop; Check.Interval is not
// consulted. Tests call it directly.
func (c *Checker) ProbeOnce(now time.Time) {
	for _, ch := range c.checks {
		c.probe(ch)
	}
}

func (c *Checker) probe(ch *Check) {
	timeout := ch.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	conn, err := c.Dial("tcp", ch.Addr, timeout)
	if err != nil {
		ch.consecFail++
		ch.consecOK = 0
		if ch.consecFail >= ch.FailThreshold {
			ch.Target.SetUp(false)
		}
		return
	}
	conn.Close()
	ch.consecOK++
	ch.consecFail = 0
	if ch.consecOK >= ch.RiseThreshold {
		ch.Target.SetUp(true)
	}
}
