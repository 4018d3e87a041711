// Package lb implements pluggable backend-server selection policies,
// consulted when a stream needs a server to open its backend-side
// interface against. Policies never touch channel or stream state
// directly — they only pick a Server reference, matching the core's
// read-only-observer contract for external collaborators.
package lb

import "sync/atomic"

// Server is one backend destination a policy may select.
type Server struct {
	Name    string
	Addr    string
	Weight  int
	MaxConn int

	up    atomic.Bool
	served atomic.Int64
}

// NewServer creates a server marked up by default; health checks flip it
// down on probe failure.
func NewServer(name, addr string, weight, maxConn int) *Server {
	s := &Server{Name: name, Addr: addr, Weight: weight, MaxConn: maxConn}
	s.up.Store(true)
	return s
}

// Up reports the server's current administrative/health state.
func (s *Server) Up() bool { return s.up.Load() }

// SetUp is called by the health package on probe success/failure, and by
// the admin CLI's enable/disable server commands.
func (s *Server) SetUp(v bool) { s.up.Store(v) }

// Served returns the number of connections this server is currently
// carrying, for least-connections selection and "show stat".
func (s *Server) Served() int64 { return s.served.Load() }

// Acquire/Release bracket a stream's use of this server.
func (s *Server) Acquire() { s.served.Add(1) }
func (s *Server) Release() { s.served.Add(-1) }

// Policy selects a server from a backend's pool for a new stream.
type Policy interface {
	// Pick returns the chosen server, or nil if none are eligible
	// (all down, or all at MaxConn).
	Pick(servers []*Server) *Server
}

func eligible(s *Server) bool {
	return s.Up() && (s.MaxConn <= 0 || s.Served() < int64(s.MaxConn))
}

// RoundRobin cycles through servers in order, skipping ineligible ones.
// Weight is honored by expanding each server's share of the cycle.
type RoundRobin struct {
	next int
	used int // picks already given to servers[next] in its current turn
}

func (r *RoundRobin) Pick(servers []*Server) *Server {
	n := len(servers)
	if n == 0 {
		return nil
	}
	for i := 0; i < n; i++ {
		idx := (r.next + i) % n
		s := servers[idx]
		if eligible(s) {
			if i != 0 {
				r.used = 0
			}
			r.used++
			w := s.Weight
			if w <= 0 {
				w = 1
			}
			if r.used >= w {
				r.next = (idx + 1) % n
				r.used = 0
			} else {
				r.next = idx
			}
			return s
		}
	}
	return nil
}

// LeastConn picks the eligible server currently serving the fewest
// connections, weighted by dividing served count by Weight (a weight-2
// server is treated as "half as loaded" per connection carried).
type LeastConn struct{}

func (LeastConn) Pick(servers []*Server) *Server {
	var best *Server
	var bestLoad float64
	for _, s := range servers {
		if !eligible(s) {
			continue
		}
		w := s.Weight
		if w <= 0 {
			w = 1
		}
		load := float64(s.Served()) / float64(w)
		if best == nil || load < bestLoad {
			best = s
			bestLoad = load
		}
	}
	return best
}
