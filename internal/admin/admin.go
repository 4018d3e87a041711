// Package admin implements the core's minimal CLI surface over a
// unix-domain control socket: "show stat", "show sess", "enable server
// <name>", "disable server <name>", each returning a one-line or
// multi-line text response and a binary exit code (0 success / 1 syntax
// error), per the external interfaces section of the design.
package admin

import (
	"bufio"
	"fmt"
	"net"
	"strings"

	"github.com/streamrelay/streamrelay/internal/lb"
	"github.com/streamrelay/streamrelay/internal/relaylog"
)

// Registry looks up a named server across every backend, for
// enable/disable server commands.
type Registry struct {
	servers map[string]*lb.Server
}

// NewRegistry creates an empty server registry.
func NewRegistry() *Registry {
	return &Registry{servers: make(map[string]*lb.Server)}
}

// Add registers a server under name, overwriting any prior entry.
func (r *Registry) Add(name string, s *lb.Server) {
	r.servers[name] = s
}

// Get looks up a server by name.
func (r *Registry) Get(name string) (*lb.Server, bool) {
	s, ok := r.servers[name]
	return s, ok
}

// Admin dispatches control-socket command lines.
type Admin struct {
	Log     *relaylog.Logger
	Servers *Registry
}

// New creates an Admin backed by log and registry.
func New(log *relaylog.Logger, registry *Registry) *Admin {
	return &Admin{Log: log, Servers: registry}
}

// Handle parses and executes one command line, returning its text
// response. A non-nil error means a syntax error (unknown command,
// missing argument, unknown server name) — the caller maps that to exit
// code 1.
func (a *Admin) Handle(line string) (string, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", fmt.Errorf("admin: empty command")
	}

	switch {
	case len(fields) == 2 && fields[0] == "show" && fields[1] == "stat":
		return a.showStat(), nil
	case len(fields) == 2 && fields[0] == "show" && fields[1] == "sess":
		return a.showSess(), nil
	case len(fields) == 3 && fields[0] == "enable" && fields[1] == "server":
		return a.setServer(fields[2], true)
	case len(fields) == 3 && fields[0] == "disable" && fields[1] == "server":
		return a.setServer(fields[2], false)
	default:
		return "", fmt.Errorf("admin: unrecognized command %q", line)
	}
}

func (a *Admin) showStat() string {
	var b strings.Builder
	var in, out uint64
	streams := a.Log.RecentStreams()
	for _, s := range streams {
		in += s.BytesIn
		out += s.BytesOut
	}
	fmt.Fprintf(&b, "streams=%d bytes_in=%d bytes_out=%d\n", len(streams), in, out)
	return b.String()
}

func (a *Admin) showSess() string {
	var b strings.Builder
	for _, s := range a.Log.RecentStreams() {
		fmt.Fprintf(&b, "%d frontend=%s backend=%s server=%s in=%d out=%d reason=%s\n",
			s.ID, s.Frontend, s.Backend, s.Server, s.BytesIn, s.BytesOut, s.Reason)
	}
	return b.String()
}

func (a *Admin) setServer(name string, up bool) (string, error) {
	s, ok := a.Servers.Get(name)
	if !ok {
		return "", fmt.Errorf("admin: unknown server %q", name)
	}
	if s.Up() != up {
		s.SetUp(up)
		state := "disabled"
		if up {
			state = "enabled"
		}
		a.Log.Printf("server %s administratively %s", name, state)
	}
	return "", nil
}

// Server listens on a unix-domain socket and dispatches each accepted
// connection's first line to Handle, writing the response and closing.
type Server struct {
	admin    *Admin
	listener net.Listener
}

// Listen binds a control socket at path.
func Listen(path string, admin *Admin) (*Server, error) {
	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	return &Server{admin: admin, listener: l}, nil
}

// Serve accepts connections until the listener is closed.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return err
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil && line == "" {
		return
	}
	resp, cmdErr := s.admin.Handle(strings.TrimRight(line, "\r\n"))
	if cmdErr != nil {
		fmt.Fprintf(conn, "error: %v\n", cmdErr)
		return
	}
	fmt.Fprint(conn, resp)
}

// Close shuts down the listener.
func (s *Server) Close() error { return s.listener.Close() }

// Addr returns the control socket's address.
func (s *Server) Addr() net.Addr { return s.listener.Addr() }
