package relaynet

import (
	"net"
	"time"

	"github.com/golang/snappy"
	"github.com/pkg/errors"
)

// CompConn wraps a net.Conn with snappy framing. Used on a relay link's
// transport connection before it is handed to smux, so a kcp.UDPSession
// gets transparent compression on both read and write paths.
type CompConn struct {
	conn net.Conn
	w    *snappy.Writer
	r    *snappy.Reader
}

// NewCompConn wraps conn with a buffered snappy writer and a snappy
// reader.
func NewCompConn(conn net.Conn) *CompConn {
	return &CompConn{
		conn: conn,
		w:    snappy.NewBufferedWriter(conn),
		r:    snappy.NewReader(conn),
	}
}

func (c *CompConn) Read(p []byte) (int, error) { return c.r.Read(p) }

func (c *CompConn) Write(p []byte) (int, error) {
	if _, err := c.w.Write(p); err != nil {
		return 0, errors.WithStack(err)
	}
	if err := c.w.Flush(); err != nil {
		return 0, errors.WithStack(err)
	}
	return len(p), nil
}

func (c *CompConn) Close() error                       { return c.conn.Close() }
func (c *CompConn) LocalAddr() net.Addr                 { return c.conn.LocalAddr() }
func (c *CompConn) RemoteAddr() net.Addr                { return c.conn.RemoteAddr() }
func (c *CompConn) SetDeadline(t time.Time) error       { return c.conn.SetDeadline(t) }
func (c *CompConn) SetReadDeadline(t time.Time) error   { return c.conn.SetReadDeadline(t) }
func (c *CompConn) SetWriteDeadline(t time.Time) error  { return c.conn.SetWriteDeadline(t) }
