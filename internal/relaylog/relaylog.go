// Package relaylog wraps the standard library's log.Logger with plain
// log.Println for operational lines, github.com/fatih/color's
// color.RedString for configuration warnings, a -quiet flag that suppresses per-stream
// open/close lines, and a -log <file> redirect. It adds structured
// per-stream records (stream id, frontend, backend, server, bytes
// in/out, termination reason) for the admin CLI's "show stat"/"show
// sess".
package relaylog

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"github.com/fatih/color"
)

// Logger is the relay's log sink: a standard library logger plus the
// quiet flag gating per-stream lines and a ring of recent stream
// summaries for "show stat"/"show sess".
type Logger struct {
	*log.Logger
	quiet bool

	mu      sync.Mutex
	streams []StreamSummary
	maxKept int
}

// StreamSummary is the structured record retained per finished stream.
type StreamSummary struct {
	ID       uint64
	Frontend string
	Backend  string
	Server   string
	BytesIn  uint64
	BytesOut uint64
	Reason   string
}

// New creates a Logger writing to w (os.Stdout in production, a
// *os.File when redirected via -log). quiet suppresses per-stream
// open/close lines while leaving warnings and fatal lines intact.
func New(w io.Writer, quiet bool) *Logger {
	return &Logger{
		Logger:  log.New(w, "", log.LstdFlags),
		quiet:   quiet,
		maxKept: 1024,
	}
}

// Open redirects logging to path for the -log <file> flag: the file is
// created if missing and always opened in append mode. The returned
// Logger is not quiet.
func Open(path string) (*Logger, *os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	return New(f, false), f, nil
}

// Warn prints a configuration warning in red, using
// color.RedString("QPP Warning: ...") style formatting.
func (l *Logger) Warn(format string, args ...interface{}) {
	l.Logger.Println(color.RedString(format, args...))
}

// StreamOpened logs a per-stream open line, suppressed under -quiet.
func (l *Logger) StreamOpened(id uint64, frontend string) {
	if l.quiet {
		return
	}
	l.Logger.Println(fmt.Sprintf("stream %d: opened on frontend %s", id, frontend))
}

// StreamClosed logs a per-stream close line (suppressed under -quiet)
// and records the structured summary for admin queries regardless of
// quiet, since "show stat"/"show sess" must work even when the text log
// is silenced.
func (l *Logger) StreamClosed(s StreamSummary) {
	if !l.quiet {
		l.Logger.Println(fmt.Sprintf("stream %d: closed reason=%s in=%d out=%d", s.ID, s.Reason, s.BytesIn, s.BytesOut))
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.streams = append(l.streams, s)
	if len(l.streams) > l.maxKept {
		l.streams = l.streams[len(l.streams)-l.maxKept:]
	}
}

// RecentStreams returns a snapshot of retained stream summaries, most
// recent last, for "show stat"/"show sess".
func (l *Logger) RecentStreams() []StreamSummary {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]StreamSummary, len(l.streams))
	copy(out, l.streams)
	return out
}
