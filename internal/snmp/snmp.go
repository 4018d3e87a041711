// Package snmp implements periodic counter snapshotting to a CSV sink: a
// row of the relay's own stream-level statistics appended to a CSV file
// named via a time.Format'd template. The snapshot runs as a single
// callable step suitable for driving from a scheduler.Task rather than a
// free-running ticker goroutine, so it fits the core's single-threaded
// cooperative model.
package snmp

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"
)

// Counters are the relay-level statistics snapshotted to CSV: a flat set
// of named counters with Header/ToSlice naming the relay's own events.
type Counters struct {
	StreamsOpened atomic.Uint64
	StreamsClosed atomic.Uint64
	BytesIn       atomic.Uint64
	BytesOut      atomic.Uint64
	ReadErrors    atomic.Uint64
	WriteErrors   atomic.Uint64
	ConnectErrors atomic.Uint64
}

// Header names each column, in the same order ToSlice emits values.
func (c *Counters) Header() []string {
	return []string{"StreamsOpened", "StreamsClosed", "BytesIn", "BytesOut", "ReadErrors", "WriteErrors", "ConnectErrors"}
}

// ToSlice snapshots every counter as a string, for one CSV row.
func (c *Counters) ToSlice() []string {
	return []string{
		fmt.Sprint(c.StreamsOpened.Load()),
		fmt.Sprint(c.StreamsClosed.Load()),
		fmt.Sprint(c.BytesIn.Load()),
		fmt.Sprint(c.BytesOut.Load()),
		fmt.Sprint(c.ReadErrors.Load()),
		fmt.Sprint(c.WriteErrors.Load()),
		fmt.Sprint(c.ConnectErrors.Load()),
	}
}

// Logger appends one row per SnapshotOnce call to a CSV file, creating it
// (with a header) on first write. Path may contain a time.Format
// template in its filename component, so a deployment can roll snapshot
// files daily ("snmp-20060102.csv") without extra code.
type Logger struct {
	Path     string
	Counters *Counters
}

// NewLogger wires a Logger to path and the counters it will snapshot.
// An empty path disables snapshotting.
func NewLogger(path string, counters *Counters) *Logger {
	return &Logger{Path: path, Counters: counters}
}

// SnapshotOnce appends one timestamped row of counters to the CSV file,
// writing a header first if the file is newly created or empty.
func (l *Logger) SnapshotOnce(now time.Time) error {
	if l.Path == "" {
		return nil
	}
	dir, file := filepath.Split(l.Path)
	resolved := filepath.Join(dir, now.Format(file))

	f, err := os.OpenFile(resolved, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o666)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if stat, err := f.Stat(); err == nil && stat.Size() == 0 {
		if err := w.Write(append([]string{"Unix"}, l.Counters.Header()...)); err != nil {
			return err
		}
	}
	if err := w.Write(append([]string{fmt.Sprint(now.Unix())}, l.Counters.ToSlice()...)); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}
