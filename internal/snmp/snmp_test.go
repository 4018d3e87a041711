package snmp

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSnapshotOnceWritesHeaderOnce(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snmp.csv")
	c := &Counters{}
	c.StreamsOpened.Store(5)
	l := NewLogger(path, c)

	now := time.Unix(1700000000, 0).UTC()
	if err := l.SnapshotOnce(now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := l.SnapshotOnce(now.Add(time.Minute)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("opening snapshot file: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("reading csv: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 1 header + 2 data rows, got %d: %v", len(rows), rows)
	}
	if rows[0][0] != "Unix" || rows[0][1] != "StreamsOpened" {
		t.Fatalf("unexpected header row: %v", rows[0])
	}
	if rows[1][1] != "5" {
		t.Fatalf("expected StreamsOpened=5 in the first data row, got %v", rows[1])
	}
}

func TestSnapshotOnceDisabledWithEmptyPath(t *testing.T) {
	l := NewLogger("", &Counters{})
	if err := l.SnapshotOnce(time.Now()); err != nil {
		t.Fatalf("expected a no-op success for an empty path, got %v", err)
	}
}

func TestSnapshotOnceSupportsTimeFormattedFilename(t *testing.T) {
	dir := t.TempDir()
	l := NewLogger(filepath.Join(dir, "snmp-20060102.csv"), &Counters{})
	now := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)

	if err := l.SnapshotOnce(now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "snmp-20260102.csv")); err != nil {
		t.Fatalf("expected a resolved, time-formatted filename: %v", err)
	}
}
