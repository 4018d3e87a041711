package stick

import (
	"testing"
	"time"
)

func TestSetThenGetWithinTTL(t *testing.T) {
	now := time.Unix(1000, 0)
	tbl := New(10 * time.Second)
	tbl.Set("1.2.3.4", "srv-a", now)

	v, ok := tbl.Get("1.2.3.4", now.Add(5*time.Second))
	if !ok || v != "srv-a" {
		t.Fatalf("expected srv-a within TTL, got %q ok=%v", v, ok)
	}
}

func TestGetAfterTTLExpiresMisses(t *testing.T) {
	now := time.Unix(1000, 0)
	tbl := New(10 * time.Second)
	tbl.Set("1.2.3.4", "srv-a", now)

	_, ok := tbl.Get("1.2.3.4", now.Add(11*time.Second))
	if ok {
		t.Fatalf("expected a miss once the TTL has passed")
	}
}

func TestGetLookupDoesNotRefreshTTL(t *testing.T) {
	now := time.Unix(1000, 0)
	tbl := New(10 * time.Second)
	tbl.Set("k", "v", now)
	tbl.Get("k", now.Add(5*time.Second))

	_, ok := tbl.Get("k", now.Add(11*time.Second))
	if ok {
		t.Fatalf("a plain lookup must not extend the entry's TTL")
	}
}

func TestExpireOnceDropsOnlyExpiredEntries(t *testing.T) {
	now := time.Unix(1000, 0)
	tbl := New(10 * time.Second)
	tbl.Set("old", "x", now.Add(-20*time.Second))
	tbl.Set("fresh", "y", now)

	dropped := tbl.ExpireOnce(now)
	if dropped != 1 {
		t.Fatalf("expected exactly 1 dropped entry, got %d", dropped)
	}
	if tbl.Len() != 1 {
		t.Fatalf("expected the fresh entry to survive, table len=%d", tbl.Len())
	}
	if _, ok := tbl.Get("fresh", now); !ok {
		t.Fatalf("expected fresh entry still retrievable")
	}
}
