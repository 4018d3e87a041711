// Package stick implements an in-memory, TTL-expired stick table mapping
// a client key (typically its source IP) to the server it was last
// routed to; cmd/relayd consults it before falling back to an lb.Policy.
// Table itself is a generic string-keyed map, so the same type can hold
// any other key with the same expiry mechanics. Expiry
// runs as a periodic task registered with the scheduler; entries are
// otherwise only ever touched by the single scheduler thread, so no
// locking is needed.
package stick

import "time"

type entry struct {
	value   string
	expires time.Time
}

// Table is a TTL-expired key/value map. Its zero value has no map, so Set
// on it panics; create tables with New.
type Table struct {
	ttl     time.Duration
	entries map[string]entry
}

// New creates a Table whose entries live for ttl after their last Set.
func New(ttl time.Duration) *Table {
	return &Table{ttl: ttl, entries: make(map[string]entry)}
}

// Set records key -> value, refreshing its expiry from now.
func (t *Table) Set(key, value string, now time.Time) {
	t.entries[key] = entry{value: value, expires: now.Add(t.ttl)}
}

// Get returns the value for key if present and not yet expired as of
// now. A lookup never refreshes the entry's TTL (sticking, not
// keep-alive).
func (t *Table) Get(key string, now time.Time) (string, bool) {
	e, ok := t.entries[key]
	if !ok || now.After(e.expires) {
		return "", false
	}
	return e.value, true
}

// ExpireOnce sweeps the table once, dropping every entry whose TTL has
// passed as of now. Intended to be driven by a scheduler.Task at a fixed
// interval. Returns the number of entries dropped.
func (t *Table) ExpireOnce(now time.Time) int {
	dropped := 0
	for k, e := range t.entries {
		if now.After(e.expires) {
			delete(t.entries, k)
			dropped++
		}
	}
	return dropped
}

// Len reports the current entry count, including any not-yet-swept
// expired entries.
func (t *Table) Len() int { return len(t.entries) }
