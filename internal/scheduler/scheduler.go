// Package scheduler implements the single-threaded cooperative run loop:
// a heap-ordered expiration tree plus a run queue, grounded on kcp-go's
// TimedSched container/heap pattern but adapted away from that library's
// parallel worker pool — the core has no parallel threads, and a task
// must never be re-entered while it is already running.
package scheduler

import (
	"container/heap"
	"time"
)

// TaskFunc is one non-blocking scheduler step for a task. now is the
// scheduler's current notion of time, passed in rather than read fresh so
// that a single Step call is internally consistent.
type TaskFunc func(now time.Time)

// Task is a schedulable unit: a stream, a channel's timeout watchdog, a
// stick-table expiry sweep. Callers never construct Task directly; use
// Scheduler.NewTask.
type Task struct {
	fn TaskFunc

	expire   time.Time
	hasExpire bool
	heapIdx  int // maintained by container/heap; -1 when not on the tree

	queued  bool // already sitting in the run queue or pending list
	running bool // currently executing; re-entry is refused
}

// Expire reports the task's current expiration tick, if any.
func (t *Task) Expire() (time.Time, bool) { return t.expire, t.hasExpire }

type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	return h[i].expire.Before(h[j].expire)
}
func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIdx = i
	h[j].heapIdx = j
}
func (h *taskHeap) Push(x interface{}) {
	t := x.(*Task)
	t.heapIdx = len(*h)
	*h = append(*h, t)
}
func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.heapIdx = -1
	*h = old[:n-1]
	return t
}

// Scheduler drains expired and woken tasks to completion once per Step,
// with no concurrency: a panic-safe re-entrancy guard refuses to run a
// task that is already executing (it would only happen if a task's own
// fn, directly or transitively, tried to Step the scheduler or Wake
// itself into the same drain pass — see Wake's pending-queue split).
type Scheduler struct {
	tree taskHeap

	queue   []*Task // tasks runnable in the current drain pass
	pending []*Task // tasks woken during this pass; promoted next Step

	draining bool
}

// New creates an empty scheduler.
func New() *Scheduler {
	s := &Scheduler{}
	heap.Init(&s.tree)
	return s
}

// NewTask creates a task bound to fn, not yet scheduled or queued.
func (s *Scheduler) NewTask(fn TaskFunc) *Task {
	return &Task{fn: fn, heapIdx: -1}
}

// Schedule (re-)arms t's expiration tick, inserting it into the tree if
// it is not already present or fixing its heap position if it is.
func (s *Scheduler) Schedule(t *Task, at time.Time) {
	t.expire = at
	t.hasExpire = true
	if t.heapIdx < 0 {
		heap.Push(&s.tree, t)
		return
	}
	heap.Fix(&s.tree, t.heapIdx)
}

// Cancel removes t's expiration tick, if armed. It does not affect
// whether t is queued to run.
func (s *Scheduler) Cancel(t *Task) {
	if t.heapIdx < 0 {
		return
	}
	heap.Remove(&s.tree, t.heapIdx)
	t.hasExpire = false
}

// Wake marks t runnable. If called from outside a Step's drain pass it is
// appended directly to the run queue; if called from within one (a task
// waking another, or itself) it lands in the pending list so it is
// guaranteed to run on the *next* Step, per the ordering guarantee that a
// task runs at most once per iteration.
func (s *Scheduler) Wake(t *Task) {
	if t.queued {
		return
	}
	t.queued = true
	if s.draining {
		s.pending = append(s.pending, t)
		return
	}
	s.queue = append(s.queue, t)
}

// Step pops all expired tasks into the run queue, then drains the queue
// to completion. draining stays true for the duration of the drain phase
// so that Wake knows to defer same-iteration re-scheduling to pending.
func (s *Scheduler) Step(now time.Time) {
	s.popExpired(now)

	s.draining = true
	for len(s.queue) > 0 {
		t := s.queue[0]
		s.queue = s.queue[1:]
		t.queued = false
		s.run(t, now)
	}
	s.draining = false

	if len(s.pending) > 0 {
		s.queue = append(s.queue, s.pending...)
		s.pending = nil
	}
}

func (s *Scheduler) run(t *Task, now time.Time) {
	if t.running {
		// A task attempted to re-enter itself mid-step; refuse per the
		// no-re-entrancy rule instead of recursing.
		return
	}
	t.running = true
	defer func() { t.running = false }()
	t.fn(now)
}

func (s *Scheduler) popExpired(now time.Time) {
	for s.tree.Len() > 0 && !s.tree[0].expire.After(now) {
		t := heap.Pop(&s.tree).(*Task)
		t.hasExpire = false
		s.Wake(t)
	}
}

// NextWakeup returns the earliest armed expiration tick remaining on the
// tree, for the caller to use as the event multiplexer's poll timeout.
func (s *Scheduler) NextWakeup() (time.Time, bool) {
	if s.tree.Len() == 0 {
		return time.Time{}, false
	}
	return s.tree[0].expire, true
}

// Pending reports whether any task is queued to run on the next Step.
func (s *Scheduler) Pending() bool { return len(s.queue) > 0 }
