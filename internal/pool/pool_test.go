package pool

import "testing"

func TestBufferPoolRoundsUpToPowerOfTwo(t *testing.T) {
	p := NewBufferPool()
	b := p.Get(100)
	if len(*b) != 100 {
		t.Fatalf("expected length 100, got %d", len(*b))
	}
	if cap(*b) != 128 {
		t.Fatalf("expected cap rounded up to 128, got %d", cap(*b))
	}
}

func TestBufferPoolExactPowerOfTwoNoWaste(t *testing.T) {
	p := NewBufferPool()
	b := p.Get(64)
	if cap(*b) != 64 {
		t.Fatalf("expected exact cap 64 for an exact power-of-two request, got %d", cap(*b))
	}
}

func TestBufferPoolReusesPutBuffers(t *testing.T) {
	p := NewBufferPool()
	b := p.Get(64)
	addr := &(*b)[0]
	p.Put(b)
	b2 := p.Get(64)
	if &(*b2)[0] != addr {
		t.Skip("sync.Pool reuse is best-effort and may be GC'd between calls")
	}
}

func TestBufferPoolRejectsOutOfRange(t *testing.T) {
	p := NewBufferPool()
	if p.Get(0) != nil {
		t.Fatalf("expected nil for size 0")
	}
	if p.Get(1 << 20) != nil {
		t.Fatalf("expected nil for a request above the pool's ceiling")
	}
}

type widget struct {
	id    int
	reset bool
}

func TestObjectPoolGetBuildsWhenEmpty(t *testing.T) {
	calls := 0
	p := NewObjectPool(func() *widget { calls++; return &widget{id: calls} }, nil)
	a := p.Get()
	b := p.Get()
	if a.id == b.id {
		t.Fatalf("expected two distinct freshly built objects")
	}
	if calls != 2 {
		t.Fatalf("expected 2 builds, got %d", calls)
	}
}

func TestObjectPoolReusesAfterPut(t *testing.T) {
	calls := 0
	p := NewObjectPool(func() *widget { calls++; return &widget{id: calls} }, func(w *widget) { w.reset = true })
	a := p.Get()
	p.Put(a)
	b := p.Get()
	if a != b {
		t.Fatalf("expected Get to reuse the returned object")
	}
	if !b.reset {
		t.Fatalf("expected reset to run before reuse")
	}
	if calls != 1 {
		t.Fatalf("expected exactly one build, got %d", calls)
	}
}

func TestObjectPoolTryGetReturnsNilWhenEmpty(t *testing.T) {
	p := NewObjectPool(func() *widget { return &widget{} }, nil)
	if p.TryGet() != nil {
		t.Fatalf("expected nil from TryGet on an empty pool")
	}
}

type recordingWaiter struct{ woken int }

func (w *recordingWaiter) Wake() { w.woken++ }

func TestObjectPoolWakesWaiterOnPut(t *testing.T) {
	p := NewObjectPool(func() *widget { return &widget{} }, nil)
	w := &recordingWaiter{}
	p.AwaitRelease(w)

	obj := p.Get()
	p.Put(obj)

	if w.woken != 1 {
		t.Fatalf("expected the waiter to be woken exactly once, got %d", w.woken)
	}
	if p.Waiting() != 0 {
		t.Fatalf("expected the wait list to be drained after waking")
	}
}

func TestObjectPoolWakesWaitersInFIFOOrder(t *testing.T) {
	p := NewObjectPool(func() *widget { return &widget{} }, nil)
	var order []int
	w1 := &orderWaiter{id: 1, order: &order}
	w2 := &orderWaiter{id: 2, order: &order}
	p.AwaitRelease(w1)
	p.AwaitRelease(w2)

	p.Put(p.Get())
	p.Put(p.Get())

	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("expected FIFO wake order [1 2], got %v", order)
	}
}

type orderWaiter struct {
	id    int
	order *[]int
}

func (w *orderWaiter) Wake() { *w.order = append(*w.order, w.id) }
