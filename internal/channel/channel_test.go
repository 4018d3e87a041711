package channel

import (
	"testing"

	"github.com/streamrelay/streamrelay/internal/buffer"
)

func TestForwardZeroNoop(t *testing.T) {
	c := New(buffer.New(64))
	c.PutBlock([]byte("hello"))
	before := c.buf.InputLen()
	if n := c.Forward(0); n != 0 {
		t.Fatalf("forward(0) should return 0, got %d", n)
	}
	if c.buf.InputLen() != before {
		t.Fatalf("forward(0) must not mutate state")
	}
}

func TestForwardPartialCoverage(t *testing.T) {
	c := New(buffer.New(64))
	c.PutBlock([]byte("hello world"))
	n := c.Forward(5)
	if n != 5 {
		t.Fatalf("expected 5, got %d", n)
	}
	if c.buf.OutputLen() != 5 {
		t.Fatalf("expected 5 bytes promoted, got %d", c.buf.OutputLen())
	}
}

func TestForwardExceedsInputAccumulatesCredit(t *testing.T) {
	c := New(buffer.New(64))
	c.PutBlock([]byte("hi"))
	n := c.Forward(10)
	if n != 10 {
		t.Fatalf("expected 10, got %d", n)
	}
	if c.toForward != 8 {
		t.Fatalf("expected 8 bytes of pending credit, got %d", c.toForward)
	}
}

func TestForwardInfiniteSentinel(t *testing.T) {
	c := New(buffer.New(64))
	if n := c.Forward(Infinite); n != Infinite {
		t.Fatalf("expected Infinite, got %d", n)
	}
	if n := c.Forward(5); n != 5 {
		t.Fatalf("once infinite, forward(n) returns n unchanged, got %d", n)
	}
}

func TestInfiniteCreditDrainsEveryChunk(t *testing.T) {
	c := New(buffer.New(4096))
	c.toForward = Infinite
	var total int
	chunk := make([]byte, 100)
	for i := 0; i < 100; i++ {
		rc := c.PutBlock(chunk)
		if rc != 100 {
			t.Fatalf("put failed at iter %d: %d", i, rc)
		}
		if c.buf.InputLen() != 0 {
			t.Fatalf("iter %d: input region should drain immediately under infinite credit, got %d", i, c.buf.InputLen())
		}
		total += rc
		// consumer drains the output region before the next chunk
		c.SkipOutput(c.buf.OutputLen())
	}
	if int(c.Total()) != total {
		t.Fatalf("total mismatch: %d vs %d", c.Total(), total)
	}
}

func TestBackpressureWaitRoomThenRetry(t *testing.T) {
	size := 16
	c := New(buffer.New(size))
	half := make([]byte, size/2)
	c.PutBlock(half)
	c.Forward(uint64(size / 2)) // drain to output

	full := make([]byte, size)
	rc := c.PutBlock(full)
	if rc != -1 {
		t.Fatalf("expected -1 while only %d bytes are free, got %d", size/2, rc)
	}

	// consumer drains the output region
	c.SkipOutput(c.buf.OutputLen())

	rc = c.PutBlock(full)
	if rc != size {
		t.Fatalf("expected full accept after drain, got %d", rc)
	}
}

func TestPutBlockContracts(t *testing.T) {
	c := New(buffer.New(8))
	if rc := c.PutBlock(nil); rc != 0 {
		t.Fatalf("empty block should return 0, got %d", rc)
	}
	if rc := c.PutBlock(make([]byte, 9)); rc != -3 {
		t.Fatalf("oversize block should return -3, got %d", rc)
	}
	c.ShutRead(true)
	if rc := c.PutBlock([]byte("x")); rc != -2 {
		t.Fatalf("put on shut input should return -2, got %d", rc)
	}
}

func TestShutReadBlocksFurtherPuts(t *testing.T) {
	c := New(buffer.New(16))
	c.ShutRead(true)
	if rc := c.PutByte('x'); rc != -2 {
		t.Fatalf("expected -2 after shut_read, got %d", rc)
	}
}

func TestShutWriteBlocksFurtherGets(t *testing.T) {
	c := New(buffer.New(16))
	c.PutBlock([]byte("data"))
	c.Forward(4)
	c.ShutWrite(true)

	// a block fully received before shutdown is still retrievable...
	dst := make([]byte, 4)
	if rc := c.GetBlock(dst, 4, 0); rc != 4 {
		t.Fatalf("expected already-buffered data to still be gettable, got %d", rc)
	}
	// ...but a request that can never be satisfied now reports failure.
	if rc := c.GetBlock(dst, 4, 1); rc != -1 {
		t.Fatalf("expected -1 once write is shut and data will never arrive, got %d", rc)
	}
}

func TestOneShotFlagsClearOnTake(t *testing.T) {
	var o OneShot
	o.Set(FlagReadNull)
	if !o.Take(FlagReadNull) {
		t.Fatalf("expected flag to be set")
	}
	if o.Has(FlagReadNull) {
		t.Fatalf("Take should clear the flag")
	}
}
