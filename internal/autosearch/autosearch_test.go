package autosearch

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type tickCounter struct {
	mu sync.Mutex
	n  int
}

func (c *tickCounter) tick() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
}

func (c *tickCounter) value() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func TestChangedFiresImmediatelyThenOnInterval(t *testing.T) {
	counter := &tickCounter{}
	loop := New(30*time.Millisecond, zap.NewNop())
	defer loop.Disable()

	loop.Enable(counter.tick)
	loop.Changed()

	if counter.value() != 1 {
		t.Fatalf("expected one immediate tick, got %d", counter.value())
	}

	deadline := time.Now().Add(time.Second)
	for counter.value() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if counter.value() < 3 {
		t.Fatalf("expected interval ticks to follow, got %d", counter.value())
	}
}

func TestDisableStopsWithoutFinalTick(t *testing.T) {
	counter := &tickCounter{}
	loop := New(20*time.Millisecond, zap.NewNop())

	loop.Enable(counter.tick)
	loop.Changed()
	loop.Disable()

	settled := counter.value()
	time.Sleep(100 * time.Millisecond)

	if counter.value() != settled {
		t.Fatalf("ticks continued after disable: %d -> %d", settled, counter.value())
	}
	if loop.Active() {
		t.Fatal("interval still active after disable")
	}
}

func TestChangedWhileDisabledIsIgnored(t *testing.T) {
	counter := &tickCounter{}
	loop := New(20*time.Millisecond, zap.NewNop())

	loop.Changed()
	time.Sleep(60 * time.Millisecond)

	if counter.value() != 0 {
		t.Fatalf("disabled loop must not tick, got %d", counter.value())
	}
}

func TestIntervalsNeverStack(t *testing.T) {
	counter := &tickCounter{}
	loop := New(50*time.Millisecond, zap.NewNop())
	defer loop.Disable()

	loop.Enable(counter.tick)
	loop.Changed()
	loop.Changed()
	loop.Changed()

	time.Sleep(270 * time.Millisecond)
	loop.Disable()

	// Three immediate ticks plus roughly five interval ticks from the
	// single surviving interval. Stacked intervals would double that.
	if got := counter.value(); got > 10 {
		t.Fatalf("tick count %d suggests stacked intervals", got)
	}
	if got := counter.value(); got < 4 {
		t.Fatalf("expected interval ticks from the surviving interval, got %d", got)
	}
}

func TestReEnableDoesNotStack(t *testing.T) {
	counter := &tickCounter{}
	loop := New(30*time.Millisecond, zap.NewNop())
	defer loop.Disable()

	loop.Enable(counter.tick)
	loop.Enable(counter.tick)
	loop.Changed()

	time.Sleep(100 * time.Millisecond)

	// One immediate tick plus ~3 interval ticks; stacking would double.
	if got := counter.value(); got > 6 {
		t.Fatalf("tick count %d suggests stacked intervals", got)
	}
}

func TestTerminalStopsIntervalButKeepsLoopArmed(t *testing.T) {
	counter := &tickCounter{}
	loop := New(20*time.Millisecond, zap.NewNop())
	defer loop.Disable()

	loop.Enable(counter.tick)
	loop.Changed()
	loop.Terminal()

	settled := counter.value()
	time.Sleep(80 * time.Millisecond)

	if counter.value() != settled {
		t.Fatalf("ticks continued after terminal: %d -> %d", settled, counter.value())
	}
	if !loop.Enabled() {
		t.Fatal("terminal must not disable the loop")
	}

	loop.Changed()
	if counter.value() != settled+1 {
		t.Fatal("loop must re-arm after a new settled change")
	}
}
