package debounce

import (
	"testing"
	"time"
)

func TestFirstObservationIsNotAChange(t *testing.T) {
	gate := New(50 * time.Millisecond)

	if gate.Observe("A") {
		t.Fatal("initialization must not report a change")
	}

	if !gate.Observe("B") {
		t.Fatal("expected change after initialization")
	}
}

func TestCoalescingWindow(t *testing.T) {
	gate := New(60 * time.Millisecond)

	gate.Observe("A") // init

	if !gate.Observe("B") {
		t.Fatal("expected first change to fire")
	}

	// Inside the window: coalesced, and the baseline must stay at "B".
	if gate.Observe("C") {
		t.Fatal("change inside the quiet window must be coalesced")
	}
	if gate.Observe("C") {
		t.Fatal("repeated change inside the window must stay coalesced")
	}

	time.Sleep(90 * time.Millisecond)

	// Window reopened; "C" still differs from the recorded "B".
	if !gate.Observe("C") {
		t.Fatal("expected change once the window reopened")
	}
}

func TestScenarioWindowReopensForSameSnapshot(t *testing.T) {
	// Mirrors the documented timeline: A fires at t=0, B at t=500 is
	// coalesced without being recorded, and B fires once the window lapses.
	gate := New(60 * time.Millisecond)

	gate.Observe("") // init with empty baseline

	if !gate.Observe("A") {
		t.Fatal("expected change for A")
	}
	if gate.Observe("B") {
		t.Fatal("B inside the window must be coalesced")
	}

	time.Sleep(90 * time.Millisecond)

	if !gate.Observe("B") {
		t.Fatal("B after the window must fire against the recorded A")
	}
}

func TestIdenticalSnapshotNeverFires(t *testing.T) {
	gate := New(20 * time.Millisecond)

	gate.Observe("A")
	time.Sleep(40 * time.Millisecond)

	if gate.Observe("A") {
		t.Fatal("identical snapshot must not fire")
	}
}

func TestAtMostOneChangePerWindow(t *testing.T) {
	gate := New(60 * time.Millisecond)

	gate.Observe(0)

	fired := 0
	for i := 1; i <= 10; i++ {
		if gate.Observe(i) {
			fired++
		}
	}

	if fired != 1 {
		t.Fatalf("expected exactly one change within the window, got %d", fired)
	}
}

func TestStructSnapshotsAreSerialized(t *testing.T) {
	type request struct {
		Company string
		Skills  []string
	}

	gate := New(30 * time.Millisecond)

	gate.Observe(request{Company: "Acme", Skills: []string{"go"}})

	if gate.Observe(request{Company: "Acme", Skills: []string{"go"}}) {
		t.Fatal("structurally equal snapshots must not fire")
	}

	if !gate.Observe(request{Company: "Acme", Skills: []string{"go", "sql"}}) {
		t.Fatal("expected change for differing struct snapshot")
	}
}

func TestStopCancelsWindowTimer(t *testing.T) {
	gate := New(time.Hour)

	gate.Observe("A")
	if !gate.Observe("B") {
		t.Fatal("expected change")
	}

	gate.Stop()

	if !gate.Quiet() {
		t.Fatal("stop must reopen the gate")
	}

	if !gate.Observe("C") {
		t.Fatal("expected change after stop reopened the gate")
	}
}
