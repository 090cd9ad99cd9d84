// Package debounce detects settled changes in a serialized input snapshot.
// Its single job is to keep keystroke-level edits from each triggering a
// search resubmission: a change opens a quiet window, and further changes
// inside that window are coalesced.
package debounce

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

const defaultWindow = 3 * time.Second

// Gate is stateful across Observe calls. The very first observation
// initializes the baseline and is never reported as a change.
//
// Coalescing is deliberate and exact: a differing snapshot inside an open
// window is not recorded, so it only surfaces once the window reopens and a
// further Observe call still differs from the recorded baseline. Callers
// that must not lose a trailing edit keep observing on an interval (the
// auto-resubmission loop does), which turns the window-close into an
// ordinary detection on the next tick.
type Gate struct {
	mu sync.Mutex

	window      time.Duration
	last        string
	initialized bool
	quiet       bool
	timer       *time.Timer
}

func New(window time.Duration) *Gate {
	if window <= 0 {
		window = defaultWindow
	}

	return &Gate{
		window: window,
		quiet:  true,
	}
}

// Observe feeds the current input snapshot and reports whether a settled
// change was detected. At most one change per quiet window is ever reported.
func (g *Gate) Observe(snapshot any) bool {
	serialized := serialize(snapshot)

	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.initialized {
		g.initialized = true
		g.last = serialized
		return false
	}

	if serialized == g.last {
		return false
	}

	if !g.quiet {
		// Inside an open window: coalesced, baseline untouched.
		return false
	}

	g.last = serialized
	g.quiet = false
	g.timer = time.AfterFunc(g.window, g.reopen)

	return true
}

// Quiet reports whether the gate is outside a coalescing window.
func (g *Gate) Quiet() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.quiet
}

// Stop cancels the pending window timer. The gate keeps its baseline and
// can still be observed afterwards.
func (g *Gate) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	g.quiet = true
}

func (g *Gate) reopen() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.quiet = true
	g.timer = nil
}

func serialize(snapshot any) string {
	encoded, err := json.Marshal(snapshot)
	if err != nil {
		// Marshal failures are limited to exotic types; fall back to the
		// fmt rendering so comparisons stay deterministic.
		return fmt.Sprintf("%#v", snapshot)
	}

	return string(encoded)
}
