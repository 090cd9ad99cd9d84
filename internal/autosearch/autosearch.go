// Package autosearch re-triggers search submission while a search input
// keeps changing. A settled change fires one immediate tick and then a fixed
// interval of follow-up ticks until the loop is disabled or the tracked job
// reaches a terminal status.
package autosearch

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultInterval = 5 * time.Second

// Loop guarantees at most one active interval per instance: enabling while
// enabled replaces nothing, and a new settled change replaces the running
// interval instead of stacking a second one.
type Loop struct {
	interval time.Duration
	log      *zap.Logger

	mu      sync.Mutex
	enabled bool
	onTick  func()
	stop    chan struct{}
}

func New(interval time.Duration, logger *zap.Logger) *Loop {
	if interval <= 0 {
		interval = defaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Loop{interval: interval, log: logger}
}

// Enable arms the loop. Re-enabling an enabled loop only swaps the callback;
// it never starts a second interval.
func (l *Loop) Enable(onTick func()) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.onTick = onTick
	if l.enabled {
		return
	}

	l.enabled = true
	l.log.Debug("auto-resubmission enabled", zap.Duration("interval", l.interval))
}

// Disable clears the interval without firing a final tick.
func (l *Loop) Disable() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled {
		return
	}

	l.enabled = false
	l.stopIntervalLocked()
	l.log.Debug("auto-resubmission disabled")
}

// Enabled reports whether the loop is armed.
func (l *Loop) Enabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enabled
}

// Active reports whether an interval is currently running.
func (l *Loop) Active() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stop != nil
}

// Changed is called when the debounce gate reports a settled change. It
// fires one immediate tick and (re)starts the interval, replacing any
// interval already running.
func (l *Loop) Changed() {
	l.mu.Lock()
	if !l.enabled {
		l.mu.Unlock()
		return
	}

	tick := l.onTick
	l.startIntervalLocked()
	l.mu.Unlock()

	if tick != nil {
		tick()
	}
}

// Terminal stops the interval once the tracked job finished. The loop stays
// enabled and re-arms on the next settled change.
func (l *Loop) Terminal() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stop == nil {
		return
	}

	l.stopIntervalLocked()
	l.log.Debug("auto-resubmission interval stopped on terminal status")
}

func (l *Loop) startIntervalLocked() {
	l.stopIntervalLocked()

	stop := make(chan struct{})
	l.stop = stop

	go func() {
		ticker := time.NewTicker(l.interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				l.mu.Lock()
				tick := l.onTick
				live := l.enabled && l.stop == stop
				l.mu.Unlock()

				if !live {
					return
				}
				if tick != nil {
					tick()
				}
			}
		}
	}()
}

func (l *Loop) stopIntervalLocked() {
	if l.stop != nil {
		close(l.stop)
		l.stop = nil
	}
}
