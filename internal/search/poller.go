package search

import (
	"context"
	"sync"
	"time"

	"github.com/bounteer/jobsync/internal/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultPollInterval = 4 * time.Second
	defaultPollBudget   = 2 * time.Minute
)

// Poller repeatedly queries a job's status until a terminal classification
// or the wall-clock budget, whichever comes first. Budget expiry is a silent
// timeout: the poller just stops, and the caller infers a stuck job from the
// absence of the terminal callback.
type Poller struct {
	backend Backend
	log     *zap.Logger

	// Interval between status queries. Defaults to 4s.
	Interval time.Duration
	// Budget is the maximum poll duration. Defaults to 2m.
	Budget time.Duration

	// OnPartial fires on every "processing(n)" tick so callers can refresh
	// interim results while polling continues.
	OnPartial func(jobID string)
}

func NewPoller(backend Backend, logger *zap.Logger) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Poller{
		backend:  backend,
		log:      logger,
		Interval: defaultPollInterval,
		Budget:   defaultPollBudget,
	}
}

// PollHandle owns the timer behind one poll loop. Handles are unique per
// job: whoever starts a replacement must Stop the previous handle first.
type PollHandle struct {
	id    string
	jobID string

	cancel context.CancelFunc
	done   chan struct{}

	terminalOnce sync.Once
	stopOnce     sync.Once
}

func (h *PollHandle) JobID() string { return h.jobID }

// Done is closed once the loop has fully stopped, for any reason.
func (h *PollHandle) Done() <-chan struct{} { return h.done }

// Stop cancels the loop without invoking the terminal callback. Safe to call
// multiple times and after the loop stopped on its own.
func (h *PollHandle) Stop() {
	h.stopOnce.Do(h.cancel)
}

// Start begins polling jobID. onTerminal is invoked exactly once, and only
// when a terminal classification is observed; a tick already in flight when
// the loop stops cannot trigger it a second time.
func (p *Poller) Start(ctx context.Context, jobID string, onTerminal func(jobID string)) *PollHandle {
	interval := p.Interval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	budget := p.Budget
	if budget <= 0 {
		budget = defaultPollBudget
	}

	pctx, cancel := context.WithTimeout(ctx, budget)
	h := &PollHandle{
		id:     uuid.NewString(),
		jobID:  jobID,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	log := logger.WithSyncFields(p.log, jobID, "").With(zap.String("poll_handle", h.id))

	go func() {
		defer close(h.done)
		defer cancel()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-pctx.Done():
				if ctx.Err() == nil && pctx.Err() == context.DeadlineExceeded {
					log.Warn("poll budget exceeded without terminal status, stopping silently")
				}
				return
			case <-ticker.C:
				if p.tick(pctx, h, log, onTerminal) {
					return
				}
			}
		}
	}()

	log.Debug("status poll started", zap.Duration("interval", interval), zap.Duration("budget", budget))

	return h
}

// tick performs one status query. It reports whether the loop should stop.
func (p *Poller) tick(ctx context.Context, h *PollHandle, log *zap.Logger, onTerminal func(string)) bool {
	status, err := p.backend.SearchRequestStatus(ctx, h.jobID)
	if err != nil {
		if ctx.Err() != nil {
			return true
		}
		// Transient transport failure: the next tick retries.
		log.Warn("status query failed", zap.Error(err))
		return false
	}

	switch c := Classify(status); c {
	case StatusTerminal:
		log.Info("search job reached terminal status", zap.String("status", status))
		h.terminalOnce.Do(func() { onTerminal(h.jobID) })
		return true
	case StatusPartial:
		log.Debug("search job has partial results", zap.String("status", status))
		if p.OnPartial != nil {
			p.OnPartial(h.jobID)
		}
		return false
	case StatusUnknown:
		log.Warn("unrecognized search status, continuing to poll", zap.String("status", status))
		return false
	default:
		log.Debug("search job still pending", zap.String("status", status))
		return false
	}
}
