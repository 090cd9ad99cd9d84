package search

import (
	"context"
	"sync"

	"github.com/bounteer/jobsync/internal/directus"
	"go.uber.org/zap"
)

// Results is one delivery to the session consumer. Partial deliveries come
// from "processing(n)" ticks while the poll loop is still running.
type Results struct {
	JobID      string
	Candidates *Candidates
	Partial    bool
}

// Session owns one logical search: at most one job is active (not yet
// terminal) at a time, and starting a replacement always stops the poll
// loop tied to the previous one first. The backend records of superseded
// jobs persist; the session just drops its reference.
type Session struct {
	submitter *Submitter
	poller    *Poller
	fetcher   *Fetcher
	log       *zap.Logger

	onResults func(Results)

	// submitMu serializes whole Submit calls. The inner mu cannot cover the
	// network round trip, and two interleaved submissions would otherwise
	// each stop a nil handle and then both start poll loops.
	submitMu sync.Mutex

	mu      sync.Mutex
	ctx     context.Context
	jobID   string
	handle  *PollHandle
	lastErr string
	closed  bool
}

func NewSession(backend Backend, logger *zap.Logger, onResults func(Results)) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Session{
		submitter: NewSubmitter(backend, logger),
		poller:    NewPoller(backend, logger),
		fetcher:   NewFetcher(backend, logger),
		log:       logger,
		onResults: onResults,
	}
	s.poller.OnPartial = s.partial

	return s
}

// Poller exposes the underlying poller for interval/budget tuning before the
// first Submit.
func (s *Session) Poller() *Poller {
	return s.poller
}

// Submit supersedes any active job and creates a new one. On success the
// previous error state is cleared and polling starts for the new id; on
// failure the error is recorded for the UI and no polling starts.
func (s *Session) Submit(ctx context.Context, req *directus.SearchRequest) (string, error) {
	s.submitMu.Lock()
	defer s.submitMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", context.Canceled
	}
	if s.handle != nil {
		s.handle.Stop()
		s.handle = nil
	}
	s.mu.Unlock()

	id, err := s.submitter.Submit(ctx, req)
	if err != nil {
		s.log.Warn("search submission failed", zap.Error(err))
		s.mu.Lock()
		s.lastErr = "Failed to create search request: " + err.Error()
		s.mu.Unlock()
		return "", err
	}

	s.mu.Lock()
	s.lastErr = ""
	s.ctx = ctx
	s.jobID = id
	s.handle = s.poller.Start(ctx, id, s.terminal)
	s.mu.Unlock()

	return id, nil
}

// ActiveJobID returns the id of the job the session currently tracks.
func (s *Session) ActiveJobID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobID
}

// LastError returns the user-visible message of the most recent submission
// failure, or an empty string after a successful submission.
func (s *Session) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Handle returns the active poll handle, if any.
func (s *Session) Handle() *PollHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

// Close stops the active poll loop. The session cannot be reused.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	if s.handle != nil {
		s.handle.Stop()
		s.handle = nil
	}
}

func (s *Session) terminal(jobID string) {
	s.deliver(jobID, false)
}

func (s *Session) partial(jobID string) {
	s.deliver(jobID, true)
}

func (s *Session) deliver(jobID string, partial bool) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	candidates, err := s.fetcher.Fetch(ctx, jobID)
	if err != nil {
		// A failed interim refresh is harmless; a failed terminal fetch is
		// worth surfacing.
		if partial {
			s.log.Debug("interim result fetch failed", zap.Error(err))
			return
		}
		s.log.Warn("result fetch failed", zap.String("job_id", jobID), zap.Error(err))
		s.mu.Lock()
		s.lastErr = "Failed to fetch search results: " + err.Error()
		s.mu.Unlock()
		return
	}

	if s.onResults != nil {
		s.onResults(Results{JobID: jobID, Candidates: candidates, Partial: partial})
	}
}
