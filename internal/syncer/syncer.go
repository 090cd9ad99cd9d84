// Package syncer reconciles one enrichment resource between two writers:
// the push/pull transport (while the automated agent drives the record) and
// the local user (while it does not). The externally-driven flag is the sole
// gate deciding which writer owns the visible value at any instant.
package syncer

import (
	"errors"
	"sync"

	"github.com/bounteer/jobsync/internal/directus"
	jslog "github.com/bounteer/jobsync/internal/logger"
	"go.uber.org/zap"
)

// ErrExternallyDriven is returned when a local mutation is requested while
// the automated agent owns the record. The UI disables inputs in that mode;
// this is the backstop for call sites that forget.
var ErrExternallyDriven = errors.New("resource is externally driven, local edits are rejected")

// Synchronizer tracks the merged value of a single resource plus the last
// snapshot that arrived from the backend, which callers use to diff
// user-introduced divergence before saving.
type Synchronizer struct {
	mu sync.Mutex

	resourceID       string
	value            directus.JobDescription
	lastExternal     directus.JobDescription
	hasExternal      bool
	externallyDriven bool

	log *zap.Logger
}

func New(resourceID string, local directus.JobDescription, externallyDriven bool, logger *zap.Logger) *Synchronizer {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Synchronizer{
		resourceID:       resourceID,
		value:            local,
		externallyDriven: externallyDriven,
		log:              jslog.WithSyncFields(logger, "", resourceID),
	}
}

// Apply feeds one raw transport record into the synchronizer. Records for
// other resources are dropped here because the subscription channel is not
// scoped to a single id server-side.
func (s *Synchronizer) Apply(record map[string]any) {
	update := directus.ParseJobDescription(record, s.log)
	if update.ID != s.resourceID {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastExternal = update
	s.hasExternal = true

	if !s.externallyDriven {
		// The user's in-progress edits take precedence; the snapshot above
		// still moves so save-diffing sees the freshest backend state.
		s.log.Debug("external update recorded but not applied")
		return
	}

	s.value = update
	s.log.Debug("external update applied", zap.String("title", update.Title))
}

// Value returns the currently visible merged value.
func (s *Synchronizer) Value() directus.JobDescription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// LastExternal returns the most recent backend snapshot and whether one has
// arrived at all.
func (s *Synchronizer) LastExternal() (directus.JobDescription, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastExternal, s.hasExternal
}

// ExternallyDriven reports which writer currently owns the visible value.
func (s *Synchronizer) ExternallyDriven() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.externallyDriven
}

// SetExternallyDriven flips the ownership gate and returns the visible value
// at the moment of the switch. Callers switching false→true must keep that
// snapshot if they want to offer a revert of pending local edits.
func (s *Synchronizer) SetExternallyDriven(on bool) directus.JobDescription {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.value
	if s.externallyDriven == on {
		return snapshot
	}

	s.externallyDriven = on
	s.log.Info("externally driven mode switched", zap.Bool("on", on))

	return snapshot
}

// ApplyLocal runs a user-originated mutation against the visible value.
// Rejected wholesale while the resource is externally driven.
func (s *Synchronizer) ApplyLocal(mutate func(*directus.JobDescription)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.externallyDriven {
		return ErrExternallyDriven
	}

	mutate(&s.value)
	return nil
}
