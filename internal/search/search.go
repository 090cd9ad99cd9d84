// Package search drives the candidate-search job lifecycle: submission,
// status polling until a terminal classification, and one-shot result
// retrieval. A Session ties the three together and guarantees at most one
// active job per logical search at a time.
package search

import (
	"context"
	"fmt"

	"github.com/bounteer/jobsync/internal/directus"
	"go.uber.org/zap"
)

// Backend is the slice of the document-store client the search lifecycle
// needs. *directus.Client satisfies it; tests use scripted fakes.
type Backend interface {
	CreateSearchRequest(ctx context.Context, req *directus.SearchRequest) (string, error)
	SearchRequestStatus(ctx context.Context, id string) (string, error)
	SearchResults(ctx context.Context, id string) ([]directus.Item, error)
}

// Submitter creates search jobs. Every call creates a new backend job; there
// is deliberately no dedup against an equivalent existing job, because each
// explicit submission is a new attempt.
type Submitter struct {
	backend Backend
	log     *zap.Logger
}

func NewSubmitter(backend Backend, logger *zap.Logger) *Submitter {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Submitter{backend: backend, log: logger}
}

// Submit creates the job and returns its identifier. Failures are wrapped
// into a human-readable message and never retried here.
func (s *Submitter) Submit(ctx context.Context, req *directus.SearchRequest) (string, error) {
	id, err := s.backend.CreateSearchRequest(ctx, req)
	if err != nil {
		return "", fmt.Errorf("create search request: %w", err)
	}

	s.log.Info("search request created", zap.String("job_id", id))

	return id, nil
}
