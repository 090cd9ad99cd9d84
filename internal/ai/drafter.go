package ai

import (
	"context"

	"github.com/bounteer/jobsync/internal/directus"
)

// QueryDraft is a drafted free-text search query for a job description.
type QueryDraft struct {
	Query string
	Raw   string
}

// Drafter turns a job description into a search query suggestion.
type Drafter interface {
	Draft(ctx context.Context, jd *directus.JobDescription) (*QueryDraft, error)
}
