package filtering

import (
	"context"

	"github.com/bounteer/jobsync/internal/search"
	"go.uber.org/zap"
)

type dedupeFilter struct{}

// NewDedupe creates a filter that removes candidates with duplicate ids,
// keeping the first occurrence.
func NewDedupe() Filter {
	return &dedupeFilter{}
}

func (f *dedupeFilter) Name() string { return "dedupe" }

func (f *dedupeFilter) Disable(string) {}

func (f *dedupeFilter) IsEnabled() bool { return true }

func (f *dedupeFilter) Validate(*Config) error { return nil }

func (f *dedupeFilter) Apply(_ context.Context, deps Deps, c *search.Candidates) (*search.Candidates, Step, error) {
	initial := c.Len()

	seen := make(map[string]bool, initial)
	kept := make([]*search.Candidate, 0, initial)
	var dropped []string
	for _, candidate := range c.Items {
		if candidate.ID != "" && seen[candidate.ID] {
			dropped = append(dropped, candidate.ID)
			continue
		}
		seen[candidate.ID] = true
		kept = append(kept, candidate)
	}
	c.Items = kept

	if deps.Logger != nil && len(dropped) > 0 {
		deps.Logger.Info("excluding duplicated candidates",
			zap.Strings("excluded_candidates", dropped),
			zap.Int("candidates_left", c.Len()),
		)
	}

	return c, Step{Initial: initial, Dropped: len(dropped), Left: c.Len()}, nil
}

func (f *dedupeFilter) Status() Status {
	return Status{Name: f.Name(), Enabled: true}
}
