package filtering

import (
	"context"
	"fmt"

	"github.com/bounteer/jobsync/internal/search"
	"go.uber.org/zap"
)

type minimumScoreFilter struct {
	disabled bool
	reason   string
	minimum  float64
}

// NewMinimumScore creates a filter that removes candidates scored below the
// configured minimum.
func NewMinimumScore() Filter {
	return &minimumScoreFilter{}
}

func (f *minimumScoreFilter) Name() string { return "minimum_score" }

func (f *minimumScoreFilter) Disable(reason string) {
	f.disabled = true
	f.reason = reason
}

func (f *minimumScoreFilter) IsEnabled() bool { return !f.disabled }

func (f *minimumScoreFilter) Validate(cfg *Config) error {
	f.minimum = 0
	if cfg != nil {
		f.minimum = cfg.MinimumScore
	}
	if f.minimum < 0 || f.minimum > 1 {
		return fmt.Errorf("minimum score must be between 0 and 1, got %v", f.minimum)
	}
	return nil
}

func (f *minimumScoreFilter) Apply(_ context.Context, deps Deps, c *search.Candidates) (*search.Candidates, Step, error) {
	initial := c.Len()
	if f.minimum == 0 {
		return c, Step{Initial: initial, Dropped: 0, Left: c.Len()}, nil
	}

	var dropped []string
	for _, candidate := range c.Items {
		if candidate.Score < f.minimum {
			dropped = append(dropped, candidate.ID)
		}
	}
	c.Exclude(dropped)

	if deps.Logger != nil && len(dropped) > 0 {
		deps.Logger.Info("excluding candidates below minimum score",
			zap.Float64("minimum_score", f.minimum),
			zap.Strings("excluded_candidates", dropped),
			zap.Int("candidates_left", c.Len()),
		)
	}

	return c, Step{Initial: initial, Dropped: len(dropped), Left: c.Len()}, nil
}

func (f *minimumScoreFilter) Status() Status {
	return Status{
		Name:    f.Name(),
		Enabled: f.IsEnabled(),
		Reason:  f.reason,
		Details: map[string]string{
			"minimum_score": fmt.Sprintf("%.2f", f.minimum),
		},
	}
}
