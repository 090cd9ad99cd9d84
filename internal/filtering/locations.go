package filtering

import (
	"context"
	"strings"

	"github.com/bounteer/jobsync/internal/search"
	"go.uber.org/zap"
)

type locationsFilter struct {
	locations []string
}

// NewLocations creates a filter that removes candidates from locations
// configured as excluded.
func NewLocations() Filter {
	return &locationsFilter{}
}

func (f *locationsFilter) Name() string { return "locations" }

func (f *locationsFilter) Disable(string) {}

func (f *locationsFilter) IsEnabled() bool { return true }

func (f *locationsFilter) Validate(cfg *Config) error {
	f.locations = nil
	if cfg != nil {
		f.locations = append(f.locations, cfg.Locations...)
	}
	return nil
}

func (f *locationsFilter) Apply(_ context.Context, deps Deps, c *search.Candidates) (*search.Candidates, Step, error) {
	initial := c.Len()
	if len(f.locations) == 0 {
		return c, Step{Initial: initial, Dropped: 0, Left: c.Len()}, nil
	}

	var dropped []string
	for _, candidate := range c.Items {
		for _, location := range f.locations {
			if strings.EqualFold(strings.TrimSpace(candidate.Location), strings.TrimSpace(location)) {
				dropped = append(dropped, candidate.ID)
				break
			}
		}
	}
	c.Exclude(dropped)

	if deps.Logger != nil && len(dropped) > 0 {
		deps.Logger.Info("excluding candidates by location",
			zap.Strings("excluded_locations", f.locations),
			zap.Strings("excluded_candidates", dropped),
			zap.Int("candidates_left", c.Len()),
		)
	}

	return c, Step{Initial: initial, Dropped: len(dropped), Left: c.Len()}, nil
}

func (f *locationsFilter) Status() Status {
	details := map[string]string{}
	if len(f.locations) > 0 {
		details["locations"] = strings.Join(f.locations, ",")
	}
	return Status{Name: f.Name(), Enabled: true, Details: details}
}
