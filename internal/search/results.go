package search

import (
	"context"
	"fmt"

	"github.com/bounteer/jobsync/internal/directus"
	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"
)

// Candidate is one normalized search result record.
type Candidate struct {
	ID         string   `json:"id,omitempty"`
	Name       string   `json:"name,omitempty"`
	Email      string   `json:"email,omitempty"`
	Headline   string   `json:"headline,omitempty"`
	Location   string   `json:"location,omitempty"`
	ProfileURL string   `json:"profile_url,omitempty"`
	Score      float64  `json:"score,omitempty"`
	Skills     []string `json:"skills,omitempty"`
}

type Candidates struct {
	Items []*Candidate
}

func (c *Candidates) Len() int {
	return len(c.Items)
}

func (c *Candidates) IDs() []string {
	ids := make([]string, 0, len(c.Items))
	for _, candidate := range c.Items {
		ids = append(ids, candidate.ID)
	}

	return ids
}

func (c *Candidates) FindByID(id string) *Candidate {
	for _, candidate := range c.Items {
		if candidate.ID == id {
			return candidate
		}
	}

	return nil
}

// Exclude removes candidates whose id is in ids and returns the removed ids.
func (c *Candidates) Exclude(ids []string) []string {
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}

	kept := make([]*Candidate, 0, len(c.Items))
	removed := make([]string, 0)
	for _, candidate := range c.Items {
		if drop[candidate.ID] {
			removed = append(removed, candidate.ID)
			continue
		}
		kept = append(kept, candidate)
	}

	c.Items = kept
	return removed
}

// Fetcher performs the one-shot result retrieval once a job is fetchable.
type Fetcher struct {
	backend Backend
	log     *zap.Logger
}

func NewFetcher(backend Backend, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Fetcher{backend: backend, log: logger}
}

// Fetch retrieves and normalizes the result set for jobID. An empty set is a
// valid outcome and comes back as an empty, never nil, list.
func (f *Fetcher) Fetch(ctx context.Context, jobID string) (*Candidates, error) {
	items, err := f.backend.SearchResults(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("fetch search results: %w", err)
	}

	// Array-typed fields may still be JSON-encoded strings at this point;
	// normalize before the typed decode.
	for _, item := range items {
		if record, ok := item.(map[string]any); ok {
			record["skills"] = directus.DecodeStringList(record["skills"], "skills", f.log)
		}
	}

	var candidates []*Candidate
	cfg := &mapstructure.DecoderConfig{
		Metadata: nil,
		Result:   &candidates,
		TagName:  "json",
	}
	decoder, err := mapstructure.NewDecoder(cfg)
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(items); err != nil {
		return nil, fmt.Errorf("decode search results: %w", err)
	}

	if candidates == nil {
		candidates = []*Candidate{}
	}

	f.log.Debug("search results fetched",
		zap.String("job_id", jobID),
		zap.Int("count", len(candidates)),
	)

	return &Candidates{Items: candidates}, nil
}
