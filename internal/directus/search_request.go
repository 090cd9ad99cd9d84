package directus

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
)

// SearchRequest is the payload used to create a candidate search job. The
// exact snapshot used for a submission is kept by the caller for debounce
// comparison, so every field must serialize deterministically.
type SearchRequest struct {
	JobDescription string   `json:"job_description,omitempty" mapstructure:"job_description"`
	CompanyName    string   `json:"company_name,omitempty" mapstructure:"company_name"`
	Title          string   `json:"title,omitempty"`
	Query          string   `json:"query,omitempty"`
	Seniority      string   `json:"seniority,omitempty"`
	Location       string   `json:"location,omitempty"`
	Skills         []string `json:"skills,omitempty"`
	Languages      []string `json:"languages,omitempty"`
	Limit          int      `json:"limit,omitempty"`
}

func (c *Client) createSearchRequest(ctx context.Context, req *SearchRequest) (string, error) {
	if req == nil {
		return "", fmt.Errorf("search request payload is required")
	}

	var created map[string]any
	path := fmt.Sprintf("/items/%s", CollectionSearchRequest)
	if err := c.postJSON(ctx, path, req, &created); err != nil {
		return "", err
	}

	id := valueAsString(created["id"])
	if id == "" {
		return "", fmt.Errorf("backend returned no id for created search request")
	}

	return id, nil
}

func (c *Client) searchRequestStatus(ctx context.Context, id string) (string, error) {
	if id == "" {
		return "", fmt.Errorf("search request id is required")
	}

	q := url.Values{}
	q.Set("fields", "status")

	var item map[string]any
	path := fmt.Sprintf("/items/%s/%s", CollectionSearchRequest, url.PathEscape(id))
	if err := c.getJSON(ctx, path, q, &item); err != nil {
		return "", err
	}

	return valueAsString(item["status"]), nil
}

func (c *Client) searchResults(ctx context.Context, id string) ([]Item, error) {
	if id == "" {
		return nil, fmt.Errorf("search request id is required")
	}

	q := url.Values{}
	q.Set("filter[search_request][_eq]", id)
	q.Set("limit", strconv.Itoa(-1))

	items, err := c.GetItems(ctx, CollectionSearchResult, q)
	if err != nil {
		return nil, err
	}

	// An empty result set is a valid terminal outcome, not an error.
	if items == nil {
		items = []Item{}
	}

	return items, nil
}
