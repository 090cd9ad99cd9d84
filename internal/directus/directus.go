package directus

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	apiURL    = "https://directus.bounteer.com"
	userAgent = "bounteer/jobsync (dev@bounteer.com)"

	// Directus item collections used by the engine.
	CollectionJobDescription = "job_description"
	CollectionSearchRequest  = "search_request"
	CollectionSearchResult   = "search_result"
)

// Client talks to the Directus document store backing the recruiting
// platform. It covers only the collections the synchronization engine
// needs: job descriptions, search requests and search results.
type Client struct {
	token      string
	logger     *zap.Logger
	HTTPClient *http.Client
	UserAgent  string
	APIURL     string
}

func New(logger *zap.Logger, token string) *Client {
	return &Client{
		token:  token,
		APIURL: apiURL,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger:    logger,
		UserAgent: userAgent,
	}
}

// WebsocketURL derives the push channel endpoint from the API URL.
func (c *Client) WebsocketURL() string {
	return toWebsocketURL(c.APIURL)
}

// Token exposes the static token for the websocket auth handshake.
func (c *Client) Token() string {
	return c.token
}

func (c *Client) GetJobDescription(ctx context.Context, id string) (*JobDescription, error) {
	return c.getJobDescription(ctx, id)
}

func (c *Client) PatchJobDescription(ctx context.Context, id string, fields map[string]any) error {
	return c.patchItem(ctx, CollectionJobDescription, id, fields)
}

func (c *Client) CreateSearchRequest(ctx context.Context, req *SearchRequest) (string, error) {
	return c.createSearchRequest(ctx, req)
}

func (c *Client) SearchRequestStatus(ctx context.Context, id string) (string, error) {
	return c.searchRequestStatus(ctx, id)
}

func (c *Client) SearchResults(ctx context.Context, id string) ([]Item, error) {
	return c.searchResults(ctx, id)
}
