package directus

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

const contentType = "application/json"

// Item is a single raw record returned by a collection endpoint.
type Item any

// envelope is the standard Directus response wrapper.
type envelope struct {
	Data json.RawMessage `json:"data"`
}

// GetItems makes a GET request to a collection endpoint and returns the raw
// records from the data envelope.
func (c *Client) GetItems(ctx context.Context, collection string, q url.Values) ([]Item, error) {
	var items []Item
	path := fmt.Sprintf("/items/%s", collection)
	if err := c.getJSON(ctx, path, q, &items); err != nil {
		return nil, err
	}

	return items, nil
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.APIURL+path, nil)
	if err != nil {
		return err
	}

	req = c.setHeaders(req)
	if q != nil {
		req.URL.RawQuery = q.Encode()
	}

	resp, err := c.request(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return decodeEnvelope(resp, http.StatusOK, target)
}

func (c *Client) postJSON(ctx context.Context, path string, body any, target any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.APIURL+path, bytes.NewReader(encoded))
	if err != nil {
		return err
	}

	req = c.setHeaders(req)
	req.Header.Set("Content-Type", contentType)

	resp, err := c.request(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("bad status: %s", resp.Status)
	}

	return decodeEnvelope(resp, resp.StatusCode, target)
}

func (c *Client) patchJSON(ctx context.Context, path string, body any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, c.APIURL+path, bytes.NewReader(encoded))
	if err != nil {
		return err
	}

	req = c.setHeaders(req)
	req.Header.Set("Content-Type", contentType)

	resp, err := c.request(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("bad status: %s", resp.Status)
	}

	return nil
}

func decodeEnvelope(resp *http.Response, wantStatus int, target any) error {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode != wantStatus {
		return fmt.Errorf("bad status: %s", resp.Status)
	}

	if target == nil {
		return nil
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}

	if len(env.Data) == 0 {
		return fmt.Errorf("response has no data envelope")
	}

	return json.Unmarshal(env.Data, target)
}

func (c *Client) request(req *http.Request) (*http.Response, error) {
	c.logger.Debug("make request", zap.String("method", req.Method), zap.String("url", req.URL.String()))
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}

	return resp, nil
}

func (c *Client) setHeaders(req *http.Request) *http.Request {
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.token))
	req.Header.Set("User-Agent", c.UserAgent)
	req.Header.Set("Accept", contentType)

	return req
}

// toWebsocketURL rewrites an http(s) base URL into the ws(s) endpoint
// Directus exposes at /websocket.
func toWebsocketURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}

	return strings.TrimSuffix(base, "/") + "/websocket"
}
