package tui

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"scrollfeed/api"
)

// FeedClient is a thin HTTP client for the feed API
type FeedClient struct {
	baseURL string
	user    string
	client  *http.Client
}

// NewFeedClient creates a new feed client acting as user
func NewFeedClient(baseURL, user string) *FeedClient {
	return &FeedClient{
		baseURL: baseURL,
		user:    user,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Scroll fetches the next batch. An empty cursor starts a new session.
func (c *FeedClient) Scroll(cursor string, limit int) (*api.ScrollResponse, error) {
	q := url.Values{}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var out api.ScrollResponse
	if err := c.get("/scroll?"+q.Encode(), &out); err != nil {
		return nil, fmt.Errorf("failed to scroll: %w", err)
	}
	return &out, nil
}

// Item fetches a served item with its detail sections.
func (c *FeedClient) Item(slug string) (*api.ItemResponse, error) {
	var out api.ItemResponse
	if err := c.get("/item/"+url.PathEscape(slug)+"?detail=1", &out); err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return &out, nil
}

func (c *FeedClient) get(path string, out any) error {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	if c.user != "" {
		req.Header.Set("X-User-ID", c.user)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
