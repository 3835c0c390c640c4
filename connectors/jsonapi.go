package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"scrollfeed/types"
)

// JSONAPI reads paginated item lists from HTTP JSON endpoints. It serves
// dashboards, weather, task lists and similar widgets.
//
// Query params:
//
//	url        endpoint, required
//	token_env  environment variable holding a bearer token
//	per_user   "true" when the endpoint returns user-specific content
//	detail_url endpoint for item detail, with {id} replaced by the local id
type JSONAPI struct {
	httpClient *http.Client
}

// NewJSONAPI creates a JSON connector.
func NewJSONAPI(timeout time.Duration) *JSONAPI {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &JSONAPI{httpClient: &http.Client{Timeout: timeout}}
}

type jsonPage struct {
	Items      []types.FeedItem `json:"items"`
	NextCursor *string          `json:"next_cursor"`
}

// FetchPage requests one page, passing cursor, limit and user as query
// parameters.
func (j *JSONAPI) FetchPage(ctx context.Context, q types.QueryConfig, user, cursor string) (*types.Page, error) {
	endpoint := q.Param("url", "")
	if endpoint == "" {
		return nil, fmt.Errorf("query %s: missing url param", q.Key)
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("query %s: invalid url: %w", q.Key, err)
	}
	values := u.Query()
	if cursor != "" {
		values.Set("cursor", cursor)
	}
	if q.Limit > 0 {
		values.Set("limit", strconv.Itoa(q.Limit))
	}
	if j.UserScoped(q) {
		values.Set("user", user)
	}
	u.RawQuery = values.Encode()

	var res jsonPage
	if err := j.doJSONRequest(ctx, q, u.String(), &res); err != nil {
		return nil, err
	}
	page := &types.Page{Items: res.Items}
	if res.NextCursor == nil || *res.NextCursor == "" {
		page.Exhausted = true
	} else {
		page.Cursor = *res.NextCursor
	}
	return page, nil
}

// GetDetail fetches sections from the detail_url param.
func (j *JSONAPI) GetDetail(ctx context.Context, q types.QueryConfig, localID string, _ map[string]any, user string) (*types.Detail, error) {
	tmpl := q.Param("detail_url", "")
	if tmpl == "" {
		return nil, ErrNoDetail
	}
	endpoint := replaceID(tmpl, url.PathEscape(localID))
	if j.UserScoped(q) {
		endpoint += "?user=" + url.QueryEscape(user)
	}
	var d types.Detail
	if err := j.doJSONRequest(ctx, q, endpoint, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// UserScoped reports the per_user param.
func (j *JSONAPI) UserScoped(q types.QueryConfig) bool {
	v, _ := strconv.ParseBool(q.Param("per_user", "false"))
	return v
}

func (j *JSONAPI) doJSONRequest(ctx context.Context, q types.QueryConfig, endpoint string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if env := q.Param("token_env", ""); env != "" {
		if token := os.Getenv(env); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := j.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("API returned %d: %s", resp.StatusCode, string(bodyBytes))
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func replaceID(tmpl, id string) string {
	if strings.Contains(tmpl, "{id}") {
		return strings.ReplaceAll(tmpl, "{id}", id)
	}
	return strings.TrimSuffix(tmpl, "/") + "/" + id
}
