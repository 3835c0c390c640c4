package types

import "time"

// QueryConfig describes one configured source query.
type QueryConfig struct {
	Key       string            `json:"key"`
	Source    string            `json:"source"`
	Connector string            `json:"connector,omitempty"`
	Tier      Tier              `json:"tier"`
	Priority  int               `json:"priority"`
	Limit     int               `json:"limit"`
	Params    map[string]string `json:"params,omitempty"`
	Padding   bool              `json:"padding,omitempty"`

	// MaxAge overrides every other age ceiling for this query. Nil inherits,
	// zero means timeless.
	MaxAge *time.Duration `json:"-"`
	TTL    time.Duration  `json:"-"`
}

// ConnectorName returns the registry key that serves this query.
func (q QueryConfig) ConnectorName() string {
	if q.Connector != "" {
		return q.Connector
	}
	return q.Source
}

// Param returns a query parameter or the fallback.
func (q QueryConfig) Param(key, fallback string) string {
	if v, ok := q.Params[key]; ok && v != "" {
		return v
	}
	return fallback
}

// Page is one page of results from a connector. Exhausted is set when the
// source has no continuation.
type Page struct {
	Items     []FeedItem `json:"items"`
	Cursor    string     `json:"cursor,omitempty"`
	Exhausted bool       `json:"exhausted"`
}

// Section is one block of an item's detail view.
type Section struct {
	Type  string   `json:"type"`
	Title string   `json:"title,omitempty"`
	Body  string   `json:"body,omitempty"`
	Items []string `json:"items,omitempty"`
}

// Detail is the expanded view of an item.
type Detail struct {
	ID       string    `json:"id"`
	Sections []Section `json:"sections"`
}
