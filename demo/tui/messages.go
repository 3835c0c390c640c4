package tui

import "scrollfeed/api"

// BatchMsg is sent when a /scroll request completes
type BatchMsg struct {
	Response *api.ScrollResponse
	Reset    bool
	Err      error
}

// DetailMsg is sent when an /item request completes
type DetailMsg struct {
	Response *api.ItemResponse
	Err      error
}
