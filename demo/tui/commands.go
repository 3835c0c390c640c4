package tui

import (
	tea "github.com/charmbracelet/bubbletea"
)

// fetchBatch creates a command that loads the batch after cursor
func fetchBatch(client *FeedClient, cursor string, limit int, reset bool) tea.Cmd {
	return func() tea.Msg {
		resp, err := client.Scroll(cursor, limit)
		return BatchMsg{Response: resp, Reset: reset, Err: err}
	}
}

// fetchDetail creates a command that loads an item's detail view
func fetchDetail(client *FeedClient, slug string) tea.Cmd {
	return func() tea.Msg {
		resp, err := client.Item(slug)
		return DetailMsg{Response: resp, Err: err}
	}
}
