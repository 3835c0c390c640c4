package tui

import (
	tea "github.com/charmbracelet/bubbletea"
)

// Update implements tea.Model interface
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyPress(msg)
	case tea.WindowSizeMsg:
		m.Height = msg.Height
		return m, nil
	case BatchMsg:
		return m.handleBatch(msg)
	case DetailMsg:
		return m.handleDetail(msg)
	}
	return m, nil
}

// handleKeyPress processes keyboard input
func (m Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if key == "ctrl+c" || key == "q" {
		return m, tea.Quit
	}

	if m.Mode == ModeDetail {
		if key == "esc" || key == "backspace" || key == "h" {
			m.Mode = ModeList
			m.Detail = nil
		}
		return m, nil
	}

	switch key {
	case "j", "down":
		if m.Selected < len(m.Items)-1 {
			m.Selected++
		}
		// Reaching the end loads the next batch.
		if m.Selected == len(m.Items)-1 {
			return m.loadMore()
		}
	case "k", "up":
		if m.Selected > 0 {
			m.Selected--
		}
	case "n", " ":
		return m.loadMore()
	case "r":
		if m.Loading {
			return m, nil
		}
		m.Loading = true
		m.Err = nil
		return m, fetchBatch(m.Client, "", m.Limit, true)
	case "enter", "l":
		it, ok := m.current()
		if !ok || m.Loading {
			return m, nil
		}
		m.Loading = true
		return m, fetchDetail(m.Client, it.Slug)
	}
	return m, nil
}

// loadMore requests the next batch unless one is in flight or the feed ended
func (m Model) loadMore() (tea.Model, tea.Cmd) {
	if m.Loading || !m.HasMore || m.Cursor == "" {
		return m, nil
	}
	m.Loading = true
	return m, fetchBatch(m.Client, m.Cursor, m.Limit, false)
}

// handleBatch appends a loaded batch
func (m Model) handleBatch(msg BatchMsg) (tea.Model, tea.Cmd) {
	m.Loading = false
	if msg.Err != nil {
		m.Err = msg.Err
		return m, nil
	}
	m.Err = nil
	if msg.Reset {
		m.Items = nil
		m.Selected = 0
		m.Batches = 0
	}
	m.Items = append(m.Items, msg.Response.Items...)
	m.Cursor = msg.Response.Cursor
	m.HasMore = msg.Response.HasMore
	m.Batches++
	return m, nil
}

// handleDetail opens the detail view
func (m Model) handleDetail(msg DetailMsg) (tea.Model, tea.Cmd) {
	m.Loading = false
	if msg.Err != nil {
		m.Err = msg.Err
		return m, nil
	}
	m.Err = nil
	m.Detail = msg.Response
	m.Mode = ModeDetail
	return m, nil
}
