package tui

import (
	"fmt"
	"strings"
	"time"
)

// View implements tea.Model interface
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(TitleStyle.Render("scrollfeed"))
	b.WriteString("\n")

	if m.Err != nil {
		b.WriteString(ErrorStyle.Render(fmt.Sprintf("Error: %v", m.Err)))
		b.WriteString("\n\n")
	}

	if m.Mode == ModeDetail && m.Detail != nil {
		b.WriteString(BoxStyle.Render(formatDetail(m.Detail)))
		b.WriteString("\n\n")
		b.WriteString(InfoStyle.Render(TextFooterDetail))
		return b.String()
	}

	b.WriteString(InfoStyle.Render(fmt.Sprintf("%d items · %d batches", len(m.Items), m.Batches)))
	b.WriteString("\n\n")

	now := time.Now()
	start, end := m.window()
	for i := start; i < end; i++ {
		it := m.Items[i]
		line := fmt.Sprintf("%-10s %-4s %s", truncate(it.Source, 10), age(it.Timestamp, now), it.Title)
		if i == m.Selected {
			b.WriteString(SelectedStyle.Render("> " + line))
		} else {
			b.WriteString("  " + line)
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	switch {
	case m.Loading:
		b.WriteString(StatusStyle.Render(TextFooterLoading))
	case !m.HasMore:
		b.WriteString(InfoStyle.Render(TextEndOfFeed))
	default:
		b.WriteString(InfoStyle.Render(TextFooterList))
	}

	return b.String()
}

// window returns the slice of items that fits the terminal around the selection
func (m Model) window() (int, int) {
	rows := m.Height - 8
	if rows < 5 {
		rows = 20
	}
	if len(m.Items) <= rows {
		return 0, len(m.Items)
	}
	start := m.Selected - rows/2
	if start < 0 {
		start = 0
	}
	end := start + rows
	if end > len(m.Items) {
		end = len(m.Items)
		start = end - rows
	}
	return start, end
}
