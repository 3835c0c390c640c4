package tui

import (
	"fmt"
	"strings"
	"time"

	"scrollfeed/api"

	tea "github.com/charmbracelet/bubbletea"
)

// Mode is the screen the client is showing
type Mode string

const (
	ModeList   Mode = "list"
	ModeDetail Mode = "detail"
)

// Model represents the TUI client state (thin client)
type Model struct {
	Client *FeedClient
	Limit  int

	Mode     Mode
	Items    []api.Item
	Selected int
	Cursor   string
	HasMore  bool
	Batches  int
	Loading  bool
	Detail   *api.ItemResponse
	Err      error

	Height int
}

// NewModel creates a new TUI model
func NewModel(baseURL, user string, limit int) Model {
	return Model{
		Client:  NewFeedClient(baseURL, user),
		Limit:   limit,
		Mode:    ModeList,
		HasMore: true,
		Loading: true,
	}
}

// Init implements tea.Model interface
func (m Model) Init() tea.Cmd {
	return fetchBatch(m.Client, "", m.Limit, true)
}

// current returns the highlighted item, if any
func (m Model) current() (api.Item, bool) {
	if m.Selected < 0 || m.Selected >= len(m.Items) {
		return api.Item{}, false
	}
	return m.Items[m.Selected], true
}

// age renders a timestamp relative to now
func age(t time.Time, now time.Time) string {
	if t.IsZero() {
		return ""
	}
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "now"
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

// formatDetail formats an item and its sections for display
func formatDetail(d *api.ItemResponse) string {
	var b strings.Builder

	b.WriteString(HighlightStyle.Render(d.Item.Title))
	b.WriteString("\n")
	b.WriteString(InfoStyle.Render(fmt.Sprintf("%s · %s", d.Item.Source, d.Item.EffectiveTier())))
	b.WriteString("\n\n")

	if d.Item.Link != "" {
		b.WriteString(InfoStyle.Render(d.Item.Link))
		b.WriteString("\n\n")
	}
	if len(d.Sections) == 0 && d.Item.Body != "" {
		b.WriteString(d.Item.Body)
		b.WriteString("\n")
	}

	for _, s := range d.Sections {
		if s.Title != "" {
			b.WriteString(StatusStyle.Render(s.Title))
			b.WriteString("\n")
		}
		if s.Body != "" {
			b.WriteString(truncate(s.Body, 1200))
			b.WriteString("\n")
		}
		for _, it := range s.Items {
			b.WriteString("  • " + it + "\n")
		}
		b.WriteString("\n")
	}

	return strings.TrimRight(b.String(), "\n")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
