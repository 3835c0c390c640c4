package tui

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"scrollfeed/api"
	"scrollfeed/types"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func item(id string) api.Item {
	return api.Item{FeedItem: types.FeedItem{ID: id, Source: "hn", Title: id}, Slug: api.EncodeSlug(id)}
}

func TestFeedClientScroll(t *testing.T) {
	var gotUser, gotCursor, gotLimit string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = r.Header.Get("X-User-ID")
		gotCursor = r.URL.Query().Get("cursor")
		gotLimit = r.URL.Query().Get("limit")
		_ = json.NewEncoder(w).Encode(api.ScrollResponse{
			Items:   []api.Item{item("hn:1")},
			HasMore: true,
			Cursor:  "next",
		})
	}))
	defer srv.Close()

	c := NewFeedClient(srv.URL, "ana")
	resp, err := c.Scroll("abc", 5)
	require.NoError(t, err)

	assert.Equal(t, "ana", gotUser)
	assert.Equal(t, "abc", gotCursor)
	assert.Equal(t, "5", gotLimit)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "hn:1", resp.Items[0].ID)
	assert.Equal(t, "next", resp.Cursor)
}

func TestFeedClientErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad cursor", http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := NewFeedClient(srv.URL, "").Item("x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestBatchesAppendAndReset(t *testing.T) {
	m := NewModel("http://unused", "ana", 2)

	next, _ := m.Update(BatchMsg{Response: &api.ScrollResponse{Items: []api.Item{item("a"), item("b")}, HasMore: true, Cursor: "c1"}, Reset: true})
	m = next.(Model)
	assert.Len(t, m.Items, 2)
	assert.Equal(t, "c1", m.Cursor)
	assert.False(t, m.Loading)

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("n")})
	m = next.(Model)
	assert.NotNil(t, cmd)
	assert.True(t, m.Loading)

	next, _ = m.Update(BatchMsg{Response: &api.ScrollResponse{Items: []api.Item{item("c")}}})
	m = next.(Model)
	assert.Len(t, m.Items, 3)
	assert.False(t, m.HasMore)
	assert.Equal(t, 2, m.Batches)

	// Exhausted feeds do not request more.
	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("n")})
	assert.Nil(t, cmd)

	next, _ = m.Update(BatchMsg{Response: &api.ScrollResponse{Items: []api.Item{item("z")}, HasMore: true, Cursor: "c9"}, Reset: true})
	m = next.(Model)
	assert.Len(t, m.Items, 1)
	assert.Equal(t, 1, m.Batches)
}

func TestDetailMode(t *testing.T) {
	m := NewModel("http://unused", "", 10)
	m.Loading = true

	next, _ := m.Update(DetailMsg{Response: &api.ItemResponse{
		Item:     item("hn:1"),
		Sections: []types.Section{{Type: "text", Title: "Summary", Body: "hello"}},
	}})
	m = next.(Model)
	assert.Equal(t, ModeDetail, m.Mode)
	assert.Contains(t, m.View(), "Summary")

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	m = next.(Model)
	assert.Equal(t, ModeList, m.Mode)
	assert.Nil(t, m.Detail)
}
