package pool

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"scrollfeed/sourcecache"
	"scrollfeed/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeSource serves scripted pages per query key. The cursor is the index of
// the next page.
type fakeSource struct {
	mu    sync.Mutex
	pages map[string][]*types.Page
	fail  map[string]error
	hang  map[string]bool
	calls map[string]int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		pages: make(map[string][]*types.Page),
		fail:  make(map[string]error),
		hang:  make(map[string]bool),
		calls: make(map[string]int),
	}
}

func (f *fakeSource) FetchPage(ctx context.Context, q types.QueryConfig, _, cursor string) (*types.Page, error) {
	f.mu.Lock()
	f.calls[q.Key]++
	hang := f.hang[q.Key]
	f.mu.Unlock()
	if hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[q.Key]; err != nil {
		return nil, err
	}
	idx := 0
	if cursor != "" {
		idx, _ = strconv.Atoi(cursor)
	}
	pages := f.pages[q.Key]
	if idx >= len(pages) {
		return &types.Page{Exhausted: true}, nil
	}
	p := pages[idx]
	out := &types.Page{Items: append([]types.FeedItem(nil), p.Items...), Cursor: p.Cursor, Exhausted: p.Exhausted}
	return out, nil
}

func (f *fakeSource) IsUserScoped(types.QueryConfig) bool { return false }

func (f *fakeSource) callCount(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

// page builds n items for source starting at index from. An empty next
// cursor marks the last page.
func page(source string, from, n int, next string) *types.Page {
	p := &types.Page{Cursor: next, Exhausted: next == ""}
	for i := from; i < from+n; i++ {
		p.Items = append(p.Items, types.FeedItem{
			ID:        fmt.Sprintf("%s:%d", source, i),
			Source:    source,
			Timestamp: time.Now().Add(-time.Duration(i) * time.Minute),
		})
	}
	return p
}

func query(key string) types.QueryConfig {
	return types.QueryConfig{Key: key, Source: key, Tier: types.TierWire}
}

func newTestManager(src Source, cache *sourcecache.Cache, queries ...types.QueryConfig) *Manager {
	m := NewManager(Config{Queries: queries}, src, cache, zap.NewNop(), nil)
	m.shuffle = func(int, func(i, j int)) {}
	return m
}

func ids(items []types.FeedItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func TestGetPoolLoadsAllSources(t *testing.T) {
	src := newFakeSource()
	src.pages["a"] = []*types.Page{page("a", 0, 3, "")}
	src.pages["b"] = []*types.Page{page("b", 0, 2, "")}
	m := newTestManager(src, nil, query("a"), query("b"))

	snap, err := m.GetPool(context.Background(), "alice", 5)
	require.NoError(t, err)
	assert.Len(t, snap.Items, 5)
	assert.Equal(t, 1, snap.BatchNumber)
	assert.NotEmpty(t, snap.SessionID)

	cursors := m.Cursors("alice")
	assert.True(t, cursors["a"].Exhausted)
	assert.True(t, cursors["b"].Exhausted)
	assert.False(t, m.HasMore("bob"))
}

func TestGetPoolFailedSourceStaysActive(t *testing.T) {
	src := newFakeSource()
	src.pages["a"] = []*types.Page{page("a", 0, 2, "")}
	src.pages["b"] = []*types.Page{page("b", 0, 4, "")}
	src.fail["b"] = errors.New("timeout")
	m := newTestManager(src, nil, query("a"), query("b"))

	snap, err := m.GetPool(context.Background(), "alice", 10)
	require.NoError(t, err)
	assert.Len(t, snap.Items, 2)
	assert.Equal(t, 1, src.callCount("b"), "a failed source is not refetched in the same call")

	cs := m.Cursors("alice")["b"]
	assert.False(t, cs.Exhausted)
	assert.False(t, cs.Fetched)

	src.mu.Lock()
	delete(src.fail, "b")
	src.mu.Unlock()

	snap, err = m.GetPool(context.Background(), "alice", 10)
	require.NoError(t, err)
	assert.Len(t, snap.Items, 6, "first page is retried after a failure")
}

func TestGetPoolDoesNotRetryHangingSource(t *testing.T) {
	src := newFakeSource()
	src.pages["a"] = []*types.Page{page("a", 0, 2, "")}
	src.hang["slow"] = true
	m := NewManager(Config{
		Queries:      []types.QueryConfig{query("a"), query("slow")},
		FetchTimeout: 100 * time.Millisecond,
	}, src, nil, zap.NewNop(), nil)

	start := time.Now()
	snap, err := m.GetPool(context.Background(), "alice", 10)
	elapsed := time.Since(start)
	require.NoError(t, err)
	assert.Len(t, snap.Items, 2)
	assert.Less(t, elapsed, 300*time.Millisecond)
	assert.Equal(t, 1, src.callCount("slow"))
	assert.True(t, m.HasMore("alice"))

	_, err = m.GetPool(context.Background(), "alice", 10)
	require.NoError(t, err)
	assert.Equal(t, 2, src.callCount("slow"), "retried on the next call")
}

func TestGetPoolKeepsRefillingOtherSources(t *testing.T) {
	src := newFakeSource()
	src.pages["a"] = []*types.Page{page("a", 0, 2, "1"), page("a", 2, 2, "2"), page("a", 4, 2, "")}
	src.fail["b"] = errors.New("boom")
	m := newTestManager(src, nil, query("a"), query("b"))

	snap, err := m.GetPool(context.Background(), "alice", 10)
	require.NoError(t, err)
	assert.Len(t, snap.Items, 6)
	assert.Equal(t, 3, src.callCount("a"))
	assert.Equal(t, 1, src.callCount("b"))
}

func TestExtendPaginatesSelectedQueries(t *testing.T) {
	src := newFakeSource()
	for _, key := range []string{"a", "b"} {
		var pages []*types.Page
		for i := 0; i < 5; i++ {
			next := strconv.Itoa(i + 1)
			if i == 4 {
				next = ""
			}
			pages = append(pages, page(key, i*4, 4, next))
		}
		src.pages[key] = pages
	}
	m := newTestManager(src, nil, query("a"), query("b"))
	_, err := m.GetPool(context.Background(), "alice", 4)
	require.NoError(t, err)

	onlyA := func(q types.QueryConfig) bool { return q.Key == "a" }
	countA := func(items []types.FeedItem) int {
		n := 0
		for _, it := range items {
			if it.Source == "a" {
				n++
			}
		}
		return n
	}
	err = m.Extend(context.Background(), "alice", onlyA, func(items []types.FeedItem) bool {
		return countA(items) >= 12
	})
	require.NoError(t, err)
	assert.Equal(t, 12, countA(m.Items("alice")))
	assert.Equal(t, 3, src.callCount("a"))
	assert.Equal(t, 1, src.callCount("b"), "unselected queries are left alone")
	assert.True(t, m.Active("alice", onlyA))

	err = m.Extend(context.Background(), "alice", onlyA, func([]types.FeedItem) bool { return false })
	require.NoError(t, err)
	assert.Equal(t, 20, countA(m.Items("alice")))
	assert.False(t, m.Active("alice", onlyA))
	assert.True(t, m.Active("alice", nil))
}

func TestGetPoolBlocksOnRefill(t *testing.T) {
	// Two exhausted sources and one active, four unseen items, batch of ten.
	src := newFakeSource()
	src.pages["a"] = []*types.Page{page("a", 0, 2, "")}
	src.pages["b"] = []*types.Page{page("b", 0, 2, "")}
	src.pages["c"] = []*types.Page{page("c", 0, 0, "1"), page("c", 0, 10, "")}
	m := newTestManager(src, nil, query("a"), query("b"), query("c"))

	snap, err := m.GetPool(context.Background(), "alice", 10)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(snap.Items), 10)
	assert.Equal(t, 2, src.callCount("c"))
	assert.Equal(t, 1, src.callCount("a"), "exhausted sources are not paginated")
}

func TestGetPoolDedupsAcrossPages(t *testing.T) {
	src := newFakeSource()
	src.pages["a"] = []*types.Page{page("a", 0, 3, "1"), page("a", 2, 3, "")}
	m := newTestManager(src, nil, query("a"))

	snap, err := m.GetPool(context.Background(), "alice", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"a:0", "a:1", "a:2", "a:3", "a:4"}, ids(snap.Items))
}

func TestGetPoolFiltersByAge(t *testing.T) {
	old := time.Now().Add(-72 * time.Hour)
	fresh := time.Now().Add(-time.Hour)
	items := []types.FeedItem{
		{ID: "x:old", Timestamp: old},
		{ID: "x:fresh", Timestamp: fresh},
		{ID: "x:undated"},
	}
	src := newFakeSource()
	src.pages["wire"] = []*types.Page{{Items: items, Exhausted: true}}
	src.pages["memory"] = []*types.Page{{Items: items, Exhausted: true}}

	wire := types.QueryConfig{Key: "wire", Source: "x", Tier: types.TierWire}
	memory := types.QueryConfig{Key: "memory", Source: "y", Tier: types.TierMemory}
	m := newTestManager(src, nil, wire)
	snap, err := m.GetPool(context.Background(), "alice", 1)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"x:fresh", "x:undated"}, ids(snap.Items))

	m = newTestManager(src, nil, memory)
	snap, err = m.GetPool(context.Background(), "alice", 1)
	require.NoError(t, err)
	assert.Len(t, snap.Items, 3, "timeless tiers keep everything")
}

func TestAgePolicyResolution(t *testing.T) {
	week := 7 * 24 * time.Hour
	zero := time.Duration(0)
	hour := time.Hour
	p := AgePolicy{
		Sources: map[string]time.Duration{"reddit": 6 * time.Hour},
		Tiers:   map[types.Tier]time.Duration{types.TierLongform: week},
	}
	cases := []struct {
		name     string
		q        types.QueryConfig
		want     time.Duration
		timeless bool
	}{
		{"query override", types.QueryConfig{Source: "reddit", MaxAge: &hour}, hour, false},
		{"query timeless", types.QueryConfig{Source: "reddit", MaxAge: &zero}, 0, true},
		{"configured source", types.QueryConfig{Source: "reddit"}, 6 * time.Hour, false},
		{"built-in source", types.QueryConfig{Source: "hn"}, 24 * time.Hour, false},
		{"built-in connector", types.QueryConfig{Source: "front", Connector: "weather"}, 12 * time.Hour, false},
		{"configured tier", types.QueryConfig{Source: "blog", Tier: types.TierLongform}, week, false},
		{"built-in timeless tier", types.QueryConfig{Source: "blog", Tier: types.TierMemory}, 0, true},
		{"untagged", types.QueryConfig{Source: "blog"}, DefaultMaxAge, false},
		{"unknown tier", types.QueryConfig{Source: "blog", Tier: "misc"}, DefaultMaxAge, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			d, ok := p.MaxAge(c.q)
			assert.Equal(t, c.want, d)
			assert.Equal(t, !c.timeless, ok)
		})
	}
}

func TestMarkSeenRecyclesWhenDry(t *testing.T) {
	src := newFakeSource()
	src.pages["a"] = []*types.Page{page("a", 0, 3, "")}
	m := newTestManager(src, nil, query("a"))

	snap, err := m.GetPool(context.Background(), "alice", 3)
	require.NoError(t, err)
	m.MarkSeen("alice", ids(snap.Items), 3)

	assert.True(t, m.HasMore("alice"))
	snap, err = m.GetPool(context.Background(), "alice", 3)
	require.NoError(t, err)
	require.Len(t, snap.Items, 3)
	assert.Equal(t, 2, snap.BatchNumber)
	for _, it := range snap.Items {
		assert.True(t, it.Seen, it.ID)
	}
	assert.Equal(t, 1, snap.Selections["a:0"])
}

func TestNeverStarves(t *testing.T) {
	src := newFakeSource()
	src.pages["a"] = []*types.Page{page("a", 0, 3, "")}
	m := newTestManager(src, nil, query("a"))

	for i := 0; i < 25; i++ {
		snap, err := m.GetPool(context.Background(), "alice", 2)
		require.NoError(t, err)
		require.NotEmpty(t, snap.Items, "batch %d", i)
		served := ids(snap.Items)
		if len(served) > 2 {
			served = served[:2]
		}
		m.MarkSeen("alice", served, 2)
		assert.True(t, m.HasMore("alice"), "batch %d", i)
	}
}

func TestMarkSeenRefillsInBackground(t *testing.T) {
	src := newFakeSource()
	src.pages["a"] = []*types.Page{page("a", 0, 3, "1"), page("a", 3, 3, "")}
	m := newTestManager(src, nil, query("a"))

	snap, err := m.GetPool(context.Background(), "alice", 2)
	require.NoError(t, err)
	require.Len(t, snap.Items, 3)
	assert.Equal(t, 1, src.callCount("a"))

	m.MarkSeen("alice", ids(snap.Items[:2]), 2)
	m.Wait()

	assert.Equal(t, 2, src.callCount("a"))
	assert.Len(t, m.Items("alice"), 6)
	assert.True(t, m.Cursors("alice")["a"].Exhausted)
}

func TestFirstPagesComeFromCache(t *testing.T) {
	src := newFakeSource()
	src.pages["a"] = []*types.Page{page("a", 0, 2, "")}
	cache := sourcecache.New(sourcecache.NewMemoryStore(0), sourcecache.Config{}, zap.NewNop(), nil)
	m := newTestManager(src, cache, query("a"))

	for _, user := range []string{"alice", "bob"} {
		snap, err := m.GetPool(context.Background(), user, 2)
		require.NoError(t, err)
		assert.Len(t, snap.Items, 2)
	}
	assert.Equal(t, 1, src.callCount("a"))
}

func TestResetStartsNewSession(t *testing.T) {
	src := newFakeSource()
	src.pages["a"] = []*types.Page{page("a", 0, 4, "")}
	m := newTestManager(src, nil, query("a"))

	first, err := m.GetPool(context.Background(), "alice", 2)
	require.NoError(t, err)
	m.MarkSeen("alice", ids(first.Items[:2]), 2)

	m.Reset("alice")
	snap, err := m.GetPool(context.Background(), "alice", 2)
	require.NoError(t, err)
	assert.NotEqual(t, first.SessionID, snap.SessionID)
	assert.Equal(t, 1, snap.BatchNumber)
	assert.Len(t, snap.Items, 4)
}
