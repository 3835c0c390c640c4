package rssfeeds

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	"scrollfeed/types"

	"github.com/mmcdole/gofeed"
)

const (
	// DefaultPageSize is used when a query sets no limit.
	DefaultPageSize = 20
	// feedMemoTTL keeps a parsed feed around so paging does not refetch it.
	feedMemoTTL = 2 * time.Minute
)

type memoFeed struct {
	feed      *gofeed.Feed
	fetchedAt time.Time
}

// Connector serves RSS and Atom feeds. Feeds have no server-side paging, so
// the cursor is an offset into the parsed item list.
//
// Query params:
//
//	url     feed URL
//	preset  name from FeedPresets, used when url is empty
type Connector struct {
	extractTimeout time.Duration
	now            func() time.Time

	mu   sync.Mutex
	memo map[string]memoFeed
}

// NewConnector creates an RSS connector.
func NewConnector() *Connector {
	return &Connector{
		extractTimeout: extractorTimeout,
		now:            time.Now,
		memo:           make(map[string]memoFeed),
	}
}

// FeedURL resolves the feed address of a query.
func FeedURL(q types.QueryConfig) (string, error) {
	if u := q.Param("url", ""); u != "" {
		return u, nil
	}
	if preset, ok := FeedPresets[q.Param("preset", q.Key)]; ok {
		return preset.URL, nil
	}
	return "", fmt.Errorf("query %s: no url or known preset", q.Key)
}

// FetchPage returns the items of the feed starting at the cursor offset.
func (c *Connector) FetchPage(ctx context.Context, q types.QueryConfig, _ string, cursor string) (*types.Page, error) {
	feedURL, err := FeedURL(q)
	if err != nil {
		return nil, err
	}
	offset := 0
	if cursor != "" {
		if offset, err = strconv.Atoi(cursor); err != nil || offset < 0 {
			return nil, fmt.Errorf("query %s: bad cursor %q", q.Key, cursor)
		}
	}

	feed, err := c.fetchFeed(ctx, feedURL, cursor == "")
	if err != nil {
		return nil, err
	}

	size := q.Limit
	if size <= 0 {
		size = DefaultPageSize
	}
	end := min(offset+size, len(feed.Items))
	page := &types.Page{}
	for i := offset; i < end; i++ {
		page.Items = append(page.Items, toFeedItem(feed, feed.Items[i]))
	}
	if end >= len(feed.Items) {
		page.Exhausted = true
	} else {
		page.Cursor = strconv.Itoa(end)
	}
	return page, nil
}

// fetchFeed parses the feed, reusing a recent parse unless fresh is set.
func (c *Connector) fetchFeed(ctx context.Context, feedURL string, fresh bool) (*gofeed.Feed, error) {
	c.mu.Lock()
	m, ok := c.memo[feedURL]
	c.mu.Unlock()
	if ok && !fresh && c.now().Sub(m.fetchedAt) < feedMemoTTL {
		return m.feed, nil
	}

	parser := gofeed.NewParser()
	feed, err := parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed: %w", err)
	}

	c.mu.Lock()
	c.memo[feedURL] = memoFeed{feed: feed, fetchedAt: c.now()}
	c.mu.Unlock()
	return feed, nil
}

func toFeedItem(feed *gofeed.Feed, item *gofeed.Item) types.FeedItem {
	// Use GUID if available, otherwise generate from the normalized URL
	id := item.GUID
	if id == "" {
		id = item.Link
	}
	id = GenerateID(normalizeURL(id))

	var published time.Time
	if item.PublishedParsed != nil {
		published = *item.PublishedParsed
	} else if item.UpdatedParsed != nil {
		published = *item.UpdatedParsed
	}

	summary := item.Description
	if summary == "" {
		summary = item.Content
	}

	meta := map[string]any{"link": item.Link}
	if feed.Title != "" {
		meta["outlet"] = feed.Title
	}
	if len(item.Categories) > 0 {
		meta["category"] = item.Categories[0]
	}
	if item.Author != nil && item.Author.Name != "" {
		meta["author"] = item.Author.Name
	}
	if u, err := url.Parse(item.Link); err == nil && u.Host != "" {
		meta["site"] = u.Host
	}

	fi := types.FeedItem{
		ID:        id,
		Timestamp: published,
		Title:     item.Title,
		Body:      summary,
		Link:      item.Link,
		Meta:      meta,
	}
	if item.Image != nil {
		fi.Image = item.Image.URL
	} else if feed.Image != nil {
		fi.Image = feed.Image.URL
	}
	return fi
}
