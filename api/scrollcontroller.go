package api

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"

	"scrollfeed/connectors"
	"scrollfeed/orchestrator"
	"scrollfeed/types"

	"github.com/gin-gonic/gin"
)

// Scroller serves batches and single items. *orchestrator.Orchestrator
// implements it.
type Scroller interface {
	Scroll(ctx context.Context, req orchestrator.Request) (*orchestrator.Response, error)
	Lookup(id string) (types.FeedItem, bool)
	Detail(ctx context.Context, id, user string) (*types.Detail, error)
}

// Item is a feed item as served, with the slug used by /item.
type Item struct {
	types.FeedItem
	Slug string `json:"slug"`
}

// ScrollResponse is the body of GET /scroll.
type ScrollResponse struct {
	Items   []Item `json:"items"`
	HasMore bool   `json:"hasMore"`
	Cursor  string `json:"cursor,omitempty"`
}

// ItemResponse is the body of GET /item/:slug.
type ItemResponse struct {
	Item     Item            `json:"item"`
	Sections []types.Section `json:"sections,omitempty"`
}

// EncodeSlug turns an item id into a URL-safe slug.
func EncodeSlug(id string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(id))
}

// DecodeSlug reverses EncodeSlug.
func DecodeSlug(slug string) (string, error) {
	b, err := base64.RawURLEncoding.DecodeString(slug)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func toItem(it types.FeedItem) Item {
	return Item{FeedItem: it, Slug: EncodeSlug(it.ID)}
}

// RegisterScrollRoutes registers the feed endpoints.
func RegisterScrollRoutes(r *gin.Engine, feed Scroller) {
	r.GET("/scroll", handleScroll(feed))
	r.GET("/item/:slug", handleItem(feed))
}

// handleScroll serves the next batch.
// GET /scroll?cursor&limit&focus&filter&source
func handleScroll(feed Scroller) gin.HandlerFunc {
	return func(c *gin.Context) {
		req := orchestrator.Request{
			User:   userID(c),
			Cursor: c.Query("cursor"),
			Focus:  c.Query("focus"),
			Filter: c.Query("filter"),
			Source: c.Query("source"),
		}
		if s := c.Query("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n < 1 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
				return
			}
			req.Limit = n
		}

		resp, err := feed.Scroll(c.Request.Context(), req)
		if err != nil {
			_ = c.Error(err)
			if errors.Is(err, orchestrator.ErrBadCursor) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to assemble feed"})
			return
		}

		out := ScrollResponse{Items: make([]Item, 0, len(resp.Items)), HasMore: resp.HasMore, Cursor: resp.Cursor}
		for _, it := range resp.Items {
			out.Items = append(out.Items, toItem(it))
		}
		c.JSON(http.StatusOK, out)
	}
}

// handleItem returns a recently served item, optionally expanded.
// GET /item/:slug?detail=1
func handleItem(feed Scroller) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := DecodeSlug(c.Param("slug"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid slug"})
			return
		}
		it, ok := feed.Lookup(id)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "item not found"})
			return
		}

		resp := ItemResponse{Item: toItem(it)}
		if detail, _ := strconv.ParseBool(c.Query("detail")); detail {
			d, err := feed.Detail(c.Request.Context(), id, userID(c))
			switch {
			case err == nil:
				resp.Sections = d.Sections
			case errors.Is(err, connectors.ErrNoDetail):
			case errors.Is(err, orchestrator.ErrNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": "item not found"})
				return
			default:
				_ = c.Error(err)
				c.JSON(http.StatusBadGateway, gin.H{"error": "failed to load detail: " + err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, resp)
	}
}
