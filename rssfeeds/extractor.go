package rssfeeds

import (
	"context"
	"fmt"
	"strings"
	"time"

	"scrollfeed/types"

	readability "github.com/go-shiori/go-readability"
)

const extractorTimeout = 30 * time.Second

// GetDetail extracts the readable article behind an item's link.
func (c *Connector) GetDetail(ctx context.Context, _ types.QueryConfig, localID string, meta map[string]any, _ string) (*types.Detail, error) {
	link, _ := meta["link"].(string)
	if link == "" {
		return nil, fmt.Errorf("item %s: article URL is empty", localID)
	}

	timeout := c.extractTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(deadline))
	}
	article, err := readability.FromURL(link, timeout)
	if err != nil {
		return nil, fmt.Errorf("readability extraction failed: %w", err)
	}

	header := types.Section{Type: "header", Title: article.Title}
	if article.Byline != "" {
		header.Body = article.Byline
	}
	d := &types.Detail{Sections: []types.Section{header}}
	if article.Image != "" {
		d.Sections = append(d.Sections, types.Section{Type: "image", Body: article.Image})
	}
	if article.Excerpt != "" {
		d.Sections = append(d.Sections, types.Section{Type: "excerpt", Body: article.Excerpt})
	}
	var paragraphs []string
	for _, p := range strings.Split(article.TextContent, "\n") {
		if p = strings.TrimSpace(p); p != "" {
			paragraphs = append(paragraphs, p)
		}
	}
	d.Sections = append(d.Sections, types.Section{Type: "text", Items: paragraphs})
	return d, nil
}
