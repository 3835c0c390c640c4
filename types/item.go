package types

import (
	"strings"
	"time"
)

// Tier is the content category an item competes for slots in.
type Tier string

const (
	TierWire      Tier = "wire"
	TierLongform  Tier = "longform"
	TierMemory    Tier = "memory"
	TierDashboard Tier = "dashboard"
)

// PrimaryTier receives untagged items and is the tier subject to decay.
const PrimaryTier = TierWire

// FeedItem is a single piece of content served in a batch.
type FeedItem struct {
	ID        string         `json:"id"`
	Tier      Tier           `json:"tier"`
	Source    string         `json:"source"`
	Query     string         `json:"query,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Priority  int            `json:"priority"`
	Title     string         `json:"title"`
	Body      string         `json:"body,omitempty"`
	Image     string         `json:"image,omitempty"`
	Link      string         `json:"link,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`

	// Seen marks items that were recycled after the pool ran dry.
	Seen bool `json:"-"`
}

// EffectiveTier returns the item tier, defaulting to the primary tier.
func (f FeedItem) EffectiveTier() Tier {
	if f.Tier == "" {
		return PrimaryTier
	}
	return f.Tier
}

// MetaString returns a string meta field, or "" when absent.
func (f FeedItem) MetaString(key string) string {
	if f.Meta == nil {
		return ""
	}
	if s, ok := f.Meta[key].(string); ok {
		return s
	}
	return ""
}

// subsourceFields lists the meta keys that identify a sub-feed, in lookup order.
var subsourceFields = []string{"subsource", "category", "feed", "outlet", "site"}

// Subsource returns the first present sub-feed identifier of the item.
func (f FeedItem) Subsource() string {
	for _, k := range subsourceFields {
		if v := f.MetaString(k); v != "" {
			return v
		}
	}
	return ""
}

// ItemID builds the globally unique id of an item.
func ItemID(source, localID string) string {
	return source + ":" + localID
}

// SplitID returns the source and local id of an item id.
func SplitID(id string) (source, localID string, ok bool) {
	return strings.Cut(id, ":")
}
