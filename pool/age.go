package pool

import (
	"time"

	"scrollfeed/types"
)

// DefaultMaxAge is the ceiling used when nothing more specific applies.
const DefaultMaxAge = 48 * time.Hour

// Built-in ceilings per source type. Zero means timeless.
var sourceMaxAge = map[string]time.Duration{
	"hn":      24 * time.Hour,
	"weather": 12 * time.Hour,
	"tasks":   0,
	"fitness": 7 * 24 * time.Hour,
	"photos":  0,
}

var tierMaxAge = map[types.Tier]time.Duration{
	types.TierWire:      DefaultMaxAge,
	types.TierLongform:  14 * 24 * time.Hour,
	types.TierMemory:    0,
	types.TierDashboard: 0,
}

// AgePolicy resolves how old an item may be before it is dropped at fetch
// time. Configured maps take precedence over the built-in tables at the same
// level. A zero duration means timeless.
type AgePolicy struct {
	Sources  map[string]time.Duration
	Tiers    map[types.Tier]time.Duration
	Fallback time.Duration
}

// MaxAge returns the ceiling for q. The second result is false for timeless
// queries.
func (p AgePolicy) MaxAge(q types.QueryConfig) (time.Duration, bool) {
	if q.MaxAge != nil {
		return *q.MaxAge, *q.MaxAge > 0
	}
	if d, ok := p.Sources[q.Source]; ok {
		return d, d > 0
	}
	if d, ok := sourceMaxAge[q.Source]; ok {
		return d, d > 0
	}
	if d, ok := sourceMaxAge[q.ConnectorName()]; ok {
		return d, d > 0
	}
	tier := q.Tier
	if tier == "" {
		tier = types.PrimaryTier
	}
	if d, ok := p.Tiers[tier]; ok {
		return d, d > 0
	}
	if d, ok := tierMaxAge[tier]; ok {
		return d, d > 0
	}
	if p.Fallback > 0 {
		return p.Fallback, true
	}
	return DefaultMaxAge, true
}

// filterAge drops items older than the ceiling of q. Items without a
// timestamp are kept.
func (p AgePolicy) filterAge(q types.QueryConfig, items []types.FeedItem, now time.Time) []types.FeedItem {
	ceiling, ok := p.MaxAge(q)
	if !ok {
		return items
	}
	cutoff := now.Add(-ceiling)
	out := items[:0]
	for _, it := range items {
		if it.Timestamp.IsZero() || !it.Timestamp.Before(cutoff) {
			out = append(out, it)
		}
	}
	return out
}
