package orchestrator

import (
	"sort"
	"strings"

	"scrollfeed/types"
)

// DefaultAliases maps friendly filter names to tiers, sources or queries.
var DefaultAliases = map[string]string{
	"news":     string(types.TierWire),
	"reads":    string(types.TierLongform),
	"memories": string(types.TierMemory),
	"stats":    string(types.TierDashboard),
}

type filterKind int

const (
	byTier filterKind = iota
	bySource
	byQuery
)

// filter restricts a request to one tier, source or query, and optionally
// to a set of sub-feeds.
type filter struct {
	kind  filterKind
	value string
	subs  map[string]struct{}
}

// resolveFilter parses "prefix:sub1,sub2". The prefix is looked up against
// tier names, then source types, then query keys, then the alias table. An
// unknown prefix returns nil and disables filtering.
func (o *Orchestrator) resolveFilter(expr string) *filter {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil
	}
	prefix, rest, _ := strings.Cut(expr, ":")
	prefix = strings.ToLower(strings.TrimSpace(prefix))

	f := o.lookupPrefix(prefix)
	if f == nil {
		if target, ok := o.aliases[prefix]; ok {
			f = o.lookupPrefix(strings.ToLower(target))
		}
	}
	if f == nil {
		return nil
	}
	for _, sub := range strings.Split(rest, ",") {
		if sub = strings.ToLower(strings.TrimSpace(sub)); sub != "" {
			if f.subs == nil {
				f.subs = make(map[string]struct{})
			}
			f.subs[sub] = struct{}{}
		}
	}
	return f
}

func (o *Orchestrator) lookupPrefix(prefix string) *filter {
	if _, ok := o.tiers[types.Tier(prefix)]; ok {
		return &filter{kind: byTier, value: prefix}
	}
	if _, ok := o.sources[prefix]; ok {
		return &filter{kind: bySource, value: prefix}
	}
	if _, ok := o.queries[prefix]; ok {
		return &filter{kind: byQuery, value: prefix}
	}
	return nil
}

func (f *filter) match(it types.FeedItem) bool {
	switch f.kind {
	case byTier:
		if string(it.EffectiveTier()) != f.value {
			return false
		}
	case bySource:
		if strings.ToLower(it.Source) != f.value {
			return false
		}
	case byQuery:
		if strings.ToLower(it.Query) != f.value {
			return false
		}
	}
	if len(f.subs) == 0 {
		return true
	}
	_, ok := f.subs[strings.ToLower(it.Subsource())]
	return ok
}

// matchQuery reports whether q can produce items the filter keeps. A query
// without a tier may yield items of any tier.
func (f *filter) matchQuery(q types.QueryConfig) bool {
	switch f.kind {
	case byTier:
		return q.Tier == "" || strings.ToLower(string(q.Tier)) == f.value
	case bySource:
		return strings.ToLower(q.Source) == f.value
	default:
		return strings.ToLower(q.Key) == f.value
	}
}

// filtered returns the matching items, newest first.
func filtered(items []types.FeedItem, f *filter) []types.FeedItem {
	var out []types.FeedItem
	for _, it := range items {
		if f.match(it) {
			out = append(out, it)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}
