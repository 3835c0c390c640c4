// Package spacing reorders an assembled batch so no source or sub-feed
// dominates a stretch of the feed.
package spacing

import "scrollfeed/types"

// Rules configures the enforcer. Zero disables a rule.
type Rules struct {
	MaxPerSource            int `yaml:"max_per_source" validate:"gte=0"`
	MaxPerSubsource         int `yaml:"max_per_subsource" validate:"gte=0"`
	MaxConsecutive          int `yaml:"max_consecutive" validate:"gte=0"`
	MaxConsecutiveSubsource int `yaml:"max_consecutive_subsource" validate:"gte=0"`
	MinSpacing              int `yaml:"min_spacing" validate:"gte=0"`
	MinSubsourceSpacing     int `yaml:"min_subsource_spacing" validate:"gte=0"`
}

// DefaultRules allows one item per source in a row and two per sub-feed.
func DefaultRules() Rules {
	return Rules{MaxConsecutive: 1, MaxConsecutiveSubsource: 2}
}

type keyFunc func(types.FeedItem) string

func sourceKey(it types.FeedItem) string { return it.Source }

// subsourceKey scopes the sub-feed to its source; items without one are
// never constrained.
func subsourceKey(it types.FeedItem) string {
	sub := it.Subsource()
	if sub == "" {
		return ""
	}
	return it.Source + "/" + sub
}

// Policy pairs the global rules with per-tier overrides. Each item is
// spaced by the rules of its tier, or by Default when its tier has none.
type Policy struct {
	Default Rules
	Tiers   map[types.Tier]Rules
}

func (p Policy) rulesFor(it types.FeedItem) Rules {
	if r, ok := p.Tiers[it.EffectiveTier()]; ok {
		return r
	}
	return p.Default
}

// limit resolves one rule per item.
func (p Policy) limit(field func(Rules) int) func(types.FeedItem) int {
	return func(it types.FeedItem) int { return field(p.rulesFor(it)) }
}

// uses reports whether any rule set raises field above floor.
func (p Policy) uses(field func(Rules) int, floor int) bool {
	if field(p.Default) > floor {
		return true
	}
	for _, r := range p.Tiers {
		if field(r) > floor {
			return true
		}
	}
	return false
}

// Enforce applies r to every item. See Policy.Enforce.
func Enforce(items []types.FeedItem, r Rules) []types.FeedItem {
	return Policy{Default: r}.Enforce(items)
}

// Enforce applies, in order: per-source cap, per-subsource cap, consecutive
// run limits by source then subsource, and minimum spacing by source then
// (source, subsource). Items that violate a rule are deferred and put back
// at the nearest position that satisfies every rule applied so far, or
// appended when no such position exists. The limit checked on insertion is
// the one of the inserted item's tier.
func (p Policy) Enforce(items []types.FeedItem) []types.FeedItem {
	maxPerSource := func(r Rules) int { return r.MaxPerSource }
	maxPerSubsource := func(r Rules) int { return r.MaxPerSubsource }
	runLen := func(r Rules) int { return r.MaxConsecutive }
	subRunLen := func(r Rules) int { return r.MaxConsecutiveSubsource }
	spread := func(r Rules) int { return r.MinSpacing }
	subSpread := func(r Rules) int { return r.MinSubsourceSpacing }

	out := items
	if p.uses(maxPerSource, 0) {
		out = capBy(out, sourceKey, p.limit(maxPerSource))
	}
	if p.uses(maxPerSubsource, 0) {
		out = capBy(out, subsourceKey, p.limit(maxPerSubsource))
	}

	steps := []struct {
		c  constraint
		on bool
	}{
		{runLimit{key: sourceKey, max: p.limit(runLen)}, p.uses(runLen, 0)},
		{runLimit{key: subsourceKey, max: p.limit(subRunLen)}, p.uses(subRunLen, 0)},
		{gap{key: sourceKey, min: p.limit(spread)}, p.uses(spread, 1)},
		{gap{key: subsourceKey, min: p.limit(subSpread)}, p.uses(subSpread, 1)},
	}
	var cs []constraint
	for _, step := range steps {
		if !step.on {
			continue
		}
		cs = append(cs, step.c)
		out = reorder(out, cs)
	}
	return out
}

func capBy(items []types.FeedItem, key keyFunc, limit func(types.FeedItem) int) []types.FeedItem {
	counts := make(map[string]int)
	out := make([]types.FeedItem, 0, len(items))
	for _, it := range items {
		k := key(it)
		if n := limit(it); k != "" && n > 0 {
			if counts[k] >= n {
				continue
			}
			counts[k]++
		}
		out = append(out, it)
	}
	return out
}

type deferred struct {
	item types.FeedItem
	want int
}

func reorder(items []types.FeedItem, cs []constraint) []types.FeedItem {
	out := make([]types.FeedItem, 0, len(items))
	var pending []deferred

	for _, it := range items {
		out, pending = drain(out, pending, cs)
		if fitsAll(cs, out, len(out), it) {
			out = append(out, it)
			continue
		}
		pending = append(pending, deferred{item: it, want: len(out)})
	}
	out, pending = drain(out, pending, cs)

	for _, d := range pending {
		out = insert(out, nearest(out, d, cs), d.item)
	}
	return out
}

// drain appends deferred items that now fit at the tail.
func drain(out []types.FeedItem, pending []deferred, cs []constraint) ([]types.FeedItem, []deferred) {
	for progressed := true; progressed; {
		progressed = false
		for i, d := range pending {
			if fitsAll(cs, out, len(out), d.item) {
				out = append(out, d.item)
				pending = append(pending[:i], pending[i+1:]...)
				progressed = true
				break
			}
		}
	}
	return out, pending
}

func nearest(out []types.FeedItem, d deferred, cs []constraint) int {
	want := min(d.want, len(out))
	for delta := 0; delta <= len(out); delta++ {
		if p := want + delta; p <= len(out) && fitsAll(cs, out, p, d.item) {
			return p
		}
		if p := want - delta; delta > 0 && p >= 0 && fitsAll(cs, out, p, d.item) {
			return p
		}
	}
	return len(out)
}

func insert(s []types.FeedItem, pos int, it types.FeedItem) []types.FeedItem {
	s = append(s, types.FeedItem{})
	copy(s[pos+1:], s[pos:])
	s[pos] = it
	return s
}

func fitsAll(cs []constraint, seq []types.FeedItem, pos int, it types.FeedItem) bool {
	for _, c := range cs {
		if !c.fits(seq, pos, it) {
			return false
		}
	}
	return true
}
