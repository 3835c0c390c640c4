package assembly

import (
	"fmt"
	"sort"

	"scrollfeed/flex"
	"scrollfeed/types"
)

// SortStrategy orders items inside a tier before selection.
type SortStrategy string

const (
	SortRecency  SortStrategy = "recency"
	SortPriority SortStrategy = "priority"
	SortShuffle  SortStrategy = "shuffle"
)

// ParseSort validates a sort strategy name. Empty means recency.
func ParseSort(s string) (SortStrategy, error) {
	switch SortStrategy(s) {
	case "":
		return SortRecency, nil
	case SortRecency, SortPriority, SortShuffle:
		return SortStrategy(s), nil
	}
	return "", fmt.Errorf("unknown sort strategy %q", s)
}

// TierConfig configures one tier.
type TierConfig struct {
	Tier  types.Tier
	Slots flex.Descriptor
	Sort  SortStrategy
	// SourceSlots describes how sources share the tier. Sources without an
	// entry share evenly.
	SourceSlots map[string]flex.Descriptor
	// SourceCaps bounds how many items one source may contribute.
	SourceCaps map[string]int
	// Fillers maps filler sources to their guaranteed minimum. Fillers take
	// whatever the other sources leave.
	Fillers map[string]int
}

// selectTier picks up to alloc items from one tier. With relaxed set the
// per-source caps are lifted so shortfall from other tiers can be absorbed.
func (a *Assembler) selectTier(t TierConfig, items []types.FeedItem, alloc int, selections map[string]int, relaxed bool) []types.FeedItem {
	if alloc <= 0 || len(items) == 0 {
		return nil
	}
	sorted := a.sortItems(items, t.Sort, selections)

	var order []string
	groups := make(map[string][]types.FeedItem)
	for _, it := range sorted {
		if _, ok := groups[it.Source]; !ok {
			order = append(order, it.Source)
		}
		groups[it.Source] = append(groups[it.Source], it)
	}

	capOf := func(src string) int {
		n := len(groups[src])
		if c, ok := t.SourceCaps[src]; ok && c > 0 && !relaxed {
			n = min(n, c)
		}
		return n
	}

	var primaries, fillers []string
	reserve := 0
	for _, src := range order {
		if minimum, ok := t.Fillers[src]; ok {
			fillers = append(fillers, src)
			reserve += min(minimum, capOf(src))
			continue
		}
		primaries = append(primaries, src)
	}
	reserve = min(reserve, alloc)

	taken := make(map[string]int, len(order))
	used := 0

	descs := make([]flex.Descriptor, len(primaries))
	for i, src := range primaries {
		d, ok := t.SourceSlots[src]
		if !ok {
			d = flex.Share()
		}
		if relaxed {
			d.Max = 0
		}
		d.Available = capOf(src)
		descs[i] = d
	}
	for i, n := range flex.Distribute(alloc-reserve, descs) {
		taken[primaries[i]] = n
		used += n
	}

	for _, src := range fillers {
		n := min(t.Fillers[src], capOf(src), alloc-used)
		taken[src] = n
		used += n
	}
	// Fillers absorb what is left, in sort order.
	for _, it := range sorted {
		if used >= alloc {
			break
		}
		if _, ok := t.Fillers[it.Source]; !ok && !relaxed {
			continue
		}
		if taken[it.Source] < capOf(it.Source) && taken[it.Source] < len(groups[it.Source]) {
			taken[it.Source]++
			used++
		}
	}

	out := make([]types.FeedItem, 0, used)
	counts := make(map[string]int, len(taken))
	for _, it := range sorted {
		if counts[it.Source] < taken[it.Source] {
			counts[it.Source]++
			out = append(out, it)
		}
	}
	return out
}

// sortItems returns a sorted copy with unseen items ahead of recycled ones.
func (a *Assembler) sortItems(items []types.FeedItem, strategy SortStrategy, selections map[string]int) []types.FeedItem {
	out := append([]types.FeedItem(nil), items...)
	switch strategy {
	case SortShuffle:
		a.shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	case SortPriority:
		sort.SliceStable(out, func(i, j int) bool {
			if out[i].Priority != out[j].Priority {
				return out[i].Priority > out[j].Priority
			}
			return out[i].Timestamp.After(out[j].Timestamp)
		})
	default:
		sort.SliceStable(out, func(i, j int) bool {
			if !out[i].Timestamp.Equal(out[j].Timestamp) {
				return out[i].Timestamp.After(out[j].Timestamp)
			}
			return selections[out[i].ID] < selections[out[j].ID]
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return !out[i].Seen && out[j].Seen })
	return out
}
