// Package assembly turns a pool of candidate items into one composed batch:
// tiers compete for slots, the primary tier decays over a session, and the
// non-primary tiers are interleaved into the primary stream.
package assembly

import (
	"math"
	"math/rand/v2"
	"strings"

	"scrollfeed/flex"
	"scrollfeed/types"

	"go.uber.org/zap"
)

// DefaultHalfLife is the number of batches after which the primary tier keeps
// half of its allocation.
const DefaultHalfLife = 2.0

// Focus narrows the primary tier to one source and optionally one sub-feed.
type Focus struct {
	Source    string
	Subsource string
}

// ParseFocus reads "source" or "source/subsource". Empty input yields nil.
func ParseFocus(s string) *Focus {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	source, sub, _ := strings.Cut(s, "/")
	return &Focus{Source: source, Subsource: sub}
}

func (f *Focus) match(it types.FeedItem) bool {
	if f == nil {
		return true
	}
	if it.Source != f.Source {
		return false
	}
	return f.Subsource == "" || it.Subsource() == f.Subsource
}

// Input is everything one assembly pass needs.
type Input struct {
	Items       []types.FeedItem
	BatchNumber int
	Total       int
	Focus       *Focus
	// Selections counts how often each item id was served before.
	Selections map[string]int
}

// Config configures an Assembler.
type Config struct {
	Tiers    []TierConfig
	HalfLife float64
	// Shuffle overrides the shuffle used by the shuffle sort strategy.
	Shuffle func(n int, swap func(i, j int))
}

// Assembler composes batches. It holds no per-user state.
type Assembler struct {
	tiers    []TierConfig
	primary  int
	halfLife float64
	shuffle  func(n int, swap func(i, j int))
	logger   *zap.Logger
}

// New creates an Assembler. The primary tier is added with fill semantics
// when the configuration omits it.
func New(cfg Config, logger *zap.Logger) *Assembler {
	a := &Assembler{
		tiers:    append([]TierConfig(nil), cfg.Tiers...),
		primary:  -1,
		halfLife: cfg.HalfLife,
		shuffle:  cfg.Shuffle,
		logger:   logger,
	}
	if a.halfLife <= 0 {
		a.halfLife = DefaultHalfLife
	}
	if a.shuffle == nil {
		a.shuffle = rand.Shuffle
	}
	for i, t := range a.tiers {
		if t.Tier == types.PrimaryTier {
			a.primary = i
		}
	}
	if a.primary < 0 {
		a.tiers = append([]TierConfig{{Tier: types.PrimaryTier, Slots: flex.Fill(), Sort: SortRecency}}, a.tiers...)
		a.primary = 0
	}
	return a
}

// Tiers returns the configured tier names in priority order.
func (a *Assembler) Tiers() []types.Tier {
	out := make([]types.Tier, len(a.tiers))
	for i, t := range a.tiers {
		out[i] = t.Tier
	}
	return out
}

// Assemble selects at most in.Total items from in.Items.
func (a *Assembler) Assemble(in Input) []types.FeedItem {
	if in.Total <= 0 || len(in.Items) == 0 {
		return nil
	}

	buckets := a.bucket(in.Items, in.Focus)

	descs := make([]flex.Descriptor, len(a.tiers))
	for i, t := range a.tiers {
		d := t.Slots
		d.Available = len(buckets[i])
		descs[i] = d
	}
	alloc := flex.Distribute(in.Total, descs)
	a.decay(alloc, buckets, in.BatchNumber)

	selected := make([][]types.FeedItem, len(a.tiers))
	shortfall := in.Total
	for i, t := range a.tiers {
		selected[i] = a.selectTier(t, buckets[i], alloc[i], in.Selections, false)
		shortfall -= len(selected[i])
	}

	for i, t := range a.tiers {
		if shortfall <= 0 {
			break
		}
		headroom := len(buckets[i]) - len(selected[i])
		if headroom <= 0 || len(selected[i]) < alloc[i] {
			continue
		}
		expanded := a.selectTier(t, buckets[i], len(selected[i])+min(shortfall, headroom), in.Selections, true)
		if gain := len(expanded) - len(selected[i]); gain > 0 {
			shortfall -= gain
			selected[i] = expanded
		}
	}

	a.logger.Debug("assembled batch",
		zap.Int("batch", in.BatchNumber),
		zap.Int("total", in.Total),
		zap.Ints("allocation", alloc),
		zap.Int("unfilled", max(0, shortfall)))

	return Dedup(a.interleave(selected))
}

func (a *Assembler) bucket(items []types.FeedItem, focus *Focus) [][]types.FeedItem {
	index := make(map[types.Tier]int, len(a.tiers))
	for i, t := range a.tiers {
		index[t.Tier] = i
	}
	buckets := make([][]types.FeedItem, len(a.tiers))
	for _, it := range items {
		i, ok := index[it.EffectiveTier()]
		if !ok {
			i = a.primary
		}
		if i == a.primary && !focus.match(it) {
			continue
		}
		buckets[i] = append(buckets[i], it)
	}
	return buckets
}

// DecayFactor is the share of its allocation the primary tier keeps at the
// given batch: 0.5^((batch-1)/halfLife). It is 1 for the first batch and
// tends to 0. A non-positive halfLife falls back to DefaultHalfLife.
func DecayFactor(batch int, halfLife float64) float64 {
	if batch <= 1 {
		return 1
	}
	if halfLife <= 0 {
		halfLife = DefaultHalfLife
	}
	return math.Pow(0.5, float64(batch-1)/halfLife)
}

// decay shrinks the primary allocation by DecayFactor and hands
// the freed slots to the other tiers in proportion to their allocation,
// cascading overflow to tiers that still have headroom. Slots nobody can
// take go back to the primary tier.
func (a *Assembler) decay(alloc []int, buckets [][]types.FeedItem, batch int) {
	if batch <= 1 {
		return
	}
	p := a.primary
	kept := int(math.Round(float64(alloc[p]) * DecayFactor(batch, a.halfLife)))
	freed := alloc[p] - kept
	if freed <= 0 {
		return
	}
	alloc[p] = kept

	remaining := freed
	for remaining > 0 {
		var eligible []int
		weightSum := 0
		for i := range a.tiers {
			if i == p || len(buckets[i])-alloc[i] <= 0 {
				continue
			}
			eligible = append(eligible, i)
			weightSum += alloc[i]
		}
		if len(eligible) == 0 {
			break
		}
		shares := proportional(remaining, eligible, func(i int) float64 {
			if weightSum == 0 {
				return 1
			}
			return float64(alloc[i])
		})
		placed := 0
		for k, i := range eligible {
			give := min(shares[k], len(buckets[i])-alloc[i])
			alloc[i] += give
			placed += give
		}
		if placed == 0 {
			break
		}
		remaining -= placed
	}
	alloc[p] += remaining
}

// proportional splits n units across idx by weight, handing rounding
// leftovers to the largest fractional shares.
func proportional(n int, idx []int, weight func(int) float64) []int {
	total := 0.0
	for _, i := range idx {
		total += weight(i)
	}
	shares := make([]int, len(idx))
	if total <= 0 {
		return shares
	}
	fracs := make([]float64, len(idx))
	given := 0
	for k, i := range idx {
		exact := float64(n) * weight(i) / total
		shares[k] = int(math.Floor(exact))
		fracs[k] = exact - float64(shares[k])
		given += shares[k]
	}
	for ; given < n; given++ {
		best := 0
		for k := range fracs {
			if fracs[k] > fracs[best] {
				best = k
			}
		}
		shares[best]++
		fracs[best] = -1
	}
	return shares
}

// interleave spreads the non-primary items through the primary sequence at
// a fixed interval. Non-primary tiers are taken round-robin.
func (a *Assembler) interleave(selected [][]types.FeedItem) []types.FeedItem {
	primary := selected[a.primary]
	var others []types.FeedItem
	for round := 0; ; round++ {
		added := false
		for i, items := range selected {
			if i == a.primary || round >= len(items) {
				continue
			}
			others = append(others, items[round])
			added = true
		}
		if !added {
			break
		}
	}

	interval := max(1, len(primary)/(len(others)+1))
	out := make([]types.FeedItem, 0, len(primary)+len(others))
	next := 0
	for i, it := range primary {
		out = append(out, it)
		if (i+1)%interval == 0 && next < len(others) {
			out = append(out, others[next])
			next++
		}
	}
	return append(out, others[next:]...)
}

// Dedup drops repeated ids, keeping the first occurrence.
func Dedup(items []types.FeedItem) []types.FeedItem {
	seen := make(map[string]struct{}, len(items))
	out := make([]types.FeedItem, 0, len(items))
	for _, it := range items {
		if _, ok := seen[it.ID]; ok {
			continue
		}
		seen[it.ID] = struct{}{}
		out = append(out, it)
	}
	return out
}
