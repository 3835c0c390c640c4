package assembly

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"scrollfeed/flex"
	"scrollfeed/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var epoch = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func mk(source string, n int, tier types.Tier) types.FeedItem {
	return types.FeedItem{
		ID:        types.ItemID(source, fmt.Sprint(n)),
		Source:    source,
		Tier:      tier,
		Timestamp: epoch.Add(-time.Duration(n) * time.Minute),
	}
}

func many(sources []string, per int, tier types.Tier) []types.FeedItem {
	var out []types.FeedItem
	for _, s := range sources {
		for i := 0; i < per; i++ {
			out = append(out, mk(s, i, tier))
		}
	}
	return out
}

func countBy(items []types.FeedItem, key func(types.FeedItem) string) map[string]int {
	out := map[string]int{}
	for _, it := range items {
		out[key(it)]++
	}
	return out
}

func byTier(it types.FeedItem) string   { return string(it.EffectiveTier()) }
func bySource(it types.FeedItem) string { return it.Source }

func newAssembler(tiers ...TierConfig) *Assembler {
	return New(Config{Tiers: tiers}, zap.NewNop())
}

func TestAssemblePrimaryAndFixedDashboard(t *testing.T) {
	a := newAssembler(
		TierConfig{Tier: types.TierWire, Slots: flex.Fill()},
		TierConfig{Tier: types.TierDashboard, Slots: flex.Fixed(6)},
	)
	items := append(many([]string{"s0", "s1", "s2", "s3", "s4"}, 20, types.TierWire),
		many([]string{"dash"}, 3, types.TierDashboard)...)

	got := a.Assemble(Input{Items: items, BatchNumber: 1, Total: 15})

	require.Len(t, got, 15)
	counts := countBy(got, byTier)
	assert.Equal(t, 12, counts["wire"])
	assert.Equal(t, 3, counts["dashboard"])
	for _, i := range []int{3, 7, 11} {
		assert.Equal(t, types.TierDashboard, got[i].Tier, "position %d", i)
	}
}

func TestAssembleUntaggedGoesToPrimary(t *testing.T) {
	a := newAssembler(TierConfig{Tier: types.TierLongform, Slots: flex.Share()})
	items := many([]string{"x"}, 4, "")
	got := a.Assemble(Input{Items: items, BatchNumber: 1, Total: 4})
	assert.Len(t, got, 4)
	assert.Equal(t, []types.Tier{types.TierWire, types.TierLongform}, a.Tiers())
}

func TestAssembleDecayIsMonotonic(t *testing.T) {
	a := newAssembler(
		TierConfig{Tier: types.TierWire, Slots: flex.Fill()},
		TierConfig{Tier: types.TierLongform, Slots: flex.Share()},
	)
	items := append(many([]string{"w0", "w1", "w2"}, 20, types.TierWire),
		many([]string{"l0", "l1"}, 30, types.TierLongform)...)

	prev := 11
	for batch := 1; batch <= 8; batch++ {
		got := a.Assemble(Input{Items: items, BatchNumber: batch, Total: 10})
		require.Len(t, got, 10, "batch %d", batch)
		primary := countBy(got, byTier)["wire"]
		assert.LessOrEqual(t, primary, prev, "batch %d", batch)
		prev = primary
	}
	assert.Less(t, prev, 5)
}

func TestDecayFactorTendsToZero(t *testing.T) {
	assert.Equal(t, 1.0, DecayFactor(1, DefaultHalfLife))
	assert.Equal(t, 1.0, DecayFactor(0, DefaultHalfLife))
	assert.InDelta(t, 0.5, DecayFactor(3, 2), 1e-12)
	assert.Equal(t, DecayFactor(5, DefaultHalfLife), DecayFactor(5, 0))

	prev := 1.0
	for batch := 2; batch <= 60; batch++ {
		f := DecayFactor(batch, DefaultHalfLife)
		assert.Less(t, f, prev, "batch %d", batch)
		prev = f
	}
	assert.Less(t, DecayFactor(40, DefaultHalfLife), 1e-5)
	assert.Less(t, DecayFactor(200, 10), 1e-5)
}

func TestAssembleDecayReachesZeroPrimary(t *testing.T) {
	a := newAssembler(
		TierConfig{Tier: types.TierWire, Slots: flex.Fill()},
		TierConfig{Tier: types.TierLongform, Slots: flex.Share()},
	)
	items := append(many([]string{"w0", "w1"}, 20, types.TierWire),
		many([]string{"l0", "l1"}, 20, types.TierLongform)...)

	got := a.Assemble(Input{Items: items, BatchNumber: 30, Total: 10})
	require.Len(t, got, 10)
	assert.Zero(t, countBy(got, byTier)["wire"])
}

func TestAssembleDecayReturnsUnplaceableSlots(t *testing.T) {
	a := newAssembler(
		TierConfig{Tier: types.TierWire, Slots: flex.Fill()},
		TierConfig{Tier: types.TierLongform, Slots: flex.Share()},
	)
	items := many([]string{"w0", "w1"}, 25, types.TierWire)
	got := a.Assemble(Input{Items: items, BatchNumber: 5, Total: 10})
	assert.Len(t, got, 10)
}

func TestAssembleShortfallMovesToOtherTiers(t *testing.T) {
	a := newAssembler(
		TierConfig{Tier: types.TierWire, Slots: flex.Fill(), SourceCaps: map[string]int{"a": 2}},
		TierConfig{Tier: types.TierLongform, Slots: flex.Share()},
	)
	items := append(many([]string{"a"}, 10, types.TierWire), many([]string{"l"}, 10, types.TierLongform)...)

	got := a.Assemble(Input{Items: items, BatchNumber: 1, Total: 10})
	counts := countBy(got, bySource)
	assert.Equal(t, 2, counts["a"])
	assert.Equal(t, 8, counts["l"])
}

func TestAssembleFillersAbsorbCapacity(t *testing.T) {
	a := newAssembler(TierConfig{
		Tier:       types.TierWire,
		Slots:      flex.Fill(),
		SourceCaps: map[string]int{"a": 2, "b": 2},
		Fillers:    map[string]int{"f": 1},
	})
	items := append(many([]string{"a", "b"}, 5, types.TierWire), many([]string{"f"}, 10, types.TierWire)...)

	got := a.Assemble(Input{Items: items, BatchNumber: 1, Total: 10})
	assert.Equal(t, map[string]int{"a": 2, "b": 2, "f": 6}, countBy(got, bySource))
}

func TestAssembleFillerGuaranteedMinimum(t *testing.T) {
	a := newAssembler(TierConfig{
		Tier:    types.TierWire,
		Slots:   flex.Fill(),
		Fillers: map[string]int{"f": 2},
	})
	items := append(many([]string{"a"}, 10, types.TierWire), many([]string{"f"}, 10, types.TierWire)...)

	got := a.Assemble(Input{Items: items, BatchNumber: 1, Total: 6})
	assert.Equal(t, map[string]int{"a": 4, "f": 2}, countBy(got, bySource))
}

func TestAssembleFocus(t *testing.T) {
	a := newAssembler(TierConfig{Tier: types.TierWire, Slots: flex.Fill()})
	items := many([]string{"a", "b"}, 5, types.TierWire)
	for i := range items {
		if i%2 == 0 {
			items[i].Meta = map[string]any{"category": "x"}
		}
	}

	got := a.Assemble(Input{Items: items, BatchNumber: 1, Total: 4, Focus: ParseFocus("a")})
	require.Len(t, got, 4)
	for _, it := range got {
		assert.Equal(t, "a", it.Source)
	}

	got = a.Assemble(Input{Items: items, BatchNumber: 1, Total: 10, Focus: ParseFocus("a/x")})
	require.NotEmpty(t, got)
	for _, it := range got {
		assert.Equal(t, "x", it.Subsource())
	}
}

func TestSortPreferences(t *testing.T) {
	t.Run("unseen first", func(t *testing.T) {
		a := newAssembler(TierConfig{Tier: types.TierWire, Slots: flex.Fill()})
		items := many([]string{"a"}, 6, types.TierWire)
		for i := 0; i < 3; i++ {
			items[i].Seen = true
		}
		got := a.Assemble(Input{Items: items, BatchNumber: 1, Total: 3})
		for _, it := range got {
			assert.False(t, it.Seen)
		}
	})

	t.Run("recency ties use selection count", func(t *testing.T) {
		a := newAssembler(TierConfig{Tier: types.TierWire, Slots: flex.Fill()})
		x, y := mk("a", 1, types.TierWire), mk("a", 2, types.TierWire)
		y.Timestamp = x.Timestamp
		got := a.Assemble(Input{Items: []types.FeedItem{x, y}, BatchNumber: 1, Total: 1,
			Selections: map[string]int{x.ID: 5}})
		require.Len(t, got, 1)
		assert.Equal(t, y.ID, got[0].ID)
	})

	t.Run("priority", func(t *testing.T) {
		a := newAssembler(TierConfig{Tier: types.TierWire, Slots: flex.Fill(), Sort: SortPriority})
		items := many([]string{"a"}, 3, types.TierWire)
		items[0].Priority, items[1].Priority, items[2].Priority = 1, 5, 3
		got := a.Assemble(Input{Items: items, BatchNumber: 1, Total: 2})
		require.Len(t, got, 2)
		assert.Equal(t, 5, got[0].Priority)
		assert.Equal(t, 3, got[1].Priority)
	})

	t.Run("shuffle", func(t *testing.T) {
		reverse := func(n int, swap func(i, j int)) {
			for i := 0; i < n/2; i++ {
				swap(i, n-1-i)
			}
		}
		a := New(Config{Tiers: []TierConfig{{Tier: types.TierWire, Slots: flex.Fill(), Sort: SortShuffle}},
			Shuffle: reverse}, zap.NewNop())
		items := many([]string{"a"}, 4, types.TierWire)
		got := a.Assemble(Input{Items: items, BatchNumber: 1, Total: 4})
		require.Len(t, got, 4)
		assert.Equal(t, items[3].ID, got[0].ID)
		assert.Equal(t, items[0].ID, got[3].ID)
	})
}

func TestInterleave(t *testing.T) {
	a := newAssembler(TierConfig{Tier: types.TierWire}, TierConfig{Tier: types.TierMemory})
	primary := many([]string{"p"}, 6, types.TierWire)
	others := many([]string{"m"}, 2, types.TierMemory)

	got := a.interleave([][]types.FeedItem{primary, others})
	var pattern string
	for _, it := range got {
		pattern += it.Source
	}
	assert.Equal(t, "ppmppmpp", pattern)
}

func TestDedup(t *testing.T) {
	items := many([]string{"a"}, 3, types.TierWire)
	items = append(items, items[1], items[0])
	got := Dedup(items)
	assert.Len(t, got, 3)
	assert.Equal(t, got, Dedup(got))
}

func TestAssembleConservation(t *testing.T) {
	tiers := []types.Tier{types.TierWire, types.TierLongform, types.TierMemory, types.TierDashboard}
	a := newAssembler(
		TierConfig{Tier: types.TierWire, Slots: flex.Fill()},
		TierConfig{Tier: types.TierLongform, Slots: flex.Share()},
		TierConfig{Tier: types.TierMemory, Slots: flex.Fixed(2), Sort: SortShuffle},
		TierConfig{Tier: types.TierDashboard, Slots: flex.Fixed(1), Sort: SortPriority},
	)
	r := rand.New(rand.NewSource(7))
	for iter := 0; iter < 300; iter++ {
		var items []types.FeedItem
		for i, n := 0, r.Intn(60); i < n; i++ {
			tier := tiers[r.Intn(len(tiers))]
			items = append(items, mk(fmt.Sprintf("%s-%d", tier, r.Intn(3)), i, tier))
		}
		total := r.Intn(30)
		got := a.Assemble(Input{Items: items, BatchNumber: 1 + r.Intn(6), Total: total})

		assert.Len(t, got, min(total, len(items)))
		assert.Len(t, Dedup(got), len(got))
	}
}
