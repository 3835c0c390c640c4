// Package flex distributes a fixed number of slots across buckets the way a
// CSS flex container distributes free space across its children.
package flex

import (
	"math"
	"sort"
)

// MaxPasses bounds the freeze loop.
const MaxPasses = 10

// Basis is the starting size of a bucket. Auto resolves to
// min(available, total); values in (0, 1] are proportions of the total and
// values above 1 are absolute slot counts.
type Basis struct {
	Auto  bool
	Value float64
}

// AutoBasis is the basis used by the fill and share shorthands.
var AutoBasis = Basis{Auto: true}

// Descriptor configures how one bucket competes for slots.
type Descriptor struct {
	Grow      float64
	Shrink    float64
	Basis     Basis
	Min       int
	Max       int // <= 0 means unbounded
	Available int
}

func (d Descriptor) upper() int {
	if d.Available <= 0 {
		return 0
	}
	if d.Max > 0 && d.Max < d.Available {
		return d.Max
	}
	return d.Available
}

func (d Descriptor) lower() int {
	return max(0, min(d.Min, d.upper()))
}

func (d Descriptor) resolveBasis(total int) float64 {
	switch {
	case d.Basis.Auto:
		return float64(min(d.Available, total))
	case d.Basis.Value <= 0:
		return 0
	case d.Basis.Value <= 1:
		return d.Basis.Value * float64(total)
	default:
		return d.Basis.Value
	}
}

// Distribute returns the number of slots each bucket receives. The result
// never sums to more than total, each bucket stays within
// [min, min(max, available)], and every bucket with available items gets at
// least one slot when total allows it.
func Distribute(total int, buckets []Descriptor) []int {
	out := make([]int, len(buckets))
	if total <= 0 || len(buckets) == 0 {
		return out
	}

	n := len(buckets)
	basis := make([]float64, n)
	size := make([]float64, n)
	frozen := make([]bool, n)
	for i, b := range buckets {
		basis[i] = b.resolveBasis(total)
		size[i] = basis[i]
		if b.upper() == 0 {
			frozen[i] = true
			size[i] = 0
		}
	}

	for pass := 0; pass < MaxPasses; pass++ {
		var frozenSum, unfrozenBasis, growSum, shrinkSum float64
		for i, b := range buckets {
			if frozen[i] {
				frozenSum += size[i]
				continue
			}
			unfrozenBasis += basis[i]
			growSum += b.Grow
			shrinkSum += b.Shrink * basis[i]
		}
		delta := float64(total) - frozenSum - unfrozenBasis

		changed := false
		for i, b := range buckets {
			if frozen[i] {
				continue
			}
			target := basis[i]
			switch {
			case delta > 0 && growSum > 0:
				target += delta * b.Grow / growSum
			case delta < 0 && shrinkSum > 0:
				target += delta * b.Shrink * basis[i] / shrinkSum
			}
			lo, hi := float64(b.lower()), float64(b.upper())
			switch {
			case target < lo:
				size[i], frozen[i], changed = lo, true, true
			case target > hi:
				size[i], frozen[i], changed = hi, true, true
			default:
				size[i] = target
			}
		}
		if !changed {
			break
		}
	}

	for i, b := range buckets {
		if b.upper() > 0 && size[i] < 1 {
			size[i] = 1
		}
		out[i] = int(math.Floor(size[i]))
	}

	trimOverflow(total, buckets, out)
	fillRemainder(total, buckets, size, out)
	return out
}

// trimOverflow takes slots back from the largest allocations until the sum
// fits in total. Buckets at their floor of one are trimmed last, lowest grow
// first, and a bucket only drops below its min when the mins alone overflow.
func trimOverflow(total int, buckets []Descriptor, out []int) {
	sum := 0
	for _, v := range out {
		sum += v
	}
	for sum > total {
		pick := -1
		for i := range out {
			if out[i] <= max(1, buckets[i].lower()) {
				continue
			}
			if pick < 0 || out[i] > out[pick] {
				pick = i
			}
		}
		if pick < 0 {
			pick = lowestGrow(buckets, out, func(i int) bool { return out[i] > buckets[i].lower() })
		}
		if pick < 0 {
			pick = lowestGrow(buckets, out, func(i int) bool { return out[i] > 0 })
		}
		if pick < 0 {
			return
		}
		out[pick]--
		sum--
	}
}

func lowestGrow(buckets []Descriptor, out []int, eligible func(int) bool) int {
	pick := -1
	for i := range out {
		if !eligible(i) {
			continue
		}
		if pick < 0 || buckets[i].Grow < buckets[pick].Grow {
			pick = i
		}
	}
	return pick
}

// fillRemainder hands leftover slots to the highest-grow buckets that still
// have room.
func fillRemainder(total int, buckets []Descriptor, size []float64, out []int) {
	sum, capacity := 0, 0
	for i, b := range buckets {
		sum += out[i]
		capacity += b.upper()
	}
	target := min(total, capacity)
	if sum >= target {
		return
	}

	order := make([]int, len(buckets))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		ia, ib := order[a], order[b]
		if buckets[ia].Grow != buckets[ib].Grow {
			return buckets[ia].Grow > buckets[ib].Grow
		}
		return size[ia]-math.Floor(size[ia]) > size[ib]-math.Floor(size[ib])
	})

	for start := 0; start < len(order) && sum < target; {
		end := start
		for end < len(order) && buckets[order[end]].Grow == buckets[order[start]].Grow {
			end++
		}
		for sum < target {
			progressed := false
			for _, i := range order[start:end] {
				if sum >= target {
					break
				}
				if out[i] < buckets[i].upper() {
					out[i]++
					sum++
					progressed = true
				}
			}
			if !progressed {
				break
			}
		}
		start = end
	}
}
