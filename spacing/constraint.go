package spacing

import "scrollfeed/types"

// constraint reports whether inserting an item at pos keeps the sequence
// valid.
type constraint interface {
	fits(seq []types.FeedItem, pos int, it types.FeedItem) bool
}

// runLimit caps the length of a run of equal keys. Zero lifts the cap.
type runLimit struct {
	key keyFunc
	max func(types.FeedItem) int
}

func (r runLimit) fits(seq []types.FeedItem, pos int, it types.FeedItem) bool {
	k, limit := r.key(it), r.max(it)
	if k == "" || limit <= 0 {
		return true
	}
	run := 1
	for i := pos - 1; i >= 0 && r.key(seq[i]) == k; i-- {
		run++
	}
	for i := pos; i < len(seq) && r.key(seq[i]) == k; i++ {
		run++
	}
	return run <= limit
}

// gap requires equal keys to sit at least min positions apart.
type gap struct {
	key keyFunc
	min func(types.FeedItem) int
}

func (g gap) fits(seq []types.FeedItem, pos int, it types.FeedItem) bool {
	k, spread := g.key(it), g.min(it)
	if k == "" || spread <= 1 {
		return true
	}
	for d := 1; d < spread; d++ {
		if i := pos - d; i >= 0 && g.key(seq[i]) == k {
			return false
		}
		if i := pos + d - 1; i < len(seq) && g.key(seq[i]) == k {
			return false
		}
	}
	return true
}
