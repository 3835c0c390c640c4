package pool

import (
	"sync"
	"time"

	"scrollfeed/types"

	"github.com/google/uuid"
)

// DefaultHistorySize bounds the seen history that recycling draws from.
const DefaultHistorySize = 500

// CursorState tracks pagination of one query within a session. Exhausted is
// terminal until the session is reset.
type CursorState struct {
	Cursor      string
	Exhausted   bool
	LastFetchAt time.Time
	// Fetched is false until the first page arrives.
	Fetched bool
}

// Session is the pool of one user. mu guards every field below it and is
// never held during I/O.
type Session struct {
	ID   string
	User string

	// refilling is the latch serializing refills; background refills skip
	// when it is taken.
	refilling sync.Mutex

	mu         sync.Mutex
	loaded     bool
	items      []types.FeedItem
	index      map[string]int
	seen       map[string]struct{}
	history    []types.FeedItem
	historyCap int
	batch      int
	cursors    map[string]*CursorState
	selections map[string]int
}

func newSession(user string, queries []types.QueryConfig, historyCap int) *Session {
	s := &Session{
		ID:         uuid.NewString(),
		User:       user,
		index:      make(map[string]int),
		seen:       make(map[string]struct{}),
		historyCap: historyCap,
		batch:      1,
		cursors:    make(map[string]*CursorState, len(queries)),
		selections: make(map[string]int),
	}
	for _, q := range queries {
		s.cursors[q.Key] = &CursorState{}
	}
	return s
}

// Snapshot is a copy of the session state handed to assembly.
type Snapshot struct {
	SessionID   string
	Items       []types.FeedItem
	BatchNumber int
	Selections  map[string]int
}

// add appends items not already pooled. Must hold mu.
func (s *Session) add(items []types.FeedItem) int {
	n := 0
	for _, it := range items {
		if _, dup := s.index[it.ID]; dup {
			continue
		}
		s.index[it.ID] = len(s.items)
		s.items = append(s.items, it)
		n++
	}
	return n
}

// unseen returns pooled items not yet served. Must hold mu.
func (s *Session) unseen() []types.FeedItem {
	out := make([]types.FeedItem, 0, len(s.items)-len(s.seen))
	for _, it := range s.items {
		if _, ok := s.seen[it.ID]; !ok {
			out = append(out, it)
		}
	}
	return out
}

func (s *Session) unseenCount() int {
	n := 0
	for _, it := range s.items {
		if _, ok := s.seen[it.ID]; !ok {
			n++
		}
	}
	return n
}

// active reports whether any source can still paginate. Must hold mu.
func (s *Session) active() bool {
	for _, cs := range s.cursors {
		if !cs.Exhausted {
			return true
		}
	}
	return false
}

// markSeen records served ids. Must hold mu.
func (s *Session) markSeen(ids []string) {
	for _, id := range ids {
		i, ok := s.index[id]
		if !ok {
			continue
		}
		s.selections[id]++
		if _, dup := s.seen[id]; dup {
			continue
		}
		s.seen[id] = struct{}{}
		s.history = append(s.history, s.items[i])
		if len(s.history) > s.historyCap {
			s.history = s.history[len(s.history)-s.historyCap:]
		}
	}
	s.batch++
}

// recycle replaces the pool with the shuffled seen history. Items evicted
// from the history leave the pool for good. Must hold mu.
func (s *Session) recycle(shuffle func(n int, swap func(i, j int))) int {
	items := make([]types.FeedItem, len(s.history))
	copy(items, s.history)
	shuffle(len(items), func(i, j int) { items[i], items[j] = items[j], items[i] })

	s.items = s.items[:0]
	s.index = make(map[string]int, len(items))
	s.seen = make(map[string]struct{})
	s.history = nil
	for _, it := range items {
		it.Seen = true
		s.index[it.ID] = len(s.items)
		s.items = append(s.items, it)
	}
	return len(items)
}

func (s *Session) snapshot() Snapshot {
	sel := make(map[string]int, len(s.selections))
	for k, v := range s.selections {
		sel[k] = v
	}
	return Snapshot{
		SessionID:   s.ID,
		Items:       s.unseen(),
		BatchNumber: s.batch,
		Selections:  sel,
	}
}
