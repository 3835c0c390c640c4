package pool

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"scrollfeed/metrics"
	"scrollfeed/sourcecache"
	"scrollfeed/types"

	"go.uber.org/zap"
)

const (
	DefaultFetchTimeout = 20 * time.Second
	DefaultRefillRounds = 3
)

// Source fetches pages of a query. *connectors.Registry implements it.
type Source interface {
	FetchPage(ctx context.Context, q types.QueryConfig, user, cursor string) (*types.Page, error)
	IsUserScoped(q types.QueryConfig) bool
}

// Config controls pool behaviour.
type Config struct {
	Queries      []types.QueryConfig
	FetchTimeout time.Duration
	RefillRounds int
	HistorySize  int
	Ages         AgePolicy
}

// Manager owns the per-user sessions. The map lock only guards lookups;
// session state has its own lock.
type Manager struct {
	cfg     Config
	source  Source
	cache   *sourcecache.Cache
	logger  *zap.Logger
	metrics *metrics.Collector

	mu       sync.RWMutex
	sessions map[string]*Session

	wg      sync.WaitGroup
	now     func() time.Time
	shuffle func(n int, swap func(i, j int))
}

// NewManager creates a pool manager. cache may be nil, in which case first
// pages are fetched directly.
func NewManager(cfg Config, source Source, cache *sourcecache.Cache, logger *zap.Logger, m *metrics.Collector) *Manager {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.RefillRounds <= 0 {
		cfg.RefillRounds = DefaultRefillRounds
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultHistorySize
	}
	return &Manager{
		cfg:      cfg,
		source:   source,
		cache:    cache,
		logger:   logger,
		metrics:  m,
		sessions: make(map[string]*Session),
		now:      time.Now,
		shuffle:  rand.Shuffle,
	}
}

// Queries returns the configured queries.
func (m *Manager) Queries() []types.QueryConfig { return m.cfg.Queries }

// Reset discards the user's pool and starts a new session.
func (m *Manager) Reset(user string) *Session {
	s := newSession(user, m.cfg.Queries, m.cfg.HistorySize)
	m.mu.Lock()
	m.sessions[user] = s
	n := len(m.sessions)
	m.mu.Unlock()
	m.metrics.SetSessions(n)
	return s
}

func (m *Manager) session(user string) *Session {
	m.mu.RLock()
	s, ok := m.sessions[user]
	m.mu.RUnlock()
	if ok {
		return s
	}
	return m.Reset(user)
}

func (m *Manager) lookup(user string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[user]
	return s, ok
}

// GetPool returns the unseen items of the user's pool, loading the session
// on first use. While fewer than batchSize items are unseen and a source can
// still paginate, it blocks on a refill, up to the configured number of
// rounds. A source that fails is left out for the rest of the call and
// retried on the next one.
func (m *Manager) GetPool(ctx context.Context, user string, batchSize int) (Snapshot, error) {
	s := m.session(user)
	failed := make(map[string]bool)
	healthy := selector(func(q types.QueryConfig) bool { return !failed[q.Key] })

	s.mu.Lock()
	loaded := s.loaded
	s.mu.Unlock()
	if !loaded {
		s.refilling.Lock()
		s.mu.Lock()
		loaded = s.loaded
		s.mu.Unlock()
		if !loaded {
			_, keys := m.fetchRound(ctx, s, nil)
			for _, k := range keys {
				failed[k] = true
			}
			s.mu.Lock()
			s.loaded = true
			s.mu.Unlock()
		}
		s.refilling.Unlock()
	}

	for round := 0; round < m.cfg.RefillRounds; round++ {
		if err := ctx.Err(); err != nil {
			return Snapshot{}, err
		}
		s.mu.Lock()
		need := s.unseenCount() < batchSize && m.activeWhere(s, healthy)
		s.mu.Unlock()
		if !need {
			break
		}
		for _, k := range m.refill(ctx, s, "blocking", true, healthy) {
			failed[k] = true
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot(), nil
}

// Extend blocks on refills of the queries selected by match until enough
// reports true for the pooled items, no selected query can paginate, or the
// configured number of rounds is spent. The session must already exist.
// Failed queries are left out for the rest of the call.
func (m *Manager) Extend(ctx context.Context, user string, match func(types.QueryConfig) bool, enough func([]types.FeedItem) bool) error {
	s, ok := m.lookup(user)
	if !ok {
		return nil
	}
	failed := make(map[string]bool)
	sel := selector(func(q types.QueryConfig) bool { return !failed[q.Key] && match(q) })

	for round := 0; round < m.cfg.RefillRounds; round++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if enough(m.Items(user)) {
			return nil
		}
		s.mu.Lock()
		active := m.activeWhere(s, sel)
		s.mu.Unlock()
		if !active {
			return nil
		}
		for _, k := range m.refill(ctx, s, "blocking", true, sel) {
			failed[k] = true
		}
	}
	return nil
}

// Active reports whether a query selected by match can still paginate for
// the user.
func (m *Manager) Active(user string, match func(types.QueryConfig) bool) bool {
	s, ok := m.lookup(user)
	if !ok {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return m.activeWhere(s, match)
}

// Items returns every pooled item of the user, seen or not.
func (m *Manager) Items(user string) []types.FeedItem {
	s, ok := m.lookup(user)
	if !ok {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.FeedItem, len(s.items))
	copy(out, s.items)
	return out
}

// Cursors returns a copy of the pagination state of the user's session.
func (m *Manager) Cursors(user string) map[string]CursorState {
	s, ok := m.lookup(user)
	if !ok {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]CursorState, len(s.cursors))
	for k, cs := range s.cursors {
		out[k] = *cs
	}
	return out
}

// MarkSeen records the ids served in a batch and advances the batch number.
// When every source is exhausted and nothing is left unseen, the seen
// history is recycled. Otherwise a background refill starts once fewer than
// twice batchSize items remain.
func (m *Manager) MarkSeen(user string, ids []string, batchSize int) {
	s, ok := m.lookup(user)
	if !ok {
		return
	}

	s.mu.Lock()
	s.markSeen(ids)
	unseen := s.unseenCount()
	active := s.active()
	recycled := 0
	if unseen == 0 && !active {
		recycled = s.recycle(m.shuffle)
	}
	s.mu.Unlock()

	if recycled > 0 {
		m.metrics.RecordRecycle()
		m.logger.Info("recycled seen history",
			zap.String("user", user),
			zap.Int("items", recycled),
		)
		return
	}
	if active && unseen < 2*batchSize {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.refill(context.Background(), s, "background", false, nil)
		}()
	}
}

// HasMore reports whether another batch can be served. Once anything has
// been served this stays true, since the history can be recycled.
func (m *Manager) HasMore(user string) bool {
	s, ok := m.lookup(user)
	if !ok {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unseenCount() > 0 || s.active() || len(s.history) > 0
}

// Wait blocks until background refills finish.
func (m *Manager) Wait() { m.wg.Wait() }
