package pool

import (
	"context"
	"time"

	"scrollfeed/sourcecache"
	"scrollfeed/types"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type fetchResult struct {
	query types.QueryConfig
	first bool
	page  *types.Page
	err   error
}

// selector picks the queries a fetch round covers. nil selects all.
type selector func(q types.QueryConfig) bool

func (sel selector) has(q types.QueryConfig) bool { return sel == nil || sel(q) }

// refill fetches the next page of every selected non-exhausted source and
// returns the keys of the queries that failed. A blocking refill waits for
// one already in flight; a background one skips.
func (m *Manager) refill(ctx context.Context, s *Session, mode string, wait bool, sel selector) []string {
	if wait {
		s.refilling.Lock()
	} else if !s.refilling.TryLock() {
		return nil
	}
	defer s.refilling.Unlock()

	m.metrics.RecordRefill(mode)
	added, failed := m.fetchRound(ctx, s, sel)
	m.logger.Debug("pool refilled",
		zap.String("user", s.User),
		zap.String("mode", mode),
		zap.Int("added", added),
		zap.Int("failed", len(failed)),
	)
	return failed
}

// fetchRound fans out one fetch per selected active query and merges the
// results. Fetches run detached from the caller's cancellation, each bounded
// by the fetch timeout. Failures contribute nothing and leave the cursor as
// is; their query keys are returned.
func (m *Manager) fetchRound(ctx context.Context, s *Session, sel selector) (int, []string) {
	type target struct {
		q      types.QueryConfig
		cursor string
		first  bool
	}
	s.mu.Lock()
	var targets []target
	for _, q := range m.cfg.Queries {
		cs := s.cursors[q.Key]
		if cs == nil || cs.Exhausted || !sel.has(q) {
			continue
		}
		targets = append(targets, target{q: q, cursor: cs.Cursor, first: !cs.Fetched})
	}
	s.mu.Unlock()

	results := make([]fetchResult, len(targets))
	base := context.WithoutCancel(ctx)
	var g errgroup.Group
	for i, t := range targets {
		g.Go(func() error {
			fctx, cancel := context.WithTimeout(base, m.cfg.FetchTimeout)
			defer cancel()
			page, err := m.fetch(fctx, s.User, t.q, t.cursor, t.first)
			results[i] = fetchResult{query: t.q, first: t.first, page: page, err: err}
			return nil
		})
	}
	_ = g.Wait()

	now := m.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	added := 0
	var failed []string
	for _, r := range results {
		if r.err != nil {
			failed = append(failed, r.query.Key)
			m.logger.Warn("source fetch failed",
				zap.String("user", s.User),
				zap.String("query", r.query.Key),
				zap.String("source", r.query.Source),
				zap.Error(r.err),
			)
			continue
		}
		cs := s.cursors[r.query.Key]
		cs.Fetched = true
		cs.LastFetchAt = now
		cs.Cursor = r.page.Cursor
		cs.Exhausted = r.page.Exhausted || r.page.Cursor == ""

		items := m.cfg.Ages.filterAge(r.query, r.page.Items, now)
		added += s.add(items)
	}
	return added, failed
}

// activeWhere reports whether a selected query can still paginate. Must
// hold s.mu.
func (m *Manager) activeWhere(s *Session, sel selector) bool {
	for _, q := range m.cfg.Queries {
		cs := s.cursors[q.Key]
		if cs != nil && !cs.Exhausted && sel.has(q) {
			return true
		}
	}
	return false
}

// fetch loads one page. First pages go through the source cache.
func (m *Manager) fetch(ctx context.Context, user string, q types.QueryConfig, cursor string, first bool) (*types.Page, error) {
	load := func(ctx context.Context) (*types.Page, error) {
		start := time.Now()
		page, err := m.source.FetchPage(ctx, q, user, cursor)
		m.metrics.RecordFetch(q.Source, err, time.Since(start))
		return page, err
	}
	if !first || m.cache == nil {
		return load(ctx)
	}
	key := sourcecache.Key(q, user, m.source.IsUserScoped(q))
	return m.cache.GetPage(ctx, key, q.Source, m.cache.TTLFor(q), load)
}
