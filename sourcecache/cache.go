// Package sourcecache keeps the first page of every source behind a
// stale-while-revalidate cache that outlives user sessions.
package sourcecache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"scrollfeed/metrics"
	"scrollfeed/types"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// TTL bounds and fallback.
const (
	MinTTL     = 5 * time.Minute
	MaxTTL     = 30 * time.Minute
	DefaultTTL = 10 * time.Minute

	DefaultRefreshTimeout = 20 * time.Second
)

// volatility holds built-in TTLs keyed by source or connector name.
var volatility = map[string]time.Duration{
	"tasks":     5 * time.Minute,
	"dashboard": 5 * time.Minute,
	"rss":       10 * time.Minute,
	"weather":   15 * time.Minute,
	"photos":    30 * time.Minute,
	"fitness":   30 * time.Minute,
}

// Entry is one cached first page.
type Entry struct {
	Page      types.Page    `json:"page"`
	FetchedAt time.Time     `json:"fetched_at"`
	TTL       time.Duration `json:"ttl"`
}

// Store persists entries. Get returns nil, nil on a miss.
type Store interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Set(ctx context.Context, key string, e *Entry) error
	Delete(ctx context.Context, key string) error
	// DeleteMatching removes keys with the given prefix and suffix.
	DeleteMatching(ctx context.Context, prefix, suffix string) (int, error)
}

// FetchFunc loads a fresh first page.
type FetchFunc func(ctx context.Context) (*types.Page, error)

// Config configures TTL resolution and background refreshes.
type Config struct {
	DefaultTTL     time.Duration
	SourceTTL      map[string]time.Duration
	RefreshTimeout time.Duration
}

// Cache is a stale-while-revalidate cache keyed by source query.
type Cache struct {
	store   Store
	cfg     Config
	logger  *zap.Logger
	metrics *metrics.Collector
	now     func() time.Time

	group      singleflight.Group
	mu         sync.Mutex
	refreshing map[string]struct{}
	wg         sync.WaitGroup
}

// New creates a Cache over store.
func New(store Store, cfg Config, logger *zap.Logger, m *metrics.Collector) *Cache {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultTTL
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = DefaultRefreshTimeout
	}
	return &Cache{
		store:      store,
		cfg:        cfg,
		logger:     logger,
		metrics:    m,
		now:        time.Now,
		refreshing: make(map[string]struct{}),
	}
}

// Key builds the cache key of a query. User-scoped sources get one entry
// per user.
func Key(q types.QueryConfig, user string, userScoped bool) string {
	k := q.Source + "/" + q.Key
	if userScoped {
		k += "@" + user
	}
	return k
}

// TTLFor resolves the TTL of a query: query override, configured source TTL,
// built-in volatility, then the default. Results are clamped to
// [MinTTL, MaxTTL].
func (c *Cache) TTLFor(q types.QueryConfig) time.Duration {
	ttl := c.cfg.DefaultTTL
	switch {
	case q.TTL > 0:
		ttl = q.TTL
	case c.cfg.SourceTTL[q.Source] > 0:
		ttl = c.cfg.SourceTTL[q.Source]
	case volatility[q.Source] > 0:
		ttl = volatility[q.Source]
	case volatility[q.ConnectorName()] > 0:
		ttl = volatility[q.ConnectorName()]
	}
	return min(max(ttl, MinTTL), MaxTTL)
}

// GetPage returns the cached page for key. A miss fetches synchronously;
// concurrent misses on one key share a single fetch. A stale hit returns the
// cached page at once and starts at most one background refresh per key.
func (c *Cache) GetPage(ctx context.Context, key, source string, ttl time.Duration, fetch FetchFunc) (*types.Page, error) {
	entry, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("source cache read failed", zap.String("key", key), zap.Error(err))
		entry = nil
	}

	if entry != nil {
		if c.now().Sub(entry.FetchedAt) < ttl {
			c.metrics.RecordCache(source, "hit")
			return clonePage(&entry.Page), nil
		}
		c.metrics.RecordCache(source, "stale")
		c.refresh(key, source, ttl, fetch)
		return clonePage(&entry.Page), nil
	}

	c.metrics.RecordCache(source, "miss")
	v, err, _ := c.group.Do(key, func() (any, error) {
		return c.load(ctx, key, ttl, fetch)
	})
	if err != nil {
		return nil, err
	}
	return clonePage(v.(*types.Page)), nil
}

// Warm fetches and stores a fresh page regardless of the cached state.
func (c *Cache) Warm(ctx context.Context, key string, ttl time.Duration, fetch FetchFunc) error {
	_, err := c.load(ctx, key, ttl, fetch)
	return err
}

func (c *Cache) load(ctx context.Context, key string, ttl time.Duration, fetch FetchFunc) (*types.Page, error) {
	page, err := fetch(ctx)
	if err != nil {
		return nil, err
	}
	if page == nil {
		return nil, fmt.Errorf("fetch %s: nil page", key)
	}
	entry := &Entry{Page: *page, FetchedAt: c.now(), TTL: ttl}
	if err := c.store.Set(ctx, key, entry); err != nil {
		c.logger.Warn("source cache write failed", zap.String("key", key), zap.Error(err))
	}
	return page, nil
}

func (c *Cache) refresh(key, source string, ttl time.Duration, fetch FetchFunc) {
	c.mu.Lock()
	if _, running := c.refreshing[key]; running {
		c.mu.Unlock()
		return
	}
	c.refreshing[key] = struct{}{}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		defer func() {
			c.mu.Lock()
			delete(c.refreshing, key)
			c.mu.Unlock()
		}()

		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.RefreshTimeout)
		defer cancel()
		if _, err := c.load(ctx, key, ttl, fetch); err != nil {
			c.logger.Warn("background refresh failed, keeping stale entry",
				zap.String("key", key), zap.String("source", source), zap.Error(err))
			return
		}
		c.logger.Debug("source refreshed", zap.String("key", key))
	}()
}

// Invalidate drops one cached key.
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	return c.store.Delete(ctx, key)
}

// InvalidateSource drops every cached page of a source. When user is set
// only that user's entries of user-scoped queries are dropped.
func (c *Cache) InvalidateSource(ctx context.Context, source, user string) (int, error) {
	suffix := ""
	if user != "" {
		suffix = "@" + user
	}
	return c.store.DeleteMatching(ctx, source+"/", suffix)
}

// Wait blocks until background refreshes finish.
func (c *Cache) Wait() { c.wg.Wait() }

func clonePage(p *types.Page) *types.Page {
	out := *p
	out.Items = append([]types.FeedItem(nil), p.Items...)
	return &out
}
