// Package scheduler refreshes cached first pages on a cron schedule so
// fresh sessions rarely wait on a source.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"scrollfeed/sourcecache"
	"scrollfeed/types"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	warmConcurrency = 4
	warmTimeout     = 30 * time.Second
)

// Source fetches pages of a query. *connectors.Registry implements it.
type Source interface {
	FetchPage(ctx context.Context, q types.QueryConfig, user, cursor string) (*types.Page, error)
	IsUserScoped(q types.QueryConfig) bool
}

// Warmer refreshes the first page of every shared query.
type Warmer struct {
	cache   *sourcecache.Cache
	source  Source
	queries []types.QueryConfig
	logger  *zap.Logger

	cron    *cron.Cron
	cronID  cron.EntryID
	mu      sync.Mutex
	running atomic.Bool
}

// New creates a Warmer. User-scoped queries are skipped since their pages
// differ per user.
func New(cache *sourcecache.Cache, source Source, queries []types.QueryConfig, logger *zap.Logger) *Warmer {
	return &Warmer{
		cache:   cache,
		source:  source,
		queries: queries,
		logger:  logger,
		cron:    cron.New(),
	}
}

// Start schedules warm runs. A run still in progress when the next one is
// due makes the next one a no-op.
func (w *Warmer) Start(schedule string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	id, err := w.cron.AddFunc(schedule, func() {
		if !w.running.CompareAndSwap(false, true) {
			w.logger.Info("cache warm skipped: previous run still active")
			return
		}
		defer w.running.Store(false)

		n, err := w.RunOnce(context.Background())
		if err != nil {
			w.logger.Warn("cache warm finished with errors", zap.Int("warmed", n), zap.Error(err))
			return
		}
		w.logger.Info("cache warmed", zap.Int("warmed", n))
	})
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}
	w.cronID = id
	w.cron.Start()
	w.logger.Info("cache warm scheduled", zap.String("schedule", schedule))
	return nil
}

// Stop halts the schedule. The returned context is done once a running job
// finishes.
func (w *Warmer) Stop() context.Context {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cron.Stop()
}

// RunOnce warms every shared query and reports how many succeeded.
func (w *Warmer) RunOnce(ctx context.Context) (int, error) {
	var (
		mu     sync.Mutex
		errs   []error
		warmed int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(warmConcurrency)
	for _, q := range w.queries {
		if w.source.IsUserScoped(q) {
			continue
		}
		g.Go(func() error {
			wctx, cancel := context.WithTimeout(gctx, warmTimeout)
			defer cancel()
			key := sourcecache.Key(q, "", false)
			err := w.cache.Warm(wctx, key, w.cache.TTLFor(q), func(ctx context.Context) (*types.Page, error) {
				return w.source.FetchPage(ctx, q, "", "")
			})

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("warm %s: %w", q.Key, err))
				return nil
			}
			warmed++
			return nil
		})
	}
	_ = g.Wait()
	return warmed, errors.Join(errs...)
}
