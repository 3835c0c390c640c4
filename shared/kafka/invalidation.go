package kafka

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// InvalidationEvent asks every instance to drop cached first pages. Key
// targets one cache entry; otherwise all entries of Source are dropped,
// limited to User when set.
type InvalidationEvent struct {
	Source string `json:"source"`
	User   string `json:"user,omitempty"`
	Key    string `json:"key,omitempty"`
}

// Invalidator is the cache surface the handler drives.
// *sourcecache.Cache implements it.
type Invalidator interface {
	Invalidate(ctx context.Context, key string) error
	InvalidateSource(ctx context.Context, source, user string) (int, error)
}

// NewInvalidationHandler builds the handler for cache invalidation events.
// Malformed events are marked so they are not redelivered.
func NewInvalidationHandler(cache Invalidator, logger *zap.Logger) *TypedMessageHandler[InvalidationEvent] {
	return &TypedMessageHandler[InvalidationEvent]{
		Validate: func(ev *InvalidationEvent) bool {
			return ev.Source != "" || ev.Key != ""
		},
		Process: func(ctx context.Context, ev *InvalidationEvent) error {
			if ev.Key != "" {
				if err := cache.Invalidate(ctx, ev.Key); err != nil {
					return fmt.Errorf("invalidate %s: %w", ev.Key, err)
				}
				logger.Info("cache entry invalidated", zap.String("key", ev.Key))
				return nil
			}
			n, err := cache.InvalidateSource(ctx, ev.Source, ev.User)
			if err != nil {
				return fmt.Errorf("invalidate source %s: %w", ev.Source, err)
			}
			logger.Info("source cache invalidated",
				zap.String("source", ev.Source),
				zap.String("user", ev.User),
				zap.Int("entries", n),
			)
			return nil
		},
		AlwaysMark: true,
	}
}
