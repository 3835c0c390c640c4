package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"scrollfeed/api"
	"scrollfeed/assembly"
	"scrollfeed/common"
	"scrollfeed/config"
	"scrollfeed/connectors"
	"scrollfeed/logging"
	"scrollfeed/metrics"
	"scrollfeed/orchestrator"
	"scrollfeed/pool"
	"scrollfeed/rssfeeds"
	"scrollfeed/scheduler"
	"scrollfeed/shared/kafka"
	"scrollfeed/sourcecache"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	jsonAPITimeout  = 15 * time.Second
	photoPresignTTL = time.Hour
)

// jsonAPISources are served by the generic JSON connector unless a query
// names another connector.
var jsonAPISources = []string{"jsonapi", "weather", "tasks", "fitness", "dashboard"}

// components are the parts of the feed pipeline that need only the
// configuration and a registry.
type components struct {
	poolCfg  pool.Config
	assembly assembly.Config
	orch     orchestrator.Config
}

// newRegistry registers every connector. objects may be nil when no query
// reads photos.
func newRegistry(objects connectors.ObjectStore, logger *zap.Logger) *connectors.Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	registry := connectors.NewRegistry(connectors.DefaultBreakerConfig(), logger)
	registry.Register("rss", rssfeeds.NewConnector())
	jsonAPI := connectors.NewJSONAPI(jsonAPITimeout)
	for _, name := range jsonAPISources {
		registry.Register(name, jsonAPI)
	}
	registry.Register("photos", connectors.NewPhotos(objects, photoPresignTTL))
	return registry
}

func buildComponents(cfg *config.Config, registry *connectors.Registry) (*components, error) {
	poolCfg, err := cfg.Pool()
	if err != nil {
		return nil, err
	}
	if err := registry.Validate(poolCfg.Queries); err != nil {
		return nil, err
	}
	asmCfg, err := cfg.Assembly()
	if err != nil {
		return nil, err
	}
	tierSpacing, err := cfg.TierSpacing()
	if err != nil {
		return nil, err
	}
	return &components{
		poolCfg:  poolCfg,
		assembly: asmCfg,
		orch: orchestrator.Config{
			BatchSize:    cfg.Feed.BatchSize,
			MaxBatchSize: cfg.Feed.MaxBatchSize,
			RecentSize:   cfg.Feed.RecentSize,
			Spacing:      cfg.Spacing,
			TierSpacing:  tierSpacing,
			Aliases:      cfg.Feed.Aliases,
		},
	}, nil
}

func newStore(ctx context.Context, cfg *config.Config) (sourcecache.Store, func(), error) {
	if cfg.Cache.Backend != config.CacheBackendRedis {
		return sourcecache.NewMemoryStore(cfg.Cache.MaxEntries), func() {}, nil
	}
	store, err := sourcecache.NewRedisStore(ctx, cfg.Redis())
	if err != nil {
		return nil, nil, err
	}
	return store, func() { _ = store.Close() }, nil
}

func serve(ctx context.Context, path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Server.LogLevel, cfg.Server.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.NewCollector(config.AppName)

	var objects connectors.ObjectStore
	if cfg.NeedsObjectStore() {
		s3, err := common.NewS3(ctx, cfg.ObjectStore())
		if err != nil {
			return fmt.Errorf("failed to create S3 client: %w", err)
		}
		objects = s3
	}
	registry := newRegistry(objects, logger)
	parts, err := buildComponents(cfg, registry)
	if err != nil {
		return err
	}

	store, closeStore, err := newStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()
	cache := sourcecache.New(store, cfg.SourceCache(), logger, m)

	pm := pool.NewManager(parts.poolCfg, registry, cache, logger, m)
	orch, err := orchestrator.New(parts.orch, pm, assembly.New(parts.assembly, logger), registry, logger, m)
	if err != nil {
		return err
	}

	if len(cfg.Kafka.Brokers) > 0 {
		consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
			GroupID: cfg.Kafka.GroupID,
			Handler: kafka.NewInvalidationHandler(cache, logger),
			Logger:  logger,
		})
		if err != nil {
			logger.Warn("cache invalidation consumer disabled", zap.Error(err))
		} else {
			defer func() { _ = consumer.Close() }()
			go func() {
				if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Warn("cache invalidation consumer failed to start", zap.Error(err))
				}
			}()
		}
	}

	if cfg.Cache.WarmSchedule != "" {
		warmer := scheduler.New(cache, registry, parts.poolCfg.Queries, logger)
		if err := warmer.Start(cfg.Cache.WarmSchedule); err != nil {
			return err
		}
		defer warmer.Stop()
	}

	if cfg.Server.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr: ":" + cfg.Server.Port,
		Handler: api.NewRouter(api.Deps{
			Feed:    orch,
			Cache:   cache,
			Metrics: m,
			Logger:  logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server listening",
			zap.String("addr", srv.Addr),
			zap.Int("queries", len(parts.poolCfg.Queries)),
			zap.Strings("connectors", registry.Names()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	pm.Wait()
	cache.Wait()
	return nil
}
