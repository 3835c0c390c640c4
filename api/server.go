package api

import (
	"context"

	"scrollfeed/metrics"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Invalidator drops cached first pages. *sourcecache.Cache implements it.
type Invalidator interface {
	InvalidateSource(ctx context.Context, source, user string) (int, error)
}

// Deps are the services the routes call into.
type Deps struct {
	Feed    Scroller
	Cache   Invalidator
	Metrics *metrics.Collector
	Logger  *zap.Logger
}

// NewRouter constructs a Gin engine with registered routes.
func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestID())
	r.Use(observe(d.Metrics, d.Logger))

	RegisterScrollRoutes(r, d.Feed)
	RegisterCacheRoutes(r, d.Cache)
	RegisterHealthRoutes(r, d.Metrics)
	return r
}
