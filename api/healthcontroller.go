package api

import (
	"net/http"

	"scrollfeed/metrics"

	"github.com/gin-gonic/gin"
)

// RegisterHealthRoutes registers liveness and metrics endpoints.
func RegisterHealthRoutes(r *gin.Engine, m *metrics.Collector) {
	r.GET("/api/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})
	if m != nil {
		r.GET("/metrics", gin.WrapH(m.Handler()))
	}
}
