package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterCacheRoutes registers source cache maintenance endpoints.
func RegisterCacheRoutes(r *gin.Engine, cache Invalidator) {
	g := r.Group("/api/cache")
	g.DELETE("/:source", handleInvalidate(cache))
}

// handleInvalidate drops cached first pages of a source, optionally only
// those of one user.
// DELETE /api/cache/:source?user=
func handleInvalidate(cache Invalidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cache == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "source cache disabled"})
			return
		}
		source := c.Param("source")
		n, err := cache.InvalidateSource(c.Request.Context(), source, c.Query("user"))
		if err != nil {
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to clear cache: " + err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":  "cleared",
			"source":  source,
			"entries": n,
		})
	}
}
