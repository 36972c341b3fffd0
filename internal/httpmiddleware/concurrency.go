package httpmiddleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/semaphore"
)

// ConcurrencyLimit caps the number of requests being served at once so a
// burst cannot exhaust the database pool.
func ConcurrencyLimit(max int64) gin.HandlerFunc {
	if max <= 0 {
		max = 256
	}
	sem := semaphore.NewWeighted(max)
	return func(c *gin.Context) {
		if err := sem.Acquire(c.Request.Context(), 1); err != nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{
				"success": false, "error": "busy", "message": "server busy",
			})
			return
		}
		defer sem.Release(1)
		c.Next()
	}
}
