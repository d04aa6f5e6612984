package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"pollux-go/internal/monitoring"
)

// Metrics tracks per-route counters and the latency histogram.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		monitoring.HTTPInFlight.Inc()
		c.Next()
		monitoring.HTTPInFlight.Dec()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		sc := monitoring.StatusClass(c.Writer.Status())

		monitoring.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, sc).Inc()
		monitoring.HTTPRequestDuration.WithLabelValues(c.Request.Method, path, sc).Observe(time.Since(start).Seconds())
	}
}
