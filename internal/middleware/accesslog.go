package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"pollux-go/internal/logging"
	"pollux-go/internal/netutil"
)

// AccessLog emits one structured line per request after the handler
// chain completes.
func AccessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		ip := netutil.ClientIP(c)
		logging.WithReq(c, log.Fields{
			"status":      c.Writer.Status(),
			"duration_ms": logging.DurationMS(time.Since(start)),
			"client_ip":   netutil.String(ip),
			"client_src":  netutil.SourceClass(ip),
			"bytes_out":   c.Writer.Size(),
		}).Info("request completed")
	}
}
