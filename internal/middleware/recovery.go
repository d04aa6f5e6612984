package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	apperrors "pollux-go/internal/errors"
)

// Recovery converts panics into 500 responses instead of dropped
// connections.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.WithFields(log.Fields{
					"error":     err,
					"stack":     string(debug.Stack()),
					"path":      c.Request.URL.Path,
					"method":    c.Request.Method,
					"client_ip": c.ClientIP(),
				}).Error("panic recovered")

				body, _ := apperrors.NewGemini(http.StatusInternalServerError, "internal server error").ToJSON()
				c.Data(http.StatusInternalServerError, "application/json", body)
				c.Abort()
			}
		}()
		c.Next()
	}
}
