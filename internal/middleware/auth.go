package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	apperrors "pollux-go/internal/errors"
)

// Auth gates the proxy surface on the configured nexus key. The key may
// arrive as x-goog-api-key, a bearer token or a ?key= query parameter;
// comparison is constant-time.
func Auth(nexusKey string) gin.HandlerFunc {
	expected := []byte(nexusKey)
	return func(c *gin.Context) {
		if keyMatches(c, expected) {
			c.Next()
			return
		}
		body, _ := apperrors.New(http.StatusUnauthorized, "UNAUTHORIZED", "invalid or missing key").ToJSON()
		c.Data(http.StatusUnauthorized, "application/json", body)
		c.Abort()
	}
}

func keyMatches(c *gin.Context, expected []byte) bool {
	for _, candidate := range presentedKeys(c) {
		if subtle.ConstantTimeCompare([]byte(candidate), expected) == 1 {
			return true
		}
	}
	return false
}

func presentedKeys(c *gin.Context) []string {
	var keys []string
	if v := c.GetHeader("x-goog-api-key"); v != "" {
		keys = append(keys, v)
	}
	if auth := c.GetHeader("Authorization"); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			keys = append(keys, strings.TrimSpace(parts[1]))
		}
	}
	if v := c.Query("key"); v != "" {
		keys = append(keys, v)
	}
	return keys
}
