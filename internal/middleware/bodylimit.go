package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"pollux-go/internal/constants"
	apperrors "pollux-go/internal/errors"
)

// BodyLimit caps proxied request bodies. A declared Content-Length over
// the cap rejects immediately; chunked bodies hit the MaxBytesReader
// during the handler's read and surface the same envelope via the
// request's error state.
func BodyLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > constants.MaxRequestBodyBytes {
			rejectTooLarge(c)
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, constants.MaxRequestBodyBytes)
		c.Next()
	}
}

// RejectTooLarge writes the 413 Gemini-shaped envelope. Handlers call it
// when MaxBytesReader trips mid-read.
func RejectTooLarge(c *gin.Context) {
	rejectTooLarge(c)
}

func rejectTooLarge(c *gin.Context) {
	body, _ := apperrors.NewGemini(http.StatusRequestEntityTooLarge, "request body too large").ToJSON()
	c.Data(http.StatusRequestEntityTooLarge, "application/json", body)
	c.Abort()
}
