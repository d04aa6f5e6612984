// Package gemini serves the proxied Gemini API surface: unary and
// streaming generateContent, countTokens and the synthesized model list.
package gemini

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"pollux-go/internal/credential"
	apperrors "pollux-go/internal/errors"
	"pollux-go/internal/logging"
	"pollux-go/internal/middleware"
	"pollux-go/internal/upstream/gemini"
)

// CredentialService is the slice of the coordinator handlers need:
// acquisition plus the two upstream-verdict reports.
type CredentialService interface {
	GetCredential(ctx context.Context, model string) (*credential.Assigned, error)
	ReportRateLimit(id int64, model string, cooldown time.Duration)
	ReportInvalid(id int64)
}

// Upstream is the data-plane client surface.
type Upstream interface {
	Generate(ctx context.Context, token string, envelope []byte) (*gemini.Result, error)
	CountTokens(ctx context.Context, token string, envelope []byte) (*gemini.Result, error)
	Stream(ctx context.Context, token string, envelope []byte) (*http.Response, error)
}

// Handler proxies Gemini calls over the credential pool.
type Handler struct {
	pool   CredentialService
	client Upstream
	models []string
}

func NewHandler(pool CredentialService, client Upstream, models []string) *Handler {
	return &Handler{pool: pool, client: client, models: models}
}

// ModelAction routes /v1beta/models/:modelAction. gin captures
// "gemini-2.5-pro:generateContent" as one segment; the split happens on
// the last colon.
func (h *Handler) ModelAction(c *gin.Context) {
	segment := c.Param("modelAction")
	idx := strings.LastIndex(segment, ":")
	if idx <= 0 || idx == len(segment)-1 {
		writeGeminiError(c, http.StatusNotFound, "unknown model action")
		return
	}
	model, action := segment[:idx], segment[idx+1:]

	// The model list is a closed set; unknown names fail before touching
	// the pool.
	if !h.knownModel(model) {
		writeGeminiError(c, http.StatusNotFound, "unknown model: "+model)
		return
	}

	switch action {
	case "generateContent":
		h.generate(c, model)
	case "streamGenerateContent":
		h.stream(c, model)
	case "countTokens":
		h.countTokens(c, model)
	default:
		writeGeminiError(c, http.StatusNotFound, "unknown model action")
	}
}

func (h *Handler) knownModel(model string) bool {
	for _, m := range h.models {
		if m == model {
			return true
		}
	}
	return false
}

// acquire pulls one assignment from the pool or terminates the request
// with the E1 envelope.
func (h *Handler) acquire(c *gin.Context, model string) (*credential.Assigned, bool) {
	assigned, err := h.pool.GetCredential(c.Request.Context(), model)
	if err != nil {
		logging.WithReq(c, log.Fields{"model": model}).WithError(err).Error("credential acquisition failed")
		writeGeminiError(c, http.StatusInternalServerError, "credential coordinator unavailable")
		return nil, false
	}
	if assigned == nil {
		body, _ := apperrors.New(http.StatusServiceUnavailable, "NO_CREDENTIAL", "no available credential").ToJSON()
		c.Data(http.StatusServiceUnavailable, "application/json", body)
		return nil, false
	}
	return assigned, true
}

// readBody drains the (already capped) request body, surfacing the 413
// envelope when MaxBytesReader trips.
func (h *Handler) readBody(c *gin.Context) ([]byte, bool) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			middleware.RejectTooLarge(c)
			return nil, false
		}
		writeGeminiError(c, http.StatusBadRequest, "failed to read request body")
		return nil, false
	}
	return body, true
}

// classify applies the verdict table to a buffered upstream response and
// reports at most once. 2xx and passthrough statuses go to the client
// verbatim.
func (h *Handler) classify(c *gin.Context, assigned *credential.Assigned, res *gemini.Result) {
	switch {
	case res.Status >= 200 && res.Status < 300:
		// no report
	case res.Status == http.StatusTooManyRequests:
		cooldown := cooldownFromBody(res.Body, time.Now())
		h.pool.ReportRateLimit(assigned.ID, assigned.Model, cooldown)
		logging.WithCredential(assigned.ID, assigned.ProjectID).
			WithFields(log.Fields{"model": assigned.Model, "cooldown": cooldown.String()}).
			Info("credential rate limited")
	case res.Status == http.StatusUnauthorized || res.Status == http.StatusForbidden:
		h.pool.ReportInvalid(assigned.ID)
		logging.WithCredential(assigned.ID, assigned.ProjectID).
			WithField("status", res.Status).Warn("credential rejected upstream")
	case res.Status >= 500:
		writeGeminiError(c, http.StatusBadGateway, "upstream server error")
		return
	}

	contentType := res.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	c.Data(res.Status, contentType, res.Body)
}

func writeGeminiError(c *gin.Context, status int, message string) {
	body, _ := apperrors.NewGemini(status, message).ToJSON()
	c.Data(status, "application/json", body)
	c.Abort()
}
