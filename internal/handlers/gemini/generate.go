package gemini

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"pollux-go/internal/credential"
	"pollux-go/internal/logging"
	upstream "pollux-go/internal/upstream/gemini"
)

func (h *Handler) generate(c *gin.Context, model string) {
	h.unary(c, model, h.client.Generate)
}

func (h *Handler) countTokens(c *gin.Context, model string) {
	h.unary(c, model, h.client.CountTokens)
}

type unaryCall func(ctx context.Context, token string, envelope []byte) (*upstream.Result, error)

func (h *Handler) unary(c *gin.Context, model string, call unaryCall) {
	body, ok := h.readBody(c)
	if !ok {
		return
	}
	assigned, ok := h.acquire(c, model)
	if !ok {
		return
	}

	envelope, err := upstream.BuildEnvelope(model, assigned.ProjectID, body)
	if err != nil {
		writeGeminiError(c, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := call(c.Request.Context(), assigned.AccessToken, envelope)
	if err != nil {
		h.transportFailure(c, assigned, err)
		return
	}
	h.classify(c, assigned, res)
}

func (h *Handler) transportFailure(c *gin.Context, assigned *credential.Assigned, err error) {
	logging.WithCredential(assigned.ID, assigned.ProjectID).
		WithField("model", assigned.Model).WithError(err).
		Warn("upstream call failed")
	writeGeminiError(c, http.StatusBadGateway, "upstream unavailable")
}
