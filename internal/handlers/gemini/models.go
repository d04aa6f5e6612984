package gemini

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// modelEntry mirrors the Gemini models.list shape for the ids this
// deployment serves.
type modelEntry struct {
	Name                       string   `json:"name"`
	Version                    string   `json:"version"`
	DisplayName                string   `json:"displayName"`
	Description                string   `json:"description"`
	InputTokenLimit            int      `json:"inputTokenLimit"`
	OutputTokenLimit           int      `json:"outputTokenLimit"`
	SupportedGenerationMethods []string `json:"supportedGenerationMethods"`
}

// ListModels synthesizes the model listing from the configured pool
// models; no upstream call is involved.
func (h *Handler) ListModels(c *gin.Context) {
	entries := make([]modelEntry, 0, len(h.models))
	for _, id := range h.models {
		entries = append(entries, modelEntry{
			Name:             "models/" + id,
			Version:          "001",
			DisplayName:      displayName(id),
			Description:      displayName(id) + " served via credential pool",
			InputTokenLimit:  1048576,
			OutputTokenLimit: 65536,
			SupportedGenerationMethods: []string{
				"generateContent", "streamGenerateContent", "countTokens",
			},
		})
	}
	c.JSON(http.StatusOK, gin.H{"models": entries})
}

func displayName(id string) string {
	words := strings.Split(id, "-")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
