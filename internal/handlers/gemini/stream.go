package gemini

import (
	"bufio"
	"bytes"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"pollux-go/internal/constants"
	"pollux-go/internal/logging"
	upstream "pollux-go/internal/upstream/gemini"
)

var dataPrefix = []byte("data: ")

func (h *Handler) stream(c *gin.Context, model string) {
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

	resp, err := h.client.Stream(c.Request.Context(), assigned.AccessToken, envelope)
	if err != nil {
		h.transportFailure(c, assigned, err)
		return
	}
	defer resp.Body.Close()

	// Non-2xx streams are buffered and classified exactly like unary
	// calls; the verdict table does not care about the wire mode.
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		h.classify(c, assigned, &upstream.Result{
			Status: resp.StatusCode,
			Header: resp.Header,
			Body:   errBody,
		})
		return
	}

	c.Status(http.StatusOK)
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	events := h.pump(c, resp.Body)
	logging.WithCredential(assigned.ID, assigned.ProjectID).
		WithFields(map[string]interface{}{"model": model, "events": events}).
		Debug("stream finished")
}

// pump copies SSE events to the client, unwrapping the CLI response
// envelope inside each data line and flushing per event.
func (h *Handler) pump(c *gin.Context, body io.Reader) int {
	writer := c.Writer
	flusher, _ := writer.(interface{ Flush() })

	scanner := bufio.NewScanner(body)
	buf := make([]byte, 0, constants.SSEScannerInitialBufferSize)
	scanner.Buffer(buf, constants.SSEScannerMaxBufferSize)

	events := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 || !bytes.HasPrefix(line, dataPrefix) {
			continue
		}
		data := bytes.TrimSpace(line[len(dataPrefix):])
		if bytes.EqualFold(data, []byte("[DONE]")) {
			_, _ = writer.Write([]byte("data: [DONE]\n\n"))
			if flusher != nil {
				flusher.Flush()
			}
			events++
			break
		}

		_, _ = writer.Write(dataPrefix)
		_, _ = writer.Write(upstream.UnwrapResponse(data))
		_, _ = writer.Write([]byte("\n\n"))
		if flusher != nil {
			flusher.Flush()
		}
		events++
	}
	return events
}
