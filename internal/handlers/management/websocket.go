package management

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"pollux-go/internal/events"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The admin surface is key-gated; cross-origin dashboards are fine.
	CheckOrigin: func(r *http.Request) bool { return true },
}

const wsWriteTimeout = 10 * time.Second

// Events handles GET /admin/api/events: credential lifecycle events as
// JSON frames until the client goes away.
func (h *Handler) Events(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	frames := make(chan events.Event, 64)
	unsubscribe := h.hub.Subscribe(events.TopicAll, func(_ context.Context, evt events.Event) {
		select {
		case frames <- evt:
		default:
			// Slow consumer; drop rather than stall the hub.
		}
	})
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case evt := <-frames:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		}
	}
}

// Logs handles GET /admin/api/logs: attaches the connection to the log
// broadcaster, which replays recent history first.
func (h *Handler) Logs(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	if err := h.stream.Attach(conn); err != nil {
		log.WithError(err).Warn("log stream attach rejected")
		_ = conn.Close()
		return
	}

	// Reads only detect disconnect; clients never send anything useful.
	go func() {
		defer h.stream.Detach(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
