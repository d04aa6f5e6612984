package logging

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	streamBufferSize = 100
	streamHistoryCap = 500
	streamMaxClients = 100
)

// ErrStreamFull rejects new clients once the connection cap is reached.
var ErrStreamFull = errors.New("log stream connection limit reached")

// StreamEntry is one log line as sent over the admin WebSocket.
type StreamEntry struct {
	ID        uint64                 `json:"id"`
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// LogStream fans log entries out to connected admin clients. Writes to a
// client happen only under the clients mutex, so broadcast and history
// replay never interleave on one connection. Dead clients are dropped on
// the first failed write; a full broadcast buffer drops entries instead of
// stalling the logger.
type LogStream struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}

	broadcast chan StreamEntry
	stopCh    chan struct{}
	stopOnce  sync.Once

	histMu  sync.RWMutex
	history []StreamEntry
	seq     uint64
}

var (
	globalStream *LogStream
	streamOnce   sync.Once
)

// Stream returns the process-wide log stream, starting it on first use.
func Stream() *LogStream {
	streamOnce.Do(func() {
		globalStream = NewLogStream()
		go globalStream.run()
	})
	return globalStream
}

func NewLogStream() *LogStream {
	return &LogStream{
		clients:   make(map[*websocket.Conn]struct{}),
		broadcast: make(chan StreamEntry, streamBufferSize),
		stopCh:    make(chan struct{}),
		history:   make([]StreamEntry, 0, streamHistoryCap),
	}
}

func (s *LogStream) run() {
	for {
		select {
		case entry := <-s.broadcast:
			s.mu.Lock()
			for conn := range s.clients {
				if err := conn.WriteJSON(entry); err != nil {
					delete(s.clients, conn)
					_ = conn.Close()
				}
			}
			s.mu.Unlock()
		case <-s.stopCh:
			return
		}
	}
}

// Stop disconnects all clients and ends the broadcast loop.
func (s *LogStream) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })

	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.clients {
		_ = conn.Close()
	}
	s.clients = make(map[*websocket.Conn]struct{})
}

// Attach registers a client and replays buffered history to it before any
// live entry is delivered.
func (s *LogStream) Attach(conn *websocket.Conn) error {
	s.histMu.RLock()
	replay := make([]StreamEntry, len(s.history))
	copy(replay, s.history)
	s.histMu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.clients) >= streamMaxClients {
		return ErrStreamFull
	}
	for _, entry := range replay {
		if err := conn.WriteJSON(entry); err != nil {
			return err
		}
	}
	s.clients[conn] = struct{}{}
	return nil
}

// Detach removes and closes a client connection.
func (s *LogStream) Detach(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[conn]; ok {
		delete(s.clients, conn)
		_ = conn.Close()
	}
}

// ClientCount returns the number of attached clients.
func (s *LogStream) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Publish buffers an entry for history replay and broadcast.
func (s *LogStream) Publish(level, message string, fields map[string]interface{}) {
	s.histMu.Lock()
	s.seq++
	entry := StreamEntry{
		ID:        s.seq,
		Timestamp: time.Now().Format(time.RFC3339),
		Level:     level,
		Message:   message,
		Fields:    fields,
	}
	s.history = append(s.history, entry)
	if len(s.history) > streamHistoryCap {
		excess := len(s.history) - streamHistoryCap
		s.history = append([]StreamEntry(nil), s.history[excess:]...)
	}
	s.histMu.Unlock()

	select {
	case s.broadcast <- entry:
	default:
	}
}

// History returns a copy of the buffered entries.
func (s *LogStream) History() []StreamEntry {
	s.histMu.RLock()
	defer s.histMu.RUnlock()
	out := make([]StreamEntry, len(s.history))
	copy(out, s.history)
	return out
}

// StreamHook bridges logrus entries into a LogStream.
type StreamHook struct {
	stream *LogStream
}

func (h *StreamHook) Levels() []log.Level { return log.AllLevels }

func (h *StreamHook) Fire(entry *log.Entry) error {
	fields := make(map[string]interface{}, len(entry.Data))
	for k, v := range entry.Data {
		fields[k] = v
	}
	h.stream.Publish(entry.Level.String(), entry.Message, fields)
	return nil
}

// InstallStreamHook mirrors all logrus output into the global stream.
func InstallStreamHook() {
	log.AddHook(&StreamHook{stream: Stream()})
}
