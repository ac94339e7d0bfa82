package simulator

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/example/ride-sync/internal/logging"
)

// wire frames shared with the client channel
type envelope struct {
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data"`
}

type controlFrame struct {
	Action string `json:"action"`
	Topic  string `json:"topic"`
}

// session is one connected client and the set of topics it asked for.
type session struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	topics map[string]bool
}

func newSession(conn *websocket.Conn) *session {
	return &session{conn: conn, topics: make(map[string]bool)}
}

func (s *session) send(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, frame)
}

func (s *session) subscribe(topic string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topics[topic] = true
}

func (s *session) unsubscribe(topic string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.topics, topic)
}

func (s *session) subscribed(topic string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.topics[topic]
}

// Hub fans realtime events out to every session subscribed to a topic.
// Topic state lives only for the lifetime of a connection; clients replay
// their subscriptions after reconnecting.
type Hub struct {
	logger *slog.Logger

	mu       sync.RWMutex
	sessions map[*session]bool
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Hub{logger: logger, sessions: make(map[*session]bool)}
}

func (h *Hub) add(s *session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[s] = true
}

func (h *Hub) remove(s *session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, s)
}

// Broadcast sends payload to every session subscribed to topic.
func (h *Hub) Broadcast(topic string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Warn("broadcast marshal failed", "topic", topic, "error", err)
		return
	}
	frame, _ := json.Marshal(envelope{Topic: topic, Data: data})

	h.mu.RLock()
	targets := make([]*session, 0, len(h.sessions))
	for s := range h.sessions {
		if s.subscribed(topic) {
			targets = append(targets, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range targets {
		if err := s.send(frame); err != nil {
			h.logger.Warn("broadcast send failed", "topic", topic, "error", err)
		}
	}
}

// relay forwards a client-published envelope to every other subscribed
// session.
func (h *Hub) relay(from *session, env envelope) {
	frame, _ := json.Marshal(env)
	h.mu.RLock()
	targets := make([]*session, 0, len(h.sessions))
	for s := range h.sessions {
		if s != from && s.subscribed(env.Topic) {
			targets = append(targets, s)
		}
	}
	h.mu.RUnlock()
	for _, s := range targets {
		if err := s.send(frame); err != nil {
			h.logger.Warn("relay send failed", "topic", env.Topic, "error", err)
		}
	}
}

// serve pumps one connection: subscribe/unsubscribe control frames in,
// broadcasts out via Broadcast.
func (h *Hub) serve(conn *websocket.Conn) {
	s := newSession(conn)
	h.add(s)
	defer func() {
		h.remove(s)
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame controlFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			h.logger.Debug("ignoring malformed client frame", "error", err)
			continue
		}
		switch frame.Action {
		case "subscribe":
			s.subscribe(frame.Topic)
		case "unsubscribe":
			s.unsubscribe(frame.Topic)
		case "":
			// not a control frame: a client-published envelope, relayed
			// to whoever subscribed to its topic
			var env envelope
			if err := json.Unmarshal(data, &env); err == nil && env.Topic != "" {
				h.relay(s, env)
			}
		default:
			h.logger.Debug("unknown client action", "action", frame.Action)
		}
	}
}
