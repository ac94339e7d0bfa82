package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/example/ride-sync/internal/logging"
	"github.com/example/ride-sync/internal/observability"
)

// State of the channel connection.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// ErrSuperseded reports that a Connect was overtaken by a newer Connect or
// a Disconnect before its dial finished. The channel is not carrying the
// superseded caller's session.
var ErrSuperseded = errors.New("realtime connect superseded")

// Handler receives inbound messages for one topic, in arrival order.
type Handler = func(topic string, data []byte)

// Conn is one established transport connection.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Transport dials authenticated connections. The transport keeps no topic
// state; the channel replays subscriptions after every (re)connect.
type Transport interface {
	Dial(ctx context.Context, rawURL, token string) (Conn, error)
}

// envelope frames every message on the wire.
type envelope struct {
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data"`
}

// controlFrame is the client-to-server subscribe/unsubscribe message.
type controlFrame struct {
	Action string `json:"action"`
	Topic  string `json:"topic"`
}

// Channel owns at most one authenticated persistent connection and a
// topic-to-handler map with deterministic replace semantics. It is the
// explicitly owned session object injected into the lifecycle controller;
// its lifetime follows the authentication lifetime, not process start.
type Channel struct {
	transport     Transport
	url           string
	logger        *slog.Logger
	reconnectBase time.Duration
	reconnectMax  time.Duration

	mu       sync.Mutex
	state    State
	conn     Conn
	token    string
	gen      uint64 // bumped on every deliberate connect/disconnect
	handlers map[string]Handler
}

func NewChannel(transport Transport, rawURL string, logger *slog.Logger) *Channel {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Channel{
		transport:     transport,
		url:           rawURL,
		logger:        logger,
		reconnectBase: time.Second,
		reconnectMax:  30 * time.Second,
		handlers:      make(map[string]Handler),
	}
}

// SetReconnectPolicy overrides the default 1s..30s doubling backoff.
func (c *Channel) SetReconnectPolicy(base, max time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if base > 0 {
		c.reconnectBase = base
	}
	if max >= base {
		c.reconnectMax = max
	}
}

// Connect establishes the connection authenticated with token. Calling
// Connect while already connected replaces the prior connection; handlers
// registered so far are re-subscribed on the new connection. A Connect
// overtaken mid-dial by a newer Connect or a Disconnect fails with
// ErrSuperseded.
func (c *Channel) Connect(ctx context.Context, token string) error {
	c.mu.Lock()
	c.gen++
	gen := c.gen
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.state = Connecting
	c.token = token
	c.mu.Unlock()

	conn, err := c.transport.Dial(ctx, c.url, token)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		if err == nil {
			_ = conn.Close()
		}
		return ErrSuperseded
	}
	if err != nil {
		c.state = Disconnected
		return fmt.Errorf("connect realtime channel: %w", err)
	}
	c.conn = conn
	c.state = Connected
	c.replaySubscriptionsLocked(conn)
	go c.readLoop(gen, conn)
	return nil
}

// Disconnect tears the connection down and drops all topic subscriptions.
// Idempotent.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.handlers = make(map[string]Handler)
	c.token = ""
	c.state = Disconnected
}

// Subscribe registers handler for topic. A duplicate subscription replaces
// the previous handler; re-subscribing to the same topic is idempotent on
// the wire.
func (c *Channel) Subscribe(topic string, handler Handler) {
	c.mu.Lock()
	c.handlers[topic] = handler
	conn := c.conn
	connected := c.state == Connected
	c.mu.Unlock()

	if connected {
		c.sendControl(conn, "subscribe", topic)
	}
}

// Unsubscribe removes the handler for topic; no-op if absent.
func (c *Channel) Unsubscribe(topic string) {
	c.mu.Lock()
	_, existed := c.handlers[topic]
	delete(c.handlers, topic)
	conn := c.conn
	connected := c.state == Connected
	c.mu.Unlock()

	if existed && connected {
		c.sendControl(conn, "unsubscribe", topic)
	}
}

// Publish sends payload on topic, best effort. Dropped silently when not
// connected; callers must not assume delivery.
func (c *Channel) Publish(topic string, payload any) {
	c.mu.Lock()
	conn := c.conn
	connected := c.state == Connected
	c.mu.Unlock()
	if !connected || conn == nil {
		observability.RealtimeDroppedPublishes.Inc()
		c.logger.Debug("publish dropped, not connected", "topic", topic)
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		c.logger.Warn("publish payload marshal failed", "topic", topic, "error", err)
		return
	}
	frame, _ := json.Marshal(envelope{Topic: topic, Data: data})
	if err := conn.WriteMessage(frame); err != nil {
		c.logger.Warn("publish write failed", "topic", topic, "error", err)
	}
}

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Channel) replaySubscriptionsLocked(conn Conn) {
	for topic := range c.handlers {
		frame, _ := json.Marshal(controlFrame{Action: "subscribe", Topic: topic})
		if err := conn.WriteMessage(frame); err != nil {
			c.logger.Warn("subscribe replay failed", "topic", topic, "error", err)
		}
	}
}

func (c *Channel) sendControl(conn Conn, action, topic string) {
	if conn == nil {
		return
	}
	frame, _ := json.Marshal(controlFrame{Action: action, Topic: topic})
	if err := conn.WriteMessage(frame); err != nil {
		c.logger.Warn("control frame failed", "action", action, "topic", topic, "error", err)
	}
}

// readLoop pumps inbound messages until the connection dies or is
// deliberately replaced. One goroutine per connection keeps per-topic
// dispatch in arrival order.
func (c *Channel) readLoop(gen uint64, conn Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			c.connectionLost(gen, err)
			return
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Warn("dropping malformed frame", "error", err)
			continue
		}
		c.mu.Lock()
		handler := c.handlers[env.Topic]
		c.mu.Unlock()
		if handler == nil {
			c.logger.Debug("no handler for topic", "topic", env.Topic)
			continue
		}
		observability.RealtimeMessagesTotal.WithLabelValues(topicKind(env.Topic)).Inc()
		handler(env.Topic, env.Data)
	}
}

// topicKind folds per-entity topics into a bounded metric label.
func topicKind(topic string) string {
	switch {
	case strings.HasSuffix(topic, "_update"):
		return "ride_update"
	case strings.HasSuffix(topic, "_location"):
		return "driver_location"
	default:
		return "other"
	}
}

func (c *Channel) connectionLost(gen uint64, cause error) {
	c.mu.Lock()
	if gen != c.gen {
		// this loop's connection was already replaced or torn down
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.state = Disconnected
	token := c.token
	c.mu.Unlock()

	if !errors.Is(cause, context.Canceled) {
		c.logger.Warn("realtime connection lost", "error", cause)
	}
	go c.reconnect(gen, token)
}

// reconnect retries the dial with doubling backoff. Handlers stay
// registered through the outage and are replayed once the transport comes
// back. A deliberate Connect or Disconnect cancels the loop via gen.
func (c *Channel) reconnect(gen uint64, token string) {
	backoff := c.reconnectBase
	for {
		time.Sleep(backoff)

		c.mu.Lock()
		if gen != c.gen {
			c.mu.Unlock()
			return
		}
		c.state = Connecting
		c.mu.Unlock()

		observability.RealtimeReconnectsTotal.Inc()
		conn, err := c.transport.Dial(context.Background(), c.url, token)

		c.mu.Lock()
		if gen != c.gen {
			c.mu.Unlock()
			if err == nil {
				_ = conn.Close()
			}
			return
		}
		if err == nil {
			c.conn = conn
			c.state = Connected
			c.replaySubscriptionsLocked(conn)
			c.mu.Unlock()
			c.logger.Info("realtime channel reconnected")
			go c.readLoop(gen, conn)
			return
		}
		c.state = Disconnected
		c.mu.Unlock()

		c.logger.Warn("reconnect failed", "error", err, "backoff", backoff)
		backoff *= 2
		if backoff > c.reconnectMax {
			backoff = c.reconnectMax
		}
	}
}
