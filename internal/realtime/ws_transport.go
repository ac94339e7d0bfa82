package realtime

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WSTransport dials websocket connections carrying the bearer token in the
// handshake headers.
type WSTransport struct {
	Dialer *websocket.Dialer
}

func NewWSTransport() *WSTransport {
	return &WSTransport{Dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second}}
}

func (t *WSTransport) Dial(ctx context.Context, rawURL, token string) (Conn, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, _, err := t.Dialer.DialContext(ctx, rawURL, header)
	if err != nil {
		return nil, err
	}
	return &wsConn{conn: conn}, nil
}

// wsConn serializes writes; gorilla connections allow only one concurrent
// writer.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *wsConn) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}
