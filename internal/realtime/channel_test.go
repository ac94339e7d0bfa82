package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeConn is a scriptable connection: the test feeds inbound frames and
// inspects written ones.
type fakeConn struct {
	inbound chan []byte

	mu     sync.Mutex
	writes [][]byte
	closed bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbound: make(chan []byte, 16)}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	data, ok := <-c.inbound
	if !ok {
		return nil, errors.New("connection closed")
	}
	return data, nil
}

func (c *fakeConn) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("write on closed conn")
	}
	c.writes = append(c.writes, data)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.inbound)
	}
	return nil
}

func (c *fakeConn) push(topic string, payload any) {
	data, _ := json.Marshal(payload)
	frame, _ := json.Marshal(envelope{Topic: topic, Data: data})
	c.inbound <- frame
}

func (c *fakeConn) controlFrames() []controlFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []controlFrame
	for _, w := range c.writes {
		var f controlFrame
		if json.Unmarshal(w, &f) == nil && f.Action != "" {
			out = append(out, f)
		}
	}
	return out
}

// fakeTransport hands out conns in order and counts dials. A non-nil gate
// stalls each dial until the test releases it.
type fakeTransport struct {
	gate chan struct{}

	mu    sync.Mutex
	conns []*fakeConn
	dials int
}

func (t *fakeTransport) Dial(ctx context.Context, rawURL, token string) (Conn, error) {
	if t.gate != nil {
		<-t.gate
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dials >= len(t.conns) {
		return nil, errors.New("no more conns scripted")
	}
	conn := t.conns[t.dials]
	t.dials++
	return conn, nil
}

func (t *fakeTransport) dialCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dials
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never met")
}

func TestSubscribeReplacesHandler(t *testing.T) {
	conn := newFakeConn()
	tr := &fakeTransport{conns: []*fakeConn{conn}}
	ch := NewChannel(tr, "ws://test", nil)
	if err := ch.Connect(context.Background(), "tok"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer ch.Disconnect()

	var mu sync.Mutex
	var seen []string
	ch.Subscribe("ride_42_update", func(topic string, data []byte) {
		mu.Lock()
		seen = append(seen, "first")
		mu.Unlock()
	})
	ch.Subscribe("ride_42_update", func(topic string, data []byte) {
		mu.Lock()
		seen = append(seen, "second")
		mu.Unlock()
	})

	conn.push("ride_42_update", map[string]string{"status": "accepted"})
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1
	})
	mu.Lock()
	defer mu.Unlock()
	if seen[0] != "second" {
		t.Fatalf("latest registration must win, got %v", seen)
	}
}

func TestPublishDroppedWhenDisconnected(t *testing.T) {
	tr := &fakeTransport{}
	ch := NewChannel(tr, "ws://test", nil)
	// must not panic or dial
	ch.Publish("ride_1_update", map[string]string{"x": "y"})
	if tr.dialCount() != 0 {
		t.Fatal("publish must not dial")
	}
}

func TestDispatchInArrivalOrder(t *testing.T) {
	conn := newFakeConn()
	tr := &fakeTransport{conns: []*fakeConn{conn}}
	ch := NewChannel(tr, "ws://test", nil)
	if err := ch.Connect(context.Background(), "tok"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer ch.Disconnect()

	var mu sync.Mutex
	var order []string
	ch.Subscribe("t", func(topic string, data []byte) {
		var v struct {
			N string `json:"n"`
		}
		_ = json.Unmarshal(data, &v)
		mu.Lock()
		order = append(order, v.N)
		mu.Unlock()
	})

	conn.push("t", map[string]string{"n": "1"})
	conn.push("t", map[string]string{"n": "2"})
	conn.push("t", map[string]string{"n": "3"})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 3
	})
	mu.Lock()
	defer mu.Unlock()
	if order[0] != "1" || order[1] != "2" || order[2] != "3" {
		t.Fatalf("expected arrival order, got %v", order)
	}
}

func TestDisconnectDropsSubscriptionsAndIsIdempotent(t *testing.T) {
	conn := newFakeConn()
	tr := &fakeTransport{conns: []*fakeConn{conn}}
	ch := NewChannel(tr, "ws://test", nil)
	if err := ch.Connect(context.Background(), "tok"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	ch.Subscribe("t", func(string, []byte) {})

	ch.Disconnect()
	ch.Disconnect()

	if got := ch.State(); got != Disconnected {
		t.Fatalf("expected disconnected, got %v", got)
	}
	ch.mu.Lock()
	n := len(ch.handlers)
	ch.mu.Unlock()
	if n != 0 {
		t.Fatalf("handlers must be dropped, %d left", n)
	}
}

func TestReconnectReplaysSubscriptions(t *testing.T) {
	first := newFakeConn()
	second := newFakeConn()
	tr := &fakeTransport{conns: []*fakeConn{first, second}}
	ch := NewChannel(tr, "ws://test", nil)
	ch.SetReconnectPolicy(5*time.Millisecond, 20*time.Millisecond)
	if err := ch.Connect(context.Background(), "tok"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer ch.Disconnect()

	got := make(chan []byte, 1)
	ch.Subscribe("ride_9_update", func(topic string, data []byte) { got <- data })

	// transport loss: handlers stay registered and the subscribe frame is
	// replayed on the next connection
	first.Close()
	waitFor(t, func() bool { return tr.dialCount() == 2 })
	waitFor(t, func() bool {
		for _, f := range second.controlFrames() {
			if f.Action == "subscribe" && f.Topic == "ride_9_update" {
				return true
			}
		}
		return false
	})

	second.push("ride_9_update", map[string]string{"status": "accepted"})
	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not survive reconnect")
	}
}

func TestConnectSupersededMidDialReportsError(t *testing.T) {
	conn := newFakeConn()
	tr := &fakeTransport{conns: []*fakeConn{conn}, gate: make(chan struct{})}
	ch := NewChannel(tr, "ws://test", nil)

	errs := make(chan error, 1)
	go func() { errs <- ch.Connect(context.Background(), "tok") }()
	waitFor(t, func() bool { return ch.State() == Connecting })

	// tear the session down while the dial is still in flight, then let
	// the dial finish
	ch.Disconnect()
	close(tr.gate)

	select {
	case err := <-errs:
		if !errors.Is(err, ErrSuperseded) {
			t.Fatalf("expected ErrSuperseded, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("superseded connect never returned")
	}

	conn.mu.Lock()
	closed := conn.closed
	conn.mu.Unlock()
	if !closed {
		t.Fatal("the superseded dial's connection must be closed")
	}
	if ch.State() != Disconnected {
		t.Fatalf("expected disconnected, got %v", ch.State())
	}
}

func TestConnectReplacesPriorConnection(t *testing.T) {
	first := newFakeConn()
	second := newFakeConn()
	tr := &fakeTransport{conns: []*fakeConn{first, second}}
	ch := NewChannel(tr, "ws://test", nil)
	if err := ch.Connect(context.Background(), "tok1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := ch.Connect(context.Background(), "tok2"); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	defer ch.Disconnect()

	first.mu.Lock()
	closed := first.closed
	first.mu.Unlock()
	if !closed {
		t.Fatal("prior connection must be closed")
	}
	if ch.State() != Connected {
		t.Fatal("expected connected on replacement")
	}
}
