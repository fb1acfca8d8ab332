package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// Frame is a decoded gateway frame.
type Frame struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Gateway is an in-process websocket game gateway for integration testing.
// It accepts one bot connection at a time.
type Gateway struct {
	t        *testing.T
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conn     *websocket.Conn
	received chan Frame
	ready    chan struct{}
	once     sync.Once
}

// NewGateway starts a gateway on an ephemeral port and closes it on test cleanup.
//
// Postcondition: Returns a listening Gateway; URL() is a ws:// address.
func NewGateway(t *testing.T) *Gateway {
	t.Helper()
	g := &Gateway{
		t:        t,
		received: make(chan Frame, 64),
		ready:    make(chan struct{}),
	}
	g.srv = httptest.NewServer(http.HandlerFunc(g.serve))
	t.Cleanup(g.Close)
	return g
}

// URL returns the websocket URL of the gateway.
func (g *Gateway) URL() string {
	return "ws" + strings.TrimPrefix(g.srv.URL, "http")
}

func (g *Gateway) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.t.Logf("gateway upgrade: %v", err)
		return
	}
	g.mu.Lock()
	g.conn = conn
	g.mu.Unlock()
	g.once.Do(func() { close(g.ready) })

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var f Frame
		if err := json.Unmarshal(raw, &f); err != nil {
			g.t.Logf("gateway: undecodable frame %q", raw)
			continue
		}
		g.received <- f
	}
}

// WaitConnected blocks until the bot connects or fails the test after timeout.
func (g *Gateway) WaitConnected(timeout time.Duration) {
	g.t.Helper()
	select {
	case <-g.ready:
	case <-time.After(timeout):
		g.t.Fatalf("bot did not connect within %s", timeout)
	}
}

// Send writes a frame to the connected bot.
//
// Precondition: WaitConnected must have returned.
func (g *Gateway) Send(typ string, payload map[string]any) {
	g.t.Helper()
	g.SendRaw(mustJSON(g.t, Frame{Type: typ, Payload: payload}))
}

// SendRaw writes raw bytes as one text frame.
func (g *Gateway) SendRaw(b []byte) {
	g.t.Helper()
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.conn == nil {
		g.t.Fatal("gateway: no bot connected")
	}
	_ = g.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := g.conn.WriteMessage(websocket.TextMessage, b); err != nil {
		g.t.Fatalf("gateway send: %v", err)
	}
}

// Expect returns the next frame of the given type, skipping others, or fails
// the test after timeout.
func (g *Gateway) Expect(typ string, timeout time.Duration) Frame {
	g.t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case f := <-g.received:
			if f.Type == typ {
				return f
			}
		case <-deadline:
			g.t.Fatalf("no %q frame within %s", typ, timeout)
			return Frame{}
		}
	}
}

// Drop closes the bot connection from the gateway side.
func (g *Gateway) Drop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.conn != nil {
		_ = g.conn.Close()
	}
}

// Close shuts the gateway down.
func (g *Gateway) Close() {
	g.Drop()
	g.srv.Close()
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("encoding frame: %v", err)
	}
	return b
}
