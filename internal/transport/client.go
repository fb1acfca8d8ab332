// Package transport connects the bot to the game gateway over a websocket.
//
// Inbound {type, payload} frames are validated and fed to the event
// dispatcher in arrival order. Outbound commands (chat, movement, attacks,
// remote tasks) are written as frames of the same shape.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/cory-johannsen/dragonbot/internal/clock"
	"github.com/cory-johannsen/dragonbot/internal/event"
	"github.com/cory-johannsen/dragonbot/internal/learning"
	"github.com/cory-johannsen/dragonbot/internal/world"
)

// Outbound frame types.
const (
	TypeHello    = "hello"
	TypeChat     = "send_chat"
	TypeMoveTo   = "move_to"
	TypeAttack   = "attack"
	TypeTask     = "task"
	typeNavigate = "navigation_result"
)

var (
	// ErrNotConnected is returned by outbound commands while no connection is open.
	ErrNotConnected = errors.New("transport: not connected")
	// ErrNavigationTimeout is returned by MoveTo when no navigation_result arrives in time.
	ErrNavigationTimeout = errors.New("transport: navigation timed out")
	// ErrNavigationFailed is returned by MoveTo when the gateway reports failure.
	ErrNavigationFailed = errors.New("transport: navigation failed")
)

// Dispatcher receives every inbound event.
type Dispatcher interface {
	Dispatch(ctx context.Context, name string, args map[string]any)
}

// NavigationLearner receives every completed movement request. It must not block.
type NavigationLearner interface {
	LearnFromNavigation(rec learning.NavigationRecord)
}

// Positioner reports the bot's current position.
type Positioner interface {
	Position() world.Vec3
}

// Config holds gateway connection settings.
type Config struct {
	URL              string
	Username         string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

// Deps are the client's collaborators. Learner and Position are optional.
type Deps struct {
	Dispatcher Dispatcher
	Learner    NavigationLearner
	Position   Positioner
	Clock      clock.Clock
	Logger     *zap.Logger
}

type navResult struct {
	success bool
	reason  string
}

// Client is a gateway websocket client. It is safe for concurrent use.
type Client struct {
	cfg      Config
	codec    *Codec
	dispatch Dispatcher
	learner  NavigationLearner
	position Positioner
	clock    clock.Clock
	logger   *zap.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]chan navResult

	writeMu sync.Mutex
}

// NewClient creates an unconnected Client.
//
// Precondition: cfg.URL must be non-empty; deps.Dispatcher, deps.Clock and deps.Logger must be non-nil.
// Postcondition: Returns a Client or an error if the envelope schema cannot be compiled.
func NewClient(cfg Config, deps Deps) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("transport: url must not be empty")
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	codec, err := NewCodec()
	if err != nil {
		return nil, err
	}
	return &Client{
		cfg:      cfg,
		codec:    codec,
		dispatch: deps.Dispatcher,
		learner:  deps.Learner,
		position: deps.Position,
		clock:    deps.Clock,
		logger:   deps.Logger,
		pending:  make(map[string]chan navResult),
	}, nil
}

// Run dials the gateway, announces the bot and pumps inbound frames until ctx
// is cancelled or the connection fails. A "connected" event is dispatched after
// the hello frame and a "disconnected" event when the read loop ends.
//
// Postcondition: Returns nil when ctx was cancelled, otherwise the connection error.
func (c *Client) Run(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	header := http.Header{}
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", c.cfg.URL, err)
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if err := c.send(Envelope{Type: TypeHello, Payload: map[string]any{"username": c.cfg.Username}}); err != nil {
		c.drop(conn)
		return fmt.Errorf("sending hello: %w", err)
	}
	c.logger.Info("connected to gateway", zap.String("url", c.cfg.URL), zap.String("username", c.cfg.Username))
	c.dispatch.Dispatch(ctx, "connected", map[string]any{"username": c.cfg.Username})

	readErr := c.readLoop(ctx, conn)
	c.drop(conn)
	c.dispatch.Dispatch(context.WithoutCancel(ctx), "disconnected", map[string]any{"reason": errString(readErr)})
	if ctx.Err() != nil {
		return nil
	}
	return readErr
}

// Connected reports whether a connection is open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Close drops the current connection, ending Run.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		env, err := c.codec.Decode(raw)
		if err != nil {
			c.logger.Warn("dropping malformed frame", zap.Error(event.WithKind(event.KindDataIntegrity, err)))
			continue
		}
		if env.Type == typeNavigate {
			c.resolveNavigation(env.Payload)
		}
		c.dispatch.Dispatch(ctx, env.Type, env.Payload)
	}
}

func (c *Client) drop(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	_ = conn.Close()
}

func (c *Client) send(env Envelope) error {
	b, err := c.codec.Encode(env)
	if err != nil {
		return err
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, b)
}

// SendChat sends a public chat message.
func (c *Client) SendChat(_ context.Context, text string) error {
	return c.send(Envelope{Type: TypeChat, Payload: map[string]any{"message": text}})
}

// Attack asks the gateway to swing at an entity once. It does not wait for a result.
func (c *Client) Attack(_ context.Context, entityID string) error {
	return c.send(Envelope{Type: TypeAttack, Payload: map[string]any{"entity_id": entityID}})
}

// RequestTask forwards a named long-running gameplay task to the gateway.
func (c *Client) RequestTask(_ context.Context, task string, args map[string]any) error {
	payload := map[string]any{"task": task, "request_id": uuid.NewString()}
	if len(args) > 0 {
		payload["args"] = args
	}
	return c.send(Envelope{Type: TypeTask, Payload: payload})
}

// MoveTo requests navigation to pos and blocks until the matching
// navigation_result arrives, timeout elapses or ctx is cancelled. Every request
// is reported to the navigation learner.
//
// Postcondition: Returns nil on success, ErrNavigationFailed, ErrNavigationTimeout or ctx.Err().
func (c *Client) MoveTo(ctx context.Context, pos world.Vec3, timeout time.Duration) error {
	id := uuid.NewString()
	ch := make(chan navResult, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	var from world.Vec3
	if c.position != nil {
		from = c.position.Position()
	}
	start := c.clock.Now()
	err := c.send(Envelope{Type: TypeMoveTo, Payload: map[string]any{
		"request_id": id,
		"x":          pos.X,
		"y":          pos.Y,
		"z":          pos.Z,
		"timeout_ms": float64(timeout.Milliseconds()),
	}})
	if err == nil {
		err = c.await(ctx, ch, timeout)
	}
	c.record(learning.NavigationRecord{
		RequestID: id,
		From:      from,
		To:        pos,
		Success:   err == nil,
		Error:     errString(err),
		Duration:  c.clock.Now().Sub(start),
		At:        start,
	})
	return err
}

func (c *Client) await(ctx context.Context, ch <-chan navResult, timeout time.Duration) error {
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	select {
	case r := <-ch:
		if r.success {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrNavigationFailed, r.reason)
	case <-expired:
		return ErrNavigationTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) resolveNavigation(payload map[string]any) {
	id, _ := payload["request_id"].(string)
	success, _ := payload["success"].(bool)
	reason, _ := payload["reason"].(string)
	c.mu.Lock()
	ch, ok := c.pending[id]
	c.mu.Unlock()
	if !ok {
		c.logger.Debug("navigation result for unknown request", zap.String("request_id", id))
		return
	}
	select {
	case ch <- navResult{success: success, reason: reason}:
	default:
	}
}

func (c *Client) record(rec learning.NavigationRecord) {
	if c.learner == nil {
		return
	}
	c.learner.LearnFromNavigation(rec)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
