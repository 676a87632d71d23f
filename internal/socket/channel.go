// Package socket maintains the single bidirectional event link between
// a rider session and the dispatch backend.
package socket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/rider-dispatch/internal/models"
	"github.com/example/rider-dispatch/internal/observability"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second
)

// ErrDisconnected is returned by Emit while the link is down. Outbound
// messages are dropped, never queued: the next location tick or an
// explicit UI retry supersedes them.
var ErrDisconnected = errors.New("socket: not connected")

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

type Options struct {
	URL     string
	RiderID string
	Token   string

	DialTimeout   time.Duration // default 10s
	ReconnectBase time.Duration // default 1s
	ReconnectMax  time.Duration // default 30s
	MaxAttempts   int           // default 10

	Logger *slog.Logger
}

// Channel is one persistent, authenticated, auto-reconnecting event
// link. Create one per rider session and discard it on logout.
type Channel struct {
	opts   Options
	log    *slog.Logger
	dialer *websocket.Dialer

	mu      sync.Mutex
	conn    *websocket.Conn
	state   State
	running bool
	cancel  context.CancelFunc

	writeMu sync.Mutex

	subMu     sync.RWMutex
	subs      map[string][]chan json.RawMessage
	stateSubs []chan State
}

func New(opts Options) *Channel {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 10 * time.Second
	}
	if opts.ReconnectBase <= 0 {
		opts.ReconnectBase = time.Second
	}
	if opts.ReconnectMax <= 0 {
		opts.ReconnectMax = 30 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 10
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Channel{
		opts:   opts,
		log:    opts.Logger,
		dialer: &websocket.Dialer{HandshakeTimeout: opts.DialTimeout},
		subs:   make(map[string][]chan json.RawMessage),
	}
}

// Connect starts the link maintenance loop. Idempotent while running.
func (c *Channel) Connect(ctx context.Context) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return
	}
	c.running = true
	ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()
	go c.run(ctx)
}

// Disconnect tears the link down. Idempotent.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	cancel := c.cancel
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		// best effort; the backend also detects the close
		_ = c.write(conn, models.EventGoOffline, struct{}{})
		_ = conn.Close()
	}
	if cancel != nil {
		cancel()
	}
	c.setState(StateDisconnected)
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Emit sends a fire-and-forget outbound frame. At-most-once: while
// disconnected it returns ErrDisconnected and the frame is dropped.
func (c *Channel) Emit(event string, payload any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrDisconnected
	}
	return c.write(conn, event, payload)
}

func (c *Channel) write(conn *websocket.Conn, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(models.Frame{Event: event, Data: data})
}

// Observe returns a stream of payloads for one inbound event name and a
// cancel func that detaches the listener without touching the link.
// Slow subscribers miss frames rather than stall the read loop.
func (c *Channel) Observe(event string) (<-chan json.RawMessage, func()) {
	ch := make(chan json.RawMessage, 16)
	c.subMu.Lock()
	c.subs[event] = append(c.subs[event], ch)
	c.subMu.Unlock()

	cancel := func() {
		c.subMu.Lock()
		list := c.subs[event]
		for i, s := range list {
			if s == ch {
				c.subs[event] = append(list[:i], list[i+1:]...)
				break
			}
		}
		c.subMu.Unlock()
		close(ch)
	}
	return ch, cancel
}

// ObserveState streams connection state changes.
func (c *Channel) ObserveState() (<-chan State, func()) {
	ch := make(chan State, 8)
	c.subMu.Lock()
	c.stateSubs = append(c.stateSubs, ch)
	c.subMu.Unlock()

	cancel := func() {
		c.subMu.Lock()
		for i, s := range c.stateSubs {
			if s == ch {
				c.stateSubs = append(c.stateSubs[:i], c.stateSubs[i+1:]...)
				break
			}
		}
		c.subMu.Unlock()
		close(ch)
	}
	return ch, cancel
}

func (c *Channel) run(ctx context.Context) {
	attempts := 0
	delay := c.opts.ReconnectBase

	for {
		c.setState(StateConnecting)
		conn, err := c.connectOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.setState(StateDisconnected)
				return
			}
			attempts++
			observability.SocketReconnects.Inc()
			if attempts >= c.opts.MaxAttempts {
				c.log.Error("socket reconnect attempts exhausted", "attempts", attempts, "error", err)
				c.mu.Lock()
				c.running = false
				c.mu.Unlock()
				c.setState(StateDisconnected)
				return
			}
			c.log.Warn("socket connect failed", "attempt", attempts, "retry_in", delay.String(), "error", err)
			select {
			case <-ctx.Done():
				c.setState(StateDisconnected)
				return
			case <-time.After(delay):
			}
			delay *= 2
			if delay > c.opts.ReconnectMax {
				delay = c.opts.ReconnectMax
			}
			continue
		}

		attempts = 0
		delay = c.opts.ReconnectBase

		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		c.setState(StateConnected)
		observability.SocketConnected.Set(1)
		c.log.Info("socket connected", "rider_id", c.opts.RiderID)

		c.readLoop(conn)

		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		running := c.running
		c.mu.Unlock()
		observability.SocketConnected.Set(0)
		_ = conn.Close()

		if ctx.Err() != nil || !running {
			c.setState(StateDisconnected)
			return
		}
		c.log.Warn("socket link lost, reconnecting")
	}
}

// connectOnce dials and performs the room handshake. The backend's room
// membership does not survive a transport disconnect, so join_rider_room
// is written before the connection is published for Emit.
func (c *Channel) connectOnce(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.opts.Token != "" {
		header.Set("Authorization", "Bearer "+c.opts.Token)
	}
	dialCtx, cancel := context.WithTimeout(ctx, c.opts.DialTimeout)
	defer cancel()
	conn, _, err := c.dialer.DialContext(dialCtx, c.opts.URL, header)
	if err != nil {
		return nil, err
	}
	if err := c.write(conn, models.EventJoinRiderRoom, models.JoinRoomPayload{RiderID: c.opts.RiderID}); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := c.write(conn, models.EventGoOnline, struct{}{}); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

func (c *Channel) readLoop(conn *websocket.Conn) {
	conn.SetReadLimit(256 << 10)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(appData string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
	})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			c.log.Debug("socket read closed", "error", err)
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		var f models.Frame
		if err := json.Unmarshal(msg, &f); err != nil || f.Event == "" {
			c.log.Warn("socket dropping malformed frame", "error", err)
			continue
		}
		c.publish(f)
	}
}

func (c *Channel) publish(f models.Frame) {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	for _, ch := range c.subs[f.Event] {
		select {
		case ch <- f.Data:
		default: // laggard: at-most-once delivery, drop
		}
	}
}

func (c *Channel) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()

	c.subMu.RLock()
	defer c.subMu.RUnlock()
	for _, ch := range c.stateSubs {
		select {
		case ch <- s:
		default:
		}
	}
}
