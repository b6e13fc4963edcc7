package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/Marveltechapps/selorg-console-core/config"
	"github.com/Marveltechapps/selorg-console-core/metrics"
	"github.com/Marveltechapps/selorg-console-core/session"
)

// State is the channel's connection state.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Backoff
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Backoff:
		return "backoff"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Event is one inbound push event as delivered to handlers.
type Event struct {
	Name    string
	Unit    string
	Payload json.RawMessage
}

// Handler receives push events. Handlers for the same connection are invoked
// sequentially in arrival order.
type Handler func(Event)

// Handle identifies one registration for later removal.
type Handle uint64

// frame is the gateway's inbound wire format.
type frame struct {
	Event   string          `json:"event"`
	Unit    string          `json:"unit,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// command is the outbound wire format.
type command struct {
	Action  string `json:"action"`
	Topic   string `json:"topic,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// SessionSource supplies the identity the channel authenticates and derives
// its subscription topics from.
type SessionSource interface {
	Current() session.Session
}

// Channel owns the single push connection for this process. Handlers are
// registered on the Channel, not on the transport, so a reconnect swaps the
// socket underneath them without any re-registration. Connection failures
// never reach callers; after the retry ceiling the channel parks itself in
// the terminal Failed state and consumers fall back to periodic refresh.
type Channel struct {
	sessions SessionSource
	dialer   Dialer
	gwURL    string

	handshakeTimeout time.Duration
	pingInterval     time.Duration
	pongTimeout      time.Duration
	writeTimeout     time.Duration
	initialBackoff   time.Duration
	maxBackoff       time.Duration
	maxRetries       int

	mu       sync.Mutex
	state    State
	conn     Conn
	attempts int
	cancel   context.CancelFunc
	topics   []string
	handlers map[string]map[Handle]Handler
	nextID   Handle

	writeMu sync.Mutex // serialises all writes on the current conn
}

// NewChannel creates a channel against the configured gateway. A nil dialer
// selects the websocket transport.
func NewChannel(cfg *config.GatewayConfig, sessions SessionSource, dialer Dialer) *Channel {
	handshake := time.Duration(cfg.HandshakeTimeout) * time.Second
	if dialer == nil {
		dialer = &WebSocketDialer{HandshakeTimeout: handshake}
	}
	return &Channel{
		sessions:         sessions,
		dialer:           dialer,
		gwURL:            cfg.URL,
		handshakeTimeout: handshake,
		pingInterval:     time.Duration(cfg.PingInterval) * time.Second,
		pongTimeout:      time.Duration(cfg.PongTimeout) * time.Second,
		writeTimeout:     time.Duration(cfg.WriteTimeout) * time.Second,
		initialBackoff:   time.Duration(cfg.ReconnectBackoff) * time.Millisecond,
		maxBackoff:       time.Duration(cfg.MaxBackoff) * time.Second,
		maxRetries:       cfg.MaxRetries,
		handlers:         make(map[string]map[Handle]Handler),
	}
}

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// On registers a handler for a named event. Registration is valid before any
// connection exists; delivery begins whenever connectivity is established.
func (c *Channel) On(event string, h Handler) Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	if c.handlers[event] == nil {
		c.handlers[event] = make(map[Handle]Handler)
	}
	c.handlers[event][id] = h
	return id
}

// Off removes one registration.
func (c *Channel) Off(event string, id Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if hs, ok := c.handlers[event]; ok {
		delete(hs, id)
		if len(hs) == 0 {
			delete(c.handlers, event)
		}
	}
}

// OffAll removes every handler for the event.
func (c *Channel) OffAll(event string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, event)
}

// Connect starts the connection lifecycle. It is idempotent: a channel that
// is already connecting, connected, backing off, or parked in Failed is left
// alone, as is one with no session token.
func (c *Channel) Connect(ctx context.Context) {
	c.mu.Lock()
	if c.state != Disconnected {
		c.mu.Unlock()
		return
	}
	if !c.sessions.Current().Authenticated() {
		c.mu.Unlock()
		return
	}
	c.state = Connecting
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()
	metrics.ConnectionState.Set(float64(Connecting))

	go c.run(runCtx)
}

// Disconnect tears the transport down. A channel in Failed stays Failed;
// only ResetConnection clears that.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	// Cancel under the lock so the run loop cannot write a state after this.
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	conn := c.conn
	c.conn = nil
	if c.state != Failed {
		c.state = Disconnected
		c.attempts = 0
	}
	st := c.state
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	metrics.ConnectionState.Set(float64(st))
}

// ResetConnection is Disconnect plus clearing the terminal Failed state so a
// later Connect may retry.
func (c *Channel) ResetConnection() {
	c.Disconnect()
	c.mu.Lock()
	c.state = Disconnected
	c.attempts = 0
	c.mu.Unlock()
	metrics.ConnectionState.Set(float64(Disconnected))
}

// Emit sends a fire-and-forget message. It is silently dropped when the
// channel is not connected.
func (c *Channel) Emit(event string, payload any) {
	c.mu.Lock()
	conn := c.conn
	connected := c.state == Connected
	c.mu.Unlock()
	if !connected || conn == nil {
		return
	}
	if err := c.write(conn, command{Action: "publish", Topic: event, Payload: payload}); err != nil {
		log.Printf("realtime: dropped emit of %s: %v", event, err)
	}
}

// SyncTopics re-derives the subscription set from the current session and
// issues the subscribe/unsubscribe delta. Call it after a unit switch; a
// full reconnect re-issues everything anyway.
func (c *Channel) SyncTopics() {
	sess := c.sessions.Current()

	c.mu.Lock()
	conn := c.conn
	if c.state != Connected || conn == nil {
		c.mu.Unlock()
		return
	}
	prev := c.topics
	next := Topics(sess)
	c.topics = next
	c.mu.Unlock()

	for _, t := range diff(prev, next) {
		c.write(conn, command{Action: "unsubscribe", Topic: t})
	}
	for _, t := range diff(next, prev) {
		c.write(conn, command{Action: "subscribe", Topic: t})
	}
}

// Topics derives the subscription set for a session: the role stream, the
// per-user stream, and the active unit's stream when one is selected.
func Topics(sess session.Session) []string {
	if !sess.Authenticated() {
		return nil
	}
	topics := []string{"role:" + sess.User.Role, "user:" + sess.User.ID}
	if sess.ActiveUnit != "" {
		topics = append(topics, "unit:"+sess.ActiveUnit)
	}
	return topics
}

func diff(a, b []string) []string {
	var out []string
	for _, x := range a {
		found := false
		for _, y := range b {
			if x == y {
				found = true
				break
			}
		}
		if !found {
			out = append(out, x)
		}
	}
	return out
}

// run drives the connect/reconnect lifecycle until torn down or failed.
func (c *Channel) run(ctx context.Context) {
	bo := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(c.initialBackoff),
		backoff.WithMaxInterval(c.maxBackoff),
		backoff.WithMaxElapsedTime(0),
	)

	for {
		if ctx.Err() != nil {
			return
		}
		sess := c.sessions.Current()
		if !sess.Authenticated() {
			c.Disconnect()
			return
		}
		c.setStateIf(ctx, Connecting)

		dialCtx, cancel := context.WithTimeout(ctx, c.handshakeTimeout)
		conn, err := c.dialer.Dial(dialCtx, c.gwURL, sess.Token)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("realtime: dial failed: %v", err)
			metrics.ReconnectAttempts.Inc()
			if c.registerFailure(ctx) {
				return
			}
			c.setStateIf(ctx, Backoff)
			if !sleep(ctx, bo.NextBackOff()) {
				return
			}
			continue
		}

		if !c.install(ctx, conn, sess) {
			conn.Close()
			return
		}
		bo.Reset()
		if err := c.resubscribe(conn, sess); err != nil {
			// A partially subscribed connection would look healthy while
			// missing topics; recycle it and let the loop redial.
			log.Printf("realtime: %v, recycling transport", err)
			conn.Close()
		}

		pingCtx, pingCancel := context.WithCancel(ctx)
		go c.pingLoop(pingCtx, conn)
		err = c.readLoop(conn)
		pingCancel()

		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		conn.Close()

		if ctx.Err() != nil {
			return
		}
		log.Printf("realtime: transport dropped: %v", err)
		metrics.ReconnectAttempts.Inc()
		if c.registerFailure(ctx) {
			return
		}
		c.setStateIf(ctx, Backoff)
		if !sleep(ctx, bo.NextBackOff()) {
			return
		}
	}
}

// install publishes the fresh transport. The subscription topics are
// recorded so SyncTopics can diff against them later.
func (c *Channel) install(ctx context.Context, conn Conn, sess session.Session) bool {
	c.mu.Lock()
	if ctx.Err() != nil {
		c.mu.Unlock()
		return false
	}
	c.conn = conn
	c.attempts = 0
	c.state = Connected
	c.topics = Topics(sess)
	c.mu.Unlock()
	metrics.ConnectionState.Set(float64(Connected))
	return true
}

// registerFailure counts one transport failure; at the ceiling the channel
// transitions to Failed and stops retrying. An unbounded retry storm against
// a backend that is already down helps no one.
func (c *Channel) registerFailure(ctx context.Context) bool {
	c.mu.Lock()
	if ctx.Err() != nil {
		c.mu.Unlock()
		return true
	}
	c.attempts++
	if c.attempts < c.maxRetries {
		c.mu.Unlock()
		return false
	}
	c.state = Failed
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	metrics.ConnectionFailures.Inc()
	metrics.ConnectionState.Set(float64(Failed))
	log.Printf("realtime: giving up after %d attempts; call ResetConnection to retry", c.maxRetries)
	return true
}

// resubscribe issues the subscription set on a fresh transport. Server-side
// topic membership does not survive a reconnect, so this runs on every
// successful handshake.
func (c *Channel) resubscribe(conn Conn, sess session.Session) error {
	for _, topic := range Topics(sess) {
		if err := c.write(conn, command{Action: "subscribe", Topic: topic}); err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
	}
	return nil
}

func (c *Channel) readLoop(conn Conn) error {
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.pongTimeout))
	})
	conn.SetReadDeadline(time.Now().Add(c.pongTimeout))

	for {
		data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil || f.Event == "" {
			continue
		}
		metrics.EventsReceived.WithLabelValues(f.Event).Inc()
		c.dispatch(Event{Name: f.Event, Unit: f.Unit, Payload: f.Payload})
	}
}

func (c *Channel) dispatch(e Event) {
	c.mu.Lock()
	hs := make([]Handler, 0, len(c.handlers[e.Name]))
	for _, h := range c.handlers[e.Name] {
		hs = append(hs, h)
	}
	c.mu.Unlock()

	for _, h := range hs {
		h(e)
	}
}

func (c *Channel) pingLoop(ctx context.Context, conn Conn) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			current := c.conn
			c.mu.Unlock()
			if current != conn {
				return
			}
			c.writeMu.Lock()
			err := conn.Ping(time.Now().Add(c.writeTimeout))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (c *Channel) write(conn Conn, v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return conn.WriteJSON(v)
}

// setStateIf applies a run-loop state transition unless the lifecycle was
// torn down in the meantime.
func (c *Channel) setStateIf(ctx context.Context, s State) {
	c.mu.Lock()
	if ctx.Err() != nil {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()
	metrics.ConnectionState.Set(float64(s))
}

// sleep waits for d or for cancellation; it reports false on cancellation.
func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
