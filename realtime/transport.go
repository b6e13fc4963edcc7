package realtime

import (
	"context"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// tokenQueryParam is the query parameter the gateway reads the bearer token
// from during the websocket handshake.
const tokenQueryParam = "token"

// Conn is the transport surface the channel needs from one live connection.
// The channel swaps Conns across reconnects; nothing above it ever sees one.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteJSON(v any) error
	Ping(deadline time.Time) error
	SetPongHandler(h func(string) error)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Dialer establishes transport connections. Tests substitute scripted
// implementations to exercise the reconnect machinery.
type Dialer interface {
	Dial(ctx context.Context, rawURL, token string) (Conn, error)
}

// WebSocketDialer dials the push gateway over a websocket, presenting the
// session token as a handshake query parameter.
type WebSocketDialer struct {
	HandshakeTimeout time.Duration
}

func (d *WebSocketDialer) Dial(ctx context.Context, rawURL, token string) (Conn, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set(tokenQueryParam, token)
	u.RawQuery = q.Encode()

	dialer := &websocket.Dialer{HandshakeTimeout: d.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}
	return &wsConn{conn: conn}, nil
}

// wsConn adapts a gorilla connection to the Conn interface.
type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *wsConn) WriteJSON(v any) error {
	return c.conn.WriteJSON(v)
}

func (c *wsConn) Ping(deadline time.Time) error {
	return c.conn.WriteControl(websocket.PingMessage, nil, deadline)
}

func (c *wsConn) SetPongHandler(h func(string) error) {
	c.conn.SetPongHandler(h)
}

func (c *wsConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

func (c *wsConn) SetWriteDeadline(t time.Time) error {
	return c.conn.SetWriteDeadline(t)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}
