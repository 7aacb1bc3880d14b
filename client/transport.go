package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"sync"
	"time"

	"collab-messenger/messenger"

	"github.com/gorilla/websocket"
)

// Frame is one server push: an event name and its raw payload.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Conn is a live duplex stream of envelopes.
type Conn interface {
	Send(env messenger.Envelope) error
	// Receive blocks for the next frame; an error means the stream is gone.
	Receive() (Frame, error)
	Close() error
}

// Transport opens connections to the messaging gateway.
type Transport interface {
	Dial(ctx context.Context) (Conn, error)
}

const wsWriteWait = 10 * time.Second

// WebsocketTransport dials the gateway's JSON websocket endpoint.
type WebsocketTransport struct {
	URL    string        // e.g. ws://host:8080/v1/ws
	Token  func() string // current access token
	Dialer *websocket.Dialer
}

func (t *WebsocketTransport) Dial(ctx context.Context) (Conn, error) {
	u, err := url.Parse(t.URL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("token", t.Token())
	u.RawQuery = q.Encode()

	dialer := t.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	ws, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}
	return &wsConn{ws: ws}, nil
}

type wsConn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

var errClosedByServer = errors.New("connection closed by server")

func (c *wsConn) Send(env messenger.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
		return err
	}
	return c.ws.WriteJSON(env)
}

func (c *wsConn) Receive() (Frame, error) {
	var f Frame
	if err := c.ws.ReadJSON(&f); err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.ClosePolicyViolation) {
			return f, errClosedByServer
		}
		return f, err
	}
	return f, nil
}

func (c *wsConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.ws.Close()
}
