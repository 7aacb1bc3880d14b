package router

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"collab-messenger/messenger"
	"collab-messenger/model"
	"collab-messenger/socketio"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	wsPath       = "/v1/ws"
	wsWriteWait  = 10 * time.Second
	wsReadLimit  = 64 << 10
	wsCloseGrace = time.Second
)

var errTransportClosed = errors.New("websocket closed")

// Socket mounts the socket.io endpoint for browser clients.
func Socket(ctx context.Context, app *fiber.App, rdb *redis.Client, gateway *messenger.Gateway, debug bool, log zerolog.Logger) *socketio.Server {
	return socketio.Init(ctx, app, rdb, gateway, debug, log)
}

// Websocket mounts the plain JSON websocket endpoint. Every text frame is one
// envelope in either direction.
func Websocket(ctx context.Context, app *fiber.App, gateway *messenger.Gateway, log zerolog.Logger) {
	log = log.With().Str("transport", "websocket").Logger()

	app.Use(wsPath, func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get(wsPath, websocket.New(func(ws *websocket.Conn) {
		ws.SetReadLimit(wsReadLimit)
		tr := &wsTransport{ws: ws}

		conn, err := gateway.Connect(ctx, ws.Query("token"), tr)
		if err != nil {
			_ = tr.Emit(messenger.EventReply, messenger.Reply{OK: false, Code: model.ErrorCode(err), Error: err.Error()})
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "authentication failed"),
				time.Now().Add(wsCloseGrace))
			return
		}
		defer gateway.Disconnect(conn)

		go gateway.Serve(ctx, conn)

		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				log.Debug().Err(err).Str("conn", conn.ID).Msg("read closed")
				return
			}

			var env messenger.Envelope
			if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
				conn.Push(messenger.EventReply, messenger.Reply{OK: false, Code: "validation", Error: "malformed envelope"})
				continue
			}
			if !conn.Deliver(env) {
				return
			}
		}
	}))
}

// Frame is an outbound websocket message.
type Frame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// wsTransport refuses writes once closed; the underlying conn is recycled
// when the handler returns.
type wsTransport struct {
	mu     sync.Mutex
	ws     *websocket.Conn
	closed bool
}

func (t *wsTransport) Emit(event string, payload any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errTransportClosed
	}
	if err := t.ws.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
		return err
	}
	return t.ws.WriteJSON(Frame{Event: event, Data: payload})
}

func (t *wsTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.ws.Close()
}
