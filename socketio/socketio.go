package socketio

import (
	"context"
	"encoding/json"
	"time"

	"collab-messenger/messenger"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	eiolog "github.com/zishang520/engine.io/v2/log"
	"github.com/zishang520/socket.io-go-redis/adapter"
	r_type "github.com/zishang520/socket.io-go-redis/types"
	"github.com/zishang520/socket.io/v2/socket"
)

var inboundEvents = []string{
	messenger.EventJoin,
	messenger.EventLeave,
	messenger.EventSend,
	messenger.EventTyping,
	messenger.EventReactAdd,
	messenger.EventReactRemove,
	messenger.EventRead,
}

// Server binds socket.io clients to the gateway. Each socket becomes one
// gateway connection; the redis adapter lets replicas share rooms.
type Server struct {
	io      *socket.Server
	gateway *messenger.Gateway
	ctx     context.Context
	log     zerolog.Logger
}

func Init(ctx context.Context, app *fiber.App, rdb *redis.Client, gateway *messenger.Gateway, debug bool, log zerolog.Logger) *Server {
	eiolog.DEBUG = debug

	options := socket.DefaultServerOptions()
	options.SetServeClient(false)
	options.SetAllowEIO3(true)
	options.SetPingInterval(25 * time.Second)
	options.SetPingTimeout(20 * time.Second)
	options.SetMaxHttpBufferSize(1000000)
	options.SetConnectTimeout(5 * time.Second)
	if rdb != nil {
		options.SetAdapter(&adapter.RedisAdapterBuilder{
			Redis: r_type.NewRedisClient(ctx, rdb),
			Opts:  &adapter.RedisAdapterOptions{},
		})
	}

	s := &Server{
		io:      socket.NewServer(nil, nil),
		gateway: gateway,
		ctx:     ctx,
		log:     log.With().Str("transport", "socket.io").Logger(),
	}
	s.io.On("connection", func(clients ...interface{}) {
		client, ok := clients[0].(*socket.Socket)
		if !ok {
			return
		}
		s.accept(client)
	})

	app.Get("/socket.io/", adaptor.HTTPHandler(s.io.ServeHandler(options)))
	app.Post("/socket.io/", adaptor.HTTPHandler(s.io.ServeHandler(options)))

	return s
}

func (s *Server) accept(client *socket.Socket) {
	token, _ := client.Conn().Request().Query().Get("token")

	conn, err := s.gateway.Connect(s.ctx, token, &transport{client: client})
	if err != nil {
		client.Emit(messenger.EventReply, messenger.Reply{OK: false, Code: "authentication", Error: err.Error()})
		client.Disconnect(true)
		return
	}

	client.SetData(conn.UserID)

	for _, event := range inboundEvents {
		event := event
		client.On(event, func(args ...interface{}) {
			env, err := envelope(event, args)
			if err != nil {
				conn.Push(messenger.EventReply, messenger.Reply{OK: false, Code: "validation", Error: err.Error()})
				return
			}
			conn.Deliver(env)
		})
	}
	client.On("disconnect", func(...interface{}) {
		s.gateway.Disconnect(conn)
	})

	go s.gateway.Serve(s.ctx, conn)
}

// envelope turns socket.io arguments into a frame: the first argument is the
// event data and an optional second string argument is the request ref.
func envelope(event string, args []interface{}) (messenger.Envelope, error) {
	env := messenger.Envelope{Event: event}
	if len(args) > 0 && args[0] != nil {
		raw, err := json.Marshal(args[0])
		if err != nil {
			return env, err
		}
		env.Data = raw
	}
	if len(args) > 1 {
		if ref, ok := args[1].(string); ok {
			env.Ref = ref
		}
	}
	return env, nil
}

type transport struct {
	client *socket.Socket
}

func (t *transport) Emit(event string, payload any) error {
	t.client.Emit(event, payload)
	return nil
}

func (t *transport) Close() error {
	t.client.Disconnect(true)
	return nil
}

func (s *Server) Close() {
	s.io.Close(nil)
}
