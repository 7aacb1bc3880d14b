package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"collab-messenger/config"
	"collab-messenger/controller"
	"collab-messenger/database"
	"collab-messenger/event"
	"collab-messenger/event/listener"
	"collab-messenger/logging"
	"collab-messenger/messenger"
	"collab-messenger/router"
	"collab-messenger/store"
	"collab-messenger/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/rs/zerolog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logging.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error().Err(err).Msg("messenger stopped")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	db, err := database.PostgresConnect(cfg.PostgresDSN(), log)
	if err != nil {
		return err
	}

	redis, err := database.RedisConnect(ctx, cfg.RedisAddr(), cfg.RedisPassword, []int{cfg.RedisTokenDB, cfg.RedisAdapterDB}, log)
	if err != nil {
		return err
	}
	defer func() {
		for _, client := range redis {
			client.Close()
		}
	}()

	enforcer, err := database.Casbin(db, cfg.CasbinModel)
	if err != nil {
		return err
	}

	broker, err := event.Connect(cfg.RabbitMQURL(), cfg.RabbitMQEventsQueue, []string{cfg.RabbitMQNotifyQueue}, log)
	if err != nil {
		return err
	}
	defer broker.Close()

	st := store.New(db)
	tokens := utils.NewTokenManager(cfg)
	presence := messenger.NewPresence()
	fanout := messenger.NewFanout(st, presence, log)
	gateway := messenger.NewGateway(st, tokens, presence, messenger.NewRouter(), fanout, messenger.Options{
		MaxMessageLength: cfg.MaxMessageLength,
		TypingTimeout:    cfg.TypingTimeout,
		OutboundBuffer:   cfg.OutboundBuffer,
		InboundRate:      cfg.InboundRate,
		InboundBurst:     cfg.InboundBurst,
	}, log).WithPublisher(broker)

	deliveries, err := broker.Subscribe(ctx, cfg.RabbitMQNotifyQueue)
	if err != nil {
		return err
	}
	go listener.NewNotifications(fanout, log).Run(ctx, deliveries)

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		AppName:               "collab-messenger",
	})
	app.Use(cors.New())

	socket := router.Socket(ctx, app, redis[cfg.RedisAdapterDB], gateway, cfg.SocketIODebug, log)
	router.Websocket(ctx, app, gateway, log)
	router.Rest(app, controller.New(controller.Deps{
		Store:     st,
		Gateway:   gateway,
		Tokens:    tokens,
		Refresh:   database.NewRefreshTokens(redis[cfg.RedisTokenDB], cfg.JWTRefreshExpire),
		Roles:     enforcer,
		OtpIssuer: cfg.OtpIssuer,
		Log:       log,
	}), tokens.AccessKey(), enforcer, log)

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.ServerPort).Msg("listening")
		errc <- app.Listen(":" + cfg.ServerPort)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	socket.Close()
	return app.ShutdownWithTimeout(10 * time.Second)
}
