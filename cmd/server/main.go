package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/websocket/v2"
	"github.com/noteduco342/om-channels/internal/broker"
	"github.com/noteduco342/om-channels/internal/cache"
	"github.com/noteduco342/om-channels/internal/config"
	"github.com/noteduco342/om-channels/internal/handlers"
	"github.com/noteduco342/om-channels/internal/handlers/ws"
	"github.com/noteduco342/om-channels/internal/logger"
	"github.com/noteduco342/om-channels/internal/metrics"
	"github.com/noteduco342/om-channels/internal/middleware"
	"github.com/noteduco342/om-channels/internal/relay"
	"github.com/noteduco342/om-channels/internal/repository"
	"github.com/noteduco342/om-channels/internal/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New("prod")
		bootLog.Fatal().Err(err).Msg("load config")
	}
	log := logger.New(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
	log.Info().Msg("server stopped")
}

func run(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	db, err := repository.InitDB(cfg.DSN(), log)
	if err != nil {
		return err
	}

	// Redis is optional for caching; the relay requires it.
	var redisCache *cache.RedisCache
	if cfg.RedisAddr != "" {
		redisCache = cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := redisCache.Ping(pingCtx)
		cancel()
		if err != nil {
			if cfg.RelayEnabled {
				return err
			}
			log.Warn().Err(err).Msg("redis unavailable, running without cache")
			redisCache = nil
		} else {
			log.Info().Str("addr", cfg.RedisAddr).Msg("redis connected")
			defer redisCache.Close()
		}
	}
	messageCache := cache.NewMessageCache(redisCache)

	channelRepo := repository.NewChannelRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	markerRepo := repository.NewReadMarkerRepository(db)

	b := broker.New(channelRepo, log, broker.Options{
		BufferSize:     cfg.BrokerBufferSize,
		SkipSenderEcho: cfg.SkipSenderEcho,
	})

	var notifier service.Notifier = b
	var rel *relay.Relay
	if cfg.RelayEnabled {
		rel = relay.New(redisCache.Client(), cfg.RelayChannel, cfg.RelayQueueSize, b, log)
		notifier = rel
	}

	channelService := service.NewChannelService(channelRepo, markerRepo, b, log)
	messageService := service.NewMessageService(messageRepo, messageCache, cfg.MaxMessageLength)
	readStateService := service.NewReadStateService(markerRepo, channelRepo, messageService, cfg.UnreadLimitPerChannel)
	chatService := service.NewChatService(channelService, messageService, readStateService, notifier, b, log)
	authService := service.NewAuthService(cfg.JWTSecret)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	client := newClientApp(cfg, log, authService, chatService)
	mgmt := newManagementApp(cfg, channelService, authService, b)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("port", cfg.Port).Msg("client api listening")
		return client.Listen(":" + cfg.Port)
	})
	g.Go(func() error {
		log.Info().Str("port", cfg.ManagementPort).Msg("management api listening")
		return mgmt.Listen(":" + cfg.ManagementPort)
	})
	if rel != nil {
		g.Go(func() error {
			return rel.Run(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		// Subscribers get a shutdown notice before their sockets go away.
		b.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return errors.Join(
			client.ShutdownWithContext(shutdownCtx),
			mgmt.ShutdownWithContext(shutdownCtx),
		)
	})
	return g.Wait()
}

func newClientApp(cfg config.Config, log zerolog.Logger, auth *service.AuthService, chat *service.ChatService) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "om-channels",
		BodyLimit:             64 * 1024,
		DisableStartupMessage: true,
	})

	app.Use(requestid.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.AllowedOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, DELETE, OPTIONS",
	}))

	app.Get("/health", handlers.Health)

	app.Use("/api", limiter.New(limiter.Config{
		Max:        120,
		Expiration: time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			if header := c.Get(fiber.HeaderAuthorization); strings.HasPrefix(header, "Bearer ") {
				return header
			}
			return c.IP()
		},
	}))
	handlers.MountClientAPI(app, auth, handlers.NewMessageHandler(chat), handlers.NewChannelHandler(chat))

	wsHandler := handlers.NewWebSocketHandler(chat, ws.Config{
		PingInterval: cfg.PingInterval,
		PongTimeout:  cfg.PongTimeout,
	}, log)
	app.Use(
		"/ws",
		middleware.OriginAllowed(middleware.SplitCSV(cfg.AllowedOrigins)),
		middleware.AuthRequired(auth),
		func(c *fiber.Ctx) error {
			if websocket.IsWebSocketUpgrade(c) {
				return c.Next()
			}
			return fiber.ErrUpgradeRequired
		},
	)
	app.Get("/ws", websocket.New(wsHandler.HandleWebSocket))

	return app
}

func newManagementApp(cfg config.Config, channels *service.ChannelService, auth *service.AuthService, live handlers.LiveStats) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "om-channels-management",
		DisableStartupMessage: true,
	})
	app.Use(requestid.New())
	app.Use(fiberlogger.New())

	app.Get("/health", handlers.Health)
	handlers.MountManagementAPI(app, cfg.AdminToken, handlers.NewAdminHandler(channels, auth, live))
	app.Get("/metrics", metrics.Handler())
	return app
}
