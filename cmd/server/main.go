package main

import (
	"context"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/makeasinger/mediagen/internal/auth"
	"github.com/makeasinger/mediagen/internal/client"
	"github.com/makeasinger/mediagen/internal/config"
	"github.com/makeasinger/mediagen/internal/database"
	"github.com/makeasinger/mediagen/internal/handler"
	"github.com/makeasinger/mediagen/internal/ledger"
	"github.com/makeasinger/mediagen/internal/logging"
	"github.com/makeasinger/mediagen/internal/metrics"
	"github.com/makeasinger/mediagen/internal/middleware"
	"github.com/makeasinger/mediagen/internal/service"
	"github.com/makeasinger/mediagen/internal/store"
	ws "github.com/makeasinger/mediagen/internal/websocket"
	"github.com/makeasinger/mediagen/internal/worker"
	"github.com/makeasinger/mediagen/pkg/response"
)

// @title          Mediagen API
// @version        1.0
// @description    Generation task orchestration for image and video models.
// @host           localhost:8000
// @BasePath       /
// @schemes        http https
// @securityDefinitions.apikey BearerAuth
// @in             header
// @name           Authorization
// @description    Enter your bearer token in the format **Bearer &lt;token&gt;**
func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logging.New("production", "info")
		bootLog.Fatal().Err(err).Msg("Failed to load config")
	}

	log := logging.New(cfg.Server.Env, cfg.Server.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Msg("Redis not available")
	}

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	asynqClient := asynq.NewClient(redisOpt)
	defer asynqClient.Close()
	inspector := asynq.NewInspector(redisOpt)
	defer inspector.Close()

	m := metrics.New(prometheus.DefaultRegisterer)

	hub := ws.NewHub(log)
	go hub.Run(ctx)

	// storage is optional
	var storage client.StorageClient
	r2Client, err := client.NewR2Client(cfg.Storage)
	switch {
	case err != nil:
		log.Warn().Err(err).Msg("Object storage not initialized")
	case r2Client == nil:
		log.Info().Msg("Object storage not configured, inline results stay inline")
	default:
		storage = r2Client
	}

	registry := client.NewRegistry(cfg.Channels, client.Options{Storage: storage, Log: log})
	log.Info().Strs("channels", registry.Channels()).Msg("Provider channels ready")

	tasks := store.NewTaskStore(db)
	credits := ledger.New(db)
	status := service.NewStatusCache(redisClient, tasks, log)
	queue := service.NewAsynqQueue(asynqClient, inspector, cfg.Worker.TaskTimeout)
	generation := service.NewGenerationService(cfg, tasks, credits, queue, status, hub, m, log)

	var verifier auth.TokenVerifier
	if cfg.OIDC.Issuer != "" {
		jwksVerifier, err := auth.NewJWKSVerifier(ctx, cfg.OIDC)
		if err != nil {
			log.Warn().Err(err).Msg("JWKS verifier not initialized")
		} else {
			defer jwksVerifier.Close()
			verifier = jwksVerifier
		}
	}
	authenticator := auth.NewAuthenticator(verifier, cfg.JWT.Secret)

	var apiAuthMiddleware fiber.Handler
	if cfg.Gateway.Enabled {
		log.Info().Msg("Gateway mode enabled, using header-based auth")
		apiAuthMiddleware = middleware.GatewayAuthMiddleware()
	} else {
		apiAuthMiddleware = middleware.NewAuthMiddleware(authenticator).Authenticate()
	}
	rateLimiter := middleware.NewRateLimiter(redisClient, log)

	app := fiber.New(fiber.Config{
		ErrorHandler: response.FiberError,
		BodyLimit:    50 * 1024 * 1024, // 50MB
	})

	app.Use(recover.New())
	app.Use(middleware.RequestLogger(log))
	app.Use(middleware.Metrics(m))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"timestamp": time.Now().Unix(),
		})
	})

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"redis":    redisClient.Ping(c.UserContext()).Err() == nil,
				"storage":  storage != nil,
				"auth":     verifier != nil || cfg.JWT.Secret != "",
				"channels": registry.Channels(),
			},
		})
	})

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// ForwardAuth verification endpoint, called by the gateway
	app.Get("/auth/verify", handler.NewAuthHandler(authenticator).Verify)

	api := app.Group("/api", apiAuthMiddleware)
	handler.Register(api, generation, validator.New(), rateLimiter.GenerateLimit(cfg.RateLimit.GeneratePerHour), log)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/tasks/:id", websocket.New(func(c *websocket.Conn) {
		hub.HandleConnection(c, c.Params("id"))
	}))

	srv := newWorkerServer(cfg, redisOpt, log)
	generationWorker := worker.NewGenerationWorker(cfg, tasks, credits, registry, storage, hub, status, m, log)
	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypeGenerate, generationWorker.ProcessTask)
	if err := srv.Start(mux); err != nil {
		log.Fatal().Err(err).Msg("Failed to start worker server")
	}

	scheduler := worker.NewScheduler(worker.NewRecovery(tasks, credits, queue, cfg.Worker.RecoveryAfter, log), status, log)
	if err := scheduler.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start scheduler")
	}

	go func() {
		<-ctx.Done()
		log.Info().Msg("Shutting down server...")
		scheduler.Stop()
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Error().Err(err).Msg("Server shutdown error")
		}
		srv.Shutdown()
	}()

	addr := ":" + cfg.Server.Port
	log.Info().Str("addr", addr).Msg("Server starting")
	if err := app.Listen(addr); err != nil {
		log.Fatal().Err(err).Msg("Server error")
	}
}

func newWorkerServer(cfg *config.Config, redisOpt asynq.RedisClientOpt, log zerolog.Logger) *asynq.Server {
	asynqLogLevel := asynq.InfoLevel
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		asynqLogLevel = asynq.DebugLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "warn") {
		asynqLogLevel = asynq.WarnLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "error") {
		asynqLogLevel = asynq.ErrorLevel
	}

	concurrency := cfg.Worker.Concurrency
	if concurrency <= 0 {
		concurrency = 10
	}

	return asynq.NewServer(redisOpt, asynq.Config{
		Concurrency:     concurrency,
		Queues:          service.QueueWeights,
		Logger:          logging.NewAsynqLogger(log),
		LogLevel:        asynqLogLevel,
		ShutdownTimeout: 30 * time.Second,
	})
}
