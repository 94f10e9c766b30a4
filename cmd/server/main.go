package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-playground/validator/v10"
	fiberws "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/beatforge/api/internal/auth"
	"github.com/beatforge/api/internal/client"
	"github.com/beatforge/api/internal/config"
	"github.com/beatforge/api/internal/handler"
	"github.com/beatforge/api/internal/keycache"
	"github.com/beatforge/api/internal/middleware"
	"github.com/beatforge/api/internal/service"
	"github.com/beatforge/api/internal/store"
	"github.com/beatforge/api/internal/websocket"
	"github.com/beatforge/api/internal/worker"
)

// @title BeatForge API
// @version 1.0
// @description Asynchronous beat generation and sales backend for producing agents.
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	st, err := store.Open(&cfg.SQLite)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	asynqRedis := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	asynqClient := asynq.NewClient(asynqRedis)
	defer asynqClient.Close()

	validate := validator.New()
	keys := keycache.New(redisClient)

	hub := websocket.NewHub()
	go hub.Run()

	// External clients
	suno := client.NewSunoClient(&cfg.Suno)
	paypal := client.NewPayPalClient(&cfg.PayPal)
	mailer := client.NewMailerClient(&cfg.Mailer)

	var storage client.StorageClient
	if cfg.R2.AccountID != "" {
		r2, err := client.NewR2Client(&cfg.R2)
		if err != nil {
			log.Printf("Warning: R2 storage unavailable, media archival disabled: %v", err)
		} else {
			storage = r2
		}
	} else {
		log.Println("R2 storage not configured, media archival disabled")
	}

	// Services
	tokens := service.NewTokenSigner(cfg.Secrets.DownloadSecret)
	postSvc := service.NewPostProcessService(st, suno, cfg)
	generateSvc := service.NewGenerateService(st, suno, keys, cfg)
	callbackSvc := service.NewCallbackService(st, postSvc, keys, hub)
	purchaseSvc := service.NewPurchaseService(st, paypal, tokens, asynqClient, mailer, cfg)
	downloadSvc := service.NewDownloadService(st, postSvc, tokens, cfg)
	beatSvc := service.NewBeatService(st)
	agentSvc := service.NewAgentService(st)

	// Handlers
	healthHandler := handler.NewHealthHandler()
	generateHandler := handler.NewGenerateHandler(generateSvc, validate)
	beatHandler := handler.NewBeatHandler(beatSvc, downloadSvc)
	postHandler := handler.NewPostProcessHandler(postSvc, validate)
	callbackHandler := handler.NewCallbackHandler(callbackSvc, postSvc)
	purchaseHandler := handler.NewPurchaseHandler(purchaseSvc, validate)
	downloadHandler := handler.NewDownloadHandler(downloadSvc)
	agentHandler := handler.NewAgentHandler(agentSvc, validate)

	// Agent authentication: behind the gateway the edge terminates auth
	// and forwards identity headers; standalone we verify tokens here.
	var authenticate fiber.Handler
	if cfg.Gateway.Enabled {
		log.Println("Gateway mode: trusting X-Agent-* identity headers")
		authenticate = middleware.GatewayAuthMiddleware()
	} else {
		verifier, err := auth.NewJWKSVerifier(&cfg.Zitadel)
		if err != nil {
			log.Printf("Warning: JWKS verification unavailable (%v), using legacy tokens only", err)
			authenticate = middleware.NewLegacyAuthMiddleware(cfg.JWT.Secret).Authenticate()
		} else {
			defer verifier.Close()
			authenticate = middleware.NewAuthMiddlewareWithFallback(verifier, cfg.JWT.Secret).Authenticate()
		}
	}

	rl := middleware.NewRateLimiter(redisClient)

	app := fiber.New(fiber.Config{
		AppName:   "beatforge-api",
		BodyLimit: 2 * 1024 * 1024,
	})
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New())

	// Public surface
	app.Get("/health", healthHandler.Health)
	app.Get("/download", rl.DownloadLimit(cfg.RateLimit.DownloadPerMin), downloadHandler.Download)
	app.Get("/samples/stems", rl.DownloadLimit(cfg.RateLimit.DownloadPerMin), downloadHandler.SampleStems)

	purchases := app.Group("/purchases", rl.PurchaseLimit(cfg.RateLimit.PurchasePerMin))
	purchases.Post("/verify", purchaseHandler.RequestVerification)
	purchases.Post("/orders", purchaseHandler.CreateOrder)
	purchases.Post("/capture", purchaseHandler.Capture)

	callbacks := app.Group("/callbacks", middleware.WebhookSecret(cfg.Secrets.CallbackSecret))
	callbacks.Post("/generation", callbackHandler.Generation)
	callbacks.Post("/lossless", callbackHandler.Lossless)
	callbacks.Post("/stems", callbackHandler.Stems)

	// Authenticated agent surface
	api := app.Group("/api", authenticate)
	api.Get("/agents/me", agentHandler.Profile)
	api.Put("/agents/me", agentHandler.UpdateProfile)
	api.Post("/beats/generate", rl.GenerateLimit(cfg.RateLimit.GeneratePerHour), generateHandler.Generate)
	api.Get("/beats", beatHandler.List)
	api.Get("/beats/:id", beatHandler.Get)
	api.Delete("/beats/:id", beatHandler.Delete)
	api.Post("/beats/:id/postprocess", postHandler.Trigger)
	api.Post("/beats/:id/sample-link", beatHandler.SampleLink)

	// Task progress subscriptions
	app.Use("/ws", func(c *fiber.Ctx) error {
		if fiberws.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/tasks/:taskId", fiberws.New(func(conn *fiberws.Conn) {
		hub.HandleConnection(conn, conn.Params("taskId"))
	}))

	// Background worker server for post-capture side effects.
	workerSrv := asynq.NewServer(asynqRedis, asynq.Config{
		Concurrency: 5,
		Queues:      map[string]int{"default": 1},
	})
	mux := asynq.NewServeMux()
	mux.Handle(service.TaskTypeNotifyBuyer, worker.NewNotifyWorker(st, mailer, cfg.Server.PublicURL))
	mux.Handle(service.TaskTypeArchiveBeat, worker.NewArchiveWorker(st, storage))
	go func() {
		if err := workerSrv.Run(mux); err != nil {
			log.Fatalf("Worker server failed: %v", err)
		}
	}()

	go func() {
		log.Printf("Listening on :%s", cfg.Server.Port)
		if err := app.Listen(":" + cfg.Server.Port); err != nil {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")
	workerSrv.Shutdown()
	if err := app.Shutdown(); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
}
