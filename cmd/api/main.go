package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/botsentry/backend/internal/api/handlers"
	rediscache "github.com/botsentry/backend/internal/cache/redis"
	"github.com/botsentry/backend/internal/detection"
	"github.com/botsentry/backend/internal/extraction"
	"github.com/botsentry/backend/internal/metrics"
	"github.com/botsentry/backend/internal/middleware/ratelimit"
	"github.com/botsentry/backend/internal/middleware/security"
	"github.com/botsentry/backend/internal/pipeline"
	"github.com/botsentry/backend/internal/reddit"
	"github.com/botsentry/backend/internal/session"
	"github.com/botsentry/backend/internal/storage/sqlite"
	"github.com/botsentry/backend/pkg/config"
	appLogger "github.com/botsentry/backend/pkg/logger"
)

func main() {
	godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting BotSentry API Server")

	metrics.Init()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	err = sqliteClient.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	var profileCache reddit.ProfileCache
	if cfg.Redis.Enabled {
		redisClient, err := rediscache.NewClient(
			cfg.Redis.Host,
			cfg.Redis.Port,
			cfg.Redis.Password,
			cfg.Redis.DB,
			time.Duration(cfg.Redis.TTLSec)*time.Second,
		)
		if err != nil {
			appLogger.Fatal("Failed to create Redis client", zap.Error(err))
		}
		defer redisClient.Close()
		profileCache = redisClient
	}

	redditClient := reddit.NewClient(reddit.Config{
		ClientID:     cfg.Reddit.ClientID,
		ClientSecret: cfg.Reddit.ClientSecret,
		UserAgent:    cfg.Reddit.UserAgent,
		BaseURL:      cfg.Reddit.BaseURL,
		AuthURL:      cfg.Reddit.AuthURL,
		Timeout:      time.Duration(cfg.Reddit.TimeoutSec) * time.Second,
		RequestDelay: time.Duration(cfg.Extraction.RequestDelayMS) * time.Millisecond,
		Cache:        profileCache,
	})

	sessionManager := session.NewManager(sqliteClient)
	extractor := extraction.NewExtractor(redditClient, sqliteClient)
	engine := detection.NewEngine(cfg.Detection.AnomalyWeight, cfg.Detection.Workers)
	orchestrator := pipeline.NewOrchestrator(sessionManager, extractor, engine, sqliteClient, cfg.Extraction.PageLimit)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{}))

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: 60,
		Logger:               appLogger.Log,
	})
	app.Use(limiter.Middleware())

	sessionHandler := handlers.NewSessionHandler(sessionManager)
	analysisHandler := handlers.NewAnalysisHandler(orchestrator, sqliteClient)

	api := app.Group("/api/v1")

	api.Post("/sessions", sessionHandler.CreateSession)
	api.Get("/sessions", sessionHandler.ListSessions)
	api.Get("/sessions/:id", sessionHandler.GetSession)
	api.Delete("/sessions/:id", sessionHandler.DeleteSession)
	api.Post("/sessions/:id/analyze", analysisHandler.RunAnalysis)
	api.Get("/verdicts", analysisHandler.ListVerdicts)

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	app.Get("/metrics", metrics.MetricsHandler())

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	app.Shutdown()
	appLogger.Info("Server stopped")
}
