package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/thera-pipeline/matcher/internal/ams"
	"github.com/thera-pipeline/matcher/internal/api/handlers"
	"github.com/thera-pipeline/matcher/internal/embedding"
	"github.com/thera-pipeline/matcher/internal/matching"
	"github.com/thera-pipeline/matcher/internal/metrics"
	"github.com/thera-pipeline/matcher/internal/middleware/ratelimit"
	"github.com/thera-pipeline/matcher/internal/model"
	"github.com/thera-pipeline/matcher/internal/retrieval"
	"github.com/thera-pipeline/matcher/internal/scoring"
	"github.com/thera-pipeline/matcher/internal/storage/sqlite"
	"github.com/thera-pipeline/matcher/pkg/config"
	appLogger "github.com/thera-pipeline/matcher/pkg/logger"
)

func main() {
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

	appLogger.Info("Starting Matcher API Server")

	if err := scoring.ValidateWeights(); err != nil {
		appLogger.Fatal("Invalid scoring weights", zap.Error(err))
	}

	metrics.Init()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	if err := sqliteClient.InitSchema(); err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	vectorStore, err := embedding.NewRedisStore(
		cfg.Redis.Host,
		cfg.Redis.Port,
		cfg.Redis.Password,
		cfg.Redis.DB,
	)
	if err != nil {
		appLogger.Fatal("Failed to create vector store", zap.Error(err))
	}
	defer vectorStore.Close()

	arena, err := embedding.LoadArena(context.Background(), vectorStore, cfg.Embedding.Dim)
	if err != nil {
		appLogger.Fatal("Failed to load embedding arena", zap.Error(err))
	}
	arenaHandle := embedding.NewArenaHandle(arena)

	reloadCtx, stopReload := context.WithCancel(context.Background())
	defer stopReload()
	go arenaHandle.ReloadEvery(reloadCtx, vectorStore, cfg.Embedding.Dim, 10*time.Minute)

	provider := embedding.NewOpenAIProvider(
		cfg.Embedding.APIKey,
		cfg.Embedding.Model,
		cfg.Embedding.Dim,
		time.Duration(cfg.Embedding.TimeoutSec)*time.Second,
		cfg.Embedding.MaxAttempts,
	)

	artifactStore, err := model.NewS3Store(
		context.Background(),
		cfg.Artifacts.Bucket,
		cfg.Artifacts.Prefix,
		cfg.Artifacts.Region,
	)
	if err != nil {
		appLogger.Fatal("Failed to create model artifact store", zap.Error(err))
	}

	retriever := retrieval.NewRetriever(sqliteClient, cfg.Matching.MaxCandidates, cfg.Matching.MinCandidates)
	scorer := scoring.NewEngine(arenaHandle, cfg.Matching.ScoreWorkers, cfg.Matching.TopResults)
	engine := matching.NewEngine(provider, retriever, scorer, artifactStore, sqliteClient, cfg.MatchDeadline())

	aggregator := ams.NewAggregator(sqliteClient, sqliteClient, cfg.AMS.ShortlistSize)

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
		AllowMethods: "GET, POST, OPTIONS",
	}))

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: cfg.Server.MaxRequestsPerMinute,
		Logger:               appLogger.GetLogger(),
	})

	matchHandler := handlers.NewMatchHandler(engine)
	amsHandler := handlers.NewAMSHandler(sqliteClient, aggregator)

	api := app.Group("/api/v1")

	api.Post("/match", limiter.Middleware(), matchHandler.HandleMatch)

	api.Get("/ams", amsHandler.HandleGetAMS)
	api.Get("/ams/challenges", amsHandler.HandleGetAMSChallenges)
	api.Post("/ams/recompute", amsHandler.HandleRecompute)

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	api.Get("/ready", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ready",
			"vectors": arenaHandle.Len(),
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
