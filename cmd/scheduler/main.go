package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/thera-pipeline/matcher/internal/ams"
	"github.com/thera-pipeline/matcher/internal/embedding"
	"github.com/thera-pipeline/matcher/internal/metrics"
	"github.com/thera-pipeline/matcher/internal/model"
	"github.com/thera-pipeline/matcher/internal/storage/sqlite"
	"github.com/thera-pipeline/matcher/pkg/config"
	appLogger "github.com/thera-pipeline/matcher/pkg/logger"
)

const embeddingRefreshJob = "embedding_refresh"

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

	appLogger.Info("Starting Matcher Scheduler")

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

	generator := embedding.NewGenerator(provider, vectorStore, cfg.Embedding.Workers)
	aggregator := ams.NewAggregator(sqliteClient, sqliteClient, cfg.AMS.ShortlistSize)
	trainer := model.NewTrainer(artifactStore, model.TrainerConfig{
		MinRows:      cfg.Training.MinRows,
		AUCEpsilon:   cfg.Training.AUCEpsilon,
		TestFraction: 0.2,
		LearningRate: 0.1,
		Epochs:       300,
		Seed:         42,
	})

	c := cron.New()

	// Nightly incremental embedding refresh, after the upstream catalog sync.
	c.AddFunc("0 2 * * *", func() {
		runEmbeddingRefresh(sqliteClient, vectorStore, generator, cfg)
	})

	// Nightly AMS aggregation for the previous UTC day.
	c.AddFunc("30 1 * * *", func() {
		day := time.Now().UTC().AddDate(0, 0, -1).Format("2006-01-02")
		runAMS(aggregator, day)
	})

	// Weekly retrain on Sunday, after the nightly jobs.
	c.AddFunc("0 4 * * 0", func() {
		runTraining(sqliteClient, trainer, cfg)
	})

	c.Start()
	appLogger.Info("Scheduler started",
		zap.String("embedding_refresh", "0 2 * * *"),
		zap.String("ams_aggregation", "30 1 * * *"),
		zap.String("training", "0 4 * * 0"),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Scheduler shutting down...")
	<-c.Stop().Done()
	appLogger.Info("Scheduler stopped")
}

func runEmbeddingRefresh(db *sqlite.Client, store *embedding.RedisStore, generator *embedding.Generator, cfg *config.Config) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Hour)
	defer cancel()

	watermark, err := db.GetWatermark(ctx, embeddingRefreshJob)
	if err != nil {
		appLogger.Error("Failed to read embedding watermark", zap.Error(err))
		return
	}

	profiles, err := db.ProfilesUpdatedSince(ctx, watermark, cfg.Embedding.MaxItems)
	if err != nil {
		appLogger.Error("Failed to load changed profiles", zap.Error(err))
		return
	}

	if len(profiles) == 0 {
		appLogger.Info("No profiles changed since last refresh", zap.Time("watermark", watermark))
		return
	}

	budget := embedding.NewBudget(cfg.Embedding.BatchBudget, cfg.Embedding.MaxItems, cfg.Embedding.CostPerCall)
	result, err := generator.Refresh(ctx, profiles, budget)
	if err != nil {
		appLogger.Error("Embedding refresh failed", zap.Error(err))
		return
	}

	metrics.BatchItems.WithLabelValues("processed").Add(float64(result.Processed))
	metrics.BatchItems.WithLabelValues("skipped").Add(float64(result.Skipped))
	metrics.BatchItems.WithLabelValues("failed").Add(float64(result.Failed))
	metrics.BatchRuns.WithLabelValues(result.Status).Inc()
	metrics.EmbeddingCalls.WithLabelValues("batch").Add(float64(result.Calls))
	metrics.EmbeddingCost.Add(result.Cost)

	// Only advance the watermark on a complete run, so budget-skipped
	// profiles are retried next night.
	if result.Status == embedding.StatusComplete {
		newWatermark := profiles[len(profiles)-1].UpdatedAt
		if err := db.SetWatermark(ctx, embeddingRefreshJob, newWatermark); err != nil {
			appLogger.Error("Failed to advance embedding watermark", zap.Error(err))
		}
	}
}

func runAMS(aggregator *ams.Aggregator, day string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	overall, err := aggregator.Run(ctx, day)
	if err != nil {
		appLogger.Error("AMS aggregation failed", zap.String("date", day), zap.Error(err))
		return
	}

	metrics.AMSOverallGauge.Set(overall.AvgAMSChallenge)
}

func runTraining(db *sqlite.Client, trainer *model.Trainer, cfg *config.Config) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Hour)
	defer cancel()

	since := time.Now().UTC().AddDate(0, 0, -cfg.Training.DaysLookback)
	contactWindow := time.Duration(cfg.Training.ContactWindowDays) * 24 * time.Hour
	rows, err := db.TrainingRows(ctx, since, contactWindow)
	if err != nil {
		appLogger.Error("Failed to load training rows", zap.Error(err))
		return
	}

	m, promoted, err := trainer.TrainAndPromote(ctx, rows)
	if errors.Is(err, model.ErrNotEnoughRows) {
		appLogger.Warn("Skipping training run", zap.Error(err))
		return
	}
	if err != nil {
		appLogger.Error("Training run failed", zap.Error(err))
		return
	}

	metrics.ModelAUC.Set(m.AUC)
	decision := "rejected"
	if promoted {
		decision = "promoted"
	}
	metrics.ModelPromotions.WithLabelValues(decision).Inc()

	appLogger.Info("Training run finished",
		zap.String("version", m.ModelVersion),
		zap.Float64("auc", m.AUC),
		zap.Bool("promoted", promoted),
	)
}
