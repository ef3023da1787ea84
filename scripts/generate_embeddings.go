// Command generate_embeddings fills in place embeddings that are still NULL.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	database "github.com/FACorreiaa/haru-planner/app/db"
	appLogger "github.com/FACorreiaa/haru-planner/app/logger"
	"github.com/FACorreiaa/haru-planner/config"
	generativeAI "github.com/FACorreiaa/haru-planner/internal/api/generative_ai"
	"github.com/FACorreiaa/haru-planner/internal/api/retrieval"
)

func main() {
	batch := flag.Int("batch", retrieval.DefaultBackfillBatch, "places per batch")
	workers := flag.Int("workers", retrieval.DefaultBackfillConcurrency, "concurrent embedding calls")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: Could not load .env file: %v", err)
	}

	cfg, err := config.InitConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger := appLogger.New(cfg.Log, cfg.Mode)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	dbConfig, err := database.NewDatabaseConfig(&cfg, logger)
	if err != nil {
		logger.Error("Failed to generate database config", slog.Any("error", err))
		os.Exit(1)
	}
	pool, err := database.Init(ctx, dbConfig.ConnectionURL, cfg.Repositories.Postgres.MaxConns, logger)
	if err != nil {
		logger.Error("Failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	ai, err := generativeAI.NewAIClient(ctx, generativeAI.Config{
		APIKey:              cfg.Tagging.GeminiAPIKey,
		EmbeddingModel:      cfg.Tagging.EmbeddingModel,
		EmbeddingDimensions: int(cfg.Tagging.EmbeddingDimensions),
	})
	if err != nil {
		logger.Error("Failed to create embedding client", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("Starting embedding generation for places...")
	report, err := retrieval.NewBackfiller(pool, ai, *batch, *workers, nil, logger).Run(ctx)
	if err != nil {
		logger.Error("Place embedding generation finished with errors",
			slog.Any("error", err), slog.Int("processed", report.Processed))
		os.Exit(1)
	}
	logger.Info("Embedding generation completed!", slog.Int("processed", report.Processed))
}
