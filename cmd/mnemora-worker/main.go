// Mnemora ingest worker — drains the Redis queue and turns queued ingest
// jobs into embedded artifact chunks.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/mnemora/mnemora/pkg/config"
	"github.com/mnemora/mnemora/pkg/database"
	"github.com/mnemora/mnemora/pkg/ingest"
	"github.com/mnemora/mnemora/pkg/llm"
	"github.com/mnemora/mnemora/pkg/model"
	"github.com/mnemora/mnemora/pkg/queue"
	"github.com/mnemora/mnemora/pkg/store"
)

func main() {
	envFile := flag.String("env-file", getEnv("ENV_FILE", ".env"), "Path to .env file")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", *envFile, "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	slog.Info("Starting mnemora worker", "queue", cfg.RedisQueueName)

	// 2. Connect to the database
	db, err := database.Connect(ctx, database.Config{
		URI:       cfg.SurrealURI,
		Username:  cfg.SurrealUsername,
		Password:  cfg.SurrealPassword,
		Namespace: cfg.SurrealNamespace,
		Database:  cfg.SurrealDatabase,
	})
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			slog.Error("Error closing database connection", "error", err)
		}
	}()

	// 3. Connect to Redis
	redisClient, err := queue.NewClient(cfg.RedisURI)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			slog.Error("Error closing Redis client", "error", err)
		}
	}()
	jobQueue := queue.New(redisClient, cfg.RedisQueueName)

	// 4. Create the embedding client
	llmClient, err := llm.NewOpenRouter(llm.Config{
		APIKey:         cfg.OpenRouterAPIKey,
		BaseURL:        cfg.OpenRouterBaseURL,
		Model:          cfg.LLMModel,
		EmbeddingModel: cfg.EmbeddingModel,
	})
	if err != nil {
		slog.Error("Failed to initialize LLM client", "error", err)
		os.Exit(1)
	}

	// 5. Start the worker loop
	exec := database.NewExecutor(db, model.DefaultRegistry())
	processor := ingest.NewJobProcessor(
		store.NewRepository[model.IngestJob](exec),
		store.NewRepository[model.Artifact](exec),
		store.NewRepository[model.ArtifactChunk](exec),
		llmClient,
	)
	worker := queue.NewWorker(jobQueue, processor)
	worker.Start(ctx)
	slog.Info("Worker started", "queue", jobQueue.Name())

	// 6. Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	slog.Info("Shutdown signal received", "signal", sig)

	// 7. Stop the worker, letting the in-flight job finish
	cancel()
	worker.Stop()
	slog.Info("Worker stopped", "processed", worker.Processed())
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
