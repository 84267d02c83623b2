// Mnemora memory server — exposes the HTTP API and accepts ingest and
// retrieval requests for tenant memories.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/mnemora/mnemora/pkg/api"
	"github.com/mnemora/mnemora/pkg/config"
	"github.com/mnemora/mnemora/pkg/database"
	"github.com/mnemora/mnemora/pkg/ingest"
	"github.com/mnemora/mnemora/pkg/llm"
	"github.com/mnemora/mnemora/pkg/model"
	"github.com/mnemora/mnemora/pkg/prompt"
	"github.com/mnemora/mnemora/pkg/queue"
	"github.com/mnemora/mnemora/pkg/retrieve"
	"github.com/mnemora/mnemora/pkg/services"
	"github.com/mnemora/mnemora/pkg/store"
	"github.com/mnemora/mnemora/pkg/version"
)

const shutdownTimeout = 30 * time.Second

func main() {
	envFile := flag.String("env-file", getEnv("ENV_FILE", ".env"), "Path to .env file")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", *envFile, "error", err)
	}

	ctx := context.Background()

	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	slog.Info("Starting mnemora server",
		"version", version.Full(), "http_port", cfg.HTTPPort, "debug", cfg.Debug)

	// 2. Connect to the database and apply the schema
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

	registry := model.DefaultRegistry()
	if err := database.InitSchema(ctx, db, registry); err != nil {
		slog.Error("Failed to initialize schema", "error", err)
		os.Exit(1)
	}
	slog.Info("Schema applied", "tables", len(registry.Tables()))

	// 3. Connect to Redis for the ingest queue
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

	// 4. Create the LLM client and prompt service
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
	prompts := prompt.NewService(prompt.NewStore(cfg.PromptSource))

	// 5. Wire stores and domain services
	exec := database.NewExecutor(db, registry)
	companies := store.NewRepository[model.Company](exec)
	entities := store.NewRepository[model.Entity](exec)
	artifacts := store.NewRepository[model.Artifact](exec)
	chunks := store.NewRepository[model.ArtifactChunk](exec)
	events := store.NewRepository[model.Event](exec)
	jobs := store.NewRepository[model.IngestJob](exec)
	relations := store.NewRelationStore(exec)

	ingestion := ingest.NewService(entities, artifacts, events, jobs, relations, jobQueue)
	resolver := retrieve.NewResolver(entities, artifacts, chunks, relations, exec,
		llm.NewExtractor(llmClient, prompts), llmClient)

	companyService := services.NewCompanyService(companies)
	memoryService := services.NewMemoryService(
		companyService, ingestion, resolver, jobs, entities, exec, llmClient)
	slog.Info("Services initialized")

	// 6. Start the HTTP server (non-blocking)
	server := api.NewServer(cfg, db, companyService, memoryService, prompts)
	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.HTTPPort
		slog.Info("HTTP server listening", "addr", addr)
		if err := server.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// 7. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 8. Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown failed", "error", err)
	}
	slog.Info("Server stopped")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
