// Package config loads service configuration from the environment.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds all environment-driven settings for the server and worker.
type Config struct {
	Domain      string
	ProjectName string
	Debug       bool
	HTTPPort    string
	CORSOrigins []string

	RedisURI       string
	RedisQueueName string

	SurrealURI       string
	SurrealUsername  string
	SurrealPassword  string
	SurrealNamespace string
	SurrealDatabase  string

	StoragePath string

	OpenRouterAPIKey  string
	OpenRouterBaseURL string
	LLMModel          string
	EmbeddingModel    string

	// PromptSource is either a local directory or an http(s) base URL;
	// prompt templates are resolved under <PromptSource>/prompts/.
	PromptSource string
}

// Load reads configuration from environment variables, applying defaults
// suitable for local development.
func Load() (*Config, error) {
	cfg := &Config{
		Domain:      getEnv("DOMAIN", "localhost"),
		ProjectName: getEnv("PROJECT_NAME", "mnemora"),
		Debug:       getEnvBool("DEBUG", false),
		HTTPPort:    getEnv("HTTP_PORT", "8080"),
		CORSOrigins: parseOrigins(os.Getenv("CORS_ORIGINS")),

		RedisURI:       getEnv("REDIS_URI", "redis://localhost:6379/0"),
		RedisQueueName: getEnv("REDIS_QUEUE_NAME", "ingestion"),

		SurrealURI:       getEnv("SURREALDB_URI", "ws://localhost:8000/rpc"),
		SurrealUsername:  getEnv("SURREALDB_USERNAME", "root"),
		SurrealPassword:  getEnv("SURREALDB_PASSWORD", "root"),
		SurrealNamespace: getEnv("SURREALDB_NAMESPACE", "mnemora"),
		SurrealDatabase:  getEnv("SURREALDB_DATABASE", "memory"),

		StoragePath: getEnv("STORAGE_PATH", "./storage"),

		OpenRouterAPIKey:  os.Getenv("OPENROUTER_API_KEY"),
		OpenRouterBaseURL: getEnv("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
		LLMModel:          getEnv("LLM_MODEL", "openai/gpt-4o-mini"),
		EmbeddingModel:    getEnv("EMBEDDING_MODEL", "openai/text-embedding-3-small"),

		PromptSource: getEnv("PROMPT_SOURCE", "."),
	}

	if cfg.SurrealURI == "" {
		return nil, fmt.Errorf("SURREALDB_URI must not be empty")
	}
	if cfg.RedisQueueName == "" {
		return nil, fmt.Errorf("REDIS_QUEUE_NAME must not be empty")
	}

	return cfg, nil
}

// parseOrigins accepts either a comma-separated list or a JSON array of
// origin strings. Empty input yields no origins.
func parseOrigins(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if strings.HasPrefix(raw, "[") {
		var origins []string
		if err := json.Unmarshal([]byte(raw), &origins); err == nil {
			return trimAll(origins)
		}
	}
	return trimAll(strings.Split(raw, ","))
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
