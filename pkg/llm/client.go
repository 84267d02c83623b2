// Package llm talks to an OpenRouter-compatible chat and embedding API and
// hosts the extraction helpers built on top of it.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

const embeddingBatchSize = 100

// Client is the model surface the rest of the service depends on.
type Client interface {
	// Chat sends a system+user exchange and returns the raw completion.
	Chat(ctx context.Context, system, user string) (string, error)
	// ChatJSON is Chat with the response constrained to a JSON object.
	ChatJSON(ctx context.Context, system, user string) (string, error)
	// EmbedBatch embeds texts, batching requests. Empty texts are skipped.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Config carries the OpenRouter connection settings.
type Config struct {
	APIKey         string
	BaseURL        string
	Model          string
	EmbeddingModel string
}

// OpenRouter implements Client over the OpenAI-compatible OpenRouter API.
type OpenRouter struct {
	model *openai.LLM
}

// NewOpenRouter creates the client. Extraction calls run at temperature 0.1
// for stable output.
func NewOpenRouter(cfg Config) (*OpenRouter, error) {
	model, err := openai.New(
		openai.WithToken(cfg.APIKey),
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithModel(cfg.Model),
		openai.WithEmbeddingModel(cfg.EmbeddingModel),
	)
	if err != nil {
		return nil, fmt.Errorf("initializing model client: %w", err)
	}
	slog.Info("Initialized LLM client", "model", cfg.Model, "embedding_model", cfg.EmbeddingModel)
	return &OpenRouter{model: model}, nil
}

func (c *OpenRouter) Chat(ctx context.Context, system, user string) (string, error) {
	return c.generate(ctx, system, user, false)
}

func (c *OpenRouter) ChatJSON(ctx context.Context, system, user string) (string, error) {
	return c.generate(ctx, system, user, true)
}

func (c *OpenRouter) generate(ctx context.Context, system, user string, jsonMode bool) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, user),
	}

	opts := []llms.CallOption{llms.WithTemperature(0.1)}
	if jsonMode {
		opts = append(opts, llms.WithJSONMode())
	}

	resp, err := c.model.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return "", fmt.Errorf("generating completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("generating completion: no choices returned")
	}
	return resp.Choices[0].Content, nil
}

// EmbedBatch embeds texts in batches of 100, skipping blank entries.
func (c *OpenRouter) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	valid := make([]string, 0, len(texts))
	for _, t := range texts {
		if strings.TrimSpace(t) != "" {
			valid = append(valid, t)
		}
	}
	if dropped := len(texts) - len(valid); dropped > 0 {
		slog.Warn("Filtered empty texts from embedding batch", "dropped", dropped)
	}
	if len(valid) == 0 {
		return nil, nil
	}

	embeddings := make([][]float32, 0, len(valid))
	for start := 0; start < len(valid); start += embeddingBatchSize {
		end := min(start+embeddingBatchSize, len(valid))
		batch, err := c.model.CreateEmbedding(ctx, valid[start:end])
		if err != nil {
			return nil, fmt.Errorf("embedding batch %d-%d: %w", start, end, err)
		}
		embeddings = append(embeddings, batch...)
		slog.Debug("Generated embedding batch", "from", start, "to", end)
	}
	return embeddings, nil
}

// Embed embeds a single text. Blank text is an error.
func Embed(ctx context.Context, c Client, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("cannot embed empty text")
	}
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	return vectors[0], nil
}
