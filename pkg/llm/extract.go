package llm

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/mnemora/mnemora/pkg/prompt"
)

// ExtractedEntity is one entity the model found in a text.
type ExtractedEntity struct {
	Name       string         `json:"name"`
	EntityType string         `json:"entity_type"`
	Data       map[string]any `json:"data,omitempty"`
}

// ExtractedRelation links two extracted entities by name.
type ExtractedRelation struct {
	FromEntity   string         `json:"from_entity"`
	ToEntity     string         `json:"to_entity"`
	RelationType string         `json:"relation_type"`
	Data         map[string]any `json:"data,omitempty"`
}

// Extractor runs the extraction and classification prompts. Every method
// degrades to an empty result on failure so a flaky model never fails a
// pipeline run.
type Extractor struct {
	client  Client
	prompts *prompt.Service
}

func NewExtractor(client Client, prompts *prompt.Service) *Extractor {
	return &Extractor{client: client, prompts: prompts}
}

// ExtractEntities pulls entities out of a text. When allowedTypes is
// non-empty the system prompt is extended with the permitted list.
func (e *Extractor) ExtractEntities(ctx context.Context, text string, allowedTypes []string) []ExtractedEntity {
	p, err := e.prompts.Get(ctx, "entity_extraction")
	if err != nil {
		slog.Error("Failed to load entity extraction prompt", "error", err)
		return nil
	}

	system := withAllowedTypes(p.System, "entity types", allowedTypes)
	user := prompt.Render(p.User, map[string]string{"text": text})

	raw, err := e.client.ChatJSON(ctx, system, user)
	if err != nil {
		slog.Error("Failed to extract entities", "error", err)
		return nil
	}

	entities := parseEnvelope[ExtractedEntity](raw, "entities")
	slog.Info("Extracted entities from text", "count", len(entities))
	return entities
}

// ExtractRelations pulls relations between already-extracted entities.
// Fewer than two entities cannot relate, so the model is not consulted.
func (e *Extractor) ExtractRelations(ctx context.Context, text string, entities []ExtractedEntity, allowedTypes []string) []ExtractedRelation {
	if len(entities) < 2 {
		return nil
	}

	p, err := e.prompts.Get(ctx, "relation_extraction")
	if err != nil {
		slog.Error("Failed to load relation extraction prompt", "error", err)
		return nil
	}

	entitiesJSON, err := json.MarshalIndent(entities, "", "  ")
	if err != nil {
		slog.Error("Failed to encode entities for relation extraction", "error", err)
		return nil
	}

	system := withAllowedTypes(p.System, "relation types", allowedTypes)
	user := prompt.Render(p.User, map[string]string{
		"text":     text,
		"entities": string(entitiesJSON),
	})

	raw, err := e.client.ChatJSON(ctx, system, user)
	if err != nil {
		slog.Error("Failed to extract relations", "error", err)
		return nil
	}

	relations := parseEnvelope[ExtractedRelation](raw, "relations")
	slog.Info("Extracted relations from text", "count", len(relations))
	return relations
}

// CheckSufficiency asks whether the given content answers the question.
// Anything other than a clear yes, including errors, is a no.
func (e *Extractor) CheckSufficiency(ctx context.Context, question, content string) bool {
	p, err := e.prompts.Get(ctx, "sufficiency_check")
	if err != nil {
		slog.Error("Failed to load sufficiency prompt", "error", err)
		return false
	}

	user := prompt.Render(p.User, map[string]string{
		"question": question,
		"content":  content,
	})

	raw, err := e.client.Chat(ctx, p.System, user)
	if err != nil {
		slog.Error("Sufficiency check failed", "error", err)
		return false
	}

	answer := strings.ToLower(strings.TrimSpace(raw))
	return answer == "yes" || strings.HasPrefix(answer, "yes")
}

func withAllowedTypes(system, label string, types []string) string {
	if len(types) == 0 {
		return system
	}
	return system + "\n\nOnly use these " + label + ": " + strings.Join(types, ", ") + "."
}

// parseEnvelope accepts {"<key>": [...]}, a bare list, or a single object,
// mirroring the loose shapes models actually return.
func parseEnvelope[T any](raw, key string) []T {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		slog.Warn("Empty model response", "key", key)
		return nil
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &envelope); err == nil {
		inner, ok := envelope[key]
		if !ok {
			return nil
		}
		return parseListOrSingle[T](inner, key)
	}

	return parseListOrSingle[T]([]byte(trimmed), key)
}

func parseListOrSingle[T any](raw []byte, key string) []T {
	var list []T
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	var single T
	if err := json.Unmarshal(raw, &single); err == nil {
		return []T{single}
	}
	slog.Warn("Unparseable model response", "key", key)
	return nil
}
