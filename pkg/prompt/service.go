package prompt

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

// Service caches prompts loaded from a store. Reload drops the cache so the
// next Get hits the source again.
type Service struct {
	store Store

	mu    sync.RWMutex
	cache map[string]Prompt
}

func NewService(store Store) *Service {
	return &Service{store: store, cache: make(map[string]Prompt)}
}

// Get returns a prompt by name, loading it from the store on first use.
func (s *Service) Get(ctx context.Context, name string) (Prompt, error) {
	s.mu.RLock()
	p, ok := s.cache[name]
	s.mu.RUnlock()
	if ok {
		return p, nil
	}

	p, err := s.store.Get(ctx, name)
	if err != nil {
		return Prompt{}, err
	}

	s.mu.Lock()
	s.cache[name] = p
	s.mu.Unlock()

	slog.Debug("Loaded prompt", "name", name)
	return p, nil
}

// Reload clears the cache; prompts reload lazily on next use.
func (s *Service) Reload() {
	s.mu.Lock()
	s.cache = make(map[string]Prompt)
	s.mu.Unlock()
	slog.Info("Prompt cache cleared, prompts reload on next request")
}

// Render substitutes {name} placeholders in a template.
func Render(template string, vars map[string]string) string {
	out := template
	for key, value := range vars {
		out = strings.ReplaceAll(out, "{"+key+"}", value)
	}
	return out
}
