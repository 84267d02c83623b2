// Package prompt loads chat prompt templates from a local directory or an
// HTTP prompt registry and caches them in memory.
package prompt

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Prompt is a two-part chat template. Placeholders use {name} syntax.
type Prompt struct {
	System string `json:"system" yaml:"system"`
	User   string `json:"user" yaml:"user"`
}

// Store resolves prompts by name.
type Store interface {
	Get(ctx context.Context, name string) (Prompt, error)
}

// NewStore picks the backing store for a prompt source: an http(s) URL gets
// the registry client, anything else is treated as a base directory holding
// a prompts/ subdirectory.
func NewStore(source string) Store {
	if u, err := url.Parse(source); err == nil && u.Scheme != "" && u.Host != "" {
		return NewHTTPStore(source)
	}
	return NewFileStore(filepath.Join(source, "prompts"))
}

// FileStore reads one prompt per file from a directory. Structured formats
// carry system and user sections; plain-text formats become the system
// prompt with a pass-through user template.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

var fileExtensions = []string{".yaml", ".yml", ".json", ".txt", ".md", ".prompt"}

func (s *FileStore) Get(_ context.Context, name string) (Prompt, error) {
	for _, ext := range fileExtensions {
		path := filepath.Join(s.dir, name+ext)
		content, err := os.ReadFile(path)
		if err != nil {
			continue
		}

		p, err := parsePromptFile(ext, content)
		if err != nil {
			slog.Warn("Failed to parse prompt file", "path", path, "error", err)
			continue
		}
		return p, nil
	}
	return Prompt{}, fmt.Errorf("prompt %q not found in %s", name, s.dir)
}

func parsePromptFile(ext string, content []byte) (Prompt, error) {
	var p Prompt
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(content, &p); err != nil {
			return Prompt{}, err
		}
	case ".json":
		if err := json.Unmarshal(content, &p); err != nil {
			return Prompt{}, err
		}
	default:
		return Prompt{System: string(content), User: "{text}"}, nil
	}
	if p.System == "" || p.User == "" {
		return Prompt{}, fmt.Errorf("prompt needs system and user sections")
	}
	return p, nil
}

// HTTPStore fetches prompts from a registry exposing GET /prompts/{name}.
type HTTPStore struct {
	base   string
	client *http.Client
}

func NewHTTPStore(base string) *HTTPStore {
	return &HTTPStore{
		base:   strings.TrimRight(base, "/"),
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *HTTPStore) Get(ctx context.Context, name string) (Prompt, error) {
	reqURL := s.base + "/prompts/" + url.PathEscape(name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return Prompt{}, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return Prompt{}, fmt.Errorf("fetching prompt %q: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Prompt{}, fmt.Errorf("fetching prompt %q: status %d", name, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Prompt{}, err
	}
	var p Prompt
	if err := json.Unmarshal(body, &p); err != nil {
		return Prompt{}, fmt.Errorf("decoding prompt %q: %w", name, err)
	}
	return p, nil
}
