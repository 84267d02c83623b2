package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "mnemora", cfg.ProjectName)
	assert.Equal(t, "ingestion", cfg.RedisQueueName)
	assert.Equal(t, "ws://localhost:8000/rpc", cfg.SurrealURI)
	assert.False(t, cfg.Debug)
	assert.Empty(t, cfg.CORSOrigins)
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("PROJECT_NAME", "memsvc")
	t.Setenv("DEBUG", "true")
	t.Setenv("REDIS_QUEUE_NAME", "jobs")
	t.Setenv("SURREALDB_NAMESPACE", "prod")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "memsvc", cfg.ProjectName)
	assert.True(t, cfg.Debug)
	assert.Equal(t, "jobs", cfg.RedisQueueName)
	assert.Equal(t, "prod", cfg.SurrealNamespace)
}

func TestParseOrigins(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name:  "empty",
			input: "",
			want:  nil,
		},
		{
			name:  "comma separated",
			input: "http://a.example.com, http://b.example.com",
			want:  []string{"http://a.example.com", "http://b.example.com"},
		},
		{
			name:  "json array",
			input: `["http://a.example.com","http://b.example.com"]`,
			want:  []string{"http://a.example.com", "http://b.example.com"},
		},
		{
			name:  "single origin",
			input: "http://localhost:3000",
			want:  []string{"http://localhost:3000"},
		},
		{
			name:  "malformed json falls back to comma split",
			input: `[not json`,
			want:  []string{"[not json"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, parseOrigins(tt.input))
		})
	}
}
