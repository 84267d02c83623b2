package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemora/mnemora/pkg/database"
	"github.com/mnemora/mnemora/pkg/model"
	"github.com/mnemora/mnemora/pkg/store"
	"github.com/mnemora/mnemora/test/util"
)

// fakeEmbedder returns a fixed-dimension vector per text.
type fakeEmbedder struct {
	err   error
	calls [][]string
}

func (f *fakeEmbedder) Chat(context.Context, string, string) (string, error)     { return "", nil }
func (f *fakeEmbedder) ChatJSON(context.Context, string, string) (string, error) { return "", nil }

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.calls = append(f.calls, texts)
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(i), 0.5}
	}
	return out, nil
}

type processorFixture struct {
	conn      *util.MemConn
	embedder  *fakeEmbedder
	processor *JobProcessor
	jobs      *store.Repository[model.IngestJob]
}

func newProcessorFixture(t *testing.T) *processorFixture {
	t.Helper()
	conn := util.NewMemConn()
	exec := database.NewExecutor(conn, model.DefaultRegistry())
	embedder := &fakeEmbedder{}
	jobs := store.NewRepository[model.IngestJob](exec)
	return &processorFixture{
		conn:     conn,
		embedder: embedder,
		processor: NewJobProcessor(
			jobs,
			store.NewRepository[model.Artifact](exec),
			store.NewRepository[model.ArtifactChunk](exec),
			embedder,
		),
		jobs: jobs,
	}
}

func (f *processorFixture) seedJob(status model.JobStatus, artifactID string) model.IngestJob {
	job := model.IngestJob{
		Tenant:     model.Tenant{TenantID: "company:t1"},
		Status:     status,
		ArtifactID: artifactID,
	}
	job.ID = "ingest-job:j1"
	f.conn.Seed("ingest-job", map[string]any{
		"id": job.ID, "tenant_id": job.TenantID,
		"status": string(status), "artifact_id": artifactID,
	})
	return job
}

func payload(t *testing.T, job model.IngestJob) []byte {
	t.Helper()
	raw, err := json.Marshal(job)
	require.NoError(t, err)
	return raw
}

func TestJobProcessor_CompletesJob(t *testing.T) {
	f := newProcessorFixture(t)
	f.conn.Seed("artifact", map[string]any{
		"id": "artifact:a1", "tenant_id": "company:t1",
		"raw_text":  "First paragraph about Ada.\n\nSecond paragraph about the engine.",
		"meta_data": map[string]any{"source": "notes"},
	})
	job := f.seedJob(model.JobQueued, "artifact:a1")

	require.NoError(t, f.processor.Process(context.Background(), payload(t, job)))

	chunks := f.conn.Rows("artifact-chunk")
	require.NotEmpty(t, chunks)
	for i, chunk := range chunks {
		assert.Equal(t, "artifact:a1", chunk["artifact_id"])
		assert.Equal(t, "company:t1", chunk["tenant_id"])
		assert.EqualValues(t, i, chunk["chunk_index"])
		assert.NotEmpty(t, chunk["embedding"])
		meta := chunk["meta_data"].(map[string]any)
		assert.Equal(t, "notes", meta["source"])
	}

	jobs := f.conn.Rows("ingest-job")
	require.Len(t, jobs, 1)
	assert.EqualValues(t, model.JobCompleted, jobs[0]["status"])
	assert.NotNil(t, jobs[0]["completed_at"])
}

func TestJobProcessor_SkipsNonQueuedJob(t *testing.T) {
	f := newProcessorFixture(t)
	job := f.seedJob(model.JobCompleted, "artifact:a1")

	require.NoError(t, f.processor.Process(context.Background(), payload(t, job)))
	assert.Empty(t, f.conn.Rows("artifact-chunk"))
	assert.Empty(t, f.embedder.calls)
}

func TestJobProcessor_UnknownJobIsDropped(t *testing.T) {
	f := newProcessorFixture(t)
	job := model.IngestJob{ArtifactID: "artifact:a1"}
	job.ID = "ingest-job:ghost"

	require.NoError(t, f.processor.Process(context.Background(), payload(t, job)))
	assert.Empty(t, f.embedder.calls)
}

func TestJobProcessor_MissingArtifactLeavesJobProcessing(t *testing.T) {
	f := newProcessorFixture(t)
	job := f.seedJob(model.JobQueued, "artifact:gone")

	require.NoError(t, f.processor.Process(context.Background(), payload(t, job)))

	jobs := f.conn.Rows("ingest-job")
	require.Len(t, jobs, 1)
	assert.EqualValues(t, model.JobProcessing, jobs[0]["status"])
}

func TestJobProcessor_EmbeddingFailureFailsJob(t *testing.T) {
	f := newProcessorFixture(t)
	f.conn.Seed("artifact", map[string]any{
		"id": "artifact:a1", "tenant_id": "company:t1",
		"raw_text": "Some text to chunk.",
	})
	job := f.seedJob(model.JobQueued, "artifact:a1")
	f.embedder.err = errors.New("embedding service down")

	require.NoError(t, f.processor.Process(context.Background(), payload(t, job)))

	jobs := f.conn.Rows("ingest-job")
	require.Len(t, jobs, 1)
	assert.EqualValues(t, model.JobFailed, jobs[0]["status"])
	assert.Contains(t, jobs[0]["error_message"], "embedding service down")
	assert.NotNil(t, jobs[0]["completed_at"])
}

func TestJobProcessor_RejectsMalformedPayloads(t *testing.T) {
	f := newProcessorFixture(t)

	assert.Error(t, f.processor.Process(context.Background(), []byte("not json")))
	assert.Error(t, f.processor.Process(context.Background(), []byte(`{"status": "queued"}`)))
}

func TestChunker_Normalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"collapses blank line runs", "a\n\n\n\nb", "a\n\nb"},
		{"coalesces spaces and tabs", "a  \t  b", "a b"},
		{"strips trailing whitespace per line", "a  \nb\t\n", "a\nb"},
		{"trims the whole text", "  \n hello \n ", "hello"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestChunker_SplitLongText(t *testing.T) {
	chunker := NewChunker()

	var b strings.Builder
	for range 80 {
		b.WriteString("The quick brown fox jumps over the lazy dog. ")
	}
	chunks, err := chunker.Split(b.String())
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, len(chunk), defaultChunkSize+defaultChunkOverlap)
		assert.NotEmpty(t, strings.TrimSpace(chunk))
	}
}

func TestChunker_ShortTextSingleChunk(t *testing.T) {
	chunker := NewChunker()
	chunks, err := chunker.Split("just a short note")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "just a short note", chunks[0])
}
