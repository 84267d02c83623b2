// Package e2e drives the full ingest and retrieval pipeline against an
// in-memory database, a real Redis protocol server, and a canned model.
package e2e

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemora/mnemora/pkg/database"
	"github.com/mnemora/mnemora/pkg/ingest"
	"github.com/mnemora/mnemora/pkg/llm"
	"github.com/mnemora/mnemora/pkg/model"
	"github.com/mnemora/mnemora/pkg/prompt"
	"github.com/mnemora/mnemora/pkg/queue"
	"github.com/mnemora/mnemora/pkg/retrieve"
	"github.com/mnemora/mnemora/pkg/services"
	"github.com/mnemora/mnemora/pkg/store"
	"github.com/mnemora/mnemora/test/util"
)

type stubModel struct{}

func (stubModel) Chat(context.Context, string, string) (string, error) {
	return "yes", nil
}

func (stubModel) ChatJSON(context.Context, string, string) (string, error) {
	return `{"entities": []}`, nil
}

func (stubModel) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2, 0.3}
	}
	return out, nil
}

type promptMap map[string]prompt.Prompt

func (m promptMap) Get(_ context.Context, name string) (prompt.Prompt, error) {
	p, ok := m[name]
	if !ok {
		return prompt.Prompt{}, fmt.Errorf("prompt %q not found", name)
	}
	return p, nil
}

type pipeline struct {
	db        *util.MemConn
	companies *services.CompanyService
	memory    *services.MemoryService
	worker    *queue.Worker
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()

	conn := util.NewMemConn()
	exec := database.NewExecutor(conn, model.DefaultRegistry())

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	q := queue.New(client, "ingestion")

	companies := store.NewRepository[model.Company](exec)
	entities := store.NewRepository[model.Entity](exec)
	artifacts := store.NewRepository[model.Artifact](exec)
	chunks := store.NewRepository[model.ArtifactChunk](exec)
	events := store.NewRepository[model.Event](exec)
	jobs := store.NewRepository[model.IngestJob](exec)
	relations := store.NewRelationStore(exec)

	stub := stubModel{}
	prompts := prompt.NewService(promptMap{
		"entity_extraction": {System: "extract entities", User: "{text}"},
		"sufficiency_check": {System: "judge sufficiency", User: "{question}\n{content}"},
	})

	ingestion := ingest.NewService(entities, artifacts, events, jobs, relations, q)
	resolver := retrieve.NewResolver(entities, artifacts, chunks, relations, exec,
		llm.NewExtractor(stub, prompts), stub)

	companySvc := services.NewCompanyService(companies)
	memorySvc := services.NewMemoryService(companySvc, ingestion, resolver, jobs, entities, exec, stub)

	worker := queue.NewWorker(q, ingest.NewJobProcessor(jobs, artifacts, chunks, stub))
	ctx, cancel := context.WithCancel(context.Background())
	worker.Start(ctx)
	t.Cleanup(func() {
		cancel()
		worker.Stop()
	})

	return &pipeline{db: conn, companies: companySvc, memory: memorySvc, worker: worker}
}

func TestIngestRetrievePipeline(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	company, err := p.companies.Create(ctx, services.CreateCompanyInput{
		CompanyID: "acme", Name: "Acme",
	})
	require.NoError(t, err)

	result, err := p.memory.Ingest(ctx, services.IngestInput{
		CompanyID: "acme",
		Request: ingest.Request{
			SensorName: "document",
			URI:        "file://notes.md",
			Entities: []ingest.EntityInput{
				{ID: "e1", Name: "Ada", EntityType: "person"},
			},
			Contents: ingest.Contents{
				{Text: "Ada designed programs for the Analytical Engine.",
					Relations: []ingest.ContentRelation{{ToEntityID: "e1", RelationType: "mentions"}}},
			},
		},
	})
	require.NoError(t, err)
	require.Len(t, result.JobIDs, 1)
	jobID := result.JobIDs[0]

	// The worker drains the queue and completes the job.
	require.Eventually(t, func() bool {
		job, err := p.memory.JobStatus(ctx, jobID)
		return err == nil && job.Status == model.JobCompleted
	}, 5*time.Second, 10*time.Millisecond)

	job, err := p.memory.JobStatus(ctx, jobID)
	require.NoError(t, err)
	assert.NotNil(t, job.CompletedAt)
	assert.Empty(t, job.ErrorMessage)

	// Chunks were embedded and stored under the tenant.
	chunkRows := p.db.Rows("artifact-chunk")
	require.NotEmpty(t, chunkRows)
	assert.Equal(t, company.ID, chunkRows[0]["tenant_id"])
	assert.NotEmpty(t, chunkRows[0]["embedding"])

	// The ingested text is now searchable.
	search, err := p.memory.Search(ctx, services.SearchInput{
		CompanyID: "acme", Question: "Who designed the engine?",
	})
	require.NoError(t, err)
	require.NotEmpty(t, search.Chunks)
	assert.Contains(t, search.Chunks[0].PageContent, "Ada designed")

	// And the knowledge graph reflects the payload.
	resp, err := p.memory.Retrieve(ctx, services.RetrieveInput{
		CompanyID: "acme",
		Request:   retrieve.Request{Resolution: retrieve.TypeOnly},
	})
	require.NoError(t, err)
	assert.Contains(t, resp.Context, "person")
	assert.Contains(t, resp.Context, "mentions")
}

func TestPipeline_EmptyArtifactProducesNoChunks(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	_, err := p.companies.Create(ctx, services.CreateCompanyInput{
		CompanyID: "acme", Name: "Acme",
	})
	require.NoError(t, err)

	// An empty content yields an artifact with no raw text, so the job
	// completes without producing chunks.
	result, err := p.memory.Ingest(ctx, services.IngestInput{
		CompanyID: "acme",
		Request: ingest.Request{
			SensorName: "document",
			URI:        "file://empty.md",
			Contents:   ingest.Contents{{Text: ""}},
		},
	})
	require.NoError(t, err)
	require.Len(t, result.JobIDs, 1)

	require.Eventually(t, func() bool {
		job, err := p.memory.JobStatus(ctx, result.JobIDs[0])
		return err == nil && job.Status.IsTerminal()
	}, 5*time.Second, 10*time.Millisecond)

	job, err := p.memory.JobStatus(ctx, result.JobIDs[0])
	require.NoError(t, err)
	assert.Equal(t, model.JobCompleted, job.Status)
	assert.Empty(t, p.db.Rows("artifact-chunk"))
}
