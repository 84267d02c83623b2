package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mnemora/mnemora/pkg/llm"
	"github.com/mnemora/mnemora/pkg/model"
	"github.com/mnemora/mnemora/pkg/store"
)

// JobProcessor handles queued ingest jobs: it loads the artifact, chunks
// and embeds its text, and stores the chunks.
type JobProcessor struct {
	jobs      *store.Repository[model.IngestJob]
	artifacts *store.Repository[model.Artifact]
	chunks    *store.Repository[model.ArtifactChunk]
	embedder  llm.Client
	chunker   *Chunker
}

func NewJobProcessor(
	jobs *store.Repository[model.IngestJob],
	artifacts *store.Repository[model.Artifact],
	chunks *store.Repository[model.ArtifactChunk],
	embedder llm.Client,
) *JobProcessor {
	return &JobProcessor{
		jobs:      jobs,
		artifacts: artifacts,
		chunks:    chunks,
		embedder:  embedder,
		chunker:   NewChunker(),
	}
}

// Process handles one queue message holding a serialized IngestJob. Only
// queued jobs run; a job that fails mid-processing is marked failed with
// the error message.
func (p *JobProcessor) Process(ctx context.Context, payload []byte) error {
	var job model.IngestJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return fmt.Errorf("decoding job payload: %w", err)
	}
	if job.ID == "" {
		return fmt.Errorf("job payload has no id")
	}

	log := slog.With("job_id", job.ID)

	current, err := p.jobs.GetByID(ctx, job.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Error("Job not found")
			return nil
		}
		return err
	}
	if !current.Status.IsQueued() {
		log.Warn("Job is not queued, skipping", "status", current.Status)
		return nil
	}

	if _, err := p.jobs.Update(ctx, job.ID, map[string]any{
		"status": model.JobProcessing,
	}); err != nil {
		return fmt.Errorf("marking job processing: %w", err)
	}

	artifact, err := p.artifacts.GetByID(ctx, current.ArtifactID)
	if err != nil {
		// The job stays in processing; there is nothing to retry against.
		log.Error("Artifact not found", "artifact_id", current.ArtifactID, "error", err)
		return nil
	}

	if err := p.chunkArtifact(ctx, *artifact, current.MetaData); err != nil {
		log.Error("Job processing failed", "error", err)
		return p.finishJob(ctx, job.ID, model.JobFailed, err.Error())
	}

	return p.finishJob(ctx, job.ID, model.JobCompleted, "")
}

func (p *JobProcessor) finishJob(ctx context.Context, jobID string, status model.JobStatus, errorMessage string) error {
	fields := map[string]any{
		"status":       status,
		"completed_at": time.Now().UTC(),
	}
	if errorMessage != "" {
		fields["error_message"] = errorMessage
	}
	if _, err := p.jobs.Update(ctx, jobID, fields); err != nil {
		return fmt.Errorf("marking job %s: %w", status, err)
	}
	slog.Info("Job finished", "job_id", jobID, "status", status)
	return nil
}

// chunkArtifact splits the artifact text, embeds the chunks in batches, and
// saves them with the artifact's metadata merged under the job's.
func (p *JobProcessor) chunkArtifact(ctx context.Context, artifact model.Artifact, jobMeta map[string]any) error {
	texts, err := p.chunker.Split(artifact.RawText)
	if err != nil {
		return err
	}
	if len(texts) == 0 {
		slog.Info("Artifact produced no chunks", "artifact_id", artifact.ID)
		return nil
	}

	embeddings, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return err
	}
	if len(embeddings) != len(texts) {
		return fmt.Errorf("embedding count mismatch: %d chunks, %d embeddings", len(texts), len(embeddings))
	}

	meta := mergeMeta(artifact.MetaData, jobMeta)
	for i, text := range texts {
		chunk := model.ArtifactChunk{
			Record:     model.Record{MetaData: meta},
			Tenant:     model.Tenant{TenantID: artifact.TenantID},
			ArtifactID: artifact.ID,
			ChunkIndex: i,
			Text:       text,
			Embedding:  embeddings[i],
		}
		if _, err := p.chunks.Save(ctx, chunk); err != nil {
			return fmt.Errorf("saving chunk %d: %w", i, err)
		}
	}

	slog.Info("Created artifact chunks",
		"artifact_id", artifact.ID, "tenant_id", artifact.TenantID, "count", len(texts))
	return nil
}

// mergeMeta overlays job metadata on the artifact's.
func mergeMeta(artifactMeta, jobMeta map[string]any) map[string]any {
	if artifactMeta == nil && jobMeta == nil {
		return nil
	}
	merged := make(map[string]any, len(artifactMeta)+len(jobMeta))
	for k, v := range artifactMeta {
		merged[k] = v
	}
	for k, v := range jobMeta {
		merged[k] = v
	}
	return merged
}
