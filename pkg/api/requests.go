package api

import (
	"time"

	"github.com/mnemora/mnemora/pkg/ingest"
	"github.com/mnemora/mnemora/pkg/model"
	"github.com/mnemora/mnemora/pkg/retrieve"
)

// CreateCompanyRequest registers or updates a tenant.
type CreateCompanyRequest struct {
	CompanyID     string         `json:"company_id" binding:"required"`
	Name          string         `json:"name" binding:"required"`
	SensorTypes   []string       `json:"sensor_types,omitempty"`
	EntityTypes   []string       `json:"entity_types,omitempty"`
	RelationTypes []string       `json:"relation_types,omitempty"`
	Data          map[string]any `json:"data,omitempty"`
	Override      bool           `json:"override,omitempty"`
}

// IngestRequest addresses an ingest payload to a tenant.
type IngestRequest struct {
	TenantID  string `json:"tenant_id,omitempty"`
	CompanyID string `json:"company_id,omitempty"`
	ingest.Request
}

// RetrieveRequest addresses a retrieval to a tenant.
type RetrieveRequest struct {
	TenantID   string   `json:"tenant_id,omitempty"`
	CompanyID  string   `json:"company_id,omitempty"`
	Resolution string   `json:"resolution,omitempty"`
	EntityIDs  []string `json:"entity_ids,omitempty"`
	Text       string   `json:"text,omitempty"`
}

// SearchRequest runs the hybrid retriever strategies for a question.
type SearchRequest struct {
	TenantID  string `json:"tenant_id,omitempty"`
	CompanyID string `json:"company_id,omitempty"`

	Question     string         `json:"question" binding:"required"`
	EntityIDs    []string       `json:"entity_ids,omitempty"`
	Filters      map[string]any `json:"filters,omitempty"`
	RelationType string         `json:"relation_type,omitempty"`
	Limit        int            `json:"limit,omitempty"`

	UseExactMatch bool `json:"use_exact_match,omitempty"`
	UseVector     bool `json:"use_vector,omitempty"`
}

// JobResponse reports an ingest job's state.
type JobResponse struct {
	JobID        string     `json:"job_id"`
	ArtifactID   string     `json:"artifact_id"`
	Status       string     `json:"status"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

func newJobResponse(job *model.IngestJob) JobResponse {
	return JobResponse{
		JobID:        job.ID,
		ArtifactID:   job.ArtifactID,
		Status:       string(job.Status),
		ErrorMessage: job.ErrorMessage,
		CompletedAt:  job.CompletedAt,
	}
}

func toRetrieveRequest(req RetrieveRequest) retrieve.Request {
	return retrieve.Request{
		Resolution: retrieve.Resolution(req.Resolution),
		EntityIDs:  req.EntityIDs,
		Text:       req.Text,
	}
}
