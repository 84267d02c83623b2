package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/mnemora/mnemora/pkg/database"
	"github.com/mnemora/mnemora/pkg/ingest"
	"github.com/mnemora/mnemora/pkg/llm"
	"github.com/mnemora/mnemora/pkg/model"
	"github.com/mnemora/mnemora/pkg/retrieve"
	"github.com/mnemora/mnemora/pkg/store"
)

// defaultSearchLimit bounds each retriever in a hybrid search.
const defaultSearchLimit = 10

// IngestInput is an ingest request addressed to a tenant.
type IngestInput struct {
	TenantID  string
	CompanyID string
	Request   ingest.Request
}

// RetrieveInput is a retrieval request addressed to a tenant.
type RetrieveInput struct {
	TenantID  string
	CompanyID string
	Request   retrieve.Request
}

// SearchInput configures a hybrid retriever search.
type SearchInput struct {
	TenantID  string
	CompanyID string

	Question     string
	EntityIDs    []string
	Filters      map[string]any
	RelationType string
	Limit        int

	UseExactMatch bool
	UseVector     bool
}

// SearchResult buckets hybrid search documents by kind.
type SearchResult struct {
	TenantID  string             `json:"tenant_id"`
	Question  string             `json:"question"`
	Chunks    []retrieve.Doc     `json:"chunks"`
	Entities  []retrieve.Doc     `json:"entities"`
	Relations []retrieve.Doc     `json:"relations"`
}

// MemoryService fronts the ingestion pipeline and the retrieval paths,
// resolving the tenant and its policy before delegating.
type MemoryService struct {
	companies *CompanyService
	ingestion *ingest.Service
	resolver  *retrieve.Resolver
	jobs      *store.Repository[model.IngestJob]
	entities  *store.Repository[model.Entity]
	exec      *database.Executor
	client    llm.Client
}

// NewMemoryService creates a new MemoryService.
func NewMemoryService(
	companies *CompanyService,
	ingestion *ingest.Service,
	resolver *retrieve.Resolver,
	jobs *store.Repository[model.IngestJob],
	entities *store.Repository[model.Entity],
	exec *database.Executor,
	client llm.Client,
) *MemoryService {
	if companies == nil {
		panic("NewMemoryService: companies must not be nil")
	}
	if ingestion == nil {
		panic("NewMemoryService: ingestion must not be nil")
	}
	if resolver == nil {
		panic("NewMemoryService: resolver must not be nil")
	}
	return &MemoryService{
		companies: companies,
		ingestion: ingestion,
		resolver:  resolver,
		jobs:      jobs,
		entities:  entities,
		exec:      exec,
		client:    client,
	}
}

// Ingest resolves the tenant, snapshots its policy, and runs the ingestion
// pipeline. Policy violations surface as validation errors.
func (s *MemoryService) Ingest(ctx context.Context, input IngestInput) (ingest.Result, error) {
	company, err := s.companies.Resolve(ctx, input.TenantID, input.CompanyID)
	if err != nil {
		return ingest.Result{}, err
	}

	result, err := s.ingestion.Ingest(ctx, company.ID, ingest.PolicyFor(*company), input.Request)
	if errors.Is(err, ingest.ErrPolicyViolation) {
		return ingest.Result{}, fmt.Errorf("%w: %s", ErrInvalidInput, err.Error())
	}
	if err != nil {
		return ingest.Result{}, fmt.Errorf("ingesting for company %q: %w", company.CompanyID, err)
	}
	return result, nil
}

// Retrieve resolves the tenant and answers the request at its resolution.
func (s *MemoryService) Retrieve(ctx context.Context, input RetrieveInput) (*retrieve.Response, error) {
	company, err := s.companies.Resolve(ctx, input.TenantID, input.CompanyID)
	if err != nil {
		return nil, err
	}
	if _, err := retrieve.ParseResolution(string(input.Request.Resolution)); err != nil {
		return nil, NewValidationError("resolution", err.Error())
	}
	return s.resolver.Resolve(ctx, *company, input.Request)
}

// Abstract answers a coarse-grained company overview at abstract levels
// 0-3.
func (s *MemoryService) Abstract(ctx context.Context, companyID string, level int) (*retrieve.Response, error) {
	resolution, err := retrieve.AbstractResolution(level)
	if err != nil {
		return nil, NewValidationError("resolution", err.Error())
	}
	company, err := s.companies.Get(ctx, companyID)
	if err != nil {
		return nil, err
	}
	return s.resolver.Resolve(ctx, *company, retrieve.Request{Resolution: resolution})
}

// JobStatus looks up an ingest job by record id.
func (s *MemoryService) JobStatus(ctx context.Context, jobID string) (*model.IngestJob, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("job %q: %w", jobID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("looking up job %q: %w", jobID, err)
	}
	return job, nil
}

// Search runs the hybrid retriever strategies for a question and buckets
// the merged documents by kind.
func (s *MemoryService) Search(ctx context.Context, input SearchInput) (*SearchResult, error) {
	if input.Question == "" {
		return nil, NewValidationError("question", "question is required")
	}
	company, err := s.companies.Resolve(ctx, input.TenantID, input.CompanyID)
	if err != nil {
		return nil, err
	}

	limit := input.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	retrievers := []retrieve.Retriever{
		retrieve.NewFulltextRetriever(s.exec, company.ID, input.Filters, limit),
	}
	if input.UseVector {
		retrievers = append(retrievers,
			retrieve.NewVectorRetriever(s.exec, s.client, company.ID, input.Filters, limit))
	}
	if input.UseExactMatch && len(input.Filters) > 0 {
		retrievers = append(retrievers,
			retrieve.NewExactMatchRetriever(s.exec, company.ID, input.Filters, "chunks", limit))
	}
	if len(input.EntityIDs) > 0 {
		retrievers = append(retrievers,
			retrieve.NewGraphRetriever(s.exec, s.entities, company.ID,
				input.EntityIDs, input.RelationType, 2, limit))
	}

	docs, err := retrieve.NewHybridRetriever(retrievers...).Retrieve(ctx, input.Question)
	if err != nil {
		return nil, fmt.Errorf("hybrid search for company %q: %w", company.CompanyID, err)
	}

	result := &SearchResult{TenantID: company.ID, Question: input.Question}
	for _, doc := range docs {
		switch doc.Metadata["type"] {
		case "entity":
			result.Entities = append(result.Entities, doc)
		case "relation":
			result.Relations = append(result.Relations, doc)
		default:
			result.Chunks = append(result.Chunks, doc)
		}
	}
	return result, nil
}
