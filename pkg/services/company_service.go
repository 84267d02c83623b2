// Package services holds the domain services between the HTTP surface and
// the storage, ingestion, and retrieval layers.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mnemora/mnemora/pkg/model"
	"github.com/mnemora/mnemora/pkg/store"
)

// companyListLimit caps the company listing.
const companyListLimit = 1000

// CreateCompanyInput contains the domain-level data needed to register a
// tenant. Transformed from the HTTP request by the handler.
type CreateCompanyInput struct {
	CompanyID     string
	Name          string
	SensorTypes   []string
	EntityTypes   []string
	RelationTypes []string
	Data          map[string]any

	// Override turns a duplicate company_id into an update instead of a
	// conflict.
	Override bool
}

// CompanyService manages tenant registration and lookup.
type CompanyService struct {
	companies *store.Repository[model.Company]
}

// NewCompanyService creates a new CompanyService.
func NewCompanyService(companies *store.Repository[model.Company]) *CompanyService {
	if companies == nil {
		panic("NewCompanyService: companies must not be nil")
	}
	return &CompanyService{companies: companies}
}

// Create registers a company. A duplicate company_id returns
// ErrAlreadyExists unless Override is set, in which case the existing
// company is updated in place.
func (s *CompanyService) Create(ctx context.Context, input CreateCompanyInput) (*model.Company, error) {
	if input.CompanyID == "" {
		return nil, NewValidationError("company_id", "company_id is required")
	}
	if input.Name == "" {
		return nil, NewValidationError("name", "name is required")
	}

	existing, err := s.companies.FindOne(ctx, map[string]any{
		"company_id": input.CompanyID, "is_deleted": false,
	})
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("looking up company %q: %w", input.CompanyID, err)
	}

	if existing != nil {
		if !input.Override {
			return nil, fmt.Errorf("company_id %q: %w", input.CompanyID, ErrAlreadyExists)
		}
		fields := map[string]any{"name": input.Name}
		if input.SensorTypes != nil {
			fields["sensor_types"] = input.SensorTypes
		}
		if input.EntityTypes != nil {
			fields["entity_types"] = input.EntityTypes
		}
		if input.RelationTypes != nil {
			fields["relation_types"] = input.RelationTypes
		}
		if input.Data != nil {
			fields["data"] = input.Data
		}
		if _, err := s.companies.Update(ctx, existing.ID, fields); err != nil {
			return nil, fmt.Errorf("updating company %q: %w", input.CompanyID, err)
		}
		return s.companies.GetByID(ctx, existing.ID)
	}

	sensorTypes := input.SensorTypes
	if sensorTypes == nil {
		sensorTypes = model.DefaultSensorTypes
	}
	company, err := s.companies.Save(ctx, model.Company{
		CompanyID:     input.CompanyID,
		Name:          input.Name,
		SensorTypes:   sensorTypes,
		EntityTypes:   input.EntityTypes,
		RelationTypes: input.RelationTypes,
		Data:          input.Data,
	})
	if err != nil {
		return nil, fmt.Errorf("creating company %q: %w", input.CompanyID, err)
	}

	slog.Info("Company created", "company_id", company.CompanyID, "id", company.ID)
	return &company, nil
}

// Get fetches a company by its external company_id.
func (s *CompanyService) Get(ctx context.Context, companyID string) (*model.Company, error) {
	company, err := s.companies.FindOne(ctx, map[string]any{
		"company_id": companyID, "is_deleted": false,
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("company %q: %w", companyID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("looking up company %q: %w", companyID, err)
	}
	return company, nil
}

// List returns all live companies.
func (s *CompanyService) List(ctx context.Context) ([]model.Company, error) {
	companies, err := s.companies.FindMany(ctx,
		map[string]any{"is_deleted": false}, 0, companyListLimit)
	if err != nil {
		return nil, fmt.Errorf("listing companies: %w", err)
	}
	return companies, nil
}

// Resolve finds the tenant company behind a request. CompanyID takes
// precedence; a bare tenant id is treated as the company's record id and,
// failing that, as a company_id.
func (s *CompanyService) Resolve(ctx context.Context, tenantID, companyID string) (*model.Company, error) {
	if companyID != "" {
		return s.Get(ctx, companyID)
	}
	if tenantID == "" {
		return nil, NewValidationError("tenant_id", "tenant_id or company_id is required")
	}

	company, err := s.companies.GetByID(ctx, tenantID)
	if err == nil {
		return company, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("looking up tenant %q: %w", tenantID, err)
	}
	return s.Get(ctx, tenantID)
}
