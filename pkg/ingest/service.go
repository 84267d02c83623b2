package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/mnemora/mnemora/pkg/model"
	"github.com/mnemora/mnemora/pkg/queue"
	"github.com/mnemora/mnemora/pkg/store"
)

// Policy is the tenant's snapshot of allowed types. A nil list means
// everything is allowed.
type Policy struct {
	SensorTypes   []string
	EntityTypes   []string
	RelationTypes []string
}

// PolicyFor derives the ingest policy from a company record.
func PolicyFor(company model.Company) Policy {
	return Policy{
		SensorTypes:   company.SensorTypes,
		EntityTypes:   company.EntityTypes,
		RelationTypes: company.RelationTypes,
	}
}

func allowed(list []string, value string) bool {
	if list == nil {
		return true
	}
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}

// Validate checks a request against the policy.
func (p Policy) Validate(req Request) error {
	if !allowed(p.SensorTypes, req.SensorName) {
		return fmt.Errorf("%w: sensor type %q not allowed", ErrPolicyViolation, req.SensorName)
	}
	for _, e := range req.Entities {
		if !allowed(p.EntityTypes, e.EntityType) {
			return fmt.Errorf("%w: entity type %q not allowed", ErrPolicyViolation, e.EntityType)
		}
	}
	for _, r := range req.Relations {
		if !allowed(p.RelationTypes, r.RelationType) {
			return fmt.Errorf("%w: relation type %q not allowed", ErrPolicyViolation, r.RelationType)
		}
	}
	for _, c := range req.Contents {
		for _, r := range c.Relations {
			if !allowed(p.RelationTypes, r.RelationType) {
				return fmt.Errorf("%w: relation type %q not allowed", ErrPolicyViolation, r.RelationType)
			}
		}
	}
	return nil
}

// Service runs the ingest pipeline: artifacts, entity upserts with events,
// relation resolution and upserts, then one queued job per artifact.
type Service struct {
	entities  *store.Repository[model.Entity]
	artifacts *store.Repository[model.Artifact]
	events    *store.Repository[model.Event]
	jobs      *store.Repository[model.IngestJob]
	relations *store.RelationStore
	queue     *queue.Queue
}

func NewService(
	entities *store.Repository[model.Entity],
	artifacts *store.Repository[model.Artifact],
	events *store.Repository[model.Event],
	jobs *store.Repository[model.IngestJob],
	relations *store.RelationStore,
	q *queue.Queue,
) *Service {
	return &Service{
		entities:  entities,
		artifacts: artifacts,
		events:    events,
		jobs:      jobs,
		relations: relations,
		queue:     q,
	}
}

// Ingest processes one sensor payload for a tenant.
func (s *Service) Ingest(ctx context.Context, tenantID string, policy Policy, req Request) (Result, error) {
	if err := policy.Validate(req); err != nil {
		return Result{}, err
	}

	result := Result{
		JobIDs:    []string{},
		Entities:  []string{},
		Relations: []string{},
		Warnings:  []string{},
	}

	artifacts, artifactMap, err := s.createArtifacts(ctx, tenantID, req)
	if err != nil {
		return Result{}, err
	}

	entities, entityMap, err := s.upsertEntities(ctx, tenantID, req.Entities, artifacts)
	if err != nil {
		return Result{}, err
	}
	for _, e := range entities {
		result.Entities = append(result.Entities, e.ID)
	}

	resolved := s.resolveRelations(ctx, tenantID, req, entityMap, artifactMap, &result.Warnings)
	relations, err := s.upsertRelations(ctx, tenantID, resolved)
	if err != nil {
		return Result{}, err
	}
	for _, r := range relations {
		result.Relations = append(result.Relations, r.ID)
	}

	jobIDs, err := s.enqueueJobs(ctx, tenantID, artifacts)
	if err != nil {
		return Result{}, err
	}
	result.JobIDs = jobIDs

	slog.Info("Ingest accepted",
		"tenant_id", tenantID,
		"artifacts", len(artifacts),
		"entities", len(entities),
		"relations", len(relations),
		"warnings", len(result.Warnings))
	return result, nil
}

// createArtifacts saves one artifact per content, keeping a map from
// payload-internal content ids to database ids for relation resolution.
func (s *Service) createArtifacts(ctx context.Context, tenantID string, req Request) ([]model.Artifact, map[string]string, error) {
	artifacts := make([]model.Artifact, 0, len(req.Contents))
	mapping := make(map[string]string)

	for _, content := range req.Contents {
		artifact := model.Artifact{
			Record:     model.Record{MetaData: content.MetaData},
			Tenant:     model.Tenant{TenantID: tenantID},
			URI:        req.URI,
			SensorName: req.SensorName,
			Data:       content.Data,
			RawText:    content.Text,
		}
		saved, err := s.artifacts.Save(ctx, artifact)
		if err != nil {
			return nil, nil, fmt.Errorf("creating artifact: %w", err)
		}
		artifacts = append(artifacts, saved)
		if content.ID != "" {
			mapping[content.ID] = saved.ID
		}
	}
	return artifacts, mapping, nil
}

// upsertEntities saves entities concurrently, emitting a created or updated
// event per entity, and maps payload-internal ids to database ids.
func (s *Service) upsertEntities(ctx context.Context, tenantID string, inputs []EntityInput, artifacts []model.Artifact) ([]model.Entity, map[string]string, error) {
	saved := make([]model.Entity, len(inputs))

	g, gctx := errgroup.WithContext(ctx)
	for i, input := range inputs {
		g.Go(func() error {
			entity, err := s.upsertEntity(gctx, tenantID, input, artifacts)
			if err != nil {
				return err
			}
			saved[i] = entity
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	mapping := make(map[string]string, len(inputs))
	for i, input := range inputs {
		mapping[input.ID] = saved[i].ID
	}
	return saved, mapping, nil
}

func (s *Service) upsertEntity(ctx context.Context, tenantID string, input EntityInput, artifacts []model.Artifact) (model.Entity, error) {
	if input.EntityID != "" {
		existing, err := s.entities.FindOne(ctx, map[string]any{
			"id":        input.EntityID,
			"tenant_id": tenantID,
		})
		switch {
		case err == nil:
			return s.updateEntity(ctx, *existing, input, artifacts)
		case !errors.Is(err, store.ErrNotFound):
			return model.Entity{}, err
		}
	}
	return s.createEntity(ctx, tenantID, input, artifacts)
}

func (s *Service) createEntity(ctx context.Context, tenantID string, input EntityInput, artifacts []model.Artifact) (model.Entity, error) {
	entity := model.Entity{
		Record:     model.Record{MetaData: input.MetaData},
		Tenant:     model.Tenant{TenantID: tenantID},
		Name:       input.Name,
		EntityType: input.EntityType,
		Data:       input.Data,
	}
	saved, err := s.entities.Save(ctx, entity)
	if err != nil {
		return model.Entity{}, fmt.Errorf("creating entity %q: %w", input.Name, err)
	}

	dump, err := model.Encode(saved)
	if err != nil {
		return model.Entity{}, err
	}
	if err := s.emitEntityEvent(ctx, saved, artifacts, model.EventEntityCreated, dump); err != nil {
		return model.Entity{}, err
	}
	return saved, nil
}

func (s *Service) updateEntity(ctx context.Context, existing model.Entity, input EntityInput, artifacts []model.Artifact) (model.Entity, error) {
	fields := map[string]any{
		"name":        input.Name,
		"entity_type": input.EntityType,
	}
	if input.Data != nil {
		fields["data"] = input.Data
	}
	if input.MetaData != nil {
		fields["meta_data"] = input.MetaData
	}

	changed, err := s.entities.Update(ctx, existing.ID, fields)
	if err != nil {
		return model.Entity{}, fmt.Errorf("updating entity %s: %w", existing.ID, err)
	}

	updated, err := s.entities.GetByID(ctx, existing.ID)
	if err != nil {
		return model.Entity{}, err
	}
	if err := s.emitEntityEvent(ctx, *updated, artifacts, model.EventEntityUpdated, changed); err != nil {
		return model.Entity{}, err
	}
	return *updated, nil
}

func (s *Service) emitEntityEvent(ctx context.Context, entity model.Entity, artifacts []model.Artifact, eventType string, data map[string]any) error {
	artifactIDs := make([]string, 0, len(artifacts))
	for _, a := range artifacts {
		artifactIDs = append(artifactIDs, a.ID)
	}

	event := model.Event{
		Tenant:      model.Tenant{TenantID: entity.TenantID},
		EntityID:    entity.ID,
		ArtifactIDs: artifactIDs,
		EventType:   eventType,
		Data:        data,
	}
	if _, err := s.events.Save(ctx, event); err != nil {
		return fmt.Errorf("recording %s event for %s: %w", eventType, entity.ID, err)
	}
	return nil
}

// resolveRelations maps payload-internal endpoint ids to database ids.
// Unresolvable endpoints produce a warning and drop the relation.
func (s *Service) resolveRelations(ctx context.Context, tenantID string, req Request, entityMap, artifactMap map[string]string, warnings *[]string) []RelationInput {
	resolved := make([]RelationInput, 0, len(req.Relations))

	for _, rel := range req.Relations {
		from, ok := s.resolveEndpoint(ctx, tenantID, rel.FromEntityID, entityMap, artifactMap, warnings)
		if !ok {
			continue
		}
		to, ok := s.resolveEndpoint(ctx, tenantID, rel.ToEntityID, entityMap, artifactMap, warnings)
		if !ok {
			continue
		}
		rel.FromEntityID = from
		rel.ToEntityID = to
		resolved = append(resolved, rel)
	}

	// Content relations use the content itself as the source endpoint.
	for _, content := range req.Contents {
		if content.ID == "" {
			continue
		}
		for _, rel := range content.Relations {
			from, ok := s.resolveEndpoint(ctx, tenantID, content.ID, entityMap, artifactMap, warnings)
			if !ok {
				continue
			}
			to, ok := s.resolveEndpoint(ctx, tenantID, rel.ToEntityID, entityMap, artifactMap, warnings)
			if !ok {
				continue
			}
			resolved = append(resolved, RelationInput{
				ContentRelation: ContentRelation{
					RelationType: rel.RelationType,
					ToEntityID:   to,
					Data:         rel.Data,
					MetaData:     rel.MetaData,
				},
				FromEntityID: from,
			})
		}
	}
	return resolved
}

// resolveEndpoint tries the payload's entity map, then its artifact map,
// then the database.
func (s *Service) resolveEndpoint(ctx context.Context, tenantID, id string, entityMap, artifactMap map[string]string, warnings *[]string) (string, bool) {
	if resolved, ok := entityMap[id]; ok {
		return resolved, true
	}
	if resolved, ok := artifactMap[id]; ok {
		return resolved, true
	}

	entity, err := s.entities.FindOne(ctx, map[string]any{"id": id, "tenant_id": tenantID})
	if err == nil {
		return entity.ID, true
	}
	if !errors.Is(err, store.ErrNotFound) {
		slog.Warn("Entity lookup failed during relation resolution", "id", id, "error", err)
	}

	*warnings = append(*warnings, fmt.Sprintf(
		"Entity ID %q not found in payload or database. Relation referencing this ID will be skipped.", id))
	return "", false
}

func (s *Service) upsertRelations(ctx context.Context, tenantID string, inputs []RelationInput) ([]model.Relation, error) {
	saved := make([]model.Relation, len(inputs))

	g, gctx := errgroup.WithContext(ctx)
	for i, input := range inputs {
		g.Go(func() error {
			rel, err := s.relations.Upsert(gctx, model.Relation{
				Record:       model.Record{MetaData: input.MetaData},
				Tenant:       model.Tenant{TenantID: tenantID},
				SourceID:     input.FromEntityID,
				TargetID:     input.ToEntityID,
				RelationType: input.RelationType,
				Data:         input.Data,
			})
			if err != nil {
				return err
			}
			saved[i] = rel
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return saved, nil
}

// enqueueJobs creates one queued IngestJob per artifact and pushes the full
// job onto the queue.
func (s *Service) enqueueJobs(ctx context.Context, tenantID string, artifacts []model.Artifact) ([]string, error) {
	jobIDs := make([]string, 0, len(artifacts))
	for _, artifact := range artifacts {
		job := model.IngestJob{
			Tenant:     model.Tenant{TenantID: tenantID},
			Status:     model.JobQueued,
			ArtifactID: artifact.ID,
		}
		saved, err := s.jobs.Save(ctx, job)
		if err != nil {
			return nil, fmt.Errorf("creating ingest job for %s: %w", artifact.ID, err)
		}
		if err := s.queue.Enqueue(ctx, saved); err != nil {
			return nil, err
		}
		jobIDs = append(jobIDs, saved.ID)
	}
	return jobIDs, nil
}
