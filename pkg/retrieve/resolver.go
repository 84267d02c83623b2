package retrieve

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/mnemora/mnemora/pkg/database"
	"github.com/mnemora/mnemora/pkg/llm"
	"github.com/mnemora/mnemora/pkg/model"
	"github.com/mnemora/mnemora/pkg/store"
)

const (
	// typeInventoryLimit bounds the scan behind the type overviews.
	typeInventoryLimit = 1000
	// perTypeLimit bounds the name listing per entity type.
	perTypeLimit = 100
	// relatedChunkLimit bounds the combined chunk search.
	relatedChunkLimit = 20
	// fullDumpLimit bounds the full-text fallback load.
	fullDumpLimit = 10000
	// minSharedEntities keeps only artifacts touching at least this many
	// of the selected entities.
	minSharedEntities = 2
)

var artifactIDPrefix = model.Artifact{}.Table() + ":"

// Resolver answers retrieval requests at each resolution level.
type Resolver struct {
	entities  *store.Repository[model.Entity]
	artifacts *store.Repository[model.Artifact]
	chunks    *store.Repository[model.ArtifactChunk]
	relations *store.RelationStore
	exec      *database.Executor
	extractor *llm.Extractor
	client    llm.Client
}

func NewResolver(
	entities *store.Repository[model.Entity],
	artifacts *store.Repository[model.Artifact],
	chunks *store.Repository[model.ArtifactChunk],
	relations *store.RelationStore,
	exec *database.Executor,
	extractor *llm.Extractor,
	client llm.Client,
) *Resolver {
	return &Resolver{
		entities:  entities,
		artifacts: artifacts,
		chunks:    chunks,
		relations: relations,
		exec:      exec,
		extractor: extractor,
		client:    client,
	}
}

// Resolve answers the request at its (possibly inferred) resolution.
func (r *Resolver) Resolve(ctx context.Context, company model.Company, req Request) (*Response, error) {
	resolution := req.Infer()
	slog.Info("Resolving retrieval",
		"company_id", company.CompanyID,
		"resolution", resolution,
		"entity_ids", len(req.EntityIDs),
		"has_text", req.Text != "")

	switch resolution {
	case TypeOnly:
		return r.typeOnly(ctx, company)
	case MajorTypeAndName:
		return r.majorTypeAndName(ctx, company)
	case SelectedEntities:
		return r.selectedEntities(ctx, company, req.EntityIDs)
	case SelectedEntitiesAndMutualRelations:
		return r.mutualRelations(ctx, company, req.EntityIDs)
	case RelatedArtifactsData:
		return r.relatedData(ctx, company, req.Text)
	case RelatedArtifactsText:
		return r.relatedText(ctx, company, req.Text)
	}
	return nil, fmt.Errorf("unknown resolution %q", resolution)
}

func (r *Resolver) newResponse(company model.Company) *Response {
	return &Response{TenantID: company.ID, CompanyID: company.CompanyID}
}

// typeInventory collects the distinct entity and relation types present in
// the tenant's memory.
func (r *Resolver) typeInventory(ctx context.Context, tenantID string) ([]string, []string, error) {
	entities, err := r.entities.FindMany(ctx,
		map[string]any{"tenant_id": tenantID, "is_deleted": false}, 0, typeInventoryLimit)
	if err != nil {
		return nil, nil, fmt.Errorf("loading entity types: %w", err)
	}
	entityTypes := make(map[string]bool)
	for _, e := range entities {
		if e.EntityType != "" {
			entityTypes[e.EntityType] = true
		}
	}

	edges, err := r.exec.ExactMatch(ctx, model.Relation{}.Table(), nil, tenantID, typeInventoryLimit)
	if err != nil {
		return nil, nil, fmt.Errorf("loading relation types: %w", err)
	}
	relationTypes := make(map[string]bool)
	for _, edge := range edges {
		if t, ok := edge["relation_type"].(string); ok && t != "" {
			relationTypes[t] = true
		}
	}
	return sortedKeys(entityTypes), sortedKeys(relationTypes), nil
}

// allowedTypes returns the company's configured entity and relation type
// lists. A company with no configured lists allows any type, so the stored
// inventory stands in for the missing configuration.
func (r *Resolver) allowedTypes(ctx context.Context, company model.Company) ([]string, []string, error) {
	entityTypes := company.EntityTypes
	relationTypes := company.RelationTypes
	if len(entityTypes) > 0 && len(relationTypes) > 0 {
		return entityTypes, relationTypes, nil
	}

	storedEntity, storedRelation, err := r.typeInventory(ctx, company.ID)
	if err != nil {
		return nil, nil, err
	}
	if len(entityTypes) == 0 {
		entityTypes = storedEntity
	}
	if len(relationTypes) == 0 {
		relationTypes = storedRelation
	}
	return entityTypes, relationTypes, nil
}

func (r *Resolver) typeOnly(ctx context.Context, company model.Company) (*Response, error) {
	entityTypes, relationTypes, err := r.allowedTypes(ctx, company)
	if err != nil {
		return nil, err
	}

	resp := r.newResponse(company)
	resp.Context = typeOnlyContext(company, entityTypes, relationTypes)
	return resp, nil
}

func typeOnlyContext(company model.Company, entityTypes, relationTypes []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The memory of company %q holds a knowledge graph.\n", company.Name)
	if len(entityTypes) > 0 {
		fmt.Fprintf(&b, "Entity types: %s.\n", strings.Join(entityTypes, ", "))
	} else {
		b.WriteString("No entities are stored yet.\n")
	}
	if len(relationTypes) > 0 {
		fmt.Fprintf(&b, "Relation types: %s.", strings.Join(relationTypes, ", "))
	} else {
		b.WriteString("No relations are stored yet.")
	}
	return b.String()
}

func (r *Resolver) majorTypeAndName(ctx context.Context, company model.Company) (*Response, error) {
	entityTypes, _, err := r.allowedTypes(ctx, company)
	if err != nil {
		return nil, err
	}

	resp := r.newResponse(company)
	var lines []string
	for _, entityType := range entityTypes {
		entities, err := r.entities.FindMany(ctx, map[string]any{
			"tenant_id":   company.ID,
			"entity_type": entityType,
			"is_deleted":  false,
		}, 0, perTypeLimit)
		if err != nil {
			return nil, fmt.Errorf("loading %s entities: %w", entityType, err)
		}
		if len(entities) == 0 {
			continue
		}
		names := make([]string, 0, len(entities))
		for _, e := range entities {
			names = append(names, e.Name)
		}
		resp.Entities = append(resp.Entities, entities...)
		lines = append(lines, fmt.Sprintf("%s: %s", entityType, strings.Join(names, ", ")))
	}

	if len(lines) == 0 {
		resp.Context = fmt.Sprintf("The memory of company %q is empty.", company.Name)
		return resp, nil
	}
	resp.Context = fmt.Sprintf("Entities known for company %q, grouped by type:\n%s",
		company.Name, strings.Join(lines, "\n"))
	return resp, nil
}

// loadSelected fetches the requested entities, skipping ids that are
// missing or belong to another tenant.
func (r *Resolver) loadSelected(ctx context.Context, tenantID string, entityIDs []string) []model.Entity {
	entities := make([]model.Entity, 0, len(entityIDs))
	for _, id := range entityIDs {
		entity, err := r.entities.FindOne(ctx, map[string]any{
			"id": id, "tenant_id": tenantID, "is_deleted": false,
		})
		if err != nil {
			slog.Warn("Selected entity not found", "entity_id", id, "error", err)
			continue
		}
		entities = append(entities, *entity)
	}
	return entities
}

func (r *Resolver) selectedEntities(ctx context.Context, company model.Company, entityIDs []string) (*Response, error) {
	if len(entityIDs) == 0 {
		return nil, fmt.Errorf("resolution %q needs entity_ids", SelectedEntities)
	}

	resp := r.newResponse(company)
	resp.Entities = r.loadSelected(ctx, company.ID, entityIDs)

	dumps := make([]string, 0, len(resp.Entities))
	for _, entity := range resp.Entities {
		dumps = append(dumps, dumpRecord(entity))
	}
	resp.Context = strings.Join(dumps, "\n")
	return resp, nil
}

func (r *Resolver) mutualRelations(ctx context.Context, company model.Company, entityIDs []string) (*Response, error) {
	base, err := r.selectedEntities(ctx, company, entityIDs)
	if err != nil {
		return nil, err
	}

	selected := make(map[string]bool, len(base.Entities))
	ids := make([]string, 0, len(base.Entities))
	for _, entity := range base.Entities {
		selected[entity.ID] = true
		ids = append(ids, entity.ID)
	}

	// Relations where both endpoints are among the selected entities.
	between, err := r.relations.FindBetween(ctx, company.ID, ids, ids)
	if err != nil {
		return nil, fmt.Errorf("loading mutual relations: %w", err)
	}
	for _, rel := range between {
		if selected[rel.SourceID] && selected[rel.TargetID] {
			base.Relations = append(base.Relations, rel)
		}
	}

	artifactIDs, err := r.sharedArtifacts(ctx, company.ID, selected, ids)
	if err != nil {
		return nil, err
	}
	for _, artifactID := range artifactIDs {
		artifact, err := r.artifacts.GetByID(ctx, artifactID)
		if err != nil {
			slog.Warn("Connected artifact not found", "artifact_id", artifactID, "error", err)
			continue
		}
		base.Artifacts = append(base.Artifacts, ArtifactWithChunks{Artifact: *artifact})
	}

	if len(base.Relations) > 0 || len(base.Artifacts) > 0 {
		var extra []string
		for _, rel := range base.Relations {
			extra = append(extra, dumpRecord(rel))
		}
		for _, a := range base.Artifacts {
			extra = append(extra, dumpRecord(a.Artifact))
		}
		base.Context += "\n" + strings.Join(extra, "\n")
	}
	return base, nil
}

// sharedArtifacts finds artifacts connected to at least minSharedEntities
// of the selected entities, then expands one hop along artifact-to-artifact
// relations.
func (r *Resolver) sharedArtifacts(ctx context.Context, tenantID string, selected map[string]bool, ids []string) ([]string, error) {
	touching, err := r.relations.FindTouching(ctx, tenantID, ids)
	if err != nil {
		return nil, fmt.Errorf("loading entity-artifact relations: %w", err)
	}

	connected := make(map[string]map[string]bool)
	note := func(artifactID, entityID string) {
		if connected[artifactID] == nil {
			connected[artifactID] = make(map[string]bool)
		}
		connected[artifactID][entityID] = true
	}
	for _, rel := range touching {
		switch {
		case selected[rel.SourceID] && strings.HasPrefix(rel.TargetID, artifactIDPrefix):
			note(rel.TargetID, rel.SourceID)
		case selected[rel.TargetID] && strings.HasPrefix(rel.SourceID, artifactIDPrefix):
			note(rel.SourceID, rel.TargetID)
		}
	}

	shared := make(map[string]bool)
	for artifactID, entities := range connected {
		if len(entities) >= minSharedEntities {
			shared[artifactID] = true
		}
	}
	if len(shared) == 0 {
		return nil, nil
	}

	// One hop of artifact-to-artifact expansion.
	neighbors, err := r.relations.FindTouching(ctx, tenantID, sortedKeys(shared))
	if err != nil {
		return nil, fmt.Errorf("expanding artifact relations: %w", err)
	}
	expanded := make(map[string]bool, len(shared))
	for id := range shared {
		expanded[id] = true
	}
	for _, rel := range neighbors {
		switch {
		case shared[rel.SourceID] && strings.HasPrefix(rel.TargetID, artifactIDPrefix):
			expanded[rel.TargetID] = true
		case shared[rel.TargetID] && strings.HasPrefix(rel.SourceID, artifactIDPrefix):
			expanded[rel.SourceID] = true
		}
	}
	return sortedKeys(expanded), nil
}

func (r *Resolver) relatedData(ctx context.Context, company model.Company, text string) (*Response, error) {
	if text == "" {
		return nil, fmt.Errorf("resolution %q needs text", RelatedArtifactsData)
	}

	overview, err := r.typeOnly(ctx, company)
	if err != nil {
		return nil, err
	}

	resp := r.newResponse(company)
	resp.Entities = r.matchExtracted(ctx, company, overview.Context+"\n\n"+text)

	entityIDs := make([]string, 0, len(resp.Entities))
	for _, entity := range resp.Entities {
		entityIDs = append(entityIDs, entity.ID)
	}

	chunks, err := r.searchChunks(ctx, company.ID, text, entityIDs)
	if err != nil {
		return nil, err
	}
	resp.Artifacts = r.groupByArtifact(ctx, chunks)

	bundle, err := contextBundle(company, resp.Entities, resp.Artifacts)
	if err != nil {
		return nil, err
	}
	resp.Context = bundle
	return resp, nil
}

// matchExtracted runs entity extraction over the text and looks the
// extracted names up in the tenant's memory.
func (r *Resolver) matchExtracted(ctx context.Context, company model.Company, text string) []model.Entity {
	extracted := r.extractor.ExtractEntities(ctx, text, company.EntityTypes)

	var matched []model.Entity
	seen := make(map[string]bool)
	for _, candidate := range extracted {
		filters := map[string]any{
			"tenant_id": company.ID, "is_deleted": false, "name": candidate.Name,
		}
		if candidate.EntityType != "" {
			filters["entity_type"] = candidate.EntityType
		}
		entity, err := r.entities.FindOne(ctx, filters)
		if err != nil && candidate.EntityType != "" {
			delete(filters, "entity_type")
			entity, err = r.entities.FindOne(ctx, filters)
		}
		if err != nil {
			slog.Debug("Extracted entity not in memory", "name", candidate.Name)
			continue
		}
		if seen[entity.ID] {
			continue
		}
		seen[entity.ID] = true
		matched = append(matched, *entity)
	}
	slog.Info("Matched extracted entities", "extracted", len(extracted), "matched", len(matched))
	return matched
}

// searchChunks runs the combined chunk search and dedupes the results,
// keeping the main result set's ordering ahead of the graph traversal's.
func (r *Resolver) searchChunks(ctx context.Context, tenantID, text string, entityIDs []string) ([]model.ArtifactChunk, error) {
	embedding, err := llm.Embed(ctx, r.client, text)
	if err != nil {
		slog.Warn("Query embedding failed, searching without vectors", "error", err)
		embedding = nil
	}

	results, err := r.exec.Combined(ctx, database.CombinedParams{
		TenantID:        tenantID,
		Table:           model.ArtifactChunk{}.Table(),
		FulltextQuery:   text,
		VectorEmbedding: embedding,
		GraphEntityIDs:  entityIDs,
		GraphMinDepth:   1,
		GraphMaxDepth:   2,
		Limit:           relatedChunkLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("searching chunks: %w", err)
	}

	var chunks []model.ArtifactChunk
	seen := make(map[string]bool)
	for _, row := range append(results.Main, results.Graph...) {
		chunk, err := decodeChunk(row)
		if err != nil || chunk.Text == "" || chunk.ArtifactID == "" {
			continue
		}
		if seen[chunk.ID] {
			continue
		}
		seen[chunk.ID] = true
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

// groupByArtifact buckets chunks under their artifacts, preserving chunk
// order and dropping chunks whose artifact is gone.
func (r *Resolver) groupByArtifact(ctx context.Context, chunks []model.ArtifactChunk) []ArtifactWithChunks {
	var order []string
	grouped := make(map[string][]model.ArtifactChunk)
	for _, chunk := range chunks {
		if _, ok := grouped[chunk.ArtifactID]; !ok {
			order = append(order, chunk.ArtifactID)
		}
		grouped[chunk.ArtifactID] = append(grouped[chunk.ArtifactID], chunk)
	}

	var out []ArtifactWithChunks
	for _, artifactID := range order {
		artifact, err := r.artifacts.GetByID(ctx, artifactID)
		if err != nil {
			slog.Warn("Artifact missing for matched chunks", "artifact_id", artifactID, "error", err)
			continue
		}
		out = append(out, ArtifactWithChunks{Artifact: *artifact, Chunks: grouped[artifactID]})
	}
	return out
}

func (r *Resolver) relatedText(ctx context.Context, company model.Company, text string) (*Response, error) {
	resp, err := r.relatedData(ctx, company, text)
	if err != nil {
		return nil, err
	}

	if r.extractor.CheckSufficiency(ctx, text, resp.Context) {
		return resp, nil
	}
	slog.Info("Context judged insufficient, loading full artifact text",
		"company_id", company.CompanyID)

	artifacts, err := r.artifacts.FindMany(ctx,
		map[string]any{"tenant_id": company.ID, "is_deleted": false}, 0, fullDumpLimit)
	if err != nil {
		return nil, fmt.Errorf("loading artifacts: %w", err)
	}

	var texts []string
	for _, artifact := range artifacts {
		if artifact.RawText != "" {
			texts = append(texts, artifact.RawText)
			continue
		}
		chunks, err := r.chunks.FindMany(ctx, map[string]any{
			"tenant_id": company.ID, "is_deleted": false, "artifact_id": artifact.ID,
		}, 0, fullDumpLimit)
		if err != nil {
			slog.Warn("Loading chunks for artifact failed", "artifact_id", artifact.ID, "error", err)
			continue
		}
		for _, chunk := range chunks {
			texts = append(texts, chunk.Text)
		}
	}

	if len(texts) > 0 {
		resp.Context = strings.Join(texts, "\n\n---\n\n") + "\n\n" + resp.Context
	}
	return resp, nil
}

// baseFields are bookkeeping fields stripped from context dumps.
var baseFields = map[string]bool{
	"id":                true,
	"tenant_id":         true,
	"created_at":        true,
	"updated_at":        true,
	"is_deleted":        true,
	"meta_data":         true,
	"embedding":         true,
	"user_permissions":  true,
	"group_permissions": true,
	"public_permission": true,
}

// dumpFields converts a record to a map with bookkeeping fields and empty
// values removed.
func dumpFields(record any) map[string]any {
	row, err := model.Encode(record)
	if err != nil {
		return nil
	}
	for field, value := range row {
		if baseFields[field] || value == nil {
			delete(row, field)
		}
	}
	return row
}

func dumpRecord(record any) string {
	raw, err := json.Marshal(dumpFields(record))
	if err != nil {
		return ""
	}
	return string(raw)
}

// contextBundle renders the company, matched entities, and artifact chunks
// as one JSON document for model consumption.
func contextBundle(company model.Company, entities []model.Entity, artifacts []ArtifactWithChunks) (string, error) {
	entityDumps := make([]map[string]any, 0, len(entities))
	for _, entity := range entities {
		entityDumps = append(entityDumps, dumpFields(entity))
	}

	artifactDumps := make([]map[string]any, 0, len(artifacts))
	for _, a := range artifacts {
		chunkDumps := make([]map[string]any, 0, len(a.Chunks))
		for _, chunk := range a.Chunks {
			chunkDumps = append(chunkDumps, dumpFields(chunk))
		}
		artifactDumps = append(artifactDumps, map[string]any{
			"artifact": dumpFields(a.Artifact),
			"chunks":   chunkDumps,
		})
	}

	bundle := map[string]any{
		"company": map[string]any{
			"name":       company.Name,
			"company_id": company.CompanyID,
			"data":       company.Data,
		},
		"entities":  entityDumps,
		"artifacts": artifactDumps,
	}
	raw, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return "", fmt.Errorf("rendering context: %w", err)
	}
	return string(raw), nil
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
