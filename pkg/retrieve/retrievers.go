package retrieve

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/mnemora/mnemora/pkg/database"
	"github.com/mnemora/mnemora/pkg/llm"
	"github.com/mnemora/mnemora/pkg/model"
	"github.com/mnemora/mnemora/pkg/query"
)

// Retriever finds documents relevant to a query text.
type Retriever interface {
	Retrieve(ctx context.Context, queryText string) ([]Doc, error)
}

func chunkDoc(row map[string]any, scoreKey string, score float64) (Doc, bool) {
	chunk, err := decodeChunk(row)
	if err != nil {
		return Doc{}, false
	}
	meta := map[string]any{
		"type":        "chunk",
		"chunk_id":    chunk.ID,
		"artifact_id": chunk.ArtifactID,
		"chunk_index": chunk.ChunkIndex,
	}
	if scoreKey != "" {
		meta[scoreKey] = score
	}
	return Doc{PageContent: chunk.Text, Metadata: meta}, true
}

func decodeChunk(row map[string]any) (model.ArtifactChunk, error) {
	var chunk model.ArtifactChunk
	err := model.Decode(row, &chunk)
	return chunk, err
}

func rowScore(row map[string]any, key string) float64 {
	if v, ok := row[key].(float64); ok {
		return v
	}
	return 0
}

// ExactMatchRetriever matches records by field filters; the query text is
// not used. Target picks the table: "entities", "artifacts", or "chunks".
type ExactMatchRetriever struct {
	exec     *database.Executor
	tenantID string
	filters  map[string]any
	target   string
	limit    int
}

func NewExactMatchRetriever(exec *database.Executor, tenantID string, filters map[string]any, target string, limit int) *ExactMatchRetriever {
	return &ExactMatchRetriever{exec: exec, tenantID: tenantID, filters: filters, target: target, limit: limit}
}

func (r *ExactMatchRetriever) Retrieve(ctx context.Context, _ string) ([]Doc, error) {
	table := map[string]string{
		"entities":  model.Entity{}.Table(),
		"artifacts": model.Artifact{}.Table(),
		"chunks":    model.ArtifactChunk{}.Table(),
	}[r.target]
	if table == "" {
		table = model.ArtifactChunk{}.Table()
	}

	rows, err := r.exec.ExactMatch(ctx, table, r.filters, r.tenantID, r.limit)
	if err != nil {
		slog.Error("Exact match retrieval failed", "table", table, "error", err)
		return nil, nil
	}

	docs := make([]Doc, 0, len(rows))
	for _, row := range rows {
		switch r.target {
		case "entities":
			var entity model.Entity
			if err := model.Decode(row, &entity); err != nil {
				continue
			}
			docs = append(docs, entityDoc(entity, nil))
		case "artifacts":
			var artifact model.Artifact
			if err := model.Decode(row, &artifact); err != nil {
				continue
			}
			docs = append(docs, Doc{
				PageContent: "Artifact: " + artifact.URI + " (" + artifact.SensorName + ")",
				Metadata: map[string]any{
					"type":        "artifact",
					"artifact_id": artifact.ID,
					"sensor_name": artifact.SensorName,
				},
			})
		default:
			if doc, ok := chunkDoc(row, "", 0); ok {
				docs = append(docs, doc)
			}
		}
	}
	slog.Debug("Exact match retriever found documents", "count", len(docs))
	return docs, nil
}

// FulltextRetriever searches chunk text with the fulltext index, falling
// back to a substring scan with coarse 1.0/0.5 scores when the indexed
// search fails.
type FulltextRetriever struct {
	exec     *database.Executor
	tenantID string
	filters  map[string]any
	limit    int
}

func NewFulltextRetriever(exec *database.Executor, tenantID string, filters map[string]any, limit int) *FulltextRetriever {
	return &FulltextRetriever{exec: exec, tenantID: tenantID, filters: filters, limit: limit}
}

func (r *FulltextRetriever) Retrieve(ctx context.Context, queryText string) ([]Doc, error) {
	rows, err := r.exec.Fulltext(ctx, queryText, r.filters, r.tenantID, r.limit)
	if err != nil {
		slog.Error("Fulltext retrieval failed, falling back to substring scan", "error", err)
		return r.fallbackScan(ctx, queryText)
	}

	docs := make([]Doc, 0, len(rows))
	for _, row := range rows {
		if doc, ok := chunkDoc(row, "relevance_score", rowScore(row, "relevance_score")); ok {
			docs = append(docs, doc)
		}
	}
	slog.Debug("Fulltext retriever found documents", "count", len(docs))
	return docs, nil
}

func (r *FulltextRetriever) fallbackScan(ctx context.Context, queryText string) ([]Doc, error) {
	b := query.New(r.exec.Registry(), model.ArtifactChunk{}.Table()).
		WhereEq("tenant_id", r.tenantID).
		WhereEq("is_deleted", false).
		WhereContains("text", queryText).
		Limit(r.limit)
	for field, value := range r.filters {
		b.WhereEq(field, value)
	}
	q, err := b.Build()
	if err != nil {
		return nil, err
	}

	rows, err := r.exec.Run(ctx, q)
	if err != nil {
		slog.Error("Fallback fulltext scan failed", "error", err)
		return nil, nil
	}

	docs := make([]Doc, 0, len(rows))
	for _, row := range rows {
		chunk, err := decodeChunk(row)
		if err != nil {
			continue
		}
		score := 0.5
		if strings.Contains(strings.ToLower(chunk.Text), strings.ToLower(queryText)) {
			score = 1.0
		}
		if doc, ok := chunkDoc(row, "relevance_score", score); ok {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

// VectorRetriever embeds the query and searches by cosine similarity. When
// the indexed search fails it retries with the in-query cosine function.
type VectorRetriever struct {
	exec     *database.Executor
	embedder llm.Client
	tenantID string
	filters  map[string]any
	limit    int
}

func NewVectorRetriever(exec *database.Executor, embedder llm.Client, tenantID string, filters map[string]any, limit int) *VectorRetriever {
	return &VectorRetriever{exec: exec, embedder: embedder, tenantID: tenantID, filters: filters, limit: limit}
}

func (r *VectorRetriever) Retrieve(ctx context.Context, queryText string) ([]Doc, error) {
	embedding, err := llm.Embed(ctx, r.embedder, queryText)
	if err != nil {
		slog.Error("Query embedding failed", "error", err)
		return nil, nil
	}

	rows, err := r.exec.Vector(ctx, embedding, r.filters, r.tenantID, r.limit)
	if err != nil {
		slog.Error("Vector retrieval failed, falling back to in-query cosine", "error", err)
		return r.fallbackCosine(ctx, embedding)
	}
	return r.vectorDocs(rows), nil
}

func (r *VectorRetriever) fallbackCosine(ctx context.Context, embedding []float32) ([]Doc, error) {
	b := query.NewCombined(r.exec.Registry(), model.ArtifactChunk{}.Table())
	b.WithVector(embedding)
	b.WhereEq("tenant_id", r.tenantID)
	b.WhereEq("is_deleted", false)
	b.Limit(r.limit)
	for field, value := range r.filters {
		b.WhereEq(field, value)
	}

	q, err := b.Build()
	if err != nil {
		return nil, err
	}
	rows, err := r.exec.Run(ctx, q)
	if err != nil {
		slog.Error("Fallback vector search failed", "error", err)
		return nil, nil
	}
	return r.vectorDocs(rows), nil
}

func (r *VectorRetriever) vectorDocs(rows []map[string]any) []Doc {
	docs := make([]Doc, 0, len(rows))
	for _, row := range rows {
		if doc, ok := chunkDoc(row, "similarity_score", rowScore(row, "similarity_score")); ok {
			docs = append(docs, doc)
		}
	}
	slog.Debug("Vector retriever found documents", "count", len(docs))
	return docs
}

// GraphRetriever walks relations out from seed entities and returns the
// touched entities and relations as documents.
type GraphRetriever struct {
	exec         *database.Executor
	entities     entityLookup
	tenantID     string
	entityIDs    []string
	relationType string
	maxDepth     int
	limit        int
}

// entityLookup is the entity access the graph retriever needs.
type entityLookup interface {
	FindOne(ctx context.Context, filters map[string]any) (*model.Entity, error)
}

func NewGraphRetriever(exec *database.Executor, entities entityLookup, tenantID string, entityIDs []string, relationType string, maxDepth, limit int) *GraphRetriever {
	return &GraphRetriever{
		exec:         exec,
		entities:     entities,
		tenantID:     tenantID,
		entityIDs:    entityIDs,
		relationType: relationType,
		maxDepth:     maxDepth,
		limit:        limit,
	}
}

func (r *GraphRetriever) Retrieve(ctx context.Context, _ string) ([]Doc, error) {
	if len(r.entityIDs) == 0 {
		slog.Warn("Graph retriever needs seed entity ids")
		return nil, nil
	}

	rows, err := r.exec.Graph(ctx, database.GraphParams{
		TenantID:     r.tenantID,
		EntityIDs:    r.entityIDs,
		RelationType: r.relationType,
		MaxDepth:     r.maxDepth,
		Limit:        r.limit,
	})
	if err != nil {
		slog.Error("Graph retrieval failed", "error", err)
		return nil, nil
	}

	var docs []Doc
	seen := make(map[string]bool)
	for _, row := range rows {
		var rel model.Relation
		if err := model.Decode(translateEdge(row), &rel); err != nil {
			continue
		}
		docs = append(docs, relationDoc(rel, row["distance"]))

		for _, endpoint := range []string{rel.SourceID, rel.TargetID} {
			if endpoint == "" || seen[endpoint] {
				continue
			}
			seen[endpoint] = true
			entity, err := r.entities.FindOne(ctx, map[string]any{"id": endpoint})
			if err != nil {
				continue
			}
			docs = append(docs, entityDoc(*entity, row["distance"]))
		}
		if len(docs) >= r.limit {
			break
		}
	}
	if len(docs) > r.limit {
		docs = docs[:r.limit]
	}
	slog.Debug("Graph retriever found documents", "count", len(docs))
	return docs, nil
}

func translateEdge(row map[string]any) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		switch k {
		case "out":
			out["source_id"] = v
		case "in":
			out["target_id"] = v
		default:
			out[k] = v
		}
	}
	return out
}

func entityDoc(entity model.Entity, distance any) Doc {
	meta := map[string]any{
		"type":        "entity",
		"entity_id":   entity.ID,
		"entity_type": entity.EntityType,
		"name":        entity.Name,
	}
	if distance != nil {
		meta["distance"] = distance
	}
	return Doc{
		PageContent: "Entity: " + entity.Name + " (" + entity.EntityType + ")",
		Metadata:    meta,
	}
}

func relationDoc(rel model.Relation, distance any) Doc {
	meta := map[string]any{
		"type":           "relation",
		"relation_id":    rel.ID,
		"from_entity_id": rel.SourceID,
		"to_entity_id":   rel.TargetID,
		"relation_type":  rel.RelationType,
	}
	if distance != nil {
		meta["distance"] = distance
	}
	return Doc{
		PageContent: "Relation: " + rel.SourceID + " " + rel.RelationType + " " + rel.TargetID,
		Metadata:    meta,
	}
}

// HybridRetriever fans a query out to several retrievers and merges the
// results: duplicates collapse on content prefix plus record identity, and
// ordering follows the best available score with 0.5 as the default for
// unscored results.
type HybridRetriever struct {
	retrievers []Retriever
}

func NewHybridRetriever(retrievers ...Retriever) *HybridRetriever {
	return &HybridRetriever{retrievers: retrievers}
}

func (r *HybridRetriever) Retrieve(ctx context.Context, queryText string) ([]Doc, error) {
	var all []Doc
	for _, retriever := range r.retrievers {
		docs, err := retriever.Retrieve(ctx, queryText)
		if err != nil {
			slog.Warn("Retriever failed", "error", err)
			continue
		}
		all = append(all, docs...)
	}

	type docKey struct {
		content    string
		chunkID    string
		entityID   string
		relationID string
	}
	seen := make(map[docKey]bool)
	unique := make([]Doc, 0, len(all))
	for _, doc := range all {
		key := docKey{
			content:    truncateContent(doc.PageContent, 100),
			chunkID:    metaString(doc, "chunk_id"),
			entityID:   metaString(doc, "entity_id"),
			relationID: metaString(doc, "relation_id"),
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		unique = append(unique, doc)
	}

	sort.SliceStable(unique, func(i, j int) bool {
		return docScore(unique[i]) > docScore(unique[j])
	})

	slog.Info("Hybrid retriever merged documents", "unique", len(unique), "total", len(all))
	return unique, nil
}

// docScore is the larger of the similarity and relevance scores, with 0.5
// for documents carrying neither.
func docScore(doc Doc) float64 {
	similarity, hasSimilarity := doc.Metadata["similarity_score"].(float64)
	relevance, hasRelevance := doc.Metadata["relevance_score"].(float64)
	if !hasSimilarity && !hasRelevance {
		return 0.5
	}
	return max(similarity, relevance)
}

func metaString(doc Doc, key string) string {
	if v, ok := doc.Metadata[key].(string); ok {
		return v
	}
	return ""
}

func truncateContent(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
