package store

import (
	"context"
	"fmt"
	"time"

	"github.com/mnemora/mnemora/pkg/database"
	"github.com/mnemora/mnemora/pkg/model"
)

// RelationStore persists graph edges. Edges live in the `relation` table
// and the store keeps endpoints in its `out` (source) and `in` (target)
// fields; the source_id/target_id translation never leaves this type.
type RelationStore struct {
	exec *database.Executor
}

// NewRelationStore creates the edge store.
func NewRelationStore(exec *database.Executor) *RelationStore {
	return &RelationStore{exec: exec}
}

const findEdgeSQL = "SELECT * FROM relation " +
	"WHERE out = $source_id AND `in` = $target_id " +
	"AND relation_type = $relation_type AND tenant_id = $tenant_id " +
	"AND is_deleted = false LIMIT 1"

// Upsert creates the edge with RELATE when no live edge with the same
// endpoints, type, and tenant exists, and merges data into it otherwise.
// The persisted edge is re-read and returned in node form.
func (s *RelationStore) Upsert(ctx context.Context, rel model.Relation) (model.Relation, error) {
	vars := map[string]any{
		"source_id":     rel.SourceID,
		"target_id":     rel.TargetID,
		"relation_type": rel.RelationType,
		"tenant_id":     rel.TenantID,
	}

	existing, err := s.exec.Execute(ctx, findEdgeSQL, vars)
	if err != nil {
		return model.Relation{}, fmt.Errorf("looking up relation: %w", err)
	}

	if len(existing) > 0 {
		current, err := decodeEdge(existing[0])
		if err != nil {
			return model.Relation{}, err
		}
		merge := map[string]any{
			"updated_at": time.Now().UTC(),
		}
		if rel.Data != nil {
			merge["data"] = rel.Data
		}
		if rel.MetaData != nil {
			merge["meta_data"] = rel.MetaData
		}
		table, key := SplitID(current.ID)
		if _, err := s.exec.Execute(ctx,
			"UPDATE type::thing($tb, $id) MERGE $data",
			map[string]any{"tb": table, "id": key, "data": merge}); err != nil {
			return model.Relation{}, fmt.Errorf("updating relation %s: %w", current.ID, err)
		}
		return s.reRead(ctx, vars)
	}

	relateSQL := "RELATE $source_id -> relation -> $target_id " +
		"SET tenant_id = $tenant_id, relation_type = $relation_type, " +
		"data = $data, updated_at = time::now(), is_deleted = false, " +
		"created_at = time::now()"
	relateVars := map[string]any{
		"source_id":     rel.SourceID,
		"target_id":     rel.TargetID,
		"tenant_id":     rel.TenantID,
		"relation_type": rel.RelationType,
		"data":          orEmpty(rel.Data),
	}
	if _, err := s.exec.Execute(ctx, relateSQL, relateVars); err != nil {
		return model.Relation{}, fmt.Errorf("relating %s -> %s -> %s: %w",
			rel.SourceID, rel.RelationType, rel.TargetID, err)
	}
	return s.reRead(ctx, vars)
}

func (s *RelationStore) reRead(ctx context.Context, vars map[string]any) (model.Relation, error) {
	rows, err := s.exec.Execute(ctx, findEdgeSQL, vars)
	if err != nil {
		return model.Relation{}, fmt.Errorf("re-reading relation: %w", err)
	}
	if len(rows) == 0 {
		return model.Relation{}, fmt.Errorf("relation not found after relate: %v -> %v -> %v",
			vars["source_id"], vars["relation_type"], vars["target_id"])
	}
	return decodeEdge(rows[0])
}

// FindBetween returns live edges whose source is in sourceIDs and target
// in targetIDs for the tenant.
func (s *RelationStore) FindBetween(ctx context.Context, tenantID string, sourceIDs, targetIDs []string) ([]model.Relation, error) {
	if len(sourceIDs) == 0 || len(targetIDs) == 0 {
		return nil, nil
	}
	vars := map[string]any{
		"tenant_id": tenantID,
		"sources":   sourceIDs,
		"targets":   targetIDs,
	}
	sql := "SELECT * FROM relation " +
		"WHERE out IN $sources AND `in` IN $targets " +
		"AND tenant_id = $tenant_id AND is_deleted = false"
	rows, err := s.exec.Execute(ctx, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("finding relations between nodes: %w", err)
	}
	return decodeEdges(rows)
}

// FindTouching returns live edges where either endpoint is in nodeIDs.
func (s *RelationStore) FindTouching(ctx context.Context, tenantID string, nodeIDs []string) ([]model.Relation, error) {
	if len(nodeIDs) == 0 {
		return nil, nil
	}
	vars := map[string]any{
		"tenant_id": tenantID,
		"nodes":     nodeIDs,
	}
	sql := "SELECT * FROM relation " +
		"WHERE (out IN $nodes OR `in` IN $nodes) " +
		"AND tenant_id = $tenant_id AND is_deleted = false"
	rows, err := s.exec.Execute(ctx, sql, vars)
	if err != nil {
		return nil, fmt.Errorf("finding relations touching nodes: %w", err)
	}
	return decodeEdges(rows)
}

// translateEdgeRow rewrites the store's edge fields into the record's
// source/target form.
func translateEdgeRow(row map[string]any) map[string]any {
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

func decodeEdge(row map[string]any) (model.Relation, error) {
	var rel model.Relation
	if err := model.Decode(translateEdgeRow(row), &rel); err != nil {
		return model.Relation{}, err
	}
	return rel, nil
}

func decodeEdges(rows []map[string]any) ([]model.Relation, error) {
	out := make([]model.Relation, 0, len(rows))
	for _, row := range rows {
		rel, err := decodeEdge(row)
		if err != nil {
			return nil, err
		}
		out = append(out, rel)
	}
	return out, nil
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
