package database

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mnemora/mnemora/pkg/model"
	"github.com/mnemora/mnemora/pkg/query"
)

// slowQueryThreshold triggers a warning log for long-running statements.
const slowQueryThreshold = time.Second

// maxGraphSeeds caps the number of seed ids accepted by graph helpers.
const maxGraphSeeds = 20

// Executor runs built queries against the store with latency logging and
// offers high-level helpers that always scope by tenant and soft-delete
// status.
type Executor struct {
	conn Conn
	reg  *model.Registry
}

// NewExecutor creates an executor over a connection and record registry.
func NewExecutor(conn Conn, reg *model.Registry) *Executor {
	return &Executor{conn: conn, reg: reg}
}

// Registry exposes the record registry the executor validates against.
func (e *Executor) Registry() *model.Registry { return e.reg }

// Execute runs one statement and returns the rows of its first result.
func (e *Executor) Execute(ctx context.Context, sql string, vars map[string]any) ([]map[string]any, error) {
	start := time.Now()
	queryType := detectQueryType(sql)

	results, err := e.conn.Query(ctx, sql, vars)
	elapsed := time.Since(start)
	if err != nil {
		slog.Error("Query execution failed",
			"type", queryType,
			"duration", elapsed,
			"query", truncate(sql, 200),
			"error", err)
		return nil, fmt.Errorf("executing %s query: %w", queryType, err)
	}

	if len(results) == 0 {
		slog.Debug("Query executed with no results", "type", queryType, "duration", elapsed)
		return nil, nil
	}

	rows := results[0].Rows
	slog.Debug("Query executed",
		"type", queryType,
		"duration", elapsed,
		"rows", len(rows),
		"query_length", len(sql))
	if elapsed > slowQueryThreshold {
		slog.Warn("Slow query detected",
			"type", queryType,
			"duration", elapsed,
			"rows", len(rows),
			"query", truncate(sql, 200))
	}
	return rows, nil
}

// Run builds and executes a query in one step.
func (e *Executor) Run(ctx context.Context, q query.Query) ([]map[string]any, error) {
	return e.Execute(ctx, q.SQL, q.Params)
}

// detectQueryType classifies a statement by its content for logging.
func detectQueryType(sql string) string {
	upper := strings.ToUpper(sql)
	switch {
	case strings.Contains(upper, "COSINE_SIMILARITY") || strings.Contains(upper, "SIMILARITY_SCORE"):
		return "vector"
	case strings.Contains(sql, "@@") || strings.Contains(upper, "SEARCH::SCORE"):
		return "fulltext"
	case strings.Contains(sql, "->") || strings.Contains(upper, "DISTANCE"):
		return "graph"
	case strings.Contains(upper, "UNION ALL"):
		return "combined"
	default:
		return "exact_match"
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// applyFilters adds filters to a builder, expanding list values to IN.
func applyFilters(b *query.Builder, filters map[string]any) {
	for field, value := range filters {
		switch v := value.(type) {
		case []any:
			b.WhereIn(field, v)
		case []string:
			b.WhereIn(field, query.Strings(v))
		default:
			b.WhereEq(field, value)
		}
	}
}

// ExactMatch runs an exact-match query scoped to the tenant's live rows.
func (e *Executor) ExactMatch(ctx context.Context, table string, filters map[string]any, tenantID string, limit int) ([]map[string]any, error) {
	b := query.New(e.reg, table).
		WhereEq("tenant_id", tenantID).
		WhereEq("is_deleted", false).
		Limit(limit)
	applyFilters(b, filters)

	q, err := b.Build()
	if err != nil {
		return nil, err
	}
	return e.Run(ctx, q)
}

// Fulltext runs a fulltext search scoped to the tenant's live rows.
func (e *Executor) Fulltext(ctx context.Context, text string, filters map[string]any, tenantID string, limit int) ([]map[string]any, error) {
	b := query.NewFulltext(e.reg, "")
	b.Search(text)
	b.WhereEq("tenant_id", tenantID)
	b.WhereEq("is_deleted", false)
	b.Limit(limit)
	applyFilters(&b.Builder, filters)

	q, err := b.Build()
	if err != nil {
		return nil, err
	}
	return e.Run(ctx, q)
}

// Vector runs a similarity search scoped to the tenant's live rows with a
// populated embedding.
func (e *Executor) Vector(ctx context.Context, embedding []float32, filters map[string]any, tenantID string, limit int) ([]map[string]any, error) {
	b := query.NewVector(e.reg, "")
	b.WithEmbedding(embedding)
	b.WhereEq("tenant_id", tenantID)
	b.WhereEq("is_deleted", false)
	b.WhereIsNotNone("embedding")
	b.Limit(limit)
	applyFilters(&b.Builder, filters)

	q, err := b.Build()
	if err != nil {
		return nil, err
	}
	return e.Run(ctx, q)
}

// GraphParams configures a graph traversal helper call.
type GraphParams struct {
	TenantID        string
	EntityIDs       []string
	RelationType    string
	Limit           int
	MinDepth        int
	MaxDepth        int
	OrderByDistance bool
}

// sanitizeSeedIDs caps seeds at maxGraphSeeds and drops ids that contain
// SQL keywords, with a warning.
func sanitizeSeedIDs(ids []string) []string {
	if len(ids) > maxGraphSeeds {
		ids = ids[:maxGraphSeeds]
	}
	keywords := []string{"SELECT", "DROP", "DELETE", "INSERT", "UPDATE"}
	valid := make([]string, 0, len(ids))
outer:
	for _, id := range ids {
		upper := strings.ToUpper(id)
		for _, kw := range keywords {
			if strings.Contains(upper, kw) {
				slog.Warn("Suspicious entity id dropped from graph query", "entity_id", id)
				continue outer
			}
		}
		valid = append(valid, id)
	}
	return valid
}

// Graph runs a traversal from the given seed entities.
func (e *Executor) Graph(ctx context.Context, p GraphParams) ([]map[string]any, error) {
	seeds := sanitizeSeedIDs(p.EntityIDs)
	if len(seeds) == 0 {
		slog.Warn("No valid entity ids provided for graph query")
		return nil, nil
	}

	minDepth, maxDepth := p.MinDepth, p.MaxDepth
	if minDepth == 0 {
		minDepth = 1
	}
	if maxDepth == 0 {
		maxDepth = 1
	}

	b := query.NewGraph(e.reg, "", "")
	b.FromEntities(seeds)
	b.DepthRange(minDepth, maxDepth)
	b.WhereEq("tenant_id", p.TenantID)
	b.WhereEq("is_deleted", false)
	b.Limit(p.Limit)
	if p.RelationType != "" {
		b.WhereEq("relation_type", p.RelationType)
	}
	if p.OrderByDistance {
		b.OrderByDistance()
	}

	q, err := b.Build()
	if err != nil {
		return nil, err
	}
	return e.Run(ctx, q)
}

// CombinedParams configures a combined search helper call.
type CombinedParams struct {
	TenantID          string
	Table             string
	ExactMatchFilters map[string]any
	FulltextQuery     string
	VectorEmbedding   []float32
	GraphEntityIDs    []string
	GraphMinDepth     int
	GraphMaxDepth     int
	GraphRelationType string
	GraphOrderByDist  bool
	Limit             int
}

// CombinedResults holds the two result sets of a combined search.
type CombinedResults struct {
	Main  []map[string]any
	Graph []map[string]any
}

// Combined runs exact + fulltext + vector search as one statement and the
// graph traversal, when requested, as a second one.
func (e *Executor) Combined(ctx context.Context, p CombinedParams) (CombinedResults, error) {
	b := query.NewCombined(e.reg, p.Table)
	b.WhereEq("tenant_id", p.TenantID)
	b.WhereEq("is_deleted", false)
	applyFilters(&b.Builder, p.ExactMatchFilters)

	if p.FulltextQuery != "" {
		b.WithFulltext(p.FulltextQuery)
	}
	if len(p.VectorEmbedding) > 0 {
		b.WithVector(p.VectorEmbedding)
	}
	if len(p.GraphEntityIDs) > 0 {
		minDepth, maxDepth := p.GraphMinDepth, p.GraphMaxDepth
		if minDepth == 0 {
			minDepth = 1
		}
		if maxDepth == 0 {
			maxDepth = 1
		}
		b.WithGraph(query.GraphOptions{
			EntityIDs:       sanitizeSeedIDs(p.GraphEntityIDs),
			MinDepth:        minDepth,
			MaxDepth:        maxDepth,
			RelationType:    p.GraphRelationType,
			OrderByDistance: p.GraphOrderByDist,
			TenantID:        p.TenantID,
		})
	}

	limit := p.Limit
	if limit == 0 {
		limit = 20
	}
	b.Limit(limit)

	queries, err := b.BuildAll()
	if err != nil {
		return CombinedResults{}, err
	}

	var out CombinedResults
	out.Main, err = e.Run(ctx, queries.Main)
	if err != nil {
		return CombinedResults{}, err
	}
	if queries.Graph != nil {
		out.Graph, err = e.Run(ctx, *queries.Graph)
		if err != nil {
			return CombinedResults{}, err
		}
	}
	return out, nil
}
