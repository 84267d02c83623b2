package query

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mnemora/mnemora/pkg/model"
)

// CombinedBuilder merges exact-match, fulltext, and vector search into a
// single statement. Graph traversal keeps its own statement shape, so it
// is built separately with parameters re-prefixed to avoid collisions.
type CombinedBuilder struct {
	Builder
	reg *model.Registry

	embeddingParam string
	vectorField    string
	useVector      bool

	textParam     string
	fulltextField string
	useFulltext   bool

	graph *GraphBuilder
}

// Queries is the output of BuildAll: the combined statement plus the
// optional graph statement.
type Queries struct {
	Main  Query
	Graph *Query
}

// GraphOptions configures the separate graph traversal of a combined
// query.
type GraphOptions struct {
	EntityIDs       []string
	MinDepth        int
	MaxDepth        int
	RelationType    string
	OrderByDistance bool
	TenantID        string
}

// NewCombined creates a combined query builder. With an empty table, the
// first registered record carrying a vector or fulltext field is used.
func NewCombined(reg *model.Registry, table string) *CombinedBuilder {
	resolved := table
	if resolved == "" {
		if t, _, ok := reg.VectorTarget(""); ok {
			resolved = t
		} else if t, _, ok := reg.FulltextTarget(""); ok {
			resolved = t
		} else {
			cb := &CombinedBuilder{Builder: *New(reg, "none"), reg: reg}
			cb.fail(fmt.Errorf("no registered record with a vector or fulltext field"))
			return cb
		}
	}
	return &CombinedBuilder{Builder: *New(reg, resolved), reg: reg}
}

// WithFulltext adds a fulltext match on the table's fulltext field.
func (b *CombinedBuilder) WithFulltext(text string) *CombinedBuilder {
	if b.err != nil {
		return b
	}
	_, field, ok := b.reg.FulltextTarget(b.table)
	if !ok {
		return failCombined(b, fmt.Errorf("table %q has no fulltext field", b.table))
	}
	b.textParam = b.addParam(text)
	b.fulltextField = sanitizeField(field)
	b.useFulltext = true
	return b
}

// WithVector adds a cosine-similarity projection on the table's vector
// field.
func (b *CombinedBuilder) WithVector(embedding []float32) *CombinedBuilder {
	if b.err != nil {
		return b
	}
	_, field, ok := b.reg.VectorTarget(b.table)
	if !ok {
		return failCombined(b, fmt.Errorf("table %q has no vector field", b.table))
	}
	b.embeddingParam = b.addParam(embedding)
	b.vectorField = field
	b.useVector = true
	return b
}

// WithGraph attaches a separate graph traversal over the registered node
// and edge tables.
func (b *CombinedBuilder) WithGraph(opts GraphOptions) *CombinedBuilder {
	if b.err != nil {
		return b
	}
	g := NewGraph(b.reg, "", "").
		FromEntities(opts.EntityIDs).
		DepthRange(opts.MinDepth, opts.MaxDepth)
	if opts.TenantID != "" {
		g.WhereEq("tenant_id", opts.TenantID)
		g.WhereEq("is_deleted", false)
	}
	if opts.RelationType != "" {
		g.WhereEq("relation_type", opts.RelationType)
	}
	if opts.OrderByDistance {
		g.OrderByDistance()
	}
	b.graph = g
	return b
}

func failCombined(b *CombinedBuilder, err error) *CombinedBuilder {
	b.fail(err)
	return b
}

// Build assembles the combined statement. With both search kinds active
// the tie-break order is similarity first, relevance second.
func (b *CombinedBuilder) Build() (Query, error) {
	if b.err != nil {
		return Query{}, b.err
	}

	selectParts := append([]string{}, b.selectFields...)
	whereParts := b.whereParts

	if b.useVector {
		selectParts = append(selectParts,
			fmt.Sprintf("cosine_similarity(%s, %s) AS similarity_score", b.vectorField, b.embeddingParam))
		whereParts = append(whereParts, sanitizeField(b.vectorField)+" IS NOT NONE")
	}
	if b.useFulltext {
		selectParts = append(selectParts, "search::score(0) AS relevance_score")
		match := fmt.Sprintf("%s @@ %s", b.fulltextField, b.textParam)
		whereParts = append([]string{match}, whereParts...)
	}

	parts := []string{"SELECT", strings.Join(selectParts, ", "), "FROM", b.table}
	if len(whereParts) > 0 {
		parts = append(parts, "WHERE "+strings.Join(whereParts, " AND "))
	}

	switch {
	case len(b.orderBy) > 0:
		parts = append(parts, "ORDER BY "+strings.Join(b.orderBy, ", "))
	case b.useVector && b.useFulltext:
		parts = append(parts, "ORDER BY similarity_score DESC, relevance_score DESC")
	case b.useVector:
		parts = append(parts, "ORDER BY similarity_score DESC")
	case b.useFulltext:
		parts = append(parts, "ORDER BY relevance_score DESC")
	}

	if b.skipVal != nil {
		parts = append(parts, "START "+strconv.Itoa(*b.skipVal))
	}
	if b.limitVal != nil {
		parts = append(parts, "LIMIT "+b.addParam(*b.limitVal))
	}

	return Query{SQL: strings.Join(parts, " "), Params: b.params}, nil
}

// BuildGraph builds the attached graph statement with its parameters
// renamed to graph_param_N so the two statements can share one bind map.
// Returns nil when no graph search was attached.
func (b *CombinedBuilder) BuildGraph() (*Query, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.graph == nil {
		return nil, nil
	}
	q, err := b.graph.Build()
	if err != nil {
		return nil, err
	}

	renamed := make(map[string]any, len(q.Params))
	for key, value := range q.Params {
		renamed["graph_"+key] = value
	}
	q.SQL = strings.ReplaceAll(q.SQL, "$param_", "$graph_param_")
	q.Params = renamed
	return &q, nil
}

// BuildAll builds the combined statement and, when attached, the graph
// statement.
func (b *CombinedBuilder) BuildAll() (Queries, error) {
	main, err := b.Build()
	if err != nil {
		return Queries{}, err
	}
	graph, err := b.BuildGraph()
	if err != nil {
		return Queries{}, err
	}
	return Queries{Main: main, Graph: graph}, nil
}
