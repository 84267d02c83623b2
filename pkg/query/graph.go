package query

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mnemora/mnemora/pkg/model"
)

// defaultGraphLimit caps traversal results when no limit is set.
const defaultGraphLimit = 100

// GraphBuilder builds a graph traversal query. One SELECT is emitted per
// depth in [min, max], each projecting its depth as `distance`, joined
// with UNION ALL. WHERE conditions apply to the traversed edges.
type GraphBuilder struct {
	Builder
	nodeTable       string
	edgeTable       string
	fromIDs         []string
	toIDs           []string
	minDepth        int
	maxDepth        int
	orderByDistance bool
}

// NewGraph creates a graph query builder. Empty node or edge table names
// resolve to the registered graph node and edge records.
func NewGraph(reg *model.Registry, nodeTable, edgeTable string) *GraphBuilder {
	if nodeTable == "" {
		t, ok := reg.GraphNodeTable()
		if !ok {
			gb := &GraphBuilder{Builder: *New(reg, "none")}
			gb.fail(fmt.Errorf("no registered graph node record"))
			return gb
		}
		nodeTable = t
	}
	if edgeTable == "" {
		t, ok := reg.GraphEdgeTable()
		if !ok {
			gb := &GraphBuilder{Builder: *New(reg, "none")}
			gb.fail(fmt.Errorf("no registered graph edge record"))
			return gb
		}
		edgeTable = t
	}
	return &GraphBuilder{
		Builder:   *New(reg, nodeTable),
		nodeTable: nodeTable,
		edgeTable: edgeTable,
		minDepth:  1,
		maxDepth:  1,
	}
}

// FromEntities sets the traversal seed node ids.
func (b *GraphBuilder) FromEntities(ids []string) *GraphBuilder {
	b.fromIDs = ids
	return b
}

// ToEntities restricts traversal targets to the given node ids.
func (b *GraphBuilder) ToEntities(ids []string) *GraphBuilder {
	b.toIDs = ids
	return b
}

func (b *GraphBuilder) validDepth(depth int) bool {
	if depth < 1 || depth > 10 {
		b.fail(&RangeError{What: "depth", Value: depth})
		return false
	}
	return true
}

// MinDepth sets the minimum traversal depth (1-10).
func (b *GraphBuilder) MinDepth(depth int) *GraphBuilder {
	if b.err == nil && b.validDepth(depth) {
		b.minDepth = depth
	}
	return b
}

// MaxDepth sets the maximum traversal depth (1-10).
func (b *GraphBuilder) MaxDepth(depth int) *GraphBuilder {
	if b.err == nil && b.validDepth(depth) {
		b.maxDepth = depth
	}
	return b
}

// DepthRange sets both traversal depth bounds.
func (b *GraphBuilder) DepthRange(minDepth, maxDepth int) *GraphBuilder {
	if b.err != nil {
		return b
	}
	if !b.validDepth(minDepth) || !b.validDepth(maxDepth) {
		return b
	}
	if minDepth > maxDepth {
		b.fail(&RangeError{What: "depth", Value: minDepth})
		return b
	}
	b.minDepth = minDepth
	b.maxDepth = maxDepth
	return b
}

// OrderByDistance orders results closest first.
func (b *GraphBuilder) OrderByDistance() *GraphBuilder {
	b.orderByDistance = true
	return b
}

// Build assembles the traversal query. LIMIT is always appended as a bound
// parameter, defaulting when unset.
func (b *GraphBuilder) Build() (Query, error) {
	if b.err != nil {
		return Query{}, b.err
	}
	if len(b.fromIDs) == 0 {
		return Query{}, fmt.Errorf("at least one starting entity id is required")
	}
	if b.minDepth > b.maxDepth {
		return Query{}, &RangeError{What: "depth", Value: b.minDepth}
	}

	fromParams := make([]string, len(b.fromIDs))
	for i, id := range b.fromIDs {
		fromParams[i] = b.addParam(id)
	}
	fromList := strings.Join(fromParams, ", ")

	whereParts := b.whereParts
	if len(b.toIDs) > 0 {
		toParams := make([]string, len(b.toIDs))
		for i, id := range b.toIDs {
			toParams[i] = b.addParam(id)
		}
		whereParts = append(whereParts, "id IN ["+strings.Join(toParams, ", ")+"]")
	}

	var depthQueries []string
	for depth := b.minDepth; depth <= b.maxDepth; depth++ {
		parts := []string{
			"SELECT", "*,", strconv.Itoa(depth), "AS", "distance",
			"FROM", b.nodeTable,
			"WHERE", "id", "IN", "[" + fromList + "]",
			strings.Repeat("->", depth),
			b.edgeTable,
		}
		if len(whereParts) > 0 {
			parts = append(parts, "WHERE "+strings.Join(whereParts, " AND "))
		}
		depthQueries = append(depthQueries, strings.Join(parts, " "))
	}

	sql := strings.Join(depthQueries, " UNION ALL ")
	if b.orderByDistance {
		sql += " ORDER BY distance ASC"
	}

	limit := defaultGraphLimit
	if b.limitVal != nil {
		limit = *b.limitVal
	}
	sql += " LIMIT " + b.addParam(limit)

	return Query{SQL: sql, Params: b.params}, nil
}
