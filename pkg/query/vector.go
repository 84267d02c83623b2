package query

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mnemora/mnemora/pkg/model"
)

// VectorBuilder builds a vector-similarity query. The cosine similarity is
// projected as similarity_score and results default to ordering by it.
// Unlike the base builder, LIMIT is bound as a parameter.
type VectorBuilder struct {
	Builder
	vectorField    string
	embeddingParam string
}

// NewVector creates a vector query builder. With an empty table, the first
// registered record carrying a vector field is used.
func NewVector(reg *model.Registry, table string) *VectorBuilder {
	resolved, field, ok := reg.VectorTarget(table)
	if !ok {
		vb := &VectorBuilder{Builder: *New(reg, "none")}
		vb.fail(fmt.Errorf("no registered record with a vector field for table %q", table))
		return vb
	}
	return &VectorBuilder{Builder: *New(reg, resolved), vectorField: field}
}

// WithEmbedding binds the query embedding used for similarity scoring.
func (b *VectorBuilder) WithEmbedding(embedding []float32) *VectorBuilder {
	if b.err != nil {
		return b
	}
	b.embeddingParam = b.addParam(embedding)
	return b
}

// Build assembles the vector query.
func (b *VectorBuilder) Build() (Query, error) {
	if b.err != nil {
		return Query{}, b.err
	}

	var parts []string
	if b.embeddingParam != "" {
		projection := fmt.Sprintf("*, vector::similarity::cosine(%s, %s) AS similarity_score",
			b.vectorField, b.embeddingParam)
		parts = []string{"SELECT", projection, "FROM", b.table}
	} else {
		parts = []string{"SELECT", strings.Join(b.selectFields, ", "), "FROM", b.table}
	}

	if len(b.whereParts) > 0 {
		parts = append(parts, "WHERE "+strings.Join(b.whereParts, " AND "))
	}

	switch {
	case len(b.orderBy) > 0:
		parts = append(parts, "ORDER BY "+strings.Join(b.orderBy, ", "))
	case b.embeddingParam != "":
		parts = append(parts, "ORDER BY similarity_score DESC")
	}

	if b.skipVal != nil {
		parts = append(parts, "START "+strconv.Itoa(*b.skipVal))
	}
	if b.limitVal != nil {
		parts = append(parts, "LIMIT "+b.addParam(*b.limitVal))
	}

	return Query{SQL: strings.Join(parts, " "), Params: b.params}, nil
}
