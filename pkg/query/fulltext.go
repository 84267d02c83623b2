package query

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mnemora/mnemora/pkg/model"
)

// FulltextBuilder builds a fulltext search query using the `@@` matches
// operator. The match score is projected as relevance_score and results
// default to ordering by it. LIMIT is bound as a parameter.
type FulltextBuilder struct {
	Builder
	textField string
	textParam string
}

// NewFulltext creates a fulltext query builder. With an empty table, the
// first registered record carrying a fulltext field is used.
func NewFulltext(reg *model.Registry, table string) *FulltextBuilder {
	resolved, field, ok := reg.FulltextTarget(table)
	if !ok {
		fb := &FulltextBuilder{Builder: *New(reg, "none")}
		fb.fail(fmt.Errorf("no registered record with a fulltext field for table %q", table))
		return fb
	}
	return &FulltextBuilder{Builder: *New(reg, resolved), textField: field}
}

// Search binds the text to match against the fulltext field.
func (b *FulltextBuilder) Search(text string) *FulltextBuilder {
	if b.err != nil {
		return b
	}
	b.textParam = b.addParam(text)
	return b
}

// Build assembles the fulltext query. The match condition is prepended to
// any other WHERE conditions.
func (b *FulltextBuilder) Build() (Query, error) {
	if b.err != nil {
		return Query{}, b.err
	}

	whereParts := b.whereParts
	if b.textParam != "" {
		match := fmt.Sprintf("%s @@ %s", sanitizeField(b.textField), b.textParam)
		whereParts = append([]string{match}, whereParts...)
	}

	parts := []string{"SELECT", "*, search::score(0) AS relevance_score", "FROM", b.table}
	if len(whereParts) > 0 {
		parts = append(parts, "WHERE "+strings.Join(whereParts, " AND "))
	}

	if len(b.orderBy) > 0 {
		parts = append(parts, "ORDER BY "+strings.Join(b.orderBy, ", "))
	} else {
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
