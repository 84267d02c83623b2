// Package query builds parameterized SurrealQL queries. Every value is
// bound through a $param_N placeholder; identifiers are validated against
// the record registry before they reach query text.
package query

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/mnemora/mnemora/pkg/model"
)

// Query is a built statement with its bound parameters.
type Query struct {
	SQL    string
	Params map[string]any
}

var (
	tablePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	fieldPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
)

var allowedOperators = map[string]struct{}{
	"=": {}, "!=": {}, ">": {}, "<": {}, ">=": {}, "<=": {},
	"IN": {}, "NOT IN": {},
}

// Builder assembles a SELECT statement clause by clause. Validation
// failures are recorded and surfaced by Build; once an error is set the
// builder ignores further input.
type Builder struct {
	reg          *model.Registry
	table        string
	whereParts   []string
	params       map[string]any
	counter      int
	selectFields []string
	orderBy      []string
	limitVal     *int
	skipVal      *int
	err          error
}

// New creates a builder for the given table. Unregistered tables are
// allowed with a warning; malformed table names are rejected.
func New(reg *model.Registry, table string) *Builder {
	b := &Builder{
		reg:          reg,
		table:        table,
		params:       make(map[string]any),
		selectFields: []string{"*"},
	}
	if !tablePattern.MatchString(table) {
		b.err = &UnsafeIdentifierError{Kind: "table", Value: table}
		return b
	}
	if !reg.HasTable(table) {
		slog.Warn("Table not found in registered records",
			"table", table, "allowed", reg.Tables())
	}
	return b
}

// Table returns the table the builder selects from.
func (b *Builder) Table() string { return b.table }

// Err returns the first validation error recorded so far.
func (b *Builder) Err() error { return b.err }

func (b *Builder) fail(err error) *Builder {
	if b.err == nil {
		b.err = err
	}
	return b
}

// addParam binds a value and returns its placeholder ("$param_N").
func (b *Builder) addParam(value any) string {
	name := "param_" + strconv.Itoa(b.counter)
	b.params[name] = value
	b.counter++
	return "$" + name
}

// validField checks a field name against the registry's field union, with
// an identifier-pattern fallback that warns instead of rejecting.
func (b *Builder) validField(field string) (string, error) {
	if b.reg.HasField(field) {
		return sanitizeField(field), nil
	}
	if fieldPattern.MatchString(field) {
		slog.Warn("Field not found in registered records, allowing by pattern", "field", field)
		return sanitizeField(field), nil
	}
	return "", &UnsafeIdentifierError{Kind: "field", Value: field}
}

func sanitizeField(field string) string {
	return strings.ReplaceAll(field, "`", "``")
}

// WhereEq adds a `field = value` condition.
func (b *Builder) WhereEq(field string, value any) *Builder {
	return b.Where(field, "=", value)
}

// Where adds a condition with one of the allowed comparison operators.
// IN and NOT IN require a []any value and expand to one placeholder per
// element.
func (b *Builder) Where(field, operator string, value any) *Builder {
	if b.err != nil {
		return b
	}
	name, err := b.validField(field)
	if err != nil {
		return b.fail(err)
	}
	op := strings.ToUpper(strings.TrimSpace(operator))
	if _, ok := allowedOperators[op]; !ok {
		return b.fail(&UnsafeIdentifierError{Kind: "operator", Value: operator})
	}

	switch op {
	case "IN", "NOT IN":
		values, ok := value.([]any)
		if !ok {
			return b.fail(&TypeMismatchError{Operator: op, Want: "list"})
		}
		if len(values) == 0 {
			return b.fail(&TypeMismatchError{Operator: op, Want: "non-empty list"})
		}
		placeholders := make([]string, len(values))
		for i, v := range values {
			placeholders[i] = b.addParam(v)
		}
		b.whereParts = append(b.whereParts,
			fmt.Sprintf("%s %s [%s]", name, op, strings.Join(placeholders, ", ")))
	default:
		b.whereParts = append(b.whereParts,
			fmt.Sprintf("%s %s %s", name, op, b.addParam(value)))
	}
	return b
}

// WhereIn adds a `field IN [...]` condition.
func (b *Builder) WhereIn(field string, values []any) *Builder {
	return b.Where(field, "IN", values)
}

// WhereNotIn adds a `field NOT IN [...]` condition.
func (b *Builder) WhereNotIn(field string, values []any) *Builder {
	return b.Where(field, "NOT IN", values)
}

// WhereIsNone adds a `field IS NONE` condition.
func (b *Builder) WhereIsNone(field string) *Builder {
	if b.err != nil {
		return b
	}
	name, err := b.validField(field)
	if err != nil {
		return b.fail(err)
	}
	b.whereParts = append(b.whereParts, name+" IS NONE")
	return b
}

// WhereIsNotNone adds a `field IS NOT NONE` condition.
func (b *Builder) WhereIsNotNone(field string) *Builder {
	if b.err != nil {
		return b
	}
	name, err := b.validField(field)
	if err != nil {
		return b.fail(err)
	}
	b.whereParts = append(b.whereParts, name+" IS NOT NONE")
	return b
}

// WhereContains adds a `field ~ value` substring-match condition, the
// fallback used when no fulltext index is available.
func (b *Builder) WhereContains(field string, value any) *Builder {
	if b.err != nil {
		return b
	}
	name, err := b.validField(field)
	if err != nil {
		return b.fail(err)
	}
	b.whereParts = append(b.whereParts, name+" ~ "+b.addParam(value))
	return b
}

// Select replaces the projected fields. No arguments resets to "*".
func (b *Builder) Select(fields ...string) *Builder {
	if b.err != nil {
		return b
	}
	if len(fields) == 0 {
		b.selectFields = []string{"*"}
		return b
	}
	validated := make([]string, 0, len(fields))
	for _, f := range fields {
		name, err := b.validField(f)
		if err != nil {
			return b.fail(err)
		}
		validated = append(validated, name)
	}
	b.selectFields = validated
	return b
}

// OrderBy appends an ORDER BY term. Direction must be ASC or DESC.
func (b *Builder) OrderBy(field, direction string) *Builder {
	if b.err != nil {
		return b
	}
	name, err := b.validField(field)
	if err != nil {
		return b.fail(err)
	}
	dir := strings.ToUpper(direction)
	if dir != "ASC" && dir != "DESC" {
		return b.fail(&UnsafeIdentifierError{Kind: "direction", Value: direction})
	}
	b.orderBy = append(b.orderBy, name+" "+dir)
	return b
}

// Limit caps the result count. Must be non-negative.
func (b *Builder) Limit(count int) *Builder {
	if b.err != nil {
		return b
	}
	if count < 0 {
		return b.fail(&RangeError{What: "limit", Value: count})
	}
	b.limitVal = &count
	return b
}

// Skip offsets the result window (START clause). Must be non-negative.
func (b *Builder) Skip(count int) *Builder {
	if b.err != nil {
		return b
	}
	if count < 0 {
		return b.fail(&RangeError{What: "skip", Value: count})
	}
	b.skipVal = &count
	return b
}

// Build assembles the statement in SELECT, FROM, WHERE, ORDER BY, START,
// LIMIT order.
func (b *Builder) Build() (Query, error) {
	if b.err != nil {
		return Query{}, b.err
	}

	parts := []string{"SELECT", strings.Join(b.selectFields, ", "), "FROM", b.table}
	if len(b.whereParts) > 0 {
		parts = append(parts, "WHERE "+strings.Join(b.whereParts, " AND "))
	}
	if len(b.orderBy) > 0 {
		parts = append(parts, "ORDER BY "+strings.Join(b.orderBy, ", "))
	}
	if b.skipVal != nil {
		parts = append(parts, "START "+strconv.Itoa(*b.skipVal))
	}
	if b.limitVal != nil {
		parts = append(parts, "LIMIT "+strconv.Itoa(*b.limitVal))
	}

	return Query{SQL: strings.Join(parts, " "), Params: b.params}, nil
}

// Strings converts a string slice to the []any form the builder binds.
func Strings(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
