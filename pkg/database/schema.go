package database

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mnemora/mnemora/pkg/model"
)

// GenerateSchema emits the DDL for every registered record: a schemaless
// table definition plus one DEFINE INDEX per index name, with fields
// grouped in declaration order.
func GenerateSchema(reg *model.Registry) []string {
	var statements []string
	for _, table := range reg.Tables() {
		desc, _ := reg.Descriptor(table)
		quoted := quoteIdent(table)
		statements = append(statements, fmt.Sprintf("DEFINE TABLE %s SCHEMALESS;", quoted))

		names, grouped := groupIndexes(desc)
		for _, index := range names {
			fields := make([]string, len(grouped[index]))
			for i, f := range grouped[index] {
				fields[i] = quoteIdent(f)
			}
			statements = append(statements, fmt.Sprintf(
				"DEFINE INDEX %s ON %s FIELDS %s;",
				quoteIdent(index), quoted, strings.Join(fields, ", ")))
		}
	}
	return statements
}

// groupIndexes collects fields sharing an index name, preserving the
// field declaration order within each group and the order in which index
// names first appear.
func groupIndexes(desc model.Descriptor) ([]string, map[string][]string) {
	var names []string
	grouped := make(map[string][]string)
	for _, f := range desc.AllFields() {
		if f.Index == "" {
			continue
		}
		if _, seen := grouped[f.Index]; !seen {
			names = append(names, f.Index)
		}
		grouped[f.Index] = append(grouped[f.Index], f.Name)
	}
	return names, grouped
}

// quoteIdent backtick-quotes identifiers that contain a hyphen, a space,
// or start with a digit.
func quoteIdent(identifier string) string {
	if identifier == "" {
		return identifier
	}
	if strings.ContainsAny(identifier, "- ") || (identifier[0] >= '0' && identifier[0] <= '9') {
		return "`" + identifier + "`"
	}
	return identifier
}

// InitSchema applies the generated DDL. Safe to run at every startup;
// definitions are idempotent.
func InitSchema(ctx context.Context, conn Conn, reg *model.Registry) error {
	for _, stmt := range GenerateSchema(reg) {
		slog.Debug("Applying schema statement", "statement", stmt)
		if _, err := conn.Query(ctx, stmt, nil); err != nil {
			return fmt.Errorf("applying schema statement %q: %w", stmt, err)
		}
	}
	slog.Info("Schema initialized", "tables", len(reg.Tables()))
	return nil
}
