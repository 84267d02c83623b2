// Package store persists records through the query executor. It owns id
// generation and the node/edge field translation quirks of the store.
package store

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mnemora/mnemora/pkg/database"
	"github.com/mnemora/mnemora/pkg/model"
	"github.com/mnemora/mnemora/pkg/query"
)

// ErrNotFound is returned when a record lookup by id matches nothing.
var ErrNotFound = errors.New("record not found")

// NewID generates a record id for a table.
func NewID(table string) string {
	return table + ":" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// SplitID separates a record id into table and key parts.
func SplitID(id string) (string, string) {
	if i := strings.IndexByte(id, ':'); i >= 0 {
		return id[:i], id[i+1:]
	}
	return "", id
}

// Repository persists one record type.
type Repository[T model.Tabler] struct {
	exec  *database.Executor
	table string
}

// NewRepository creates a repository for the record type's table.
func NewRepository[T model.Tabler](exec *database.Executor) *Repository[T] {
	var zero T
	return &Repository[T]{exec: exec, table: zero.Table()}
}

// Table returns the repository's table name.
func (r *Repository[T]) Table() string { return r.table }

// Save creates the record when it has no id, otherwise replaces its
// content. Timestamps are maintained on the way in.
func (r *Repository[T]) Save(ctx context.Context, rec T) (T, error) {
	var zero T
	row, err := model.Encode(rec)
	if err != nil {
		return zero, err
	}

	now := time.Now().UTC()
	id, _ := row["id"].(string)
	verb := "UPDATE"
	if id == "" {
		id = NewID(r.table)
		verb = "CREATE"
		if _, ok := row["created_at"]; !ok {
			row["created_at"] = now
		}
	}
	row["updated_at"] = now
	delete(row, "id")

	table, key := SplitID(id)
	rows, err := r.exec.Execute(ctx,
		verb+" type::thing($tb, $id) CONTENT $data",
		map[string]any{"tb": table, "id": key, "data": row})
	if err != nil {
		return zero, fmt.Errorf("saving %s record: %w", r.table, err)
	}
	if len(rows) == 0 {
		return zero, fmt.Errorf("saving %s record: empty result", r.table)
	}

	var saved T
	if err := model.Decode(rows[0], &saved); err != nil {
		return zero, err
	}
	return saved, nil
}

// GetByID fetches a record by id. Returns ErrNotFound when absent.
func (r *Repository[T]) GetByID(ctx context.Context, id string) (*T, error) {
	return r.FindOne(ctx, map[string]any{"id": id})
}

// FindOne fetches the first record matching the filters. Returns
// ErrNotFound when nothing matches.
func (r *Repository[T]) FindOne(ctx context.Context, filters map[string]any) (*T, error) {
	rows, err := r.find(ctx, filters, 0, 1)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	var rec T
	if err := model.Decode(rows[0], &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// FindMany fetches records matching the filters with paging. A zero limit
// means no LIMIT clause.
func (r *Repository[T]) FindMany(ctx context.Context, filters map[string]any, skip, limit int) ([]T, error) {
	rows, err := r.find(ctx, filters, skip, limit)
	if err != nil {
		return nil, err
	}
	return model.DecodeRows[T](rows)
}

func (r *Repository[T]) find(ctx context.Context, filters map[string]any, skip, limit int) ([]map[string]any, error) {
	b := query.New(r.exec.Registry(), r.table)
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
	if skip > 0 {
		b.Skip(skip)
	}
	if limit > 0 {
		b.Limit(limit)
	}
	q, err := b.Build()
	if err != nil {
		return nil, err
	}
	return r.exec.Run(ctx, q)
}

// Update merges the given fields into the record and returns the previous
// values of the fields that actually changed, along with refreshing
// updated_at.
func (r *Repository[T]) Update(ctx context.Context, id string, fields map[string]any) (map[string]any, error) {
	rows, err := r.find(ctx, map[string]any{"id": id}, 0, 1)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("updating %s %s: %w", r.table, id, ErrNotFound)
	}
	current := rows[0]

	old := make(map[string]any)
	for field, value := range fields {
		if !reflect.DeepEqual(current[field], value) {
			old[field] = current[field]
		}
	}

	merge := make(map[string]any, len(fields)+1)
	for field, value := range fields {
		merge[field] = value
	}
	merge["updated_at"] = time.Now().UTC()

	table, key := SplitID(id)
	if _, err := r.exec.Execute(ctx,
		"UPDATE type::thing($tb, $id) MERGE $data",
		map[string]any{"tb": table, "id": key, "data": merge}); err != nil {
		return nil, fmt.Errorf("updating %s %s: %w", r.table, id, err)
	}
	return old, nil
}

// Delete removes a record. Soft deletion flips is_deleted; hard deletion
// removes the row.
func (r *Repository[T]) Delete(ctx context.Context, id string, soft bool) error {
	table, key := SplitID(id)
	if soft {
		_, err := r.exec.Execute(ctx,
			"UPDATE type::thing($tb, $id) MERGE $data",
			map[string]any{"tb": table, "id": key, "data": map[string]any{
				"is_deleted": true,
				"updated_at": time.Now().UTC(),
			}})
		if err != nil {
			return fmt.Errorf("soft-deleting %s %s: %w", r.table, id, err)
		}
		return nil
	}
	_, err := r.exec.Execute(ctx,
		"DELETE type::thing($tb, $id)",
		map[string]any{"tb": table, "id": key})
	if err != nil {
		return fmt.Errorf("deleting %s %s: %w", r.table, id, err)
	}
	return nil
}
