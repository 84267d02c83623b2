package database

import (
	"context"
	"fmt"
	"log/slog"

	surrealdb "github.com/surrealdb/surrealdb.go"
	"github.com/surrealdb/surrealdb.go/pkg/models"
)

// Config holds the SurrealDB connection settings.
type Config struct {
	URI       string
	Username  string
	Password  string
	Namespace string
	Database  string
}

// Client wraps the SurrealDB driver behind the Conn interface.
type Client struct {
	db *surrealdb.DB
}

var _ Conn = (*Client)(nil)

// Connect dials SurrealDB, signs in, and selects the namespace/database.
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	db, err := surrealdb.New(cfg.URI)
	if err != nil {
		return nil, fmt.Errorf("connecting to surrealdb at %s: %w", cfg.URI, err)
	}
	db = db.WithContext(ctx)

	if _, err := db.SignIn(&surrealdb.Auth{
		Username: cfg.Username,
		Password: cfg.Password,
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("signing in to surrealdb: %w", err)
	}

	if err := db.Use(cfg.Namespace, cfg.Database); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("selecting namespace %q database %q: %w",
			cfg.Namespace, cfg.Database, err)
	}

	slog.Info("Connected to SurrealDB",
		"uri", cfg.URI, "namespace", cfg.Namespace, "database", cfg.Database)
	return &Client{db: db}, nil
}

// Query executes a statement and normalizes the driver's response into
// one Result per statement.
func (c *Client) Query(ctx context.Context, sql string, vars map[string]any) ([]Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	statements, err := surrealdb.Query[any](c.db, sql, vars)
	if err != nil {
		return nil, err
	}
	if statements == nil {
		return nil, nil
	}
	return normalizeResults(*statements), nil
}

// Ping runs a trivial statement to verify liveness.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Query(ctx, "RETURN 1", nil)
	return err
}

// Close shuts down the driver connection.
func (c *Client) Close() error {
	return c.db.Close()
}

// normalizeResults flattens the driver's per-statement results into
// []Result. Each statement's result may be a row list, a single row, or a
// scalar; scalars yield no rows.
func normalizeResults(statements []surrealdb.QueryResult[any]) []Result {
	results := make([]Result, 0, len(statements))
	for _, stmt := range statements {
		results = append(results, Result{
			Status: stmt.Status,
			Rows:   normalizeRows(stmt.Result),
		})
	}
	return results
}

func normalizeRows(value any) []map[string]any {
	switch v := normalizeValue(value).(type) {
	case []any:
		rows := make([]map[string]any, 0, len(v))
		for _, item := range v {
			if row, ok := item.(map[string]any); ok {
				rows = append(rows, row)
			}
		}
		return rows
	case map[string]any:
		return []map[string]any{v}
	}
	return nil
}

// normalizeValue rewrites CBOR-decoded values into the JSON shapes the
// record codec expects: string-keyed maps and "table:key" id strings.
func normalizeValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = normalizeValue(item)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[fmt.Sprint(k)] = normalizeValue(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = normalizeValue(item)
		}
		return out
	case models.RecordID:
		return v.String()
	case *models.RecordID:
		return v.String()
	}
	return value
}
