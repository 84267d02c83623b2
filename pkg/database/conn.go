// Package database provides the SurrealDB connection, schema
// initialization, and the query executor the rest of the service runs on.
package database

import "context"

// Result is one statement's outcome within a multi-statement response.
type Result struct {
	Status string
	Rows   []map[string]any
}

// Conn is the narrow surface the service needs from the store. The real
// implementation wraps the SurrealDB driver; tests substitute fakes.
type Conn interface {
	// Query executes a statement with bound variables and returns one
	// Result per statement.
	Query(ctx context.Context, sql string, vars map[string]any) ([]Result, error)
	// Ping verifies the connection is alive.
	Ping(ctx context.Context) error
	// Close releases the connection.
	Close() error
}
