// Package util provides test utilities shared by package tests.
package util

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/mnemora/mnemora/pkg/database"
)

// MemConn is an in-memory stand-in for the database. It understands the
// statement shapes the repositories and relation store emit: type::thing
// writes, RELATE, and SELECTs with equality conditions bound to variables.
// Conditions that do not bind to a variable (IN lists, fulltext matches,
// similarity projections) are ignored, so SELECTs over-approximate and the
// code under test must cope with extra rows the way it would in production.
type MemConn struct {
	mu          sync.Mutex
	tables      map[string][]map[string]any
	edgeCounter int

	// FailOn forces an error for any statement containing the substring.
	FailOn string
}

// NewMemConn creates an empty in-memory connection.
func NewMemConn() *MemConn {
	return &MemConn{tables: make(map[string][]map[string]any)}
}

var (
	fromPattern = regexp.MustCompile("FROM ([`\\w-]+)")
	eqPattern   = regexp.MustCompile("([`\\w-]+) = \\$(\\w+)")
)

func (c *MemConn) Query(_ context.Context, sql string, vars map[string]any) ([]database.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.FailOn != "" && strings.Contains(sql, c.FailOn) {
		return nil, fmt.Errorf("forced failure on %q", c.FailOn)
	}

	switch {
	case strings.HasPrefix(sql, "CREATE type::thing"):
		return c.create(vars), nil
	case strings.HasPrefix(sql, "UPDATE type::thing($tb, $id) CONTENT"):
		return c.replace(vars), nil
	case strings.HasPrefix(sql, "UPDATE type::thing($tb, $id) MERGE"):
		return c.merge(vars), nil
	case strings.HasPrefix(sql, "DELETE type::thing"):
		return c.delete(vars), nil
	case strings.HasPrefix(sql, "RELATE"):
		return c.relate(vars), nil
	case strings.HasPrefix(sql, "SELECT"):
		return c.query(sql, vars), nil
	}
	return nil, fmt.Errorf("MemConn: unsupported statement %q", sql)
}

func (c *MemConn) Ping(context.Context) error { return nil }
func (c *MemConn) Close() error               { return nil }

func (c *MemConn) insert(table string, row map[string]any) {
	c.tables[table] = append(c.tables[table], row)
}

// Seed stores a row directly, bypassing the statement path. is_deleted
// defaults to false so seeded rows pass live-row filters.
func (c *MemConn) Seed(table string, row map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := row["is_deleted"]; !ok {
		row["is_deleted"] = false
	}
	c.insert(table, row)
}

// Rows returns a snapshot of a table's rows.
func (c *MemConn) Rows(table string) []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]map[string]any(nil), c.tables[table]...)
}

func (c *MemConn) create(vars map[string]any) []database.Result {
	table := vars["tb"].(string)
	row := copyRow(vars["data"].(map[string]any))
	row["id"] = table + ":" + vars["id"].(string)
	c.insert(table, row)
	return wrapRows(row)
}

func (c *MemConn) replace(vars map[string]any) []database.Result {
	table := vars["tb"].(string)
	id := table + ":" + vars["id"].(string)
	row := copyRow(vars["data"].(map[string]any))
	row["id"] = id
	for i, existing := range c.tables[table] {
		if existing["id"] == id {
			c.tables[table][i] = row
			return wrapRows(row)
		}
	}
	c.insert(table, row)
	return wrapRows(row)
}

func (c *MemConn) merge(vars map[string]any) []database.Result {
	table := vars["tb"].(string)
	id := table + ":" + vars["id"].(string)
	patch := vars["data"].(map[string]any)
	for _, existing := range c.tables[table] {
		if existing["id"] == id {
			for k, v := range patch {
				existing[k] = v
			}
			return wrapRows(existing)
		}
	}
	return wrapRows()
}

func (c *MemConn) delete(vars map[string]any) []database.Result {
	table := vars["tb"].(string)
	id := table + ":" + vars["id"].(string)
	rows := c.tables[table]
	for i, existing := range rows {
		if existing["id"] == id {
			c.tables[table] = append(rows[:i], rows[i+1:]...)
			break
		}
	}
	return wrapRows()
}

func (c *MemConn) relate(vars map[string]any) []database.Result {
	c.edgeCounter++
	row := map[string]any{
		"id":            fmt.Sprintf("relation:e%d", c.edgeCounter),
		"out":           vars["source_id"],
		"in":            vars["target_id"],
		"relation_type": vars["relation_type"],
		"tenant_id":     vars["tenant_id"],
		"data":          vars["data"],
		"is_deleted":    false,
	}
	c.insert("relation", row)
	return wrapRows(row)
}

func (c *MemConn) query(sql string, vars map[string]any) []database.Result {
	tableMatch := fromPattern.FindStringSubmatch(sql)
	if tableMatch == nil {
		return wrapRows()
	}
	table := strings.Trim(tableMatch[1], "`")

	type cond struct {
		field string
		value any
	}
	var conds []cond
	for _, m := range eqPattern.FindAllStringSubmatch(sql, -1) {
		value, ok := vars[m[2]]
		if !ok {
			continue
		}
		conds = append(conds, cond{field: strings.Trim(m[1], "`"), value: value})
	}

	var matched []map[string]any
	for _, row := range c.tables[table] {
		ok := true
		for _, cnd := range conds {
			if fmt.Sprint(row[cnd.field]) != fmt.Sprint(cnd.value) {
				ok = false
				break
			}
		}
		if ok {
			matched = append(matched, row)
		}
	}
	return wrapRows(matched...)
}

func copyRow(row map[string]any) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}

func wrapRows(rows ...map[string]any) []database.Result {
	return []database.Result{{Status: "OK", Rows: rows}}
}
