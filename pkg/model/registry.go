package model

import (
	"sort"
	"strings"
	"unicode"
)

// FieldType is the declared storage type of a record field.
type FieldType string

const (
	FieldString   FieldType = "string"
	FieldInt      FieldType = "int"
	FieldFloat    FieldType = "float"
	FieldBool     FieldType = "bool"
	FieldDatetime FieldType = "datetime"
	FieldArray    FieldType = "array"
	FieldObject   FieldType = "object"
	FieldRecord   FieldType = "record"
)

// Field describes one stored field of a record type. Index names group
// fields into composite indexes; Vector and Fulltext mark the search
// targets of the table.
type Field struct {
	Name     string
	Type     FieldType
	Index    string
	Vector   bool
	Fulltext bool
}

// Descriptor describes how one record type is stored. Table names are the
// kebab-cased type name. Tenant and Authorized inject the shared field
// sets; GraphNode and GraphEdge mark graph roles; Abstract descriptors
// define fields for reuse but no table.
type Descriptor struct {
	Name       string
	Fields     []Field
	Tenant     bool
	Authorized bool
	GraphNode  bool
	GraphEdge  bool
	Abstract   bool
}

// Table returns the kebab-cased storage table name for the descriptor.
func (d Descriptor) Table() string { return KebabCase(d.Name) }

// AllFields returns the descriptor's fields prefixed with the shared base
// fields (and tenant/authorization fields when declared), in a stable
// declaration order.
func (d Descriptor) AllFields() []Field {
	fields := []Field{
		{Name: "id", Type: FieldRecord, Index: "idx_id"},
	}
	if d.Tenant {
		fields = append(fields, Field{Name: "tenant_id", Type: FieldRecord, Index: "idx_tenant_id"})
	}
	fields = append(fields,
		Field{Name: "created_at", Type: FieldDatetime},
		Field{Name: "updated_at", Type: FieldDatetime},
		Field{Name: "is_deleted", Type: FieldBool},
		Field{Name: "meta_data", Type: FieldObject},
	)
	if d.Authorized {
		fields = append(fields,
			Field{Name: "user_permissions", Type: FieldArray},
			Field{Name: "group_permissions", Type: FieldArray},
			Field{Name: "public_permission", Type: FieldObject},
		)
	}
	return append(fields, d.Fields...)
}

// Registry is the explicit registration table of every record type. All
// table and field validation, schema generation, and search-target lookup
// is derived from it.
type Registry struct {
	descriptors map[string]Descriptor // keyed by table name
	order       []string
	fields      map[string]struct{}
}

// NewRegistry builds a registry from the given descriptors.
func NewRegistry(descriptors ...Descriptor) *Registry {
	r := &Registry{
		descriptors: make(map[string]Descriptor, len(descriptors)),
		fields:      make(map[string]struct{}),
	}
	for _, d := range descriptors {
		for _, f := range d.AllFields() {
			r.fields[f.Name] = struct{}{}
		}
		if d.Abstract {
			continue
		}
		table := d.Table()
		if _, seen := r.descriptors[table]; !seen {
			r.order = append(r.order, table)
		}
		r.descriptors[table] = d
	}
	return r
}

// Tables returns all registered (non-abstract) table names in
// registration order.
func (r *Registry) Tables() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// HasTable reports whether the table name belongs to a registered record.
func (r *Registry) HasTable(table string) bool {
	_, ok := r.descriptors[table]
	return ok
}

// Descriptor returns the descriptor registered for a table.
func (r *Registry) Descriptor(table string) (Descriptor, bool) {
	d, ok := r.descriptors[table]
	return d, ok
}

// HasField reports whether the field name appears on any registered record.
func (r *Registry) HasField(name string) bool {
	_, ok := r.fields[name]
	return ok
}

// AllowedFields returns a sorted copy of the field-name union, for
// diagnostics.
func (r *Registry) AllowedFields() []string {
	out := make([]string, 0, len(r.fields))
	for f := range r.fields {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// VectorTarget returns the table and field used for vector search. When
// table is empty the first registered table with a vector field is used.
func (r *Registry) VectorTarget(table string) (string, string, bool) {
	return r.target(table, func(f Field) bool { return f.Vector })
}

// FulltextTarget returns the table and field used for fulltext search.
func (r *Registry) FulltextTarget(table string) (string, string, bool) {
	return r.target(table, func(f Field) bool { return f.Fulltext })
}

func (r *Registry) target(table string, match func(Field) bool) (string, string, bool) {
	candidates := r.order
	if table != "" {
		candidates = []string{table}
	}
	for _, t := range candidates {
		d, ok := r.descriptors[t]
		if !ok {
			continue
		}
		for _, f := range d.Fields {
			if match(f) {
				return t, f.Name, true
			}
		}
	}
	return "", "", false
}

// GraphNodeTable returns the first table registered as a graph node.
func (r *Registry) GraphNodeTable() (string, bool) {
	for _, t := range r.order {
		if r.descriptors[t].GraphNode {
			return t, true
		}
	}
	return "", false
}

// GraphEdgeTable returns the first table registered as a graph edge.
func (r *Registry) GraphEdgeTable() (string, bool) {
	for _, t := range r.order {
		if r.descriptors[t].GraphEdge {
			return t, true
		}
	}
	return "", false
}

// KebabCase converts a CamelCase type name to its kebab-case table name
// (ArtifactChunk -> artifact-chunk).
func KebabCase(name string) string {
	var b strings.Builder
	for i, r := range name {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('-')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}

// DefaultRegistry registers every record type of the memory system.
func DefaultRegistry() *Registry {
	return NewRegistry(
		Descriptor{
			Name: "Company",
			Fields: []Field{
				{Name: "company_id", Type: FieldString, Index: "idx_company_id"},
				{Name: "name", Type: FieldString, Index: "idx_company_name"},
				{Name: "sensor_types", Type: FieldArray},
				{Name: "entity_types", Type: FieldArray},
				{Name: "relation_types", Type: FieldArray},
				{Name: "data", Type: FieldObject},
			},
		},
		Descriptor{
			Name:       "Entity",
			Tenant:     true,
			Authorized: true,
			GraphNode:  true,
			Fields: []Field{
				{Name: "name", Type: FieldString, Index: "idx_entity_name"},
				{Name: "entity_type", Type: FieldString, Index: "idx_entity_type"},
				{Name: "data", Type: FieldObject},
			},
		},
		Descriptor{
			Name:       "Artifact",
			Tenant:     true,
			Authorized: true,
			GraphNode:  true,
			Fields: []Field{
				{Name: "uri", Type: FieldString},
				{Name: "sensor_name", Type: FieldString},
				{Name: "data", Type: FieldObject},
				{Name: "raw_text", Type: FieldString},
			},
		},
		Descriptor{
			Name:       "ArtifactChunk",
			Tenant:     true,
			Authorized: true,
			Fields: []Field{
				{Name: "artifact_id", Type: FieldRecord, Index: "idx_tenant_artifact_id"},
				{Name: "chunk_index", Type: FieldInt},
				{Name: "text", Type: FieldString, Index: "idx_tenant_chunk_text", Fulltext: true},
				{Name: "embedding", Type: FieldArray, Index: "idx_tenant_chunk_embedding", Vector: true},
			},
		},
		Descriptor{
			Name:       "Event",
			Tenant:     true,
			Authorized: true,
			Fields: []Field{
				{Name: "entity_id", Type: FieldRecord, Index: "idx_event_entity_id"},
				{Name: "artifact_ids", Type: FieldArray, Index: "idx_event_artifact_id"},
				{Name: "event_type", Type: FieldString, Index: "idx_tenant_event_type"},
				{Name: "data", Type: FieldObject},
			},
		},
		Descriptor{
			Name:       "Relation",
			Tenant:     true,
			Authorized: true,
			GraphEdge:  true,
			Fields: []Field{
				{Name: "source_id", Type: FieldRecord},
				{Name: "target_id", Type: FieldRecord},
				{Name: "relation_type", Type: FieldString},
				{Name: "data", Type: FieldObject},
			},
		},
		Descriptor{
			Name:   "IngestJob",
			Tenant: true,
			Fields: []Field{
				{Name: "status", Type: FieldString, Index: "idx_tenant_status"},
				{Name: "artifact_id", Type: FieldRecord, Index: "idx_tenant_artifact"},
				{Name: "error_message", Type: FieldString},
				{Name: "completed_at", Type: FieldDatetime},
			},
		},
	)
}
