// Package ingest turns sensor payloads into artifacts, entities, relations,
// and queued chunking jobs.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrPolicyViolation marks payloads the tenant's policy does not allow.
var ErrPolicyViolation = errors.New("payload violates tenant policy")

// EntityInput is one entity in an ingest payload. ID is the payload-internal
// handle relations refer to; EntityID targets an existing database record.
type EntityInput struct {
	ID         string         `json:"id"`
	EntityID   string         `json:"entity_id,omitempty"`
	EntityType string         `json:"entity_type"`
	Name       string         `json:"name"`
	Data       map[string]any `json:"data,omitempty"`
	MetaData   map[string]any `json:"meta_data,omitempty"`
}

// ContentRelation is a relation whose source is the surrounding content.
type ContentRelation struct {
	RelationType string         `json:"relation_type"`
	ToEntityID   string         `json:"to_entity_id"`
	Data         map[string]any `json:"data,omitempty"`
	MetaData     map[string]any `json:"meta_data,omitempty"`
}

// RelationInput is a relation with both endpoints named. Endpoint ids may be
// payload-internal handles or database ids.
type RelationInput struct {
	ContentRelation
	FromEntityID string `json:"from_entity_id"`
}

// ContentInput is one text to ingest as an artifact.
type ContentInput struct {
	ID        string            `json:"id,omitempty"`
	Text      string            `json:"text"`
	Relations []ContentRelation `json:"relations,omitempty"`
	Data      map[string]any    `json:"data,omitempty"`
	MetaData  map[string]any    `json:"meta_data,omitempty"`
}

// Contents accepts either a JSON list of contents or a bare string, which
// becomes a one-element list.
type Contents []ContentInput

func (c *Contents) UnmarshalJSON(raw []byte) error {
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		*c = Contents{{Text: single}}
		return nil
	}
	var list []ContentInput
	if err := json.Unmarshal(raw, &list); err != nil {
		return fmt.Errorf("contents must be a string or a list: %w", err)
	}
	*c = Contents(list)
	return nil
}

// Request is a full ingest payload from one sensor reading.
type Request struct {
	SensorName string          `json:"sensor_name"`
	URI        string          `json:"uri,omitempty"`
	Entities   []EntityInput   `json:"entities,omitempty"`
	Relations  []RelationInput `json:"relations,omitempty"`
	Contents   Contents        `json:"contents,omitempty"`
}

// Result reports what an ingest run produced. All lists marshal as empty
// arrays rather than null so a zero-input ingest has a stable shape.
type Result struct {
	JobIDs    []string `json:"job_ids"`
	Entities  []string `json:"entity_ids"`
	Relations []string `json:"relation_ids"`
	Warnings  []string `json:"warnings"`
}
