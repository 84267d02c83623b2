package model

import "time"

// DefaultSensorTypes are the sensor types a new company accepts unless
// configured otherwise.
var DefaultSensorTypes = []string{"initialization", "document", "meeting", "chat"}

// Company holds per-tenant settings. EntityTypes and RelationTypes are
// nil when every type is allowed.
type Company struct {
	Record
	CompanyID     string         `json:"company_id"`
	Name          string         `json:"name"`
	SensorTypes   []string       `json:"sensor_types"`
	EntityTypes   []string       `json:"entity_types,omitempty"`
	RelationTypes []string       `json:"relation_types,omitempty"`
	Data          map[string]any `json:"data,omitempty"`
}

// Table returns the storage table name.
func (Company) Table() string { return "company" }

// Entity is a knowledge-graph node.
type Entity struct {
	Record
	Tenant
	Authorization
	Name       string         `json:"name"`
	EntityType string         `json:"entity_type"`
	Data       map[string]any `json:"data,omitempty"`
}

func (Entity) Table() string { return "entity" }

// Artifact is a raw ingested document, also a graph node.
type Artifact struct {
	Record
	Tenant
	Authorization
	URI        string         `json:"uri,omitempty"`
	SensorName string         `json:"sensor_name,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	RawText    string         `json:"raw_text"`
}

func (Artifact) Table() string { return "artifact" }

// ArtifactChunk is one embedded slice of an artifact's text.
type ArtifactChunk struct {
	Record
	Tenant
	Authorization
	ArtifactID string    `json:"artifact_id"`
	ChunkIndex int       `json:"chunk_index"`
	Text       string    `json:"text"`
	Embedding  []float32 `json:"embedding,omitempty"`
}

func (ArtifactChunk) Table() string { return "artifact-chunk" }

// Event type names emitted by the ingestion pipeline.
const (
	EventEntityCreated = "entity_created"
	EventEntityUpdated = "entity_updated"
)

// Event records something that happened to an entity.
type Event struct {
	Record
	Tenant
	Authorization
	EntityID    string         `json:"entity_id"`
	ArtifactIDs []string       `json:"artifact_ids,omitempty"`
	EventType   string         `json:"event_type"`
	Data        map[string]any `json:"data,omitempty"`
}

func (Event) Table() string { return "event" }

// Relation is a graph edge between two nodes. SourceID and TargetID map to
// the store's `out` and `in` edge fields; that translation is confined to
// the relation repository.
type Relation struct {
	Record
	Tenant
	Authorization
	SourceID     string         `json:"source_id"`
	TargetID     string         `json:"target_id"`
	RelationType string         `json:"relation_type"`
	Data         map[string]any `json:"data,omitempty"`
}

func (Relation) Table() string { return "relation" }

// JobStatus is the lifecycle state of an ingest job.
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
)

// IsQueued reports whether the job is still waiting to be picked up.
func (s JobStatus) IsQueued() bool { return s == JobQueued }

// IsTerminal reports whether the job has finished, successfully or not.
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

// IngestJob tracks the asynchronous processing of one artifact.
type IngestJob struct {
	Record
	Tenant
	Status       JobStatus  `json:"status"`
	ArtifactID   string     `json:"artifact_id"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

func (IngestJob) Table() string { return "ingest-job" }
