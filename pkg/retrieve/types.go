// Package retrieve answers memory queries at six context resolutions, from
// a bare type inventory up to full artifact text dumps.
package retrieve

import (
	"fmt"

	"github.com/mnemora/mnemora/pkg/model"
)

// Resolution selects how much context a retrieval returns.
type Resolution string

const (
	TypeOnly                           Resolution = "type_only"
	MajorTypeAndName                   Resolution = "major_type_and_name"
	SelectedEntities                   Resolution = "selected_entities"
	SelectedEntitiesAndMutualRelations Resolution = "selected_entities_and_mutual_relations"
	RelatedArtifactsData               Resolution = "related_artifacts_data"
	RelatedArtifactsText               Resolution = "related_artifacts_text"
)

// ParseResolution validates a resolution name. Empty means "infer".
func ParseResolution(s string) (Resolution, error) {
	switch Resolution(s) {
	case "", TypeOnly, MajorTypeAndName, SelectedEntities,
		SelectedEntitiesAndMutualRelations, RelatedArtifactsData, RelatedArtifactsText:
		return Resolution(s), nil
	}
	return "", fmt.Errorf("unknown resolution %q", s)
}

// abstractLevels maps the abstract endpoint's coarse levels onto
// resolutions.
var abstractLevels = map[int]Resolution{
	0: MajorTypeAndName,
	1: SelectedEntitiesAndMutualRelations,
	2: RelatedArtifactsData,
	3: RelatedArtifactsText,
}

// AbstractResolution maps an abstract level (0-3) to its resolution.
func AbstractResolution(level int) (Resolution, error) {
	r, ok := abstractLevels[level]
	if !ok {
		return "", fmt.Errorf("abstract resolution level must be 0-3, got %d", level)
	}
	return r, nil
}

// Request asks for context about a tenant's memory.
type Request struct {
	Resolution Resolution `json:"resolution,omitempty"`
	EntityIDs  []string   `json:"entity_ids,omitempty"`
	Text       string     `json:"text,omitempty"`
}

// Infer picks a resolution from the request shape when none is set.
func (r Request) Infer() Resolution {
	if r.Resolution != "" {
		return r.Resolution
	}
	if r.Text != "" {
		return RelatedArtifactsData
	}
	if len(r.EntityIDs) > 0 {
		return SelectedEntitiesAndMutualRelations
	}
	return MajorTypeAndName
}

// ArtifactWithChunks pairs an artifact with the chunks selected for it.
type ArtifactWithChunks struct {
	Artifact model.Artifact        `json:"artifact"`
	Chunks   []model.ArtifactChunk `json:"chunks"`
}

// Response is a resolved retrieval.
type Response struct {
	TenantID  string               `json:"tenant_id"`
	CompanyID string               `json:"company_id"`
	Entities  []model.Entity       `json:"entities"`
	Relations []model.Relation     `json:"relations"`
	Artifacts []ArtifactWithChunks `json:"artifacts"`
	Context   string               `json:"context,omitempty"`
}

// Doc is the retriever result contract: a text with scoring and identity
// metadata.
type Doc struct {
	PageContent string         `json:"page_content"`
	Metadata    map[string]any `json:"metadata"`
}
