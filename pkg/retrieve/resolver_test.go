package retrieve

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemora/mnemora/pkg/database"
	"github.com/mnemora/mnemora/pkg/llm"
	"github.com/mnemora/mnemora/pkg/model"
	"github.com/mnemora/mnemora/pkg/prompt"
	"github.com/mnemora/mnemora/pkg/store"
	"github.com/mnemora/mnemora/test/util"
)

// fakeModel is a canned llm.Client.
type fakeModel struct {
	chatResponse string
	jsonResponse string
	chatErr      error
	jsonErr      error
	embedErr     error
	embedCalls   [][]string
}

func (f *fakeModel) Chat(context.Context, string, string) (string, error) {
	return f.chatResponse, f.chatErr
}

func (f *fakeModel) ChatJSON(context.Context, string, string) (string, error) {
	return f.jsonResponse, f.jsonErr
}

func (f *fakeModel) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.embedCalls = append(f.embedCalls, texts)
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2}
	}
	return out, nil
}

type staticPrompts map[string]prompt.Prompt

func (s staticPrompts) Get(_ context.Context, name string) (prompt.Prompt, error) {
	p, ok := s[name]
	if !ok {
		return prompt.Prompt{}, errors.New("prompt not found: " + name)
	}
	return p, nil
}

type resolverFixture struct {
	db       *util.MemConn
	model    *fakeModel
	resolver *Resolver
	company  model.Company
}

func newResolverFixture(t *testing.T) *resolverFixture {
	t.Helper()

	db := util.NewMemConn()
	exec := database.NewExecutor(db, model.DefaultRegistry())
	fake := &fakeModel{}
	prompts := prompt.NewService(staticPrompts{
		"entity_extraction": {System: "extract entities", User: "{text}"},
		"sufficiency_check": {System: "judge", User: "{question}\n{content}"},
	})

	company := model.Company{CompanyID: "acme", Name: "Acme"}
	company.ID = "company:t1"

	return &resolverFixture{
		db:      db,
		model:   fake,
		company: company,
		resolver: NewResolver(
			store.NewRepository[model.Entity](exec),
			store.NewRepository[model.Artifact](exec),
			store.NewRepository[model.ArtifactChunk](exec),
			store.NewRelationStore(exec),
			exec,
			llm.NewExtractor(fake, prompts),
			fake,
		),
	}
}

func (f *resolverFixture) seedEntity(id, name, entityType string) {
	f.db.Seed("entity", map[string]any{
		"id": id, "tenant_id": "company:t1", "name": name, "entity_type": entityType,
	})
}

func (f *resolverFixture) seedEdge(id, out, in, relationType string) {
	f.db.Seed("relation", map[string]any{
		"id": id, "tenant_id": "company:t1",
		"out": out, "in": in, "relation_type": relationType,
	})
}

func TestResolver_TypeOnly(t *testing.T) {
	f := newResolverFixture(t)
	f.seedEntity("entity:e1", "Ada", "person")
	f.seedEntity("entity:e2", "Engine", "project")
	f.seedEdge("relation:r1", "entity:e1", "entity:e2", "works_on")

	resp, err := f.resolver.Resolve(context.Background(), f.company, Request{Resolution: TypeOnly})
	require.NoError(t, err)
	assert.Equal(t, "company:t1", resp.TenantID)
	assert.Equal(t, "acme", resp.CompanyID)
	assert.Contains(t, resp.Context, "person, project")
	assert.Contains(t, resp.Context, "works_on")
	assert.Empty(t, resp.Entities)
}

func TestResolver_TypeOnly_EmptyMemory(t *testing.T) {
	f := newResolverFixture(t)

	resp, err := f.resolver.Resolve(context.Background(), f.company, Request{Resolution: TypeOnly})
	require.NoError(t, err)
	assert.Contains(t, resp.Context, "No entities are stored yet")
}

func TestResolver_TypeOnly_ConfiguredTypes(t *testing.T) {
	f := newResolverFixture(t)
	f.company.EntityTypes = []string{"person", "organization"}
	f.company.RelationTypes = []string{"employs"}
	// A stored type outside the configured lists must not surface.
	f.seedEntity("entity:e1", "Gadget", "widget")

	resp, err := f.resolver.Resolve(context.Background(), f.company, Request{Resolution: TypeOnly})
	require.NoError(t, err)
	assert.Contains(t, resp.Context, "person, organization")
	assert.Contains(t, resp.Context, "employs")
	assert.NotContains(t, resp.Context, "widget")
}

func TestResolver_MajorTypeAndName(t *testing.T) {
	f := newResolverFixture(t)
	f.seedEntity("entity:e1", "Ada", "person")
	f.seedEntity("entity:e2", "Babbage", "person")
	f.seedEntity("entity:e3", "Engine", "project")

	resp, err := f.resolver.Resolve(context.Background(), f.company, Request{Resolution: MajorTypeAndName})
	require.NoError(t, err)
	assert.Len(t, resp.Entities, 3)
	assert.Contains(t, resp.Context, "person: Ada, Babbage")
	assert.Contains(t, resp.Context, "project: Engine")
}

func TestResolver_MajorTypeAndName_ConfiguredTypes(t *testing.T) {
	f := newResolverFixture(t)
	f.company.EntityTypes = []string{"person", "organization"}
	f.seedEntity("entity:e1", "Ada", "person")
	f.seedEntity("entity:e2", "Gadget", "widget")

	resp, err := f.resolver.Resolve(context.Background(), f.company, Request{Resolution: MajorTypeAndName})
	require.NoError(t, err)
	require.Len(t, resp.Entities, 1)
	assert.Contains(t, resp.Context, "person: Ada")
	// Configured types with no entities yet are skipped, stored types
	// outside the configured list never surface.
	assert.NotContains(t, resp.Context, "organization")
	assert.NotContains(t, resp.Context, "widget")
}

func TestResolver_SelectedEntities(t *testing.T) {
	f := newResolverFixture(t)
	f.seedEntity("entity:e1", "Ada", "person")

	resp, err := f.resolver.Resolve(context.Background(), f.company, Request{
		Resolution: SelectedEntities,
		EntityIDs:  []string{"entity:e1", "entity:ghost"},
	})
	require.NoError(t, err)
	require.Len(t, resp.Entities, 1)
	assert.Equal(t, "Ada", resp.Entities[0].Name)
	assert.Contains(t, resp.Context, `"name":"Ada"`)
	assert.NotContains(t, resp.Context, "tenant_id")
}

func TestResolver_SelectedEntities_RequiresIDs(t *testing.T) {
	f := newResolverFixture(t)

	_, err := f.resolver.Resolve(context.Background(), f.company, Request{Resolution: SelectedEntities})
	assert.Error(t, err)
}

func TestResolver_MutualRelations(t *testing.T) {
	f := newResolverFixture(t)
	f.seedEntity("entity:e1", "Ada", "person")
	f.seedEntity("entity:e2", "Babbage", "person")
	f.seedEntity("entity:e3", "Menabrea", "person")

	// e1 -> e2 is mutual; e1 -> e3 reaches outside the selection.
	f.seedEdge("relation:r1", "entity:e1", "entity:e2", "works_on")
	f.seedEdge("relation:r2", "entity:e1", "entity:e3", "knows")

	// a1 touches both selected entities, a2 only one, a3 hangs off a1.
	f.seedEdge("relation:r3", "entity:e1", "artifact:a1", "mentioned_in")
	f.seedEdge("relation:r4", "entity:e2", "artifact:a1", "mentioned_in")
	f.seedEdge("relation:r5", "entity:e1", "artifact:a2", "mentioned_in")
	f.seedEdge("relation:r6", "artifact:a1", "artifact:a3", "references")

	f.db.Seed("artifact", map[string]any{
		"id": "artifact:a1", "tenant_id": "company:t1", "uri": "file://a1",
	})
	f.db.Seed("artifact", map[string]any{
		"id": "artifact:a3", "tenant_id": "company:t1", "uri": "file://a3",
	})

	resp, err := f.resolver.Resolve(context.Background(), f.company, Request{
		Resolution: SelectedEntitiesAndMutualRelations,
		EntityIDs:  []string{"entity:e1", "entity:e2"},
	})
	require.NoError(t, err)

	require.Len(t, resp.Relations, 1)
	assert.Equal(t, "works_on", resp.Relations[0].RelationType)

	require.Len(t, resp.Artifacts, 2)
	assert.Equal(t, "artifact:a1", resp.Artifacts[0].Artifact.ID)
	assert.Equal(t, "artifact:a3", resp.Artifacts[1].Artifact.ID)
	assert.Empty(t, resp.Artifacts[0].Chunks)
}

func seedRelatedData(f *resolverFixture) {
	f.seedEntity("entity:e1", "Ada", "person")
	f.db.Seed("artifact", map[string]any{
		"id": "artifact:a1", "tenant_id": "company:t1",
		"uri": "file://notes.md", "raw_text": "Charles Babbage designed the engine.",
	})
	f.db.Seed("artifact-chunk", map[string]any{
		"id": "artifact-chunk:c1", "tenant_id": "company:t1",
		"artifact_id": "artifact:a1", "chunk_index": 0,
		"text": "Ada wrote the first program.", "embedding": []any{0.1, 0.2},
	})
	f.db.Seed("artifact-chunk", map[string]any{
		"id": "artifact-chunk:c2", "tenant_id": "company:t1",
		"artifact_id": "artifact:a1", "chunk_index": 1,
		"text": "The engine was never built.", "embedding": []any{0.3, 0.4},
	})
	f.model.jsonResponse = `{"entities": [{"name": "Ada", "entity_type": "person"}]}`
}

func TestResolver_RelatedArtifactsData(t *testing.T) {
	f := newResolverFixture(t)
	seedRelatedData(f)

	resp, err := f.resolver.Resolve(context.Background(), f.company, Request{
		Resolution: RelatedArtifactsData,
		Text:       "Who wrote the first program?",
	})
	require.NoError(t, err)

	require.Len(t, resp.Entities, 1)
	assert.Equal(t, "Ada", resp.Entities[0].Name)

	require.Len(t, resp.Artifacts, 1)
	assert.Equal(t, "artifact:a1", resp.Artifacts[0].Artifact.ID)
	assert.Len(t, resp.Artifacts[0].Chunks, 2)

	assert.Contains(t, resp.Context, `"Ada"`)
	assert.Contains(t, resp.Context, "Ada wrote the first program.")
	assert.NotContains(t, resp.Context, "embedding")
	assert.NotContains(t, resp.Context, "tenant_id")
}

func TestResolver_RelatedArtifactsData_RequiresText(t *testing.T) {
	f := newResolverFixture(t)

	_, err := f.resolver.Resolve(context.Background(), f.company, Request{Resolution: RelatedArtifactsData})
	assert.Error(t, err)
}

func TestResolver_RelatedArtifactsText_SufficientStopsEarly(t *testing.T) {
	f := newResolverFixture(t)
	seedRelatedData(f)
	f.model.chatResponse = "yes"

	resp, err := f.resolver.Resolve(context.Background(), f.company, Request{
		Resolution: RelatedArtifactsText,
		Text:       "Who wrote the first program?",
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(resp.Context, "{"))
}

func TestResolver_RelatedArtifactsText_InsufficientLoadsFullText(t *testing.T) {
	f := newResolverFixture(t)
	seedRelatedData(f)
	f.model.chatResponse = "no"

	resp, err := f.resolver.Resolve(context.Background(), f.company, Request{
		Resolution: RelatedArtifactsText,
		Text:       "Who funded the engine?",
	})
	require.NoError(t, err)
	assert.Contains(t, resp.Context, "Charles Babbage designed the engine.")
	assert.Contains(t, resp.Context, `"company_id"`)
}

func TestParseResolution(t *testing.T) {
	r, err := ParseResolution("type_only")
	require.NoError(t, err)
	assert.Equal(t, TypeOnly, r)

	r, err = ParseResolution("")
	require.NoError(t, err)
	assert.Equal(t, Resolution(""), r)

	_, err = ParseResolution("everything")
	assert.Error(t, err)
}

func TestAbstractResolution(t *testing.T) {
	for level, want := range map[int]Resolution{
		0: MajorTypeAndName,
		1: SelectedEntitiesAndMutualRelations,
		2: RelatedArtifactsData,
		3: RelatedArtifactsText,
	} {
		got, err := AbstractResolution(level)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := AbstractResolution(4)
	assert.Error(t, err)
}

func TestRequest_Infer(t *testing.T) {
	assert.Equal(t, TypeOnly, Request{Resolution: TypeOnly}.Infer())
	assert.Equal(t, RelatedArtifactsData, Request{Text: "q"}.Infer())
	assert.Equal(t, SelectedEntitiesAndMutualRelations, Request{EntityIDs: []string{"entity:e1"}}.Infer())
	assert.Equal(t, MajorTypeAndName, Request{}.Infer())
}
