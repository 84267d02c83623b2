package retrieve

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnemora/mnemora/pkg/database"
	"github.com/mnemora/mnemora/pkg/model"
)

// stubConn replays scripted results, one per query, recording the SQL.
type stubConn struct {
	queries []string
	script  []stubResult
}

type stubResult struct {
	rows []map[string]any
	err  error
}

func (c *stubConn) Query(_ context.Context, sql string, _ map[string]any) ([]database.Result, error) {
	c.queries = append(c.queries, sql)
	if len(c.script) == 0 {
		return []database.Result{{Status: "OK"}}, nil
	}
	next := c.script[0]
	c.script = c.script[1:]
	if next.err != nil {
		return nil, next.err
	}
	return []database.Result{{Status: "OK", Rows: next.rows}}, nil
}

func (c *stubConn) Ping(context.Context) error { return nil }
func (c *stubConn) Close() error               { return nil }

func stubExec(script ...stubResult) (*stubConn, *database.Executor) {
	conn := &stubConn{script: script}
	return conn, database.NewExecutor(conn, model.DefaultRegistry())
}

func chunkRow(id, artifactID, text string, extra map[string]any) map[string]any {
	row := map[string]any{
		"id": id, "artifact_id": artifactID, "text": text,
		"tenant_id": "company:t1", "chunk_index": 0,
	}
	for k, v := range extra {
		row[k] = v
	}
	return row
}

func TestExactMatchRetriever_Entities(t *testing.T) {
	_, exec := stubExec(stubResult{rows: []map[string]any{
		{"id": "entity:e1", "name": "Ada", "entity_type": "person", "tenant_id": "company:t1"},
	}})
	r := NewExactMatchRetriever(exec, "company:t1", map[string]any{"name": "Ada"}, "entities", 10)

	docs, err := r.Retrieve(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "Entity: Ada (person)", docs[0].PageContent)
	assert.Equal(t, "entity:e1", docs[0].Metadata["entity_id"])
}

func TestExactMatchRetriever_ErrorYieldsNoDocs(t *testing.T) {
	_, exec := stubExec(stubResult{err: errors.New("boom")})
	r := NewExactMatchRetriever(exec, "company:t1", nil, "chunks", 10)

	docs, err := r.Retrieve(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestFulltextRetriever_IndexedSearch(t *testing.T) {
	_, exec := stubExec(stubResult{rows: []map[string]any{
		chunkRow("artifact-chunk:c1", "artifact:a1", "engines and looms",
			map[string]any{"relevance_score": 0.8}),
	}})
	r := NewFulltextRetriever(exec, "company:t1", nil, 10)

	docs, err := r.Retrieve(context.Background(), "engines")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "engines and looms", docs[0].PageContent)
	assert.Equal(t, 0.8, docs[0].Metadata["relevance_score"])
}

func TestFulltextRetriever_FallbackScoresBySubstring(t *testing.T) {
	conn, exec := stubExec(
		stubResult{err: errors.New("no fulltext index")},
		stubResult{rows: []map[string]any{
			chunkRow("artifact-chunk:c1", "artifact:a1", "all about Engines here", nil),
			chunkRow("artifact-chunk:c2", "artifact:a1", "unrelated text", nil),
		}},
	)
	r := NewFulltextRetriever(exec, "company:t1", nil, 10)

	docs, err := r.Retrieve(context.Background(), "engines")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, 1.0, docs[0].Metadata["relevance_score"])
	assert.Equal(t, 0.5, docs[1].Metadata["relevance_score"])
	require.Len(t, conn.queries, 2)
	assert.Contains(t, conn.queries[1], "~")
}

func TestVectorRetriever_ReturnsChunkDocs(t *testing.T) {
	_, exec := stubExec(stubResult{rows: []map[string]any{
		chunkRow("artifact-chunk:c1", "artifact:a1", "vectorish",
			map[string]any{"similarity_score": 0.9}),
	}})
	r := NewVectorRetriever(exec, &fakeModel{}, "company:t1", nil, 10)

	docs, err := r.Retrieve(context.Background(), "query")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, 0.9, docs[0].Metadata["similarity_score"])
}

func TestVectorRetriever_EmbeddingFailureYieldsNoDocs(t *testing.T) {
	_, exec := stubExec()
	r := NewVectorRetriever(exec, &fakeModel{embedErr: errors.New("down")}, "company:t1", nil, 10)

	docs, err := r.Retrieve(context.Background(), "query")
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestVectorRetriever_FallbackUsesInQueryCosine(t *testing.T) {
	conn, exec := stubExec(
		stubResult{err: errors.New("index missing")},
		stubResult{rows: []map[string]any{
			chunkRow("artifact-chunk:c1", "artifact:a1", "found anyway", nil),
		}},
	)
	r := NewVectorRetriever(exec, &fakeModel{}, "company:t1", nil, 10)

	docs, err := r.Retrieve(context.Background(), "query")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.Len(t, conn.queries, 2)
	assert.Contains(t, conn.queries[1], "cosine_similarity")
}

// fakeLookup resolves entity ids from a fixed map.
type fakeLookup struct {
	entities map[string]model.Entity
}

func (f *fakeLookup) FindOne(_ context.Context, filters map[string]any) (*model.Entity, error) {
	id, _ := filters["id"].(string)
	if e, ok := f.entities[id]; ok {
		return &e, nil
	}
	return nil, errors.New("not found")
}

func TestGraphRetriever_EmitsRelationAndEntityDocs(t *testing.T) {
	_, exec := stubExec(stubResult{rows: []map[string]any{
		{
			"id": "relation:r1", "out": "entity:e1", "in": "entity:e2",
			"relation_type": "works_on", "tenant_id": "company:t1", "distance": 1,
		},
	}})
	lookup := &fakeLookup{entities: map[string]model.Entity{
		"entity:e1": {Name: "Ada", EntityType: "person"},
		"entity:e2": {Name: "Engine", EntityType: "project"},
	}}
	r := NewGraphRetriever(exec, lookup, "company:t1", []string{"entity:e1"}, "", 2, 10)

	docs, err := r.Retrieve(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, "Relation: entity:e1 works_on entity:e2", docs[0].PageContent)
	assert.Equal(t, "Entity: Ada (person)", docs[1].PageContent)
	assert.Equal(t, "Entity: Engine (project)", docs[2].PageContent)
}

func TestGraphRetriever_NoSeeds(t *testing.T) {
	_, exec := stubExec()
	r := NewGraphRetriever(exec, &fakeLookup{}, "company:t1", nil, "", 1, 10)

	docs, err := r.Retrieve(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, docs)
}

// listRetriever returns fixed docs, optionally failing.
type listRetriever struct {
	docs []Doc
	err  error
}

func (r *listRetriever) Retrieve(context.Context, string) ([]Doc, error) {
	return r.docs, r.err
}

func TestHybridRetriever_DedupesAndSorts(t *testing.T) {
	first := &listRetriever{docs: []Doc{
		{PageContent: "shared", Metadata: map[string]any{"chunk_id": "artifact-chunk:c1", "relevance_score": 0.6}},
		{PageContent: "low", Metadata: map[string]any{"chunk_id": "artifact-chunk:c2", "relevance_score": 0.2}},
	}}
	second := &listRetriever{docs: []Doc{
		{PageContent: "shared", Metadata: map[string]any{"chunk_id": "artifact-chunk:c1", "similarity_score": 0.9}},
		{PageContent: "unscored", Metadata: map[string]any{"entity_id": "entity:e1"}},
	}}

	docs, err := NewHybridRetriever(first, second).Retrieve(context.Background(), "q")
	require.NoError(t, err)
	require.Len(t, docs, 3)

	// The duplicate keeps its first appearance; the unscored doc defaults
	// to 0.5 and lands between the scored ones.
	assert.Equal(t, "shared", docs[0].PageContent)
	assert.Equal(t, "unscored", docs[1].PageContent)
	assert.Equal(t, "low", docs[2].PageContent)
}

func TestHybridRetriever_SkipsFailingRetriever(t *testing.T) {
	broken := &listRetriever{err: errors.New("down")}
	working := &listRetriever{docs: []Doc{
		{PageContent: "ok", Metadata: map[string]any{"chunk_id": "artifact-chunk:c1"}},
	}}

	docs, err := NewHybridRetriever(broken, working).Retrieve(context.Background(), "q")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "ok", docs[0].PageContent)
}

func TestDocScore(t *testing.T) {
	assert.Equal(t, 0.5, docScore(Doc{Metadata: map[string]any{}}))
	assert.Equal(t, 0.9, docScore(Doc{Metadata: map[string]any{
		"similarity_score": 0.9, "relevance_score": 0.3,
	}}))
	assert.Equal(t, 0.3, docScore(Doc{Metadata: map[string]any{"relevance_score": 0.3}}))
}
