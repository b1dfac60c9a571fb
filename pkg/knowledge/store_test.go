package knowledge_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/aretw0/arbor/pkg/domain"
	"github.com/aretw0/arbor/pkg/knowledge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_EntityMerge(t *testing.T) {
	s := knowledge.New()

	created := s.AddOrUpdateEntity(domain.Entity{
		Name: "Parser", Type: "module", Description: "old",
		Tags: []string{"a"}, Properties: map[string]any{"lang": "go", "owner": "x"},
	})
	assert.True(t, created)

	created = s.AddOrUpdateEntity(domain.Entity{
		Name: "parser", Type: "component", Description: "new",
		Tags: []string{"b", "a"}, Properties: map[string]any{"owner": "y"},
	})
	assert.False(t, created)

	e, ok := s.FindEntityByName("  PARSER ")
	require.True(t, ok)
	assert.Equal(t, "Parser", e.Name, "display name of the first insertion is kept")
	assert.Equal(t, "component", e.Type)
	assert.Equal(t, "new", e.Description)
	assert.Equal(t, []string{"a", "b"}, e.Tags)
	assert.Equal(t, map[string]any{"lang": "go", "owner": "y"}, e.Properties)
}

func TestStore_RejectsEmptyName(t *testing.T) {
	s := knowledge.New()
	assert.False(t, s.AddOrUpdateEntity(domain.Entity{Name: "   "}))
	n, _ := s.Len()
	assert.Zero(t, n)
}

func TestStore_RelationshipRequiresEndpoints(t *testing.T) {
	s := knowledge.New()
	s.AddOrUpdateEntity(domain.Entity{Name: "x"})
	before := s.Snapshot()

	ok := s.AddOrUpdateRelationship(domain.Relationship{From: "x", To: "y", Type: "depends_on"})
	assert.False(t, ok)
	assert.Equal(t, before, s.Snapshot(), "a rejected relationship must not mutate the store")
	_, found := s.FindEntityByName("y")
	assert.False(t, found, "endpoints are never auto-created")
}

func TestStore_RelationshipMerge(t *testing.T) {
	s := knowledge.New()
	s.AddOrUpdateEntity(domain.Entity{Name: "x"})
	s.AddOrUpdateEntity(domain.Entity{Name: "y"})

	assert.True(t, s.AddOrUpdateRelationship(domain.Relationship{
		From: "x", To: "y", Type: "depends_on", Properties: map[string]any{"weight": "1", "src": "a.txt"},
	}))
	assert.True(t, s.AddOrUpdateRelationship(domain.Relationship{
		From: "X", To: "Y", Type: "depends_on", Properties: map[string]any{"weight": "2"},
	}), "merging into an existing relationship is accepted")
	assert.True(t, s.AddOrUpdateRelationship(domain.Relationship{From: "y", To: "x", Type: "used_by"}))

	rels := s.FindRelations(knowledge.RelationFilter{From: "x"})
	require.Len(t, rels, 1)
	assert.Equal(t, map[string]any{"weight": "2", "src": "a.txt"}, rels[0].Properties)

	assert.Len(t, s.FindRelations(knowledge.RelationFilter{}), 2)
	assert.Len(t, s.FindRelations(knowledge.RelationFilter{Type: "used_by"}), 1)
	assert.Len(t, s.FindRelations(knowledge.RelationFilter{To: "y", Type: "used_by"}), 0)
}

func TestStore_UpsertRelationship(t *testing.T) {
	s := knowledge.New()
	s.AddOrUpdateEntity(domain.Entity{Name: "x"})
	s.AddOrUpdateEntity(domain.Entity{Name: "y"})

	created, accepted := s.UpsertRelationship(domain.Relationship{From: "x", To: "y", Type: "uses"})
	assert.True(t, created)
	assert.True(t, accepted)

	created, accepted = s.UpsertRelationship(domain.Relationship{
		From: "x", To: "y", Type: "uses", Properties: map[string]any{"w": "1"},
	})
	assert.False(t, created)
	assert.True(t, accepted)

	created, accepted = s.UpsertRelationship(domain.Relationship{From: "x", To: "ghost", Type: "uses"})
	assert.False(t, created)
	assert.False(t, accepted)

	rels := s.FindRelations(knowledge.RelationFilter{})
	require.Len(t, rels, 1)
	assert.Equal(t, map[string]any{"w": "1"}, rels[0].Properties)
}

func TestStore_EmptyTypeKeepsKnownFacts(t *testing.T) {
	s := knowledge.New()
	s.AddOrUpdateEntity(domain.Entity{Name: "Gateway", Type: "service", Description: "edge proxy"})
	s.AddOrUpdateEntity(domain.Entity{Name: "gateway", Tags: []string{"b.txt"}})

	e, ok := s.FindEntityByName("gateway")
	require.True(t, ok)
	assert.Equal(t, "service", e.Type)
	assert.Equal(t, "edge proxy", e.Description)
	assert.Equal(t, []string{"b.txt"}, e.Tags)
}

func TestStore_Merge(t *testing.T) {
	s := knowledge.New()
	rejected := s.Merge(domain.Extraction{
		Entities: []domain.Entity{{Name: "x"}, {Name: "y"}},
		Relationships: []domain.Relationship{
			{From: "x", To: "y", Type: "depends_on"},
			{From: "x", To: "z", Type: "depends_on"},
		},
	})
	assert.Equal(t, 1, rejected)

	entities, relationships := s.Len()
	assert.Equal(t, 2, entities)
	assert.Equal(t, 1, relationships)
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "memory.json")

	s := knowledge.New()
	s.AddOrUpdateEntity(domain.Entity{
		Name:        "Engine",
		Type:        "component",
		Description: "runs graphs",
		Tags:        []string{"core"},
		Properties: map[string]any{
			"lang":  "go",
			"lines": 42,
			"owner": map[string]any{"team": "core", "size": 3},
			"deps":  []string{"saver", "graph"},
		},
	})
	s.AddOrUpdateEntity(domain.Entity{Name: "Saver", Type: "component"})
	s.AddOrUpdateRelationship(domain.Relationship{
		From: "Engine", To: "Saver", Type: "uses", Properties: map[string]any{"via": "port", "calls": int64(7)},
	})
	require.NoError(t, s.Save(path))

	e, ok := s.FindEntityByName("engine")
	require.True(t, ok)
	assert.Equal(t, float64(42), e.Properties["lines"], "properties are kept in their JSON form")
	assert.Equal(t, []any{"saver", "graph"}, e.Properties["deps"])

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "\n  \"entities\": [", "memory file is pretty-printed")

	loaded, err := knowledge.Load(path)
	require.NoError(t, err)
	assert.Equal(t, s.Snapshot(), loaded.Snapshot())
}

func TestLoad_MissingFileIsEmpty(t *testing.T) {
	s, err := knowledge.Load(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	snap := s.Snapshot()
	assert.Empty(t, snap.Entities)
	assert.Empty(t, snap.Relationships)
}

func TestLoad_CorruptFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := knowledge.Load(path)
	assert.Error(t, err)
}

func TestSave_FailurePropagates(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	err := knowledge.New().Save(filepath.Join(blocker, "memory.json"))
	assert.Error(t, err)
}

func TestStore_Describe(t *testing.T) {
	s := knowledge.New()
	assert.Equal(t, "(empty)", s.Describe())

	s.AddOrUpdateEntity(domain.Entity{Name: "x", Type: "component"})
	s.AddOrUpdateEntity(domain.Entity{Name: "y"})
	s.AddOrUpdateRelationship(domain.Relationship{From: "x", To: "y", Type: "depends_on"})

	out := s.Describe()
	assert.Contains(t, out, "- x [component]")
	assert.Contains(t, out, "- x -[depends_on]-> y")
}
