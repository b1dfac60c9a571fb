package extract_test

import (
	"context"
	"errors"
	"testing"

	"github.com/aretw0/arbor/internal/testutils"
	"github.com/aretw0/arbor/pkg/domain"
	"github.com/aretw0/arbor/pkg/extract"
	"github.com/aretw0/arbor/pkg/knowledge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuleExtractor_DependsOn(t *testing.T) {
	out, err := extract.NewRuleExtractor().Extract(context.Background(), []domain.Document{
		{Name: "a.txt", Content: "X depends on Y"},
	})
	require.NoError(t, err)
	require.Len(t, out, 1)

	ext := out[0]
	require.Len(t, ext.Entities, 2)
	assert.Equal(t, "x", ext.Entities[0].Name)
	assert.Equal(t, "y", ext.Entities[1].Name)
	assert.Equal(t, []string{"a.txt"}, ext.Entities[0].Tags)

	require.Len(t, ext.Relationships, 1)
	assert.Equal(t, domain.Relationship{
		From: "x", To: "y", Type: "depends_on", Properties: map[string]any{"source": "a.txt"},
	}, ext.Relationships[0])
}

func TestRuleExtractor_TypesAndVerbs(t *testing.T) {
	out, err := extract.NewRuleExtractor().Extract(context.Background(), []domain.Document{
		{Name: "notes.md", Content: "Gateway is a service. The Gateway calls Billing.\nBilling uses postgres."},
	})
	require.NoError(t, err)
	ext := out[0]

	types := map[string]string{}
	for _, e := range ext.Entities {
		types[e.Name] = e.Type
	}
	assert.Equal(t, "service", types["gateway"])
	assert.Contains(t, types, "billing")
	assert.Contains(t, types, "postgres")

	var rels []string
	for _, r := range ext.Relationships {
		rels = append(rels, r.From+" "+r.Type+" "+r.To)
	}
	assert.Contains(t, rels, "gateway calls billing")
	assert.Contains(t, rels, "billing uses postgres")
}

func TestRuleExtractor_EndpointsKeepKnownTypes(t *testing.T) {
	ctx := context.Background()
	store := knowledge.New()
	ex := extract.NewRuleExtractor()

	for _, doc := range []domain.Document{
		{Name: "a.md", Content: "Gateway is a service."},
		{Name: "b.md", Content: "Gateway depends on Billing."},
	} {
		out, err := ex.Extract(ctx, []domain.Document{doc})
		require.NoError(t, err)
		for _, ext := range out {
			store.Merge(ext)
		}
	}

	e, ok := store.FindEntityByName("gateway")
	require.True(t, ok)
	assert.Equal(t, "service", e.Type)
	assert.Empty(t, e.Description)
	assert.Equal(t, []string{"a.md", "b.md"}, e.Tags)
}

func TestRuleExtractor_NoKnowledge(t *testing.T) {
	out, err := extract.NewRuleExtractor().Extract(context.Background(), []domain.Document{{Name: "empty.txt"}})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Empty(t, out[0].Entities)
	assert.Empty(t, out[0].Relationships)
}

func TestModelExtractor(t *testing.T) {
	model := testutils.NewScriptedModel(
		"```json\n{\"entities\": [{\"name\": \"Api\", \"type\": \"service\"}, {\"name\": \"Db\"}], \"relationships\": [{\"from\": \"Api\", \"to\": \"Db\", \"type\": \"reads\"}]}\n```",
		"I could not find anything",
	)
	ex := extract.NewModelExtractor(model)

	out, err := ex.Extract(context.Background(), []domain.Document{
		{Name: "a.md", Content: "Api reads Db"},
		{Name: "b.md", Content: "nothing here"},
	})
	require.NoError(t, err)
	require.Len(t, out, 1, "unparseable answers are dropped")
	assert.Equal(t, "Api", out[0].Entities[0].Name)
	assert.Equal(t, []string{"a.md"}, out[0].Entities[0].Tags)
	assert.Equal(t, "reads", out[0].Relationships[0].Type)
	assert.Len(t, model.Calls(), 2)
}

func TestModelExtractor_ModelError(t *testing.T) {
	model := testutils.NewScriptedModel("{}")
	model.FailNext(errors.New("timeout"))

	_, err := extract.NewModelExtractor(model).Extract(context.Background(), []domain.Document{{Name: "a.md"}})
	assert.Error(t, err)
}
