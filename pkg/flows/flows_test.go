package flows_test

import (
	"context"
	"errors"
	"testing"

	"github.com/aretw0/arbor/internal/testutils"
	"github.com/aretw0/arbor/pkg/adapters/memory"
	"github.com/aretw0/arbor/pkg/domain"
	"github.com/aretw0/arbor/pkg/flows"
	"github.com/aretw0/arbor/pkg/knowledge"
	"github.com/aretw0/arbor/pkg/ports"
	"github.com/aretw0/arbor/pkg/runner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const firstQuestion = `{"response": "", "question": "What should I analyze?"}`

type staticDocs map[string]string

func (d staticDocs) Load(context.Context, string) (map[string]string, error) {
	return d, nil
}

type failingExtractor struct{}

func (failingExtractor) Extract(context.Context, []domain.Document) ([]domain.Extraction, error) {
	return nil, errors.New("extractor crashed")
}

func newRunner(t *testing.T, model ports.LanguageModel, store *knowledge.Store, opts ...flows.Option) (*runner.Runner, *flows.Library) {
	t.Helper()
	lib := flows.NewLibrary(model, store, opts...)
	g, err := lib.Graph()
	require.NoError(t, err)
	return runner.New(g, memory.NewSaver()), lib
}

func TestAnalyze_ExtractsKnowledgeFromFiles(t *testing.T) {
	model := testutils.NewScriptedModel(firstQuestion)
	r, lib := newRunner(t, model, nil, flows.WithDocuments(staticDocs{"a.txt": "X depends on Y"}))

	res, err := r.Start(context.Background(), "", map[string]any{
		flows.ChannelFlow:      flows.FlowAnalyze,
		flows.ChannelSourceDir: "/repo",
	})
	require.NoError(t, err)
	require.True(t, res.Suspended())

	store := lib.Memory()
	_, ok := store.FindEntityByName("X")
	assert.True(t, ok)
	_, ok = store.FindEntityByName("Y")
	assert.True(t, ok)

	rels := store.FindRelations(knowledge.RelationFilter{From: "x"})
	require.Len(t, rels, 1)
	assert.Equal(t, "depends_on", rels[0].Type)

	assert.Contains(t, res.State[flows.ChannelMemory], "depends_on", "memory snapshot travels with the thread")
	assert.Contains(t, model.Calls()[0].Prompt, "X depends on Y")
}

func TestAnalyze_QuestionThenTermination(t *testing.T) {
	ctx := context.Background()
	model := testutils.NewScriptedModel(
		firstQuestion,
		`{"response": "billing owns invoices", "question": "Which database does it use?"}`,
		"# Report\nbilling uses postgres",
	)
	r, _ := newRunner(t, model, nil)

	res, err := r.Start(ctx, "", map[string]any{flows.ChannelFlow: flows.FlowAnalyze})
	require.NoError(t, err)
	require.True(t, res.Suspended())
	assert.Equal(t, "What should I analyze?", res.Question)

	res, err = r.Resume(ctx, res.ThreadID, "the billing service")
	require.NoError(t, err)
	require.True(t, res.Suspended())
	assert.Equal(t, "Which database does it use?", res.Question)
	assert.Equal(t, "billing owns invoices", res.State[flows.ChannelResponse])

	res, err = r.Resume(ctx, res.ThreadID, "postgres. Okay bye!")
	require.NoError(t, err)
	require.False(t, res.Suspended())
	assert.Equal(t, "# Report\nbilling uses postgres", res.State[flows.ChannelOutput])

	history, err := flows.History(res.State)
	require.NoError(t, err)
	require.Len(t, history, 5)
	assert.Equal(t, domain.Message{Role: domain.RoleHuman, Content: "the billing service"}, history[1])
	assert.Equal(t, domain.RoleAssistant, history[4].Role)
	assert.Len(t, model.Calls()[2].History, 4, "the final call sees the full history")
}

func TestAnalyze_TerminationPhraseMatching(t *testing.T) {
	tests := []struct {
		answer string
		done   bool
	}{
		{"solution approved", true},
		{"I think we are DoNe here", true},
		{"OKAY BYE", true},
		{"keep going", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.answer, func(t *testing.T) {
			ctx := context.Background()
			model := testutils.NewScriptedModel(firstQuestion, firstQuestion)
			r, _ := newRunner(t, model, nil)

			res, err := r.Start(ctx, "t", nil)
			require.NoError(t, err)
			res, err = r.Resume(ctx, "t", tt.answer)
			require.NoError(t, err)
			assert.Equal(t, !tt.done, res.Suspended())
		})
	}
}

func TestAnalyze_ResumeIsTransparent(t *testing.T) {
	ctx := context.Background()
	script := []string{firstQuestion, `{"question": "And then?"}`}

	r1, _ := newRunner(t, testutils.NewScriptedModel(script...), nil)
	_, err := r1.Start(ctx, "t", nil)
	require.NoError(t, err)
	resumed, err := r1.Resume(ctx, "t", "X")
	require.NoError(t, err)

	// The uninterrupted run starts with the same history and X already pending.
	r2, _ := newRunner(t, testutils.NewScriptedModel(script[1:]...), nil)
	direct, err := r2.Start(ctx, "t", map[string]any{
		flows.ChannelInput: "X",
		flows.ChannelHistory: []domain.Message{
			{Role: domain.RoleAssistant, Content: "What should I analyze?"},
		},
		flows.ChannelQuestion: "What should I analyze?",
	})
	require.NoError(t, err)

	assert.Equal(t, direct.State, resumed.State)
}

func TestAnalyze_MaxTurns(t *testing.T) {
	ctx := context.Background()
	model := testutils.NewScriptedModel(firstQuestion, "summary")
	r, _ := newRunner(t, model, nil, flows.WithMaxTurns(1))

	res, err := r.Start(ctx, "t", nil)
	require.NoError(t, err)
	require.True(t, res.Suspended())

	res, err = r.Resume(ctx, "t", "keep going")
	require.NoError(t, err)
	assert.False(t, res.Suspended())
	assert.Equal(t, "summary", res.State[flows.ChannelOutput])
}

func TestAnalyze_UnstructuredReplyBecomesQuestion(t *testing.T) {
	r, _ := newRunner(t, testutils.NewScriptedModel("Which module matters most?"), nil)
	res, err := r.Start(context.Background(), "t", nil)
	require.NoError(t, err)
	assert.Equal(t, "Which module matters most?", res.Question)
}

func TestAnalyze_ModelReplyUpdatesMemory(t *testing.T) {
	reply := `{"question": "Next?", "entities": [{"name": "Billing", "type": "service"}, {"name": "Postgres"}],
	"relationships": [{"from": "Billing", "to": "Postgres", "type": "uses"}, {"from": "Billing", "to": "Ghost", "type": "calls"}]}`
	r, lib := newRunner(t, testutils.NewScriptedModel(reply), nil)

	_, err := r.Start(context.Background(), "t", nil)
	require.NoError(t, err)

	e, ok := lib.Memory().FindEntityByName("billing")
	require.True(t, ok)
	assert.Equal(t, "service", e.Type)
	assert.Len(t, lib.Memory().FindRelations(knowledge.RelationFilter{}), 1, "dangling relationship is rejected")
}

func TestAnalyze_MemorySurvivesProcessRestart(t *testing.T) {
	ctx := context.Background()
	saver := memory.NewSaver()

	reply := `{"question": "Next?", "entities": [{"name": "Billing"}]}`
	lib := flows.NewLibrary(testutils.NewScriptedModel(reply), nil)
	g, err := lib.Graph()
	require.NoError(t, err)
	_, err = runner.New(g, saver).Start(ctx, "t", nil)
	require.NoError(t, err)

	fresh := flows.NewLibrary(testutils.NewScriptedModel(`{"question": "More?"}`), nil)
	g2, err := fresh.Graph()
	require.NoError(t, err)
	_, err = runner.New(g2, saver).Resume(ctx, "t", "go on")
	require.NoError(t, err)

	_, ok := fresh.Memory().FindEntityByName("Billing")
	assert.True(t, ok)
}

func TestAnalyze_ModelFailurePropagates(t *testing.T) {
	model := testutils.NewScriptedModel(firstQuestion)
	model.FailNext(domain.ErrEmptyResponse)
	r, _ := newRunner(t, model, nil)

	_, err := r.Start(context.Background(), "t", nil)
	assert.ErrorIs(t, err, domain.ErrEmptyResponse)
}

func TestAnalyze_FailedTurnLeavesMemoryUntouched(t *testing.T) {
	flushes := 0
	model := testutils.NewScriptedModel(`{"entities": [{"name": "Ghost", "type": "service"}]}`)
	r, lib := newRunner(t, model, nil, flows.WithMemoryHook(func(context.Context) error {
		flushes++
		return nil
	}))

	_, err := r.Start(context.Background(), "t", nil)
	assert.ErrorIs(t, err, domain.ErrEmptyResponse)

	_, ok := lib.Memory().FindEntityByName("Ghost")
	assert.False(t, ok)
	assert.Zero(t, flushes)
}

func TestAnalyze_NoModel(t *testing.T) {
	r, _ := newRunner(t, nil, nil)
	_, err := r.Start(context.Background(), "t", nil)
	assert.ErrorIs(t, err, domain.ErrNoModel)
}

func TestExtract_FailureDegrades(t *testing.T) {
	r, lib := newRunner(t, testutils.NewScriptedModel(firstQuestion), nil,
		flows.WithDocuments(staticDocs{"a.txt": "X depends on Y"}),
		flows.WithExtractor(failingExtractor{}),
	)
	res, err := r.Start(context.Background(), "t", map[string]any{flows.ChannelSourceDir: "/repo"})
	require.NoError(t, err)
	assert.True(t, res.Suspended())

	n, _ := lib.Memory().Len()
	assert.Zero(t, n)
}

func TestMemoryHook(t *testing.T) {
	flushes := 0
	r, _ := newRunner(t, testutils.NewScriptedModel(firstQuestion), nil,
		flows.WithDocuments(staticDocs{"a.txt": "X depends on Y"}),
		flows.WithMemoryHook(func(context.Context) error {
			flushes++
			return nil
		}),
	)
	_, err := r.Start(context.Background(), "t", map[string]any{flows.ChannelSourceDir: "/repo"})
	require.NoError(t, err)
	assert.Equal(t, 1, flushes)
}

func TestBuildContext(t *testing.T) {
	ctx := context.Background()
	model := testutils.NewScriptedModel(`{"question": "Who uses this?"}`, "# Context")
	r, _ := newRunner(t, model, nil)

	res, err := r.Start(ctx, "t", map[string]any{flows.ChannelFlow: flows.FlowBuildContext})
	require.NoError(t, err)
	require.True(t, res.Suspended())
	assert.Contains(t, model.Calls()[0].Prompt, "context document")

	res, err = r.Resume(ctx, "t", "the ops team. Solution approved")
	require.NoError(t, err)
	assert.Equal(t, "# Context", res.State[flows.ChannelOutput])
}

func TestEcho(t *testing.T) {
	r, _ := newRunner(t, nil, nil)
	res, err := r.Start(context.Background(), "t", map[string]any{
		flows.ChannelFlow:  flows.FlowEcho,
		flows.ChannelInput: "hello",
	})
	require.NoError(t, err)
	assert.False(t, res.Suspended())
	assert.Equal(t, "hello", res.State[flows.ChannelOutput])
}

func TestUnknownFlowEndsImmediately(t *testing.T) {
	r, _ := newRunner(t, nil, nil)
	res, err := r.Start(context.Background(), "t", map[string]any{flows.ChannelFlow: "nope"})
	require.NoError(t, err)
	assert.False(t, res.Suspended())
	assert.Equal(t, "", res.State[flows.ChannelOutput])
}
