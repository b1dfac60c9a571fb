package arbor_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aretw0/arbor"
	"github.com/aretw0/arbor/internal/testutils"
	"github.com/aretw0/arbor/pkg/adapters/docs"
	"github.com/aretw0/arbor/pkg/adapters/file"
	"github.com/aretw0/arbor/pkg/domain"
	"github.com/aretw0/arbor/pkg/flows"
	"github.com/aretw0/arbor/pkg/knowledge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_AnalyzeScenario(t *testing.T) {
	dir := testutils.SetupTestDir(t, map[string]string{"a.txt": "X depends on Y"})
	memPath := filepath.Join(t.TempDir(), "memory.json")
	model := testutils.NewScriptedModel(`{"question": "What should I analyze?"}`, `{"question": "Anything else?"}`)

	eng, err := arbor.New(
		arbor.WithModel(model),
		arbor.WithMemoryFile(memPath, false),
		arbor.WithFlowOptions(flows.WithDocuments(docs.NewDirSource())),
	)
	require.NoError(t, err)

	ctx := context.Background()
	res, err := eng.Start(ctx, arbor.StartRequest{Flow: flows.FlowAnalyze, SourceDir: dir})
	require.NoError(t, err)
	require.True(t, res.Suspended())
	assert.Equal(t, "What should I analyze?", res.Question)

	_, ok := eng.Memory().FindEntityByName("X")
	assert.True(t, ok)
	rels := eng.Memory().FindRelations(knowledge.RelationFilter{From: "x"})
	require.Len(t, rels, 1)
	assert.Equal(t, "depends_on", rels[0].Type)

	res, err = eng.Resume(ctx, res.ThreadID, "the billing service")
	require.NoError(t, err)
	assert.True(t, res.Suspended())

	_, err = os.Stat(memPath)
	assert.True(t, os.IsNotExist(err), "memory is flushed at the end by default")
	require.NoError(t, eng.Flush())

	loaded, err := knowledge.Load(memPath)
	require.NoError(t, err)
	assert.Equal(t, eng.Memory().Snapshot(), loaded.Snapshot())
}

func TestEngine_FlushEachChange(t *testing.T) {
	dir := testutils.SetupTestDir(t, map[string]string{"a.txt": "X depends on Y"})
	memPath := filepath.Join(t.TempDir(), "memory.json")

	eng, err := arbor.New(
		arbor.WithModel(testutils.NewScriptedModel(`{"question": "?"}`)),
		arbor.WithMemoryFile(memPath, true),
		arbor.WithFlowOptions(flows.WithDocuments(docs.NewDirSource())),
	)
	require.NoError(t, err)

	_, err = eng.Start(context.Background(), arbor.StartRequest{SourceDir: dir})
	require.NoError(t, err)

	loaded, err := knowledge.Load(memPath)
	require.NoError(t, err)
	n, _ := loaded.Len()
	assert.Equal(t, 2, n)
}

func TestEngine_CorruptMemoryIsFatal(t *testing.T) {
	memPath := filepath.Join(t.TempDir(), "memory.json")
	require.NoError(t, os.WriteFile(memPath, []byte("{"), 0o644))

	_, err := arbor.New(arbor.WithMemoryFile(memPath, false))
	assert.Error(t, err)
}

func TestEngine_ResumeAcrossProcesses(t *testing.T) {
	threads := t.TempDir()
	ctx := context.Background()

	first, err := arbor.New(
		arbor.WithModel(testutils.NewScriptedModel(`{"question": "What should I analyze?"}`)),
		arbor.WithSaver(file.New(threads)),
	)
	require.NoError(t, err)
	res, err := first.Start(ctx, arbor.StartRequest{})
	require.NoError(t, err)
	require.True(t, res.Suspended())

	second, err := arbor.New(
		arbor.WithModel(testutils.NewScriptedModel("final report")),
		arbor.WithSaver(file.New(threads)),
	)
	require.NoError(t, err)
	res, err = second.Resume(ctx, res.ThreadID, "okay bye")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, res.Status)
	assert.Equal(t, "final report", res.State.String(flows.ChannelOutput))

	ids, err := second.Threads(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{res.ThreadID}, ids)

	history, err := second.History(ctx, res.ThreadID)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceResume, history[len(history)-2].Source)

	require.NoError(t, second.DeleteThread(ctx, res.ThreadID))
	_, err = second.Inspect(ctx, res.ThreadID)
	assert.ErrorIs(t, err, domain.ErrThreadNotFound)
}

func TestEngine_Echo(t *testing.T) {
	eng, err := arbor.New()
	require.NoError(t, err)
	res, err := eng.Start(context.Background(), arbor.StartRequest{Flow: flows.FlowEcho, Input: "  hi\x00 "})
	require.NoError(t, err)
	assert.Equal(t, "hi", res.State.String(flows.ChannelOutput))
}

func TestEngine_UnknownFlow(t *testing.T) {
	eng, err := arbor.New()
	require.NoError(t, err)
	_, err = eng.Start(context.Background(), arbor.StartRequest{Flow: "poetry"})
	assert.ErrorIs(t, err, arbor.ErrUnknownFlow)
}

func TestConsole_Run(t *testing.T) {
	model := testutils.NewScriptedModel(`{"question": "What should I analyze?"}`, `{"question": "Which part?"}`, "**done**")
	eng, err := arbor.New(arbor.WithModel(model))
	require.NoError(t, err)

	ctx := context.Background()
	res, err := eng.Start(ctx, arbor.StartRequest{})
	require.NoError(t, err)

	var out bytes.Buffer
	console := &arbor.Console{
		Input:    strings.NewReader("billing\nsolution approved"),
		Output:   &out,
		Headless: true,
		Renderer: func(s string) (string, error) { return strings.ToUpper(s), nil },
	}
	final, err := console.Run(ctx, eng, res)
	require.NoError(t, err)
	assert.False(t, final.Suspended())
	assert.Equal(t, "WHAT SHOULD I ANALYZE?\nWHICH PART?\n**DONE**\n", out.String())
}

func TestConsole_ExitParksThread(t *testing.T) {
	eng, err := arbor.New(arbor.WithModel(testutils.NewScriptedModel(`{"question": "Q?"}`)))
	require.NoError(t, err)

	ctx := context.Background()
	res, err := eng.Start(ctx, arbor.StartRequest{ThreadID: "t1"})
	require.NoError(t, err)

	var out bytes.Buffer
	final, err := (&arbor.Console{Input: strings.NewReader("exit\n"), Output: &out}).Run(ctx, eng, res)
	require.NoError(t, err)
	assert.True(t, final.Suspended())
	assert.Contains(t, out.String(), "arbor resume t1")

	latest, err := eng.Inspect(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, latest.Suspended())
}
