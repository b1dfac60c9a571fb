package cli

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/arbor"
	"github.com/aretw0/arbor/internal/config"
	"github.com/aretw0/arbor/pkg/domain"
	"github.com/aretw0/arbor/pkg/flows"
	"github.com/aretw0/arbor/pkg/knowledge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ollamaStub answers every chat call with the next reply.
func ollamaStub(t *testing.T, replies ...string) string {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		i := int(calls.Add(1)) - 1
		reply := replies[len(replies)-1]
		if i < len(replies) {
			reply = replies[i]
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"message": map[string]string{"role": "assistant", "content": reply},
			"done":    true,
		})
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func testConfig(t *testing.T, backend string) config.Config {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Memory.Path = filepath.Join(dir, "memory.json")
	cfg.Checkpoint.Backend = backend
	cfg.Checkpoint.Dir = filepath.Join(dir, "threads")
	cfg.Checkpoint.SQLitePath = filepath.Join(dir, "db", "threads.db")
	return cfg
}

func newTestRuntime(t *testing.T, cfg config.Config) *Runtime {
	t.Helper()
	rt, err := NewRuntime(cfg, false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })
	return rt
}

func TestNewRuntime_InvalidConfig(t *testing.T) {
	cfg := testConfig(t, "etcd")
	_, err := NewRuntime(cfg, false)
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestBuildPersistence_Backends(t *testing.T) {
	mr := miniredis.RunT(t)

	for _, backend := range []string{config.BackendMemory, config.BackendFile, config.BackendSQLite, config.BackendRedis} {
		t.Run(backend, func(t *testing.T) {
			cfg := testConfig(t, backend)
			cfg.Checkpoint.RedisAddr = mr.Addr()

			p, err := BuildPersistence(cfg)
			require.NoError(t, err)
			defer p.Close()

			ctx := context.Background()
			cp := &domain.Checkpoint{ID: "c1", ThreadID: "t1", Source: domain.SourceInput, Next: "echo", State: domain.State{"input": "hi"}}
			require.NoError(t, p.Saver.Put(ctx, cp))

			got, err := p.Saver.Latest(ctx, "t1")
			require.NoError(t, err)
			assert.Equal(t, "hi", got.State.String("input"))
			assert.Equal(t, backend == config.BackendRedis, p.Locker != nil)
		})
	}
}

func TestBuildPersistence_Encryption(t *testing.T) {
	cfg := testConfig(t, config.BackendFile)
	cfg.Checkpoint.EncryptionKey = base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{7}, 32))

	p, err := BuildPersistence(cfg)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, p.Saver.Put(ctx, &domain.Checkpoint{ID: "c1", ThreadID: "t1", Next: "echo", State: domain.State{"input": "secret"}}))

	got, err := p.Saver.Latest(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "secret", got.State.String("input"))

	cfg.Checkpoint.EncryptionKey = ""
	plain, err := BuildPersistence(cfg)
	require.NoError(t, err)
	raw, err := plain.Saver.Latest(ctx, "t1")
	require.NoError(t, err)
	assert.NotContains(t, raw.State, "input", "state is sealed at rest")
}

func TestRunFlow_Echo(t *testing.T) {
	rt := newTestRuntime(t, testConfig(t, config.BackendMemory))

	var out bytes.Buffer
	err := RunFlow(context.Background(), rt.Engine, RunOptions{
		Flow:     flows.FlowEcho,
		ThreadID: "e1",
		Input:    "hello",
		Headless: true,
		Stdin:    strings.NewReader(""),
		Stdout:   &out,
	})
	require.NoError(t, err)
	assert.Equal(t, "hello\n", out.String())
}

func TestRunFlow_AnalyzeConversation(t *testing.T) {
	cfg := testConfig(t, config.BackendFile)
	cfg.LLM.URL = ollamaStub(t,
		`{"question": "What should I analyze?", "entities": [{"name": "Billing", "type": "service"}]}`,
		"# Report\nbilling",
	)
	rt := newTestRuntime(t, cfg)
	ctx := context.Background()

	var out bytes.Buffer
	err := RunFlow(ctx, rt.Engine, RunOptions{
		ThreadID: "a1",
		Stdin:    strings.NewReader("billing. done\n"),
		Stdout:   &out,
	})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "What should I analyze?")
	assert.Contains(t, out.String(), "# Report")
	assert.Contains(t, out.String(), "Thread a1 finished (analyze).")

	require.NoError(t, rt.Close())
	store, err := knowledge.Load(cfg.Memory.Path)
	require.NoError(t, err)
	_, ok := store.FindEntityByName("billing")
	assert.True(t, ok, "memory is flushed on close")
}

func TestResumeThread_JSON(t *testing.T) {
	cfg := testConfig(t, config.BackendFile)
	cfg.LLM.URL = ollamaStub(t, `{"question": "What should I analyze?"}`, "final report")

	rt := newTestRuntime(t, cfg)
	ctx := context.Background()

	var out bytes.Buffer
	require.NoError(t, RunFlow(ctx, rt.Engine, RunOptions{ThreadID: "j1", JSON: true, Stdout: &out}))

	var res domain.RunResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	assert.Equal(t, domain.StatusSuspended, res.Status)
	assert.Equal(t, "What should I analyze?", res.Question)

	out.Reset()
	require.NoError(t, ResumeThread(ctx, rt.Engine, "j1", "okay bye", RunOptions{JSON: true, Stdout: &out}))
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	assert.Equal(t, domain.StatusCompleted, res.Status)
	assert.Equal(t, "final report", res.State.String(flows.ChannelOutput))
}

func TestThreadCommands(t *testing.T) {
	rt := newTestRuntime(t, testConfig(t, config.BackendFile))
	ctx := context.Background()

	var out bytes.Buffer
	require.NoError(t, ListThreads(ctx, rt.Engine, &out))
	assert.Equal(t, "No threads found.\n", out.String())

	_, err := rt.Engine.Start(ctx, arborEcho("t1", "hi"))
	require.NoError(t, err)

	out.Reset()
	require.NoError(t, ListThreads(ctx, rt.Engine, &out))
	assert.Contains(t, out.String(), "t1")
	assert.Contains(t, out.String(), "completed")

	out.Reset()
	require.NoError(t, ThreadHistory(ctx, rt.Engine, "t1", &out))
	assert.Contains(t, out.String(), "input")
	assert.Contains(t, out.String(), flows.NodeEcho)

	out.Reset()
	require.NoError(t, InspectThread(ctx, rt.Engine, "t1", &out))
	assert.Contains(t, out.String(), `"thread_id": "t1"`)

	out.Reset()
	require.NoError(t, PrintGraph(ctx, rt.Engine, "t1", &out))
	assert.Contains(t, out.String(), "class echo visited;")

	out.Reset()
	require.NoError(t, DeleteThread(ctx, rt.Engine, "t1", &out))
	_, err = rt.Engine.Inspect(ctx, "t1")
	assert.ErrorIs(t, err, domain.ErrThreadNotFound)
}

func TestMemoryCommands(t *testing.T) {
	rt := newTestRuntime(t, testConfig(t, config.BackendMemory))
	store := rt.Engine.Memory()
	store.AddOrUpdateEntity(domain.Entity{Name: "Billing", Type: "service", Tags: []string{"a.txt"}})
	store.AddOrUpdateEntity(domain.Entity{Name: "Postgres"})
	store.AddOrUpdateRelationship(domain.Relationship{From: "Billing", To: "Postgres", Type: "uses"})

	var out bytes.Buffer
	ShowMemory(rt.Engine, &out)
	assert.Contains(t, out.String(), "2 entities, 1 relationships")

	out.Reset()
	require.NoError(t, ShowEntity(rt.Engine, "billing", &out))
	assert.Contains(t, out.String(), "Billing (service)")
	assert.Contains(t, out.String(), "-> uses Postgres")

	assert.ErrorIs(t, ShowEntity(rt.Engine, "ghost", &out), domain.ErrEntityNotFound)

	out.Reset()
	require.NoError(t, ShowRelations(rt.Engine, knowledge.RelationFilter{Type: "uses"}, &out))
	assert.Contains(t, out.String(), "Billing")

	path := filepath.Join(t.TempDir(), "export.json")
	out.Reset()
	require.NoError(t, ExportMemory(rt.Engine, path, &out))

	other := newTestRuntime(t, testConfig(t, config.BackendMemory))
	rejected, err := ImportMemory(other.Engine, path)
	require.NoError(t, err)
	assert.Zero(t, rejected)
	n, m := other.Engine.Memory().Len()
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, m)
}

func arborEcho(threadID, input string) arbor.StartRequest {
	return arbor.StartRequest{ThreadID: threadID, Flow: flows.FlowEcho, Input: input}
}
