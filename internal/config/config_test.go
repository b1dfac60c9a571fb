package config

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestLoad_DefaultsWhenNoFile(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_ExplicitMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "arbor.yaml", `
memory:
  path: kb.json
  flush: each
checkpoint:
  backend: sqlite
  sqlite_path: /tmp/arbor.db
llm:
  model: mistral
  timeout: 30s
flow:
  max_turns: 5
  extensions: [".md", ".txt"]
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "kb.json", cfg.Memory.Path)
	assert.Equal(t, FlushEach, cfg.Memory.Flush)
	assert.Equal(t, BackendSQLite, cfg.Checkpoint.Backend)
	assert.Equal(t, "mistral", cfg.LLM.Model)
	assert.Equal(t, 30*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, 5, cfg.Flow.MaxTurns)
	assert.Equal(t, []string{".md", ".txt"}, cfg.Flow.Extensions)
	assert.Equal(t, "http://localhost:11434", cfg.LLM.URL, "unset fields keep their default")
}

func TestLoad_JSON(t *testing.T) {
	path := writeFile(t, "arbor.json", `{"checkpoint": {"backend": "memory"}, "flow": {"extractor": "llm"}}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, cfg.Checkpoint.Backend)
	assert.Equal(t, "llm", cfg.Flow.Extractor)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeFile(t, "arbor.yaml", "checkpoint:\n  backend: memory\n")
	t.Setenv("ARBOR_CHECKPOINTER", "redis")
	t.Setenv("ARBOR_REDIS_ADDR", "cache:6379")
	t.Setenv("ARBOR_MAX_TURNS", "3")
	t.Setenv("ARBOR_MEMORY", "other.json")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, BackendRedis, cfg.Checkpoint.Backend)
	assert.Equal(t, "cache:6379", cfg.Checkpoint.RedisAddr)
	assert.Equal(t, 3, cfg.Flow.MaxTurns)
	assert.Equal(t, "other.json", cfg.Memory.Path)
}

func TestLoad_BadEnvNumber(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("ARBOR_MAX_STEPS", "many")
	_, err := Load("")
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestValidate_CollectsProblems(t *testing.T) {
	cfg := Default()
	cfg.Checkpoint.Backend = "mongo"
	cfg.Memory.Flush = "sometimes"
	cfg.Flow.Extractor = "magic"
	cfg.Flow.MaxTurns = -1

	err := cfg.Validate()
	require.ErrorIs(t, err, ErrInvalid)
	for _, want := range []string{"mongo", "sometimes", "magic", "max_turns"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestEncryptionKeys(t *testing.T) {
	cfg := Default()
	keys, err := cfg.EncryptionKeys()
	require.NoError(t, err)
	assert.Nil(t, keys)

	active := base64.StdEncoding.EncodeToString([]byte(strings.Repeat("a", 32)))
	old := base64.StdEncoding.EncodeToString([]byte(strings.Repeat("b", 32)))
	cfg.Checkpoint.EncryptionKey = active
	cfg.Checkpoint.FallbackKeys = []string{old}
	keys, err = cfg.EncryptionKeys()
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, []byte(strings.Repeat("b", 32)), keys[1])

	cfg.Checkpoint.EncryptionKey = base64.StdEncoding.EncodeToString([]byte("short"))
	assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
}
