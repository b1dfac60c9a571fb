package testutils

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/aretw0/arbor/pkg/domain"
	"github.com/aretw0/arbor/pkg/ports"
	"github.com/stretchr/testify/require"
)

// SetupTestDir creates a temporary directory holding files (relative name -> content).
// It returns the absolute path and fails the test immediately on error.
func SetupTestDir(t *testing.T, files map[string]string) string {
	t.Helper()

	dir, err := filepath.Abs(t.TempDir())
	require.NoError(t, err, "Failed to get absolute path for temp dir")

	for name, content := range files {
		p := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return dir
}

// Call records one invocation of a ScriptedModel.
type Call struct {
	History []domain.Message
	Prompt  string
	Options ports.CompletionOptions
}

// ScriptedModel is a LanguageModel that replays canned answers in order.
// When the script runs out, the last answer is repeated.
type ScriptedModel struct {
	mu      sync.Mutex
	answers []string
	errs    []error
	calls   []Call
}

var _ ports.LanguageModel = (*ScriptedModel)(nil)

// NewScriptedModel creates a model answering with answers in order.
func NewScriptedModel(answers ...string) *ScriptedModel {
	return &ScriptedModel{answers: answers}
}

// FailNext makes the next call return err instead of an answer.
func (m *ScriptedModel) FailNext(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = append(m.errs, err)
}

// Complete implements ports.LanguageModel.
func (m *ScriptedModel) Complete(ctx context.Context, history []domain.Message, prompt string, opts ports.CompletionOptions) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, Call{
		History: append([]domain.Message(nil), history...),
		Prompt:  prompt,
		Options: opts,
	})

	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return "", err
	}
	if len(m.answers) == 0 {
		return "", domain.ErrEmptyResponse
	}
	answer := m.answers[0]
	if len(m.answers) > 1 {
		m.answers = m.answers[1:]
	}
	return answer, nil
}

// Calls returns a copy of the recorded calls.
func (m *ScriptedModel) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}
