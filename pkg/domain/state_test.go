package domain_test

import (
	"context"
	"testing"

	"github.com/aretw0/arbor/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestState_CloneIsDeep(t *testing.T) {
	s := domain.State{
		"files":   map[string]any{"a.txt": "hello"},
		"history": []any{map[string]any{"role": "human", "content": "hi"}},
	}
	c := s.Clone()

	c["files"].(map[string]any)["b.txt"] = "new"
	c["history"].([]any)[0].(map[string]any)["content"] = "changed"

	assert.Len(t, s["files"], 1)
	assert.Equal(t, "hi", s["history"].([]any)[0].(map[string]any)["content"])
}

func TestState_Normalize(t *testing.T) {
	s := domain.State{
		"history": []domain.Message{{Role: domain.RoleHuman, Content: "hi"}},
		"count":   3,
	}
	n, err := s.Normalize()
	require.NoError(t, err)

	assert.Equal(t, []any{map[string]any{"role": "human", "content": "hi"}}, n["history"])
	assert.Equal(t, float64(3), n["count"])
}

func TestResultFromCheckpoint(t *testing.T) {
	cp := &domain.Checkpoint{
		ID:        "cp-1",
		ThreadID:  "t-1",
		Step:      2,
		Source:    domain.SourceInterrupt,
		Next:      "analyze",
		State:     domain.State{"question": "What next?"},
		Interrupt: &domain.Interrupt{Node: "analyze", Payload: "What next?"},
	}

	res := domain.ResultFromCheckpoint(cp)
	assert.True(t, res.Suspended())
	assert.Equal(t, "What next?", res.Question)
	assert.Equal(t, "t-1", res.ThreadID)

	cp.Source = domain.SourceLoop
	cp.Next = domain.EndNode
	cp.Interrupt = nil
	res = domain.ResultFromCheckpoint(cp)
	assert.False(t, res.Suspended())
	assert.Equal(t, domain.StatusCompleted, res.Status)
}

func TestMergeHooks(t *testing.T) {
	var calls []string
	a := domain.LifecycleHooks{OnSuspend: func(context.Context, *domain.Event) { calls = append(calls, "a") }}
	b := domain.LifecycleHooks{OnSuspend: func(context.Context, *domain.Event) { calls = append(calls, "b") }}

	merged := domain.MergeHooks(a, b)
	merged.Emit(context.Background(), &domain.Event{Type: domain.EventSuspend})
	merged.Emit(context.Background(), &domain.Event{Type: domain.EventComplete})

	assert.Equal(t, []string{"a", "b"}, calls)
	assert.Nil(t, merged.OnComplete)
}
