package ports

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/aretw0/arbor/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunCheckpointSaverContract runs a suite of tests to verify that a CheckpointSaver implementation
// adheres to the defined interface contract.
func RunCheckpointSaverContract(t *testing.T, saver CheckpointSaver) {
	ctx := context.Background()
	threadID := "contract-thread-" + time.Now().Format("20060102150405.000000000")

	checkpoint := func(thread string, step int, source domain.CheckpointSource) *domain.Checkpoint {
		return &domain.Checkpoint{
			ID:       fmt.Sprintf("%s-%d", thread, step),
			ThreadID: thread,
			Step:     step,
			Source:   source,
			Next:     "analyze",
			State: domain.State{
				"input":   "hello",
				"history": []any{map[string]any{"role": "human", "content": "hello"}},
				"files":   map[string]any{"a.txt": "X depends on Y"},
			},
			CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
		}
	}

	t.Run("Put and Latest", func(t *testing.T) {
		require.NoError(t, saver.Put(ctx, checkpoint(threadID, 0, domain.SourceInput)))
		cp := checkpoint(threadID, 1, domain.SourceInterrupt)
		cp.Interrupt = &domain.Interrupt{Node: "analyze", Payload: "What should I analyze?"}
		require.NoError(t, saver.Put(ctx, cp))

		latest, err := saver.Latest(ctx, threadID)
		require.NoError(t, err, "Latest should not return error")
		assert.Equal(t, 1, latest.Step)
		assert.Equal(t, domain.SourceInterrupt, latest.Source)
		assert.Equal(t, "analyze", latest.Next)
		assert.Equal(t, cp.State, latest.State)
		require.NotNil(t, latest.Interrupt)
		assert.Equal(t, "What should I analyze?", latest.Interrupt.Question())
		assert.True(t, cp.CreatedAt.Equal(latest.CreatedAt))
	})

	t.Run("History is ordered", func(t *testing.T) {
		history, err := saver.History(ctx, threadID)
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, 0, history[0].Step)
		assert.Equal(t, 1, history[1].Step)
	})

	t.Run("Returned checkpoints are isolated", func(t *testing.T) {
		latest, err := saver.Latest(ctx, threadID)
		require.NoError(t, err)
		latest.State["input"] = "mutated"

		again, err := saver.Latest(ctx, threadID)
		require.NoError(t, err)
		assert.Equal(t, "hello", again.State["input"])
	})

	t.Run("Unknown thread", func(t *testing.T) {
		_, err := saver.Latest(ctx, "missing-"+threadID)
		assert.ErrorIs(t, err, domain.ErrThreadNotFound)
		_, err = saver.History(ctx, "missing-"+threadID)
		assert.ErrorIs(t, err, domain.ErrThreadNotFound)
	})

	t.Run("List", func(t *testing.T) {
		other := threadID + "-other"
		require.NoError(t, saver.Put(ctx, checkpoint(other, 0, domain.SourceInput)))
		defer func() { _ = saver.Delete(ctx, other) }()

		threads, err := saver.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, threads, threadID)
		assert.Contains(t, threads, other)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, saver.Delete(ctx, threadID), "Delete should not return error")

		_, err := saver.Latest(ctx, threadID)
		assert.ErrorIs(t, err, domain.ErrThreadNotFound, "Latest after Delete should return ErrThreadNotFound")

		threads, err := saver.List(ctx)
		require.NoError(t, err)
		assert.NotContains(t, threads, threadID)

		assert.NoError(t, saver.Delete(ctx, threadID), "Deleting twice is not an error")
	})
}
