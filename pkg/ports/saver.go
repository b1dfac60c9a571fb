package ports

import (
	"context"

	"github.com/aretw0/arbor/pkg/domain"
)

// CheckpointSaver persists the checkpoint history of threads.
// This is what allows a suspended thread to be resumed in another process.
type CheckpointSaver interface {
	// Put appends a checkpoint to the history of cp.ThreadID.
	Put(ctx context.Context, cp *domain.Checkpoint) error

	// Latest returns the most recent checkpoint of a thread.
	// Returns domain.ErrThreadNotFound if the thread has no checkpoint.
	Latest(ctx context.Context, threadID string) (*domain.Checkpoint, error)

	// History returns every checkpoint of a thread, oldest first.
	// Returns domain.ErrThreadNotFound if the thread has no checkpoint.
	History(ctx context.Context, threadID string) ([]*domain.Checkpoint, error)

	// Delete removes a thread and its history. Deleting an unknown thread is not an error.
	Delete(ctx context.Context, threadID string) error

	// List returns the IDs of every stored thread.
	List(ctx context.Context) ([]string, error)
}
