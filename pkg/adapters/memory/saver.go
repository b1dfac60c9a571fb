package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/aretw0/arbor/pkg/domain"
)

// Saver implements ports.CheckpointSaver in memory.
// Checkpoints are kept serialized so callers never share state with the saver.
// Safe for concurrent use.
type Saver struct {
	data map[string][][]byte
	mu   sync.RWMutex
}

// NewSaver creates a new in-memory checkpoint saver.
func NewSaver() *Saver {
	return &Saver{
		data: make(map[string][][]byte),
	}
}

// Put appends the checkpoint to its thread.
func (s *Saver) Put(ctx context.Context, cp *domain.Checkpoint) error {
	if cp.ThreadID == "" {
		return fmt.Errorf("threadID cannot be empty")
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[cp.ThreadID] = append(s.data[cp.ThreadID], data)
	return nil
}

// Latest returns the most recent checkpoint.
func (s *Saver) Latest(ctx context.Context, threadID string) (*domain.Checkpoint, error) {
	s.mu.RLock()
	history, ok := s.data[threadID]
	var raw []byte
	if ok && len(history) > 0 {
		raw = history[len(history)-1]
	}
	s.mu.RUnlock()

	if raw == nil {
		return nil, domain.ErrThreadNotFound
	}
	return decode(raw)
}

// History returns every checkpoint, oldest first.
func (s *Saver) History(ctx context.Context, threadID string) ([]*domain.Checkpoint, error) {
	s.mu.RLock()
	raw := append([][]byte(nil), s.data[threadID]...)
	s.mu.RUnlock()

	if len(raw) == 0 {
		return nil, domain.ErrThreadNotFound
	}
	out := make([]*domain.Checkpoint, 0, len(raw))
	for _, r := range raw {
		cp, err := decode(r)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

// Delete removes the thread.
func (s *Saver) Delete(ctx context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, threadID)
	return nil
}

// List returns stored threads, sorted.
func (s *Saver) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	threads := make([]string, 0, len(s.data))
	for id := range s.data {
		threads = append(threads, id)
	}
	sort.Strings(threads)
	return threads, nil
}

func decode(raw []byte) (*domain.Checkpoint, error) {
	var cp domain.Checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return &cp, nil
}
