package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/aretw0/arbor/pkg/domain"
)

// Saver implements ports.CheckpointSaver using the local filesystem.
// Every thread is stored as a JSON array of checkpoints in <BasePath>/<thread>.json.
type Saver struct {
	BasePath string

	mu sync.Mutex
}

// New creates a new Saver with the given base path.
// If basePath is empty, it defaults to ".arbor/threads".
func New(basePath string) *Saver {
	if basePath == "" {
		basePath = filepath.Join(".arbor", "threads")
	}
	return &Saver{BasePath: basePath}
}

func (s *Saver) path(threadID string) (string, error) {
	if threadID == "" {
		return "", fmt.Errorf("threadID cannot be empty")
	}
	if strings.ContainsAny(threadID, `/\`) || threadID == "." || threadID == ".." {
		return "", fmt.Errorf("invalid threadID %q", threadID)
	}
	return filepath.Join(s.BasePath, threadID+".json"), nil
}

// Put appends a checkpoint and rewrites the thread file atomically.
func (s *Saver) Put(ctx context.Context, cp *domain.Checkpoint) error {
	dest, err := s.path(cp.ThreadID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	history, err := s.read(dest)
	if err != nil && !errors.Is(err, domain.ErrThreadNotFound) {
		return err
	}
	history = append(history, cp)

	data, err := json.MarshalIndent(history, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoints: %w", err)
	}
	return writeAtomic(s.BasePath, dest, cp.ThreadID, data)
}

// Latest returns the last checkpoint in the thread file.
func (s *Saver) Latest(ctx context.Context, threadID string) (*domain.Checkpoint, error) {
	history, err := s.History(ctx, threadID)
	if err != nil {
		return nil, err
	}
	return history[len(history)-1], nil
}

// History reads the thread file.
func (s *Saver) History(ctx context.Context, threadID string) ([]*domain.Checkpoint, error) {
	p, err := s.path(threadID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(p)
}

func (s *Saver) read(p string) ([]*domain.Checkpoint, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.ErrThreadNotFound
		}
		return nil, fmt.Errorf("failed to read thread file: %w", err)
	}

	var history []*domain.Checkpoint
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, fmt.Errorf("failed to unmarshal thread file: %w", err)
	}
	if len(history) == 0 {
		return nil, domain.ErrThreadNotFound
	}
	return history, nil
}

// Delete removes the thread file.
func (s *Saver) Delete(ctx context.Context, threadID string) error {
	p, err := s.path(threadID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete thread file: %w", err)
	}
	return nil
}

// List returns all stored thread IDs.
func (s *Saver) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.BasePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to list threads: %w", err)
	}

	threads := []string{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".json" {
			continue
		}
		threads = append(threads, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(threads)
	return threads, nil
}

// writeAtomic writes to a temporary file in dir, syncs it and renames it over dest.
func writeAtomic(dir, dest, name string, data []byte) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to ensure thread directory: %w", err)
	}

	// Same directory, so the rename stays on one filesystem. The .tmp extension keeps
	// half-written files out of List.
	tmpFile, err := os.CreateTemp(dir, name+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("failed to fsync temp file: %w", err)
	}
	// Windows cannot rename an open file.
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	// Elsewhere rename replaces dest atomically; removing it first would risk the whole
	// history on a crash.
	if runtime.GOOS == "windows" {
		if _, err := os.Stat(dest); err == nil {
			if err := os.Remove(dest); err != nil {
				return fmt.Errorf("failed to remove existing thread file for overwrite: %w", err)
			}
		}
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
