package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/arbor/internal/logging"
	"github.com/aretw0/arbor/pkg/domain"
	"github.com/aretw0/arbor/pkg/ports"
)

// DefaultLockTTL bounds how long a crashed replica can hold a distributed lock.
const DefaultLockTTL = 30 * time.Second

// lockEntry holds the mutex and the reference count.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Manager orchestrates thread access, ensuring safe concurrent operations.
// It uses reference counting to garbage collect unused locks.
type Manager struct {
	saver ports.CheckpointSaver

	mu    sync.Mutex
	locks map[string]*lockEntry

	locker  ports.DistributedLocker
	lockTTL time.Duration
	logger  *slog.Logger
}

// Option configures the Manager.
type Option func(*Manager)

// WithLocker enables distributed locking.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(m *Manager) {
		m.locker = locker
	}
}

// WithLockTTL sets the expiry of distributed locks.
func WithLockTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		m.lockTTL = ttl
	}
}

// WithLogger configures a logger for the Manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a new Manager over the given checkpoint saver.
func NewManager(saver ports.CheckpointSaver, opts ...Option) *Manager {
	m := &Manager{
		saver:   saver,
		locks:   make(map[string]*lockEntry),
		lockTTL: DefaultLockTTL,
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// acquire gets or creates a lock entry and increments its reference count.
// The caller MUST Lock entry.mu, and then call release(threadID) after unlocking.
func (m *Manager) acquire(threadID string) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[threadID]
	if !exists {
		entry = &lockEntry{}
		m.locks[threadID] = entry
	}
	entry.refs++
	return entry
}

// release decrements the reference count and deletes the entry if it reaches zero.
func (m *Manager) release(threadID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[threadID]
	if !exists {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(m.locks, threadID)
	}
}

// Saver returns the underlying checkpoint saver.
func (m *Manager) Saver() ports.CheckpointSaver {
	return m.saver
}

// Latest loads the latest checkpoint of a thread under its lock.
func (m *Manager) Latest(ctx context.Context, threadID string) (*domain.Checkpoint, error) {
	var cp *domain.Checkpoint
	err := m.WithLock(ctx, threadID, func(ctx context.Context) error {
		var err error
		cp, err = m.saver.Latest(ctx, threadID)
		return err
	})
	return cp, err
}

// History loads the checkpoint history of a thread.
func (m *Manager) History(ctx context.Context, threadID string) ([]*domain.Checkpoint, error) {
	return m.saver.History(ctx, threadID)
}

// Delete removes the thread from the saver.
func (m *Manager) Delete(ctx context.Context, threadID string) error {
	return m.WithLock(ctx, threadID, func(ctx context.Context) error {
		return m.saver.Delete(ctx, threadID)
	})
}

// List delegates to the saver.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	return m.saver.List(ctx)
}

// WithLock executes fn while holding the lock for the thread.
func (m *Manager) WithLock(ctx context.Context, threadID string, fn func(context.Context) error) error {
	entry := m.acquire(threadID)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		m.release(threadID)
	}()

	if m.locker != nil {
		unlock, err := m.locker.Lock(ctx, threadID, m.lockTTL)
		if err != nil {
			return fmt.Errorf("failed to acquire distributed lock: %w", err)
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				m.logger.Warn("Failed to release distributed lock (will expire via TTL)",
					"thread_id", threadID,
					"err", err,
				)
			}
		}()
	}

	return fn(ctx)
}
