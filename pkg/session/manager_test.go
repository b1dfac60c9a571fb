package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/arbor/pkg/adapters/memory"
	"github.com/aretw0/arbor/pkg/domain"
	"github.com/aretw0/arbor/pkg/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_LockLifecycle(t *testing.T) {
	mgr := NewManager(memory.NewSaver())
	ctx := context.Background()

	for i := 0; i < 1000; i++ {
		tid := fmt.Sprintf("thread-%d", i)
		_ = mgr.WithLock(ctx, tid, func(ctx context.Context) error {
			return mgr.saver.Put(ctx, &domain.Checkpoint{ThreadID: tid, State: domain.State{}})
		})
		_ = mgr.Delete(ctx, tid)
	}

	assert.Empty(t, mgr.locks, "locks must be released once unused")
}

func TestManager_WithLockSerializes(t *testing.T) {
	mgr := NewManager(memory.NewSaver())
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		active  int
		maxSeen int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := mgr.WithLock(ctx, "same", func(context.Context) error {
				mu.Lock()
				active++
				if active > maxSeen {
					maxSeen = active
				}
				mu.Unlock()

				time.Sleep(5 * time.Millisecond)

				mu.Lock()
				active--
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
}

type fakeLocker struct {
	mu       sync.Mutex
	locked   []string
	unlocked []string
	err      error
}

func (f *fakeLocker) Lock(ctx context.Context, key string, ttl time.Duration) (ports.UnlockFunc, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	f.locked = append(f.locked, key)
	f.mu.Unlock()
	return func(context.Context) error {
		f.mu.Lock()
		f.unlocked = append(f.unlocked, key)
		f.mu.Unlock()
		return nil
	}, nil
}

func TestManager_DistributedLocker(t *testing.T) {
	locker := &fakeLocker{}
	mgr := NewManager(memory.NewSaver(), WithLocker(locker))

	err := mgr.WithLock(context.Background(), "t1", func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, []string{"t1"}, locker.locked)
	assert.Equal(t, []string{"t1"}, locker.unlocked)

	locker.err = errors.New("redis down")
	called := false
	err = mgr.WithLock(context.Background(), "t1", func(context.Context) error { called = true; return nil })
	assert.Error(t, err)
	assert.False(t, called)
}

func TestManager_Latest(t *testing.T) {
	mgr := NewManager(memory.NewSaver())
	_, err := mgr.Latest(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrThreadNotFound)
}
