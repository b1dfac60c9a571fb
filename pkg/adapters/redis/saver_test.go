package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/arbor/pkg/adapters/redis"
	"github.com/aretw0/arbor/pkg/domain"
	"github.com/aretw0/arbor/pkg/ports"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T) (*miniredis.Miniredis, *backend.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	return mr, backend.NewClient(&backend.Options{Addr: mr.Addr()})
}

func TestRedisSaver_Contract(t *testing.T) {
	_, client := newClient(t)
	ports.RunCheckpointSaverContract(t, redis.NewFromClient(client))
}

func TestRedisSaver_TTL_Expiration(t *testing.T) {
	mr, client := newClient(t)
	saver := redis.NewFromClient(client, redis.WithTTL(1*time.Second))
	ctx := context.Background()

	err := saver.Put(ctx, &domain.Checkpoint{ID: "1", ThreadID: "ttl", Next: "analyze", State: domain.State{}})
	require.NoError(t, err)

	threads, err := saver.List(ctx)
	require.NoError(t, err)
	assert.Contains(t, threads, "ttl")

	mr.FastForward(2 * time.Second)
	_, err = saver.Latest(ctx, "ttl")
	assert.ErrorIs(t, err, domain.ErrThreadNotFound)

	// The index score is based on wall clock time.
	time.Sleep(1200 * time.Millisecond)
	threads, err = saver.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, threads)
}

func TestRedisSaver_Prefix(t *testing.T) {
	mr, client := newClient(t)
	saver := redis.NewFromClient(client, redis.WithPrefix("custom:app:"))
	ctx := context.Background()

	err := saver.Put(ctx, &domain.Checkpoint{ID: "1", ThreadID: "my-thread", State: domain.State{}})
	require.NoError(t, err)

	assert.True(t, mr.Exists("custom:app:my-thread"), "Expected key with custom prefix to exist")
	assert.True(t, mr.Exists("custom:app:index"), "Expected index with custom prefix to exist")
}
