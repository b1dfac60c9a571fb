package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aretw0/arbor/pkg/domain"
	backend "github.com/redis/go-redis/v9"
)

// farFuture is the index score of threads that never expire (2100-01-01).
const farFuture = 4102444800

// Saver implements ports.CheckpointSaver using Redis.
// Each thread is a list of JSON checkpoints; a sorted set indexes thread IDs by expiry.
type Saver struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

type Option func(*Saver)

// WithTTL sets the expiration for threads. Every Put refreshes it.
func WithTTL(ttl time.Duration) Option {
	return func(s *Saver) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Saver) {
		s.prefix = prefix
	}
}

// New creates a new Redis saver with options.
func New(address, password string, db int, opts ...Option) *Saver {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a new Redis saver from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Saver {
	s := &Saver{
		client: client,
		prefix: "arbor:thread:",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Saver) key(threadID string) string {
	return s.prefix + threadID
}

func (s *Saver) indexKey() string {
	return s.prefix + "index"
}

// Put appends the checkpoint to the thread list.
func (s *Saver) Put(ctx context.Context, cp *domain.Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, s.key(cp.ThreadID), data)

	score := float64(farFuture)
	if s.ttl > 0 {
		pipe.Expire(ctx, s.key(cp.ThreadID), s.ttl)
		score = float64(time.Now().Add(s.ttl).Unix())
	}
	pipe.ZAdd(ctx, s.indexKey(), backend.Z{Score: score, Member: cp.ThreadID})

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save to redis: %w", err)
	}
	return nil
}

// Latest returns the tail of the thread list.
func (s *Saver) Latest(ctx context.Context, threadID string) (*domain.Checkpoint, error) {
	val, err := s.client.LIndex(ctx, s.key(threadID), -1).Result()
	if err != nil {
		if err == backend.Nil {
			return nil, domain.ErrThreadNotFound
		}
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}
	return decode(val)
}

// History returns the full thread list.
func (s *Saver) History(ctx context.Context, threadID string) ([]*domain.Checkpoint, error) {
	vals, err := s.client.LRange(ctx, s.key(threadID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}
	if len(vals) == 0 {
		return nil, domain.ErrThreadNotFound
	}

	out := make([]*domain.Checkpoint, 0, len(vals))
	for _, v := range vals {
		cp, err := decode(v)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

// Delete removes the thread.
func (s *Saver) Delete(ctx context.Context, threadID string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.key(threadID))
	pipe.ZRem(ctx, s.indexKey(), threadID)

	_, err := pipe.Exec(ctx)
	return err
}

// List returns live threads. Expired entries are pruned from the index lazily.
func (s *Saver) List(ctx context.Context) ([]string, error) {
	now := float64(time.Now().Unix())
	err := s.client.ZRemRangeByScore(ctx, s.indexKey(), "-inf", fmt.Sprintf("%f", now)).Err()
	if err != nil {
		return nil, fmt.Errorf("failed to prune expired threads: %w", err)
	}

	threads, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list threads: %w", err)
	}
	return threads, nil
}

// Close closes the redis client.
func (s *Saver) Close() error {
	return s.client.Close()
}

func decode(val string) (*domain.Checkpoint, error) {
	var cp domain.Checkpoint
	if err := json.Unmarshal([]byte(val), &cp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return &cp, nil
}
