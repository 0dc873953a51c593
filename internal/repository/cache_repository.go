package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	appErrors "github.com/lenteraid/transparency-api/pkg/errors"
)

// invalidateBatchSize bounds how many keys a single DEL carries when a
// namespace is invalidated, so a large public cache does not block Redis on
// one command.
const invalidateBatchSize = 128

// CacheRepository stores public transparency payloads in Redis as JSON
// blobs. A nil client degrades every read to a miss and every write to a
// no-op, so the API runs without Redis configured.
type CacheRepository struct {
	client *redis.Client
	logger *zap.Logger
}

// NewCacheRepository constructs a cache repository.
func NewCacheRepository(client *redis.Client, logger *zap.Logger) *CacheRepository {
	return &CacheRepository{client: client, logger: logger}
}

// Get retrieves and decodes the cached payload into the provided destination.
func (r *CacheRepository) Get(ctx context.Context, key string, dest interface{}) error {
	if r.client == nil {
		return appErrors.ErrCacheMiss
	}

	raw, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return appErrors.ErrCacheMiss
		}
		return fmt.Errorf("redis get %s: %w", key, err)
	}

	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("decode cached payload %s: %w", key, err)
	}
	return nil
}

// Set encodes the payload and stores it under the key with the given TTL.
func (r *CacheRepository) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if r.client == nil {
		return nil
	}

	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cache payload %s: %w", key, err)
	}
	if err := r.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// DeleteByPattern removes every key matching the pattern, deleting in
// batches as the scan progresses.
func (r *CacheRepository) DeleteByPattern(ctx context.Context, pattern string) error {
	if r.client == nil {
		return nil
	}

	dropped := 0
	batch := make([]string, 0, invalidateBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := r.client.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("redis delete %d keys for %s: %w", len(batch), pattern, err)
		}
		dropped += len(batch)
		batch = batch[:0]
		return nil
	}

	iter := r.client.Scan(ctx, 0, pattern, invalidateBatchSize).Iterator()
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == invalidateBatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan %s: %w", pattern, err)
	}
	if err := flush(); err != nil {
		return err
	}

	if dropped > 0 && r.logger != nil {
		r.logger.Debug("cache invalidated", zap.String("pattern", pattern), zap.Int("keys", dropped))
	}
	return nil
}

// Close releases the underlying Redis connection if present.
func (r *CacheRepository) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}
