package shareddata

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/example/headergate/internal/logging"
)

const redisOpTimeout = 500 * time.Millisecond

// RedisStore is a Redis-backed Store, for deployments where several gateway
// replicas should share one refreshed header payload. The value lives at
// <prefix><key> and its version counter at <prefix><key>:ver.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a new Redis-backed store.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: prefix,
	}
}

func (s *RedisStore) valueKey(key string) string { return s.prefix + key }
func (s *RedisStore) verKey(key string) string   { return s.prefix + key + ":ver" }

func (s *RedisStore) Get(key string) ([]byte, uint64, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	pipe := s.client.Pipeline()
	valCmd := pipe.Get(ctx, s.valueKey(key))
	verCmd := pipe.Get(ctx, s.verKey(key))
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		logging.Warn("redis shared data get failed, treating as absent", zap.Error(err))
		return nil, 0, false
	}

	value, err := valCmd.Bytes()
	if err != nil {
		return nil, 0, false
	}
	version, _ := strconv.ParseUint(verCmd.Val(), 10, 64)
	return value, version, true
}

func (s *RedisStore) Set(key string, value []byte, expectedVersion *uint64) error {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	if expectedVersion == nil {
		pipe := s.client.TxPipeline()
		pipe.Set(ctx, s.valueKey(key), value, 0)
		pipe.Incr(ctx, s.verKey(key))
		_, err := pipe.Exec(ctx)
		return err
	}

	// Conditional write: watch the version key so a concurrent writer
	// aborts the transaction.
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, s.verKey(key)).Uint64()
		if err != nil && err != redis.Nil {
			return err
		}
		if current != *expectedVersion {
			return ErrVersionConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, s.valueKey(key), value, 0)
			pipe.Incr(ctx, s.verKey(key))
			return nil
		})
		return err
	}, s.verKey(key))

	if err == redis.TxFailedErr {
		return ErrVersionConflict
	}
	return err
}

func (s *RedisStore) Delete(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	if err := s.client.Del(ctx, s.valueKey(key), s.verKey(key)).Err(); err != nil {
		logging.Warn("redis shared data delete failed", zap.Error(err))
	}
}
