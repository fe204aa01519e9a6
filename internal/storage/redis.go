package storage

import (
	"context"
	"sort"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
)

// The {otaa} hash-tag keeps all keys in the same cluster slot so that they
// can be updated within a single MULTI / EXEC transaction.
const (
	slotKeyTempl = "lora:{otaa}:slot:%s"
	slotsKey     = "lora:{otaa}:slots"
)

// RedisBackend stores the records in Redis.
type RedisBackend struct {
	client redis.UniversalClient
}

// NewRedisBackend creates a new RedisBackend.
func NewRedisBackend(client redis.UniversalClient) *RedisBackend {
	return &RedisBackend{client: client}
}

// Load implements Backend.
func (b *RedisBackend) Load(ctx context.Context, slot string) ([]byte, error) {
	rec, err := b.client.Get(ctx, GetRedisKey(slotKeyTempl, slot)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrDoesNotExist
		}
		return nil, errors.Wrap(ErrStorageUnavailable, err.Error())
	}
	return rec, nil
}

// Save implements Backend.
func (b *RedisBackend) Save(ctx context.Context, slot string, rec []byte) error {
	pipe := b.client.TxPipeline()
	pipe.Set(ctx, GetRedisKey(slotKeyTempl, slot), rec, 0)
	pipe.SAdd(ctx, slotsKey, slot)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(ErrStorageUnavailable, err.Error())
	}
	return nil
}

// Delete implements Backend.
func (b *RedisBackend) Delete(ctx context.Context, slot string) error {
	pipe := b.client.TxPipeline()
	del := pipe.Del(ctx, GetRedisKey(slotKeyTempl, slot))
	pipe.SRem(ctx, slotsKey, slot)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(ErrStorageUnavailable, err.Error())
	}

	if del.Val() == 0 {
		return ErrDoesNotExist
	}
	return nil
}

// Slots implements Backend.
func (b *RedisBackend) Slots(ctx context.Context) ([]string, error) {
	slots, err := b.client.SMembers(ctx, slotsKey).Result()
	if err != nil {
		return nil, errors.Wrap(ErrStorageUnavailable, err.Error())
	}
	sort.Strings(slots)
	return slots, nil
}

// Ping implements Backend.
func (b *RedisBackend) Ping(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return errors.Wrap(ErrStorageUnavailable, err.Error())
	}
	return nil
}

// Close implements Backend.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}
