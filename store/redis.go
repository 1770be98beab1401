package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rushteam/pricekit/core"
)

// RedisStore 是 Redis 实现的 KeyValueStore。
// 可同时作为 artifact 存储（key 为 artifact 路径）与 registry.KVBackend 的底层存储。
// 所有 key 自动加上 KeyPrefix，便于多个实验/环境共用一个 Redis。
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

// RedisOption RedisStore 配置选项
type RedisOption func(*RedisStore)

// WithKeyPrefix 设置 key 前缀，例如 "pricekit:"
func WithKeyPrefix(prefix string) RedisOption {
	return func(r *RedisStore) {
		r.keyPrefix = prefix
	}
}

// NewRedisStore 连接 Redis 并做一次 Ping 校验。
func NewRedisStore(ctx context.Context, addr string, db int, opts ...RedisOption) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, core.WrapDomainError(core.ModuleStore, core.ErrorCodeUnavailable,
			fmt.Sprintf("redis %s unreachable", addr), err)
	}
	return NewRedisStoreWithClient(client, opts...), nil
}

// NewRedisStoreWithClient 使用已有客户端（单机/集群/哨兵均可）创建 RedisStore
func NewRedisStoreWithClient(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	r := &RedisStore{client: client}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RedisStore) Name() string { return "redis" }

func (r *RedisStore) key(k string) string { return r.keyPrefix + k }

func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, core.ErrStoreNotFound
	}
	return val, wrapRedisErr(err)
}

func (r *RedisStore) Set(ctx context.Context, key string, value []byte, ttl ...int) error {
	return wrapRedisErr(r.client.Set(ctx, r.key(key), value, expiration(ttl)).Err())
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	return wrapRedisErr(r.client.Del(ctx, r.key(key)).Err())
}

func (r *RedisStore) BatchGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	if len(keys) == 0 {
		return make(map[string][]byte), nil
	}

	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = r.key(k)
	}
	vals, err := r.client.MGet(ctx, prefixed...).Result()
	if err != nil {
		return nil, wrapRedisErr(err)
	}

	result := make(map[string][]byte, len(keys))
	for i, k := range keys {
		if s, ok := vals[i].(string); ok {
			result[k] = []byte(s)
		}
	}
	return result, nil
}

func (r *RedisStore) BatchSet(ctx context.Context, kvs map[string][]byte, ttl ...int) error {
	pipe := r.client.Pipeline()
	exp := expiration(ttl)
	for k, v := range kvs {
		pipe.Set(ctx, r.key(k), v, exp)
	}
	_, err := pipe.Exec(ctx)
	return wrapRedisErr(err)
}

func (r *RedisStore) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return wrapRedisErr(r.client.ZAdd(ctx, r.key(key), redis.Z{Score: score, Member: member}).Err())
}

func (r *RedisStore) ZRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	members, err := r.client.ZRevRange(ctx, r.key(key), start, stop).Result()
	return members, wrapRedisErr(err)
}

func (r *RedisStore) ZScore(ctx context.Context, key string, member string) (float64, error) {
	score, err := r.client.ZScore(ctx, r.key(key), member).Result()
	if errors.Is(err, redis.Nil) {
		return 0, core.ErrStoreNotFound
	}
	return score, wrapRedisErr(err)
}

func (r *RedisStore) HGet(ctx context.Context, key, field string) ([]byte, error) {
	val, err := r.client.HGet(ctx, r.key(key), field).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, core.ErrStoreNotFound
	}
	return val, wrapRedisErr(err)
}

func (r *RedisStore) HSet(ctx context.Context, key, field string, value []byte) error {
	return wrapRedisErr(r.client.HSet(ctx, r.key(key), field, value).Err())
}

func (r *RedisStore) HGetAll(ctx context.Context, key string) (map[string][]byte, error) {
	vals, err := r.client.HGetAll(ctx, r.key(key)).Result()
	if err != nil {
		return nil, wrapRedisErr(err)
	}
	result := make(map[string][]byte, len(vals))
	for k, v := range vals {
		result[k] = []byte(v)
	}
	return result, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func expiration(ttl []int) time.Duration {
	if len(ttl) > 0 && ttl[0] > 0 {
		return time.Duration(ttl[0]) * time.Second
	}
	return 0
}

// wrapRedisErr 把连接类错误归类为 UNAVAILABLE，调用方可用 core.IsUnavailable 判断
func wrapRedisErr(err error) error {
	if err == nil {
		return nil
	}
	return core.WrapDomainError(core.ModuleStore, core.ErrorCodeUnavailable, "redis", err)
}

// 确保 RedisStore 实现了 core.Store 和 core.KeyValueStore 接口
var _ core.Store = (*RedisStore)(nil)
var _ core.KeyValueStore = (*RedisStore)(nil)
