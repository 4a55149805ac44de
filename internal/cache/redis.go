package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore はRedisを使った共有ストア。
// 複数のAPIプロセス間でキャッシュと無効化を共有する場合に使う。
// グループはSETで管理し、所属キーとグループを同時に削除する。
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore はRedisStoreを生成する。
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// NewRedisClient はredis://形式のURLからクライアントを生成する。
func NewRedisClient(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

func (r *RedisStore) dataKey(key string) string {
	return r.prefix + "k:" + key
}

func (r *RedisStore) groupKey(group string) string {
	return r.prefix + "g:" + group
}

// Get はキーの値を返す。
func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := r.client.Get(ctx, r.dataKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	return b, true, nil
}

// Set は値を保存し、グループのSETに登録する。
func (r *RedisStore) Set(ctx context.Context, group, key string, value []byte, ttl time.Duration) error {
	gk := r.groupKey(group)
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.dataKey(key), value, ttl)
	pipe.SAdd(ctx, gk, r.dataKey(key))
	pipe.Expire(ctx, gk, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// DeleteGroups はグループに属する全キーとグループ自体を削除する。
func (r *RedisStore) DeleteGroups(ctx context.Context, groups ...string) error {
	for _, g := range groups {
		gk := r.groupKey(g)
		members, err := r.client.SMembers(ctx, gk).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("redis smembers: %w", err)
		}
		keys := append(members, gk)
		if err := r.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("redis del: %w", err)
		}
	}
	return nil
}

// Flush はプレフィックス配下の全キーを削除する。
func (r *RedisStore) Flush(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 500).Iterator()
	batch := make([]string, 0, 500)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := r.client.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("redis del: %w", err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan: %w", err)
	}
	if len(batch) > 0 {
		if err := r.client.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("redis del: %w", err)
		}
	}
	return nil
}

var _ Store = (*RedisStore)(nil)
