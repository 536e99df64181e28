package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sigtrack/internal/logger"
	"sigtrack/internal/store"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// releaseScript 只删除自己持有的锁，避免锁过期后误删他人的锁。
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`

// RedisLocker 用 SET NX PX 实现跨进程的按信号互斥。
type RedisLocker struct {
	client  redis.UniversalClient
	prefix  string
	ttl     time.Duration
	tokenFn func() string
}

func NewRedisLocker(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisLocker{
		client:  client,
		prefix:  prefix,
		ttl:     ttl,
		tokenFn: uuid.NewString,
	}
}

func (l *RedisLocker) key(id string) string { return l.prefix + id }

func (l *RedisLocker) TryLock(ctx context.Context, id string) (func(), error) {
	key := l.key(id)
	token := l.tokenFn()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, store.Unavailable("redis lock", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s locked", store.ErrConcurrentEvaluation, id)
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			// 释放不跟随调用方 ctx：评估被取消时锁也要还回去
			rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := l.client.Eval(rctx, releaseScript, []string{key}, token).Err(); err != nil {
				logger.Warnf("release lock %s failed: %v", key, err)
			}
		})
	}, nil
}

// NewRedisClient 按配置创建 redis 客户端并做一次 PING。
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, nil
}
