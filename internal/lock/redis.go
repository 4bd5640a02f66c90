// Package lock provides a Redis-backed mutual exclusion for poll cycles
// shared by several replicas of the bot.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrHeld is returned when another holder owns the lock.
var ErrHeld = errors.New("lock held by another holder")

// unlockScript deletes the key only when it still holds the caller's token.
const unlockScript = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// RedisLocker acquires SETNX locks with a TTL.
type RedisLocker struct {
	rdb    *redis.Client
	unlock *redis.Script
	prefix string
	logger *zap.Logger
}

// Config holds Redis lock configuration.
type Config struct {
	Addr     string
	Password string
	// Prefix namespaces keys, typically by chain id.
	Prefix string
	Logger *zap.Logger
}

// NewRedisLocker connects to Redis and verifies the connection.
func NewRedisLocker(ctx context.Context, cfg *Config) (*RedisLocker, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}

	if cfg.Addr == "" {
		return nil, errors.New("redis address cannot be empty")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DialTimeout: 2 * time.Second,
	})

	err := rdb.Ping(ctx).Err()
	if err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}

	cfg.Logger.Info("redis-lock-connected", zap.String("addr", cfg.Addr))

	return &RedisLocker{
		rdb:    rdb,
		unlock: redis.NewScript(unlockScript),
		prefix: cfg.Prefix,
		logger: cfg.Logger,
	}, nil
}

func (l *RedisLocker) key(name string) string {
	if l.prefix == "" {
		return "lock:" + name
	}
	return "lock:" + l.prefix + ":" + name
}

// Acquire takes the lock for ttl. The returned release func is safe to call
// more than once and works after ctx is cancelled.
func (l *RedisLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (func(), error) {
	token := uuid.New().String()
	key := l.key(name)

	ok, err := l.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, ErrHeld
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			err := l.unlock.Run(releaseCtx, l.rdb, []string{key}, token).Err()
			if err != nil {
				l.logger.Warn("lock-release-failed",
					zap.String("key", key),
					zap.Error(err))
			}
		})
	}

	return release, nil
}

// Close closes the Redis connection.
func (l *RedisLocker) Close() error {
	return l.rdb.Close()
}
