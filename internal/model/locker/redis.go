package locker

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"max.ks1230/grants-portal/internal/logger"
	"max.ks1230/grants-portal/internal/model/customerr"
)

const (
	lockPrefix   = "grants:lock:"
	defaultTTL   = 10 * time.Second
	defaultRetry = 50 * time.Millisecond
)

var unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

type redisConfig interface {
	Addr() string
	Password() string
	DB() int
}

// RedisLocker serializes holders of the same key across portal instances.
// A lock expires after ttl so a crashed holder cannot block a user forever.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
	retry  time.Duration
}

func NewRedisLocker(config redisConfig, wait time.Duration) (*RedisLocker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr(),
		Password: config.Password(),
		DB:       config.DB(),
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, errors.Wrap(err, "cannot connect to redis")
	}
	return newRedisLocker(client, wait), nil
}

func newRedisLocker(client *redis.Client, wait time.Duration) *RedisLocker {
	if wait <= 0 {
		wait = DefaultWait
	}
	return &RedisLocker{client: client, ttl: defaultTTL, wait: wait, retry: defaultRetry}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	redisKey := lockPrefix + key
	token := uuid.NewString()

	ctx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err == nil && ok {
			return l.releaser(redisKey, token), nil
		}
		if err != nil && ctx.Err() == nil {
			return nil, customerr.Wrap(customerr.ConcurrencyConflict, err, "cannot acquire grant lock")
		}

		select {
		case <-ctx.Done():
			return nil, customerr.Wrap(customerr.ConcurrencyConflict, ctx.Err(),
				"another submission for this grant is in progress")
		case <-time.After(l.retry):
		}
	}
}

func (l *RedisLocker) releaser(redisKey, token string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			// only the token that set the key may delete it
			if err := unlockScript.Run(ctx, l.client, []string{redisKey}, token).Err(); err != nil {
				logger.Error("failed to release grant lock", zap.String("key", redisKey), zap.Error(err))
			}
		})
	}
}

func (l *RedisLocker) Close() error {
	return l.client.Close()
}
