package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"
)

// releaseScript deletes the key only when it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisLockerConfig struct {
	// TTL bounds how long a crashed holder can block others.
	TTL           time.Duration
	RetryInterval time.Duration
	MaxAttempts   uint64
	Prefix        string
}

func DefaultRedisLockerConfig() RedisLockerConfig {
	return RedisLockerConfig{
		TTL:           30 * time.Second,
		RetryInterval: 50 * time.Millisecond,
		MaxAttempts:   100,
		Prefix:        "orderflow:lock:",
	}
}

// RedisLocker is a single-instance Redis lock (SET NX PX with token-checked release).
type RedisLocker struct {
	client redis.UniversalClient
	config RedisLockerConfig
	logger *slog.Logger
}

func NewRedisLocker(client redis.UniversalClient, config RedisLockerConfig, logger *slog.Logger) *RedisLocker {
	return &RedisLocker{
		client: client,
		config: config,
		logger: logger.With("module", "redis_locker"),
	}
}

// NewRedisLockerFromURL connects to redis://... and verifies the connection.
func NewRedisLockerFromURL(ctx context.Context, url string, logger *slog.Logger) (*RedisLocker, error) {
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(options)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = client.Ping(pingCtx).Err()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.InfoContext(ctx, "Connected to Redis", "addr", options.Addr, "db", options.DB)

	return NewRedisLocker(client, DefaultRedisLockerConfig(), logger), nil
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (Unlock, error) {
	redisKey := l.config.Prefix + key
	token := uuid.New().String()

	backoff := retry.WithMaxRetries(l.config.MaxAttempts, retry.NewConstant(l.config.RetryInterval))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		acquired, err := l.client.SetNX(ctx, redisKey, token, l.config.TTL).Result()
		if err != nil {
			return fmt.Errorf("failed to acquire lock: %w", err)
		}

		if !acquired {
			return retry.RetryableError(ErrLockNotAcquired)
		}

		return nil
	})
	if err != nil {
		if errors.Is(err, ErrLockNotAcquired) {
			return nil, fmt.Errorf("%w: %s", ErrLockNotAcquired, key)
		}

		return nil, err
	}

	return func() {
		// The caller's context may already be done when releasing.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()

		err := releaseScript.Run(releaseCtx, l.client, []string{redisKey}, token).Err()
		if err != nil && !errors.Is(err, redis.Nil) {
			l.logger.ErrorContext(ctx, "failed to release lock", "key", key, "error", err)
		}
	}, nil
}

func (l *RedisLocker) Close() error {
	return l.client.Close()
}
