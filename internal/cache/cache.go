package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pribylovaa/signal-auth/internal/tokens"
)

// LoginLimiter считает неудачные попытки входа в Redis.
// После maxAttempts неудач ключ блокируется на lockout с момента первой неудачи.
type LoginLimiter struct {
	rdb         *redis.Client
	prefix      string
	maxAttempts int64
	lockout     time.Duration
}

// NewLoginLimiter создаёт клиент Redis из URL (например, redis://:pass@host:6379/0).
// Если prefix пустой — используется "auth:login:".
func NewLoginLimiter(redisURL, prefix string, maxAttempts int, lockout time.Duration) (*LoginLimiter, error) {
	const op = "cache.NewLoginLimiter"

	if prefix == "" {
		prefix = "auth:login:"
	}
	if maxAttempts <= 0 || lockout <= 0 {
		return nil, fmt.Errorf("%s: max attempts and lockout must be positive", op)
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	rdb := redis.NewClient(opt)

	// Fail-fast на старте.
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &LoginLimiter{
		rdb:         rdb,
		prefix:      prefix,
		maxAttempts: int64(maxAttempts),
		lockout:     lockout,
	}, nil
}

// key не хранит логин в открытом виде.
func (l *LoginLimiter) key(login string) string {
	return l.prefix + tokens.Hash(strings.ToLower(login))
}

// Blocked сообщает, исчерпан ли лимит попыток.
func (l *LoginLimiter) Blocked(ctx context.Context, login string) (bool, error) {
	n, err := l.rdb.Get(ctx, l.key(login)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}

		return false, err
	}

	return n >= l.maxAttempts, nil
}

// Fail увеличивает счётчик; TTL ставится только при первой неудаче.
func (l *LoginLimiter) Fail(ctx context.Context, login string) error {
	key := l.key(login)

	pipe := l.rdb.TxPipeline()
	pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, l.lockout)

	_, err := pipe.Exec(ctx)
	return err
}

// Reset удаляет счётчик.
func (l *LoginLimiter) Reset(ctx context.Context, login string) error {
	return l.rdb.Del(ctx, l.key(login)).Err()
}

// Ping проверяет доступность Redis (для /healthz).
func (l *LoginLimiter) Ping(ctx context.Context) error {
	return l.rdb.Ping(ctx).Err()
}

// Close закрывает клиент Redis.
func (l *LoginLimiter) Close() error { return l.rdb.Close() }
