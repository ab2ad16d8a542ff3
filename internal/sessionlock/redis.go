package sessionlock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"dispute-agent/internal/logging"
)

const (
	keyPrefix      = "dispute-agent:session-lock:"
	pollInterval   = 25 * time.Millisecond
	releaseTimeout = time.Second
)

// releaseScript deletes the lock only while it still holds our token, so an
// expired holder cannot release a successor's lock.
const releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// redisAPI is the subset of *redis.Client used by Redis.
type redisAPI interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// Redis is a distributed lock using SET NX PX with a per-holder token. The
// TTL bounds how long a crashed holder can block a session.
type Redis struct {
	client redisAPI
	ttl    time.Duration
	logger *slog.Logger
}

// Connect initializes a Redis client from URL or host:port input.
func Connect(redisURL string) (*redis.Client, error) {
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("sessionlock: parse redis url: %w", err)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: redisURL}), nil
}

// NewRedis creates a Redis locker.
func NewRedis(client redisAPI, ttl time.Duration) (*Redis, error) {
	if client == nil {
		return nil, errors.New("sessionlock: redis client must not be nil")
	}
	if ttl <= 0 {
		return nil, errors.New("sessionlock: ttl must be positive")
	}
	return &Redis{client: client, ttl: ttl, logger: logging.New("sessionlock")}, nil
}

// Acquire polls SET NX until it wins or ctx is done.
func (r *Redis) Acquire(ctx context.Context, key string) (func(), error) {
	redisKey := keyPrefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		ok, err := r.client.SetNX(ctx, redisKey, token, r.ttl).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("%w: %w", ErrBusy, ctxErr)
			}
			return nil, fmt.Errorf("sessionlock: set lock: %w", err)
		}
		if ok {
			return r.releaser(redisKey, token), nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", ErrBusy, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (r *Redis) releaser(redisKey, token string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
			defer cancel()
			if err := r.client.Eval(ctx, releaseScript, []string{redisKey}, token).Err(); err != nil {
				r.logger.Warn("session lock release failed", "key", redisKey, "error", err)
			}
		})
	}
}
