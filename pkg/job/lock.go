package job

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrNotLeader is returned when another node holds the run lock.
var ErrNotLeader = errors.New("job is running on another node")

// Locker guards a job against concurrent runs across nodes.
type Locker interface {
	// TryLock acquires the named lock without waiting. It returns ErrNotLeader
	// when the lock is held elsewhere. The returned release func must be called
	// once the run finishes. onLost, if non-nil, is called when the lock is
	// lost before release, so the holder can stop its run.
	TryLock(ctx context.Context, name string, onLost func()) (release func(context.Context) error, err error)
}

// Release and extend only touch the key while it still carries our token.
var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// RedisLock is a Locker backed by SET NX PX. While held, the lease is
// extended every TTL/3 so long runs keep the lock.
type RedisLock struct {
	redis  *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// NewRedisLock creates a Redis lock with the given lease TTL.
func NewRedisLock(redisClient *redis.Client, ttl time.Duration, logger zerolog.Logger) *RedisLock {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisLock{redis: redisClient, ttl: ttl, logger: logger}
}

// LockKey returns the Redis key guarding the named job.
func LockKey(name string) string {
	return fmt.Sprintf("savings:job:%s:lock", name)
}

// TryLock implements Locker.
func (l *RedisLock) TryLock(ctx context.Context, name string, onLost func()) (func(context.Context) error, error) {
	key := LockKey(name)
	token := uuid.NewString()

	ok, err := l.redis.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	if !ok {
		return nil, ErrNotLeader
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.keepAlive(key, token, onLost, stop, done)

	release := func(ctx context.Context) error {
		close(stop)
		<-done
		if err := releaseScript.Run(ctx, l.redis, []string{key}, token).Err(); err != nil {
			return fmt.Errorf("release run lock: %w", err)
		}
		return nil
	}
	return release, nil
}

func (l *RedisLock) keepAlive(key, token string, onLost func(), stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.ttl/3)
			n, err := extendScript.Run(ctx, l.redis, []string{key}, token, l.ttl.Milliseconds()).Int()
			cancel()
			if err != nil {
				l.logger.Warn().Err(err).Str("key", key).Msg("Failed to extend run lock")
				continue
			}
			if n == 0 {
				l.logger.Error().Str("key", key).Msg("Run lock lost")
				if onLost != nil {
					onLost()
				}
				return
			}
		}
	}
}
