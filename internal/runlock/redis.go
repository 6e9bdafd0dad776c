package runlock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	DefaultTTL       = 30 * time.Second
	DefaultKeyPrefix = "job-pilot:run:"
)

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// refreshScript extends the expiry only if the key still holds our token.
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// NewRedisClient parses redisURL and verifies connectivity.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis.ParseURL: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// Redis is a Locker backed by SET NX PX. A held lock is refreshed every
// TTL/3 until released, so a crashed holder frees it within one TTL.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
	log    logrus.FieldLogger
}

// NewRedis wraps client. A non-positive ttl means DefaultTTL.
func NewRedis(client *redis.Client, ttl time.Duration, log logrus.FieldLogger) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Redis{client: client, ttl: ttl, prefix: DefaultKeyPrefix, log: log}
}

func (r *Redis) Acquire(ctx context.Context, name string) (Lock, error) {
	key := r.prefix + name
	token := uuid.NewString()

	ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire run lock %s: %w", name, err)
	}
	if !ok {
		return nil, ErrLocked
	}

	lockCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	l := &redisLock{owner: r, key: key, token: token, cancel: cancel, done: make(chan struct{})}
	go l.keepAlive(lockCtx)
	return l, nil
}

type redisLock struct {
	owner  *Redis
	key    string
	token  string
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (l *redisLock) keepAlive(ctx context.Context) {
	defer close(l.done)
	t := time.NewTicker(l.owner.ttl / 3)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := refreshScript.Run(ctx, l.owner.client, []string{l.key}, l.token, l.owner.ttl.Milliseconds()).Int()
			if err != nil {
				l.owner.log.WithField("key", l.key).WithError(err).Warn("run lock refresh failed")
				continue
			}
			if n == 0 {
				l.owner.log.WithField("key", l.key).Warn("run lock lost")
				return
			}
		}
	}
}

func (l *redisLock) Release(ctx context.Context) error {
	var err error
	l.once.Do(func() {
		l.cancel()
		<-l.done
		err = releaseScript.Run(ctx, l.owner.client, []string{l.key}, l.token).Err()
	})
	if err != nil {
		return fmt.Errorf("release run lock: %w", err)
	}
	return nil
}
