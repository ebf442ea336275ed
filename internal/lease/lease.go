// Package lease makes sure at most one trading cycle runs at a time.
package lease

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"TierTrader/internal/config"
	"TierTrader/internal/logger"
)

// ErrHeld means another holder owns the lease. The caller should skip its
// run rather than wait.
var ErrHeld = errors.New("cycle lease held by another run")

// Release gives the lease back. It is safe to call more than once.
type Release func(ctx context.Context) error

type Lease interface {
	Acquire(ctx context.Context) (Release, error)
}

// New builds the configured backend. rdb is only used by the redis backend.
func New(cfg config.Lease, rdb redis.UniversalClient) (Lease, error) {
	switch cfg.Backend {
	case "redis":
		if rdb == nil {
			return nil, errors.New("redis lease requires a redis client")
		}
		return NewRedisLease(rdb, cfg.Key, cfg.TTL), nil
	case "", "local":
		return NewLocalLease(), nil
	default:
		return nil, fmt.Errorf("unknown lease backend %q", cfg.Backend)
	}
}

// RedisLease is a SET NX PX lock with a random token. The TTL bounds how
// long a crashed holder can block other runs.
type RedisLease struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration
	log    *logrus.Entry
}

func NewRedisLease(client redis.UniversalClient, key string, ttl time.Duration) *RedisLease {
	return &RedisLease{client: client, key: key, ttl: ttl, log: logger.WithComponent("lease")}
}

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (l *RedisLease) Acquire(ctx context.Context) (Release, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lease %s: %w", l.key, err)
	}
	if !ok {
		return nil, ErrHeld
	}
	l.log.WithField("token", token).Debug("lease acquired")

	var once sync.Once
	return func(ctx context.Context) error {
		var rerr error
		once.Do(func() {
			n, err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Int()
			if err != nil {
				rerr = fmt.Errorf("release lease %s: %w", l.key, err)
				return
			}
			if n == 0 {
				l.log.WithField("token", token).Warn("lease expired before release")
			}
		})
		return rerr
	}, nil
}

// LocalLease serialises runs inside one process.
type LocalLease struct {
	mu   sync.Mutex
	held bool
}

func NewLocalLease() *LocalLease {
	return &LocalLease{}
}

func (l *LocalLease) Acquire(context.Context) (Release, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return nil, ErrHeld
	}
	l.held = true

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			l.mu.Lock()
			l.held = false
			l.mu.Unlock()
		})
		return nil
	}, nil
}
