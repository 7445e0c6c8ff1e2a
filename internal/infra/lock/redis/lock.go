// Package redis provides a domain.BuildLock backed by Redis, for deployments
// where several processes build populations against stores that cannot block
// per key themselves.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"startpop/pkg/domain"
)

const (
	defaultPrefix = "startpop:build:"
	defaultTTL    = 10 * time.Minute
	defaultRetry  = 100 * time.Millisecond
)

// Deletes or extends the key only while it still holds our token.
var (
	releaseScript = redis.NewScript(`if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("DEL", KEYS[1]) end return 0`)
	refreshScript = redis.NewScript(`if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("PEXPIRE", KEYS[1], ARGV[2]) end return 0`)
)

var _ domain.BuildLock = (*Locker)(nil)

// Locker takes SET NX PX locks keyed by (country, start year).
type Locker struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	retry  time.Duration
	logger *zap.Logger
}

// Option configures a Locker.
type Option func(*Locker)

// WithTTL sets how long a lock survives without being refreshed.
func WithTTL(ttl time.Duration) Option {
	return func(l *Locker) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// WithRetry sets the polling interval while waiting for a held lock.
func WithRetry(d time.Duration) Option {
	return func(l *Locker) {
		if d > 0 {
			l.retry = d
		}
	}
}

// WithPrefix sets the key prefix.
func WithPrefix(p string) Option {
	return func(l *Locker) { l.prefix = p }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Locker) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// New returns a Locker using client.
func New(client redis.UniversalClient, opts ...Option) *Locker {
	l := &Locker{client: client, prefix: defaultPrefix, ttl: defaultTTL, retry: defaultRetry, logger: zap.NewNop()}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// Connect parses url and pings the server.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// Key returns the redis key guarding the tables of key.
func (l *Locker) Key(key domain.PopulationKey) string {
	return fmt.Sprintf("%s%s:%d", l.prefix, key.Country.Slug(), key.StartYear)
}

// Acquire blocks until the lock is taken or ctx is done. While held, the
// lock is refreshed every third of its TTL. The returned release is safe to
// call more than once.
func (l *Locker) Acquire(ctx context.Context, key domain.PopulationKey) (func(context.Context) error, error) {
	k := l.Key(key)
	token := uuid.NewString()
	for {
		ok, err := l.client.SetNX(ctx, k, token, l.ttl).Result()
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("lock %s: %w", k, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("lock %s: %w: %w", k, domain.ErrLockHeld, ctx.Err())
		case <-time.After(l.retry):
		}
	}
	l.logger.Debug("build lock acquired", zap.String("lock", k))

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		l.refresh(k, token, stop)
	}()

	var once sync.Once
	var releaseErr error
	release := func(ctx context.Context) error {
		once.Do(func() {
			close(stop)
			wg.Wait()
			if err := releaseScript.Run(ctx, l.client, []string{k}, token).Err(); err != nil {
				releaseErr = fmt.Errorf("unlock %s: %w", k, err)
				return
			}
			l.logger.Debug("build lock released", zap.String("lock", k))
		})
		return releaseErr
	}
	return release, nil
}

func (l *Locker) refresh(k, token string, stop <-chan struct{}) {
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			err := refreshScript.Run(context.Background(), l.client, []string{k}, token, l.ttl.Milliseconds()).Err()
			if err != nil {
				l.logger.Warn("build lock refresh failed", zap.String("lock", k), zap.Error(err))
			}
		}
	}
}
