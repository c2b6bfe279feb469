// Package lock provides the per-tenant run lock shared by every process of
// a deployment, backed by Redis.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/irsalhamdi/course-reconcile/reconcile"
	"github.com/irsalhamdi/course-reconcile/tenant"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

type Config struct {
	Address  string        `conf:"default:localhost:6379"`
	Password string        `conf:"mask"`
	DB       int           `conf:"default:0"`
	TTL      time.Duration `conf:"default:30s"`
	Wait     bool          `conf:"default:false"`
	Retry    time.Duration `conf:"default:500ms"`
	Prefix   string        `conf:"default:reconcile"`
}

// Open connects to Redis and checks the connection.
func Open(ctx context.Context, cfg Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("pinging redis at %s: %w", cfg.Address, err)
	}
	return rdb, nil
}

// Locker holds one Redis key per tenant while a run is active. The key is
// refreshed at half its TTL so that long runs keep it, and expires on its
// own if the process dies.
type Locker struct {
	client *redislock.Client
	cfg    Config
	log    logrus.FieldLogger
}

func New(rdb *redis.Client, cfg Config, log logrus.FieldLogger) *Locker {
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	if cfg.Retry <= 0 {
		cfg.Retry = 500 * time.Millisecond
	}
	return &Locker{
		client: redislock.New(rdb),
		cfg:    cfg,
		log:    log,
	}
}

func (l *Locker) key(t tenant.ID) string {
	return fmt.Sprintf("%s:lock:%s", l.cfg.Prefix, t)
}

func (l *Locker) Acquire(ctx context.Context, t tenant.ID) (context.Context, func(), error) {
	opt := &redislock.Options{RetryStrategy: redislock.NoRetry()}
	if l.cfg.Wait {
		opt.RetryStrategy = redislock.LinearBackoff(l.cfg.Retry)
	}

	key := l.key(t)
	lk, err := l.client.Obtain(ctx, key, l.cfg.TTL, opt)
	switch {
	case errors.Is(err, redislock.ErrNotObtained):
		if cerr := ctx.Err(); cerr != nil {
			return nil, nil, fmt.Errorf("tenant %s: waiting for lock: %w", t, cerr)
		}
		return nil, nil, fmt.Errorf("tenant %s: %w", t, reconcile.ErrAlreadyRunning)
	case err != nil:
		return nil, nil, fmt.Errorf("obtaining lock %s: %w", key, err)
	}

	log := l.log.WithField("lock", key)
	held, lost := context.WithCancelCause(ctx)
	rctx, stop := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		l.refresh(rctx, lk, lost, log)
	}()

	var once sync.Once
	release := func() {
		once.Do(func() {
			stop()
			wg.Wait()
			lost(nil)

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := lk.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				log.WithError(err).Warn("releasing lock")
			}
		})
	}

	return held, release, nil
}

// refresh extends the lock at half its TTL until ctx ends. A failed refresh
// means the key may already belong to another process, so the holder is
// cancelled with ErrLockLost.
func (l *Locker) refresh(ctx context.Context, lk *redislock.Lock, lost context.CancelCauseFunc, log logrus.FieldLogger) {
	ticker := time.NewTicker(l.cfg.TTL / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := lk.Refresh(ctx, l.cfg.TTL, nil); err != nil {
				if ctx.Err() != nil {
					return
				}
				log.WithError(err).Error("lock lost, stopping run")
				lost(fmt.Errorf("%w: %v", reconcile.ErrLockLost, err))
				return
			}
		}
	}
}
