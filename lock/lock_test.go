package lock

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/irsalhamdi/course-reconcile/reconcile"
	"github.com/irsalhamdi/course-reconcile/tenant"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

func newRedis(t *testing.T) *redis.Client {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping redis test in short mode")
	}

	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Skipf("docker not available: %v", err)
	}
	if err := pool.Client.Ping(); err != nil {
		t.Skipf("docker not reachable: %v", err)
	}

	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "redis",
		Tag:        "7-alpine",
	}, func(hc *docker.HostConfig) {
		hc.AutoRemove = true
		hc.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		t.Fatalf("starting redis container: %v", err)
	}
	_ = resource.Expire(60)

	t.Cleanup(func() {
		if err := pool.Purge(resource); err != nil {
			t.Logf("purging redis container: %v", err)
		}
	})

	var rdb *redis.Client
	pool.MaxWait = 30 * time.Second
	err = pool.Retry(func() error {
		var err error
		rdb, err = Open(context.Background(), Config{Address: resource.GetHostPort("6379/tcp")})
		return err
	})
	if err != nil {
		t.Fatalf("connecting to redis: %v", err)
	}
	t.Cleanup(func() { rdb.Close() })

	return rdb
}

func quietLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestLocker(t *testing.T) {
	rdb := newRedis(t)
	ctx := context.Background()

	l := New(rdb, Config{TTL: 300 * time.Millisecond, Prefix: "test"}, quietLogger())

	held, release, err := l.Acquire(ctx, tenant.Academy)
	if err != nil {
		t.Fatalf("acquiring lock: %v", err)
	}

	// Outlive the TTL to make sure the lock is refreshed.
	time.Sleep(500 * time.Millisecond)
	if err := held.Err(); err != nil {
		t.Fatalf("expected the lock to be held, got %v", err)
	}

	other := New(rdb, Config{TTL: time.Second, Prefix: "test"}, quietLogger())
	if _, _, err := other.Acquire(ctx, tenant.Academy); !errors.Is(err, reconcile.ErrAlreadyRunning) {
		t.Errorf("expected %v, got %v", reconcile.ErrAlreadyRunning, err)
	}

	_, kids, err := other.Acquire(ctx, tenant.Kids)
	if err != nil {
		t.Errorf("tenants must not share a lock: %v", err)
	} else {
		kids()
	}

	release()
	release()
	if held.Err() == nil {
		t.Error("expected release to end the held context")
	}
	if errors.Is(context.Cause(held), reconcile.ErrLockLost) {
		t.Error("a released lock was not lost")
	}

	_, again, err := other.Acquire(ctx, tenant.Academy)
	if err != nil {
		t.Fatalf("acquiring released lock: %v", err)
	}
	again()
}

func TestLockerWait(t *testing.T) {
	rdb := newRedis(t)
	ctx := context.Background()

	cfg := Config{TTL: time.Second, Wait: true, Retry: 10 * time.Millisecond, Prefix: "test"}
	l := New(rdb, cfg, quietLogger())

	_, release, err := l.Acquire(ctx, tenant.Bootcamp)
	if err != nil {
		t.Fatal(err)
	}

	wctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if _, _, err := l.Acquire(wctx, tenant.Bootcamp); err == nil {
		t.Fatal("expected waiting to stop with the context")
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		release()
	}()

	wctx, cancel = context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, next, err := l.Acquire(wctx, tenant.Bootcamp)
	if err != nil {
		t.Fatalf("expected to acquire after release: %v", err)
	}
	next()
}

func TestLockerLost(t *testing.T) {
	rdb := newRedis(t)
	ctx := context.Background()

	cfg := Config{TTL: 200 * time.Millisecond, Prefix: "test"}
	l := New(rdb, cfg, quietLogger())

	held, release, err := l.Acquire(ctx, tenant.Kids)
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	// Another process takes over once the key is gone.
	if err := rdb.Del(ctx, l.key(tenant.Kids)).Err(); err != nil {
		t.Fatal(err)
	}
	_, other, err := New(rdb, Config{TTL: time.Second, Prefix: "test"}, quietLogger()).Acquire(ctx, tenant.Kids)
	if err != nil {
		t.Fatalf("acquiring the freed key: %v", err)
	}
	defer other()

	select {
	case <-held.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("expected the holder to be cancelled after losing the lock")
	}
	if cause := context.Cause(held); !errors.Is(cause, reconcile.ErrLockLost) {
		t.Fatalf("expected %v, got %v", reconcile.ErrLockLost, cause)
	}
}
