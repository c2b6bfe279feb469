package reconcile

import (
	"context"
	"fmt"
	"sync"

	"github.com/irsalhamdi/course-reconcile/tenant"
)

// Locker grants the per-tenant run lock. The returned context is derived
// from ctx and is cancelled with cause ErrLockLost if the lock is lost
// before release; the run must do its work under it. The returned func
// releases the lock and cancels the context.
type Locker interface {
	Acquire(ctx context.Context, t tenant.ID) (context.Context, func(), error)
}

// LocalLocker serializes runs inside one process. With Wait set a second
// run for the same tenant blocks until the first releases the lock or its
// context ends; otherwise it fails with ErrAlreadyRunning.
type LocalLocker struct {
	Wait bool

	once  sync.Once
	slots *tenant.Registry[chan struct{}]
}

func (l *LocalLocker) init() {
	l.once.Do(func() {
		l.slots, _ = tenant.NewRegistry(func(tenant.ID) (chan struct{}, error) {
			return make(chan struct{}, 1), nil
		})
	})
}

func (l *LocalLocker) Acquire(ctx context.Context, t tenant.ID) (context.Context, func(), error) {
	l.init()
	slot := l.slots.Get(t)

	if !l.Wait {
		select {
		case slot <- struct{}{}:
		default:
			return nil, nil, fmt.Errorf("tenant %s: %w", t, ErrAlreadyRunning)
		}
	} else {
		select {
		case slot <- struct{}{}:
		case <-ctx.Done():
			return nil, nil, fmt.Errorf("tenant %s: waiting for lock: %w", t, ctx.Err())
		}
	}

	// An in-process slot cannot be lost, so the context only ends with its
	// parent or on release.
	held, cancel := context.WithCancelCause(ctx)

	var once sync.Once
	return held, func() {
		once.Do(func() {
			cancel(nil)
			<-slot
		})
	}, nil
}
