// Package service assembles the reconciliation runners from configuration.
// It is shared by the HTTP server and the command line.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/irsalhamdi/course-reconcile/broker"
	"github.com/irsalhamdi/course-reconcile/config"
	"github.com/irsalhamdi/course-reconcile/database"
	"github.com/irsalhamdi/course-reconcile/ledger"
	"github.com/irsalhamdi/course-reconcile/lock"
	"github.com/irsalhamdi/course-reconcile/provider"
	"github.com/irsalhamdi/course-reconcile/provider/paypal"
	"github.com/irsalhamdi/course-reconcile/provider/stripe"
	"github.com/irsalhamdi/course-reconcile/reconcile"
	"github.com/irsalhamdi/course-reconcile/tenant"
	"github.com/irsalhamdi/course-reconcile/tracing"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

const Name = "course-reconcile"

type Service struct {
	Ledger          *ledger.Ledger
	Runners         reconcile.Runners
	DefaultProvider string

	log     logrus.FieldLogger
	closers []closer
}

type closer struct {
	name  string
	close func(context.Context) error
}

// Open connects every dependency named by cfg. On error the dependencies
// opened so far are closed again.
func Open(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (svc *Service, err error) {
	svc = &Service{
		Runners:         make(reconcile.Runners),
		DefaultProvider: cfg.Runs.DefaultProvider,
		log:             log,
	}
	defer func() {
		if err != nil {
			svc.Close(context.Background())
			svc = nil
		}
	}()

	flush, err := tracing.Init(Name, cfg.Tracing)
	if err != nil {
		return svc, fmt.Errorf("initializing tracing: %w", err)
	}
	svc.onClose("tracing", flush)

	dbs, err := tenant.NewRegistry(func(t tenant.ID) (*sqlx.DB, error) {
		dbCfg, err := cfg.DB.For(t)
		if err != nil {
			return nil, err
		}
		db, err := database.Open(dbCfg)
		if err != nil {
			return nil, fmt.Errorf("opening %s database: %w", t, err)
		}
		svc.onClose(t.String()+" database", func(context.Context) error { return db.Close() })

		if cfg.DB.Migrate {
			if err := database.Migrate(db); err != nil {
				return nil, fmt.Errorf("migrating %s database: %w", t, err)
			}
		}
		return db, nil
	})
	if err != nil {
		return svc, err
	}
	svc.Ledger = ledger.New(dbs)

	var locker reconcile.Locker
	switch cfg.Runs.LockMode {
	case config.LockLocal:
		locker = &reconcile.LocalLocker{Wait: cfg.Runs.LockWait}
	case config.LockRedis:
		rdb, err := lock.Open(ctx, cfg.Redis)
		if err != nil {
			return svc, err
		}
		svc.onClose("redis", func(context.Context) error { return rdb.Close() })
		locker = lock.New(rdb, cfg.Redis, log)
	default:
		return svc, fmt.Errorf("unknown lock mode %q", cfg.Runs.LockMode)
	}

	var notifier reconcile.Notifier
	if cfg.Kafka.Enabled() {
		pub := broker.NewPublisher(cfg.Kafka, log)
		svc.onClose("kafka", func(context.Context) error { return pub.Close() })
		notifier = pub
	}

	var sources []provider.PageSource
	if cfg.Stripe.APISecret != "" {
		sources = append(sources, stripe.New(cfg.Stripe))
	}
	if cfg.Paypal.ClientID != "" {
		src, err := paypal.New(cfg.Paypal)
		if err != nil {
			return svc, fmt.Errorf("building paypal source: %w", err)
		}
		sources = append(sources, src)
	}
	if len(sources) == 0 {
		return svc, errors.New("no payment provider configured")
	}

	for _, src := range sources {
		svc.Runners[src.Name()] = reconcile.NewOrchestrator(cfg.Reconcile, reconcile.Deps{
			Provider: provider.NewClient(src, cfg.Provider, log),
			Ledger:   svc.Ledger,
			Locker:   locker,
			Notifier: notifier,
			Log:      log,
		})
	}
	if _, ok := svc.Runners[svc.DefaultProvider]; !ok {
		return svc, fmt.Errorf("default provider %q is not configured", svc.DefaultProvider)
	}

	return svc, nil
}

func (s *Service) onClose(name string, fn func(context.Context) error) {
	s.closers = append(s.closers, closer{name: name, close: fn})
}

// Close releases the dependencies in reverse opening order.
func (s *Service) Close(ctx context.Context) error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		c := s.closers[i]
		if err := c.close(ctx); err != nil {
			s.log.WithError(err).WithField("dependency", c.name).Error("closing")
			errs = append(errs, fmt.Errorf("closing %s: %w", c.name, err))
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// Runner returns the orchestrator of the named provider, or of the default
// one when name is empty.
func (s *Service) Runner(name string) (*reconcile.Orchestrator, error) {
	if name == "" {
		name = s.DefaultProvider
	}
	orch, ok := s.Runners[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", name)
	}
	return orch, nil
}
