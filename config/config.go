// Package config holds the settings of the reconciliation binaries. Values
// come from flags and RECON_ prefixed environment variables; a .env file in
// the working directory is loaded first when present.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/ardanlabs/conf/v3"
	"github.com/irsalhamdi/course-reconcile/broker"
	"github.com/irsalhamdi/course-reconcile/database"
	"github.com/irsalhamdi/course-reconcile/lock"
	"github.com/irsalhamdi/course-reconcile/provider"
	"github.com/irsalhamdi/course-reconcile/provider/paypal"
	"github.com/irsalhamdi/course-reconcile/provider/stripe"
	"github.com/irsalhamdi/course-reconcile/reconcile"
	"github.com/irsalhamdi/course-reconcile/tenant"
	"github.com/irsalhamdi/course-reconcile/tracing"
	"github.com/joho/godotenv"
)

const Prefix = "RECON"

const (
	LockLocal = "local"
	LockRedis = "redis"
)

type Web struct {
	Address         string        `conf:"default:0.0.0.0:8000"`
	ReadTimeout     time.Duration `conf:"default:5s"`
	WriteTimeout    time.Duration `conf:"default:20m"`
	IdleTimeout     time.Duration `conf:"default:120s"`
	ShutdownTimeout time.Duration `conf:"default:20s"`

	// TriggerInterval is the sustained rate at which one actor may start
	// runs; zero disables throttling.
	TriggerInterval time.Duration `conf:"default:10s"`
	TriggerBurst    int           `conf:"default:3"`
}

// DB has one database per tenant.
type DB struct {
	Academy  database.Config
	Bootcamp database.Config
	Kids     database.Config
	Migrate  bool `conf:"default:true"`
}

// For returns the database of t. Every declared tenant has a case; an
// unknown one is an error.
func (d DB) For(t tenant.ID) (database.Config, error) {
	switch t {
	case tenant.Academy:
		return d.Academy, nil
	case tenant.Bootcamp:
		return d.Bootcamp, nil
	case tenant.Kids:
		return d.Kids, nil
	}
	return database.Config{}, fmt.Errorf("no database configured for %s", t)
}

// Runs selects the collaborators of the orchestrators.
type Runs struct {
	DefaultProvider string `conf:"default:stripe"`
	LockMode        string `conf:"default:local"`

	// LockWait makes the in-process lock block instead of rejecting a
	// second run for a tenant. Redis locks use Redis.Wait.
	LockWait bool `conf:"default:false"`
}

type Auth struct {
	AdminToken   string `conf:"mask"`
	AuditorToken string `conf:"mask"`
}

type Config struct {
	conf.Version
	Web       Web
	DB        DB
	Redis     lock.Config
	Kafka     broker.Config
	Stripe    stripe.Config
	Paypal    paypal.Config
	Provider  provider.Config
	Reconcile reconcile.Config
	Runs      Runs
	Auth      Auth
	Tracing   tracing.Config
}

// Load fills cfg. The returned help text is not empty when the caller asked
// for usage or the version, in which case err is conf.ErrHelpWanted.
func Load(cfg interface{}) (string, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("loading .env: %w", err)
	}

	help, err := conf.Parse(Prefix, cfg)
	if err != nil {
		return help, err
	}
	return "", nil
}
