// Command reconcile runs a single reconciliation from the command line and
// prints its report as JSON.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ardanlabs/conf/v3"
	"github.com/irsalhamdi/course-reconcile/config"
	"github.com/irsalhamdi/course-reconcile/core/claims"
	"github.com/irsalhamdi/course-reconcile/provider"
	"github.com/irsalhamdi/course-reconcile/reconcile"
	"github.com/irsalhamdi/course-reconcile/service"
	"github.com/irsalhamdi/course-reconcile/tenant"
	"github.com/sirupsen/logrus"
)

var build = "develop"

type cliConfig struct {
	config.Config
	Run struct {
		Tenant   string `conf:"required,flag:tenant,help:tenant to reconcile"`
		From     string `conf:"required,flag:from,help:window start (RFC 3339 or YYYY-MM-DD)"`
		To       string `conf:"required,flag:to,help:window end exclusive (RFC 3339 or YYYY-MM-DD)"`
		DryRun   bool   `conf:"default:true,flag:dry-run,help:report without writing"`
		Provider string `conf:"flag:provider,help:provider to reconcile against"`
		Resume   string `conf:"flag:resume,help:cursor of a failed run"`
		Actor    string `conf:"default:cli,flag:actor,help:name recorded as the operator"`
	}
}

func main() {
	log := logrus.New()
	log.SetOutput(os.Stderr)

	if err := run(log); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func run(log *logrus.Logger) error {
	cfg := cliConfig{}
	cfg.Version = conf.Version{Build: build, Desc: "run one payment reconciliation"}

	help, err := config.Load(&cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	req, err := request(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := service.Open(ctx, cfg.Config, log)
	if err != nil {
		return fmt.Errorf("opening dependencies: %w", err)
	}
	defer svc.Close(context.Background())

	orch, err := svc.Runner(cfg.Run.Provider)
	if err != nil {
		return err
	}

	rep, runErr := orch.Run(ctx, claims.System(cfg.Run.Actor), req)

	var re *reconcile.RunError
	if runErr == nil || errors.As(runErr, &re) {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rep); err != nil {
			return fmt.Errorf("writing report: %w", err)
		}
	}
	if runErr != nil {
		if re != nil && re.Cursor != "" {
			return fmt.Errorf("%w (rerun with --resume=%s)", runErr, re.Cursor)
		}
		return runErr
	}
	return nil
}

func request(cfg cliConfig) (reconcile.Request, error) {
	t, err := tenant.Parse(cfg.Run.Tenant)
	if err != nil {
		return reconcile.Request{}, err
	}
	from, err := parseTime(cfg.Run.From)
	if err != nil {
		return reconcile.Request{}, fmt.Errorf("parsing --from: %w", err)
	}
	to, err := parseTime(cfg.Run.To)
	if err != nil {
		return reconcile.Request{}, fmt.Errorf("parsing --to: %w", err)
	}

	return reconcile.Request{
		Tenant:      t,
		WindowStart: from,
		WindowEnd:   to,
		DryRun:      cfg.Run.DryRun,
		Resume:      provider.Cursor(cfg.Run.Resume),
	}, nil
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, s)
}
