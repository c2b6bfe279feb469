package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ardanlabs/conf/v3"
	"github.com/irsalhamdi/course-reconcile/api"
	"github.com/irsalhamdi/course-reconcile/api/middleware"
	"github.com/irsalhamdi/course-reconcile/config"
	"github.com/irsalhamdi/course-reconcile/core/claims"
	"github.com/irsalhamdi/course-reconcile/rate"
	"github.com/irsalhamdi/course-reconcile/service"
	"github.com/sirupsen/logrus"
)

var build = "develop"

func main() {
	log := logrus.New()
	log.SetOutput(os.Stdout)
	log.SetFormatter(&logrus.JSONFormatter{})

	if err := Run(log); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func Run(logger *logrus.Logger) error {
	cfg := config.Config{
		Version: conf.Version{Build: build, Desc: "payment reconciliation service"},
	}
	help, err := config.Load(&cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	logger.WithField("build", build).Info("starting server")
	defer logger.Info("shutdown complete")

	lw := logger.Writer()
	defer lw.Close()
	errLog := log.New(lw, "", 0)

	svc, err := service.Open(context.Background(), cfg, logger)
	if err != nil {
		return fmt.Errorf("opening dependencies: %w", err)
	}
	defer svc.Close(context.Background())

	var throttle *rate.Limiter
	if cfg.Web.TriggerInterval > 0 {
		throttle = rate.NewLimiter(cfg.Web.TriggerBurst, 60, rate.Every(cfg.Web.TriggerInterval))
	}

	mux := api.APIMux(api.APIConfig{
		Log:             logger,
		Runners:         svc.Runners,
		DefaultProvider: svc.DefaultProvider,
		Audit:           svc.Ledger,
		Tokens: []middleware.Token{
			{Secret: cfg.Auth.AdminToken, Claims: claims.Claims{UserID: "admin", Role: claims.RoleAdmin}},
			{Secret: cfg.Auth.AuditorToken, Claims: claims.Claims{UserID: "auditor", Role: claims.RoleAuditor}},
		},
		Throttle: throttle,
		Ready:    svc.Ledger.StatusCheck,
	})

	srv := http.Server{
		Handler:      mux,
		Addr:         cfg.Web.Address,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     errLog,
	}

	serverErrors := make(chan error, 1)

	go func() {
		logger.Infof("starting api router at %s", srv.Addr)
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		logger.Infof("shutting down: signal %s", sig)

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
	}
	return nil
}
