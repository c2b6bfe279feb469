// Package api wires the admin routes of the reconciliation service.
package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/irsalhamdi/course-reconcile/api/middleware"
	"github.com/irsalhamdi/course-reconcile/api/web"
	"github.com/irsalhamdi/course-reconcile/api/weberr"
	"github.com/irsalhamdi/course-reconcile/rate"
	"github.com/irsalhamdi/course-reconcile/reconcile"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

type APIConfig struct {
	Log             logrus.FieldLogger
	Runners         reconcile.Runners
	DefaultProvider string
	Audit           reconcile.AuditLog
	Tokens          []middleware.Token

	// Throttle bounds how often one actor may trigger runs. Nil disables it.
	Throttle *rate.Limiter

	// Ready reports whether the local databases are reachable.
	Ready func(ctx context.Context) error
}

type api struct {
	*mux.Router
	mw  []web.Middleware
	log logrus.FieldLogger
}

func APIMux(cfg APIConfig) http.Handler {
	a := &api{
		Router: mux.NewRouter(),
		log:    cfg.Log,
	}

	a.mw = append(a.mw, middleware.RequestID())
	a.mw = append(a.mw, middleware.Logger(cfg.Log))
	a.mw = append(a.mw, middleware.Errors(cfg.Log))
	a.mw = append(a.mw, middleware.Panics())

	authen := middleware.Authenticate(cfg.Tokens)

	a.Handle(http.MethodGet, "/readiness", readiness(cfg.Ready))
	a.Router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	a.Handle(http.MethodPost, "/reconciliations", reconcile.HandleRun(cfg.Runners, cfg.DefaultProvider), authen, middleware.Throttle(cfg.Throttle))
	a.Handle(http.MethodGet, "/reconciliations/records", reconcile.HandleListRecords(cfg.Audit), authen)

	return a.Router
}

func readiness(ready func(context.Context) error) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		if ready != nil {
			if err := ready(ctx); err != nil {
				return weberr.Unavailable(err)
			}
		}
		return web.Respond(ctx, w, struct {
			Status string `json:"status"`
		}{"ok"}, http.StatusOK)
	}
}

func (a *api) Handle(method string, path string, handler web.Handler, mw ...web.Middleware) {
	handler = web.WrapMiddleware(mw, handler)
	handler = web.WrapMiddleware(a.mw, handler)

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if err := handler(ctx, w, r); err != nil {
			a.log.WithFields(logrus.Fields{
				"req_id":  middleware.ContextRequestID(ctx),
				"message": err,
			}).Error("ERROR")
		}
	})

	a.Router.Handle(path, h).Methods(method)
}
