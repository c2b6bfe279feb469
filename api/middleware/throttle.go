package middleware

import (
	"context"
	"fmt"
	"net/http"

	"github.com/irsalhamdi/course-reconcile/api/web"
	"github.com/irsalhamdi/course-reconcile/api/weberr"
	"github.com/irsalhamdi/course-reconcile/core/claims"
	"github.com/irsalhamdi/course-reconcile/rate"
)

// Throttle limits how often each authenticated actor may call the handler.
// It must run after Authenticate. A nil limiter disables it.
func Throttle(lim *rate.Limiter) web.Middleware {
	if lim == nil {
		return nil
	}

	return func(handler web.Handler) web.Handler {
		return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			c, err := claims.Get(ctx)
			if err != nil {
				return weberr.NotAuthorized(err)
			}

			if !lim.Check(c.UserID) {
				return weberr.TooManyRequests(fmt.Errorf("actor %q is over the trigger rate", c.UserID))
			}

			return handler(ctx, w, r)
		}
	}
}
