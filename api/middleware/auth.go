package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/irsalhamdi/course-reconcile/api/web"
	"github.com/irsalhamdi/course-reconcile/api/weberr"
	"github.com/irsalhamdi/course-reconcile/core/claims"
)

// Token binds a static bearer token to the claims it grants.
type Token struct {
	Secret string
	Claims claims.Claims
}

// Authenticate resolves the bearer token of the request into claims.
// Tokens with an empty secret are ignored.
func Authenticate(tokens []Token) web.Middleware {
	return func(handler web.Handler) web.Handler {
		return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			auth := r.Header.Get("Authorization")
			secret, ok := strings.CutPrefix(auth, "Bearer ")
			if !ok || secret == "" {
				return weberr.NotAuthorized(errors.New("missing bearer token"))
			}

			for _, t := range tokens {
				if t.Secret == "" {
					continue
				}
				if subtle.ConstantTimeCompare([]byte(t.Secret), []byte(secret)) == 1 {
					return handler(claims.Set(ctx, t.Claims), w, r)
				}
			}

			return weberr.NotAuthorized(errors.New("unknown bearer token"))
		}
	}
}
