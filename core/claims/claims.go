package claims

import (
	"context"
	"errors"
)

const (
	RoleAdmin   = "ADMIN"
	RoleAuditor = "AUDITOR"
	RoleUser    = "USER"
)

type Claims struct {
	UserID string
	Role   string
}

type ctxKey int

const claimsKey ctxKey = 1

func Set(ctx context.Context, claims Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

func Get(ctx context.Context) (Claims, error) {
	v, ok := ctx.Value(claimsKey).(Claims)
	if !ok {
		return Claims{}, errors.New("claim value missing from context")
	}
	return v, nil
}

// Capability lists what an actor may do with the reconciliation engine. It
// is passed explicitly to operations instead of being looked up from the
// request.
type Capability struct {
	Actor     string
	Reconcile bool
	Apply     bool
}

// Capability derives the reconciliation rights of the claims' role:
// admins may run live reconciliations, auditors only dry runs.
func (c Claims) Capability() Capability {
	capab := Capability{Actor: c.UserID}
	switch c.Role {
	case RoleAdmin:
		capab.Reconcile = true
		capab.Apply = true
	case RoleAuditor:
		capab.Reconcile = true
	}
	return capab
}

// System is the capability of trusted operator tooling.
func System(actor string) Capability {
	return Capability{Actor: actor, Reconcile: true, Apply: true}
}
