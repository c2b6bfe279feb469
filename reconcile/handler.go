package reconcile

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/irsalhamdi/course-reconcile/api/web"
	"github.com/irsalhamdi/course-reconcile/api/weberr"
	"github.com/irsalhamdi/course-reconcile/core/claims"
	"github.com/irsalhamdi/course-reconcile/core/reconciliation"
	"github.com/irsalhamdi/course-reconcile/provider"
	"github.com/irsalhamdi/course-reconcile/tenant"
	"github.com/irsalhamdi/course-reconcile/validate"
)

// Runners holds one orchestrator per configured provider.
type Runners map[string]*Orchestrator

type RunNew struct {
	Tenant      string    `json:"tenant" validate:"required"`
	Provider    string    `json:"provider"`
	WindowStart time.Time `json:"windowStart" validate:"required"`
	WindowEnd   time.Time `json:"windowEnd" validate:"required,gtfield=WindowStart"`
	DryRun      bool      `json:"dryRun"`
	Resume      string    `json:"resume"`
}

type failure struct {
	State  State           `json:"state"`
	Cursor provider.Cursor `json:"cursor,omitempty"`
	Report *Report         `json:"report,omitempty"`
}

// HandleRun triggers a reconciliation and responds with its report. Runs
// that fail respond with the partial report and the resume cursor.
func HandleRun(runners Runners, fallback string) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		var in RunNew
		if err := web.Decode(w, r, &in); err != nil {
			return weberr.BadRequest(err)
		}
		if err := validate.Check(in); err != nil {
			return weberr.BadRequest(err, weberr.WithDetails(err.Error()))
		}

		t, err := tenant.Parse(in.Tenant)
		if err != nil {
			return weberr.BadRequest(err, weberr.WithDetails(err.Error()))
		}

		name := in.Provider
		if name == "" {
			name = fallback
		}
		orch, ok := runners[name]
		if !ok {
			err := fmt.Errorf("unknown provider %q", name)
			return weberr.BadRequest(err, weberr.WithDetails(err.Error()))
		}

		c, err := claims.Get(ctx)
		if err != nil {
			return weberr.NotAuthorized(err)
		}

		rep, err := orch.Run(ctx, c.Capability(), Request{
			Tenant:      t,
			WindowStart: in.WindowStart,
			WindowEnd:   in.WindowEnd,
			DryRun:      in.DryRun,
			Resume:      provider.Cursor(in.Resume),
		})
		if err != nil {
			return runError(err)
		}

		return web.Respond(ctx, w, rep, http.StatusOK)
	}
}

func runError(err error) error {
	fields := weberr.WithFields(map[string]interface{}{"run_error": err.Error()})

	var details interface{}
	var re *RunError
	if errors.As(err, &re) {
		details = failure{State: re.State, Cursor: re.Cursor, Report: &re.Report}
		fields = weberr.WithFields(map[string]interface{}{
			"run_id": re.Report.RunID,
			"state":  re.State,
			"cursor": re.Cursor,
		})
	}
	with := weberr.WithDetails(details)

	switch {
	case errors.Is(err, ErrNotPermitted):
		return weberr.Forbidden(err, fields)
	case errors.Is(err, ErrAlreadyRunning):
		return weberr.Conflict(err, fields)
	case errors.Is(err, ErrLockLost):
		return weberr.Conflict(err, fields, with)
	case errors.Is(err, ErrTimeout):
		return weberr.GatewayTimeout(err, fields, with)
	case errors.Is(err, provider.ErrAuthentication), errors.Is(err, provider.ErrUnavailable):
		return weberr.BadGateway(err, fields, with)
	case errors.Is(err, ErrLedgerUnavailable):
		return weberr.Unavailable(err, fields, with)
	case errors.Is(err, ErrInvalidRequest):
		return weberr.BadRequest(err, weberr.WithDetails(err.Error()))
	}

	return weberr.InternalError(err, fields, with)
}

// AuditLog lists reconciliation records.
type AuditLog interface {
	ListByExternalID(ctx context.Context, t tenant.ID, externalID string) ([]reconciliation.Record, error)
	ListByRun(ctx context.Context, t tenant.ID, runID string) ([]reconciliation.Record, error)
}

// HandleListRecords lists the records of an external id or of a run.
func HandleListRecords(audit AuditLog) web.Handler {
	return func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
		c, err := claims.Get(ctx)
		if err != nil {
			return weberr.NotAuthorized(err)
		}
		if !c.Capability().Reconcile {
			return weberr.Forbidden(ErrNotPermitted)
		}

		t, err := tenant.Parse(web.Query(r, "tenant"))
		if err != nil {
			return weberr.BadRequest(err, weberr.WithDetails(err.Error()))
		}

		var records []reconciliation.Record
		switch externalID, runID := web.Query(r, "externalId"), web.Query(r, "runId"); {
		case externalID != "":
			records, err = audit.ListByExternalID(ctx, t, externalID)
		case runID != "":
			if verr := validate.CheckID(runID); verr != nil {
				return weberr.BadRequest(verr, weberr.WithDetails(verr.Error()))
			}
			records, err = audit.ListByRun(ctx, t, runID)
		default:
			err := errors.New("externalId or runId is required")
			return weberr.BadRequest(err, weberr.WithDetails(err.Error()))
		}
		if err != nil {
			if errors.Is(err, ErrLedgerUnavailable) {
				return weberr.Unavailable(err)
			}
			return fmt.Errorf("listing records: %w", err)
		}

		return web.Respond(ctx, w, records, http.StatusOK)
	}
}
