// Package reconcile brings local orders and enrollments into agreement with
// the transaction ledger of a payment provider.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/irsalhamdi/course-reconcile/core/claims"
	"github.com/irsalhamdi/course-reconcile/core/order"
	"github.com/irsalhamdi/course-reconcile/core/reconciliation"
	"github.com/irsalhamdi/course-reconcile/metrics"
	"github.com/irsalhamdi/course-reconcile/provider"
	"github.com/irsalhamdi/course-reconcile/tenant"
	"github.com/irsalhamdi/course-reconcile/validate"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Config struct {
	RunTimeout time.Duration `conf:"default:15m"`

	// AccessPeriod bounds enrollments activated by a correction. Zero
	// grants unlimited access.
	AccessPeriod time.Duration `conf:"default:0s"`

	PublishTimeout time.Duration `conf:"default:5s"`
}

// Request asks for one reconciliation of a tenant over [WindowStart,
// WindowEnd). Resume restarts fetching at the cursor of a failed run.
type Request struct {
	Tenant      tenant.ID       `json:"tenant"`
	WindowStart time.Time       `json:"windowStart" validate:"required"`
	WindowEnd   time.Time       `json:"windowEnd" validate:"required,gtfield=WindowStart"`
	DryRun      bool            `json:"dryRun"`
	Resume      provider.Cursor `json:"resume"`
}

type Deps struct {
	Provider Fetcher
	Ledger   Ledger
	Locker   Locker
	Notifier Notifier
	Log      logrus.FieldLogger
}

// Orchestrator drives reconciliation runs.
type Orchestrator struct {
	provider Fetcher
	ledger   Ledger
	locker   Locker
	notifier Notifier
	cfg      Config
	log      logrus.FieldLogger
	now      func() time.Time
}

func NewOrchestrator(cfg Config, deps Deps) *Orchestrator {
	locker := deps.Locker
	if locker == nil {
		locker = &LocalLocker{}
	}
	log := deps.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	return &Orchestrator{
		provider: deps.Provider,
		ledger:   deps.Ledger,
		locker:   locker,
		notifier: deps.Notifier,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}
}

type run struct {
	id      string
	req     Request
	window  provider.Window
	log     logrus.FieldLogger
	machine *machine
	rep     *reporter
	cursor  provider.Cursor
}

// Run executes one reconciliation. A run that ends in FAILED returns its
// partial report together with a *RunError. Errors returned before the run
// started (validation, permission, lock) come with an empty report.
func (o *Orchestrator) Run(ctx context.Context, capab claims.Capability, req Request) (Report, error) {
	if !req.Tenant.Valid() {
		return Report{}, fmt.Errorf("%w: unknown tenant %s", ErrInvalidRequest, req.Tenant)
	}
	if err := validate.Check(req); err != nil {
		return Report{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if !capab.Reconcile || (!req.DryRun && !capab.Apply) {
		return Report{}, fmt.Errorf("actor %q running %s reconciliation: %w", capab.Actor, mode(req.DryRun), ErrNotPermitted)
	}

	r := &run{
		id:      uuid.NewString(),
		req:     req,
		window:  provider.Window{Start: req.WindowStart, End: req.WindowEnd},
		machine: newMachine(),
		cursor:  req.Resume,
	}
	r.log = o.log.WithFields(logrus.Fields{
		"tenant":  req.Tenant,
		"run_id":  r.id,
		"dry_run": req.DryRun,
	})

	ctx, span := otel.Tracer("reconcile").Start(ctx, "reconcile.Run")
	defer span.End()
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		r.log = r.log.WithField("trace_id", sc.TraceID().String())
	}
	span.SetAttributes(
		attribute.String("tenant", req.Tenant.String()),
		attribute.String("run_id", r.id),
		attribute.Bool("dry_run", req.DryRun),
	)

	held, unlock, err := o.locker.Acquire(ctx, req.Tenant)
	if err != nil {
		if errors.Is(err, ErrAlreadyRunning) {
			metrics.LockRejectionsTotal.WithLabelValues(req.Tenant.String()).Inc()
		}
		r.log.WithError(err).Warn("reconciliation lock not acquired")
		return Report{}, err
	}
	defer unlock()
	ctx = held

	if o.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.RunTimeout)
		defer cancel()
	}

	start := o.now()
	r.rep = newReporter(Report{
		RunID:     r.id,
		Tenant:    req.Tenant,
		Provider:  o.provider.Name(),
		Window:    r.window,
		DryRun:    req.DryRun,
		Resumed:   req.Resume != "",
		StartedAt: start,
	})
	r.log.WithField("window", r.window.String()).Info("reconciliation started")

	report, err := o.execute(ctx, r)

	metrics.RunsTotal.WithLabelValues(req.Tenant.String(), mode(req.DryRun), string(report.State)).Inc()
	metrics.RunDuration.WithLabelValues(req.Tenant.String(), mode(req.DryRun)).Observe(report.FinishedAt.Sub(start).Seconds())

	o.publish(ctx, r, report)

	log := r.log.WithFields(logrus.Fields{
		"state":              report.State,
		"matched":            report.Counts.Matched,
		"local_missing":      report.Counts.LocalMissing,
		"provider_missing":   report.Counts.ProviderMissing,
		"status_mismatch":    report.Counts.StatusMismatch,
		"amount_mismatch":    report.Counts.AmountMismatch,
		"applied":            report.Outcomes.Applied,
		"already_applied":    report.Outcomes.AlreadyApplied,
		"failed":             report.Outcomes.Failed,
		"applied_any_writes": report.AppliedAnyWrites,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.WithError(err).Error("reconciliation failed")
		return report, err
	}
	log.Info("reconciliation finished")

	return report, nil
}

func (o *Orchestrator) execute(ctx context.Context, r *run) (Report, error) {
	if err := r.machine.enter(Fetching); err != nil {
		return o.fail(ctx, r, err)
	}

	txs, err := o.fetch(ctx, r)
	if err != nil {
		return o.fail(ctx, r, err)
	}

	orders, err := o.localOrders(ctx, r, txs)
	if err != nil {
		return o.fail(ctx, r, err)
	}

	if err := r.machine.enter(Matching); err != nil {
		return o.fail(ctx, r, err)
	}

	// A resumed run never saw the pages before its cursor, so an order
	// with no transaction may still have one there.
	resumed := r.req.Resume != ""

	var matched []Pair
	pairs := Matcher{Statuses: o.provider.Statuses()}.Match(orders, txs)
	for _, p := range pairs {
		if resumed && p.Remote == nil {
			r.rep.unverified(p.ExternalID)
			continue
		}

		d := Resolve(p)
		r.rep.add(p, d)
		if p.Kind == reconciliation.Matched {
			matched = append(matched, p)
			continue
		}
		metrics.DiscrepanciesTotal.WithLabelValues(r.req.Tenant.String(), string(p.Kind)).Inc()
	}
	if n := len(r.rep.report.Unverified); n > 0 {
		r.log.WithField("unverified", n).Warn("orders left unverified by resumed run")
	}

	if r.req.DryRun {
		if err := r.machine.enter(DryReport); err != nil {
			return o.fail(ctx, r, err)
		}
		for i := range r.rep.report.Discrepancies {
			r.rep.outcome(i, reconciliation.DryRun)
		}
		if err := r.machine.enter(Done); err != nil {
			return o.fail(ctx, r, err)
		}
		return r.rep.finish(Done, o.now()), nil
	}

	if err := r.machine.enter(Applying); err != nil {
		return o.fail(ctx, r, err)
	}

	for i := range r.rep.report.Discrepancies {
		if err := o.apply(ctx, r, i); err != nil {
			for j := i + 1; j < len(r.rep.report.Discrepancies); j++ {
				r.rep.outcome(j, reconciliation.Skipped)
			}
			return o.fail(ctx, r, err)
		}
	}

	for _, p := range matched {
		if err := o.settled(ctx, r, p); err != nil {
			return o.fail(ctx, r, err)
		}
	}

	if err := r.machine.enter(Done); err != nil {
		return o.fail(ctx, r, err)
	}
	return r.rep.finish(Done, o.now()), nil
}

func (o *Orchestrator) fetch(ctx context.Context, r *run) ([]provider.Transaction, error) {
	var txs []provider.Transaction

	err := o.provider.Fetch(ctx, r.req.Tenant, r.window, r.req.Resume, func(p provider.Page) error {
		txs = append(txs, p.Transactions...)
		r.cursor = p.Next
		metrics.ProviderPagesTotal.WithLabelValues(r.req.Tenant.String(), o.provider.Name()).Inc()
		return nil
	})
	if err != nil {
		var fe *provider.FetchError
		if errors.As(err, &fe) {
			r.cursor = fe.Cursor
		}
		return nil, err
	}

	r.log.WithField("transactions", len(txs)).Debug("provider ledger fetched")
	return txs, nil
}

// localOrders returns the orders created in the run window plus the ones
// created outside it that a provider transaction in the window refers to.
func (o *Orchestrator) localOrders(ctx context.Context, r *run, txs []provider.Transaction) ([]order.Order, error) {
	orders, err := o.ledger.Orders().FindByWindow(ctx, r.req.Tenant, r.window)
	if err != nil {
		return nil, fmt.Errorf("reading local orders: %w", err)
	}

	seen := make(map[string]bool, len(orders))
	for _, ord := range orders {
		if ord.ExternalID != nil {
			seen[*ord.ExternalID] = true
		}
	}

	for _, tx := range txs {
		if tx.ExternalID == "" || seen[tx.ExternalID] {
			continue
		}
		seen[tx.ExternalID] = true

		ord, err := o.ledger.Orders().FindByExternalID(ctx, r.req.Tenant, tx.ExternalID)
		if err != nil {
			return nil, fmt.Errorf("looking up order %s: %w", tx.ExternalID, err)
		}
		if ord == nil {
			continue
		}

		r.log.WithFields(logrus.Fields{
			"external_id": tx.ExternalID,
			"created_at":  ord.CreatedAt,
		}).Debug("order created outside window")
		orders = append(orders, *ord)
	}

	return orders, nil
}

// fail moves the run to FAILED. Once fetching completed the whole window is
// refetched on resume, which idempotent corrections make safe.
func (o *Orchestrator) fail(ctx context.Context, r *run, err error) (Report, error) {
	at := r.machine.state
	switch cause := context.Cause(ctx); {
	case errors.Is(cause, ErrLockLost):
		err = fmt.Errorf("%w: %w", cause, err)
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		err = fmt.Errorf("%w: %w", ErrTimeout, err)
	}

	cursor := r.req.Resume
	if at == Fetching {
		cursor = r.cursor
	}

	if terr := r.machine.enter(Failed); terr != nil {
		r.log.WithError(terr).Error("forcing failed state")
		r.machine.state = Failed
	}

	rep := r.rep.finish(Failed, o.now())
	rep.Cursor = cursor

	return rep, &RunError{State: at, Cursor: cursor, Report: rep, Err: err}
}

// apply carries out the action chosen for discrepancy i. Only faults that
// make further writes pointless are returned; anything else fails just
// this discrepancy.
func (o *Orchestrator) apply(ctx context.Context, r *run, i int) error {
	d := r.rep.report.Discrepancies[i]
	p := r.rep.pairs[i]
	log := r.log.WithFields(logrus.Fields{
		"external_id": d.ExternalID,
		"kind":        d.Kind,
		"action":      d.Action,
	})

	if err := ctx.Err(); err != nil {
		r.rep.outcome(i, reconciliation.Skipped)
		return err
	}

	switch {
	case d.Action == reconciliation.Flagged:
		if err := o.ledger.Records().Append(ctx, o.record(r, d, reconciliation.Reported, d.Reason)); err != nil {
			return o.itemFailed(ctx, r, i, log, err)
		}
		r.rep.outcome(i, reconciliation.Reported)
		log.WithField("reason", d.Reason).Warn("discrepancy flagged for review")
		return nil

	case !d.Action.Mutates():
		return nil
	}

	ctx, span := otel.Tracer("reconcile").Start(ctx, "reconcile.apply")
	defer span.End()
	span.SetAttributes(
		attribute.String("external_id", d.ExternalID),
		attribute.String("action", string(d.Action)),
	)

	rec, err := o.ledger.Records().Find(ctx, r.req.Tenant, d.ExternalID, d.Action)
	if err != nil {
		return o.itemFailed(ctx, r, i, log, err)
	}
	if rec != nil {
		r.rep.outcome(i, reconciliation.AlreadyApplied)
		o.countWrite(r, d.Action, reconciliation.AlreadyApplied)
		log.WithField("record_id", rec.ID).Info("correction already applied")
		return nil
	}

	err = o.ledger.Atomic(ctx, r.req.Tenant, func(tx Tx) error {
		detail, err := o.correct(ctx, r, tx, p, d)
		if err != nil {
			return err
		}
		return tx.Records.Append(ctx, o.record(r, d, reconciliation.Applied, detail))
	})

	switch {
	case err == nil:
		r.rep.outcome(i, reconciliation.Applied)
		o.countWrite(r, d.Action, reconciliation.Applied)
		log.Info("correction applied")
		return nil

	case errors.Is(err, ErrAlreadyApplied):
		r.rep.outcome(i, reconciliation.AlreadyApplied)
		o.countWrite(r, d.Action, reconciliation.AlreadyApplied)
		log.Info("correction applied concurrently")
		return nil
	}

	span.RecordError(err)
	return o.itemFailed(ctx, r, i, log, err)
}

// settled counts a matched pair as already applied when an earlier run's
// correction brought it into agreement.
func (o *Orchestrator) settled(ctx context.Context, r *run, p Pair) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	recs, err := o.ledger.Records().ListByExternalID(ctx, r.req.Tenant, p.ExternalID)
	if err != nil {
		if fatal(ctx, err) {
			return err
		}
		r.log.WithError(err).WithField("external_id", p.ExternalID).Warn("reading correction history")
		return nil
	}

	for _, rec := range recs {
		if rec.Outcome == reconciliation.Applied && rec.Action.Mutates() {
			r.rep.alreadyApplied()
			o.countWrite(r, rec.Action, reconciliation.AlreadyApplied)
			return nil
		}
	}
	return nil
}

// correct performs the order and enrollment writes of d inside tx and
// returns the audit detail.
func (o *Orchestrator) correct(ctx context.Context, r *run, tx Tx, p Pair, d Discrepancy) (string, error) {
	t := r.req.Tenant

	switch d.Action {
	case reconciliation.CreatedOrder:
		tr := p.Remote
		created, err := tx.Orders.Create(ctx, t, order.OrderNew{
			ExternalID:  tr.ExternalID,
			Amount:      tr.Amount,
			Currency:    tr.Currency,
			Status:      order.Paid,
			UserID:      tr.UserID,
			ProductType: tr.ProductType,
			ProductID:   tr.ProductID,
			CreatedAt:   tr.Timestamp,
		})
		if err != nil {
			return "", fmt.Errorf("creating order: %w", err)
		}

		if created.ProductType.Enrolls() {
			if err := tx.Enrollments.SetActive(ctx, t, created.UserID, created.ProductID, true, o.accessUntil(tr.Timestamp)); err != nil {
				return "", fmt.Errorf("activating enrollment: %w", err)
			}
		}
		return fmt.Sprintf("created order %s", created.ID), nil

	case reconciliation.UpdatedStatus:
		updated, err := tx.Orders.UpdateStatus(ctx, t, p.Local.ID, d.MappedStatus)
		if err != nil {
			return "", fmt.Errorf("updating order status: %w", err)
		}

		if updated.ProductType.Enrolls() {
			active := updated.Status == order.Paid
			end := o.accessUntil(p.Remote.Timestamp)
			if !active {
				now := o.now()
				end = &now
			}
			if err := tx.Enrollments.SetActive(ctx, t, updated.UserID, updated.ProductID, active, end); err != nil {
				return "", fmt.Errorf("toggling enrollment: %w", err)
			}
		}
		return fmt.Sprintf("order %s moved from %s to %s", updated.ID, p.Local.Status, updated.Status), nil
	}

	return "", fmt.Errorf("action %s does not write", d.Action)
}

func (o *Orchestrator) itemFailed(ctx context.Context, r *run, i int, log logrus.FieldLogger, err error) error {
	d := r.rep.report.Discrepancies[i]
	r.rep.outcome(i, reconciliation.Failed)
	r.rep.report.Discrepancies[i].Error = err.Error()
	o.countWrite(r, d.Action, reconciliation.Failed)

	if fatal(ctx, err) {
		return err
	}
	log.WithError(err).Warn("correction failed")

	if d.Action.Mutates() {
		if aerr := o.ledger.Records().Append(ctx, o.record(r, d, reconciliation.Failed, err.Error())); aerr != nil {
			if fatal(ctx, aerr) {
				return aerr
			}
			log.WithError(aerr).Error("recording failed correction")
		}
	}

	return nil
}

func fatal(ctx context.Context, err error) bool {
	return ctx.Err() != nil ||
		errors.Is(err, ErrLedgerUnavailable) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func (o *Orchestrator) record(r *run, d Discrepancy, out reconciliation.Outcome, detail string) reconciliation.Record {
	return reconciliation.Record{
		ID:         uuid.NewString(),
		Tenant:     r.req.Tenant,
		RunID:      r.id,
		ExternalID: d.ExternalID,
		Kind:       d.Kind,
		Action:     d.Action,
		Outcome:    out,
		Detail:     detail,
		CreatedAt:  o.now(),
	}
}

func (o *Orchestrator) accessUntil(from time.Time) *time.Time {
	if o.cfg.AccessPeriod <= 0 {
		return nil
	}
	end := from.Add(o.cfg.AccessPeriod)
	return &end
}

func (o *Orchestrator) countWrite(r *run, a reconciliation.Action, out reconciliation.Outcome) {
	metrics.WritesTotal.WithLabelValues(r.req.Tenant.String(), string(a), string(out)).Inc()
}

func (o *Orchestrator) publish(ctx context.Context, r *run, rep Report) {
	if o.notifier == nil {
		return
	}

	ctx = context.WithoutCancel(ctx)
	if o.cfg.PublishTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.PublishTimeout)
		defer cancel()
	}

	if err := o.notifier.Publish(ctx, rep); err != nil {
		r.log.WithError(err).Warn("publishing run summary")
	}
}

func mode(dryRun bool) string {
	if dryRun {
		return "dry_run"
	}
	return "live"
}
