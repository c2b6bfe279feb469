// Package ledger implements the local side of reconciliation over the
// per-tenant Postgres databases.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/irsalhamdi/course-reconcile/core/enrollment"
	"github.com/irsalhamdi/course-reconcile/core/order"
	"github.com/irsalhamdi/course-reconcile/core/reconciliation"
	"github.com/irsalhamdi/course-reconcile/database"
	"github.com/irsalhamdi/course-reconcile/provider"
	"github.com/irsalhamdi/course-reconcile/reconcile"
	"github.com/irsalhamdi/course-reconcile/tenant"
	"github.com/irsalhamdi/course-reconcile/validate"
	"github.com/jmoiron/sqlx"
)

type Ledger struct {
	dbs *tenant.Registry[*sqlx.DB]
	now func() time.Time
}

func New(dbs *tenant.Registry[*sqlx.DB]) *Ledger {
	return &Ledger{
		dbs: dbs,
		now: time.Now,
	}
}

func (l *Ledger) Orders() reconcile.OrderLedger {
	return orders{db: l.db, now: l.now}
}

func (l *Ledger) Records() reconcile.RecordStore {
	return records{db: l.db}
}

// Atomic runs fn in a transaction on the database of t. The ledgers handed
// to fn refuse any other tenant.
func (l *Ledger) Atomic(ctx context.Context, t tenant.ID, fn func(reconcile.Tx) error) error {
	err := database.Transaction(ctx, l.dbs.Get(t), func(tx sqlx.ExtContext) error {
		bound := func(id tenant.ID) (sqlx.ExtContext, error) {
			if id != t {
				return nil, fmt.Errorf("transaction of %s used for %s", t, id)
			}
			return tx, nil
		}

		return fn(reconcile.Tx{
			Orders:      orders{db: bound, now: l.now},
			Enrollments: enrollments{db: bound, now: l.now},
			Records:     records{db: bound},
		})
	})
	return classify(err)
}

// StatusCheck pings the database of every tenant.
func (l *Ledger) StatusCheck(ctx context.Context) error {
	return l.dbs.Each(func(id tenant.ID, db *sqlx.DB) error {
		if err := database.StatusCheck(ctx, db); err != nil {
			return fmt.Errorf("%s: %w", id, err)
		}
		return nil
	})
}

func (l *Ledger) ListByExternalID(ctx context.Context, t tenant.ID, externalID string) ([]reconciliation.Record, error) {
	return l.Records().ListByExternalID(ctx, t, externalID)
}

// ListByRun returns the records a run appended.
func (l *Ledger) ListByRun(ctx context.Context, t tenant.ID, runID string) ([]reconciliation.Record, error) {
	db, err := l.db(t)
	if err != nil {
		return nil, err
	}

	rs, err := reconciliation.ListByRun(ctx, db, runID)
	if err != nil {
		return nil, classify(err)
	}
	for i := range rs {
		rs[i].Tenant = t
	}
	return rs, nil
}

func (l *Ledger) db(t tenant.ID) (sqlx.ExtContext, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid tenant %s", t)
	}
	return l.dbs.Get(t), nil
}

// classify maps database failures onto the reconciliation error taxonomy.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, reconcile.ErrConstraint),
		errors.Is(err, reconcile.ErrLedgerUnavailable),
		errors.Is(err, reconcile.ErrAlreadyApplied):
		return err
	case database.IsConnectionFault(err):
		return fmt.Errorf("%w: %w", reconcile.ErrLedgerUnavailable, err)
	case errors.Is(err, order.ErrStaleStatus), database.IsConstraintViolation(err):
		return fmt.Errorf("%w: %w", reconcile.ErrConstraint, err)
	}
	return err
}

// =============================================================================

type resolver func(tenant.ID) (sqlx.ExtContext, error)

type orders struct {
	db  resolver
	now func() time.Time
}

func (s orders) FindByWindow(ctx context.Context, t tenant.ID, w provider.Window) ([]order.Order, error) {
	db, err := s.db(t)
	if err != nil {
		return nil, err
	}

	found, err := order.FetchByWindow(ctx, db, w.Start, w.End)
	if err != nil {
		return nil, classify(err)
	}
	for i := range found {
		found[i].Tenant = t
	}
	return found, nil
}

// FindByExternalID returns nil when no order carries externalID.
func (s orders) FindByExternalID(ctx context.Context, t tenant.ID, externalID string) (*order.Order, error) {
	db, err := s.db(t)
	if err != nil {
		return nil, err
	}

	o, err := order.FetchByExternalID(ctx, db, externalID)
	if err != nil {
		if errors.Is(err, database.ErrDBNotFound) {
			return nil, nil
		}
		return nil, classify(err)
	}
	o.Tenant = t
	return &o, nil
}

func (s orders) Create(ctx context.Context, t tenant.ID, on order.OrderNew) (order.Order, error) {
	db, err := s.db(t)
	if err != nil {
		return order.Order{}, err
	}

	if err := validate.Check(on); err != nil {
		return order.Order{}, fmt.Errorf("%w: %v", reconcile.ErrConstraint, err)
	}

	now := s.now().UTC()
	created := on.CreatedAt.UTC()
	if on.CreatedAt.IsZero() {
		created = now
	}
	ext := on.ExternalID

	o := order.Order{
		Tenant:      t,
		ID:          validate.GenerateID(),
		ExternalID:  &ext,
		Amount:      on.Amount,
		Currency:    on.Currency,
		Status:      on.Status,
		UserID:      on.UserID,
		ProductType: on.ProductType,
		ProductID:   on.ProductID,
		CreatedAt:   created,
		UpdatedAt:   now,
	}

	if err := order.Create(ctx, db, o); err != nil {
		return order.Order{}, classify(err)
	}
	return o, nil
}

func (s orders) UpdateStatus(ctx context.Context, t tenant.ID, orderID string, status order.Status) (order.Order, error) {
	db, err := s.db(t)
	if err != nil {
		return order.Order{}, err
	}

	o, err := order.Fetch(ctx, db, orderID)
	if err != nil {
		if errors.Is(err, database.ErrDBNotFound) {
			return order.Order{}, fmt.Errorf("order[%s]: %w: %v", orderID, reconcile.ErrConstraint, err)
		}
		return order.Order{}, classify(err)
	}

	if !o.Status.CanTransition(status) {
		return order.Order{}, fmt.Errorf("order[%s] %s to %s: %w", orderID, o.Status, status, reconcile.ErrConstraint)
	}

	up := order.StatusUp{
		ID:        orderID,
		From:      o.Status,
		Status:    status,
		UpdatedAt: s.now().UTC(),
	}
	if err := order.UpdateStatus(ctx, db, up); err != nil {
		return order.Order{}, classify(err)
	}

	o.Tenant = t
	o.Status = up.Status
	o.UpdatedAt = up.UpdatedAt
	return o, nil
}

type enrollments struct {
	db  resolver
	now func() time.Time
}

func (s enrollments) SetActive(ctx context.Context, t tenant.ID, userID, courseID string, active bool, endDate *time.Time) error {
	db, err := s.db(t)
	if err != nil {
		return err
	}

	e := enrollment.Enrollment{
		Tenant:    t,
		UserID:    userID,
		CourseID:  courseID,
		Active:    active,
		EndDate:   endDate,
		UpdatedAt: s.now().UTC(),
	}
	return classify(enrollment.Upsert(ctx, db, e))
}

type records struct {
	db resolver
}

func (s records) Find(ctx context.Context, t tenant.ID, externalID string, action reconciliation.Action) (*reconciliation.Record, error) {
	db, err := s.db(t)
	if err != nil {
		return nil, err
	}

	r, err := reconciliation.FetchApplied(ctx, db, t, externalID, action)
	if err != nil {
		if errors.Is(err, database.ErrDBNotFound) {
			return nil, nil
		}
		return nil, classify(err)
	}
	return &r, nil
}

func (s records) Append(ctx context.Context, r reconciliation.Record) error {
	db, err := s.db(r.Tenant)
	if err != nil {
		return err
	}

	if err := reconciliation.Append(ctx, db, r); err != nil {
		if r.Outcome == reconciliation.Applied && errors.Is(err, database.ErrDBDuplicatedEntry) {
			return fmt.Errorf("%w: %v", reconcile.ErrAlreadyApplied, err)
		}
		return classify(err)
	}
	return nil
}

func (s records) ListByExternalID(ctx context.Context, t tenant.ID, externalID string) ([]reconciliation.Record, error) {
	db, err := s.db(t)
	if err != nil {
		return nil, err
	}

	rs, err := reconciliation.ListByExternalID(ctx, db, t, externalID)
	return rs, classify(err)
}
