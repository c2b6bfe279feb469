package reconcile

import (
	"context"
	"time"

	"github.com/irsalhamdi/course-reconcile/core/order"
	"github.com/irsalhamdi/course-reconcile/core/reconciliation"
	"github.com/irsalhamdi/course-reconcile/provider"
	"github.com/irsalhamdi/course-reconcile/tenant"
)

// OrderLedger reads and writes local orders. FindByExternalID returns nil
// when no order carries the id. UpdateStatus must reject a transition the
// order state machine does not allow with ErrConstraint.
type OrderLedger interface {
	FindByWindow(ctx context.Context, t tenant.ID, w provider.Window) ([]order.Order, error)
	FindByExternalID(ctx context.Context, t tenant.ID, externalID string) (*order.Order, error)
	Create(ctx context.Context, t tenant.ID, o order.OrderNew) (order.Order, error)
	UpdateStatus(ctx context.Context, t tenant.ID, orderID string, status order.Status) (order.Order, error)
}

type EnrollmentLedger interface {
	SetActive(ctx context.Context, t tenant.ID, userID, courseID string, active bool, endDate *time.Time) error
}

// RecordStore is the append-only log of reconciliation records. Find returns
// nil when no APPLIED record exists for the key.
type RecordStore interface {
	Find(ctx context.Context, t tenant.ID, externalID string, action reconciliation.Action) (*reconciliation.Record, error)
	Append(ctx context.Context, r reconciliation.Record) error
	ListByExternalID(ctx context.Context, t tenant.ID, externalID string) ([]reconciliation.Record, error)
}

// Tx groups the ledgers bound to one unit of work.
type Tx struct {
	Orders      OrderLedger
	Enrollments EnrollmentLedger
	Records     RecordStore
}

// Ledger is the local side of a reconciliation. Atomic runs fn in a single
// transaction: either every write made through the Tx commits or none does.
type Ledger interface {
	Orders() OrderLedger
	Records() RecordStore
	Atomic(ctx context.Context, t tenant.ID, fn func(Tx) error) error
}

// Fetcher streams provider transactions. It is satisfied by
// *provider.Client.
type Fetcher interface {
	Name() string
	Statuses() provider.StatusMap
	Fetch(ctx context.Context, t tenant.ID, w provider.Window, from provider.Cursor, fn func(provider.Page) error) error
}

// Notifier is told about every finished run.
type Notifier interface {
	Publish(ctx context.Context, r Report) error
}
