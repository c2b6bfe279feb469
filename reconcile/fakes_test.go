package reconcile

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/irsalhamdi/course-reconcile/core/enrollment"
	"github.com/irsalhamdi/course-reconcile/core/order"
	"github.com/irsalhamdi/course-reconcile/core/reconciliation"
	"github.com/irsalhamdi/course-reconcile/provider"
	"github.com/irsalhamdi/course-reconcile/tenant"
)

var (
	windowStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	windowEnd   = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
)

var statuses = provider.StatusMap{
	"processing": order.Pending,
	"succeeded":  order.Paid,
	"canceled":   order.Cancelled,
	"refunded":   order.Refunded,
	"failed":     order.Failed,
}

// =============================================================================

type memLedger struct {
	mu          sync.Mutex
	txMu        sync.Mutex
	orders      map[string]order.Order
	enrollments map[string]enrollment.Enrollment
	records     []reconciliation.Record
	writes      int

	// snapshot, when set, is returned by FindByWindow instead of the live
	// orders, like a lagging replica.
	snapshot []order.Order

	failCreate map[string]error
	onCreate   func(externalID string)
}

func newLedger(orders ...order.Order) *memLedger {
	l := memLedger{
		orders:      map[string]order.Order{},
		enrollments: map[string]enrollment.Enrollment{},
		failCreate:  map[string]error{},
	}
	for _, o := range orders {
		l.orders[o.ID] = o
	}
	return &l
}

func (l *memLedger) Orders() OrderLedger  { return memOrders{l} }
func (l *memLedger) Records() RecordStore { return memRecords{l} }

func (l *memLedger) Atomic(ctx context.Context, t tenant.ID, fn func(Tx) error) error {
	l.txMu.Lock()
	defer l.txMu.Unlock()

	l.mu.Lock()
	orders := make(map[string]order.Order, len(l.orders))
	for k, v := range l.orders {
		orders[k] = v
	}
	enrollments := make(map[string]enrollment.Enrollment, len(l.enrollments))
	for k, v := range l.enrollments {
		enrollments[k] = v
	}
	records, writes := len(l.records), l.writes
	l.mu.Unlock()

	err := fn(Tx{Orders: memOrders{l}, Enrollments: memEnrollments{l}, Records: memRecords{l}})
	if err != nil {
		l.mu.Lock()
		l.orders, l.enrollments, l.records, l.writes = orders, enrollments, l.records[:records], writes
		l.mu.Unlock()
	}
	return err
}

func (l *memLedger) writeCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writes
}

func (l *memLedger) byExternalID(id string) (order.Order, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, o := range l.orders {
		if o.ExternalID != nil && *o.ExternalID == id {
			return o, true
		}
	}
	return order.Order{}, false
}

func (l *memLedger) enrollment(userID, courseID string) (enrollment.Enrollment, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.enrollments[userID+"/"+courseID]
	return e, ok
}

func (l *memLedger) recordsOf(out reconciliation.Outcome) []reconciliation.Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	var rs []reconciliation.Record
	for _, r := range l.records {
		if r.Outcome == out {
			rs = append(rs, r)
		}
	}
	return rs
}

type memOrders struct{ l *memLedger }

func (m memOrders) FindByWindow(ctx context.Context, t tenant.ID, w provider.Window) ([]order.Order, error) {
	m.l.mu.Lock()
	defer m.l.mu.Unlock()

	src := m.l.snapshot
	if src == nil {
		for _, o := range m.l.orders {
			src = append(src, o)
		}
	}

	var out []order.Order
	for _, o := range src {
		if o.ExternalID != nil && w.Contains(o.CreatedAt) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m memOrders) FindByExternalID(ctx context.Context, t tenant.ID, externalID string) (*order.Order, error) {
	o, ok := m.l.byExternalID(externalID)
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (m memOrders) Create(ctx context.Context, t tenant.ID, on order.OrderNew) (order.Order, error) {
	if m.l.onCreate != nil {
		m.l.onCreate(on.ExternalID)
	}

	m.l.mu.Lock()
	defer m.l.mu.Unlock()

	if err := m.l.failCreate[on.ExternalID]; err != nil {
		return order.Order{}, err
	}
	for _, o := range m.l.orders {
		if o.ExternalID != nil && *o.ExternalID == on.ExternalID {
			return order.Order{}, fmt.Errorf("external id %s: %w", on.ExternalID, ErrConstraint)
		}
	}

	ext := on.ExternalID
	o := order.Order{
		Tenant:      t,
		ID:          uuid.NewString(),
		ExternalID:  &ext,
		Amount:      on.Amount,
		Currency:    on.Currency,
		Status:      on.Status,
		UserID:      on.UserID,
		ProductType: on.ProductType,
		ProductID:   on.ProductID,
		CreatedAt:   on.CreatedAt,
		UpdatedAt:   on.CreatedAt,
	}
	m.l.orders[o.ID] = o
	m.l.writes++
	return o, nil
}

func (m memOrders) UpdateStatus(ctx context.Context, t tenant.ID, orderID string, status order.Status) (order.Order, error) {
	m.l.mu.Lock()
	defer m.l.mu.Unlock()

	o, ok := m.l.orders[orderID]
	if !ok {
		return order.Order{}, fmt.Errorf("order %s: %w", orderID, ErrConstraint)
	}
	if !o.Status.CanTransition(status) {
		return order.Order{}, fmt.Errorf("order %s %s -> %s: %w", orderID, o.Status, status, ErrConstraint)
	}
	o.Status = status
	o.UpdatedAt = time.Now()
	m.l.orders[orderID] = o
	m.l.writes++
	return o, nil
}

type memEnrollments struct{ l *memLedger }

func (m memEnrollments) SetActive(ctx context.Context, t tenant.ID, userID, courseID string, active bool, endDate *time.Time) error {
	m.l.mu.Lock()
	defer m.l.mu.Unlock()

	m.l.enrollments[userID+"/"+courseID] = enrollment.Enrollment{
		Tenant:   t,
		UserID:   userID,
		CourseID: courseID,
		Active:   active,
		EndDate:  endDate,
	}
	m.l.writes++
	return nil
}

type memRecords struct{ l *memLedger }

func (m memRecords) Find(ctx context.Context, t tenant.ID, externalID string, action reconciliation.Action) (*reconciliation.Record, error) {
	m.l.mu.Lock()
	defer m.l.mu.Unlock()

	for _, r := range m.l.records {
		if r.Tenant == t && r.ExternalID == externalID && r.Action == action && r.Outcome == reconciliation.Applied {
			r := r
			return &r, nil
		}
	}
	return nil, nil
}

func (m memRecords) Append(ctx context.Context, r reconciliation.Record) error {
	m.l.mu.Lock()
	defer m.l.mu.Unlock()

	if r.Outcome == reconciliation.Applied {
		for _, e := range m.l.records {
			if e.Tenant == r.Tenant && e.ExternalID == r.ExternalID && e.Action == r.Action && e.Outcome == reconciliation.Applied {
				return ErrAlreadyApplied
			}
		}
	}
	m.l.records = append(m.l.records, r)
	return nil
}

func (m memRecords) ListByExternalID(ctx context.Context, t tenant.ID, externalID string) ([]reconciliation.Record, error) {
	m.l.mu.Lock()
	defer m.l.mu.Unlock()

	var rs []reconciliation.Record
	for _, r := range m.l.records {
		if r.Tenant == t && r.ExternalID == externalID {
			rs = append(rs, r)
		}
	}
	return rs, nil
}

// =============================================================================

type fakeFetcher struct {
	txs []provider.Transaction

	// err, when set, fails the fetch after delivering txs.
	err    error
	cursor provider.Cursor

	started chan struct{}
	release chan struct{}

	active    int32
	maxActive int32

	mu   sync.Mutex
	from provider.Cursor
}

func (f *fakeFetcher) Name() string                 { return "fake" }
func (f *fakeFetcher) Statuses() provider.StatusMap { return statuses }

func (f *fakeFetcher) Fetch(ctx context.Context, t tenant.ID, w provider.Window, from provider.Cursor, fn func(provider.Page) error) error {
	n := atomic.AddInt32(&f.active, 1)
	defer atomic.AddInt32(&f.active, -1)
	for {
		max := atomic.LoadInt32(&f.maxActive)
		if n <= max || atomic.CompareAndSwapInt32(&f.maxActive, max, n) {
			break
		}
	}
	f.mu.Lock()
	f.from = from
	f.mu.Unlock()

	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return &provider.FetchError{Cursor: from, Err: ctx.Err()}
		}
	}

	if err := fn(provider.Page{Transactions: f.txs, Next: f.cursor}); err != nil {
		return err
	}
	if f.err != nil {
		return &provider.FetchError{Cursor: f.cursor, Attempts: 5, Err: f.err}
	}
	return nil
}

// pagedSource serves fixed pages by cursor, the first page under "".
type pagedSource struct {
	pages map[provider.Cursor]provider.Page
}

func (s pagedSource) Name() string                 { return "paged" }
func (s pagedSource) Statuses() provider.StatusMap { return statuses }

func (s pagedSource) FetchPage(ctx context.Context, t tenant.ID, w provider.Window, c provider.Cursor) (provider.Page, error) {
	p, ok := s.pages[c]
	if !ok {
		return provider.Page{}, fmt.Errorf("unknown cursor %q", c)
	}
	return p, nil
}

// =============================================================================

func localOrder(externalID string, amount int64, status order.Status, updated time.Time) order.Order {
	ext := externalID
	return order.Order{
		Tenant:      tenant.Academy,
		ID:          "order-" + externalID,
		ExternalID:  &ext,
		Amount:      amount,
		Currency:    "usd",
		Status:      status,
		UserID:      "user-" + externalID,
		ProductType: order.Course,
		ProductID:   "course-1",
		CreatedAt:   windowStart.Add(time.Hour),
		UpdatedAt:   updated,
	}
}

func remoteTx(externalID string, amount int64, status string, at time.Time) provider.Transaction {
	return provider.Transaction{
		ExternalID:  externalID,
		Amount:      amount,
		Currency:    "usd",
		Status:      status,
		Timestamp:   at,
		UserID:      "user-" + externalID,
		ProductType: order.Course,
		ProductID:   "course-1",
	}
}
