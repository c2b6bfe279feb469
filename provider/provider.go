// Package provider fetches transaction ledgers from external payment
// providers.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/irsalhamdi/course-reconcile/core/order"
	"github.com/irsalhamdi/course-reconcile/tenant"
)

var (
	// ErrUnavailable is matched by fetch errors raised after the retry
	// budget for a transient failure was exhausted.
	ErrUnavailable = errors.New("provider unavailable")

	// ErrAuthentication means the credentials were rejected. It is never
	// retried.
	ErrAuthentication = errors.New("provider authentication failed")
)

// Window is the half-open time range [Start, End).
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

func (w Window) String() string {
	return fmt.Sprintf("[%s, %s)", w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))
}

// Cursor is an opaque resume position. The zero value starts from the
// first page.
type Cursor string

// Transaction is a payment as reported by the provider. Amount is in minor
// currency units and Status uses the provider's own vocabulary.
type Transaction struct {
	ExternalID  string
	Amount      int64
	Currency    string
	Status      string
	Timestamp   time.Time
	UserID      string
	ProductType order.ProductType
	ProductID   string
}

// Attributed reports whether the transaction names the buyer and the product,
// which is required to create a local order from it.
func (t Transaction) Attributed() bool {
	return t.UserID != "" && t.ProductType != "" && t.ProductID != ""
}

// Page is one response of a paginated listing. Next resumes right after
// this page; More is false on the last page. Number and Pages are the
// 1-based page number and the page count when the provider reports them,
// zero otherwise.
type Page struct {
	Transactions []Transaction
	Next         Cursor
	More         bool
	Number       int
	Pages        int
}

// PageSource lists a single page of transactions.
type PageSource interface {
	Name() string
	Statuses() StatusMap
	FetchPage(ctx context.Context, t tenant.ID, w Window, c Cursor) (Page, error)
}

// Addresser is implemented by sources whose pages can be requested by
// number, so that they may be fetched concurrently.
type Addresser interface {
	CursorAt(page int) Cursor
}

// StatusMap translates provider statuses into order statuses. Statuses
// missing from the map are unrecognized.
type StatusMap map[string]order.Status

func (m StatusMap) Lookup(status string) (order.Status, bool) {
	s, ok := m[status]
	return s, ok
}

// FetchError is returned by Client.Fetch. Cursor is the position right after
// the last page delivered to the caller.
type FetchError struct {
	Cursor   Cursor
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching transactions (resume at %q after %d attempts): %v", e.Cursor, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

type retryableError struct {
	error
}

func (e *retryableError) Unwrap() error { return e.error }

// Retryable marks err as transient: timeouts, 5xx responses and rate limit
// signals.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err}
}

func IsRetryable(err error) bool {
	var re *retryableError
	if errors.As(err, &re) {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
