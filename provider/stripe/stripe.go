// Package stripe lists payment intents from Stripe as provider transactions.
package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/irsalhamdi/course-reconcile/core/order"
	"github.com/irsalhamdi/course-reconcile/provider"
	"github.com/irsalhamdi/course-reconcile/tenant"
	"github.com/stripe/stripe-go/v74"
	stripecl "github.com/stripe/stripe-go/v74/client"
)

// Synthetic statuses derived from the latest charge of a payment intent.
const (
	statusRefunded      = "refunded"
	statusPaymentFailed = "payment_failed"
)

var statuses = provider.StatusMap{
	string(stripe.PaymentIntentStatusSucceeded):             order.Paid,
	string(stripe.PaymentIntentStatusProcessing):            order.Pending,
	string(stripe.PaymentIntentStatusRequiresAction):        order.Pending,
	string(stripe.PaymentIntentStatusRequiresCapture):       order.Pending,
	string(stripe.PaymentIntentStatusRequiresConfirmation):  order.Pending,
	string(stripe.PaymentIntentStatusRequiresPaymentMethod): order.Pending,
	string(stripe.PaymentIntentStatusCanceled):              order.Cancelled,
	statusRefunded:                                          order.Refunded,
	statusPaymentFailed:                                     order.Failed,
}

// Metadata keys set on payment intents at checkout.
const (
	MetaUserID      = "user_id"
	MetaProductType = "product_type"
	MetaProductID   = "product_id"
	MetaTenant      = "tenant"
)

type Config struct {
	APISecret string `conf:"mask"`
	URL       string
	PageSize  int64 `conf:"default:100"`
}

// Source pages through payment intents. Cursors are Stripe object ids used
// as starting_after.
type Source struct {
	api      *stripecl.API
	pageSize int64
}

// New builds a Source. URL overrides the Stripe API endpoint and is meant
// for tests.
func New(cfg Config) *Source {
	bc := &stripe.BackendConfig{
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
	}
	if cfg.URL != "" {
		bc.URL = stripe.String(cfg.URL)
	}
	b := stripe.GetBackendWithConfig(stripe.APIBackend, bc)
	api := &stripecl.API{}
	api.Init(cfg.APISecret, &stripe.Backends{API: b, Connect: b, Uploads: b})

	size := cfg.PageSize
	if size <= 0 || size > 100 {
		size = 100
	}

	return &Source{api: api, pageSize: size}
}

func (s *Source) Name() string { return "stripe" }

func (s *Source) Statuses() provider.StatusMap { return statuses }

func (s *Source) FetchPage(ctx context.Context, t tenant.ID, w provider.Window, c provider.Cursor) (provider.Page, error) {
	params := &stripe.PaymentIntentListParams{
		CreatedRange: &stripe.RangeQueryParams{
			GreaterThanOrEqual: w.Start.Unix(),
			LesserThan:         w.End.Unix(),
		},
	}
	params.Context = ctx
	params.Limit = stripe.Int64(s.pageSize)
	params.Single = true
	params.AddExpand("data.latest_charge")
	if c != "" {
		params.StartingAfter = stripe.String(string(c))
	}

	it := s.api.PaymentIntents.List(params)

	var (
		page provider.Page
		last string
	)
	for it.Next() {
		pi := it.PaymentIntent()
		last = pi.ID

		// Intents not tagged with this tenant belong to another brand
		// sharing the account, or were not created by a checkout.
		if pi.Metadata[MetaTenant] != t.String() {
			continue
		}
		page.Transactions = append(page.Transactions, transaction(pi))
	}
	if err := it.Err(); err != nil {
		return provider.Page{}, classify(err)
	}

	page.More = it.Meta() != nil && it.Meta().HasMore
	page.Next = c
	if last != "" {
		page.Next = provider.Cursor(last)
	}

	return page, nil
}

func transaction(pi *stripe.PaymentIntent) provider.Transaction {
	status := string(pi.Status)
	ts := time.Unix(pi.Created, 0).UTC()

	if ch := pi.LatestCharge; ch != nil {
		if ch.Created > pi.Created {
			ts = time.Unix(ch.Created, 0).UTC()
		}
		switch {
		case ch.Refunded:
			status = statusRefunded
		case ch.Status == stripe.ChargeStatusFailed && pi.Status == stripe.PaymentIntentStatusRequiresPaymentMethod:
			status = statusPaymentFailed
		}
	}

	return provider.Transaction{
		ExternalID:  pi.ID,
		Amount:      pi.Amount,
		Currency:    strings.ToUpper(string(pi.Currency)),
		Status:      status,
		Timestamp:   ts,
		UserID:      pi.Metadata[MetaUserID],
		ProductType: order.ProductType(pi.Metadata[MetaProductType]),
		ProductID:   pi.Metadata[MetaProductID],
	}
}

func classify(err error) error {
	var serr *stripe.Error
	if !errors.As(err, &serr) {
		return provider.Retryable(fmt.Errorf("listing payment intents: %w", err))
	}

	switch {
	case serr.HTTPStatusCode == http.StatusUnauthorized || serr.HTTPStatusCode == http.StatusForbidden:
		return fmt.Errorf("listing payment intents: %w: %s", provider.ErrAuthentication, serr.Msg)
	case serr.HTTPStatusCode == http.StatusTooManyRequests || serr.HTTPStatusCode >= 500:
		return provider.Retryable(fmt.Errorf("listing payment intents: %w", err))
	}
	return fmt.Errorf("listing payment intents: %w", err)
}
