// Package paypal lists captured payments from the PayPal transaction search
// API as provider transactions.
package paypal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/irsalhamdi/course-reconcile/core/order"
	"github.com/irsalhamdi/course-reconcile/provider"
	"github.com/irsalhamdi/course-reconcile/tenant"
	"github.com/plutov/paypal/v4"
)

// Transaction status codes of the reporting API.
const (
	StatusSuccess  = "S"
	StatusPending  = "P"
	StatusDenied   = "D"
	StatusReversed = "V"
)

// statusBadAmount marks transactions whose amount cannot be expressed in
// minor units. It is absent from the status map so the transaction is
// flagged.
const statusBadAmount = "unparseable_amount"

var statuses = provider.StatusMap{
	StatusSuccess:  order.Paid,
	StatusPending:  order.Pending,
	StatusDenied:   order.Failed,
	StatusReversed: order.Refunded,
}

// maxWindow is the longest date range the transaction search accepts.
const maxWindow = 31 * 24 * time.Hour

type Config struct {
	ClientID string
	Secret   string `conf:"mask"`
	URL      string `conf:"default:https://api-m.sandbox.paypal.com"`
	PageSize int    `conf:"default:100"`
}

type searcher interface {
	ListTransactions(ctx context.Context, req *paypal.TransactionSearchRequest) (*paypal.TransactionSearchResponse, error)
}

// Source pages through the transaction search. Cursors are page numbers, so
// pages can be fetched in any order.
type Source struct {
	api      searcher
	pageSize int
}

func New(cfg Config) (*Source, error) {
	c, err := paypal.NewClient(cfg.ClientID, cfg.Secret, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("building paypal client: %w", err)
	}

	size := cfg.PageSize
	if size <= 0 || size > 500 {
		size = 100
	}

	return &Source{api: c, pageSize: size}, nil
}

func (s *Source) Name() string { return "paypal" }

func (s *Source) Statuses() provider.StatusMap { return statuses }

func (s *Source) CursorAt(page int) provider.Cursor {
	if page <= 1 {
		return ""
	}
	return provider.Cursor(strconv.Itoa(page))
}

func (s *Source) FetchPage(ctx context.Context, t tenant.ID, w provider.Window, c provider.Cursor) (provider.Page, error) {
	if w.End.Sub(w.Start) > maxWindow {
		return provider.Page{}, fmt.Errorf("window %s exceeds the 31 day search limit", w)
	}

	num := 1
	if c != "" {
		n, err := strconv.Atoi(string(c))
		if err != nil || n < 1 {
			return provider.Page{}, fmt.Errorf("invalid paypal cursor %q", c)
		}
		num = n
	}

	fields := "transaction_info"
	size := s.pageSize
	req := &paypal.TransactionSearchRequest{
		StartDate: w.Start.UTC(),
		EndDate:   w.End.UTC(),
		Fields:    &fields,
		PageSize:  &size,
		Page:      &num,
	}

	resp, err := s.api.ListTransactions(ctx, req)
	if err != nil {
		return provider.Page{}, classify(err)
	}

	page := provider.Page{
		Number: num,
		Pages:  resp.TotalPages,
		More:   num < resp.TotalPages,
		Next:   s.CursorAt(num + 1),
	}

	for _, d := range resp.TransactionDetails {
		tx, ok := transaction(d.TransactionInfo, t)
		if !ok {
			continue
		}
		page.Transactions = append(page.Transactions, tx)
	}

	return page, nil
}

// transaction converts a payment event. Reversal and adjustment events are
// skipped: a refund is visible on the original payment through its status.
func transaction(info paypal.SearchTransactionInfo, t tenant.ID) (provider.Transaction, bool) {
	if !strings.HasPrefix(info.TransactionEventCode, "T00") {
		return provider.Transaction{}, false
	}

	attr, ok := parseCustom(info.CustomField)
	if !ok || attr.tenant != t.String() {
		return provider.Transaction{}, false
	}

	ts := time.Time(info.TransactionUpdatedDate)
	if ts.IsZero() {
		ts = time.Time(info.TransactionInitiationDate)
	}

	currency := strings.ToUpper(info.TransactionAmount.Currency)
	status := info.TransactionStatus
	amount, err := provider.MinorUnits(info.TransactionAmount.Value, currency)
	if err != nil {
		status = statusBadAmount
	}

	return provider.Transaction{
		ExternalID:  info.TransactionID,
		Amount:      amount,
		Currency:    currency,
		Status:      status,
		Timestamp:   ts.UTC(),
		UserID:      attr.userID,
		ProductType: order.ProductType(attr.productType),
		ProductID:   attr.productID,
	}, true
}

type attribution struct {
	tenant      string
	userID      string
	productType string
	productID   string
}

// parseCustom reads the custom field written at checkout:
// "<tenant>:<user id>:<product type>:<product id>". Only the tenant is
// mandatory.
func parseCustom(v string) (attribution, bool) {
	parts := strings.Split(v, ":")
	if len(parts) == 0 || parts[0] == "" {
		return attribution{}, false
	}

	a := attribution{tenant: parts[0]}
	if len(parts) == 4 {
		a.userID, a.productType, a.productID = parts[1], parts[2], parts[3]
	}
	return a, true
}

func classify(err error) error {
	var perr *paypal.ErrorResponse
	if !errors.As(err, &perr) || perr.Response == nil {
		return provider.Retryable(fmt.Errorf("searching transactions: %w", err))
	}

	code := perr.Response.StatusCode
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("searching transactions: %w: %s", provider.ErrAuthentication, perr.Message)
	case code == http.StatusTooManyRequests || code >= 500:
		return provider.Retryable(fmt.Errorf("searching transactions: %w", err))
	}
	return fmt.Errorf("searching transactions: %w", err)
}
