package paypal

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/irsalhamdi/course-reconcile/core/order"
	"github.com/irsalhamdi/course-reconcile/provider"
	"github.com/irsalhamdi/course-reconcile/tenant"
	"github.com/plutov/paypal/v4"
)

type fakeSearcher struct {
	pages map[int][]paypal.SearchTransactionDetails
	err   error
	reqs  []paypal.TransactionSearchRequest
}

func (f *fakeSearcher) ListTransactions(ctx context.Context, req *paypal.TransactionSearchRequest) (*paypal.TransactionSearchResponse, error) {
	f.reqs = append(f.reqs, *req)
	if f.err != nil {
		return nil, f.err
	}

	return &paypal.TransactionSearchResponse{
		TransactionDetails: f.pages[*req.Page],
		Page:               *req.Page,
		SharedListResponse: paypal.SharedListResponse{TotalPages: len(f.pages)},
	}, nil
}

func detail(id, code, status, value, custom string, updated time.Time) paypal.SearchTransactionDetails {
	return paypal.SearchTransactionDetails{
		TransactionInfo: paypal.SearchTransactionInfo{
			TransactionID:          id,
			TransactionEventCode:   code,
			TransactionStatus:      status,
			TransactionAmount:      paypal.Money{Currency: "USD", Value: value},
			TransactionUpdatedDate: paypal.JSONTime(updated),
			CustomField:            custom,
		},
	}
}

func TestFetchPage(t *testing.T) {
	ts := time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)
	f := &fakeSearcher{pages: map[int][]paypal.SearchTransactionDetails{
		1: {
			detail("TX1", "T0006", "S", "100.00", "academy:user-1:course:course-1", ts),
			detail("TX2", "T1107", "S", "-100.00", "academy:user-1:course:course-1", ts),
			detail("TX3", "T0006", "S", "10.00", "kids:user-2:course:course-2", ts),
		},
		2: {
			detail("TX4", "T0006", "V", "150.00", "academy", ts),
			detail("TX5", "T0006", "S", "1.005", "academy:user-3:ebook:book-1", ts),
		},
	}}
	src := &Source{api: f, pageSize: 100}

	w := provider.Window{Start: ts.Add(-24 * time.Hour), End: ts.Add(24 * time.Hour)}
	page, err := src.FetchPage(context.Background(), tenant.Academy, w, "")
	if err != nil {
		t.Fatal(err)
	}

	if !page.More || page.Number != 1 || page.Pages != 2 || page.Next != "2" {
		t.Fatalf("unexpected paging %+v", page)
	}

	exp := []provider.Transaction{{
		ExternalID:  "TX1",
		Amount:      10000,
		Currency:    "USD",
		Status:      "S",
		Timestamp:   ts,
		UserID:      "user-1",
		ProductType: order.Course,
		ProductID:   "course-1",
	}}
	if diff := cmp.Diff(exp, page.Transactions); diff != "" {
		t.Fatalf("unexpected transactions (-want +got):\n%s", diff)
	}

	page, err = src.FetchPage(context.Background(), tenant.Academy, w, page.Next)
	if err != nil {
		t.Fatal(err)
	}
	if page.More {
		t.Fatal("expected last page")
	}
	if len(page.Transactions) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(page.Transactions))
	}

	reversed := page.Transactions[0]
	if reversed.Attributed() {
		t.Fatal("transaction without user and product must not be attributed")
	}
	if st, ok := src.Statuses().Lookup(reversed.Status); !ok || st != order.Refunded {
		t.Fatalf("expected reversed to map to REFUNDED, got %q", st)
	}

	bad := page.Transactions[1]
	if _, ok := src.Statuses().Lookup(bad.Status); ok {
		t.Fatal("transaction with unparseable amount must carry an unrecognized status")
	}

	if got := *f.reqs[1].Page; got != 2 {
		t.Fatalf("expected page 2 to be requested, got %d", got)
	}
}

func TestFetchPageWindowLimit(t *testing.T) {
	src := &Source{api: &fakeSearcher{}, pageSize: 100}
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	w := provider.Window{Start: start, End: start.Add(40 * 24 * time.Hour)}

	if _, err := src.FetchPage(context.Background(), tenant.Academy, w, ""); err == nil {
		t.Fatal("expected error for a window longer than 31 days")
	}
}

func errorResponse(code int) *paypal.ErrorResponse {
	req := httptest.NewRequest(http.MethodGet, "/v1/reporting/transactions", nil)
	return &paypal.ErrorResponse{
		Response: &http.Response{StatusCode: code, Request: req},
		Message:  http.StatusText(code),
	}
}

func TestFetchPageErrors(t *testing.T) {
	tests := []struct {
		err       error
		auth      bool
		retryable bool
	}{
		{errorResponse(http.StatusUnauthorized), true, false},
		{errorResponse(http.StatusTooManyRequests), false, true},
		{errorResponse(http.StatusBadGateway), false, true},
		{errorResponse(http.StatusBadRequest), false, false},
		{errors.New("connection reset"), false, true},
	}

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	w := provider.Window{Start: start, End: start.Add(24 * time.Hour)}

	for i, tt := range tests {
		src := &Source{api: &fakeSearcher{err: tt.err}, pageSize: 100}
		_, err := src.FetchPage(context.Background(), tenant.Academy, w, "")
		if err == nil {
			t.Fatalf("case %d: expected an error", i)
		}
		if got := errors.Is(err, provider.ErrAuthentication); got != tt.auth {
			t.Errorf("case %d: authentication = %v, expected %v", i, got, tt.auth)
		}
		if got := provider.IsRetryable(err); got != tt.retryable {
			t.Errorf("case %d: retryable = %v, expected %v", i, got, tt.retryable)
		}
	}
}

func TestCursorAt(t *testing.T) {
	src := &Source{}
	if src.CursorAt(1) != "" {
		t.Fatal("first page must use the empty cursor")
	}
	if src.CursorAt(3) != "3" {
		t.Fatalf("unexpected cursor %q", src.CursorAt(3))
	}
}
