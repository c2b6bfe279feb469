package weberr

import (
	"errors"
	"net/http"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNewError(t *testing.T) {
	cause := errors.New("tenant is locked")
	err := Conflict(cause, WithFields(map[string]interface{}{"tenant": "kids"}))

	if !errors.Is(err, cause) {
		t.Error("expected the cause to be preserved")
	}

	body, status, ok := Response(err)
	if !ok {
		t.Fatal("expected a response")
	}
	if status != http.StatusConflict {
		t.Errorf("expected status %d, got %d", http.StatusConflict, status)
	}
	if diff := cmp.Diff(&ErrorResponse{Error: "the operation conflicts with one in progress"}, body); diff != "" {
		t.Errorf("body (-want +got):\n%s", diff)
	}

	fields, ok := Fields(err)
	if !ok || fields["tenant"] != "kids" {
		t.Errorf("unexpected fields %v", fields)
	}
}

func TestWithDetails(t *testing.T) {
	err := GatewayTimeout(errors.New("deadline"), WithDetails(map[string]string{"cursor": "c2"}))

	body, status, _ := Response(err)
	if status != http.StatusGatewayTimeout {
		t.Errorf("expected status %d, got %d", http.StatusGatewayTimeout, status)
	}
	exp := &ErrorResponse{
		Error:   "the operation did not finish in time",
		Details: map[string]string{"cursor": "c2"},
	}
	if diff := cmp.Diff(exp, body); diff != "" {
		t.Errorf("body (-want +got):\n%s", diff)
	}
}

func TestWithResponseOverrides(t *testing.T) {
	err := BadRequest(errors.New("x"), WithResponse("custom", http.StatusTeapot))

	body, status, _ := Response(err)
	if body != "custom" || status != http.StatusTeapot {
		t.Errorf("expected override, got %v %d", body, status)
	}
}

func TestNoResponse(t *testing.T) {
	if _, _, ok := Response(errors.New("plain")); ok {
		t.Error("plain errors carry no response")
	}
	if _, ok := Fields(errors.New("plain")); ok {
		t.Error("plain errors carry no fields")
	}
}
